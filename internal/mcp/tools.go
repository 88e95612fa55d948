package mcp

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	gomcp "github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/gateway-fm/wrapcycler/internal/storage"
	"github.com/gateway-fm/wrapcycler/pkg/types"
)

// maxOpsShown caps the operations listed per cycle in run details.
const maxOpsShown = 20

// RegisterTools registers all wrapcycler tools on the MCP server. Every tool
// is read-only.
func RegisterTools(s *server.MCPServer, client *Client) {
	registerStatus(s, client)
	registerHealth(s, client)
	registerRuns(s, client)
	registerRunDetail(s, client)
}

func registerStatus(s *server.MCPServer, client *Client) {
	tool := gomcp.NewTool("wrapcycler_status",
		gomcp.WithDescription("Get the current wrap/unwrap run: state, iteration progress, confirmed and failed operations, cycle outcomes, confirmation latency."),
	)
	s.AddTool(tool, func(ctx context.Context, req gomcp.CallToolRequest) (*gomcp.CallToolResult, error) {
		var m types.RunMetrics
		if err := client.Get(ctx, "/v1/status", &m); err != nil {
			return gomcp.NewToolResultError(fmt.Sprintf("wrapcycler unreachable: %v\n\nIs it running with LISTEN_ADDR set?", err)), nil
		}
		return gomcp.NewToolResultText(formatStatus(m)), nil
	})
}

func registerHealth(s *server.MCPServer, client *Client) {
	tool := gomcp.NewTool("wrapcycler_health",
		gomcp.WithDescription("Quick readiness check for wrapcycler. Checks JSON-RPC node connectivity."),
	)
	s.AddTool(tool, func(ctx context.Context, req gomcp.CallToolRequest) (*gomcp.CallToolResult, error) {
		var r readiness
		if err := client.Get(ctx, "/ready", &r); err != nil {
			return gomcp.NewToolResultError(fmt.Sprintf("wrapcycler not ready: %v", err)), nil
		}
		return gomcp.NewToolResultText(formatHealth(r)), nil
	})
}

func registerRuns(s *server.MCPServer, client *Client) {
	tool := gomcp.NewTool("wrapcycler_runs",
		gomcp.WithDescription("List persisted runs with operation and cycle totals (paginated, newest first)."),
		gomcp.WithNumber("limit",
			gomcp.Description("Max results to return (default: 10, max: 100)"),
		),
		gomcp.WithNumber("offset",
			gomcp.Description("Results offset for pagination (default: 0)"),
		),
	)
	s.AddTool(tool, func(ctx context.Context, req gomcp.CallToolRequest) (*gomcp.CallToolResult, error) {
		limit := req.GetInt("limit", 10)
		offset := req.GetInt("offset", 0)
		path := fmt.Sprintf("/v1/runs?limit=%d&offset=%d", limit, offset)

		var page storage.PaginatedRuns
		if err := client.Get(ctx, path, &page); err != nil {
			return gomcp.NewToolResultError(fmt.Sprintf("Runs failed: %v", err)), nil
		}
		return gomcp.NewToolResultText(formatRuns(page)), nil
	})
}

func registerRunDetail(s *server.MCPServer, client *Client) {
	tool := gomcp.NewTool("wrapcycler_run_detail",
		gomcp.WithDescription("Get one run by ID with every wallet cycle and its wrap/unwrap operations."),
		gomcp.WithString("id",
			gomcp.Required(),
			gomcp.Description("Run ID"),
		),
	)
	s.AddTool(tool, func(ctx context.Context, req gomcp.CallToolRequest) (*gomcp.CallToolResult, error) {
		id, err := req.RequireString("id")
		if err != nil || strings.TrimSpace(id) == "" {
			return gomcp.NewToolResultError("id is required"), nil
		}
		var detail storage.RunDetail
		if err := client.Get(ctx, "/v1/runs/"+url.PathEscape(id), &detail); err != nil {
			return gomcp.NewToolResultError(fmt.Sprintf("Run detail failed: %v", err)), nil
		}
		return gomcp.NewToolResultText(formatRunDetail(detail)), nil
	})
}

type readiness struct {
	Ready  bool `json:"ready"`
	Checks []struct {
		Name      string `json:"name"`
		Status    string `json:"status"`
		LatencyMs int64  `json:"latency_ms"`
		Error     string `json:"error"`
	} `json:"checks"`
}

func formatStatus(m types.RunMetrics) string {
	lines := joinLines(
		section("Wrapcycler Status"),
		kv("Status", m.Status),
		kv("Run", m.RunID),
		kv("Iteration", fmt.Sprintf("%d / %d", m.Iteration, m.Iterations)),
		kv("Wallets", m.Wallets),
		kv("Wraps", fmt.Sprintf("%s confirmed, %s failed", formatNumber(m.WrapsConfirmed), formatNumber(m.WrapsFailed))),
		kv("Unwraps", fmt.Sprintf("%s confirmed, %s failed", formatNumber(m.UnwrapsConfirmed), formatNumber(m.UnwrapsFailed))),
		kv("Cycles", fmt.Sprintf("%d completed, %d partial, %d failed", m.CyclesCompleted, m.CyclesPartial, m.CyclesFailed)),
		kv("Elapsed", fmt.Sprintf("%.1fs", float64(m.ElapsedMs)/1000)),
	)
	if m.Error != "" {
		lines += "\n" + kv("Error", m.Error)
	}

	if lat := m.Latency; lat != nil && lat.Count > 0 {
		lines += "\n\n" + joinLines(
			section("Confirmation Latency"),
			kv("Samples", formatNumber(lat.Count)),
			kv("Min", formatMs(lat.Min)),
			kv("P50", formatMs(lat.P50)),
			kv("P90", formatMs(lat.P90)),
			kv("P99", formatMs(lat.P99)),
			kv("Max", formatMs(lat.Max)),
		)
	}

	return lines
}

func formatHealth(r readiness) string {
	state := "READY"
	if !r.Ready {
		state = "NOT READY"
	}

	lines := section("Wrapcycler Health: " + state)
	for _, c := range r.Checks {
		line := fmt.Sprintf("  %-15s %s (%dms)", c.Name, c.Status, c.LatencyMs)
		if c.Error != "" {
			line += " - " + c.Error
		}
		lines += "\n" + line
	}
	return lines
}

func formatRuns(page storage.PaginatedRuns) string {
	lines := joinLines(
		section("Run History"),
		kv("Total Runs", formatNumber(page.Total)),
		"",
	)

	if len(page.Runs) == 0 {
		return lines + "\nNo runs found."
	}

	var b strings.Builder
	b.WriteString(lines)
	b.WriteString("\n\n")
	for _, run := range page.Runs {
		fmt.Fprintf(&b, "### %s\n", run.ID)
		b.WriteString(joinLines(
			kv("Status", run.Status),
			kv("Iterations", run.Iterations),
			kv("Wallets", run.Wallets),
			kv("Wraps", fmt.Sprintf("%d confirmed, %d failed", run.WrapsConfirmed, run.WrapsFailed)),
			kv("Unwraps", fmt.Sprintf("%d confirmed, %d failed", run.UnwrapsConfirmed, run.UnwrapsFailed)),
			kv("Started", formatTime(run.StartedAt)),
		))
		b.WriteString("\n\n")
	}
	return b.String()
}

func formatRunDetail(d storage.RunDetail) string {
	run := d.Run
	if run == nil {
		return "Run not found"
	}

	var b strings.Builder
	b.WriteString(joinLines(
		section("Run: "+run.ID),
		kv("Status", run.Status),
		kv("Iterations", run.Iterations),
		kv("Wallets", run.Wallets),
		kv("Wraps", fmt.Sprintf("%d confirmed, %d failed", run.WrapsConfirmed, run.WrapsFailed)),
		kv("Unwraps", fmt.Sprintf("%d confirmed, %d failed", run.UnwrapsConfirmed, run.UnwrapsFailed)),
		kv("Cycles", fmt.Sprintf("%d completed, %d partial, %d failed", run.CyclesCompleted, run.CyclesPartial, run.CyclesFailed)),
		kv("Started", formatTime(run.StartedAt)),
	))
	if run.CompletedAt != nil {
		b.WriteString("\n" + kv("Completed", formatTime(*run.CompletedAt)))
	}

	writeBalances(&b, "Initial Balances", run.InitialBalances)
	writeBalances(&b, "Final Balances", run.FinalBalances)

	for _, c := range d.Cycles {
		fmt.Fprintf(&b, "\n\n### Iteration %d, %s: %s\n", c.Iteration, c.Wallet, c.Status)
		b.WriteString(joinLines(
			kv("Native", formatEther(c.NativeBalance)),
			kv("Wrapped", formatEther(c.WrappedBalance)),
			kv("Planned", fmt.Sprintf("%d wraps, %d unwraps", c.WrapPlanned, c.UnwrapPlanned)),
		))
		if c.Error != "" {
			b.WriteString("\n" + kv("Error", c.Error))
		}
		for i, op := range c.Operations {
			if i >= maxOpsShown {
				fmt.Fprintf(&b, "\n  ... and %d more", len(c.Operations)-maxOpsShown)
				break
			}
			fmt.Fprintf(&b, "\n  [%s #%d] %s %s", op.Kind, op.Index, formatEther(op.Amount), op.Status)
			if op.TxHash != "" {
				b.WriteString("  " + shortHash(op.TxHash))
			}
			if op.Reason != "" {
				b.WriteString("  " + op.Reason)
			}
		}
	}

	return b.String()
}

func writeBalances(b *strings.Builder, title string, balances []types.WalletBalance) {
	if len(balances) == 0 {
		return
	}
	b.WriteString("\n\n" + section(title))
	for _, wb := range balances {
		fmt.Fprintf(b, "\n  %-14s native %s, wrapped %s, %s", wb.Wallet, wb.Native, wb.Wrapped, formatUSD(wb.USD))
	}
}
