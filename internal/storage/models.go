// Package storage persists run history in SQLite.
package storage

import (
	"time"

	"github.com/gateway-fm/wrapcycler/pkg/types"
)

// Run is a persisted run with summary totals.
type Run struct {
	ID               string                `json:"id"`
	StartedAt        time.Time             `json:"startedAt"`
	CompletedAt      *time.Time            `json:"completedAt,omitempty"`
	Iterations       int                   `json:"iterations"`
	Wallets          int                   `json:"wallets"`
	Status           types.RunStatus       `json:"status"`
	WrapsConfirmed   int                   `json:"wrapsConfirmed"`
	WrapsFailed      int                   `json:"wrapsFailed"`
	UnwrapsConfirmed int                   `json:"unwrapsConfirmed"`
	UnwrapsFailed    int                   `json:"unwrapsFailed"`
	CyclesCompleted  int                   `json:"cyclesCompleted"`
	CyclesPartial    int                   `json:"cyclesPartial"`
	CyclesFailed     int                   `json:"cyclesFailed"`
	InitialBalances  []types.WalletBalance `json:"initialBalances,omitempty"`
	FinalBalances    []types.WalletBalance `json:"finalBalances,omitempty"`
}

// CycleRecord is one persisted wallet cycle. Balances are decimal wei strings.
type CycleRecord struct {
	ID             int64             `json:"id"`
	Iteration      int               `json:"iteration"`
	Wallet         string            `json:"wallet"`
	NativeBalance  string            `json:"nativeBalance,omitempty"`
	WrappedBalance string            `json:"wrappedBalance,omitempty"`
	WrapPlanned    int               `json:"wrapPlanned"`
	UnwrapPlanned  int               `json:"unwrapPlanned"`
	Status         types.CycleStatus `json:"status"`
	Error          string            `json:"error,omitempty"`
	StartedAt      time.Time         `json:"startedAt"`
	FinishedAt     time.Time         `json:"finishedAt"`
	Operations     []OperationRecord `json:"operations"`
}

// OperationRecord is one persisted operation outcome.
type OperationRecord struct {
	Kind             types.OperationKind `json:"kind"`
	Index            int                 `json:"index"`
	Amount           string              `json:"amount"` // wei
	Status           types.OutcomeStatus `json:"status"`
	Reason           string              `json:"reason,omitempty"`
	TxHash           string              `json:"txHash,omitempty"`
	ConfirmLatencyMs int64               `json:"confirmLatencyMs,omitempty"`
}

// RunDetail combines a run with its cycles.
type RunDetail struct {
	Run    *Run          `json:"run"`
	Cycles []CycleRecord `json:"cycles"`
}

// PaginatedRuns represents a paginated list of runs.
type PaginatedRuns struct {
	Runs   []Run `json:"runs"`
	Total  int   `json:"total"`
	Limit  int   `json:"limit"`
	Offset int   `json:"offset"`
}

// totals folds a summary's cycles into the per-run counters.
func totals(summary *types.RunSummary) Run {
	var r Run
	for _, c := range summary.Cycles {
		switch c.Status {
		case types.CycleCompleted:
			r.CyclesCompleted++
		case types.CyclePartial:
			r.CyclesPartial++
		default:
			r.CyclesFailed++
		}
		for _, o := range c.Outcomes() {
			switch {
			case o.Kind == types.OpWrap && o.Failed():
				r.WrapsFailed++
			case o.Kind == types.OpWrap:
				r.WrapsConfirmed++
			case o.Failed():
				r.UnwrapsFailed++
			default:
				r.UnwrapsConfirmed++
			}
		}
	}
	return r
}
