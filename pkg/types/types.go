// Package types contains public API types for the wrap cycler.
// These types form the external interface (status API, MCP tools, storage)
// and must remain backwards-compatible.
package types

import (
	"math/big"
	"time"
)

// OperationKind identifies which side of the wrap/unwrap pair an operation is.
type OperationKind string

const (
	OpWrap   OperationKind = "wrap"   // native -> wrapped, deposit() with value
	OpUnwrap OperationKind = "unwrap" // wrapped -> native, withdraw(uint256)
)

// OutcomeStatus is the terminal state of a single operation.
type OutcomeStatus string

const (
	OutcomeConfirmed OutcomeStatus = "confirmed"
	OutcomeFailed    OutcomeStatus = "failed"
)

// CycleStatus summarizes one wallet's wrap-then-unwrap pass.
type CycleStatus string

const (
	CycleCompleted CycleStatus = "completed" // every planned operation confirmed
	CyclePartial   CycleStatus = "partial"   // failure after at least one confirmed op
	CycleFailed    CycleStatus = "failed"    // failure before anything confirmed
)

// RunStatus represents the current run state.
type RunStatus string

const (
	StatusIdle      RunStatus = "idle"
	StatusRunning   RunStatus = "running"
	StatusCompleted RunStatus = "completed"
	StatusCancelled RunStatus = "cancelled"
	StatusError     RunStatus = "error"
)

// Operation is a single wrap or unwrap of Amount wei.
type Operation struct {
	Kind   OperationKind `json:"kind"`
	Amount *big.Int      `json:"amount"`
}

// OperationOutcome is the observable result of one executed operation.
type OperationOutcome struct {
	Kind             OperationKind `json:"kind"`
	Index            int           `json:"index"` // position within its batch, 0-based
	Amount           *big.Int      `json:"amount"`
	Status           OutcomeStatus `json:"status"`
	Reason           string        `json:"reason,omitempty"`
	TxHash           string        `json:"txHash,omitempty"`
	ConfirmLatencyMs int64         `json:"confirmLatencyMs,omitempty"`
}

// Failed reports whether the outcome is a failure.
func (o OperationOutcome) Failed() bool {
	return o.Status == OutcomeFailed
}

// BatchResult aggregates the outcomes of one same-kind batch.
type BatchResult struct {
	Kind     OperationKind      `json:"kind"`
	Planned  int                `json:"planned"`
	Outcomes []OperationOutcome `json:"outcomes"`
	Err      string             `json:"error,omitempty"`
}

// Confirmed returns the number of confirmed operations in the batch.
func (b BatchResult) Confirmed() int {
	n := 0
	for _, o := range b.Outcomes {
		if o.Status == OutcomeConfirmed {
			n++
		}
	}
	return n
}

// Completed reports whether every planned operation confirmed.
func (b BatchResult) Completed() bool {
	return b.Err == "" && b.Confirmed() == b.Planned
}

// CycleResult aggregates all outcomes for one wallet's pass through
// wrap-then-unwrap.
type CycleResult struct {
	Wallet         string      `json:"wallet"`
	Iteration      int         `json:"iteration"`
	NativeBalance  *big.Int    `json:"nativeBalance,omitempty"`
	WrappedBalance *big.Int    `json:"wrappedBalance,omitempty"`
	Wrap           BatchResult `json:"wrap"`
	Unwrap         BatchResult `json:"unwrap"`
	Status         CycleStatus `json:"status"`
	Err            string      `json:"error,omitempty"`
	StartedAt      time.Time   `json:"startedAt"`
	FinishedAt     time.Time   `json:"finishedAt"`
}

// Outcomes returns the wrap outcomes followed by the unwrap outcomes.
func (c CycleResult) Outcomes() []OperationOutcome {
	out := make([]OperationOutcome, 0, len(c.Wrap.Outcomes)+len(c.Unwrap.Outcomes))
	out = append(out, c.Wrap.Outcomes...)
	return append(out, c.Unwrap.Outcomes...)
}

// WalletBalance is a wallet's combined holdings valued in the reference currency.
type WalletBalance struct {
	Wallet  string  `json:"wallet"`
	Native  string  `json:"native"`  // formatted ether
	Wrapped string  `json:"wrapped"` // formatted ether
	USD     float64 `json:"usd"`
}

// RunSummary is returned by the run controller once all iterations settle.
type RunSummary struct {
	ID              string          `json:"id"`
	StartedAt       time.Time       `json:"startedAt"`
	CompletedAt     time.Time       `json:"completedAt"`
	Iterations      int             `json:"iterations"`
	Wallets         int             `json:"wallets"`
	Status          RunStatus       `json:"status"`
	Cycles          []CycleResult   `json:"cycles"`
	InitialBalances []WalletBalance `json:"initialBalances,omitempty"`
	FinalBalances   []WalletBalance `json:"finalBalances,omitempty"`
}

// Counts tallies operation and cycle outcomes across the run.
func (s *RunSummary) Counts() (confirmed, failed int, cycles map[CycleStatus]int) {
	cycles = make(map[CycleStatus]int, 3)
	for _, c := range s.Cycles {
		cycles[c.Status]++
		for _, o := range c.Outcomes() {
			if o.Failed() {
				failed++
			} else {
				confirmed++
			}
		}
	}
	return confirmed, failed, cycles
}

// RunMetrics is the live status snapshot served by the HTTP API and
// broadcast over the websocket.
type RunMetrics struct {
	Status           RunStatus     `json:"status"`
	RunID            string        `json:"runId,omitempty"`
	Iteration        int           `json:"iteration"`
	Iterations       int           `json:"iterations"`
	Wallets          int           `json:"wallets"`
	WrapsConfirmed   uint64        `json:"wrapsConfirmed"`
	WrapsFailed      uint64        `json:"wrapsFailed"`
	UnwrapsConfirmed uint64        `json:"unwrapsConfirmed"`
	UnwrapsFailed    uint64        `json:"unwrapsFailed"`
	CyclesCompleted  uint64        `json:"cyclesCompleted"`
	CyclesPartial    uint64        `json:"cyclesPartial"`
	CyclesFailed     uint64        `json:"cyclesFailed"`
	Latency          *LatencyStats `json:"latency,omitempty"` // submit to confirmed
	ElapsedMs        int64         `json:"elapsedMs"`
	Error            string        `json:"error,omitempty"`
}

// LatencyBucket is one histogram bucket.
type LatencyBucket struct {
	Label string `json:"label"`
	Count int    `json:"count"`
}

// LatencyStats holds latency statistics.
type LatencyStats struct {
	Count   int             `json:"count"`
	Min     float64         `json:"min"`     // ms
	Max     float64         `json:"max"`     // ms
	Avg     float64         `json:"avg"`     // ms
	P50     float64         `json:"p50"`     // ms
	P90     float64         `json:"p90"`     // ms
	P99     float64         `json:"p99"`     // ms
	Buckets []LatencyBucket `json:"buckets"` // histogram
}
