// Package scheduler drives wrap/unwrap cycles: it sizes and paces each
// operation, runs same-kind batches, isolates per-wallet failures, and fans
// cycles out across wallets for a fixed number of iterations.
package scheduler

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/gateway-fm/wrapcycler/internal/account"
	"github.com/gateway-fm/wrapcycler/pkg/types"
)

// Submitter signs and submits operations and waits for their confirmation.
type Submitter interface {
	Submit(ctx context.Context, acc *account.Account, kind types.OperationKind, amount *big.Int) (common.Hash, error)
	AwaitConfirmation(ctx context.Context, hash common.Hash) error
}

// Ledger reads native and token balances.
type Ledger interface {
	NativeBalance(ctx context.Context, addr common.Address) (*big.Int, error)
	TokenBalance(ctx context.Context, token, owner common.Address) (*big.Int, error)
}

// Reporter values wallets in the reference currency before and after a run.
// phase is "initial" or "final".
type Reporter interface {
	Report(ctx context.Context, phase string, wallets []*account.Account) ([]types.WalletBalance, error)
}

// Recorder persists run history. Failures are logged and never affect the run.
type Recorder interface {
	CreateRun(ctx context.Context, run *types.RunSummary) error
	SaveCycle(ctx context.Context, runID string, cycle types.CycleResult) error
	CompleteRun(ctx context.Context, run *types.RunSummary) error
}

// Observer receives progress events for metrics and live status.
// Implementations must be safe for concurrent use.
type Observer interface {
	RunStarted(runID string, iterations, wallets int)
	IterationStarted(iteration int)
	OperationFinished(outcome types.OperationOutcome)
	CycleFinished(result types.CycleResult)
	RunFinished(status types.RunStatus, err error)
	ErrorObserved(category string)
}

// NopObserver discards all events.
type NopObserver struct{}

func (NopObserver) RunStarted(string, int, int) {}
func (NopObserver) IterationStarted(int) {}
func (NopObserver) OperationFinished(types.OperationOutcome) {}
func (NopObserver) CycleFinished(types.CycleResult) {}
func (NopObserver) RunFinished(types.RunStatus, error) {}
func (NopObserver) ErrorObserved(string) {}

// OperationExecutor runs one operation to confirmation.
type OperationExecutor interface {
	Execute(ctx context.Context, acc *account.Account, kind types.OperationKind, amount *big.Int) (types.OperationOutcome, error)
}

// CycleRunner runs one wallet's wrap-then-unwrap cycle.
type CycleRunner interface {
	RunCycle(ctx context.Context, acc *account.Account, iteration int) types.CycleResult
}
