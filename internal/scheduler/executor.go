package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/gateway-fm/wrapcycler/internal/account"
	"github.com/gateway-fm/wrapcycler/pkg/types"
)

// ExecutorConfig configures an Executor.
type ExecutorConfig struct {
	Submitter Submitter
	Observer  Observer
	Logger    *slog.Logger
}

// Executor submits a single operation and waits for its confirmation.
// It never retries; a failure is returned to the caller so the batch can stop.
type Executor struct {
	submitter Submitter
	observer  Observer
	logger    *slog.Logger
}

// NewExecutor creates an Executor.
func NewExecutor(cfg ExecutorConfig) *Executor {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	observer := cfg.Observer
	if observer == nil {
		observer = NopObserver{}
	}
	return &Executor{
		submitter: cfg.Submitter,
		observer:  observer,
		logger:    logger,
	}
}

// Execute runs kind for amount on behalf of acc. The returned outcome is
// always populated; err is non-nil exactly when the outcome is failed and
// wraps ErrSubmission or ErrConfirmation.
func (e *Executor) Execute(ctx context.Context, acc *account.Account, kind types.OperationKind, amount *big.Int) (types.OperationOutcome, error) {
	if amount == nil {
		amount = new(big.Int)
	}
	outcome := types.OperationOutcome{
		Kind:   kind,
		Amount: new(big.Int).Set(amount),
	}
	log := e.logger.With(
		slog.String("wallet", acc.Short()),
		slog.String("kind", string(kind)),
		slog.String("amount", amount.String()),
	)

	start := time.Now()
	hash, err := e.submitter.Submit(ctx, acc, kind, amount)
	if err != nil {
		return e.fail(log, outcome, fmt.Errorf("%w: %s %s wei: %w", ErrSubmission, kind, amount, err))
	}
	outcome.TxHash = hash.Hex()

	if err := e.submitter.AwaitConfirmation(ctx, hash); err != nil {
		return e.fail(log, outcome, fmt.Errorf("%w: %s %s: %w", ErrConfirmation, kind, hash.Hex(), err))
	}

	outcome.Status = types.OutcomeConfirmed
	outcome.ConfirmLatencyMs = time.Since(start).Milliseconds()
	e.observer.OperationFinished(outcome)

	log.Info("operation confirmed",
		slog.String("tx", outcome.TxHash),
		slog.Int64("latencyMs", outcome.ConfirmLatencyMs),
	)
	return outcome, nil
}

func (e *Executor) fail(log *slog.Logger, outcome types.OperationOutcome, err error) (types.OperationOutcome, error) {
	outcome.Status = types.OutcomeFailed
	outcome.Reason = err.Error()
	e.observer.OperationFinished(outcome)
	e.observer.ErrorObserved(Category(err))

	log.Error("operation failed",
		slog.String("tx", outcome.TxHash),
		slog.String("error", err.Error()),
	)
	return outcome, err
}
