package scheduler

import (
	"context"
	"log/slog"
	"math/big"
	"time"

	"github.com/gateway-fm/wrapcycler/internal/account"
	"github.com/gateway-fm/wrapcycler/internal/sampler"
	"github.com/gateway-fm/wrapcycler/pkg/types"
)

// Batch defaults.
const (
	DefaultMinTimes    = 3
	DefaultMaxTimes    = 6
	DefaultMinPct      = 0.08
	DefaultMaxPct      = 0.12
	DefaultMinDelaySec = 2
	DefaultMaxDelaySec = 6
)

// BatchConfig configures a BatchRunner. Zero values take the defaults above.
type BatchConfig struct {
	Executor    OperationExecutor
	MinTimes    int
	MaxTimes    int
	MinPct      float64
	MaxPct      float64
	MinDelaySec int
	MaxDelaySec int
	Rand        sampler.Rand

	// Sleep pauses between operations. Defaults to a context-aware timer.
	Sleep  func(ctx context.Context, d time.Duration) error
	Logger *slog.Logger
}

// BatchRunner repeats one operation kind a sampled number of times.
type BatchRunner struct {
	executor    OperationExecutor
	minTimes    int
	maxTimes    int
	minPct      float64
	maxPct      float64
	minDelaySec int
	maxDelaySec int
	rng         sampler.Rand
	sleep       func(ctx context.Context, d time.Duration) error
	logger      *slog.Logger
}

// NewBatchRunner creates a BatchRunner.
func NewBatchRunner(cfg BatchConfig) *BatchRunner {
	b := &BatchRunner{
		executor:    cfg.Executor,
		minTimes:    cfg.MinTimes,
		maxTimes:    cfg.MaxTimes,
		minPct:      cfg.MinPct,
		maxPct:      cfg.MaxPct,
		minDelaySec: cfg.MinDelaySec,
		maxDelaySec: cfg.MaxDelaySec,
		rng:         cfg.Rand,
		sleep:       cfg.Sleep,
		logger:      cfg.Logger,
	}
	if b.minTimes <= 0 {
		b.minTimes = DefaultMinTimes
	}
	if b.maxTimes <= 0 {
		b.maxTimes = DefaultMaxTimes
	}
	if b.minPct <= 0 {
		b.minPct = DefaultMinPct
	}
	if b.maxPct <= 0 {
		b.maxPct = DefaultMaxPct
	}
	if b.minDelaySec <= 0 {
		b.minDelaySec = DefaultMinDelaySec
	}
	if b.maxDelaySec <= 0 {
		b.maxDelaySec = DefaultMaxDelaySec
	}
	if b.rng == nil {
		b.rng = sampler.NewRand(0)
	}
	if b.sleep == nil {
		b.sleep = sleepCtx
	}
	if b.logger == nil {
		b.logger = slog.Default()
	}
	return b
}

// Run executes a batch of kind for acc. Every amount is sampled from
// balanceAtStart; the balance is not re-read between operations. Each
// confirmed operation is followed by a sampled pause. The first failure ends
// the batch and is returned. All draws come from rng, or from the runner's
// own source when rng is nil.
func (b *BatchRunner) Run(ctx context.Context, rng sampler.Rand, acc *account.Account, kind types.OperationKind, balanceAtStart *big.Int) (types.BatchResult, error) {
	if rng == nil {
		rng = b.rng
	}
	count := sampler.Count(rng, b.minTimes, b.maxTimes)
	result := types.BatchResult{
		Kind:     kind,
		Planned:  count,
		Outcomes: make([]types.OperationOutcome, 0, count),
	}

	b.logger.Debug("batch started",
		slog.String("wallet", acc.Short()),
		slog.String("kind", string(kind)),
		slog.Int("planned", count),
		slog.String("balance", balanceString(balanceAtStart)),
	)

	for i := range count {
		if err := ctx.Err(); err != nil {
			result.Err = err.Error()
			return result, err
		}

		amount := sampler.Amount(rng, balanceAtStart, b.minPct, b.maxPct)
		outcome, err := b.executor.Execute(ctx, acc, kind, amount)
		outcome.Index = i
		result.Outcomes = append(result.Outcomes, outcome)
		if err != nil {
			result.Err = err.Error()
			return result, err
		}

		delay := sampler.Delay(rng, b.minDelaySec, b.maxDelaySec)
		if err := b.sleep(ctx, delay); err != nil {
			result.Err = err.Error()
			return result, err
		}
	}

	return result, nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func balanceString(b *big.Int) string {
	if b == nil {
		return "0"
	}
	return b.String()
}
