package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/gateway-fm/wrapcycler/internal/account"
	"github.com/gateway-fm/wrapcycler/pkg/types"
)

// ControllerConfig configures a Controller. Reporter and Recorder are optional.
type ControllerConfig struct {
	Cycles   CycleRunner
	Reporter Reporter
	Recorder Recorder
	Observer Observer
	Logger   *slog.Logger

	// NewID generates run ids. Defaults to uuid.NewString.
	NewID func() string
}

// Controller repeats a cycle for every wallet a fixed number of times.
type Controller struct {
	cycles   CycleRunner
	reporter Reporter
	recorder Recorder
	observer Observer
	logger   *slog.Logger
	newID    func() string
}

// NewController creates a Controller.
func NewController(cfg ControllerConfig) *Controller {
	c := &Controller{
		cycles:   cfg.Cycles,
		reporter: cfg.Reporter,
		recorder: cfg.Recorder,
		observer: cfg.Observer,
		logger:   cfg.Logger,
		newID:    cfg.NewID,
	}
	if c.observer == nil {
		c.observer = NopObserver{}
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	if c.newID == nil {
		c.newID = uuid.NewString
	}
	return c
}

// Run executes iterations rounds. Each round runs one cycle per wallet
// concurrently and waits for all of them; a failing wallet never cancels its
// siblings. Only ctx ends the run early, in which case ctx.Err() is returned
// along with the partial summary.
func (c *Controller) Run(ctx context.Context, wallets []*account.Account, iterations int) (*types.RunSummary, error) {
	if len(wallets) == 0 {
		return nil, errors.New("no wallets to run")
	}
	if iterations <= 0 {
		return nil, errors.New("iterations must be positive")
	}

	summary := &types.RunSummary{
		ID:         c.newID(),
		StartedAt:  time.Now(),
		Iterations: iterations,
		Wallets:    len(wallets),
		Status:     types.StatusRunning,
	}
	log := c.logger.With(slog.String("run", summary.ID))
	// Persistence outlives cancellation so an interrupted run is still closed out.
	storeCtx := context.WithoutCancel(ctx)

	c.observer.RunStarted(summary.ID, iterations, len(wallets))
	c.record(log, "create run", func() error { return c.recorder.CreateRun(storeCtx, summary) })
	log.Info("run started", slog.Int("wallets", len(wallets)), slog.Int("iterations", iterations))

	summary.InitialBalances = c.report(ctx, log, "initial", wallets)

	for i := 1; i <= iterations; i++ {
		if ctx.Err() != nil {
			break
		}
		c.observer.IterationStarted(i)
		log.Info("iteration started", slog.Int("iteration", i), slog.Int("of", iterations))

		results := make([]types.CycleResult, len(wallets))
		var g errgroup.Group
		for j, acc := range wallets {
			g.Go(func() error {
				results[j] = c.cycles.RunCycle(ctx, acc, i)
				return nil
			})
		}
		_ = g.Wait()

		for _, r := range results {
			summary.Cycles = append(summary.Cycles, r)
			c.record(log, "save cycle", func() error { return c.recorder.SaveCycle(storeCtx, summary.ID, r) })
		}
	}

	err := ctx.Err()
	if err == nil {
		summary.FinalBalances = c.report(ctx, log, "final", wallets)
		summary.Status = types.StatusCompleted
	} else {
		summary.Status = types.StatusCancelled
	}
	summary.CompletedAt = time.Now()

	c.observer.RunFinished(summary.Status, err)
	c.record(log, "complete run", func() error { return c.recorder.CompleteRun(storeCtx, summary) })

	confirmed, failed, cycles := summary.Counts()
	log.Info("run finished",
		slog.String("status", string(summary.Status)),
		slog.Int("confirmed", confirmed),
		slog.Int("failed", failed),
		slog.Int("cyclesCompleted", cycles[types.CycleCompleted]),
		slog.Int("cyclesPartial", cycles[types.CyclePartial]),
		slog.Int("cyclesFailed", cycles[types.CycleFailed]),
		slog.Duration("elapsed", summary.CompletedAt.Sub(summary.StartedAt)),
	)
	return summary, err
}

// report runs the optional balance report. Failures are logged and swallowed.
func (c *Controller) report(ctx context.Context, log *slog.Logger, phase string, wallets []*account.Account) []types.WalletBalance {
	if c.reporter == nil {
		return nil
	}
	balances, err := c.reporter.Report(ctx, phase, wallets)
	if err != nil {
		c.observer.ErrorObserved(Category(err))
		log.Warn("balance report failed", slog.String("phase", phase), slog.String("error", err.Error()))
	}
	return balances
}

func (c *Controller) record(log *slog.Logger, what string, fn func() error) {
	if c.recorder == nil {
		return
	}
	if err := fn(); err != nil {
		c.observer.ErrorObserved("storage")
		log.Warn("failed to persist", slog.String("op", what), slog.String("error", err.Error()))
	}
}
