package scheduler

import (
	"context"
	"encoding/binary"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"golang.org/x/sync/errgroup"

	"github.com/gateway-fm/wrapcycler/internal/account"
	"github.com/gateway-fm/wrapcycler/internal/sampler"
	"github.com/gateway-fm/wrapcycler/pkg/types"
)

// OrchestratorConfig configures an Orchestrator.
type OrchestratorConfig struct {
	Ledger Ledger
	Token  common.Address // wrapped-asset contract
	Batch  *BatchRunner

	// RandFor returns the random source for one wallet's cycle. When nil,
	// cycles draw from the BatchRunner's shared source.
	RandFor func(wallet common.Address, iteration int) sampler.Rand

	// ReadAfter re-reads balances once the cycle ends and logs them.
	ReadAfter bool
	Observer  Observer
	Logger    *slog.Logger
}

// SeededStreams returns a RandFor giving every (wallet, iteration) pair its
// own sequence under seed, so a seeded run repeats exactly however the
// wallet goroutines interleave. A zero seed gives unseeded sources.
func SeededStreams(seed uint64) func(common.Address, int) sampler.Rand {
	return func(wallet common.Address, iteration int) sampler.Rand {
		if seed == 0 {
			return sampler.NewRand(0)
		}
		h := crypto.Keccak256(wallet.Bytes(), binary.BigEndian.AppendUint64(nil, uint64(iteration)))
		return sampler.NewStream(seed, binary.BigEndian.Uint64(h[:8]))
	}
}

// Orchestrator runs one wallet's wrap batch followed by its unwrap batch.
// It is the fault isolation boundary: every failure becomes part of the
// returned CycleResult and nothing propagates to other wallets.
type Orchestrator struct {
	ledger    Ledger
	token     common.Address
	batch     *BatchRunner
	randFor   func(common.Address, int) sampler.Rand
	readAfter bool
	observer  Observer
	logger    *slog.Logger
}

// NewOrchestrator creates an Orchestrator.
func NewOrchestrator(cfg OrchestratorConfig) *Orchestrator {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	observer := cfg.Observer
	if observer == nil {
		observer = NopObserver{}
	}
	return &Orchestrator{
		ledger:    cfg.Ledger,
		token:     cfg.Token,
		batch:     cfg.Batch,
		randFor:   cfg.RandFor,
		readAfter: cfg.ReadAfter,
		observer:  observer,
		logger:    logger,
	}
}

// RunCycle reads acc's balances, wraps a share of the native balance, then
// unwraps a share of the wrapped balance. A failed wrap batch skips the
// unwrap batch.
func (o *Orchestrator) RunCycle(ctx context.Context, acc *account.Account, iteration int) types.CycleResult {
	result := types.CycleResult{
		Wallet:    acc.Address.Hex(),
		Iteration: iteration,
		Wrap:      types.BatchResult{Kind: types.OpWrap},
		Unwrap:    types.BatchResult{Kind: types.OpUnwrap},
		StartedAt: time.Now(),
	}
	log := o.logger.With(slog.String("wallet", acc.Short()), slog.Int("iteration", iteration))

	var rng sampler.Rand
	if o.randFor != nil {
		rng = o.randFor(acc.Address, iteration)
	}
	err := o.run(ctx, rng, acc, &result)
	result.FinishedAt = time.Now()
	result.Status = cycleStatus(result, err)

	if err != nil {
		result.Err = err.Error()
		log.Error("cycle failed",
			slog.String("status", string(result.Status)),
			slog.Int("wraps", result.Wrap.Confirmed()),
			slog.Int("unwraps", result.Unwrap.Confirmed()),
			slog.String("error", err.Error()),
		)
	} else {
		log.Info("cycle completed",
			slog.Int("wraps", result.Wrap.Confirmed()),
			slog.Int("unwraps", result.Unwrap.Confirmed()),
		)
	}

	if o.readAfter && ctx.Err() == nil {
		if native, wrapped, err := o.readBalances(ctx, acc); err == nil {
			log.Info("balances after cycle",
				slog.String("native", native.String()),
				slog.String("wrapped", wrapped.String()),
			)
		} else {
			log.Warn("balance re-read failed", slog.String("error", err.Error()))
		}
	}

	o.observer.CycleFinished(result)
	return result
}

func (o *Orchestrator) run(ctx context.Context, rng sampler.Rand, acc *account.Account, result *types.CycleResult) error {
	native, wrapped, err := o.readBalances(ctx, acc)
	if err != nil {
		o.observer.ErrorObserved(Category(err))
		return err
	}
	result.NativeBalance = native
	result.WrappedBalance = wrapped

	if result.Wrap, err = o.batch.Run(ctx, rng, acc, types.OpWrap, native); err != nil {
		return err
	}
	if result.Unwrap, err = o.batch.Run(ctx, rng, acc, types.OpUnwrap, wrapped); err != nil {
		return err
	}
	return nil
}

// readBalances fetches the native and wrapped balances concurrently.
func (o *Orchestrator) readBalances(ctx context.Context, acc *account.Account) (native, wrapped *big.Int, err error) {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		b, err := o.ledger.NativeBalance(gctx, acc.Address)
		if err != nil {
			return fmt.Errorf("%w: native: %w", ErrBalanceRead, err)
		}
		native = b
		return nil
	})
	g.Go(func() error {
		b, err := o.ledger.TokenBalance(gctx, o.token, acc.Address)
		if err != nil {
			return fmt.Errorf("%w: wrapped: %w", ErrBalanceRead, err)
		}
		wrapped = b
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}
	return native, wrapped, nil
}

// cycleStatus classifies a finished cycle: completed without error, partial
// when something confirmed before the failure, failed otherwise.
func cycleStatus(result types.CycleResult, err error) types.CycleStatus {
	switch {
	case err == nil:
		return types.CycleCompleted
	case result.Wrap.Confirmed()+result.Unwrap.Confirmed() > 0:
		return types.CyclePartial
	default:
		return types.CycleFailed
	}
}
