package scheduler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/gateway-fm/wrapcycler/internal/account"
	"github.com/gateway-fm/wrapcycler/internal/sampler"
	"github.com/gateway-fm/wrapcycler/pkg/types"
)

var testKeys = []string{
	"ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80",
	"59c6995e998f97a5a0044966f0945389dc9e86dae88c7a8412f4603b6b78690d",
}

var (
	oneEther   = big.NewInt(1_000_000_000_000_000_000)
	tenthEther = big.NewInt(100_000_000_000_000_000)
	testToken  = common.HexToAddress("0xa51894664a773981c6c112c43ce576f315d5b1b6")
	errBoom    = errors.New("boom")
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testAccount(t *testing.T, i int) *account.Account {
	t.Helper()
	acc, err := account.NewAccountFromHex(testKeys[i])
	if err != nil {
		t.Fatalf("NewAccountFromHex() error = %v", err)
	}
	return acc
}

// submitCall records one Submit invocation.
type submitCall struct {
	wallet common.Address
	kind   types.OperationKind
	amount *big.Int
}

// fakeSubmitter fails Submit when failSubmit returns true for the call.
// n counts prior calls of the same kind for the same wallet.
type fakeSubmitter struct {
	mu          sync.Mutex
	calls       []submitCall
	perKind     map[common.Address]map[types.OperationKind]int
	failSubmit  func(acc *account.Account, kind types.OperationKind, n int) bool
	failConfirm bool
}

func (f *fakeSubmitter) Submit(_ context.Context, acc *account.Account, kind types.OperationKind, amount *big.Int) (common.Hash, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.perKind == nil {
		f.perKind = make(map[common.Address]map[types.OperationKind]int)
	}
	if f.perKind[acc.Address] == nil {
		f.perKind[acc.Address] = make(map[types.OperationKind]int)
	}
	n := f.perKind[acc.Address][kind]
	f.perKind[acc.Address][kind]++
	f.calls = append(f.calls, submitCall{wallet: acc.Address, kind: kind, amount: new(big.Int).Set(amount)})

	if f.failSubmit != nil && f.failSubmit(acc, kind, n) {
		return common.Hash{}, errBoom
	}
	return common.BigToHash(big.NewInt(int64(len(f.calls)))), nil
}

func (f *fakeSubmitter) AwaitConfirmation(context.Context, common.Hash) error {
	if f.failConfirm {
		return errBoom
	}
	return nil
}

func (f *fakeSubmitter) callsFor(wallet common.Address, kind types.OperationKind) []submitCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []submitCall
	for _, c := range f.calls {
		if c.wallet == wallet && c.kind == kind {
			out = append(out, c)
		}
	}
	return out
}

type fakeLedger struct {
	native     *big.Int
	wrapped    *big.Int
	nativeErr  error
	wrappedErr error
}

func (f *fakeLedger) NativeBalance(context.Context, common.Address) (*big.Int, error) {
	if f.nativeErr != nil {
		return nil, f.nativeErr
	}
	return f.native, nil
}

func (f *fakeLedger) TokenBalance(context.Context, common.Address, common.Address) (*big.Int, error) {
	if f.wrappedErr != nil {
		return nil, f.wrappedErr
	}
	return f.wrapped, nil
}

// sleepRecorder records pauses without waiting.
type sleepRecorder struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (s *sleepRecorder) Sleep(ctx context.Context, d time.Duration) error {
	s.mu.Lock()
	s.delays = append(s.delays, d)
	s.mu.Unlock()
	return ctx.Err()
}

func (s *sleepRecorder) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.delays)
}

// countingObserver tallies events.
type countingObserver struct {
	NopObserver
	mu         sync.Mutex
	operations []types.OperationOutcome
	cycles     []types.CycleResult
	errors     map[string]int
	finished   types.RunStatus
}

func (o *countingObserver) OperationFinished(out types.OperationOutcome) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.operations = append(o.operations, out)
}

func (o *countingObserver) CycleFinished(r types.CycleResult) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.cycles = append(o.cycles, r)
}

func (o *countingObserver) ErrorObserved(category string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.errors == nil {
		o.errors = make(map[string]int)
	}
	o.errors[category]++
}

func (o *countingObserver) RunFinished(status types.RunStatus, _ error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.finished = status
}

// newStack wires a real executor, batch runner and orchestrator around fakes.
func newStack(sub Submitter, ledger Ledger, sleep *sleepRecorder, obs Observer, times int, pct float64) *Orchestrator {
	exec := NewExecutor(ExecutorConfig{Submitter: sub, Observer: obs, Logger: quietLogger()})
	batch := NewBatchRunner(BatchConfig{
		Executor: exec,
		MinTimes: times,
		MaxTimes: times,
		MinPct:   pct,
		MaxPct:   pct,
		Rand:     newSeeded(),
		Sleep:    sleep.Sleep,
		Logger:   quietLogger(),
	})
	return NewOrchestrator(OrchestratorConfig{
		Ledger:   ledger,
		Token:    testToken,
		Batch:    batch,
		Observer: obs,
		Logger:   quietLogger(),
	})
}

func newSeeded() sampler.Rand {
	return sampler.NewRand(1)
}
