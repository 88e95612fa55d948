package metrics

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/gateway-fm/wrapcycler/pkg/types"
)

// Collector keeps in-memory run progress for the status API and forwards
// every event to Prometheus when configured. It satisfies scheduler.Observer.
type Collector struct {
	prom    *PrometheusMetrics // optional
	latency *ConfirmLatency

	wrapsConfirmed   UCounter
	wrapsFailed      UCounter
	unwrapsConfirmed UCounter
	unwrapsFailed    UCounter
	cyclesCompleted  UCounter
	cyclesPartial    UCounter
	cyclesFailed     UCounter

	iteration int64 // atomic, highest started

	mu         sync.RWMutex
	status     types.RunStatus
	runID      string
	iterations int
	wallets    int
	startedAt  time.Time
	finishedAt time.Time
	lastErr    string
	errors     map[string]uint64
}

// NewCollector creates a Collector. prom may be nil.
func NewCollector(prom *PrometheusMetrics) *Collector {
	c := &Collector{
		prom:    prom,
		latency: NewConfirmLatency(),
		status:  types.StatusIdle,
		errors:  make(map[string]uint64),
	}
	if prom != nil {
		prom.SetRunStatus(types.StatusIdle)
	}
	return c
}

// RunStarted resets progress and marks the run as running.
func (c *Collector) RunStarted(runID string, iterations, wallets int) {
	c.reset()

	c.mu.Lock()
	c.status = types.StatusRunning
	c.runID = runID
	c.iterations = iterations
	c.wallets = wallets
	c.startedAt = time.Now()
	c.mu.Unlock()

	if c.prom != nil {
		c.prom.SetRunStatus(types.StatusRunning)
		c.prom.SetIteration(0)
	}
}

// IterationStarted records the iteration in progress.
func (c *Collector) IterationStarted(iteration int) {
	v := AtomicMax(&c.iteration, int64(iteration))
	if c.prom != nil {
		c.prom.SetIteration(int(v))
	}
}

// OperationFinished counts an outcome and its confirmation latency.
func (c *Collector) OperationFinished(o types.OperationOutcome) {
	switch {
	case o.Kind == types.OpWrap && o.Failed():
		c.wrapsFailed.Inc()
	case o.Kind == types.OpWrap:
		c.wrapsConfirmed.Inc()
	case o.Failed():
		c.unwrapsFailed.Inc()
	default:
		c.unwrapsConfirmed.Inc()
	}
	if !o.Failed() {
		c.latency.Observe(time.Duration(o.ConfirmLatencyMs) * time.Millisecond)
	}

	if c.prom != nil {
		c.prom.RecordOperation(o.Kind, o.Status)
		if !o.Failed() {
			c.prom.RecordConfirmLatency(o.Kind, float64(o.ConfirmLatencyMs)/1000)
		}
	}
}

// CycleFinished counts a wallet cycle by status.
func (c *Collector) CycleFinished(r types.CycleResult) {
	switch r.Status {
	case types.CycleCompleted:
		c.cyclesCompleted.Inc()
	case types.CyclePartial:
		c.cyclesPartial.Inc()
	default:
		c.cyclesFailed.Inc()
	}
	if c.prom != nil {
		c.prom.RecordCycle(r.Status)
	}
}

// RunFinished marks the run terminal.
func (c *Collector) RunFinished(status types.RunStatus, err error) {
	c.mu.Lock()
	c.status = status
	c.finishedAt = time.Now()
	if err != nil {
		c.lastErr = err.Error()
	}
	c.mu.Unlock()

	if c.prom != nil {
		c.prom.SetRunStatus(status)
	}
}

// ErrorObserved counts an error by category.
func (c *Collector) ErrorObserved(category string) {
	if category == "" {
		return
	}
	c.mu.Lock()
	c.errors[category]++
	c.mu.Unlock()

	if c.prom != nil {
		c.prom.RecordError(category)
	}
}

// Errors returns error counts by category.
func (c *Collector) Errors() map[string]uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make(map[string]uint64, len(c.errors))
	for k, v := range c.errors {
		out[k] = v
	}
	return out
}

// Status returns the current run status.
func (c *Collector) Status() types.RunStatus {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.status
}

// Snapshot returns a point-in-time view of the run.
func (c *Collector) Snapshot() types.RunMetrics {
	c.mu.RLock()
	m := types.RunMetrics{
		Status:     c.status,
		RunID:      c.runID,
		Iterations: c.iterations,
		Wallets:    c.wallets,
		Error:      c.lastErr,
	}
	if !c.startedAt.IsZero() {
		end := c.finishedAt
		if end.IsZero() {
			end = time.Now()
		}
		m.ElapsedMs = end.Sub(c.startedAt).Milliseconds()
	}
	c.mu.RUnlock()

	m.Iteration = int(atomic.LoadInt64(&c.iteration))
	m.WrapsConfirmed = c.wrapsConfirmed.Load()
	m.WrapsFailed = c.wrapsFailed.Load()
	m.UnwrapsConfirmed = c.unwrapsConfirmed.Load()
	m.UnwrapsFailed = c.unwrapsFailed.Load()
	m.CyclesCompleted = c.cyclesCompleted.Load()
	m.CyclesPartial = c.cyclesPartial.Load()
	m.CyclesFailed = c.cyclesFailed.Load()
	m.Latency = c.latency.Stats()
	return m
}

func (c *Collector) reset() {
	c.latency.Reset()
	c.wrapsConfirmed.Reset()
	c.wrapsFailed.Reset()
	c.unwrapsConfirmed.Reset()
	c.unwrapsFailed.Reset()
	c.cyclesCompleted.Reset()
	c.cyclesPartial.Reset()
	c.cyclesFailed.Reset()
	atomic.StoreInt64(&c.iteration, 0)

	c.mu.Lock()
	c.finishedAt = time.Time{}
	c.lastErr = ""
	c.errors = make(map[string]uint64)
	c.mu.Unlock()
}
