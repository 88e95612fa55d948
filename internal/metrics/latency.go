// Package metrics tracks run progress for the status API and exports it to
// Prometheus.
package metrics

import (
	"fmt"
	"math"
	"math/rand/v2"
	"slices"
	"sync"
	"time"

	"github.com/gateway-fm/wrapcycler/pkg/types"
)

// DefaultReservoirSize bounds the samples kept for percentiles. A run of
// 14 iterations over a handful of wallets stays well below it.
const DefaultReservoirSize = 2048

// DefaultLatencyBounds are the upper edges of the confirmation histogram.
// Samples at or above the last edge land in an open-ended bucket.
var DefaultLatencyBounds = []time.Duration{
	2 * time.Second,
	5 * time.Second,
	15 * time.Second,
	time.Minute,
}

// latencyBucket is one histogram slot; upper is zero for the open-ended tail.
type latencyBucket struct {
	label string
	upper time.Duration
	count int
}

// ConfirmLatency summarises submit-to-receipt latency. Percentiles come from
// a fixed-size uniform sample of everything observed, so memory stays
// bounded however long the run is.
type ConfirmLatency struct {
	mu sync.Mutex

	count    int
	total    time.Duration
	min, max time.Duration

	sample []time.Duration
	size   int
	rng    *rand.Rand

	buckets []latencyBucket
}

// NewConfirmLatency builds a tracker with the given ascending bucket bounds,
// or DefaultLatencyBounds when none are given.
func NewConfirmLatency(bounds ...time.Duration) *ConfirmLatency {
	if len(bounds) == 0 {
		bounds = DefaultLatencyBounds
	}
	return &ConfirmLatency{
		sample:  make([]time.Duration, 0, DefaultReservoirSize),
		size:    DefaultReservoirSize,
		rng:     rand.New(rand.NewPCG(1, 2)),
		buckets: bucketsFor(bounds),
		min:     math.MaxInt64,
	}
}

// bucketsFor labels each [lower, upper) range, e.g. "2-5s", plus a "60s+" tail.
func bucketsFor(bounds []time.Duration) []latencyBucket {
	out := make([]latencyBucket, 0, len(bounds)+1)
	var lower time.Duration
	for _, upper := range bounds {
		out = append(out, latencyBucket{
			label: fmt.Sprintf("%g-%gs", lower.Seconds(), upper.Seconds()),
			upper: upper,
		})
		lower = upper
	}
	return append(out, latencyBucket{label: fmt.Sprintf("%gs+", lower.Seconds())})
}

// Observe records one confirmed operation. Safe for concurrent use.
func (c *ConfirmLatency) Observe(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.count++
	c.total += d
	c.min = min(c.min, d)
	c.max = max(c.max, d)

	i := len(c.buckets) - 1
	for j, b := range c.buckets[:i] {
		if d < b.upper {
			i = j
			break
		}
	}
	c.buckets[i].count++

	// Algorithm R: the n-th sample replaces a kept one with probability size/n.
	if len(c.sample) < c.size {
		c.sample = append(c.sample, d)
	} else if k := c.rng.IntN(c.count); k < c.size {
		c.sample[k] = d
	}
}

// Stats returns the current summary in milliseconds, or nil before the
// first observation.
func (c *ConfirmLatency) Stats() *types.LatencyStats {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.count == 0 {
		return nil
	}

	ms := make([]float64, len(c.sample))
	for i, d := range c.sample {
		ms[i] = millis(d)
	}
	slices.Sort(ms)

	stats := &types.LatencyStats{
		Count:   c.count,
		Min:     millis(c.min),
		Max:     millis(c.max),
		Avg:     millis(c.total) / float64(c.count),
		P50:     quantile(ms, 0.50),
		P90:     quantile(ms, 0.90),
		P99:     quantile(ms, 0.99),
		Buckets: make([]types.LatencyBucket, len(c.buckets)),
	}
	for i, b := range c.buckets {
		stats.Buckets[i] = types.LatencyBucket{Label: b.label, Count: b.count}
	}
	return stats
}

// Reset forgets every observation but keeps the bucket layout.
func (c *ConfirmLatency) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.count = 0
	c.total = 0
	c.min = math.MaxInt64
	c.max = 0
	c.sample = c.sample[:0]
	for i := range c.buckets {
		c.buckets[i].count = 0
	}
}

// Count returns the number of observations since the last Reset.
func (c *ConfirmLatency) Count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.count
}

func millis(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}

// quantile linearly interpolates q over an ascending slice.
func quantile(sorted []float64, q float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	pos := q * float64(len(sorted)-1)
	lo := int(pos)
	if lo >= len(sorted)-1 {
		return sorted[len(sorted)-1]
	}
	frac := pos - float64(lo)
	return sorted[lo] + (sorted[lo+1]-sorted[lo])*frac
}
