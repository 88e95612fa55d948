package metrics

import (
	"math"
	"sync"
	"testing"
	"time"
)

func TestConfirmLatencySummary(t *testing.T) {
	c := NewConfirmLatency()

	for i := 0; i < 100; i++ {
		c.Observe(time.Duration(i) * time.Millisecond)
	}

	stats := c.Stats()
	if stats == nil {
		t.Fatal("expected non-nil stats")
	}
	if stats.Count != 100 {
		t.Errorf("count = %d, want 100", stats.Count)
	}
	if stats.Min != 0 || stats.Max != 99 {
		t.Errorf("min/max = %f/%f, want 0/99", stats.Min, stats.Max)
	}
	if math.Abs(stats.Avg-49.5) > 0.1 {
		t.Errorf("avg = %f, want ~49.5", stats.Avg)
	}
	if math.Abs(stats.P50-49.5) > 2 {
		t.Errorf("p50 = %f, want ~49.5", stats.P50)
	}
	if stats.P90 < stats.P50 || stats.P99 < stats.P90 {
		t.Errorf("percentiles not monotonic: p50=%f p90=%f p99=%f", stats.P50, stats.P90, stats.P99)
	}
}

func TestConfirmLatencyEmpty(t *testing.T) {
	if stats := NewConfirmLatency().Stats(); stats != nil {
		t.Errorf("stats = %+v, want nil before any observation", stats)
	}
}

func TestConfirmLatencyBuckets(t *testing.T) {
	tests := []struct {
		name   string
		bounds []time.Duration
		labels []string
	}{
		{
			name:   "default",
			labels: []string{"0-2s", "2-5s", "5-15s", "15-60s", "60s+"},
		},
		{
			name:   "custom",
			bounds: []time.Duration{500 * time.Millisecond, 3 * time.Second},
			labels: []string{"0-0.5s", "0.5-3s", "3s+"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewConfirmLatency(tt.bounds...)
			c.Observe(time.Millisecond)

			stats := c.Stats()
			if len(stats.Buckets) != len(tt.labels) {
				t.Fatalf("got %d buckets, want %d", len(stats.Buckets), len(tt.labels))
			}
			for i, want := range tt.labels {
				if got := stats.Buckets[i].Label; got != want {
					t.Errorf("bucket %d label = %q, want %q", i, got, want)
				}
			}
		})
	}
}

func TestConfirmLatencyBucketCounts(t *testing.T) {
	c := NewConfirmLatency()

	samples := []struct {
		d     time.Duration
		times int
	}{
		{1500 * time.Millisecond, 4}, // 0-2s
		{2 * time.Second, 3},         // 2-5s, lower edge is inclusive
		{12 * time.Second, 2},        // 5-15s
		{45 * time.Second, 1},        // 15-60s
		{2 * time.Minute, 1},         // 60s+
	}
	for _, s := range samples {
		for i := 0; i < s.times; i++ {
			c.Observe(s.d)
		}
	}

	stats := c.Stats()
	for i, s := range samples {
		if got := stats.Buckets[i].Count; got != s.times {
			t.Errorf("bucket %s = %d, want %d", stats.Buckets[i].Label, got, s.times)
		}
	}
}

func TestConfirmLatencyReservoirBounded(t *testing.T) {
	c := NewConfirmLatency()

	n := DefaultReservoirSize * 3
	for i := 0; i < n; i++ {
		c.Observe(time.Duration(i%1000) * time.Millisecond)
	}

	stats := c.Stats()
	if stats.Count != n {
		t.Errorf("count = %d, want %d", stats.Count, n)
	}
	if len(c.sample) != DefaultReservoirSize {
		t.Errorf("sample size = %d, want %d", len(c.sample), DefaultReservoirSize)
	}
	if stats.P50 < 0 || stats.P50 > 999 {
		t.Errorf("p50 %f outside observed range", stats.P50)
	}
}

func TestConfirmLatencyConcurrent(t *testing.T) {
	c := NewConfirmLatency()

	const workers, each = 10, 1000
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			for j := 0; j < each; j++ {
				c.Observe(time.Duration(id*100+j%100) * time.Millisecond)
			}
		}(w)
	}
	wg.Wait()

	if got := c.Count(); got != workers*each {
		t.Errorf("count = %d, want %d", got, workers*each)
	}
}

func TestConfirmLatencyReset(t *testing.T) {
	c := NewConfirmLatency()
	for i := 0; i < 100; i++ {
		c.Observe(time.Second)
	}
	c.Reset()

	if stats := c.Stats(); stats != nil {
		t.Errorf("stats = %+v, want nil after reset", stats)
	}
	if c.Count() != 0 {
		t.Errorf("count = %d after reset, want 0", c.Count())
	}

	c.Observe(3 * time.Second)
	if stats := c.Stats(); stats.Min != 3000 || stats.Buckets[1].Count != 1 {
		t.Errorf("after reset min=%f bucket[1]=%d, want 3000 and 1", stats.Min, stats.Buckets[1].Count)
	}
}

func BenchmarkConfirmLatencyObserve(b *testing.B) {
	c := NewConfirmLatency()
	b.ResetTimer()

	for i := 0; i < b.N; i++ {
		c.Observe(time.Duration(i%1000) * time.Millisecond)
	}
}
