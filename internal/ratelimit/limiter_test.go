package ratelimit

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestLimiterNew(t *testing.T) {
	tests := []struct {
		name string
		rate float64
		want float64
	}{
		{"positive", 100, 100},
		{"fractional", 0.5, 0.5},
		{"zero defaults", 0, DefaultRate},
		{"negative defaults", -5, DefaultRate},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := New(tt.rate).Rate(); got != tt.want {
				t.Errorf("New(%v).Rate() = %v, want %v", tt.rate, got, tt.want)
			}
		})
	}
}

func TestLimiterSetRate(t *testing.T) {
	l := New(100)
	l.SetRate(500)
	if l.Rate() != 500 {
		t.Errorf("expected rate 500, got %v", l.Rate())
	}
	l.SetRate(0)
	if l.Rate() != DefaultRate {
		t.Errorf("expected default rate, got %v", l.Rate())
	}
}

func TestLimiterWaitImmediate(t *testing.T) {
	l := New(10)

	start := time.Now()
	if err := l.Wait(context.Background()); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if elapsed := time.Since(start); elapsed > 10*time.Millisecond {
		t.Errorf("expected near-instant first wait, got %v", elapsed)
	}
}

func TestLimiterWaitCancellation(t *testing.T) {
	l := New(1)

	ctx, cancel := context.WithCancel(context.Background())
	_ = l.Wait(ctx)

	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	if err := l.Wait(ctx); err == nil {
		t.Error("expected error from cancelled context")
	}
}

func TestLimiterCancelledWaitReturnsPermit(t *testing.T) {
	rate := 100.0 // 10ms interval
	l := New(rate)

	if err := l.Wait(context.Background()); err != nil {
		t.Fatal(err)
	}

	for i := 0; i < 10; i++ {
		ctx, cancel := context.WithTimeout(context.Background(), time.Millisecond)
		_ = l.Wait(ctx)
		cancel()
	}

	// 9 permits at 100/s is ~90ms. Leaked slots would push it toward 190ms.
	start := time.Now()
	for i := 0; i < 9; i++ {
		if err := l.Wait(context.Background()); err != nil {
			t.Fatal(err)
		}
	}
	if elapsed := time.Since(start); elapsed > 150*time.Millisecond {
		t.Errorf("cancelled Waits leaked permit slots: 9 permits took %v (expected ~90ms)", elapsed)
	}
}

func TestLimiterSmoothness(t *testing.T) {
	rate := 100.0
	l := New(rate)
	ctx := context.Background()

	n := 10
	start := time.Now()
	for i := 0; i < n; i++ {
		if err := l.Wait(ctx); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	elapsed := time.Since(start)

	// first permit is immediate
	expected := time.Duration(float64(time.Second) * float64(n-1) / rate)
	minExpected := time.Duration(float64(expected) * 0.8)
	maxExpected := time.Duration(float64(expected) * 1.5)

	if elapsed < minExpected || elapsed > maxExpected {
		t.Errorf("expected elapsed time ~%v (range %v-%v), got %v",
			expected, minExpected, maxExpected, elapsed)
	}
}

func TestLimiterNoBurstAfterIdle(t *testing.T) {
	l := New(50) // 20ms interval
	ctx := context.Background()

	_ = l.Wait(ctx)
	time.Sleep(100 * time.Millisecond)

	start := time.Now()
	for i := 0; i < 3; i++ {
		if err := l.Wait(ctx); err != nil {
			t.Fatal(err)
		}
	}
	// one immediate permit then two spaced ones
	if elapsed := time.Since(start); elapsed < 30*time.Millisecond {
		t.Errorf("limiter burst after idle: 3 permits took %v", elapsed)
	}
}

func TestLimiterConcurrent(t *testing.T) {
	rate := 1000.0
	l := New(rate)
	ctx := context.Background()

	workers, perWorker := 10, 10
	var wg sync.WaitGroup
	var count atomic.Int64

	start := time.Now()
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perWorker; j++ {
				if err := l.Wait(ctx); err != nil {
					return
				}
				count.Add(1)
			}
		}()
	}
	wg.Wait()
	elapsed := time.Since(start)

	total := workers * perWorker
	if count.Load() != int64(total) {
		t.Errorf("expected %d permits, got %d", total, count.Load())
	}
	if floor := time.Duration(float64(time.Second) * float64(total-1) / rate * 0.7); elapsed < floor {
		t.Errorf("permits issued too fast: %d in %v", total, elapsed)
	}
}
