// Package ratelimit provides a strict rate limiter for calls to rate-capped
// external APIs.
package ratelimit

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// DefaultRate is used when a non-positive rate is requested.
const DefaultRate = 1.0

// Limiter issues permits no faster than the target rate by tracking the next
// available permit time. There is no burst allowance, including after idle
// periods.
type Limiter struct {
	mu             sync.Mutex
	nextPermitTime time.Time
	interval       time.Duration

	rateX1000 atomic.Int64 // rate * 1000 for lock-free reads
}

// New creates a Limiter with the given rate in permits per second. Rates
// below one are allowed (0.5 is one permit every two seconds).
func New(ratePerSec float64) *Limiter {
	if ratePerSec <= 0 {
		ratePerSec = DefaultRate
	}

	l := &Limiter{
		nextPermitTime: time.Now(),
		interval:       time.Duration(float64(time.Second) / ratePerSec),
	}
	l.rateX1000.Store(int64(ratePerSec * 1000))
	return l
}

// Wait blocks until a permit is available or ctx is done. A cancelled wait
// hands its slot back when no later caller has queued behind it.
func (l *Limiter) Wait(ctx context.Context) error {
	l.mu.Lock()
	now := time.Now()
	permitTime := l.nextPermitTime
	if permitTime.Before(now) {
		permitTime = now
	}
	l.nextPermitTime = permitTime.Add(l.interval)
	reserved := l.nextPermitTime
	l.mu.Unlock()

	waitDuration := permitTime.Sub(now)
	if waitDuration <= 0 {
		return nil
	}

	timer := time.NewTimer(waitDuration)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		l.mu.Lock()
		if l.nextPermitTime.Equal(reserved) {
			l.nextPermitTime = permitTime
		}
		l.mu.Unlock()
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// SetRate updates the rate for subsequent permits.
func (l *Limiter) SetRate(ratePerSec float64) {
	if ratePerSec <= 0 {
		ratePerSec = DefaultRate
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	l.interval = time.Duration(float64(time.Second) / ratePerSec)
	l.rateX1000.Store(int64(ratePerSec * 1000))

	now := time.Now()
	if l.nextPermitTime.Before(now) {
		l.nextPermitTime = now
	}
}

// Rate returns the current rate limit.
func (l *Limiter) Rate() float64 {
	return float64(l.rateX1000.Load()) / 1000
}
