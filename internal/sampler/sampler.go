// Package sampler draws the randomized quantities that shape a cycle:
// operation amounts, pauses between operations, and batch lengths.
package sampler

import (
	"math/big"
	"math/rand/v2"
	"sync"
	"time"
)

// pctScale is the fixed-point factor used to turn a fractional percentage
// into an integer multiplier without losing precision on wei balances.
var pctScale = big.NewInt(1_000_000_000_000_000_000) // 1e18

// Rand is the random source the samplers draw from.
type Rand interface {
	// Float64 returns a random float64 in [0, 1).
	Float64() float64
	// IntN returns a random int in [0, n).
	IntN(n int) int
}

// LockedRand is a seedable Rand that is safe for concurrent use.
type LockedRand struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// NewRand returns a Rand seeded with seed. A zero seed picks a random one.
func NewRand(seed uint64) *LockedRand {
	if seed == 0 {
		seed = rand.Uint64()
	}
	return &LockedRand{
		rng: rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
	}
}

// NewStream returns one of many independent sequences under seed, selected
// by stream. Equal (seed, stream) pairs always yield the same draws, so
// concurrent consumers each holding their own stream stay reproducible
// regardless of scheduling.
func NewStream(seed, stream uint64) *LockedRand {
	return &LockedRand{rng: rand.New(rand.NewPCG(seed, stream))}
}

// Float64 returns a random float64 in [0, 1).
func (r *LockedRand) Float64() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rng.Float64()
}

// IntN returns a random int in [0, n).
func (r *LockedRand) IntN(n int) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rng.IntN(n)
}

// Percentage draws a uniform value in [minPct, maxPct).
// When minPct == maxPct the result is exactly minPct.
func Percentage(rng Rand, minPct, maxPct float64) float64 {
	if maxPct <= minPct {
		return minPct
	}
	return minPct + rng.Float64()*(maxPct-minPct)
}

// Amount returns floor(balance * p) for p drawn from [minPct, maxPct).
// p is truncated to 18 decimals and applied with integer arithmetic, so the
// result never exceeds balance for 0 < minPct <= maxPct < 1.
// A nil or non-positive balance yields zero.
func Amount(rng Rand, balance *big.Int, minPct, maxPct float64) *big.Int {
	if balance == nil || balance.Sign() <= 0 {
		return new(big.Int)
	}

	p := Percentage(rng, minPct, maxPct)
	if p <= 0 {
		return new(big.Int)
	}
	if p >= 1 {
		return new(big.Int).Set(balance)
	}

	// p < 1, so p*1e18 < 1e18 fits in an int64.
	scaled := big.NewInt(int64(p * 1e18))
	amount := new(big.Int).Mul(balance, scaled)
	return amount.Quo(amount, pctScale)
}

// Delay returns a whole number of seconds drawn uniformly from
// [minSec, maxSec], expressed as a millisecond-granular duration.
func Delay(rng Rand, minSec, maxSec int) time.Duration {
	secs := Count(rng, minSec, maxSec)
	return time.Duration(secs*1000) * time.Millisecond
}

// Count draws an integer uniformly from [lo, hi] inclusive.
// hi below lo collapses the range to lo.
func Count(rng Rand, lo, hi int) int {
	if hi <= lo {
		return lo
	}
	return lo + rng.IntN(hi-lo+1)
}
