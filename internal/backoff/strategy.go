// Package backoff computes retry delays.
package backoff

import (
	"math/rand"
	"time"
)

// Params holds the inputs shared by every strategy.
type Params struct {
	Initial    time.Duration
	Max        time.Duration
	Multiplier float64
	// Jitter is the fraction (0..1) of the computed delay added at random.
	Jitter float64
}

// Strategy maps a 1-based retry attempt to a delay.
type Strategy interface {
	Delay(attempt int, p Params) time.Duration
}

// Constant waits Initial before every retry.
type Constant struct{}

// Delay implements Strategy.
func (Constant) Delay(_ int, p Params) time.Duration {
	return capDelay(p.Initial, p.Max)
}

// Linear waits Initial*attempt.
type Linear struct{}

// Delay implements Strategy.
func (Linear) Delay(attempt int, p Params) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	return applyJitter(capDelay(p.Initial*time.Duration(attempt), p.Max), p)
}

// Exponential waits Initial*Multiplier^(attempt-1) plus jitter.
type Exponential struct{}

// Delay implements Strategy.
func (Exponential) Delay(attempt int, p Params) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	// Keep the exponent small enough that the float never overflows.
	if attempt > 31 {
		attempt = 31
	}
	mult := p.Multiplier
	if mult <= 0 {
		mult = 2
	}

	d := time.Duration(float64(p.Initial) * Pow(mult, attempt-1))
	if d < 0 {
		d = p.Max
	}
	return applyJitter(capDelay(d, p.Max), p)
}

// Decorrelated picks a random delay between Initial and min(Max, Initial*3^attempt).
type Decorrelated struct{}

// Delay implements Strategy.
func (Decorrelated) Delay(attempt int, p Params) time.Duration {
	if attempt <= 1 {
		return p.Initial
	}
	if attempt > 10 {
		attempt = 10
	}

	base := float64(p.Initial)
	upper := base * Pow(3.0, attempt-1)
	if p.Max > 0 && (upper > float64(p.Max) || upper < 0) {
		upper = float64(p.Max)
	}
	if upper < base {
		upper = base
	}

	return time.Duration(base + rand.Float64()*(upper-base))
}

func capDelay(d, max time.Duration) time.Duration {
	if max > 0 && d > max {
		return max
	}
	if d < 0 {
		return 0
	}
	return d
}

func applyJitter(d time.Duration, p Params) time.Duration {
	j := ClampJitter(p.Jitter)
	if j == 0 {
		return d
	}
	d += time.Duration(float64(d) * j * rand.Float64())
	return capDelay(d, p.Max)
}

// ClampJitter bounds jitter to [0, 1].
func ClampJitter(jitter float64) float64 {
	if jitter < 0 {
		return 0
	}
	if jitter > 1 {
		return 1
	}
	return jitter
}

// Pow calculates base^exponent using integer exponentiation.
func Pow(base float64, exponent int) float64 {
	result := 1.0
	for i := 0; i < exponent; i++ {
		result *= base
	}
	return result
}
