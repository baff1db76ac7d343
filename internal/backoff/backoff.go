// Package backoff computes reconnection delays with capped exponential
// growth and multiplicative jitter.
package backoff

import (
	"math/rand/v2"
	"time"
)

// Policy computes the wait before reconnection attempt n.
//
// The raw delay is Base * 2^attempt capped at Max, then scaled by a random
// factor in [0.5, 1.0] so simultaneous clients do not reconnect in lockstep.
// Policy has no internal state; callers reset their attempt counter to zero
// on any successful open.
type Policy struct {
	Base time.Duration
	Max  time.Duration

	// Jitter returns a value in [0.0, 1.0). Nil uses math/rand/v2.
	// Injectable for deterministic tests.
	Jitter func() float64
}

// DefaultPolicy returns the policy used for transport reconnection.
func DefaultPolicy() Policy {
	return Policy{
		Base: 1 * time.Second,
		Max:  60 * time.Second,
	}
}

// Delay returns the wait before the given zero-based attempt.
func (p Policy) Delay(attempt int) time.Duration {
	base := p.Base
	if base <= 0 {
		base = time.Second
	}
	max := p.Max
	if max <= 0 {
		max = time.Minute
	}
	if attempt < 0 {
		attempt = 0
	}

	d := max
	// Shifting past 62 bits overflows time.Duration long before any
	// realistic cap, so only compute the power while it can still be
	// below the cap.
	if attempt < 63 {
		raw := base << uint(attempt)
		if raw > 0 && raw < max {
			d = raw
		}
	}

	jitter := p.Jitter
	if jitter == nil {
		jitter = rand.Float64
	}

	// Multiplicative jitter in [0.5, 1.0].
	factor := 0.5 + 0.5*jitter()
	return time.Duration(float64(d) * factor)
}
