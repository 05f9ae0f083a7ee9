// Curator - Media Collection Curation and Library Sync
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/curator

package retry

import (
	"math"
	"math/rand/v2"
	"time"
)

// Policy is the exponential backoff formula shared by the job queue and
// every external call site.
type Policy struct {
	BaseDelay      time.Duration
	MaxDelay       time.Duration
	Multiplier     float64
	JitterFraction float64

	// rnd returns a value in [0,1). nil uses math/rand/v2.
	rnd func() float64
}

// DefaultPolicy is 1s base, x2, capped at 30s, with ±10% jitter.
func DefaultPolicy() Policy {
	return Policy{
		BaseDelay:      time.Second,
		MaxDelay:       30 * time.Second,
		Multiplier:     2,
		JitterFraction: 0.1,
	}
}

// WithRand returns a copy of p drawing jitter from fn. Used by tests.
func (p Policy) WithRand(fn func() float64) Policy {
	p.rnd = fn
	return p
}

// Backoff returns the delay after the given failed attempt (1-based).
//
// The raw delay base*mult^(attempt-1) is scaled by a uniform factor in
// [1-j, 1+j] and then capped at MaxDelay, so the result always lies in
// [raw*(1-j), min(raw*(1+j), MaxDelay)] whenever raw*(1-j) <= MaxDelay.
func (p Policy) Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	mult := p.Multiplier
	if mult < 1 {
		mult = 1
	}

	raw := float64(p.BaseDelay) * math.Pow(mult, float64(attempt-1))

	if p.JitterFraction > 0 {
		r := rand.Float64
		if p.rnd != nil {
			r = p.rnd
		}
		raw *= 1 + p.JitterFraction*(2*r()-1)
	}

	if p.MaxDelay > 0 && raw > float64(p.MaxDelay) {
		return p.MaxDelay
	}
	if raw < 0 {
		return 0
	}
	return time.Duration(raw)
}
