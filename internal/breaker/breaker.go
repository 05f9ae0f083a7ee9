// Curator - Media Collection Curation and Library Sync
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/curator

// Package breaker puts a sony/gobreaker circuit breaker in front of each
// external endpoint (list provider, detail provider, every library server).
//
// Defaults:
//   - 3 requests allowed through while half-open
//   - counts reset every minute while closed
//   - 2 minutes open before probing again
//   - trips at >= 60% failures once 10 requests were seen
//
// Only transient failures count against the breaker. A 404 from a healthy
// server is an answer, not an outage.
package breaker

import (
	"errors"
	"time"

	"github.com/rs/zerolog"
	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/tomtom215/curator/internal/metrics"
	"github.com/tomtom215/curator/internal/retry"
)

// Settings tunes a Breaker. Zero values take the defaults above.
type Settings struct {
	MaxRequests  uint32
	Interval     time.Duration
	Timeout      time.Duration
	MinRequests  uint32
	FailureRatio float64
}

// Breaker guards calls to one named endpoint.
type Breaker struct {
	name   string
	cb     *gobreaker.CircuitBreaker[any]
	logger zerolog.Logger
}

// New builds a breaker registered under name in the breaker metrics.
//
//nolint:gocritic // hugeParam: zerolog.Logger is designed to be passed by value
func New(name string, s Settings, logger zerolog.Logger) *Breaker {
	if s.MaxRequests == 0 {
		s.MaxRequests = 3
	}
	if s.Interval == 0 {
		s.Interval = time.Minute
	}
	if s.Timeout == 0 {
		s.Timeout = 2 * time.Minute
	}
	if s.MinRequests == 0 {
		s.MinRequests = 10
	}
	if s.FailureRatio == 0 {
		s.FailureRatio = 0.6
	}

	b := &Breaker{
		name:   name,
		logger: logger.With().Str("component", "breaker").Str("breaker", name).Logger(),
	}

	metrics.CircuitBreakerState.WithLabelValues(name).Set(0)
	metrics.CircuitBreakerConsecutiveFailures.WithLabelValues(name).Set(0)

	b.cb = gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
		Name:        name,
		MaxRequests: s.MaxRequests,
		Interval:    s.Interval,
		Timeout:     s.Timeout,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			if c.Requests < s.MinRequests {
				return false
			}
			ratio := float64(c.TotalFailures) / float64(c.Requests)
			if ratio >= s.FailureRatio {
				b.logger.Warn().
					Uint32("failures", c.TotalFailures).
					Float64("failure_rate", ratio*100).
					Msg("opening circuit")
				return true
			}
			return false
		},
		IsSuccessful: func(err error) bool {
			return err == nil || !retry.IsTransient(err)
		},
		OnStateChange: func(n string, from, to gobreaker.State) {
			b.logger.Info().Str("from", StateName(from)).Str("to", StateName(to)).Msg("circuit state change")
			metrics.CircuitBreakerState.WithLabelValues(n).Set(stateValue(to))
			metrics.CircuitBreakerTransitions.WithLabelValues(n, StateName(from), StateName(to)).Inc()
			if to == gobreaker.StateClosed {
				metrics.CircuitBreakerConsecutiveFailures.WithLabelValues(n).Set(0)
			}
		},
	})
	return b
}

// Name returns the breaker's metric label.
func (b *Breaker) Name() string { return b.name }

// State returns "closed", "half-open" or "open".
func (b *Breaker) State() string { return StateName(b.cb.State()) }

// IsRejection reports whether err came from an open or saturated breaker
// rather than from the guarded call.
func IsRejection(err error) bool {
	return errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests)
}

// Execute runs fn through b and returns its typed result.
func Execute[T any](b *Breaker, fn func() (T, error)) (T, error) {
	var zero T
	res, err := b.cb.Execute(func() (any, error) {
		return fn()
	})
	if err != nil {
		switch {
		case IsRejection(err):
			metrics.CircuitBreakerRequests.WithLabelValues(b.name, "rejected").Inc()
			b.logger.Warn().Err(err).Msg("request rejected")
		case retry.IsTransient(err):
			metrics.CircuitBreakerRequests.WithLabelValues(b.name, "failure").Inc()
			metrics.CircuitBreakerConsecutiveFailures.WithLabelValues(b.name).Set(float64(b.cb.Counts().ConsecutiveFailures))
		default:
			metrics.CircuitBreakerRequests.WithLabelValues(b.name, "success").Inc()
		}
		if typed, ok := res.(T); ok {
			return typed, err
		}
		return zero, err
	}

	metrics.CircuitBreakerRequests.WithLabelValues(b.name, "success").Inc()
	metrics.CircuitBreakerConsecutiveFailures.WithLabelValues(b.name).Set(0)
	typed, ok := res.(T)
	if !ok {
		return zero, nil
	}
	return typed, nil
}

// Do runs fn through b.
func Do(b *Breaker, fn func() error) error {
	_, err := Execute(b, func() (struct{}, error) {
		return struct{}{}, fn()
	})
	return err
}

func stateValue(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateClosed:
		return 0
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return -1
	}
}

// StateName renders a gobreaker state for logs and the API.
func StateName(s gobreaker.State) string {
	switch s {
	case gobreaker.StateClosed:
		return "closed"
	case gobreaker.StateHalfOpen:
		return "half-open"
	case gobreaker.StateOpen:
		return "open"
	default:
		return "unknown"
	}
}
