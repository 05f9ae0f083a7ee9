// Curator - Media Collection Curation and Library Sync
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/curator

package breaker

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"

	"github.com/tomtom215/curator/internal/metrics"
	"github.com/tomtom215/curator/internal/retry"
)

func TestExecuteReturnsTypedValue(t *testing.T) {
	b := New("test-typed", Settings{}, zerolog.Nop())
	got, err := Execute(b, func() ([]int, error) { return []int{1, 2}, nil })
	if err != nil || len(got) != 2 {
		t.Fatalf("Execute = %v, %v", got, err)
	}
}

func TestTripsOnTransientFailures(t *testing.T) {
	b := New("test-trip", Settings{MinRequests: 4, FailureRatio: 0.5, Timeout: time.Hour}, zerolog.Nop())
	fail := &retry.HTTPStatusError{StatusCode: 503}

	for i := 0; i < 4; i++ {
		_ = Do(b, func() error { return fail })
	}
	if b.State() != "open" {
		t.Fatalf("state = %s, want open", b.State())
	}

	called := false
	err := Do(b, func() error { called = true; return nil })
	if called {
		t.Error("call should be short-circuited while open")
	}
	if !IsRejection(err) {
		t.Errorf("err = %v, want rejection", err)
	}
	if testutil.ToFloat64(metrics.CircuitBreakerState.WithLabelValues("test-trip")) != 2 {
		t.Error("state gauge should be 2 (open)")
	}
}

func TestPermanentErrorsDoNotTrip(t *testing.T) {
	b := New("test-permanent", Settings{MinRequests: 2, FailureRatio: 0.5}, zerolog.Nop())
	notFound := &retry.HTTPStatusError{StatusCode: 404}
	for i := 0; i < 10; i++ {
		err := Do(b, func() error { return notFound })
		if !errors.Is(err, notFound) {
			t.Fatalf("err = %v, want the 404", err)
		}
	}
	if b.State() != "closed" {
		t.Errorf("state = %s, want closed", b.State())
	}
}

func TestStateName(t *testing.T) {
	b := New("test-name", Settings{}, zerolog.Nop())
	if b.State() != "closed" || b.Name() != "test-name" {
		t.Errorf("State/Name = %s/%s", b.State(), b.Name())
	}
}
