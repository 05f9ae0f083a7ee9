// Curator - Media Collection Curation and Library Sync
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/curator

package retry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/url"
	"strings"
	"syscall"
	"testing"
	"time"
	"unicode/utf8"
)

func fastPolicy() Policy {
	return Policy{BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond, Multiplier: 2, JitterFraction: 0.1}
}

func TestBackoffBounds(t *testing.T) {
	p := DefaultPolicy()
	for _, r := range []float64{0, 0.25, 0.5, 0.9999} {
		pr := p.WithRand(func() float64 { return r })
		for n := 1; n <= 8; n++ {
			raw := float64(time.Second) * float64(int(1)<<(n-1))
			lo := time.Duration(raw * 0.9)
			hi := time.Duration(raw * 1.1)
			if hi > 30*time.Second {
				hi = 30 * time.Second
			}
			got := pr.Backoff(n)
			if got > hi {
				t.Errorf("Backoff(%d) rand=%v = %v, above %v", n, r, got, hi)
			}
			if lo <= 30*time.Second && got < lo {
				t.Errorf("Backoff(%d) rand=%v = %v, below %v", n, r, got, lo)
			}
		}
	}
}

func TestBackoffExactValues(t *testing.T) {
	mid := DefaultPolicy().WithRand(func() float64 { return 0.5 })
	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{0, time.Second},
		{1, time.Second},
		{2, 2 * time.Second},
		{3, 4 * time.Second},
		{5, 16 * time.Second},
		{6, 30 * time.Second},
		{20, 30 * time.Second},
	}
	for _, tt := range tests {
		if got := mid.Backoff(tt.attempt); got != tt.want {
			t.Errorf("Backoff(%d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}
}

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"408", &HTTPStatusError{StatusCode: 408}, true},
		{"429", &HTTPStatusError{StatusCode: 429}, true},
		{"500", &HTTPStatusError{StatusCode: 500}, true},
		{"502 wrapped", fmt.Errorf("list: %w", &HTTPStatusError{StatusCode: 502}), true},
		{"503", &HTTPStatusError{StatusCode: 503}, true},
		{"504", &HTTPStatusError{StatusCode: 504}, true},
		{"404", &HTTPStatusError{StatusCode: 404}, false},
		{"401", &HTTPStatusError{StatusCode: 401}, false},
		{"501", &HTTPStatusError{StatusCode: 501}, false},
		{"conn reset", &net.OpError{Op: "read", Err: syscall.ECONNRESET}, true},
		{"conn refused", fmt.Errorf("dial: %w", syscall.ECONNREFUSED), true},
		{"unexpected eof", io.ErrUnexpectedEOF, true},
		{"url eof", &url.Error{Op: "Get", URL: "http://x", Err: io.EOF}, true},
		{"dns temporary", &net.DNSError{IsTemporary: true}, true},
		{"dns not found", &net.DNSError{IsNotFound: true}, false},
		{"canceled", context.Canceled, false},
		{"permanent 503", &PermanentError{Message: "x", Cause: &HTTPStatusError{StatusCode: 503}}, false},
		{"retryable", &RetryableError{Message: "busy"}, true},
		{"plain", errors.New("decode failed"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsTransient(tt.err); got != tt.want {
				t.Errorf("IsTransient(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestDoRetriesTransientUntilSuccess(t *testing.T) {
	calls := 0
	err := Do(context.Background(), 3, fastPolicy(), func(context.Context) error {
		calls++
		if calls < 3 {
			return &HTTPStatusError{StatusCode: 503}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Do returned %v", err)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
}

func TestDoStopsAtAttemptCeiling(t *testing.T) {
	calls := 0
	var retried []int
	err := Do(context.Background(), 3, fastPolicy(), func(context.Context) error {
		calls++
		return &HTTPStatusError{Op: "list", StatusCode: 500}
	}, OnRetry(func(attempt int, _ error, _ time.Duration) {
		retried = append(retried, attempt)
	}))
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
	var se *HTTPStatusError
	if !errors.As(err, &se) || se.StatusCode != 500 {
		t.Errorf("err = %v, want last HTTPStatusError 500", err)
	}
	if len(retried) != 2 || retried[0] != 1 || retried[1] != 2 {
		t.Errorf("OnRetry attempts = %v, want [1 2]", retried)
	}
}

func TestDoDoesNotRetryPermanent(t *testing.T) {
	calls := 0
	err := Do(context.Background(), 5, fastPolicy(), func(context.Context) error {
		calls++
		return &HTTPStatusError{StatusCode: 404}
	})
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
	if err == nil {
		t.Fatal("expected error")
	}
}

func TestDoValueReturnsData(t *testing.T) {
	calls := 0
	got, err := DoValue(context.Background(), 2, fastPolicy(), func(context.Context) ([]string, error) {
		calls++
		if calls == 1 {
			return nil, syscall.ECONNRESET
		}
		return []string{"a", "b"}, nil
	})
	if err != nil || len(got) != 2 {
		t.Fatalf("DoValue = %v, %v", got, err)
	}
}

func TestDoHonorsContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	slow := Policy{BaseDelay: time.Hour, MaxDelay: time.Hour, Multiplier: 2}
	calls := 0
	done := make(chan error, 1)
	go func() {
		done <- Do(ctx, 3, slow, func(context.Context) error {
			calls++
			return &HTTPStatusError{StatusCode: 503}
		})
	}()
	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err == nil {
			t.Fatal("expected error after cancel")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Do did not return after context cancel")
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestNewHTTPStatusErrorTruncatesBody(t *testing.T) {
	body := make([]byte, 1000)
	for i := range body {
		body[i] = 'x'
	}
	e := NewHTTPStatusError("get", 500, body)
	if len(e.Body) != 256 {
		t.Errorf("body length = %d, want 256", len(e.Body))
	}
}

func TestNewHTTPStatusErrorKeepsValidUTF8(t *testing.T) {
	body := []byte("x" + strings.Repeat("é", 200))
	e := NewHTTPStatusError("get", 502, body)
	if !utf8.ValidString(e.Body) {
		t.Fatalf("body is not valid UTF-8: %q", e.Body[len(e.Body)-4:])
	}
	if len(e.Body) != 255 {
		t.Errorf("body length = %d, want 255", len(e.Body))
	}
}

func TestIsPermanent(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"explicit", Permanent("gone", nil), true},
		{"wrapped explicit", fmt.Errorf("ctx: %w", Permanent("bad payload", io.EOF)), true},
		{"404", NewHTTPStatusError("get", 404, nil), true},
		{"401", NewHTTPStatusError("get", 401, nil), true},
		{"429 is transient", NewHTTPStatusError("get", 429, nil), false},
		{"408 is transient", NewHTTPStatusError("get", 408, nil), false},
		{"500", NewHTTPStatusError("get", 500, nil), false},
		{"plain error", errors.New("x"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsPermanent(tt.err); got != tt.want {
				t.Errorf("IsPermanent(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}
