// Curator - Media Collection Curation and Library Sync
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/curator

// Package retry is the bounded retry helper used around every external
// call. It retries only errors on the IsTransient allow-list, sleeps
// according to Policy between attempts, and gives up after the caller's
// attempt ceiling.
//
//	items, err := retry.DoValue(ctx, 3, policy, func(ctx context.Context) ([]Item, error) {
//	    return client.ListItems(ctx, ref)
//	})
package retry

import (
	"context"
	"time"

	retrygo "github.com/avast/retry-go/v4"
)

type options struct {
	onRetry func(attempt int, err error, delay time.Duration)
}

// Option customizes a single Do call.
type Option func(*options)

// OnRetry is called before each wait with the attempt that just failed.
func OnRetry(fn func(attempt int, err error, delay time.Duration)) Option {
	return func(o *options) { o.onRetry = fn }
}

// Do runs fn up to attempts times. The returned error is the last one fn
// produced, or the context error if ctx ended while waiting.
func Do(ctx context.Context, attempts int, policy Policy, fn func(ctx context.Context) error, opts ...Option) error {
	_, err := DoValue(ctx, attempts, policy, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	}, opts...)
	return err
}

// DoValue is Do for functions that return a value.
func DoValue[T any](ctx context.Context, attempts int, policy Policy, fn func(ctx context.Context) (T, error), opts ...Option) (T, error) {
	if attempts < 1 {
		attempts = 1
	}
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	// retry-go's attempt index differs between versions, so the attempt
	// count is tracked here. The delay for an attempt is drawn once and
	// shared by the OnRetry hook and the delay function.
	made := 0
	delayFor := 0
	var delay time.Duration
	next := func() time.Duration {
		if delayFor != made {
			delay = policy.Backoff(made)
			delayFor = made
		}
		return delay
	}

	return retrygo.DoWithData(
		func() (T, error) {
			made++
			return fn(ctx)
		},
		retrygo.Context(ctx),
		retrygo.Attempts(uint(attempts)),
		retrygo.LastErrorOnly(true),
		retrygo.RetryIf(IsTransient),
		retrygo.DelayType(func(_ uint, _ error, _ *retrygo.Config) time.Duration {
			return next()
		}),
		retrygo.OnRetry(func(_ uint, err error) {
			if o.onRetry != nil && made < attempts {
				o.onRetry(made, err, next())
			}
		}),
	)
}
