// Curator - Media Collection Curation and Library Sync
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/curator

package library

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/tomtom215/curator/internal/breaker"
	"github.com/tomtom215/curator/internal/metrics"
	"github.com/tomtom215/curator/internal/models"
	"github.com/tomtom215/curator/internal/retry"
)

// ResilientClient wraps a Client with a per-server circuit breaker and
// bounded retries of transient failures.
type ResilientClient struct {
	inner    Client
	breaker  *breaker.Breaker
	policy   retry.Policy
	attempts int
	logger   zerolog.Logger
}

var _ Client = (*ResilientClient)(nil)

// NewResilientClient wraps inner. The breaker is named after the server id.
//
//nolint:gocritic // hugeParam: zerolog.Logger is designed to be passed by value
func NewResilientClient(inner Client, policy retry.Policy, attempts int, logger zerolog.Logger) *ResilientClient {
	log := logger.With().Str("component", "library").Str("server", inner.ServerID()).Logger()
	return &ResilientClient{
		inner:    inner,
		breaker:  breaker.New("library:"+inner.ServerID(), breaker.Settings{}, log),
		policy:   policy,
		attempts: attempts,
		logger:   log,
	}
}

// Unwrap returns the wrapped client.
func (r *ResilientClient) Unwrap() Client { return r.inner }

func (r *ResilientClient) ServerID() string { return r.inner.ServerID() }

// BreakerState reports the breaker state name for health output.
func (r *ResilientClient) BreakerState() string { return r.breaker.State() }

func (r *ResilientClient) Ping(ctx context.Context) error {
	return r.do(ctx, "ping", r.inner.Ping)
}

func (r *ResilientClient) FindByIdentifier(ctx context.Context, ns models.Namespace, value string) (*models.LibraryItem, error) {
	return call(ctx, r, "find_by_identifier", func(ctx context.Context) (*models.LibraryItem, error) {
		return r.inner.FindByIdentifier(ctx, ns, value)
	})
}

func (r *ResilientClient) SearchByTitle(ctx context.Context, title string, kind models.MediaKind, year int) ([]models.LibraryItem, error) {
	return call(ctx, r, "search_by_title", func(ctx context.Context) ([]models.LibraryItem, error) {
		return r.inner.SearchByTitle(ctx, title, kind, year)
	})
}

func (r *ResilientClient) GetCollectionByName(ctx context.Context, name string) (*Collection, error) {
	return call(ctx, r, "get_collection", func(ctx context.Context) (*Collection, error) {
		return r.inner.GetCollectionByName(ctx, name)
	})
}

// CreateCollection looks the collection up by name before each retry, so
// a create that succeeded server-side but timed out is not duplicated.
func (r *ResilientClient) CreateCollection(ctx context.Context, name string, seedIDs []string) (*Collection, error) {
	tries := 0
	return call(ctx, r, "create_collection", func(ctx context.Context) (*Collection, error) {
		tries++
		if tries > 1 {
			existing, err := r.inner.GetCollectionByName(ctx, name)
			if err != nil {
				return nil, err
			}
			if existing != nil {
				return existing, nil
			}
		}
		return r.inner.CreateCollection(ctx, name, seedIDs)
	})
}

func (r *ResilientClient) AddItems(ctx context.Context, collectionID string, ids []string) error {
	return r.do(ctx, "add_items", func(ctx context.Context) error {
		return r.inner.AddItems(ctx, collectionID, ids)
	})
}

func (r *ResilientClient) RemoveItems(ctx context.Context, collectionID string, ids []string) error {
	return r.do(ctx, "remove_items", func(ctx context.Context) error {
		return r.inner.RemoveItems(ctx, collectionID, ids)
	})
}

func (r *ResilientClient) GetCollectionItems(ctx context.Context, collectionID string) ([]string, error) {
	return call(ctx, r, "get_collection_items", func(ctx context.Context) ([]string, error) {
		return r.inner.GetCollectionItems(ctx, collectionID)
	})
}

func (r *ResilientClient) UploadPrimaryImage(ctx context.Context, collectionID string, data []byte, mimeType string) error {
	return r.do(ctx, "upload_image", func(ctx context.Context) error {
		return r.inner.UploadPrimaryImage(ctx, collectionID, data, mimeType)
	})
}

func (r *ResilientClient) DeleteCollection(ctx context.Context, collectionID string) error {
	return r.do(ctx, "delete_collection", func(ctx context.Context) error {
		return r.inner.DeleteCollection(ctx, collectionID)
	})
}

func (r *ResilientClient) do(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	_, err := call(ctx, r, op, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

func call[T any](ctx context.Context, r *ResilientClient, op string, fn func(ctx context.Context) (T, error)) (T, error) {
	start := time.Now()
	v, err := retry.DoValue(ctx, r.attempts, r.policy, func(ctx context.Context) (T, error) {
		return breaker.Execute(r.breaker, func() (T, error) { return fn(ctx) })
	}, retry.OnRetry(func(attempt int, err error, delay time.Duration) {
		metrics.RetryAttempts.WithLabelValues("library:" + r.inner.ServerID()).Inc()
		r.logger.Warn().Err(err).Str("op", op).Int("attempt", attempt).Dur("delay", delay).Msg("retrying library call")
	}))
	metrics.RecordLibraryCall(r.inner.ServerID(), op, time.Since(start), err)
	return v, err
}
