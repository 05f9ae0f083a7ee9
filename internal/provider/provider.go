// Curator - Media Collection Curation and Library Sync
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/curator

// Package provider holds the list provider (Trakt) and the detail provider
// (TMDB). Both clients go through a circuit breaker and the retry helper,
// and classify 4xx responses and malformed payloads as permanent.
package provider

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"github.com/tomtom215/curator/internal/metrics"
	"github.com/tomtom215/curator/internal/models"
	"github.com/tomtom215/curator/internal/retry"
)

var (
	ErrMissingCredentials = errors.New("provider credentials not configured")
	ErrInvalidListRef     = errors.New("invalid list reference")
	ErrNoMatch            = errors.New("no matching title at provider")
)

// ListItem is one raw entry from a list provider.
type ListItem struct {
	Kind        models.MediaKind   `json:"kind"`
	Title       string             `json:"title"`
	Year        int                `json:"year,omitempty"`
	Identifiers models.Identifiers `json:"identifiers"`
	PosterRef   string             `json:"poster_ref,omitempty"`
}

// Detail is the enrichment payload for one title.
type Detail struct {
	Rating      *float64 `json:"rating,omitempty"`
	RatingCount *int     `json:"rating_count,omitempty"`
	PosterRef   string   `json:"poster_ref,omitempty"`
	BackdropRef string   `json:"backdrop_ref,omitempty"`
}

// ListProvider returns the items of one list.
type ListProvider interface {
	ListItems(ctx context.Context, listRef string) ([]ListItem, error)
}

// DetailProvider fetches rating and artwork for one title.
type DetailProvider interface {
	GetDetail(ctx context.Context, kind models.MediaKind, ids models.Identifiers) (*Detail, error)
}

// Option customizes a client.
type Option func(*clientOptions)

type clientOptions struct {
	httpClient *http.Client
}

// WithHTTPClient replaces the default 30s-timeout client.
func WithHTTPClient(c *http.Client) Option {
	return func(o *clientOptions) { o.httpClient = c }
}

func buildOptions(opts []Option) clientOptions {
	o := clientOptions{httpClient: &http.Client{Timeout: 30 * time.Second}}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// doJSON executes req and decodes a 2xx body into out. Non-2xx responses
// become *retry.HTTPStatusError; an undecodable body is permanent.
func doJSON(client *http.Client, req *http.Request, op string, out any) (http.Header, error) {
	req.Header.Set("Accept", "application/json")
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, retry.NewHTTPStatusError(op, resp.StatusCode, body)
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return nil, retry.Permanent(op+": malformed response", err)
		}
	}
	return resp.Header, nil
}

// retryLogger counts and logs each retry against target.
//
//nolint:gocritic // hugeParam: zerolog.Logger is designed to be passed by value
func retryLogger(target string, logger zerolog.Logger) retry.Option {
	return retry.OnRetry(func(attempt int, err error, delay time.Duration) {
		metrics.RetryAttempts.WithLabelValues(target).Inc()
		logger.Warn().Err(err).Int("attempt", attempt).Dur("delay", delay).Msg("retrying provider call")
	})
}
