// Curator - Media Collection Curation and Library Sync
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/curator

/*
Package library talks to remote media servers (Jellyfin, Emby, Plex).

Every flavor implements Client. Lookups that find nothing return a nil
result and a nil error; transport and status failures come back as
*retry.HTTPStatusError or network errors so the resilient wrapper can
classify them.

	c, err := library.NewClient(target)
	c = library.NewResilientClient(c, policy, 3, logger)
	item, err := c.FindByIdentifier(ctx, models.NamespaceIMDB, "tt0078748")
*/
package library

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/tomtom215/curator/internal/config"
	"github.com/tomtom215/curator/internal/models"
	"github.com/tomtom215/curator/internal/retry"
)

// idBatchSize bounds how many ids go into one query string.
const idBatchSize = 50

// Collection is a collection object on a remote server.
type Collection struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Client is the set of remote operations the sync engine needs.
type Client interface {
	// ServerID is the configured id of the target server.
	ServerID() string
	Ping(ctx context.Context) error

	FindByIdentifier(ctx context.Context, ns models.Namespace, value string) (*models.LibraryItem, error)
	SearchByTitle(ctx context.Context, title string, kind models.MediaKind, year int) ([]models.LibraryItem, error)

	GetCollectionByName(ctx context.Context, name string) (*Collection, error)
	// CreateCollection needs at least one seed id.
	CreateCollection(ctx context.Context, name string, seedIDs []string) (*Collection, error)
	AddItems(ctx context.Context, collectionID string, ids []string) error
	RemoveItems(ctx context.Context, collectionID string, ids []string) error
	GetCollectionItems(ctx context.Context, collectionID string) ([]string, error)
	UploadPrimaryImage(ctx context.Context, collectionID string, data []byte, mimeType string) error
	DeleteCollection(ctx context.Context, collectionID string) error
}

// ErrNoSeed is returned by CreateCollection without seed ids.
var ErrNoSeed = retry.Permanent("create collection", fmt.Errorf("at least one seed id is required"))

// Option customizes a client built by NewClient.
type Option func(*clientOptions)

type clientOptions struct {
	httpClient     *http.Client
	rateLimitDelay time.Duration
}

// WithHTTPClient replaces the default 30s-timeout client.
func WithHTTPClient(c *http.Client) Option {
	return func(o *clientOptions) { o.httpClient = c }
}

// WithRateLimitDelay sets the first wait after a Plex 429 without a
// Retry-After header. Later waits double.
func WithRateLimitDelay(d time.Duration) Option {
	return func(o *clientOptions) { o.rateLimitDelay = d }
}

// NewClient builds the client matching target.Type.
func NewClient(target config.ServerTarget, opts ...Option) (Client, error) {
	o := clientOptions{
		httpClient:     &http.Client{Timeout: 30 * time.Second},
		rateLimitDelay: time.Second,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if target.URL == "" {
		return nil, fmt.Errorf("server %q: url is required", target.ID)
	}

	switch target.Type {
	case config.ServerTypeJellyfin:
		return newEmbyClient(target, flavorJellyfin, o), nil
	case config.ServerTypeEmby:
		return newEmbyClient(target, flavorEmby, o), nil
	case config.ServerTypePlex:
		return newPlexClient(target, o), nil
	default:
		return nil, fmt.Errorf("server %q: unsupported type %q", target.ID, target.Type)
	}
}

// decodeResponse closes resp and decodes a 2xx body into out when out is
// non-nil. Other statuses become *retry.HTTPStatusError.
func decodeResponse(resp *http.Response, op string, out any) error {
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return retry.NewHTTPStatusError(op, resp.StatusCode, body)
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return retry.Permanent(op+": malformed response", err)
	}
	return nil
}

func batches(ids []string) [][]string {
	var out [][]string
	for start := 0; start < len(ids); start += idBatchSize {
		end := min(start+idBatchSize, len(ids))
		out = append(out, ids[start:end])
	}
	return out
}

func nonEmpty(ids []string) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id = strings.TrimSpace(id); id != "" {
			out = append(out, id)
		}
	}
	return out
}
