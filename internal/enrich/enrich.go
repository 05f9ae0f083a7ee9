// Curator - Media Collection Curation and Library Sync
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/curator

// Package enrich is the enrich-item job handler. It fetches rating and
// artwork for one stored item and records the enrichment outcome on it.
package enrich

import (
	"context"
	"errors"
	"fmt"
	"unicode/utf8"

	"github.com/rs/zerolog"

	"github.com/tomtom215/curator/internal/metrics"
	"github.com/tomtom215/curator/internal/models"
	"github.com/tomtom215/curator/internal/provider"
	"github.com/tomtom215/curator/internal/queue"
	"github.com/tomtom215/curator/internal/retry"
	"github.com/tomtom215/curator/internal/store"
)

// maxErrorLen bounds the stored last error.
const maxErrorLen = 500

// Store is the item persistence the handler needs.
type Store interface {
	GetItem(ctx context.Context, collectionID, itemID string) (*models.CollectionItem, error)
	UpdateItem(ctx context.Context, collectionID, itemID string, mutate func(*models.CollectionItem) error) (*models.CollectionItem, error)
}

// Handler enriches items.
type Handler struct {
	store    Store
	provider provider.DetailProvider
	logger   zerolog.Logger
}

//nolint:gocritic // hugeParam: zerolog.Logger is designed to be passed by value
func New(st Store, dp provider.DetailProvider, logger zerolog.Logger) *Handler {
	return &Handler{
		store:    st,
		provider: dp,
		logger:   logger.With().Str("component", "enrich").Logger(),
	}
}

// QueueHandler adapts Handle for queue registration.
func (h *Handler) QueueHandler() queue.Handler {
	return queue.OnEnrichItem(h.Handle)
}

// Handle enriches one item. On failure the item's attempt count and last
// error are recorded; the status becomes Failed once the job has no
// attempts left or the error is permanent, and stays Pending otherwise.
// The error is returned so the queue can retry.
func (h *Handler) Handle(ctx context.Context, job queue.Job, p queue.EnrichItem) error {
	log := h.logger.With().Str("job_id", job.ID).Str("collection_id", p.CollectionID).Str("item_id", p.ItemID).Logger()

	item, err := h.store.GetItem(ctx, p.CollectionID, p.ItemID)
	if errors.Is(err, store.ErrNotFound) {
		// The collection was refreshed or deleted after this job was queued.
		metrics.EnrichmentResults.WithLabelValues("missing").Inc()
		return retry.Permanent("enrich item", err)
	}
	if err != nil {
		return fmt.Errorf("load item: %w", err)
	}

	detail, fetchErr := h.provider.GetDetail(ctx, item.Kind, item.Identifiers)
	if fetchErr == nil {
		_, err := h.store.UpdateItem(ctx, p.CollectionID, p.ItemID, func(it *models.CollectionItem) error {
			it.Rating = detail.Rating
			it.RatingCount = detail.RatingCount
			if detail.PosterRef != "" {
				it.PosterRef = detail.PosterRef
			}
			it.BackdropRef = detail.BackdropRef
			it.Enrichment.Status = models.EnrichmentEnriched
			it.Enrichment.Attempts++
			it.Enrichment.LastError = ""
			return nil
		})
		if err != nil {
			return fmt.Errorf("store enrichment: %w", err)
		}
		metrics.EnrichmentResults.WithLabelValues("enriched").Inc()
		log.Debug().Str("title", item.Title).Msg("item enriched")
		return nil
	}

	final := retry.IsPermanent(fetchErr) || !job.AttemptsLeft()
	_, err = h.store.UpdateItem(ctx, p.CollectionID, p.ItemID, func(it *models.CollectionItem) error {
		it.Enrichment.Attempts++
		it.Enrichment.LastError = truncate(fetchErr.Error(), maxErrorLen)
		if final {
			it.Enrichment.Status = models.EnrichmentFailed
		} else {
			it.Enrichment.Status = models.EnrichmentPending
		}
		return nil
	})
	if err != nil {
		log.Warn().Err(err).Msg("failed to record enrichment failure")
	}

	if final {
		metrics.EnrichmentResults.WithLabelValues("failed").Inc()
		log.Warn().Err(fetchErr).Str("title", item.Title).Msg("enrichment failed")
	} else {
		metrics.EnrichmentResults.WithLabelValues("retry").Inc()
		log.Debug().Err(fetchErr).Str("title", item.Title).Msg("enrichment will be retried")
	}
	return fmt.Errorf("enrich %q: %w", item.Title, fetchErr)
}

// truncate keeps at most n bytes of s without splitting a UTF-8 sequence.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
