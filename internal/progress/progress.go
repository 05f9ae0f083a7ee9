// Curator - Media Collection Curation and Library Sync
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/curator

// Package progress keeps per-collection enrichment counters current and
// publishes them to websocket clients.
//
// Counters are recomputed from the store rather than incremented from
// events, so a dropped event or a stale enrichment job cannot make them
// drift. Events only mark a collection dirty. Dirty collections are
// recounted and published once per flush interval.
package progress

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/tomtom215/curator/internal/models"
	"github.com/tomtom215/curator/internal/queue"
)

const (
	DefaultFlushInterval = 250 * time.Millisecond
	eventBuffer          = 1024
)

// Store counts enrichment states and lists collections for seeding.
type Store interface {
	ListCollections(ctx context.Context) ([]*models.Collection, error)
	CountEnrichment(ctx context.Context, collectionID string) (models.EnrichmentProgress, error)
}

// Events is the queue's lifecycle feed.
type Events interface {
	Subscribe(buffer int) (<-chan queue.Event, func())
}

// Broadcaster receives every published counter set. The websocket hub
// satisfies it.
type Broadcaster interface {
	BroadcastEnrichmentProgress(p models.EnrichmentProgress)
}

// Tracker is safe for concurrent use.
type Tracker struct {
	store       Store
	events      Events
	broadcaster Broadcaster
	flush       time.Duration
	logger      zerolog.Logger
	now         func() time.Time

	mu       sync.RWMutex
	counters map[string]models.EnrichmentProgress
	dirty    map[string]struct{}
}

// New builds a tracker. broadcaster may be nil.
//
//nolint:gocritic // hugeParam: zerolog.Logger is designed to be passed by value
func New(st Store, events Events, broadcaster Broadcaster, flush time.Duration, logger zerolog.Logger) *Tracker {
	if flush <= 0 {
		flush = DefaultFlushInterval
	}
	return &Tracker{
		store:       st,
		events:      events,
		broadcaster: broadcaster,
		flush:       flush,
		logger:      logger.With().Str("component", "progress").Logger(),
		now:         time.Now,
		counters:    make(map[string]models.EnrichmentProgress),
		dirty:       make(map[string]struct{}),
	}
}

// Seed rebuilds every counter from the store. It is called once at startup
// before the queue begins dispatching.
func (t *Tracker) Seed(ctx context.Context) error {
	cols, err := t.store.ListCollections(ctx)
	if err != nil {
		return fmt.Errorf("seed progress: %w", err)
	}
	for _, c := range cols {
		if err := t.recount(ctx, c.ID); err != nil {
			return err
		}
	}
	t.logger.Info().Int("collections", len(cols)).Msg("enrichment progress seeded")
	return nil
}

// Reset starts a fresh count after a refresh replaced the collection's
// items: every item is pending again.
func (t *Tracker) Reset(collectionID string, total int) {
	p := models.EnrichmentProgress{
		CollectionID: collectionID,
		Pending:      total,
		Total:        total,
		UpdatedAt:    t.now().UTC(),
	}
	p.ComputePercent()

	t.mu.Lock()
	t.counters[collectionID] = p
	delete(t.dirty, collectionID)
	t.mu.Unlock()

	t.publish(p)
}

// Remove forgets a deleted collection.
func (t *Tracker) Remove(collectionID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.counters, collectionID)
	delete(t.dirty, collectionID)
}

// Get returns the counters for one collection.
func (t *Tracker) Get(collectionID string) (models.EnrichmentProgress, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	p, ok := t.counters[collectionID]
	return p, ok
}

// All returns every tracked collection ordered by id.
func (t *Tracker) All() []models.EnrichmentProgress {
	t.mu.RLock()
	out := make([]models.EnrichmentProgress, 0, len(t.counters))
	for _, p := range t.counters {
		out = append(out, p)
	}
	t.mu.RUnlock()
	slices.SortFunc(out, func(a, b models.EnrichmentProgress) int {
		switch {
		case a.CollectionID < b.CollectionID:
			return -1
		case a.CollectionID > b.CollectionID:
			return 1
		}
		return 0
	})
	return out
}

// Run consumes queue events until ctx is done.
func (t *Tracker) Run(ctx context.Context) error {
	ch, unsubscribe := t.events.Subscribe(eventBuffer)
	defer unsubscribe()

	ticker := time.NewTicker(t.flush)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			t.Flush(context.WithoutCancel(ctx))
			return ctx.Err()
		case ev, ok := <-ch:
			if !ok {
				return nil
			}
			t.Observe(ev)
		case <-ticker.C:
			t.Flush(ctx)
		}
	}
}

// Observe marks the collection of a finished enrichment attempt dirty.
func (t *Tracker) Observe(ev queue.Event) {
	if ev.Job.Kind != queue.KindEnrichItem {
		return
	}
	switch ev.Type {
	case queue.EventCompleted, queue.EventFailed, queue.EventRetrying:
	default:
		return
	}
	id := queue.CollectionOf(ev.Job.Payload)
	if id == "" {
		return
	}
	t.mu.Lock()
	t.dirty[id] = struct{}{}
	t.mu.Unlock()
}

// Flush recounts and publishes every dirty collection.
func (t *Tracker) Flush(ctx context.Context) {
	t.mu.Lock()
	ids := make([]string, 0, len(t.dirty))
	for id := range t.dirty {
		ids = append(ids, id)
	}
	clear(t.dirty)
	t.mu.Unlock()

	slices.Sort(ids)
	for _, id := range ids {
		if err := t.recount(ctx, id); err != nil {
			t.logger.Warn().Err(err).Str("collection_id", id).Msg("failed to recount enrichment progress")
		}
	}
}

func (t *Tracker) recount(ctx context.Context, collectionID string) error {
	p, err := t.store.CountEnrichment(ctx, collectionID)
	if err != nil {
		return err
	}
	p.CollectionID = collectionID
	p.UpdatedAt = t.now().UTC()
	p.ComputePercent()

	t.mu.Lock()
	t.counters[collectionID] = p
	t.mu.Unlock()

	t.publish(p)
	return nil
}

func (t *Tracker) publish(p models.EnrichmentProgress) {
	if t.broadcaster != nil {
		t.broadcaster.BroadcastEnrichmentProgress(p)
	}
}
