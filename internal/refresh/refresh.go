// Curator - Media Collection Curation and Library Sync
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/curator

/*
Package refresh pulls a collection's list from its provider and replaces the
stored item snapshot.

A refresh runs these steps in order:
 1. reject manual collections
 2. list the provider items (the provider client retries transient failures)
 3. drop duplicates, keeping the first item per identifier and namespace
 4. replace the stored items and set LastSyncAt in one transaction
 5. reset the collection's enrichment progress
 6. enqueue one enrich-item job per stored item at normal priority
 7. optionally enqueue low-priority sync jobs for each target server
 8. append a row to the refresh run log

Only one refresh per collection runs at a time; a second caller gets
ErrInProgress.
*/
package refresh

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/tomtom215/curator/internal/metrics"
	"github.com/tomtom215/curator/internal/models"
	"github.com/tomtom215/curator/internal/provider"
	"github.com/tomtom215/curator/internal/queue"
	"github.com/tomtom215/curator/internal/retry"
)

var (
	ErrManualCollection = errors.New("manual collections are not refreshed from a provider")
	ErrInProgress       = errors.New("refresh already in progress")
)

// Store is the persistence the pipeline needs.
type Store interface {
	GetCollection(ctx context.Context, id string) (*models.Collection, error)
	ReplaceItems(ctx context.Context, collectionID string, items []*models.CollectionItem, syncedAt time.Time) error
}

// Enqueuer accepts follow-up jobs.
type Enqueuer interface {
	Enqueue(p queue.Payload, priority queue.Priority, maxAttempts int, delay time.Duration) (string, error)
}

// RunLog records refresh runs.
type RunLog interface {
	InsertRefreshRun(ctx context.Context, r *models.RefreshRun) error
}

// ProgressResetter is told the new item total after each refresh.
type ProgressResetter interface {
	Reset(collectionID string, total int)
}

// Config tunes the pipeline.
type Config struct {
	// EnrichMaxAttempts is passed to each enrich-item job; 0 uses the
	// queue default.
	EnrichMaxAttempts int
	// AutoSync enqueues sync jobs after a successful refresh.
	AutoSync bool
	// ServerIDs are the configured library servers, used to resolve
	// collections that target every server.
	ServerIDs []string
}

// Result summarizes one refresh.
type Result struct {
	CollectionID string             `json:"collection_id"`
	Fetched      int                `json:"fetched"`
	Stored       int                `json:"stored"`
	Duplicates   int                `json:"duplicates"`
	Enqueued     int                `json:"enqueued"`
	SyncJobs     int                `json:"sync_jobs"`
	Run          *models.RefreshRun `json:"run"`
}

// Pipeline runs refreshes.
type Pipeline struct {
	cfg      Config
	store    Store
	provider provider.ListProvider
	queue    Enqueuer
	runs     RunLog
	progress ProgressResetter
	logger   zerolog.Logger
	now      func() time.Time

	mu       sync.Mutex
	inFlight map[string]struct{}
}

// New builds a pipeline. runs and progress may be nil.
//
//nolint:gocritic // hugeParam: zerolog.Logger is designed to be passed by value
func New(cfg Config, st Store, lp provider.ListProvider, q Enqueuer, runs RunLog, progress ProgressResetter, logger zerolog.Logger) *Pipeline {
	return &Pipeline{
		cfg:      cfg,
		store:    st,
		provider: lp,
		queue:    q,
		runs:     runs,
		progress: progress,
		logger:   logger.With().Str("component", "refresh").Logger(),
		now:      time.Now,
		inFlight: make(map[string]struct{}),
	}
}

// Refresh runs the pipeline for one collection. reason is recorded in the
// run log ("manual", "schedule", "sweep", "job").
func (p *Pipeline) Refresh(ctx context.Context, collectionID, reason string) (*Result, error) {
	if !p.acquire(collectionID) {
		return nil, fmt.Errorf("collection %s: %w", collectionID, ErrInProgress)
	}
	defer p.release(collectionID)

	start := p.now()
	run := &models.RefreshRun{CollectionID: collectionID, Reason: reason, StartedAt: start}
	res, err := p.refresh(ctx, collectionID, run)
	run.Duration = p.now().Sub(start)
	if err != nil {
		run.Error = err.Error()
	}

	// Manual collections never reach the provider and are not logged.
	if !errors.Is(err, ErrManualCollection) {
		metrics.RecordRefresh(run.Duration, run.Duplicates, err)
		p.writeRun(ctx, run)
	}

	log := p.logger.With().Str("collection_id", collectionID).Str("reason", reason).Logger()
	if err != nil {
		log.Error().Err(err).Dur("duration", run.Duration).Msg("refresh failed")
		return nil, err
	}
	res.Run = run
	log.Info().
		Int("fetched", res.Fetched).
		Int("stored", res.Stored).
		Int("duplicates", res.Duplicates).
		Int("enqueued", res.Enqueued).
		Int("sync_jobs", res.SyncJobs).
		Dur("duration", run.Duration).
		Msg("collection refreshed")
	return res, nil
}

func (p *Pipeline) refresh(ctx context.Context, collectionID string, run *models.RefreshRun) (*Result, error) {
	col, err := p.store.GetCollection(ctx, collectionID)
	if err != nil {
		return nil, fmt.Errorf("load collection: %w", err)
	}
	if col.IsManual() {
		return nil, retry.Permanent("refresh "+col.Name, ErrManualCollection)
	}

	raw, err := p.provider.ListItems(ctx, col.ListRef())
	if err != nil {
		return nil, fmt.Errorf("list %q: %w", col.ListRef(), err)
	}
	kept, dropped := Dedupe(raw)
	run.Fetched, run.Duplicates = len(raw), dropped

	items := make([]*models.CollectionItem, 0, len(kept))
	for _, li := range kept {
		items = append(items, &models.CollectionItem{
			Kind:        li.Kind,
			Title:       li.Title,
			Year:        li.Year,
			Identifiers: li.Identifiers,
			PosterRef:   li.PosterRef,
			Enrichment:  models.Enrichment{Status: models.EnrichmentPending},
		})
	}
	if err := p.store.ReplaceItems(ctx, col.ID, items, p.now()); err != nil {
		return nil, fmt.Errorf("replace items: %w", err)
	}
	run.Stored = len(items)

	if p.progress != nil {
		p.progress.Reset(col.ID, len(items))
	}

	res := &Result{CollectionID: col.ID, Fetched: len(raw), Stored: len(items), Duplicates: dropped}
	for _, it := range items {
		_, err := p.queue.Enqueue(queue.EnrichItem{CollectionID: col.ID, ItemID: it.ID}, queue.PriorityNormal, p.cfg.EnrichMaxAttempts, 0)
		if err != nil {
			return nil, fmt.Errorf("enqueue enrichment: %w", err)
		}
		res.Enqueued++
	}
	run.Enqueued = res.Enqueued

	if p.cfg.AutoSync && len(items) > 0 {
		for _, serverID := range p.cfg.ServerIDs {
			if !col.TargetsServer(serverID) {
				continue
			}
			if _, err := p.queue.Enqueue(queue.SyncCollection{CollectionID: col.ID, ServerID: serverID}, queue.PriorityLow, 0, 0); err != nil {
				return nil, fmt.Errorf("enqueue sync: %w", err)
			}
			res.SyncJobs++
		}
	}
	return res, nil
}

func (p *Pipeline) writeRun(ctx context.Context, run *models.RefreshRun) {
	if p.runs == nil {
		return
	}
	// The run log must be written even when the refresh ctx was canceled.
	if err := p.runs.InsertRefreshRun(context.WithoutCancel(ctx), run); err != nil {
		p.logger.Warn().Err(err).Str("collection_id", run.CollectionID).Msg("failed to record refresh run")
	}
}

func (p *Pipeline) acquire(id string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, busy := p.inFlight[id]; busy {
		return false
	}
	p.inFlight[id] = struct{}{}
	return true
}

func (p *Pipeline) release(id string) {
	p.mu.Lock()
	delete(p.inFlight, id)
	p.mu.Unlock()
}

// Dedupe keeps the first item for every non-empty identifier in each
// namespace. An item sharing any identifier with an earlier kept item is
// dropped. Items without identifiers are always kept.
func Dedupe(items []provider.ListItem) (kept []provider.ListItem, dropped int) {
	seen := make(map[models.Namespace]map[string]struct{}, len(models.AllNamespaces))
	for _, ns := range models.AllNamespaces {
		seen[ns] = make(map[string]struct{})
	}

	kept = make([]provider.ListItem, 0, len(items))
	for _, it := range items {
		dup := false
		for _, ns := range models.AllNamespaces {
			if v := it.Identifiers.Get(ns); v != "" {
				if _, ok := seen[ns][v]; ok {
					dup = true
					break
				}
			}
		}
		if dup {
			dropped++
			continue
		}
		for _, ns := range models.AllNamespaces {
			if v := it.Identifiers.Get(ns); v != "" {
				seen[ns][v] = struct{}{}
			}
		}
		kept = append(kept, it)
	}
	return kept, dropped
}
