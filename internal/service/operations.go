// Curator - Media Collection Curation and Library Sync
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/curator

package service

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/sourcegraph/conc/pool"

	"github.com/tomtom215/curator/internal/models"
	"github.com/tomtom215/curator/internal/queue"
	"github.com/tomtom215/curator/internal/refresh"
	"github.com/tomtom215/curator/internal/retry"
	"github.com/tomtom215/curator/internal/schedule"
)

// RefreshNow runs a manual refresh inline.
func (s *Service) RefreshNow(ctx context.Context, id string) (*refresh.Result, error) {
	return s.refresh(ctx, id, ReasonManual)
}

// EnqueueRefresh queues a high-priority refresh job and returns its id.
func (s *Service) EnqueueRefresh(ctx context.Context, id, reason string) (string, error) {
	c, err := s.deps.Store.GetCollection(ctx, id)
	if err != nil {
		return "", err
	}
	if c.IsManual() {
		return "", retry.Permanent("refresh "+c.Name, refresh.ErrManualCollection)
	}
	if reason == "" {
		reason = ReasonJob
	}
	return s.deps.Queue.Enqueue(queue.RefreshCollection{CollectionID: id, Reason: reason}, queue.PriorityHigh, 0, 0)
}

// RefreshIfDue refreshes the collection only when the due rule says so and
// returns schedule.ErrNotDue otherwise.
func (s *Service) RefreshIfDue(ctx context.Context, id string) error {
	return s.refreshIfDue(ctx, id, ReasonSchedule)
}

func (s *Service) refreshIfDue(ctx context.Context, id, reason string) error {
	c, err := s.deps.Store.GetCollection(ctx, id)
	if err != nil {
		return err
	}
	if s.deps.Scheduler != nil && !s.deps.Scheduler.IsDue(c) {
		return schedule.ErrNotDue
	}
	_, err = s.refresh(ctx, id, reason)
	return err
}

func (s *Service) refresh(ctx context.Context, id, reason string) (*refresh.Result, error) {
	res, err := s.deps.Refresher.Refresh(ctx, id, reason)
	if err != nil {
		return nil, err
	}
	if s.deps.Broadcaster != nil && res.Run != nil {
		s.deps.Broadcaster.BroadcastRefreshCompleted(res.Run)
	}
	return res, nil
}

func (s *Service) handleRefreshJob(ctx context.Context, job queue.Job, p queue.RefreshCollection) error {
	reason := p.Reason
	if reason == "" {
		reason = ReasonJob
	}
	_, err := s.refresh(ctx, p.CollectionID, reason)
	if errors.Is(err, refresh.ErrInProgress) {
		s.logger.Debug().Str("job_id", job.ID).Str("collection_id", p.CollectionID).Msg("refresh already running, job satisfied")
		return nil
	}
	return err
}

// Reconcile syncs one collection to one library server.
func (s *Service) Reconcile(ctx context.Context, collectionID, serverID string) (*models.SyncResult, error) {
	srv, ok := s.servers[serverID]
	if !ok {
		return nil, fmt.Errorf("%s: %w", serverID, ErrUnknownServer)
	}
	c, err := s.deps.Store.GetCollection(ctx, collectionID)
	if err != nil {
		return nil, err
	}
	return s.reconcilePair(ctx, c, srv)
}

// ReconcileCollection syncs a collection to every server it targets,
// bounded by the configured concurrency. Results are sorted by server id.
// A pair already being synced is skipped.
func (s *Service) ReconcileCollection(ctx context.Context, collectionID string) ([]*models.SyncResult, error) {
	c, err := s.deps.Store.GetCollection(ctx, collectionID)
	if err != nil {
		return nil, err
	}
	if len(s.order) == 0 {
		return nil, ErrNoLibraryServer
	}
	return s.reconcileMany(ctx, []*models.Collection{c}), nil
}

// ReconcileAll syncs every collection with items to every server it
// targets. Results are sorted by collection name, then server id.
func (s *Service) ReconcileAll(ctx context.Context) ([]*models.SyncResult, error) {
	cols, err := s.deps.Store.ListCollections(ctx)
	if err != nil {
		return nil, err
	}
	withItems := cols[:0]
	for _, c := range cols {
		if c.ItemCount > 0 {
			withItems = append(withItems, c)
		}
	}
	results := s.reconcileMany(ctx, withItems)
	s.logger.Info().Int("collections", len(withItems)).Int("runs", len(results)).Msg("library sync finished")
	return results, nil
}

func (s *Service) reconcileMany(ctx context.Context, cols []*models.Collection) []*models.SyncResult {
	p := pool.NewWithResults[*models.SyncResult]().WithMaxGoroutines(s.cfg.ReconcileConcurrency)
	for _, c := range cols {
		for _, id := range s.order {
			if !c.TargetsServer(id) {
				continue
			}
			srv := s.servers[id]
			p.Go(func() *models.SyncResult {
				if ctx.Err() != nil {
					return nil
				}
				res, err := s.reconcilePair(ctx, c, srv)
				if err != nil {
					s.logger.Info().Err(err).Str("collection_id", c.ID).Str("server_id", id).Msg("sync skipped")
					return nil
				}
				return res
			})
		}
	}

	results := slices.DeleteFunc(p.Wait(), func(r *models.SyncResult) bool { return r == nil })
	slices.SortFunc(results, func(a, b *models.SyncResult) int {
		return cmp.Or(
			cmp.Compare(a.CollectionName, b.CollectionName),
			cmp.Compare(a.CollectionID, b.CollectionID),
			cmp.Compare(a.ServerID, b.ServerID),
		)
	})
	return results
}

func (s *Service) reconcilePair(ctx context.Context, c *models.Collection, srv Server) (*models.SyncResult, error) {
	serverID := srv.Target.ID
	if serverID == "" {
		serverID = srv.Client.ServerID()
	}
	key := c.ID + "/" + serverID
	if !s.acquire(key) {
		return nil, fmt.Errorf("%s: %w", key, ErrSyncInProgress)
	}
	defer s.release(key)

	res := s.deps.Reconciler.Reconcile(ctx, c, srv.Client)
	if s.deps.Broadcaster != nil {
		s.deps.Broadcaster.BroadcastSyncCompleted(res)
	}
	return res, nil
}

func (s *Service) handleSyncJob(ctx context.Context, job queue.Job, p queue.SyncCollection) error {
	var results []*models.SyncResult
	if p.ServerID == "" {
		rs, err := s.ReconcileCollection(ctx, p.CollectionID)
		if err != nil {
			return err
		}
		results = rs
	} else {
		res, err := s.Reconcile(ctx, p.CollectionID, p.ServerID)
		switch {
		case errors.Is(err, ErrSyncInProgress):
			s.logger.Debug().Str("job_id", job.ID).Msg("sync already running, job satisfied")
			return nil
		case errors.Is(err, ErrUnknownServer):
			return retry.Permanent("sync", err)
		case err != nil:
			return err
		}
		results = []*models.SyncResult{res}
	}

	for _, r := range results {
		if r.Status != models.SyncFailed {
			continue
		}
		msg := "sync failed"
		if len(r.Errors) > 0 {
			msg = r.Errors[0]
		}
		err := fmt.Errorf("sync %s to %s: %s", r.CollectionID, r.ServerID, msg)
		if r.Total == 0 {
			return retry.Permanent("sync", err)
		}
		return err
	}
	return nil
}

// sweep is the hourly safety net behind the per-collection timers.
func (s *Service) sweep(ctx context.Context) error {
	cols, err := s.deps.Store.ListCollections(ctx)
	if err != nil {
		return err
	}
	var errs []error
	refreshed := 0
	for _, c := range cols {
		if ctx.Err() != nil {
			break
		}
		if !c.Schedulable() {
			continue
		}
		err := s.refreshIfDue(ctx, c.ID, ReasonSweep)
		switch {
		case err == nil:
			refreshed++
		case errors.Is(err, schedule.ErrNotDue), errors.Is(err, refresh.ErrInProgress):
		default:
			errs = append(errs, fmt.Errorf("%s: %w", c.Name, err))
		}
	}
	s.logger.Info().Int("collections", len(cols)).Int("refreshed", refreshed).Int("errors", len(errs)).Msg("collection sweep finished")
	return errors.Join(errs...)
}

// RecoverEnrichment re-queues pending items that have no pending or
// running enrich job, which is the state left behind by a restart.
func (s *Service) RecoverEnrichment(ctx context.Context) (int, error) {
	queued := make(map[string]struct{})
	for _, j := range s.deps.Queue.List(queue.Filter{Kind: queue.KindEnrichItem}) {
		if j.Status != queue.StatusPending && j.Status != queue.StatusRunning {
			continue
		}
		if p, ok := j.Payload.(queue.EnrichItem); ok {
			queued[p.ItemID] = struct{}{}
		}
	}

	cols, err := s.deps.Store.ListCollections(ctx)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, c := range cols {
		items, err := s.deps.Store.ListItems(ctx, c.ID)
		if err != nil {
			return n, err
		}
		for _, it := range items {
			if it.Enrichment.Status != models.EnrichmentPending {
				continue
			}
			if _, ok := queued[it.ID]; ok {
				continue
			}
			if _, err := s.deps.Queue.Enqueue(queue.EnrichItem{CollectionID: c.ID, ItemID: it.ID}, queue.PriorityLow, s.cfg.EnrichMaxAttempts, 0); err != nil {
				return n, fmt.Errorf("enqueue enrichment: %w", err)
			}
			n++
		}
	}
	if n > 0 {
		s.logger.Info().Int("requeued", n).Msg("recovered pending enrichment")
	}
	return n, nil
}

func (s *Service) acquire(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, busy := s.syncing[key]; busy {
		return false
	}
	s.syncing[key] = struct{}{}
	return true
}

func (s *Service) release(key string) {
	s.mu.Lock()
	delete(s.syncing, key)
	s.mu.Unlock()
}
