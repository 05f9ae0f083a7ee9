// Curator - Media Collection Curation and Library Sync
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/curator

package service

import (
	"context"
	"errors"
	"slices"
	"strings"
	"time"

	"github.com/sourcegraph/conc/pool"

	"github.com/tomtom215/curator/internal/background"
	"github.com/tomtom215/curator/internal/database"
	"github.com/tomtom215/curator/internal/models"
	"github.com/tomtom215/curator/internal/queue"
)

// pingTimeout bounds each server reachability probe.
const pingTimeout = 5 * time.Second

// ErrUnavailable is returned when an optional collaborator was not wired.
var ErrUnavailable = errors.New("feature not available")

func (s *Service) QueueStats() queue.Stats {
	return s.deps.Queue.Stats()
}

func (s *Service) ListJobs(f queue.Filter) []queue.Job {
	return s.deps.Queue.List(f)
}

func (s *Service) GetJob(id string) (queue.Job, bool) {
	return s.deps.Queue.Get(id)
}

func (s *Service) PauseQueue() {
	s.deps.Queue.Pause()
	s.logger.Info().Msg("queue paused")
}

func (s *Service) ResumeQueue() {
	s.deps.Queue.Resume()
	s.logger.Info().Msg("queue resumed")
}

func (s *Service) ScheduleStatus() []models.ScheduleEntry {
	if s.deps.Scheduler == nil {
		return nil
	}
	return s.deps.Scheduler.GetScheduleStatus()
}

// Jobs reports the periodic jobs sorted by name.
func (s *Service) Jobs() []background.Status {
	if s.deps.Jobs == nil {
		return nil
	}
	return s.deps.Jobs.Status()
}

func (s *Service) SetJobEnabled(name string, enabled bool) error {
	if s.deps.Jobs == nil {
		return ErrUnavailable
	}
	if err := s.deps.Jobs.SetEnabled(name, enabled); err != nil {
		return err
	}
	s.logger.Info().Str("job", name).Bool("enabled", enabled).Msg("background job toggled")
	return nil
}

func (s *Service) TriggerJob(name string) error {
	if s.deps.Jobs == nil {
		return ErrUnavailable
	}
	return s.deps.Jobs.Trigger(name)
}

// Progress returns the enrichment counters for one collection.
func (s *Service) Progress(ctx context.Context, id string) (models.EnrichmentProgress, error) {
	if _, err := s.deps.Store.GetCollection(ctx, id); err != nil {
		return models.EnrichmentProgress{}, err
	}
	if s.deps.Progress == nil {
		return models.EnrichmentProgress{}, ErrUnavailable
	}
	p, ok := s.deps.Progress.Get(id)
	if !ok {
		p = models.EnrichmentProgress{CollectionID: id}
	}
	return p, nil
}

func (s *Service) AllProgress() []models.EnrichmentProgress {
	if s.deps.Progress == nil {
		return nil
	}
	return s.deps.Progress.All()
}

func (s *Service) SyncHistory(ctx context.Context, f database.SyncRunFilter) ([]models.SyncResult, error) {
	if s.deps.History == nil {
		return nil, ErrUnavailable
	}
	return s.deps.History.ListSyncRuns(ctx, f)
}

func (s *Service) SyncSummary(ctx context.Context) ([]database.SyncSummary, error) {
	if s.deps.History == nil {
		return nil, ErrUnavailable
	}
	return s.deps.History.SyncRunSummary(ctx)
}

func (s *Service) RefreshHistory(ctx context.Context, collectionID string, limit int) ([]models.RefreshRun, error) {
	if s.deps.History == nil {
		return nil, ErrUnavailable
	}
	return s.deps.History.ListRefreshRuns(ctx, collectionID, limit)
}

type breakerReporter interface {
	BreakerState() string
}

// Servers probes every configured library server concurrently.
func (s *Service) Servers(ctx context.Context) []models.ServerStatus {
	p := pool.NewWithResults[models.ServerStatus]().WithMaxGoroutines(4)
	for _, id := range s.order {
		srv := s.servers[id]
		p.Go(func() models.ServerStatus {
			st := models.ServerStatus{
				ID:   id,
				Name: srv.Target.Name,
				Type: srv.Target.Type,
				URL:  srv.Target.URL,
			}
			if br, ok := srv.Client.(breakerReporter); ok {
				st.Breaker = br.BreakerState()
			}
			pctx, cancel := context.WithTimeout(ctx, pingTimeout)
			defer cancel()
			if err := srv.Client.Ping(pctx); err != nil {
				st.Error = err.Error()
			} else {
				st.Reachable = true
			}
			return st
		})
	}
	out := p.Wait()
	slices.SortFunc(out, func(a, b models.ServerStatus) int { return strings.Compare(a.ID, b.ID) })
	return out
}
