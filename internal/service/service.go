// Curator - Media Collection Curation and Library Sync
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/curator

/*
Package service is the operational surface over the curation core. It owns
no state of its own beyond a per-pair sync guard: collections live in the
store, jobs in the queue, timers in the schedule manager and periodic jobs
in the background runner. The API layer talks only to this package.

Refresh paths:
  - RefreshNow runs a refresh inline (manual trigger)
  - EnqueueRefresh queues a high-priority refresh-collection job
  - RefreshIfDue is the schedule manager's callback, and the hourly sweep
    calls it for every schedulable collection. Both re-check the due rule,
    so a collection fired by both does the work once.

Reconcile paths:
  - Reconcile runs one (collection, server) pair
  - ReconcileCollection runs every server a collection targets
  - ReconcileAll runs every pair with bounded concurrency
*/
package service

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/tomtom215/curator/internal/background"
	"github.com/tomtom215/curator/internal/config"
	"github.com/tomtom215/curator/internal/database"
	"github.com/tomtom215/curator/internal/library"
	"github.com/tomtom215/curator/internal/models"
	"github.com/tomtom215/curator/internal/queue"
	"github.com/tomtom215/curator/internal/refresh"
	"github.com/tomtom215/curator/internal/schedule"
)

var (
	ErrUnknownServer   = errors.New("unknown library server")
	ErrSyncInProgress  = errors.New("sync already in progress for this collection and server")
	ErrNotManual       = errors.New("items can only be set on manual collections")
	ErrNoLibraryServer = errors.New("no library servers configured")
)

// Background job names.
const (
	JobCollectionSweep    = "collection-sweep"
	JobLibrarySync        = "library-sync"
	JobEnrichmentRecovery = "enrichment-recovery"
)

// Refresh reasons recorded in the run log.
const (
	ReasonManual   = "manual"
	ReasonSchedule = "schedule"
	ReasonSweep    = "sweep"
	ReasonJob      = "job"
)

// Store is the collection persistence the service needs.
type Store interface {
	CreateCollection(ctx context.Context, c *models.Collection) error
	GetCollection(ctx context.Context, id string) (*models.Collection, error)
	UpdateCollection(ctx context.Context, id string, mutate func(*models.Collection) error) (*models.Collection, error)
	DeleteCollection(ctx context.Context, id string) error
	ListCollections(ctx context.Context) ([]*models.Collection, error)
	ReplaceItems(ctx context.Context, collectionID string, items []*models.CollectionItem, syncedAt time.Time) error
	ListItems(ctx context.Context, collectionID string) ([]*models.CollectionItem, error)
}

// History reads the run log.
type History interface {
	ListSyncRuns(ctx context.Context, f database.SyncRunFilter) ([]models.SyncResult, error)
	SyncRunSummary(ctx context.Context) ([]database.SyncSummary, error)
	ListRefreshRuns(ctx context.Context, collectionID string, limit int) ([]models.RefreshRun, error)
}

// Refresher runs the refresh pipeline.
type Refresher interface {
	Refresh(ctx context.Context, collectionID, reason string) (*refresh.Result, error)
}

// Reconciler runs the sync engine.
type Reconciler interface {
	Reconcile(ctx context.Context, col *models.Collection, client library.Client) *models.SyncResult
}

// Scheduler is the schedule manager surface.
type Scheduler interface {
	SetRefreshHandler(fn schedule.RefreshFunc)
	ScheduleCollection(c *models.Collection) error
	UnscheduleCollection(id string)
	IsDue(c *models.Collection) bool
	GetScheduleStatus() []models.ScheduleEntry
}

// Queue is the job queue surface.
type Queue interface {
	RegisterHandler(kind queue.Kind, h queue.Handler)
	Enqueue(p queue.Payload, priority queue.Priority, maxAttempts int, delay time.Duration) (string, error)
	Stats() queue.Stats
	List(f queue.Filter) []queue.Job
	Get(id string) (queue.Job, bool)
	Pause()
	Resume()
}

// Progress reads and maintains enrichment counters.
type Progress interface {
	Reset(collectionID string, total int)
	Remove(collectionID string)
	Get(collectionID string) (models.EnrichmentProgress, bool)
	All() []models.EnrichmentProgress
}

// Jobs is the background runner surface.
type Jobs interface {
	Add(job background.Job) error
	SetEnabled(name string, enabled bool) error
	Trigger(name string) error
	Status() []background.Status
}

// Broadcaster publishes completed runs to live clients.
type Broadcaster interface {
	BroadcastRefreshCompleted(run *models.RefreshRun)
	BroadcastSyncCompleted(res *models.SyncResult)
}

// Server is one configured library server.
type Server struct {
	Target config.ServerTarget
	Client library.Client
}

// Config carries the tunables the service applies itself.
type Config struct {
	ReconcileConcurrency int
	EnrichMaxAttempts    int
	Jobs                 config.JobsConfig
	SweepInterval        time.Duration
}

// Deps are the collaborators wired by main. History, Progress, Jobs and
// Broadcaster may be nil.
type Deps struct {
	Store       Store
	History     History
	Queue       Queue
	Scheduler   Scheduler
	Refresher   Refresher
	Reconciler  Reconciler
	Enricher    queue.Handler
	Progress    Progress
	Jobs        Jobs
	Broadcaster Broadcaster
	Servers     []Server
}

// Service is safe for concurrent use.
type Service struct {
	cfg    Config
	deps   Deps
	logger zerolog.Logger

	servers map[string]Server
	order   []string
	now     func() time.Time

	mu      sync.Mutex
	syncing map[string]struct{}
}

// New wires the service and installs the schedule manager's refresh
// handler.
//
//nolint:gocritic // hugeParam: zerolog.Logger is designed to be passed by value
func New(cfg Config, deps Deps, logger zerolog.Logger) *Service {
	if cfg.ReconcileConcurrency <= 0 {
		cfg.ReconcileConcurrency = 2
	}
	s := &Service{
		cfg:     cfg,
		deps:    deps,
		logger:  logger.With().Str("component", "service").Logger(),
		servers: make(map[string]Server, len(deps.Servers)),
		syncing: make(map[string]struct{}),
		now:     time.Now,
	}
	for _, srv := range deps.Servers {
		id := srv.Client.ServerID()
		s.servers[id] = srv
		s.order = append(s.order, id)
	}
	slices.Sort(s.order)

	if deps.Scheduler != nil {
		deps.Scheduler.SetRefreshHandler(func(ctx context.Context, id string) error {
			return s.refreshIfDue(ctx, id, ReasonSchedule)
		})
	}
	return s
}

// ServerIDs returns configured server ids in sorted order.
func (s *Service) ServerIDs() []string {
	return slices.Clone(s.order)
}

// RegisterJobHandlers installs handlers for every job kind.
func (s *Service) RegisterJobHandlers() {
	q := s.deps.Queue
	if s.deps.Enricher != nil {
		q.RegisterHandler(queue.KindEnrichItem, s.deps.Enricher)
	}
	q.RegisterHandler(queue.KindRefreshCollection, queue.OnRefreshCollection(s.handleRefreshJob))
	q.RegisterHandler(queue.KindSyncCollection, queue.OnSyncCollection(s.handleSyncJob))
}

// RegisterBackgroundJobs adds the named periodic jobs to the runner with
// their configured enabled state.
func (s *Service) RegisterBackgroundJobs() error {
	if s.deps.Jobs == nil {
		return nil
	}
	sweep := s.cfg.SweepInterval
	if sweep <= 0 {
		sweep = time.Hour
	}
	jobs := []background.Job{
		{
			Name:     JobCollectionSweep,
			Interval: sweep,
			Enabled:  s.cfg.Jobs.SweepEnabled,
			Run:      s.sweep,
		},
		{
			Name:     JobLibrarySync,
			Interval: orDefault(s.cfg.Jobs.LibrarySyncInterval, 6*time.Hour),
			Enabled:  s.cfg.Jobs.LibrarySyncEnabled,
			Run: func(ctx context.Context) error {
				_, err := s.ReconcileAll(ctx)
				return err
			},
		},
		{
			Name:       JobEnrichmentRecovery,
			Interval:   orDefault(s.cfg.Jobs.EnrichRecoveryInterval, 30*time.Minute),
			Enabled:    s.cfg.Jobs.EnrichRecoveryEnabled,
			RunOnStart: s.cfg.Jobs.EnrichRecoveryEnabled,
			Run: func(ctx context.Context) error {
				_, err := s.RecoverEnrichment(ctx)
				return err
			},
		},
	}
	for _, j := range jobs {
		if err := s.deps.Jobs.Add(j); err != nil {
			return fmt.Errorf("register background job %s: %w", j.Name, err)
		}
	}
	return nil
}

func orDefault(d, def time.Duration) time.Duration {
	if d <= 0 {
		return def
	}
	return d
}
