// Curator - Media Collection Curation and Library Sync
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/curator

package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/tomtom215/curator/internal/background"
	"github.com/tomtom215/curator/internal/config"
	"github.com/tomtom215/curator/internal/library"
	"github.com/tomtom215/curator/internal/library/librarytest"
	"github.com/tomtom215/curator/internal/models"
	"github.com/tomtom215/curator/internal/queue"
	"github.com/tomtom215/curator/internal/refresh"
	"github.com/tomtom215/curator/internal/retry"
	"github.com/tomtom215/curator/internal/schedule"
	"github.com/tomtom215/curator/internal/store"
)

type refreshCall struct {
	id     string
	reason string
}

type fakeRefresher struct {
	mu    sync.Mutex
	calls []refreshCall
	err   error
}

func (f *fakeRefresher) Refresh(_ context.Context, id, reason string) (*refresh.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, refreshCall{id, reason})
	if f.err != nil {
		return nil, f.err
	}
	return &refresh.Result{CollectionID: id, Run: &models.RefreshRun{CollectionID: id, Reason: reason}}, nil
}

func (f *fakeRefresher) Calls() []refreshCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]refreshCall(nil), f.calls...)
}

type fakeReconciler struct {
	fn func(ctx context.Context, col *models.Collection, client string) *models.SyncResult
}

func (f *fakeReconciler) Reconcile(ctx context.Context, col *models.Collection, client library.Client) *models.SyncResult {
	if f.fn != nil {
		return f.fn(ctx, col, client.ServerID())
	}
	return &models.SyncResult{
		CollectionID:   col.ID,
		CollectionName: col.Name,
		ServerID:       client.ServerID(),
		Status:         models.SyncSuccess,
		Total:          col.ItemCount,
	}
}

type fakeScheduler struct {
	mu          sync.Mutex
	handler     schedule.RefreshFunc
	scheduled   map[string]bool
	due         map[string]bool
	unscheduled []string
}

func newFakeScheduler() *fakeScheduler {
	return &fakeScheduler{scheduled: map[string]bool{}, due: map[string]bool{}}
}

func (f *fakeScheduler) SetRefreshHandler(fn schedule.RefreshFunc) { f.handler = fn }

func (f *fakeScheduler) ScheduleCollection(c *models.Collection) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.scheduled[c.ID] = c.Schedulable()
	return nil
}

func (f *fakeScheduler) UnscheduleCollection(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.scheduled, id)
	f.unscheduled = append(f.unscheduled, id)
}

func (f *fakeScheduler) IsDue(c *models.Collection) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.due[c.ID]
}

func (f *fakeScheduler) GetScheduleStatus() []models.ScheduleEntry { return nil }

type fakeProgress struct {
	mu     sync.Mutex
	totals map[string]int
}

func (f *fakeProgress) Reset(id string, total int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.totals[id] = total
}

func (f *fakeProgress) Remove(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.totals, id)
}

func (f *fakeProgress) Get(id string) (models.EnrichmentProgress, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.totals[id]
	return models.EnrichmentProgress{CollectionID: id, Total: t, Pending: t}, ok
}

func (f *fakeProgress) All() []models.EnrichmentProgress { return nil }

type fakeBroadcaster struct {
	mu        sync.Mutex
	refreshes int
	syncs     int
}

func (f *fakeBroadcaster) BroadcastRefreshCompleted(*models.RefreshRun) {
	f.mu.Lock()
	f.refreshes++
	f.mu.Unlock()
}

func (f *fakeBroadcaster) BroadcastSyncCompleted(*models.SyncResult) {
	f.mu.Lock()
	f.syncs++
	f.mu.Unlock()
}

func (f *fakeBroadcaster) counts() (refreshes, syncs int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.refreshes, f.syncs
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met before deadline")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

type fixture struct {
	svc       *Service
	store     *store.Store
	queue     *queue.Queue
	refresher *fakeRefresher
	recon     *fakeReconciler
	sched     *fakeScheduler
	progress  *fakeProgress
	bcast     *fakeBroadcaster
	runner    *background.Runner
	servers   map[string]*librarytest.Fake
}

func newFixture(t *testing.T, serverIDs ...string) *fixture {
	t.Helper()
	st, err := store.Open(store.Config{InMemory: true}, zerolog.Nop())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	f := &fixture{
		store:     st,
		queue:     queue.New(queue.DefaultConfig(), zerolog.Nop()),
		refresher: &fakeRefresher{},
		recon:     &fakeReconciler{},
		sched:     newFakeScheduler(),
		progress:  &fakeProgress{totals: map[string]int{}},
		bcast:     &fakeBroadcaster{},
		runner:    background.New(zerolog.Nop()),
		servers:   map[string]*librarytest.Fake{},
	}
	var servers []Server
	for _, id := range serverIDs {
		fake := librarytest.New(id)
		f.servers[id] = fake
		servers = append(servers, Server{
			Target: config.ServerTarget{ID: id, Name: "Server " + id, Type: config.ServerTypeJellyfin, URL: "http://" + id},
			Client: fake,
		})
	}
	f.svc = New(Config{ReconcileConcurrency: 2, Jobs: config.JobsConfig{SweepEnabled: true}}, Deps{
		Store:       st,
		Queue:       f.queue,
		Scheduler:   f.sched,
		Refresher:   f.refresher,
		Reconciler:  f.recon,
		Progress:    f.progress,
		Jobs:        f.runner,
		Broadcaster: f.bcast,
		Servers:     servers,
	}, zerolog.Nop())
	return f
}

// seed stores a collection directly with n items.
func (f *fixture) seed(t *testing.T, c *models.Collection, n int) *models.Collection {
	t.Helper()
	ctx := context.Background()
	if err := f.store.CreateCollection(ctx, c); err != nil {
		t.Fatalf("create: %v", err)
	}
	if n > 0 {
		items := make([]*models.CollectionItem, n)
		for i := range items {
			items[i] = &models.CollectionItem{
				Kind:       models.KindMovie,
				Title:      fmt.Sprintf("Title %d", i),
				Enrichment: models.Enrichment{Status: models.EnrichmentPending},
			}
		}
		if err := f.store.ReplaceItems(ctx, c.ID, items, time.Now()); err != nil {
			t.Fatalf("replace items: %v", err)
		}
	}
	got, err := f.store.GetCollection(ctx, c.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	return got
}

func TestNewInstallsScheduleHandler(t *testing.T) {
	f := newFixture(t)
	if f.sched.handler == nil {
		t.Fatal("schedule handler not installed")
	}
	c := f.seed(t, &models.Collection{Name: "Weekly", Source: models.SourceTraktWatchlist, AutoRefresh: true, RefreshIntervalHours: 24}, 0)

	if err := f.sched.handler(context.Background(), c.ID); !errors.Is(err, schedule.ErrNotDue) {
		t.Fatalf("handler on a fresh timer = %v, want ErrNotDue", err)
	}
	f.sched.due[c.ID] = true
	if err := f.sched.handler(context.Background(), c.ID); err != nil {
		t.Fatalf("handler: %v", err)
	}
	calls := f.refresher.Calls()
	if len(calls) != 1 || calls[0].reason != ReasonSchedule {
		t.Errorf("refresh calls = %+v, want one with reason schedule", calls)
	}
}

func TestRegisterJobHandlers(t *testing.T) {
	f := newFixture(t, "a")
	f.svc.RegisterJobHandlers()
	c := f.seed(t, &models.Collection{Name: "Movies", Source: models.SourceTraktWatchlist}, 1)

	if _, err := f.queue.Enqueue(queue.RefreshCollection{CollectionID: c.ID}, queue.PriorityHigh, 1, 0); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if _, err := f.queue.Enqueue(queue.SyncCollection{CollectionID: c.ID, ServerID: "a"}, queue.PriorityLow, 1, 0); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := f.queue.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer f.queue.Stop()
	waitFor(t, func() bool {
		st := f.queue.Stats()
		return st.Completed+st.Failed == 2
	})

	if stats := f.queue.Stats(); stats.Completed != 2 {
		t.Errorf("stats = %+v, want 2 completed", stats)
	}
	if calls := f.refresher.Calls(); len(calls) != 1 || calls[0].reason != ReasonJob {
		t.Errorf("refresh calls = %+v", calls)
	}
	if _, syncs := f.bcast.counts(); syncs != 1 {
		t.Errorf("sync broadcasts = %d, want 1", syncs)
	}
}

func TestRegisterBackgroundJobs(t *testing.T) {
	f := newFixture(t)
	if err := f.svc.RegisterBackgroundJobs(); err != nil {
		t.Fatalf("register: %v", err)
	}
	jobs := f.svc.Jobs()
	want := []string{JobCollectionSweep, JobEnrichmentRecovery, JobLibrarySync}
	if len(jobs) != len(want) {
		t.Fatalf("jobs = %d, want %d", len(jobs), len(want))
	}
	for i, j := range jobs {
		if j.Name != want[i] {
			t.Errorf("job[%d] = %s, want %s", i, j.Name, want[i])
		}
	}
	if !jobs[0].Enabled || jobs[1].Enabled || jobs[2].Enabled {
		t.Errorf("enabled flags = %v %v %v, want only the sweep enabled", jobs[0].Enabled, jobs[1].Enabled, jobs[2].Enabled)
	}

	if err := f.svc.SetJobEnabled(JobLibrarySync, true); err != nil {
		t.Fatalf("enable: %v", err)
	}
	if err := f.svc.SetJobEnabled("nope", true); !errors.Is(err, background.ErrUnknownJob) {
		t.Errorf("unknown job err = %v", err)
	}
}

func TestHandleRefreshJobInProgressIsDone(t *testing.T) {
	f := newFixture(t)
	f.refresher.err = fmt.Errorf("collection x: %w", refresh.ErrInProgress)
	err := f.svc.handleRefreshJob(context.Background(), queue.Job{ID: "j1"}, queue.RefreshCollection{CollectionID: "x"})
	if err != nil {
		t.Errorf("err = %v, want nil", err)
	}
}

func TestHandleSyncJobFailures(t *testing.T) {
	f := newFixture(t, "a")
	c := f.seed(t, &models.Collection{Name: "Movies", Source: models.SourceManual}, 0)

	f.recon.fn = func(_ context.Context, col *models.Collection, server string) *models.SyncResult {
		return &models.SyncResult{CollectionID: col.ID, ServerID: server, Status: models.SyncFailed, Errors: []string{"collection has no items"}}
	}
	err := f.svc.handleSyncJob(context.Background(), queue.Job{ID: "j1"}, queue.SyncCollection{CollectionID: c.ID, ServerID: "a"})
	if !retry.IsPermanent(err) {
		t.Errorf("empty collection err = %v, want permanent", err)
	}

	f.recon.fn = func(_ context.Context, col *models.Collection, server string) *models.SyncResult {
		return &models.SyncResult{CollectionID: col.ID, ServerID: server, Status: models.SyncFailed, Total: 3, Errors: []string{"server down"}}
	}
	err = f.svc.handleSyncJob(context.Background(), queue.Job{ID: "j2"}, queue.SyncCollection{CollectionID: c.ID})
	if err == nil || retry.IsPermanent(err) {
		t.Errorf("server failure err = %v, want retryable", err)
	}

	err = f.svc.handleSyncJob(context.Background(), queue.Job{ID: "j3"}, queue.SyncCollection{CollectionID: c.ID, ServerID: "zz"})
	if !retry.IsPermanent(err) || !errors.Is(err, ErrUnknownServer) {
		t.Errorf("unknown server err = %v", err)
	}
}
