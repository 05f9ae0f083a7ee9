// Curator - Media Collection Curation and Library Sync
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/curator

package refresh

import (
	"context"
	"errors"
	"runtime"
	"sync"
	"testing"

	"github.com/rs/zerolog"

	"github.com/tomtom215/curator/internal/models"
	"github.com/tomtom215/curator/internal/provider"
	"github.com/tomtom215/curator/internal/queue"
	"github.com/tomtom215/curator/internal/store"
)

type fakeProvider struct {
	items []provider.ListItem
	err   error
	block chan struct{}
	refs  []string
}

func (f *fakeProvider) ListItems(_ context.Context, ref string) ([]provider.ListItem, error) {
	f.refs = append(f.refs, ref)
	if f.block != nil {
		<-f.block
	}
	return f.items, f.err
}

type fakeRuns struct {
	mu   sync.Mutex
	runs []models.RefreshRun
}

func (f *fakeRuns) InsertRefreshRun(_ context.Context, r *models.RefreshRun) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.runs = append(f.runs, *r)
	return nil
}

type fakeProgress struct {
	totals map[string]int
}

func (f *fakeProgress) Reset(id string, total int) { f.totals[id] = total }

type fixture struct {
	store    *store.Store
	queue    *queue.Queue
	provider *fakeProvider
	runs     *fakeRuns
	progress *fakeProgress
	pipeline *Pipeline
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()
	st, err := store.Open(store.Config{InMemory: true}, zerolog.Nop())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	f := &fixture{
		store:    st,
		queue:    queue.New(queue.DefaultConfig(), zerolog.Nop()),
		provider: &fakeProvider{},
		runs:     &fakeRuns{},
		progress: &fakeProgress{totals: map[string]int{}},
	}
	f.pipeline = New(cfg, st, f.provider, f.queue, f.runs, f.progress, zerolog.Nop())
	return f
}

func (f *fixture) collection(t *testing.T, c *models.Collection) *models.Collection {
	t.Helper()
	if err := f.store.CreateCollection(context.Background(), c); err != nil {
		t.Fatalf("create collection: %v", err)
	}
	return c
}

func TestDedupe(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		in          []provider.ListItem
		wantTitles  []string
		wantDropped int
	}{
		{
			name: "same imdb keeps first",
			in: []provider.ListItem{
				{Title: "A", Identifiers: models.Identifiers{IMDB: "tt1"}},
				{Title: "A again", Identifiers: models.Identifiers{IMDB: "tt1"}},
				{Title: "B", Identifiers: models.Identifiers{TMDB: "42"}},
			},
			wantTitles:  []string{"A", "B"},
			wantDropped: 1,
		},
		{
			name: "overlap in any namespace",
			in: []provider.ListItem{
				{Title: "A", Identifiers: models.Identifiers{IMDB: "tt1", TMDB: "1"}},
				{Title: "B", Identifiers: models.Identifiers{IMDB: "tt2", TMDB: "1"}},
				{Title: "C", Identifiers: models.Identifiers{TVDB: "1"}},
			},
			wantTitles:  []string{"A", "C"},
			wantDropped: 1,
		},
		{
			name: "no identifiers are kept",
			in: []provider.ListItem{
				{Title: "X"},
				{Title: "X"},
			},
			wantTitles: []string{"X", "X"},
		},
		{
			name: "same value in different namespaces is not a duplicate",
			in: []provider.ListItem{
				{Title: "A", Identifiers: models.Identifiers{TMDB: "100"}},
				{Title: "B", Identifiers: models.Identifiers{TVDB: "100"}},
			},
			wantTitles: []string{"A", "B"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			kept, dropped := Dedupe(tt.in)
			if dropped != tt.wantDropped {
				t.Errorf("dropped = %d, want %d", dropped, tt.wantDropped)
			}
			if len(kept) != len(tt.wantTitles) {
				t.Fatalf("kept %d, want %d", len(kept), len(tt.wantTitles))
			}
			for i, it := range kept {
				if it.Title != tt.wantTitles[i] {
					t.Errorf("kept[%d] = %q, want %q", i, it.Title, tt.wantTitles[i])
				}
			}
		})
	}
}

func TestRefreshReplacesAndEnqueues(t *testing.T) {
	t.Parallel()

	f := newFixture(t, Config{AutoSync: true, ServerIDs: []string{"jf", "plex"}})
	col := f.collection(t, &models.Collection{
		Name: "Favorites", Source: models.SourceTraktList, SourceRef: "alice/favs", Targets: []string{"jf"},
	})
	f.provider.items = []provider.ListItem{
		{Kind: models.KindMovie, Title: "A", Identifiers: models.Identifiers{IMDB: "tt1"}},
		{Kind: models.KindMovie, Title: "A", Identifiers: models.Identifiers{IMDB: "tt1"}},
		{Kind: models.KindMovie, Title: "B", Identifiers: models.Identifiers{TMDB: "42"}},
	}

	ctx := context.Background()
	res, err := f.pipeline.Refresh(ctx, col.ID, "manual")
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if res.Fetched != 3 || res.Stored != 2 || res.Duplicates != 1 || res.Enqueued != 2 || res.SyncJobs != 1 {
		t.Errorf("result = %+v", res)
	}
	if f.provider.refs[0] != "alice/favs" {
		t.Errorf("list ref = %q", f.provider.refs[0])
	}

	items, err := f.store.ListItems(ctx, col.ID)
	if err != nil || len(items) != 2 {
		t.Fatalf("ListItems = %d, %v", len(items), err)
	}
	for _, it := range items {
		if it.Enrichment.Status != models.EnrichmentPending {
			t.Errorf("%s status = %s", it.Title, it.Enrichment.Status)
		}
	}
	got, _ := f.store.GetCollection(ctx, col.ID)
	if got.LastSyncAt == nil || got.ItemCount != 2 {
		t.Errorf("collection after refresh = %+v", got)
	}

	enrich := f.queue.List(queue.Filter{Kind: queue.KindEnrichItem})
	if len(enrich) != 2 || enrich[0].Priority != queue.PriorityNormal {
		t.Fatalf("enrich jobs = %+v", enrich)
	}
	if p := enrich[0].Payload.(queue.EnrichItem); p.ItemID != items[0].ID {
		t.Errorf("first enrich job item = %s, want %s", p.ItemID, items[0].ID)
	}
	syncJobs := f.queue.List(queue.Filter{Kind: queue.KindSyncCollection})
	if len(syncJobs) != 1 || syncJobs[0].Priority != queue.PriorityLow ||
		syncJobs[0].Payload.(queue.SyncCollection).ServerID != "jf" {
		t.Errorf("sync jobs = %+v", syncJobs)
	}

	if f.progress.totals[col.ID] != 2 {
		t.Errorf("progress total = %d", f.progress.totals[col.ID])
	}
	if len(f.runs.runs) != 1 || f.runs.runs[0].Reason != "manual" || f.runs.runs[0].Duplicates != 1 || f.runs.runs[0].Error != "" {
		t.Errorf("runs = %+v", f.runs.runs)
	}
}

func TestRefreshRejectsManual(t *testing.T) {
	t.Parallel()

	f := newFixture(t, Config{})
	col := f.collection(t, &models.Collection{Name: "Mine", Source: models.SourceManual})

	_, err := f.pipeline.Refresh(context.Background(), col.ID, "manual")
	if !errors.Is(err, ErrManualCollection) {
		t.Fatalf("err = %v, want ErrManualCollection", err)
	}
	if len(f.provider.refs) != 0 || len(f.runs.runs) != 0 {
		t.Error("manual collection should not reach the provider or the run log")
	}
}

func TestRefreshProviderErrorKeepsSnapshot(t *testing.T) {
	t.Parallel()

	f := newFixture(t, Config{})
	col := f.collection(t, &models.Collection{Name: "W", Source: models.SourceTraktWatchlist})
	ctx := context.Background()
	if err := f.store.ReplaceItems(ctx, col.ID, []*models.CollectionItem{{Title: "Old"}}, testTime()); err != nil {
		t.Fatal(err)
	}

	f.provider.err = errors.New("provider down")
	if _, err := f.pipeline.Refresh(ctx, col.ID, "schedule"); err == nil {
		t.Fatal("want error")
	}
	if f.provider.refs[0] != "watchlist" {
		t.Errorf("list ref = %q", f.provider.refs[0])
	}
	items, _ := f.store.ListItems(ctx, col.ID)
	if len(items) != 1 || items[0].Title != "Old" {
		t.Errorf("snapshot changed: %+v", items)
	}
	if len(f.runs.runs) != 1 || f.runs.runs[0].Error == "" {
		t.Errorf("failed run should be logged: %+v", f.runs.runs)
	}
	if n := len(f.queue.List(queue.Filter{})); n != 0 {
		t.Errorf("jobs enqueued = %d, want 0", n)
	}
}

func TestRefreshUnknownCollection(t *testing.T) {
	t.Parallel()

	f := newFixture(t, Config{})
	_, err := f.pipeline.Refresh(context.Background(), "nope", "manual")
	if !errors.Is(err, store.ErrNotFound) {
		t.Errorf("err = %v, want store.ErrNotFound", err)
	}
}

func TestRefreshSingleFlight(t *testing.T) {
	t.Parallel()

	f := newFixture(t, Config{})
	col := f.collection(t, &models.Collection{Name: "L", Source: models.SourceTraktList, SourceRef: "1"})
	f.provider.block = make(chan struct{})

	done := make(chan error, 1)
	go func() {
		_, err := f.pipeline.Refresh(context.Background(), col.ID, "schedule")
		done <- err
	}()

	// Wait until the first refresh holds the slot.
	for !f.pipeline.busy(col.ID) {
		runtime.Gosched()
	}
	if _, err := f.pipeline.Refresh(context.Background(), col.ID, "sweep"); !errors.Is(err, ErrInProgress) {
		t.Errorf("second refresh err = %v, want ErrInProgress", err)
	}
	close(f.provider.block)
	if err := <-done; err != nil {
		t.Errorf("first refresh: %v", err)
	}
	if f.pipeline.busy(col.ID) {
		t.Error("slot not released")
	}
}
