// Curator - Media Collection Curation and Library Sync
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/curator

package enrich

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/rs/zerolog"

	"github.com/tomtom215/curator/internal/models"
	"github.com/tomtom215/curator/internal/provider"
	"github.com/tomtom215/curator/internal/queue"
	"github.com/tomtom215/curator/internal/retry"
	"github.com/tomtom215/curator/internal/store"
)

type fakeDetail struct {
	detail *provider.Detail
	err    error
	got    []models.Identifiers
}

func (f *fakeDetail) GetDetail(_ context.Context, _ models.MediaKind, ids models.Identifiers) (*provider.Detail, error) {
	f.got = append(f.got, ids)
	return f.detail, f.err
}

func setup(t *testing.T) (*store.Store, *models.CollectionItem) {
	t.Helper()
	st, err := store.Open(store.Config{InMemory: true}, zerolog.Nop())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	ctx := context.Background()
	col := &models.Collection{Name: "C", Source: models.SourceTraktList, SourceRef: "1"}
	if err := st.CreateCollection(ctx, col); err != nil {
		t.Fatal(err)
	}
	item := &models.CollectionItem{
		Kind: models.KindMovie, Title: "Alien", PosterRef: "https://trakt/poster.jpg",
		Identifiers: models.Identifiers{IMDB: "tt0078748"},
		Enrichment:  models.Enrichment{Status: models.EnrichmentPending},
	}
	if err := st.ReplaceItems(ctx, col.ID, []*models.CollectionItem{item}, testNow); err != nil {
		t.Fatal(err)
	}
	return st, item
}

func job(attempts, maxAttempts int) queue.Job {
	return queue.Job{ID: "j1", Kind: queue.KindEnrichItem, Attempts: attempts, MaxAttempts: maxAttempts}
}

func TestHandleSuccess(t *testing.T) {
	t.Parallel()

	st, item := setup(t)
	rating, count := 8.4, 900
	dp := &fakeDetail{detail: &provider.Detail{Rating: &rating, RatingCount: &count, BackdropRef: "https://img/b.jpg"}}
	h := New(st, dp, zerolog.Nop())

	p := queue.EnrichItem{CollectionID: item.CollectionID, ItemID: item.ID}
	if err := h.Handle(context.Background(), job(0, 3), p); err != nil {
		t.Fatalf("Handle: %v", err)
	}

	got, _ := st.GetItem(context.Background(), item.CollectionID, item.ID)
	if got.Enrichment.Status != models.EnrichmentEnriched || got.Enrichment.Attempts != 1 {
		t.Errorf("enrichment = %+v", got.Enrichment)
	}
	if got.Rating == nil || *got.Rating != 8.4 || *got.RatingCount != 900 {
		t.Errorf("rating = %v/%v", got.Rating, got.RatingCount)
	}
	// An empty detail poster keeps the list provider's poster.
	if got.PosterRef != "https://trakt/poster.jpg" || got.BackdropRef != "https://img/b.jpg" {
		t.Errorf("artwork = %q %q", got.PosterRef, got.BackdropRef)
	}
	if dp.got[0].IMDB != "tt0078748" {
		t.Errorf("provider ids = %+v", dp.got[0])
	}
}

func TestHandleFailureTransitions(t *testing.T) {
	t.Parallel()

	transient := retry.NewHTTPStatusError("tmdb", http.StatusBadGateway, nil)
	permanent := retry.Permanent("tmdb", provider.ErrNoMatch)

	tests := []struct {
		name       string
		err        error
		job        queue.Job
		wantStatus models.EnrichmentStatus
	}{
		{"transient with attempts left", transient, job(0, 3), models.EnrichmentPending},
		{"transient on last attempt", transient, job(2, 3), models.EnrichmentFailed},
		{"permanent on first attempt", permanent, job(0, 3), models.EnrichmentFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st, item := setup(t)
			h := New(st, &fakeDetail{err: tt.err}, zerolog.Nop())

			err := h.Handle(context.Background(), tt.job, queue.EnrichItem{CollectionID: item.CollectionID, ItemID: item.ID})
			if !errors.Is(err, tt.err) {
				t.Fatalf("err = %v, want wrapping %v", err, tt.err)
			}
			got, _ := st.GetItem(context.Background(), item.CollectionID, item.ID)
			if got.Enrichment.Status != tt.wantStatus {
				t.Errorf("status = %s, want %s", got.Enrichment.Status, tt.wantStatus)
			}
			if got.Enrichment.Attempts != 1 || got.Enrichment.LastError == "" {
				t.Errorf("enrichment = %+v", got.Enrichment)
			}
		})
	}
}

func TestHandleMissingItemIsPermanent(t *testing.T) {
	t.Parallel()

	st, item := setup(t)
	dp := &fakeDetail{}
	h := New(st, dp, zerolog.Nop())

	err := h.Handle(context.Background(), job(0, 3), queue.EnrichItem{CollectionID: item.CollectionID, ItemID: "gone"})
	if !retry.IsPermanent(err) || !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("err = %v, want permanent not found", err)
	}
	if len(dp.got) != 0 {
		t.Error("provider should not be called for a missing item")
	}
}

func TestLastErrorIsTruncated(t *testing.T) {
	t.Parallel()

	st, item := setup(t)
	long := errors.New(strings.Repeat("x", 2000))
	h := New(st, &fakeDetail{err: long}, zerolog.Nop())
	_ = h.Handle(context.Background(), job(0, 3), queue.EnrichItem{CollectionID: item.CollectionID, ItemID: item.ID})

	got, _ := st.GetItem(context.Background(), item.CollectionID, item.ID)
	if len(got.Enrichment.LastError) != maxErrorLen {
		t.Errorf("last error length = %d, want %d", len(got.Enrichment.LastError), maxErrorLen)
	}
}

func TestTruncateKeepsRuneBoundary(t *testing.T) {
	tests := []struct {
		in   string
		n    int
		want string
	}{
		{"short", 10, "short"},
		{"abcdef", 3, "abc"},
		{"aé", 2, "a"},
		{"日本語", 4, "日"},
		{"日本語", 6, "日本"},
	}
	for _, tt := range tests {
		if got := truncate(tt.in, tt.n); got != tt.want {
			t.Errorf("truncate(%q, %d) = %q, want %q", tt.in, tt.n, got, tt.want)
		}
	}

	got := truncate(strings.Repeat("é", 300), maxErrorLen+1)
	if !utf8.ValidString(got) || len(got) != maxErrorLen {
		t.Errorf("len = %d valid = %v", len(got), utf8.ValidString(got))
	}
}

func TestQueueHandlerRoutesPayload(t *testing.T) {
	t.Parallel()

	st, item := setup(t)
	rating := 7.0
	h := New(st, &fakeDetail{detail: &provider.Detail{Rating: &rating}}, zerolog.Nop())

	j := job(0, 3)
	j.Payload = queue.EnrichItem{CollectionID: item.CollectionID, ItemID: item.ID}
	if err := h.QueueHandler()(context.Background(), j); err != nil {
		t.Fatalf("QueueHandler: %v", err)
	}
}
