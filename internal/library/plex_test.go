// Curator - Media Collection Curation and Library Sync
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/curator

package library

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/tomtom215/curator/internal/config"
	"github.com/tomtom215/curator/internal/models"
	"github.com/tomtom215/curator/internal/retry"
)

type fakePlex struct {
	mu       sync.Mutex
	requests []string
	added    []string
	poster   string
}

func (f *fakePlex) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Header.Get("X-Plex-Token") != "tok" {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}
	f.mu.Lock()
	f.requests = append(f.requests, r.Method+" "+r.URL.Path)
	f.mu.Unlock()

	q := r.URL.Query()
	switch {
	case r.URL.Path == "/identity":
		fmt.Fprint(w, `{"MediaContainer":{"machineIdentifier":"mid"}}`)
	case r.URL.Path == "/library/sections":
		fmt.Fprint(w, `{"MediaContainer":{"Directory":[
			{"key":"1","type":"movie","title":"Movies"},
			{"key":"2","type":"show","title":"TV"},
			{"key":"3","type":"artist","title":"Music"}]}}`)
	case r.URL.Path == "/library/sections/1/all" && q.Get("guid") == "imdb://tt0078748":
		fmt.Fprint(w, `{"MediaContainer":{"Metadata":[{"ratingKey":"10","type":"movie","title":"Alien","year":1979,
			"Guid":[{"id":"imdb://tt0078748"},{"id":"tmdb://348"}]}]}}`)
	case r.URL.Path == "/library/sections/1/all" && q.Get("title") == "Alien":
		fmt.Fprint(w, `{"MediaContainer":{"Metadata":[{"ratingKey":"10","type":"movie","title":"Alien","year":1979}]}}`)
	case r.URL.Path == "/library/sections/1/collections" && strings.EqualFold(q.Get("title"), "Sci-Fi"):
		fmt.Fprint(w, `{"MediaContainer":{"Metadata":[{"ratingKey":"c1","title":"Sci-Fi"}]}}`)
	case r.URL.Path == "/library/metadata/10":
		fmt.Fprint(w, `{"MediaContainer":{"Metadata":[{"ratingKey":"10","type":"movie","librarySectionID":1}]}}`)
	case r.Method == http.MethodPost && r.URL.Path == "/library/collections":
		if q.Get("type") != "1" || q.Get("sectionId") != "1" || q.Get("smart") != "0" ||
			q.Get("uri") != "server://mid/com.plexapp.plugins.library/library/metadata/10" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		fmt.Fprint(w, `{"MediaContainer":{"Metadata":[{"ratingKey":"c9","title":"`+q.Get("title")+`"}]}}`)
	case r.Method == http.MethodPut && r.URL.Path == "/library/collections/c9/items":
		f.mu.Lock()
		f.added = append(f.added, q.Get("uri"))
		f.mu.Unlock()
		fmt.Fprint(w, `{}`)
	case r.URL.Path == "/library/collections/c9/children":
		fmt.Fprint(w, `{"MediaContainer":{"Metadata":[{"ratingKey":"10"},{"ratingKey":"11"}]}}`)
	case r.URL.Path == "/library/metadata/c9/posters":
		b, _ := io.ReadAll(r.Body)
		f.mu.Lock()
		f.poster = r.Header.Get("Content-Type") + ":" + string(b)
		f.mu.Unlock()
	case r.Method == http.MethodDelete:
		w.WriteHeader(http.StatusOK)
	default:
		fmt.Fprint(w, `{"MediaContainer":{}}`)
	}
}

func newTestPlex(t *testing.T, h http.Handler) (Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	c, err := NewClient(config.ServerTarget{ID: "plex1", Type: "plex", URL: srv.URL, Token: "tok"},
		WithHTTPClient(srv.Client()), WithRateLimitDelay(time.Millisecond))
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	return c, srv
}

func TestPlexFindAndSearch(t *testing.T) {
	t.Parallel()

	fake := &fakePlex{}
	c, _ := newTestPlex(t, fake)
	ctx := context.Background()

	item, err := c.FindByIdentifier(ctx, models.NamespaceIMDB, "tt0078748")
	if err != nil {
		t.Fatalf("FindByIdentifier: %v", err)
	}
	if item == nil || item.ID != "10" || item.Identifiers.TMDB != "348" || item.Kind != models.KindMovie {
		t.Fatalf("item = %+v", item)
	}

	item, err = c.FindByIdentifier(ctx, models.NamespaceTVDB, "1")
	if err != nil || item != nil {
		t.Errorf("missing: %+v %v", item, err)
	}

	items, err := c.SearchByTitle(ctx, "Alien", models.KindMovie, 1979)
	if err != nil || len(items) != 1 || items[0].Year != 1979 {
		t.Errorf("SearchByTitle = %+v, %v", items, err)
	}

	// Sections are cached across calls and music sections are ignored.
	fake.mu.Lock()
	defer fake.mu.Unlock()
	sections := 0
	for _, r := range fake.requests {
		if r == "GET /library/sections" {
			sections++
		}
		if r == "GET /library/sections/3/all" {
			t.Error("artist section was queried")
		}
	}
	if sections != 1 {
		t.Errorf("section list fetched %d times, want 1", sections)
	}
}

func TestPlexCollectionLifecycle(t *testing.T) {
	t.Parallel()

	fake := &fakePlex{}
	c, _ := newTestPlex(t, fake)
	ctx := context.Background()

	col, err := c.GetCollectionByName(ctx, "sci-fi")
	if err != nil || col == nil || col.ID != "c1" {
		t.Fatalf("GetCollectionByName = %+v, %v", col, err)
	}
	col, err = c.GetCollectionByName(ctx, "Nope")
	if err != nil || col != nil {
		t.Fatalf("missing collection = %+v, %v", col, err)
	}

	col, err = c.CreateCollection(ctx, "Classics", []string{"10", "11", "12"})
	if err != nil {
		t.Fatalf("CreateCollection: %v", err)
	}
	if col.ID != "c9" || col.Name != "Classics" {
		t.Errorf("col = %+v", col)
	}

	members, err := c.GetCollectionItems(ctx, "c9")
	if err != nil || len(members) != 2 {
		t.Fatalf("GetCollectionItems = %v, %v", members, err)
	}
	if err := c.RemoveItems(ctx, "c9", []string{"11", "12"}); err != nil {
		t.Fatalf("RemoveItems: %v", err)
	}
	if err := c.UploadPrimaryImage(ctx, "c9", []byte("JPEG"), "image/jpeg"); err != nil {
		t.Fatalf("UploadPrimaryImage: %v", err)
	}
	if err := c.DeleteCollection(ctx, "c9"); err != nil {
		t.Fatalf("DeleteCollection: %v", err)
	}

	fake.mu.Lock()
	defer fake.mu.Unlock()
	if len(fake.added) != 1 || fake.added[0] != "server://mid/com.plexapp.plugins.library/library/metadata/11,12" {
		t.Errorf("added = %v", fake.added)
	}
	if fake.poster != "image/jpeg:JPEG" {
		t.Errorf("poster = %q", fake.poster)
	}
	deletes := 0
	for _, r := range fake.requests {
		if r == "DELETE /library/collections/c9/items/11" || r == "DELETE /library/collections/c9/items/12" {
			deletes++
		}
	}
	if deletes != 2 {
		t.Errorf("per-item deletes = %d, want 2", deletes)
	}
}

func TestPlexRateLimitRetryAfter(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	c, _ := newTestPlex(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) <= 2 {
			w.Header().Set("Retry-After", "0")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		fmt.Fprint(w, `{"MediaContainer":{"machineIdentifier":"mid"}}`)
	}))

	if err := c.Ping(context.Background()); err != nil {
		t.Fatalf("Ping: %v", err)
	}
	if calls.Load() != 3 {
		t.Errorf("calls = %d, want 3", calls.Load())
	}
}

func TestPlexRateLimitExhausted(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	c, _ := newTestPlex(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusTooManyRequests)
	}))

	err := c.Ping(context.Background())
	var se *retry.HTTPStatusError
	if !errors.As(err, &se) || se.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("err = %v, want 429 status error", err)
	}
	if !retry.IsTransient(err) {
		t.Error("exhausted 429 should stay transient")
	}
	if got := calls.Load(); got != plexMaxRateLimitRetries+1 {
		t.Errorf("calls = %d, want %d", got, plexMaxRateLimitRetries+1)
	}
}

func TestPlexRateLimitHonorsContext(t *testing.T) {
	t.Parallel()

	c, _ := newTestPlex(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "60")
		w.WriteHeader(http.StatusTooManyRequests)
	}))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := c.Ping(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("err = %v, want deadline exceeded", err)
	}
}
