// Curator - Media Collection Curation and Library Sync
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/curator

package provider

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/tomtom215/curator/internal/breaker"
	"github.com/tomtom215/curator/internal/config"
	"github.com/tomtom215/curator/internal/models"
	"github.com/tomtom215/curator/internal/retry"
)

const (
	traktAPIVersion = "2"
	traktPageSize   = 100
	// traktMaxPages stops a misbehaving pagination header from looping.
	traktMaxPages = 500
)

type traktIDs struct {
	Trakt int    `json:"trakt,omitempty"`
	Slug  string `json:"slug,omitempty"`
	IMDB  string `json:"imdb,omitempty"`
	TMDB  int    `json:"tmdb,omitempty"`
	TVDB  int    `json:"tvdb,omitempty"`
}

type traktMedia struct {
	Title string   `json:"title"`
	Year  int      `json:"year"`
	IDs   traktIDs `json:"ids"`
}

type traktListEntry struct {
	Rank  int         `json:"rank"`
	Type  string      `json:"type"`
	Movie *traktMedia `json:"movie,omitempty"`
	Show  *traktMedia `json:"show,omitempty"`
}

// Trakt lists items from Trakt watchlists and lists.
type Trakt struct {
	cfg      config.TraktConfig
	http     *http.Client
	limiter  *rate.Limiter
	breaker  *breaker.Breaker
	policy   retry.Policy
	attempts int
	logger   zerolog.Logger
}

var _ ListProvider = (*Trakt)(nil)

// NewTrakt builds a client that makes at most cfg.RateLimit requests per
// second and retries each page up to attempts times.
//
//nolint:gocritic // hugeParam: zerolog.Logger is designed to be passed by value
func NewTrakt(cfg config.TraktConfig, policy retry.Policy, attempts int, logger zerolog.Logger, opts ...Option) *Trakt {
	o := buildOptions(opts)
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.trakt.tv"
	}
	cfg.BaseURL = strings.TrimSuffix(cfg.BaseURL, "/")
	if cfg.RateLimit <= 0 {
		cfg.RateLimit = 3
	}
	log := logger.With().Str("component", "trakt").Logger()
	return &Trakt{
		cfg:      cfg,
		http:     o.httpClient,
		limiter:  rate.NewLimiter(rate.Limit(cfg.RateLimit), max(1, int(cfg.RateLimit))),
		breaker:  breaker.New("trakt", breaker.Settings{}, log),
		policy:   policy,
		attempts: attempts,
		logger:   log,
	}
}

// ListItems accepts "watchlist", "<user>/<slug>" or a numeric list id and
// returns movies and shows in list order. Other entry types are skipped.
func (t *Trakt) ListItems(ctx context.Context, listRef string) ([]ListItem, error) {
	if t.cfg.ClientID == "" {
		return nil, retry.Permanent("trakt client id", ErrMissingCredentials)
	}
	path, err := t.listPath(listRef)
	if err != nil {
		return nil, err
	}

	var out []ListItem
	for page := 1; page <= traktMaxPages; page++ {
		entries, pageCount, err := t.page(ctx, path, page)
		if err != nil {
			return nil, fmt.Errorf("trakt list %q page %d: %w", listRef, page, err)
		}
		for _, e := range entries {
			if it, ok := e.toListItem(); ok {
				out = append(out, it)
			}
		}
		if len(entries) == 0 || page >= pageCount {
			break
		}
	}

	t.logger.Debug().Str("list", listRef).Int("items", len(out)).Msg("trakt list fetched")
	return out, nil
}

func (t *Trakt) listPath(ref string) (string, error) {
	ref = strings.TrimSpace(ref)
	switch {
	case ref == "watchlist":
		if t.cfg.AccessToken == "" {
			return "", retry.Permanent("trakt watchlist needs an access token", ErrMissingCredentials)
		}
		return "/users/me/watchlist", nil
	case isNumeric(ref):
		return "/lists/" + ref + "/items", nil
	}
	user, slug, ok := strings.Cut(ref, "/")
	if !ok || user == "" || slug == "" || strings.Contains(slug, "/") {
		return "", retry.Permanent(fmt.Sprintf("list reference %q", ref), ErrInvalidListRef)
	}
	return "/users/" + url.PathEscape(user) + "/lists/" + url.PathEscape(slug) + "/items", nil
}

// page fetches one page and returns the entries and the total page count.
func (t *Trakt) page(ctx context.Context, path string, page int) ([]traktListEntry, int, error) {
	type result struct {
		entries   []traktListEntry
		pageCount int
	}
	r, err := retry.DoValue(ctx, t.attempts, t.policy, func(ctx context.Context) (result, error) {
		if err := t.limiter.Wait(ctx); err != nil {
			return result{}, err
		}
		return breaker.Execute(t.breaker, func() (result, error) {
			entries, pages, err := t.fetchPage(ctx, path, page)
			return result{entries, pages}, err
		})
	}, retryLogger("trakt", t.logger))
	return r.entries, r.pageCount, err
}

func (t *Trakt) fetchPage(ctx context.Context, path string, page int) ([]traktListEntry, int, error) {
	q := url.Values{}
	q.Set("page", strconv.Itoa(page))
	q.Set("limit", strconv.Itoa(traktPageSize))
	q.Set("extended", "full")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.cfg.BaseURL+path+"?"+q.Encode(), http.NoBody)
	if err != nil {
		return nil, 0, retry.Permanent("build trakt request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("trakt-api-version", traktAPIVersion)
	req.Header.Set("trakt-api-key", t.cfg.ClientID)
	if t.cfg.AccessToken != "" {
		req.Header.Set("Authorization", "Bearer "+t.cfg.AccessToken)
	}

	var entries []traktListEntry
	hdr, err := doJSON(t.http, req, "trakt list items", &entries)
	if err != nil {
		return nil, 0, err
	}
	return entries, pageCount(hdr, len(entries)), nil
}

// pageCount prefers X-Pagination-Page-Count and falls back to the item
// count header. Without either the response is treated as the only page.
func pageCount(h http.Header, got int) int {
	if n, err := strconv.Atoi(h.Get("X-Pagination-Page-Count")); err == nil && n > 0 {
		return n
	}
	if total, err := strconv.Atoi(h.Get("X-Pagination-Item-Count")); err == nil && total > 0 && got > 0 {
		return (total + traktPageSize - 1) / traktPageSize
	}
	return 1
}

func (e traktListEntry) toListItem() (ListItem, bool) {
	var m *traktMedia
	var kind models.MediaKind
	switch e.Type {
	case "movie":
		m, kind = e.Movie, models.KindMovie
	case "show":
		m, kind = e.Show, models.KindShow
	default:
		return ListItem{}, false
	}
	if m == nil {
		return ListItem{}, false
	}
	return ListItem{
		Kind:  kind,
		Title: m.Title,
		Year:  m.Year,
		Identifiers: models.Identifiers{
			IMDB:  m.IDs.IMDB,
			TMDB:  itoaNonZero(m.IDs.TMDB),
			TVDB:  itoaNonZero(m.IDs.TVDB),
			Trakt: itoaNonZero(m.IDs.Trakt),
		},
	}, true
}

func itoaNonZero(n int) string {
	if n == 0 {
		return ""
	}
	return strconv.Itoa(n)
}

func isNumeric(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
