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
	"time"

	"github.com/rs/zerolog"

	"github.com/tomtom215/curator/internal/breaker"
	"github.com/tomtom215/curator/internal/cache"
	"github.com/tomtom215/curator/internal/config"
	"github.com/tomtom215/curator/internal/models"
	"github.com/tomtom215/curator/internal/retry"
)

const (
	tmdbPosterSize   = "w500"
	tmdbBackdropSize = "w1280"
)

type tmdbDetail struct {
	ID           int     `json:"id"`
	VoteAverage  float64 `json:"vote_average"`
	VoteCount    int     `json:"vote_count"`
	PosterPath   string  `json:"poster_path"`
	BackdropPath string  `json:"backdrop_path"`
}

type tmdbFindResult struct {
	MovieResults []struct {
		ID int `json:"id"`
	} `json:"movie_results"`
	TVResults []struct {
		ID int `json:"id"`
	} `json:"tv_results"`
}

// TMDB fetches ratings and artwork. Titles without a TMDB id are resolved
// through /find using their IMDB or TVDB id first.
type TMDB struct {
	cfg      config.TMDBConfig
	http     *http.Client
	breaker  *breaker.Breaker
	policy   retry.Policy
	attempts int
	logger   zerolog.Logger
	// resolved maps an external id lookup to its TMDB id.
	resolved *cache.LRU[string]
}

const (
	resolveCacheSize = 10000
	resolveCacheTTL  = 24 * time.Hour
)

var _ DetailProvider = (*TMDB)(nil)

//nolint:gocritic // hugeParam: zerolog.Logger is designed to be passed by value
func NewTMDB(cfg config.TMDBConfig, policy retry.Policy, attempts int, logger zerolog.Logger, opts ...Option) *TMDB {
	o := buildOptions(opts)
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.themoviedb.org"
	}
	if cfg.ImageBaseURL == "" {
		cfg.ImageBaseURL = "https://image.tmdb.org/t/p"
	}
	cfg.BaseURL = strings.TrimSuffix(cfg.BaseURL, "/")
	cfg.ImageBaseURL = strings.TrimSuffix(cfg.ImageBaseURL, "/")
	log := logger.With().Str("component", "tmdb").Logger()
	return &TMDB{
		cfg:      cfg,
		http:     o.httpClient,
		breaker:  breaker.New("tmdb", breaker.Settings{}, log),
		policy:   policy,
		attempts: attempts,
		logger:   log,
		resolved: cache.New[string](resolveCacheSize, resolveCacheTTL),
	}
}

// GetDetail returns rating and artwork for the title. Rating and
// RatingCount stay nil when TMDB has no votes for it.
func (t *TMDB) GetDetail(ctx context.Context, kind models.MediaKind, ids models.Identifiers) (*Detail, error) {
	if t.cfg.APIKey == "" {
		return nil, retry.Permanent("tmdb api key", ErrMissingCredentials)
	}
	id, err := t.resolveID(ctx, kind, ids)
	if err != nil {
		return nil, err
	}

	var d tmdbDetail
	if err := t.get(ctx, "/3/"+tmdbMediaPath(kind)+"/"+url.PathEscape(id), nil, "tmdb detail", &d); err != nil {
		return nil, fmt.Errorf("tmdb %s %s: %w", kind, id, err)
	}

	out := &Detail{
		PosterRef:   t.imageURL(tmdbPosterSize, d.PosterPath),
		BackdropRef: t.imageURL(tmdbBackdropSize, d.BackdropPath),
	}
	if d.VoteCount > 0 {
		rating, count := d.VoteAverage, d.VoteCount
		out.Rating = &rating
		out.RatingCount = &count
	}
	return out, nil
}

func (t *TMDB) resolveID(ctx context.Context, kind models.MediaKind, ids models.Identifiers) (string, error) {
	if ids.TMDB != "" {
		return ids.TMDB, nil
	}
	lookups := []struct {
		value  string
		source string
	}{
		{ids.IMDB, "imdb_id"},
		{ids.TVDB, "tvdb_id"},
	}
	for _, l := range lookups {
		if l.value == "" {
			continue
		}
		key := string(kind) + ":" + l.source + ":" + l.value
		if id, ok := t.resolved.Get(key); ok {
			return id, nil
		}
		q := url.Values{}
		q.Set("external_source", l.source)
		var res tmdbFindResult
		if err := t.get(ctx, "/3/find/"+url.PathEscape(l.value), q, "tmdb find", &res); err != nil {
			return "", fmt.Errorf("tmdb find %s=%s: %w", l.source, l.value, err)
		}
		var id string
		switch {
		case kind == models.KindShow && len(res.TVResults) > 0:
			id = strconv.Itoa(res.TVResults[0].ID)
		case kind == models.KindMovie && len(res.MovieResults) > 0:
			id = strconv.Itoa(res.MovieResults[0].ID)
		default:
			continue
		}
		t.resolved.Add(key, id)
		return id, nil
	}
	return "", retry.Permanent(fmt.Sprintf("tmdb has no %s for %+v", kind, ids), ErrNoMatch)
}

func (t *TMDB) get(ctx context.Context, path string, q url.Values, op string, out any) error {
	return retry.Do(ctx, t.attempts, t.policy, func(ctx context.Context) error {
		return breaker.Do(t.breaker, func() error {
			req, err := t.newRequest(ctx, path, q)
			if err != nil {
				return retry.Permanent("build tmdb request", err)
			}
			_, err = doJSON(t.http, req, op, out)
			return err
		})
	}, retryLogger("tmdb", t.logger))
}

// newRequest authenticates with a bearer header for v4 read tokens (JWTs)
// and with the api_key query parameter otherwise.
func (t *TMDB) newRequest(ctx context.Context, path string, q url.Values) (*http.Request, error) {
	if q == nil {
		q = url.Values{}
	}
	bearer := strings.HasPrefix(t.cfg.APIKey, "eyJ")
	if !bearer {
		q.Set("api_key", t.cfg.APIKey)
	}
	target := t.cfg.BaseURL + path
	if len(q) > 0 {
		target += "?" + q.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, http.NoBody)
	if err != nil {
		return nil, err
	}
	if bearer {
		req.Header.Set("Authorization", "Bearer "+t.cfg.APIKey)
	}
	return req, nil
}

func (t *TMDB) imageURL(size, path string) string {
	if path == "" {
		return ""
	}
	return t.cfg.ImageBaseURL + "/" + size + path
}

func tmdbMediaPath(kind models.MediaKind) string {
	if kind == models.KindShow {
		return "tv"
	}
	return "movie"
}
