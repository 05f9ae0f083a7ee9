// Curator - Media Collection Curation and Library Sync
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/curator

/*
plex.go - Plex Media Server client

Request Configuration:
  - Authentication: X-Plex-Token header on all requests
  - JSON Accept header on every request
  - Rate Limiting: HTTP 429 is retried here with Retry-After or doubling waits

Plex collections belong to one library section. A new collection is created
in the section of its first seed item; items from other sections cannot be
added to it.
*/

package library

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/tomtom215/curator/internal/config"
	"github.com/tomtom215/curator/internal/logging"
	"github.com/tomtom215/curator/internal/models"
	"github.com/tomtom215/curator/internal/retry"
)

const (
	plexMaxRateLimitRetries = 5
	plexSectionTTL          = 10 * time.Minute
)

type plexGUID struct {
	ID string `json:"id"`
}

type plexMetadata struct {
	RatingKey        string     `json:"ratingKey"`
	Type             string     `json:"type"`
	Title            string     `json:"title"`
	Year             int        `json:"year"`
	LibrarySectionID int        `json:"librarySectionID"`
	GUIDs            []plexGUID `json:"Guid"`
}

type plexDirectory struct {
	Key   string `json:"key"`
	Type  string `json:"type"`
	Title string `json:"title"`
}

type plexContainer struct {
	MediaContainer struct {
		MachineIdentifier string          `json:"machineIdentifier"`
		Metadata          []plexMetadata  `json:"Metadata"`
		Directory         []plexDirectory `json:"Directory"`
	} `json:"MediaContainer"`
}

// requestConfig describes one Plex API call.
type requestConfig struct {
	method      string
	path        string
	query       url.Values
	body        []byte
	contentType string
	op          string
}

// plexClient implements Client for Plex Media Server.
type plexClient struct {
	serverID       string
	baseURL        string
	token          string
	httpClient     *http.Client
	rateLimitDelay time.Duration

	mu         sync.Mutex
	machineID  string
	sections   []plexDirectory
	sectionsAt time.Time
}

var _ Client = (*plexClient)(nil)

func newPlexClient(target config.ServerTarget, o clientOptions) *plexClient {
	return &plexClient{
		serverID:       target.ID,
		baseURL:        strings.TrimSuffix(target.URL, "/"),
		token:          target.Token,
		httpClient:     o.httpClient,
		rateLimitDelay: o.rateLimitDelay,
	}
}

func (c *plexClient) ServerID() string { return c.serverID }

func (c *plexClient) Ping(ctx context.Context) error {
	_, err := c.machineIdentifier(ctx)
	return err
}

func (c *plexClient) FindByIdentifier(ctx context.Context, ns models.Namespace, value string) (*models.LibraryItem, error) {
	if value == "" || ns == models.NamespaceTrakt {
		return nil, nil
	}
	guid := string(ns) + "://" + value
	sections, err := c.librarySections(ctx, "")
	if err != nil {
		return nil, err
	}
	for _, s := range sections {
		q := url.Values{}
		q.Set("guid", guid)
		q.Set("includeGuids", "1")
		var resp plexContainer
		if err := c.doRequest(ctx, requestConfig{
			method: http.MethodGet, path: "/library/sections/" + url.PathEscape(s.Key) + "/all",
			query: q, op: "find by " + string(ns),
		}, &resp); err != nil {
			return nil, err
		}
		for i := range resp.MediaContainer.Metadata {
			m := &resp.MediaContainer.Metadata[i]
			if m.hasGUID(guid) {
				item := m.toLibraryItem()
				return &item, nil
			}
		}
	}
	return nil, nil
}

func (c *plexClient) SearchByTitle(ctx context.Context, title string, kind models.MediaKind, year int) ([]models.LibraryItem, error) {
	sections, err := c.librarySections(ctx, plexSectionType(kind))
	if err != nil {
		return nil, err
	}
	var out []models.LibraryItem
	for _, s := range sections {
		q := url.Values{}
		q.Set("title", title)
		q.Set("includeGuids", "1")
		if year > 0 {
			q.Set("year", strconv.Itoa(year))
		}
		var resp plexContainer
		if err := c.doRequest(ctx, requestConfig{
			method: http.MethodGet, path: "/library/sections/" + url.PathEscape(s.Key) + "/all",
			query: q, op: "search title",
		}, &resp); err != nil {
			return nil, err
		}
		for i := range resp.MediaContainer.Metadata {
			out = append(out, resp.MediaContainer.Metadata[i].toLibraryItem())
		}
	}
	return out, nil
}

func (c *plexClient) GetCollectionByName(ctx context.Context, name string) (*Collection, error) {
	sections, err := c.librarySections(ctx, "")
	if err != nil {
		return nil, err
	}
	for _, s := range sections {
		q := url.Values{}
		q.Set("title", name)
		var resp plexContainer
		if err := c.doRequest(ctx, requestConfig{
			method: http.MethodGet, path: "/library/sections/" + url.PathEscape(s.Key) + "/collections",
			query: q, op: "get collection",
		}, &resp); err != nil {
			return nil, err
		}
		for _, m := range resp.MediaContainer.Metadata {
			if strings.EqualFold(m.Title, name) {
				return &Collection{ID: m.RatingKey, Name: m.Title}, nil
			}
		}
	}
	return nil, nil
}

func (c *plexClient) CreateCollection(ctx context.Context, name string, seedIDs []string) (*Collection, error) {
	seedIDs = nonEmpty(seedIDs)
	if len(seedIDs) == 0 {
		return nil, ErrNoSeed
	}
	seed, err := c.metadata(ctx, seedIDs[0])
	if err != nil {
		return nil, err
	}
	uri, err := c.itemsURI(ctx, seedIDs[:1])
	if err != nil {
		return nil, err
	}

	q := url.Values{}
	q.Set("type", plexTypeNumber(seed.Type))
	q.Set("title", name)
	q.Set("smart", "0")
	q.Set("sectionId", strconv.Itoa(seed.LibrarySectionID))
	q.Set("uri", uri)
	var resp plexContainer
	if err := c.doRequest(ctx, requestConfig{
		method: http.MethodPost, path: "/library/collections", query: q, op: "create collection",
	}, &resp); err != nil {
		return nil, err
	}
	if len(resp.MediaContainer.Metadata) == 0 || resp.MediaContainer.Metadata[0].RatingKey == "" {
		return nil, retry.Permanent("create collection", fmt.Errorf("server returned no collection id"))
	}
	col := &Collection{ID: resp.MediaContainer.Metadata[0].RatingKey, Name: name}

	if len(seedIDs) > 1 {
		if err := c.AddItems(ctx, col.ID, seedIDs[1:]); err != nil {
			return nil, err
		}
	}
	return col, nil
}

func (c *plexClient) AddItems(ctx context.Context, collectionID string, ids []string) error {
	for _, batch := range batches(nonEmpty(ids)) {
		uri, err := c.itemsURI(ctx, batch)
		if err != nil {
			return err
		}
		q := url.Values{}
		q.Set("uri", uri)
		if err := c.doRequest(ctx, requestConfig{
			method: http.MethodPut, path: "/library/collections/" + url.PathEscape(collectionID) + "/items",
			query: q, op: "add collection items",
		}, nil); err != nil {
			return err
		}
	}
	return nil
}

// RemoveItems deletes one member per request; Plex has no batch form.
func (c *plexClient) RemoveItems(ctx context.Context, collectionID string, ids []string) error {
	for _, id := range nonEmpty(ids) {
		if err := c.doRequest(ctx, requestConfig{
			method: http.MethodDelete,
			path:   "/library/collections/" + url.PathEscape(collectionID) + "/items/" + url.PathEscape(id),
			op:     "remove collection item",
		}, nil); err != nil {
			return err
		}
	}
	return nil
}

func (c *plexClient) GetCollectionItems(ctx context.Context, collectionID string) ([]string, error) {
	var resp plexContainer
	if err := c.doRequest(ctx, requestConfig{
		method: http.MethodGet, path: "/library/collections/" + url.PathEscape(collectionID) + "/children",
		op: "get collection items",
	}, &resp); err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(resp.MediaContainer.Metadata))
	for _, m := range resp.MediaContainer.Metadata {
		ids = append(ids, m.RatingKey)
	}
	return ids, nil
}

func (c *plexClient) UploadPrimaryImage(ctx context.Context, collectionID string, data []byte, mimeType string) error {
	if len(data) == 0 {
		return retry.Permanent("upload image", fmt.Errorf("empty image"))
	}
	return c.doRequest(ctx, requestConfig{
		method: http.MethodPost, path: "/library/metadata/" + url.PathEscape(collectionID) + "/posters",
		body: data, contentType: mimeType, op: "upload image",
	}, nil)
}

func (c *plexClient) DeleteCollection(ctx context.Context, collectionID string) error {
	return c.doRequest(ctx, requestConfig{
		method: http.MethodDelete, path: "/library/collections/" + url.PathEscape(collectionID),
		op: "delete collection",
	}, nil)
}

func (c *plexClient) metadata(ctx context.Context, ratingKey string) (*plexMetadata, error) {
	var resp plexContainer
	if err := c.doRequest(ctx, requestConfig{
		method: http.MethodGet, path: "/library/metadata/" + url.PathEscape(ratingKey), op: "get metadata",
	}, &resp); err != nil {
		return nil, err
	}
	if len(resp.MediaContainer.Metadata) == 0 {
		return nil, retry.Permanent("get metadata", fmt.Errorf("item %s not found", ratingKey))
	}
	return &resp.MediaContainer.Metadata[0], nil
}

// itemsURI builds the server:// uri Plex uses to reference library items.
func (c *plexClient) itemsURI(ctx context.Context, ids []string) (string, error) {
	mid, err := c.machineIdentifier(ctx)
	if err != nil {
		return "", err
	}
	return "server://" + mid + "/com.plexapp.plugins.library/library/metadata/" + strings.Join(ids, ","), nil
}

func (c *plexClient) machineIdentifier(ctx context.Context) (string, error) {
	c.mu.Lock()
	mid := c.machineID
	c.mu.Unlock()
	if mid != "" {
		return mid, nil
	}

	var resp plexContainer
	if err := c.doRequest(ctx, requestConfig{method: http.MethodGet, path: "/identity", op: "identity"}, &resp); err != nil {
		return "", err
	}
	mid = resp.MediaContainer.MachineIdentifier
	if mid == "" {
		return "", retry.Permanent("identity", fmt.Errorf("server returned no machine identifier"))
	}
	c.mu.Lock()
	c.machineID = mid
	c.mu.Unlock()
	return mid, nil
}

// librarySections returns the movie and show sections, filtered to typ
// when it is non-empty. The list is cached for plexSectionTTL.
func (c *plexClient) librarySections(ctx context.Context, typ string) ([]plexDirectory, error) {
	c.mu.Lock()
	sections := c.sections
	fresh := time.Since(c.sectionsAt) < plexSectionTTL
	c.mu.Unlock()

	if !fresh {
		var resp plexContainer
		if err := c.doRequest(ctx, requestConfig{method: http.MethodGet, path: "/library/sections", op: "list sections"}, &resp); err != nil {
			return nil, err
		}
		sections = sections[:0:0]
		for _, d := range resp.MediaContainer.Directory {
			if d.Type == "movie" || d.Type == "show" {
				sections = append(sections, d)
			}
		}
		c.mu.Lock()
		c.sections = sections
		c.sectionsAt = time.Now()
		c.mu.Unlock()
	}

	if typ == "" {
		return sections, nil
	}
	out := make([]plexDirectory, 0, len(sections))
	for _, s := range sections {
		if s.Type == typ {
			out = append(out, s)
		}
	}
	return out, nil
}

// doRequest executes one Plex API call and decodes the response into result.
func (c *plexClient) doRequest(ctx context.Context, cfg requestConfig, result any) error {
	resp, err := c.doRequestWithRateLimit(ctx, cfg)
	if err != nil {
		return err
	}
	return decodeResponse(resp, "plex "+cfg.op, result)
}

// doRequestWithRateLimit retries HTTP 429 up to plexMaxRateLimitRetries
// times, honoring Retry-After (seconds) when present. The final 429 is
// returned to the caller as a status error.
func (c *plexClient) doRequestWithRateLimit(ctx context.Context, cfg requestConfig) (*http.Response, error) {
	delay := c.rateLimitDelay
	for attempt := 0; ; attempt++ {
		req, err := c.newRequest(ctx, cfg)
		if err != nil {
			return nil, err
		}
		resp, err := c.httpClient.Do(req)
		if err != nil {
			return nil, fmt.Errorf("plex %s: %w", cfg.op, err)
		}
		if resp.StatusCode != http.StatusTooManyRequests || attempt == plexMaxRateLimitRetries {
			return resp, nil
		}
		_ = resp.Body.Close()

		wait := delay
		if secs, err := strconv.Atoi(strings.TrimSpace(resp.Header.Get("Retry-After"))); err == nil && secs >= 0 {
			wait = time.Duration(secs) * time.Second
		}
		logging.Ctx(ctx).Warn().
			Str("server", c.serverID).
			Dur("retry_delay", wait).
			Int("attempt", attempt+1).
			Int("max_retries", plexMaxRateLimitRetries).
			Msg("Plex API rate limited (HTTP 429), retrying")

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
		delay *= 2
	}
}

func (c *plexClient) newRequest(ctx context.Context, cfg requestConfig) (*http.Request, error) {
	target := c.baseURL + cfg.path
	if len(cfg.query) > 0 {
		target += "?" + cfg.query.Encode()
	}
	var body io.Reader = http.NoBody
	if cfg.body != nil {
		body = bytes.NewReader(cfg.body)
	}
	req, err := http.NewRequestWithContext(ctx, cfg.method, target, body)
	if err != nil {
		return nil, retry.Permanent("build plex request", err)
	}
	req.Header.Set("X-Plex-Token", c.token)
	req.Header.Set("X-Plex-Client-Identifier", deviceID)
	req.Header.Set("X-Plex-Product", clientName)
	req.Header.Set("Accept", "application/json")
	if cfg.contentType != "" {
		req.Header.Set("Content-Type", cfg.contentType)
	}
	return req, nil
}

func (m *plexMetadata) hasGUID(guid string) bool {
	for _, g := range m.GUIDs {
		if strings.EqualFold(g.ID, guid) {
			return true
		}
	}
	return false
}

func (m *plexMetadata) toLibraryItem() models.LibraryItem {
	item := models.LibraryItem{ID: m.RatingKey, Title: m.Title, Year: m.Year, Kind: models.KindMovie}
	if m.Type == "show" {
		item.Kind = models.KindShow
	}
	for _, g := range m.GUIDs {
		ns, value, ok := strings.Cut(g.ID, "://")
		if !ok {
			continue
		}
		switch models.Namespace(ns) {
		case models.NamespaceIMDB:
			item.Identifiers.IMDB = value
		case models.NamespaceTMDB:
			item.Identifiers.TMDB = value
		case models.NamespaceTVDB:
			item.Identifiers.TVDB = value
		}
	}
	return item
}

func plexSectionType(kind models.MediaKind) string {
	if kind == models.KindShow {
		return "show"
	}
	return "movie"
}

func plexTypeNumber(typ string) string {
	if typ == "show" {
		return "2"
	}
	return "1"
}
