// Curator - Media Collection Curation and Library Sync
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/curator

/*
emby.go - Emby and Jellyfin REST client

Jellyfin forked from Emby and still serves the same item and collection
endpoints, so one client covers both. The flavor only changes how the
request is authenticated.

API Reference: https://dev.emby.media/doc/restapi/index.html
*/

package library

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/tomtom215/curator/internal/config"
	"github.com/tomtom215/curator/internal/models"
	"github.com/tomtom215/curator/internal/retry"
)

type flavor string

const (
	flavorEmby     flavor = "emby"
	flavorJellyfin flavor = "jellyfin"
)

const (
	clientName    = "Curator"
	clientVersion = "1.0.0"
	deviceID      = "curator"
)

// embyItem is the subset of BaseItemDto the client reads.
type embyItem struct {
	ID             string            `json:"Id"`
	Name           string            `json:"Name"`
	Type           string            `json:"Type"`
	ProductionYear int               `json:"ProductionYear"`
	ProviderIDs    map[string]string `json:"ProviderIds"`
}

type embyItemsResponse struct {
	Items            []embyItem `json:"Items"`
	TotalRecordCount int        `json:"TotalRecordCount"`
}

// embyClient implements Client for Emby and Jellyfin servers.
type embyClient struct {
	serverID   string
	flavor     flavor
	baseURL    string
	apiKey     string
	userID     string
	httpClient *http.Client
}

var _ Client = (*embyClient)(nil)

func newEmbyClient(target config.ServerTarget, f flavor, o clientOptions) *embyClient {
	return &embyClient{
		serverID:   target.ID,
		flavor:     f,
		baseURL:    strings.TrimSuffix(target.URL, "/"),
		apiKey:     target.Token,
		userID:     target.UserID,
		httpClient: o.httpClient,
	}
}

func (c *embyClient) ServerID() string { return c.serverID }

func (c *embyClient) Ping(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/System/Info", nil, nil, "", string(c.flavor)+" ping", nil)
}

// embyProviderKeys maps namespaces to ProviderIds keys.
var embyProviderKeys = map[models.Namespace]string{
	models.NamespaceIMDB: "Imdb",
	models.NamespaceTMDB: "Tmdb",
	models.NamespaceTVDB: "Tvdb",
}

func (c *embyClient) FindByIdentifier(ctx context.Context, ns models.Namespace, value string) (*models.LibraryItem, error) {
	key, ok := embyProviderKeys[ns]
	if !ok || value == "" {
		return nil, nil
	}
	q := c.itemQuery("Movie,Series")
	q.Set("AnyProviderIdEquals", strings.ToLower(key)+"."+value)
	q.Set("Limit", "50")

	var resp embyItemsResponse
	if err := c.do(ctx, http.MethodGet, c.itemsPath(), q, nil, "", "find by "+string(ns), &resp); err != nil {
		return nil, err
	}
	// Older servers ignore AnyProviderIdEquals, so the id is checked here.
	for i := range resp.Items {
		if strings.EqualFold(providerID(resp.Items[i].ProviderIDs, key), value) {
			item := resp.Items[i].toLibraryItem()
			return &item, nil
		}
	}
	return nil, nil
}

func (c *embyClient) SearchByTitle(ctx context.Context, title string, kind models.MediaKind, year int) ([]models.LibraryItem, error) {
	q := c.itemQuery(embyItemType(kind))
	q.Set("SearchTerm", title)
	q.Set("Limit", "25")
	if year > 0 {
		q.Set("Years", strconv.Itoa(year))
	}

	var resp embyItemsResponse
	if err := c.do(ctx, http.MethodGet, c.itemsPath(), q, nil, "", "search title", &resp); err != nil {
		return nil, err
	}
	out := make([]models.LibraryItem, 0, len(resp.Items))
	for i := range resp.Items {
		out = append(out, resp.Items[i].toLibraryItem())
	}
	return out, nil
}

func (c *embyClient) GetCollectionByName(ctx context.Context, name string) (*Collection, error) {
	q := c.itemQuery("BoxSet")
	q.Set("SearchTerm", name)

	var resp embyItemsResponse
	if err := c.do(ctx, http.MethodGet, c.itemsPath(), q, nil, "", "get collection", &resp); err != nil {
		return nil, err
	}
	for _, it := range resp.Items {
		if strings.EqualFold(it.Name, name) {
			return &Collection{ID: it.ID, Name: it.Name}, nil
		}
	}
	return nil, nil
}

func (c *embyClient) CreateCollection(ctx context.Context, name string, seedIDs []string) (*Collection, error) {
	seedIDs = nonEmpty(seedIDs)
	if len(seedIDs) == 0 {
		return nil, ErrNoSeed
	}
	first, rest := seedIDs[:min(len(seedIDs), idBatchSize)], seedIDs[min(len(seedIDs), idBatchSize):]

	q := url.Values{}
	q.Set("Name", name)
	q.Set("Ids", strings.Join(first, ","))
	var created struct {
		ID string `json:"Id"`
	}
	if err := c.do(ctx, http.MethodPost, "/Collections", q, nil, "", "create collection", &created); err != nil {
		return nil, err
	}
	if created.ID == "" {
		return nil, retry.Permanent("create collection", fmt.Errorf("server returned no collection id"))
	}
	if len(rest) > 0 {
		if err := c.AddItems(ctx, created.ID, rest); err != nil {
			return nil, err
		}
	}
	return &Collection{ID: created.ID, Name: name}, nil
}

func (c *embyClient) AddItems(ctx context.Context, collectionID string, ids []string) error {
	return c.collectionItems(ctx, http.MethodPost, collectionID, ids, "add collection items")
}

func (c *embyClient) RemoveItems(ctx context.Context, collectionID string, ids []string) error {
	return c.collectionItems(ctx, http.MethodDelete, collectionID, ids, "remove collection items")
}

func (c *embyClient) collectionItems(ctx context.Context, method, collectionID string, ids []string, op string) error {
	path := "/Collections/" + url.PathEscape(collectionID) + "/Items"
	for _, batch := range batches(nonEmpty(ids)) {
		q := url.Values{}
		q.Set("Ids", strings.Join(batch, ","))
		if err := c.do(ctx, method, path, q, nil, "", op, nil); err != nil {
			return err
		}
	}
	return nil
}

func (c *embyClient) GetCollectionItems(ctx context.Context, collectionID string) ([]string, error) {
	q := url.Values{}
	q.Set("ParentId", collectionID)
	q.Set("Fields", "ProviderIds")

	var resp embyItemsResponse
	if err := c.do(ctx, http.MethodGet, c.itemsPath(), q, nil, "", "get collection items", &resp); err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(resp.Items))
	for _, it := range resp.Items {
		ids = append(ids, it.ID)
	}
	return ids, nil
}

// UploadPrimaryImage sends the image base64 encoded, which is what both
// servers expect on this endpoint.
func (c *embyClient) UploadPrimaryImage(ctx context.Context, collectionID string, data []byte, mimeType string) error {
	if len(data) == 0 {
		return retry.Permanent("upload image", fmt.Errorf("empty image"))
	}
	body := base64.StdEncoding.EncodeToString(data)
	path := "/Items/" + url.PathEscape(collectionID) + "/Images/Primary"
	return c.do(ctx, http.MethodPost, path, nil, strings.NewReader(body), mimeType, "upload image", nil)
}

func (c *embyClient) DeleteCollection(ctx context.Context, collectionID string) error {
	return c.do(ctx, http.MethodDelete, "/Items/"+url.PathEscape(collectionID), nil, nil, "", "delete collection", nil)
}

// itemsPath is user scoped when a user id is configured.
func (c *embyClient) itemsPath() string {
	if c.userID != "" {
		return "/Users/" + url.PathEscape(c.userID) + "/Items"
	}
	return "/Items"
}

func (c *embyClient) itemQuery(types string) url.Values {
	q := url.Values{}
	q.Set("Recursive", "true")
	q.Set("IncludeItemTypes", types)
	q.Set("Fields", "ProviderIds,ProductionYear")
	return q
}

func (c *embyClient) do(ctx context.Context, method, path string, q url.Values, body io.Reader, contentType, op string, out any) error {
	target := c.baseURL + path
	if len(q) > 0 {
		target += "?" + q.Encode()
	}
	if body == nil {
		body = http.NoBody
	}
	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return retry.Permanent("build "+op+" request", err)
	}
	c.authenticate(req)
	req.Header.Set("Accept", "application/json")
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	} else {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", c.flavor, op, err)
	}
	return decodeResponse(resp, string(c.flavor)+" "+op, out)
}

func (c *embyClient) authenticate(req *http.Request) {
	if c.flavor == flavorJellyfin {
		req.Header.Set("Authorization", fmt.Sprintf(
			`MediaBrowser Client=%q, Device=%q, DeviceId=%q, Version=%q, Token=%q`,
			clientName, clientName, deviceID, clientVersion, c.apiKey))
		return
	}
	req.Header.Set("X-Emby-Token", c.apiKey)
	req.Header.Set("X-Emby-Client", clientName)
	req.Header.Set("X-Emby-Device-Name", clientName)
	req.Header.Set("X-Emby-Device-Id", deviceID)
	req.Header.Set("X-Emby-Client-Version", clientVersion)
}

func (it *embyItem) toLibraryItem() models.LibraryItem {
	kind := models.KindMovie
	if it.Type == "Series" {
		kind = models.KindShow
	}
	return models.LibraryItem{
		ID:    it.ID,
		Title: it.Name,
		Year:  it.ProductionYear,
		Kind:  kind,
		Identifiers: models.Identifiers{
			IMDB: providerID(it.ProviderIDs, "Imdb"),
			TMDB: providerID(it.ProviderIDs, "Tmdb"),
			TVDB: providerID(it.ProviderIDs, "Tvdb"),
		},
	}
}

// providerID looks up key case-insensitively; servers disagree on casing.
func providerID(ids map[string]string, key string) string {
	if v, ok := ids[key]; ok {
		return v
	}
	for k, v := range ids {
		if strings.EqualFold(k, key) {
			return v
		}
	}
	return ""
}

func embyItemType(kind models.MediaKind) string {
	if kind == models.KindShow {
		return "Series"
	}
	return "Movie"
}
