// Curator - Media Collection Curation and Library Sync
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/curator

package api

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/goccy/go-json"

	"github.com/tomtom215/curator/internal/database"
	"github.com/tomtom215/curator/internal/models"
	"github.com/tomtom215/curator/internal/queue"
	"github.com/tomtom215/curator/internal/validation"
)

// maxBodyBytes bounds JSON request bodies.
const maxBodyBytes = 1 << 20

// decodeJSON reads one JSON document from the body. Unknown fields are
// rejected so typos in field names surface as errors.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is empty")
		}
		return fmt.Errorf("invalid JSON body: %w", err)
	}
	return nil
}

// SyncHistoryRequest holds validated query parameters for /sync-history.
type SyncHistoryRequest struct {
	CollectionID string `json:"collection_id" validate:"omitempty,max=64"`
	ServerID     string `json:"server_id" validate:"omitempty,max=64"`
	Status       string `json:"status" validate:"omitempty,oneof=success partial failed"`
	Since        string `json:"since" validate:"omitempty,datetime=2006-01-02T15:04:05Z07:00"`
	Limit        int    `json:"limit" validate:"gte=1,lte=1000"`
	Offset       int    `json:"offset" validate:"gte=0,lte=1000000"`
}

func parseSyncHistory(r *http.Request) (database.SyncRunFilter, SyncHistoryRequest, error) {
	q := r.URL.Query()
	req := SyncHistoryRequest{
		CollectionID: q.Get("collection_id"),
		ServerID:     q.Get("server_id"),
		Status:       q.Get("status"),
		Since:        q.Get("since"),
		Limit:        getIntParam(r, "limit", 50),
		Offset:       getIntParam(r, "offset", 0),
	}
	if err := validation.ValidateStruct(&req); err != nil {
		return database.SyncRunFilter{}, req, err
	}
	f := database.SyncRunFilter{
		CollectionID: req.CollectionID,
		ServerID:     req.ServerID,
		Status:       models.SyncStatus(req.Status),
		Limit:        req.Limit,
		Offset:       req.Offset,
	}
	if req.Since != "" {
		// Already validated against the layout above.
		f.Since, _ = time.Parse(time.RFC3339, req.Since)
	}
	return f, req, nil
}

// JobListRequest holds validated query parameters for /queue/jobs.
type JobListRequest struct {
	Status       string `json:"status" validate:"omitempty,oneof=pending running completed failed"`
	Kind         string `json:"kind" validate:"omitempty,oneof=enrich-item refresh-collection sync-collection"`
	CollectionID string `json:"collection_id" validate:"omitempty,max=64"`
	Limit        int    `json:"limit" validate:"gte=1,lte=1000"`
}

func parseJobList(r *http.Request) (queue.Filter, error) {
	q := r.URL.Query()
	req := JobListRequest{
		Status:       q.Get("status"),
		Kind:         q.Get("kind"),
		CollectionID: q.Get("collection_id"),
		Limit:        getIntParam(r, "limit", 100),
	}
	if err := validation.ValidateStruct(&req); err != nil {
		return queue.Filter{}, err
	}
	return queue.Filter{
		Status:       queue.Status(req.Status),
		Kind:         queue.Kind(req.Kind),
		CollectionID: req.CollectionID,
		Limit:        req.Limit,
	}, nil
}

// getIntParam returns the integer query parameter or defaultValue when it
// is missing or malformed.
func getIntParam(r *http.Request, key string, defaultValue int) int {
	value := r.URL.Query().Get(key)
	if value == "" {
		return defaultValue
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return defaultValue
	}
	return n
}

func getBoolParam(r *http.Request, key string) bool {
	b, _ := strconv.ParseBool(r.URL.Query().Get(key))
	return b
}
