// Curator - Media Collection Curation and Library Sync
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/curator

package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/tomtom215/curator/internal/metrics"
	"github.com/tomtom215/curator/internal/models"
)

const (
	tableSyncRuns    = "sync_runs"
	tableRefreshRuns = "refresh_runs"

	defaultListLimit = 50
	maxListLimit     = 500
)

const syncRunColumns = `id, collection_id, collection_name, server_id, status,
	total, matched, failed, added, removed, remote_collection_id,
	matched_items, matched_truncated, errors, errors_truncated,
	flagged, flagged_truncated, started_at, finished_at, duration_ms`

// InsertSyncRun appends r to the run log, assigning an id when empty.
func (db *DB) InsertSyncRun(ctx context.Context, r *models.SyncResult) error {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	matched, err := encodeList(r.MatchedItems)
	if err != nil {
		return err
	}
	errs, err := encodeList(r.Errors)
	if err != nil {
		return err
	}
	flagged, err := encodeList(r.Flagged)
	if err != nil {
		return err
	}

	err = db.exec(ctx, "insert", tableSyncRuns,
		`INSERT INTO sync_runs (`+syncRunColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.CollectionID, r.CollectionName, r.ServerID, string(r.Status),
		r.Total, r.Matched, r.Failed, r.Added, r.Removed, r.RemoteID,
		matched, r.MatchedTruncated, errs, r.ErrorsTruncated,
		flagged, r.FlaggedTruncated, r.StartedAt.UTC(), r.FinishedAt.UTC(), r.Duration.Milliseconds(),
	)
	if err != nil {
		return fmt.Errorf("insert sync run: %w", err)
	}
	return nil
}

// SyncRunFilter narrows ListSyncRuns. Zero values match everything.
type SyncRunFilter struct {
	CollectionID string
	ServerID     string
	Status       models.SyncStatus
	Since        time.Time
	Limit        int
	Offset       int
}

// ListSyncRuns returns runs newest first.
func (db *DB) ListSyncRuns(ctx context.Context, f SyncRunFilter) ([]models.SyncResult, error) {
	var where []string
	var args []any
	if f.CollectionID != "" {
		where = append(where, "collection_id = ?")
		args = append(args, f.CollectionID)
	}
	if f.ServerID != "" {
		where = append(where, "server_id = ?")
		args = append(args, f.ServerID)
	}
	if f.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(f.Status))
	}
	if !f.Since.IsZero() {
		where = append(where, "started_at >= ?")
		args = append(args, f.Since.UTC())
	}

	q := `SELECT ` + syncRunColumns + ` FROM sync_runs`
	if len(where) > 0 {
		q += ` WHERE ` + strings.Join(where, " AND ")
	}
	q += ` ORDER BY started_at DESC, id LIMIT ? OFFSET ?`
	args = append(args, clampLimit(f.Limit), max(f.Offset, 0))

	start := time.Now()
	rows, err := db.conn.QueryContext(ctx, q, args...)
	metrics.RecordDBQuery("list", tableSyncRuns, time.Since(start), err)
	if err != nil {
		return nil, fmt.Errorf("list sync runs: %w", err)
	}
	defer closeQuietly(rows)

	var out []models.SyncResult
	for rows.Next() {
		r, err := scanSyncRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan sync run: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sync runs: %w", err)
	}
	return out, nil
}

// LatestSyncRun returns the most recent run for one (collection, server)
// pair, or ErrNotFound.
func (db *DB) LatestSyncRun(ctx context.Context, collectionID, serverID string) (*models.SyncResult, error) {
	runs, err := db.ListSyncRuns(ctx, SyncRunFilter{CollectionID: collectionID, ServerID: serverID, Limit: 1})
	if err != nil {
		return nil, err
	}
	if len(runs) == 0 {
		return nil, ErrNotFound
	}
	return &runs[0], nil
}

// SyncSummary aggregates runs for one server.
type SyncSummary struct {
	ServerID    string    `json:"server_id"`
	Runs        int       `json:"runs"`
	Success     int       `json:"success"`
	Partial     int       `json:"partial"`
	Failed      int       `json:"failed"`
	Matched     int       `json:"matched"`
	Total       int       `json:"total"`
	MatchRate   float64   `json:"match_rate"`
	LastRunAt   time.Time `json:"last_run_at"`
	AvgDuration float64   `json:"avg_duration_ms"`
}

// SyncRunSummary returns per-server counts by status, ordered by server.
func (db *DB) SyncRunSummary(ctx context.Context) ([]SyncSummary, error) {
	q := `SELECT server_id,
			COUNT(*),
			COUNT(*) FILTER (WHERE status = 'success'),
			COUNT(*) FILTER (WHERE status = 'partial'),
			COUNT(*) FILTER (WHERE status = 'failed'),
			CAST(COALESCE(SUM(matched), 0) AS BIGINT),
			CAST(COALESCE(SUM(total), 0) AS BIGINT),
			MAX(started_at),
			COALESCE(AVG(duration_ms), 0)
		FROM sync_runs
		GROUP BY server_id
		ORDER BY server_id`

	start := time.Now()
	rows, err := db.conn.QueryContext(ctx, q)
	metrics.RecordDBQuery("summary", tableSyncRuns, time.Since(start), err)
	if err != nil {
		return nil, fmt.Errorf("sync run summary: %w", err)
	}
	defer closeQuietly(rows)

	var out []SyncSummary
	for rows.Next() {
		var s SyncSummary
		var matched, total int64
		if err := rows.Scan(&s.ServerID, &s.Runs, &s.Success, &s.Partial, &s.Failed,
			&matched, &total, &s.LastRunAt, &s.AvgDuration); err != nil {
			return nil, fmt.Errorf("scan summary: %w", err)
		}
		s.Matched, s.Total = int(matched), int(total)
		if total > 0 {
			s.MatchRate = float64(matched) / float64(total)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// InsertRefreshRun appends r to the run log, assigning an id when empty.
func (db *DB) InsertRefreshRun(ctx context.Context, r *models.RefreshRun) error {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	err := db.exec(ctx, "insert", tableRefreshRuns,
		`INSERT INTO refresh_runs (id, collection_id, reason, fetched, stored, duplicates, enqueued, error, started_at, duration_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.CollectionID, r.Reason, r.Fetched, r.Stored, r.Duplicates, r.Enqueued, r.Error,
		r.StartedAt.UTC(), r.Duration.Milliseconds(),
	)
	if err != nil {
		return fmt.Errorf("insert refresh run: %w", err)
	}
	return nil
}

// ListRefreshRuns returns refresh runs newest first. An empty collectionID
// lists every collection.
func (db *DB) ListRefreshRuns(ctx context.Context, collectionID string, limit int) ([]models.RefreshRun, error) {
	q := `SELECT id, collection_id, reason, fetched, stored, duplicates, enqueued, error, started_at, duration_ms
		FROM refresh_runs`
	var args []any
	if collectionID != "" {
		q += ` WHERE collection_id = ?`
		args = append(args, collectionID)
	}
	q += ` ORDER BY started_at DESC, id LIMIT ?`
	args = append(args, clampLimit(limit))

	start := time.Now()
	rows, err := db.conn.QueryContext(ctx, q, args...)
	metrics.RecordDBQuery("list", tableRefreshRuns, time.Since(start), err)
	if err != nil {
		return nil, fmt.Errorf("list refresh runs: %w", err)
	}
	defer closeQuietly(rows)

	var out []models.RefreshRun
	for rows.Next() {
		var r models.RefreshRun
		var ms int64
		if err := rows.Scan(&r.ID, &r.CollectionID, &r.Reason, &r.Fetched, &r.Stored,
			&r.Duplicates, &r.Enqueued, &r.Error, &r.StartedAt, &ms); err != nil {
			return nil, fmt.Errorf("scan refresh run: %w", err)
		}
		r.Duration = time.Duration(ms) * time.Millisecond
		out = append(out, r)
	}
	return out, rows.Err()
}

func scanSyncRun(rows *sql.Rows) (models.SyncResult, error) {
	var r models.SyncResult
	var status, matched, errs, flagged string
	var ms int64
	err := rows.Scan(&r.ID, &r.CollectionID, &r.CollectionName, &r.ServerID, &status,
		&r.Total, &r.Matched, &r.Failed, &r.Added, &r.Removed, &r.RemoteID,
		&matched, &r.MatchedTruncated, &errs, &r.ErrorsTruncated,
		&flagged, &r.FlaggedTruncated, &r.StartedAt, &r.FinishedAt, &ms)
	if err != nil {
		return r, err
	}
	r.Status = models.SyncStatus(status)
	r.Duration = time.Duration(ms) * time.Millisecond
	if err := decodeList(matched, &r.MatchedItems); err != nil {
		return r, err
	}
	if err := decodeList(errs, &r.Errors); err != nil {
		return r, err
	}
	if err := decodeList(flagged, &r.Flagged); err != nil {
		return r, err
	}
	return r, nil
}

func encodeList[T any](v []T) (string, error) {
	if v == nil {
		return "[]", nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("encode list: %w", err)
	}
	return string(b), nil
}

func decodeList[T any](s string, out *[]T) error {
	if s == "" {
		return nil
	}
	if err := json.Unmarshal([]byte(s), out); err != nil {
		return fmt.Errorf("decode list column: %w", err)
	}
	return nil
}

func clampLimit(n int) int {
	switch {
	case n <= 0:
		return defaultListLimit
	case n > maxListLimit:
		return maxListLimit
	}
	return n
}

// IsNotFound reports whether err is ErrNotFound or sql.ErrNoRows.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound) || errors.Is(err, sql.ErrNoRows)
}
