// Curator - Media Collection Curation and Library Sync
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/curator

package database

import (
	"context"
	"fmt"
	"time"
)

func schemaContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 60*time.Second)
}

func (db *DB) createTables() error {
	ctx, cancel := schemaContext()
	defer cancel()

	for _, q := range schemaQueries {
		if _, err := db.conn.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("execute %q: %w", firstLine(q), err)
		}
	}
	return nil
}

// JSON list columns are stored as TEXT so the json extension is not required.
var schemaQueries = []string{
	`CREATE TABLE IF NOT EXISTS sync_runs (
		id TEXT PRIMARY KEY,
		collection_id TEXT NOT NULL,
		collection_name TEXT NOT NULL DEFAULT '',
		server_id TEXT NOT NULL,
		status TEXT NOT NULL,
		total INTEGER NOT NULL,
		matched INTEGER NOT NULL,
		failed INTEGER NOT NULL,
		added INTEGER NOT NULL DEFAULT 0,
		removed INTEGER NOT NULL DEFAULT 0,
		remote_collection_id TEXT NOT NULL DEFAULT '',
		matched_items TEXT NOT NULL DEFAULT '[]',
		matched_truncated INTEGER NOT NULL DEFAULT 0,
		errors TEXT NOT NULL DEFAULT '[]',
		errors_truncated INTEGER NOT NULL DEFAULT 0,
		flagged TEXT NOT NULL DEFAULT '[]',
		flagged_truncated INTEGER NOT NULL DEFAULT 0,
		started_at TIMESTAMP NOT NULL,
		finished_at TIMESTAMP NOT NULL,
		duration_ms BIGINT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_sync_runs_pair ON sync_runs (collection_id, server_id, started_at)`,
	`CREATE TABLE IF NOT EXISTS refresh_runs (
		id TEXT PRIMARY KEY,
		collection_id TEXT NOT NULL,
		reason TEXT NOT NULL DEFAULT '',
		fetched INTEGER NOT NULL,
		stored INTEGER NOT NULL,
		duplicates INTEGER NOT NULL,
		enqueued INTEGER NOT NULL,
		error TEXT NOT NULL DEFAULT '',
		started_at TIMESTAMP NOT NULL,
		duration_ms BIGINT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_refresh_runs_collection ON refresh_runs (collection_id, started_at)`,
}

func firstLine(q string) string {
	for i, r := range q {
		if r == '\n' {
			return q[:i]
		}
	}
	return q
}
