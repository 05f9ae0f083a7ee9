// Curator - Media Collection Curation and Library Sync
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/curator

// Package database is the append-only run log kept in DuckDB. Every
// reconciliation and every refresh writes one row that is never updated.
package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"time"

	_ "github.com/duckdb/duckdb-go/v2"
	"github.com/rs/zerolog"

	"github.com/tomtom215/curator/internal/metrics"
)

// ErrNotFound is returned by single-row lookups with no match.
var ErrNotFound = errors.New("run not found")

// Config locates the database. Path ":memory:" (or empty) opens an
// in-memory database.
type Config struct {
	Path      string
	MaxMemory string
	Threads   int
}

// DB wraps the DuckDB connection.
type DB struct {
	conn   *sql.DB
	cfg    Config
	logger zerolog.Logger
}

// New opens the database and creates the schema.
//
//nolint:gocritic // hugeParam: zerolog.Logger is designed to be passed by value
func New(cfg Config, logger zerolog.Logger) (*DB, error) {
	if cfg.Path == "" {
		cfg.Path = ":memory:"
	}
	if cfg.MaxMemory == "" {
		cfg.MaxMemory = "512MB"
	}
	threads := cfg.Threads
	if threads <= 0 {
		threads = runtime.NumCPU()
	}

	if cfg.Path != ":memory:" {
		dir := filepath.Dir(cfg.Path)
		if dir != "" && dir != "." {
			if err := os.MkdirAll(dir, 0o750); err != nil {
				return nil, fmt.Errorf("create database directory %s: %w", dir, err)
			}
		}
	}

	// Extensions are not needed and auto-install can hang without network.
	dsn := fmt.Sprintf("%s?access_mode=read_write&threads=%d&max_memory=%s&autoinstall_known_extensions=false&autoload_known_extensions=false",
		cfg.Path, threads, cfg.MaxMemory)

	conn, err := sql.Open("duckdb", dsn)
	if err != nil {
		return nil, fmt.Errorf("open duckdb: %w", err)
	}
	conn.SetMaxOpenConns(runtime.NumCPU())
	conn.SetMaxIdleConns(2)
	conn.SetConnMaxIdleTime(5 * time.Minute)

	db := &DB{
		conn:   conn,
		cfg:    cfg,
		logger: logger.With().Str("component", "database").Logger(),
	}
	if err := db.createTables(); err != nil {
		closeQuietly(conn)
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	db.logger.Info().Str("path", cfg.Path).Int("threads", threads).Msg("run log opened")
	return db, nil
}

// Close closes the connection pool.
func (db *DB) Close() error {
	if err := db.conn.Close(); err != nil {
		return fmt.Errorf("close duckdb: %w", err)
	}
	return nil
}

// Ping checks the connection. Used by the health endpoint.
func (db *DB) Ping(ctx context.Context) error {
	return db.conn.PingContext(ctx)
}

func (db *DB) exec(ctx context.Context, op, table, query string, args ...any) error {
	start := time.Now()
	_, err := db.conn.ExecContext(ctx, query, args...)
	metrics.RecordDBQuery(op, table, time.Since(start), err)
	return err
}

func closeQuietly(c io.Closer) {
	if c != nil {
		_ = c.Close()
	}
}
