// Curator - Media Collection Curation and Library Sync
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/curator

// Package config loads Curator configuration from built-in defaults, an
// optional YAML file and environment variables, in that order of precedence
// (ENV > file > defaults). See LoadWithKoanf.
package config

import "time"

// Config is the full application configuration.
type Config struct {
	Server    ServerConfig    `koanf:"server"`
	Logging   LoggingConfig   `koanf:"logging"`
	Store     StoreConfig     `koanf:"store"`
	Database  DatabaseConfig  `koanf:"database"`
	Queue     QueueConfig     `koanf:"queue"`
	Scheduler SchedulerConfig `koanf:"scheduler"`
	Retry     RetryConfig     `koanf:"retry"`
	Trakt     TraktConfig     `koanf:"trakt"`
	TMDB      TMDBConfig      `koanf:"tmdb"`
	Servers   []ServerTarget  `koanf:"servers" validate:"dive"`
	Sync      SyncConfig      `koanf:"sync"`
	Jobs      JobsConfig      `koanf:"jobs"`
	Security  SecurityConfig  `koanf:"security"`
}

type ServerConfig struct {
	Host        string        `koanf:"host"`
	Port        int           `koanf:"port" validate:"gte=1,lte=65535"`
	Timeout     time.Duration `koanf:"timeout"`
	Environment string        `koanf:"environment" validate:"oneof=development staging production"`
}

type LoggingConfig struct {
	Level  string `koanf:"level" validate:"oneof=trace debug info warn error"`
	Format string `koanf:"format" validate:"oneof=json console"`
	Caller bool   `koanf:"caller"`
}

// StoreConfig locates the badger directory holding collections and items.
type StoreConfig struct {
	Path     string `koanf:"path"`
	InMemory bool   `koanf:"in_memory"`
}

// DatabaseConfig configures the DuckDB run log.
type DatabaseConfig struct {
	Path      string `koanf:"path"`
	MaxMemory string `koanf:"max_memory"`
	Threads   int    `koanf:"threads" validate:"gte=0"`
}

type QueueConfig struct {
	Concurrency        int           `koanf:"concurrency" validate:"gte=1,lte=64"`
	PollInterval       time.Duration `koanf:"poll_interval"`
	DefaultMaxAttempts int           `koanf:"default_max_attempts" validate:"gte=1"`
	EventBuffer        int           `koanf:"event_buffer" validate:"gte=1"`
	Retention          time.Duration `koanf:"retention"`
}

type SchedulerConfig struct {
	SweepInterval time.Duration `koanf:"sweep_interval"`
	DueTolerance  time.Duration `koanf:"due_tolerance"`
	MinRefreshGap time.Duration `koanf:"min_refresh_gap"`
	Timezone      string        `koanf:"timezone"`
}

// RetryConfig holds the backoff formula shared by the queue and every
// external call site.
type RetryConfig struct {
	BaseDelay        time.Duration `koanf:"base_delay"`
	MaxDelay         time.Duration `koanf:"max_delay"`
	Multiplier       float64       `koanf:"multiplier" validate:"gte=1"`
	Jitter           float64       `koanf:"jitter" validate:"gte=0,lt=1"`
	ProviderAttempts int           `koanf:"provider_attempts" validate:"gte=1"`
	LibraryAttempts  int           `koanf:"library_attempts" validate:"gte=1"`
}

type TraktConfig struct {
	BaseURL     string  `koanf:"base_url"`
	ClientID    string  `koanf:"client_id"`
	AccessToken string  `koanf:"access_token"`
	RateLimit   float64 `koanf:"rate_limit" validate:"gt=0"`
}

type TMDBConfig struct {
	BaseURL      string `koanf:"base_url"`
	ImageBaseURL string `koanf:"image_base_url"`
	APIKey       string `koanf:"api_key"`
}

// Library server flavors.
const (
	ServerTypeJellyfin = "jellyfin"
	ServerTypeEmby     = "emby"
	ServerTypePlex     = "plex"
)

// ServerTarget is one remote library server collections can be pushed to.
type ServerTarget struct {
	ID     string `koanf:"id" validate:"required"`
	Name   string `koanf:"name"`
	Type   string `koanf:"type" validate:"oneof=jellyfin emby plex"`
	URL    string `koanf:"url" validate:"required"`
	Token  string `koanf:"token" validate:"required"`
	UserID string `koanf:"user_id"`
}

type SyncConfig struct {
	MatchedLimit         int    `koanf:"matched_limit" validate:"gte=1"`
	ErrorLimit           int    `koanf:"error_limit" validate:"gte=1"`
	ReconcileConcurrency int    `koanf:"reconcile_concurrency" validate:"gte=1"`
	ImagesDir            string `koanf:"images_dir"`
	AutoSyncAfterRefresh bool   `koanf:"auto_sync_after_refresh"`
}

// JobsConfig toggles the named background jobs at startup. They can be
// flipped at runtime through the API.
type JobsConfig struct {
	SweepEnabled           bool          `koanf:"sweep_enabled"`
	LibrarySyncEnabled     bool          `koanf:"library_sync_enabled"`
	LibrarySyncInterval    time.Duration `koanf:"library_sync_interval"`
	EnrichRecoveryEnabled  bool          `koanf:"enrich_recovery_enabled"`
	EnrichRecoveryInterval time.Duration `koanf:"enrich_recovery_interval"`
}

type SecurityConfig struct {
	CORSOrigins       []string      `koanf:"cors_origins"`
	RateLimitReqs     int           `koanf:"rate_limit_reqs"`
	RateLimitWindow   time.Duration `koanf:"rate_limit_window"`
	RateLimitDisabled bool          `koanf:"rate_limit_disabled"`
}

// Target returns the configured library server with the given id.
func (c *Config) Target(id string) (ServerTarget, bool) {
	for _, s := range c.Servers {
		if s.ID == id {
			return s, true
		}
	}
	return ServerTarget{}, false
}

// IsProduction reports whether the server runs with environment=production.
func (c *Config) IsProduction() bool {
	return c.Server.Environment == "production"
}
