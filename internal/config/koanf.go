// Curator - Media Collection Curation and Library Sync
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/curator

package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// DefaultConfigPaths are searched in order; the first existing file wins.
var DefaultConfigPaths = []string{
	"config.yaml",
	"config.yml",
	"/etc/curator/config.yaml",
	"/etc/curator/config.yml",
}

// ConfigPathEnvVar overrides the config file location.
const ConfigPathEnvVar = "CONFIG_PATH"

func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:        "0.0.0.0",
			Port:        8787,
			Timeout:     30 * time.Second,
			Environment: "development",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Store: StoreConfig{
			Path: "/data/curator",
		},
		Database: DatabaseConfig{
			Path:      "/data/curator-runs.duckdb",
			MaxMemory: "512MB",
		},
		Queue: QueueConfig{
			Concurrency:        3,
			PollInterval:       100 * time.Millisecond,
			DefaultMaxAttempts: 3,
			EventBuffer:        256,
			Retention:          time.Hour,
		},
		Scheduler: SchedulerConfig{
			SweepInterval: time.Hour,
			DueTolerance:  5 * time.Minute,
			MinRefreshGap: 30 * time.Minute,
			Timezone:      "UTC",
		},
		Retry: RetryConfig{
			BaseDelay:        time.Second,
			MaxDelay:         30 * time.Second,
			Multiplier:       2,
			Jitter:           0.1,
			ProviderAttempts: 3,
			LibraryAttempts:  3,
		},
		Trakt: TraktConfig{
			BaseURL:   "https://api.trakt.tv",
			RateLimit: 3,
		},
		TMDB: TMDBConfig{
			BaseURL:      "https://api.themoviedb.org",
			ImageBaseURL: "https://image.tmdb.org/t/p",
		},
		Servers: []ServerTarget{},
		Sync: SyncConfig{
			MatchedLimit:         100,
			ErrorLimit:           50,
			ReconcileConcurrency: 2,
			ImagesDir:            "/data/posters",
			AutoSyncAfterRefresh: true,
		},
		Jobs: JobsConfig{
			SweepEnabled:           true,
			LibrarySyncEnabled:     false,
			LibrarySyncInterval:    6 * time.Hour,
			EnrichRecoveryEnabled:  true,
			EnrichRecoveryInterval: 30 * time.Minute,
		},
		Security: SecurityConfig{
			CORSOrigins:     []string{"*"},
			RateLimitReqs:   100,
			RateLimitWindow: time.Minute,
		},
	}
}

// LoadWithKoanf builds the configuration from defaults, the optional YAML
// file and the environment, then validates it.
func LoadWithKoanf() (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if path := findConfigFile(); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider("", ".", envTransformFunc), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	if err := processSliceFields(k); err != nil {
		return nil, fmt.Errorf("failed to process slice fields: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

func findConfigFile() string {
	if p := os.Getenv(ConfigPathEnvVar); p != "" {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	for _, p := range DefaultConfigPaths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

var sliceConfigPaths = []string{
	"security.cors_origins",
}

// processSliceFields splits comma-separated env values for slice fields.
// Values already decoded as lists (from YAML) are left alone.
func processSliceFields(k *koanf.Koanf) error {
	for _, path := range sliceConfigPaths {
		raw, ok := k.Get(path).(string)
		if !ok || raw == "" {
			continue
		}
		var parts []string
		for _, p := range strings.Split(raw, ",") {
			if p = strings.TrimSpace(p); p != "" {
				parts = append(parts, p)
			}
		}
		if len(parts) == 0 {
			continue
		}
		if err := k.Set(path, parts); err != nil {
			return fmt.Errorf("failed to set %s: %w", path, err)
		}
	}
	return nil
}

// envMappings maps environment variable names (lowercased) to koanf paths.
// Anything not listed is ignored so unrelated variables cannot leak in.
var envMappings = map[string]string{
	"http_host":    "server.host",
	"http_port":    "server.port",
	"http_timeout": "server.timeout",
	"environment":  "server.environment",

	"log_level":  "logging.level",
	"log_format": "logging.format",
	"log_caller": "logging.caller",

	"store_path":      "store.path",
	"store_in_memory": "store.in_memory",

	"duckdb_path":       "database.path",
	"duckdb_max_memory": "database.max_memory",
	"duckdb_threads":    "database.threads",

	"queue_concurrency":          "queue.concurrency",
	"queue_poll_interval":        "queue.poll_interval",
	"queue_default_max_attempts": "queue.default_max_attempts",
	"queue_event_buffer":         "queue.event_buffer",
	"queue_retention":            "queue.retention",

	"scheduler_sweep_interval":  "scheduler.sweep_interval",
	"scheduler_due_tolerance":   "scheduler.due_tolerance",
	"scheduler_min_refresh_gap": "scheduler.min_refresh_gap",
	"tz":                        "scheduler.timezone",

	"retry_base_delay":        "retry.base_delay",
	"retry_max_delay":         "retry.max_delay",
	"retry_multiplier":        "retry.multiplier",
	"retry_jitter":            "retry.jitter",
	"retry_provider_attempts": "retry.provider_attempts",
	"retry_library_attempts":  "retry.library_attempts",

	"trakt_base_url":     "trakt.base_url",
	"trakt_client_id":    "trakt.client_id",
	"trakt_access_token": "trakt.access_token",
	"trakt_rate_limit":   "trakt.rate_limit",

	"tmdb_base_url":       "tmdb.base_url",
	"tmdb_image_base_url": "tmdb.image_base_url",
	"tmdb_api_key":        "tmdb.api_key",

	"sync_matched_limit":         "sync.matched_limit",
	"sync_error_limit":           "sync.error_limit",
	"sync_reconcile_concurrency": "sync.reconcile_concurrency",
	"sync_images_dir":            "sync.images_dir",
	"sync_auto_after_refresh":    "sync.auto_sync_after_refresh",

	"job_sweep_enabled":            "jobs.sweep_enabled",
	"job_library_sync_enabled":     "jobs.library_sync_enabled",
	"job_library_sync_interval":    "jobs.library_sync_interval",
	"job_enrich_recovery_enabled":  "jobs.enrich_recovery_enabled",
	"job_enrich_recovery_interval": "jobs.enrich_recovery_interval",

	"cors_origins":        "security.cors_origins",
	"rate_limit_requests": "security.rate_limit_reqs",
	"rate_limit_window":   "security.rate_limit_window",
	"disable_rate_limit":  "security.rate_limit_disabled",
}

func envTransformFunc(key string) string {
	return envMappings[strings.ToLower(key)]
}
