// Curator - Media Collection Curation and Library Sync
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/curator

/*
Package main is the entry point for the Curator server.

Curator keeps named media collections in sync with Trakt lists, enriches
their items from TMDB, and pushes each collection to Jellyfin, Emby and
Plex servers as a native collection.

# Process layout

	RootSupervisor ("curator")
	├── data-layer
	│   └── store-gc (badger value-log GC)
	├── worker-layer
	│   ├── job-queue (enrich-item, refresh-collection, sync-collection)
	│   ├── progress-tracker
	│   ├── schedule-manager (per-collection refresh timers)
	│   └── background-jobs (collection-sweep, library-sync, enrichment-recovery)
	└── api-layer
	    ├── websocket-hub
	    └── http-server

# Configuration

Configuration comes from built-in defaults, an optional YAML file
(CONFIG_PATH, default ./config.yaml) and environment variables, in rising
order of precedence. Common variables:

	HTTP_PORT=8787
	STORE_PATH=/data/curator
	DUCKDB_PATH=/data/curator-runs.duckdb
	TRAKT_CLIENT_ID=...
	TMDB_API_KEY=...
	TZ=Europe/Berlin

Library servers are listed under servers: in the YAML file.

# Signals

SIGINT and SIGTERM cancel the root context. Each supervised service gets
the configured shutdown timeout, after which the store and run log are
closed.
*/
package main
