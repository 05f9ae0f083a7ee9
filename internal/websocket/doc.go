// Curator - Media Collection Curation and Library Sync
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/curator

/*
Package websocket streams live curation events to connected clients.

The hub fans every message out to all registered clients, honoring each
client's collection subscription. Each client owns two goroutines: readPump
answers application pings, records subscriptions and detects disconnects,
while writePump drains the send buffer and keeps the connection alive with
protocol pings.

	┌──────────┐
	│   Hub    │ ← Broadcast*
	└────┬─────┘
	     │
	┌────┴─────┬─────────┐
	│ Client1  │ Client2 │ ...
	└──────────┴─────────┘

Message types:

  - enrichment_progress: per-collection enrichment counters
  - refresh_completed: a collection snapshot was replaced from its provider
  - sync_completed: a collection was reconciled against one library server
  - ping / pong: application keepalive initiated by the client
  - subscribe: sent by a client with {"collection_id": "..."} to receive
    only that collection's progress, refresh and sync messages; an empty
    id restores the full feed

Slow clients whose send buffer is full are dropped rather than blocking the
hub. Broadcasts never block the caller: when the hub's own buffer is full
the message is discarded and a warning is logged.

The hub runs as a supervised service through RunWithContext, which closes
every client when the context is canceled.
*/
package websocket
