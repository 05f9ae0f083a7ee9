// Curator - Media Collection Curation and Library Sync
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/curator

/*
Package api is the HTTP surface over the service layer.

Every JSON response uses one envelope:

	{"success": true,  "data": ..., "meta": {"request_id": "...", "timestamp": "...", "duration_ms": 3}}
	{"success": false, "error": {"code": "NOT_FOUND", "message": "..."}, "meta": {...}}

Routes (all under /api/v1 unless noted):

	GET    /health, /health/live, /health/ready
	GET    /collections                         POST /collections
	GET    /collections/{id}                    PUT  /collections/{id}    DELETE /collections/{id}
	GET    /collections/{id}/items              PUT  /collections/{id}/items (manual only)
	POST   /collections/{id}/refresh[?async=true]
	GET    /collections/{id}/refresh-history
	POST   /collections/{id}/sync               POST /collections/{id}/sync/{server}
	GET    /collections/{id}/progress
	POST   /sync                                (runs the library-sync job now)
	GET    /sync-history, /sync-history/summary
	GET    /progress
	GET    /queue, /queue/jobs, /queue/jobs/{id}  POST /queue/pause, /queue/resume
	GET    /schedules
	GET    /jobs                                POST /jobs/{name}/enable|disable|trigger
	GET    /servers
	GET    /ws                                  websocket event stream
	GET    /metrics                             (root) Prometheus exposition

Middleware order: RequestID, AccessLog, RealIP, Recoverer, CORS, then per
group rate limiting, security headers and Prometheus instrumentation.
*/
package api
