// Curator - Media Collection Curation and Library Sync
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/curator

package middleware

import (
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/tomtom215/curator/internal/logging"
)

// AccessLog writes one line per request. Server errors log at warn,
// health probes and metrics scrapes at debug.
func AccessLog(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}
		next(rec, r)

		log := logging.Ctx(r.Context())
		var ev *zerolog.Event
		switch {
		case rec.statusCode >= http.StatusInternalServerError:
			ev = log.Warn()
		case isQuietPath(r.URL.Path):
			ev = log.Debug()
		default:
			ev = log.Info()
		}
		ev.Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", rec.statusCode).
			Str("remote_addr", r.RemoteAddr).
			Dur("duration", time.Since(start)).
			Msg("http request")
	}
}

func isQuietPath(p string) bool {
	switch p {
	case "/metrics", "/api/v1/health", "/api/v1/health/live", "/api/v1/health/ready":
		return true
	}
	return false
}
