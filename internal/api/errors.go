// Curator - Media Collection Curation and Library Sync
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/curator

package api

import (
	"errors"
	"net/http"

	"github.com/tomtom215/curator/internal/background"
	"github.com/tomtom215/curator/internal/database"
	"github.com/tomtom215/curator/internal/logging"
	"github.com/tomtom215/curator/internal/queue"
	"github.com/tomtom215/curator/internal/refresh"
	"github.com/tomtom215/curator/internal/retry"
	"github.com/tomtom215/curator/internal/service"
	"github.com/tomtom215/curator/internal/store"
	"github.com/tomtom215/curator/internal/validation"
)

// writeError maps service-layer errors onto the response envelope. Only
// server-side failures are logged; messages of 5xx responses never carry
// the underlying error text.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	rw := NewResponseWriter(w, r)

	var verr *validation.Error
	if errors.As(err, &verr) {
		rw.ValidationError("request validation failed", verr.Details())
		return
	}

	switch {
	case errors.Is(err, store.ErrNotFound), database.IsNotFound(err):
		rw.NotFound("resource not found")
	case errors.Is(err, service.ErrUnknownServer):
		rw.NotFound("unknown library server")
	case errors.Is(err, background.ErrUnknownJob):
		rw.NotFound("unknown background job")
	case errors.Is(err, refresh.ErrInProgress),
		errors.Is(err, service.ErrSyncInProgress),
		errors.Is(err, background.ErrJobRunning):
		rw.Conflict(err.Error())
	case errors.Is(err, refresh.ErrManualCollection),
		errors.Is(err, service.ErrNotManual),
		errors.Is(err, service.ErrNoLibraryServer),
		errors.Is(err, queue.ErrBadPriority):
		rw.BadRequest(err.Error())
	case errors.Is(err, service.ErrUnavailable), errors.Is(err, background.ErrNotStarted):
		rw.ServiceUnavailable("feature not available")
	case isUpstream(err):
		logging.Ctx(r.Context()).Warn().Err(err).Str("path", r.URL.Path).Msg("upstream failure")
		rw.Error(http.StatusBadGateway, ErrCodeExternalServiceFail, "an external service failed")
	default:
		logging.Ctx(r.Context()).Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
		rw.InternalError("an internal error occurred")
	}
}

func isUpstream(err error) bool {
	var se *retry.HTTPStatusError
	return errors.As(err, &se) || retry.IsTransient(err)
}
