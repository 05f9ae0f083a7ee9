// Curator - Media Collection Curation and Library Sync
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/curator

package api

import (
	"context"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/tomtom215/curator/internal/logging"
	"github.com/tomtom215/curator/internal/service"
	ws "github.com/tomtom215/curator/internal/websocket"
)

// Version is reported by the health endpoint. Set by main from build flags.
var Version = "dev"

// HealthCheck probes one dependency for readiness.
type HealthCheck func(ctx context.Context) error

// Handler holds the collaborators every endpoint needs.
type Handler struct {
	svc         *service.Service
	wsHub       *ws.Hub
	checks      map[string]HealthCheck
	corsOrigins []string
	startTime   time.Time
}

// NewHandler builds the handler set. hub and checks may be nil.
func NewHandler(svc *service.Service, hub *ws.Hub, checks map[string]HealthCheck, corsOrigins []string) *Handler {
	return &Handler{
		svc:         svc,
		wsHub:       hub,
		checks:      checks,
		corsOrigins: corsOrigins,
		startTime:   time.Now(),
	}
}

// WebSocket upgrades the request and registers the client with the hub.
func (h *Handler) WebSocket(w http.ResponseWriter, r *http.Request) {
	if h.wsHub == nil {
		NewResponseWriter(w, r).ServiceUnavailable("websocket service unavailable")
		return
	}

	upgrader := h.getUpgrader()
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error.
		logging.Ctx(r.Context()).Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	client := ws.NewClient(h.wsHub, conn)
	h.wsHub.Register <- client
	client.Start()
}

func (h *Handler) getUpgrader() websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:   1024,
		WriteBufferSize:  1024,
		CheckOrigin:      h.checkWebSocketOrigin,
		HandshakeTimeout: 10 * time.Second,
	}
}

// checkWebSocketOrigin accepts only configured origins. Browsers always send
// Origin on websocket handshakes, so a missing header is rejected.
func (h *Handler) checkWebSocketOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		logging.Ctx(r.Context()).Warn().Msg("websocket rejected: missing Origin header")
		return false
	}
	if slices.Contains(h.corsOrigins, "*") || slices.Contains(h.corsOrigins, origin) {
		return true
	}
	logging.Ctx(r.Context()).Warn().Str("origin", sanitizeLogValue(origin)).Msg("websocket rejected: origin not allowed")
	return false
}

// sanitizeLogValue strips control characters and caps length.
func sanitizeLogValue(s string) string {
	const maxLen = 200
	s = strings.Map(func(r rune) rune {
		if r < 0x20 || r == 0x7f {
			return -1
		}
		return r
	}, s)
	if len(s) > maxLen {
		s = s[:maxLen]
	}
	return s
}
