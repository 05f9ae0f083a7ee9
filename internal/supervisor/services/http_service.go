// Curator - Media Collection Curation and Library Sync
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/curator

package services

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/tomtom215/curator/internal/logging"
)

const defaultShutdownTimeout = 10 * time.Second

// HTTPServerService binds the API listener, serves until its context ends
// and then drains in-flight requests.
//
// The listener is opened inside Serve so a bind failure surfaces as a
// service error and suture retries it with backoff.
type HTTPServerService struct {
	server          *http.Server
	shutdownTimeout time.Duration

	mu   sync.Mutex
	addr net.Addr
}

// NewHTTPServerService wraps server. A non-positive timeout uses 10s.
func NewHTTPServerService(server *http.Server, shutdownTimeout time.Duration) *HTTPServerService {
	if shutdownTimeout <= 0 {
		shutdownTimeout = defaultShutdownTimeout
	}
	return &HTTPServerService{server: server, shutdownTimeout: shutdownTimeout}
}

// Addr is the bound address, or nil while not listening.
func (h *HTTPServerService) Addr() net.Addr {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.addr
}

func (h *HTTPServerService) setAddr(a net.Addr) {
	h.mu.Lock()
	h.addr = a
	h.mu.Unlock()
}

func (h *HTTPServerService) Serve(ctx context.Context) error {
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", h.server.Addr)
	if err != nil {
		return fmt.Errorf("http listen %s: %w", h.server.Addr, err)
	}
	h.setAddr(ln.Addr())
	defer h.setAddr(nil)
	logging.Info().Str("addr", ln.Addr().String()).Msg("HTTP server listening")

	served := make(chan error, 1)
	go func() { served <- h.server.Serve(ln) }()

	select {
	case err := <-served:
		if errors.Is(err, http.ErrServerClosed) {
			// Closed from outside the tree; report it so suture notices.
			return errors.New("http server closed while supervised")
		}
		return fmt.Errorf("http serve: %w", err)
	case <-ctx.Done():
	}

	drainCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), h.shutdownTimeout)
	defer cancel()
	if err := h.server.Shutdown(drainCtx); err != nil {
		logging.Warn().Err(err).Msg("HTTP server did not drain in time")
		_ = h.server.Close()
	}
	<-served
	return ctx.Err()
}

func (h *HTTPServerService) String() string {
	return "http-server"
}
