// Curator - Media Collection Curation and Library Sync
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/curator

package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tomtom215/curator/internal/middleware"
)

// Router wires handlers to routes.
type Router struct {
	handler       *Handler
	chiMiddleware *ChiMiddleware
}

func NewRouter(handler *Handler, mw *ChiMiddleware) *Router {
	if mw == nil {
		mw = NewChiMiddleware(nil)
	}
	return &Router{handler: handler, chiMiddleware: mw}
}

// chiMiddleware adapts http.HandlerFunc middleware to Chi's func(http.Handler) http.Handler.
func chiMiddleware(mw func(http.HandlerFunc) http.HandlerFunc) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return mw(next.ServeHTTP)
	}
}

// Setup builds the full route tree.
func (router *Router) Setup() http.Handler {
	r := chi.NewRouter()
	h := router.handler

	r.Use(chiMiddleware(middleware.RequestID))
	r.Use(chiMiddleware(middleware.AccessLog))
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(router.chiMiddleware.CORS())

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		NewResponseWriter(w, r).NotFound("route not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		NewResponseWriter(w, r).Error(http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "method not allowed")
	})

	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1/health", func(r chi.Router) {
		r.Use(router.chiMiddleware.RateLimitHealth())
		r.Use(APISecurityHeaders())
		r.Get("/", h.Health)
		r.Get("/live", h.HealthLive)
		r.Get("/ready", h.HealthReady)
	})

	r.With(router.chiMiddleware.RateLimitWebSocket()).Get("/api/v1/ws", h.WebSocket)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(router.chiMiddleware.RateLimit())
		r.Use(APISecurityHeaders())
		r.Use(chiMiddleware(middleware.PrometheusMetrics))

		r.Route("/collections", func(r chi.Router) {
			r.Get("/", h.ListCollections)
			r.Post("/", h.CreateCollection)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", h.GetCollection)
				r.Put("/", h.UpdateCollection)
				r.Delete("/", h.DeleteCollection)
				r.Get("/items", h.ListItems)
				r.Put("/items", h.SetItems)
				r.Get("/progress", h.CollectionProgress)
				r.Get("/refresh-history", h.RefreshHistory)

				r.Group(func(r chi.Router) {
					r.Use(router.chiMiddleware.RateLimitSync())
					r.Post("/refresh", h.Refresh)
					r.Post("/sync", h.SyncCollection)
					r.Post("/sync/{server}", h.SyncCollectionServer)
				})
			})
		})

		r.With(router.chiMiddleware.RateLimitSync()).Post("/sync", h.SyncAll)
		r.Get("/sync-history", h.SyncHistory)
		r.Get("/sync-history/summary", h.SyncSummary)
		r.Get("/progress", h.AllProgress)

		r.Route("/queue", func(r chi.Router) {
			r.Get("/", h.QueueStats)
			r.Get("/jobs", h.ListJobs)
			r.Get("/jobs/{id}", h.GetJob)
			r.Post("/pause", h.PauseQueue)
			r.Post("/resume", h.ResumeQueue)
		})

		r.Get("/schedules", h.Schedules)

		r.Route("/jobs", func(r chi.Router) {
			r.Get("/", h.BackgroundJobs)
			r.Post("/{name}/enable", h.EnableJob)
			r.Post("/{name}/disable", h.DisableJob)
			r.Post("/{name}/trigger", h.TriggerJob)
		})

		r.Get("/servers", h.Servers)
	})

	return r
}
