// Curator - Media Collection Curation and Library Sync
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/curator

package api

import (
	"context"
	"net/http"
	"slices"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/tomtom215/curator/internal/queue"
)

// healthCheckTimeout bounds every dependency probe.
const healthCheckTimeout = 3 * time.Second

// HealthStatus is the body of /health.
type HealthStatus struct {
	Status  string            `json:"status"`
	Version string            `json:"version"`
	Uptime  float64           `json:"uptime_seconds"`
	Checks  map[string]string `json:"checks"`
	Queue   queue.Stats       `json:"queue"`
	Clients int               `json:"websocket_clients"`
}

func (h *Handler) runChecks(ctx context.Context) (map[string]string, bool) {
	out := make(map[string]string, len(h.checks))
	ok := true
	names := make([]string, 0, len(h.checks))
	for name := range h.checks {
		names = append(names, name)
	}
	slices.Sort(names)
	for _, name := range names {
		cctx, cancel := context.WithTimeout(ctx, healthCheckTimeout)
		err := h.checks[name](cctx)
		cancel()
		if err != nil {
			out[name] = "error: " + err.Error()
			ok = false
			continue
		}
		out[name] = "ok"
	}
	return out, ok
}

// Health reports overall status. It always answers 200; use /health/ready
// for a status-coded probe.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	checks, ok := h.runChecks(r.Context())
	status := "healthy"
	if !ok {
		status = "degraded"
	}
	hs := HealthStatus{
		Status:  status,
		Version: Version,
		Uptime:  time.Since(h.startTime).Seconds(),
		Checks:  checks,
		Queue:   h.svc.QueueStats(),
	}
	if h.wsHub != nil {
		hs.Clients = h.wsHub.GetClientCount()
	}
	NewResponseWriter(w, r).Success(hs)
}

func (h *Handler) HealthLive(w http.ResponseWriter, r *http.Request) {
	NewResponseWriter(w, r).Success(map[string]any{
		"alive":  true,
		"uptime": time.Since(h.startTime).Seconds(),
	})
}

// HealthReady answers 503 while any dependency check fails.
func (h *Handler) HealthReady(w http.ResponseWriter, r *http.Request) {
	checks, ok := h.runChecks(r.Context())
	rw := NewResponseWriter(w, r)
	if !ok {
		rw.ErrorWithDetails(http.StatusServiceUnavailable, ErrCodeServiceUnavailable, "not ready", checks)
		return
	}
	rw.Success(map[string]any{"ready": true, "checks": checks})
}

func (h *Handler) QueueStats(w http.ResponseWriter, r *http.Request) {
	NewResponseWriter(w, r).Success(h.svc.QueueStats())
}

func (h *Handler) ListJobs(w http.ResponseWriter, r *http.Request) {
	f, err := parseJobList(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	NewResponseWriter(w, r).Success(h.svc.ListJobs(f))
}

func (h *Handler) GetJob(w http.ResponseWriter, r *http.Request) {
	job, ok := h.svc.GetJob(chi.URLParam(r, "id"))
	if !ok {
		NewResponseWriter(w, r).NotFound("job not found")
		return
	}
	NewResponseWriter(w, r).Success(job)
}

func (h *Handler) PauseQueue(w http.ResponseWriter, r *http.Request) {
	h.svc.PauseQueue()
	NewResponseWriter(w, r).Success(h.svc.QueueStats())
}

func (h *Handler) ResumeQueue(w http.ResponseWriter, r *http.Request) {
	h.svc.ResumeQueue()
	NewResponseWriter(w, r).Success(h.svc.QueueStats())
}

func (h *Handler) Schedules(w http.ResponseWriter, r *http.Request) {
	NewResponseWriter(w, r).Success(h.svc.ScheduleStatus())
}

func (h *Handler) BackgroundJobs(w http.ResponseWriter, r *http.Request) {
	NewResponseWriter(w, r).Success(h.svc.Jobs())
}

func (h *Handler) EnableJob(w http.ResponseWriter, r *http.Request) {
	h.setJobEnabled(w, r, true)
}

func (h *Handler) DisableJob(w http.ResponseWriter, r *http.Request) {
	h.setJobEnabled(w, r, false)
}

func (h *Handler) setJobEnabled(w http.ResponseWriter, r *http.Request, enabled bool) {
	name := chi.URLParam(r, "name")
	if err := h.svc.SetJobEnabled(name, enabled); err != nil {
		writeError(w, r, err)
		return
	}
	NewResponseWriter(w, r).Success(map[string]any{"name": name, "enabled": enabled})
}

func (h *Handler) TriggerJob(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if err := h.svc.TriggerJob(name); err != nil {
		writeError(w, r, err)
		return
	}
	NewResponseWriter(w, r).Accepted(map[string]string{"job": name})
}

func (h *Handler) Servers(w http.ResponseWriter, r *http.Request) {
	NewResponseWriter(w, r).Success(h.svc.Servers(r.Context()))
}
