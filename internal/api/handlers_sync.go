// Curator - Media Collection Curation and Library Sync
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/curator

package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/tomtom215/curator/internal/service"
)

// Refresh pulls the collection's list now. With ?async=true the refresh is
// queued at high priority and the job id is returned with 202.
func (h *Handler) Refresh(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if getBoolParam(r, "async") {
		jobID, err := h.svc.EnqueueRefresh(r.Context(), id, service.ReasonManual)
		if err != nil {
			writeError(w, r, err)
			return
		}
		NewResponseWriter(w, r).Accepted(map[string]string{"job_id": jobID})
		return
	}

	res, err := h.svc.RefreshNow(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	NewResponseWriter(w, r).Success(res)
}

func (h *Handler) RefreshHistory(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := h.svc.GetCollection(r.Context(), id); err != nil {
		writeError(w, r, err)
		return
	}
	runs, err := h.svc.RefreshHistory(r.Context(), id, getIntParam(r, "limit", 20))
	if err != nil {
		writeError(w, r, err)
		return
	}
	NewResponseWriter(w, r).Success(runs)
}

// SyncCollection reconciles the collection with every server it targets.
func (h *Handler) SyncCollection(w http.ResponseWriter, r *http.Request) {
	results, err := h.svc.ReconcileCollection(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	NewResponseWriter(w, r).Success(results)
}

func (h *Handler) SyncCollectionServer(w http.ResponseWriter, r *http.Request) {
	res, err := h.svc.Reconcile(r.Context(), chi.URLParam(r, "id"), chi.URLParam(r, "server"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	NewResponseWriter(w, r).Success(res)
}

// SyncAll runs the library-sync background job now. It returns before the
// job finishes; progress arrives over the websocket as sync_completed.
func (h *Handler) SyncAll(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.TriggerJob(service.JobLibrarySync); err != nil {
		writeError(w, r, err)
		return
	}
	NewResponseWriter(w, r).Accepted(map[string]string{"job": service.JobLibrarySync})
}

func (h *Handler) SyncHistory(w http.ResponseWriter, r *http.Request) {
	f, req, err := parseSyncHistory(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	runs, err := h.svc.SyncHistory(r.Context(), f)
	if err != nil {
		writeError(w, r, err)
		return
	}
	NewResponseWriter(w, r).SuccessWithPagination(runs, &PaginationMeta{
		Count:   len(runs),
		Offset:  req.Offset,
		Limit:   req.Limit,
		HasMore: len(runs) == req.Limit,
	})
}

func (h *Handler) SyncSummary(w http.ResponseWriter, r *http.Request) {
	sum, err := h.svc.SyncSummary(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	NewResponseWriter(w, r).Success(sum)
}

func (h *Handler) CollectionProgress(w http.ResponseWriter, r *http.Request) {
	p, err := h.svc.Progress(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	NewResponseWriter(w, r).Success(p)
}

func (h *Handler) AllProgress(w http.ResponseWriter, r *http.Request) {
	NewResponseWriter(w, r).Success(h.svc.AllProgress())
}
