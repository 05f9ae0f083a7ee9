// Curator - Media Collection Curation and Library Sync
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/curator

package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/tomtom215/curator/internal/models"
)

func (h *Handler) ListCollections(w http.ResponseWriter, r *http.Request) {
	cols, err := h.svc.ListCollections(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	NewResponseWriter(w, r).Success(cols)
}

func (h *Handler) CreateCollection(w http.ResponseWriter, r *http.Request) {
	var in models.CollectionInput
	if err := decodeJSON(w, r, &in); err != nil {
		NewResponseWriter(w, r).BadRequest(err.Error())
		return
	}
	c, err := h.svc.CreateCollection(r.Context(), &in)
	if err != nil {
		writeError(w, r, err)
		return
	}
	NewResponseWriter(w, r).Created(c)
}

func (h *Handler) GetCollection(w http.ResponseWriter, r *http.Request) {
	c, err := h.svc.GetCollection(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	NewResponseWriter(w, r).Success(c)
}

func (h *Handler) UpdateCollection(w http.ResponseWriter, r *http.Request) {
	var in models.CollectionInput
	if err := decodeJSON(w, r, &in); err != nil {
		NewResponseWriter(w, r).BadRequest(err.Error())
		return
	}
	c, err := h.svc.UpdateCollection(r.Context(), chi.URLParam(r, "id"), &in)
	if err != nil {
		writeError(w, r, err)
		return
	}
	NewResponseWriter(w, r).Success(c)
}

func (h *Handler) DeleteCollection(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.DeleteCollection(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeError(w, r, err)
		return
	}
	NewResponseWriter(w, r).NoContent()
}

func (h *Handler) ListItems(w http.ResponseWriter, r *http.Request) {
	items, err := h.svc.ListItems(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	NewResponseWriter(w, r).Success(items)
}

// SetItems replaces the items of a manual collection.
func (h *Handler) SetItems(w http.ResponseWriter, r *http.Request) {
	var in []models.ItemInput
	if err := decodeJSON(w, r, &in); err != nil {
		NewResponseWriter(w, r).BadRequest(err.Error())
		return
	}
	items, err := h.svc.SetItems(r.Context(), chi.URLParam(r, "id"), in)
	if err != nil {
		writeError(w, r, err)
		return
	}
	NewResponseWriter(w, r).Success(items)
}
