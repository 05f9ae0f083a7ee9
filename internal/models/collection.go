// Curator - Media Collection Curation and Library Sync
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/curator

// Package models holds the domain types shared across Curator packages.
package models

import "time"

// CollectionSource says where a collection's items come from.
type CollectionSource string

const (
	SourceTraktList      CollectionSource = "trakt_list"
	SourceTraktWatchlist CollectionSource = "trakt_watchlist"
	SourceManual         CollectionSource = "manual"
)

// Collection is a named, ordered set of titles sourced from one list
// provider or curated by hand.
type Collection struct {
	ID          string           `json:"id"`
	Name        string           `json:"name"`
	Description string           `json:"description,omitempty"`
	Source      CollectionSource `json:"source"`
	SourceRef   string           `json:"source_ref,omitempty"`

	AutoRefresh          bool       `json:"auto_refresh"`
	RefreshIntervalHours int        `json:"refresh_interval_hours"`
	RefreshTime          string     `json:"refresh_time"`
	LastSyncAt           *time.Time `json:"last_sync_at,omitempty"`

	// PosterPath is a local image uploaded as the remote collection's
	// primary image after reconciliation.
	PosterPath string `json:"poster_path,omitempty"`

	// Targets lists server ids this collection is pushed to. Empty means
	// every configured server.
	Targets []string `json:"targets,omitempty"`

	ItemCount int       `json:"item_count"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// IsManual reports whether the collection is curated by hand.
func (c *Collection) IsManual() bool {
	return c.Source == SourceManual
}

// Schedulable reports whether the collection should have a refresh timer.
func (c *Collection) Schedulable() bool {
	return !c.IsManual() && c.AutoRefresh && c.RefreshIntervalHours > 0
}

// ListRef is the provider list reference for this collection.
func (c *Collection) ListRef() string {
	if c.Source == SourceTraktWatchlist {
		return "watchlist"
	}
	return c.SourceRef
}

// TargetsServer reports whether serverID is one of the collection's targets.
func (c *Collection) TargetsServer(serverID string) bool {
	if len(c.Targets) == 0 {
		return true
	}
	for _, t := range c.Targets {
		if t == serverID {
			return true
		}
	}
	return false
}

// CollectionInput is the create/update payload accepted by the API.
type CollectionInput struct {
	Name                 string           `json:"name" validate:"required,max=200"`
	Description          string           `json:"description" validate:"max=2000"`
	Source               CollectionSource `json:"source" validate:"required,oneof=trakt_list trakt_watchlist manual"`
	SourceRef            string           `json:"source_ref" validate:"omitempty,listref"`
	AutoRefresh          bool             `json:"auto_refresh"`
	RefreshIntervalHours int              `json:"refresh_interval_hours" validate:"gte=0,lte=8760"`
	RefreshTime          string           `json:"refresh_time" validate:"omitempty,timeofday"`
	PosterPath           string           `json:"poster_path" validate:"max=1024"`
	Targets              []string         `json:"targets" validate:"omitempty,unique,dive,required"`
}

// ItemInput is one hand-curated title for a manual collection.
type ItemInput struct {
	Kind        MediaKind   `json:"kind" validate:"required,oneof=movie show"`
	Title       string      `json:"title" validate:"required,max=500"`
	Year        int         `json:"year" validate:"gte=0,lte=3000"`
	Identifiers Identifiers `json:"identifiers"`
}
