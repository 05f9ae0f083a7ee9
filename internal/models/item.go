// Curator - Media Collection Curation and Library Sync
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/curator

package models

import "time"

type MediaKind string

const (
	KindMovie MediaKind = "movie"
	KindShow  MediaKind = "show"
)

// Namespace is an external identifier system.
type Namespace string

const (
	NamespaceIMDB  Namespace = "imdb"
	NamespaceTMDB  Namespace = "tmdb"
	NamespaceTVDB  Namespace = "tvdb"
	NamespaceTrakt Namespace = "trakt"
)

// MatchNamespaces is the order identifier lookups are tried against a
// library server. Trakt ids are never indexed by library servers.
var MatchNamespaces = []Namespace{NamespaceIMDB, NamespaceTMDB, NamespaceTVDB}

// AllNamespaces is every namespace that participates in deduplication.
var AllNamespaces = []Namespace{NamespaceIMDB, NamespaceTMDB, NamespaceTVDB, NamespaceTrakt}

// Identifiers holds any subset of external ids for one title.
type Identifiers struct {
	IMDB  string `json:"imdb,omitempty"`
	TMDB  string `json:"tmdb,omitempty"`
	TVDB  string `json:"tvdb,omitempty"`
	Trakt string `json:"trakt,omitempty"`
}

// Get returns the id in namespace ns, or "".
func (ids Identifiers) Get(ns Namespace) string {
	switch ns {
	case NamespaceIMDB:
		return ids.IMDB
	case NamespaceTMDB:
		return ids.TMDB
	case NamespaceTVDB:
		return ids.TVDB
	case NamespaceTrakt:
		return ids.Trakt
	}
	return ""
}

// IsEmpty reports whether no namespace is populated.
func (ids Identifiers) IsEmpty() bool {
	return ids.IMDB == "" && ids.TMDB == "" && ids.TVDB == "" && ids.Trakt == ""
}

type EnrichmentStatus string

const (
	EnrichmentPending  EnrichmentStatus = "pending"
	EnrichmentEnriched EnrichmentStatus = "enriched"
	EnrichmentFailed   EnrichmentStatus = "failed"
)

// Enrichment tracks detail fetching for one item.
type Enrichment struct {
	Status    EnrichmentStatus `json:"status"`
	Attempts  int              `json:"attempts"`
	LastError string           `json:"last_error,omitempty"`
}

// RemotePresence records whether an item was found on one library server.
type RemotePresence struct {
	InLibrary    bool      `json:"in_library"`
	RemoteItemID string    `json:"remote_item_id,omitempty"`
	CheckedAt    time.Time `json:"checked_at"`
}

// CollectionItem is one title inside a collection.
type CollectionItem struct {
	ID           string      `json:"id"`
	CollectionID string      `json:"collection_id"`
	Position     int         `json:"position"`
	Kind         MediaKind   `json:"kind"`
	Title        string      `json:"title"`
	Year         int         `json:"year,omitempty"`
	Identifiers  Identifiers `json:"identifiers"`

	PosterRef   string   `json:"poster_ref,omitempty"`
	BackdropRef string   `json:"backdrop_ref,omitempty"`
	Rating      *float64 `json:"rating,omitempty"`
	RatingCount *int     `json:"rating_count,omitempty"`

	Enrichment Enrichment `json:"enrichment"`

	// Remote is keyed by library server id.
	Remote map[string]RemotePresence `json:"remote,omitempty"`
}

// SetRemote records presence on serverID.
func (it *CollectionItem) SetRemote(serverID string, p RemotePresence) {
	if it.Remote == nil {
		it.Remote = make(map[string]RemotePresence)
	}
	it.Remote[serverID] = p
}

// LibraryItem is a catalog entry on a remote library server.
type LibraryItem struct {
	ID          string      `json:"id"`
	Title       string      `json:"title"`
	Year        int         `json:"year,omitempty"`
	Kind        MediaKind   `json:"kind"`
	Identifiers Identifiers `json:"identifiers"`
}
