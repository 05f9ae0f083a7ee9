// Curator - Media Collection Curation and Library Sync
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/curator

package models

import "time"

type SyncStatus string

const (
	SyncSuccess SyncStatus = "success"
	SyncPartial SyncStatus = "partial"
	SyncFailed  SyncStatus = "failed"
)

// MatchMethod says which step of the lookup chain found an item.
type MatchMethod string

const (
	MatchIMDB  MatchMethod = "imdb"
	MatchTMDB  MatchMethod = "tmdb"
	MatchTVDB  MatchMethod = "tvdb"
	MatchExact MatchMethod = "title_exact"
	MatchFuzzy MatchMethod = "title_fuzzy"
)

// MatchedItem summarizes one successful match in a SyncResult.
type MatchedItem struct {
	ItemID       string      `json:"item_id"`
	Title        string      `json:"title"`
	RemoteItemID string      `json:"remote_item_id"`
	RemoteTitle  string      `json:"remote_title,omitempty"`
	Method       MatchMethod `json:"method"`
	Similarity   float64     `json:"similarity,omitempty"`
}

// SyncResult is the immutable outcome of reconciling one collection
// against one library server.
type SyncResult struct {
	ID             string        `json:"id"`
	CollectionID   string        `json:"collection_id"`
	CollectionName string        `json:"collection_name"`
	ServerID       string        `json:"server_id"`
	Status         SyncStatus    `json:"status"`
	Total          int           `json:"total"`
	Matched        int           `json:"matched"`
	Failed         int           `json:"failed"`
	Added          int           `json:"added"`
	Removed        int           `json:"removed"`
	RemoteID       string        `json:"remote_collection_id,omitempty"`
	MatchedItems   []MatchedItem `json:"matched_items"`
	// MatchedTruncated counts matched items left out of MatchedItems.
	MatchedTruncated int      `json:"matched_truncated,omitempty"`
	Errors           []string `json:"errors"`
	ErrorsTruncated  int      `json:"errors_truncated,omitempty"`
	// Flagged lists identifier matches whose remote title disagrees.
	Flagged          []string      `json:"flagged,omitempty"`
	FlaggedTruncated int           `json:"flagged_truncated,omitempty"`
	StartedAt        time.Time     `json:"started_at"`
	FinishedAt       time.Time     `json:"finished_at"`
	Duration         time.Duration `json:"duration_ns"`
}

// RefreshRun records one pull from a list provider.
type RefreshRun struct {
	ID           string        `json:"id"`
	CollectionID string        `json:"collection_id"`
	Reason       string        `json:"reason"`
	Fetched      int           `json:"fetched"`
	Stored       int           `json:"stored"`
	Duplicates   int           `json:"duplicates"`
	Enqueued     int           `json:"enqueued"`
	Error        string        `json:"error,omitempty"`
	StartedAt    time.Time     `json:"started_at"`
	Duration     time.Duration `json:"duration_ns"`
}

// ScheduleEntry is the observable state of one collection's refresh timer.
type ScheduleEntry struct {
	CollectionID   string     `json:"collection_id"`
	CollectionName string     `json:"collection_name"`
	IntervalHours  int        `json:"interval_hours"`
	TimeOfDay      string     `json:"time_of_day"`
	Cron           string     `json:"cron"`
	Description    string     `json:"description"`
	Enabled        bool       `json:"enabled"`
	Running        bool       `json:"running"`
	LastRun        *time.Time `json:"last_run,omitempty"`
	NextRun        *time.Time `json:"next_run,omitempty"`
}

// EnrichmentProgress is the per-collection enrichment counter set.
type EnrichmentProgress struct {
	CollectionID string    `json:"collection_id"`
	Pending      int       `json:"pending"`
	Enriched     int       `json:"enriched"`
	Failed       int       `json:"failed"`
	Total        int       `json:"total"`
	Percent      float64   `json:"percent"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// ComputePercent sets Percent from Enriched and Total.
func (p *EnrichmentProgress) ComputePercent() {
	if p.Total <= 0 {
		p.Percent = 0
		return
	}
	p.Percent = float64(p.Enriched) / float64(p.Total) * 100
}

// ServerStatus is the API view of a configured library server.
type ServerStatus struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Type      string `json:"type"`
	URL       string `json:"url"`
	Reachable bool   `json:"reachable"`
	Breaker   string `json:"breaker_state"`
	Error     string `json:"error,omitempty"`
}
