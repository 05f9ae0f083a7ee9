// Curator - Media Collection Curation and Library Sync
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/curator

package models

import "testing"

func TestCollectionSchedulable(t *testing.T) {
	tests := []struct {
		name string
		c    Collection
		want bool
	}{
		{"auto trakt", Collection{Source: SourceTraktList, AutoRefresh: true, RefreshIntervalHours: 6}, true},
		{"manual", Collection{Source: SourceManual, AutoRefresh: true, RefreshIntervalHours: 6}, false},
		{"auto off", Collection{Source: SourceTraktList, RefreshIntervalHours: 6}, false},
		{"zero interval", Collection{Source: SourceTraktWatchlist, AutoRefresh: true}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.c.Schedulable(); got != tt.want {
				t.Errorf("Schedulable() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestCollectionListRef(t *testing.T) {
	c := Collection{Source: SourceTraktWatchlist, SourceRef: "ignored"}
	if c.ListRef() != "watchlist" {
		t.Errorf("ListRef() = %q, want watchlist", c.ListRef())
	}
	c = Collection{Source: SourceTraktList, SourceRef: "me/top"}
	if c.ListRef() != "me/top" {
		t.Errorf("ListRef() = %q, want me/top", c.ListRef())
	}
}

func TestTargetsServer(t *testing.T) {
	all := Collection{}
	if !all.TargetsServer("any") {
		t.Error("empty targets should match every server")
	}
	some := Collection{Targets: []string{"a", "b"}}
	if !some.TargetsServer("b") || some.TargetsServer("c") {
		t.Error("explicit targets not honored")
	}
}

func TestIdentifiersGet(t *testing.T) {
	ids := Identifiers{IMDB: "tt1", TMDB: "42"}
	if ids.Get(NamespaceIMDB) != "tt1" || ids.Get(NamespaceTMDB) != "42" || ids.Get(NamespaceTVDB) != "" {
		t.Errorf("Get returned unexpected values for %+v", ids)
	}
	if ids.IsEmpty() || !(Identifiers{}).IsEmpty() {
		t.Error("IsEmpty mismatch")
	}
}

func TestComputePercent(t *testing.T) {
	p := EnrichmentProgress{Enriched: 1, Total: 4}
	p.ComputePercent()
	if p.Percent != 25 {
		t.Errorf("Percent = %v, want 25", p.Percent)
	}
	p = EnrichmentProgress{}
	p.ComputePercent()
	if p.Percent != 0 {
		t.Errorf("Percent with zero total = %v, want 0", p.Percent)
	}
}

func TestSetRemoteInitializesMap(t *testing.T) {
	var it CollectionItem
	it.SetRemote("srv", RemotePresence{InLibrary: true, RemoteItemID: "r1"})
	if !it.Remote["srv"].InLibrary {
		t.Error("SetRemote did not record presence")
	}
}
