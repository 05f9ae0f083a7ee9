// Curator - Media Collection Curation and Library Sync
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/curator

package store

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/tomtom215/curator/internal/models"
)

const tableItems = "items"

// ReplaceItems swaps the collection's item snapshot for items and sets
// LastSyncAt and ItemCount, all in one transaction. Item ids are assigned
// where missing and Position follows slice order.
func (s *Store) ReplaceItems(ctx context.Context, collectionID string, items []*models.CollectionItem, syncedAt time.Time) error {
	for i, it := range items {
		if it.ID == "" {
			it.ID = uuid.NewString()
		}
		it.CollectionID = collectionID
		it.Position = i
	}
	synced := syncedAt.UTC()

	err := s.update(ctx, "replace", tableItems, func(txn *badger.Txn) error {
		var c models.Collection
		if err := getJSON(txn, collectionKey(collectionID), &c); err != nil {
			return err
		}
		for _, k := range keysWithPrefix(txn, itemPrefix(collectionID)) {
			if err := txn.Delete(k); err != nil {
				return err
			}
		}
		for _, it := range items {
			if err := setJSON(txn, itemKey(collectionID, it.ID), it); err != nil {
				return err
			}
		}
		c.LastSyncAt = &synced
		c.ItemCount = len(items)
		c.UpdatedAt = s.now().UTC()
		return setJSON(txn, collectionKey(collectionID), &c)
	})
	if err != nil {
		return fmt.Errorf("replace items for %s: %w", collectionID, err)
	}
	return nil
}

// ListItems returns the collection's items in Position order.
func (s *Store) ListItems(ctx context.Context, collectionID string) ([]*models.CollectionItem, error) {
	var out []*models.CollectionItem
	err := s.view(ctx, "list", tableItems, func(txn *badger.Txn) error {
		return scan(txn, itemPrefix(collectionID), func(val []byte) error {
			var it models.CollectionItem
			if err := json.Unmarshal(val, &it); err != nil {
				return err
			}
			out = append(out, &it)
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("list items for %s: %w", collectionID, err)
	}
	slices.SortFunc(out, func(a, b *models.CollectionItem) int { return a.Position - b.Position })
	return out, nil
}

// GetItem returns ErrNotFound when the item is not in the current snapshot.
func (s *Store) GetItem(ctx context.Context, collectionID, itemID string) (*models.CollectionItem, error) {
	var it models.CollectionItem
	err := s.view(ctx, "get", tableItems, func(txn *badger.Txn) error {
		return getJSON(txn, itemKey(collectionID, itemID), &it)
	})
	if err != nil {
		return nil, fmt.Errorf("get item %s/%s: %w", collectionID, itemID, err)
	}
	return &it, nil
}

// UpdateItem is a read-modify-write of one item. mutate sees a fresh copy
// on every attempt, so it must not depend on state from a previous call.
func (s *Store) UpdateItem(ctx context.Context, collectionID, itemID string, mutate func(*models.CollectionItem) error) (*models.CollectionItem, error) {
	var out models.CollectionItem
	err := s.update(ctx, "update", tableItems, func(txn *badger.Txn) error {
		var it models.CollectionItem
		key := itemKey(collectionID, itemID)
		if err := getJSON(txn, key, &it); err != nil {
			return err
		}
		if err := mutate(&it); err != nil {
			return err
		}
		it.ID = itemID
		it.CollectionID = collectionID
		out = it
		return setJSON(txn, key, &it)
	})
	if err != nil {
		return nil, fmt.Errorf("update item %s/%s: %w", collectionID, itemID, err)
	}
	return &out, nil
}

// CountEnrichment tallies the enrichment status of every item.
func (s *Store) CountEnrichment(ctx context.Context, collectionID string) (models.EnrichmentProgress, error) {
	p := models.EnrichmentProgress{CollectionID: collectionID}
	err := s.view(ctx, "count", tableItems, func(txn *badger.Txn) error {
		return scan(txn, itemPrefix(collectionID), func(val []byte) error {
			var it struct {
				Enrichment models.Enrichment `json:"enrichment"`
			}
			if err := json.Unmarshal(val, &it); err != nil {
				return err
			}
			p.Total++
			switch it.Enrichment.Status {
			case models.EnrichmentEnriched:
				p.Enriched++
			case models.EnrichmentFailed:
				p.Failed++
			default:
				p.Pending++
			}
			return nil
		})
	})
	if err != nil {
		return p, fmt.Errorf("count enrichment for %s: %w", collectionID, err)
	}
	p.UpdatedAt = s.now().UTC()
	p.ComputePercent()
	return p, nil
}
