// Curator - Media Collection Curation and Library Sync
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/curator

package store

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/tomtom215/curator/internal/models"
)

const tableCollections = "collections"

// CreateCollection stores c, assigning an id when empty and stamping
// CreatedAt/UpdatedAt.
func (s *Store) CreateCollection(ctx context.Context, c *models.Collection) error {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	now := s.now().UTC()
	c.CreatedAt = now
	c.UpdatedAt = now

	err := s.update(ctx, "insert", tableCollections, func(txn *badger.Txn) error {
		key := collectionKey(c.ID)
		if _, err := txn.Get(key); err == nil {
			return fmt.Errorf("collection %s: %w", c.ID, ErrExists)
		}
		return setJSON(txn, key, c)
	})
	if err != nil {
		return fmt.Errorf("create collection: %w", err)
	}
	return nil
}

// GetCollection returns ErrNotFound when id is unknown.
func (s *Store) GetCollection(ctx context.Context, id string) (*models.Collection, error) {
	var c models.Collection
	err := s.view(ctx, "get", tableCollections, func(txn *badger.Txn) error {
		return getJSON(txn, collectionKey(id), &c)
	})
	if err != nil {
		return nil, fmt.Errorf("get collection %s: %w", id, err)
	}
	return &c, nil
}

// UpdateCollection applies mutate to the stored collection inside one
// transaction and returns the result. ID, CreatedAt, LastSyncAt and
// ItemCount are owned by the store and cannot be changed by mutate.
func (s *Store) UpdateCollection(ctx context.Context, id string, mutate func(*models.Collection) error) (*models.Collection, error) {
	var out models.Collection
	err := s.update(ctx, "update", tableCollections, func(txn *badger.Txn) error {
		var cur models.Collection
		if err := getJSON(txn, collectionKey(id), &cur); err != nil {
			return err
		}
		next := cur
		next.Targets = slices.Clone(cur.Targets)
		if err := mutate(&next); err != nil {
			return err
		}
		next.ID = cur.ID
		next.CreatedAt = cur.CreatedAt
		next.LastSyncAt = cur.LastSyncAt
		next.ItemCount = cur.ItemCount
		next.UpdatedAt = s.now().UTC()
		out = next
		return setJSON(txn, collectionKey(id), &next)
	})
	if err != nil {
		return nil, fmt.Errorf("update collection %s: %w", id, err)
	}
	return &out, nil
}

// DeleteCollection removes the collection and all of its items.
func (s *Store) DeleteCollection(ctx context.Context, id string) error {
	err := s.update(ctx, "delete", tableCollections, func(txn *badger.Txn) error {
		if _, err := txn.Get(collectionKey(id)); err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return ErrNotFound
			}
			return err
		}
		for _, k := range keysWithPrefix(txn, itemPrefix(id)) {
			if err := txn.Delete(k); err != nil {
				return err
			}
		}
		return txn.Delete(collectionKey(id))
	})
	if err != nil {
		return fmt.Errorf("delete collection %s: %w", id, err)
	}
	return nil
}

// ListCollections returns every collection ordered by name.
func (s *Store) ListCollections(ctx context.Context) ([]*models.Collection, error) {
	var out []*models.Collection
	err := s.view(ctx, "list", tableCollections, func(txn *badger.Txn) error {
		return scan(txn, []byte(prefixCollection), func(val []byte) error {
			var c models.Collection
			if err := json.Unmarshal(val, &c); err != nil {
				return err
			}
			out = append(out, &c)
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("list collections: %w", err)
	}
	slices.SortFunc(out, func(a, b *models.Collection) int {
		if c := strings.Compare(strings.ToLower(a.Name), strings.ToLower(b.Name)); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	return out, nil
}
