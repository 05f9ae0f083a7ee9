// Curator - Media Collection Curation and Library Sync
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/curator

// Package librarytest provides an in-memory library.Client for tests.
package librarytest

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/tomtom215/curator/internal/library"
	"github.com/tomtom215/curator/internal/models"
)

// Collection is a remote collection held by Fake.
type Collection struct {
	ID        string
	Name      string
	Members   []string
	Image     []byte
	ImageMime string
}

type failure struct {
	err   error
	times int // <0 fails forever
}

// Fake is a library.Client backed by maps. It is safe for concurrent use.
type Fake struct {
	mu          sync.Mutex
	id          string
	items       []models.LibraryItem
	collections map[string]*Collection
	failures    map[string]*failure
	calls       []string
	nextID      int
}

var _ library.Client = (*Fake)(nil)

// New returns a fake server with the given catalog.
func New(serverID string, items ...models.LibraryItem) *Fake {
	return &Fake{
		id:          serverID,
		items:       items,
		collections: map[string]*Collection{},
		failures:    map[string]*failure{},
	}
}

// Fail makes the next times calls of op return err. times < 0 fails every call.
// Op names match the Client method names.
func (f *Fake) Fail(op string, err error, times int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures[op] = &failure{err: err, times: times}
}

// AddCollection seeds a remote collection and returns its id.
func (f *Fake) AddCollection(name string, members ...string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.addCollectionLocked(name, members)
}

// Collection returns a copy of the named collection, or nil.
func (f *Fake) Collection(name string) *Collection {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.collections {
		if strings.EqualFold(c.Name, name) {
			cp := *c
			cp.Members = slices.Clone(c.Members)
			return &cp
		}
	}
	return nil
}

// Calls returns the method names invoked so far, in order.
func (f *Fake) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.calls)
}

// CallCount counts invocations of op.
func (f *Fake) CallCount(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if c == op {
			n++
		}
	}
	return n
}

func (f *Fake) ServerID() string { return f.id }

func (f *Fake) Ping(_ context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.enter("Ping")
}

func (f *Fake) FindByIdentifier(_ context.Context, ns models.Namespace, value string) (*models.LibraryItem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("FindByIdentifier"); err != nil {
		return nil, err
	}
	for i := range f.items {
		if value != "" && f.items[i].Identifiers.Get(ns) == value {
			it := f.items[i]
			return &it, nil
		}
	}
	return nil, nil
}

// SearchByTitle returns items of kind whose lowercased title contains the
// query or is contained in it, filtered by year when year > 0.
func (f *Fake) SearchByTitle(_ context.Context, title string, kind models.MediaKind, year int) ([]models.LibraryItem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("SearchByTitle"); err != nil {
		return nil, err
	}
	q := strings.ToLower(title)
	var out []models.LibraryItem
	for _, it := range f.items {
		t := strings.ToLower(it.Title)
		if it.Kind != kind || !(strings.Contains(t, q) || strings.Contains(q, t)) {
			continue
		}
		if year > 0 && it.Year != year {
			continue
		}
		out = append(out, it)
	}
	return out, nil
}

func (f *Fake) GetCollectionByName(_ context.Context, name string) (*library.Collection, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("GetCollectionByName"); err != nil {
		return nil, err
	}
	for _, c := range f.collections {
		if strings.EqualFold(c.Name, name) {
			return &library.Collection{ID: c.ID, Name: c.Name}, nil
		}
	}
	return nil, nil
}

func (f *Fake) CreateCollection(_ context.Context, name string, seedIDs []string) (*library.Collection, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("CreateCollection"); err != nil {
		return nil, err
	}
	if len(seedIDs) == 0 {
		return nil, library.ErrNoSeed
	}
	id := f.addCollectionLocked(name, seedIDs)
	return &library.Collection{ID: id, Name: name}, nil
}

func (f *Fake) AddItems(_ context.Context, collectionID string, ids []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("AddItems"); err != nil {
		return err
	}
	c, err := f.collectionLocked(collectionID)
	if err != nil {
		return err
	}
	for _, id := range ids {
		if !slices.Contains(c.Members, id) {
			c.Members = append(c.Members, id)
		}
	}
	return nil
}

func (f *Fake) RemoveItems(_ context.Context, collectionID string, ids []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("RemoveItems"); err != nil {
		return err
	}
	c, err := f.collectionLocked(collectionID)
	if err != nil {
		return err
	}
	c.Members = slices.DeleteFunc(c.Members, func(m string) bool { return slices.Contains(ids, m) })
	return nil
}

func (f *Fake) GetCollectionItems(_ context.Context, collectionID string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("GetCollectionItems"); err != nil {
		return nil, err
	}
	c, err := f.collectionLocked(collectionID)
	if err != nil {
		return nil, err
	}
	return slices.Clone(c.Members), nil
}

func (f *Fake) UploadPrimaryImage(_ context.Context, collectionID string, data []byte, mimeType string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("UploadPrimaryImage"); err != nil {
		return err
	}
	c, err := f.collectionLocked(collectionID)
	if err != nil {
		return err
	}
	c.Image = slices.Clone(data)
	c.ImageMime = mimeType
	return nil
}

func (f *Fake) DeleteCollection(_ context.Context, collectionID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("DeleteCollection"); err != nil {
		return err
	}
	if _, err := f.collectionLocked(collectionID); err != nil {
		return err
	}
	delete(f.collections, collectionID)
	return nil
}

// enter records the call and returns an injected failure, if any.
func (f *Fake) enter(op string) error {
	f.calls = append(f.calls, op)
	fl, ok := f.failures[op]
	if !ok || fl.times == 0 {
		return nil
	}
	if fl.times > 0 {
		fl.times--
	}
	return fl.err
}

func (f *Fake) addCollectionLocked(name string, members []string) string {
	f.nextID++
	id := fmt.Sprintf("col-%d", f.nextID)
	f.collections[id] = &Collection{ID: id, Name: name, Members: slices.Clone(members)}
	return id
}

func (f *Fake) collectionLocked(id string) (*Collection, error) {
	c, ok := f.collections[id]
	if !ok {
		return nil, fmt.Errorf("collection %s not found", id)
	}
	return c, nil
}
