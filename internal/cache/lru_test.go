// Curator - Media Collection Curation and Library Sync
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/curator

package cache

import (
	"fmt"
	"sync"
	"testing"
	"time"
)

func TestLRUGetAdd(t *testing.T) {
	c := New[string](3, time.Minute)
	c.Add("a", "1")
	c.Add("b", "2")

	if v, ok := c.Get("a"); !ok || v != "1" {
		t.Errorf("Get(a) = %q, %v", v, ok)
	}
	if _, ok := c.Get("missing"); ok {
		t.Error("Get(missing) found a value")
	}

	c.Add("a", "updated")
	if v, _ := c.Get("a"); v != "updated" {
		t.Errorf("Get(a) after update = %q", v)
	}
	if c.Len() != 2 {
		t.Errorf("Len = %d, want 2", c.Len())
	}

	st := c.Stats()
	if st.Hits != 2 || st.Misses != 1 || st.Size != 2 {
		t.Errorf("Stats = %+v", st)
	}
}

func TestLRUEvictsLeastRecentlyUsed(t *testing.T) {
	c := New[int](2, time.Minute)
	c.Add("a", 1)
	c.Add("b", 2)
	c.Get("a") // b is now oldest
	c.Add("c", 3)

	if _, ok := c.Get("b"); ok {
		t.Error("b should have been evicted")
	}
	for _, k := range []string{"a", "c"} {
		if _, ok := c.Get(k); !ok {
			t.Errorf("%s should be present", k)
		}
	}
}

func TestLRUExpiry(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c := New[int](10, time.Minute)
	c.now = func() time.Time { return now }

	c.Add("a", 1)
	c.Add("b", 2)
	now = now.Add(30 * time.Second)
	c.Add("c", 3)

	now = now.Add(45 * time.Second)
	if _, ok := c.Get("a"); ok {
		t.Error("a should have expired")
	}
	if n := c.CleanupExpired(); n != 1 {
		t.Errorf("CleanupExpired = %d, want 1 (b)", n)
	}
	if v, ok := c.Get("c"); !ok || v != 3 {
		t.Errorf("Get(c) = %d, %v", v, ok)
	}
}

func TestLRURemove(t *testing.T) {
	c := New[int](0, 0)
	if c.capacity != 10000 || c.ttl != 5*time.Minute {
		t.Errorf("defaults = %d %v", c.capacity, c.ttl)
	}
	c.Add("a", 1)
	if !c.Remove("a") || c.Remove("a") {
		t.Error("Remove should succeed once")
	}
	if c.Len() != 0 {
		t.Errorf("Len = %d", c.Len())
	}
}

func TestLRUConcurrentAccess(t *testing.T) {
	c := New[int](50, time.Minute)
	var wg sync.WaitGroup
	for g := range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range 200 {
				key := fmt.Sprintf("k%d", (g*200+i)%100)
				c.Add(key, i)
				c.Get(key)
			}
		}()
	}
	wg.Wait()
	if c.Len() > 50 {
		t.Errorf("Len = %d exceeds capacity", c.Len())
	}
}
