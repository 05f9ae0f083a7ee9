// Curator - Media Collection Curation and Library Sync
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/curator

package services

import (
	"context"
	"time"

	"github.com/tomtom215/curator/internal/logging"
)

// GarbageCollector is satisfied by *store.Store.
type GarbageCollector interface {
	RunGC(discardRatio float64) error
}

const defaultGCDiscardRatio = 0.5

// StoreGCService runs badger value-log GC on a fixed interval.
type StoreGCService struct {
	store    GarbageCollector
	interval time.Duration
	ratio    float64
	name     string
}

// NewStoreGCService builds the service. A non-positive interval uses 10m.
func NewStoreGCService(store GarbageCollector, interval time.Duration) *StoreGCService {
	if interval <= 0 {
		interval = 10 * time.Minute
	}
	return &StoreGCService{
		store:    store,
		interval: interval,
		ratio:    defaultGCDiscardRatio,
		name:     "store-gc",
	}
}

// Serve runs GC on every tick. GC errors are logged, not returned: a failed
// pass is retried on the next tick.
func (s *StoreGCService) Serve(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			start := time.Now()
			if err := s.store.RunGC(s.ratio); err != nil {
				logging.Warn().Err(err).Str("service", s.name).Msg("store garbage collection failed")
				continue
			}
			logging.Debug().Dur("duration", time.Since(start)).Msg("store garbage collection finished")
		}
	}
}

func (s *StoreGCService) String() string {
	return s.name
}
