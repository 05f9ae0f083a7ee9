// Curator - Media Collection Curation and Library Sync
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/curator

// Package schedule turns per-collection refresh cadences into timers.
//
// Each scheduled collection owns one timer armed for the next cron match of
// its cadence. When the timer fires the refresh handler runs and the timer
// is re-armed for the following match. The handler is expected to re-check
// IsDue before doing work, because the hourly sweep can reach the same
// collection independently.
package schedule

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/sourcegraph/conc/panics"

	"github.com/tomtom215/curator/internal/metrics"
	"github.com/tomtom215/curator/internal/models"
)

// ErrNotDue may be returned by a RefreshFunc that skipped work because the
// collection was refreshed recently.
var ErrNotDue = errors.New("collection not due for refresh")

// RefreshFunc is invoked when a collection's timer fires.
type RefreshFunc func(ctx context.Context, collectionID string) error

// CollectionLister loads collections for InitializeSchedules.
type CollectionLister interface {
	ListCollections(ctx context.Context) ([]*models.Collection, error)
}

// Timer is the subset of *time.Timer the manager uses.
type Timer interface {
	Stop() bool
}

// AfterFunc arms a timer. It mirrors time.AfterFunc.
type AfterFunc func(d time.Duration, f func()) Timer

// Config holds the due-check thresholds and the evaluation timezone.
type Config struct {
	// DueTolerance lets a timer that fires slightly early still count.
	DueTolerance time.Duration
	// MinRefreshGap is the floor on time between two refreshes.
	MinRefreshGap time.Duration
	Location      *time.Location
}

// DefaultConfig returns 5m tolerance, 30m minimum gap, UTC.
func DefaultConfig() Config {
	return Config{
		DueTolerance:  5 * time.Minute,
		MinRefreshGap: 30 * time.Minute,
		Location:      time.UTC,
	}
}

// IsDue reports whether a collection last synced at lastSyncAt should be
// refreshed now. Never-synced collections are always due. Otherwise the
// elapsed time must reach max(interval-tolerance, minGap).
func IsDue(lastSyncAt *time.Time, interval time.Duration, now time.Time, cfg Config) bool {
	if lastSyncAt == nil || lastSyncAt.IsZero() {
		return true
	}
	threshold := max(interval-cfg.DueTolerance, cfg.MinRefreshGap)
	return now.Sub(*lastSyncAt) >= threshold
}

// Option customizes a Manager.
type Option func(*Manager)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// WithAfterFunc replaces time.AfterFunc.
func WithAfterFunc(fn AfterFunc) Option {
	return func(m *Manager) { m.afterFunc = fn }
}

type entry struct {
	collectionID string
	name         string
	cadence      Cadence
	timer        Timer
	gen          uint64
	running      bool
	lastRun      *time.Time
	nextRun      *time.Time
}

// Manager owns one timer per scheduled collection.
type Manager struct {
	lister    CollectionLister
	cfg       Config
	logger    zerolog.Logger
	now       func() time.Time
	afterFunc AfterFunc

	mu         sync.Mutex
	entries    map[string]*entry
	handler    RefreshFunc
	handlerCtx context.Context
	gen        uint64
}

// NewManager builds an empty manager. Call InitializeSchedules or Run to
// load collections.
//
//nolint:gocritic // hugeParam: zerolog.Logger is designed to be passed by value
func NewManager(lister CollectionLister, cfg Config, logger zerolog.Logger, opts ...Option) *Manager {
	def := DefaultConfig()
	if cfg.Location == nil {
		cfg.Location = def.Location
	}
	if cfg.MinRefreshGap <= 0 {
		cfg.MinRefreshGap = def.MinRefreshGap
	}
	if cfg.DueTolerance < 0 {
		cfg.DueTolerance = 0
	}
	m := &Manager{
		lister:     lister,
		cfg:        cfg,
		logger:     logger.With().Str("component", "schedule-manager").Logger(),
		now:        time.Now,
		afterFunc:  func(d time.Duration, f func()) Timer { return time.AfterFunc(d, f) },
		entries:    make(map[string]*entry),
		handlerCtx: context.Background(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Config returns the due-check settings.
func (m *Manager) Config() Config { return m.cfg }

// IsDue applies the package IsDue with this manager's clock and thresholds.
func (m *Manager) IsDue(c *models.Collection) bool {
	return IsDue(c.LastSyncAt, time.Duration(c.RefreshIntervalHours)*time.Hour, m.now(), m.cfg)
}

// SetRefreshHandler installs the callback run when a timer fires.
func (m *Manager) SetRefreshHandler(fn RefreshFunc) {
	m.mu.Lock()
	m.handler = fn
	m.mu.Unlock()
}

// ScheduleCollection installs or replaces the timer for c. Collections that
// are manual, have auto refresh off, or have no interval are unscheduled.
func (m *Manager) ScheduleCollection(c *models.Collection) error {
	if c == nil {
		return fmt.Errorf("schedule: nil collection")
	}
	if !c.Schedulable() {
		m.UnscheduleCollection(c.ID)
		return nil
	}
	cadence, err := CadenceFor(c.RefreshIntervalHours, c.RefreshTime)
	if err != nil {
		m.UnscheduleCollection(c.ID)
		return fmt.Errorf("schedule collection %s: %w", c.ID, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.gen++
	e := &entry{
		collectionID: c.ID,
		name:         c.Name,
		cadence:      cadence,
		gen:          m.gen,
		lastRun:      c.LastSyncAt,
	}
	if old, ok := m.entries[c.ID]; ok {
		old.timer.Stop()
		e.running = old.running
		if old.lastRun != nil {
			e.lastRun = old.lastRun
		}
	}
	m.entries[c.ID] = e
	m.armLocked(e)
	metrics.ScheduledCollections.Set(float64(len(m.entries)))

	m.logger.Debug().
		Str("collection_id", c.ID).
		Str("cron", cadence.Cron).
		Str("cadence", cadence.Description).
		Msg("collection scheduled")
	return nil
}

// UnscheduleCollection cancels and forgets the entry for id, if any.
func (m *Manager) UnscheduleCollection(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[id]
	if !ok {
		return
	}
	e.timer.Stop()
	delete(m.entries, id)
	metrics.ScheduledCollections.Set(float64(len(m.entries)))
	m.logger.Debug().Str("collection_id", id).Msg("collection unscheduled")
}

// InitializeSchedules loads every collection and schedules the eligible
// ones. Entries for collections that no longer exist are dropped. A
// collection with a bad cadence is logged and skipped.
func (m *Manager) InitializeSchedules(ctx context.Context) (int, error) {
	collections, err := m.lister.ListCollections(ctx)
	if err != nil {
		return 0, fmt.Errorf("load collections: %w", err)
	}

	seen := make(map[string]struct{}, len(collections))
	scheduled := 0
	for _, c := range collections {
		seen[c.ID] = struct{}{}
		if err := m.ScheduleCollection(c); err != nil {
			m.logger.Warn().Err(err).Str("collection_id", c.ID).Msg("skipping collection with invalid cadence")
			continue
		}
		if c.Schedulable() {
			scheduled++
		}
	}

	m.mu.Lock()
	var stale []string
	for id := range m.entries {
		if _, ok := seen[id]; !ok {
			stale = append(stale, id)
		}
	}
	m.mu.Unlock()
	for _, id := range stale {
		m.UnscheduleCollection(id)
	}

	m.logger.Info().Int("scheduled", scheduled).Int("collections", len(collections)).Msg("schedules initialized")
	return scheduled, nil
}

// Run initializes schedules and keeps timers armed until ctx ends. Refresh
// handlers receive a context detached from ctx.
func (m *Manager) Run(ctx context.Context) error {
	m.mu.Lock()
	m.handlerCtx = context.WithoutCancel(ctx)
	m.mu.Unlock()

	if _, err := m.InitializeSchedules(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	m.stopTimers()
	return ctx.Err()
}

// GetScheduleStatus returns every entry ordered by collection name.
func (m *Manager) GetScheduleStatus() []models.ScheduleEntry {
	m.mu.Lock()
	out := make([]models.ScheduleEntry, 0, len(m.entries))
	for _, e := range m.entries {
		out = append(out, models.ScheduleEntry{
			CollectionID:   e.collectionID,
			CollectionName: e.name,
			IntervalHours:  e.cadence.IntervalHours,
			TimeOfDay:      e.cadence.TimeOfDay,
			Cron:           e.cadence.Cron,
			Description:    e.cadence.Description,
			Enabled:        true,
			Running:        e.running,
			LastRun:        copyTime(e.lastRun),
			NextRun:        copyTime(e.nextRun),
		})
	}
	m.mu.Unlock()

	slices.SortFunc(out, func(a, b models.ScheduleEntry) int {
		if c := strings.Compare(a.CollectionName, b.CollectionName); c != 0 {
			return c
		}
		return strings.Compare(a.CollectionID, b.CollectionID)
	})
	return out
}

// Reset cancels every timer and forgets all entries and the handler.
// Handlers already running finish but their entries are gone.
func (m *Manager) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, e := range m.entries {
		e.timer.Stop()
		delete(m.entries, id)
	}
	m.handler = nil
	m.handlerCtx = context.Background()
	m.gen++
	metrics.ScheduledCollections.Set(0)
}

func (m *Manager) stopTimers() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range m.entries {
		e.timer.Stop()
	}
}

// armLocked sets e's timer for the next cron match after now.
func (m *Manager) armLocked(e *entry) {
	now := m.now()
	next := e.cadence.expr.NextRun(now, m.cfg.Location)
	if next.IsZero() {
		e.nextRun = nil
		e.timer = noopTimer{}
		return
	}
	e.nextRun = &next
	id, gen := e.collectionID, e.gen
	e.timer = m.afterFunc(next.Sub(now), func() { m.fire(id, gen) })
}

func (m *Manager) fire(id string, gen uint64) {
	m.mu.Lock()
	e, ok := m.entries[id]
	if !ok || e.gen != gen {
		m.mu.Unlock()
		return
	}
	m.armLocked(e)
	if e.running {
		m.mu.Unlock()
		metrics.ScheduleFires.WithLabelValues("overlap").Inc()
		m.logger.Info().Str("collection_id", id).Msg("previous refresh still running, skipping fire")
		return
	}
	handler := m.handler
	if handler == nil {
		m.mu.Unlock()
		m.logger.Warn().Str("collection_id", id).Msg("timer fired with no refresh handler installed")
		return
	}
	e.running = true
	ctx := m.handlerCtx
	m.mu.Unlock()

	log := m.logger.With().Str("collection_id", id).Logger()
	log.Debug().Msg("refresh timer fired")

	var err error
	var pc panics.Catcher
	pc.Try(func() { err = handler(ctx, id) })
	if rec := pc.Recovered(); rec != nil {
		err = fmt.Errorf("refresh handler panic: %w", rec.AsError())
		log.Error().Str("stack", string(rec.Stack)).Msg("refresh handler panicked")
	}

	outcome := "refreshed"
	switch {
	case errors.Is(err, ErrNotDue):
		outcome = "not_due"
		log.Debug().Msg("collection not due, fire skipped")
	case err != nil:
		outcome = "error"
		log.Error().Err(err).Msg("scheduled refresh failed")
	}
	metrics.ScheduleFires.WithLabelValues(outcome).Inc()

	m.mu.Lock()
	// The entry may have been replaced while the handler ran; the running
	// flag was carried over, so clear it on whatever is current.
	if cur, ok := m.entries[id]; ok {
		cur.running = false
		if outcome == "refreshed" {
			t := m.now()
			cur.lastRun = &t
		}
	}
	m.mu.Unlock()
}

type noopTimer struct{}

func (noopTimer) Stop() bool { return false }

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
