// Curator - Media Collection Curation and Library Sync
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/curator

package schedule

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"

	"github.com/tomtom215/curator/internal/metrics"
	"github.com/tomtom215/curator/internal/models"
)

type fakeTimer struct {
	d       time.Duration
	f       func()
	stopped bool
}

func (t *fakeTimer) Stop() bool {
	was := !t.stopped
	t.stopped = true
	return was
}

type timerFactory struct {
	mu     sync.Mutex
	timers []*fakeTimer
}

func (tf *timerFactory) AfterFunc(d time.Duration, f func()) Timer {
	tf.mu.Lock()
	defer tf.mu.Unlock()
	t := &fakeTimer{d: d, f: f}
	tf.timers = append(tf.timers, t)
	return t
}

func (tf *timerFactory) last() *fakeTimer {
	tf.mu.Lock()
	defer tf.mu.Unlock()
	return tf.timers[len(tf.timers)-1]
}

func (tf *timerFactory) count() int {
	tf.mu.Lock()
	defer tf.mu.Unlock()
	return len(tf.timers)
}

type fakeLister struct {
	collections []*models.Collection
	err         error
}

func (l *fakeLister) ListCollections(context.Context) ([]*models.Collection, error) {
	return l.collections, l.err
}

var testNow = time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

func newTestManager(t *testing.T, lister CollectionLister) (*Manager, *timerFactory) {
	t.Helper()
	tf := &timerFactory{}
	m := NewManager(lister, DefaultConfig(), zerolog.Nop(),
		WithClock(func() time.Time { return testNow }),
		WithAfterFunc(tf.AfterFunc))
	t.Cleanup(m.Reset)
	return m, tf
}

func traktCollection(id string, hours int, tod string) *models.Collection {
	return &models.Collection{
		ID:                   id,
		Name:                 "Collection " + id,
		Source:               models.SourceTraktList,
		SourceRef:            "user/list-" + id,
		AutoRefresh:          true,
		RefreshIntervalHours: hours,
		RefreshTime:          tod,
	}
}

func TestIsDue(t *testing.T) {
	cfg := DefaultConfig()
	at := func(d time.Duration) *time.Time {
		v := testNow.Add(-d)
		return &v
	}

	tests := []struct {
		name     string
		last     *time.Time
		interval time.Duration
		want     bool
	}{
		{"never synced", nil, 6 * time.Hour, true},
		{"zero time", &time.Time{}, 6 * time.Hour, true},
		{"just synced", at(time.Minute), 6 * time.Hour, false},
		{"within tolerance", at(6*time.Hour - 4*time.Minute), 6 * time.Hour, true},
		{"just outside tolerance", at(6*time.Hour - 6*time.Minute), 6 * time.Hour, false},
		{"hourly after 55m", at(55 * time.Minute), time.Hour, true},
		{"hourly after 50m", at(50 * time.Minute), time.Hour, false},
		{"minimum gap wins for tiny interval", at(20 * time.Minute), 10 * time.Minute, false},
		{"minimum gap satisfied", at(30 * time.Minute), 10 * time.Minute, true},
		{"future timestamp", at(-time.Hour), time.Hour, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsDue(tt.last, tt.interval, testNow, cfg); got != tt.want {
				t.Errorf("IsDue = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestScheduleCollection(t *testing.T) {
	m, tf := newTestManager(t, &fakeLister{})

	if err := m.ScheduleCollection(traktCollection("a", 6, "03:30")); err != nil {
		t.Fatal(err)
	}
	status := m.GetScheduleStatus()
	if len(status) != 1 {
		t.Fatalf("entries = %d, want 1", len(status))
	}
	e := status[0]
	if e.Cron != "30 */6 * * *" || e.Description != "every 6 hours at minute 30" || !e.Enabled {
		t.Errorf("entry = %+v", e)
	}
	wantNext := time.Date(2026, 1, 1, 12, 30, 0, 0, time.UTC)
	if e.NextRun == nil || !e.NextRun.Equal(wantNext) {
		t.Errorf("next run = %v, want %s", e.NextRun, wantNext)
	}
	if d := tf.last().d; d != 30*time.Minute {
		t.Errorf("timer armed for %s, want 30m", d)
	}
	if got := testutil.ToFloat64(metrics.ScheduledCollections); got != 1 {
		t.Errorf("scheduled gauge = %v, want 1", got)
	}
}

func TestRescheduleReplacesTimer(t *testing.T) {
	m, tf := newTestManager(t, &fakeLister{})
	var calls int
	m.SetRefreshHandler(func(context.Context, string) error {
		calls++
		return nil
	})

	c := traktCollection("a", 6, "03:30")
	if err := m.ScheduleCollection(c); err != nil {
		t.Fatal(err)
	}
	first := tf.last()

	c.RefreshIntervalHours = 24
	if err := m.ScheduleCollection(c); err != nil {
		t.Fatal(err)
	}
	if !first.stopped {
		t.Error("old timer not stopped on reschedule")
	}
	if got := m.GetScheduleStatus()[0].Cron; got != "30 3 * * *" {
		t.Errorf("cron after reschedule = %q", got)
	}

	// A stale timer that races past Stop must not run the handler.
	first.f()
	if calls != 0 {
		t.Errorf("stale timer ran handler %d times", calls)
	}
}

func TestUnschedulableCollectionsAreRemoved(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*models.Collection)
	}{
		{"manual source", func(c *models.Collection) { c.Source = models.SourceManual }},
		{"auto refresh off", func(c *models.Collection) { c.AutoRefresh = false }},
		{"no interval", func(c *models.Collection) { c.RefreshIntervalHours = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, tf := newTestManager(t, &fakeLister{})
			c := traktCollection("a", 6, "03:30")
			if err := m.ScheduleCollection(c); err != nil {
				t.Fatal(err)
			}
			timer := tf.last()

			tt.mutate(c)
			if err := m.ScheduleCollection(c); err != nil {
				t.Fatal(err)
			}
			if len(m.GetScheduleStatus()) != 0 {
				t.Error("entry still present")
			}
			if !timer.stopped {
				t.Error("timer not cancelled")
			}
		})
	}
}

func TestInvalidCadenceUnschedules(t *testing.T) {
	m, _ := newTestManager(t, &fakeLister{})
	c := traktCollection("a", 6, "03:30")
	if err := m.ScheduleCollection(c); err != nil {
		t.Fatal(err)
	}
	c.RefreshTime = "99:99"
	if err := m.ScheduleCollection(c); err == nil {
		t.Fatal("expected error for bad time of day")
	}
	if len(m.GetScheduleStatus()) != 0 {
		t.Error("entry with invalid cadence kept")
	}
}

func TestFireRunsHandlerAndRearms(t *testing.T) {
	m, tf := newTestManager(t, &fakeLister{})
	var got []string
	m.SetRefreshHandler(func(_ context.Context, id string) error {
		got = append(got, id)
		return nil
	})
	if err := m.ScheduleCollection(traktCollection("a", 1, "00:10")); err != nil {
		t.Fatal(err)
	}
	armed := tf.count()
	before := testutil.ToFloat64(metrics.ScheduleFires.WithLabelValues("refreshed"))

	tf.last().f()

	if len(got) != 1 || got[0] != "a" {
		t.Fatalf("handler calls = %v", got)
	}
	if tf.count() != armed+1 {
		t.Error("timer not re-armed after fire")
	}
	e := m.GetScheduleStatus()[0]
	if e.LastRun == nil || !e.LastRun.Equal(testNow) || e.Running {
		t.Errorf("entry after fire = %+v", e)
	}
	if after := testutil.ToFloat64(metrics.ScheduleFires.WithLabelValues("refreshed")); after != before+1 {
		t.Errorf("refreshed fires = %v, want %v", after, before+1)
	}
}

func TestFireNotDueKeepsLastRun(t *testing.T) {
	m, tf := newTestManager(t, &fakeLister{})
	m.SetRefreshHandler(func(context.Context, string) error { return ErrNotDue })
	if err := m.ScheduleCollection(traktCollection("a", 1, "00:10")); err != nil {
		t.Fatal(err)
	}
	before := testutil.ToFloat64(metrics.ScheduleFires.WithLabelValues("not_due"))
	tf.last().f()
	if e := m.GetScheduleStatus()[0]; e.LastRun != nil {
		t.Errorf("last run set on a skipped fire: %v", e.LastRun)
	}
	if after := testutil.ToFloat64(metrics.ScheduleFires.WithLabelValues("not_due")); after != before+1 {
		t.Errorf("not_due fires = %v, want %v", after, before+1)
	}
}

func TestFireSkipsOverlap(t *testing.T) {
	m, tf := newTestManager(t, &fakeLister{})

	started := make(chan struct{})
	release := make(chan struct{})
	var mu sync.Mutex
	calls := 0
	m.SetRefreshHandler(func(context.Context, string) error {
		mu.Lock()
		calls++
		mu.Unlock()
		close(started)
		<-release
		return nil
	})
	if err := m.ScheduleCollection(traktCollection("a", 1, "00:10")); err != nil {
		t.Fatal(err)
	}

	first := tf.last()
	done := make(chan struct{})
	go func() {
		first.f()
		close(done)
	}()
	<-started

	if !m.GetScheduleStatus()[0].Running {
		t.Error("entry not marked running")
	}
	tf.last().f() // second fire while the first is in flight
	close(release)
	<-done

	mu.Lock()
	defer mu.Unlock()
	if calls != 1 {
		t.Errorf("handler calls = %d, want 1", calls)
	}
}

func TestFireRecoversPanic(t *testing.T) {
	m, tf := newTestManager(t, &fakeLister{})
	m.SetRefreshHandler(func(context.Context, string) error { panic("boom") })
	if err := m.ScheduleCollection(traktCollection("a", 1, "00:10")); err != nil {
		t.Fatal(err)
	}
	tf.last().f()
	if e := m.GetScheduleStatus()[0]; e.Running {
		t.Error("entry left running after panic")
	}
}

func TestInitializeSchedules(t *testing.T) {
	manual := traktCollection("m", 6, "")
	manual.Source = models.SourceManual
	bad := traktCollection("bad", 6, "nope")
	lister := &fakeLister{collections: []*models.Collection{
		traktCollection("a", 6, "03:30"),
		traktCollection("b", 24, "04:00"),
		manual,
		bad,
	}}
	m, _ := newTestManager(t, lister)

	// Stale entry from a collection that no longer exists.
	if err := m.ScheduleCollection(traktCollection("gone", 6, "")); err != nil {
		t.Fatal(err)
	}

	n, err := m.InitializeSchedules(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Errorf("scheduled = %d, want 2", n)
	}
	status := m.GetScheduleStatus()
	if len(status) != 2 || status[0].CollectionID != "a" || status[1].CollectionID != "b" {
		t.Errorf("status = %+v", status)
	}
}

func TestInitializeSchedulesListError(t *testing.T) {
	m, _ := newTestManager(t, &fakeLister{err: errors.New("db down")})
	if _, err := m.InitializeSchedules(context.Background()); err == nil {
		t.Fatal("expected error")
	}
}

func TestReset(t *testing.T) {
	m, tf := newTestManager(t, &fakeLister{})
	called := false
	m.SetRefreshHandler(func(context.Context, string) error {
		called = true
		return nil
	})
	for _, id := range []string{"a", "b"} {
		if err := m.ScheduleCollection(traktCollection(id, 6, "")); err != nil {
			t.Fatal(err)
		}
	}
	m.Reset()

	for _, timer := range tf.timers {
		if !timer.stopped {
			t.Error("timer left armed after Reset")
		}
	}
	if len(m.GetScheduleStatus()) != 0 {
		t.Error("entries left after Reset")
	}
	tf.timers[0].f()
	if called {
		t.Error("handler ran after Reset")
	}
}

func TestRunStopsTimersOnCancel(t *testing.T) {
	m, tf := newTestManager(t, &fakeLister{collections: []*models.Collection{traktCollection("a", 6, "")}})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Run(ctx) }()

	deadline := time.After(2 * time.Second)
	for tf.count() == 0 {
		select {
		case <-deadline:
			t.Fatal("schedules not initialized")
		case <-time.After(time.Millisecond):
		}
	}
	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Errorf("Run returned %v", err)
	}
	if !tf.last().stopped {
		t.Error("timer not stopped after Run returned")
	}
}

func TestManagerIsDueUsesCollectionInterval(t *testing.T) {
	m, _ := newTestManager(t, &fakeLister{})
	c := traktCollection("a", 6, "")
	last := testNow.Add(-2 * time.Hour)
	c.LastSyncAt = &last
	if m.IsDue(c) {
		t.Error("collection synced 2h ago with a 6h interval should not be due")
	}
	last = testNow.Add(-6 * time.Hour)
	if !m.IsDue(c) {
		t.Error("collection synced 6h ago should be due")
	}
}
