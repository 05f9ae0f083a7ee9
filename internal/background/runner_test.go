// Curator - Media Collection Curation and Library Sync
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/curator

package background

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"

	"github.com/tomtom215/curator/internal/metrics"
)

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func startRunner(t *testing.T, jobs ...Job) *Runner {
	t.Helper()
	r := New(zerolog.Nop())
	for _, j := range jobs {
		if err := r.Add(j); err != nil {
			t.Fatal(err)
		}
	}
	if err := r.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = r.Stop() })
	return r
}

func TestAddValidation(t *testing.T) {
	r := New(zerolog.Nop())
	noop := func(context.Context) error { return nil }

	tests := []struct {
		name string
		job  Job
	}{
		{"no name", Job{Interval: time.Second, Run: noop}},
		{"no func", Job{Name: "x", Interval: time.Second}},
		{"no interval", Job{Name: "x", Run: noop}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := r.Add(tt.job); err == nil {
				t.Error("expected error")
			}
		})
	}

	if err := r.Add(Job{Name: "x", Interval: time.Second, Run: noop}); err != nil {
		t.Fatal(err)
	}
	if err := r.Add(Job{Name: "x", Interval: time.Second, Run: noop}); err == nil {
		t.Error("duplicate name accepted")
	}
}

func TestPeriodicRunsOnlyWhenEnabled(t *testing.T) {
	var on, off atomic.Int32
	r := startRunner(t,
		Job{Name: "on", Interval: 5 * time.Millisecond, Enabled: true, Run: func(context.Context) error { on.Add(1); return nil }},
		Job{Name: "off", Interval: 5 * time.Millisecond, Run: func(context.Context) error { off.Add(1); return nil }},
	)

	waitFor(t, "enabled job to run", func() bool { return on.Load() >= 2 })
	if off.Load() != 0 {
		t.Errorf("disabled job ran %d times", off.Load())
	}

	if err := r.SetEnabled("off", true); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "re-enabled job to run", func() bool { return off.Load() >= 1 })

	if err := r.SetEnabled("missing", true); !errors.Is(err, ErrUnknownJob) {
		t.Errorf("err = %v", err)
	}
}

func TestRunOnStart(t *testing.T) {
	ran := make(chan struct{}, 1)
	startRunner(t, Job{Name: "boot", Interval: time.Hour, Enabled: true, RunOnStart: true,
		Run: func(context.Context) error { ran <- struct{}{}; return nil }})

	select {
	case <-ran:
	case <-time.After(time.Second):
		t.Fatal("RunOnStart job did not run")
	}
}

func TestTrigger(t *testing.T) {
	release := make(chan struct{})
	var runs atomic.Int32
	r := startRunner(t, Job{Name: "manual", Interval: time.Hour, Run: func(ctx context.Context) error {
		runs.Add(1)
		select {
		case <-release:
		case <-ctx.Done():
		}
		return errors.New("boom")
	}})

	// disabled jobs can still be triggered
	if err := r.Trigger("manual"); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "trigger to start", func() bool { return runs.Load() == 1 })
	if err := r.Trigger("manual"); !errors.Is(err, ErrJobRunning) {
		t.Errorf("second trigger err = %v", err)
	}
	if err := r.Trigger("nope"); !errors.Is(err, ErrUnknownJob) {
		t.Errorf("unknown trigger err = %v", err)
	}

	close(release)
	waitFor(t, "run to finish", func() bool { return !r.Status()[0].Running })

	st := r.Status()[0]
	if st.Runs != 1 || st.Failures != 1 || st.LastError != "boom" || st.LastRun == nil {
		t.Errorf("status = %+v", st)
	}
	if st.NextRun != nil {
		t.Error("disabled job should not report a next run")
	}
}

func TestOverlappingTickSkipped(t *testing.T) {
	before := testutil.ToFloat64(metrics.BackgroundJobRuns.WithLabelValues("slow", "skipped"))
	release := make(chan struct{})
	var runs atomic.Int32
	startRunner(t, Job{Name: "slow", Interval: 2 * time.Millisecond, Enabled: true, Run: func(ctx context.Context) error {
		runs.Add(1)
		select {
		case <-release:
		case <-ctx.Done():
		}
		return nil
	}})

	waitFor(t, "a skipped tick", func() bool {
		return testutil.ToFloat64(metrics.BackgroundJobRuns.WithLabelValues("slow", "skipped")) > before
	})
	if n := runs.Load(); n != 1 {
		t.Errorf("runs = %d while first run still in progress", n)
	}
	close(release)
}

func TestTickSkippedWhileTriggeredRunInProgress(t *testing.T) {
	before := testutil.ToFloat64(metrics.BackgroundJobRuns.WithLabelValues("manual-slow", "skipped"))
	release := make(chan struct{})
	var runs atomic.Int32
	r := startRunner(t, Job{Name: "manual-slow", Interval: 5 * time.Millisecond, Run: func(ctx context.Context) error {
		runs.Add(1)
		select {
		case <-release:
		case <-ctx.Done():
		}
		return nil
	}})

	if err := r.Trigger("manual-slow"); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "triggered run to start", func() bool { return runs.Load() == 1 })
	if err := r.SetEnabled("manual-slow", true); err != nil {
		t.Fatal(err)
	}

	waitFor(t, "a skipped tick", func() bool {
		return testutil.ToFloat64(metrics.BackgroundJobRuns.WithLabelValues("manual-slow", "skipped")) > before
	})
	if n := runs.Load(); n != 1 {
		t.Errorf("runs = %d while triggered run still in progress", n)
	}
	close(release)
	waitFor(t, "run to finish", func() bool { return !r.Status()[0].Running })
}

func TestPanicIsRecorded(t *testing.T) {
	r := startRunner(t, Job{Name: "bad", Interval: time.Hour, Run: func(context.Context) error { panic("oops") }})
	if err := r.Trigger("bad"); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "panic to be recorded", func() bool { return r.Status()[0].Failures == 1 })
}

func TestStopCancelsRunningJob(t *testing.T) {
	canceled := make(chan struct{})
	r := New(zerolog.Nop())
	_ = r.Add(Job{Name: "long", Interval: time.Hour, Run: func(ctx context.Context) error {
		<-ctx.Done()
		close(canceled)
		return ctx.Err()
	}})
	if err := r.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := r.Start(context.Background()); !errors.Is(err, ErrAlreadyStarted) {
		t.Errorf("second start err = %v", err)
	}
	if err := r.Trigger("long"); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "job to start", func() bool { return r.Status()[0].Running })

	if err := r.Stop(); err != nil {
		t.Fatal(err)
	}
	select {
	case <-canceled:
	default:
		t.Fatal("Stop returned before the job observed cancellation")
	}
	if err := r.Trigger("long"); !errors.Is(err, ErrNotStarted) {
		t.Errorf("trigger after stop err = %v", err)
	}
}
