// Curator - Media Collection Curation and Library Sync
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/curator

// Package background runs named periodic maintenance jobs.
//
// Every job has its own ticker goroutine. A tick that arrives while the
// previous run of the same job is still going is skipped. Disabled jobs keep
// their ticker but do nothing until re-enabled. Trigger runs a job once
// immediately, whether or not it is enabled.
package background

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/sourcegraph/conc"
	"github.com/sourcegraph/conc/panics"

	"github.com/tomtom215/curator/internal/metrics"
)

var (
	ErrUnknownJob     = errors.New("background: unknown job")
	ErrJobRunning     = errors.New("background: job already running")
	ErrAlreadyStarted = errors.New("background: runner already started")
	ErrNotStarted     = errors.New("background: runner not started")
)

// Func is one execution of a job.
type Func func(ctx context.Context) error

// Job describes a periodic job.
type Job struct {
	Name     string
	Interval time.Duration
	Enabled  bool
	// RunOnStart runs the job once as soon as the runner starts.
	RunOnStart bool
	// Timeout bounds a single run. Zero means no limit beyond the runner's
	// context.
	Timeout time.Duration
	Run     Func
}

// Status is the observable state of a job.
type Status struct {
	Name         string        `json:"name"`
	Interval     string        `json:"interval"`
	Enabled      bool          `json:"enabled"`
	Running      bool          `json:"running"`
	Runs         int           `json:"runs"`
	Failures     int           `json:"failures"`
	LastRun      *time.Time    `json:"last_run,omitempty"`
	LastDuration time.Duration `json:"last_duration_ns,omitempty"`
	LastError    string        `json:"last_error,omitempty"`
	NextRun      *time.Time    `json:"next_run,omitempty"`
}

type entry struct {
	job      Job
	enabled  bool
	running  bool
	runs     int
	failures int
	lastRun  *time.Time
	lastDur  time.Duration
	lastErr  string
	nextRun  *time.Time
}

// Runner owns the job set.
type Runner struct {
	logger zerolog.Logger
	now    func() time.Time

	mu      sync.Mutex
	jobs    map[string]*entry
	ctx     context.Context
	cancel  context.CancelFunc
	wg      *conc.WaitGroup
	started bool
}

//nolint:gocritic // hugeParam: zerolog.Logger is designed to be passed by value
func New(logger zerolog.Logger) *Runner {
	return &Runner{
		logger: logger.With().Str("component", "background").Logger(),
		now:    time.Now,
		jobs:   make(map[string]*entry),
	}
}

// Add registers a job. Jobs added after Start begin ticking immediately.
func (r *Runner) Add(job Job) error {
	if job.Name == "" || job.Run == nil {
		return fmt.Errorf("background: job needs a name and a func")
	}
	if job.Interval <= 0 {
		return fmt.Errorf("background: job %s: interval must be positive", job.Name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.jobs[job.Name]; dup {
		return fmt.Errorf("background: job %s already registered", job.Name)
	}
	e := &entry{job: job, enabled: job.Enabled}
	r.jobs[job.Name] = e
	if r.started {
		r.launchLocked(e)
	}
	return nil
}

// Start launches every job's ticker.
func (r *Runner) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.started {
		return ErrAlreadyStarted
	}
	r.ctx, r.cancel = context.WithCancel(ctx)
	r.wg = conc.NewWaitGroup()
	r.started = true

	names := make([]string, 0, len(r.jobs))
	for name, e := range r.jobs {
		names = append(names, name)
		r.launchLocked(e)
	}
	slices.Sort(names)
	r.logger.Info().Strs("jobs", names).Msg("background jobs started")
	return nil
}

// Stop cancels running jobs and waits for their goroutines.
func (r *Runner) Stop() error {
	r.mu.Lock()
	if !r.started {
		r.mu.Unlock()
		return nil
	}
	r.cancel()
	wg := r.wg
	r.started = false
	r.mu.Unlock()

	wg.Wait()
	r.logger.Info().Msg("background jobs stopped")
	return nil
}

func (r *Runner) launchLocked(e *entry) {
	ctx, wg := r.ctx, r.wg
	next := r.now().Add(e.job.Interval)
	e.nextRun = &next
	wg.Go(func() { r.loop(ctx, wg, e) })
}

// loop only owns the ticker. Runs happen on their own goroutines so a slow
// run never delays the next tick, which is then skipped.
func (r *Runner) loop(ctx context.Context, wg *conc.WaitGroup, e *entry) {
	ticker := time.NewTicker(e.job.Interval)
	defer ticker.Stop()

	if e.job.RunOnStart {
		r.tick(ctx, wg, e)
	}
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.tick(ctx, wg, e)
		}
	}
}

func (r *Runner) tick(ctx context.Context, wg *conc.WaitGroup, e *entry) {
	r.mu.Lock()
	next := r.now().Add(e.job.Interval)
	e.nextRun = &next
	if !e.enabled {
		r.mu.Unlock()
		return
	}
	if e.running {
		r.mu.Unlock()
		metrics.BackgroundJobRuns.WithLabelValues(e.job.Name, "skipped").Inc()
		r.logger.Debug().Str("job", e.job.Name).Msg("previous run still in progress, tick skipped")
		return
	}
	e.running = true
	r.mu.Unlock()

	wg.Go(func() { r.execute(ctx, e, "schedule") })
}

// execute must be called with e.running already set.
func (r *Runner) execute(ctx context.Context, e *entry, trigger string) {
	if e.job.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.job.Timeout)
		defer cancel()
	}

	start := r.now()
	var err error
	var pc panics.Catcher
	pc.Try(func() { err = e.job.Run(ctx) })
	if rec := pc.Recovered(); rec != nil {
		err = fmt.Errorf("job panic: %w", rec.AsError())
	}
	elapsed := r.now().Sub(start)

	r.mu.Lock()
	e.running = false
	e.runs++
	t := start.UTC()
	e.lastRun = &t
	e.lastDur = elapsed
	e.lastErr = ""
	if err != nil {
		e.failures++
		e.lastErr = err.Error()
	}
	r.mu.Unlock()

	log := r.logger.With().Str("job", e.job.Name).Str("trigger", trigger).Dur("elapsed", elapsed).Logger()
	switch {
	case err == nil:
		metrics.BackgroundJobRuns.WithLabelValues(e.job.Name, "success").Inc()
		log.Debug().Msg("background job finished")
	case errors.Is(err, context.Canceled):
		metrics.BackgroundJobRuns.WithLabelValues(e.job.Name, "canceled").Inc()
		log.Info().Msg("background job canceled")
	default:
		metrics.BackgroundJobRuns.WithLabelValues(e.job.Name, "error").Inc()
		log.Error().Err(err).Msg("background job failed")
	}
}

// SetEnabled turns a job's schedule on or off.
func (r *Runner) SetEnabled(name string, enabled bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.jobs[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownJob, name)
	}
	if e.enabled != enabled {
		e.enabled = enabled
		r.logger.Info().Str("job", name).Bool("enabled", enabled).Msg("background job toggled")
	}
	return nil
}

// Trigger starts one run of the job now and returns without waiting for it.
func (r *Runner) Trigger(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.jobs[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownJob, name)
	}
	if !r.started {
		return ErrNotStarted
	}
	if e.running {
		return fmt.Errorf("%w: %s", ErrJobRunning, name)
	}
	e.running = true
	ctx := r.ctx
	r.wg.Go(func() { r.execute(ctx, e, "manual") })
	return nil
}

// Status lists every job ordered by name.
func (r *Runner) Status() []Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Status, 0, len(r.jobs))
	for _, e := range r.jobs {
		s := Status{
			Name:         e.job.Name,
			Interval:     e.job.Interval.String(),
			Enabled:      e.enabled,
			Running:      e.running,
			Runs:         e.runs,
			Failures:     e.failures,
			LastRun:      e.lastRun,
			LastDuration: e.lastDur,
			LastError:    e.lastErr,
		}
		if e.enabled && r.started {
			s.NextRun = e.nextRun
		}
		out = append(out, s)
	}
	slices.SortFunc(out, func(a, b Status) int { return strings.Compare(a.Name, b.Name) })
	return out
}
