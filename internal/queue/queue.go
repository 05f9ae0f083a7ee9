// Curator - Media Collection Curation and Library Sync
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/curator

// Package queue is an in-memory job runner with priority ordering, bounded
// concurrency and per-job retry.
//
// A polling loop wakes every PollInterval. When dispatch is not paused it
// fills the free worker slots with eligible jobs. A job is eligible when it
// is pending and now-CreatedAt >= Delay. Eligible jobs run in priority order
// (high, normal, low), then oldest first. A failed execution increments
// Attempts and, while attempts remain, recomputes Delay with the retry
// backoff for that attempt count. Delay is measured from the original
// CreatedAt, not from the failure.
//
// Job state lives only in memory. Anything not completed when the process
// exits has to be treated as never done.
package queue

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/sourcegraph/conc/panics"

	"github.com/tomtom215/curator/internal/metrics"
	"github.com/tomtom215/curator/internal/retry"
)

var (
	ErrAlreadyRunning = errors.New("queue: dispatch loop already running")
	ErrNilPayload     = errors.New("queue: payload is required")
	ErrBadPriority    = errors.New("queue: invalid priority")
)

// Config controls dispatch.
type Config struct {
	Concurrency        int
	PollInterval       time.Duration
	DefaultMaxAttempts int
	// EventBuffer is the channel size used when Subscribe is given 0.
	EventBuffer int
	// Retention is how long completed and failed jobs stay visible.
	// Zero keeps them until Reset.
	Retention time.Duration
	Backoff   retry.Policy
}

// DefaultConfig matches the documented defaults: 3 workers, 100ms poll.
func DefaultConfig() Config {
	return Config{
		Concurrency:        3,
		PollInterval:       100 * time.Millisecond,
		DefaultMaxAttempts: 3,
		EventBuffer:        256,
		Retention:          time.Hour,
		Backoff:            retry.DefaultPolicy(),
	}
}

// Option customizes a Queue.
type Option func(*Queue)

// WithClock replaces time.Now for eligibility and timestamps.
func WithClock(now func() time.Time) Option {
	return func(q *Queue) { q.now = now }
}

// WithBackoff replaces the retry delay function. attempt is 1-based.
func WithBackoff(fn func(attempt int) time.Duration) Option {
	return func(q *Queue) { q.backoff = fn }
}

// Stats is a point-in-time summary.
type Stats struct {
	Pending     int  `json:"pending"`
	Running     int  `json:"running"`
	Completed   int  `json:"completed"`
	Failed      int  `json:"failed"`
	Total       int  `json:"total"`
	Concurrency int  `json:"concurrency"`
	Paused      bool `json:"paused"`
	Active      bool `json:"active"`
}

// Queue owns the job table. Construct one per process in main and pass it
// to the components that enqueue work.
type Queue struct {
	cfg     Config
	logger  zerolog.Logger
	now     func() time.Time
	backoff func(attempt int) time.Duration

	mu          sync.Mutex
	jobs        map[string]*Job
	handlers    map[Kind]Handler
	subscribers map[int]chan Event
	nextSub     int
	seq         uint64
	inflight    int
	paused      bool
	gen         uint64
	stopCh      chan struct{}
	handlerCtx  context.Context
}

// New builds a stopped queue. Call Run or Start to begin dispatch.
//
//nolint:gocritic // hugeParam: zerolog.Logger is designed to be passed by value
func New(cfg Config, logger zerolog.Logger, opts ...Option) *Queue {
	def := DefaultConfig()
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = def.Concurrency
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = def.PollInterval
	}
	if cfg.DefaultMaxAttempts <= 0 {
		cfg.DefaultMaxAttempts = def.DefaultMaxAttempts
	}
	if cfg.EventBuffer <= 0 {
		cfg.EventBuffer = def.EventBuffer
	}
	if cfg.Backoff.BaseDelay <= 0 {
		cfg.Backoff = def.Backoff
	}

	q := &Queue{
		cfg:         cfg,
		logger:      logger.With().Str("component", "queue").Logger(),
		now:         time.Now,
		jobs:        make(map[string]*Job),
		handlers:    make(map[Kind]Handler),
		subscribers: make(map[int]chan Event),
		handlerCtx:  context.Background(),
	}
	q.backoff = cfg.Backoff.Backoff
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// RegisterHandler associates h with kind, replacing any previous handler.
func (q *Queue) RegisterHandler(kind Kind, h Handler) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.handlers[kind] = h
}

// Enqueue adds a job and returns its id. It never blocks on dispatch.
// maxAttempts <= 0 uses the configured default.
func (q *Queue) Enqueue(p Payload, priority Priority, maxAttempts int, delay time.Duration) (string, error) {
	if p == nil {
		return "", ErrNilPayload
	}
	if !priority.valid() {
		return "", fmt.Errorf("%w: %d", ErrBadPriority, priority)
	}
	if maxAttempts <= 0 {
		maxAttempts = q.cfg.DefaultMaxAttempts
	}
	if delay < 0 {
		delay = 0
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	q.seq++
	j := &Job{
		ID:          uuid.NewString(),
		Kind:        p.Kind(),
		Priority:    priority,
		Payload:     p,
		Status:      StatusPending,
		MaxAttempts: maxAttempts,
		Delay:       delay,
		CreatedAt:   q.now(),
		seq:         q.seq,
	}
	q.jobs[j.ID] = j

	metrics.QueueJobsEnqueued.WithLabelValues(string(j.Kind), priority.String()).Inc()
	q.emitLocked(EventQueued, j, "")
	return j.ID, nil
}

// Run dispatches until Stop is called or ctx ends. Handlers receive a
// context detached from ctx so stopping never aborts running work.
func (q *Queue) Run(ctx context.Context) error {
	stopCh, err := q.begin(ctx)
	if err != nil {
		return err
	}
	return q.loop(ctx, stopCh)
}

// Start runs the dispatch loop in a goroutine. Dispatch is active when
// Start returns, so an immediate Stop is never lost.
func (q *Queue) Start(ctx context.Context) error {
	stopCh, err := q.begin(ctx)
	if err != nil {
		return err
	}
	go func() {
		if err := q.loop(ctx, stopCh); err != nil && !errors.Is(err, context.Canceled) {
			q.logger.Error().Err(err).Msg("dispatch loop exited")
		}
	}()
	return nil
}

func (q *Queue) begin(ctx context.Context) (chan struct{}, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.stopCh != nil {
		return nil, ErrAlreadyRunning
	}
	q.stopCh = make(chan struct{})
	q.handlerCtx = context.WithoutCancel(ctx)
	return q.stopCh, nil
}

func (q *Queue) loop(ctx context.Context, stopCh chan struct{}) error {
	q.logger.Info().
		Int("concurrency", q.cfg.Concurrency).
		Dur("poll_interval", q.cfg.PollInterval).
		Msg("job queue started")

	ticker := time.NewTicker(q.cfg.PollInterval)
	defer ticker.Stop()
	defer func() {
		q.mu.Lock()
		if q.stopCh == stopCh {
			q.stopCh = nil
		}
		q.mu.Unlock()
		q.logger.Info().Msg("job queue stopped")
	}()

	for {
		select {
		case <-stopCh:
			return nil
		default:
		}
		q.tick()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stopCh:
			return nil
		case <-ticker.C:
		}
	}
}

// Stop halts dispatch. Jobs already running finish on their own; use Drain
// to wait for them.
func (q *Queue) Stop() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.stopCh != nil {
		close(q.stopCh)
		q.stopCh = nil
	}
}

// Pause gates dispatch without discarding queued jobs.
func (q *Queue) Pause() {
	q.mu.Lock()
	q.paused = true
	q.mu.Unlock()
	metrics.QueuePaused.Set(1)
	q.logger.Info().Msg("dispatch paused")
}

// Resume re-enables dispatch.
func (q *Queue) Resume() {
	q.mu.Lock()
	q.paused = false
	q.mu.Unlock()
	metrics.QueuePaused.Set(0)
	q.logger.Info().Msg("dispatch resumed")
}

// Drain blocks until no handler is running or ctx ends.
func (q *Queue) Drain(ctx context.Context) error {
	t := time.NewTicker(10 * time.Millisecond)
	defer t.Stop()
	for {
		q.mu.Lock()
		n := q.inflight
		q.mu.Unlock()
		if n == 0 {
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("queue drain: %d jobs still running: %w", n, ctx.Err())
		case <-t.C:
		}
	}
}

// Reset stops dispatch and forgets every job, handler and subscriber.
// Handlers still running complete but their results are discarded.
func (q *Queue) Reset() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.stopCh != nil {
		close(q.stopCh)
		q.stopCh = nil
	}
	for id, ch := range q.subscribers {
		close(ch)
		delete(q.subscribers, id)
	}
	q.jobs = make(map[string]*Job)
	q.handlers = make(map[Kind]Handler)
	q.inflight = 0
	q.paused = false
	q.gen++
	q.handlerCtx = context.Background()
	metrics.QueuePaused.Set(0)
}

// Stats returns counts per status.
func (q *Queue) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.statsLocked()
}

func (q *Queue) statsLocked() Stats {
	s := Stats{
		Concurrency: q.cfg.Concurrency,
		Paused:      q.paused,
		Active:      q.stopCh != nil,
		Total:       len(q.jobs),
	}
	for _, j := range q.jobs {
		switch j.Status {
		case StatusPending:
			s.Pending++
		case StatusRunning:
			s.Running++
		case StatusCompleted:
			s.Completed++
		case StatusFailed:
			s.Failed++
		}
	}
	return s
}

// Get returns a snapshot of one job.
func (q *Queue) Get(id string) (Job, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	j, ok := q.jobs[id]
	if !ok {
		return Job{}, false
	}
	return *j, true
}

// Filter narrows List. Zero values match everything.
type Filter struct {
	Status       Status
	Kind         Kind
	CollectionID string
	Limit        int
}

// List returns matching jobs in dispatch order.
func (q *Queue) List(f Filter) []Job {
	q.mu.Lock()
	out := make([]Job, 0, len(q.jobs))
	for _, j := range q.jobs {
		if f.Status != "" && j.Status != f.Status {
			continue
		}
		if f.Kind != "" && j.Kind != f.Kind {
			continue
		}
		if f.CollectionID != "" && CollectionOf(j.Payload) != f.CollectionID {
			continue
		}
		out = append(out, *j)
	}
	q.mu.Unlock()

	slices.SortFunc(out, func(a, b Job) int { return compareJobs(&a, &b) })
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out
}

// compareJobs orders by priority, then creation time, then enqueue order.
func compareJobs(a, b *Job) int {
	if a.Priority != b.Priority {
		return int(a.Priority) - int(b.Priority)
	}
	if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
		return c
	}
	switch {
	case a.seq < b.seq:
		return -1
	case a.seq > b.seq:
		return 1
	}
	return 0
}

type dispatch struct {
	job     Job
	handler Handler
	gen     uint64
	ctx     context.Context
}

// tick runs one dispatch pass.
func (q *Queue) tick() {
	now := q.now()

	q.mu.Lock()
	q.pruneLocked(now)
	q.updateGaugesLocked()

	free := q.cfg.Concurrency - q.inflight
	if q.paused || free <= 0 {
		q.mu.Unlock()
		return
	}

	var eligible []*Job
	for _, j := range q.jobs {
		if j.Status == StatusPending && now.Sub(j.CreatedAt) >= j.Delay {
			eligible = append(eligible, j)
		}
	}
	slices.SortFunc(eligible, compareJobs)

	var started []dispatch
	for _, j := range eligible {
		if free == 0 {
			break
		}
		h, ok := q.handlers[j.Kind]
		if !ok {
			q.failUnhandledLocked(j, now)
			continue
		}
		t := now
		j.Status = StatusRunning
		j.StartedAt = &t
		q.inflight++
		free--
		q.emitLocked(EventStarted, j, "")
		started = append(started, dispatch{job: *j, handler: h, gen: q.gen, ctx: q.handlerCtx})
	}
	q.mu.Unlock()

	for _, d := range started {
		go q.execute(d)
	}
}

// failUnhandledLocked fails a job whose kind has no handler. This is a
// wiring error, so it is never retried.
func (q *Queue) failUnhandledLocked(j *Job, now time.Time) {
	t := now
	j.Attempts++
	j.Status = StatusFailed
	j.CompletedAt = &t
	j.LastError = fmt.Sprintf("no handler registered for job kind %q", j.Kind)
	q.logger.Error().Str("job_id", j.ID).Str("kind", string(j.Kind)).Msg(j.LastError)
	metrics.QueueJobsFinished.WithLabelValues(string(j.Kind), "failed").Inc()
	q.emitLocked(EventFailed, j, j.LastError)
}

func (q *Queue) execute(d dispatch) {
	log := q.logger.With().
		Str("job_id", d.job.ID).
		Str("kind", string(d.job.Kind)).
		Int("attempt", d.job.Attempts+1).
		Logger()
	log.Debug().Str("payload", describe(d.job.Payload)).Msg("job started")

	start := time.Now()
	var err error
	var pc panics.Catcher
	pc.Try(func() {
		err = d.handler(d.ctx, d.job)
	})
	if rec := pc.Recovered(); rec != nil {
		err = fmt.Errorf("handler panic: %w", rec.AsError())
		log.Error().Str("stack", string(rec.Stack)).Msg("job handler panicked")
	}

	q.finish(d, err, time.Since(start), log)
}

//nolint:gocritic // hugeParam: zerolog.Logger is designed to be passed by value
func (q *Queue) finish(d dispatch, err error, elapsed time.Duration, log zerolog.Logger) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if d.gen != q.gen {
		return
	}
	q.inflight--

	j, ok := q.jobs[d.job.ID]
	if !ok {
		return
	}
	now := q.now()

	if err == nil {
		j.Status = StatusCompleted
		j.CompletedAt = &now
		j.LastError = ""
		metrics.RecordJobFinished(string(j.Kind), "completed", elapsed)
		log.Debug().Dur("elapsed", elapsed).Msg("job completed")
		q.emitLocked(EventCompleted, j, "")
		return
	}

	j.Attempts++
	j.LastError = err.Error()

	if j.Attempts < j.MaxAttempts && !retry.IsPermanent(err) {
		j.Delay = q.backoff(j.Attempts)
		j.Status = StatusPending
		j.StartedAt = nil
		metrics.RecordJobFinished(string(j.Kind), "retrying", elapsed)
		log.Warn().Err(err).
			Int("attempts", j.Attempts).
			Int("max_attempts", j.MaxAttempts).
			Dur("delay", j.Delay).
			Msg("job failed, will retry")
		q.emitLocked(EventRetrying, j, j.LastError)
		return
	}

	j.Status = StatusFailed
	j.CompletedAt = &now
	metrics.RecordJobFinished(string(j.Kind), "failed", elapsed)
	log.Error().Err(err).
		Int("attempts", j.Attempts).
		Bool("permanent", retry.IsPermanent(err)).
		Msg("job failed")
	q.emitLocked(EventFailed, j, j.LastError)
}

func (q *Queue) pruneLocked(now time.Time) {
	if q.cfg.Retention <= 0 {
		return
	}
	for id, j := range q.jobs {
		if (j.Status == StatusCompleted || j.Status == StatusFailed) &&
			j.CompletedAt != nil && now.Sub(*j.CompletedAt) > q.cfg.Retention {
			delete(q.jobs, id)
		}
	}
}

func (q *Queue) updateGaugesLocked() {
	s := q.statsLocked()
	metrics.QueueJobsByStatus.WithLabelValues(string(StatusPending)).Set(float64(s.Pending))
	metrics.QueueJobsByStatus.WithLabelValues(string(StatusRunning)).Set(float64(s.Running))
	metrics.QueueJobsByStatus.WithLabelValues(string(StatusCompleted)).Set(float64(s.Completed))
	metrics.QueueJobsByStatus.WithLabelValues(string(StatusFailed)).Set(float64(s.Failed))
}
