// Curator - Media Collection Curation and Library Sync
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/curator

package services

import (
	"context"
	"fmt"
)

// Runner is a component whose Run blocks until ctx ends. Satisfied by
// *queue.Queue, *progress.Tracker and *schedule.Manager.
type Runner interface {
	Run(ctx context.Context) error
}

// RunnerFunc adapts a plain run function, such as (*websocket.Hub).RunWithContext.
type RunnerFunc func(ctx context.Context) error

func (f RunnerFunc) Run(ctx context.Context) error { return f(ctx) }

// RunService supervises a Runner under a fixed name.
type RunService struct {
	runner Runner
	name   string
}

func NewRunService(name string, runner Runner) *RunService {
	return &RunService{runner: runner, name: name}
}

// Serve returns ctx.Err() on shutdown. A Runner that returns nil while ctx
// is still live is reported as a failure so suture restarts it.
func (s *RunService) Serve(ctx context.Context) error {
	err := s.runner.Run(ctx)
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if err == nil {
		return fmt.Errorf("%s exited unexpectedly", s.name)
	}
	return fmt.Errorf("%s: %w", s.name, err)
}

func (s *RunService) String() string {
	return s.name
}

// StartStopper is a component with a non-blocking Start and a Stop that
// waits for its goroutines. Satisfied by *background.Runner.
type StartStopper interface {
	Start(ctx context.Context) error
	Stop() error
}

// StartStopService adapts the Start/Stop lifecycle to Serve.
type StartStopService struct {
	component StartStopper
	name      string
}

func NewStartStopService(name string, component StartStopper) *StartStopService {
	return &StartStopService{component: component, name: name}
}

// Serve starts the component, blocks until ctx ends, then stops it. A failed
// Start is returned so suture retries with backoff.
func (s *StartStopService) Serve(ctx context.Context) error {
	if err := s.component.Start(ctx); err != nil {
		return fmt.Errorf("%s start failed: %w", s.name, err)
	}
	<-ctx.Done()
	if err := s.component.Stop(); err != nil {
		return fmt.Errorf("%s stop failed: %w", s.name, err)
	}
	return ctx.Err()
}

func (s *StartStopService) String() string {
	return s.name
}
