// Curator - Media Collection Curation and Library Sync
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/curator

package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/tomtom215/curator/internal/retry"
)

// Kind names a category of work. Each Payload variant maps to one Kind.
type Kind string

const (
	KindEnrichItem        Kind = "enrich-item"
	KindRefreshCollection Kind = "refresh-collection"
	KindSyncCollection    Kind = "sync-collection"
)

// Payload is the closed set of job payloads. Only types in this package
// implement it.
type Payload interface {
	Kind() Kind
	isPayload()
}

// EnrichItem fetches detail metadata for one stored item.
type EnrichItem struct {
	CollectionID string `json:"collection_id"`
	ItemID       string `json:"item_id"`
}

// RefreshCollection pulls a collection's list from its provider.
type RefreshCollection struct {
	CollectionID string `json:"collection_id"`
	Reason       string `json:"reason"`
}

// SyncCollection reconciles a collection against one library server.
// An empty ServerID means every server the collection targets.
type SyncCollection struct {
	CollectionID string `json:"collection_id"`
	ServerID     string `json:"server_id,omitempty"`
}

func (EnrichItem) Kind() Kind        { return KindEnrichItem }
func (RefreshCollection) Kind() Kind { return KindRefreshCollection }
func (SyncCollection) Kind() Kind    { return KindSyncCollection }

func (EnrichItem) isPayload()        {}
func (RefreshCollection) isPayload() {}
func (SyncCollection) isPayload()    {}

// Priority orders dispatch. Lower values run first.
type Priority int

const (
	PriorityHigh Priority = iota
	PriorityNormal
	PriorityLow
)

func (p Priority) String() string {
	switch p {
	case PriorityHigh:
		return "high"
	case PriorityNormal:
		return "normal"
	case PriorityLow:
		return "low"
	default:
		return fmt.Sprintf("priority(%d)", int(p))
	}
}

// ParsePriority accepts high, normal or low.
func ParsePriority(s string) (Priority, error) {
	switch s {
	case "high":
		return PriorityHigh, nil
	case "normal", "":
		return PriorityNormal, nil
	case "low":
		return PriorityLow, nil
	}
	return 0, fmt.Errorf("unknown priority %q", s)
}

func (p Priority) valid() bool {
	return p >= PriorityHigh && p <= PriorityLow
}

// Status is a job's lifecycle state.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Job is a unit of deferred work. Values returned by the queue are
// snapshots; mutating them has no effect on the queue.
type Job struct {
	ID          string        `json:"id"`
	Kind        Kind          `json:"kind"`
	Priority    Priority      `json:"priority"`
	Payload     Payload       `json:"payload"`
	Status      Status        `json:"status"`
	Attempts    int           `json:"attempts"`
	MaxAttempts int           `json:"max_attempts"`
	Delay       time.Duration `json:"delay_ns"`
	CreatedAt   time.Time     `json:"created_at"`
	StartedAt   *time.Time    `json:"started_at,omitempty"`
	CompletedAt *time.Time    `json:"completed_at,omitempty"`
	LastError   string        `json:"last_error,omitempty"`

	seq uint64
}

// AttemptsLeft reports whether a failure of the current execution would
// still be retried. Handlers use it to decide whether a failure is final.
func (j Job) AttemptsLeft() bool {
	return j.Attempts+1 < j.MaxAttempts
}

// Handler executes one job. Returning an error wrapping
// retry.PermanentError fails the job without further attempts.
type Handler func(ctx context.Context, job Job) error

// OnEnrichItem adapts a typed enrichment handler.
func OnEnrichItem(fn func(ctx context.Context, job Job, p EnrichItem) error) Handler {
	return typed(fn)
}

// OnRefreshCollection adapts a typed refresh handler.
func OnRefreshCollection(fn func(ctx context.Context, job Job, p RefreshCollection) error) Handler {
	return typed(fn)
}

// OnSyncCollection adapts a typed sync handler.
func OnSyncCollection(fn func(ctx context.Context, job Job, p SyncCollection) error) Handler {
	return typed(fn)
}

func typed[P Payload](fn func(ctx context.Context, job Job, p P) error) Handler {
	return func(ctx context.Context, job Job) error {
		p, ok := job.Payload.(P)
		if !ok {
			return retry.Permanent(fmt.Sprintf("job %s: payload %T does not match handler", job.ID, job.Payload), nil)
		}
		return fn(ctx, job, p)
	}
}

// describe renders the payload for logs.
func describe(p Payload) string {
	switch v := p.(type) {
	case EnrichItem:
		return "collection=" + v.CollectionID + " item=" + v.ItemID
	case RefreshCollection:
		return "collection=" + v.CollectionID + " reason=" + v.Reason
	case SyncCollection:
		if v.ServerID == "" {
			return "collection=" + v.CollectionID + " server=*"
		}
		return "collection=" + v.CollectionID + " server=" + v.ServerID
	default:
		return fmt.Sprintf("%T", p)
	}
}

// CollectionOf returns the collection a payload refers to.
func CollectionOf(p Payload) string {
	switch v := p.(type) {
	case EnrichItem:
		return v.CollectionID
	case RefreshCollection:
		return v.CollectionID
	case SyncCollection:
		return v.CollectionID
	default:
		return ""
	}
}
