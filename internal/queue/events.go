// Curator - Media Collection Curation and Library Sync
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/curator

package queue

import (
	"time"

	"github.com/tomtom215/curator/internal/metrics"
)

type EventType string

const (
	EventQueued    EventType = "queued"
	EventStarted   EventType = "started"
	EventCompleted EventType = "completed"
	EventRetrying  EventType = "retrying"
	EventFailed    EventType = "failed"
)

// Event is a job lifecycle notification. Job is a snapshot taken when the
// event was emitted.
type Event struct {
	Type  EventType `json:"type"`
	Job   Job       `json:"job"`
	Error string    `json:"error,omitempty"`
	At    time.Time `json:"at"`
}

// Subscribe returns a channel receiving every lifecycle event from now on,
// and a function that unsubscribes and closes it. Delivery never blocks the
// queue: when the channel is full the event is dropped for that subscriber.
func (q *Queue) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = q.cfg.EventBuffer
	}
	ch := make(chan Event, buffer)

	q.mu.Lock()
	id := q.nextSub
	q.nextSub++
	q.subscribers[id] = ch
	q.mu.Unlock()

	cancel := func() {
		q.mu.Lock()
		defer q.mu.Unlock()
		if c, ok := q.subscribers[id]; ok {
			delete(q.subscribers, id)
			close(c)
		}
	}
	return ch, cancel
}

// emitLocked must be called with q.mu held, which also serializes event
// order with the state change it reports.
func (q *Queue) emitLocked(t EventType, j *Job, errMsg string) {
	if len(q.subscribers) == 0 {
		return
	}
	ev := Event{Type: t, Job: *j, Error: errMsg, At: q.now()}
	for id, ch := range q.subscribers {
		select {
		case ch <- ev:
		default:
			metrics.QueueEventsDropped.Inc()
			q.logger.Warn().Int("subscriber", id).Str("event", string(t)).Msg("subscriber full, event dropped")
		}
	}
}
