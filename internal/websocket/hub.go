// Curator - Media Collection Curation and Library Sync
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/curator

package websocket

import (
	"context"
	"errors"
	"slices"
	"sync"
	"time"

	"github.com/goccy/go-json"

	"github.com/tomtom215/curator/internal/logging"
	"github.com/tomtom215/curator/internal/metrics"
	"github.com/tomtom215/curator/internal/models"
)

// ShutdownReason identifies why the hub stopped.
type ShutdownReason string

const (
	ShutdownReasonContextCanceled ShutdownReason = "context_canceled"
	ShutdownReasonContextDeadline ShutdownReason = "context_deadline"
)

const (
	MessageTypePing               = "ping"
	MessageTypePong               = "pong"
	MessageTypeEnrichmentProgress = "enrichment_progress"
	MessageTypeRefreshCompleted   = "refresh_completed"
	MessageTypeSyncCompleted      = "sync_completed"
	MessageTypeSubscribe          = "subscribe"
)

const broadcastBuffer = 256

// Message is the envelope for everything sent over the socket.
type Message struct {
	Type string `json:"type"`
	Data any    `json:"data"`

	// collectionID scopes the message for subscribed clients. Empty means
	// every client receives it.
	collectionID string
}

// Hub maintains the set of active clients and broadcasts messages to them.
type Hub struct {
	clients    map[*Client]bool
	broadcast  chan Message
	Register   chan *Client
	Unregister chan *Client
	mu         sync.RWMutex
}

func NewHub() *Hub {
	return &Hub{
		broadcast:  make(chan Message, broadcastBuffer),
		Register:   make(chan *Client),
		Unregister: make(chan *Client),
		clients:    make(map[*Client]bool),
	}
}

// RunWithContext serves registrations and broadcasts until ctx is done.
//
// Shutdown is checked first, then client lifecycle events, then broadcasts,
// so a client registered before a message is always included in it.
func (h *Hub) RunWithContext(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			h.shutdown(ctx)
			return ctx.Err()
		default:
		}

		select {
		case client := <-h.Register:
			h.register(client)
			continue
		case client := <-h.Unregister:
			h.unregister(client)
			continue
		default:
		}

		select {
		case <-ctx.Done():
			h.shutdown(ctx)
			return ctx.Err()
		case client := <-h.Register:
			h.register(client)
		case client := <-h.Unregister:
			h.unregister(client)
		case message := <-h.broadcast:
			h.broadcastToClients(message)
		}
	}
}

func (h *Hub) register(client *Client) {
	h.mu.Lock()
	h.clients[client] = true
	n := len(h.clients)
	h.mu.Unlock()
	metrics.WSConnections.Set(float64(n))
	logging.Info().Uint64("client_id", client.id).Int("total_clients", n).Msg("websocket client connected")
}

func (h *Hub) unregister(client *Client) {
	h.mu.Lock()
	if _, ok := h.clients[client]; ok {
		delete(h.clients, client)
		close(client.send)
	}
	n := len(h.clients)
	h.mu.Unlock()
	metrics.WSConnections.Set(float64(n))
	logging.Info().Uint64("client_id", client.id).Int("total_clients", n).Msg("websocket client disconnected")
}

// shutdown closes every client. Cancellation is the normal stop path, so it
// is logged at info level without an error field.
func (h *Hub) shutdown(ctx context.Context) {
	n := h.GetClientCount()
	h.closeAllClients()
	logging.Info().
		Str("component", "websocket-hub").
		Str("reason", string(shutdownReason(ctx))).
		Int("clients_closed", n).
		Msg("websocket hub stopped")
}

func shutdownReason(ctx context.Context) ShutdownReason {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return ShutdownReasonContextDeadline
	}
	return ShutdownReasonContextCanceled
}

// sortedClientsLocked returns clients in id order so delivery order is
// stable across runs.
func (h *Hub) sortedClientsLocked() []*Client {
	clients := make([]*Client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	slices.SortFunc(clients, func(a, b *Client) int {
		switch {
		case a.id < b.id:
			return -1
		case a.id > b.id:
			return 1
		}
		return 0
	})
	return clients
}

// broadcastToClients drops any client whose send buffer is full.
func (h *Hub) broadcastToClients(message Message) {
	h.mu.Lock()
	defer h.mu.Unlock()

	var slow []*Client
	for _, c := range h.sortedClientsLocked() {
		if !c.wants(message) {
			continue
		}
		select {
		case c.send <- message:
			metrics.WSMessagesSent.Inc()
		default:
			slow = append(slow, c)
		}
	}
	for _, c := range slow {
		close(c.send)
		delete(h.clients, c)
		logging.Warn().Uint64("client_id", c.id).Str("message_type", message.Type).Msg("websocket client too slow, dropped")
	}
	if len(slow) > 0 {
		metrics.WSConnections.Set(float64(len(h.clients)))
	}
}

func (h *Hub) closeAllClients() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, c := range h.sortedClientsLocked() {
		close(c.send)
		delete(h.clients, c)
	}
	metrics.WSConnections.Set(0)
}

// GetClientCount returns the number of connected clients.
func (h *Hub) GetClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// BroadcastJSON queues a message for every client without blocking.
func (h *Hub) BroadcastJSON(messageType string, data any) {
	h.enqueue(Message{Type: messageType, Data: data})
}

// broadcastCollection queues a message that subscribed clients only see
// when it concerns their collection.
func (h *Hub) broadcastCollection(collectionID, messageType string, data any) {
	h.enqueue(Message{Type: messageType, Data: data, collectionID: collectionID})
}

func (h *Hub) enqueue(m Message) {
	select {
	case h.broadcast <- m:
	default:
		logging.Warn().Str("message_type", m.Type).Msg("broadcast channel full, dropping message")
	}
}

// BroadcastEnrichmentProgress publishes one collection's counters.
func (h *Hub) BroadcastEnrichmentProgress(p models.EnrichmentProgress) {
	h.broadcastCollection(p.CollectionID, MessageTypeEnrichmentProgress, p)
}

// RefreshCompletedData is sent after a collection snapshot is replaced.
type RefreshCompletedData struct {
	CollectionID string `json:"collection_id"`
	Stored       int    `json:"stored"`
	Duplicates   int    `json:"duplicates"`
	Enqueued     int    `json:"enqueued"`
	Error        string `json:"error,omitempty"`
	Timestamp    string `json:"timestamp"`
}

// BroadcastRefreshCompleted publishes the outcome of one refresh run.
func (h *Hub) BroadcastRefreshCompleted(run *models.RefreshRun) {
	h.broadcastCollection(run.CollectionID, MessageTypeRefreshCompleted, RefreshCompletedData{
		CollectionID: run.CollectionID,
		Stored:       run.Stored,
		Duplicates:   run.Duplicates,
		Enqueued:     run.Enqueued,
		Error:        run.Error,
		Timestamp:    time.Now().UTC().Format(time.RFC3339),
	})
}

// SyncCompletedData is the summary of a SyncResult sent to clients. The
// matched list and errors stay in the run log.
type SyncCompletedData struct {
	RunID        string            `json:"run_id"`
	CollectionID string            `json:"collection_id"`
	ServerID     string            `json:"server_id"`
	Status       models.SyncStatus `json:"status"`
	Total        int               `json:"total"`
	Matched      int               `json:"matched"`
	Failed       int               `json:"failed"`
	DurationMs   int64             `json:"duration_ms"`
}

// BroadcastSyncCompleted publishes the summary of one reconciliation.
func (h *Hub) BroadcastSyncCompleted(res *models.SyncResult) {
	h.broadcastCollection(res.CollectionID, MessageTypeSyncCompleted, SyncCompletedData{
		RunID:        res.ID,
		CollectionID: res.CollectionID,
		ServerID:     res.ServerID,
		Status:       res.Status,
		Total:        res.Total,
		Matched:      res.Matched,
		Failed:       res.Failed,
		DurationMs:   res.Duration.Milliseconds(),
	})
}

// MarshalMessage encodes msg the way clients receive it.
func MarshalMessage(msg Message) ([]byte, error) {
	return json.Marshal(msg)
}
