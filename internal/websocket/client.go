// Curator - Media Collection Curation and Library Sync
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/curator

package websocket

import (
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/tomtom215/curator/internal/logging"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
	sendBuffer     = 256
)

// clientIDCounter gives clients a monotonically increasing id used to order
// broadcast delivery.
var clientIDCounter atomic.Uint64

// Client is a middleman between one websocket connection and the hub.
type Client struct {
	id   uint64
	hub  *Hub
	conn *websocket.Conn
	send chan Message

	// collection is the subscription filter; nil or empty receives all.
	collection atomic.Pointer[string]
}

func NewClient(hub *Hub, conn *websocket.Conn) *Client {
	return &Client{
		id:   clientIDCounter.Add(1),
		hub:  hub,
		conn: conn,
		send: make(chan Message, sendBuffer),
	}
}

func (c *Client) ID() uint64 {
	return c.id
}

// Subscription returns the collection the client filters on, or "".
func (c *Client) Subscription() string {
	if p := c.collection.Load(); p != nil {
		return *p
	}
	return ""
}

// subscribe sets the filter from a subscribe message's data. A missing or
// empty collection_id clears it.
func (c *Client) subscribe(data any) {
	id := ""
	if m, ok := data.(map[string]any); ok {
		id, _ = m["collection_id"].(string)
	}
	c.collection.Store(&id)
	logging.Debug().Uint64("client_id", c.id).Str("collection_id", id).Msg("websocket subscription changed")
}

func (c *Client) wants(m Message) bool {
	filter := c.Subscription()
	return filter == "" || m.collectionID == "" || m.collectionID == filter
}

// readPump handles application pings and subscriptions. Any read error ends
// the client.
func (c *Client) readPump() {
	defer func() {
		c.hub.Unregister <- c
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		logging.Error().Err(err).Msg("failed to set read deadline")
		return
	}
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var msg Message
		if err := c.conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logging.Warn().Err(err).Uint64("client_id", c.id).Msg("unexpected websocket close")
			}
			return
		}
		switch msg.Type {
		case MessageTypePing:
			select {
			case c.send <- Message{Type: MessageTypePong}:
			default:
			}
		case MessageTypeSubscribe:
			c.subscribe(msg.Data)
		}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return
			}
			if !ok {
				// hub closed the channel
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteJSON(message); err != nil {
				logging.Debug().Err(err).Uint64("client_id", c.id).Msg("websocket write failed")
				return
			}

		case <-ticker.C:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return
			}
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// Start launches the client's pumps. The client must already be registered.
func (c *Client) Start() {
	go c.writePump()
	go c.readPump()
}
