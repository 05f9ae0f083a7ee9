// Curator - Media Collection Curation and Library Sync
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/curator

package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func TestCheckWebSocketOrigin(t *testing.T) {
	tests := []struct {
		name    string
		allowed []string
		origin  string
		want    bool
	}{
		{"missing origin", []string{"*"}, "", false},
		{"wildcard", []string{"*"}, "http://any.example", true},
		{"listed", []string{"http://a.example"}, "http://a.example", true},
		{"not listed", []string{"http://a.example"}, "http://b.example", false},
		{"nothing configured", nil, "http://a.example", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := &Handler{corsOrigins: tt.allowed}
			r := httptest.NewRequest(http.MethodGet, "/api/v1/ws", nil)
			if tt.origin != "" {
				r.Header.Set("Origin", tt.origin)
			}
			if got := h.checkWebSocketOrigin(r); got != tt.want {
				t.Errorf("checkWebSocketOrigin() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestSanitizeLogValue(t *testing.T) {
	if got := sanitizeLogValue("a\nb\x7fc"); got != "abc" {
		t.Errorf("sanitizeLogValue = %q", got)
	}
	if got := sanitizeLogValue(strings.Repeat("x", 500)); len(got) != 200 {
		t.Errorf("len = %d, want 200", len(got))
	}
}

func TestWebSocketHandshake(t *testing.T) {
	e := newTestEnv(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = e.hub.RunWithContext(ctx) }()

	url := "ws" + strings.TrimPrefix(e.server.URL, "http") + "/api/v1/ws"

	header := http.Header{"Origin": []string{"http://evil.example"}}
	_, resp, err := websocket.DefaultDialer.Dial(url, header)
	if err == nil {
		t.Fatal("dial with foreign origin succeeded")
	}
	if resp == nil || resp.StatusCode != http.StatusForbidden {
		t.Errorf("foreign origin response = %v", resp)
	}

	header.Set("Origin", "http://allowed.example")
	conn, _, err := websocket.DefaultDialer.Dial(url, header)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for e.hub.GetClientCount() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("client never registered")
		}
		time.Sleep(5 * time.Millisecond)
	}
	e.hub.BroadcastJSON("job", map[string]string{"id": "j1"})
	var msg struct {
		Type string `json:"type"`
	}
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("read: %v", err)
	}
	if msg.Type != "job" {
		t.Errorf("message type = %q", msg.Type)
	}
}
