package events

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

func newTestHub(t *testing.T, origins []string) *Hub {
	t.Helper()
	hub := NewHub(origins, zap.NewNop())
	go hub.Run()
	return hub
}

func dialHub(t *testing.T, hub *Hub) (*websocket.Conn, func()) {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(hub.HandleWebSocket))
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		srv.Close()
		t.Fatal(err)
	}
	return conn, func() {
		conn.Close()
		srv.Close()
	}
}

func waitForClients(t *testing.T, hub *Hub, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for hub.ClientCount() != want {
		if time.Now().After(deadline) {
			t.Fatalf("client count = %d, want %d", hub.ClientCount(), want)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestHubBroadcast(t *testing.T) {
	hub := newTestHub(t, []string{"*"})
	conn, cleanup := dialHub(t, hub)
	defer cleanup()

	waitForClients(t, hub, 1)

	hub.Broadcast(Event{
		Type:      TypeSanitize,
		SessionID: "sess-1",
		Data:      SanitizePayload{Encoded: 3, Matches: 3, Categories: []string{"NAMES"}},
	})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var got Event
	if err := conn.ReadJSON(&got); err != nil {
		t.Fatal(err)
	}
	if got.Type != TypeSanitize || got.SessionID != "sess-1" {
		t.Errorf("event = %+v", got)
	}
	if got.Timestamp.IsZero() {
		t.Error("broadcast should stamp the event")
	}
}

func TestHubClientLifecycle(t *testing.T) {
	hub := newTestHub(t, []string{"*"})
	conn, cleanup := dialHub(t, hub)

	waitForClients(t, hub, 1)
	conn.Close()
	waitForClients(t, hub, 0)
	cleanup()
}

func TestHubBroadcastWithoutClients(t *testing.T) {
	hub := NewHub([]string{"*"}, zap.NewNop())
	// No Run loop, no clients: Broadcast must not block.
	done := make(chan struct{})
	go func() {
		for i := 0; i < 1000; i++ {
			hub.Broadcast(Event{Type: TypeReconcile})
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Broadcast blocked with no consumers")
	}
}

func TestCheckOrigin(t *testing.T) {
	hub := NewHub([]string{"https://dash.example.com"}, zap.NewNop())

	req := httptest.NewRequest("GET", "/ws", nil)
	if !hub.checkOrigin(req) {
		t.Error("requests without an Origin header should pass")
	}

	req.Header.Set("Origin", "https://dash.example.com")
	if !hub.checkOrigin(req) {
		t.Error("allowed origin rejected")
	}

	req.Header.Set("Origin", "https://evil.example.com")
	if hub.checkOrigin(req) {
		t.Error("unknown origin accepted")
	}
}
