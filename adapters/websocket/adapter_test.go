package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	gorillaws "github.com/gorilla/websocket"

	"starkit/core"
	"starkit/realtime"
)

func dial(t *testing.T, server *httptest.Server, query string) *gorillaws.Conn {
	t.Helper()
	wsURL := "ws" + server.URL[len("http"):] + query // convert http->ws
	conn, _, err := gorillaws.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial ws: %v", err)
	}
	return conn
}

func waitForSubscribers(t *testing.T, hub *realtime.Hub, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for hub.Subscribers() < n {
		if time.Now().After(deadline) {
			t.Fatalf("expected %d subscribers, got %d", n, hub.Subscribers())
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestHandlerStreamsEvents(t *testing.T) {
	hub := realtime.NewHub()
	server := httptest.NewServer(Handler(hub))
	defer server.Close()

	conn := dial(t, server, "")
	defer conn.Close()
	waitForSubscribers(t, hub, 1)

	ev := core.NewStarsAdded("alice", 5, 5, "lesson", time.Now())
	hub.Broadcast(context.Background(), ev)

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read message: %v", err)
	}

	var received core.Event
	if err := json.Unmarshal(msg, &received); err != nil {
		t.Fatalf("decode event: %v", err)
	}
	if received.ChildID != "alice" || received.Total != 5 {
		t.Fatalf("unexpected event: %+v", received)
	}
}

func TestHandlerFiltersByChild(t *testing.T) {
	hub := realtime.NewHub()
	server := httptest.NewServer(Handler(hub))
	defer server.Close()

	conn := dial(t, server, "?child=Mia&types=level_up")
	defer conn.Close()
	waitForSubscribers(t, hub, 1)

	ctx := context.Background()
	hub.Broadcast(ctx, core.NewLevelUp("leo", core.Level{Number: 2}, time.Now()))
	hub.Broadcast(ctx, core.NewStarsAdded("mia", 5, 5, "", time.Now()))
	hub.Broadcast(ctx, core.NewLevelUp("mia", core.Level{Number: 3}, time.Now()))

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read message: %v", err)
	}
	var received core.Event
	if err := json.Unmarshal(msg, &received); err != nil {
		t.Fatalf("decode event: %v", err)
	}
	if received.ChildID != "mia" || received.Type != core.EventLevelUp || received.Level != 3 {
		t.Fatalf("unexpected event: %+v", received)
	}
}

func TestHandlerRejectsBadChild(t *testing.T) {
	hub := realtime.NewHub()
	server := httptest.NewServer(Handler(hub))
	defer server.Close()

	resp, err := http.Get(server.URL + "?child=a/b")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
}

func TestHandlerUnsubscribesOnClose(t *testing.T) {
	hub := realtime.NewHub()
	server := httptest.NewServer(Handler(hub))
	defer server.Close()

	conn := dial(t, server, "")
	waitForSubscribers(t, hub, 1)
	_ = conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for hub.Subscribers() != 0 {
		if time.Now().After(deadline) {
			t.Fatal("subscription not released after close")
		}
		time.Sleep(5 * time.Millisecond)
	}
}
