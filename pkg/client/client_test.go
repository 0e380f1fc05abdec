package client

import (
	"context"
	"io"
	"log/slog"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"golang.org/x/net/websocket"

	"github.com/codeGROOVE-dev/hookfeed/pkg/event"
	"github.com/codeGROOVE-dev/hookfeed/pkg/feed"
	"github.com/codeGROOVE-dev/hookfeed/pkg/security"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func wsURL(server *httptest.Server) string {
	return "ws" + strings.TrimPrefix(server.URL, "http")
}

// startFeedServer runs a real live feed backed by a hub.
func startFeedServer(t *testing.T) (*feed.Hub, string) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	hub := feed.NewHub()
	go hub.Run(ctx)
	connLimiter := security.NewConnectionLimiter(10, 100)
	server := httptest.NewServer(feed.NewHandler(hub, connLimiter, nil))
	t.Cleanup(func() {
		server.Close()
		cancel()
		hub.Wait()
	})
	return hub, wsURL(server)
}

// startMockServer runs handler for every websocket connection.
func startMockServer(t *testing.T, handler func(ws *websocket.Conn)) string {
	t.Helper()
	server := httptest.NewServer(websocket.Handler(handler))
	t.Cleanup(server.Close)
	return wsURL(server)
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestNewValidation(t *testing.T) {
	tests := []struct {
		name   string
		config Config
	}{
		{"missing url", Config{}},
		{"http url", Config{ServerURL: "http://localhost:5000/ws"}},
		{"bad action", Config{ServerURL: "ws://localhost:5000/ws", Subscription: feed.Subscription{Actions: []event.Action{"DELETE"}}}},
		{"bad author", Config{ServerURL: "ws://localhost:5000/ws", Subscription: feed.Subscription{Author: "no spaces allowed"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := New(tt.config); err == nil {
				t.Error("expected an error")
			}
		})
	}

	c, err := New(Config{ServerURL: "wss://feed.example.com/ws"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if c.config.Origin != "https://feed.example.com/ws" {
		t.Errorf("default origin = %q", c.config.Origin)
	}
}

// TestStopMultipleCalls verifies that calling Stop() multiple times is safe
// and doesn't panic with "close of closed channel".
func TestStopMultipleCalls(t *testing.T) {
	c, err := New(Config{
		ServerURL:   "ws://127.0.0.1:1/ws",
		Logger:      quietLogger(),
		NoReconnect: true,
	})
	if err != nil {
		t.Fatalf("Failed to create client: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		_ = c.Start(ctx) //nolint:errcheck // nothing listens on the port
	}()
	time.Sleep(10 * time.Millisecond)

	var wg sync.WaitGroup
	for range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.Stop()
		}()
	}
	wg.Wait()
}

// TestStopBeforeStart verifies that calling Stop() before Start() is safe.
func TestStopBeforeStart(t *testing.T) {
	c, err := New(Config{
		ServerURL:   "ws://127.0.0.1:1/ws",
		Logger:      quietLogger(),
		NoReconnect: true,
	})
	if err != nil {
		t.Fatalf("Failed to create client: %v", err)
	}

	c.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	if err := c.Start(ctx); err == nil {
		t.Error("Expected Start() to fail after Stop(), but it succeeded")
	}
}

func TestClientReceivesMatchingEvents(t *testing.T) {
	hub, url := startFeedServer(t)

	received := make(chan event.Record, 10)
	connected := make(chan struct{}, 1)
	c, err := New(Config{
		ServerURL:    url,
		Logger:       quietLogger(),
		Subscription: feed.Subscription{Actions: []event.Action{event.ActionMerge}},
		OnConnect:    func() { connected <- struct{}{} },
		OnEvent:      func(rec event.Record) { received <- rec },
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- c.Start(ctx) }()

	select {
	case <-connected:
	case <-time.After(3 * time.Second):
		t.Fatal("client did not connect")
	}
	waitFor(t, "hub registration", func() bool { return hub.ClientCount() == 1 })

	hub.Publish(event.Record{ID: "p1", Action: event.ActionPush, Author: "alice", ToBranch: "main"})
	hub.Publish(event.Record{ID: "m1", Action: event.ActionMerge, Author: "bob", FromBranch: "feature", ToBranch: "main"})

	select {
	case rec := <-received:
		if rec.ID != "m1" || rec.Author != "bob" {
			t.Errorf("received %+v, want merge m1", rec)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("no event received")
	}

	c.Stop()
	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("Start did not return after Stop")
	}
	if n := c.EventCount(); n != 1 {
		t.Errorf("EventCount() = %d, want 1", n)
	}
}

// TestClientReconnection tests that the client reconnects on disconnect.
func TestClientReconnection(t *testing.T) {
	var connections atomic.Int32
	url := startMockServer(t, func(ws *websocket.Conn) {
		count := connections.Add(1)

		var sub feed.Subscription
		if err := websocket.JSON.Receive(ws, &sub); err != nil {
			return
		}
		if err := websocket.JSON.Send(ws, feed.Message{Type: feed.MessageSubscribed}); err != nil {
			return
		}

		// First connection announces shutdown to trigger a reconnect.
		if count == 1 {
			_ = websocket.JSON.Send(ws, feed.Message{Type: feed.MessageShutdown}) //nolint:errcheck // best effort
			return
		}

		for {
			var msg map[string]any
			if err := websocket.JSON.Receive(ws, &msg); err != nil {
				return
			}
		}
	})

	var disconnects atomic.Int32
	c, err := New(Config{
		ServerURL:    url,
		Logger:       quietLogger(),
		MaxBackoff:   50 * time.Millisecond,
		OnDisconnect: func(error) { disconnects.Add(1) },
	})
	if err != nil {
		t.Fatalf("Failed to create client: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	go func() {
		_ = c.Start(ctx) //nolint:errcheck // stopped below
	}()

	waitFor(t, "reconnection", func() bool { return connections.Load() >= 2 })
	if disconnects.Load() < 1 {
		t.Error("OnDisconnect was not called")
	}
	c.Stop()
}

// TestClientServerPings tests that the client answers server pings.
func TestClientServerPings(t *testing.T) {
	pongs := make(chan map[string]any, 1)
	url := startMockServer(t, func(ws *websocket.Conn) {
		var sub feed.Subscription
		if err := websocket.JSON.Receive(ws, &sub); err != nil {
			return
		}
		if err := websocket.JSON.Send(ws, feed.Message{Type: feed.MessageSubscribed}); err != nil {
			return
		}
		if err := websocket.JSON.Send(ws, feed.Message{Type: feed.MessagePing, Seq: 7}); err != nil {
			return
		}
		var pong map[string]any
		if err := websocket.JSON.Receive(ws, &pong); err != nil {
			return
		}
		pongs <- pong
		for {
			var msg map[string]any
			if err := websocket.JSON.Receive(ws, &msg); err != nil {
				return
			}
		}
	})

	c, err := New(Config{ServerURL: url, Logger: quietLogger(), NoReconnect: true})
	if err != nil {
		t.Fatalf("Failed to create client: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	go func() {
		_ = c.Start(ctx) //nolint:errcheck // stopped below
	}()

	select {
	case pong := <-pongs:
		if pong["type"] != "pong" {
			t.Errorf("type = %v, want pong", pong["type"])
		}
		if seq, ok := pong["seq"].(float64); !ok || seq != 7 {
			t.Errorf("seq = %v, want 7", pong["seq"])
		}
	case <-time.After(3 * time.Second):
		t.Fatal("no pong received")
	}
	c.Stop()
}

// TestClientRejectedSubscription tests that a refused subscription is not retried.
func TestClientRejectedSubscription(t *testing.T) {
	var connections atomic.Int32
	url := startMockServer(t, func(ws *websocket.Conn) {
		connections.Add(1)
		var sub feed.Subscription
		if err := websocket.JSON.Receive(ws, &sub); err != nil {
			return
		}
		_ = websocket.JSON.Send(ws, map[string]any{"type": "error"}) //nolint:errcheck // best effort
	})

	c, err := New(Config{
		ServerURL:  url,
		Logger:     quietLogger(),
		MaxRetries: 3,
		MaxBackoff: 10 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("Failed to create client: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	err = c.Start(ctx)
	if err == nil {
		t.Fatal("expected an error, got nil")
	}
	if !strings.Contains(err.Error(), "subscription not confirmed") {
		t.Errorf("unexpected error: %v", err)
	}
	if n := connections.Load(); n != 1 {
		t.Errorf("connections = %d, want 1 (no retries)", n)
	}
}

func TestClientGivesUpAfterMaxRetries(t *testing.T) {
	var attempts atomic.Int32
	c, err := New(Config{
		ServerURL:    "ws://127.0.0.1:1/ws",
		Logger:       quietLogger(),
		MaxRetries:   2,
		MaxBackoff:   10 * time.Millisecond,
		OnDisconnect: func(error) { attempts.Add(1) },
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := c.Start(ctx); err == nil {
		t.Fatal("expected an error when nothing is listening")
	}
	if ctx.Err() != nil {
		t.Error("Start should give up before the context expires")
	}
}
