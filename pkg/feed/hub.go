// Package feed pushes newly stored event records to websocket subscribers.
// A Hub owns the set of connected clients from its own goroutine.
package feed

import (
	"context"
	"sync"
	"time"

	"github.com/codeGROOVE-dev/hookfeed/pkg/event"
	"github.com/codeGROOVE-dev/hookfeed/pkg/logger"
)

// Message types written to subscribers.
const (
	MessageSubscribed = "subscribed"
	MessageEvent      = "event"
	MessagePing       = "ping"
	MessageShutdown   = "shutdown"
)

// Message is the JSON envelope sent over the websocket.
type Message struct {
	Event *event.Record `json:"event,omitempty"`
	Type  string        `json:"type"`
	Seq   int64         `json:"seq,omitempty"`
}

// Hub manages websocket clients and record broadcasting.
type Hub struct {
	clients    map[string]*Client
	register   chan *Client
	unregister chan string
	broadcast  chan event.Record
	stop       chan struct{}
	stopped    chan struct{}
	mu         sync.RWMutex
	stopOnce   sync.Once
}

const (
	registerBufferSize   = 100
	unregisterBufferSize = 100
	broadcastBufferSize  = 1000

	shutdownGrace = 200 * time.Millisecond
)

// NewHub creates a hub. Call Run to start it.
func NewHub() *Hub {
	return &Hub{
		clients:    make(map[string]*Client),
		register:   make(chan *Client, registerBufferSize),
		unregister: make(chan string, unregisterBufferSize),
		broadcast:  make(chan event.Record, broadcastBufferSize),
		stop:       make(chan struct{}),
		stopped:    make(chan struct{}),
	}
}

// Run is the hub event loop. It returns when ctx is done or Stop is called.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.stopped)
	defer h.cleanup()

	logger.Info("feed hub started", nil)

	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info("feed hub shutting down", nil)
			return
		case <-h.stop:
			logger.Info("feed hub stop requested", nil)
			return

		case <-ticker.C:
			logger.Debug("feed hub periodic check", logger.Fields{"total_clients": h.ClientCount()})

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client.ID] = client
			total := len(h.clients)
			h.mu.Unlock()
			logger.Info("feed client registered", logger.Fields{
				"client_id":     client.ID,
				"ip":            client.ip,
				"total_clients": total,
			})

		case clientID := <-h.unregister:
			h.mu.Lock()
			client, ok := h.clients[clientID]
			if ok {
				delete(h.clients, clientID)
			}
			total := len(h.clients)
			h.mu.Unlock()
			if !ok {
				logger.Warn("attempted to unregister unknown feed client", logger.Fields{"client_id": clientID})
				continue
			}
			client.Close()
			logger.Info("feed client unregistered", logger.Fields{
				"client_id":     clientID,
				"total_clients": total,
			})

		case rec := <-h.broadcast:
			h.deliver(rec)
		}
	}
}

func (h *Hub) deliver(rec event.Record) {
	h.mu.RLock()
	snapshot := make([]*Client, 0, len(h.clients))
	for _, client := range h.clients {
		snapshot = append(snapshot, client)
	}
	h.mu.RUnlock()

	matched, dropped := 0, 0
	for _, client := range snapshot {
		if !client.subscription.Matches(rec) {
			continue
		}
		msg := Message{Type: MessageEvent, Event: &rec}
		if client.enqueue(msg) {
			matched++
		} else {
			dropped++
			logger.Warn("dropped record for feed client: buffer full", logger.Fields{"client_id": client.ID})
		}
	}

	logger.Debug("broadcast record", logger.Fields{
		"id":            rec.ID,
		"action":        string(rec.Action),
		"matched":       matched,
		"dropped":       dropped,
		"total_clients": len(snapshot),
	})
}

// Publish queues rec for delivery to matching clients. It never blocks; when
// the hub is saturated the record is dropped from the feed (it is already
// stored).
func (h *Hub) Publish(rec event.Record) {
	select {
	case h.broadcast <- rec:
	default:
		logger.Warn("dropping feed broadcast: hub at capacity", logger.Fields{"id": rec.ID})
	}
}

// Stop signals the hub to stop. Safe to call more than once.
func (h *Hub) Stop() {
	h.stopOnce.Do(func() { close(h.stop) })
}

// Wait blocks until Run has returned.
func (h *Hub) Wait() {
	<-h.stopped
}

// Register adds a client. A client registered after the hub stopped is
// closed immediately.
func (h *Hub) Register(client *Client) {
	select {
	case <-h.stopped:
		client.Close()
		return
	default:
	}
	select {
	case h.register <- client:
	case <-h.stopped:
		client.Close()
	}
}

// Unregister removes a client by ID.
func (h *Hub) Unregister(clientID string) {
	select {
	case h.unregister <- clientID:
	case <-h.stopped:
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// cleanup tells connected clients the server is going away, then closes them.
func (h *Hub) cleanup() {
	h.mu.Lock()
	clients := h.clients
	h.clients = make(map[string]*Client)
	h.mu.Unlock()

	for id, client := range clients {
		if !client.enqueue(Message{Type: MessageShutdown}) {
			logger.Warn("could not send shutdown notice to feed client", logger.Fields{"client_id": id})
		}
	}
	if len(clients) > 0 {
		time.Sleep(shutdownGrace)
	}
	for _, client := range clients {
		client.Close()
	}
	logger.Info("feed hub cleanup complete", logger.Fields{"client_count": len(clients)})
}
