package feed

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/net/websocket"

	"github.com/codeGROOVE-dev/hookfeed/pkg/logger"
)

const sendBufferSize = 100

// Client is one websocket subscriber. Run is the only goroutine that writes
// to the connection; the hub hands it messages through a buffered channel.
type Client struct {
	conn         *websocket.Conn
	send         chan Message
	done         chan struct{}
	ID           string
	ip           string
	subscription Subscription
	closeOnce    sync.Once
}

// NewClient creates a client for an accepted connection.
func NewClient(id, ip string, sub Subscription, conn *websocket.Conn) *Client {
	return &Client{
		ID:           id,
		ip:           ip,
		subscription: sub,
		conn:         conn,
		send:         make(chan Message, sendBufferSize),
		done:         make(chan struct{}),
	}
}

// enqueue hands msg to the writer without blocking. It reports false when the
// buffer is full or the client is closed.
func (c *Client) enqueue(msg Message) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- msg:
		return true
	default:
		return false
	}
}

// Run writes queued messages and periodic pings until the context ends, the
// client is closed, a write fails, or a shutdown notice has been sent.
func (c *Client) Run(ctx context.Context, pingInterval, writeTimeout time.Duration) {
	defer c.Close()

	pingTicker := time.NewTicker(pingInterval)
	defer pingTicker.Stop()

	var pingSeq int64

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.done:
			return

		case <-pingTicker.C:
			pingSeq++
			if err := c.write(Message{Type: MessagePing, Seq: pingSeq}, writeTimeout); err != nil {
				logger.Warn("feed client ping failed", logger.Fields{
					"client_id": c.ID,
					"error":     err.Error(),
				})
				return
			}

		case msg := <-c.send:
			if err := c.write(msg, writeTimeout); err != nil {
				logger.Warn("feed client send failed", logger.Fields{
					"client_id": c.ID,
					"type":      msg.Type,
					"error":     err.Error(),
				})
				return
			}
			if msg.Type == MessageShutdown {
				return
			}
		}
	}
}

func (c *Client) write(msg Message, timeout time.Duration) error {
	if err := c.conn.SetWriteDeadline(time.Now().Add(timeout)); err != nil {
		return fmt.Errorf("set write deadline: %w", err)
	}
	if err := websocket.JSON.Send(c.conn, msg); err != nil {
		return fmt.Errorf("send: %w", err)
	}
	return nil
}

// Close stops the client. Safe to call more than once.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
	})
}
