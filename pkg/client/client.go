package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/codeGROOVE-dev/retry"
	"golang.org/x/net/websocket"

	"github.com/codeGROOVE-dev/hookfeed/pkg/event"
	"github.com/codeGROOVE-dev/hookfeed/pkg/feed"
)

// RejectedError is a failure that reconnecting cannot fix: the server answered
// the subscription with something other than a confirmation.
type RejectedError struct {
	message string
}

func (e *RejectedError) Error() string {
	return e.message
}

const (
	// Read timeout for websocket operations. Longer than the server ping
	// interval (54s) so an idle but healthy feed is not mistaken for a dead one.
	readTimeout = 90 * time.Second

	subscribeTimeout = 5 * time.Second
	writeTimeout     = 5 * time.Second
)

// errServerShutdown is returned when the server announces it is going away.
var errServerShutdown = errors.New("server shutting down")

// Config holds the configuration for the client.
type Config struct {
	Logger       *slog.Logger
	OnDisconnect func(error)
	OnEvent      func(event.Record)
	OnConnect    func()
	ServerURL    string
	// Origin sent during the handshake. Defaults to the server URL's
	// http(s) equivalent.
	Origin       string
	Subscription feed.Subscription
	MaxBackoff   time.Duration
	MaxRetries   int
	NoReconnect  bool
}

// Client is a live feed subscriber with automatic reconnection.
type Client struct {
	logger     *slog.Logger
	ws         *websocket.Conn
	stopCh     chan struct{}
	stoppedCh  chan struct{}
	config     Config
	mu         sync.RWMutex
	stopOnce   sync.Once
	eventCount int
	retries    int
	started    bool
}

// New validates config and creates a client.
func New(config Config) (*Client, error) {
	if config.ServerURL == "" {
		return nil, errors.New("serverURL is required")
	}
	if !strings.HasPrefix(config.ServerURL, "ws://") && !strings.HasPrefix(config.ServerURL, "wss://") {
		return nil, fmt.Errorf("serverURL must use ws:// or wss://, got %q", config.ServerURL)
	}
	if err := config.Subscription.Validate(); err != nil {
		return nil, fmt.Errorf("invalid subscription: %w", err)
	}

	if config.MaxBackoff == 0 {
		config.MaxBackoff = 30 * time.Second
	}
	if config.Origin == "" {
		config.Origin = "http" + strings.TrimPrefix(config.ServerURL, "ws")
	}

	logger := config.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stderr, nil))
	}

	return &Client{
		config:    config,
		stopCh:    make(chan struct{}),
		stoppedCh: make(chan struct{}),
		logger:    logger,
	}, nil
}

// Start connects and blocks, reconnecting with jittered backoff, until ctx is
// cancelled, Stop is called, retries run out or the server rejects the client.
func (c *Client) Start(ctx context.Context) error {
	c.mu.Lock()
	c.started = true
	c.mu.Unlock()
	defer close(c.stoppedCh)

	retryOpts := []retry.Option{
		retry.Context(ctx),
		retry.DelayType(retry.FullJitterBackoffDelay),
		retry.MaxDelay(c.config.MaxBackoff),
		retry.OnRetry(func(n uint, err error) {
			c.mu.Lock()
			//nolint:gosec // Retry count will not overflow in practice
			c.retries = int(n)
			events := c.eventCount
			c.mu.Unlock()

			c.logger.Warn("feed connection lost", "error", err, "events_received", events, "attempt", n+1)

			if c.config.OnDisconnect != nil {
				c.config.OnDisconnect(err)
			}
		}),
		retry.RetryIf(func(err error) bool {
			var rejected *RejectedError
			if errors.As(err, &rejected) {
				c.logger.Error("feed connection rejected by server", "error", err)
				return false
			}
			if c.config.NoReconnect {
				return false
			}
			select {
			case <-c.stopCh:
				return false
			default:
				return true
			}
		}),
	}

	if c.config.MaxRetries > 0 {
		//nolint:gosec // MaxRetries is a user-configured value, overflow not a concern
		retryOpts = append(retryOpts, retry.Attempts(uint(c.config.MaxRetries)))
	} else {
		retryOpts = append(retryOpts, retry.UntilSucceeded())
	}

	return retry.Do(func() error {
		select {
		case <-ctx.Done():
			return retry.Unrecoverable(ctx.Err())
		case <-c.stopCh:
			return retry.Unrecoverable(errors.New("stop requested"))
		default:
		}

		c.mu.RLock()
		n := c.retries
		c.mu.RUnlock()
		if n == 0 {
			c.logger.Info("connecting to live feed", "url", c.config.ServerURL)
		} else {
			c.logger.Info("reconnecting to live feed", "url", c.config.ServerURL, "attempt", n)
		}

		return c.connect(ctx)
	}, retryOpts...)
}

// Stop closes the connection and waits for Start to return. It is safe to
// call more than once, and before Start.
func (c *Client) Stop() {
	c.stopOnce.Do(func() { close(c.stopCh) })

	c.mu.Lock()
	if c.ws != nil {
		if err := c.ws.Close(); err != nil {
			c.logger.Debug("error closing websocket on shutdown", "error", err)
		}
	}
	started := c.started
	c.mu.Unlock()

	if started {
		<-c.stoppedCh
	}
}

// EventCount returns how many records have been delivered so far.
func (c *Client) EventCount() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.eventCount
}

func (c *Client) connect(ctx context.Context) error {
	// A refused handshake (origin or connection limit) surfaces as "bad
	// status" without the code, so it is retried like any dial failure.
	ws, err := websocket.Dial(c.config.ServerURL, "", c.config.Origin)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}

	c.mu.Lock()
	c.ws = ws
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		c.ws = nil
		c.mu.Unlock()
		if err := ws.Close(); err != nil {
			c.logger.Debug("failed to close websocket cleanly", "error", err)
		}
	}()

	// Stop may have run between dialing and publishing ws.
	select {
	case <-c.stopCh:
		return retry.Unrecoverable(errors.New("stop requested"))
	default:
	}

	if err := ws.SetDeadline(time.Now().Add(subscribeTimeout)); err != nil {
		return fmt.Errorf("set subscribe deadline: %w", err)
	}
	if err := websocket.JSON.Send(ws, c.config.Subscription); err != nil {
		return fmt.Errorf("write subscription: %w", err)
	}

	var first feed.Message
	if err := websocket.JSON.Receive(ws, &first); err != nil {
		return fmt.Errorf("read subscription confirmation: %w", err)
	}
	if first.Type != feed.MessageSubscribed {
		return &RejectedError{message: fmt.Sprintf("subscription not confirmed: server sent %q", first.Type)}
	}
	if err := ws.SetDeadline(time.Time{}); err != nil {
		return fmt.Errorf("clear deadline: %w", err)
	}

	c.logger.Info("subscribed to live feed",
		"actions", c.config.Subscription.Actions,
		"author", c.config.Subscription.Author,
		"branch", c.config.Subscription.Branch)

	if c.config.OnConnect != nil {
		c.config.OnConnect()
	}

	c.mu.Lock()
	c.retries = 0
	c.mu.Unlock()

	return c.readEvents(ctx, ws)
}

// readEvents handles server messages until the connection fails.
func (c *Client) readEvents(ctx context.Context, ws *websocket.Conn) error {
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = ws.Close() //nolint:errcheck // unblocks Receive below
		case <-c.stopCh:
		case <-done:
		}
	}()

	for {
		if err := ws.SetReadDeadline(time.Now().Add(readTimeout)); err != nil {
			return fmt.Errorf("set read deadline: %w", err)
		}

		var msg feed.Message
		if err := websocket.JSON.Receive(ws, &msg); err != nil {
			if ctx.Err() != nil {
				return retry.Unrecoverable(ctx.Err())
			}
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				return fmt.Errorf("no message from server in %s: %w", readTimeout, err)
			}
			return fmt.Errorf("read: %w", err)
		}

		switch msg.Type {
		case feed.MessagePing:
			if err := c.pong(ws, msg.Seq); err != nil {
				return err
			}
		case feed.MessageShutdown:
			c.logger.Info("server announced shutdown")
			return errServerShutdown
		case feed.MessageEvent:
			if msg.Event == nil {
				c.logger.Warn("event message without a record")
				continue
			}
			c.mu.Lock()
			c.eventCount++
			n := c.eventCount
			c.mu.Unlock()

			c.logger.Debug("event received",
				"event_number", n,
				"id", msg.Event.ID,
				"action", msg.Event.Action,
				"author", msg.Event.Author)

			if c.config.OnEvent != nil {
				c.config.OnEvent(*msg.Event)
			}
		default:
			c.logger.Debug("ignoring unknown message", "type", msg.Type)
		}
	}
}

func (c *Client) pong(ws *websocket.Conn, seq int64) error {
	if err := ws.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		return fmt.Errorf("set write deadline: %w", err)
	}
	if err := websocket.JSON.Send(ws, map[string]any{"type": "pong", "seq": seq}); err != nil {
		return fmt.Errorf("send pong: %w", err)
	}
	return nil
}
