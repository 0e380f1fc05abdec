package feed

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"golang.org/x/net/websocket"

	"github.com/codeGROOVE-dev/hookfeed/pkg/apierror"
	"github.com/codeGROOVE-dev/hookfeed/pkg/logger"
	"github.com/codeGROOVE-dev/hookfeed/pkg/security"
)

const (
	pingInterval        = 54 * time.Second
	readDeadline        = 90 * time.Second
	writeTimeout        = 10 * time.Second
	subscriptionTimeout = 5 * time.Second
)

// Handler accepts websocket subscribers at /ws.
type Handler struct {
	hub            *Hub
	connLimiter    *security.ConnectionLimiter
	allowedOrigins []string

	pingInterval time.Duration
	readDeadline time.Duration
	writeTimeout time.Duration
}

// NewHandler creates a websocket handler. Browser connections must come from
// one of allowedOrigins when the list is non-empty; clients that send no
// Origin header are always accepted.
func NewHandler(h *Hub, connLimiter *security.ConnectionLimiter, allowedOrigins []string) *Handler {
	return &Handler{
		hub:            h,
		connLimiter:    connLimiter,
		allowedOrigins: allowedOrigins,
		pingInterval:   pingInterval,
		readDeadline:   readDeadline,
		writeTimeout:   writeTimeout,
	}
}

// ServeHTTP performs the websocket handshake. Clients already at their
// connection limit are turned away before upgrading.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ip := security.ClientIP(r)
	if err := h.connLimiter.Check(ip); err != nil {
		logger.Warn("feed connection refused: limit reached", logger.Fields{"ip": ip, "reason": err.Error()})
		apierror.WriteJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "Too many connections"})
		return
	}
	srv := websocket.Server{Handler: h.Handle, Handshake: h.handshake}
	srv.ServeHTTP(w, r)
}

func (h *Handler) handshake(cfg *websocket.Config, r *http.Request) error {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return nil
	}
	if len(h.allowedOrigins) > 0 && !security.OriginAllowed(origin, h.allowedOrigins) {
		logger.Warn("feed connection rejected: origin not allowed", logger.Fields{
			"origin": origin,
			"ip":     security.ClientIP(r),
		})
		return errors.New("origin not allowed")
	}
	var err error
	cfg.Origin, err = websocket.Origin(cfg, r)
	return err
}

// Handle serves one websocket connection: it reads the subscription, registers
// the client with the hub and blocks until the peer goes away.
func (h *Handler) Handle(ws *websocket.Conn) {
	ctx, cancel := context.WithCancel(ws.Request().Context())
	defer cancel()

	defer func() {
		if err := ws.Close(); err != nil {
			logger.Debug("failed to close websocket", logger.Fields{"error": err.Error()})
		}
	}()

	ip := security.ClientIP(ws.Request())

	lease, err := h.connLimiter.Acquire(ip)
	if err != nil {
		logger.Warn("feed connection limit exceeded", logger.Fields{"ip": ip, "reason": err.Error()})
		return
	}
	defer lease.Release()

	if err := ws.SetDeadline(time.Now().Add(subscriptionTimeout)); err != nil {
		logger.Warn("failed to set subscription deadline", logger.Fields{"ip": ip, "error": err.Error()})
		return
	}
	var sub Subscription
	if err := websocket.JSON.Receive(ws, &sub); err != nil {
		logger.Warn("failed to receive feed subscription", logger.Fields{"ip": ip, "error": err.Error()})
		return
	}
	if err := sub.Validate(); err != nil {
		logger.Warn("invalid feed subscription", logger.Fields{"ip": ip, "error": err.Error()})
		return
	}
	if err := ws.SetDeadline(time.Time{}); err != nil {
		logger.Warn("failed to reset deadline", logger.Fields{"ip": ip, "error": err.Error()})
		return
	}

	client := NewClient(uuid.NewString(), ip, sub, ws)
	logger.Info("feed connection established", logger.Fields{
		"ip":        ip,
		"client_id": client.ID,
		"actions":   sub.Actions,
		"author":    sub.Author,
		"branch":    sub.Branch,
	})

	h.hub.Register(client)
	defer func() {
		h.hub.Unregister(client.ID)
		logger.Info("feed connection closed", logger.Fields{"ip": ip, "client_id": client.ID})
	}()

	client.enqueue(Message{Type: MessageSubscribed})
	go client.Run(ctx, h.pingInterval, h.writeTimeout)
	go func() {
		select {
		case <-client.done:
		case <-ctx.Done():
		}
		_ = ws.Close() //nolint:errcheck // unblocks the read loop below
	}()

	// Clients send nothing after subscribing except keepalives; reading is
	// only how a disconnect is noticed.
	for {
		if err := ws.SetReadDeadline(time.Now().Add(h.readDeadline)); err != nil {
			return
		}
		var msg any
		if err := websocket.JSON.Receive(ws, &msg); err != nil {
			return
		}
	}
}
