// Package query serves stored records and store health to read clients.
package query

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/codeGROOVE-dev/hookfeed/pkg/apierror"
	"github.com/codeGROOVE-dev/hookfeed/pkg/event"
	"github.com/codeGROOVE-dev/hookfeed/pkg/logger"
	"github.com/codeGROOVE-dev/hookfeed/pkg/security"
	"github.com/codeGROOVE-dev/hookfeed/pkg/store"
)

// Response bodies.
const (
	statusSuccess   = "success"
	statusHealthy   = "healthy"
	statusUnhealthy = "unhealthy"
	databaseUp      = "connected"

	msgFetchFailed = "Failed to fetch events"
)

// Page is the body of GET /api/events.
type Page struct {
	Status string         `json:"status"`
	Events []event.Record `json:"events"`
	Count  int            `json:"count"`
}

// Health is the body of GET /health.
type Health struct {
	Status    string `json:"status"`
	Database  string `json:"database,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
	Error     string `json:"error,omitempty"`
}

// Service reads from the event store. Nothing is cached.
type Service struct {
	store store.Store
	now   func() time.Time
}

// NewService returns a Service over s.
func NewService(s store.Store) *Service {
	return &Service{store: s, now: time.Now}
}

// Recent returns the newest records, at most store.MaxPageSize of them.
func (s *Service) Recent(ctx context.Context) (Page, error) {
	records, err := s.store.ListRecent(ctx, store.MaxPageSize)
	if err != nil {
		return Page{}, apierror.StoreFault(err, "list_recent")
	}
	if records == nil {
		records = []event.Record{}
	}
	return Page{Status: statusSuccess, Events: records, Count: len(records)}, nil
}

// Health pings the store.
func (s *Service) Health(ctx context.Context) (Health, error) {
	if err := s.store.Ping(ctx); err != nil {
		msg := apierror.MsgInternal
		if errors.Is(err, store.ErrUnavailable) {
			msg = store.ErrUnavailable.Error()
		}
		return Health{Status: statusUnhealthy, Error: msg}, apierror.StoreFault(err, "ping")
	}
	return Health{
		Status:    statusHealthy,
		Database:  databaseUp,
		Timestamp: event.FormatTimestamp(s.now()),
	}, nil
}

// HandleEvents serves GET /api/events.
func (s *Service) HandleEvents(w http.ResponseWriter, r *http.Request) {
	page, err := s.Recent(r.Context())
	if err != nil {
		logger.Error("failed to fetch events", err, logger.Fields{
			"request_id": security.RequestIDFromContext(r.Context()),
			"code":       apierror.TextCode(err),
		})
		apierror.WriteJSON(w, http.StatusInternalServerError, map[string]string{"error": msgFetchFailed})
		return
	}
	apierror.WriteJSON(w, http.StatusOK, page)
}

// HandleHealth serves GET /health.
func (s *Service) HandleHealth(w http.ResponseWriter, r *http.Request) {
	health, err := s.Health(r.Context())
	if err != nil {
		logger.Warn("health check failed", logger.Fields{
			"request_id": security.RequestIDFromContext(r.Context()),
			"error":      err.Error(),
		})
		apierror.WriteJSON(w, http.StatusInternalServerError, health)
		return
	}
	apierror.WriteJSON(w, http.StatusOK, health)
}

// RegisterRoutes mounts the read endpoints on mux.
func (s *Service) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/events", s.HandleEvents)
	mux.HandleFunc("GET /health", s.HandleHealth)
}
