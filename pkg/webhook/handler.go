// Package webhook receives GitHub webhook deliveries: it authenticates them,
// normalizes the supported events, stores the result and publishes it to the
// live feed.
package webhook

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"

	"github.com/codeGROOVE-dev/hookfeed/pkg/apierror"
	"github.com/codeGROOVE-dev/hookfeed/pkg/event"
	"github.com/codeGROOVE-dev/hookfeed/pkg/logger"
	"github.com/codeGROOVE-dev/hookfeed/pkg/security"
	"github.com/codeGROOVE-dev/hookfeed/pkg/store"
)

// DefaultMaxPayloadSize matches the largest payload GitHub delivers.
const DefaultMaxPayloadSize = 25 << 20 // 25MB

// GitHub delivery headers.
const (
	headerEvent     = "X-GitHub-Event"      //nolint:canonicalheader // GitHub webhook header
	headerDelivery  = "X-GitHub-Delivery"   //nolint:canonicalheader // GitHub webhook header
	headerSignature = "X-Hub-Signature-256" //nolint:canonicalheader // GitHub webhook header

	formContentType = "application/x-www-form-urlencoded"
	formPayloadKey  = "payload"
)

const (
	statusSuccess = "success"
	statusIgnored = "ignored"
)

// Publisher receives every record after it has been stored.
type Publisher interface {
	Publish(rec event.Record)
}

// Response is the body of every non-error webhook reply.
type Response struct {
	Status  string `json:"status"`
	Message string `json:"message"`
	ID      string `json:"id,omitempty"`
}

// Handler handles GitHub webhook events.
type Handler struct {
	store          store.Store
	publisher      Publisher
	clock          *event.Clock
	verifier       Verifier
	maxPayloadSize int64
}

// Option configures a Handler.
type Option func(*Handler)

// WithPublisher sends stored records to p.
func WithPublisher(p Publisher) Option {
	return func(h *Handler) { h.publisher = p }
}

// WithClock overrides the ingestion clock.
func WithClock(c *event.Clock) Option {
	return func(h *Handler) { h.clock = c }
}

// WithMaxPayloadSize overrides DefaultMaxPayloadSize.
func WithMaxPayloadSize(n int64) Option {
	return func(h *Handler) {
		if n > 0 {
			h.maxPayloadSize = n
		}
	}
}

// NewHandler creates a new webhook handler.
func NewHandler(s store.Store, verifier Verifier, opts ...Option) *Handler {
	h := &Handler{
		store:          s,
		verifier:       verifier,
		clock:          event.NewClock(nil),
		maxPayloadSize: DefaultMaxPayloadSize,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// ServeHTTP processes one delivery. Errors are translated to responses in
// one place, by apierror.Write.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	fields := logger.Fields{
		"event_type":  r.Header.Get(headerEvent),
		"delivery_id": r.Header.Get(headerDelivery),
		"request_id":  security.RequestIDFromContext(r.Context()),
		"remote_addr": r.RemoteAddr,
	}

	resp, err := h.process(r, fields)
	if err != nil {
		status, _ := apierror.Status(err)
		fields["status"] = status
		fields["code"] = apierror.TextCode(err)
		if status >= http.StatusInternalServerError {
			logger.Error("webhook failed", err, fields)
		} else {
			logger.Warn("webhook rejected", fields)
		}
		apierror.Write(w, err)
		return
	}

	fields["status"] = resp.Status
	logger.Info("webhook processed", fields)
	apierror.WriteJSON(w, http.StatusOK, resp)
}

func (h *Handler) process(r *http.Request, fields logger.Fields) (Response, error) {
	if r.Method != http.MethodPost {
		return Response{}, apierror.MethodNotAllowed(r.Method)
	}

	body, err := h.readBody(r)
	if err != nil {
		return Response{}, err
	}
	fields["payload_size"] = len(body)

	if !h.verifier.Verify(body, r.Header.Get(headerSignature)) {
		fields["signature_exists"] = r.Header.Get(headerSignature) != ""
		return Response{}, apierror.AuthenticationFailure(r.Header.Get(headerDelivery))
	}

	payload, err := parseBody(r.Header.Get("Content-Type"), body)
	if err != nil {
		return Response{}, apierror.MalformedRequest(err)
	}

	eventType := r.Header.Get(headerEvent)
	rec, ok := event.Normalize(eventType, payload, h.clock.Now())
	if !ok {
		fields["action"] = payload.String("action", "")
		return Response{
			Status:  statusIgnored,
			Message: fmt.Sprintf("Event type %s not processed", eventType),
		}, nil
	}
	fields["action"] = string(rec.Action)

	id, err := h.store.Insert(r.Context(), rec)
	if err != nil {
		if errors.Is(err, store.ErrUnavailable) || errors.Is(err, context.DeadlineExceeded) {
			return Response{}, apierror.StoreFault(err, "insert")
		}
		return Response{}, apierror.UnexpectedFault(err)
	}
	rec.ID = id
	fields["id"] = id

	if h.publisher != nil {
		h.publisher.Publish(rec)
	}

	return Response{
		Status:  statusSuccess,
		Message: fmt.Sprintf("%s event processed successfully", rec.Action),
		ID:      id,
	}, nil
}

// readBody reads at most maxPayloadSize bytes, reporting anything larger as
// PayloadTooLarge.
func (h *Handler) readBody(r *http.Request) ([]byte, error) {
	if r.ContentLength > h.maxPayloadSize {
		return nil, apierror.PayloadTooLarge(h.maxPayloadSize)
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, h.maxPayloadSize+1))
	if err != nil {
		return nil, apierror.MalformedRequest(err)
	}
	if int64(len(body)) > h.maxPayloadSize {
		return nil, apierror.PayloadTooLarge(h.maxPayloadSize)
	}
	return body, nil
}

// parseBody decodes a JSON body, or the payload field of a form-encoded one.
func parseBody(contentType string, body []byte) (event.Payload, error) {
	if mediaType, _, err := mime.ParseMediaType(contentType); err == nil && mediaType == formContentType {
		values, err := url.ParseQuery(string(body))
		if err != nil {
			return nil, err
		}
		return event.ParsePayload([]byte(values.Get(formPayloadKey)))
	}
	return event.ParsePayload(body)
}
