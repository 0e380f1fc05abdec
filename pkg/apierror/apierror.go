// Package apierror defines the error kinds surfaced over HTTP and the single
// point where they are translated into JSON responses.
package apierror

import (
	"encoding/json"
	"net/http"

	goerrors "github.com/goliatone/go-errors"

	"github.com/codeGROOVE-dev/hookfeed/pkg/logger"
)

// Text codes attached to every error kind.
const (
	TextCodeInvalidSignature = "INVALID_SIGNATURE"
	TextCodeNoPayload        = "NO_PAYLOAD"
	TextCodePayloadTooLarge  = "PAYLOAD_TOO_LARGE"
	TextCodeMethodNotAllowed = "METHOD_NOT_ALLOWED"
	TextCodeStoreFailure     = "STORE_FAILURE"
	TextCodeInternal         = "INTERNAL"
)

// Public messages. These are the only strings clients ever see for errors.
const (
	MsgInvalidSignature = "Invalid signature"
	MsgNoPayload        = "No payload received"
	MsgPayloadTooLarge  = "Payload too large"
	MsgMethodNotAllowed = "Method not allowed"
	MsgInternal         = "Internal server error"
)

func newError(message string, category goerrors.Category, code int, textCode string, metadata map[string]any) *goerrors.Error {
	err := goerrors.New(message, category).
		WithCode(code).
		WithTextCode(textCode)
	if len(metadata) > 0 {
		err.WithMetadata(metadata)
	}
	return err
}

func wrapError(source error, category goerrors.Category, message string, code int, textCode string, metadata map[string]any) *goerrors.Error {
	if source == nil {
		return newError(message, category, code, textCode, metadata)
	}
	err := goerrors.Wrap(source, category, message).
		WithCode(code).
		WithTextCode(textCode)
	if len(metadata) > 0 {
		err.WithMetadata(metadata)
	}
	return err
}

// AuthenticationFailure reports a missing or mismatched webhook signature.
func AuthenticationFailure(deliveryID string) error {
	return newError(MsgInvalidSignature, goerrors.CategoryAuth, http.StatusUnauthorized,
		TextCodeInvalidSignature, map[string]any{"delivery_id": deliveryID})
}

// MalformedRequest reports a body that is absent or not a usable JSON object.
func MalformedRequest(source error) error {
	return wrapError(source, goerrors.CategoryBadInput, MsgNoPayload, http.StatusBadRequest,
		TextCodeNoPayload, nil)
}

// PayloadTooLarge reports a body over the configured limit.
func PayloadTooLarge(limit int64) error {
	return newError(MsgPayloadTooLarge, goerrors.CategoryBadInput, http.StatusRequestEntityTooLarge,
		TextCodePayloadTooLarge, map[string]any{"max_bytes": limit})
}

// MethodNotAllowed reports a request with an unsupported HTTP method.
func MethodNotAllowed(method string) error {
	return newError(MsgMethodNotAllowed, goerrors.CategoryOperation, http.StatusMethodNotAllowed,
		TextCodeMethodNotAllowed, map[string]any{"method": method})
}

// StoreFault wraps a failure of the event store.
func StoreFault(source error, operation string) error {
	return wrapError(source, goerrors.CategoryExternal, MsgInternal, http.StatusInternalServerError,
		TextCodeStoreFailure, map[string]any{"operation": operation})
}

// UnexpectedFault wraps anything else that went wrong while serving a request.
func UnexpectedFault(source error) error {
	return wrapError(source, goerrors.CategoryInternal, MsgInternal, http.StatusInternalServerError,
		TextCodeInternal, nil)
}

// Status maps err to an HTTP status and public message. Errors that are not
// go-errors envelopes, or carry no code, are internal faults.
func Status(err error) (int, string) {
	var rich *goerrors.Error
	if !goerrors.As(err, &rich) || rich.Code == 0 {
		return http.StatusInternalServerError, MsgInternal
	}
	if rich.Code >= http.StatusInternalServerError {
		return rich.Code, MsgInternal
	}
	return rich.Code, rich.Message
}

// TextCode returns the machine-readable code carried by err, or TextCodeInternal.
func TextCode(err error) string {
	var rich *goerrors.Error
	if goerrors.As(err, &rich) && rich.TextCode != "" {
		return rich.TextCode
	}
	return TextCodeInternal
}

// Write renders err as {"error": message} with its status code.
func Write(w http.ResponseWriter, err error) {
	status, message := Status(err)
	WriteJSON(w, status, map[string]string{"error": message})
}

// WriteJSON writes v as a JSON response with the given status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Error("failed to write response", err, logger.Fields{"status": status})
	}
}
