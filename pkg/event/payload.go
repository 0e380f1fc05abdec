package event

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"strconv"
	"strings"
)

// ErrEmptyPayload is returned when a body does not decode to a non-empty JSON object.
var ErrEmptyPayload = errors.New("no payload received")

// ErrTrailingData is returned when a body holds more than one JSON value.
var ErrTrailingData = errors.New("unexpected data after JSON payload")

// Payload is a decoded webhook body. Lookups never fail: missing keys,
// nulls and values of the wrong type all yield the caller's default.
type Payload map[string]any

// ParsePayload decodes a JSON object. Numbers are kept as json.Number so
// pull request numbers render exactly as sent.
func ParsePayload(data []byte) (Payload, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, ErrEmptyPayload
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var raw any
	if err := dec.Decode(&raw); err != nil {
		return nil, err
	}
	if err := dec.Decode(&json.RawMessage{}); !errors.Is(err, io.EOF) {
		return nil, ErrTrailingData
	}
	obj, ok := raw.(map[string]any)
	if !ok || len(obj) == 0 {
		return nil, ErrEmptyPayload
	}
	return Payload(obj), nil
}

// Get walks a dotted path such as "pull_request.user.login".
func (p Payload) Get(path string) (any, bool) {
	var current any = map[string]any(p)
	for _, key := range strings.Split(path, ".") {
		var m map[string]any
		switch v := current.(type) {
		case map[string]any:
			m = v
		case Payload:
			m = v
		default:
			return nil, false
		}
		next, ok := m[key]
		if !ok {
			return nil, false
		}
		current = next
	}
	return current, true
}

// String returns the value at path rendered as a string, or def when the
// value is missing, null, or not a scalar.
func (p Payload) String(path, def string) string {
	v, ok := p.Get(path)
	if !ok {
		return def
	}
	switch val := v.(type) {
	case string:
		return val
	case json.Number:
		return val.String()
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case int:
		return strconv.Itoa(val)
	case int64:
		return strconv.FormatInt(val, 10)
	case bool:
		return strconv.FormatBool(val)
	default:
		return def
	}
}

// Bool returns true only when the value at path is the JSON literal true.
func (p Payload) Bool(path string) bool {
	v, ok := p.Get(path)
	if !ok {
		return false
	}
	b, ok := v.(bool)
	return ok && b
}

// Object returns the nested object at path, or an empty Payload.
func (p Payload) Object(path string) Payload {
	v, ok := p.Get(path)
	if !ok {
		return Payload{}
	}
	switch val := v.(type) {
	case map[string]any:
		return Payload(val)
	case Payload:
		return val
	default:
		return Payload{}
	}
}
