package event

import (
	"errors"
	"testing"
)

func TestParsePayload(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		wantErr bool
		empty   bool
	}{
		{name: "object", body: `{"a":1}`},
		{name: "empty body", body: "", wantErr: true, empty: true},
		{name: "whitespace body", body: "  \n", wantErr: true, empty: true},
		{name: "empty object", body: `{}`, wantErr: true, empty: true},
		{name: "null", body: `null`, wantErr: true, empty: true},
		{name: "array", body: `[1,2]`, wantErr: true, empty: true},
		{name: "string", body: `"push"`, wantErr: true, empty: true},
		{name: "malformed", body: `{"a":`, wantErr: true},
		{name: "trailing whitespace", body: "{\"a\":1} \n"},
		{name: "trailing garbage", body: `{"a":1} x`, wantErr: true},
		{name: "second object", body: `{"a":1}{"b":2}`, wantErr: true},
		{name: "trailing bracket", body: `{"a":1}]`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParsePayload([]byte(tt.body))
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParsePayload() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.name == "second object" && !errors.Is(err, ErrTrailingData) {
				t.Errorf("expected ErrTrailingData, got %v", err)
			}
			if tt.empty && !errors.Is(err, ErrEmptyPayload) {
				t.Errorf("expected ErrEmptyPayload, got %v", err)
			}
		})
	}
}

func TestPayloadString(t *testing.T) {
	p := mustParse(t, `{
		"pull_request": {
			"number": 42,
			"big": 12345678901234567890,
			"ratio": 1.5,
			"title": "fix",
			"draft": false,
			"user": null,
			"labels": ["bug"],
			"head": {"ref": ""}
		}
	}`)

	tests := []struct {
		path string
		def  string
		want string
	}{
		{"pull_request.number", "", "42"},
		{"pull_request.big", "", "12345678901234567890"},
		{"pull_request.ratio", "", "1.5"},
		{"pull_request.title", "", "fix"},
		{"pull_request.draft", "", "false"},
		{"pull_request.user", "Unknown", "Unknown"},
		{"pull_request.user.login", "Unknown", "Unknown"},
		{"pull_request.labels", "none", "none"},
		{"pull_request.head.ref", "x", ""},
		{"pull_request.missing", "d", "d"},
		{"nothing.at.all", "d", "d"},
		{"pull_request.title.deeper", "d", "d"},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			if got := p.String(tt.path, tt.def); got != tt.want {
				t.Errorf("String(%q) = %q, want %q", tt.path, got, tt.want)
			}
		})
	}
}

func TestPayloadStringPlainGoValues(t *testing.T) {
	p := Payload{
		"f":   float64(16),
		"i":   3,
		"i64": int64(9),
		"nested": Payload{
			"name": "alice",
		},
	}
	if got := p.String("f", ""); got != "16" {
		t.Errorf("float64 = %q", got)
	}
	if got := p.String("i", ""); got != "3" {
		t.Errorf("int = %q", got)
	}
	if got := p.String("i64", ""); got != "9" {
		t.Errorf("int64 = %q", got)
	}
	if got := p.String("nested.name", ""); got != "alice" {
		t.Errorf("nested Payload = %q", got)
	}
}

func TestPayloadBool(t *testing.T) {
	p := mustParse(t, `{"a":true,"b":false,"c":"true","d":1,"e":null}`)
	want := map[string]bool{"a": true, "b": false, "c": false, "d": false, "e": false, "f": false}
	for path, expected := range want {
		if got := p.Bool(path); got != expected {
			t.Errorf("Bool(%q) = %v, want %v", path, got, expected)
		}
	}
}

func TestPayloadObject(t *testing.T) {
	p := mustParse(t, `{"pull_request":{"head":{"ref":"f"}},"ref":"x"}`)

	if got := p.Object("pull_request").String("head.ref", ""); got != "f" {
		t.Errorf("Object().String() = %q", got)
	}
	if got := p.Object("ref"); len(got) != 0 {
		t.Errorf("Object on scalar = %v, want empty", got)
	}
	if got := p.Object("missing"); got == nil {
		t.Error("Object on missing key should return an empty, non-nil Payload")
	}

	var nilPayload Payload
	if _, ok := nilPayload.Get("a"); ok {
		t.Error("Get on nil payload should report missing")
	}
}
