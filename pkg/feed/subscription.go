package feed

import (
	"errors"
	"slices"
	"strings"
	"unicode"

	"github.com/codeGROOVE-dev/hookfeed/pkg/event"
)

const (
	maxAuthorLength = 39 // GitHub login max length
	maxBranchLength = 255
	botSuffix       = "[bot]"
)

// Subscription narrows which records a live client receives. Empty fields
// match everything.
type Subscription struct {
	Author  string         `json:"author,omitempty"`
	Branch  string         `json:"branch,omitempty"`
	Actions []event.Action `json:"actions,omitempty"`
}

// Validate checks subscription data received from a client.
func (s *Subscription) Validate() error {
	if len(s.Actions) > 3 {
		return errors.New("too many actions specified")
	}
	for _, a := range s.Actions {
		if !a.Valid() {
			return errors.New("invalid action")
		}
	}

	if s.Author != "" {
		login := strings.TrimSuffix(s.Author, botSuffix)
		if login == "" || len(login) > maxAuthorLength {
			return errors.New("invalid author")
		}
		for _, c := range login {
			if !((c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9') || c == '-') {
				return errors.New("invalid author format")
			}
		}
	}

	if len(s.Branch) > maxBranchLength {
		return errors.New("invalid branch")
	}
	for _, c := range s.Branch {
		if unicode.IsSpace(c) || unicode.IsControl(c) {
			return errors.New("invalid branch format")
		}
	}

	return nil
}

// Matches reports whether rec passes the subscription filters. Author
// comparison is case-insensitive; a branch filter matches either side of a
// pull request.
func (s *Subscription) Matches(rec event.Record) bool {
	if len(s.Actions) > 0 && !slices.Contains(s.Actions, rec.Action) {
		return false
	}
	if s.Author != "" && !strings.EqualFold(s.Author, rec.Author) {
		return false
	}
	if s.Branch != "" && s.Branch != rec.ToBranch && s.Branch != rec.FromBranch {
		return false
	}
	return true
}
