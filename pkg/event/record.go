// Package event defines the canonical activity record and the normalizers
// that map GitHub webhook payloads (push, pull request opened, pull request
// merged) onto it.
package event

import "time"

// Action is the normalized kind of a stored record.
type Action string

// Supported actions.
const (
	ActionPush        Action = "PUSH"
	ActionPullRequest Action = "PULL_REQUEST"
	ActionMerge       Action = "MERGE"
)

// UnknownAuthor is used when the payload carries no author.
const UnknownAuthor = "Unknown"

// TimestampLayout renders UTC instants with a fixed width, so lexical
// order of stored timestamps equals chronological order.
const TimestampLayout = "2006-01-02T15:04:05.000000Z07:00"

// Valid reports whether a is one of the supported actions.
func (a Action) Valid() bool {
	switch a {
	case ActionPush, ActionPullRequest, ActionMerge:
		return true
	default:
		return false
	}
}

// Record is the single persisted entity: one normalized repository activity.
type Record struct {
	ID         string `json:"id"`          // Assigned by the store on insert
	RequestID  string `json:"request_id"`  // Short commit hash or PR number
	Author     string `json:"author"`      // Pusher, PR author, or merger
	Action     Action `json:"action"`      // PUSH, PULL_REQUEST, or MERGE
	FromBranch string `json:"from_branch"` // Empty for pushes
	ToBranch   string `json:"to_branch"`   // Target branch
	Timestamp  string `json:"timestamp"`   // Server receipt time, TimestampLayout
}

// FormatTimestamp renders t in UTC using TimestampLayout.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(TimestampLayout)
}

// ParseTimestamp parses a timestamp produced by FormatTimestamp.
func ParseTimestamp(s string) (time.Time, error) {
	return time.Parse(TimestampLayout, s)
}
