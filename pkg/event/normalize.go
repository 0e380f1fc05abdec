package event

import (
	"strings"
	"time"
	"unicode/utf8"
)

// GitHub event types and pull request actions that produce records.
const (
	EventTypePush        = "push"
	EventTypePullRequest = "pull_request"

	prActionOpened = "opened"
	prActionClosed = "closed"

	shortHashLength = 7
	branchRefPrefix = "refs/heads/"
)

// Normalize selects the mapper for a GitHub event type and payload. The
// second result is false when the combination is not recorded; that is
// expected traffic, not an error.
func Normalize(eventType string, p Payload, now time.Time) (Record, bool) {
	switch eventType {
	case EventTypePush:
		return Push(p, now), true
	case EventTypePullRequest:
		switch p.String("action", "") {
		case prActionOpened:
			return PullRequestOpened(p, now), true
		case prActionClosed:
			if p.Bool("pull_request.merged") {
				return Merge(p, now), true
			}
		}
	}
	return Record{}, false
}

// Push maps a push event.
func Push(p Payload, now time.Time) Record {
	return Record{
		RequestID:  shortHash(p.String("head_commit.id", "")),
		Author:     p.String("pusher.name", UnknownAuthor),
		Action:     ActionPush,
		FromBranch: "",
		ToBranch:   strings.TrimPrefix(p.String("ref", ""), branchRefPrefix),
		Timestamp:  FormatTimestamp(now),
	}
}

// PullRequestOpened maps a pull_request event with action "opened".
func PullRequestOpened(p Payload, now time.Time) Record {
	pr := p.Object("pull_request")
	return pullRequestRecord(pr, ActionPullRequest, pr.String("user.login", UnknownAuthor), now)
}

// Merge maps a pull_request event that was closed with merged=true.
// The author is whoever merged it, not whoever opened it.
func Merge(p Payload, now time.Time) Record {
	pr := p.Object("pull_request")
	return pullRequestRecord(pr, ActionMerge, pr.String("merged_by.login", UnknownAuthor), now)
}

func pullRequestRecord(pr Payload, action Action, author string, now time.Time) Record {
	return Record{
		RequestID:  pr.String("number", ""),
		Author:     author,
		Action:     action,
		FromBranch: pr.String("head.ref", ""),
		ToBranch:   pr.String("base.ref", ""),
		Timestamp:  FormatTimestamp(now),
	}
}

// shortHash keeps the first shortHashLength characters of a commit id.
func shortHash(id string) string {
	end := 0
	for range shortHashLength {
		if end >= len(id) {
			return id
		}
		_, size := utf8.DecodeRuneInString(id[end:])
		end += size
	}
	return id[:end]
}
