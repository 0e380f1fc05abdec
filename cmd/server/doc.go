/*
Package main implements hookfeed, a GitHub webhook receiver that records
repository activity and serves it to dashboards and live subscribers.

hookfeed accepts push and pull request webhooks, keeps three kinds of
activity, and ignores the rest:
  - PUSH: a push to a branch
  - PULL_REQUEST: a pull request was opened
  - MERGE: a pull request was closed as merged

Security features include:
  - HMAC-SHA256 webhook signature verification
  - Optional restriction of webhook sources to GitHub's hook addresses
  - Rate limiting per IP address
  - Connection limits for the live feed (per-IP and total)
  - TLS support via Let's Encrypt

Usage:

	hookfeed --webhook-secret=secret --store-uri=postgres://user:pw@db/hookfeed

The server exposes:
  - POST /webhook - receives GitHub webhook events
  - GET /api/events - the 50 most recent records, newest first
  - GET /health - store connectivity
  - GET / - dashboard page polling /api/events
  - /ws - websocket live feed

Live feed clients send a JSON subscription after connecting; empty fields
match everything:

	{
	  "actions": ["MERGE"],
	  "author": "alice",
	  "branch": "main"
	}

They then receive each matching record as soon as it is stored:

	{
	  "type": "event",
	  "event": {
	    "id": "1b4e28ba-2fa1-41d2-883f-0016d3cca427",
	    "request_id": "42",
	    "author": "alice",
	    "action": "MERGE",
	    "from_branch": "feature",
	    "to_branch": "main",
	    "timestamp": "2024-01-15T10:30:00.000000Z"
	  }
	}

Note: read endpoints and the live feed are not authenticated. Deploy only in
trusted environments if repository activity is sensitive.
*/
package main
