// Package client is a reconnecting subscriber for a hookfeed live feed.
//
// The client handles:
//   - Reconnection with jittered exponential backoff
//   - Answering server keep-alive pings
//   - Structured logging through a caller-supplied slog.Logger
//
// Basic usage:
//
//	c, err := client.New(client.Config{
//	    ServerURL: "wss://example.com/ws",
//	    Subscription: feed.Subscription{Actions: []event.Action{event.ActionPush}},
//	    OnEvent: func(rec event.Record) {
//	        fmt.Printf("%s pushed to %s\n", rec.Author, rec.ToBranch)
//	    },
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	if err := c.Start(context.Background()); err != nil {
//	    log.Fatal(err)
//	}
//
// To silence logs:
//
//	config.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
package client
