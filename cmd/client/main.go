// Package main provides a command-line client that tails a hookfeed server's
// live feed and prints each new record.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/codeGROOVE-dev/hookfeed/pkg/client"
	"github.com/codeGROOVE-dev/hookfeed/pkg/event"
	"github.com/codeGROOVE-dev/hookfeed/pkg/feed"
	"github.com/codeGROOVE-dev/hookfeed/pkg/logger"
)

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string, out io.Writer) error {
	fs := pflag.NewFlagSet("hookfeed-tail", pflag.ContinueOnError)
	var (
		serverAddr = fs.String("addr", "localhost:5000", "server address")
		useTLS     = fs.Bool("tls", false, "use TLS (wss://)")
		actions    = fs.StringSlice("actions", nil, "only these actions: PUSH, PULL_REQUEST, MERGE")
		author     = fs.String("author", "", "only records by this GitHub login")
		branch     = fs.String("branch", "", "only records touching this branch")
		asJSON     = fs.Bool("json", false, "print records as JSON lines")
		verbose    = fs.Bool("verbose", false, "debug logging")
		maxRetries = fs.Int("max-retries", 0, "give up after this many connection attempts (0 retries forever)")
	)
	if err := fs.Parse(args); err != nil {
		return err
	}

	logger.SetDebug(*verbose)

	scheme := "ws"
	if *useTLS {
		scheme = "wss"
	}

	sub := feed.Subscription{Author: *author, Branch: *branch}
	for _, a := range *actions {
		sub.Actions = append(sub.Actions, event.Action(strings.ToUpper(strings.TrimSpace(a))))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	c, err := client.New(client.Config{
		ServerURL:    fmt.Sprintf("%s://%s/ws", scheme, *serverAddr),
		Subscription: sub,
		MaxRetries:   *maxRetries,
		Logger:       logger.Default().With(slog.String("component", "feed-client")),
		OnEvent: func(rec event.Record) {
			if err := printRecord(out, rec, *asJSON); err != nil {
				logger.Warn("failed to print record", logger.Fields{"id": rec.ID, "error": err.Error()})
			}
		},
	})
	if err != nil {
		return err
	}

	err = c.Start(ctx)
	if ctx.Err() != nil {
		return nil
	}
	return err
}

func printRecord(w io.Writer, rec event.Record, asJSON bool) error {
	if asJSON {
		return json.NewEncoder(w).Encode(rec)
	}
	_, err := fmt.Fprintln(w, describe(rec))
	return err
}

// describe renders a record the way the dashboard does.
func describe(rec event.Record) string {
	when := rec.Timestamp
	if t, err := event.ParseTimestamp(rec.Timestamp); err == nil {
		when = t.Format("2 January 2006 - 3:04 PM UTC")
	}
	switch rec.Action {
	case event.ActionPush:
		return fmt.Sprintf("%s pushed to %s on %s", rec.Author, rec.ToBranch, when)
	case event.ActionPullRequest:
		return fmt.Sprintf("%s submitted a pull request from %s to %s on %s", rec.Author, rec.FromBranch, rec.ToBranch, when)
	case event.ActionMerge:
		return fmt.Sprintf("%s merged branch %s to %s on %s", rec.Author, rec.FromBranch, rec.ToBranch, when)
	default:
		return fmt.Sprintf("%s %s on %s", rec.Author, rec.Action, when)
	}
}
