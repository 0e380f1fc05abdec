package main

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"
	"golang.org/x/crypto/acme/autocert"

	"github.com/codeGROOVE-dev/hookfeed/pkg/config"
	"github.com/codeGROOVE-dev/hookfeed/pkg/dashboard"
	"github.com/codeGROOVE-dev/hookfeed/pkg/feed"
	"github.com/codeGROOVE-dev/hookfeed/pkg/logger"
	"github.com/codeGROOVE-dev/hookfeed/pkg/query"
	"github.com/codeGROOVE-dev/hookfeed/pkg/security"
	"github.com/codeGROOVE-dev/hookfeed/pkg/store"
	"github.com/codeGROOVE-dev/hookfeed/pkg/webhook"
)

const (
	readTimeout     = 10 * time.Second
	writeTimeout    = 10 * time.Second
	idleTimeout     = 120 * time.Second
	shutdownTimeout = 10 * time.Second
	rateWindow      = time.Minute
	dashboardTitle  = "GitHub Repository Activity"
	webhookPath     = "/webhook"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		logger.Error("server failed", err, nil)
		os.Exit(1)
	}
}

func run(args []string) error {
	cfg, err := config.Load(args, os.Getenv)
	if errors.Is(err, pflag.ErrHelp) {
		config.Usage()
		return nil
	}
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger.SetDebug(cfg.Debug)
	if err := cfg.Validate(); err != nil {
		return err
	}
	if cfg.AllowUnsignedWebhooks {
		logger.Warn("webhook signature verification is DISABLED; use only for local development", nil)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := store.Open(ctx, cfg.StoreOptions())
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer func() {
		if err := st.Close(); err != nil {
			logger.Warn("failed to close store", logger.Fields{"error": err.Error()})
		}
	}()

	hub := feed.NewHub()
	go hub.Run(ctx)

	rateLimiter := security.NewRateLimiter(cfg.RateLimit, rateWindow)
	connLimiter := security.NewConnectionLimiter(cfg.MaxConnsPerIP, cfg.MaxConnsTotal)
	ipValidator, err := security.NewGitHubIPValidator(cfg.GitHubIPCheck)
	if err != nil {
		return fmt.Errorf("github ip ranges: %w", err)
	}

	server := &http.Server{
		Addr:           cfg.Addr(),
		Handler:        newRouter(cfg, store.WithTimeout(st, cfg.StoreTimeout), hub, rateLimiter, connLimiter, ipValidator),
		ReadTimeout:    readTimeout,
		WriteTimeout:   writeTimeout,
		IdleTimeout:    idleTimeout,
		MaxHeaderBytes: 1 << 20, // 1MB
	}

	errCh := make(chan error, 1)
	go func() { errCh <- serve(server, cfg) }()

	select {
	case err := <-errCh:
		stop()
		hub.Wait()
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down server", nil)
	// The hub saw the same cancellation and is telling live clients to go away.
	hub.Wait()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", err, nil)
	}
	if err := <-errCh; err != nil {
		return err
	}
	logger.Info("server stopped", nil)
	return nil
}

// newRouter wires every endpoint behind the shared middleware.
func newRouter(
	cfg config.Config,
	st store.Store,
	hub *feed.Hub,
	rateLimiter *security.RateLimiter,
	connLimiter *security.ConnectionLimiter,
	ipValidator *security.GitHubIPValidator,
) http.Handler {
	mux := http.NewServeMux()

	hooks := webhook.NewHandler(st,
		webhook.Verifier{Secret: cfg.WebhookSecret, SkipVerification: cfg.AllowUnsignedWebhooks},
		webhook.WithPublisher(hub),
		webhook.WithMaxPayloadSize(cfg.MaxPayloadSize),
	)
	mux.Handle(webhookPath, ipValidator.Middleware(hooks))
	query.NewService(st).RegisterRoutes(mux)
	dashboard.NewRenderer(dashboardTitle, "/api/events", dashboard.DefaultPollInterval).RegisterRoutes(mux)
	mux.Handle("GET /ws", feed.NewHandler(hub, connLimiter, cfg.AllowedOrigins))

	// Webhook deliveries skip the per-IP rate limit.
	return security.RequestID(security.CombinedMiddleware(rateLimiter, cfg.AllowedOrigins, webhookPath)(mux))
}

// serve blocks until the server stops. A clean shutdown returns nil.
func serve(server *http.Server, cfg config.Config) error {
	var err error
	if cfg.LetsEncrypt {
		if err := os.MkdirAll(cfg.LECacheDir, 0o700); err != nil {
			return fmt.Errorf("create Let's Encrypt cache directory: %w", err)
		}

		certManager := &autocert.Manager{
			Prompt:     autocert.AcceptTOS,
			HostPolicy: autocert.HostWhitelist(cfg.LEDomains...),
			Cache:      autocert.DirCache(cfg.LECacheDir),
			Email:      cfg.LEEmail,
		}

		server.Addr = ":443"
		server.TLSConfig = &tls.Config{
			GetCertificate: certManager.GetCertificate,
			MinVersion:     tls.VersionTLS12,
		}

		// HTTP server for ACME challenges
		go func() {
			logger.Info("starting HTTP server on :80 for Let's Encrypt ACME challenges", nil)
			acme := &http.Server{
				Addr:              ":80",
				Handler:           certManager.HTTPHandler(nil),
				ReadHeaderTimeout: readTimeout,
			}
			if err := acme.ListenAndServe(); err != nil {
				logger.Warn("HTTP ACME server error; certificate issuance/renewal may fail", logger.Fields{"error": err.Error()})
			}
		}()

		logger.Info("starting HTTPS server", logger.Fields{"addr": server.Addr, "domains": cfg.LEDomains})
		err = server.ListenAndServeTLS("", "")
	} else {
		logger.Info("starting HTTP server", logger.Fields{"addr": server.Addr})
		err = server.ListenAndServe()
	}

	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}
