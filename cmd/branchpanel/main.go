package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "golang.org/x/crypto/x509roots/fallback" // Embed CA certs for scratch container

	httphandler "github.com/ericfisherdev/branchpanel/internal/adapter/driving/http"
	"github.com/ericfisherdev/branchpanel/internal/application"
	"github.com/ericfisherdev/branchpanel/internal/bootstrap"
	"github.com/ericfisherdev/branchpanel/internal/config"
)

func main() {
	if err := run(); err != nil {
		slog.Error("fatal error", "error", err)
		os.Exit(1)
	}
}

func run() error {
	// 1. Load configuration (fail fast on malformed env vars).
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	slog.Info("config loaded",
		"listen_addr", cfg.ListenAddr,
		"workspace", cfg.Workspace,
		"config_source", cfg.ConfigSource(),
		"cache_backend", cfg.CacheBackend,
		"cache_ttl", cfg.CacheTTL,
		"stale_days", cfg.StaleDays,
		"poll_interval", cfg.PollInterval,
	)

	// 2. Setup signal-based context (SIGINT, SIGTERM).
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 3. Open the cache store, degrading to memory when it is unavailable.
	store, closeStore := bootstrap.OpenStoreOrMemory(ctx, cfg)
	defer func() {
		if closeErr := closeStore(); closeErr != nil {
			slog.Error("error closing cache store", "error", closeErr)
		}
	}()

	// 4. Wire the client and application services.
	svcs, err := bootstrap.NewServices(cfg, store)
	if err != nil {
		return err
	}
	if !cfg.HasBitbucketCredentials() {
		slog.Warn("no bitbucket credentials configured, set BITBUCKET_WORKSPACE and BITBUCKET_ACCESS_TOKEN")
	}

	// 5. Start the poll loop. It warms the snapshot and serializes refreshes.
	pollSvc := application.NewPollService(svcs.Branches, cfg.PollInterval)
	go pollSvc.Start(ctx)

	// 6. Create HTTP handler and register API routes.
	apiHandler := httphandler.NewHandler(
		svcs.Branches,
		pollSvc,
		svcs.Staleness,
		svcs.Client,
		cfg.StaleDays,
		cfg.ConfigSource(),
		slog.Default(),
	)

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           httphandler.NewServeMux(apiHandler, slog.Default()),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      2 * time.Minute,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		slog.Info("http server starting", "addr", cfg.ListenAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("http server error", "error", err)
			stop()
		}
	}()

	slog.Info("branchpanel started", "listen_addr", cfg.ListenAddr, "workspace", cfg.Workspace)

	// 7. Wait for shutdown signal.
	<-ctx.Done()
	slog.Info("shutting down")

	// 8. Graceful shutdown with 10s timeout for in-flight requests.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("http server shutdown error", "error", err)
	}

	slog.Info("shutdown complete")
	return nil
}
