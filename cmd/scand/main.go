package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/scanforge/bookscan/internal/api"
	"github.com/scanforge/bookscan/internal/catalog"
	"github.com/scanforge/bookscan/internal/config"
	"github.com/scanforge/bookscan/internal/history"
	"github.com/scanforge/bookscan/internal/log"
	"github.com/scanforge/bookscan/internal/logbus"
	"github.com/scanforge/bookscan/internal/scan"
)

var (
	version   = "dev"
	commit    = "none"
	buildDate = "unknown"
)

const shutdownTimeout = 10 * time.Second

func main() {
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("scand %s (commit: %s, built: %s)\n", version, commit, buildDate)
		os.Exit(0)
	}

	cfg := config.FromEnv()

	log.Configure(log.Config{
		Level:   cfg.LogLevel,
		Service: "bookscan",
	})
	logger := log.WithComponent("scand")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := cfg.Validate(); err != nil {
		logger.Fatal().
			Err(err).
			Str("event", "config.invalid").
			Msg("invalid configuration")
	}
	if err := cfg.EnsureDataDir(); err != nil {
		logger.Fatal().
			Err(err).
			Str("event", "config.data_dir_failed").
			Msg("data directory is not usable")
	}

	logger.Info().
		Str("event", "startup").
		Str("version", version).
		Str("commit", commit).
		Str("addr", cfg.ListenAddr).
		Str("data_dir", cfg.DataDir).
		Msg("starting bookscan")

	store, err := catalog.Open(cfg.DataDir)
	if err != nil {
		logger.Fatal().
			Err(err).
			Str("event", "catalog.open_failed").
			Msg("failed to open catalog store")
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Error().Err(err).Msg("catalog close failed")
		}
	}()

	ledger, err := history.Open(cfg.DataDir)
	if err != nil {
		logger.Fatal().
			Err(err).
			Str("event", "history.open_failed").
			Msg("failed to open scan history")
	}

	logs := logbus.New()
	mgr := scan.NewManager(scan.Deps{
		Catalog:  store,
		History:  ledger,
		Logs:     logs,
		DataDir:  cfg.DataDir,
		DriveRPS: cfg.DriveRPS,
	})

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           api.New(cfg, mgr, logs, ledger).Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("event", "http.listen").Str("addr", cfg.ListenAddr).Msg("control surface listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info().Str("event", "shutdown.signal").Msg("shutdown signal received")
	case err := <-errCh:
		logger.Error().Err(err).Str("event", "http.failed").Msg("HTTP server failed")
	}

	// A running job keeps going until its next cancellation checkpoint;
	// request the stop before draining connections.
	mgr.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Str("event", "shutdown.failed").Msg("graceful shutdown failed")
	}

	logger.Info().Str("event", "shutdown.complete").Msg("server exiting")
}
