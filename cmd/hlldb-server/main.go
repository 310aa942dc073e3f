// hlldb-server exposes a column store of HyperLogLog sketches over HTTP,
// optionally kept current by a PostgreSQL logical replication feed and made
// durable by an append-only log.
//
// Startup Sequence
// ================
//
// We load the YAML configuration, then replay the append log (if durability
// is enabled) into a fresh in-memory Store before opening it for writing.
// This mirrors the journal-then-open ordering used by the durability layer
// this server's persistence model was adapted from: never accept traffic
// against a store that hasn't finished replaying its own history.
//
// Durability Policy
// =================
//
// Every Update and Merge is appended and written through to the log file
// before the caller sees a response; unless sync_each_write is set, a
// background goroutine fsyncs the file once per second so most writes skip
// the fsync, at the risk of losing at most a second of updates on a machine
// crash.
//
// Graceful Shutdown
// =================
//
// SIGINT/SIGTERM triggers an http.Server.Shutdown with a configurable
// timeout, followed by a final AOF flush and close.
package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"hlldb.dev/hlldb/internal/api"
	"hlldb.dev/hlldb/internal/columnstore"
	"hlldb.dev/hlldb/internal/config"
	"hlldb.dev/hlldb/internal/ingest"
)

func main() {
	configPath := flag.String("config", "", "path to a YAML configuration file (optional, defaults are used otherwise)")
	listenAddr := flag.String("listen-addr", "", "override the configured HTTP listen address")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))

	cfg := config.Default()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			logger.Error("failed to load config", "error", err)
			os.Exit(1)
		}
		cfg = loaded
	}
	if *listenAddr != "" {
		cfg.Server.ListenAddr = *listenAddr
	}

	shutdownTimeout, err := time.ParseDuration(cfg.Server.ShutdownTimeout)
	if err != nil {
		logger.Error("invalid shutdown_timeout", "value", cfg.Server.ShutdownTimeout, "error", err)
		os.Exit(1)
	}

	var log *columnstore.AOF
	if cfg.AOF.Enabled {
		var err error
		log, err = columnstore.NewAOF(cfg.AOF.Path, cfg.AOF.SyncEach)
		if err != nil {
			logger.Error("failed to open append log", "error", err)
			os.Exit(1)
		}
	} else {
		logger.Info("durability disabled, running in memory-only mode")
	}

	store := columnstore.New(log)

	if cfg.AOF.Enabled {
		if err := columnstore.Replay(cfg.AOF.Path, store); err != nil {
			logger.Error("failed to replay append log", "error", err)
			os.Exit(1)
		}
	}

	var replication *ingest.Listener
	if cfg.Ingest.Enabled {
		replication = ingest.NewListener(ingest.Config{
			DSN:         cfg.Ingest.DSN,
			SlotName:    cfg.Ingest.SlotName,
			Publication: cfg.Ingest.Publication,
		}, store, logger)

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		err := replication.Start(ctx)
		cancel()
		if err != nil {
			logger.Error("failed to start replication listener", "error", err)
			os.Exit(1)
		}
	}

	if log != nil {
		go func() {
			ticker := time.NewTicker(time.Second)
			defer ticker.Stop()
			for range ticker.C {
				if err := log.Fsync(); err != nil {
					logger.Error("background append log sync failed", "error", err)
				}
			}
		}()
	}

	router := api.NewRouter(store, logger)
	srv := &http.Server{
		Addr:    cfg.Server.ListenAddr,
		Handler: router,
	}

	shutdownError := make(chan error, 1)
	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		s := <-quit

		logger.Info("caught signal, shutting down", "signal", s.String())

		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if replication != nil {
			replication.Stop()
		}

		shutdownError <- srv.Shutdown(ctx)
	}()

	logger.Info("server starting", "address", cfg.Server.ListenAddr)
	if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		logger.Error("server failed", "error", err)
		os.Exit(1)
	}

	if err := <-shutdownError; err != nil {
		logger.Error("graceful shutdown failed", "error", err)
	}

	if log != nil {
		if err := log.Close(); err != nil {
			logger.Error("failed to close append log", "error", err)
		}
	}

	logger.Info("shutdown complete")
}
