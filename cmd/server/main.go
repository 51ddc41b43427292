// Package main is the entry point for the qerp solver service. It accepts
// active-space Hamiltonian bundles over HTTP, runs the adaptive ansatz-growth
// and subspace-diagonalization pipeline against a quantum-circuit backend,
// and persists the resulting energy estimates with their full iteration
// traces.
//
// Startup sequence:
//  1. Load configuration from environment variables
//  2. Initialize structured logging
//  3. Wire all dependencies via the DI container (databases, repositories,
//     services, run processor, maintenance scheduler)
//  4. Recover runs interrupted by the previous process
//  5. Start the HTTP server, the run processor and the scheduler
//  6. Wait for a shutdown signal and drain everything gracefully
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/qerplab/qerp/internal/config"
	"github.com/qerplab/qerp/internal/di"
	"github.com/qerplab/qerp/internal/server"
	"github.com/qerplab/qerp/pkg/logger"
)

func main() {
	// Load configuration first to get the log level.
	cfg, err := config.Load()
	if err != nil {
		// Use a fallback logger so the configuration error itself is logged.
		fallbackLog := logger.New(logger.Config{
			Level:  "info",
			Pretty: true,
		})
		fallbackLog.Fatal().Err(err).Msg("Failed to load configuration")
	}

	log := logger.New(logger.Config{
		Level:  cfg.LogLevel,
		Pretty: cfg.DevMode,
	})

	log.Info().
		Str("backend", cfg.Backend.Kind).
		Str("data_dir", cfg.DataDir).
		Msg("Starting qerp")

	// Wire all dependencies: databases, repositories, services, the run
	// processor and the maintenance scheduler.
	container, sched, err := di.Wire(cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to wire dependencies")
	}
	defer container.Close()

	// Close out runs a previous process left in the running state. The
	// solver keeps no mid-run checkpoint, so interrupted runs are marked
	// failed and queued runs resume in submission order.
	if err := container.Processor.Recover(); err != nil {
		log.Error().Err(err).Msg("Failed to recover interrupted runs")
	}

	srv := server.New(server.Config{
		Log:       log,
		Config:    cfg,
		Port:      cfg.Port,
		DevMode:   cfg.DevMode,
		Container: container,
	})

	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()
	log.Info().Int("port", cfg.Port).Msg("Server started")

	// The run processor drains the queue of submitted runs. Each run is
	// strictly sequential internally; independent runs execute in parallel
	// up to the configured bound.
	go container.Processor.Run()
	log.Info().Msg("Run processor started")

	sched.Start()

	// Block until SIGINT or SIGTERM.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down...")

	// Stop the scheduler first so no new maintenance work starts, then the
	// processor: in-flight runs are canceled and marked failed rather than
	// left dangling in the running state.
	sched.Stop()
	container.Processor.Stop()
	log.Info().Msg("Run processor stopped")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	log.Info().Msg("Server stopped")
}
