package di

import (
	"fmt"

	"github.com/rs/zerolog"

	"github.com/qerplab/qerp/internal/config"
	"github.com/qerplab/qerp/internal/scheduler"
)

// Wire initializes all dependencies and returns a fully configured container
// together with the maintenance scheduler.
//
// Order of operations:
//  1. Initialize databases
//  2. Initialize repositories
//  3. Initialize services and the run processor
//  4. Register maintenance jobs
//
// On any error the databases opened so far are closed before returning.
func Wire(cfg *config.Config, log zerolog.Logger) (*Container, *scheduler.Scheduler, error) {
	container, err := InitializeDatabases(cfg, log)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize databases: %w", err)
	}

	if err := InitializeRepositories(container, log); err != nil {
		container.Close()
		return nil, nil, fmt.Errorf("failed to initialize repositories: %w", err)
	}

	if err := InitializeServices(container, cfg, log); err != nil {
		container.Close()
		return nil, nil, fmt.Errorf("failed to initialize services: %w", err)
	}

	sched, err := RegisterJobs(container, cfg, log)
	if err != nil {
		container.Close()
		return nil, nil, fmt.Errorf("failed to register jobs: %w", err)
	}

	log.Info().Msg("Dependency injection complete")
	return container, sched, nil
}
