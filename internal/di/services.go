// Package di provides dependency injection for service implementations.
package di

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/rs/zerolog"

	"github.com/qerplab/qerp/internal/config"
	"github.com/qerplab/qerp/internal/events"
	"github.com/qerplab/qerp/internal/modules/calibration"
	"github.com/qerplab/qerp/internal/modules/results"
	"github.com/qerplab/qerp/internal/reliability"
	"github.com/qerplab/qerp/internal/work"
)

// InitializeServices creates the service layer and the run processor. Must
// run after InitializeRepositories.
func InitializeServices(container *Container, cfg *config.Config, log zerolog.Logger) error {
	if container.ResultsRepo == nil || container.CalibrationRepo == nil {
		return fmt.Errorf("repositories must be initialized before services")
	}

	container.EventBus = events.NewBus(log)

	container.CalibrationService = calibration.NewService(container.CalibrationRepo, log)

	// Terminal results are exported as JSON artifacts under the data
	// directory; the archive job later ships them to object storage.
	artifactDir := filepath.Join(cfg.DataDir, "artifacts")
	container.ResultsService = results.NewService(container.ResultsRepo, artifactDir, log)

	container.Processor = work.NewProcessor(
		container.ResultsService,
		container.CalibrationService,
		container.EventBus,
		cfg,
		log,
	)

	if cfg.Archive.Enabled {
		store, err := reliability.NewS3Client(context.Background(), cfg.Archive, log)
		if err != nil {
			return fmt.Errorf("failed to initialize object store: %w", err)
		}
		container.ArchiveService = reliability.NewArchiveService(
			store,
			container.EventBus,
			artifactDir,
			cfg.DataDir,
			cfg.Archive.KeepMin,
			log,
		)
	}

	return nil
}
