// Package di provides dependency injection for database connections.
package di

import (
	"fmt"
	"path/filepath"

	"github.com/rs/zerolog"

	"github.com/qerplab/qerp/internal/config"
	"github.com/qerplab/qerp/internal/database"
)

// InitializeDatabases opens both databases and applies their schemas.
func InitializeDatabases(cfg *config.Config, log zerolog.Logger) (*Container, error) {
	container := &Container{}

	// results.db - run history, iteration traces and final results.
	// Completed runs are never rewritten, so this gets the ledger profile.
	resultsDB, err := database.New(database.Config{
		Path:    filepath.Join(cfg.DataDir, "results.db"),
		Profile: database.ProfileLedger,
		Name:    "results",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize results database: %w", err)
	}
	container.ResultsDB = resultsDB

	// calibration.db - confusion matrices and sector declarations. Snapshots
	// are replaced on every upload, so the standard profile is enough.
	calibrationDB, err := database.New(database.Config{
		Path:    filepath.Join(cfg.DataDir, "calibration.db"),
		Profile: database.ProfileStandard,
		Name:    "calibration",
	})
	if err != nil {
		container.Close()
		return nil, fmt.Errorf("failed to initialize calibration database: %w", err)
	}
	container.CalibrationDB = calibrationDB

	for name, db := range container.Databases() {
		if err := db.Migrate(); err != nil {
			container.Close()
			return nil, fmt.Errorf("failed to migrate %s database: %w", name, err)
		}
		log.Debug().Str("database", name).Str("path", db.Path()).Msg("Database ready")
	}

	return container, nil
}
