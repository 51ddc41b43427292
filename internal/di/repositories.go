// Package di provides dependency injection for repository implementations.
package di

import (
	"fmt"

	"github.com/rs/zerolog"

	"github.com/qerplab/qerp/internal/modules/calibration"
	"github.com/qerplab/qerp/internal/modules/results"
)

// InitializeRepositories creates the data access layer over the open
// databases. Must run after InitializeDatabases.
func InitializeRepositories(container *Container, log zerolog.Logger) error {
	if container.ResultsDB == nil || container.CalibrationDB == nil {
		return fmt.Errorf("databases must be initialized before repositories")
	}

	container.ResultsRepo = results.NewRepository(container.ResultsDB.Conn(), log)
	container.CalibrationRepo = calibration.NewRepository(container.CalibrationDB.Conn(), log)

	return nil
}
