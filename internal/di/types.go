// Package di provides dependency injection wiring and initialization.
//
// The Container is the single source of truth for all service instances. It
// is created by Wire() and handed to the HTTP server, the run processor and
// the scheduler jobs.
package di

import (
	"github.com/qerplab/qerp/internal/database"
	"github.com/qerplab/qerp/internal/events"
	"github.com/qerplab/qerp/internal/modules/calibration"
	"github.com/qerplab/qerp/internal/modules/results"
	"github.com/qerplab/qerp/internal/reliability"
	"github.com/qerplab/qerp/internal/work"
)

// Container holds all dependencies for the application.
//
// Architecture:
//   - Databases: results.db (ledger profile, append-only run history) and
//     calibration.db (standard profile, replaceable snapshots)
//   - Repositories: data access layer over the two databases
//   - Services: run lifecycle, calibration uploads, artifact archival
//   - Processor: the run queue draining solver executions
//
// All dependencies are injected via constructors; nothing reaches for
// globals.
type Container struct {
	// Databases
	ResultsDB     *database.DB // Run history, iteration traces, final results
	CalibrationDB *database.DB // Readout confusion matrices and symmetry sectors

	// Repositories
	ResultsRepo     *results.Repository
	CalibrationRepo *calibration.Repository

	// Services
	EventBus           *events.Bus
	ResultsService     *results.Service
	CalibrationService *calibration.Service
	ArchiveService     *reliability.ArchiveService // nil when archival is disabled

	// Run queue
	Processor *work.Processor
}

// Databases returns the open databases keyed by name, for the maintenance
// jobs and the system stats endpoint.
func (c *Container) Databases() map[string]*database.DB {
	return map[string]*database.DB{
		"results":     c.ResultsDB,
		"calibration": c.CalibrationDB,
	}
}

// Close releases all database connections. Safe to call on a partially
// initialized container.
func (c *Container) Close() {
	if c.ResultsDB != nil {
		_ = c.ResultsDB.Close()
	}
	if c.CalibrationDB != nil {
		_ = c.CalibrationDB.Close()
	}
}
