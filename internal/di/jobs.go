// Package di provides dependency injection for scheduler jobs.
package di

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/qerplab/qerp/internal/config"
	"github.com/qerplab/qerp/internal/scheduler"
)

// Maintenance schedules. Heavy work runs in the small hours; staleness
// checks are cheap and run hourly.
const (
	scheduleMaintenance = "0 0 3 * * *"  // 3 AM daily: WAL checkpoint + integrity check
	scheduleCompaction  = "0 30 4 * * 0" // 4:30 AM Sunday: VACUUM
	scheduleStaleness   = "@hourly"      // calibration age check
	scheduleArchive     = "0 0 5 * * *"  // 5 AM daily: artifact archive + rotation
)

// RegisterJobs creates the scheduler and registers all maintenance jobs.
// The archive job is only registered when archival is enabled. Must run
// after InitializeServices.
func RegisterJobs(container *Container, cfg *config.Config, log zerolog.Logger) (*scheduler.Scheduler, error) {
	if container.EventBus == nil {
		return nil, fmt.Errorf("services must be initialized before jobs")
	}

	sched := scheduler.New(container.EventBus, log)

	maintenance := scheduler.NewDatabaseMaintenanceJob(container.Databases(), log)
	if err := sched.AddJob(scheduleMaintenance, maintenance); err != nil {
		return nil, fmt.Errorf("failed to register maintenance job: %w", err)
	}

	compaction := scheduler.NewDatabaseCompactionJob(container.Databases(), log)
	if err := sched.AddJob(scheduleCompaction, compaction); err != nil {
		return nil, fmt.Errorf("failed to register compaction job: %w", err)
	}

	staleness := scheduler.NewCalibrationStalenessJob(
		container.CalibrationService,
		container.EventBus,
		cfg.Mitigation.CalibrationMaxAge,
		log,
	)
	if err := sched.AddJob(scheduleStaleness, staleness); err != nil {
		return nil, fmt.Errorf("failed to register staleness job: %w", err)
	}

	if container.ArchiveService != nil {
		archive := scheduler.NewArchiveJob(container.ArchiveService, 10*time.Minute, log)
		if err := sched.AddJob(scheduleArchive, archive); err != nil {
			return nil, fmt.Errorf("failed to register archive job: %w", err)
		}
	}

	return sched, nil
}
