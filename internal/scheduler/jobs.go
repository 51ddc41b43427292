package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/qerplab/qerp/internal/database"
	"github.com/qerplab/qerp/internal/events"
	"github.com/qerplab/qerp/internal/modules/calibration"
)

// CalibrationWatcher is the slice of the calibration service the staleness
// job needs. Implemented by calibration.Service.
type CalibrationWatcher interface {
	CheckStaleness(maxAge time.Duration) ([]string, error)
	Snapshot(backend string) (*calibration.BackendCalibration, error)
}

// Archiver uploads artifact archives and rotates old ones. Implemented by
// reliability.ArchiveService.
type Archiver interface {
	CreateAndUploadArchive(ctx context.Context) error
	RotateArchives(ctx context.Context) error
}

// DatabaseMaintenanceJob checkpoints the WAL and verifies each database.
// SQLite under WAL mode grows the log until a checkpoint runs, so this
// fires nightly.
type DatabaseMaintenanceJob struct {
	databases map[string]*database.DB
	log       zerolog.Logger
}

// NewDatabaseMaintenanceJob creates a new database maintenance job
func NewDatabaseMaintenanceJob(databases map[string]*database.DB, log zerolog.Logger) *DatabaseMaintenanceJob {
	return &DatabaseMaintenanceJob{
		databases: databases,
		log:       log.With().Str("job", "database_maintenance").Logger(),
	}
}

// Name returns the job name for the scheduler
func (j *DatabaseMaintenanceJob) Name() string {
	return "database_maintenance"
}

// Run executes the maintenance pass
func (j *DatabaseMaintenanceJob) Run() error {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	failed := 0
	for name, db := range j.databases {
		if db == nil {
			continue
		}

		if err := db.WALCheckpoint("TRUNCATE"); err != nil {
			j.log.Warn().Err(err).Str("database", name).Msg("WAL checkpoint failed")
			failed++
			continue
		}

		if err := db.HealthCheck(ctx); err != nil {
			j.log.Error().Err(err).Str("database", name).Msg("Integrity check failed")
			failed++
			continue
		}

		stats, err := db.GetStats()
		if err != nil {
			j.log.Warn().Err(err).Str("database", name).Msg("Failed to read database stats")
			continue
		}

		j.log.Debug().
			Str("database", name).
			Int64("size_bytes", stats.SizeBytes).
			Int64("wal_size_bytes", stats.WALSizeBytes).
			Int64("freelist_pages", stats.FreelistCount).
			Msg("Database checkpoint and integrity check passed")
	}

	if failed > 0 {
		return fmt.Errorf("%d of %d databases reported errors", failed, len(j.databases))
	}

	return nil
}

// DatabaseCompactionJob vacuums the databases to reclaim space freed by
// pruned runs. VACUUM rewrites the whole file, so this runs sparsely.
type DatabaseCompactionJob struct {
	databases map[string]*database.DB
	log       zerolog.Logger
}

// NewDatabaseCompactionJob creates a new database compaction job
func NewDatabaseCompactionJob(databases map[string]*database.DB, log zerolog.Logger) *DatabaseCompactionJob {
	return &DatabaseCompactionJob{
		databases: databases,
		log:       log.With().Str("job", "database_compaction").Logger(),
	}
}

// Name returns the job name for the scheduler
func (j *DatabaseCompactionJob) Name() string {
	return "database_compaction"
}

// Run executes the compaction pass
func (j *DatabaseCompactionJob) Run() error {
	failed := 0
	for name, db := range j.databases {
		if db == nil {
			continue
		}

		var sizeBefore int64
		if stats, err := db.GetStats(); err == nil {
			sizeBefore = stats.SizeBytes
		}

		if err := db.Vacuum(); err != nil {
			j.log.Error().Err(err).Str("database", name).Msg("VACUUM failed")
			failed++
			continue
		}

		var sizeAfter int64
		if stats, err := db.GetStats(); err == nil {
			sizeAfter = stats.SizeBytes
		}

		j.log.Info().
			Str("database", name).
			Int64("size_before_bytes", sizeBefore).
			Int64("size_after_bytes", sizeAfter).
			Int64("reclaimed_bytes", sizeBefore-sizeAfter).
			Msg("VACUUM completed")
	}

	if failed > 0 {
		return fmt.Errorf("%d of %d databases failed to compact", failed, len(j.databases))
	}

	return nil
}

// CalibrationStalenessJob flags backends whose confusion matrices are older
// than the configured maximum. Stale readout calibration silently skews
// mitigated energies, so operators get an event instead of a wrong answer.
type CalibrationStalenessJob struct {
	calibration CalibrationWatcher
	bus         *events.Bus
	maxAge      time.Duration
	log         zerolog.Logger
}

// NewCalibrationStalenessJob creates a new calibration staleness job
func NewCalibrationStalenessJob(
	watcher CalibrationWatcher,
	bus *events.Bus,
	maxAge time.Duration,
	log zerolog.Logger,
) *CalibrationStalenessJob {
	return &CalibrationStalenessJob{
		calibration: watcher,
		bus:         bus,
		maxAge:      maxAge,
		log:         log.With().Str("job", "calibration_staleness").Logger(),
	}
}

// Name returns the job name for the scheduler
func (j *CalibrationStalenessJob) Name() string {
	return "calibration_staleness"
}

// Run checks every calibrated backend and emits an event per stale one
func (j *CalibrationStalenessJob) Run() error {
	stale, err := j.calibration.CheckStaleness(j.maxAge)
	if err != nil {
		return fmt.Errorf("staleness check failed: %w", err)
	}

	now := time.Now().UTC()
	for _, backend := range stale {
		data := map[string]interface{}{
			"backend":       backend,
			"max_age_hours": j.maxAge.Hours(),
		}

		// The oldest matrix determines how outdated the snapshot is.
		if snap, err := j.calibration.Snapshot(backend); err == nil {
			if oldest, ok := oldestMeasurement(snap); ok {
				data["age_hours"] = now.Sub(oldest).Hours()
				data["measured_at"] = oldest.Format(time.RFC3339)
			}
		}

		j.bus.Emit(events.CalibrationStale, "scheduler", data)
	}

	if len(stale) > 0 {
		j.log.Warn().Strs("backends", stale).Msg("Stale calibration detected")
	}

	return nil
}

// oldestMeasurement returns the oldest matrix timestamp in the snapshot.
func oldestMeasurement(snap *calibration.BackendCalibration) (time.Time, bool) {
	var oldest time.Time
	for _, m := range snap.Matrices {
		if oldest.IsZero() || m.MeasuredAt.Before(oldest) {
			oldest = m.MeasuredAt
		}
	}
	return oldest, !oldest.IsZero()
}

// ArchiveJob uploads exported result artifacts to object storage and rotates
// old archives afterwards.
type ArchiveJob struct {
	archive Archiver
	timeout time.Duration
	log     zerolog.Logger
}

// NewArchiveJob creates a new archive job. timeout bounds one full
// archive-and-rotate pass.
func NewArchiveJob(archive Archiver, timeout time.Duration, log zerolog.Logger) *ArchiveJob {
	if timeout <= 0 {
		timeout = 10 * time.Minute
	}
	return &ArchiveJob{
		archive: archive,
		timeout: timeout,
		log:     log.With().Str("job", "artifact_archive").Logger(),
	}
}

// Name returns the job name for the scheduler
func (j *ArchiveJob) Name() string {
	return "artifact_archive"
}

// Run creates and uploads an archive, then rotates old ones
func (j *ArchiveJob) Run() error {
	ctx, cancel := context.WithTimeout(context.Background(), j.timeout)
	defer cancel()

	if err := j.archive.CreateAndUploadArchive(ctx); err != nil {
		return err
	}

	return j.archive.RotateArchives(ctx)
}
