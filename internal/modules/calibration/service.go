package calibration

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// Service validates calibration uploads and serves snapshots to the
// mitigation pipeline and the HTTP layer.
type Service struct {
	repo *Repository
	log  zerolog.Logger
}

// NewService creates a new calibration service.
func NewService(repo *Repository, log zerolog.Logger) *Service {
	return &Service{
		repo: repo,
		log:  log.With().Str("service", "calibration").Logger(),
	}
}

// Upload validates and persists a calibration snapshot for one backend.
// Matrices without a measurement timestamp are stamped with the current
// time. The sector declaration is optional.
func (s *Service) Upload(backend string, matrices []ConfusionMatrix, sector *SymmetrySector) error {
	if backend == "" {
		return fmt.Errorf("backend name is required")
	}
	if len(matrices) == 0 && sector == nil {
		return fmt.Errorf("upload for %s carries no matrices and no sector", backend)
	}

	now := time.Now().UTC()
	seen := make(map[int]bool, len(matrices))
	for i := range matrices {
		m := &matrices[i]
		if err := m.Validate(); err != nil {
			return err
		}
		if seen[m.Qubit] {
			return fmt.Errorf("duplicate matrix for qubit %d", m.Qubit)
		}
		seen[m.Qubit] = true
		if m.MeasuredAt.IsZero() {
			m.MeasuredAt = now
		}
	}

	if len(matrices) > 0 {
		if err := s.repo.UpsertMatrices(backend, matrices); err != nil {
			return err
		}
	}
	if sector != nil {
		sec := *sector
		sec.Backend = backend
		if err := sec.Validate(); err != nil {
			return err
		}
		if sec.UpdatedAt.IsZero() {
			sec.UpdatedAt = now
		}
		if err := s.repo.UpsertSector(sec); err != nil {
			return err
		}
	}

	s.log.Info().
		Str("backend", backend).
		Int("matrices", len(matrices)).
		Bool("sector", sector != nil).
		Msg("Calibration uploaded")
	return nil
}

// Snapshot returns the stored calibration of one backend. A backend with no
// data at all yields a snapshot with empty matrices and a nil sector.
func (s *Service) Snapshot(backend string) (*BackendCalibration, error) {
	matrices, err := s.repo.GetMatrices(backend)
	if err != nil {
		return nil, err
	}
	sector, err := s.repo.GetSector(backend)
	if err != nil {
		return nil, err
	}
	return &BackendCalibration{Backend: backend, Matrices: matrices, Sector: sector}, nil
}

// Snapshots returns the calibration of every known backend.
func (s *Service) Snapshots() ([]BackendCalibration, error) {
	backends, err := s.repo.Backends()
	if err != nil {
		return nil, err
	}
	out := make([]BackendCalibration, 0, len(backends))
	for _, b := range backends {
		snap, err := s.Snapshot(b)
		if err != nil {
			return nil, err
		}
		out = append(out, *snap)
	}
	return out, nil
}

// CheckStaleness reports backends whose newest matrix is older than maxAge.
// Stale calibration degrades readout correction quietly, so the maintenance
// job surfaces it in the logs.
func (s *Service) CheckStaleness(maxAge time.Duration) ([]string, error) {
	stale, err := s.repo.StaleBackends(time.Now().Add(-maxAge))
	if err != nil {
		return nil, err
	}
	for _, b := range stale {
		s.log.Warn().
			Str("backend", b).
			Dur("max_age", maxAge).
			Msg("Calibration data is stale")
	}
	return stale, nil
}
