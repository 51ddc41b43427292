package results

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/qerplab/qerp/internal/domain"
	"github.com/qerplab/qerp/internal/modules/hamiltonian"
	"github.com/qerplab/qerp/internal/utils"
)

// Service owns the run lifecycle records: submission, progress, terminal
// results and exported JSON artifacts.
type Service struct {
	repo        *Repository
	artifactDir string
	log         zerolog.Logger
}

// NewService creates a new results service. artifactDir is where terminal
// results are exported as JSON; empty disables export.
func NewService(repo *Repository, artifactDir string, log zerolog.Logger) *Service {
	return &Service{
		repo:        repo,
		artifactDir: artifactDir,
		log:         log.With().Str("service", "results").Logger(),
	}
}

// SubmitRun validates a tensor bundle and run config, assigns an id and
// persists the queued run.
func (s *Service) SubmitRun(cfg domain.RunConfig, bundle []byte, description string) (*domain.Run, error) {
	if _, err := hamiltonian.DecodeBundle(bundle); err != nil {
		return nil, fmt.Errorf("invalid tensor bundle: %w", err)
	}
	if err := validateRunConfig(cfg); err != nil {
		return nil, err
	}

	run := &domain.Run{
		ID:          uuid.New().String(),
		Status:      domain.RunStatusQueued,
		Config:      cfg,
		BundleHash:  hamiltonian.BundleHash(bundle),
		CreatedAt:   time.Now().UTC(),
		PathwayID:   cfg.PathwayID,
		ImageIndex:  cfg.ImageIndex,
		Description: description,
	}
	if err := s.repo.CreateRun(run, bundle); err != nil {
		return nil, err
	}

	s.log.Info().
		Str("run_id", run.ID).
		Str("bundle_hash", run.BundleHash).
		Str("backend", cfg.Backend).
		Str("pathway_id", cfg.PathwayID).
		Msg("Run submitted")
	return run, nil
}

// GetRun returns one run by id.
func (s *Service) GetRun(id string) (*domain.Run, error) {
	return s.repo.GetRun(id)
}

// ListRuns returns the newest runs first.
func (s *Service) ListRuns(limit int) ([]domain.Run, error) {
	return s.repo.ListRuns(limit)
}

// ListRunsByStatus returns runs in one lifecycle state, oldest first.
func (s *Service) ListRunsByStatus(status domain.RunStatus) ([]domain.Run, error) {
	return s.repo.ListRunsByStatus(status)
}

// CountRunsByStatus returns the run count per lifecycle state.
func (s *Service) CountRunsByStatus() (map[domain.RunStatus]int, error) {
	return s.repo.CountRunsByStatus()
}

// LoadActiveSpace decodes the active-space problem a run was submitted with.
func (s *Service) LoadActiveSpace(runID string) (*hamiltonian.ActiveSpace, error) {
	bundle, err := s.repo.GetBundle(runID)
	if err != nil {
		return nil, err
	}
	active, err := hamiltonian.DecodeBundle(bundle)
	if err != nil {
		return nil, fmt.Errorf("stored bundle for run %s is corrupt: %w", runID, err)
	}
	return active, nil
}

// MarkStarted flips a run to running.
func (s *Service) MarkStarted(runID string) error {
	return s.repo.MarkRunStarted(runID)
}

// RecordIteration appends a trace entry and advances the run's progress.
func (s *Service) RecordIteration(runID string, rec domain.IterationRecord) error {
	if err := s.repo.InsertIteration(runID, rec); err != nil {
		return err
	}
	return s.repo.UpdateRunProgress(runID, rec.Iteration)
}

// CompleteRun persists a terminal result, closes the run row and exports the
// JSON artifact. Export failure degrades to a warning; the database row is
// the source of truth.
func (s *Service) CompleteRun(res *domain.RunResult) error {
	if err := s.repo.SaveResult(res); err != nil {
		return err
	}
	if err := s.repo.MarkRunFinished(res.RunID, res.Status, ""); err != nil {
		return err
	}

	if s.artifactDir != "" {
		path, err := s.ExportArtifact(res.RunID)
		if err != nil {
			s.log.Warn().Err(err).Str("run_id", res.RunID).Msg("Artifact export failed")
		} else {
			s.log.Info().Str("run_id", res.RunID).Str("path", path).Msg("Artifact exported")
		}
	}

	s.log.Info().
		Str("run_id", res.RunID).
		Str("status", string(res.Status)).
		Float64("energy", res.Energy).
		Int("iterations", res.Iterations).
		Msg("Run completed")
	return nil
}

// FailRun closes a run with its fatal error. Failed runs carry no result row.
func (s *Service) FailRun(runID string, runErr error) error {
	msg := ""
	if runErr != nil {
		msg = runErr.Error()
	}
	if err := s.repo.MarkRunFinished(runID, domain.RunStatusFailed, msg); err != nil {
		return err
	}
	s.log.Error().Str("run_id", runID).Str("error", msg).Msg("Run failed")
	return nil
}

// GetResult returns a run's final artifact with its trace.
func (s *Service) GetResult(runID string) (*domain.RunResult, error) {
	return s.repo.GetResult(runID)
}

// GetTrace returns a run's convergence trace.
func (s *Service) GetTrace(runID string) ([]domain.IterationRecord, error) {
	return s.repo.GetTrace(runID)
}

// ExportArtifact writes a run's result as a JSON file under the artifact
// directory and returns the path.
func (s *Service) ExportArtifact(runID string) (string, error) {
	if s.artifactDir == "" {
		return "", fmt.Errorf("artifact export is disabled")
	}
	res, err := s.repo.GetResult(runID)
	if err != nil {
		return "", err
	}
	path := filepath.Join(s.artifactDir, runID+".json")
	if err := utils.SaveJSON(path, res); err != nil {
		return "", err
	}
	return path, nil
}

// PathwayProfile returns the energy profile of one reaction pathway.
func (s *Service) PathwayProfile(pathwayID string) ([]domain.PathwayPoint, error) {
	if pathwayID == "" {
		return nil, fmt.Errorf("pathway id is required")
	}
	return s.repo.PathwayProfile(pathwayID)
}

// validateRunConfig rejects configs that name unknown schemes or carry
// out-of-range numbers. Zero values are legal and resolve to server defaults
// when the run starts.
func validateRunConfig(cfg domain.RunConfig) error {
	switch cfg.Mapping {
	case "", domain.MappingJordanWigner, domain.MappingParity:
	default:
		return fmt.Errorf("unknown mapping scheme %q", cfg.Mapping)
	}
	switch cfg.Optimizer {
	case "", domain.OptimizerNelderMead, domain.OptimizerBFGS:
	default:
		return fmt.Errorf("unknown optimizer %q", cfg.Optimizer)
	}
	if cfg.Shots < 0 {
		return fmt.Errorf("shots must not be negative, got %d", cfg.Shots)
	}
	if cfg.MaxIterations < 0 {
		return fmt.Errorf("max iterations must not be negative, got %d", cfg.MaxIterations)
	}
	for _, scale := range cfg.NoiseScales {
		if scale < 1 {
			return fmt.Errorf("noise scales must be >= 1, got %g", scale)
		}
	}
	if cfg.ImageIndex < 0 {
		return fmt.Errorf("image index must not be negative, got %d", cfg.ImageIndex)
	}
	if cfg.PathwayID == "" && cfg.ImageIndex != 0 {
		return fmt.Errorf("image index requires a pathway id")
	}
	return nil
}
