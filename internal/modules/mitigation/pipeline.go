// Package mitigation implements the error-mitigation pipeline between raw
// backend output and the solver: readout unfolding, zero-noise extrapolation
// and symmetry post-selection. Each stage is independently enabled by
// configuration and idempotent, so records can be re-processed safely.
package mitigation

import (
	"fmt"

	"github.com/rs/zerolog"

	"github.com/qerplab/qerp/internal/config"
	"github.com/qerplab/qerp/internal/domain"
	"github.com/qerplab/qerp/internal/modules/hamiltonian"
)

// Stage is one mitigation step. Apply never mutates its input: it returns
// either the input untouched (nothing to do, already applied) or a processed
// copy. Degradations surface as quality flags on the record, not errors;
// errors are reserved for malformed records and infrastructure failures.
type Stage interface {
	Name() string
	Apply(rec *domain.MeasurementRecord) (*domain.MeasurementRecord, error)
}

// Pipeline runs measurement records through the configured stages in fixed
// order: readout correction, zero-noise extrapolation, symmetry filtering.
type Pipeline struct {
	stages []Stage
	log    zerolog.Logger
}

// NewPipeline assembles the stage list for one run. The calibration source
// serves confusion matrices per backend; the register interprets measured
// bitstrings for the symmetry filter.
func NewPipeline(cfg *config.MitigationConfig, source CalibrationSource, register *hamiltonian.RegisterInfo, log zerolog.Logger) *Pipeline {
	l := log.With().Str("component", "mitigation").Logger()
	p := &Pipeline{log: l}
	if cfg.ReadoutEnabled {
		p.stages = append(p.stages, NewReadoutStage(source, cfg.ConditionCeiling, l))
	}
	if cfg.ZNEEnabled {
		p.stages = append(p.stages, NewZNEStage(cfg.ZNEMaxDegree, l))
	}
	if cfg.SymmetryEnabled {
		p.stages = append(p.stages, NewSymmetryStage(register, source, cfg.SymmetryMode, cfg.SymmetryYieldMin, l))
	}
	return p
}

// StageNames returns the active stage names in application order.
func (p *Pipeline) StageNames() []string {
	names := make([]string, len(p.stages))
	for i, s := range p.stages {
		names[i] = s.Name()
	}
	return names
}

// Process runs a single record through every active stage in order.
func (p *Pipeline) Process(rec *domain.MeasurementRecord) (*domain.MeasurementRecord, error) {
	out := rec
	for _, s := range p.stages {
		next, err := s.Apply(out)
		if err != nil {
			return nil, fmt.Errorf("mitigation stage %s: %w", s.Name(), err)
		}
		out = next
	}
	return out, nil
}

// Extrapolate fuses records of the same observable taken at different noise
// scales into a single record and processes it. The least-noisy record is
// the carrier; the others contribute their expectations as scale points for
// the extrapolation stage. A single-record group degrades to plain Process.
func (p *Pipeline) Extrapolate(records []*domain.MeasurementRecord) (*domain.MeasurementRecord, error) {
	if len(records) == 0 {
		return nil, fmt.Errorf("no measurement records to mitigate")
	}

	base := records[0]
	for _, r := range records[1:] {
		if r.NoiseScale < base.NoiseScale {
			base = r
		}
	}

	out := base.Clone()
	for _, r := range records {
		if r == base {
			continue
		}
		if r.Expectation == nil {
			return nil, fmt.Errorf("record at noise scale %v carries no expectation", r.NoiseScale)
		}
		out.ScalePoints = append(out.ScalePoints, domain.ScalePoint{
			Scale:    r.NoiseScale,
			Value:    r.Expectation.Value,
			Variance: r.Expectation.Variance,
		})
	}

	return p.Process(out)
}
