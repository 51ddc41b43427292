package mitigation

import (
	"fmt"
	"math"

	"github.com/rs/zerolog"

	"github.com/qerplab/qerp/internal/domain"
	"github.com/qerplab/qerp/internal/modules/calibration"
)

// CalibrationSource yields the stored calibration snapshot of a backend.
// *calibration.Service satisfies it.
type CalibrationSource interface {
	Snapshot(backend string) (*calibration.BackendCalibration, error)
}

// ReadoutStage unfolds readout assignment errors from shot histograms by
// applying the inverse of each calibrated qubit's confusion matrix, one
// tensor factor at a time. Qubits without stored calibration pass through
// uncorrected. When the combined condition number of the calibrated factors
// exceeds the ceiling the stage keeps the raw histogram and flags the record
// instead of amplifying noise.
type ReadoutStage struct {
	source  CalibrationSource
	ceiling float64
	log     zerolog.Logger
}

// NewReadoutStage creates the readout-correction stage.
func NewReadoutStage(source CalibrationSource, ceiling float64, log zerolog.Logger) *ReadoutStage {
	return &ReadoutStage{source: source, ceiling: ceiling, log: log}
}

// Name implements Stage.
func (s *ReadoutStage) Name() string { return "readout" }

// Apply implements Stage. Expectation-only records pass through untouched.
func (s *ReadoutStage) Apply(rec *domain.MeasurementRecord) (*domain.MeasurementRecord, error) {
	if rec.HasStatus(domain.StatusReadoutCorrected) {
		return rec, nil
	}
	if rec.Counts == nil {
		return rec, nil
	}

	snap, err := s.source.Snapshot(rec.Backend)
	if err != nil {
		return nil, fmt.Errorf("loading calibration for %s: %w", rec.Backend, err)
	}

	width, err := histogramWidth(rec.Counts)
	if err != nil {
		return nil, err
	}

	type factor struct {
		qubit int
		inv   [2][2]float64
	}
	factors := make([]factor, 0, width)
	condition := 1.0
	for j := 0; j < width; j++ {
		m, ok := snap.MatrixFor(j)
		if !ok {
			continue
		}
		condition *= m.ConditionNumber()
		inv, invErr := m.Inverse()
		if invErr != nil {
			condition = math.Inf(1)
			break
		}
		factors = append(factors, factor{qubit: j, inv: inv})
	}

	out := rec.Clone()
	if condition > s.ceiling || math.IsInf(condition, 1) {
		out.Weights = rec.Distribution()
		out.AddFlag(domain.FlagIllConditionedCalibration)
		out.AddStatus(domain.StatusReadoutCorrected)
		s.log.Warn().
			Str("backend", rec.Backend).
			Float64("condition", condition).
			Float64("ceiling", s.ceiling).
			Msg("Calibration too ill-conditioned for readout correction")
		return out, nil
	}

	weights := rec.Distribution()
	for _, f := range factors {
		weights = applyInverse(weights, f.qubit, f.inv)
	}

	// Unfolding can produce small negative quasi-probabilities. Clip and
	// renormalize to recover a distribution.
	sum := 0.0
	for _, w := range weights {
		if w > 0 {
			sum += w
		}
	}
	if sum <= 0 {
		out.Weights = rec.Distribution()
		out.AddFlag(domain.FlagIllConditionedCalibration)
		out.AddStatus(domain.StatusReadoutCorrected)
		s.log.Warn().
			Str("backend", rec.Backend).
			Msg("Readout unfolding wiped the histogram, keeping raw counts")
		return out, nil
	}
	normalized := make(map[string]float64, len(weights))
	for k, w := range weights {
		if w > 0 {
			normalized[k] = w / sum
		}
	}

	out.Weights = normalized
	out.AddStatus(domain.StatusReadoutCorrected)
	s.log.Debug().
		Str("backend", rec.Backend).
		Int("calibrated_qubits", len(factors)).
		Float64("condition", condition).
		Msg("Readout correction applied")
	return out, nil
}

// applyInverse applies a single qubit's inverse confusion matrix across the
// histogram. Bitstring pairs differing only at the given qubit mix into each
// other; the partner of an observed string enters the support when it picks
// up weight.
func applyInverse(weights map[string]float64, qubit int, inv [2][2]float64) map[string]float64 {
	out := make(map[string]float64, len(weights))
	done := make(map[string]bool, len(weights))
	for k := range weights {
		zero := withBit(k, qubit, '0')
		if done[zero] {
			continue
		}
		done[zero] = true
		one := withBit(k, qubit, '1')

		p0 := weights[zero]
		p1 := weights[one]
		q0 := inv[0][0]*p0 + inv[0][1]*p1
		q1 := inv[1][0]*p0 + inv[1][1]*p1
		if q0 != 0 {
			out[zero] = q0
		}
		if q1 != 0 {
			out[one] = q1
		}
	}
	return out
}

func withBit(s string, j int, b byte) string {
	if s[j] == b {
		return s
	}
	buf := []byte(s)
	buf[j] = b
	return string(buf)
}

func histogramWidth(counts map[string]int) (int, error) {
	width := -1
	for k := range counts {
		if width == -1 {
			width = len(k)
			continue
		}
		if len(k) != width {
			return 0, fmt.Errorf("histogram mixes bitstring widths %d and %d", width, len(k))
		}
	}
	if width <= 0 {
		return 0, fmt.Errorf("histogram has no bitstrings")
	}
	return width, nil
}
