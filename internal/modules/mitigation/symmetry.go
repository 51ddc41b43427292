package mitigation

import (
	"fmt"

	"github.com/rs/zerolog"

	"github.com/qerplab/qerp/internal/domain"
	"github.com/qerplab/qerp/internal/modules/calibration"
	"github.com/qerplab/qerp/internal/modules/hamiltonian"
	"github.com/qerplab/qerp/internal/quantum"
)

// Symmetry filter modes. Drop removes violating bitstrings and keeps the
// surviving absolute shot mass, so the weight sum reflects the yield.
// Reweight additionally renormalizes the survivors to a unit distribution,
// the standard post-selection estimator.
const (
	ModeDrop     = "drop"
	ModeReweight = "reweight"
)

// SymmetryStage removes bitstrings whose decoded electron counts violate the
// particle-number sector. A sector declared in the backend's calibration
// takes precedence over the register's own (Nα, Nβ); the register still
// decodes the bitstrings either way. Tapered registers are handled by the
// register's decoding, which reinflated removed positions from the sector
// eigenvalues.
type SymmetryStage struct {
	register *hamiltonian.RegisterInfo
	source   CalibrationSource
	mode     string
	minYield float64
	log      zerolog.Logger
}

// NewSymmetryStage creates the symmetry-projection stage.
func NewSymmetryStage(register *hamiltonian.RegisterInfo, source CalibrationSource, mode string, minYield float64, log zerolog.Logger) *SymmetryStage {
	return &SymmetryStage{register: register, source: source, mode: mode, minYield: minYield, log: log}
}

// declaredSector returns the backend's calibration-declared sector, or nil
// when the backend has none and the register's own sector applies.
func (s *SymmetryStage) declaredSector(backend string) (*calibration.SymmetrySector, error) {
	if s.source == nil {
		return nil, nil
	}
	snap, err := s.source.Snapshot(backend)
	if err != nil {
		return nil, fmt.Errorf("loading calibration for %s: %w", backend, err)
	}
	return snap.Sector, nil
}

// Name implements Stage.
func (s *SymmetryStage) Name() string { return "symmetry" }

// Apply implements Stage. Expectation-only records pass through untouched.
func (s *SymmetryStage) Apply(rec *domain.MeasurementRecord) (*domain.MeasurementRecord, error) {
	if rec.HasStatus(domain.StatusSymmetryFiltered) {
		return rec, nil
	}
	dist := rec.Distribution()
	if dist == nil {
		return rec, nil
	}

	declared, err := s.declaredSector(rec.Backend)
	if err != nil {
		return nil, err
	}
	wantAlpha, wantBeta := s.register.AlphaElectrons, s.register.BetaElectrons
	if declared != nil {
		wantAlpha, wantBeta = declared.AlphaElectrons, declared.BetaElectrons
	}

	total := 0.0
	retained := 0.0
	kept := make(map[string]float64, len(dist))
	for k, w := range dist {
		if len(k) != s.register.NumQubits {
			return nil, fmt.Errorf("bitstring %q does not match the %d-qubit register", k, s.register.NumQubits)
		}
		bits, err := quantum.ParseBitstring(k)
		if err != nil {
			return nil, err
		}
		total += w

		in := false
		if declared == nil {
			in = s.register.InSector(bits)
		} else {
			alpha, beta, cntErr := s.register.ElectronCounts(bits)
			if cntErr != nil {
				return nil, cntErr
			}
			in = alpha == wantAlpha && beta == wantBeta
		}
		if in {
			kept[k] = w
			retained += w
		}
	}

	yield := 0.0
	if total > 0 {
		yield = retained / total
	}
	if s.mode == ModeReweight && retained > 0 {
		for k := range kept {
			kept[k] /= retained
		}
	}

	out := rec.Clone()
	out.Weights = kept
	out.AddStatus(domain.StatusSymmetryFiltered)
	if yield < s.minYield {
		out.AddFlag(domain.FlagLowSymmetryYield)
		s.log.Warn().
			Float64("yield", yield).
			Float64("minimum", s.minYield).
			Int("alpha", wantAlpha).
			Int("beta", wantBeta).
			Msg("Symmetry filter retained too little shot mass")
	} else {
		s.log.Debug().
			Float64("yield", yield).
			Int("kept", len(kept)).
			Msg("Symmetry filter applied")
	}
	return out, nil
}
