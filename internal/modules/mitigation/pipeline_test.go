package mitigation

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qerplab/qerp/internal/config"
	"github.com/qerplab/qerp/internal/domain"
	"github.com/qerplab/qerp/internal/modules/calibration"
	testingpkg "github.com/qerplab/qerp/internal/testing"
)

func pipelineConfig() *config.MitigationConfig {
	return &config.MitigationConfig{
		ReadoutEnabled:   true,
		ZNEEnabled:       true,
		SymmetryEnabled:  true,
		ConditionCeiling: 1e6,
		ZNEMaxDegree:     2,
		SymmetryMode:     ModeDrop,
		SymmetryYieldMin: 0.05,
	}
}

func TestPipelineAssembly(t *testing.T) {
	register := parityRegister(t, true)

	full := NewPipeline(pipelineConfig(), &stubSource{}, register, zerolog.Nop())
	assert.Equal(t, []string{"readout", "zne", "symmetry"}, full.StageNames())

	cfg := pipelineConfig()
	cfg.ZNEEnabled = false
	partial := NewPipeline(cfg, &stubSource{}, register, zerolog.Nop())
	assert.Equal(t, []string{"readout", "symmetry"}, partial.StageNames())

	cfg = pipelineConfig()
	cfg.ReadoutEnabled = false
	cfg.ZNEEnabled = false
	cfg.SymmetryEnabled = false
	empty := NewPipeline(cfg, &stubSource{}, register, zerolog.Nop())
	assert.Empty(t, empty.StageNames())
}

func TestPipelineDisabledPassesRecordsThrough(t *testing.T) {
	cfg := pipelineConfig()
	cfg.ReadoutEnabled = false
	cfg.ZNEEnabled = false
	cfg.SymmetryEnabled = false
	p := NewPipeline(cfg, &stubSource{}, parityRegister(t, true), zerolog.Nop())

	rec := testingpkg.NewMeasurementRecordFixture()
	out, err := p.Process(rec)
	require.NoError(t, err)
	assert.Same(t, rec, out)
}

func TestPipelineExtrapolateFusesScales(t *testing.T) {
	register := parityRegister(t, true)
	source := &stubSource{snap: &calibration.BackendCalibration{
		Backend: "simulator",
		Matrices: []calibration.ConfusionMatrix{
			{Qubit: 0, P0Given0: 0.99, P1Given1: 0.99},
			{Qubit: 1, P0Given0: 0.99, P1Given1: 0.99},
		},
	}}
	p := NewPipeline(pipelineConfig(), source, register, zerolog.Nop())

	exact := -1.1373
	bias := 0.04
	variance := 1e-5

	base := testingpkg.NewMeasurementRecordFixture()
	base.Expectation = &domain.Expectation{Value: exact + bias, Variance: variance, Shots: 1000}

	scaled2 := expectationRecord(2, exact+2*bias, variance)
	scaled3 := expectationRecord(3, exact+3*bias, variance)

	out, err := p.Extrapolate([]*domain.MeasurementRecord{scaled3, base, scaled2})
	require.NoError(t, err)

	// The scale-1 record carries the histogram; the others only feed the
	// extrapolation.
	assert.True(t, out.HasStatus(domain.StatusReadoutCorrected))
	assert.True(t, out.HasStatus(domain.StatusZNEExtrapolated))
	assert.True(t, out.HasStatus(domain.StatusSymmetryFiltered))
	assert.InDelta(t, exact, out.Expectation.Value, 1e-9)
	assert.NotEmpty(t, out.Weights)
	assert.Empty(t, out.Flags)

	// Inputs stay raw.
	assert.Equal(t, []domain.MitigationStatus{domain.StatusRaw}, base.Statuses)
}

func TestPipelineExtrapolateSingleRecordFlagsInsufficientScales(t *testing.T) {
	p := NewPipeline(pipelineConfig(), &stubSource{}, parityRegister(t, true), zerolog.Nop())

	base := testingpkg.NewMeasurementRecordFixture()
	base.Expectation = &domain.Expectation{Value: -1.12, Variance: 1e-5, Shots: 1000}

	out, err := p.Extrapolate([]*domain.MeasurementRecord{base})
	require.NoError(t, err)

	assert.True(t, out.HasFlag(domain.FlagInsufficientScalePoints))
	assert.InDelta(t, -1.12, out.Expectation.Value, 0)
}

func TestPipelineExtrapolateRejectsRecordWithoutExpectation(t *testing.T) {
	p := NewPipeline(pipelineConfig(), &stubSource{}, parityRegister(t, true), zerolog.Nop())

	base := testingpkg.NewMeasurementRecordFixture()
	base.Expectation = &domain.Expectation{Value: -1.12, Variance: 1e-5, Shots: 1000}
	bare := domain.NewRawRecord("f0e1d2c3", "simulator", 0, 42, 2)

	_, err := p.Extrapolate([]*domain.MeasurementRecord{base, bare})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no expectation")
}

func TestPipelineExtrapolateEmptyGroup(t *testing.T) {
	p := NewPipeline(pipelineConfig(), &stubSource{}, parityRegister(t, true), zerolog.Nop())

	_, err := p.Extrapolate(nil)
	require.Error(t, err)
}

func TestPipelineProcessNamesFailingStage(t *testing.T) {
	p := NewPipeline(pipelineConfig(), &stubSource{}, parityRegister(t, true), zerolog.Nop())

	_, err := p.Process(histogramRecord(map[string]int{"0": 500, "10": 500}))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "readout")
}
