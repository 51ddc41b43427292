package mitigation

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qerplab/qerp/internal/domain"
)

func expectationRecord(scale, value, variance float64) *domain.MeasurementRecord {
	rec := domain.NewRawRecord("f0e1d2c3", "simulator", 0, 42, scale)
	rec.Expectation = &domain.Expectation{Value: value, Variance: variance, Shots: 4096}
	return rec
}

func TestZNELinearExtrapolation(t *testing.T) {
	exact := -1.1373
	bias := 0.05
	variance := 1e-4

	rec := expectationRecord(1, exact+bias, variance)
	rec.ScalePoints = []domain.ScalePoint{{Scale: 2, Value: exact + 2*bias, Variance: variance}}

	stage := NewZNEStage(2, zerolog.Nop())
	out, err := stage.Apply(rec)
	require.NoError(t, err)

	require.NotNil(t, out.Expectation)
	assert.InDelta(t, exact, out.Expectation.Value, 1e-10)

	// Richardson weights for scales (1, 2) are (2, -1), so the variance
	// grows by 4 + 1.
	assert.InDelta(t, 5*variance, out.Expectation.Variance, 1e-12)
	assert.True(t, out.HasStatus(domain.StatusZNEExtrapolated))
	assert.Empty(t, out.Flags)
}

func TestZNEQuadraticExtrapolation(t *testing.T) {
	exact := -0.75
	b, c := 0.04, 0.01
	variance := 2e-5
	at := func(s float64) float64 { return exact + b*s + c*s*s }

	rec := expectationRecord(1, at(1), variance)
	rec.ScalePoints = []domain.ScalePoint{
		{Scale: 3, Value: at(3), Variance: variance},
		{Scale: 2, Value: at(2), Variance: variance},
	}

	stage := NewZNEStage(2, zerolog.Nop())
	out, err := stage.Apply(rec)
	require.NoError(t, err)

	assert.InDelta(t, exact, out.Expectation.Value, 1e-10)

	// Interpolation weights at scales (1, 2, 3) are (3, -3, 1).
	assert.InDelta(t, 19*variance, out.Expectation.Variance, 1e-12)

	// Scale points come back sorted by scale.
	require.Len(t, out.ScalePoints, 3)
	assert.InDelta(t, 1.0, out.ScalePoints[0].Scale, 0)
	assert.InDelta(t, 2.0, out.ScalePoints[1].Scale, 0)
	assert.InDelta(t, 3.0, out.ScalePoints[2].Scale, 0)
}

func TestZNEDegreeCappedByConfig(t *testing.T) {
	exact := -1.0
	bias := 0.02
	variance := 1e-4

	rec := expectationRecord(1, exact+bias, variance)
	rec.ScalePoints = []domain.ScalePoint{
		{Scale: 2, Value: exact + 2*bias, Variance: variance},
		{Scale: 3, Value: exact + 3*bias, Variance: variance},
	}

	stage := NewZNEStage(1, zerolog.Nop())
	out, err := stage.Apply(rec)
	require.NoError(t, err)

	// A linear fit through three linear points still hits the intercept,
	// with gentler variance amplification than full interpolation:
	// weights (4/3, 1/3, -2/3) give a factor of 21/9.
	assert.InDelta(t, exact, out.Expectation.Value, 1e-10)
	assert.InDelta(t, 21.0/9.0*variance, out.Expectation.Variance, 1e-12)
}

func TestZNEInsufficientScales(t *testing.T) {
	t.Run("single scale", func(t *testing.T) {
		rec := expectationRecord(1, -1.12, 1e-4)

		stage := NewZNEStage(2, zerolog.Nop())
		out, err := stage.Apply(rec)
		require.NoError(t, err)

		assert.True(t, out.HasFlag(domain.FlagInsufficientScalePoints))
		assert.True(t, out.HasStatus(domain.StatusZNEExtrapolated))
		assert.InDelta(t, -1.12, out.Expectation.Value, 0)
	})

	t.Run("duplicate scales", func(t *testing.T) {
		rec := expectationRecord(1, -1.12, 1e-4)
		rec.ScalePoints = []domain.ScalePoint{{Scale: 1, Value: -1.11, Variance: 1e-4}}

		stage := NewZNEStage(2, zerolog.Nop())
		out, err := stage.Apply(rec)
		require.NoError(t, err)

		assert.True(t, out.HasFlag(domain.FlagInsufficientScalePoints))
		assert.InDelta(t, -1.12, out.Expectation.Value, 0)
	})
}

func TestZNEIdempotent(t *testing.T) {
	rec := expectationRecord(1, -1.0, 1e-4)
	rec.ScalePoints = []domain.ScalePoint{{Scale: 2, Value: -0.9, Variance: 1e-4}}

	stage := NewZNEStage(2, zerolog.Nop())
	first, err := stage.Apply(rec)
	require.NoError(t, err)
	second, err := stage.Apply(first)
	require.NoError(t, err)

	assert.Same(t, first, second)
}

func TestZNEHistogramOnlyPassesThrough(t *testing.T) {
	stage := NewZNEStage(2, zerolog.Nop())

	rec := histogramRecord(map[string]int{"01": 1000})
	out, err := stage.Apply(rec)
	require.NoError(t, err)
	assert.Same(t, rec, out)
}

func TestZNERejectsScalePointsWithoutBase(t *testing.T) {
	stage := NewZNEStage(2, zerolog.Nop())

	rec := histogramRecord(map[string]int{"01": 1000})
	rec.ScalePoints = []domain.ScalePoint{{Scale: 2, Value: -0.9, Variance: 1e-4}}

	_, err := stage.Apply(rec)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no base expectation")
}
