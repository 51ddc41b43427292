package adapt

import (
	"context"
	"math"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qerplab/qerp/internal/domain"
	"github.com/qerplab/qerp/internal/quantum"
	testingpkg "github.com/qerplab/qerp/internal/testing"
)

const h2OptimalTheta = -0.11176849694310098

func newH2Grower(t *testing.T, s Settings) *Grower {
	t.Helper()
	h, info, p := h2Problem(t)
	eval := ExecutorEvaluator{Executor: testingpkg.NewMockExecutor()}
	return NewGrower(p, h, info, eval, s, zerolog.Nop())
}

func TestGrowerSelectsDoubleExcitation(t *testing.T) {
	g := newH2Grower(t, Settings{})
	assert.Equal(t, PhaseIdle, g.Phase())
	assert.True(t, math.IsInf(g.Best(), 1))

	step, err := g.Grow(context.Background())
	require.NoError(t, err)
	require.NotNil(t, step)

	assert.Equal(t, "double 0,2->1,3", step.Operator.Label)
	assert.InDelta(t, h2DoubleGradient, step.Score, 1e-9)
	assert.InDelta(t, testingpkg.H2ExactGroundEnergy, step.Energy, 1e-6)
	require.Len(t, step.Parameters, 1)
	assert.InDelta(t, h2OptimalTheta, step.Parameters[0], 1e-3)

	assert.Equal(t, PhaseEvaluating, g.Phase())
	assert.Equal(t, 1, g.Ansatz().Size())
	assert.Equal(t, 0, g.Iteration())
}

func TestGrowerBFGSReachesGroundState(t *testing.T) {
	g := newH2Grower(t, Settings{Optimizer: domain.OptimizerBFGS})

	step, err := g.Grow(context.Background())
	require.NoError(t, err)
	require.NotNil(t, step)

	assert.InDelta(t, testingpkg.H2ExactGroundEnergy, step.Energy, 1e-6)
	require.Len(t, step.Parameters, 1)
	assert.InDelta(t, h2OptimalTheta, step.Parameters[0], 1e-4)
	assert.Equal(t, PhaseEvaluating, g.Phase())
}

func TestGrowerGradientConvergenceAfterOptimum(t *testing.T) {
	g := newH2Grower(t, Settings{})

	step, err := g.Grow(context.Background())
	require.NoError(t, err)
	require.NotNil(t, step)
	assert.Equal(t, PhaseSelecting, g.Evaluate(step.Energy))

	// The optimized state is the ground state to optimizer precision, so
	// every commutator expectation collapses below the gradient floor.
	step, err = g.Grow(context.Background())
	require.NoError(t, err)
	assert.Nil(t, step)
	assert.Equal(t, PhaseConverged, g.Phase())
	assert.Equal(t, 1, g.Ansatz().Size())
}

func TestGrowerRepeatCapRetiresOperator(t *testing.T) {
	g := newH2Grower(t, Settings{OperatorRepeatCap: 1, GradientFloor: 1e-15})

	step, err := g.Grow(context.Background())
	require.NoError(t, err)
	require.NotNil(t, step)
	assert.Equal(t, 2, step.Operator.Index)
	g.Evaluate(step.Energy)

	// With the floor effectively zero only the cap can retire the double
	// excitation; the singles stay exactly gradient-free on its span.
	step, err = g.Grow(context.Background())
	require.NoError(t, err)
	assert.Nil(t, step)
	assert.Equal(t, PhaseConverged, g.Phase())
	assert.Equal(t, 1, g.Ansatz().Count(2))
}

func TestGrowerEvaluateStallConvergence(t *testing.T) {
	g := newH2Grower(t, Settings{StallIterations: 2, MaxIterations: 30})

	assert.Equal(t, PhaseSelecting, g.Evaluate(-1.0))
	assert.Equal(t, -1.0, g.Best())

	// Worse energies never displace the best and count toward the stall.
	assert.Equal(t, PhaseSelecting, g.Evaluate(-0.5))
	assert.Equal(t, -1.0, g.Best())
	assert.Equal(t, PhaseConverged, g.Evaluate(-0.5))
	assert.Equal(t, 3, g.Iteration())
}

func TestGrowerEvaluateMaxIterations(t *testing.T) {
	g := newH2Grower(t, Settings{MaxIterations: 3, StallIterations: 5})

	assert.Equal(t, PhaseSelecting, g.Evaluate(-1.0))
	assert.Equal(t, PhaseSelecting, g.Evaluate(-1.1))
	assert.Equal(t, PhaseMaxIterReached, g.Evaluate(-1.2))
	assert.Equal(t, -1.2, g.Best())
}

func TestGrowerTerminalPhaseRejectsGrow(t *testing.T) {
	g := newH2Grower(t, Settings{MaxIterations: 1})

	phase := g.Evaluate(-1.0)
	require.Equal(t, PhaseMaxIterReached, phase)
	assert.True(t, phase.Terminal())

	_, err := g.Grow(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "terminal phase")
}

func TestGrowerDegeneratePoolFails(t *testing.T) {
	_, info, p := h2Problem(t)
	eval := ExecutorEvaluator{Executor: testingpkg.NewMockExecutor()}
	ident := quantum.Identity(info.NumQubits, complex(1, 0))
	g := NewGrower(p, ident, info, eval, Settings{}, zerolog.Nop())

	step, err := g.Grow(context.Background())
	require.Error(t, err)
	assert.Nil(t, step)
	assert.Contains(t, err.Error(), "degenerate pool")
	assert.Equal(t, PhaseFailed, g.Phase())
}

func TestGrowerPropagatesScoringError(t *testing.T) {
	h, info, p := h2Problem(t)
	mock := testingpkg.NewMockExecutor()
	mock.SetError(assert.AnError)
	g := NewGrower(p, h, info, ExecutorEvaluator{Executor: mock}, Settings{}, zerolog.Nop())

	_, err := g.Grow(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, assert.AnError)
	assert.Equal(t, PhaseFailed, g.Phase())
}

func TestParameterShiftGradMatchesAnalyticDerivative(t *testing.T) {
	f := func(x []float64) float64 {
		return 0.3 - 0.8*math.Cos(2*x[0]) + 0.36*math.Sin(2*x[0]) + 0.1*math.Sin(x[0]) - 0.05*math.Cos(x[0])
	}
	df := func(v float64) float64 {
		return 1.6*math.Sin(2*v) + 0.72*math.Cos(2*v) + 0.1*math.Cos(v) + 0.05*math.Sin(v)
	}

	grad := make([]float64, 1)
	for _, v := range []float64{0, 0.37, -1.1} {
		parameterShiftGrad(f, grad, []float64{v})
		assert.InDelta(t, df(v), grad[0], 1e-12)
	}
}

func TestParameterShiftGradPerCoordinate(t *testing.T) {
	f := func(x []float64) float64 {
		return math.Cos(2*x[0])*(1+0.2*math.Sin(x[1])) - 0.4*math.Sin(2*x[1])
	}
	at := []float64{0.3, -0.7}
	wantX := -2 * math.Sin(2*at[0]) * (1 + 0.2*math.Sin(at[1]))
	wantY := 0.2*math.Cos(2*at[0])*math.Cos(at[1]) - 0.8*math.Cos(2*at[1])

	grad := make([]float64, 2)
	parameterShiftGrad(f, grad, at)
	assert.InDelta(t, wantX, grad[0], 1e-12)
	assert.InDelta(t, wantY, grad[1], 1e-12)
}
