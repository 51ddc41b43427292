package adapt

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qerplab/qerp/internal/domain"
	"github.com/qerplab/qerp/internal/modules/hamiltonian"
	"github.com/qerplab/qerp/internal/modules/pool"
	"github.com/qerplab/qerp/internal/quantum"
	testingpkg "github.com/qerplab/qerp/internal/testing"
)

// h2DoubleGradient is twice the off-diagonal coupling between the reference
// and the doubly excited configuration of the tapered hydrogen Hamiltonian.
const h2DoubleGradient = 0.36186239956846312

func h2Problem(t *testing.T) (quantum.Operator, *hamiltonian.RegisterInfo, *pool.Pool) {
	t.Helper()
	builder := hamiltonian.NewBuilder(domain.MappingParity, true, zerolog.Nop())
	h, info, err := builder.Build(testingpkg.NewH2ActiveSpace())
	require.NoError(t, err)
	p, err := pool.BuildUCCSD(builder, info, zerolog.Nop())
	require.NoError(t, err)
	return h, info, p
}

func referenceCircuit(info *hamiltonian.RegisterInfo) quantum.Circuit {
	return quantum.Circuit{NumQubits: info.NumQubits, Prepare: info.HartreeFockState()}
}

func TestScorerReferenceGradients(t *testing.T) {
	h, info, p := h2Problem(t)
	eval := ExecutorEvaluator{Executor: testingpkg.NewMockExecutor()}
	scorer := NewScorer(2, zerolog.Nop())

	board, err := scorer.ScoreAll(context.Background(), eval, referenceCircuit(info), h, p, nil)
	require.NoError(t, err)
	require.Len(t, board, p.Size())

	// Single excitations carry no gradient at the mean-field reference.
	assert.Equal(t, 0, board[0].Index)
	assert.Equal(t, "single 0->1", board[0].Label)
	assert.InDelta(t, 0, board[0].Value, 1e-12)
	assert.Equal(t, 1, board[1].Index)
	assert.InDelta(t, 0, board[1].Value, 1e-12)

	assert.Equal(t, 2, board[2].Index)
	assert.Equal(t, "double 0,2->1,3", board[2].Label)
	assert.InDelta(t, h2DoubleGradient, math.Abs(board[2].Value), 1e-9)
}

func TestScorerSkipExcludesOperators(t *testing.T) {
	h, info, p := h2Problem(t)
	eval := ExecutorEvaluator{Executor: testingpkg.NewMockExecutor()}
	scorer := NewScorer(1, zerolog.Nop())

	skip := func(index int) bool { return index == 2 }
	board, err := scorer.ScoreAll(context.Background(), eval, referenceCircuit(info), h, p, skip)
	require.NoError(t, err)
	require.Len(t, board, 2)
	assert.Equal(t, 0, board[0].Index)
	assert.Equal(t, 1, board[1].Index)
}

func TestScorerAllSkippedYieldsEmptyBoard(t *testing.T) {
	h, info, p := h2Problem(t)
	eval := ExecutorEvaluator{Executor: testingpkg.NewMockExecutor()}
	scorer := NewScorer(1, zerolog.Nop())

	board, err := scorer.ScoreAll(context.Background(), eval, referenceCircuit(info), h, p,
		func(int) bool { return true })
	require.NoError(t, err)
	assert.Empty(t, board)
}

func TestScorerOrderingIndependentOfWorkers(t *testing.T) {
	h, info, p := h2Problem(t)
	eval := ExecutorEvaluator{Executor: testingpkg.NewMockExecutor()}

	serial, err := NewScorer(1, zerolog.Nop()).ScoreAll(context.Background(), eval, referenceCircuit(info), h, p, nil)
	require.NoError(t, err)
	parallel, err := NewScorer(4, zerolog.Nop()).ScoreAll(context.Background(), eval, referenceCircuit(info), h, p, nil)
	require.NoError(t, err)

	require.Len(t, parallel, len(serial))
	for i := range serial {
		assert.Equal(t, serial[i].Index, parallel[i].Index)
		assert.Equal(t, serial[i].Label, parallel[i].Label)
		assert.InDelta(t, serial[i].Value, parallel[i].Value, 1e-12)
	}
}

func TestScorerPropagatesExecutorError(t *testing.T) {
	h, info, p := h2Problem(t)
	mock := testingpkg.NewMockExecutor()
	mock.SetError(errors.New("backend down"))
	scorer := NewScorer(2, zerolog.Nop())

	_, err := scorer.ScoreAll(context.Background(), ExecutorEvaluator{Executor: mock}, referenceCircuit(info), h, p, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "backend down")
}
