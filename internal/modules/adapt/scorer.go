package adapt

import (
	"context"
	"runtime"
	"sync"

	"github.com/rs/zerolog"

	"github.com/qerplab/qerp/internal/domain"
	"github.com/qerplab/qerp/internal/modules/pool"
	"github.com/qerplab/qerp/internal/quantum"
)

// ObservableEvaluator estimates the expectation value of an observable on
// the state a circuit prepares. The solver implements it by fanning the
// execution over noise scales and extrapolating; tests and plain deployments
// can adapt a bare executor with ExecutorEvaluator.
type ObservableEvaluator interface {
	EvaluateObservable(ctx context.Context, c quantum.Circuit, obs quantum.Operator) (domain.Expectation, error)
}

// ExecutorEvaluator adapts a bare executor to the evaluator contract at its
// native noise scale.
type ExecutorEvaluator struct {
	Executor domain.Executor
}

// EvaluateObservable delegates to the executor.
func (e ExecutorEvaluator) EvaluateObservable(ctx context.Context, c quantum.Circuit, obs quantum.Operator) (domain.Expectation, error) {
	return e.Executor.Expectation(ctx, c, obs)
}

// Score is one pool operator's selection score: the signed expectation of
// i[G, H] on the current ansatz state. Its magnitude is the energy-gradient
// of appending the operator at zero angle.
type Score struct {
	Index int
	Label string
	Value float64
}

// Scorer evaluates selection scores for pool candidates in parallel.
type Scorer struct {
	workers int
	log     zerolog.Logger
}

// NewScorer creates a scorer with the given parallel width; zero or negative
// means one worker per CPU.
func NewScorer(workers int, log zerolog.Logger) *Scorer {
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	return &Scorer{
		workers: workers,
		log:     log.With().Str("component", "adapt_scorer").Logger(),
	}
}

type scoreJob struct {
	index int
	op    pool.PoolOperator
}

type scoreResult struct {
	index int
	value float64
	err   error
}

// ScoreAll scores every pool operator not excluded by skip, in parallel, and
// returns the board ordered by pool index. Any evaluation error aborts the
// board; the lowest-index error is returned for determinism.
func (s *Scorer) ScoreAll(ctx context.Context, eval ObservableEvaluator, c quantum.Circuit, h quantum.Operator, p *pool.Pool, skip func(index int) bool) ([]Score, error) {
	candidates := make([]pool.PoolOperator, 0, p.Size())
	for _, op := range p.Operators {
		if skip != nil && skip(op.Index) {
			continue
		}
		candidates = append(candidates, op)
	}
	if len(candidates) == 0 {
		return nil, nil
	}

	jobs := make(chan scoreJob, len(candidates))
	results := make(chan scoreResult, len(candidates))

	workers := s.workers
	if len(candidates) < workers {
		workers = len(candidates)
	}

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for job := range jobs {
				obs := quantum.Commutator(job.op.Generator, h).Scale(complex(0, 1))
				est, err := eval.EvaluateObservable(ctx, c, obs)
				results <- scoreResult{index: job.index, value: est.Value, err: err}
			}
		}()
	}

	for i, op := range candidates {
		jobs <- scoreJob{index: i, op: op}
	}
	close(jobs)

	go func() {
		wg.Wait()
		close(results)
	}()

	values := make([]float64, len(candidates))
	errs := make([]error, len(candidates))
	for r := range results {
		values[r.index] = r.value
		errs[r.index] = r.err
	}
	for _, err := range errs {
		if err != nil {
			return nil, err
		}
	}

	board := make([]Score, len(candidates))
	for i, op := range candidates {
		board[i] = Score{Index: op.Index, Label: op.Label, Value: values[i]}
	}
	s.log.Debug().
		Int("candidates", len(board)).
		Int("workers", workers).
		Msg("Pool scored")
	return board, nil
}
