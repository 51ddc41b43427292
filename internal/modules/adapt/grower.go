package adapt

import (
	"context"
	"fmt"
	"math"

	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/optimize"

	"github.com/qerplab/qerp/internal/domain"
	"github.com/qerplab/qerp/internal/modules/hamiltonian"
	"github.com/qerplab/qerp/internal/modules/pool"
	"github.com/qerplab/qerp/internal/quantum"
)

// Phase is the grower's position in its state machine.
type Phase string

const (
	PhaseIdle           Phase = "idle"
	PhaseSelecting      Phase = "selecting_operator"
	PhaseOptimizing     Phase = "optimizing"
	PhaseEvaluating     Phase = "evaluating"
	PhaseConverged      Phase = "converged"
	PhaseMaxIterReached Phase = "max_iterations"
	PhaseFailed         Phase = "failed"
)

// Terminal reports whether the phase ends the run.
func (p Phase) Terminal() bool {
	return p == PhaseConverged || p == PhaseMaxIterReached || p == PhaseFailed
}

// Settings bundles the grower's tunables. Zero values select the documented
// defaults, so a partially filled struct is safe.
type Settings struct {
	Optimizer         domain.OptimizerKind
	FuncEvaluations   int
	MaxIterations     int
	GradientFloor     float64
	EnergyTolAbs      float64
	EnergyTolRel      float64
	StallIterations   int
	OperatorRepeatCap int
	ScoringWorkers    int
}

func (s Settings) withDefaults() Settings {
	if s.Optimizer == "" {
		s.Optimizer = domain.OptimizerNelderMead
	}
	if s.FuncEvaluations <= 0 {
		s.FuncEvaluations = 200
	}
	if s.MaxIterations <= 0 {
		s.MaxIterations = 30
	}
	if s.GradientFloor <= 0 {
		s.GradientFloor = 1e-3
	}
	if s.EnergyTolAbs <= 0 {
		s.EnergyTolAbs = 1e-6
	}
	if s.EnergyTolRel <= 0 {
		s.EnergyTolRel = 1e-8
	}
	if s.StallIterations <= 0 {
		s.StallIterations = 3
	}
	if s.OperatorRepeatCap <= 0 {
		s.OperatorRepeatCap = 2
	}
	return s
}

// GrowStep reports one successful growth: the operator appended, its
// selection score magnitude and the re-optimized energy and parameters.
type GrowStep struct {
	Operator   pool.PoolOperator
	Score      float64
	Energy     float64
	Parameters []float64
}

// Grower owns one run's ansatz and steps it through the growth state
// machine. Grow performs the selection and optimization stages; Evaluate
// closes the iteration with its authoritative energy.
type Grower struct {
	pool        *pool.Pool
	hamiltonian quantum.Operator
	register    *hamiltonian.RegisterInfo
	evaluator   ObservableEvaluator
	scorer      *Scorer
	settings    Settings
	ansatz      *Ansatz

	phase     Phase
	iteration int
	best      float64
	stall     int

	log zerolog.Logger
}

// NewGrower creates a grower over a fixed pool and Hamiltonian.
func NewGrower(p *pool.Pool, h quantum.Operator, info *hamiltonian.RegisterInfo, eval ObservableEvaluator, s Settings, log zerolog.Logger) *Grower {
	s = s.withDefaults()
	return &Grower{
		pool:        p,
		hamiltonian: h,
		register:    info,
		evaluator:   eval,
		scorer:      NewScorer(s.ScoringWorkers, log),
		settings:    s,
		ansatz:      NewAnsatz(),
		phase:       PhaseIdle,
		best:        math.Inf(1),
		log:         log.With().Str("component", "adapt_grower").Logger(),
	}
}

// Phase returns the current state-machine position.
func (g *Grower) Phase() Phase { return g.phase }

// Ansatz returns the grower's ansatz. Callers must treat it as read-only.
func (g *Grower) Ansatz() *Ansatz { return g.ansatz }

// Iteration returns the number of completed iterations.
func (g *Grower) Iteration() int { return g.iteration }

// Best returns the lowest energy seen so far, +Inf before any evaluation.
func (g *Grower) Best() float64 { return g.best }

func (g *Grower) setPhase(p Phase) {
	if p == g.phase {
		return
	}
	g.log.Debug().
		Str("from", string(g.phase)).
		Str("to", string(p)).
		Int("iteration", g.iteration).
		Msg("Grower phase transition")
	g.phase = p
}

// Grow runs the selection and optimization stages of one iteration: score
// the candidate pool, append the highest-|score| operator and re-optimize
// all parameters. On success the grower rests in Evaluating and the step is
// returned. A nil step with a nil error means every candidate scored below
// the gradient floor and the grower converged. An empty candidate board with
// an empty ansatz is a degenerate pool and fails the run.
func (g *Grower) Grow(ctx context.Context) (*GrowStep, error) {
	if g.phase.Terminal() {
		return nil, fmt.Errorf("grower is in terminal phase %s", g.phase)
	}
	g.setPhase(PhaseSelecting)

	circuit := g.ansatz.Circuit(g.register.NumQubits, g.register.HartreeFockState())
	board, err := g.scorer.ScoreAll(ctx, g.evaluator, circuit, g.hamiltonian, g.pool, func(index int) bool {
		return g.ansatz.Count(index) >= g.settings.OperatorRepeatCap
	})
	if err != nil {
		g.setPhase(PhaseFailed)
		return nil, fmt.Errorf("failed to score operator pool: %w", err)
	}

	selected, found := pickOperator(board, g.settings.GradientFloor)
	if !found {
		if g.ansatz.Size() == 0 {
			g.setPhase(PhaseFailed)
			return nil, fmt.Errorf("degenerate pool: all %d scores below the %g gradient floor with an empty ansatz",
				len(board), g.settings.GradientFloor)
		}
		g.log.Info().
			Int("iteration", g.iteration).
			Float64("gradient_floor", g.settings.GradientFloor).
			Msg("All pool gradients below floor, ansatz converged")
		g.setPhase(PhaseConverged)
		return nil, nil
	}

	g.setPhase(PhaseOptimizing)
	g.ansatz.Append(g.pool.Operators[selected.Index])

	energy, theta, err := g.optimizeParameters(ctx)
	if err != nil {
		g.setPhase(PhaseFailed)
		return nil, fmt.Errorf("failed to optimize %d-parameter ansatz: %w", g.ansatz.Size(), err)
	}
	if err := g.ansatz.SetParameters(theta); err != nil {
		g.setPhase(PhaseFailed)
		return nil, err
	}

	g.setPhase(PhaseEvaluating)
	g.log.Info().
		Str("operator", selected.Label).
		Float64("score", math.Abs(selected.Value)).
		Float64("energy", energy).
		Int("ansatz_size", g.ansatz.Size()).
		Msg("Ansatz grown")

	return &GrowStep{
		Operator:   g.pool.Operators[selected.Index],
		Score:      math.Abs(selected.Value),
		Energy:     energy,
		Parameters: g.ansatz.Parameters(),
	}, nil
}

// Evaluate closes an iteration with its authoritative energy (the subspace
// estimate when enabled, otherwise the mitigated expectation) and decides
// where the state machine goes next.
func (g *Grower) Evaluate(energy float64) Phase {
	improvement := g.best - energy
	if energy < g.best {
		g.best = energy
	}
	tolerance := g.settings.EnergyTolAbs + g.settings.EnergyTolRel*math.Abs(energy)
	if improvement < tolerance {
		g.stall++
	} else {
		g.stall = 0
	}
	g.iteration++

	switch {
	case g.stall >= g.settings.StallIterations:
		g.setPhase(PhaseConverged)
	case g.iteration >= g.settings.MaxIterations:
		g.setPhase(PhaseMaxIterReached)
	default:
		g.setPhase(PhaseSelecting)
	}
	return g.phase
}

// pickOperator returns the board entry with the largest score magnitude at
// or above the floor; ties go to the lowest pool index.
func pickOperator(board []Score, floor float64) (Score, bool) {
	var best Score
	found := false
	for _, s := range board {
		mag := math.Abs(s.Value)
		if mag < floor {
			continue
		}
		if !found || mag > math.Abs(best.Value) {
			best = s
			found = true
		}
	}
	return best, found
}

// optimizeParameters minimizes the evaluated energy over the current
// parameter vector under the evaluation budget. Nelder-Mead probes measured
// objectives directly; BFGS uses exact parameter-shift gradients. A failed
// or non-converged primary method falls back to the other one.
func (g *Grower) optimizeParameters(ctx context.Context) (float64, []float64, error) {
	var evalErr error
	energyAt := func(x []float64) float64 {
		if evalErr != nil {
			return math.Inf(1)
		}
		c, err := g.ansatz.CircuitWith(x, g.register.NumQubits, g.register.HartreeFockState())
		if err != nil {
			evalErr = err
			return math.Inf(1)
		}
		est, err := g.evaluator.EvaluateObservable(ctx, c, g.hamiltonian)
		if err != nil {
			evalErr = err
			return math.Inf(1)
		}
		return est.Value
	}

	problem := optimize.Problem{Func: energyAt}
	var method optimize.Method = &optimize.NelderMead{}
	if g.settings.Optimizer == domain.OptimizerBFGS {
		problem.Grad = func(grad, x []float64) { parameterShiftGrad(energyAt, grad, x) }
		method = &optimize.BFGS{}
	}
	settings := &optimize.Settings{
		FuncEvaluations: g.settings.FuncEvaluations,
		GradEvaluations: g.settings.FuncEvaluations,
	}

	initial := g.ansatz.Parameters()
	result, err := optimize.Minimize(problem, initial, settings, method)
	if evalErr != nil {
		return 0, nil, evalErr
	}
	if err != nil || !acceptableStatus(result.Status) {
		fallback := optimize.Method(&optimize.NelderMead{})
		if g.settings.Optimizer != domain.OptimizerBFGS {
			fallback = &optimize.BFGS{}
			problem.Grad = func(grad, x []float64) { parameterShiftGrad(energyAt, grad, x) }
		}
		result, err = optimize.Minimize(problem, initial, settings, fallback)
		if evalErr != nil {
			return 0, nil, evalErr
		}
		if err != nil {
			return 0, nil, fmt.Errorf("optimization failed: %w", err)
		}
		if !acceptableStatus(result.Status) {
			return 0, nil, fmt.Errorf("optimization did not converge: status=%v", result.Status)
		}
	}
	return result.F, result.X, nil
}

func acceptableStatus(status optimize.Status) bool {
	switch status {
	case optimize.Success, optimize.FunctionConvergence, optimize.GradientThreshold,
		optimize.FunctionEvaluationLimit, optimize.GradientEvaluationLimit:
		return true
	}
	return false
}

// parameterShiftGrad fills grad with exact derivatives of the energy
// surface. Excitation generators square to projectors, so their spectra sit
// in {−1, 0, +1} and each parameter contributes two frequencies; the
// derivative then needs two shifted pairs:
//
//	E'(θ) = (2+√2)/4·[E(θ+π/4) − E(θ−π/4)] + (√2−2)/4·[E(θ+3π/4) − E(θ−3π/4)]
func parameterShiftGrad(energy func([]float64) float64, grad, x []float64) {
	const near = math.Pi / 4
	const far = 3 * math.Pi / 4
	wNear := (2 + math.Sqrt2) / 4
	wFar := (math.Sqrt2 - 2) / 4

	point := make([]float64, len(x))
	for k := range x {
		copy(point, x)
		point[k] = x[k] + near
		plusNear := energy(point)
		point[k] = x[k] - near
		minusNear := energy(point)
		point[k] = x[k] + far
		plusFar := energy(point)
		point[k] = x[k] - far
		minusFar := energy(point)
		grad[k] = wNear*(plusNear-minusNear) + wFar*(plusFar-minusFar)
	}
}
