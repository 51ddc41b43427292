// Package solver drives a run end to end. Each iteration follows a strict
// order: grow the ansatz, measure and mitigate the new state, feed the
// sampled subspace, diagonalize, then let the grower judge convergence on
// the authoritative energy.
package solver

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/stat"

	"github.com/qerplab/qerp/internal/domain"
	"github.com/qerplab/qerp/internal/modules/adapt"
	"github.com/qerplab/qerp/internal/modules/subspace"
)

// Pipeline stages named in fatal run errors.
const (
	stageGrow        = "grow"
	stageMeasure     = "measure"
	stageAccumulate  = "accumulate"
	stageDiagonalize = "diagonalize"
)

// Controller runs the convergence loop of a single run context.
type Controller struct {
	rc           *RunContext
	energyWindow int
	onIteration  func(domain.IterationRecord)
	log          zerolog.Logger
}

// NewController creates a controller. energyWindow is the trailing trace
// width the uncertainty estimate averages over.
func NewController(rc *RunContext, energyWindow int, log zerolog.Logger) *Controller {
	if energyWindow <= 0 {
		energyWindow = 5
	}
	return &Controller{
		rc:           rc,
		energyWindow: energyWindow,
		log: log.With().
			Str("component", "solver").
			Str("run_id", rc.RunID).
			Logger(),
	}
}

// OnIteration registers a callback invoked after every completed iteration,
// used for progress persistence and event streaming. Not safe to call once
// Solve started.
func (c *Controller) OnIteration(fn func(domain.IterationRecord)) {
	c.onIteration = fn
}

// Solve runs the loop to a terminal phase and returns the result artifact.
// A fatal error aborts the run with stage and iteration context and no
// partial energy.
func (c *Controller) Solve(ctx context.Context) (*domain.RunResult, error) {
	var (
		trace        []domain.IterationRecord
		energies     []float64
		flags        []domain.QualityFlag
		lastVariance float64
		previous     *subspace.Estimate
	)

	g := c.rc.Grower
	for !g.Phase().Terminal() {
		iteration := g.Iteration() + 1
		if err := ctx.Err(); err != nil {
			return nil, domain.NewRunError(stageGrow, iteration, err)
		}
		started := time.Now()

		step, err := g.Grow(ctx)
		if err != nil {
			return nil, domain.NewRunError(stageGrow, iteration, err)
		}
		if step == nil {
			// Every candidate scored below the gradient floor; the grower
			// is already terminal.
			break
		}

		circuit := g.Ansatz().Circuit(c.rc.Register.NumQubits, c.rc.Register.HartreeFockState())

		sample, err := c.rc.Evaluator.Sample(ctx, circuit, c.rc.Hamiltonian)
		if err != nil {
			return nil, domain.NewRunError(stageMeasure, iteration, err)
		}
		hist, err := c.rc.Evaluator.Histogram(ctx, circuit)
		if err != nil {
			return nil, domain.NewRunError(stageMeasure, iteration, err)
		}

		if err := c.rc.Basis.Accumulate(hist); err != nil {
			return nil, domain.NewRunError(stageAccumulate, iteration, err)
		}
		if c.rc.Config.SnapshotDepth > 0 {
			if provider, ok := c.rc.Executor.(domain.StateProvider); ok {
				state, err := provider.PrepareState(circuit)
				if err != nil {
					return nil, domain.NewRunError(stageAccumulate, iteration, err)
				}
				if err := c.rc.Basis.AddSnapshot(state); err != nil {
					return nil, domain.NewRunError(stageAccumulate, iteration, err)
				}
			}
		}

		energy := sample.Mitigated.Value
		iterFlags := mergeFlags(nil, sample.Flags, hist.Flags)
		var subspaceEnergy *float64
		if c.rc.Diagonalizer != nil {
			est, err := c.rc.Diagonalizer.Diagonalize(c.rc.Basis, c.rc.Hamiltonian, previous)
			if err != nil {
				return nil, domain.NewRunError(stageDiagonalize, iteration, err)
			}
			previous = est
			energy = est.Energy
			v := est.Energy
			subspaceEnergy = &v
			iterFlags = mergeFlags(iterFlags, est.Flags)
		}

		phase := g.Evaluate(energy)

		record := domain.IterationRecord{
			Iteration:        g.Iteration(),
			SelectedOperator: step.Operator.Label,
			OperatorIndex:    step.Operator.Index,
			Score:            step.Score,
			Parameters:       step.Parameters,
			RawEnergy:        sample.Raw,
			MitigatedEnergy:  sample.Mitigated.Value,
			SubspaceEnergy:   subspaceEnergy,
			BasisSize:        c.rc.Basis.Size(),
			Flags:            iterFlags,
			Duration:         time.Since(started),
		}
		trace = append(trace, record)
		energies = append(energies, energy)
		lastVariance = sample.Mitigated.Variance
		flags = mergeFlags(flags, iterFlags)

		c.log.Info().
			Int("iteration", record.Iteration).
			Str("operator", record.SelectedOperator).
			Float64("energy", energy).
			Int("basis_size", record.BasisSize).
			Str("phase", string(phase)).
			Msg("Iteration complete")

		if c.onIteration != nil {
			c.onIteration(record)
		}
	}

	if len(energies) == 0 {
		return nil, domain.NewRunError(stageGrow, g.Iteration(), fmt.Errorf("no iterations completed"))
	}

	status := statusFor(g.Phase())
	result := &domain.RunResult{
		RunID:                  c.rc.RunID,
		Status:                 status,
		Energy:                 g.Best(),
		Uncertainty:            c.uncertainty(energies, lastVariance),
		Iterations:             g.Iteration(),
		Flags:                  flags,
		Trace:                  trace,
		Provenance:             c.rc.Provenance,
		HamiltonianFingerprint: c.rc.Hamiltonian.Fingerprint(),
		CreatedAt:              time.Now().UTC(),
	}

	c.log.Info().
		Str("status", string(status)).
		Float64("energy", result.Energy).
		Float64("uncertainty", result.Uncertainty).
		Int("iterations", result.Iterations).
		Msg("Run finished")
	return result, nil
}

func statusFor(p adapt.Phase) domain.RunStatus {
	switch p {
	case adapt.PhaseConverged:
		return domain.RunStatusConverged
	case adapt.PhaseMaxIterReached:
		return domain.RunStatusMaxIterations
	default:
		return domain.RunStatusFailed
	}
}

// uncertainty combines the shot variance of the final estimate with the
// sample variance of the trailing energy window.
func (c *Controller) uncertainty(energies []float64, shotVariance float64) float64 {
	window := energies
	if len(window) > c.energyWindow {
		window = window[len(window)-c.energyWindow:]
	}
	variance := shotVariance
	if len(window) >= 2 {
		variance += stat.Variance(window, nil)
	}
	if variance <= 0 {
		return 0
	}
	return math.Sqrt(variance)
}

func mergeFlags(dst []domain.QualityFlag, groups ...[]domain.QualityFlag) []domain.QualityFlag {
	for _, group := range groups {
		for _, f := range group {
			if !containsFlag(dst, f) {
				dst = append(dst, f)
			}
		}
	}
	return dst
}

func containsFlag(flags []domain.QualityFlag, f domain.QualityFlag) bool {
	for _, got := range flags {
		if got == f {
			return true
		}
	}
	return false
}
