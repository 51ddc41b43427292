package solver

import (
	"fmt"

	"github.com/rs/zerolog"

	"github.com/qerplab/qerp/internal/config"
	"github.com/qerplab/qerp/internal/domain"
	"github.com/qerplab/qerp/internal/modules/adapt"
	"github.com/qerplab/qerp/internal/modules/hamiltonian"
	"github.com/qerplab/qerp/internal/modules/mitigation"
	"github.com/qerplab/qerp/internal/modules/pool"
	"github.com/qerplab/qerp/internal/modules/subspace"
	"github.com/qerplab/qerp/internal/quantum"
)

// RunContext carries everything one run needs. It is assembled fresh per run
// and passed explicitly, so concurrent runs share nothing mutable.
type RunContext struct {
	RunID  string
	Config domain.RunConfig

	Hamiltonian quantum.Operator
	Register    *hamiltonian.RegisterInfo
	Pool        *pool.Pool

	Executor  domain.Executor
	Evaluator *Evaluator

	Basis        *subspace.Basis
	Diagonalizer *subspace.Diagonalizer // nil when the subspace estimate is disabled
	Grower       *adapt.Grower

	Provenance *domain.Provenance
}

// NewRunContext builds the full per-run object graph: mapped Hamiltonian and
// register, excitation pool, mitigation pipeline, evaluator, subspace state
// and ansatz grower. Unset run-config fields resolve to the server defaults
// first.
func NewRunContext(run *domain.Run, active *hamiltonian.ActiveSpace, executor domain.Executor, calib mitigation.CalibrationSource, cfg *config.Config, log zerolog.Logger) (*RunContext, error) {
	rcfg := ResolveRunConfig(run.Config, cfg)

	builder := hamiltonian.NewBuilder(rcfg.Mapping, rcfg.TwoQubitReduction, log)
	h, info, err := builder.Build(active)
	if err != nil {
		return nil, err
	}

	p, err := pool.BuildUCCSD(builder, info, log)
	if err != nil {
		return nil, err
	}
	if p.Size() == 0 {
		return nil, fmt.Errorf("excitation pool is empty for %d spin orbitals", info.SpinOrbitals)
	}

	pipeline := mitigation.NewPipeline(cfg.Mitigation, calib, info, log)
	evaluator := NewEvaluator(executor, pipeline, rcfg.NoiseScales, rcfg.Shots, rcfg.Seed, log)

	basis := subspace.NewBasis(info.NumQubits, rcfg.MaxBasisStates, rcfg.SnapshotDepth, cfg.Subspace.SupportFloor, log)
	var diagonalizer *subspace.Diagonalizer
	if rcfg.SubspaceEnabled != nil && *rcfg.SubspaceEnabled {
		diagonalizer = subspace.NewDiagonalizer(cfg.Subspace, log)
	}

	settings := adapt.Settings{
		Optimizer:         rcfg.Optimizer,
		FuncEvaluations:   rcfg.OptimizerBudget,
		MaxIterations:     rcfg.MaxIterations,
		GradientFloor:     rcfg.GradientFloor,
		EnergyTolAbs:      rcfg.EnergyTolAbs,
		EnergyTolRel:      rcfg.EnergyTolRel,
		StallIterations:   rcfg.StallIterations,
		OperatorRepeatCap: rcfg.OperatorRepeatCap,
		ScoringWorkers:    cfg.Solver.ScoringWorkers,
	}
	grower := adapt.NewGrower(p, h, info, evaluator, settings, log)

	return &RunContext{
		RunID:        run.ID,
		Config:       rcfg,
		Hamiltonian:  h,
		Register:     info,
		Pool:         p,
		Executor:     executor,
		Evaluator:    evaluator,
		Basis:        basis,
		Diagonalizer: diagonalizer,
		Grower:       grower,
		Provenance:   active.Provenance,
	}, nil
}

// ResolveRunConfig fills unset run-config fields from the server defaults.
// The work processor uses it to pick the execution backend before the run
// context is assembled. An empty mapping means the submitter delegated the
// encoding choice, so the two-qubit reduction default is taken too; a set
// mapping keeps the submitted reduction flag as-is. SnapshotDepth 0 takes
// the server default and a negative depth disables snapshots. A nil
// SubspaceEnabled takes the server default too.
func ResolveRunConfig(rcfg domain.RunConfig, cfg *config.Config) domain.RunConfig {
	if rcfg.Mapping == "" {
		rcfg.Mapping = domain.MappingScheme(cfg.Solver.MappingScheme)
		rcfg.TwoQubitReduction = cfg.Solver.TwoQubitReduction
	}
	if rcfg.Backend == "" {
		rcfg.Backend = cfg.Backend.Kind
	}
	if rcfg.Shots <= 0 {
		rcfg.Shots = cfg.Backend.Shots
	}
	if rcfg.Seed == 0 {
		rcfg.Seed = cfg.Backend.Seed
	}
	if len(rcfg.NoiseScales) == 0 {
		rcfg.NoiseScales = append([]float64(nil), cfg.Mitigation.NoiseScales...)
	}
	if rcfg.MaxIterations <= 0 {
		rcfg.MaxIterations = cfg.Solver.MaxIterations
	}
	if rcfg.Optimizer == "" {
		rcfg.Optimizer = domain.OptimizerKind(cfg.Solver.Optimizer)
	}
	if rcfg.OptimizerBudget <= 0 {
		rcfg.OptimizerBudget = cfg.Solver.FuncEvaluations
	}
	if rcfg.EnergyTolAbs <= 0 {
		rcfg.EnergyTolAbs = cfg.Solver.EnergyTolerance
	}
	if rcfg.GradientFloor <= 0 {
		rcfg.GradientFloor = cfg.Solver.GradientTolerance
	}
	if rcfg.MaxBasisStates <= 0 {
		rcfg.MaxBasisStates = cfg.Subspace.MaxBasisStates
	}
	if rcfg.SubspaceEnabled == nil {
		enabled := cfg.Subspace.Enabled
		rcfg.SubspaceEnabled = &enabled
	}
	switch {
	case rcfg.SnapshotDepth == 0:
		rcfg.SnapshotDepth = cfg.Solver.SnapshotDepth
	case rcfg.SnapshotDepth < 0:
		rcfg.SnapshotDepth = 0
	}
	return rcfg
}
