package domain

import (
	"context"

	"github.com/qerplab/qerp/internal/quantum"
)

// Executor is the circuit-execution contract the solver consumes. Both the
// in-process simulator and the remote runtime client implement it, so the
// pipeline never depends on where circuits actually run.
//
// Implementations must be deterministic under a fixed seed: identical
// circuit, shots and seed produce identical results.
type Executor interface {
	// Name identifies the backend in records and logs.
	Name() string

	// Run executes the circuit and returns a shot histogram record.
	Run(ctx context.Context, c quantum.Circuit, shots int) (*MeasurementRecord, error)

	// Expectation estimates ⟨ψ(c)|obs|ψ(c)⟩ with finite-shot variance.
	Expectation(ctx context.Context, c quantum.Circuit, obs quantum.Operator) (Expectation, error)
}

// NoiseScaler is implemented by executors that can amplify their intrinsic
// noise for zero-noise extrapolation. WithNoiseScale returns a derived
// executor; factor 1 is the native noise level.
type NoiseScaler interface {
	WithNoiseScale(factor float64) Executor
}

// StateProvider is implemented by executors that can hand out the exact
// statevector a circuit prepares. Subspace snapshot enrichment requires it;
// remote backends do not provide it and snapshots are skipped there.
type StateProvider interface {
	PrepareState(c quantum.Circuit) (*quantum.StateVector, error)
}
