package testing

import (
	"time"

	"github.com/qerplab/qerp/internal/domain"
	"github.com/qerplab/qerp/internal/modules/hamiltonian"
)

// H2 STO-3G constants at 0.735 Å bond length, restricted Hartree-Fock
// molecular-orbital basis. One- and two-electron values in Hartree, the
// two-electron ones in chemist (pq|rs) notation.
const (
	h2CoreRepulsion = 0.7199689944489797
	h2OneBody00     = -1.25633907300325
	h2OneBody11     = -0.471896007281142
	h2Coulomb0000   = 0.6757101548035155
	h2Coulomb1111   = 0.6985737227320213
	h2Coulomb0011   = 0.6645817302552977
	h2Exchange0101  = 0.18093119978423156
)

// Reference energies for the H2 fixture, in Hartree.
const (
	// H2HartreeFockEnergy is the mean-field total energy, i.e. the
	// expectation of the mapped Hamiltonian in the Hartree-Fock state.
	H2HartreeFockEnergy = -1.1169989967540064

	// H2ExactGroundEnergy is the lowest eigenvalue of the mapped
	// Hamiltonian (full configuration interaction in this active space).
	H2ExactGroundEnergy = -1.1373060357534
)

// NewH2ActiveSpace returns the two-orbital hydrogen molecule active space
// used throughout solver tests. The two-body tensor is expanded from the
// four unique chemist integrals into physicist ⟨pq|rs⟩ ordering.
func NewH2ActiveSpace() *hamiltonian.ActiveSpace {
	const n = 2

	one := make([]float64, n*n)
	one[0*n+0] = h2OneBody00
	one[1*n+1] = h2OneBody11

	chemist := []struct {
		p, q, r, s int
		value      float64
	}{
		{0, 0, 0, 0, h2Coulomb0000},
		{1, 1, 1, 1, h2Coulomb1111},
		{0, 0, 1, 1, h2Coulomb0011},
		{0, 1, 0, 1, h2Exchange0101},
	}

	two := make([]float64, n*n*n*n)
	put := func(a, b, c, d int, v float64) {
		// physicist ⟨ac|bd⟩ = chemist (ab|cd)
		two[((a*n+c)*n+b)*n+d] = v
	}
	for _, e := range chemist {
		// real-orbital 8-fold symmetry of (pq|rs)
		put(e.p, e.q, e.r, e.s, e.value)
		put(e.q, e.p, e.r, e.s, e.value)
		put(e.p, e.q, e.s, e.r, e.value)
		put(e.q, e.p, e.s, e.r, e.value)
		put(e.r, e.s, e.p, e.q, e.value)
		put(e.s, e.r, e.p, e.q, e.value)
		put(e.r, e.s, e.q, e.p, e.value)
		put(e.s, e.r, e.q, e.p, e.value)
	}

	return &hamiltonian.ActiveSpace{
		Orbitals:       n,
		AlphaElectrons: 1,
		BetaElectrons:  1,
		CoreEnergy:     h2CoreRepulsion,
		OneBody:        one,
		TwoBody:        two,
		Provenance: &domain.Provenance{
			Geometry:        "H 0 0 0; H 0 0 0.735",
			BasisSet:        "sto-3g",
			ActiveElectrons: [2]int{1, 1},
			ActiveOrbitals:  n,
			ReferenceEnergy: H2HartreeFockEnergy,
		},
	}
}

var subspaceOn = true

// NewRunConfigFixture returns a run configuration suitable for fast
// deterministic tests: the seeded simulator backend, parity mapping with
// two-qubit reduction and a small iteration budget.
func NewRunConfigFixture() domain.RunConfig {
	return domain.RunConfig{
		Mapping:           domain.MappingParity,
		TwoQubitReduction: true,
		Backend:           "simulator",
		Shots:             2048,
		Seed:              42,
		NoiseScales:       []float64{1, 2, 3},
		MaxIterations:     8,
		Optimizer:         domain.OptimizerNelderMead,
		OptimizerBudget:   200,
		EnergyTolAbs:      1e-6,
		EnergyTolRel:      1e-8,
		StallIterations:   3,
		GradientFloor:     1e-3,
		SubspaceEnabled:   &subspaceOn,
		SnapshotDepth:     6,
		MaxBasisStates:    64,
	}
}

// NewRunFixture returns a queued run with the given identifier.
func NewRunFixture(id string) *domain.Run {
	return &domain.Run{
		ID:         id,
		Status:     domain.RunStatusQueued,
		Config:     NewRunConfigFixture(),
		BundleHash: "a3f5c2e8d9b1460712fe34ab56cd78ef90123456789abcdef0123456789abcde",
		CreatedAt:  time.Unix(1724565600, 0).UTC(),
	}
}

// NewMeasurementRecordFixture returns a raw two-qubit histogram record with
// most weight on the Hartree-Fock string.
func NewMeasurementRecordFixture() *domain.MeasurementRecord {
	rec := domain.NewRawRecord("f0e1d2c3", "simulator", 1000, 42, 1)
	rec.Counts = map[string]int{
		"10": 940,
		"01": 48,
		"00": 7,
		"11": 5,
	}
	return rec
}

// NewIterationRecordFixture returns a plausible mid-run trace entry.
func NewIterationRecordFixture(iteration int) domain.IterationRecord {
	sub := -1.1371
	return domain.IterationRecord{
		Iteration:        iteration,
		SelectedOperator: "double 0,2->1,3",
		OperatorIndex:    2,
		Score:            0.3619,
		Parameters:       []float64{-0.1118},
		RawEnergy:        -1.1221,
		MitigatedEnergy:  -1.1305,
		SubspaceEnergy:   &sub,
		BasisSize:        12,
		Duration:         150 * time.Millisecond,
	}
}
