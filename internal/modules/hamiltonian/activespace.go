// Package hamiltonian builds qubit Hamiltonians from active-space electron
// integral bundles: validation, fermion-to-qubit mapping (Jordan-Wigner or
// parity), and symmetry-sector tapering of the two redundant parity qubits.
package hamiltonian

import (
	"math"

	"github.com/qerplab/qerp/internal/domain"
	"github.com/qerplab/qerp/internal/quantum"
)

// symTol is the tolerance for the integral-tensor symmetry checks. The
// tensors come from float64 chemistry pipelines, so exact equality is too
// strict but anything past 1e-8 is a corrupt bundle rather than roundoff.
const symTol = 1e-8

// ActiveSpace is a validated active-space electronic-structure problem:
// one- and two-body integrals over n spatial orbitals, a core energy offset,
// and the electron counts per spin. Immutable after validation.
//
// OneBody is row-major h[p*n+q]. TwoBody is the physicist-ordered tensor
// ⟨pq|rs⟩ stored as g[((p*n+q)*n+r)*n+s]. Both use real orbitals.
type ActiveSpace struct {
	Orbitals       int
	AlphaElectrons int
	BetaElectrons  int
	CoreEnergy     float64
	OneBody        []float64
	TwoBody        []float64

	// Provenance carries fragment metadata through to the result artifact.
	Provenance *domain.Provenance
}

// One returns the one-body integral h[p][q].
func (a *ActiveSpace) One(p, q int) float64 {
	return a.OneBody[p*a.Orbitals+q]
}

// Two returns the two-body integral ⟨pq|rs⟩ in physicist ordering.
func (a *ActiveSpace) Two(p, q, r, s int) float64 {
	n := a.Orbitals
	return a.TwoBody[((p*n+q)*n+r)*n+s]
}

// TotalElectrons returns Nα + Nβ.
func (a *ActiveSpace) TotalElectrons() int {
	return a.AlphaElectrons + a.BetaElectrons
}

// SpinOrbitals returns the spin-orbital count 2n.
func (a *ActiveSpace) SpinOrbitals() int {
	return 2 * a.Orbitals
}

// Validate checks dimensions, electron counts, and the index symmetries the
// mapping relies on. All failures are domain.MappingError: a bundle that
// fails validation can never be mapped, retrying is pointless.
func (a *ActiveSpace) Validate() error {
	n := a.Orbitals
	if n < 1 {
		return domain.NewMappingError("", "orbital count must be positive, got %d", n)
	}
	if 2*n > quantum.MaxQubits {
		return domain.NewMappingError("", "%d spatial orbitals need %d qubits, register supports %d", n, 2*n, quantum.MaxQubits)
	}
	if len(a.OneBody) != n*n {
		return domain.NewMappingError("", "one-body tensor has %d entries, want %d", len(a.OneBody), n*n)
	}
	if len(a.TwoBody) != n*n*n*n {
		return domain.NewMappingError("", "two-body tensor has %d entries, want %d", len(a.TwoBody), n*n*n*n)
	}
	if a.AlphaElectrons < 0 || a.AlphaElectrons > n {
		return domain.NewMappingError("", "alpha electron count %d outside [0, %d]", a.AlphaElectrons, n)
	}
	if a.BetaElectrons < 0 || a.BetaElectrons > n {
		return domain.NewMappingError("", "beta electron count %d outside [0, %d]", a.BetaElectrons, n)
	}

	// h must be symmetric (real orbitals).
	for p := 0; p < n; p++ {
		for q := p + 1; q < n; q++ {
			if math.Abs(a.One(p, q)-a.One(q, p)) > symTol {
				return domain.NewMappingError("", "one-body tensor not symmetric at (%d,%d)", p, q)
			}
		}
	}

	// ⟨pq|rs⟩ must satisfy particle interchange, hermiticity and the
	// real-orbital symmetry. Violations mean the tensor is not a physical
	// electron-repulsion tensor in physicist ordering.
	for p := 0; p < n; p++ {
		for q := 0; q < n; q++ {
			for r := 0; r < n; r++ {
				for s := 0; s < n; s++ {
					v := a.Two(p, q, r, s)
					if math.Abs(v-a.Two(q, p, s, r)) > symTol {
						return domain.NewMappingError("", "two-body tensor breaks particle symmetry at (%d,%d,%d,%d)", p, q, r, s)
					}
					if math.Abs(v-a.Two(r, s, p, q)) > symTol {
						return domain.NewMappingError("", "two-body tensor breaks hermiticity at (%d,%d,%d,%d)", p, q, r, s)
					}
					if math.Abs(v-a.Two(r, q, p, s)) > symTol {
						return domain.NewMappingError("", "two-body tensor breaks real-orbital symmetry at (%d,%d,%d,%d)", p, q, r, s)
					}
				}
			}
		}
	}

	return nil
}
