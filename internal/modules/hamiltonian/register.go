package hamiltonian

import (
	"fmt"

	"github.com/qerplab/qerp/internal/domain"
)

// RegisterInfo describes the qubit register a mapped Hamiltonian acts on:
// which encoding produced it, how wide it is after tapering, and which
// original positions were removed with which symmetry-sector eigenvalues.
// The mitigation and subspace layers use it to interpret measured bitstrings.
type RegisterInfo struct {
	Scheme            domain.MappingScheme `json:"scheme"`
	SpatialOrbitals   int                  `json:"spatial_orbitals"`
	SpinOrbitals      int                  `json:"spin_orbitals"`
	NumQubits         int                  `json:"num_qubits"`
	AlphaElectrons    int                  `json:"alpha_electrons"`
	BetaElectrons     int                  `json:"beta_electrons"`
	TwoQubitReduction bool                 `json:"two_qubit_reduction"`

	// RemovedQubits lists tapered positions in the untapered register,
	// ascending. SectorEigenvalues holds the matching ±1 Z eigenvalues.
	RemovedQubits     []int `json:"removed_qubits,omitempty"`
	SectorEigenvalues []int `json:"sector_eigenvalues,omitempty"`
}

// occupations returns the spin-orbital occupation vector encoded by a
// measured basis state, with tapered positions reinflated from the sector.
func (r *RegisterInfo) occupations(bits uint64) ([]int, error) {
	// Re-insert tapered positions to recover the full encoded register.
	full := make([]int, r.SpinOrbitals)
	removed := make(map[int]int, len(r.RemovedQubits))
	for i, pos := range r.RemovedQubits {
		// A Z eigenvalue of +1 encodes bit 0, −1 encodes bit 1.
		bit := 0
		if r.SectorEigenvalues[i] == -1 {
			bit = 1
		}
		removed[pos] = bit
	}

	src := 0
	for j := 0; j < r.SpinOrbitals; j++ {
		if bit, ok := removed[j]; ok {
			full[j] = bit
			continue
		}
		if src >= r.NumQubits {
			return nil, fmt.Errorf("basis state narrower than register (%d qubits)", r.NumQubits)
		}
		full[j] = int(bits >> uint(src) & 1)
		src++
	}

	switch r.Scheme {
	case domain.MappingJordanWigner:
		return full, nil
	case domain.MappingParity:
		// Qubit j stores the running parity of modes 0..j, so occupations
		// come back via successive XOR.
		occ := make([]int, r.SpinOrbitals)
		prev := 0
		for j := 0; j < r.SpinOrbitals; j++ {
			occ[j] = full[j] ^ prev
			prev = full[j]
		}
		return occ, nil
	default:
		return nil, fmt.Errorf("unknown mapping scheme %q", r.Scheme)
	}
}

// ElectronCounts decodes a measured basis state into electron counts per
// spin block. Used by the symmetry filter to detect sector violations.
func (r *RegisterInfo) ElectronCounts(bits uint64) (alpha, beta int, err error) {
	occ, err := r.occupations(bits)
	if err != nil {
		return 0, 0, err
	}
	n := r.SpatialOrbitals
	for j, o := range occ {
		if j < n {
			alpha += o
		} else {
			beta += o
		}
	}
	return alpha, beta, nil
}

// InSector reports whether a measured basis state matches the declared
// (Nα, Nβ) symmetry sector.
func (r *RegisterInfo) InSector(bits uint64) bool {
	alpha, beta, err := r.ElectronCounts(bits)
	if err != nil {
		return false
	}
	return alpha == r.AlphaElectrons && beta == r.BetaElectrons
}

// HartreeFockState returns the mean-field reference determinant as a basis
// state in the mapped (and possibly tapered) register: the lowest Nα alpha
// orbitals and lowest Nβ beta orbitals occupied.
func (r *RegisterInfo) HartreeFockState() uint64 {
	n := r.SpatialOrbitals
	occ := make([]int, r.SpinOrbitals)
	for j := 0; j < r.AlphaElectrons; j++ {
		occ[j] = 1
	}
	for j := 0; j < r.BetaElectrons; j++ {
		occ[n+j] = 1
	}

	// Encode occupations per scheme.
	enc := make([]int, r.SpinOrbitals)
	switch r.Scheme {
	case domain.MappingParity:
		parity := 0
		for j := 0; j < r.SpinOrbitals; j++ {
			parity ^= occ[j]
			enc[j] = parity
		}
	default:
		copy(enc, occ)
	}

	// Drop tapered positions.
	removed := make(map[int]bool, len(r.RemovedQubits))
	for _, pos := range r.RemovedQubits {
		removed[pos] = true
	}

	var bits uint64
	dst := 0
	for j := 0; j < r.SpinOrbitals; j++ {
		if removed[j] {
			continue
		}
		if enc[j] == 1 {
			bits |= 1 << uint(dst)
		}
		dst++
	}
	return bits
}
