package quantum

import (
	"fmt"
	"math"
	"math/cmplx"
	"math/rand"
	"sort"
)

// StateVector is a dense complex amplitude vector over 2^n computational
// basis states. Basis index bit j mirrors qubit j of the symplectic masks.
type StateVector struct {
	nQubits int
	amps    []complex128
}

// NewBasisState prepares |bits⟩ over n qubits.
func NewBasisState(n int, bits uint64) (*StateVector, error) {
	if n < 1 || n > MaxQubits {
		return nil, fmt.Errorf("state width %d outside [1, %d]", n, MaxQubits)
	}
	if n < 64 && bits>>uint(n) != 0 {
		return nil, fmt.Errorf("basis state %b does not fit in %d qubits", bits, n)
	}
	s := &StateVector{nQubits: n, amps: make([]complex128, 1<<uint(n))}
	s.amps[bits] = 1
	return s, nil
}

// NewZeroState prepares |0...0⟩ over n qubits.
func NewZeroState(n int) (*StateVector, error) {
	return NewBasisState(n, 0)
}

// NumQubits returns the register width.
func (s *StateVector) NumQubits() int { return s.nQubits }

// Dim returns the amplitude vector length 2^n.
func (s *StateVector) Dim() int { return len(s.amps) }

// Amp returns the amplitude of basis state |b⟩.
func (s *StateVector) Amp(b uint64) complex128 { return s.amps[b] }

// Prob returns the measurement probability of basis state |b⟩.
func (s *StateVector) Prob(b uint64) float64 {
	a := s.amps[b]
	return real(a)*real(a) + imag(a)*imag(a)
}

// Clone returns an independent copy of the state.
func (s *StateVector) Clone() *StateVector {
	amps := make([]complex128, len(s.amps))
	copy(amps, s.amps)
	return &StateVector{nQubits: s.nQubits, amps: amps}
}

// Norm returns the 2-norm of the amplitude vector.
func (s *StateVector) Norm() float64 {
	var sum float64
	for _, a := range s.amps {
		sum += real(a)*real(a) + imag(a)*imag(a)
	}
	return math.Sqrt(sum)
}

// Normalize rescales the state to unit norm. A zero state is left untouched.
func (s *StateVector) Normalize() {
	n := s.Norm()
	if n == 0 {
		return
	}
	inv := complex(1/n, 0)
	for i := range s.amps {
		s.amps[i] *= inv
	}
}

// ApplyPauli applies a Pauli string to the state in place. The string is a
// signed permutation of basis states, so the update walks each X-coupled
// pair exactly once.
func (s *StateVector) ApplyPauli(p PauliString) {
	if p.X == 0 {
		for b := range s.amps {
			s.amps[b] *= p.PhaseOn(uint64(b))
		}
		return
	}
	for b := uint64(0); b < uint64(len(s.amps)); b++ {
		partner := b ^ p.X
		if partner < b {
			continue
		}
		ab, ap := s.amps[b], s.amps[partner]
		s.amps[partner] = p.PhaseOn(b) * ab
		s.amps[b] = p.PhaseOn(partner) * ap
	}
}

// ApplyPauliExp applies the rotation exp(−i·θ/2·P) to the state in place.
// P² = I makes the exponential exact:
//
//	exp(−i·θ/2·P)|ψ⟩ = cos(θ/2)|ψ⟩ − i·sin(θ/2)·P|ψ⟩
func (s *StateVector) ApplyPauliExp(p PauliString, theta float64) {
	c := complex(math.Cos(theta/2), 0)
	is := complex(0, math.Sin(theta/2))

	if p.X == 0 {
		for b := range s.amps {
			s.amps[b] *= c - is*p.PhaseOn(uint64(b))
		}
		return
	}
	for b := uint64(0); b < uint64(len(s.amps)); b++ {
		partner := b ^ p.X
		if partner < b {
			continue
		}
		ab, ap := s.amps[b], s.amps[partner]
		s.amps[b] = c*ab - is*p.PhaseOn(partner)*ap
		s.amps[partner] = c*ap - is*p.PhaseOn(b)*ab
	}
}

// ApplyOperator returns O|ψ⟩ as a new, generally unnormalized state.
func (s *StateVector) ApplyOperator(o Operator) *StateVector {
	out := &StateVector{nQubits: s.nQubits, amps: make([]complex128, len(s.amps))}
	for _, t := range o.Terms {
		for b := uint64(0); b < uint64(len(s.amps)); b++ {
			a := s.amps[b]
			if a == 0 {
				continue
			}
			out.amps[b^t.Pauli.X] += t.Coeff * t.Pauli.PhaseOn(b) * a
		}
	}
	return out
}

// InnerProduct returns ⟨s|other⟩.
func (s *StateVector) InnerProduct(other *StateVector) complex128 {
	var sum complex128
	for b, a := range s.amps {
		sum += cmplx.Conj(a) * other.amps[b]
	}
	return sum
}

// Expectation returns ⟨ψ|O|ψ⟩. For Hermitian operators the imaginary part
// is numerical noise and callers take the real component.
func (s *StateVector) Expectation(o Operator) complex128 {
	var sum complex128
	for _, t := range o.Terms {
		var termSum complex128
		for b := uint64(0); b < uint64(len(s.amps)); b++ {
			a := s.amps[b]
			if a == 0 {
				continue
			}
			termSum += cmplx.Conj(s.amps[b^t.Pauli.X]) * t.Pauli.PhaseOn(b) * a
		}
		sum += t.Coeff * termSum
	}
	return sum
}

// Sample draws shot computational-basis measurements from the state's Born
// distribution using the supplied RNG and returns occurrence counts keyed by
// basis index.
func (s *StateVector) Sample(r *rand.Rand, shots int) map[uint64]int {
	cdf := make([]float64, len(s.amps))
	var acc float64
	for b := range s.amps {
		acc += s.Prob(uint64(b))
		cdf[b] = acc
	}

	counts := make(map[uint64]int)
	for i := 0; i < shots; i++ {
		u := r.Float64() * acc
		idx := sort.SearchFloat64s(cdf, u)
		if idx >= len(cdf) {
			idx = len(cdf) - 1
		}
		counts[uint64(idx)]++
	}
	return counts
}
