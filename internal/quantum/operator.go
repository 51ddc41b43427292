package quantum

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"math"
	"math/cmplx"
	"sort"
)

// coeffEps is the magnitude below which a merged coefficient is treated as
// zero and dropped during normalization.
const coeffEps = 1e-12

// Term is a single weighted Pauli string inside an Operator.
type Term struct {
	Pauli PauliString
	Coeff complex128
}

// Operator is a qubit operator: a sum of weighted Pauli strings over a fixed
// register width. Terms are kept in canonical order after Normalize, which
// makes serialization and fingerprinting bit-stable across runs.
type Operator struct {
	NumQubits int
	Terms     []Term
}

// NewOperator creates an empty operator over n qubits.
func NewOperator(n int) (Operator, error) {
	if n < 1 || n > MaxQubits {
		return Operator{}, fmt.Errorf("operator width %d outside [1, %d]", n, MaxQubits)
	}
	return Operator{NumQubits: n}, nil
}

// Identity returns coeff·I over n qubits.
func Identity(n int, coeff complex128) Operator {
	return Operator{NumQubits: n, Terms: []Term{{Pauli: PauliString{}, Coeff: coeff}}}
}

// FromTerms builds an operator from explicit terms without normalizing.
func FromTerms(n int, terms ...Term) Operator {
	out := Operator{NumQubits: n, Terms: make([]Term, len(terms))}
	copy(out.Terms, terms)
	return out
}

// Normalize merges duplicate Pauli strings, drops negligible coefficients
// and sorts terms into the canonical (X, Z) order. The receiver is not
// modified.
func (o Operator) Normalize() Operator {
	merged := make(map[PauliString]complex128, len(o.Terms))
	for _, t := range o.Terms {
		merged[t.Pauli] += t.Coeff
	}

	out := Operator{NumQubits: o.NumQubits, Terms: make([]Term, 0, len(merged))}
	for p, c := range merged {
		if cmplx.Abs(c) <= coeffEps {
			continue
		}
		out.Terms = append(out.Terms, Term{Pauli: p, Coeff: c})
	}
	sort.Slice(out.Terms, func(i, j int) bool {
		return out.Terms[i].Pauli.Less(out.Terms[j].Pauli)
	})
	return out
}

// Add returns o + other.
func (o Operator) Add(other Operator) Operator {
	terms := make([]Term, 0, len(o.Terms)+len(other.Terms))
	terms = append(terms, o.Terms...)
	terms = append(terms, other.Terms...)
	return Operator{NumQubits: o.NumQubits, Terms: terms}
}

// Sub returns o − other.
func (o Operator) Sub(other Operator) Operator {
	terms := make([]Term, 0, len(o.Terms)+len(other.Terms))
	terms = append(terms, o.Terms...)
	for _, t := range other.Terms {
		terms = append(terms, Term{Pauli: t.Pauli, Coeff: -t.Coeff})
	}
	return Operator{NumQubits: o.NumQubits, Terms: terms}
}

// Scale returns c·o.
func (o Operator) Scale(c complex128) Operator {
	terms := make([]Term, len(o.Terms))
	for i, t := range o.Terms {
		terms[i] = Term{Pauli: t.Pauli, Coeff: c * t.Coeff}
	}
	return Operator{NumQubits: o.NumQubits, Terms: terms}
}

// Mul returns the operator product o·other with all Pauli phases folded
// into the coefficients. The result is not normalized.
func (o Operator) Mul(other Operator) Operator {
	terms := make([]Term, 0, len(o.Terms)*len(other.Terms))
	for _, a := range o.Terms {
		for _, b := range other.Terms {
			p, phase := a.Pauli.Mul(b.Pauli)
			terms = append(terms, Term{Pauli: p, Coeff: a.Coeff * b.Coeff * phase})
		}
	}
	return Operator{NumQubits: o.NumQubits, Terms: terms}
}

// Commutator returns [a, b] = ab − ba, normalized.
func Commutator(a, b Operator) Operator {
	return a.Mul(b).Sub(b.Mul(a)).Normalize()
}

// IsHermitian reports whether every canonical coefficient is real to within
// tol. Because each PauliString is itself Hermitian, this is the full
// Hermiticity condition for the operator.
func (o Operator) IsHermitian(tol float64) bool {
	for _, t := range o.Normalize().Terms {
		if math.Abs(imag(t.Coeff)) > tol {
			return false
		}
	}
	return true
}

// MatrixElement computes ⟨a|O|b⟩ over computational basis states a and b.
// Only terms whose X mask connects b to a contribute.
func (o Operator) MatrixElement(a, b uint64) complex128 {
	var sum complex128
	for _, t := range o.Terms {
		if b^t.Pauli.X != a {
			continue
		}
		sum += t.Coeff * t.Pauli.PhaseOn(b)
	}
	return sum
}

// Fingerprint returns a hex-encoded SHA-256 digest of the canonical term
// list. Two operators with identical physical content always produce the
// same digest, regardless of construction order.
func (o Operator) Fingerprint() string {
	norm := o.Normalize()
	h := sha256.New()

	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(norm.NumQubits))
	h.Write(buf[:])
	for _, t := range norm.Terms {
		binary.BigEndian.PutUint64(buf[:], t.Pauli.X)
		h.Write(buf[:])
		binary.BigEndian.PutUint64(buf[:], t.Pauli.Z)
		h.Write(buf[:])
		binary.BigEndian.PutUint64(buf[:], math.Float64bits(real(t.Coeff)))
		h.Write(buf[:])
		binary.BigEndian.PutUint64(buf[:], math.Float64bits(imag(t.Coeff)))
		h.Write(buf[:])
	}
	return fmt.Sprintf("%x", h.Sum(nil))
}

// CoeffOf returns the canonical coefficient of a Pauli string, or zero when
// the string is absent.
func (o Operator) CoeffOf(p PauliString) complex128 {
	var sum complex128
	for _, t := range o.Terms {
		if t.Pauli == p {
			sum += t.Coeff
		}
	}
	return sum
}

// NumTerms returns the canonical term count.
func (o Operator) NumTerms() int {
	return len(o.Normalize().Terms)
}
