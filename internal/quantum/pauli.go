// Package quantum implements the sparse Pauli algebra and statevector
// arithmetic used by the Hamiltonian, ansatz and subspace modules.
//
// Pauli strings are stored in symplectic form: two bitmasks (X, Z) over at
// most 64 qubits, with bit j addressing qubit j. The string represented by
// masks (x, z) is the Hermitian product
//
//	P(x, z) = i^{|x∧z|} · X^x · Z^z
//
// so that single-qubit factors come out as I, X, Y = i·XZ and Z. Keeping the
// phase convention inside the type means every PauliString is Hermitian and
// operators are Hermitian exactly when their merged coefficients are real.
package quantum

import (
	"fmt"
	"math/bits"
	"strings"
)

// MaxQubits is the largest register width the symplectic encoding supports.
const MaxQubits = 64

// phaseTable maps an exponent of i (mod 4) to its complex value.
var phaseTable = [4]complex128{1, 1i, -1, -1i}

// PauliString is a tensor product of single-qubit Pauli operators in
// symplectic (X, Z) mask form. The zero value is the identity.
type PauliString struct {
	X uint64
	Z uint64
}

// Identity reports whether the string is the identity on every qubit.
func (p PauliString) Identity() bool {
	return p.X == 0 && p.Z == 0
}

// Weight returns the number of qubits the string acts on non-trivially.
func (p PauliString) Weight() int {
	return bits.OnesCount64(p.X | p.Z)
}

// Support returns the mask of qubits the string acts on non-trivially.
func (p PauliString) Support() uint64 {
	return p.X | p.Z
}

// CommutesWith reports whether two Pauli strings commute. Strings
// anticommute exactly when they overlap on an odd number of qubits with
// differing non-identity factors.
func (p PauliString) CommutesWith(q PauliString) bool {
	anti := bits.OnesCount64(p.X&q.Z) + bits.OnesCount64(p.Z&q.X)
	return anti%2 == 0
}

// Mul multiplies two Pauli strings and returns the resulting string together
// with the accumulated phase (one of ±1, ±i).
//
// With k = |x∧z| for each operand and the product masks x₃ = x₁⊕x₂,
// z₃ = z₁⊕z₂, the phase exponent of i is
//
//	k₁ + k₂ − k₃ + 2·|z₁∧x₂|  (mod 4)
//
// where the last term counts the Z-past-X swaps of the reordering.
func (p PauliString) Mul(q PauliString) (PauliString, complex128) {
	out := PauliString{X: p.X ^ q.X, Z: p.Z ^ q.Z}

	k1 := bits.OnesCount64(p.X & p.Z)
	k2 := bits.OnesCount64(q.X & q.Z)
	k3 := bits.OnesCount64(out.X & out.Z)
	swaps := bits.OnesCount64(p.Z & q.X)

	exp := (k1 + k2 - k3 + 2*swaps) % 4
	if exp < 0 {
		exp += 4
	}
	return out, phaseTable[exp]
}

// PhaseOn returns the phase P picks up on the computational basis state
// |b⟩, i.e. P|b⟩ = PhaseOn(b)·|b ⊕ x⟩.
func (p PauliString) PhaseOn(b uint64) complex128 {
	exp := bits.OnesCount64(p.X&p.Z) + 2*bits.OnesCount64(p.Z&b)
	return phaseTable[exp%4]
}

// Less defines the canonical term order used for deterministic
// serialization: ascending by X mask, then by Z mask.
func (p PauliString) Less(q PauliString) bool {
	if p.X != q.X {
		return p.X < q.X
	}
	return p.Z < q.Z
}

// Factor returns the single-qubit Pauli letter acting on qubit j.
func (p PauliString) Factor(j int) byte {
	x := p.X>>uint(j)&1 == 1
	z := p.Z>>uint(j)&1 == 1
	switch {
	case x && z:
		return 'Y'
	case x:
		return 'X'
	case z:
		return 'Z'
	default:
		return 'I'
	}
}

// Label renders the string as a dense Pauli word over n qubits, with
// character j naming the factor on qubit j (e.g. "XIZY").
func (p PauliString) Label(n int) string {
	var sb strings.Builder
	sb.Grow(n)
	for j := 0; j < n; j++ {
		sb.WriteByte(p.Factor(j))
	}
	return sb.String()
}

// String renders the string sparsely for logs, e.g. "X0 Y3 Z5", or "I" for
// the identity.
func (p PauliString) String() string {
	if p.Identity() {
		return "I"
	}
	var parts []string
	support := p.Support()
	for support != 0 {
		j := bits.TrailingZeros64(support)
		parts = append(parts, fmt.Sprintf("%c%d", p.Factor(j), j))
		support &= support - 1
	}
	return strings.Join(parts, " ")
}

// ParsePauli parses a dense Pauli word such as "XIZY" into symplectic form.
// Character j of the word names the factor on qubit j. Words longer than
// MaxQubits or containing letters outside {I, X, Y, Z} are rejected.
func ParsePauli(word string) (PauliString, error) {
	if len(word) > MaxQubits {
		return PauliString{}, fmt.Errorf("pauli word %q exceeds %d qubits", word, MaxQubits)
	}
	var p PauliString
	for j := 0; j < len(word); j++ {
		switch word[j] {
		case 'I':
		case 'X':
			p.X |= 1 << uint(j)
		case 'Y':
			p.X |= 1 << uint(j)
			p.Z |= 1 << uint(j)
		case 'Z':
			p.Z |= 1 << uint(j)
		default:
			return PauliString{}, fmt.Errorf("invalid pauli letter %q at position %d", word[j], j)
		}
	}
	return p, nil
}

// SingleQubit builds a one-qubit Pauli string from a letter and qubit index.
func SingleQubit(letter byte, qubit int) (PauliString, error) {
	if qubit < 0 || qubit >= MaxQubits {
		return PauliString{}, fmt.Errorf("qubit index %d out of range", qubit)
	}
	var p PauliString
	switch letter {
	case 'I':
	case 'X':
		p.X = 1 << uint(qubit)
	case 'Y':
		p.X = 1 << uint(qubit)
		p.Z = 1 << uint(qubit)
	case 'Z':
		p.Z = 1 << uint(qubit)
	default:
		return PauliString{}, fmt.Errorf("invalid pauli letter %q", letter)
	}
	return p, nil
}
