package quantum

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePauli(t *testing.T) {
	testCases := []struct {
		name  string
		word  string
		wantX uint64
		wantZ uint64
	}{
		{"identity", "IIII", 0, 0},
		{"single x", "XIII", 0b0001, 0},
		{"single z", "IIZI", 0, 0b0100},
		{"single y", "IYII", 0b0010, 0b0010},
		{"mixed", "XIZY", 0b1001, 0b1100},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			p, err := ParsePauli(tc.word)
			require.NoError(t, err)
			assert.Equal(t, tc.wantX, p.X)
			assert.Equal(t, tc.wantZ, p.Z)
			assert.Equal(t, tc.word, p.Label(len(tc.word)))
		})
	}
}

func TestParsePauli_Invalid(t *testing.T) {
	_, err := ParsePauli("XQZ")
	assert.Error(t, err)

	_, err = ParsePauli(strings.Repeat("X", 65))
	assert.Error(t, err)
}

func TestPauliMul_Phases(t *testing.T) {
	x, _ := ParsePauli("X")
	y, _ := ParsePauli("Y")
	z, _ := ParsePauli("Z")

	testCases := []struct {
		name      string
		a, b      PauliString
		want      PauliString
		wantPhase complex128
	}{
		{"XY = iZ", x, y, z, 1i},
		{"YX = -iZ", y, x, z, -1i},
		{"ZX = iY", z, x, y, 1i},
		{"XZ = -iY", x, z, y, -1i},
		{"YZ = iX", y, z, x, 1i},
		{"YY = I", y, y, PauliString{}, 1},
		{"XX = I", x, x, PauliString{}, 1},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got, phase := tc.a.Mul(tc.b)
			assert.Equal(t, tc.want, got)
			assert.Equal(t, tc.wantPhase, phase)
		})
	}
}

func TestPauliMul_MultiQubit(t *testing.T) {
	a, _ := ParsePauli("XY")
	b, _ := ParsePauli("YX")

	// (X⊗Y)(Y⊗X) = (XY)⊗(YX) = (iZ)⊗(−iZ) = Z⊗Z
	got, phase := a.Mul(b)
	zz, _ := ParsePauli("ZZ")
	assert.Equal(t, zz, got)
	assert.Equal(t, complex128(1), phase)
}

func TestPauliCommutesWith(t *testing.T) {
	x, _ := ParsePauli("X")
	z, _ := ParsePauli("Z")
	xi, _ := ParsePauli("XI")
	iz, _ := ParsePauli("IZ")
	xx, _ := ParsePauli("XX")
	zz, _ := ParsePauli("ZZ")

	// Same qubit, different factors: anticommute.
	assert.False(t, x.CommutesWith(z))
	// Disjoint support: commute.
	assert.True(t, xi.CommutesWith(iz))
	// Two overlapping anticommuting factors cancel: commute.
	assert.True(t, xx.CommutesWith(zz))
	// Everything commutes with the identity.
	assert.True(t, x.CommutesWith(PauliString{}))
}

func TestPauliPhaseOn(t *testing.T) {
	y, _ := ParsePauli("Y")

	// Y|0⟩ = i|1⟩ and Y|1⟩ = −i|0⟩
	assert.Equal(t, complex128(1i), y.PhaseOn(0))
	assert.Equal(t, complex128(-1i), y.PhaseOn(1))

	z, _ := ParsePauli("Z")
	assert.Equal(t, complex128(1), z.PhaseOn(0))
	assert.Equal(t, complex128(-1), z.PhaseOn(1))
}

func TestPauliWeightAndString(t *testing.T) {
	p, err := ParsePauli("XIZY")
	require.NoError(t, err)

	assert.Equal(t, 3, p.Weight())
	assert.Equal(t, "X0 Z2 Y3", p.String())
	assert.Equal(t, "I", PauliString{}.String())
}
