package hamiltonian

import (
	"testing"

	"github.com/qerplab/qerp/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newH2 builds the two-orbital hydrogen active space (STO-3G, 0.735 Å) from
// its four unique chemist integrals, expanded into physicist ordering.
func newH2() *ActiveSpace {
	const n = 2
	one := []float64{-1.25633907300325, 0, 0, -0.471896007281142}

	chemist := []struct {
		p, q, r, s int
		value      float64
	}{
		{0, 0, 0, 0, 0.6757101548035155},
		{1, 1, 1, 1, 0.6985737227320213},
		{0, 0, 1, 1, 0.6645817302552977},
		{0, 1, 0, 1, 0.18093119978423156},
	}

	two := make([]float64, n*n*n*n)
	put := func(a, b, c, d int, v float64) {
		two[((a*n+c)*n+b)*n+d] = v
	}
	for _, e := range chemist {
		put(e.p, e.q, e.r, e.s, e.value)
		put(e.q, e.p, e.r, e.s, e.value)
		put(e.p, e.q, e.s, e.r, e.value)
		put(e.q, e.p, e.s, e.r, e.value)
		put(e.r, e.s, e.p, e.q, e.value)
		put(e.s, e.r, e.p, e.q, e.value)
		put(e.r, e.s, e.q, e.p, e.value)
		put(e.s, e.r, e.q, e.p, e.value)
	}

	return &ActiveSpace{
		Orbitals:       n,
		AlphaElectrons: 1,
		BetaElectrons:  1,
		CoreEnergy:     0.7199689944489797,
		OneBody:        one,
		TwoBody:        two,
		Provenance: &domain.Provenance{
			Geometry:        "H 0 0 0; H 0 0 0.735",
			BasisSet:        "sto-3g",
			ActiveElectrons: [2]int{1, 1},
			ActiveOrbitals:  n,
		},
	}
}

func TestActiveSpaceValidateAcceptsH2(t *testing.T) {
	require.NoError(t, newH2().Validate())
}

func TestActiveSpaceAccessors(t *testing.T) {
	active := newH2()

	assert.Equal(t, 4, active.SpinOrbitals())
	assert.Equal(t, 2, active.TotalElectrons())
	assert.InDelta(t, -1.25633907300325, active.One(0, 0), 1e-15)
	assert.InDelta(t, -0.471896007281142, active.One(1, 1), 1e-15)

	// ⟨00|00⟩ = (00|00), ⟨01|01⟩ = (00|11), ⟨01|10⟩ = (01|01)
	assert.InDelta(t, 0.6757101548035155, active.Two(0, 0, 0, 0), 1e-15)
	assert.InDelta(t, 0.6645817302552977, active.Two(0, 1, 0, 1), 1e-15)
	assert.InDelta(t, 0.18093119978423156, active.Two(0, 1, 1, 0), 1e-15)
}

func TestActiveSpaceValidateRejections(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(a *ActiveSpace)
	}{
		{
			name:   "zero orbitals",
			mutate: func(a *ActiveSpace) { a.Orbitals = 0 },
		},
		{
			name:   "register too wide",
			mutate: func(a *ActiveSpace) { a.Orbitals = 33 },
		},
		{
			name:   "one-body tensor wrong length",
			mutate: func(a *ActiveSpace) { a.OneBody = a.OneBody[:3] },
		},
		{
			name:   "two-body tensor wrong length",
			mutate: func(a *ActiveSpace) { a.TwoBody = a.TwoBody[:15] },
		},
		{
			name:   "negative alpha electrons",
			mutate: func(a *ActiveSpace) { a.AlphaElectrons = -1 },
		},
		{
			name:   "beta electrons exceed orbitals",
			mutate: func(a *ActiveSpace) { a.BetaElectrons = 3 },
		},
		{
			name:   "asymmetric one-body tensor",
			mutate: func(a *ActiveSpace) { a.OneBody[0*2+1] = 0.25 },
		},
		{
			name: "perturbed two-body entry breaks index symmetry",
			mutate: func(a *ActiveSpace) {
				// ⟨01|01⟩ no longer matches its ⟨10|10⟩ partner
				a.TwoBody[((0*2+1)*2+0)*2+1] += 1e-3
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			active := newH2()
			tt.mutate(active)
			err := active.Validate()
			require.Error(t, err)
			assert.True(t, domain.IsMappingError(err), "want MappingError, got %T", err)
		})
	}
}

func TestActiveSpaceValidateAllowsRoundoff(t *testing.T) {
	active := newH2()
	active.TwoBody[((0*2+1)*2+0)*2+1] += 1e-12
	assert.NoError(t, active.Validate())
}
