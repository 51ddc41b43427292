package hamiltonian

import (
	"github.com/qerplab/qerp/internal/domain"
	"github.com/qerplab/qerp/internal/quantum"
	"github.com/rs/zerolog"
)

// Builder maps validated active spaces to qubit operators. Builds are pure
// and deterministic: the same input yields bit-identical term order and
// coefficients, which downstream fingerprinting relies on.
type Builder struct {
	scheme domain.MappingScheme
	reduce bool
	log    zerolog.Logger
}

// NewBuilder creates a builder for the given mapping scheme.
func NewBuilder(scheme domain.MappingScheme, twoQubitReduction bool, log zerolog.Logger) *Builder {
	return &Builder{
		scheme: scheme,
		reduce: twoQubitReduction,
		log:    log.With().Str("component", "hamiltonian_builder").Logger(),
	}
}

// Build validates the active space and maps it to a qubit operator, applying
// two-qubit reduction when configured. The returned RegisterInfo describes
// the final register so measured bitstrings stay interpretable.
func (b *Builder) Build(active *ActiveSpace) (quantum.Operator, *RegisterInfo, error) {
	if err := active.Validate(); err != nil {
		return quantum.Operator{}, nil, err
	}

	if b.reduce && b.scheme != domain.MappingParity {
		return quantum.Operator{}, nil, domain.NewMappingError(b.scheme, "two-qubit reduction requires the parity mapping")
	}

	n := active.Orbitals
	width := active.SpinOrbitals()
	if b.reduce && width-2 < 1 {
		return quantum.Operator{}, nil, domain.NewMappingError(b.scheme, "two-qubit reduction would empty a %d-qubit register", width)
	}

	op := b.assemble(active, width).Normalize()

	info := &RegisterInfo{
		Scheme:            b.scheme,
		SpatialOrbitals:   n,
		SpinOrbitals:      width,
		NumQubits:         width,
		AlphaElectrons:    active.AlphaElectrons,
		BetaElectrons:     active.BetaElectrons,
		TwoQubitReduction: b.reduce,
	}

	if b.reduce {
		// With alpha-then-beta block ordering, parity qubit n−1 carries
		// (−1)^{Nα} and qubit 2n−1 carries (−1)^{Nα+Nβ}.
		info.RemovedQubits = []int{n - 1, width - 1}
		info.SectorEigenvalues = []int{
			sectorEigenvalue(active.AlphaElectrons),
			sectorEigenvalue(active.TotalElectrons()),
		}
		info.NumQubits = width - 2

		tapered, err := taper(op, info.RemovedQubits, info.SectorEigenvalues, width)
		if err != nil {
			return quantum.Operator{}, nil, err
		}
		op = tapered.Normalize()
	}

	b.log.Debug().
		Str("scheme", string(b.scheme)).
		Int("orbitals", n).
		Int("qubits", info.NumQubits).
		Int("terms", len(op.Terms)).
		Msg("Hamiltonian mapped")

	return op, info, nil
}

// assemble builds the (unnormalized) second-quantized Hamiltonian
//
//	H = E_core + Σ h_pq a†_pσ a_qσ + ½ Σ ⟨pq|rs⟩ a†_pσ a†_qτ a_sτ a_rσ
//
// over spin orbitals block-ordered alpha then beta.
func (b *Builder) assemble(active *ActiveSpace, width int) quantum.Operator {
	n := active.Orbitals
	terms := []quantum.Term{{Pauli: quantum.PauliString{}, Coeff: complex(active.CoreEnergy, 0)}}

	// spin offsets: alpha block at 0, beta block at n
	spins := []int{0, n}

	for p := 0; p < n; p++ {
		for q := 0; q < n; q++ {
			h := active.One(p, q)
			if h == 0 {
				continue
			}
			for _, sp := range spins {
				prod := b.ladder(p+sp, width, true).Mul(b.ladder(q+sp, width, false))
				terms = appendScaled(terms, prod, complex(h, 0))
			}
		}
	}

	for p := 0; p < n; p++ {
		for q := 0; q < n; q++ {
			for r := 0; r < n; r++ {
				for s := 0; s < n; s++ {
					g := active.Two(p, q, r, s)
					if g == 0 {
						continue
					}
					for _, sigma := range spins {
						for _, tau := range spins {
							prod := b.ladder(p+sigma, width, true).
								Mul(b.ladder(q+tau, width, true)).
								Mul(b.ladder(s+tau, width, false)).
								Mul(b.ladder(r+sigma, width, false))
							terms = appendScaled(terms, prod, complex(g/2, 0))
						}
					}
				}
			}
		}
	}

	return quantum.FromTerms(width, terms...)
}

// ladder returns the creation (dagger) or annihilation operator for spin
// orbital j as a two-term Pauli sum under the configured encoding.
func (b *Builder) ladder(j, width int, dagger bool) quantum.Operator {
	ySign := complex(0, -0.5)
	if !dagger {
		ySign = complex(0, 0.5)
	}

	switch b.scheme {
	case domain.MappingParity:
		// (Z_{j−1} X_j ∓ i Y_j)/2 ⊗ X_{j+1..N−1}
		var zPrev uint64
		if j > 0 {
			zPrev = 1 << uint(j-1)
		}
		xs := uint64(1)<<uint(j) | highMask(j, width)
		return quantum.FromTerms(width,
			quantum.Term{Pauli: quantum.PauliString{X: xs, Z: zPrev}, Coeff: 0.5},
			quantum.Term{Pauli: quantum.PauliString{X: xs, Z: 1 << uint(j)}, Coeff: ySign},
		)
	default:
		// Jordan-Wigner: (X_j ∓ i Y_j)/2 ⊗ Z_{0..j−1}
		return quantum.FromTerms(width,
			quantum.Term{Pauli: quantum.PauliString{X: 1 << uint(j), Z: lowMask(j)}, Coeff: 0.5},
			quantum.Term{Pauli: quantum.PauliString{X: 1 << uint(j), Z: lowMask(j) | 1<<uint(j)}, Coeff: ySign},
		)
	}
}

// MapExcitation maps the anti-Hermitian excitation T − T† onto the register
// described by info, where T promotes the `from` spin orbitals into the `to`
// spin orbitals (one pair for singles, two for doubles). The result is the
// Hermitian generator G with T − T† = i·G, so the ansatz unitary is
// exp(iθ·G). Excitations that break the tapered symmetry sector fail with a
// MappingError, same as Hamiltonian terms would.
func (b *Builder) MapExcitation(from, to []int, info *RegisterInfo) (quantum.Operator, error) {
	width := info.SpinOrbitals
	if len(from) != len(to) || len(from) < 1 || len(from) > 2 {
		return quantum.Operator{}, domain.NewMappingError(b.scheme, "excitation needs 1 or 2 orbital pairs, got %d->%d", len(from), len(to))
	}
	seen := make(map[int]bool, 2*len(from))
	for _, j := range append(append([]int(nil), from...), to...) {
		if j < 0 || j >= width {
			return quantum.Operator{}, domain.NewMappingError(b.scheme, "spin orbital %d outside register of width %d", j, width)
		}
		if seen[j] {
			return quantum.Operator{}, domain.NewMappingError(b.scheme, "spin orbital %d repeated in excitation", j)
		}
		seen[j] = true
	}

	anti := b.transferProduct(to, from, width).
		Sub(b.transferProduct(from, to, width)).
		Normalize()
	if info.TwoQubitReduction {
		tapered, err := taper(anti, info.RemovedQubits, info.SectorEigenvalues, width)
		if err != nil {
			return quantum.Operator{}, err
		}
		anti = tapered.Normalize()
	}

	gen := anti.Scale(complex(0, -1)).Normalize()
	if !gen.IsHermitian(1e-9) {
		return quantum.Operator{}, domain.NewMappingError(b.scheme, "excitation generator lost hermiticity")
	}
	return gen, nil
}

// transferProduct builds Π a†(creation) · Π a(annihilation reversed).
func (b *Builder) transferProduct(creation, annihilation []int, width int) quantum.Operator {
	op := b.ladder(creation[0], width, true)
	for _, j := range creation[1:] {
		op = op.Mul(b.ladder(j, width, true))
	}
	for i := len(annihilation) - 1; i >= 0; i-- {
		op = op.Mul(b.ladder(annihilation[i], width, false))
	}
	return op
}

// taper removes symmetry qubits from a parity-mapped operator, substituting
// their Z factors with sector eigenvalues. A surviving X or Y factor on a
// tapered position means the operator does not conserve the sector.
func taper(op quantum.Operator, removed []int, eigenvalues []int, width int) (quantum.Operator, error) {
	terms := make([]quantum.Term, 0, len(op.Terms))
	for _, t := range op.Terms {
		coeff := t.Coeff
		for i, pos := range removed {
			bit := uint64(1) << uint(pos)
			if t.Pauli.X&bit != 0 {
				return quantum.Operator{}, domain.NewMappingError(domain.MappingParity,
					"operator has %c on symmetry qubit %d, sector cannot support its removal", t.Pauli.Factor(pos), pos)
			}
			if t.Pauli.Z&bit != 0 && eigenvalues[i] == -1 {
				coeff = -coeff
			}
		}
		terms = append(terms, quantum.Term{
			Pauli: quantum.PauliString{
				X: squeezeMask(t.Pauli.X, removed, width),
				Z: squeezeMask(t.Pauli.Z, removed, width),
			},
			Coeff: coeff,
		})
	}
	return quantum.FromTerms(width-len(removed), terms...), nil
}

// appendScaled appends every term of op, scaled by c, onto terms.
func appendScaled(terms []quantum.Term, op quantum.Operator, c complex128) []quantum.Term {
	for _, t := range op.Terms {
		terms = append(terms, quantum.Term{Pauli: t.Pauli, Coeff: c * t.Coeff})
	}
	return terms
}

// squeezeMask drops the removed bit positions and compacts the rest downward.
func squeezeMask(mask uint64, removed []int, width int) uint64 {
	var out uint64
	dst := 0
	ri := 0
	for j := 0; j < width; j++ {
		if ri < len(removed) && removed[ri] == j {
			ri++
			continue
		}
		if mask>>uint(j)&1 == 1 {
			out |= 1 << uint(dst)
		}
		dst++
	}
	return out
}

func sectorEigenvalue(electrons int) int {
	if electrons%2 == 1 {
		return -1
	}
	return 1
}

func lowMask(j int) uint64 {
	return (uint64(1) << uint(j)) - 1
}

func highMask(j, width int) uint64 {
	full := (uint64(1) << uint(width)) - 1
	if width == 64 {
		full = ^uint64(0)
	}
	return full &^ ((uint64(1) << uint(j+1)) - 1)
}
