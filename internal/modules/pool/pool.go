// Package pool enumerates the fixed excitation-operator pool the ansatz
// grower selects from. The pool is built once per run from the active space
// and never changes afterwards; growers reference operators by index.
package pool

import (
	"fmt"

	"github.com/qerplab/qerp/internal/domain"
	"github.com/qerplab/qerp/internal/modules/hamiltonian"
	"github.com/qerplab/qerp/internal/quantum"
	"github.com/rs/zerolog"
)

// PoolOperator is one selectable ansatz building block: a Hermitian
// excitation generator G (the ansatz applies exp(iθG)) together with its
// Pauli-rotation factorization. Rotations carry the per-term coefficient in
// Theta; binding a parameter θ rescales each to −2·coeff·θ, which composes
// back to exp(iθG) because the factors commute.
type PoolOperator struct {
	Index     int
	Label     string
	Generator quantum.Operator
	Rotations []quantum.Rotation
}

// Pool is the ordered, read-only operator list for a run.
type Pool struct {
	Operators []PoolOperator
}

// Size returns the number of operators in the pool.
func (p *Pool) Size() int {
	return len(p.Operators)
}

// BuildUCCSD enumerates spin-conserving single and double excitations from
// the occupied to the virtual spin orbitals of the register's declared
// sector, mapped onto the same (possibly tapered) register as the
// Hamiltonian. Order is deterministic: alpha singles, beta singles, then
// doubles ascending by orbital indices.
func BuildUCCSD(b *hamiltonian.Builder, info *hamiltonian.RegisterInfo, log zerolog.Logger) (*Pool, error) {
	n := info.SpatialOrbitals
	occupied := make([]int, 0, info.AlphaElectrons+info.BetaElectrons)
	virtual := make([]int, 0, info.SpinOrbitals)
	for j := 0; j < n; j++ {
		if j < info.AlphaElectrons {
			occupied = append(occupied, j)
		} else {
			virtual = append(virtual, j)
		}
	}
	for j := 0; j < n; j++ {
		if j < info.BetaElectrons {
			occupied = append(occupied, n+j)
		} else {
			virtual = append(virtual, n+j)
		}
	}

	block := func(j int) int {
		if j < n {
			return 0
		}
		return 1
	}

	p := &Pool{}
	add := func(label string, from, to []int) error {
		gen, err := b.MapExcitation(from, to, info)
		if err != nil {
			return fmt.Errorf("pool operator %q: %w", label, err)
		}
		if gen.NumTerms() == 0 {
			return nil
		}
		rotations := make([]quantum.Rotation, len(gen.Terms))
		for i, t := range gen.Terms {
			rotations[i] = quantum.Rotation{Generator: t.Pauli, Theta: real(t.Coeff)}
		}
		p.Operators = append(p.Operators, PoolOperator{
			Index:     len(p.Operators),
			Label:     label,
			Generator: gen,
			Rotations: rotations,
		})
		return nil
	}

	// same-spin singles
	for _, i := range occupied {
		for _, a := range virtual {
			if block(i) != block(a) {
				continue
			}
			if err := add(fmt.Sprintf("single %d->%d", i, a), []int{i}, []int{a}); err != nil {
				return nil, err
			}
		}
	}

	// Sz-conserving doubles
	for oi := 0; oi < len(occupied); oi++ {
		for oj := oi + 1; oj < len(occupied); oj++ {
			for ai := 0; ai < len(virtual); ai++ {
				for aj := ai + 1; aj < len(virtual); aj++ {
					i, j := occupied[oi], occupied[oj]
					a, bb := virtual[ai], virtual[aj]
					if block(i)+block(j) != block(a)+block(bb) {
						continue
					}
					label := fmt.Sprintf("double %d,%d->%d,%d", i, j, a, bb)
					if err := add(label, []int{i, j}, []int{a, bb}); err != nil {
						return nil, err
					}
				}
			}
		}
	}

	if p.Size() == 0 {
		return nil, domain.NewMappingError(info.Scheme, "excitation pool is empty for %d orbitals with %d+%d electrons",
			n, info.AlphaElectrons, info.BetaElectrons)
	}

	log.Debug().
		Int("operators", p.Size()).
		Int("qubits", info.NumQubits).
		Msg("UCCSD pool built")

	return p, nil
}
