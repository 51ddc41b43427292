// Package adapt grows the variational ansatz one pool operator at a time:
// score the pool by commutator gradients against the current state, append
// the winner at zero angle, re-optimize every parameter, then evaluate
// convergence. The grower is a small state machine owned by one run.
package adapt

import (
	"fmt"

	"github.com/qerplab/qerp/internal/modules/pool"
	"github.com/qerplab/qerp/internal/quantum"
)

// Element is one selected pool operator with its bound parameter.
type Element struct {
	Operator pool.PoolOperator
	Theta    float64
}

// Ansatz is the ordered list of selected operators. It only ever grows
// within a run; parameters are rewritten by optimization but elements are
// never removed or reordered.
type Ansatz struct {
	elements []Element
}

// NewAnsatz returns an empty ansatz.
func NewAnsatz() *Ansatz {
	return &Ansatz{}
}

// Size returns the number of selected operators.
func (a *Ansatz) Size() int { return len(a.elements) }

// Append adds a pool operator with its parameter initialized to zero.
func (a *Ansatz) Append(op pool.PoolOperator) {
	a.elements = append(a.elements, Element{Operator: op})
}

// Count returns how many times the pool operator with the given index has
// been selected.
func (a *Ansatz) Count(poolIndex int) int {
	n := 0
	for _, el := range a.elements {
		if el.Operator.Index == poolIndex {
			n++
		}
	}
	return n
}

// Elements returns a copy of the selected operators with their parameters.
func (a *Ansatz) Elements() []Element {
	return append([]Element(nil), a.elements...)
}

// Parameters returns a copy of the current parameter vector.
func (a *Ansatz) Parameters() []float64 {
	out := make([]float64, len(a.elements))
	for i, el := range a.elements {
		out[i] = el.Theta
	}
	return out
}

// SetParameters rewrites the parameter vector, typically with an optimizer
// result.
func (a *Ansatz) SetParameters(theta []float64) error {
	if len(theta) != len(a.elements) {
		return fmt.Errorf("got %d parameters for %d ansatz operators", len(theta), len(a.elements))
	}
	for i := range a.elements {
		a.elements[i].Theta = theta[i]
	}
	return nil
}

// Labels returns the selected operator labels in order.
func (a *Ansatz) Labels() []string {
	out := make([]string, len(a.elements))
	for i, el := range a.elements {
		out[i] = el.Operator.Label
	}
	return out
}

// Circuit materializes the bound circuit: the reference preparation followed
// by every operator's rotation factors. A parameter θ on a generator term
// with coefficient c becomes a Pauli rotation of angle −2cθ, which composes
// to exp(iθG) because the factors of one generator commute.
func (a *Ansatz) Circuit(numQubits int, prepare uint64) quantum.Circuit {
	c, _ := a.CircuitWith(a.Parameters(), numQubits, prepare)
	return c
}

// CircuitWith materializes the circuit for an explicit parameter vector
// without touching the stored parameters. Optimizers probe candidate points
// through this.
func (a *Ansatz) CircuitWith(theta []float64, numQubits int, prepare uint64) (quantum.Circuit, error) {
	if len(theta) != len(a.elements) {
		return quantum.Circuit{}, fmt.Errorf("got %d parameters for %d ansatz operators", len(theta), len(a.elements))
	}
	total := 0
	for _, el := range a.elements {
		total += len(el.Operator.Rotations)
	}
	rotations := make([]quantum.Rotation, 0, total)
	for i, el := range a.elements {
		for _, r := range el.Operator.Rotations {
			rotations = append(rotations, quantum.Rotation{
				Generator: r.Generator,
				Theta:     -2 * r.Theta * theta[i],
			})
		}
	}
	return quantum.Circuit{NumQubits: numQubits, Prepare: prepare, Rotations: rotations}, nil
}
