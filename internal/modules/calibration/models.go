// Package calibration stores per-backend readout calibration data: one 2x2
// confusion matrix per qubit plus an optional symmetry sector declaration.
// Data is uploaded over HTTP and read-only during solver runs; the readout
// mitigation stage and the symmetry filter are the consumers.
package calibration

import (
	"fmt"
	"math"
	"time"
)

// ConfusionMatrix is the measured readout assignment matrix of a single
// qubit. Columns are prepared states, rows are read states, so the full
// matrix is
//
//	| P(0|0)    1-P(1|1) |
//	| 1-P(0|0)  P(1|1)   |
//
// and both columns sum to one.
type ConfusionMatrix struct {
	Qubit      int       `json:"qubit"`
	P0Given0   float64   `json:"p0_given_0"`
	P1Given1   float64   `json:"p1_given_1"`
	MeasuredAt time.Time `json:"measured_at"`
}

// Validate checks index and probability ranges and rejects matrices whose
// assignment fidelities sum to one or less, since those cannot be inverted
// into a correction.
func (m ConfusionMatrix) Validate() error {
	if m.Qubit < 0 {
		return fmt.Errorf("qubit index %d is negative", m.Qubit)
	}
	if m.P0Given0 < 0 || m.P0Given0 > 1 {
		return fmt.Errorf("qubit %d: P(0|0)=%v outside [0, 1]", m.Qubit, m.P0Given0)
	}
	if m.P1Given1 < 0 || m.P1Given1 > 1 {
		return fmt.Errorf("qubit %d: P(1|1)=%v outside [0, 1]", m.Qubit, m.P1Given1)
	}
	if m.determinant() <= 0 {
		return fmt.Errorf("qubit %d: assignment fidelities sum to %v, need more than 1 for an invertible matrix",
			m.Qubit, m.P0Given0+m.P1Given1)
	}
	return nil
}

// Matrix returns the full 2x2 assignment matrix.
func (m ConfusionMatrix) Matrix() [2][2]float64 {
	return [2][2]float64{
		{m.P0Given0, 1 - m.P1Given1},
		{1 - m.P0Given0, m.P1Given1},
	}
}

func (m ConfusionMatrix) determinant() float64 {
	return m.P0Given0 + m.P1Given1 - 1
}

// Inverse returns the inverse assignment matrix, used to unfold readout
// errors from a measured histogram.
func (m ConfusionMatrix) Inverse() ([2][2]float64, error) {
	det := m.determinant()
	if math.Abs(det) < 1e-12 {
		return [2][2]float64{}, fmt.Errorf("confusion matrix for qubit %d is singular", m.Qubit)
	}
	return [2][2]float64{
		{m.P1Given1 / det, (m.P1Given1 - 1) / det},
		{(m.P0Given0 - 1) / det, m.P0Given0 / det},
	}, nil
}

// ConditionNumber returns the 1-norm condition number of the assignment
// matrix, +Inf when singular. A perfectly calibrated qubit scores 1; the
// number grows as the readout degrades toward a coin flip.
func (m ConfusionMatrix) ConditionNumber() float64 {
	inv, err := m.Inverse()
	if err != nil {
		return math.Inf(1)
	}
	return norm1(m.Matrix()) * norm1(inv)
}

func norm1(a [2][2]float64) float64 {
	c0 := math.Abs(a[0][0]) + math.Abs(a[1][0])
	c1 := math.Abs(a[0][1]) + math.Abs(a[1][1])
	return math.Max(c0, c1)
}

// SymmetrySector declares the particle-number sector expected from a
// backend's samples. The symmetry filter drops or reweights bitstrings
// outside the declared sector.
type SymmetrySector struct {
	Backend        string    `json:"backend"`
	AlphaElectrons int       `json:"alpha_electrons"`
	BetaElectrons  int       `json:"beta_electrons"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// Validate checks the electron counts.
func (s SymmetrySector) Validate() error {
	if s.AlphaElectrons < 0 {
		return fmt.Errorf("alpha electron count %d is negative", s.AlphaElectrons)
	}
	if s.BetaElectrons < 0 {
		return fmt.Errorf("beta electron count %d is negative", s.BetaElectrons)
	}
	return nil
}

// BackendCalibration is the full calibration snapshot of one backend.
type BackendCalibration struct {
	Backend  string            `json:"backend"`
	Matrices []ConfusionMatrix `json:"matrices"`
	Sector   *SymmetrySector   `json:"sector,omitempty"`
}

// MatrixFor returns the confusion matrix calibrated for the given qubit.
func (b *BackendCalibration) MatrixFor(qubit int) (ConfusionMatrix, bool) {
	for _, m := range b.Matrices {
		if m.Qubit == qubit {
			return m, true
		}
	}
	return ConfusionMatrix{}, false
}
