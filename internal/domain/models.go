// Package domain provides core domain models and types shared across the
// solver pipeline: measurement records, run lifecycle models, quality flags
// and the executor contract.
package domain

import (
	"sort"
	"time"
)

// MappingScheme selects the fermion-to-qubit encoding.
type MappingScheme string

const (
	MappingJordanWigner MappingScheme = "jordan-wigner"
	MappingParity       MappingScheme = "parity"
)

// OptimizerKind selects the classical parameter optimizer.
type OptimizerKind string

const (
	OptimizerNelderMead OptimizerKind = "nelder-mead"
	OptimizerBFGS       OptimizerKind = "bfgs"
)

// RunStatus tracks a run through its lifecycle.
type RunStatus string

const (
	RunStatusQueued        RunStatus = "queued"
	RunStatusRunning       RunStatus = "running"
	RunStatusConverged     RunStatus = "converged"
	RunStatusMaxIterations RunStatus = "max_iterations"
	RunStatusFailed        RunStatus = "failed"
)

// Terminal reports whether the status is final.
func (s RunStatus) Terminal() bool {
	return s == RunStatusConverged || s == RunStatusMaxIterations || s == RunStatusFailed
}

// MitigationStatus marks a processing step a measurement record has passed
// through. Statuses accumulate in application order.
type MitigationStatus string

const (
	StatusRaw              MitigationStatus = "raw"
	StatusReadoutCorrected MitigationStatus = "readout_corrected"
	StatusZNEExtrapolated  MitigationStatus = "zne_extrapolated"
	StatusSymmetryFiltered MitigationStatus = "symmetry_filtered"
)

// QualityFlag is a non-fatal quality signal attached to records and results.
// Flags degrade confidence in the estimate but never abort a run.
type QualityFlag string

const (
	FlagIllConditionedCalibration QualityFlag = "ill_conditioned_calibration"
	FlagInsufficientScalePoints   QualityFlag = "insufficient_scale_points"
	FlagLowSymmetryYield          QualityFlag = "low_symmetry_yield"
	FlagSubspaceRankDeficient     QualityFlag = "subspace_rank_deficient"
	FlagUnstableSubspace          QualityFlag = "unstable_subspace"
)

// Expectation is a finite-shot expectation estimate.
type Expectation struct {
	Value    float64 `json:"value"`
	Variance float64 `json:"variance"`
	Shots    int     `json:"shots"`
}

// ScalePoint is one expectation estimate taken at a specific noise scale,
// used by zero-noise extrapolation.
type ScalePoint struct {
	Scale    float64 `json:"scale"`
	Value    float64 `json:"value"`
	Variance float64 `json:"variance"`
}

// MeasurementRecord is the unit of data flowing from an executor through the
// mitigation pipeline. A record carries a shot histogram, an expectation
// estimate, or both, plus enough metadata to reproduce the execution.
//
// Records are treated as immutable: mitigation stages operate on and return
// copies, never the input.
type MeasurementRecord struct {
	CircuitFingerprint string  `json:"circuit_fingerprint"`
	Backend            string  `json:"backend"`
	Shots              int     `json:"shots"`
	Seed               int64   `json:"seed"`
	NoiseScale         float64 `json:"noise_scale"`

	// Counts is the raw shot histogram keyed by bitstring label (qubit 0
	// first). Nil for expectation-only records.
	Counts map[string]int `json:"counts,omitempty"`

	// Weights is the quasi-probability distribution after readout
	// correction or symmetry filtering. Nil until a histogram stage runs.
	Weights map[string]float64 `json:"weights,omitempty"`

	// Expectation is the scalar estimate, when the executor produced one or
	// extrapolation synthesized one. Nil for histogram-only records.
	Expectation *Expectation `json:"expectation,omitempty"`

	// ScalePoints holds companion estimates of the same observable at other
	// noise scales, attached before extrapolation.
	ScalePoints []ScalePoint `json:"scale_points,omitempty"`

	Statuses []MitigationStatus `json:"statuses"`
	Flags    []QualityFlag      `json:"flags,omitempty"`
}

// NewRawRecord creates a record in the initial raw state.
func NewRawRecord(fingerprint, backend string, shots int, seed int64, scale float64) *MeasurementRecord {
	return &MeasurementRecord{
		CircuitFingerprint: fingerprint,
		Backend:            backend,
		Shots:              shots,
		Seed:               seed,
		NoiseScale:         scale,
		Statuses:           []MitigationStatus{StatusRaw},
	}
}

// Clone returns a deep copy of the record.
func (r *MeasurementRecord) Clone() *MeasurementRecord {
	out := *r
	if r.Counts != nil {
		out.Counts = make(map[string]int, len(r.Counts))
		for k, v := range r.Counts {
			out.Counts[k] = v
		}
	}
	if r.Weights != nil {
		out.Weights = make(map[string]float64, len(r.Weights))
		for k, v := range r.Weights {
			out.Weights[k] = v
		}
	}
	if r.Expectation != nil {
		e := *r.Expectation
		out.Expectation = &e
	}
	out.ScalePoints = append([]ScalePoint(nil), r.ScalePoints...)
	out.Statuses = append([]MitigationStatus(nil), r.Statuses...)
	out.Flags = append([]QualityFlag(nil), r.Flags...)
	return &out
}

// HasStatus reports whether the record already passed the given stage.
func (r *MeasurementRecord) HasStatus(s MitigationStatus) bool {
	for _, got := range r.Statuses {
		if got == s {
			return true
		}
	}
	return false
}

// AddStatus appends a stage marker if not already present.
func (r *MeasurementRecord) AddStatus(s MitigationStatus) {
	if !r.HasStatus(s) {
		r.Statuses = append(r.Statuses, s)
	}
}

// HasFlag reports whether the record carries the given quality flag.
func (r *MeasurementRecord) HasFlag(f QualityFlag) bool {
	for _, got := range r.Flags {
		if got == f {
			return true
		}
	}
	return false
}

// AddFlag attaches a quality flag, deduplicated.
func (r *MeasurementRecord) AddFlag(f QualityFlag) {
	if !r.HasFlag(f) {
		r.Flags = append(r.Flags, f)
	}
}

// Distribution returns the best available probability distribution over
// bitstrings: corrected weights when a histogram stage ran, otherwise the
// normalized raw counts. Returns nil for expectation-only records.
func (r *MeasurementRecord) Distribution() map[string]float64 {
	if r.Weights != nil {
		return r.Weights
	}
	if r.Counts == nil {
		return nil
	}
	total := 0
	for _, c := range r.Counts {
		total += c
	}
	if total == 0 {
		return map[string]float64{}
	}
	dist := make(map[string]float64, len(r.Counts))
	for k, c := range r.Counts {
		dist[k] = float64(c) / float64(total)
	}
	return dist
}

// SortedBitstrings returns the distribution keys in lexicographic order,
// for deterministic iteration.
func SortedBitstrings(dist map[string]float64) []string {
	keys := make([]string, 0, len(dist))
	for k := range dist {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Provenance carries the chemistry metadata of an active-space problem
// through to the result artifact.
type Provenance struct {
	Geometry         string  `json:"geometry,omitempty" msgpack:"geometry"`
	BasisSet         string  `json:"basis_set,omitempty" msgpack:"basis_set"`
	ActiveElectrons  [2]int  `json:"active_electrons" msgpack:"active_electrons"` // α, β
	ActiveOrbitals   int     `json:"active_orbitals" msgpack:"active_orbitals"`
	FragmentOrbitals []int   `json:"fragment_orbitals,omitempty" msgpack:"fragment_orbitals"`
	ReferenceEnergy  float64 `json:"reference_energy,omitempty" msgpack:"reference_energy"`
}

// RunConfig is the per-run solver configuration submitted with a bundle.
// Zero values select documented defaults at validation time.
type RunConfig struct {
	Mapping           MappingScheme `json:"mapping"`
	TwoQubitReduction bool          `json:"two_qubit_reduction"`
	Backend           string        `json:"backend"`
	Shots             int           `json:"shots"`
	Seed              int64         `json:"seed"`
	NoiseScales       []float64     `json:"noise_scales,omitempty"`
	MaxIterations     int           `json:"max_iterations"`
	Optimizer         OptimizerKind `json:"optimizer"`
	OptimizerBudget   int           `json:"optimizer_budget"`
	EnergyTolAbs      float64       `json:"energy_tol_abs"`
	EnergyTolRel      float64       `json:"energy_tol_rel"`
	StallIterations   int           `json:"stall_iterations"`
	GradientFloor     float64       `json:"gradient_floor"`
	OperatorRepeatCap int           `json:"operator_repeat_cap"`
	SubspaceEnabled   *bool         `json:"subspace_enabled,omitempty"`
	SnapshotDepth     int           `json:"snapshot_depth"`
	MaxBasisStates    int           `json:"max_basis_states"`

	// Optional reaction-pathway grouping.
	PathwayID  string `json:"pathway_id,omitempty"`
	ImageIndex int    `json:"image_index,omitempty"`
}

// Run is the persisted lifecycle record of a solver run.
type Run struct {
	ID          string     `json:"id"`
	Status      RunStatus  `json:"status"`
	Config      RunConfig  `json:"config"`
	BundleHash  string     `json:"bundle_hash"`
	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	FinishedAt  *time.Time `json:"finished_at,omitempty"`
	Error       string     `json:"error,omitempty"`
	Progress    int        `json:"progress"` // completed iterations
	PathwayID   string     `json:"pathway_id,omitempty"`
	ImageIndex  int        `json:"image_index,omitempty"`
	Description string     `json:"description,omitempty"`
}

// IterationRecord is one entry of a run's convergence trace.
type IterationRecord struct {
	Iteration        int           `json:"iteration"`
	SelectedOperator string        `json:"selected_operator"`
	OperatorIndex    int           `json:"operator_index"`
	Score            float64       `json:"score"`
	Parameters       []float64     `json:"parameters"`
	RawEnergy        float64       `json:"raw_energy"`
	MitigatedEnergy  float64       `json:"mitigated_energy"`
	SubspaceEnergy   *float64      `json:"subspace_energy,omitempty"`
	BasisSize        int           `json:"basis_size"`
	Flags            []QualityFlag `json:"flags,omitempty"`
	Duration         time.Duration `json:"duration_ns"`
}

// RunResult is the final artifact of a terminal run.
type RunResult struct {
	RunID                  string            `json:"run_id"`
	Status                 RunStatus         `json:"status"`
	Energy                 float64           `json:"energy"`
	Uncertainty            float64           `json:"uncertainty"`
	Iterations             int               `json:"iterations"`
	Flags                  []QualityFlag     `json:"flags,omitempty"`
	Trace                  []IterationRecord `json:"trace"`
	Provenance             *Provenance       `json:"provenance,omitempty"`
	HamiltonianFingerprint string            `json:"hamiltonian_fingerprint"`
	CreatedAt              time.Time         `json:"created_at"`
}

// PathwayPoint is one image of a reaction pathway's energy profile.
type PathwayPoint struct {
	RunID       string    `json:"run_id"`
	ImageIndex  int       `json:"image_index"`
	Energy      float64   `json:"energy"`
	Uncertainty float64   `json:"uncertainty"`
	Status      RunStatus `json:"status"`
}
