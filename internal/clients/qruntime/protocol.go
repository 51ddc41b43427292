package qruntime

import (
	"github.com/qerplab/qerp/internal/quantum"
)

const (
	modeHistogram   = "histogram"
	modeExpectation = "expectation"
)

// jobRequest is the submission body. Pauli strings travel as labels in
// qubit order, the same form the records use for bitstrings.
type jobRequest struct {
	Backend    string         `json:"backend"`
	Mode       string         `json:"mode"`
	Circuit    circuitPayload `json:"circuit"`
	Observable []termPayload  `json:"observable,omitempty"`
	Shots      int            `json:"shots"`
	Seed       int64          `json:"seed"`
	NoiseScale float64        `json:"noise_scale"`
}

type circuitPayload struct {
	NumQubits int               `json:"num_qubits"`
	Prepare   string            `json:"prepare"`
	Rotations []rotationPayload `json:"rotations"`
}

type rotationPayload struct {
	Pauli string  `json:"pauli"`
	Theta float64 `json:"theta"`
}

type termPayload struct {
	Pauli string  `json:"pauli"`
	Real  float64 `json:"real"`
	Imag  float64 `json:"imag"`
}

type jobCreated struct {
	JobID string `json:"job_id"`
}

type jobStatus struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// jobResult carries one of the two payloads depending on the job mode.
// Value is a pointer so a missing expectation is distinguishable from zero.
type jobResult struct {
	Counts   map[string]int `json:"counts,omitempty"`
	Value    *float64       `json:"value,omitempty"`
	Variance float64        `json:"variance,omitempty"`
	Shots    int            `json:"shots,omitempty"`
}

func encodeCircuit(c quantum.Circuit) circuitPayload {
	rotations := make([]rotationPayload, len(c.Rotations))
	for i, r := range c.Rotations {
		rotations[i] = rotationPayload{
			Pauli: r.Generator.Label(c.NumQubits),
			Theta: r.Theta,
		}
	}
	return circuitPayload{
		NumQubits: c.NumQubits,
		Prepare:   quantum.BitstringLabel(c.Prepare, c.NumQubits),
		Rotations: rotations,
	}
}

func encodeObservable(obs quantum.Operator) []termPayload {
	terms := make([]termPayload, len(obs.Terms))
	for i, t := range obs.Terms {
		terms[i] = termPayload{
			Pauli: t.Pauli.Label(obs.NumQubits),
			Real:  real(t.Coeff),
			Imag:  imag(t.Coeff),
		}
	}
	return terms
}
