package events

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestRunStatusData tests RunStatusData struct
func TestRunStatusData(t *testing.T) {
	data := RunStatusData{
		RunID:      "run_abc123",
		Status:     "running",
		PathwayID:  "neb_path_7",
		ImageIndex: 2,
	}

	// Test JSON marshaling
	jsonData, err := json.Marshal(data)
	require.NoError(t, err)
	assert.Contains(t, string(jsonData), "run_abc123")
	assert.Contains(t, string(jsonData), "running")
	assert.Contains(t, string(jsonData), "neb_path_7")

	// Test JSON unmarshaling
	var unmarshaled RunStatusData
	err = json.Unmarshal(jsonData, &unmarshaled)
	require.NoError(t, err)
	assert.Equal(t, data.RunID, unmarshaled.RunID)
	assert.Equal(t, data.Status, unmarshaled.Status)
	assert.Equal(t, data.PathwayID, unmarshaled.PathwayID)
	assert.Equal(t, data.ImageIndex, unmarshaled.ImageIndex)
}

// TestRunStatusDataEventType tests that the event type follows the status
func TestRunStatusDataEventType(t *testing.T) {
	tests := []struct {
		status   string
		expected EventType
	}{
		{"queued", RunQueued},
		{"running", RunStarted},
		{"converged", RunCompleted},
		{"max_iterations", RunCompleted},
		{"failed", RunFailed},
		{"bogus", RunQueued},
	}

	for _, tt := range tests {
		data := &RunStatusData{Status: tt.status}
		assert.Equal(t, tt.expected, data.EventType(), "status %q", tt.status)
	}
}

// TestIterationCompletedData tests IterationCompletedData struct
func TestIterationCompletedData(t *testing.T) {
	subspace := -1.1372838
	data := IterationCompletedData{
		RunID:          "run_abc123",
		Iteration:      4,
		OperatorLabel:  "d0,1->2,3",
		Score:          0.0821,
		Energy:         -1.1361894,
		SubspaceEnergy: &subspace,
		BasisSize:      14,
		AnsatzLength:   4,
		Flags:          []string{"LowSymmetryYield"},
	}

	jsonData, err := json.Marshal(data)
	require.NoError(t, err)
	assert.Contains(t, string(jsonData), "d0,1->2,3")
	assert.Contains(t, string(jsonData), "LowSymmetryYield")

	var unmarshaled IterationCompletedData
	err = json.Unmarshal(jsonData, &unmarshaled)
	require.NoError(t, err)
	assert.Equal(t, data.Iteration, unmarshaled.Iteration)
	require.NotNil(t, unmarshaled.SubspaceEnergy)
	assert.InDelta(t, *data.SubspaceEnergy, *unmarshaled.SubspaceEnergy, 1e-12)
	assert.Equal(t, data.Flags, unmarshaled.Flags)
	assert.Equal(t, IterationCompleted, data.EventType())
}

// TestCalibrationUpdatedData tests CalibrationUpdatedData struct
func TestCalibrationUpdatedData(t *testing.T) {
	data := CalibrationUpdatedData{
		Backend: "simulator",
		Qubits:  4,
	}

	jsonData, err := json.Marshal(data)
	require.NoError(t, err)
	assert.Contains(t, string(jsonData), "simulator")

	var unmarshaled CalibrationUpdatedData
	err = json.Unmarshal(jsonData, &unmarshaled)
	require.NoError(t, err)
	assert.Equal(t, data.Backend, unmarshaled.Backend)
	assert.Equal(t, data.Qubits, unmarshaled.Qubits)
	assert.Equal(t, CalibrationUpdated, data.EventType())
}

// TestJobStatusDataEventType tests that the event type follows the status
func TestJobStatusDataEventType(t *testing.T) {
	tests := []struct {
		status   string
		expected EventType
	}{
		{"started", JobStarted},
		{"completed", JobCompleted},
		{"failed", JobFailed},
		{"unknown", JobStarted},
	}

	for _, tt := range tests {
		data := &JobStatusData{JobName: "wal_checkpoint", Status: tt.status}
		assert.Equal(t, tt.expected, data.EventType(), "status %q", tt.status)
	}
}

// TestEventWithDataRoundTrip tests typed serialization round-trips
func TestEventWithDataRoundTrip(t *testing.T) {
	event := &EventWithData{
		Type:      RunCompleted,
		Timestamp: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
		Module:    "solver",
		Data: &RunStatusData{
			RunID:  "run_xyz",
			Status: "completed",
		},
	}

	jsonData, err := json.Marshal(event)
	require.NoError(t, err)

	var decoded EventWithData
	err = json.Unmarshal(jsonData, &decoded)
	require.NoError(t, err)

	assert.Equal(t, RunCompleted, decoded.Type)
	assert.Equal(t, "solver", decoded.Module)

	runData, ok := decoded.Data.(*RunStatusData)
	require.True(t, ok, "expected *RunStatusData, got %T", decoded.Data)
	assert.Equal(t, "run_xyz", runData.RunID)
}

// TestEventWithDataUnknownType falls back to generic data
func TestEventWithDataUnknownType(t *testing.T) {
	raw := `{"type":"SOMETHING_ELSE","timestamp":"2025-06-01T12:00:00Z","module":"x","data":{"k":"v"}}`

	var decoded EventWithData
	err := json.Unmarshal([]byte(raw), &decoded)
	require.NoError(t, err)

	generic, ok := decoded.Data.(*GenericEventData)
	require.True(t, ok, "expected *GenericEventData, got %T", decoded.Data)
	assert.Equal(t, "v", generic.Data["k"])
}
