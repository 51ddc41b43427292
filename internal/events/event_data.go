package events

import (
	"encoding/json"
	"time"
)

// EventData is the interface that all event data types must implement
// This allows for type-safe event data while maintaining flexibility
type EventData interface {
	// EventType returns the event type this data is associated with
	EventType() EventType
}

// RunStatusData contains data for run lifecycle events
type RunStatusData struct {
	RunID      string `json:"run_id"`
	Status     string `json:"status"` // domain.RunStatus value
	PathwayID  string `json:"pathway_id,omitempty"`
	ImageIndex int    `json:"image_index,omitempty"`
	Error      string `json:"error,omitempty"`
}

// EventType returns the event type for RunStatusData
// Note: The actual event type is determined by the Status field
func (d *RunStatusData) EventType() EventType {
	switch d.Status {
	case "queued":
		return RunQueued
	case "running":
		return RunStarted
	case "converged", "max_iterations":
		return RunCompleted
	case "failed":
		return RunFailed
	default:
		return RunQueued
	}
}

// IterationCompletedData contains data for IterationCompleted events
type IterationCompletedData struct {
	RunID          string   `json:"run_id"`
	Iteration      int      `json:"iteration"`
	OperatorLabel  string   `json:"operator_label"`
	Score          float64  `json:"score"`
	Energy         float64  `json:"energy"`
	SubspaceEnergy *float64 `json:"subspace_energy,omitempty"`
	BasisSize      int      `json:"basis_size"`
	AnsatzLength   int      `json:"ansatz_length"`
	Flags          []string `json:"flags,omitempty"`
}

// EventType returns the event type for IterationCompletedData
func (d *IterationCompletedData) EventType() EventType {
	return IterationCompleted
}

// CalibrationUpdatedData contains data for CalibrationUpdated events
type CalibrationUpdatedData struct {
	Backend string `json:"backend"`
	Qubits  int    `json:"qubits"`
}

// EventType returns the event type for CalibrationUpdatedData
func (d *CalibrationUpdatedData) EventType() EventType {
	return CalibrationUpdated
}

// CalibrationStaleData contains data for CalibrationStale events
type CalibrationStaleData struct {
	Backend    string  `json:"backend"`
	AgeHours   float64 `json:"age_hours"`
	MaxAge     float64 `json:"max_age_hours"`
	MeasuredAt string  `json:"measured_at"` // ISO 8601 timestamp
}

// EventType returns the event type for CalibrationStaleData
func (d *CalibrationStaleData) EventType() EventType {
	return CalibrationStale
}

// ArchiveCreatedData contains data for ArchiveCreated events
type ArchiveCreatedData struct {
	Key       string `json:"key"`
	SizeBytes int64  `json:"size_bytes"`
	Checksum  string `json:"checksum"`
}

// EventType returns the event type for ArchiveCreatedData
func (d *ArchiveCreatedData) EventType() EventType {
	return ArchiveCreated
}

// SystemStatusChangedData contains data for SystemStatusChanged events
type SystemStatusChangedData struct {
	Status    string `json:"status,omitempty"`
	Timestamp string `json:"timestamp"`
}

// EventType returns the event type for SystemStatusChangedData
func (d *SystemStatusChangedData) EventType() EventType {
	return SystemStatusChanged
}

// ErrorEventData contains data for ErrorOccurred events
type ErrorEventData struct {
	Error   string                 `json:"error"`
	Context map[string]interface{} `json:"context,omitempty"`
}

// EventType returns the event type for ErrorEventData
func (d *ErrorEventData) EventType() EventType {
	return ErrorOccurred
}

// JobStatusData contains data for job lifecycle events
type JobStatusData struct {
	JobName   string    `json:"job_name"`
	Status    string    `json:"status"` // "started", "completed", "failed"
	Error     string    `json:"error,omitempty"`
	Duration  float64   `json:"duration,omitempty"` // seconds
	Timestamp time.Time `json:"timestamp"`
}

// EventType returns the event type for JobStatusData
// Note: The actual event type is determined by the Status field
func (d *JobStatusData) EventType() EventType {
	switch d.Status {
	case "started":
		return JobStarted
	case "completed":
		return JobCompleted
	case "failed":
		return JobFailed
	default:
		return JobStarted
	}
}

// EventWithData represents an event with typed data
type EventWithData struct {
	Type      EventType `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Module    string    `json:"module"`
	Data      EventData `json:"data"`
}

// MarshalJSON customizes JSON serialization for EventWithData
func (e *EventWithData) MarshalJSON() ([]byte, error) {
	type Alias EventWithData
	aux := &struct {
		Data json.RawMessage `json:"data"`
		*Alias
	}{
		Alias: (*Alias)(e),
	}

	// Marshal the data separately
	if e.Data != nil {
		dataBytes, err := json.Marshal(e.Data)
		if err != nil {
			return nil, err
		}
		aux.Data = dataBytes
	}

	return json.Marshal(aux)
}

// UnmarshalJSON customizes JSON deserialization for EventWithData
func (e *EventWithData) UnmarshalJSON(data []byte) error {
	type Alias EventWithData
	aux := &struct {
		Data json.RawMessage `json:"data"`
		*Alias
	}{
		Alias: (*Alias)(e),
	}

	if err := json.Unmarshal(data, aux); err != nil {
		return err
	}

	// Unmarshal data based on event type
	if len(aux.Data) > 0 {
		var eventData EventData
		switch aux.Type {
		case RunQueued, RunStarted, RunCompleted, RunFailed:
			eventData = &RunStatusData{}
		case IterationCompleted:
			eventData = &IterationCompletedData{}
		case CalibrationUpdated:
			eventData = &CalibrationUpdatedData{}
		case CalibrationStale:
			eventData = &CalibrationStaleData{}
		case ArchiveCreated:
			eventData = &ArchiveCreatedData{}
		case SystemStatusChanged:
			eventData = &SystemStatusChangedData{}
		case ErrorOccurred:
			eventData = &ErrorEventData{}
		case JobStarted, JobCompleted, JobFailed:
			eventData = &JobStatusData{}
		default:
			// For unknown types, use raw map
			var rawData map[string]interface{}
			if err := json.Unmarshal(aux.Data, &rawData); err != nil {
				return err
			}
			eventData = &GenericEventData{Type: aux.Type, Data: rawData}
		}

		if eventData != nil {
			if err := json.Unmarshal(aux.Data, eventData); err != nil {
				return err
			}
			e.Data = eventData
		}
	}

	return nil
}

// GenericEventData is a fallback for events that don't have a specific type
type GenericEventData struct {
	Type EventType              `json:"-"`
	Data map[string]interface{} `json:"-"`
}

// EventType returns the event type for GenericEventData
func (d *GenericEventData) EventType() EventType {
	return d.Type
}

// MarshalJSON customizes JSON serialization for GenericEventData
func (d *GenericEventData) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.Data)
}

// UnmarshalJSON customizes JSON deserialization for GenericEventData
func (d *GenericEventData) UnmarshalJSON(data []byte) error {
	return json.Unmarshal(data, &d.Data)
}
