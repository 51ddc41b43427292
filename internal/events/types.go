// Package events provides event management functionality.
package events

import (
	"time"
)

// EventType represents different event types
type EventType string

const (
	// Run lifecycle events
	RunQueued          EventType = "RUN_QUEUED"
	RunStarted         EventType = "RUN_STARTED"
	IterationCompleted EventType = "ITERATION_COMPLETED"
	RunCompleted       EventType = "RUN_COMPLETED"
	RunFailed          EventType = "RUN_FAILED"

	// Calibration and archival events
	CalibrationUpdated EventType = "CALIBRATION_UPDATED"
	CalibrationStale   EventType = "CALIBRATION_STALE"
	ArchiveCreated     EventType = "ARCHIVE_CREATED"

	// System events
	SystemStatusChanged EventType = "SYSTEM_STATUS_CHANGED"
	ErrorOccurred       EventType = "ERROR_OCCURRED"

	// Scheduler job lifecycle events
	JobStarted   EventType = "JOB_STARTED"
	JobCompleted EventType = "JOB_COMPLETED"
	JobFailed    EventType = "JOB_FAILED"
)

// Event represents a system event
type Event struct {
	Type      EventType              `json:"type"`
	Timestamp time.Time              `json:"timestamp"`
	Data      map[string]interface{} `json:"data"`
	Module    string                 `json:"module"`
}
