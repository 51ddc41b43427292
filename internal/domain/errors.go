package domain

import (
	"errors"
	"fmt"
)

// ErrBackendUnavailable is returned once bounded retries against an executor
// backend are exhausted. It is fatal for the run.
var ErrBackendUnavailable = errors.New("backend unavailable")

// ErrNotFound is returned by repositories when a record does not exist.
var ErrNotFound = errors.New("not found")

// MappingError reports an unmappable active-space problem: broken tensor
// symmetries, impossible electron counts or an unsupported tapering request.
// Mapping errors are deterministic and never retried.
type MappingError struct {
	Scheme MappingScheme
	Reason string
}

func (e *MappingError) Error() string {
	if e.Scheme == "" {
		return fmt.Sprintf("hamiltonian mapping failed: %s", e.Reason)
	}
	return fmt.Sprintf("hamiltonian mapping failed (%s): %s", e.Scheme, e.Reason)
}

// NewMappingError creates a MappingError with a formatted reason.
func NewMappingError(scheme MappingScheme, format string, args ...interface{}) *MappingError {
	return &MappingError{Scheme: scheme, Reason: fmt.Sprintf(format, args...)}
}

// IsMappingError reports whether err wraps a MappingError.
func IsMappingError(err error) bool {
	var me *MappingError
	return errors.As(err, &me)
}

// RunError wraps a fatal failure with the pipeline stage and iteration it
// occurred in. A run that fails carries no energy estimate.
type RunError struct {
	Stage     string
	Iteration int
	Err       error
}

func (e *RunError) Error() string {
	return fmt.Sprintf("run failed at stage %q (iteration %d): %v", e.Stage, e.Iteration, e.Err)
}

func (e *RunError) Unwrap() error {
	return e.Err
}

// NewRunError wraps err with stage and iteration context.
func NewRunError(stage string, iteration int, err error) *RunError {
	return &RunError{Stage: stage, Iteration: iteration, Err: err}
}
