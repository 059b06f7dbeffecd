package engine

import (
	"encoding/json"
	"fmt"
)

// RunStatus is the status of a sync run or of a single phase within it.
type RunStatus string

const (
	// RunStatusPending indicates the run is recorded but not started.
	RunStatusPending RunStatus = "pending"

	// RunStatusRunning indicates phases are executing.
	RunStatusRunning RunStatus = "running"

	// RunStatusSucceeded indicates every sub-service call succeeded.
	RunStatusSucceeded RunStatus = "succeeded"

	// RunStatusFailed indicates every machine had at least one failure.
	RunStatusFailed RunStatus = "failed"

	// RunStatusCancelled indicates the context was cancelled mid-run.
	RunStatusCancelled RunStatus = "cancelled"

	// RunStatusPartial indicates some machines failed and others did not.
	RunStatusPartial RunStatus = "partial"
)

// IsTerminal reports whether the status is final.
func (s RunStatus) IsTerminal() bool {
	switch s {
	case RunStatusSucceeded, RunStatusFailed, RunStatusCancelled, RunStatusPartial:
		return true
	}
	return false
}

// IsActive reports whether the run is pending or running.
func (s RunStatus) IsActive() bool {
	return s == RunStatusPending || s == RunStatusRunning
}

// Validate checks that s is a known status.
func (s RunStatus) Validate() error {
	switch s {
	case RunStatusPending, RunStatusRunning, RunStatusSucceeded,
		RunStatusFailed, RunStatusCancelled, RunStatusPartial:
		return nil
	default:
		return fmt.Errorf("invalid run status: %s", s)
	}
}

// MarshalJSON encodes the status as a plain string.
func (s RunStatus) MarshalJSON() ([]byte, error) {
	return json.Marshal(string(s))
}

// UnmarshalJSON decodes and validates the status.
func (s *RunStatus) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return err
	}
	*s = RunStatus(str)
	return s.Validate()
}

// OperationType is what the planner intends to do with a machine.
type OperationType string

const (
	// OperationCreate means the machine is not registered in the directory.
	OperationCreate OperationType = "create"

	// OperationUpdate means the observed manifest drifted from the desired one.
	OperationUpdate OperationType = "update"

	// OperationNoop means desired and observed manifests are equal.
	OperationNoop OperationType = "noop"
)

// Validate checks that o is a known operation.
func (o OperationType) Validate() error {
	switch o {
	case OperationCreate, OperationUpdate, OperationNoop:
		return nil
	default:
		return fmt.Errorf("invalid operation type: %s", o)
	}
}

// DriftStatus is the result of comparing a machine's manifests.
type DriftStatus string

const (
	// DriftStatusInSync indicates the canonical manifests are equal.
	DriftStatusInSync DriftStatus = "in_sync"

	// DriftStatusDrifted indicates at least one field differs.
	DriftStatusDrifted DriftStatus = "drifted"

	// DriftStatusUnknown indicates the machine could not be observed.
	DriftStatusUnknown DriftStatus = "unknown"
)

// Validate checks that s is a known drift status.
func (s DriftStatus) Validate() error {
	switch s {
	case DriftStatusInSync, DriftStatusDrifted, DriftStatusUnknown:
		return nil
	default:
		return fmt.Errorf("invalid drift status: %s", s)
	}
}

// EventType names an entry in the run timeline.
type EventType string

const (
	EventTypeRunStarted       EventType = "run_started"
	EventTypeRunCompleted     EventType = "run_completed"
	EventTypeRunFailed        EventType = "run_failed"
	EventTypePhaseStarted     EventType = "phase_started"
	EventTypePhaseCompleted   EventType = "phase_completed"
	EventTypePhaseFailed      EventType = "phase_failed"
	EventTypeSubserviceFailed EventType = "subservice_failed"
	EventTypeDriftDetected    EventType = "drift_detected"
	EventTypePolicyViolation  EventType = "policy_violation"
	EventTypeError            EventType = "error"
	EventTypeWarning          EventType = "warning"
	EventTypeInfo             EventType = "info"
)

// Severity maps the event type to a log level name.
func (e EventType) Severity() string {
	switch e {
	case EventTypeRunFailed, EventTypePhaseFailed, EventTypeSubserviceFailed, EventTypeError:
		return "error"
	case EventTypeWarning, EventTypeDriftDetected, EventTypePolicyViolation:
		return "warning"
	default:
		return "info"
	}
}
