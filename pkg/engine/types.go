package engine

import (
	"encoding/json"
	"time"
)

// Change is one field-level difference between an observed and a desired
// manifest.
type Change struct {
	// Path locates the field, e.g. ".components.ntp.attributes.servers[1]".
	Path string `json:"path"`

	// Before is the observed value, nil when absent.
	Before interface{} `json:"before,omitempty"`

	// After is the desired value, nil when absent.
	After interface{} `json:"after,omitempty"`

	// Action is relative to the observed side.
	Action ChangeAction `json:"action"`
}

// ChangeAction is the kind of difference a Change describes.
type ChangeAction string

const (
	// ChangeActionAdd means the field is desired but not observed.
	ChangeActionAdd ChangeAction = "add"

	// ChangeActionRemove means the field is observed but not desired.
	ChangeActionRemove ChangeAction = "remove"

	// ChangeActionModify means both sides carry different values.
	ChangeActionModify ChangeAction = "modify"
)

// DriftDetection is the drift result for one machine.
type DriftDetection struct {
	// Machine is the server full name.
	Machine string `json:"machine"`

	// Status is the drift status.
	Status DriftStatus `json:"status"`

	// DetectedAt is when the comparison ran.
	DetectedAt time.Time `json:"detected_at"`

	// DesiredFingerprint hashes the canonical desired manifest.
	DesiredFingerprint uint64 `json:"desired_fingerprint"`

	// ObservedFingerprint hashes the canonical observed manifest.
	ObservedFingerprint uint64 `json:"observed_fingerprint"`

	// DesiredState is the canonical desired manifest.
	DesiredState json.RawMessage `json:"desired_state,omitempty"`

	// ActualState is the canonical observed manifest.
	ActualState json.RawMessage `json:"actual_state,omitempty"`

	// Drifts lists the differing fields.
	Drifts []Change `json:"drifts,omitempty"`
}

// HasDrift reports whether any field differs.
func (d *DriftDetection) HasDrift() bool {
	return d != nil && d.Status == DriftStatusDrifted
}

// Run is one execution of a sequence of sync phases over a batch of machines.
type Run struct {
	// ID is a UUID.
	ID string `json:"id"`

	// Phases are the phase names in execution order.
	Phases []string `json:"phases"`

	// Machines are the server full names in the batch.
	Machines []string `json:"machines"`

	// Status is the aggregate run status.
	Status RunStatus `json:"status"`

	// StartedAt is when the first phase began.
	StartedAt time.Time `json:"started_at"`

	// CompletedAt is set once the run is terminal.
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	// Duration is the wall time of the run.
	Duration time.Duration `json:"duration"`

	// User is who started the run.
	User string `json:"user,omitempty"`

	// Summary counts sub-service outcomes.
	Summary RunSummary `json:"summary"`

	// Metadata holds free-form labels.
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// RunSummary counts outcomes across all phases of a run.
type RunSummary struct {
	Total     int `json:"total"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
	Retried   int `json:"retried"`
}

// PhaseResult is the persisted form of one sub-service outcome.
type PhaseResult struct {
	// RunID links the result to its run.
	RunID string `json:"run_id"`

	// Phase is the phase name.
	Phase string `json:"phase"`

	// Machine is the server full name.
	Machine string `json:"machine"`

	// Service names the sub-service (clients, nodes, roles).
	Service string `json:"service"`

	// Capability is Create, Save or Load.
	Capability string `json:"capability"`

	// Succeeded is false when the call returned an error after retries.
	Succeeded bool `json:"succeeded"`

	// Attempts counts calls including retries.
	Attempts int `json:"attempts"`

	// Duration covers all attempts.
	Duration time.Duration `json:"duration"`

	// Error is the final error message.
	Error string `json:"error,omitempty"`

	// ErrorClass is the class of the final error.
	ErrorClass ErrorClass `json:"error_class,omitempty"`

	// RecordedAt is when the outcome was produced.
	RecordedAt time.Time `json:"recorded_at"`
}

// Event is an entry in a run timeline.
type Event struct {
	// ID is a UUID.
	ID string `json:"id"`

	// Type is the event type.
	Type EventType `json:"type"`

	// Timestamp is when the event happened.
	Timestamp time.Time `json:"timestamp"`

	// RunID is empty for events outside a run, such as policy checks.
	RunID string `json:"run_id,omitempty"`

	// Phase is the phase name, if any.
	Phase string `json:"phase,omitempty"`

	// Machine is the server full name, if any.
	Machine string `json:"machine,omitempty"`

	// Message is a human-readable description.
	Message string `json:"message"`

	// Details carries event-specific data.
	Details map[string]interface{} `json:"details,omitempty"`

	// Level is derived from Type.
	Level string `json:"level"`
}
