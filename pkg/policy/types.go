package policy

import (
	"time"

	"github.com/openfroyo/ironfleet/pkg/engine"
)

// Severity represents the severity level of a policy violation.
type Severity string

const (
	// SeverityInfo is for informational messages.
	SeverityInfo Severity = "info"

	// SeverityWarning is for warnings that should be reviewed.
	SeverityWarning Severity = "warning"

	// SeverityError is for errors that should block operations.
	SeverityError Severity = "error"

	// SeverityCritical is for critical violations that must be addressed immediately.
	SeverityCritical Severity = "critical"
)

// Blocking reports whether the severity blocks an operation.
func (s Severity) Blocking() bool {
	return s == SeverityError || s == SeverityCritical
}

// Policy represents a policy rule with its Rego code. The module must
// define a "deny" set; each member is a message string or an object with
// "message", "severity" and optional "details".
type Policy struct {
	// Name is the unique name of the policy.
	Name string `json:"name"`

	// Description provides a human-readable description.
	Description string `json:"description"`

	// Rego contains the Rego policy code.
	Rego string `json:"rego"`

	// Severity is the default severity for violations.
	Severity Severity `json:"severity"`

	// Enabled indicates if the policy is active.
	Enabled bool `json:"enabled"`

	// Builtin marks the policies shipped with the engine.
	Builtin bool `json:"builtin,omitempty"`

	// Tags are labels for organizing policies.
	Tags []string `json:"tags,omitempty"`

	// Metadata contains additional policy metadata.
	Metadata map[string]interface{} `json:"metadata,omitempty"`

	// CreatedAt is when the policy was created.
	CreatedAt time.Time `json:"created_at"`

	// UpdatedAt is when the policy was last updated.
	UpdatedAt time.Time `json:"updated_at"`
}

// PolicyViolation represents a single policy violation.
type PolicyViolation struct {
	// Policy is the name of the policy that was violated.
	Policy string `json:"policy"`

	// Machine is the full name of the machine that violated the policy.
	Machine string `json:"machine,omitempty"`

	// Message is a human-readable violation message.
	Message string `json:"message"`

	// Severity is the violation severity level.
	Severity Severity `json:"severity"`

	// Details contains additional violation details.
	Details map[string]interface{} `json:"details,omitempty"`

	// DetectedAt is when the violation was detected.
	DetectedAt time.Time `json:"detected_at"`
}

// PolicyResult represents the result of policy evaluation.
type PolicyResult struct {
	// Allowed is false when any violation is blocking.
	Allowed bool `json:"allowed"`

	// Violations lists all policy violations.
	Violations []PolicyViolation `json:"violations,omitempty"`

	// Errors lists policies that failed to evaluate. They do not block.
	Errors []string `json:"errors,omitempty"`

	// EvaluatedAt is when the policy was evaluated.
	EvaluatedAt time.Time `json:"evaluated_at"`

	// EvaluatedPolicies lists the names of policies that were evaluated.
	EvaluatedPolicies []string `json:"evaluated_policies"`

	// Duration is how long the evaluation took.
	Duration time.Duration `json:"duration"`
}

// Blocking returns the violations that block the operation.
func (r *PolicyResult) Blocking() []PolicyViolation {
	var out []PolicyViolation
	for _, v := range r.Violations {
		if v.Severity.Blocking() {
			out = append(out, v)
		}
	}
	return out
}

// merge folds other into r.
func (r *PolicyResult) merge(other *PolicyResult) {
	r.Allowed = r.Allowed && other.Allowed
	r.Violations = append(r.Violations, other.Violations...)
	r.Errors = append(r.Errors, other.Errors...)
	if len(r.EvaluatedPolicies) == 0 {
		r.EvaluatedPolicies = other.EvaluatedPolicies
	}
}

// PolicyInput is the document policies see as "input".
type PolicyInput struct {
	// Machine is the full machine name.
	Machine string `json:"machine"`

	// Manifest is the machine's manifest in wire form.
	Manifest map[string]interface{} `json:"manifest"`

	// Drift is set when evaluating a detected drift.
	Drift *engine.DriftDetection `json:"drift,omitempty"`

	// Context provides additional evaluation context.
	Context *PolicyContext `json:"context"`
}

// PolicyContext provides context information for policy evaluation.
type PolicyContext struct {
	// User is the user performing the operation.
	User string `json:"user,omitempty"`

	// Timestamp is when the evaluation is occurring.
	Timestamp time.Time `json:"timestamp"`

	// Operation is the operation being performed (validate, diff, sync).
	Operation string `json:"operation,omitempty"`

	// DryRun indicates if this is a dry-run evaluation.
	DryRun bool `json:"dry_run"`

	// Metadata contains additional context metadata.
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// PolicyBundle represents a collection of related policies.
type PolicyBundle struct {
	// Name is the unique name of the bundle.
	Name string `json:"name"`

	// Version is the bundle version.
	Version string `json:"version"`

	// Description provides a human-readable description.
	Description string `json:"description"`

	// Policies are the policies in this bundle.
	Policies []Policy `json:"policies"`

	// CreatedAt is when the bundle was created.
	CreatedAt time.Time `json:"created_at"`
}
