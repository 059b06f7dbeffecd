// Package engine holds the types shared by every ironfleet package: the
// classified error taxonomy, run and drift statuses, and the records a sync
// run produces.
//
// # Error Classification
//
// Failures that cross a package boundary are *EngineError values. The class
// decides whether the orchestrator retries a call:
//
//   - Transient: temporary failures that may succeed on retry
//   - Throttled: rate limiting that requires backoff
//   - Conflict: concurrent modification of the same record
//   - Permanent: failures retrying cannot fix
//
// Codes identify the failing concern (RESOLUTION_FAILED, LOOKUP_FAILED,
// SUBSERVICE_FAILED, VALIDATION_ERROR, ...):
//
//	err := engine.NewPermanentError("duplicate component", cause).
//	    WithCode(engine.ErrCodeValidation).
//	    WithResource("prod-web-app-0")
//
//	if engine.IsRetryable(err) {
//	    // back off and call again
//	}
//
// # Records
//
//   - Change: one field-level drift between observed and desired manifests
//   - DriftDetection: all drift for one machine, with fingerprints
//   - Run, RunSummary: one execution of a phase sequence
//   - PhaseResult: one sub-service outcome, as persisted
//   - Event: a timeline entry published during runs and policy checks
package engine
