package resolve

import (
	"errors"
	"fmt"
	"strings"

	"github.com/openfroyo/ironfleet/pkg/engine"
)

// ResolutionError reports an entity whose identity is incomplete after
// merging. Only that entity and its children are skipped.
type ResolutionError struct {
	// Kind is "realm", "cluster", "facet" or "server".
	Kind string

	// Chain is the partial name chain from the realm down, with empty
	// strings where a name is missing.
	Chain []string

	// Missing lists the absent fields by their JSON names.
	Missing []string

	// Cause is set when merging the entity's layers or same-named
	// children failed.
	Cause error
}

// Error implements the error interface.
func (e *ResolutionError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("resolve %s %q: %v", e.Kind, strings.Join(e.Chain, "/"), e.Cause)
	}
	return fmt.Sprintf("resolve %s %q: missing %s",
		e.Kind, strings.Join(e.Chain, "/"), strings.Join(e.Missing, ", "))
}

// Unwrap returns the merge failure, if any.
func (e *ResolutionError) Unwrap() error {
	return e.Cause
}

// Classified wraps e in a permanent engine error with code RESOLUTION_FAILED.
func (e *ResolutionError) Classified() *engine.EngineError {
	return engine.NewPermanentError("resolution failed", e).
		WithCode(engine.ErrCodeResolution).
		WithResource(strings.Join(e.Chain, "/")).
		WithOperation("resolve").
		WithDetail("missing", e.Missing)
}

// Err joins every resolution error of the result, or returns nil.
func (r *Result) Err() error {
	if len(r.Errors) == 0 {
		return nil
	}
	errs := make([]error, len(r.Errors))
	for i, e := range r.Errors {
		errs[i] = e.Classified()
	}
	return errors.Join(errs...)
}
