package orchestrator

import (
	"errors"
	"fmt"
	"time"

	"github.com/openfroyo/ironfleet/pkg/engine"
)

// PhaseReport aggregates the outcomes of one phase over a batch.
type PhaseReport struct {
	Phase Phase
	RunID string

	// Machines are the batch's machine names in input order.
	Machines []string

	// Outcomes are ordered by machine, then by sub-service order.
	Outcomes []Outcome

	StartedAt   time.Time
	CompletedAt time.Time
}

// Duration is the phase's wall time.
func (r *PhaseReport) Duration() time.Duration {
	return r.CompletedAt.Sub(r.StartedAt)
}

// ByMachine groups outcomes by machine name.
func (r *PhaseReport) ByMachine() map[string][]Outcome {
	out := make(map[string][]Outcome, len(r.Machines))
	for _, o := range r.Outcomes {
		out[o.Machine] = append(out[o.Machine], o)
	}
	return out
}

// Failed lists the machines with at least one failed call, in batch order.
func (r *PhaseReport) Failed() []string {
	failed := make(map[string]bool)
	for _, o := range r.Outcomes {
		if o.Err != nil {
			failed[o.Machine] = true
		}
	}
	out := make([]string, 0, len(failed))
	for _, m := range r.Machines {
		if failed[m] {
			out = append(out, m)
		}
	}
	return out
}

// Status is succeeded when nothing failed, failed when every machine
// failed and partial otherwise.
func (r *PhaseReport) Status() engine.RunStatus {
	return statusOf(len(r.Failed()), len(r.Machines))
}

// Summary counts the phase's outcomes.
func (r *PhaseReport) Summary() engine.RunSummary {
	var s engine.RunSummary
	for _, o := range r.Outcomes {
		s.Total++
		if o.Err != nil {
			s.Failed++
		} else {
			s.Succeeded++
		}
		if o.Attempts > 1 {
			s.Retried++
		}
	}
	return s
}

// Err joins the errors of all failed calls, nil when nothing failed.
func (r *PhaseReport) Err() error {
	var errs []error
	for _, o := range r.Outcomes {
		if o.Err != nil {
			errs = append(errs, o.Err)
		}
	}
	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%s: %d of %d machines failed: %w",
		r.Phase, len(r.Failed()), len(r.Machines), errors.Join(errs...))
}

// Results converts the outcomes into persisted phase results.
func (r *PhaseReport) Results() []engine.PhaseResult {
	out := make([]engine.PhaseResult, 0, len(r.Outcomes))
	for _, o := range r.Outcomes {
		res := engine.PhaseResult{
			RunID:      r.RunID,
			Phase:      string(r.Phase),
			Machine:    o.Machine,
			Service:    o.Service,
			Capability: string(o.Capability),
			Succeeded:  o.Err == nil,
			Attempts:   o.Attempts,
			Duration:   o.Duration,
			RecordedAt: r.CompletedAt,
		}
		if o.Err != nil {
			res.Error = o.Err.Error()
			res.ErrorClass = engine.ClassOf(o.Err)
		}
		out = append(out, res)
	}
	return out
}

func statusOf(failed, total int) engine.RunStatus {
	switch {
	case failed == 0:
		return engine.RunStatusSucceeded
	case failed == total:
		return engine.RunStatusFailed
	default:
		return engine.RunStatusPartial
	}
}
