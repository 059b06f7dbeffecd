package orchestrator

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/openfroyo/ironfleet/pkg/directory"
	"github.com/openfroyo/ironfleet/pkg/engine"
	"github.com/openfroyo/ironfleet/pkg/manifest"
	"github.com/openfroyo/ironfleet/pkg/telemetry"
)

// DriftRecorder persists drift detections.
type DriftRecorder interface {
	RecordDrift(ctx context.Context, runID string, d *engine.DriftDetection) error
}

// MachineDiff is the planned operation for one machine.
type MachineDiff struct {
	Machine   string
	Operation engine.OperationType

	// Drift holds the comparison; its status is unknown when the machine
	// could not be observed.
	Drift *engine.DriftDetection

	// Err is set when observation failed for a reason other than a
	// missing node record.
	Err error
}

// DiffSummary counts planned operations.
type DiffSummary struct {
	Total    int `json:"total"`
	ToCreate int `json:"to_create"`
	ToUpdate int `json:"to_update"`
	NoChange int `json:"no_change"`
	Errors   int `json:"errors"`
}

// DiffResult is the plan for a batch of machines.
type DiffResult struct {
	Machines  []MachineDiff
	Summary   DiffSummary
	Timestamp time.Time
}

// HasChanges reports whether any machine needs a create or an update.
func (r *DiffResult) HasChanges() bool {
	return r.Summary.ToCreate > 0 || r.Summary.ToUpdate > 0
}

// Planner compares desired manifests with observed ones.
type Planner struct {
	observer    *Observer
	recorder    DriftRecorder
	concurrency int
}

// NewPlanner creates a Planner. recorder may be nil.
func NewPlanner(observer *Observer, recorder DriftRecorder, concurrency int) *Planner {
	if concurrency <= 0 {
		concurrency = DefaultConfig().Concurrency
	}
	return &Planner{observer: observer, recorder: recorder, concurrency: concurrency}
}

// ComputeDiff observes every machine and classifies it as create (no node
// record), update (drifted) or noop (in sync). Observation failures are
// reported per machine; only an invalid desired manifest fails the call.
func (p *Planner) ComputeDiff(ctx context.Context, runID string, machines []Machine) (*DiffResult, error) {
	desired := make([]manifest.Canonical, len(machines))
	for i, m := range machines {
		c, err := m.Manifest.Canonical()
		if err != nil {
			return nil, engine.NewPermanentError("invalid desired manifest", err).
				WithCode(engine.ErrCodeValidation).
				WithResource(m.Name())
		}
		desired[i] = c
	}

	result := &DiffResult{
		Machines:  make([]MachineDiff, len(machines)),
		Summary:   DiffSummary{Total: len(machines)},
		Timestamp: time.Now().UTC(),
	}

	var g errgroup.Group
	g.SetLimit(p.concurrency)
	for i, m := range machines {
		g.Go(func() error {
			result.Machines[i] = p.computeMachineDiff(ctx, m.Name(), desired[i])
			return nil
		})
	}
	_ = g.Wait()

	metrics := telemetry.MetricsFrom(ctx)
	events := telemetry.EventsFrom(ctx)
	for _, d := range result.Machines {
		switch {
		case d.Err != nil:
			result.Summary.Errors++
		case d.Operation == engine.OperationCreate:
			result.Summary.ToCreate++
		case d.Operation == engine.OperationUpdate:
			result.Summary.ToUpdate++
			_ = events.PublishDriftDetected(runID, d.Machine, len(d.Drift.Drifts))
		default:
			result.Summary.NoChange++
		}
		metrics.RecordDriftDetection(string(d.Drift.Status))

		if p.recorder != nil {
			if err := p.recorder.RecordDrift(ctx, runID, d.Drift); err != nil {
				return nil, fmt.Errorf("record drift for %s: %w", d.Machine, err)
			}
		}
	}
	return result, nil
}

func (p *Planner) computeMachineDiff(ctx context.Context, name string, desired manifest.Canonical) MachineDiff {
	diff := MachineDiff{Machine: name}

	observed, err := p.observer.Observe(ctx, name)
	if directory.IsNotFound(err) {
		diff.Operation = engine.OperationCreate
		diff.Drift = manifest.Unobserved(name, desired)
		return diff
	}
	if err == nil {
		var canonical manifest.Canonical
		if canonical, err = observed.Canonical(); err == nil {
			diff.Drift, err = manifest.Detect(name, desired, canonical)
		}
	}
	if err != nil {
		diff.Err = err
		diff.Drift = manifest.Unobserved(name, desired)
		return diff
	}

	diff.Operation = engine.OperationNoop
	if diff.Drift.HasDrift() {
		diff.Operation = engine.OperationUpdate
	}
	return diff
}
