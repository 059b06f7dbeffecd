package manifest

import (
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/openfroyo/ironfleet/pkg/engine"
)

// changeReporter collects leaf differences while go-cmp walks two values.
type changeReporter struct {
	path    cmp.Path
	changes []engine.Change
}

func (r *changeReporter) PushStep(ps cmp.PathStep) {
	r.path = append(r.path, ps)
}

func (r *changeReporter) PopStep() {
	r.path = r.path[:len(r.path)-1]
}

// Report records a change for every unequal leaf. The x side of the
// comparison is the observed manifest and the y side the desired one.
func (r *changeReporter) Report(rs cmp.Result) {
	if rs.Equal() {
		return
	}
	vx, vy := r.path.Last().Values()

	change := engine.Change{Path: formatPath(r.path)}
	switch {
	case !vx.IsValid():
		change.Action = engine.ChangeActionAdd
		change.After = valueOf(vy)
	case !vy.IsValid():
		change.Action = engine.ChangeActionRemove
		change.Before = valueOf(vx)
	default:
		change.Action = engine.ChangeActionModify
		change.Before = valueOf(vx)
		change.After = valueOf(vy)
	}
	r.changes = append(r.changes, change)
}

func valueOf(v reflect.Value) interface{} {
	if !v.IsValid() || !v.CanInterface() {
		return nil
	}
	return v.Interface()
}

// formatPath renders map and slice steps as ".a.b[1]". Type assertions on
// interface values add nothing to the location and are skipped.
func formatPath(p cmp.Path) string {
	var b strings.Builder
	for _, step := range p {
		switch s := step.(type) {
		case cmp.MapIndex:
			fmt.Fprintf(&b, ".%v", s.Key())
		case cmp.SliceIndex:
			idx := s.Key()
			if idx < 0 {
				ix, iy := s.SplitKeys()
				idx = iy
				if idx < 0 {
					idx = ix
				}
			}
			fmt.Fprintf(&b, "[%d]", idx)
		}
	}
	if b.Len() == 0 {
		return "."
	}
	return b.String()
}

// Compare lists the field-level differences between a desired and an
// observed canonical manifest. It returns an empty list iff they are equal.
// Actions are relative to the observed side: add means desired but not
// observed.
func Compare(desired, observed Canonical) []engine.Change {
	r := &changeReporter{}
	cmp.Equal(map[string]interface{}(observed), map[string]interface{}(desired), cmp.Reporter(r))
	if r.changes == nil {
		return []engine.Change{}
	}
	return r.changes
}

// Detect compares desired and observed manifests of one machine and
// returns the drift record.
func Detect(machine string, desired, observed Canonical) (*engine.DriftDetection, error) {
	d := &engine.DriftDetection{
		Machine:    machine,
		DetectedAt: time.Now().UTC(),
		Drifts:     Compare(desired, observed),
		Status:     engine.DriftStatusInSync,
	}
	if len(d.Drifts) > 0 {
		d.Status = engine.DriftStatusDrifted
	}

	var err error
	if d.DesiredFingerprint, err = desired.Fingerprint(); err != nil {
		return nil, err
	}
	if d.ObservedFingerprint, err = observed.Fingerprint(); err != nil {
		return nil, err
	}
	if d.DesiredState, err = desired.JSON(); err != nil {
		return nil, fmt.Errorf("encode desired manifest: %w", err)
	}
	if d.ActualState, err = observed.JSON(); err != nil {
		return nil, fmt.Errorf("encode observed manifest: %w", err)
	}
	return d, nil
}

// Unobserved returns the drift record for a machine that could not be
// observed at all.
func Unobserved(machine string, desired Canonical) *engine.DriftDetection {
	d := &engine.DriftDetection{
		Machine:    machine,
		DetectedAt: time.Now().UTC(),
		Status:     engine.DriftStatusUnknown,
	}
	d.DesiredFingerprint, _ = desired.Fingerprint()
	d.DesiredState, _ = desired.JSON()
	return d
}
