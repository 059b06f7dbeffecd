package engine

import (
	"encoding/json"
	"testing"
)

func TestRunStatus(t *testing.T) {
	tests := []struct {
		status   RunStatus
		terminal bool
		active   bool
	}{
		{RunStatusPending, false, true},
		{RunStatusRunning, false, true},
		{RunStatusSucceeded, true, false},
		{RunStatusPartial, true, false},
		{RunStatusFailed, true, false},
		{RunStatusCancelled, true, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			if tt.status.IsTerminal() != tt.terminal {
				t.Errorf("Expected IsTerminal=%v", tt.terminal)
			}
			if tt.status.IsActive() != tt.active {
				t.Errorf("Expected IsActive=%v", tt.active)
			}
			if err := tt.status.Validate(); err != nil {
				t.Errorf("Expected valid status, got %v", err)
			}
		})
	}

	if err := RunStatus("exploded").Validate(); err == nil {
		t.Error("Expected unknown status to fail validation")
	}
}

func TestRunStatusJSON(t *testing.T) {
	data, err := json.Marshal(RunStatusPartial)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	if string(data) != `"partial"` {
		t.Errorf("Expected \"partial\", got %s", data)
	}

	var s RunStatus
	if err := json.Unmarshal([]byte(`"succeeded"`), &s); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if s != RunStatusSucceeded {
		t.Errorf("Expected succeeded, got %s", s)
	}

	if err := json.Unmarshal([]byte(`"bogus"`), &s); err == nil {
		t.Error("Expected error for invalid status")
	}
}

func TestEventSeverity(t *testing.T) {
	tests := map[EventType]string{
		EventTypePhaseFailed:      "error",
		EventTypeSubserviceFailed: "error",
		EventTypeDriftDetected:    "warning",
		EventTypePolicyViolation:  "warning",
		EventTypePhaseCompleted:   "info",
	}
	for et, want := range tests {
		if got := et.Severity(); got != want {
			t.Errorf("%s: expected %s, got %s", et, want, got)
		}
	}
}

func TestDriftDetectionHasDrift(t *testing.T) {
	var nilDetection *DriftDetection
	if nilDetection.HasDrift() {
		t.Error("Expected nil detection to report no drift")
	}
	d := &DriftDetection{Status: DriftStatusDrifted}
	if !d.HasDrift() {
		t.Error("Expected drifted detection to report drift")
	}
}
