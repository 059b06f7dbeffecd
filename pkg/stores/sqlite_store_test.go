package stores

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/openfroyo/ironfleet/pkg/directory"
	"github.com/openfroyo/ironfleet/pkg/engine"
)

// setupTestStore creates an in-memory SQLite store for testing
func setupTestStore(t *testing.T) *SQLiteStore {
	t.Helper()

	store, err := NewSQLiteStore(Config{
		Path: ":memory:",
	})
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}

	ctx := context.Background()
	if err := store.Init(ctx); err != nil {
		t.Fatalf("failed to initialize store: %v", err)
	}

	if err := store.Migrate(ctx); err != nil {
		t.Fatalf("failed to migrate store: %v", err)
	}

	t.Cleanup(func() { _ = store.Close() })
	return store
}

func newRun(id string, startedAt time.Time) *engine.Run {
	return &engine.Run{
		ID:        id,
		Phases:    []string{"create_instances", "save"},
		Machines:  []string{"prod-web-app-0", "prod-web-app-1"},
		Status:    engine.RunStatusRunning,
		StartedAt: startedAt,
		User:      "ops",
		Metadata:  map[string]interface{}{"realm": "prod"},
	}
}

func TestNewSQLiteStoreRequiresPath(t *testing.T) {
	if _, err := NewSQLiteStore(Config{}); err == nil {
		t.Fatal("Expected error for empty path, got nil")
	}
}

// TestStoreLifecycle tests database initialization and closure
func TestStoreLifecycle(t *testing.T) {
	store, err := NewSQLiteStore(Config{
		Path: ":memory:",
	})
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}

	ctx := context.Background()
	if err := store.HealthCheck(ctx); err == nil {
		t.Error("Expected health check to fail before Init")
	}

	if err := store.Init(ctx); err != nil {
		t.Fatalf("failed to initialize store: %v", err)
	}

	if err := store.HealthCheck(ctx); err != nil {
		t.Fatalf("health check failed: %v", err)
	}

	if err := store.Close(); err != nil {
		t.Fatalf("failed to close store: %v", err)
	}
}

// TestStoreMigrations tests database migrations
func TestStoreMigrations(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	tables := []string{"documents", "runs", "phase_results", "drift_records", "events"}
	for _, table := range tables {
		var count int
		if err := store.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+table).Scan(&count); err != nil {
			t.Errorf("table %s does not exist or is not accessible: %v", table, err)
		}
	}

	// a second run is a no-op
	if err := store.Migrate(ctx); err != nil {
		t.Errorf("Expected repeated migration to succeed, got %v", err)
	}
}

func TestFileBackedStore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ironfleet.db")
	store, err := NewSQLiteStore(Config{Path: path})
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}

	ctx := context.Background()
	if err := store.Init(ctx); err != nil {
		t.Fatalf("failed to initialize store: %v", err)
	}
	if err := store.Migrate(ctx); err != nil {
		t.Fatalf("failed to migrate store: %v", err)
	}
	if err := store.Save(ctx, directory.KindNode, "prod-web-app-0", directory.Document{"chef_environment": "production"}); err != nil {
		t.Fatalf("failed to save document: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("failed to close store: %v", err)
	}

	if _, err := os.Stat(path); err != nil {
		t.Fatalf("Expected database file at %s: %v", path, err)
	}

	reopened, err := NewSQLiteStore(Config{Path: path})
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	if err := reopened.Init(ctx); err != nil {
		t.Fatalf("failed to reopen store: %v", err)
	}
	defer reopened.Close()

	doc, err := reopened.Lookup(ctx, directory.KindNode, "prod-web-app-0")
	if err != nil {
		t.Fatalf("failed to look up document after reopen: %v", err)
	}
	if doc["chef_environment"] != "production" {
		t.Errorf("Expected chef_environment production, got %v", doc["chef_environment"])
	}
}

func TestDocuments(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	_, err := store.Lookup(ctx, directory.KindRole, "prod-web-cluster")
	if !directory.IsNotFound(err) {
		t.Fatalf("Expected not found, got %v", err)
	}

	role := directory.Document{
		"name":               "prod-web-cluster",
		"default_attributes": map[string]interface{}{"tier": "web", "replicas": 3},
	}
	if err := store.Save(ctx, directory.KindRole, "prod-web-cluster", role); err != nil {
		t.Fatalf("failed to save role: %v", err)
	}

	first, err := store.GetDocument(ctx, directory.KindRole, "prod-web-cluster")
	if err != nil {
		t.Fatalf("failed to get document: %v", err)
	}
	attrs, ok := first.Body["default_attributes"].(map[string]interface{})
	if !ok {
		t.Fatalf("Expected default_attributes map, got %T", first.Body["default_attributes"])
	}
	if attrs["replicas"] != float64(3) {
		t.Errorf("Expected replicas 3, got %v", attrs["replicas"])
	}

	// unchanged body keeps its hash and creation time
	if err := store.Save(ctx, directory.KindRole, "prod-web-cluster", role); err != nil {
		t.Fatalf("failed to re-save role: %v", err)
	}
	second, err := store.GetDocument(ctx, directory.KindRole, "prod-web-cluster")
	if err != nil {
		t.Fatalf("failed to get document: %v", err)
	}
	if second.Hash != first.Hash {
		t.Errorf("Expected hash %s, got %s", first.Hash, second.Hash)
	}
	if !second.CreatedAt.Equal(first.CreatedAt) {
		t.Errorf("Expected created_at %v, got %v", first.CreatedAt, second.CreatedAt)
	}

	role["default_attributes"] = map[string]interface{}{"tier": "api"}
	if err := store.Save(ctx, directory.KindRole, "prod-web-cluster", role); err != nil {
		t.Fatalf("failed to update role: %v", err)
	}
	third, err := store.GetDocument(ctx, directory.KindRole, "prod-web-cluster")
	if err != nil {
		t.Fatalf("failed to get document: %v", err)
	}
	if third.Hash == first.Hash {
		t.Error("Expected hash to change with the body")
	}

	if err := store.Save(ctx, directory.KindRole, "prod-api-cluster", directory.Document{}); err != nil {
		t.Fatalf("failed to save role: %v", err)
	}
	if err := store.Save(ctx, directory.KindNode, "prod-web-app-0", directory.Document{}); err != nil {
		t.Fatalf("failed to save node: %v", err)
	}

	names, err := store.List(ctx, directory.KindRole)
	if err != nil {
		t.Fatalf("failed to list roles: %v", err)
	}
	if len(names) != 2 || names[0] != "prod-api-cluster" || names[1] != "prod-web-cluster" {
		t.Errorf("Expected sorted role names, got %v", names)
	}

	if err := store.Delete(ctx, directory.KindRole, "prod-api-cluster"); err != nil {
		t.Fatalf("failed to delete role: %v", err)
	}
	if err := store.Delete(ctx, directory.KindRole, "prod-api-cluster"); !directory.IsNotFound(err) {
		t.Errorf("Expected not found on second delete, got %v", err)
	}

	if err := store.Save(ctx, directory.Kind("cookbook"), "x", directory.Document{}); err == nil {
		t.Error("Expected error for unknown kind")
	}
}

// TestRunCRUD tests run persistence
func TestRunCRUD(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	started := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	run := newRun("run-1", started)
	if err := store.CreateRun(ctx, run); err != nil {
		t.Fatalf("failed to create run: %v", err)
	}

	got, err := store.GetRun(ctx, "run-1")
	if err != nil {
		t.Fatalf("failed to get run: %v", err)
	}
	if got.Status != engine.RunStatusRunning {
		t.Errorf("Expected status running, got %s", got.Status)
	}
	if !got.StartedAt.Equal(started) {
		t.Errorf("Expected started_at %v, got %v", started, got.StartedAt)
	}
	if got.CompletedAt != nil {
		t.Errorf("Expected nil completed_at, got %v", got.CompletedAt)
	}
	if len(got.Phases) != 2 || got.Phases[1] != "save" {
		t.Errorf("Expected phases to round-trip, got %v", got.Phases)
	}
	if got.Metadata["realm"] != "prod" {
		t.Errorf("Expected metadata realm prod, got %v", got.Metadata["realm"])
	}

	completed := started.Add(90 * time.Second)
	run.Status = engine.RunStatusPartial
	run.CompletedAt = &completed
	run.Duration = 90 * time.Second
	run.Summary = engine.RunSummary{Total: 4, Succeeded: 3, Failed: 1, Retried: 2}
	if err := store.UpdateRun(ctx, run); err != nil {
		t.Fatalf("failed to update run: %v", err)
	}

	got, err = store.GetRun(ctx, "run-1")
	if err != nil {
		t.Fatalf("failed to get run: %v", err)
	}
	if got.Status != engine.RunStatusPartial {
		t.Errorf("Expected status partial, got %s", got.Status)
	}
	if got.CompletedAt == nil || !got.CompletedAt.Equal(completed) {
		t.Errorf("Expected completed_at %v, got %v", completed, got.CompletedAt)
	}
	if got.Duration != 90*time.Second {
		t.Errorf("Expected duration 90s, got %v", got.Duration)
	}
	if got.Summary != run.Summary {
		t.Errorf("Expected summary %+v, got %+v", run.Summary, got.Summary)
	}

	if err := store.CreateRun(ctx, newRun("run-2", started.Add(time.Hour))); err != nil {
		t.Fatalf("failed to create run: %v", err)
	}
	runs, err := store.ListRuns(ctx, 10, 0)
	if err != nil {
		t.Fatalf("failed to list runs: %v", err)
	}
	if len(runs) != 2 || runs[0].ID != "run-2" {
		t.Errorf("Expected newest run first, got %d runs", len(runs))
	}

	if err := store.DeleteRun(ctx, "run-2"); err != nil {
		t.Fatalf("failed to delete run: %v", err)
	}
	if _, err := store.GetRun(ctx, "run-2"); !errors.Is(err, ErrRunNotFound) {
		t.Errorf("Expected ErrRunNotFound, got %v", err)
	}
	if err := store.UpdateRun(ctx, newRun("missing", started)); !errors.Is(err, ErrRunNotFound) {
		t.Errorf("Expected ErrRunNotFound on update, got %v", err)
	}

	bad := newRun("run-3", started)
	bad.Status = "exploded"
	if err := store.CreateRun(ctx, bad); err == nil {
		t.Error("Expected invalid status to be rejected")
	}
}

func TestPhaseResults(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	if err := store.CreateRun(ctx, newRun("run-1", now)); err != nil {
		t.Fatalf("failed to create run: %v", err)
	}

	results := []engine.PhaseResult{
		{RunID: "run-1", Phase: "save", Machine: "prod-web-app-0", Service: "nodes", Capability: "Save", Succeeded: true, Attempts: 1, Duration: 20 * time.Millisecond, RecordedAt: now},
		{RunID: "run-1", Phase: "save", Machine: "prod-web-app-1", Service: "nodes", Capability: "Save", Attempts: 3, Error: "connection refused", ErrorClass: engine.ErrorClassTransient, RecordedAt: now},
	}
	if err := store.RecordPhaseResults(ctx, results); err != nil {
		t.Fatalf("failed to record phase results: %v", err)
	}
	if err := store.RecordPhaseResults(ctx, nil); err != nil {
		t.Errorf("Expected empty batch to be a no-op, got %v", err)
	}

	got, err := store.ListPhaseResults(ctx, "run-1")
	if err != nil {
		t.Fatalf("failed to list phase results: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("Expected 2 results, got %d", len(got))
	}
	if !got[0].Succeeded || got[0].Duration != 20*time.Millisecond {
		t.Errorf("Expected first result to round-trip, got %+v", got[0])
	}
	if got[1].Succeeded || got[1].Attempts != 3 || got[1].ErrorClass != engine.ErrorClassTransient {
		t.Errorf("Expected failed result to round-trip, got %+v", got[1])
	}

	orphan := []engine.PhaseResult{{RunID: "nope", Phase: "save", Machine: "m", Service: "nodes", Capability: "Save", RecordedAt: now}}
	if err := store.RecordPhaseResults(ctx, orphan); err == nil {
		t.Error("Expected foreign key violation for unknown run")
	}

	if err := store.DeleteRun(ctx, "run-1"); err != nil {
		t.Fatalf("failed to delete run: %v", err)
	}
	got, err = store.ListPhaseResults(ctx, "run-1")
	if err != nil {
		t.Fatalf("failed to list phase results: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("Expected results to cascade with the run, got %d", len(got))
	}
}

func TestDriftRecords(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	inSync := &engine.DriftDetection{
		Machine:             "prod-web-app-0",
		Status:              engine.DriftStatusInSync,
		DetectedAt:          base,
		DesiredFingerprint:  1<<63 + 5,
		ObservedFingerprint: 1<<63 + 5,
		DesiredState:        json.RawMessage(`{"flavor":"cx22"}`),
		ActualState:         json.RawMessage(`{"flavor":"cx22"}`),
	}
	drifted := &engine.DriftDetection{
		Machine:             "prod-web-app-0",
		Status:              engine.DriftStatusDrifted,
		DetectedAt:          base.Add(time.Minute),
		DesiredFingerprint:  1,
		ObservedFingerprint: 2,
		Drifts:              []engine.Change{{Path: ".flavor", Before: "cx42", After: "cx22", Action: engine.ChangeActionModify}},
	}
	other := &engine.DriftDetection{
		Machine:    "prod-web-app-1",
		Status:     engine.DriftStatusUnknown,
		DetectedAt: base,
	}

	for _, d := range []*engine.DriftDetection{inSync, drifted, other} {
		if err := store.RecordDrift(ctx, "", d); err != nil {
			t.Fatalf("failed to record drift: %v", err)
		}
	}

	latest, err := store.LatestDrift(ctx, "prod-web-app-0")
	if err != nil {
		t.Fatalf("failed to get latest drift: %v", err)
	}
	if !latest.HasDrift() {
		t.Error("Expected latest detection to be drifted")
	}
	if len(latest.Drifts) != 1 || latest.Drifts[0].Path != ".flavor" {
		t.Errorf("Expected .flavor drift, got %+v", latest.Drifts)
	}
	if latest.DesiredState != nil {
		t.Errorf("Expected no desired state, got %s", latest.DesiredState)
	}

	machine := "prod-web-app-0"
	list, err := store.ListDrift(ctx, DriftFilter{Machine: &machine})
	if err != nil {
		t.Fatalf("failed to list drift: %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("Expected 2 detections, got %d", len(list))
	}
	if list[1].DesiredFingerprint != 1<<63+5 {
		t.Errorf("Expected large fingerprint to round-trip, got %d", list[1].DesiredFingerprint)
	}
	if string(list[1].ActualState) != `{"flavor":"cx22"}` {
		t.Errorf("Expected actual state to round-trip, got %s", list[1].ActualState)
	}

	status := engine.DriftStatusUnknown
	list, err = store.ListDrift(ctx, DriftFilter{Status: &status})
	if err != nil {
		t.Fatalf("failed to list drift: %v", err)
	}
	if len(list) != 1 || list[0].Machine != "prod-web-app-1" {
		t.Errorf("Expected only the unknown detection, got %d", len(list))
	}

	if _, err := store.LatestDrift(ctx, "nowhere"); !directory.IsNotFound(err) {
		t.Errorf("Expected not found, got %v", err)
	}
}

func TestEvents(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	events := []*engine.Event{
		{Type: engine.EventTypeRunStarted, RunID: "run-1", Message: "run started", Timestamp: base},
		{Type: engine.EventTypeSubserviceFailed, RunID: "run-1", Phase: "save", Machine: "prod-web-app-1", Message: "nodes save failed", Details: map[string]interface{}{"attempts": 3}, Timestamp: base.Add(time.Second)},
		{Type: engine.EventTypePolicyViolation, Machine: "prod-web-app-0", Message: "missing flavor"},
	}
	for _, e := range events {
		if err := store.AppendEvent(ctx, e); err != nil {
			t.Fatalf("failed to append event: %v", err)
		}
	}
	if events[2].ID == "" || events[2].Timestamp.IsZero() {
		t.Error("Expected ID and timestamp to be filled in")
	}
	if events[1].Level != "error" {
		t.Errorf("Expected level error, got %s", events[1].Level)
	}

	runID := "run-1"
	got, err := store.GetEvents(ctx, EventFilter{RunID: &runID})
	if err != nil {
		t.Fatalf("failed to get events: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("Expected 2 run events, got %d", len(got))
	}
	if got[0].Type != engine.EventTypeRunStarted {
		t.Errorf("Expected run_started first, got %s", got[0].Type)
	}
	if got[1].Details["attempts"] != float64(3) {
		t.Errorf("Expected attempts detail, got %v", got[1].Details)
	}

	level := "warning"
	got, err = store.GetEvents(ctx, EventFilter{Level: &level})
	if err != nil {
		t.Fatalf("failed to get events: %v", err)
	}
	if len(got) != 1 || got[0].RunID != "" {
		t.Errorf("Expected the policy violation outside any run, got %d events", len(got))
	}

	all, err := store.GetEvents(ctx, EventFilter{})
	if err != nil {
		t.Fatalf("failed to get events: %v", err)
	}
	if len(all) != 3 {
		t.Errorf("Expected 3 events, got %d", len(all))
	}
}
