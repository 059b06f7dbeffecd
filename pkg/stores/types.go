package stores

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/openfroyo/ironfleet/pkg/directory"
	"github.com/openfroyo/ironfleet/pkg/engine"
)

// ErrRunNotFound is returned when a run ID has no record.
var ErrRunNotFound = errors.New("run not found")

// Store is the persistence interface used by the orchestrator and the CLI.
type Store interface {
	directory.Directory

	// Lifecycle
	Init(ctx context.Context) error
	Close() error
	Migrate(ctx context.Context) error

	// Runs
	CreateRun(ctx context.Context, run *engine.Run) error
	UpdateRun(ctx context.Context, run *engine.Run) error
	GetRun(ctx context.Context, id string) (*engine.Run, error)
	ListRuns(ctx context.Context, limit, offset int) ([]*engine.Run, error)
	DeleteRun(ctx context.Context, id string) error

	// Phase results
	RecordPhaseResults(ctx context.Context, results []engine.PhaseResult) error
	ListPhaseResults(ctx context.Context, runID string) ([]engine.PhaseResult, error)

	// Drift
	RecordDrift(ctx context.Context, runID string, d *engine.DriftDetection) error
	LatestDrift(ctx context.Context, machine string) (*engine.DriftDetection, error)
	ListDrift(ctx context.Context, filter DriftFilter) ([]*engine.DriftDetection, error)

	// Events
	AppendEvent(ctx context.Context, event *engine.Event) error
	GetEvents(ctx context.Context, filter EventFilter) ([]*engine.Event, error)

	// Transactions
	BeginTx(ctx context.Context) (*sql.Tx, error)
	CommitTx(tx *sql.Tx) error
	RollbackTx(tx *sql.Tx) error

	// Health
	HealthCheck(ctx context.Context) error
}

// DocumentRecord is a stored directory document with its bookkeeping
// columns.
type DocumentRecord struct {
	Kind      directory.Kind     `json:"kind"`
	Name      string             `json:"name"`
	Body      directory.Document `json:"body"`
	Hash      string             `json:"hash"`
	CreatedAt time.Time          `json:"created_at"`
	UpdatedAt time.Time          `json:"updated_at"`
}

// DriftFilter narrows ListDrift. Nil fields match everything.
type DriftFilter struct {
	Machine *string
	Status  *engine.DriftStatus
	Limit   int
	Offset  int
}

// EventFilter narrows GetEvents. Nil fields match everything.
type EventFilter struct {
	RunID   *string
	Machine *string
	Level   *string
	Limit   int
	Offset  int
}

func limitOrDefault(limit int) int {
	if limit <= 0 {
		return 100
	}
	return limit
}
