package stores

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	"github.com/openfroyo/ironfleet/pkg/engine"

	// SQLite driver
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db   *sql.DB
	path string
	cfg  Config
}

var _ Store = (*SQLiteStore)(nil)

// Config holds SQLite store configuration
type Config struct {
	Path            string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// NewSQLiteStore creates a new SQLite store instance
func NewSQLiteStore(cfg Config) (*SQLiteStore, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("database path is required")
	}

	// Set defaults
	if cfg.MaxOpenConns == 0 {
		cfg.MaxOpenConns = 25
	}
	if cfg.MaxIdleConns == 0 {
		cfg.MaxIdleConns = 5
	}
	if cfg.ConnMaxLifetime == 0 {
		cfg.ConnMaxLifetime = 5 * time.Minute
	}

	// Every connection to :memory: opens its own empty database.
	if cfg.Path == ":memory:" {
		cfg.MaxOpenConns = 1
		cfg.MaxIdleConns = 1
		cfg.ConnMaxLifetime = 0
	}

	return &SQLiteStore{
		path: cfg.Path,
		cfg:  cfg,
	}, nil
}

// Init opens the database connection and enables WAL mode.
func (s *SQLiteStore) Init(ctx context.Context) error {
	dsn := fmt.Sprintf("%s?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)&_txlock=immediate&_time_format=sqlite", s.path)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(s.cfg.MaxOpenConns)
	db.SetMaxIdleConns(s.cfg.MaxIdleConns)
	db.SetConnMaxLifetime(s.cfg.ConnMaxLifetime)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to ping database: %w", err)
	}

	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	s.db = db
	return nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Migrate runs database migrations.
func (s *SQLiteStore) Migrate(_ context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}

	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}

	driver, err := sqlite.WithInstance(s.db, &sqlite.Config{})
	if err != nil {
		return fmt.Errorf("failed to create database driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("failed to create migration instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// BeginTx starts a new transaction
func (s *SQLiteStore) BeginTx(ctx context.Context) (*sql.Tx, error) {
	return s.db.BeginTx(ctx, &sql.TxOptions{
		Isolation: sql.LevelSerializable,
	})
}

// CommitTx commits a transaction
func (s *SQLiteStore) CommitTx(tx *sql.Tx) error {
	return tx.Commit()
}

// RollbackTx rolls back a transaction
func (s *SQLiteStore) RollbackTx(tx *sql.Tx) error {
	return tx.Rollback()
}

// HealthCheck verifies the database is reachable
func (s *SQLiteStore) HealthCheck(ctx context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}
	var result int
	if err := s.db.QueryRowContext(ctx, "SELECT 1").Scan(&result); err != nil {
		return fmt.Errorf("database query failed: %w", err)
	}
	return nil
}

// CreateRun creates a new run record
func (s *SQLiteStore) CreateRun(ctx context.Context, run *engine.Run) error {
	if err := run.Status.Validate(); err != nil {
		return err
	}

	cols, err := encodeRun(run)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO runs (id, phases, machines, status, started_at, completed_at, duration_ns, user, summary, metadata)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err = s.db.ExecContext(ctx, query,
		run.ID,
		cols.phases,
		cols.machines,
		string(run.Status),
		run.StartedAt.UTC(),
		utcPtr(run.CompletedAt),
		int64(run.Duration),
		run.User,
		cols.summary,
		cols.metadata,
	)
	if err != nil {
		return fmt.Errorf("failed to create run: %w", err)
	}

	return nil
}

// UpdateRun overwrites the mutable columns of a run.
func (s *SQLiteStore) UpdateRun(ctx context.Context, run *engine.Run) error {
	if err := run.Status.Validate(); err != nil {
		return err
	}

	cols, err := encodeRun(run)
	if err != nil {
		return err
	}

	query := `
		UPDATE runs
		SET machines = ?, status = ?, completed_at = ?, duration_ns = ?, summary = ?, metadata = ?
		WHERE id = ?
	`

	result, err := s.db.ExecContext(ctx, query,
		cols.machines,
		string(run.Status),
		utcPtr(run.CompletedAt),
		int64(run.Duration),
		cols.summary,
		cols.metadata,
		run.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update run: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rows == 0 {
		return fmt.Errorf("%w: %s", ErrRunNotFound, run.ID)
	}

	return nil
}

// GetRun retrieves a run by ID
func (s *SQLiteStore) GetRun(ctx context.Context, id string) (*engine.Run, error) {
	query := `
		SELECT id, phases, machines, status, started_at, completed_at, duration_ns, user, summary, metadata
		FROM runs
		WHERE id = ?
	`

	run, err := scanRun(s.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}

	return run, nil
}

// ListRuns lists runs with pagination, newest first
func (s *SQLiteStore) ListRuns(ctx context.Context, limit, offset int) ([]*engine.Run, error) {
	query := `
		SELECT id, phases, machines, status, started_at, completed_at, duration_ns, user, summary, metadata
		FROM runs
		ORDER BY started_at DESC
		LIMIT ? OFFSET ?
	`

	rows, err := s.db.QueryContext(ctx, query, limitOrDefault(limit), offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	runs := []*engine.Run{}
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, run)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating runs: %w", err)
	}

	return runs, nil
}

// DeleteRun deletes a run and, through the foreign key, its phase results.
func (s *SQLiteStore) DeleteRun(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM runs WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete run: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rows == 0 {
		return fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}

	return nil
}

// RecordPhaseResults stores a batch of sub-service outcomes in one
// transaction.
func (s *SQLiteStore) RecordPhaseResults(ctx context.Context, results []engine.PhaseResult) error {
	if len(results) == 0 {
		return nil
	}

	tx, err := s.BeginTx(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO phase_results (
			run_id, phase, machine, service, capability, succeeded,
			attempts, duration_ns, error, error_class, recorded_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare phase result insert: %w", err)
	}
	defer stmt.Close()

	for _, r := range results {
		_, err := stmt.ExecContext(ctx,
			r.RunID,
			r.Phase,
			r.Machine,
			r.Service,
			r.Capability,
			r.Succeeded,
			r.Attempts,
			int64(r.Duration),
			r.Error,
			string(r.ErrorClass),
			r.RecordedAt.UTC(),
		)
		if err != nil {
			return fmt.Errorf("failed to record phase result for %s: %w", r.Machine, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit phase results: %w", err)
	}
	return nil
}

// ListPhaseResults returns the outcomes of a run in insertion order.
func (s *SQLiteStore) ListPhaseResults(ctx context.Context, runID string) ([]engine.PhaseResult, error) {
	query := `
		SELECT run_id, phase, machine, service, capability, succeeded,
		       attempts, duration_ns, error, error_class, recorded_at
		FROM phase_results
		WHERE run_id = ?
		ORDER BY id ASC
	`

	rows, err := s.db.QueryContext(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to list phase results: %w", err)
	}
	defer rows.Close()

	results := []engine.PhaseResult{}
	for rows.Next() {
		var (
			r          engine.PhaseResult
			durationNS int64
			class      string
		)
		err := rows.Scan(
			&r.RunID,
			&r.Phase,
			&r.Machine,
			&r.Service,
			&r.Capability,
			&r.Succeeded,
			&r.Attempts,
			&durationNS,
			&r.Error,
			&class,
			&r.RecordedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan phase result: %w", err)
		}
		r.Duration = time.Duration(durationNS)
		r.ErrorClass = engine.ErrorClass(class)
		results = append(results, r)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating phase results: %w", err)
	}

	return results, nil
}

type runColumns struct {
	phases   string
	machines string
	summary  string
	metadata string
}

func encodeRun(run *engine.Run) (runColumns, error) {
	var cols runColumns
	var err error
	if cols.phases, err = marshalColumn(nonNilStrings(run.Phases)); err != nil {
		return cols, fmt.Errorf("failed to marshal run phases: %w", err)
	}
	if cols.machines, err = marshalColumn(nonNilStrings(run.Machines)); err != nil {
		return cols, fmt.Errorf("failed to marshal run machines: %w", err)
	}
	if cols.summary, err = marshalColumn(run.Summary); err != nil {
		return cols, fmt.Errorf("failed to marshal run summary: %w", err)
	}
	metadata := run.Metadata
	if metadata == nil {
		metadata = map[string]interface{}{}
	}
	if cols.metadata, err = marshalColumn(metadata); err != nil {
		return cols, fmt.Errorf("failed to marshal run metadata: %w", err)
	}
	return cols, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRun(row rowScanner) (*engine.Run, error) {
	var (
		run                                 engine.Run
		status                              string
		durationNS                          int64
		phases, machines, summary, metadata string
	)
	err := row.Scan(
		&run.ID,
		&phases,
		&machines,
		&status,
		&run.StartedAt,
		&run.CompletedAt,
		&durationNS,
		&run.User,
		&summary,
		&metadata,
	)
	if err != nil {
		return nil, err
	}

	run.Status = engine.RunStatus(status)
	run.Duration = time.Duration(durationNS)
	if err := json.Unmarshal([]byte(phases), &run.Phases); err != nil {
		return nil, fmt.Errorf("failed to decode run phases: %w", err)
	}
	if err := json.Unmarshal([]byte(machines), &run.Machines); err != nil {
		return nil, fmt.Errorf("failed to decode run machines: %w", err)
	}
	if err := json.Unmarshal([]byte(summary), &run.Summary); err != nil {
		return nil, fmt.Errorf("failed to decode run summary: %w", err)
	}
	if err := json.Unmarshal([]byte(metadata), &run.Metadata); err != nil {
		return nil, fmt.Errorf("failed to decode run metadata: %w", err)
	}
	return &run, nil
}

func marshalColumn(v interface{}) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func nonNilStrings(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}
