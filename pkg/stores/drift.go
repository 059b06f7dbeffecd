package stores

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/openfroyo/ironfleet/pkg/directory"
	"github.com/openfroyo/ironfleet/pkg/engine"
)

// RecordDrift stores a drift detection. runID may be empty for ad-hoc
// comparisons made outside a run.
func (s *SQLiteStore) RecordDrift(ctx context.Context, runID string, d *engine.DriftDetection) error {
	if err := d.Status.Validate(); err != nil {
		return err
	}

	drifts := d.Drifts
	if drifts == nil {
		drifts = []engine.Change{}
	}
	changes, err := json.Marshal(drifts)
	if err != nil {
		return fmt.Errorf("failed to marshal drifts: %w", err)
	}

	query := `
		INSERT INTO drift_records (
			machine, run_id, status, desired_fingerprint, observed_fingerprint,
			desired_state, actual_state, drifts, detected_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err = s.db.ExecContext(ctx, query,
		d.Machine,
		nullString(runID),
		string(d.Status),
		strconv.FormatUint(d.DesiredFingerprint, 10),
		strconv.FormatUint(d.ObservedFingerprint, 10),
		rawColumn(d.DesiredState),
		rawColumn(d.ActualState),
		string(changes),
		d.DetectedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to record drift: %w", err)
	}
	return nil
}

// LatestDrift returns the most recent drift detection for a machine.
func (s *SQLiteStore) LatestDrift(ctx context.Context, machine string) (*engine.DriftDetection, error) {
	query := `
		SELECT machine, status, desired_fingerprint, observed_fingerprint,
		       desired_state, actual_state, drifts, detected_at
		FROM drift_records
		WHERE machine = ?
		ORDER BY detected_at DESC, id DESC
		LIMIT 1
	`

	d, err := scanDrift(s.db.QueryRowContext(ctx, query, machine))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("drift for %q: %w", machine, directory.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get drift: %w", err)
	}
	return d, nil
}

// ListDrift lists drift detections, newest first.
func (s *SQLiteStore) ListDrift(ctx context.Context, filter DriftFilter) ([]*engine.DriftDetection, error) {
	query := `
		SELECT machine, status, desired_fingerprint, observed_fingerprint,
		       desired_state, actual_state, drifts, detected_at
		FROM drift_records
		WHERE (? IS NULL OR machine = ?)
		  AND (? IS NULL OR status = ?)
		ORDER BY detected_at DESC, id DESC
		LIMIT ? OFFSET ?
	`

	var status *string
	if filter.Status != nil {
		v := string(*filter.Status)
		status = &v
	}

	rows, err := s.db.QueryContext(ctx, query,
		filter.Machine, filter.Machine,
		status, status,
		limitOrDefault(filter.Limit), filter.Offset,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list drift: %w", err)
	}
	defer rows.Close()

	out := []*engine.DriftDetection{}
	for rows.Next() {
		d, err := scanDrift(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan drift: %w", err)
		}
		out = append(out, d)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating drift: %w", err)
	}
	return out, nil
}

func scanDrift(row rowScanner) (*engine.DriftDetection, error) {
	var (
		d                 engine.DriftDetection
		status            string
		desiredFP, obsFP  string
		desired, observed sql.NullString
		changes           string
	)
	err := row.Scan(
		&d.Machine,
		&status,
		&desiredFP,
		&obsFP,
		&desired,
		&observed,
		&changes,
		&d.DetectedAt,
	)
	if err != nil {
		return nil, err
	}

	d.Status = engine.DriftStatus(status)
	if d.DesiredFingerprint, err = strconv.ParseUint(desiredFP, 10, 64); err != nil {
		return nil, fmt.Errorf("failed to parse desired fingerprint: %w", err)
	}
	if d.ObservedFingerprint, err = strconv.ParseUint(obsFP, 10, 64); err != nil {
		return nil, fmt.Errorf("failed to parse observed fingerprint: %w", err)
	}
	if desired.Valid {
		d.DesiredState = json.RawMessage(desired.String)
	}
	if observed.Valid {
		d.ActualState = json.RawMessage(observed.String)
	}
	if err := json.Unmarshal([]byte(changes), &d.Drifts); err != nil {
		return nil, fmt.Errorf("failed to decode drifts: %w", err)
	}
	return &d, nil
}

func rawColumn(raw json.RawMessage) *string {
	if len(raw) == 0 {
		return nil
	}
	s := string(raw)
	return &s
}

func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
