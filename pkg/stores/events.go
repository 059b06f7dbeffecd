package stores

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/openfroyo/ironfleet/pkg/engine"
)

// AppendEvent adds an event to the timeline. A missing ID, timestamp or
// level is filled in.
func (s *SQLiteStore) AppendEvent(ctx context.Context, event *engine.Event) error {
	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	if event.Level == "" {
		event.Level = event.Type.Severity()
	}

	details := event.Details
	if details == nil {
		details = map[string]interface{}{}
	}
	body, err := json.Marshal(details)
	if err != nil {
		return fmt.Errorf("failed to marshal event details: %w", err)
	}

	query := `
		INSERT INTO events (id, type, level, run_id, phase, machine, message, details, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err = s.db.ExecContext(ctx, query,
		event.ID,
		string(event.Type),
		event.Level,
		nullString(event.RunID),
		event.Phase,
		event.Machine,
		event.Message,
		string(body),
		event.Timestamp.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to append event: %w", err)
	}
	return nil
}

// GetEvents retrieves events in timestamp order.
func (s *SQLiteStore) GetEvents(ctx context.Context, filter EventFilter) ([]*engine.Event, error) {
	query := `
		SELECT id, type, level, run_id, phase, machine, message, details, timestamp
		FROM events
		WHERE (? IS NULL OR run_id = ?)
		  AND (? IS NULL OR machine = ?)
		  AND (? IS NULL OR level = ?)
		ORDER BY timestamp ASC
		LIMIT ? OFFSET ?
	`

	rows, err := s.db.QueryContext(ctx, query,
		filter.RunID, filter.RunID,
		filter.Machine, filter.Machine,
		filter.Level, filter.Level,
		limitOrDefault(filter.Limit), filter.Offset,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get events: %w", err)
	}
	defer rows.Close()

	events := []*engine.Event{}
	for rows.Next() {
		var (
			e       engine.Event
			typ     string
			runID   sql.NullString
			details string
		)
		err := rows.Scan(
			&e.ID,
			&typ,
			&e.Level,
			&runID,
			&e.Phase,
			&e.Machine,
			&e.Message,
			&details,
			&e.Timestamp,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		e.Type = engine.EventType(typ)
		e.RunID = runID.String
		if err := json.Unmarshal([]byte(details), &e.Details); err != nil {
			return nil, fmt.Errorf("failed to decode event details: %w", err)
		}
		events = append(events, &e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating events: %w", err)
	}
	return events, nil
}
