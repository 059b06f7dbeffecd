package stores

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/mitchellh/hashstructure/v2"

	"github.com/openfroyo/ironfleet/pkg/directory"
)

// Lookup implements directory.Directory.
func (s *SQLiteStore) Lookup(ctx context.Context, kind directory.Kind, name string) (directory.Document, error) {
	rec, err := s.GetDocument(ctx, kind, name)
	if err != nil {
		return nil, err
	}
	return rec.Body, nil
}

// GetDocument returns a stored document with its bookkeeping columns.
func (s *SQLiteStore) GetDocument(ctx context.Context, kind directory.Kind, name string) (*DocumentRecord, error) {
	query := `
		SELECT kind, name, body, hash, created_at, updated_at
		FROM documents
		WHERE kind = ? AND name = ?
	`

	var (
		rec  DocumentRecord
		k    string
		body string
	)
	err := s.db.QueryRowContext(ctx, query, string(kind), name).Scan(
		&k,
		&rec.Name,
		&body,
		&rec.Hash,
		&rec.CreatedAt,
		&rec.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, directory.NotFound(kind, name)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get document: %w", err)
	}

	rec.Kind = directory.Kind(k)
	if err := json.Unmarshal([]byte(body), &rec.Body); err != nil {
		return nil, fmt.Errorf("failed to decode %s %q: %w", kind, name, err)
	}
	if rec.Body == nil {
		rec.Body = directory.Document{}
	}
	return &rec, nil
}

// Save implements directory.Directory. Saving an unchanged body only
// touches updated_at.
func (s *SQLiteStore) Save(ctx context.Context, kind directory.Kind, name string, doc directory.Document) error {
	if err := kind.Validate(); err != nil {
		return err
	}
	if doc == nil {
		doc = directory.Document{}
	}

	body, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("failed to encode %s %q: %w", kind, name, err)
	}
	hash, err := documentHash(body)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO documents (kind, name, body, hash, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(kind, name) DO UPDATE SET
			body = excluded.body,
			hash = excluded.hash,
			updated_at = excluded.updated_at
	`

	now := time.Now().UTC()
	if _, err := s.db.ExecContext(ctx, query, string(kind), name, string(body), hash, now, now); err != nil {
		return fmt.Errorf("failed to save document: %w", err)
	}
	return nil
}

// Delete implements directory.Directory.
func (s *SQLiteStore) Delete(ctx context.Context, kind directory.Kind, name string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM documents WHERE kind = ? AND name = ?`, string(kind), name)
	if err != nil {
		return fmt.Errorf("failed to delete document: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rows == 0 {
		return directory.NotFound(kind, name)
	}
	return nil
}

// List implements directory.Directory.
func (s *SQLiteStore) List(ctx context.Context, kind directory.Kind) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT name FROM documents WHERE kind = ? ORDER BY name ASC`, string(kind))
	if err != nil {
		return nil, fmt.Errorf("failed to list documents: %w", err)
	}
	defer rows.Close()

	names := []string{}
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("failed to scan document name: %w", err)
		}
		names = append(names, name)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating documents: %w", err)
	}
	return names, nil
}

func documentHash(body []byte) (string, error) {
	h, err := hashstructure.Hash(string(body), hashstructure.FormatV2, nil)
	if err != nil {
		return "", fmt.Errorf("failed to hash document: %w", err)
	}
	return strconv.FormatUint(h, 16), nil
}
