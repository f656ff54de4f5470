package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lib/pq"
)

const (
	StatusPending = "PENDING"
	StatusIndexed = "INDEXED"
	StatusFailed  = "FAILED"
)

// Record is one source document as stored in the documents table.
type Record struct {
	ID        string
	Version   int64
	Fields    map[string]string
	Deleted   bool
	Status    string
	UpdatedAt time.Time
}

// DocumentStore reads source documents and records their indexing outcome.
type DocumentStore struct {
	db *sql.DB
}

func NewDocumentStore(db *sql.DB) *DocumentStore {
	return &DocumentStore{db: db}
}

// EnsureSchema creates the documents table if it does not exist.
func (s *DocumentStore) EnsureSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
CREATE TABLE IF NOT EXISTS documents (
    id          TEXT PRIMARY KEY,
    version     BIGINT NOT NULL DEFAULT 1,
    fields      JSONB NOT NULL DEFAULT '{}',
    deleted     BOOLEAN NOT NULL DEFAULT FALSE,
    status      TEXT NOT NULL DEFAULT 'PENDING',
    indexed_at  TIMESTAMPTZ,
    updated_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_documents_status ON documents(status);
`)
	if err != nil {
		return fmt.Errorf("creating documents schema: %w", err)
	}
	return nil
}

// MarkStatus sets status and indexed_at on every listed document.
func (s *DocumentStore) MarkStatus(ctx context.Context, status string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := s.db.ExecContext(ctx,
		`UPDATE documents SET status = $1, indexed_at = NOW() WHERE id = ANY($2)`,
		status, pq.Array(ids),
	)
	if err != nil {
		return fmt.Errorf("updating status of %d documents: %w", len(ids), err)
	}
	return nil
}

// Page returns up to limit documents with ids greater than afterID, in id
// order. Pass the last id of one page to get the next.
func (s *DocumentStore) Page(ctx context.Context, afterID string, limit int) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, version, fields, deleted, status, updated_at
		FROM documents
		WHERE id > $1
		ORDER BY id
		LIMIT $2
	`, afterID, limit)
	if err != nil {
		return nil, fmt.Errorf("querying documents after %q: %w", afterID, err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var r Record
		var fields []byte
		if err := rows.Scan(&r.ID, &r.Version, &fields, &r.Deleted, &r.Status, &r.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scanning document: %w", err)
		}
		if len(fields) > 0 {
			if err := json.Unmarshal(fields, &r.Fields); err != nil {
				return nil, fmt.Errorf("decoding fields of %s: %w", r.ID, err)
			}
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

// Count returns the number of live documents.
func (s *DocumentStore) Count(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM documents WHERE NOT deleted`).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("counting documents: %w", err)
	}
	return n, nil
}
