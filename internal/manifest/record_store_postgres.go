package manifest

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	id "entpool/pkg/domain"
	"entpool/pkg/platform/sentinel"
)

// PostgresRecordStore persists the import audit log over database/sql.
type PostgresRecordStore struct {
	db *sql.DB
}

func NewPostgresRecordStore(db *sql.DB) *PostgresRecordStore {
	return &PostgresRecordStore{db: db}
}

func (s *PostgresRecordStore) Append(ctx context.Context, rec *ImportRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO import_records (id, owner_id, status, message, origin, signature, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`,
		uuid.UUID(rec.ID), uuid.UUID(rec.Owner), string(rec.Status),
		rec.Message, rec.Origin, rec.Signature, rec.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert import record: %w", err)
	}
	return nil
}

func (s *PostgresRecordStore) ListByOwner(ctx context.Context, owner id.OwnerID) ([]*ImportRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, owner_id, status, message, origin, signature, created_at
		FROM import_records WHERE owner_id = $1
		ORDER BY created_at DESC, id DESC
	`, uuid.UUID(owner))
	if err != nil {
		return nil, fmt.Errorf("list import records: %w", err)
	}
	defer rows.Close()

	var out []*ImportRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *PostgresRecordStore) LatestSuccess(ctx context.Context, owner id.OwnerID) (*ImportRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, owner_id, status, message, origin, signature, created_at
		FROM import_records WHERE owner_id = $1 AND status = $2
		ORDER BY created_at DESC, id DESC LIMIT 1
	`, uuid.UUID(owner), string(StatusSuccess))
	return scanRecord(row)
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner) (*ImportRecord, error) {
	var (
		rawID, ownerID uuid.UUID
		rec            ImportRecord
		status         string
	)
	err := row.Scan(&rawID, &ownerID, &status, &rec.Message, &rec.Origin, &rec.Signature, &rec.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan import record: %w", err)
	}
	rec.ID = id.ImportRecordID(rawID)
	rec.Owner = id.OwnerID(ownerID)
	rec.Status = Status(status)
	return &rec, nil
}

var _ RecordStore = (*PostgresRecordStore)(nil)

// Schema documents the table this store expects.
const Schema = `
CREATE TABLE IF NOT EXISTS import_records (
	id UUID PRIMARY KEY,
	owner_id UUID NOT NULL,
	status TEXT NOT NULL,
	message TEXT NOT NULL DEFAULT '',
	origin TEXT NOT NULL DEFAULT '',
	signature TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_import_records_owner ON import_records (owner_id, created_at DESC);
`
