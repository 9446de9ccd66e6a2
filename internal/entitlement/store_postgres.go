package entitlement

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"

	id "entpool/pkg/domain"
	"entpool/pkg/platform/sentinel"
)

// PostgresStore persists entitlements over database/sql. Certificates are
// embedded as a JSONB document since they are only ever read and written
// together with their entitlement.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

type certRecord struct {
	Serial    int64  `json:"serial"`
	Revoked   bool   `json:"revoked"`
	CertBytes []byte `json:"cert"`
}

func (s *PostgresStore) Create(ctx context.Context, ent *Entitlement) error {
	certs, err := marshalCerts(ent.Certificates)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO entitlements (id, pool_id, consumer_id, quantity, certificates, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`,
		uuid.UUID(ent.ID), uuid.UUID(ent.Pool), uuid.UUID(ent.Consumer),
		ent.Quantity, certs, ent.CreatedAt,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return sentinel.ErrConflict
		}
		return fmt.Errorf("insert entitlement: %w", err)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, entID id.EntitlementID) (*Entitlement, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, pool_id, consumer_id, quantity, certificates, created_at
		FROM entitlements WHERE id = $1
	`, uuid.UUID(entID))
	return scanEntitlement(row)
}

func (s *PostgresStore) Delete(ctx context.Context, entID id.EntitlementID) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM entitlements WHERE id = $1`, uuid.UUID(entID))
	if err != nil {
		return fmt.Errorf("delete entitlement: %w", err)
	}
	return requireRow(res)
}

func (s *PostgresStore) MarkCertificatesRevoked(ctx context.Context, entID id.EntitlementID) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE entitlements
		SET certificates = (
			SELECT COALESCE(jsonb_agg(c || '{"revoked": true}'), '[]'::jsonb)
			FROM jsonb_array_elements(certificates) AS c
		)
		WHERE id = $1
	`, uuid.UUID(entID))
	if err != nil {
		return fmt.Errorf("revoke entitlement certificates: %w", err)
	}
	return requireRow(res)
}

func (s *PostgresStore) ListByConsumer(ctx context.Context, consumerID id.ConsumerID) ([]*Entitlement, error) {
	return s.list(ctx, `consumer_id`, uuid.UUID(consumerID))
}

func (s *PostgresStore) ListByPool(ctx context.Context, poolID id.PoolID) ([]*Entitlement, error) {
	return s.list(ctx, `pool_id`, uuid.UUID(poolID))
}

func (s *PostgresStore) list(ctx context.Context, column string, key uuid.UUID) ([]*Entitlement, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, pool_id, consumer_id, quantity, certificates, created_at
		FROM entitlements WHERE `+column+` = $1 ORDER BY id
	`, key)
	if err != nil {
		return nil, fmt.Errorf("list entitlements: %w", err)
	}
	defer rows.Close()

	var out []*Entitlement
	for rows.Next() {
		ent, err := scanEntitlement(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, ent)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEntitlement(row scanner) (*Entitlement, error) {
	var (
		rawID, poolID, consumerID uuid.UUID
		ent                       Entitlement
		certs                     []byte
	)
	err := row.Scan(&rawID, &poolID, &consumerID, &ent.Quantity, &certs, &ent.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan entitlement: %w", err)
	}
	ent.ID = id.EntitlementID(rawID)
	ent.Pool = id.PoolID(poolID)
	ent.Consumer = id.ConsumerID(consumerID)
	ent.Certificates, err = unmarshalCerts(certs)
	if err != nil {
		return nil, err
	}
	return &ent, nil
}

func marshalCerts(certs []Certificate) ([]byte, error) {
	records := make([]certRecord, len(certs))
	for i, c := range certs {
		records[i] = certRecord{Serial: int64(c.Serial), Revoked: c.Revoked, CertBytes: c.CertBytes}
	}
	raw, err := json.Marshal(records)
	if err != nil {
		return nil, fmt.Errorf("marshal certificates: %w", err)
	}
	return raw, nil
}

func unmarshalCerts(raw []byte) ([]Certificate, error) {
	var records []certRecord
	if err := json.Unmarshal(raw, &records); err != nil {
		return nil, fmt.Errorf("unmarshal certificates: %w", err)
	}
	certs := make([]Certificate, len(records))
	for i, r := range records {
		certs[i] = Certificate{Serial: id.SerialID(r.Serial), Revoked: r.Revoked, CertBytes: r.CertBytes}
	}
	return certs, nil
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}

var _ Store = (*PostgresStore)(nil)

// Schema documents the table this store expects.
const Schema = `
CREATE TABLE IF NOT EXISTS entitlements (
	id UUID PRIMARY KEY,
	pool_id UUID NOT NULL,
	consumer_id UUID NOT NULL,
	quantity BIGINT NOT NULL,
	certificates JSONB NOT NULL DEFAULT '[]',
	created_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_entitlements_pool ON entitlements (pool_id);
CREATE INDEX IF NOT EXISTS idx_entitlements_consumer ON entitlements (consumer_id);
`
