package consumer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	id "entpool/pkg/domain"
	"entpool/pkg/platform/sentinel"
)

// PostgresStore persists consumers with pgx. Deleted consumers stay as
// tombstoned rows so Get can answer gone-vs-never-existed.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgres(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (s *PostgresStore) Create(ctx context.Context, c *Consumer) error {
	facts, err := json.Marshal(c.Facts)
	if err != nil {
		return fmt.Errorf("marshal facts: %w", err)
	}
	installed := productIDStrings(c.InstalledProducts)

	_, err = s.pool.Exec(ctx, `
		INSERT INTO consumers (id, owner_id, name, username, type, facts, installed_products, guest_ids, created_at, updated_at, deleted)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, FALSE)
	`, uuid.UUID(c.ID), uuid.UUID(c.Owner), c.Name, c.Username, string(c.Type), facts, installed, textArray(c.GuestIDs), c.CreatedAt, c.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		// 23505 unique_violation fires for both duplicate IDs and the partial
		// unique index on active person consumers per (owner, username).
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return sentinel.ErrConflict
		}
		return fmt.Errorf("insert consumer: %w", err)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, consumerID id.ConsumerID) (*Consumer, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT owner_id, name, username, type, facts, installed_products, guest_ids, created_at, updated_at, deleted
		FROM consumers WHERE id = $1
	`, uuid.UUID(consumerID))

	c, deleted, err := scanConsumer(row, consumerID)
	if err != nil {
		return nil, err
	}
	if deleted {
		return nil, sentinel.ErrGone
	}
	return c, nil
}

func (s *PostgresStore) Update(ctx context.Context, c *Consumer) error {
	facts, err := json.Marshal(c.Facts)
	if err != nil {
		return fmt.Errorf("marshal facts: %w", err)
	}
	tag, err := s.pool.Exec(ctx, `
		UPDATE consumers
		SET name = $2, facts = $3, installed_products = $4, guest_ids = $5, updated_at = $6
		WHERE id = $1 AND NOT deleted
	`, uuid.UUID(c.ID), c.Name, facts, productIDStrings(c.InstalledProducts), textArray(c.GuestIDs), c.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update consumer: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return s.missingState(ctx, c.ID)
	}
	return nil
}

func (s *PostgresStore) Delete(ctx context.Context, consumerID id.ConsumerID) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE consumers SET deleted = TRUE WHERE id = $1 AND NOT deleted
	`, uuid.UUID(consumerID))
	if err != nil {
		return fmt.Errorf("delete consumer: %w", err)
	}
	if tag.RowsAffected() == 0 {
		err := s.missingState(ctx, consumerID)
		if errors.Is(err, sentinel.ErrGone) {
			// Idempotent: already deleted.
			return nil
		}
		return err
	}
	return nil
}

func (s *PostgresStore) FindPersonByUsername(ctx context.Context, owner id.OwnerID, username string) (*Consumer, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, owner_id, name, username, type, facts, installed_products, guest_ids, created_at, updated_at
		FROM consumers
		WHERE owner_id = $1 AND username = $2 AND type = $3 AND NOT deleted
	`, uuid.UUID(owner), username, string(TypePerson))
	return scanConsumerWithID(row)
}

func (s *PostgresStore) FindHostByGuestUUID(ctx context.Context, owner id.OwnerID, guestUUID string) (*Consumer, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, owner_id, name, username, type, facts, installed_products, guest_ids, created_at, updated_at
		FROM consumers
		WHERE owner_id = $1 AND $2 = ANY(guest_ids) AND NOT deleted
		LIMIT 1
	`, uuid.UUID(owner), guestUUID)
	return scanConsumerWithID(row)
}

// missingState classifies a zero-row mutation as gone or not-found.
func (s *PostgresStore) missingState(ctx context.Context, consumerID id.ConsumerID) error {
	var deleted bool
	err := s.pool.QueryRow(ctx, `SELECT deleted FROM consumers WHERE id = $1`, uuid.UUID(consumerID)).Scan(&deleted)
	if errors.Is(err, pgx.ErrNoRows) {
		return sentinel.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("check consumer state: %w", err)
	}
	if deleted {
		return sentinel.ErrGone
	}
	return sentinel.ErrInvalidState
}

func scanConsumer(row pgx.Row, consumerID id.ConsumerID) (*Consumer, bool, error) {
	var (
		ownerID   uuid.UUID
		c         Consumer
		typ       string
		factsJSON []byte
		installed []string
		deleted   bool
	)
	err := row.Scan(&ownerID, &c.Name, &c.Username, &typ, &factsJSON, &installed, &c.GuestIDs, &c.CreatedAt, &c.UpdatedAt, &deleted)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, false, fmt.Errorf("scan consumer: %w", err)
	}
	c.ID = consumerID
	c.Owner = id.OwnerID(ownerID)
	c.Type = Type(typ)
	if err := json.Unmarshal(factsJSON, &c.Facts); err != nil {
		return nil, false, fmt.Errorf("unmarshal facts: %w", err)
	}
	c.InstalledProducts = toProductIDs(installed)
	return &c, deleted, nil
}

func scanConsumerWithID(row pgx.Row) (*Consumer, error) {
	var (
		rawID     uuid.UUID
		ownerID   uuid.UUID
		c         Consumer
		typ       string
		factsJSON []byte
		installed []string
	)
	err := row.Scan(&rawID, &ownerID, &c.Name, &c.Username, &typ, &factsJSON, &installed, &c.GuestIDs, &c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan consumer: %w", err)
	}
	c.ID = id.ConsumerID(rawID)
	c.Owner = id.OwnerID(ownerID)
	c.Type = Type(typ)
	if err := json.Unmarshal(factsJSON, &c.Facts); err != nil {
		return nil, fmt.Errorf("unmarshal facts: %w", err)
	}
	c.InstalledProducts = toProductIDs(installed)
	return &c, nil
}

// textArray keeps nil slices out of NOT NULL text[] columns.
func textArray(ss []string) []string {
	if ss == nil {
		return []string{}
	}
	return ss
}

func productIDStrings(ids []id.ProductID) []string {
	out := make([]string, len(ids))
	for i, p := range ids {
		out[i] = string(p)
	}
	return out
}

func toProductIDs(raw []string) []id.ProductID {
	out := make([]id.ProductID, len(raw))
	for i, p := range raw {
		out[i] = id.ProductID(p)
	}
	return out
}

var _ Store = (*PostgresStore)(nil)

// Schema documents the table this store expects; applied by migrations, and
// by the integration test container helper.
const Schema = `
CREATE TABLE IF NOT EXISTS consumers (
	id UUID PRIMARY KEY,
	owner_id UUID NOT NULL,
	name TEXT NOT NULL,
	username TEXT NOT NULL DEFAULT '',
	type TEXT NOT NULL,
	facts JSONB NOT NULL DEFAULT '{}',
	installed_products TEXT[] NOT NULL DEFAULT '{}',
	guest_ids TEXT[] NOT NULL DEFAULT '{}',
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL,
	deleted BOOLEAN NOT NULL DEFAULT FALSE
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_one_person_per_user
	ON consumers (owner_id, username) WHERE type = 'person' AND NOT deleted;
CREATE INDEX IF NOT EXISTS idx_consumers_guest_ids ON consumers USING GIN (guest_ids);
`
