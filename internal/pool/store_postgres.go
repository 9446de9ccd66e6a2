package pool

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"entpool/internal/catalog"
	id "entpool/pkg/domain"
	"entpool/pkg/platform/sentinel"
)

// PostgresStore persists pools over database/sql. AdjustConsumed is a single
// guarded UPDATE so concurrent binds cannot overrun quantity.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const poolColumns = `owner_id, subscription_id, product_id, quantity, consumed, type,
	provided_products, sub_product_id, sub_provided_products,
	source_entitlement_id, source_consumer_id, attributes,
	start_date, end_date, created_at, updated_at`

func (s *PostgresStore) Create(ctx context.Context, p *Pool) error {
	attrs, err := json.Marshal(p.Attributes)
	if err != nil {
		return fmt.Errorf("marshal attributes: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO pools (id, `+poolColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
	`,
		uuid.UUID(p.ID), uuid.UUID(p.Owner), uuid.UUID(p.Subscription),
		string(p.Product), p.Quantity, p.Consumed, string(p.Type),
		pq.Array(productStrings(p.ProvidedProducts)),
		string(p.SubProduct), pq.Array(productStrings(p.SubProvidedProducts)),
		uuid.UUID(p.SourceEntitlement), uuid.UUID(p.SourceConsumer), attrs,
		p.StartDate, p.EndDate, p.CreatedAt, p.UpdatedAt,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return sentinel.ErrConflict
		}
		return fmt.Errorf("insert pool: %w", err)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, poolID id.PoolID) (*Pool, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, `+poolColumns+` FROM pools WHERE id = $1
	`, uuid.UUID(poolID))
	return scanPool(row)
}

func (s *PostgresStore) Update(ctx context.Context, p *Pool) error {
	attrs, err := json.Marshal(p.Attributes)
	if err != nil {
		return fmt.Errorf("marshal attributes: %w", err)
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE pools SET
			quantity = $2, provided_products = $3,
			sub_product_id = $4, sub_provided_products = $5,
			attributes = $6, start_date = $7, end_date = $8, updated_at = $9
		WHERE id = $1
	`,
		uuid.UUID(p.ID), p.Quantity, pq.Array(productStrings(p.ProvidedProducts)),
		string(p.SubProduct), pq.Array(productStrings(p.SubProvidedProducts)),
		attrs, p.StartDate, p.EndDate, p.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("update pool: %w", err)
	}
	return requireRow(res)
}

func (s *PostgresStore) Delete(ctx context.Context, poolID id.PoolID) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM pools WHERE id = $1`, uuid.UUID(poolID))
	if err != nil {
		return fmt.Errorf("delete pool: %w", err)
	}
	return requireRow(res)
}

func (s *PostgresStore) ListByOwner(ctx context.Context, owner id.OwnerID, filter ListFilter) ([]*Pool, error) {
	query := `SELECT id, ` + poolColumns + ` FROM pools WHERE owner_id = $1`
	args := []any{uuid.UUID(owner)}
	if filter.Product != "" {
		args = append(args, string(filter.Product))
		query += fmt.Sprintf(" AND product_id = $%d", len(args))
	}
	if filter.Type != "" {
		args = append(args, string(filter.Type))
		query += fmt.Sprintf(" AND type = $%d", len(args))
	}
	query += ` ORDER BY (type <> 'NORMAL'), id`
	return s.queryPools(ctx, query, args...)
}

func (s *PostgresStore) ListBySubscription(ctx context.Context, subID id.SubscriptionID) ([]*Pool, error) {
	return s.queryPools(ctx, `
		SELECT id, `+poolColumns+` FROM pools
		WHERE subscription_id = $1 ORDER BY (type <> 'NORMAL'), id
	`, uuid.UUID(subID))
}

func (s *PostgresStore) ListBySourceEntitlement(ctx context.Context, entID id.EntitlementID) ([]*Pool, error) {
	return s.queryPools(ctx, `
		SELECT id, `+poolColumns+` FROM pools
		WHERE source_entitlement_id = $1 ORDER BY (type <> 'NORMAL'), id
	`, uuid.UUID(entID))
}

func (s *PostgresStore) AdjustConsumed(ctx context.Context, poolID id.PoolID, delta int64) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE pools SET consumed = consumed + $2
		WHERE id = $1
		  AND consumed + $2 >= 0
		  AND ($2 <= 0 OR quantity = $3 OR consumed + $2 <= quantity)
	`, uuid.UUID(poolID), delta, QuantityUnlimited)
	if err != nil {
		return fmt.Errorf("adjust consumed: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		// Distinguish absent pool from bound violation.
		var exists bool
		if err := s.db.QueryRowContext(ctx, `SELECT TRUE FROM pools WHERE id = $1`, uuid.UUID(poolID)).Scan(&exists); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return sentinel.ErrNotFound
			}
			return fmt.Errorf("check pool: %w", err)
		}
		return sentinel.ErrInsufficient
	}
	return nil
}

func (s *PostgresStore) queryPools(ctx context.Context, query string, args ...any) ([]*Pool, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list pools: %w", err)
	}
	defer rows.Close()

	var out []*Pool
	for rows.Next() {
		p, err := scanPool(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanPool(row scanner) (*Pool, error) {
	var (
		rawID, ownerID, subID uuid.UUID
		srcEnt, srcConsumer   uuid.UUID
		p                     Pool
		product, subProduct   string
		typ                   string
		provided, subProvided pq.StringArray
		attrsJSON             []byte
	)
	err := row.Scan(
		&rawID, &ownerID, &subID, &product, &p.Quantity, &p.Consumed, &typ,
		&provided, &subProduct, &subProvided,
		&srcEnt, &srcConsumer, &attrsJSON,
		&p.StartDate, &p.EndDate, &p.CreatedAt, &p.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan pool: %w", err)
	}
	p.ID = id.PoolID(rawID)
	p.Owner = id.OwnerID(ownerID)
	p.Subscription = id.SubscriptionID(subID)
	p.Product = id.ProductID(product)
	p.Type = Type(typ)
	p.SubProduct = id.ProductID(subProduct)
	p.ProvidedProducts = toProducts(provided)
	p.SubProvidedProducts = toProducts(subProvided)
	p.SourceEntitlement = id.EntitlementID(srcEnt)
	p.SourceConsumer = id.ConsumerID(srcConsumer)
	var attrs catalog.Attributes
	if err := json.Unmarshal(attrsJSON, &attrs); err != nil {
		return nil, fmt.Errorf("unmarshal attributes: %w", err)
	}
	p.Attributes = attrs
	return &p, nil
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

func productStrings(ids []id.ProductID) []string {
	out := make([]string, len(ids))
	for i, p := range ids {
		out[i] = string(p)
	}
	return out
}

func toProducts(raw []string) []id.ProductID {
	out := make([]id.ProductID, len(raw))
	for i, p := range raw {
		out[i] = id.ProductID(p)
	}
	return out
}

var _ Store = (*PostgresStore)(nil)

// Schema documents the table this store expects.
const Schema = `
CREATE TABLE IF NOT EXISTS pools (
	id UUID PRIMARY KEY,
	owner_id UUID NOT NULL,
	subscription_id UUID NOT NULL DEFAULT '00000000-0000-0000-0000-000000000000',
	product_id TEXT NOT NULL,
	quantity BIGINT NOT NULL,
	consumed BIGINT NOT NULL DEFAULT 0,
	type TEXT NOT NULL,
	provided_products TEXT[] NOT NULL DEFAULT '{}',
	sub_product_id TEXT NOT NULL DEFAULT '',
	sub_provided_products TEXT[] NOT NULL DEFAULT '{}',
	source_entitlement_id UUID NOT NULL DEFAULT '00000000-0000-0000-0000-000000000000',
	source_consumer_id UUID NOT NULL DEFAULT '00000000-0000-0000-0000-000000000000',
	attributes JSONB NOT NULL DEFAULT '{}',
	start_date TIMESTAMPTZ NOT NULL,
	end_date TIMESTAMPTZ NOT NULL,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_pools_owner ON pools (owner_id);
CREATE INDEX IF NOT EXISTS idx_pools_subscription ON pools (subscription_id);
CREATE INDEX IF NOT EXISTS idx_pools_source_entitlement ON pools (source_entitlement_id);
`
