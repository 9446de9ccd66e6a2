package subscription

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"

	id "entpool/pkg/domain"
	"entpool/pkg/platform/sentinel"
)

// PostgresStore persists subscriptions over database/sql.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const subscriptionColumns = `owner_id, product_id, quantity, provided_products,
	contract_number, account_number, order_number, start_date, end_date,
	sub_product_id, sub_provided_products, upstream_entitlement_id,
	certificate_serial, created_at, updated_at`

func (s *PostgresStore) Create(ctx context.Context, sub *Subscription) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO subscriptions (id, `+subscriptionColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
	`,
		uuid.UUID(sub.ID), uuid.UUID(sub.Owner), string(sub.Product), sub.Quantity,
		pq.Array(productStrings(sub.ProvidedProducts)),
		sub.ContractNumber, sub.AccountNumber, sub.OrderNumber,
		sub.StartDate, sub.EndDate,
		string(sub.SubProduct), pq.Array(productStrings(sub.SubProvidedProducts)),
		sub.UpstreamEntitlementID, int64(sub.CertificateSerial),
		sub.CreatedAt, sub.UpdatedAt,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return sentinel.ErrConflict
		}
		return fmt.Errorf("insert subscription: %w", err)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, subID id.SubscriptionID) (*Subscription, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, `+subscriptionColumns+` FROM subscriptions WHERE id = $1
	`, uuid.UUID(subID))
	return scanSubscription(row)
}

func (s *PostgresStore) Update(ctx context.Context, sub *Subscription) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE subscriptions SET
			quantity = $2, provided_products = $3,
			contract_number = $4, account_number = $5, order_number = $6,
			start_date = $7, end_date = $8,
			sub_product_id = $9, sub_provided_products = $10,
			upstream_entitlement_id = $11, certificate_serial = $12,
			updated_at = $13
		WHERE id = $1
	`,
		uuid.UUID(sub.ID), sub.Quantity, pq.Array(productStrings(sub.ProvidedProducts)),
		sub.ContractNumber, sub.AccountNumber, sub.OrderNumber,
		sub.StartDate, sub.EndDate,
		string(sub.SubProduct), pq.Array(productStrings(sub.SubProvidedProducts)),
		sub.UpstreamEntitlementID, int64(sub.CertificateSerial),
		sub.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("update subscription: %w", err)
	}
	return requireRow(res)
}

func (s *PostgresStore) Delete(ctx context.Context, subID id.SubscriptionID) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM subscriptions WHERE id = $1`, uuid.UUID(subID))
	if err != nil {
		return fmt.Errorf("delete subscription: %w", err)
	}
	return requireRow(res)
}

func (s *PostgresStore) ListByOwner(ctx context.Context, owner id.OwnerID) ([]*Subscription, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, `+subscriptionColumns+` FROM subscriptions
		WHERE owner_id = $1 ORDER BY id
	`, uuid.UUID(owner))
	if err != nil {
		return nil, fmt.Errorf("list subscriptions: %w", err)
	}
	defer rows.Close()

	var out []*Subscription
	for rows.Next() {
		sub, err := scanSubscription(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sub)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSubscription(row scanner) (*Subscription, error) {
	var (
		rawID, ownerID        uuid.UUID
		sub                   Subscription
		product, subProduct   string
		provided, subProvided pq.StringArray
		certSerial            int64
	)
	err := row.Scan(
		&rawID, &ownerID, &product, &sub.Quantity, &provided,
		&sub.ContractNumber, &sub.AccountNumber, &sub.OrderNumber,
		&sub.StartDate, &sub.EndDate,
		&subProduct, &subProvided, &sub.UpstreamEntitlementID,
		&certSerial, &sub.CreatedAt, &sub.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan subscription: %w", err)
	}
	sub.ID = id.SubscriptionID(rawID)
	sub.Owner = id.OwnerID(ownerID)
	sub.Product = id.ProductID(product)
	sub.SubProduct = id.ProductID(subProduct)
	sub.ProvidedProducts = toProducts(provided)
	sub.SubProvidedProducts = toProducts(subProvided)
	sub.CertificateSerial = id.SerialID(certSerial)
	return &sub, nil
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
CREATE TABLE IF NOT EXISTS subscriptions (
	id UUID PRIMARY KEY,
	owner_id UUID NOT NULL,
	product_id TEXT NOT NULL,
	quantity BIGINT NOT NULL,
	provided_products TEXT[] NOT NULL DEFAULT '{}',
	contract_number TEXT NOT NULL DEFAULT '',
	account_number TEXT NOT NULL DEFAULT '',
	order_number TEXT NOT NULL DEFAULT '',
	start_date TIMESTAMPTZ NOT NULL,
	end_date TIMESTAMPTZ NOT NULL,
	sub_product_id TEXT NOT NULL DEFAULT '',
	sub_provided_products TEXT[] NOT NULL DEFAULT '{}',
	upstream_entitlement_id TEXT NOT NULL DEFAULT '',
	certificate_serial BIGINT NOT NULL DEFAULT 0,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_subscriptions_owner ON subscriptions (owner_id);
`
