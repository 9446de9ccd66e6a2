package entitlement

import (
	"context"

	id "entpool/pkg/domain"
)

// Store persists entitlements. sentinel.ErrNotFound for unknown IDs; Delete
// of an absent entitlement is also ErrNotFound so cascades can treat it as
// already satisfied.
type Store interface {
	Create(ctx context.Context, ent *Entitlement) error
	Get(ctx context.Context, entID id.EntitlementID) (*Entitlement, error)
	Delete(ctx context.Context, entID id.EntitlementID) error

	// MarkCertificatesRevoked flips every certificate on the entitlement to
	// revoked. The flag never flips back.
	MarkCertificatesRevoked(ctx context.Context, entID id.EntitlementID) error

	ListByConsumer(ctx context.Context, consumerID id.ConsumerID) ([]*Entitlement, error)
	ListByPool(ctx context.Context, poolID id.PoolID) ([]*Entitlement, error)
}
