package pool

import (
	"context"

	id "entpool/pkg/domain"
)

// ListFilter narrows ListByOwner output. Zero values match everything.
type ListFilter struct {
	Product id.ProductID
	Type    Type
}

// Store persists pools. Implementations must serialize consumed/quantity
// mutation per pool: AdjustConsumed is a compare-and-commit that either
// applies the full delta within bounds or fails with sentinel.ErrInsufficient.
type Store interface {
	Create(ctx context.Context, p *Pool) error
	Get(ctx context.Context, poolID id.PoolID) (*Pool, error)

	// Update rewrites derived state (quantity, attributes, provided sets)
	// but never the consumed count, which belongs to AdjustConsumed.
	Update(ctx context.Context, p *Pool) error
	Delete(ctx context.Context, poolID id.PoolID) error

	// ListByOwner returns the owner's pools, NORMAL types first.
	ListByOwner(ctx context.Context, owner id.OwnerID, filter ListFilter) ([]*Pool, error)

	// ListBySubscription returns pools keyed to the subscription.
	ListBySubscription(ctx context.Context, subID id.SubscriptionID) ([]*Pool, error)

	// ListBySourceEntitlement returns pools the entitlement sourced.
	ListBySourceEntitlement(ctx context.Context, entID id.EntitlementID) ([]*Pool, error)

	// AdjustConsumed atomically applies delta to consumed. Positive deltas
	// fail with sentinel.ErrInsufficient when the result would exceed
	// quantity on a bounded pool; any delta fails when the result would
	// drop below zero. Releases always succeed on an over-consumed pool so
	// quantity reductions can drain back within bounds.
	AdjustConsumed(ctx context.Context, poolID id.PoolID, delta int64) error
}
