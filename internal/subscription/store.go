package subscription

import (
	"context"

	id "entpool/pkg/domain"
)

// Store persists subscriptions. sentinel.ErrNotFound for unknown IDs.
type Store interface {
	Create(ctx context.Context, sub *Subscription) error
	Get(ctx context.Context, subID id.SubscriptionID) (*Subscription, error)
	Update(ctx context.Context, sub *Subscription) error
	Delete(ctx context.Context, subID id.SubscriptionID) error
	ListByOwner(ctx context.Context, owner id.OwnerID) ([]*Subscription, error)
}
