package consumer

import (
	"context"

	id "entpool/pkg/domain"
)

// Store persists consumers. Implementations return sentinel.ErrNotFound for
// unknown IDs, sentinel.ErrGone for deleted ones, and sentinel.ErrConflict
// when a second active person consumer is created for the same username.
type Store interface {
	Create(ctx context.Context, c *Consumer) error
	Get(ctx context.Context, consumerID id.ConsumerID) (*Consumer, error)
	Update(ctx context.Context, c *Consumer) error

	// Delete tombstones the consumer so later lookups distinguish deleted
	// from never-existed.
	Delete(ctx context.Context, consumerID id.ConsumerID) error

	// FindPersonByUsername returns the active person consumer registered for
	// username, or sentinel.ErrNotFound.
	FindPersonByUsername(ctx context.Context, owner id.OwnerID, username string) (*Consumer, error)

	// FindHostByGuestUUID resolves the host consumer that has declared
	// guestUUID among its guest IDs, or sentinel.ErrNotFound.
	FindHostByGuestUUID(ctx context.Context, owner id.OwnerID, guestUUID string) (*Consumer, error)
}
