package subscription

import (
	"context"
	"errors"
	"log/slog"
	"time"

	id "entpool/pkg/domain"
	dErrors "entpool/pkg/domain-errors"
	"entpool/pkg/platform/sentinel"
)

// Deriver re-derives the pool set a subscription implies. Satisfied by the
// pool engine.
type Deriver interface {
	ReconcileSubscription(ctx context.Context, sub *Subscription) error
}

// Cascader removes a subscription's pools, revoking their entitlements first.
type Cascader interface {
	OnSubscriptionRemoved(ctx context.Context, subID id.SubscriptionID) error
}

// Service handles purchased subscriptions. Imported ones are owned by the
// manifest reconciler; this service refuses to create them.
type Service struct {
	store   Store
	deriver Deriver
	cascade Cascader
	logger  *slog.Logger
	now     func() time.Time
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func NewService(store Store, deriver Deriver, cascade Cascader, opts ...Option) (*Service, error) {
	if store == nil || deriver == nil || cascade == nil {
		return nil, errors.New("subscription service requires a store, deriver and cascader")
	}
	svc := &Service{
		store:   store,
		deriver: deriver,
		cascade: cascade,
		logger:  slog.Default(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc, nil
}

// Create records a purchase and derives its pools.
func (s *Service) Create(ctx context.Context, sub *Subscription) (*Subscription, error) {
	if sub.Product == "" {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "subscription requires a product")
	}
	if sub.Quantity < 0 {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "subscription quantity must not be negative")
	}
	if sub.UpstreamEntitlementID != "" {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "upstream entitlement id is set only by manifest import")
	}
	if !sub.EndDate.After(sub.StartDate) {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "subscription end date must follow start date")
	}

	if sub.ID.IsNil() {
		sub.ID = id.NewSubscriptionID()
	}
	now := s.now()
	sub.CreatedAt = now
	sub.UpdatedAt = now

	if err := s.store.Create(ctx, sub); err != nil {
		if errors.Is(err, sentinel.ErrConflict) {
			return nil, dErrors.New(dErrors.CodeConflict, "subscription already exists")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to create subscription")
	}

	if err := s.deriver.ReconcileSubscription(ctx, sub); err != nil {
		return nil, err
	}
	return sub, nil
}

func (s *Service) Get(ctx context.Context, subID id.SubscriptionID) (*Subscription, error) {
	sub, err := s.store.Get(ctx, subID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "subscription not found")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load subscription")
	}
	return sub, nil
}

func (s *Service) List(ctx context.Context, owner id.OwnerID) ([]*Subscription, error) {
	subs, err := s.store.ListByOwner(ctx, owner)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list subscriptions")
	}
	return subs, nil
}

// Delete removes the subscription after cascading its pools away.
func (s *Service) Delete(ctx context.Context, subID id.SubscriptionID) error {
	if _, err := s.store.Get(ctx, subID); err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return dErrors.New(dErrors.CodeNotFound, "subscription not found")
		}
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to load subscription")
	}

	if err := s.cascade.OnSubscriptionRemoved(ctx, subID); err != nil {
		return err
	}
	if err := s.store.Delete(ctx, subID); err != nil && !errors.Is(err, sentinel.ErrNotFound) {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to delete subscription")
	}
	return nil
}
