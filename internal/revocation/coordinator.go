package revocation

import (
	"context"
	"errors"
	"log/slog"
	"sort"

	"entpool/internal/consumer"
	"entpool/internal/entitlement"
	"entpool/internal/events"
	"entpool/internal/platform/metrics"
	"entpool/internal/pool"
	id "entpool/pkg/domain"
	dErrors "entpool/pkg/domain-errors"
	"entpool/pkg/platform/sentinel"
)

// Coordinator walks the parent-to-child edges an entitlement removal leaves
// dangling: pools sourced by the entitlement are deleted, and their own
// entitlements are removed first, recursively. It operates on stores
// directly so the ledger can delegate to it without a dependency cycle.
//
// An entitlement cascade only ever reaches pools the entitlement sourced;
// the NORMAL pool it was bound against stays untouched.
type Coordinator struct {
	ents      entitlement.Store
	pools     pool.Store
	consumers consumer.Store
	ca        entitlement.CertificateAuthority
	bus       events.Publisher
	metrics   *metrics.Metrics
	logger    *slog.Logger
}

type Option func(*Coordinator)

func WithLogger(logger *slog.Logger) Option {
	return func(c *Coordinator) { c.logger = logger }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Coordinator) { c.metrics = m }
}

func New(
	ents entitlement.Store,
	pools pool.Store,
	consumers consumer.Store,
	ca entitlement.CertificateAuthority,
	bus events.Publisher,
	opts ...Option,
) (*Coordinator, error) {
	if ents == nil || pools == nil || consumers == nil {
		return nil, errors.New("coordinator requires entitlement, pool and consumer stores")
	}
	if ca == nil || bus == nil {
		return nil, errors.New("coordinator requires a certificate authority and bus")
	}
	c := &Coordinator{
		ents:      ents,
		pools:     pools,
		consumers: consumers,
		ca:        ca,
		bus:       bus,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// OnEntitlementRemoved deletes every pool the entitlement sourced, removing
// each pool's entitlements first. Descendants that are already gone are
// treated as satisfied, so re-running a partial cascade converges.
func (c *Coordinator) OnEntitlementRemoved(ctx context.Context, entID id.EntitlementID) error {
	sourced, err := c.pools.ListBySourceEntitlement(ctx, entID)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to list sourced pools")
	}
	for _, p := range sourced {
		if err := c.removePool(ctx, p); err != nil {
			return err
		}
	}
	return nil
}

// OnSubscriptionRemoved deletes every pool keyed to the subscription,
// cascading entitlement revocation first.
func (c *Coordinator) OnSubscriptionRemoved(ctx context.Context, subID id.SubscriptionID) error {
	pools, err := c.pools.ListBySubscription(ctx, subID)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to list subscription pools")
	}
	for _, p := range pools {
		if err := c.removePool(ctx, p); err != nil {
			return err
		}
	}
	return nil
}

// OnConsumerUnregistered removes every entitlement the consumer holds, lets
// the cascade take down the pools those entitlements sourced, then deletes
// the consumer record. A person consumer's user-license sub-pools are sourced
// by its entitlements, so systems entitled through the person's license lose
// those entitlements as part of the same walk.
func (c *Coordinator) OnConsumerUnregistered(ctx context.Context, consumerID id.ConsumerID) error {
	if _, err := c.consumers.Get(ctx, consumerID); err != nil {
		return translateLookup(err, "consumer")
	}

	held, err := c.ents.ListByConsumer(ctx, consumerID)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to list consumer entitlements")
	}
	for _, ent := range held {
		if err := c.removeEntitlement(ctx, ent); err != nil {
			return err
		}
	}

	if err := c.consumers.Delete(ctx, consumerID); err != nil && !errors.Is(err, sentinel.ErrNotFound) {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to delete consumer")
	}
	c.emit(ctx, events.TargetConsumer, consumerID.String())
	return nil
}

// OnPoolRemoved revokes every entitlement held against the pool, then
// deletes it. The derivation engine calls this when re-derivation drops a
// pool type. An already-absent pool is a satisfied cascade.
func (c *Coordinator) OnPoolRemoved(ctx context.Context, poolID id.PoolID) error {
	p, err := c.pools.Get(ctx, poolID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil
		}
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to load pool")
	}
	return c.removePool(ctx, p)
}

// OnPoolQuantityReduced restores the consumed bound after a pool's quantity
// shrank: the newest entitlements are revoked until consumed fits again.
// Unlimited and in-bound pools are left alone.
func (c *Coordinator) OnPoolQuantityReduced(ctx context.Context, poolID id.PoolID) error {
	p, err := c.pools.Get(ctx, poolID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil
		}
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to load pool")
	}
	if p.Unlimited() || p.Consumed <= p.Quantity {
		return nil
	}

	held, err := c.ents.ListByPool(ctx, p.ID)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to list pool entitlements")
	}
	sort.Slice(held, func(i, j int) bool {
		if !held[i].CreatedAt.Equal(held[j].CreatedAt) {
			return held[i].CreatedAt.After(held[j].CreatedAt)
		}
		return held[i].ID.String() > held[j].ID.String()
	})

	excess := p.Consumed - p.Quantity
	for _, ent := range held {
		if excess <= 0 {
			break
		}
		if err := c.removeEntitlement(ctx, ent); err != nil {
			return err
		}
		excess -= ent.Quantity
	}
	return nil
}

// removePool removes the pool's entitlements, deletes the pool, and recurses
// through anything those entitlements sourced.
func (c *Coordinator) removePool(ctx context.Context, p *pool.Pool) error {
	held, err := c.ents.ListByPool(ctx, p.ID)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to list pool entitlements")
	}
	for _, ent := range held {
		if err := c.removeEntitlement(ctx, ent); err != nil {
			return err
		}
	}

	if err := c.pools.Delete(ctx, p.ID); err != nil && !errors.Is(err, sentinel.ErrNotFound) {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to delete pool")
	}
	c.emit(ctx, events.TargetPool, p.ID.String())
	return nil
}

// removeEntitlement mirrors the ledger's unbind ordering: certificates are
// revoked before the record goes, quantity is released afterwards, and the
// entitlement's own sourced pools are cascaded last.
func (c *Coordinator) removeEntitlement(ctx context.Context, ent *entitlement.Entitlement) error {
	for _, serial := range ent.Serials() {
		if err := c.ca.Revoke(ctx, serial); err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to revoke serial")
		}
	}
	if err := c.ents.MarkCertificatesRevoked(ctx, ent.ID); err != nil && !errors.Is(err, sentinel.ErrNotFound) {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to mark certificates revoked")
	}

	if err := c.ents.Delete(ctx, ent.ID); err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil
		}
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to delete entitlement")
	}

	if err := c.pools.AdjustConsumed(ctx, ent.Pool, -ent.Quantity); err != nil && !errors.Is(err, sentinel.ErrNotFound) {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to release pool quantity")
	}

	if c.metrics != nil {
		c.metrics.EntitlementsRevoked.Inc()
	}
	c.emit(ctx, events.TargetEntitlement, ent.ID.String())

	return c.OnEntitlementRemoved(ctx, ent.ID)
}

func (c *Coordinator) emit(ctx context.Context, target events.Target, objectID string) {
	if err := c.bus.Emit(ctx, events.New(events.TypeDeleted, target, objectID)); err != nil {
		c.logger.Warn("deletion event not delivered", "target", target, "object_id", objectID, "error", err)
	}
}

func translateLookup(err error, noun string) error {
	switch {
	case errors.Is(err, sentinel.ErrGone):
		return dErrors.New(dErrors.CodeGone, noun+" has been deleted")
	case errors.Is(err, sentinel.ErrNotFound):
		return dErrors.New(dErrors.CodeNotFound, noun+" not found")
	default:
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to load "+noun)
	}
}

var (
	_ entitlement.Cascader = (*Coordinator)(nil)
	_ pool.Cascader        = (*Coordinator)(nil)
)
