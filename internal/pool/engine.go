package pool

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"entpool/internal/catalog"
	"entpool/internal/consumer"
	"entpool/internal/events"
	"entpool/internal/platform/keylock"
	"entpool/internal/subscription"
	id "entpool/pkg/domain"
	dErrors "entpool/pkg/domain-errors"
	"entpool/pkg/platform/sentinel"
)

// Cascader tears down pool state the engine can no longer honor. Removal
// revokes the pool's entitlements before the record goes away; a quantity
// reduction revokes excess entitlements until consumed fits the new bound.
type Cascader interface {
	OnPoolRemoved(ctx context.Context, poolID id.PoolID) error
	OnPoolQuantityReduced(ctx context.Context, poolID id.PoolID) error
}

// Engine derives the pool set each subscription requires and reconciles
// storage to match. Re-derivation is idempotent: existing pools are updated
// in place, preserving their IDs and issued entitlements.
type Engine struct {
	pools   Store
	subs    subscription.Store
	catalog catalog.Catalog
	bus     events.Publisher
	cascade Cascader
	locks   *keylock.KeyLock
	logger  *slog.Logger
	now     func() time.Time
}

type Option func(*Engine)

func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

func New(pools Store, subs subscription.Store, cat catalog.Catalog, cascade Cascader, bus events.Publisher, opts ...Option) (*Engine, error) {
	if pools == nil || subs == nil || cat == nil || cascade == nil || bus == nil {
		return nil, errors.New("pool engine requires pools, subscriptions, catalog, cascade and bus")
	}
	e := &Engine{
		pools:   pools,
		subs:    subs,
		catalog: cat,
		bus:     bus,
		cascade: cascade,
		locks:   keylock.New(),
		logger:  slog.Default(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// RefreshOwner re-derives every pool for the owner's subscriptions. Refreshes
// for the same owner are mutually exclusive; product data is read fresh so
// attribute and multiplier edits propagate.
func (e *Engine) RefreshOwner(ctx context.Context, owner id.OwnerID) error {
	e.locks.Lock(owner.String())
	defer e.locks.Unlock(owner.String())

	subs, err := e.subs.ListByOwner(ctx, owner)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to list subscriptions")
	}
	for _, sub := range subs {
		if err := e.reconcileSubscription(ctx, sub); err != nil {
			return err
		}
	}
	return nil
}

// RefreshAll fans refreshes out across owners. Per-owner serialization still
// holds inside RefreshOwner.
func (e *Engine) RefreshAll(ctx context.Context, owners []id.OwnerID) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, owner := range owners {
		g.Go(func() error {
			return e.RefreshOwner(ctx, owner)
		})
	}
	return g.Wait()
}

// ReconcileSubscription derives and commits the pool set for one
// subscription. Callers holding the owner lock (manifest import) use this
// directly; RefreshOwner wraps it per owner.
func (e *Engine) ReconcileSubscription(ctx context.Context, sub *subscription.Subscription) error {
	return e.reconcileSubscription(ctx, sub)
}

func (e *Engine) reconcileSubscription(ctx context.Context, sub *subscription.Subscription) error {
	product, err := e.catalog.GetProduct(ctx, sub.Product)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return dErrors.Wrap(err, dErrors.CodeNotFound, "product not in catalog: "+sub.Product.String())
		}
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to load product")
	}

	desired := e.derivePools(sub, product)

	existing, err := e.pools.ListBySubscription(ctx, sub.ID)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to list pools")
	}
	byType := make(map[Type]*Pool, len(existing))
	for _, p := range existing {
		byType[p.Type] = p
	}

	for _, spec := range desired {
		if current, ok := byType[spec.Type]; ok {
			delete(byType, spec.Type)
			spec.ID = current.ID
			spec.CreatedAt = current.CreatedAt
			if err := e.pools.Update(ctx, spec); err != nil {
				return dErrors.Wrap(err, dErrors.CodeInternal, "failed to update pool")
			}
			// A shrunk bound may leave the pool over-consumed; the cascade
			// revokes excess entitlements until it fits again.
			if !spec.Unlimited() && (current.Unlimited() || spec.Quantity < current.Quantity) {
				if err := e.cascade.OnPoolQuantityReduced(ctx, spec.ID); err != nil {
					return dErrors.Wrap(err, dErrors.CodeInternal, "failed to enforce reduced quantity")
				}
			}
			continue
		}
		spec.ID = id.NewPoolID()
		spec.CreatedAt = spec.UpdatedAt
		if err := e.pools.Create(ctx, spec); err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to create pool")
		}
		e.emit(ctx, events.TypeCreated, spec.ID)
	}

	// Pool types the subscription no longer derives (e.g. virt_limit removed
	// from the product) are dropped through the cascade, which revokes any
	// entitlements held against them before deleting the record.
	for _, stale := range byType {
		if err := e.cascade.OnPoolRemoved(ctx, stale.ID); err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to remove stale pool")
		}
	}
	return nil
}

// derivePools computes the desired pool set for a subscription: always one
// NORMAL pool, plus an UNMAPPED_GUEST bonus pool when the product carries
// virt_limit.
func (e *Engine) derivePools(sub *subscription.Subscription, product *catalog.Product) []*Pool {
	now := e.now()

	normal := &Pool{
		Owner:            sub.Owner,
		Subscription:     sub.ID,
		Product:          sub.Product,
		Quantity:         Quantity(sub.Quantity, product.Multiplier),
		Type:             TypeNormal,
		ProvidedProducts: append([]id.ProductID{}, sub.ProvidedProducts...),
		Attributes:       product.Attributes.Clone(),
		StartDate:        sub.StartDate,
		EndDate:          sub.EndDate,
		UpdatedAt:        now,
	}
	if len(normal.ProvidedProducts) == 0 {
		normal.ProvidedProducts = append([]id.ProductID{}, product.ProvidedProducts...)
	}
	// A sub-product rides on the NORMAL pool, not as a second pool.
	if sub.SubProduct != "" {
		normal.SubProduct = sub.SubProduct
		normal.SubProvidedProducts = append([]id.ProductID{}, sub.SubProvidedProducts...)
		if len(normal.SubProvidedProducts) == 0 && product.Derived != nil {
			normal.SubProvidedProducts = append([]id.ProductID{}, product.Derived.ProvidedProducts...)
		}
	}
	pools := []*Pool{normal}

	if _, unlimited, ok := product.Attributes.VirtLimit(); ok {
		qty := normal.Quantity
		if unlimited {
			qty = QuantityUnlimited
		}
		attrs := product.Attributes.Clone()
		if attrs == nil {
			attrs = catalog.Attributes{}
		}
		attrs[AttrUnmappedGuestsOnly] = "true"
		attrs[catalog.AttrVirtOnly] = "true"
		pools = append(pools, &Pool{
			Owner:            sub.Owner,
			Subscription:     sub.ID,
			Product:          sub.Product,
			Quantity:         qty,
			Type:             TypeUnmappedGuest,
			ProvidedProducts: append([]id.ProductID{}, normal.ProvidedProducts...),
			Attributes:       attrs,
			StartDate:        sub.StartDate,
			EndDate:          sub.EndDate,
			UpdatedAt:        now,
		})
	}
	return pools
}

// EntDerivationRequest carries the bind context needed to spawn derived
// pools. FirstOfStack is resolved by the ledger, which owns entitlement
// queries.
type EntDerivationRequest struct {
	EntitlementID id.EntitlementID
	Quantity      int64
	Pool          *Pool
	Product       *catalog.Product
	Consumer      *consumer.Consumer
	FirstOfStack  bool
}

// DeriveForEntitlement creates the derived pools a successful bind implies.
// Stacking (user-license sub-pool) and virt-limit (per-guest-mapping pools)
// are independent, composable steps; both may fire for one bind.
func (e *Engine) DeriveForEntitlement(ctx context.Context, req EntDerivationRequest) error {
	now := e.now()

	if req.FirstOfStack && req.Product.Attributes.Bool(catalog.AttrUserLicense) {
		licenseProduct := id.ProductID(req.Product.Attributes.Get(catalog.AttrUserLicenseProduct))
		attrs := catalog.Attributes{}
		if lp, err := e.catalog.GetProduct(ctx, licenseProduct); err == nil {
			if rct := lp.Attributes.Get(catalog.AttrRequiresConsumerType); rct != "" {
				attrs[catalog.AttrRequiresConsumerType] = rct
			}
		}
		attrs[catalog.AttrStackingID] = req.Product.Attributes.Get(catalog.AttrStackingID)
		sub := &Pool{
			ID:                id.NewPoolID(),
			Owner:             req.Pool.Owner,
			Product:           licenseProduct,
			Quantity:          QuantityUnlimited,
			Type:              TypeStackDerived,
			SourceEntitlement: req.EntitlementID,
			SourceConsumer:    req.Consumer.ID,
			Attributes:        attrs,
			StartDate:         req.Pool.StartDate,
			EndDate:           req.Pool.EndDate,
			CreatedAt:         now,
			UpdatedAt:         now,
		}
		if err := e.pools.Create(ctx, sub); err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to create stack derived pool")
		}
		e.emit(ctx, events.TypeCreated, sub.ID)
	}

	limit, unlimited, hasVirt := req.Product.Attributes.VirtLimit()
	if hasVirt && !req.Consumer.IsGuest() && len(req.Consumer.GuestIDs) > 0 {
		if err := e.deriveGuestPools(ctx, req, limit, unlimited, now); err != nil {
			return err
		}
	}
	return nil
}

// deriveGuestPools creates or refreshes one ENTITLEMENT_DERIVED pool per
// guest-host mapping the host consumer has declared.
func (e *Engine) deriveGuestPools(ctx context.Context, req EntDerivationRequest, limit int64, unlimited bool, now time.Time) error {
	existing, err := e.pools.ListBySourceEntitlement(ctx, req.EntitlementID)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to list derived pools")
	}
	byGuest := make(map[string]*Pool)
	for _, p := range existing {
		if p.Type == TypeEntDerived {
			byGuest[p.Attributes.Get(AttrGuestUUID)] = p
		}
	}

	qty := limit
	if unlimited {
		qty = QuantityUnlimited
	}
	provided := append([]id.ProductID{}, req.Pool.ProvidedProducts...)
	provided = append(provided, req.Pool.SubProvidedProducts...)

	for _, guestUUID := range req.Consumer.GuestIDs {
		attrs := catalog.Attributes{
			catalog.AttrVirtOnly: "true",
			AttrRequiresHost:     req.Consumer.ID.String(),
			AttrGuestUUID:        guestUUID,
		}
		if current, ok := byGuest[guestUUID]; ok {
			current.Quantity = qty
			current.ProvidedProducts = provided
			current.Attributes = attrs
			current.UpdatedAt = now
			if err := e.pools.Update(ctx, current); err != nil {
				return dErrors.Wrap(err, dErrors.CodeInternal, "failed to refresh derived pool")
			}
			continue
		}
		p := &Pool{
			ID:                id.NewPoolID(),
			Owner:             req.Pool.Owner,
			Product:           req.Pool.Product,
			Quantity:          qty,
			Type:              TypeEntDerived,
			ProvidedProducts:  provided,
			SourceEntitlement: req.EntitlementID,
			SourceConsumer:    req.Consumer.ID,
			Attributes:        attrs,
			StartDate:         req.Pool.StartDate,
			EndDate:           req.Pool.EndDate,
			CreatedAt:         now,
			UpdatedAt:         now,
		}
		if err := e.pools.Create(ctx, p); err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to create derived pool")
		}
		e.emit(ctx, events.TypeCreated, p.ID)
	}
	return nil
}

// ListPools returns the owner's pools, NORMAL first.
func (e *Engine) ListPools(ctx context.Context, owner id.OwnerID, filter ListFilter) ([]*Pool, error) {
	pools, err := e.pools.ListByOwner(ctx, owner, filter)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list pools")
	}
	return pools, nil
}

// GetPool fetches one pool.
func (e *Engine) GetPool(ctx context.Context, poolID id.PoolID) (*Pool, error) {
	p, err := e.pools.Get(ctx, poolID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.Wrap(err, dErrors.CodeNotFound, "pool not found")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load pool")
	}
	return p, nil
}

func (e *Engine) emit(ctx context.Context, t events.Type, poolID id.PoolID) {
	if err := e.bus.Emit(ctx, events.New(t, events.TargetPool, poolID.String())); err != nil {
		e.logger.Warn("pool event not delivered", "pool_id", poolID, "type", t, "error", err)
	}
}
