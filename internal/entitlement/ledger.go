package entitlement

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"entpool/internal/catalog"
	"entpool/internal/consumer"
	"entpool/internal/events"
	"entpool/internal/platform/metrics"
	"entpool/internal/pool"
	id "entpool/pkg/domain"
	dErrors "entpool/pkg/domain-errors"
	"entpool/pkg/platform/sentinel"
)

// Cascader propagates the downstream consequences of an entitlement removal:
// derived pools sourced by the entitlement disappear, taking their own
// entitlements with them. Implementations must be idempotent on descendants
// that are already gone.
type Cascader interface {
	OnEntitlementRemoved(ctx context.Context, entID id.EntitlementID) error
}

// Deriver spawns the derived pools a successful bind implies.
type Deriver interface {
	DeriveForEntitlement(ctx context.Context, req pool.EntDerivationRequest) error
}

// Ledger validates and executes bind and unbind. It is the only writer of
// entitlement records and the only caller of AdjustConsumed outside the
// revocation cascade.
type Ledger struct {
	store     Store
	pools     pool.Store
	consumers consumer.Store
	catalog   catalog.Catalog
	ca        CertificateAuthority
	deriver   Deriver
	cascade   Cascader
	bus       events.Publisher
	metrics   *metrics.Metrics
	logger    *slog.Logger
	now       func() time.Time
}

type Option func(*Ledger)

func WithLogger(logger *slog.Logger) Option {
	return func(l *Ledger) { l.logger = logger }
}

func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(l *Ledger) { l.metrics = m }
}

func New(
	store Store,
	pools pool.Store,
	consumers consumer.Store,
	cat catalog.Catalog,
	ca CertificateAuthority,
	deriver Deriver,
	cascade Cascader,
	bus events.Publisher,
	opts ...Option,
) (*Ledger, error) {
	if store == nil || pools == nil || consumers == nil || cat == nil {
		return nil, errors.New("ledger requires entitlement, pool and consumer stores plus a catalog")
	}
	if ca == nil || deriver == nil || cascade == nil || bus == nil {
		return nil, errors.New("ledger requires a certificate authority, deriver, cascader and bus")
	}
	l := &Ledger{
		store:     store,
		pools:     pools,
		consumers: consumers,
		catalog:   cat,
		ca:        ca,
		deriver:   deriver,
		cascade:   cascade,
		bus:       bus,
		logger:    slog.Default(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

// BindRequest asks for quantity against a pool on behalf of a consumer.
// Quantity zero means the default of one.
type BindRequest struct {
	Consumer id.ConsumerID
	Pool     id.PoolID
	Quantity int64
}

// Bind validates the request in a fixed order: quantity constraint first,
// then consumer eligibility, then the multi-entitlement rule. On success the
// pool's consumed count rises by the requested quantity, a fresh certificate
// is issued, and entitlement derivation runs for the new entitlement.
func (l *Ledger) Bind(ctx context.Context, req BindRequest) (*Entitlement, error) {
	qty := req.Quantity
	if qty == 0 {
		qty = 1
	}
	if qty < 0 {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "bind quantity must be positive")
	}

	p, err := l.pools.Get(ctx, req.Pool)
	if err != nil {
		return nil, l.reject("not_found", translateLookup(err, "pool"))
	}
	c, err := l.consumers.Get(ctx, req.Consumer)
	if err != nil {
		return nil, l.reject("not_found", translateLookup(err, "consumer"))
	}

	if !p.Unlimited() && p.Consumed+qty > p.Quantity {
		return nil, l.reject("constraint", dErrors.New(dErrors.CodeConstraintViolation,
			fmt.Sprintf("pool has %d of %d available", p.Quantity-p.Consumed, p.Quantity)))
	}

	if err := l.checkEligibility(ctx, p, c); err != nil {
		return nil, l.reject("eligibility", err)
	}

	// Product attributes drive multi-entitlement and stack detection. Pools
	// whose product is not in the catalog (imported license products) fall
	// back to the attributes copied onto the pool.
	product, err := l.catalog.GetProduct(ctx, p.Product)
	if err != nil && !errors.Is(err, sentinel.ErrNotFound) {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load product")
	}

	held, err := l.store.ListByConsumer(ctx, c.ID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list entitlements")
	}
	for _, ent := range held {
		if ent.Pool != p.ID {
			continue
		}
		if product == nil || !product.MultiEntitlement() {
			return nil, l.reject("multi_entitlement", dErrors.New(dErrors.CodeMultiEntitlement,
				"consumer already holds an entitlement to this pool"))
		}
	}

	firstOfStack := false
	if stackID := p.Attributes.Get(catalog.AttrStackingID); stackID != "" {
		firstOfStack, err = l.firstOfStack(ctx, held, stackID)
		if err != nil {
			return nil, err
		}
	}

	// Compare-and-commit guards the bound against concurrent binds; the
	// pre-check above only exists to report the violation before eligibility
	// work is done.
	if err := l.pools.AdjustConsumed(ctx, p.ID, qty); err != nil {
		if errors.Is(err, sentinel.ErrInsufficient) {
			return nil, l.reject("constraint", dErrors.New(dErrors.CodeConstraintViolation,
				"pool quantity exhausted"))
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to consume pool quantity")
	}

	ent := &Entitlement{
		ID:        id.NewEntitlementID(),
		Pool:      p.ID,
		Consumer:  c.ID,
		Quantity:  qty,
		CreatedAt: l.now(),
	}
	cert, err := l.ca.Issue(ctx, IssueRequest{
		Entitlement: ent.ID,
		Pool:        p.ID,
		Product:     p.Product,
		Consumer:    c.ID,
		Quantity:    qty,
		StartDate:   p.StartDate,
		EndDate:     p.EndDate,
	})
	if err != nil {
		l.release(ctx, p.ID, qty)
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to issue certificate")
	}
	ent.Certificates = []Certificate{cert}

	if err := l.store.Create(ctx, ent); err != nil {
		l.release(ctx, p.ID, qty)
		if rerr := l.ca.Revoke(ctx, cert.Serial); rerr != nil {
			l.logger.Warn("orphaned serial not revoked", "serial", cert.Serial, "error", rerr)
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to create entitlement")
	}

	if err := l.deriver.DeriveForEntitlement(ctx, pool.EntDerivationRequest{
		EntitlementID: ent.ID,
		Quantity:      qty,
		Pool:          p,
		Product:       derivationProduct(product, p),
		Consumer:      c,
		FirstOfStack:  firstOfStack,
	}); err != nil {
		l.logger.Error("entitlement derivation failed", "entitlement_id", ent.ID, "error", err)
		return nil, err
	}

	l.emit(ctx, events.TypeCreated, ent.ID)
	if l.metrics != nil {
		l.metrics.BindsTotal.WithLabelValues("success").Inc()
	}
	return ent, nil
}

// BindProduct binds against the first of the owner's pools for the product
// that accepts the consumer. Pools are tried in listing order, NORMAL first.
func (l *Ledger) BindProduct(ctx context.Context, consumerID id.ConsumerID, productID id.ProductID, qty int64) (*Entitlement, error) {
	c, err := l.consumers.Get(ctx, consumerID)
	if err != nil {
		return nil, translateLookup(err, "consumer")
	}
	candidates, err := l.pools.ListByOwner(ctx, c.Owner, pool.ListFilter{Product: productID})
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list pools")
	}
	if len(candidates) == 0 {
		return nil, dErrors.New(dErrors.CodeNotFound, "no pool for product")
	}

	var lastErr error
	for _, p := range candidates {
		ent, err := l.Bind(ctx, BindRequest{Consumer: consumerID, Pool: p.ID, Quantity: qty})
		if err == nil {
			return ent, nil
		}
		lastErr = err
	}
	return nil, lastErr
}

// Unbind revokes the entitlement's certificates, deletes the record, releases
// its quantity back to the pool, and cascades removal of any pools the
// entitlement sourced.
func (l *Ledger) Unbind(ctx context.Context, entID id.EntitlementID) error {
	ent, err := l.store.Get(ctx, entID)
	if err != nil {
		return translateLookup(err, "entitlement")
	}

	for _, serial := range ent.Serials() {
		if err := l.ca.Revoke(ctx, serial); err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to revoke serial")
		}
	}
	if err := l.store.MarkCertificatesRevoked(ctx, entID); err != nil && !errors.Is(err, sentinel.ErrNotFound) {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to mark certificates revoked")
	}

	if err := l.store.Delete(ctx, entID); err != nil && !errors.Is(err, sentinel.ErrNotFound) {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to delete entitlement")
	}

	// The pool may already be gone when the unbind is part of a cascade that
	// removed it first.
	if err := l.pools.AdjustConsumed(ctx, ent.Pool, -ent.Quantity); err != nil && !errors.Is(err, sentinel.ErrNotFound) {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to release pool quantity")
	}

	if err := l.cascade.OnEntitlementRemoved(ctx, entID); err != nil {
		return err
	}

	l.emit(ctx, events.TypeDeleted, entID)
	if l.metrics != nil {
		l.metrics.EntitlementsRevoked.Inc()
	}
	return nil
}

// Get fetches an entitlement by ID.
func (l *Ledger) Get(ctx context.Context, entID id.EntitlementID) (*Entitlement, error) {
	ent, err := l.store.Get(ctx, entID)
	if err != nil {
		return nil, translateLookup(err, "entitlement")
	}
	return ent, nil
}

// ListByConsumer returns the consumer's entitlements.
func (l *Ledger) ListByConsumer(ctx context.Context, consumerID id.ConsumerID) ([]*Entitlement, error) {
	ents, err := l.store.ListByConsumer(ctx, consumerID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list entitlements")
	}
	return ents, nil
}

func (l *Ledger) checkEligibility(ctx context.Context, p *pool.Pool, c *consumer.Consumer) error {
	if rct := p.Attributes.Get(catalog.AttrRequiresConsumerType); rct != "" && rct != string(c.Type) {
		return dErrors.New(dErrors.CodeEligibility,
			fmt.Sprintf("pool requires consumer type %q", rct))
	}

	if p.Attributes.Bool(catalog.AttrVirtOnly) && !c.IsGuest() {
		return dErrors.New(dErrors.CodeEligibility, "pool is restricted to virtual guests")
	}

	if p.Attributes.Bool(pool.AttrUnmappedGuestsOnly) {
		if !c.IsGuest() {
			return dErrors.New(dErrors.CodeEligibility, "pool is restricted to virtual guests")
		}
		if _, err := l.resolveHost(ctx, c); err == nil {
			return dErrors.New(dErrors.CodeEligibility,
				"pool is restricted to guests with no mapped host")
		}
	}

	if requiredHost := p.Attributes.Get(pool.AttrRequiresHost); requiredHost != "" {
		if !c.IsGuest() {
			return dErrors.New(dErrors.CodeEligibility, "pool is restricted to virtual guests")
		}
		host, err := l.resolveHost(ctx, c)
		if err != nil {
			return dErrors.New(dErrors.CodeEligibility, "guest host could not be resolved")
		}
		if host.ID.String() != requiredHost {
			return dErrors.New(dErrors.CodeEligibility,
				"pool is restricted to guests of a different host")
		}
	}

	return nil
}

func (l *Ledger) resolveHost(ctx context.Context, c *consumer.Consumer) (*consumer.Consumer, error) {
	guestUUID := c.VirtUUID()
	if guestUUID == "" {
		return nil, sentinel.ErrNotFound
	}
	return l.consumers.FindHostByGuestUUID(ctx, c.Owner, guestUUID)
}

// firstOfStack reports whether none of the consumer's held entitlements is
// against a pool carrying stackID.
func (l *Ledger) firstOfStack(ctx context.Context, held []*Entitlement, stackID string) (bool, error) {
	for _, ent := range held {
		p, err := l.pools.Get(ctx, ent.Pool)
		if errors.Is(err, sentinel.ErrNotFound) {
			continue
		}
		if err != nil {
			return false, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load held pool")
		}
		if p.Attributes.Get(catalog.AttrStackingID) == stackID {
			return false, nil
		}
	}
	return true, nil
}

// derivationProduct prefers the catalog product; for pools whose product is
// not cataloged it synthesizes one from the attributes copied onto the pool.
func derivationProduct(product *catalog.Product, p *pool.Pool) *catalog.Product {
	if product != nil {
		return product
	}
	return &catalog.Product{
		ID:               p.Product,
		Attributes:       p.Attributes.Clone(),
		ProvidedProducts: append([]id.ProductID{}, p.ProvidedProducts...),
	}
}

func (l *Ledger) release(ctx context.Context, poolID id.PoolID, qty int64) {
	if err := l.pools.AdjustConsumed(ctx, poolID, -qty); err != nil {
		l.logger.Error("failed to release pool quantity after bind failure",
			"pool_id", poolID, "error", err)
	}
}

func (l *Ledger) reject(outcome string, err error) error {
	if l.metrics != nil && outcome != "not_found" {
		l.metrics.BindsTotal.WithLabelValues(outcome).Inc()
	}
	return err
}

func (l *Ledger) emit(ctx context.Context, t events.Type, entID id.EntitlementID) {
	if err := l.bus.Emit(ctx, events.New(t, events.TargetEntitlement, entID.String())); err != nil {
		l.logger.Warn("entitlement event not delivered", "entitlement_id", entID, "error", err)
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
