package revocation

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"entpool/internal/catalog"
	"entpool/internal/consumer"
	"entpool/internal/entitlement"
	"entpool/internal/events"
	"entpool/internal/pool"
	"entpool/internal/subscription"
	id "entpool/pkg/domain"
	dErrors "entpool/pkg/domain-errors"
	"entpool/pkg/platform/sentinel"
)

type fixture struct {
	coordinator *Coordinator
	ledger      *entitlement.Ledger
	engine      *pool.Engine
	ents        *entitlement.InMemoryStore
	pools       *pool.InMemoryStore
	subs        *subscription.InMemoryStore
	consumers   *consumer.InMemoryStore
	catalog     *catalog.InMemoryStore
	serials     *entitlement.InMemorySerialStore
	bus         *events.Recorder
	owner       id.OwnerID
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		ents:      entitlement.NewInMemoryStore(),
		pools:     pool.NewInMemoryStore(),
		subs:      subscription.NewInMemoryStore(),
		consumers: consumer.NewInMemoryStore(),
		catalog:   catalog.NewInMemoryStore(),
		serials:   entitlement.NewInMemorySerialStore(),
		bus:       events.NewRecorder(),
		owner:     id.NewOwnerID(),
	}
	ca := entitlement.NewSigningAuthority([]byte("test-signing-key"), f.serials)
	coordinator, err := New(f.ents, f.pools, f.consumers, ca, f.bus)
	require.NoError(t, err)
	f.coordinator = coordinator

	engine, err := pool.New(f.pools, f.subs, f.catalog, coordinator, f.bus)
	require.NoError(t, err)
	f.engine = engine
	ledger, err := entitlement.New(f.ents, f.pools, f.consumers, f.catalog, ca, engine, coordinator, f.bus)
	require.NoError(t, err)
	f.ledger = ledger
	return f
}

func (f *fixture) addProduct(t *testing.T, p *catalog.Product) {
	t.Helper()
	require.NoError(t, f.catalog.Upsert(context.Background(), p))
}

func (f *fixture) addPool(t *testing.T, p *pool.Pool) *pool.Pool {
	t.Helper()
	if p.ID.IsNil() {
		p.ID = id.NewPoolID()
	}
	p.Owner = f.owner
	if p.Type == "" {
		p.Type = pool.TypeNormal
	}
	if p.StartDate.IsZero() {
		p.StartDate = time.Now()
		p.EndDate = p.StartDate.AddDate(1, 0, 0)
	}
	require.NoError(t, f.pools.Create(context.Background(), p))
	return p
}

func (f *fixture) addConsumer(t *testing.T, c *consumer.Consumer) *consumer.Consumer {
	t.Helper()
	if c.ID.IsNil() {
		c.ID = id.NewConsumerID()
	}
	c.Owner = f.owner
	if c.Type == "" {
		c.Type = consumer.TypeSystem
	}
	require.NoError(t, f.consumers.Create(context.Background(), c))
	return c
}

func (f *fixture) bind(t *testing.T, c id.ConsumerID, p id.PoolID, qty int64) *entitlement.Entitlement {
	t.Helper()
	ent, err := f.ledger.Bind(context.Background(), entitlement.BindRequest{Consumer: c, Pool: p, Quantity: qty})
	require.NoError(t, err)
	return ent
}

// virtFixture binds a host to a virt_limit pool so per-guest derived pools
// exist, then binds a mapped guest to one of them.
func virtFixture(t *testing.T, f *fixture) (hostEnt, guestEnt *entitlement.Entitlement, normal *pool.Pool) {
	t.Helper()
	f.addProduct(t, &catalog.Product{
		ID:         "virt-host",
		Attributes: catalog.Attributes{catalog.AttrVirtLimit: "4"},
	})
	normal = f.addPool(t, &pool.Pool{Product: "virt-host", Quantity: 10})
	host := f.addConsumer(t, &consumer.Consumer{Name: "host", GuestIDs: []string{"g1"}})
	guest := f.addConsumer(t, &consumer.Consumer{
		Name:  "vm",
		Facts: map[string]string{consumer.FactVirtIsGuest: "true", consumer.FactVirtUUID: "g1"},
	})

	hostEnt = f.bind(t, host.ID, normal.ID, 1)

	derived, err := f.pools.ListBySourceEntitlement(context.Background(), hostEnt.ID)
	require.NoError(t, err)
	require.Len(t, derived, 1)
	guestEnt = f.bind(t, guest.ID, derived[0].ID, 1)
	return hostEnt, guestEnt, normal
}

func TestOnEntitlementRemoved(t *testing.T) {
	t.Run("unbinding a host entitlement revokes the guest chain", func(t *testing.T) {
		f := newFixture(t)
		hostEnt, guestEnt, normal := virtFixture(t, f)
		guestSerial := guestEnt.Certificates[0].Serial

		require.NoError(t, f.ledger.Unbind(context.Background(), hostEnt.ID))

		_, err := f.ents.Get(context.Background(), guestEnt.ID)
		assert.ErrorIs(t, err, sentinel.ErrNotFound, "guest entitlement should be cascaded away")

		derived, err := f.pools.ListBySourceEntitlement(context.Background(), hostEnt.ID)
		require.NoError(t, err)
		assert.Empty(t, derived, "derived pools should be deleted")

		status, err := f.serials.Get(context.Background(), guestSerial)
		require.NoError(t, err)
		assert.True(t, status.Revoked)

		state, err := f.pools.Get(context.Background(), normal.ID)
		require.NoError(t, err)
		assert.Equal(t, int64(0), state.Consumed)
	})

	t.Run("normal pool survives removal of an entitlement bound against it", func(t *testing.T) {
		f := newFixture(t)
		f.addProduct(t, &catalog.Product{ID: "plain"})
		p := f.addPool(t, &pool.Pool{Product: "plain", Quantity: 4})
		c := f.addConsumer(t, &consumer.Consumer{Name: "alpha"})

		ent := f.bind(t, c.ID, p.ID, 1)
		require.NoError(t, f.ledger.Unbind(context.Background(), ent.ID))

		state, err := f.pools.Get(context.Background(), p.ID)
		require.NoError(t, err)
		assert.Equal(t, int64(4), state.Quantity)
		assert.Equal(t, int64(0), state.Consumed)
	})

	t.Run("cascade is idempotent when descendants are already gone", func(t *testing.T) {
		f := newFixture(t)
		hostEnt, _, _ := virtFixture(t, f)

		require.NoError(t, f.coordinator.OnEntitlementRemoved(context.Background(), hostEnt.ID))
		require.NoError(t, f.coordinator.OnEntitlementRemoved(context.Background(), hostEnt.ID))
	})
}

func TestOnSubscriptionRemoved(t *testing.T) {
	t.Run("removes keyed pools and revokes their entitlements first", func(t *testing.T) {
		f := newFixture(t)
		f.addProduct(t, &catalog.Product{ID: "plain"})
		subID := id.NewSubscriptionID()
		p := f.addPool(t, &pool.Pool{Product: "plain", Quantity: 4, Subscription: subID})
		c := f.addConsumer(t, &consumer.Consumer{Name: "alpha"})
		ent := f.bind(t, c.ID, p.ID, 1)

		require.NoError(t, f.coordinator.OnSubscriptionRemoved(context.Background(), subID))

		_, err := f.pools.Get(context.Background(), p.ID)
		assert.ErrorIs(t, err, sentinel.ErrNotFound)

		_, err = f.ents.Get(context.Background(), ent.ID)
		assert.ErrorIs(t, err, sentinel.ErrNotFound)

		status, err := f.serials.Get(context.Background(), ent.Certificates[0].Serial)
		require.NoError(t, err)
		assert.True(t, status.Revoked)
	})
}

func TestOnConsumerUnregistered(t *testing.T) {
	t.Run("unbinds everything the consumer holds and tombstones it", func(t *testing.T) {
		f := newFixture(t)
		f.addProduct(t, &catalog.Product{ID: "plain"})
		p := f.addPool(t, &pool.Pool{Product: "plain", Quantity: 4})
		c := f.addConsumer(t, &consumer.Consumer{Name: "alpha"})
		f.bind(t, c.ID, p.ID, 2)

		require.NoError(t, f.coordinator.OnConsumerUnregistered(context.Background(), c.ID))

		state, err := f.pools.Get(context.Background(), p.ID)
		require.NoError(t, err)
		assert.Equal(t, int64(0), state.Consumed)

		_, err = f.consumers.Get(context.Background(), c.ID)
		assert.ErrorIs(t, err, sentinel.ErrGone)
	})

	t.Run("unregistering a person revokes systems entitled via the license", func(t *testing.T) {
		f := newFixture(t)
		f.addProduct(t, &catalog.Product{
			ID: "rhel-personal",
			Attributes: catalog.Attributes{
				catalog.AttrStackingID:         "personal",
				catalog.AttrUserLicense:        "true",
				catalog.AttrUserLicenseProduct: "rhel-personal-systems",
			},
		})
		f.addProduct(t, &catalog.Product{ID: "rhel-personal-systems"})
		licensePool := f.addPool(t, &pool.Pool{
			Product:  "rhel-personal",
			Quantity: 5,
			Attributes: catalog.Attributes{
				catalog.AttrStackingID:         "personal",
				catalog.AttrUserLicense:        "true",
				catalog.AttrUserLicenseProduct: "rhel-personal-systems",
			},
		})
		person := f.addConsumer(t, &consumer.Consumer{
			Name: "jane", Type: consumer.TypePerson, Username: "jane",
		})
		system := f.addConsumer(t, &consumer.Consumer{Name: "workstation"})

		personEnt := f.bind(t, person.ID, licensePool.ID, 1)
		subPools, err := f.pools.ListBySourceEntitlement(context.Background(), personEnt.ID)
		require.NoError(t, err)
		require.Len(t, subPools, 1)
		systemEnt := f.bind(t, system.ID, subPools[0].ID, 1)

		require.NoError(t, f.coordinator.OnConsumerUnregistered(context.Background(), person.ID))

		_, err = f.ents.Get(context.Background(), systemEnt.ID)
		assert.ErrorIs(t, err, sentinel.ErrNotFound, "system loses the license-derived entitlement")

		_, err = f.pools.Get(context.Background(), subPools[0].ID)
		assert.ErrorIs(t, err, sentinel.ErrNotFound)

		status, err := f.serials.Get(context.Background(), systemEnt.Certificates[0].Serial)
		require.NoError(t, err)
		assert.True(t, status.Revoked)
	})

	t.Run("unregistering an unknown consumer reports not found", func(t *testing.T) {
		f := newFixture(t)
		err := f.coordinator.OnConsumerUnregistered(context.Background(), id.NewConsumerID())
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeNotFound))
	})
}

func TestOnPoolRemoved(t *testing.T) {
	ctx := context.Background()

	t.Run("dropping virt_limit on refresh revokes bonus pool entitlements", func(t *testing.T) {
		f := newFixture(t)
		f.addProduct(t, &catalog.Product{
			ID:         "virt-prod",
			Attributes: catalog.Attributes{catalog.AttrVirtLimit: "4"},
		})
		sub := &subscription.Subscription{
			ID:        id.NewSubscriptionID(),
			Owner:     f.owner,
			Product:   "virt-prod",
			Quantity:  5,
			StartDate: time.Now(),
			EndDate:   time.Now().AddDate(1, 0, 0),
		}
		require.NoError(t, f.subs.Create(ctx, sub))
		require.NoError(t, f.engine.RefreshOwner(ctx, f.owner))

		bonus, err := f.pools.ListByOwner(ctx, f.owner, pool.ListFilter{Type: pool.TypeUnmappedGuest})
		require.NoError(t, err)
		require.Len(t, bonus, 1)

		guest := f.addConsumer(t, &consumer.Consumer{
			Name:  "stray-vm",
			Facts: map[string]string{consumer.FactVirtIsGuest: "true", consumer.FactVirtUUID: "g-unmapped"},
		})
		ent := f.bind(t, guest.ID, bonus[0].ID, 1)
		serial := ent.Certificates[0].Serial

		f.addProduct(t, &catalog.Product{ID: "virt-prod"})
		require.NoError(t, f.engine.RefreshOwner(ctx, f.owner))

		remaining, err := f.pools.ListByOwner(ctx, f.owner, pool.ListFilter{})
		require.NoError(t, err)
		require.Len(t, remaining, 1)
		assert.Equal(t, pool.TypeNormal, remaining[0].Type)

		held, err := f.ents.ListByConsumer(ctx, guest.ID)
		require.NoError(t, err)
		assert.Empty(t, held, "entitlement goes with its pool")

		status, err := f.serials.Get(ctx, serial)
		require.NoError(t, err)
		assert.True(t, status.Revoked)
	})

	t.Run("already-absent pool is a satisfied cascade", func(t *testing.T) {
		f := newFixture(t)
		require.NoError(t, f.coordinator.OnPoolRemoved(ctx, id.NewPoolID()))
	})
}

func TestOnPoolQuantityReduced(t *testing.T) {
	ctx := context.Background()

	t.Run("revokes newest entitlements until consumed fits the bound", func(t *testing.T) {
		f := newFixture(t)
		f.addProduct(t, &catalog.Product{ID: "plain"})
		p := f.addPool(t, &pool.Pool{Product: "plain", Quantity: 3})

		base := time.Now()
		var held []*entitlement.Entitlement
		for i := 0; i < 3; i++ {
			ent := &entitlement.Entitlement{
				ID:        id.NewEntitlementID(),
				Pool:      p.ID,
				Consumer:  id.NewConsumerID(),
				Quantity:  1,
				CreatedAt: base.Add(time.Duration(i) * time.Minute),
			}
			require.NoError(t, f.ents.Create(ctx, ent))
			require.NoError(t, f.pools.AdjustConsumed(ctx, p.ID, 1))
			held = append(held, ent)
		}

		p.Quantity = 1
		require.NoError(t, f.pools.Update(ctx, p))
		require.NoError(t, f.coordinator.OnPoolQuantityReduced(ctx, p.ID))

		state, err := f.pools.Get(ctx, p.ID)
		require.NoError(t, err)
		assert.Equal(t, int64(1), state.Quantity)
		assert.Equal(t, int64(1), state.Consumed)

		_, err = f.ents.Get(ctx, held[0].ID)
		assert.NoError(t, err, "oldest entitlement survives")
		for _, ent := range held[1:] {
			_, err := f.ents.Get(ctx, ent.ID)
			assert.ErrorIs(t, err, sentinel.ErrNotFound)
		}
	})

	t.Run("leaves unlimited and in-bound pools alone", func(t *testing.T) {
		f := newFixture(t)
		f.addProduct(t, &catalog.Product{ID: "plain"})
		p := f.addPool(t, &pool.Pool{Product: "plain", Quantity: pool.QuantityUnlimited})
		require.NoError(t, f.coordinator.OnPoolQuantityReduced(ctx, p.ID))
		require.NoError(t, f.coordinator.OnPoolQuantityReduced(ctx, id.NewPoolID()))
	})
}
