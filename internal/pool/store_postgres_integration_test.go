//go:build integration

package pool_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"entpool/internal/catalog"
	"entpool/internal/pool"
	id "entpool/pkg/domain"
	"entpool/pkg/platform/sentinel"
	"entpool/pkg/testutil/containers"
)

type PostgresStoreSuite struct {
	suite.Suite
	postgres *containers.PostgresContainer
	store    *pool.PostgresStore
}

func TestPostgresStoreSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(PostgresStoreSuite))
}

func (s *PostgresStoreSuite) SetupSuite() {
	mgr := containers.GetManager()
	s.postgres = mgr.GetPostgres(s.T())
	s.store = pool.NewPostgres(s.postgres.DB)
}

func (s *PostgresStoreSuite) SetupTest() {
	ctx := context.Background()
	err := s.postgres.TruncateTables(ctx, "pools")
	s.Require().NoError(err)
}

func newStoredPool(owner id.OwnerID, quantity int64) *pool.Pool {
	now := time.Now().UTC().Truncate(time.Microsecond)
	return &pool.Pool{
		ID:               id.NewPoolID(),
		Owner:            owner,
		Subscription:     id.NewSubscriptionID(),
		Product:          "awesomeos-server",
		Quantity:         quantity,
		Type:             pool.TypeNormal,
		ProvidedProducts: []id.ProductID{"awesomeos-provided"},
		Attributes:       catalog.Attributes{"multi-entitlement": "yes"},
		StartDate:        now,
		EndDate:          now.AddDate(1, 0, 0),
		CreatedAt:        now,
		UpdatedAt:        now,
	}
}

func (s *PostgresStoreSuite) TestCreateAndGetRoundTrip() {
	ctx := context.Background()
	p := newStoredPool(id.NewOwnerID(), 40)

	s.Require().NoError(s.store.Create(ctx, p))

	got, err := s.store.Get(ctx, p.ID)
	s.Require().NoError(err)
	s.Equal(p.Product, got.Product)
	s.Equal(int64(40), got.Quantity)
	s.Equal(int64(0), got.Consumed)
	s.Equal(pool.TypeNormal, got.Type)
	s.Equal(p.Attributes, got.Attributes)
	s.Equal(p.ProvidedProducts, got.ProvidedProducts)
}

func (s *PostgresStoreSuite) TestAdjustConsumedBounds() {
	ctx := context.Background()
	p := newStoredPool(id.NewOwnerID(), 5)
	s.Require().NoError(s.store.Create(ctx, p))

	s.Require().NoError(s.store.AdjustConsumed(ctx, p.ID, 5))

	err := s.store.AdjustConsumed(ctx, p.ID, 1)
	s.True(errors.Is(err, sentinel.ErrInsufficient))

	s.Require().NoError(s.store.AdjustConsumed(ctx, p.ID, -2))
	got, err := s.store.Get(ctx, p.ID)
	s.Require().NoError(err)
	s.Equal(int64(3), got.Consumed)

	// Releases never go below zero.
	err = s.store.AdjustConsumed(ctx, p.ID, -4)
	s.True(errors.Is(err, sentinel.ErrInsufficient))

	// A shrunk bound must not wedge releases while the pool is over-consumed.
	p.Quantity = 1
	s.Require().NoError(s.store.Update(ctx, p))
	err = s.store.AdjustConsumed(ctx, p.ID, 1)
	s.True(errors.Is(err, sentinel.ErrInsufficient))
	s.Require().NoError(s.store.AdjustConsumed(ctx, p.ID, -2))
	got, err = s.store.Get(ctx, p.ID)
	s.Require().NoError(err)
	s.Equal(int64(1), got.Consumed)
}

func (s *PostgresStoreSuite) TestAdjustConsumedUnlimited() {
	ctx := context.Background()
	p := newStoredPool(id.NewOwnerID(), pool.QuantityUnlimited)
	s.Require().NoError(s.store.Create(ctx, p))

	for i := 0; i < 100; i++ {
		s.Require().NoError(s.store.AdjustConsumed(ctx, p.ID, 10))
	}
	got, err := s.store.Get(ctx, p.ID)
	s.Require().NoError(err)
	s.Equal(int64(1000), got.Consumed)
}

// TestConcurrentAdjustConsumed verifies that racing consumers never
// overcommit the pool: with quantity 30 and 50 single-unit grabs, exactly
// 30 succeed.
func (s *PostgresStoreSuite) TestConcurrentAdjustConsumed() {
	ctx := context.Background()
	p := newStoredPool(id.NewOwnerID(), 30)
	s.Require().NoError(s.store.Create(ctx, p))

	const goroutines = 50
	var wg sync.WaitGroup
	var success, depleted atomic.Int32

	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := s.store.AdjustConsumed(ctx, p.ID, 1)
			switch {
			case err == nil:
				success.Add(1)
			case errors.Is(err, sentinel.ErrInsufficient):
				depleted.Add(1)
			default:
				s.T().Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	s.Equal(int32(30), success.Load())
	s.Equal(int32(20), depleted.Load())

	got, err := s.store.Get(ctx, p.ID)
	s.Require().NoError(err)
	s.Equal(int64(30), got.Consumed)
}

func (s *PostgresStoreSuite) TestListByOwnerFilters() {
	ctx := context.Background()
	owner := id.NewOwnerID()

	normal := newStoredPool(owner, 10)
	s.Require().NoError(s.store.Create(ctx, normal))

	bonus := newStoredPool(owner, 40)
	bonus.Type = pool.TypeBonus
	bonus.Product = "awesomeos-virt"
	s.Require().NoError(s.store.Create(ctx, bonus))

	all, err := s.store.ListByOwner(ctx, owner, pool.ListFilter{})
	s.Require().NoError(err)
	s.Require().Len(all, 2)
	// NORMAL pools sort ahead of derived pools.
	s.Equal(pool.TypeNormal, all[0].Type)

	virt, err := s.store.ListByOwner(ctx, owner, pool.ListFilter{Product: "awesomeos-virt"})
	s.Require().NoError(err)
	s.Require().Len(virt, 1)
	s.Equal(bonus.ID, virt[0].ID)

	typed, err := s.store.ListByOwner(ctx, owner, pool.ListFilter{Type: pool.TypeBonus})
	s.Require().NoError(err)
	s.Require().Len(typed, 1)
	s.Equal(bonus.ID, typed[0].ID)
}

func (s *PostgresStoreSuite) TestListBySubscriptionAndSourceEntitlement() {
	ctx := context.Background()
	owner := id.NewOwnerID()

	parent := newStoredPool(owner, 10)
	s.Require().NoError(s.store.Create(ctx, parent))

	derived := newStoredPool(owner, 4)
	derived.Subscription = parent.Subscription
	derived.Type = pool.TypeEntDerived
	derived.SourceEntitlement = id.NewEntitlementID()
	derived.SourceConsumer = id.NewConsumerID()
	s.Require().NoError(s.store.Create(ctx, derived))

	bySub, err := s.store.ListBySubscription(ctx, parent.Subscription)
	s.Require().NoError(err)
	s.Len(bySub, 2)

	bySrc, err := s.store.ListBySourceEntitlement(ctx, derived.SourceEntitlement)
	s.Require().NoError(err)
	s.Require().Len(bySrc, 1)
	s.Equal(derived.ID, bySrc[0].ID)
	s.Equal(derived.SourceConsumer, bySrc[0].SourceConsumer)
}

func (s *PostgresStoreSuite) TestUpdateAndDelete() {
	ctx := context.Background()
	p := newStoredPool(id.NewOwnerID(), 10)
	s.Require().NoError(s.store.Create(ctx, p))

	p.Quantity = 20
	p.Attributes["virt_only"] = "true"
	s.Require().NoError(s.store.Update(ctx, p))

	got, err := s.store.Get(ctx, p.ID)
	s.Require().NoError(err)
	s.Equal(int64(20), got.Quantity)
	s.Equal("true", got.Attributes["virt_only"])

	s.Require().NoError(s.store.Delete(ctx, p.ID))
	_, err = s.store.Get(ctx, p.ID)
	s.True(errors.Is(err, sentinel.ErrNotFound))
}
