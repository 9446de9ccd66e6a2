//go:build integration

package subscription_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"entpool/internal/subscription"
	id "entpool/pkg/domain"
	"entpool/pkg/platform/sentinel"
	"entpool/pkg/testutil/containers"
)

type PostgresStoreSuite struct {
	suite.Suite
	postgres *containers.PostgresContainer
	store    *subscription.PostgresStore
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
	s.store = subscription.NewPostgres(s.postgres.DB)
}

func (s *PostgresStoreSuite) SetupTest() {
	ctx := context.Background()
	err := s.postgres.TruncateTables(ctx, "subscriptions")
	s.Require().NoError(err)
}

func newStoredSubscription(owner id.OwnerID) *subscription.Subscription {
	now := time.Now().UTC().Truncate(time.Microsecond)
	return &subscription.Subscription{
		ID:                  id.NewSubscriptionID(),
		Owner:               owner,
		Product:             "awesomeos-server",
		Quantity:            10,
		ProvidedProducts:    []id.ProductID{"awesomeos-provided"},
		ContractNumber:      "C-1001",
		AccountNumber:       "A-2002",
		OrderNumber:         "O-3003",
		StartDate:           now,
		EndDate:             now.AddDate(1, 0, 0),
		SubProduct:          "awesomeos-derived",
		SubProvidedProducts: []id.ProductID{"awesomeos-derived-provided"},
		CreatedAt:           now,
		UpdatedAt:           now,
	}
}

func (s *PostgresStoreSuite) TestCreateAndGet() {
	ctx := context.Background()
	sub := newStoredSubscription(id.NewOwnerID())

	s.Require().NoError(s.store.Create(ctx, sub))

	got, err := s.store.Get(ctx, sub.ID)
	s.Require().NoError(err)
	s.Equal(sub.ID, got.ID)
	s.Equal(sub.Product, got.Product)
	s.Equal(sub.Quantity, got.Quantity)
	s.Equal(sub.ProvidedProducts, got.ProvidedProducts)
	s.Equal(sub.SubProduct, got.SubProduct)
	s.Equal(sub.SubProvidedProducts, got.SubProvidedProducts)
	s.WithinDuration(sub.StartDate, got.StartDate, time.Millisecond)
	s.WithinDuration(sub.EndDate, got.EndDate, time.Millisecond)
}

func (s *PostgresStoreSuite) TestCreateDuplicateConflicts() {
	ctx := context.Background()
	sub := newStoredSubscription(id.NewOwnerID())

	s.Require().NoError(s.store.Create(ctx, sub))
	err := s.store.Create(ctx, sub)
	s.True(errors.Is(err, sentinel.ErrConflict))
}

func (s *PostgresStoreSuite) TestUpdatePersistsImportedFields() {
	ctx := context.Background()
	sub := newStoredSubscription(id.NewOwnerID())
	s.Require().NoError(s.store.Create(ctx, sub))

	sub.Quantity = 25
	sub.UpstreamEntitlementID = "up-8842"
	sub.CertificateSerial = 77
	s.Require().NoError(s.store.Update(ctx, sub))

	got, err := s.store.Get(ctx, sub.ID)
	s.Require().NoError(err)
	s.Equal(int64(25), got.Quantity)
	s.Equal("up-8842", got.UpstreamEntitlementID)
	s.Equal(id.SerialID(77), got.CertificateSerial)
}

func (s *PostgresStoreSuite) TestDeleteAndNotFound() {
	ctx := context.Background()
	sub := newStoredSubscription(id.NewOwnerID())
	s.Require().NoError(s.store.Create(ctx, sub))

	s.Require().NoError(s.store.Delete(ctx, sub.ID))

	_, err := s.store.Get(ctx, sub.ID)
	s.True(errors.Is(err, sentinel.ErrNotFound))

	err = s.store.Delete(ctx, sub.ID)
	s.True(errors.Is(err, sentinel.ErrNotFound))
}

func (s *PostgresStoreSuite) TestListByOwnerScoped() {
	ctx := context.Background()
	owner := id.NewOwnerID()
	other := id.NewOwnerID()

	for i := 0; i < 3; i++ {
		s.Require().NoError(s.store.Create(ctx, newStoredSubscription(owner)))
	}
	s.Require().NoError(s.store.Create(ctx, newStoredSubscription(other)))

	subs, err := s.store.ListByOwner(ctx, owner)
	s.Require().NoError(err)
	s.Len(subs, 3)
	for _, sub := range subs {
		s.Equal(owner, sub.Owner)
	}
}
