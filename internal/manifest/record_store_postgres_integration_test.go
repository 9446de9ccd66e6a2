//go:build integration

package manifest_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"entpool/internal/manifest"
	id "entpool/pkg/domain"
	"entpool/pkg/platform/sentinel"
	"entpool/pkg/testutil/containers"
)

type RecordStoreSuite struct {
	suite.Suite
	postgres *containers.PostgresContainer
	store    *manifest.PostgresRecordStore
}

func TestRecordStoreSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(RecordStoreSuite))
}

func (s *RecordStoreSuite) SetupSuite() {
	mgr := containers.GetManager()
	s.postgres = mgr.GetPostgres(s.T())
	s.store = manifest.NewPostgresRecordStore(s.postgres.DB)
}

func (s *RecordStoreSuite) SetupTest() {
	ctx := context.Background()
	err := s.postgres.TruncateTables(ctx, "import_records")
	s.Require().NoError(err)
}

func newRecord(owner id.OwnerID, status manifest.Status, at time.Time) *manifest.ImportRecord {
	return &manifest.ImportRecord{
		ID:        id.NewImportRecordID(),
		Owner:     owner,
		Status:    status,
		Message:   "manifest processed",
		Origin:    "upstream.example.com",
		Signature: "sig-abc",
		CreatedAt: at,
	}
}

func (s *RecordStoreSuite) TestAppendAndListNewestFirst() {
	ctx := context.Background()
	owner := id.NewOwnerID()
	base := time.Now().UTC().Truncate(time.Microsecond)

	oldest := newRecord(owner, manifest.StatusFailure, base.Add(-2*time.Hour))
	middle := newRecord(owner, manifest.StatusSuccess, base.Add(-time.Hour))
	newest := newRecord(owner, manifest.StatusSuccess, base)
	for _, rec := range []*manifest.ImportRecord{middle, oldest, newest} {
		s.Require().NoError(s.store.Append(ctx, rec))
	}
	s.Require().NoError(s.store.Append(ctx, newRecord(id.NewOwnerID(), manifest.StatusSuccess, base)))

	records, err := s.store.ListByOwner(ctx, owner)
	s.Require().NoError(err)
	s.Require().Len(records, 3)
	s.Equal(newest.ID, records[0].ID)
	s.Equal(middle.ID, records[1].ID)
	s.Equal(oldest.ID, records[2].ID)
}

func (s *RecordStoreSuite) TestLatestSuccessSkipsFailures() {
	ctx := context.Background()
	owner := id.NewOwnerID()
	base := time.Now().UTC().Truncate(time.Microsecond)

	success := newRecord(owner, manifest.StatusSuccess, base.Add(-time.Hour))
	failure := newRecord(owner, manifest.StatusFailure, base)
	s.Require().NoError(s.store.Append(ctx, success))
	s.Require().NoError(s.store.Append(ctx, failure))

	latest, err := s.store.LatestSuccess(ctx, owner)
	s.Require().NoError(err)
	s.Equal(success.ID, latest.ID)
	s.Equal("upstream.example.com", latest.Origin)
	s.Equal("sig-abc", latest.Signature)
}

func (s *RecordStoreSuite) TestLatestSuccessEmpty() {
	ctx := context.Background()

	_, err := s.store.LatestSuccess(ctx, id.NewOwnerID())
	s.True(errors.Is(err, sentinel.ErrNotFound))
}
