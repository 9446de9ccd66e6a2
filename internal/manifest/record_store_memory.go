package manifest

import (
	"context"
	"sync"

	id "entpool/pkg/domain"
	"entpool/pkg/platform/sentinel"
)

type InMemoryRecordStore struct {
	mu      sync.RWMutex
	records map[id.OwnerID][]*ImportRecord
}

func NewInMemoryRecordStore() *InMemoryRecordStore {
	return &InMemoryRecordStore{records: make(map[id.OwnerID][]*ImportRecord)}
}

func (s *InMemoryRecordStore) Append(_ context.Context, rec *ImportRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *rec
	s.records[rec.Owner] = append(s.records[rec.Owner], &cp)
	return nil
}

func (s *InMemoryRecordStore) ListByOwner(_ context.Context, owner id.OwnerID) ([]*ImportRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	recs := s.records[owner]
	out := make([]*ImportRecord, 0, len(recs))
	for i := len(recs) - 1; i >= 0; i-- {
		cp := *recs[i]
		out = append(out, &cp)
	}
	return out, nil
}

func (s *InMemoryRecordStore) LatestSuccess(_ context.Context, owner id.OwnerID) (*ImportRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	recs := s.records[owner]
	for i := len(recs) - 1; i >= 0; i-- {
		if recs[i].Status == StatusSuccess {
			cp := *recs[i]
			return &cp, nil
		}
	}
	return nil, sentinel.ErrNotFound
}

var _ RecordStore = (*InMemoryRecordStore)(nil)
