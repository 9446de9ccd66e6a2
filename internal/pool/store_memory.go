package pool

import (
	"context"
	"sort"
	"sync"

	id "entpool/pkg/domain"
	"entpool/pkg/platform/sentinel"
)

type InMemoryStore struct {
	mu    sync.RWMutex
	pools map[id.PoolID]*Pool
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{pools: make(map[id.PoolID]*Pool)}
}

func (s *InMemoryStore) Create(_ context.Context, p *Pool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.pools[p.ID]; exists {
		return sentinel.ErrConflict
	}
	s.pools[p.ID] = p.clone()
	return nil
}

func (s *InMemoryStore) Get(_ context.Context, poolID id.PoolID) (*Pool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.pools[poolID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return p.clone(), nil
}

// Update preserves the stored consumed count: reconciliation rewrites derived
// state, never the bind bookkeeping.
func (s *InMemoryStore) Update(_ context.Context, p *Pool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.pools[p.ID]
	if !ok {
		return sentinel.ErrNotFound
	}
	next := p.clone()
	next.Consumed = existing.Consumed
	s.pools[p.ID] = next
	return nil
}

func (s *InMemoryStore) Delete(_ context.Context, poolID id.PoolID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.pools[poolID]; !ok {
		return sentinel.ErrNotFound
	}
	delete(s.pools, poolID)
	return nil
}

func (s *InMemoryStore) ListByOwner(_ context.Context, owner id.OwnerID, filter ListFilter) ([]*Pool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*Pool
	for _, p := range s.pools {
		if p.Owner != owner {
			continue
		}
		if filter.Product != "" && p.Product != filter.Product {
			continue
		}
		if filter.Type != "" && p.Type != filter.Type {
			continue
		}
		out = append(out, p.clone())
	}
	sortPools(out)
	return out, nil
}

func (s *InMemoryStore) ListBySubscription(_ context.Context, subID id.SubscriptionID) ([]*Pool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*Pool
	for _, p := range s.pools {
		if p.Subscription == subID {
			out = append(out, p.clone())
		}
	}
	sortPools(out)
	return out, nil
}

func (s *InMemoryStore) ListBySourceEntitlement(_ context.Context, entID id.EntitlementID) ([]*Pool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*Pool
	for _, p := range s.pools {
		if p.SourceEntitlement == entID {
			out = append(out, p.clone())
		}
	}
	sortPools(out)
	return out, nil
}

func (s *InMemoryStore) AdjustConsumed(_ context.Context, poolID id.PoolID, delta int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.pools[poolID]
	if !ok {
		return sentinel.ErrNotFound
	}
	next := p.Consumed + delta
	if next < 0 {
		return sentinel.ErrInsufficient
	}
	// The upper bound gates grabs only: releases must succeed even while the
	// pool is over-consumed after a quantity reduction.
	if delta > 0 && !p.Unlimited() && next > p.Quantity {
		return sentinel.ErrInsufficient
	}
	p.Consumed = next
	return nil
}

func sortPools(pools []*Pool) {
	sort.Slice(pools, func(i, j int) bool {
		ri, rj := typeRank(pools[i].Type), typeRank(pools[j].Type)
		if ri != rj {
			return ri < rj
		}
		return pools[i].ID.String() < pools[j].ID.String()
	})
}
