package subscription

import (
	"context"
	"sort"
	"sync"

	id "entpool/pkg/domain"
	"entpool/pkg/platform/sentinel"
)

type InMemoryStore struct {
	mu   sync.RWMutex
	subs map[id.SubscriptionID]*Subscription
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{subs: make(map[id.SubscriptionID]*Subscription)}
}

func (s *InMemoryStore) Create(_ context.Context, sub *Subscription) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.subs[sub.ID]; exists {
		return sentinel.ErrConflict
	}
	s.subs[sub.ID] = sub.clone()
	return nil
}

func (s *InMemoryStore) Get(_ context.Context, subID id.SubscriptionID) (*Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sub, ok := s.subs[subID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return sub.clone(), nil
}

func (s *InMemoryStore) Update(_ context.Context, sub *Subscription) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.subs[sub.ID]; !ok {
		return sentinel.ErrNotFound
	}
	s.subs[sub.ID] = sub.clone()
	return nil
}

func (s *InMemoryStore) Delete(_ context.Context, subID id.SubscriptionID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.subs[subID]; !ok {
		return sentinel.ErrNotFound
	}
	delete(s.subs, subID)
	return nil
}

func (s *InMemoryStore) ListByOwner(_ context.Context, owner id.OwnerID) ([]*Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*Subscription
	for _, sub := range s.subs {
		if sub.Owner == owner {
			out = append(out, sub.clone())
		}
	}
	// Stable order keeps refresh and reconciliation deterministic.
	sort.Slice(out, func(i, j int) bool {
		return out[i].ID.String() < out[j].ID.String()
	})
	return out, nil
}
