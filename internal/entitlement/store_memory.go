package entitlement

import (
	"context"
	"sort"
	"sync"

	id "entpool/pkg/domain"
	"entpool/pkg/platform/sentinel"
)

type InMemoryStore struct {
	mu   sync.RWMutex
	ents map[id.EntitlementID]*Entitlement
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{ents: make(map[id.EntitlementID]*Entitlement)}
}

func (s *InMemoryStore) Create(_ context.Context, ent *Entitlement) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.ents[ent.ID]; exists {
		return sentinel.ErrConflict
	}
	s.ents[ent.ID] = ent.clone()
	return nil
}

func (s *InMemoryStore) Get(_ context.Context, entID id.EntitlementID) (*Entitlement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ent, ok := s.ents[entID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return ent.clone(), nil
}

func (s *InMemoryStore) Delete(_ context.Context, entID id.EntitlementID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.ents[entID]; !ok {
		return sentinel.ErrNotFound
	}
	delete(s.ents, entID)
	return nil
}

func (s *InMemoryStore) MarkCertificatesRevoked(_ context.Context, entID id.EntitlementID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ent, ok := s.ents[entID]
	if !ok {
		return sentinel.ErrNotFound
	}
	for i := range ent.Certificates {
		ent.Certificates[i].Revoked = true
	}
	return nil
}

func (s *InMemoryStore) ListByConsumer(_ context.Context, consumerID id.ConsumerID) ([]*Entitlement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*Entitlement
	for _, ent := range s.ents {
		if ent.Consumer == consumerID {
			out = append(out, ent.clone())
		}
	}
	sortEnts(out)
	return out, nil
}

func (s *InMemoryStore) ListByPool(_ context.Context, poolID id.PoolID) ([]*Entitlement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*Entitlement
	for _, ent := range s.ents {
		if ent.Pool == poolID {
			out = append(out, ent.clone())
		}
	}
	sortEnts(out)
	return out, nil
}

func sortEnts(ents []*Entitlement) {
	sort.Slice(ents, func(i, j int) bool {
		return ents[i].ID.String() < ents[j].ID.String()
	})
}
