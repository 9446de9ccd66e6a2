package catalog

import (
	"context"
	"sync"

	id "entpool/pkg/domain"
	"entpool/pkg/platform/sentinel"
)

// InMemoryStore is the default catalog backing. Upsert is exposed for the
// service layer that mirrors upstream product data and for tests.
type InMemoryStore struct {
	mu       sync.RWMutex
	products map[id.ProductID]*Product
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{products: make(map[id.ProductID]*Product)}
}

func (s *InMemoryStore) GetProduct(_ context.Context, productID id.ProductID) (*Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.products[productID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return p, nil
}

func (s *InMemoryStore) Upsert(_ context.Context, p *Product) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.products[p.ID] = p
	return nil
}
