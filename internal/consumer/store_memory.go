package consumer

import (
	"context"
	"sync"

	id "entpool/pkg/domain"
	"entpool/pkg/platform/sentinel"
)

type InMemoryStore struct {
	mu        sync.RWMutex
	consumers map[id.ConsumerID]*Consumer
	deleted   map[id.ConsumerID]struct{}
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		consumers: make(map[id.ConsumerID]*Consumer),
		deleted:   make(map[id.ConsumerID]struct{}),
	}
}

func (s *InMemoryStore) Create(_ context.Context, c *Consumer) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.consumers[c.ID]; exists {
		return sentinel.ErrConflict
	}
	if c.Type == TypePerson {
		for _, existing := range s.consumers {
			if existing.Type == TypePerson && existing.Owner == c.Owner && existing.Username == c.Username {
				return sentinel.ErrConflict
			}
		}
	}
	s.consumers[c.ID] = c.clone()
	return nil
}

func (s *InMemoryStore) Get(_ context.Context, consumerID id.ConsumerID) (*Consumer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if c, ok := s.consumers[consumerID]; ok {
		return c.clone(), nil
	}
	if _, gone := s.deleted[consumerID]; gone {
		return nil, sentinel.ErrGone
	}
	return nil, sentinel.ErrNotFound
}

func (s *InMemoryStore) Update(_ context.Context, c *Consumer) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.consumers[c.ID]; !ok {
		if _, gone := s.deleted[c.ID]; gone {
			return sentinel.ErrGone
		}
		return sentinel.ErrNotFound
	}
	s.consumers[c.ID] = c.clone()
	return nil
}

func (s *InMemoryStore) Delete(_ context.Context, consumerID id.ConsumerID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.consumers[consumerID]; !ok {
		if _, gone := s.deleted[consumerID]; gone {
			// Idempotent: already deleted.
			return nil
		}
		return sentinel.ErrNotFound
	}
	delete(s.consumers, consumerID)
	s.deleted[consumerID] = struct{}{}
	return nil
}

func (s *InMemoryStore) FindPersonByUsername(_ context.Context, owner id.OwnerID, username string) (*Consumer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, c := range s.consumers {
		if c.Type == TypePerson && c.Owner == owner && c.Username == username {
			return c.clone(), nil
		}
	}
	return nil, sentinel.ErrNotFound
}

func (s *InMemoryStore) FindHostByGuestUUID(_ context.Context, owner id.OwnerID, guestUUID string) (*Consumer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, c := range s.consumers {
		if c.Owner != owner {
			continue
		}
		for _, g := range c.GuestIDs {
			if g == guestUUID {
				return c.clone(), nil
			}
		}
	}
	return nil, sentinel.ErrNotFound
}
