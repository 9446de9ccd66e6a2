package entitlement

import (
	"context"
	"sync"
	"time"

	id "entpool/pkg/domain"
	"entpool/pkg/platform/sentinel"
)

type InMemorySerialStore struct {
	mu      sync.Mutex
	next    int64
	serials map[id.SerialID]SerialStatus
}

func NewInMemorySerialStore() *InMemorySerialStore {
	return &InMemorySerialStore{serials: make(map[id.SerialID]SerialStatus)}
}

func (s *InMemorySerialStore) NextSerial(_ context.Context) (id.SerialID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.next++
	serial := id.SerialID(s.next)
	s.serials[serial] = SerialStatus{Serial: serial, IssuedAt: time.Now()}
	return serial, nil
}

func (s *InMemorySerialStore) MarkRevoked(_ context.Context, serial id.SerialID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	status, ok := s.serials[serial]
	if !ok {
		return sentinel.ErrNotFound
	}
	status.Revoked = true
	s.serials[serial] = status
	return nil
}

func (s *InMemorySerialStore) Get(_ context.Context, serial id.SerialID) (SerialStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	status, ok := s.serials[serial]
	if !ok {
		return SerialStatus{}, sentinel.ErrNotFound
	}
	return status, nil
}

var _ SerialStore = (*InMemorySerialStore)(nil)
