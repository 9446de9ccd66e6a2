// Package keylock provides named mutual exclusion. Refresh and import use it
// to serialize work per owner; the memory pool store uses it per pool.
package keylock

import "sync"

// KeyLock hands out one mutex per key. Locks are never evicted; the key space
// (owners, pools) is small and bounded by live entities.
type KeyLock struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func New() *KeyLock {
	return &KeyLock{locks: make(map[string]*sync.Mutex)}
}

// Lock acquires the mutex for key, creating it on first use.
func (k *KeyLock) Lock(key string) {
	k.mu.Lock()
	m, ok := k.locks[key]
	if !ok {
		m = &sync.Mutex{}
		k.locks[key] = m
	}
	k.mu.Unlock()
	m.Lock()
}

// Unlock releases the mutex for key. Unlocking a never-locked key panics,
// matching sync.Mutex semantics.
func (k *KeyLock) Unlock(key string) {
	k.mu.Lock()
	m, ok := k.locks[key]
	k.mu.Unlock()
	if !ok {
		panic("keylock: unlock of unheld key " + key)
	}
	m.Unlock()
}
