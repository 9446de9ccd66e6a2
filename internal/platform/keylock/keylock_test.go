package keylock

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSerializesPerKey(t *testing.T) {
	kl := New()
	const goroutines = 50

	counter := 0
	var wg sync.WaitGroup
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			kl.Lock("owner-a")
			defer kl.Unlock("owner-a")
			counter++
		}()
	}
	wg.Wait()

	assert.Equal(t, goroutines, counter)
}

func TestIndependentKeysDoNotBlock(t *testing.T) {
	kl := New()
	kl.Lock("owner-a")
	defer kl.Unlock("owner-a")

	done := make(chan struct{})
	go func() {
		kl.Lock("owner-b")
		kl.Unlock("owner-b")
		close(done)
	}()
	<-done
}

func TestUnlockUnheldKeyPanics(t *testing.T) {
	kl := New()
	assert.Panics(t, func() { kl.Unlock("never-locked") })
}
