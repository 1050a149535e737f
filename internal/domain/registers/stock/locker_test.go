package stock

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestKeyLocker_SerializesSameKey(t *testing.T) {
	l := NewKeyLocker()
	var (
		mu      sync.Mutex
		inside  int
		maxSeen int
		wg      sync.WaitGroup
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := l.Lock("I1@a")
			defer unlock()

			mu.Lock()
			inside++
			if inside > maxSeen {
				maxSeen = inside
			}
			mu.Unlock()

			time.Sleep(time.Millisecond)

			mu.Lock()
			inside--
			mu.Unlock()
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, maxSeen)
	assert.Zero(t, l.Len())
}

func TestKeyLocker_OverlappingSetsDoNotDeadlock(t *testing.T) {
	l := NewKeyLocker()
	done := make(chan struct{})
	go func() {
		var wg sync.WaitGroup
		for i := 0; i < 50; i++ {
			wg.Add(2)
			go func() {
				defer wg.Done()
				l.Lock("a", "b")()
			}()
			go func() {
				defer wg.Done()
				l.Lock("b", "a")()
			}()
		}
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("deadlock acquiring overlapping key sets")
	}
	assert.Zero(t, l.Len())
}

func TestKeyLocker_UnlockIsIdempotent(t *testing.T) {
	l := NewKeyLocker()
	unlock := l.Lock("k", "k")
	assert.Equal(t, 1, l.Len())
	unlock()
	unlock()
	assert.Zero(t, l.Len())

	// Key is usable again.
	l.Lock("k")()
}
