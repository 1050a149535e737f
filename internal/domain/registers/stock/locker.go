package stock

import (
	"sort"
	"sync"
)

// KeyLocker hands out one mutex per balance key. Entries are dropped when
// the last holder or waiter releases them.
type KeyLocker struct {
	mu    sync.Mutex
	locks map[string]*keyLock
}

type keyLock struct {
	mu   sync.Mutex
	refs int
}

// NewKeyLocker creates an empty locker.
func NewKeyLocker() *KeyLocker {
	return &KeyLocker{locks: make(map[string]*keyLock)}
}

// Lock acquires every key and returns a func that releases them. Keys are
// taken in sorted order, so callers locking overlapping sets cannot deadlock.
func (l *KeyLocker) Lock(keys ...string) (unlock func()) {
	keys = uniqueSorted(keys)

	held := make([]*keyLock, 0, len(keys))
	for _, k := range keys {
		kl := l.acquire(k)
		kl.mu.Lock()
		held = append(held, kl)
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			for i := len(held) - 1; i >= 0; i-- {
				held[i].mu.Unlock()
				l.release(keys[i])
			}
		})
	}
}

// Len returns the number of keys currently held or awaited.
func (l *KeyLocker) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}

func (l *KeyLocker) acquire(key string) *keyLock {
	l.mu.Lock()
	defer l.mu.Unlock()
	kl, ok := l.locks[key]
	if !ok {
		kl = &keyLock{}
		l.locks[key] = kl
	}
	kl.refs++
	return kl
}

func (l *KeyLocker) release(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	kl, ok := l.locks[key]
	if !ok {
		return
	}
	kl.refs--
	if kl.refs == 0 {
		delete(l.locks, key)
	}
}

func uniqueSorted(keys []string) []string {
	out := make([]string, 0, len(keys))
	seen := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
