package lock

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

type fakeEntry struct {
	token     string
	expiresAt time.Time
}

// FakeLocker is an in-memory Locker for unit tests that don't need a real
// Redis instance. Semantics mirror RedisLocker: TTL expiry, compare-and-act
// release/extend.
type FakeLocker struct {
	mu      sync.Mutex
	entries map[string]fakeEntry
}

// NewFakeLocker returns a ready-to-use in-memory Locker.
func NewFakeLocker() *FakeLocker {
	return &FakeLocker{entries: make(map[string]fakeEntry)}
}

func (f *FakeLocker) liveEntry(resourceKey string) (fakeEntry, bool) {
	e, ok := f.entries[resourceKey]
	if !ok {
		return fakeEntry{}, false
	}
	if time.Now().After(e.expiresAt) {
		delete(f.entries, resourceKey)
		return fakeEntry{}, false
	}
	return e, true
}

// Acquire implements Locker.
func (f *FakeLocker) Acquire(_ context.Context, resourceKey string, ttl time.Duration) (string, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if _, held := f.liveEntry(resourceKey); held {
		return "", false, nil
	}

	token := uuid.NewString()
	f.entries[resourceKey] = fakeEntry{token: token, expiresAt: time.Now().Add(ttl)}
	return token, true, nil
}

// Release implements Locker.
func (f *FakeLocker) Release(_ context.Context, resourceKey, token string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	e, held := f.liveEntry(resourceKey)
	if !held || e.token != token {
		return false, nil
	}
	delete(f.entries, resourceKey)
	return true, nil
}

// Extend implements Locker.
func (f *FakeLocker) Extend(_ context.Context, resourceKey, token string, additionalTTL time.Duration) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	e, held := f.liveEntry(resourceKey)
	if !held || e.token != token {
		return false, nil
	}
	e.expiresAt = time.Now().Add(additionalTTL)
	f.entries[resourceKey] = e
	return true, nil
}

// IsLocked implements Locker.
func (f *FakeLocker) IsLocked(_ context.Context, resourceKey string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	_, held := f.liveEntry(resourceKey)
	return held, nil
}
