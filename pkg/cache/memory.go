package cache

import (
	"bytes"
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryCache is the single-process stand-in used when redis is disabled.
type MemoryCache struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	now     func() time.Time
}

type memoryEntry struct {
	value     []byte
	token     string
	expiresAt time.Time
}

func NewMemoryCache() *MemoryCache {
	return &MemoryCache{
		entries: make(map[string]memoryEntry),
		now:     time.Now,
	}
}

func (c *MemoryCache) get(key string) (memoryEntry, bool) {
	entry, ok := c.entries[key]
	if !ok {
		return memoryEntry{}, false
	}
	if !entry.expiresAt.IsZero() && c.now().After(entry.expiresAt) {
		delete(c.entries, key)
		return memoryEntry{}, false
	}
	return entry, true
}

func (c *MemoryCache) GetIdempotent(_ context.Context, idemKey string) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.get(IdempotencyKey(idemKey))
	if !ok {
		return nil, nil
	}
	return append([]byte(nil), entry.value...), nil
}

func (c *MemoryCache) SetIdempotent(_ context.Context, idemKey string, data []byte, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[IdempotencyKey(idemKey)] = memoryEntry{
		value:     append([]byte(nil), data...),
		expiresAt: c.now().Add(ttl),
	}
	return nil
}

func (c *MemoryCache) ClaimIdempotent(_ context.Context, idemKey string, ttl time.Duration) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := IdempotencyKey(idemKey)
	if _, ok := c.get(key); ok {
		return false, nil
	}
	c.entries[key] = memoryEntry{
		value:     append([]byte(nil), InFlightMarker...),
		expiresAt: c.now().Add(ttl),
	}
	return true, nil
}

func (c *MemoryCache) ReleaseIdempotent(_ context.Context, idemKey string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := IdempotencyKey(idemKey)
	if entry, ok := c.get(key); ok && bytes.Equal(entry.value, InFlightMarker) {
		delete(c.entries, key)
	}
	return nil
}

type memoryLock struct {
	cache *MemoryCache
	key   string
	token string
}

func (c *MemoryCache) AcquireLock(_ context.Context, resourceID string, ttl time.Duration) (Lock, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := LockKey(resourceID)
	if _, held := c.get(key); held {
		return nil, ErrLockHeld
	}

	token := uuid.NewString()
	c.entries[key] = memoryEntry{token: token, expiresAt: c.now().Add(ttl)}
	return &memoryLock{cache: c, key: key, token: token}, nil
}

func (l *memoryLock) Release(_ context.Context) error {
	l.cache.mu.Lock()
	defer l.cache.mu.Unlock()

	if entry, ok := l.cache.get(l.key); ok && entry.token == l.token {
		delete(l.cache.entries, l.key)
	}
	return nil
}
