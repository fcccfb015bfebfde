package security

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"time"

	"github.com/Rrens/insights-gateway/internal/domain"
)

// PermissionCache holds resolved UserContexts for a bounded time. It is owned
// by the auth middleware and shared by reference; entries never outlive the
// token they were resolved from.
type PermissionCache struct {
	ttl        time.Duration
	maxEntries int
	now        func() time.Time

	mu      sync.Mutex
	entries map[string]cacheEntry
}

type cacheEntry struct {
	user      *domain.UserContext
	expiresAt time.Time
}

// NewPermissionCache creates a cache. A non-positive maxEntries means unbounded.
func NewPermissionCache(ttl time.Duration, maxEntries int) *PermissionCache {
	return &PermissionCache{
		ttl:        ttl,
		maxEntries: maxEntries,
		now:        time.Now,
		entries:    make(map[string]cacheEntry),
	}
}

// TokenKey derives a cache key from a raw bearer token
func TokenKey(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// Get returns a live entry
func (c *PermissionCache) Get(key string) (*domain.UserContext, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	if !c.now().Before(e.expiresAt) {
		delete(c.entries, key)
		return nil, false
	}
	return e.user, true
}

// Set stores user under key
func (c *PermissionCache) Set(key string, user *domain.UserContext) {
	if c.ttl <= 0 || user == nil {
		return
	}

	now := c.now()
	expiresAt := now.Add(c.ttl)
	if !user.TokenExpiresAt.IsZero() && user.TokenExpiresAt.Before(expiresAt) {
		expiresAt = user.TokenExpiresAt
	}
	if !now.Before(expiresAt) {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.entries[key]; !exists && c.maxEntries > 0 && len(c.entries) >= c.maxEntries {
		c.evictLocked(now)
	}
	c.entries[key] = cacheEntry{user: user, expiresAt: expiresAt}
}

// GetOrLoad returns the cached entry for key or stores what load returns.
// Load errors are returned and nothing is cached.
func (c *PermissionCache) GetOrLoad(ctx context.Context, key string, load func(context.Context) (*domain.UserContext, error)) (*domain.UserContext, error) {
	if user, ok := c.Get(key); ok {
		return user, nil
	}

	user, err := load(ctx)
	if err != nil {
		return nil, err
	}
	c.Set(key, user)
	return user, nil
}

// Invalidate drops one entry
func (c *PermissionCache) Invalidate(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
}

// Clear drops every entry and returns how many were held
func (c *PermissionCache) Clear() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := len(c.entries)
	c.entries = make(map[string]cacheEntry)
	return n
}

// Len returns the number of held entries, expired ones included
func (c *PermissionCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// evictLocked removes expired entries, or the entry closest to expiry if none are
func (c *PermissionCache) evictLocked(now time.Time) {
	var victim string
	var soonest time.Time
	removed := false
	for key, e := range c.entries {
		if !now.Before(e.expiresAt) {
			delete(c.entries, key)
			removed = true
			continue
		}
		if victim == "" || e.expiresAt.Before(soonest) {
			victim, soonest = key, e.expiresAt
		}
	}
	if !removed && victim != "" {
		delete(c.entries, victim)
	}
}
