package cache

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"
)

var (
	// ErrCacheMiss indicates the requested key was not found in cache
	ErrCacheMiss = errors.New("cache miss")

	// ErrInvalidEntry indicates the cache entry is invalid or corrupted
	ErrInvalidEntry = errors.New("invalid cache entry")

	// ErrEmptyScope is returned when purging without a scope
	ErrEmptyScope = errors.New("cache scope is empty")
)

// DefaultStaleWindow is how long entries with validators are kept past
// expiry so they can be revalidated with a conditional request.
const DefaultStaleWindow = time.Hour

// Manager handles caching operations with Redis backend.
type Manager struct {
	redis       *redis.Client
	staleWindow time.Duration
}

// NewManager creates a new cache manager with Redis backend.
func NewManager(redisClient *redis.Client) *Manager {
	if redisClient == nil {
		panic("redis client cannot be nil")
	}
	return &Manager{
		redis:       redisClient,
		staleWindow: DefaultStaleWindow,
	}
}

// WithStaleWindow overrides DefaultStaleWindow. Zero disables revalidation
// storage.
func (m *Manager) WithStaleWindow(d time.Duration) *Manager {
	if d >= 0 {
		m.staleWindow = d
	}
	return m
}

// Get retrieves a cache entry by key. The entry may be stale; callers check
// IsExpired and revalidate. Returns ErrCacheMiss if the key doesn't exist or
// the entry is stale without validators.
func (m *Manager) Get(ctx context.Context, key CacheKey) (*CacheEntry, error) {
	cacheKey := key.String()

	data, err := m.redis.Get(ctx, cacheKey).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			CacheMisses.Inc()
			return nil, ErrCacheMiss
		}
		CacheErrors.WithLabelValues("get").Inc()
		return nil, fmt.Errorf("redis get: %w", err)
	}

	var entry CacheEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		CacheErrors.WithLabelValues("get").Inc()
		return nil, fmt.Errorf("%w: %v", ErrInvalidEntry, err)
	}

	if entry.IsExpired() && !entry.CanRevalidate() {
		_ = m.Delete(ctx, key)
		CacheMisses.Inc()
		return nil, ErrCacheMiss
	}

	return &entry, nil
}

// Set stores a cache entry. Redis expires it after its TTL, extended by the
// stale window when the entry can be revalidated.
func (m *Manager) Set(ctx context.Context, key CacheKey, entry *CacheEntry) error {
	if entry == nil {
		return fmt.Errorf("cache entry cannot be nil")
	}

	ttl := entry.TTL()
	if entry.CanRevalidate() {
		ttl += m.staleWindow
	}
	if ttl <= 0 {
		// Already expired, don't cache
		return nil
	}

	data, err := json.Marshal(entry)
	if err != nil {
		CacheErrors.WithLabelValues("set").Inc()
		return fmt.Errorf("marshal cache entry: %w", err)
	}

	if err := m.redis.Set(ctx, key.String(), data, ttl).Err(); err != nil {
		CacheErrors.WithLabelValues("set").Inc()
		return fmt.Errorf("redis set: %w", err)
	}

	CacheStoredBytes.Add(float64(len(data)))
	return nil
}

// Delete removes a cache entry.
func (m *Manager) Delete(ctx context.Context, key CacheKey) error {
	if err := m.redis.Del(ctx, key.String()).Err(); err != nil {
		CacheErrors.WithLabelValues("delete").Inc()
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}

// PurgeScope deletes every entry stored under scope and returns how many
// were removed.
func (m *Manager) PurgeScope(ctx context.Context, scope string) (int, error) {
	if scope == "" {
		return 0, ErrEmptyScope
	}
	pattern := KeyPrefix + ":*:scope=" + globEscaper.Replace(scope)

	removed := 0
	iter := m.redis.Scan(ctx, 0, pattern, 100).Iterator()
	for iter.Next(ctx) {
		n, err := m.redis.Del(ctx, iter.Val()).Result()
		if err != nil {
			CacheErrors.WithLabelValues("delete").Inc()
			return removed, fmt.Errorf("redis del: %w", err)
		}
		removed += int(n)
	}
	if err := iter.Err(); err != nil {
		CacheErrors.WithLabelValues("scan").Inc()
		return removed, fmt.Errorf("redis scan: %w", err)
	}
	return removed, nil
}

var globEscaper = strings.NewReplacer(`\`, `\\`, "*", `\*`, "?", `\?`, "[", `\[`, "]", `\]`)
