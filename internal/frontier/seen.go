package frontier

import (
	"context"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
)

// SeenSet records URL hashes that have been admitted to a frontier.
type SeenSet interface {
	// Add inserts hash and reports whether it was not present before.
	Add(ctx context.Context, hash string) (bool, error)
	Contains(ctx context.Context, hash string) (bool, error)
	Len(ctx context.Context) (int64, error)
}

// MemorySeenSet is a process-local SeenSet.
type MemorySeenSet struct {
	mu     sync.RWMutex
	hashes map[string]struct{}
}

// NewMemorySeenSet returns an empty set.
func NewMemorySeenSet() *MemorySeenSet {
	return &MemorySeenSet{hashes: make(map[string]struct{})}
}

// Add implements SeenSet.
func (m *MemorySeenSet) Add(_ context.Context, hash string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.hashes[hash]; ok {
		return false, nil
	}
	m.hashes[hash] = struct{}{}
	return true, nil
}

// Contains implements SeenSet.
func (m *MemorySeenSet) Contains(_ context.Context, hash string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.hashes[hash]
	return ok, nil
}

// Len implements SeenSet.
func (m *MemorySeenSet) Len(context.Context) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return int64(len(m.hashes)), nil
}

// RedisSeenSet shares admitted hashes between crawler processes through one
// Redis set. A hash is added only after its frontier row is stored, so a
// failed insert never blocks the URL.
type RedisSeenSet struct {
	client redis.UniversalClient
	key    string
}

// NewRedisSeenSet wraps client; key names the Redis set.
func NewRedisSeenSet(client redis.UniversalClient, key string) *RedisSeenSet {
	if key == "" {
		key = "crawler:seen"
	}
	return &RedisSeenSet{client: client, key: key}
}

// Add implements SeenSet.
func (r *RedisSeenSet) Add(ctx context.Context, hash string) (bool, error) {
	n, err := r.client.SAdd(ctx, r.key, hash).Result()
	if err != nil {
		return false, fmt.Errorf("redis sadd: %w", err)
	}
	return n == 1, nil
}

// Contains implements SeenSet.
func (r *RedisSeenSet) Contains(ctx context.Context, hash string) (bool, error) {
	ok, err := r.client.SIsMember(ctx, r.key, hash).Result()
	if err != nil {
		return false, fmt.Errorf("redis sismember: %w", err)
	}
	return ok, nil
}

// Len implements SeenSet.
func (r *RedisSeenSet) Len(ctx context.Context) (int64, error) {
	n, err := r.client.SCard(ctx, r.key).Result()
	if err != nil {
		return 0, fmt.Errorf("redis scard: %w", err)
	}
	return n, nil
}
