package webhook

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// DeliveryKeyPrefix namespaces delivery ids in Redis.
	DeliveryKeyPrefix = "infinite-scroll:webhook:"

	// DefaultDeliveryTTL covers the platform's retry window.
	DefaultDeliveryTTL = 48 * time.Hour
)

// DeliveryStore remembers delivery ids so retried deliveries are recognized.
type DeliveryStore interface {
	// FirstDelivery records id and reports whether it had not been seen.
	FirstDelivery(ctx context.Context, id string) (bool, error)
}

// RedisDeliveryStore records delivery ids with SET NX and a TTL, so several
// receiver instances share one view of what was delivered.
type RedisDeliveryStore struct {
	redis *redis.Client
	ttl   time.Duration
}

// NewRedisDeliveryStore creates a store on redisClient. A non-positive ttl
// uses DefaultDeliveryTTL.
func NewRedisDeliveryStore(redisClient *redis.Client, ttl time.Duration) *RedisDeliveryStore {
	if redisClient == nil {
		panic("redis client cannot be nil")
	}
	if ttl <= 0 {
		ttl = DefaultDeliveryTTL
	}
	return &RedisDeliveryStore{redis: redisClient, ttl: ttl}
}

// FirstDelivery implements DeliveryStore.
func (s *RedisDeliveryStore) FirstDelivery(ctx context.Context, id string) (bool, error) {
	ok, err := s.redis.SetNX(ctx, DeliveryKeyPrefix+id, time.Now().UTC().Format(time.RFC3339), s.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redis setnx: %w", err)
	}
	return ok, nil
}

// MemoryDeliveryStore keeps delivery ids in process memory.
type MemoryDeliveryStore struct {
	mu   sync.Mutex
	ttl  time.Duration
	seen map[string]time.Time
}

// NewMemoryDeliveryStore creates an in-memory store. A non-positive ttl uses
// DefaultDeliveryTTL.
func NewMemoryDeliveryStore(ttl time.Duration) *MemoryDeliveryStore {
	if ttl <= 0 {
		ttl = DefaultDeliveryTTL
	}
	return &MemoryDeliveryStore{ttl: ttl, seen: make(map[string]time.Time)}
}

// FirstDelivery implements DeliveryStore.
func (s *MemoryDeliveryStore) FirstDelivery(_ context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	for k, exp := range s.seen {
		if now.After(exp) {
			delete(s.seen, k)
		}
	}

	if _, ok := s.seen[id]; ok {
		return false, nil
	}
	s.seen[id] = now.Add(s.ttl)
	return true, nil
}
