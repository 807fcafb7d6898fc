package ratelimit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
)

// Store persists throttle state per host. Get returns (nil, nil) when no
// state is recorded.
type Store interface {
	Get(ctx context.Context, host string) (*State, error)
	Set(ctx context.Context, state *State) error
}

// MemoryStore keeps state in process memory. Entries expire on read.
type MemoryStore struct {
	mu     sync.Mutex
	states map[string]State
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{states: make(map[string]State)}
}

// Get returns the recorded state for host.
func (m *MemoryStore) Get(_ context.Context, host string) (*State, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.states[host]
	if !ok {
		return nil, nil
	}
	if s.expiry() <= 0 {
		delete(m.states, host)
		return nil, nil
	}
	return &s, nil
}

// Set records state for its host.
func (m *MemoryStore) Set(_ context.Context, state *State) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.states[state.Host] = *state
	return nil
}

// RedisStore shares state between processes. Keys expire together with the
// throttle window.
type RedisStore struct {
	redis *redis.Client
}

// NewRedisStore creates a store backed by redisClient.
func NewRedisStore(redisClient *redis.Client) *RedisStore {
	return &RedisStore{redis: redisClient}
}

// Key returns the Redis key holding state for host.
func Key(host string) string {
	return RedisKeyPrefix + host
}

// Get fetches the recorded state for host.
func (r *RedisStore) Get(ctx context.Context, host string) (*State, error) {
	data, err := r.redis.Get(ctx, Key(host)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get rate limit state: %w", err)
	}

	var s State
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("unmarshal rate limit state: %w", err)
	}
	return &s, nil
}

// Set stores state with a TTL covering the block and the throttle window.
func (r *RedisStore) Set(ctx context.Context, state *State) error {
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("marshal rate limit state: %w", err)
	}

	ttl := state.expiry()
	if ttl <= 0 {
		return r.redis.Del(ctx, Key(state.Host)).Err()
	}
	if err := r.redis.Set(ctx, Key(state.Host), data, ttl).Err(); err != nil {
		return fmt.Errorf("store rate limit state in redis: %w", err)
	}
	return nil
}
