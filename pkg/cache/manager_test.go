package cache

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

// setupTestRedis connects to a local Redis and skips when none is running.
// The integration suite covers the same paths against a container.
func setupTestRedis(t *testing.T) *redis.Client {
	t.Helper()

	client := redis.NewClient(&redis.Options{
		Addr: "localhost:6379",
		DB:   15, // Use a separate DB for tests
	})

	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		t.Skipf("Redis not available for testing: %v", err)
	}

	if err := client.FlushDB(ctx).Err(); err != nil {
		t.Fatalf("Failed to flush test DB: %v", err)
	}

	t.Cleanup(func() {
		client.FlushDB(context.Background())
		client.Close()
	})

	return client
}

func testKey(page string) CacheKey {
	return CacheKey{Host: "shop.test", Path: "/collections/all", Query: url.Values{"page": {page}}}
}

func TestNewManager(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
	defer client.Close()

	manager := NewManager(client)
	if manager == nil {
		t.Fatal("NewManager returned nil")
	}
	if manager.redis != client {
		t.Error("Manager redis client not set correctly")
	}
}

func TestNewManager_Panic(t *testing.T) {
	defer func() {
		if r := recover(); r == nil {
			t.Error("NewManager should panic with nil redis client")
		}
	}()
	NewManager(nil)
}

func TestManager_SetAndGet(t *testing.T) {
	manager := NewManager(setupTestRedis(t))
	ctx := context.Background()

	entry := &CacheEntry{
		Data:         []byte(`<html><body>page 2</body></html>`),
		ContentType:  "text/html; charset=utf-8",
		ETag:         `"abc123"`,
		Expires:      time.Now().Add(5 * time.Minute),
		LastModified: time.Now().Add(-1 * time.Hour),
		CachedAt:     time.Now(),
	}

	if err := manager.Set(ctx, testKey("2"), entry); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	retrieved, err := manager.Get(ctx, testKey("2"))
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}

	if string(retrieved.Data) != string(entry.Data) {
		t.Errorf("Data mismatch: got %s, want %s", retrieved.Data, entry.Data)
	}
	if retrieved.ETag != entry.ETag {
		t.Errorf("ETag mismatch: got %s, want %s", retrieved.ETag, entry.ETag)
	}
	if retrieved.IsExpired() {
		t.Error("fresh entry reported expired")
	}
}

func TestManager_Get_CacheMiss(t *testing.T) {
	manager := NewManager(setupTestRedis(t))

	_, err := manager.Get(context.Background(), testKey("99"))
	if !errors.Is(err, ErrCacheMiss) {
		t.Errorf("Expected ErrCacheMiss, got %v", err)
	}
}

func TestManager_StaleEntries(t *testing.T) {
	manager := NewManager(setupTestRedis(t))
	ctx := context.Background()

	// Without validators a stale page is useless and not stored.
	if err := manager.Set(ctx, testKey("1"), &CacheEntry{Data: []byte("x"), Expires: time.Now().Add(-time.Minute)}); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if _, err := manager.Get(ctx, testKey("1")); !errors.Is(err, ErrCacheMiss) {
		t.Errorf("Expected ErrCacheMiss for stale entry without validators, got %v", err)
	}

	// With an ETag it is kept for revalidation.
	if err := manager.Set(ctx, testKey("2"), &CacheEntry{Data: []byte("y"), ETag: `"v1"`, Expires: time.Now().Add(-time.Minute)}); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	entry, err := manager.Get(ctx, testKey("2"))
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if !entry.IsExpired() {
		t.Error("entry should be stale")
	}
}

func TestManager_Delete(t *testing.T) {
	manager := NewManager(setupTestRedis(t))
	ctx := context.Background()

	entry := &CacheEntry{Data: []byte("x"), Expires: time.Now().Add(5 * time.Minute)}
	if err := manager.Set(ctx, testKey("2"), entry); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if err := manager.Delete(ctx, testKey("2")); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, err := manager.Get(ctx, testKey("2")); !errors.Is(err, ErrCacheMiss) {
		t.Errorf("Expected ErrCacheMiss after Delete, got %v", err)
	}
}

func TestManager_Revalidated(t *testing.T) {
	manager := NewManager(setupTestRedis(t))
	ctx := context.Background()

	entry := &CacheEntry{Data: []byte("x"), ETag: `"v1"`, Expires: time.Now().Add(-time.Minute)}
	if err := manager.Set(ctx, testKey("3"), entry); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	if err := manager.Revalidated(ctx, testKey("3"), entry, http.Header{"Cache-Control": {"max-age=600"}}); err != nil {
		t.Fatalf("Revalidated failed: %v", err)
	}

	retrieved, err := manager.Get(ctx, testKey("3"))
	if err != nil {
		t.Fatalf("Get after Revalidated failed: %v", err)
	}
	if retrieved.IsExpired() {
		t.Error("revalidated entry should be fresh")
	}
}

func TestManager_Set_NilEntry(t *testing.T) {
	manager := NewManager(setupTestRedis(t))

	if err := manager.Set(context.Background(), testKey("1"), nil); err == nil {
		t.Error("Set with nil entry should return error")
	}
}
