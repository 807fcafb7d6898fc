//go:build integration

package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/Sternrassler/infinite-scroll/internal/testutil"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// setupRedis starts a Redis container and returns its URL.
func setupRedis(t *testing.T) string {
	t.Helper()

	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForLog("Ready to accept connections"),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Fatalf("Failed to start Redis container: %v", err)
	}
	t.Cleanup(func() { container.Terminate(ctx) })

	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("Failed to get container host: %v", err)
	}

	port, err := container.MappedPort(ctx, "6379")
	if err != nil {
		t.Fatalf("Failed to get container port: %v", err)
	}

	return fmt.Sprintf("redis://%s:%s/0", host, port.Port())
}

// TestRunner_Integration_PageCache runs the same collection twice against one
// Redis: the second run is served entirely from the page cache.
func TestRunner_Integration_PageCache(t *testing.T) {
	redisURL := setupRedis(t)

	mock := testutil.NewMockStorefront()
	defer mock.Close()
	mock.SetCollection("shoes", 3, 4)

	cfg := testConfig(mock.URL() + "/collections/shoes")
	cfg.RedisURL = redisURL

	first, err := runOnce(t, cfg)
	if err != nil {
		t.Fatalf("first run: %v", err)
	}
	if mock.GetRequestCount() != 3 {
		t.Fatalf("first run requests = %d, want 3", mock.GetRequestCount())
	}

	second, err := runOnce(t, cfg)
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if mock.GetRequestCount() != 3 {
		t.Errorf("second run reached the storefront: %v", mock.Requests())
	}
	if second.Items != first.Items || !second.Exhausted {
		t.Errorf("second run = %d items (exhausted %v), want %d", second.Items, second.Exhausted, first.Items)
	}
}

// TestRunner_Integration_SharedThrottle checks that a 429 seen by one run
// blocks the next run before it reaches the storefront.
func TestRunner_Integration_SharedThrottle(t *testing.T) {
	redisURL := setupRedis(t)

	mock := testutil.NewMockStorefront()
	defer mock.Close()
	mock.SetHandler("/collections/shoes", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("page") == "" {
			w.Header().Set("Content-Type", "text/html; charset=utf-8")
			w.Write([]byte(testutil.CollectionPage("shoes", 1, 3, 2)))
			return
		}
		w.Header().Set("Retry-After", "60")
		w.WriteHeader(http.StatusTooManyRequests)
	})

	cfg := testConfig(mock.URL() + "/collections/shoes")
	cfg.RedisURL = redisURL
	cfg.MaxFailures = 1

	if _, err := runOnce(t, cfg); !errors.Is(err, ErrTooManyFailures) {
		t.Fatalf("first run error = %v, want ErrTooManyFailures", err)
	}
	if mock.GetRequestCount() != 2 {
		t.Fatalf("first run requests = %d, want 2", mock.GetRequestCount())
	}

	if _, err := runOnce(t, cfg); !errors.Is(err, ErrTooManyFailures) {
		t.Fatalf("second run error = %v, want ErrTooManyFailures", err)
	}
	if mock.GetRequestCount() != 2 {
		t.Errorf("blocked run reached the storefront: %v", mock.Requests())
	}
}
