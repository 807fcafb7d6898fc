//go:build integration

package client

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"testing"
	"time"

	"github.com/Sternrassler/infinite-scroll/internal/testutil"
	"github.com/Sternrassler/infinite-scroll/pkg/cache"
	"github.com/Sternrassler/infinite-scroll/pkg/ratelimit"
	"github.com/redis/go-redis/v9"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// setupRedisContainer starts a Redis container for integration testing.
func setupRedisContainer(t *testing.T) (*redis.Client, func()) {
	t.Helper()
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForLog("Ready to accept connections").WithStartupTimeout(30 * time.Second),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Fatalf("Failed to start Redis container: %v", err)
	}

	endpoint, err := container.Endpoint(ctx, "")
	if err != nil {
		t.Fatalf("Failed to get Redis endpoint: %v", err)
	}

	client := redis.NewClient(&redis.Options{Addr: endpoint})
	if err := client.Ping(ctx).Err(); err != nil {
		t.Fatalf("Failed to ping Redis: %v", err)
	}

	cleanup := func() {
		client.Close()
		container.Terminate(ctx)
	}

	return client, cleanup
}

func TestIntegration_SharedRateLimitState(t *testing.T) {
	redisClient, cleanup := setupRedisContainer(t)
	defer cleanup()

	mock := testutil.NewMockStorefront()
	defer mock.Close()
	mock.SetResponse("/collections/all", testutil.NewRateLimitResponse("20"))

	cfg := testConfig()
	cfg.RateLimitStore = ratelimit.NewRedisStore(redisClient)

	first := newTestClient(t, cfg)
	second := newTestClient(t, cfg)
	ctx := context.Background()

	if _, err := first.FetchPage(ctx, mock.URL()+"/collections/all"); Classify(err) != ErrorClassRateLimit {
		t.Fatalf("Expected rate_limit error, got %v", err)
	}

	_, err := second.FetchPage(ctx, mock.URL()+"/collections/all?page=2")
	if !errors.Is(err, ErrRateLimited) {
		t.Errorf("Second client should be blocked by shared state, got %v", err)
	}
	if mock.GetRequestCount() != 1 {
		t.Errorf("Expected 1 request to reach the storefront, got %d", mock.GetRequestCount())
	}

	u, _ := url.Parse(mock.URL())
	exists, err := redisClient.Exists(ctx, ratelimit.Key(u.Host)).Result()
	if err != nil {
		t.Fatal(err)
	}
	if exists != 1 {
		t.Errorf("Expected rate limit key for %s in Redis", u.Host)
	}
}

func TestIntegration_FullCollectionWalk(t *testing.T) {
	redisClient, cleanup := setupRedisContainer(t)
	defer cleanup()

	mock := testutil.NewMockStorefront()
	defer mock.Close()
	mock.SetCollection("all", 3, 4)

	cfg := testConfig()
	cfg.RateLimitStore = ratelimit.NewRedisStore(redisClient)
	c := newTestClient(t, cfg)

	for page := 1; page <= 3; page++ {
		target := mock.URL() + "/collections/all?page=" + strconv.Itoa(page)
		if _, err := c.FetchPage(context.Background(), target); err != nil {
			t.Fatalf("page %d: %v", page, err)
		}
	}
	if mock.GetRequestCount() != 3 {
		t.Errorf("Expected 3 requests, got %d", mock.GetRequestCount())
	}
}

func TestIntegration_PageCache_Fresh(t *testing.T) {
	redisClient, cleanup := setupRedisContainer(t)
	defer cleanup()

	mock := testutil.NewMockStorefront()
	defer mock.Close()
	resp := testutil.NewHTMLResponse(testutil.CollectionPage("all", 2, 3, 4))
	resp.Headers["Cache-Control"] = "public, max-age=60"
	mock.SetResponse("/collections/all", resp)

	cfg := testConfig()
	cfg.Cache = cache.NewManager(redisClient)
	c := newTestClient(t, cfg)
	target := mock.URL() + "/collections/all?page=2"

	first, err := c.FetchPage(context.Background(), target)
	if err != nil {
		t.Fatalf("first fetch: %v", err)
	}
	second, err := c.FetchPage(context.Background(), target)
	if err != nil {
		t.Fatalf("second fetch: %v", err)
	}

	if string(first) != string(second) {
		t.Error("cached body differs from fetched body")
	}
	if mock.GetRequestCount() != 1 {
		t.Errorf("Expected 1 request with a fresh cache entry, got %d", mock.GetRequestCount())
	}
}

func TestIntegration_PageCache_Revalidation(t *testing.T) {
	redisClient, cleanup := setupRedisContainer(t)
	defer cleanup()

	body := testutil.CollectionPage("all", 2, 3, 4)
	var conditional int

	mock := testutil.NewMockStorefront()
	defer mock.Close()
	mock.SetHandler("/collections/all", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("ETag", `"page-2-v1"`)
		w.Header().Set("Cache-Control", "no-cache")
		if r.Header.Get("If-None-Match") == `"page-2-v1"` {
			conditional++
			w.WriteHeader(http.StatusNotModified)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Write([]byte(body))
	})

	cfg := testConfig()
	cfg.Cache = cache.NewManager(redisClient)
	c := newTestClient(t, cfg)
	target := mock.URL() + "/collections/all?page=2"

	for i := 0; i < 3; i++ {
		got, err := c.FetchPage(context.Background(), target)
		if err != nil {
			t.Fatalf("fetch %d: %v", i, err)
		}
		if string(got) != body {
			t.Fatalf("fetch %d returned wrong body", i)
		}
	}

	if mock.GetRequestCount() != 3 {
		t.Errorf("Expected every fetch to revalidate, got %d requests", mock.GetRequestCount())
	}
	if conditional != 2 {
		t.Errorf("Expected 2 conditional requests, got %d", conditional)
	}
}
