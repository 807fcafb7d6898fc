// Package client fetches storefront collection pages with rate limiting,
// pacing, optional Redis page caching and error classification.
package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/Sternrassler/infinite-scroll/pkg/cache"
	"github.com/Sternrassler/infinite-scroll/pkg/ratelimit"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

// Prometheus metrics for page fetches.
var (
	fetchRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "scroll_fetch_requests_total",
		Help: "Total page fetches by status",
	}, []string{"status"})

	fetchDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "scroll_fetch_duration_seconds",
		Help:    "Page fetch duration in seconds",
		Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10},
	})

	fetchErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "scroll_fetch_errors_total",
		Help: "Total page fetch errors by class",
	}, []string{"class"})
)

// ErrorClass represents a classification of fetch failures.
type ErrorClass string

const (
	// ErrorClassClient represents 4xx client errors.
	ErrorClassClient ErrorClass = "client"

	// ErrorClassServer represents 5xx server errors.
	ErrorClassServer ErrorClass = "server"

	// ErrorClassRateLimit represents throttling by the storefront.
	ErrorClassRateLimit ErrorClass = "rate_limit"

	// ErrorClassNetwork represents network/timeout errors.
	ErrorClassNetwork ErrorClass = "network"
)

// DefaultUserAgent identifies the fetcher the way a browser would.
const DefaultUserAgent = "Mozilla/5.0 (compatible; infinite-scroll/1.0)"

// Client fetches HTML pages.
type Client struct {
	httpClient  *http.Client
	rateLimiter *ratelimit.Tracker
	pacer       *rate.Limiter
	config      Config
	logger      zerolog.Logger
}

// Config holds the client configuration.
type Config struct {
	// User-Agent header sent with every request.
	UserAgent string

	// Timeout bounds a single HTTP attempt.
	Timeout time.Duration

	// MaxBodyBytes caps how much of a response body is read.
	MaxBodyBytes int64

	// Pacing. RequestsPerSecond 0 disables pacing.
	RequestsPerSecond float64
	Burst             int

	// Retry. MaxAttempts 1 leaves retrying to the user.
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration

	// RateLimitStore holds per-host throttle state. Nil keeps it in memory.
	RateLimitStore ratelimit.Store

	// Cache stores fetched pages for reuse and revalidation. Nil disables
	// caching.
	Cache *cache.Manager
}

// DefaultConfig returns a safe default configuration.
func DefaultConfig() Config {
	return Config{
		UserAgent:         DefaultUserAgent,
		Timeout:           30 * time.Second,
		MaxBodyBytes:      10 << 20,
		RequestsPerSecond: 2,
		Burst:             1,
		MaxAttempts:       1,
		InitialBackoff:    1 * time.Second,
		MaxBackoff:        30 * time.Second,
	}
}

// New creates a new page client.
func New(cfg Config) (*Client, error) {
	if cfg.UserAgent == "" {
		return nil, fmt.Errorf("user-agent is required")
	}

	if cfg.MaxAttempts < 1 {
		return nil, fmt.Errorf("max_attempts must be >= 1 (got %d)", cfg.MaxAttempts)
	}

	if cfg.MaxBodyBytes <= 0 {
		return nil, fmt.Errorf("max_body_bytes must be positive (got %d)", cfg.MaxBodyBytes)
	}

	logger := log.With().Str("component", "page-client").Logger()

	var pacer *rate.Limiter
	if cfg.RequestsPerSecond > 0 {
		burst := cfg.Burst
		if burst < 1 {
			burst = 1
		}
		pacer = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst)
	}

	return &Client{
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		rateLimiter: ratelimit.NewTracker(cfg.RateLimitStore, logger),
		pacer:       pacer,
		config:      cfg,
		logger:      logger,
	}, nil
}

// FetchPage downloads the document at rawURL and returns its body. Non-2xx
// responses and transport failures are returned as *FetchError.
func (c *Client) FetchPage(ctx context.Context, rawURL string) ([]byte, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("unsupported url scheme %q", u.Scheme)
	}
	host := u.Host

	startTime := time.Now()
	defer func() {
		fetchDuration.Observe(time.Since(startTime).Seconds())
	}()

	// Step 1: fresh cached copy
	key := cache.KeyFromURL(u)
	cached := c.lookup(ctx, key, rawURL)
	if cached != nil && !cached.IsExpired() {
		fetchRequestsTotal.WithLabelValues("cached").Inc()
		c.logger.Debug().Str("url", rawURL).Dur("ttl", cached.TTL()).Msg("Serving page from cache")
		return cached.Data, nil
	}

	// Step 2: rate limit gate
	allowed, err := c.rateLimiter.ShouldAllowRequest(ctx, host)
	if err != nil {
		return nil, fmt.Errorf("rate limit check: %w", err)
	}
	if !allowed {
		fetchRequestsTotal.WithLabelValues("rate_limited").Inc()
		return nil, &FetchError{URL: rawURL, Class: ErrorClassRateLimit, Err: ErrRateLimited}
	}

	var body []byte
	policy := RetryConfig{
		MaxAttempts:       c.config.MaxAttempts,
		InitialBackoff:    c.config.InitialBackoff,
		MaxBackoff:        c.config.MaxBackoff,
		BackoffMultiplier: 2.0,
	}

	err = retryWithBackoff(ctx, policy, func() error {
		if c.pacer != nil {
			if err := c.pacer.Wait(ctx); err != nil {
				return fmt.Errorf("%w: %v", ErrContextCancelled, err)
			}
		}
		var attemptErr error
		body, attemptErr = c.fetchOnce(ctx, rawURL, host, key, cached)
		return attemptErr
	})
	if err != nil {
		return nil, err
	}

	return body, nil
}

// lookup returns the cached entry for key, or nil. Cache failures are logged
// and treated as misses.
func (c *Client) lookup(ctx context.Context, key cache.CacheKey, rawURL string) *cache.CacheEntry {
	if c.config.Cache == nil {
		return nil
	}
	entry, err := c.config.Cache.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, cache.ErrCacheMiss) {
			c.logger.Warn().Err(err).Str("url", rawURL).Msg("Cache get error")
		}
		return nil
	}
	return entry
}

func (c *Client) fetchOnce(ctx context.Context, rawURL, host string, key cache.CacheKey, cached *cache.CacheEntry) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", c.config.UserAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml")
	if cached != nil {
		cache.AddConditionalHeaders(req, cached)
	}

	c.logger.Debug().Str("url", rawURL).Msg("Fetching page")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%w: %v", ErrContextCancelled, ctx.Err())
		}
		fetchErrorsTotal.WithLabelValues(string(ErrorClassNetwork)).Inc()
		fetchRequestsTotal.WithLabelValues("network_error").Inc()
		c.logger.Warn().Err(err).Str("url", rawURL).Msg("Page request failed")
		return nil, &FetchError{URL: rawURL, Class: ErrorClassNetwork, Err: err}
	}
	defer resp.Body.Close()

	if err := c.rateLimiter.UpdateFromResponse(ctx, host, resp); err != nil {
		c.logger.Warn().Err(err).Msg("Failed to update rate limit state")
	}

	fetchRequestsTotal.WithLabelValues(fmt.Sprintf("%d", resp.StatusCode)).Inc()

	if resp.StatusCode == http.StatusNotModified && cached != nil {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
		if err := c.config.Cache.Revalidated(ctx, key, cached, resp.Header); err != nil {
			c.logger.Warn().Err(err).Str("url", rawURL).Msg("Failed to refresh cached page")
		}
		c.logger.Debug().Str("url", rawURL).Msg("304 Not Modified - using cache")
		return cached.Data, nil
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		class := classifyStatus(resp.StatusCode)
		fetchErrorsTotal.WithLabelValues(string(class)).Inc()
		c.logger.Warn().
			Str("url", rawURL).
			Int("status_code", resp.StatusCode).
			Str("error_class", string(class)).
			Msg("Page request error")

		fe := &FetchError{URL: rawURL, StatusCode: resp.StatusCode, Class: class, Message: resp.Status}
		if retryAfter, ok := ratelimit.ParseRetryAfter(resp.Header.Get("Retry-After"), time.Now()); ok {
			fe.RetryAfter = retryAfter
		}
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
		return nil, fe
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, c.config.MaxBodyBytes+1))
	if err != nil {
		fetchErrorsTotal.WithLabelValues(string(ErrorClassNetwork)).Inc()
		return nil, &FetchError{URL: rawURL, StatusCode: resp.StatusCode, Class: ErrorClassNetwork, Err: err}
	}
	if int64(len(body)) > c.config.MaxBodyBytes {
		return nil, fmt.Errorf("%w: more than %d bytes from %s", ErrBodyTooLarge, c.config.MaxBodyBytes, rawURL)
	}

	if c.config.Cache != nil {
		if entry, ok := cache.NewEntry(resp.Header, body, time.Now()); ok {
			if err := c.config.Cache.Set(ctx, key, entry); err != nil {
				c.logger.Warn().Err(err).Str("url", rawURL).Msg("Failed to cache page")
			} else {
				c.logger.Debug().Str("url", rawURL).Time("expires", entry.Expires).Msg("Cached page")
			}
		}
	}

	return body, nil
}

// classifyStatus categorizes a non-2xx status.
func classifyStatus(status int) ErrorClass {
	switch {
	case status == http.StatusTooManyRequests:
		return ErrorClassRateLimit
	case status >= 500:
		return ErrorClassServer
	default:
		return ErrorClassClient
	}
}

// Classify returns the error class carried by err, or "" when err is not a
// fetch failure.
func Classify(err error) ErrorClass {
	var fe *FetchError
	if errors.As(err, &fe) {
		return fe.Class
	}
	return ""
}

// SetHTTPClient sets a custom HTTP client (for testing).
func (c *Client) SetHTTPClient(client *http.Client) {
	c.httpClient = client
}

// RateLimiter returns the throttle tracker (for testing).
func (c *Client) RateLimiter() *ratelimit.Tracker {
	return c.rateLimiter
}
