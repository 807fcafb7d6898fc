package ratelimit

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

// Prometheus metrics for storefront throttling.
var (
	rateLimitHitsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "scroll_rate_limit_hits_total",
		Help: "Total throttling responses received from storefronts by status",
	}, []string{"status"})

	rateLimitBlocksTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "scroll_rate_limit_blocks_total",
		Help: "Total number of requests blocked during a Retry-After window",
	})

	rateLimitThrottlesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "scroll_rate_limit_throttles_total",
		Help: "Total number of requests slowed down after a Retry-After window",
	})
)

// DefaultThrottleDelay is the pause applied to requests in the throttle window.
const DefaultThrottleDelay = time.Second

// Tracker records storefront throttling and gates requests per host.
type Tracker struct {
	store         Store
	logger        zerolog.Logger
	throttleDelay time.Duration
}

// NewTracker creates a tracker. A nil store falls back to a MemoryStore.
func NewTracker(store Store, logger zerolog.Logger) *Tracker {
	if store == nil {
		store = NewMemoryStore()
	}
	return &Tracker{
		store:         store,
		logger:        logger,
		throttleDelay: DefaultThrottleDelay,
	}
}

// SetThrottleDelay changes the pause applied in the throttle window.
func (t *Tracker) SetThrottleDelay(d time.Duration) {
	t.throttleDelay = d
}

// GetState returns the recorded state for host, or nil when none exists.
func (t *Tracker) GetState(ctx context.Context, host string) (*State, error) {
	return t.store.Get(ctx, host)
}

// UpdateFromResponse records a throttling response for host. Responses with
// other statuses leave the state untouched.
func (t *Tracker) UpdateFromResponse(ctx context.Context, host string, resp *http.Response) error {
	if resp == nil || !IsThrottlingStatus(resp.StatusCode) {
		return nil
	}

	now := time.Now()
	wait, ok := ParseRetryAfter(resp.Header.Get("Retry-After"), now)
	if !ok {
		if resp.StatusCode == http.StatusServiceUnavailable {
			// Plain outages without Retry-After are not throttling.
			return nil
		}
		wait = DefaultBlock
	}

	prev, err := t.store.Get(ctx, host)
	if err != nil {
		t.logger.Warn().Err(err).Str("host", host).Msg("Failed to read rate limit state")
	}

	state := &State{
		Host:         host,
		BlockedUntil: now.Add(wait),
		LastStatus:   resp.StatusCode,
		Hits:         1,
		LastUpdate:   now,
	}
	if prev != nil {
		state.Hits = prev.Hits + 1
		if prev.BlockedUntil.After(state.BlockedUntil) {
			state.BlockedUntil = prev.BlockedUntil
		}
	}

	if err := t.store.Set(ctx, state); err != nil {
		return fmt.Errorf("store rate limit state: %w", err)
	}

	rateLimitHitsTotal.WithLabelValues(fmt.Sprintf("%d", resp.StatusCode)).Inc()

	t.logger.Warn().
		Str("host", host).
		Int("status_code", resp.StatusCode).
		Dur("retry_after", wait).
		Int("hits", state.Hits).
		Msg("Storefront throttling - requests to host will be blocked")

	return nil
}

// ShouldAllowRequest checks whether a request to host may go out now.
// It returns false while a Retry-After window is open and pauses for the
// throttle delay right after one ended.
func (t *Tracker) ShouldAllowRequest(ctx context.Context, host string) (bool, error) {
	state, err := t.store.Get(ctx, host)
	if err != nil {
		return false, fmt.Errorf("get rate limit state: %w", err)
	}
	if state == nil {
		return true, nil
	}

	if state.NeedsBlock() {
		t.logger.Warn().
			Str("host", host).
			Dur("wait_duration", state.TimeUntilReset()).
			Msg("Storefront throttling - blocking request")

		rateLimitBlocksTotal.Inc()
		return false, nil
	}

	if state.NeedsThrottling() && t.throttleDelay > 0 {
		t.logger.Debug().
			Str("host", host).
			Dur("delay", t.throttleDelay).
			Msg("Storefront recently throttled - slowing request")

		rateLimitThrottlesTotal.Inc()
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-time.After(t.throttleDelay):
		}
	}

	return true, nil
}
