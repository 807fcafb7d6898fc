// Package ratelimit tracks storefront throttling and gates page requests.
// A storefront that answers 429 (or 503) with a Retry-After header blocks
// further requests to the same host until the window has passed.
package ratelimit

import (
	"net/http"
	"strconv"
	"strings"
	"time"
)

// RedisKeyPrefix namespaces per-host throttle state in Redis.
const RedisKeyPrefix = "infinite-scroll:rate_limit:"

const (
	// DefaultBlock applies when a throttling response carries no usable
	// Retry-After header.
	DefaultBlock = 2 * time.Second

	// MaxBlock caps the window taken from a Retry-After header.
	MaxBlock = 5 * time.Minute

	// ThrottleWindow is how long after a block ends requests are still
	// slowed down.
	ThrottleWindow = 30 * time.Second
)

// State is the throttle state of one storefront host. It may be shared
// across processes through a RedisStore.
type State struct {
	// Host is the storefront host name, including the port when present.
	Host string `json:"host"`

	// BlockedUntil is the end of the current Retry-After window.
	BlockedUntil time.Time `json:"blocked_until"`

	// LastStatus is the status code of the response that set the block.
	LastStatus int `json:"last_status"`

	// Hits counts throttling responses seen since the state was created.
	Hits int `json:"hits"`

	// LastUpdate is when this state was last written.
	LastUpdate time.Time `json:"last_update"`
}

// IsStale returns true if the state data is older than the given duration.
func (s *State) IsStale(maxAge time.Duration) bool {
	return time.Since(s.LastUpdate) > maxAge
}

// NeedsBlock returns true while the Retry-After window is open.
func (s *State) NeedsBlock() bool {
	return time.Now().Before(s.BlockedUntil)
}

// NeedsThrottling returns true shortly after a block ended.
func (s *State) NeedsThrottling() bool {
	return !s.NeedsBlock() && time.Since(s.BlockedUntil) < ThrottleWindow
}

// TimeUntilReset returns the duration until the block ends.
// Returns 0 if the block has already passed.
func (s *State) TimeUntilReset() time.Duration {
	duration := time.Until(s.BlockedUntil)
	if duration < 0 {
		return 0
	}
	return duration
}

// expiry is how long the state stays relevant at all.
func (s *State) expiry() time.Duration {
	return time.Until(s.BlockedUntil.Add(ThrottleWindow))
}

// IsThrottlingStatus reports whether a response status indicates that the
// storefront wants the client to back off.
func IsThrottlingStatus(status int) bool {
	return status == http.StatusTooManyRequests || status == http.StatusServiceUnavailable
}

// ParseRetryAfter reads a Retry-After value given either in seconds or as an
// HTTP date. The result is clamped to [0, MaxBlock].
func ParseRetryAfter(value string, now time.Time) (time.Duration, bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, false
	}

	var d time.Duration
	if secs, err := strconv.ParseFloat(value, 64); err == nil {
		if secs < 0 {
			return 0, false
		}
		d = time.Duration(secs * float64(time.Second))
	} else if at, err := http.ParseTime(value); err == nil {
		d = at.Sub(now)
	} else {
		return 0, false
	}

	if d < 0 {
		d = 0
	}
	if d > MaxBlock {
		d = MaxBlock
	}
	return d, true
}
