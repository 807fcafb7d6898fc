package cache

import (
	"time"
)

// StaleRetention is how long an expired entry is kept for revalidation.
const StaleRetention = time.Hour

// CacheEntry is a cached page.
type CacheEntry struct {
	// Data is the response body.
	Data []byte `json:"data"`

	// ContentType of the cached response.
	ContentType string `json:"content_type,omitempty"`

	// ETag for If-None-Match revalidation.
	ETag string `json:"etag,omitempty"`

	// LastModified for If-Modified-Since revalidation.
	LastModified time.Time `json:"last_modified"`

	// Expires is when the entry stops being fresh.
	Expires time.Time `json:"expires"`

	// CachedAt is when the body was stored.
	CachedAt time.Time `json:"cached_at"`
}

// IsExpired returns true once the entry is no longer fresh.
func (e *CacheEntry) IsExpired() bool {
	return !time.Now().Before(e.Expires)
}

// TTL returns the remaining freshness, 0 when expired.
func (e *CacheEntry) TTL() time.Duration {
	ttl := time.Until(e.Expires)
	if ttl < 0 {
		return 0
	}
	return ttl
}

// Revalidatable reports whether a conditional request can be made for the entry.
func (e *CacheEntry) Revalidatable() bool {
	return e.ETag != "" || !e.LastModified.IsZero()
}

// retention is how long Redis keeps the entry: its freshness plus, when it
// can be revalidated, StaleRetention.
func (e *CacheEntry) retention() time.Duration {
	ttl := e.TTL()
	if e.Revalidatable() {
		ttl += StaleRetention
	}
	return ttl
}
