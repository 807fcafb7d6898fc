// Package cache stores fetched storefront pages in Redis and revalidates
// them with conditional requests.
//
// A page is served from cache while it is fresh. Freshness comes from the
// response's Cache-Control max-age, then its Expires header, then DefaultTTL.
// Responses marked no-store are never cached; no-cache responses are stored
// already stale so every use revalidates them. Stale entries are kept for
// StaleRetention after expiry so the fetcher can send If-None-Match or
// If-Modified-Since and reuse the body on 304 Not Modified.
//
// # Basic Usage
//
//	manager := cache.NewManager(redis.NewClient(&redis.Options{Addr: "localhost:6379"}))
//
//	key := cache.KeyFromURL(u)
//	entry, err := manager.Get(ctx, key)
//	switch {
//	case err == nil && !entry.IsExpired():
//		// serve entry.Data
//	case err == nil:
//		cache.AddConditionalHeaders(req, entry)
//	case errors.Is(err, cache.ErrCacheMiss):
//		// plain request
//	}
//
// # Metrics
//
//   - scroll_page_cache_lookups_total{result} - fresh, stale and miss lookups
//   - scroll_page_cache_not_modified_total - successful revalidations
//   - scroll_page_cache_stored_bytes_total - bytes written
//   - scroll_page_cache_errors_total{operation} - Redis and decoding failures
package cache
