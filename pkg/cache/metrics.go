package cache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CacheLookups tracks lookups by result (fresh, stale, miss).
	CacheLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scroll_page_cache_lookups_total",
			Help: "Total page cache lookups by result",
		},
		[]string{"result"},
	)

	// NotModifiedResponses tracks successful revalidations.
	NotModifiedResponses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "scroll_page_cache_not_modified_total",
			Help: "Total 304 Not Modified responses served from the page cache",
		},
	)

	// CacheStoredBytes tracks bytes written to the cache.
	CacheStoredBytes = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "scroll_page_cache_stored_bytes_total",
			Help: "Total bytes written to the page cache",
		},
	)

	// CacheErrors tracks cache operation errors.
	CacheErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scroll_page_cache_errors_total",
			Help: "Total number of page cache operation errors",
		},
		[]string{"operation"}, // "get", "set", "delete"
	)
)
