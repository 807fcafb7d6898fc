// Package metrics is the reference for every Prometheus metric the engine
// exports and serves them over HTTP.
// All metrics are defined in their respective packages (client, cache,
// ratelimit, session, trigger, reinit, webhook) with promauto, to keep the
// packages independent.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry is the Prometheus registerer the engine's metrics live in.
// All metrics are registered via promauto in their respective packages.
var Registry = prometheus.DefaultRegisterer

// Gatherer is the matching gatherer.
var Gatherer = prometheus.DefaultGatherer

// Metrics Documentation
//
// Fetch Metrics (pkg/client):
//   - scroll_fetch_requests_total{status} (Counter): Page fetches by HTTP status, "cached", "rate_limited" or "network_error"
//   - scroll_fetch_duration_seconds (Histogram): Page fetch duration
//   - scroll_fetch_errors_total{class} (Counter): Errors by class (client, server, rate_limit, network)
//   - scroll_fetch_retries_total{error_class} (Counter): Retry attempts
//   - scroll_fetch_retry_backoff_seconds{error_class} (Histogram): Backoff before each retry
//   - scroll_fetch_retry_exhausted_total{error_class} (Counter): Fetches that used every attempt
//
// Rate Limit Metrics (pkg/ratelimit):
//   - scroll_rate_limit_hits_total{status} (Counter): Throttling responses seen (429, 503)
//   - scroll_rate_limit_blocks_total (Counter): Fetches refused while a host is blocked
//   - scroll_rate_limit_throttles_total (Counter): Fetches delayed after a block lifted
//
// Page Cache Metrics (pkg/cache):
//   - scroll_page_cache_lookups_total{result} (Counter): fresh, stale and miss lookups
//   - scroll_page_cache_not_modified_total (Counter): Successful revalidations
//   - scroll_page_cache_stored_bytes_total (Counter): Bytes written
//   - scroll_page_cache_errors_total{operation} (Counter): Cache operation errors
//
// Session Metrics (pkg/session, pkg/trigger, pkg/reinit):
//   - scroll_session_cycles_total{outcome} (Counter): Load cycles by outcome (merged, exhausted, transport_error, malformed, stale)
//   - scroll_items_merged_total (Counter): Item nodes appended to live grids
//   - scroll_stale_results_total (Counter): Fetch results discarded after a reset
//   - scroll_triggers_suppressed_total{state} (Counter): Triggers ignored by state
//   - scroll_reinitializations_total (Counter): Session reinitializations
//   - scroll_sessions_active (Gauge): Sessions created and not closed
//   - scroll_triggers_total{mode} (Counter): Load triggers by mode (viewport, manual)
//   - scroll_reinit_signals_total{name} (Counter): Filter and sort signals received
//   - scroll_reinit_resets_total{result} (Counter): Resets performed by the listener
//
// Webhook Metrics (pkg/webhook):
//   - scroll_webhook_requests_total{topic, status} (Counter): Requests by topic and response status
//   - scroll_webhook_verification_failures_total{topic} (Counter): Requests rejected for their signature
//   - scroll_webhook_duplicate_deliveries_total{topic} (Counter): Retried deliveries acknowledged without processing
//
// Example Prometheus Queries:
//
//   # Share of load cycles that failed
//   sum(rate(scroll_session_cycles_total{outcome=~"transport_error|malformed"}[5m])) /
//   sum(rate(scroll_session_cycles_total[5m]))
//
//   # Page cache hit rate
//   sum(rate(scroll_page_cache_lookups_total{result="fresh"}[5m])) /
//   sum(rate(scroll_page_cache_lookups_total[5m]))
//
//   # P95 fetch latency
//   histogram_quantile(0.95, rate(scroll_fetch_duration_seconds_bucket[5m]))
//
//   # Forged webhook deliveries
//   sum(rate(scroll_webhook_verification_failures_total[1h])) > 0

// Names lists every documented metric.
var Names = []string{
	"scroll_fetch_requests_total",
	"scroll_fetch_duration_seconds",
	"scroll_fetch_errors_total",
	"scroll_fetch_retries_total",
	"scroll_fetch_retry_backoff_seconds",
	"scroll_fetch_retry_exhausted_total",
	"scroll_rate_limit_hits_total",
	"scroll_rate_limit_blocks_total",
	"scroll_rate_limit_throttles_total",
	"scroll_page_cache_lookups_total",
	"scroll_page_cache_not_modified_total",
	"scroll_page_cache_stored_bytes_total",
	"scroll_page_cache_errors_total",
	"scroll_session_cycles_total",
	"scroll_items_merged_total",
	"scroll_stale_results_total",
	"scroll_triggers_suppressed_total",
	"scroll_reinitializations_total",
	"scroll_sessions_active",
	"scroll_triggers_total",
	"scroll_reinit_signals_total",
	"scroll_reinit_resets_total",
	"scroll_webhook_requests_total",
	"scroll_webhook_verification_failures_total",
	"scroll_webhook_duplicate_deliveries_total",
}

// Handler serves the registry in the Prometheus exposition format.
func Handler() http.Handler {
	return promhttp.HandlerFor(Gatherer, promhttp.HandlerOpts{})
}
