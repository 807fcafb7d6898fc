package session

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Outcome labels for scroll_session_cycles_total.
const (
	outcomeMerged    = "merged"
	outcomeExhausted = "exhausted"
	outcomeTransport = "transport_error"
	outcomeMalformed = "malformed"
	outcomeStale     = "stale"
)

var (
	cyclesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "scroll_session_cycles_total",
		Help: "Total load cycles by outcome",
	}, []string{"outcome"})

	itemsMergedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "scroll_items_merged_total",
		Help: "Total item nodes appended to live grids",
	})

	staleResultsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "scroll_stale_results_total",
		Help: "Total fetch results discarded because the session was reinitialized or closed",
	})

	triggersSuppressedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "scroll_triggers_suppressed_total",
		Help: "Total load triggers ignored by state",
	}, []string{"state"})

	reinitializationsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "scroll_reinitializations_total",
		Help: "Total session reinitializations",
	})

	sessionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "scroll_sessions_active",
		Help: "Number of sessions created and not yet closed",
	})
)
