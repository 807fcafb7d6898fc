// Package reinit resets a scroll session after the host replaced its product
// grid, for example after a filter or sort change.
//
// Hosts announce such changes by sending a Signal. The listener waits for a
// settle delay so the host can finish its own DOM replacement, restarting the
// delay for every further signal, then reinitializes the session once.
package reinit

import (
	"context"
	"errors"
	"time"

	"github.com/Sternrassler/infinite-scroll/pkg/session"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Signal names published by host filter and sort UI.
const (
	FacetsUpdated = "facets:updated"
	SortChanged   = "sort:changed"
)

// DefaultSettleDelay lets the host finish replacing the grid.
const DefaultSettleDelay = 500 * time.Millisecond

var (
	signalsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "scroll_reinit_signals_total",
		Help: "Total filter and sort signals received",
	}, []string{"name"})

	resetsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "scroll_reinit_resets_total",
		Help: "Total session resets performed by the listener, by result",
	}, []string{"result"})
)

// Signal reports that the host changed the listing.
type Signal struct {
	Name string
}

// Reinitializer is implemented by *session.Session.
type Reinitializer interface {
	Reinitialize() error
}

// Config holds listener configuration.
type Config struct {
	// SettleDelay is the quiet period after the last signal before the
	// session is reset. Zero resets on the next scheduler tick.
	SettleDelay time.Duration
}

// DefaultConfig returns the standard listener configuration.
func DefaultConfig() Config {
	return Config{SettleDelay: DefaultSettleDelay}
}

// Listener debounces signals into session resets.
type Listener struct {
	target  Reinitializer
	signals <-chan Signal
	config  Config
	logger  zerolog.Logger
}

// New creates a listener that resets target on signals.
func New(target Reinitializer, signals <-chan Signal, config Config) *Listener {
	if config.SettleDelay < 0 {
		config.SettleDelay = 0
	}
	return &Listener{
		target:  target,
		signals: signals,
		config:  config,
		logger:  log.With().Str("component", "reinit").Logger(),
	}
}

// Run consumes signals until ctx is done, the signal channel is closed or the
// session is closed. A reset still pending when the channel closes is
// carried out before Run returns. Run returns nil in all of these cases.
func (l *Listener) Run(ctx context.Context) error {
	timer := time.NewTimer(time.Hour)
	stopTimer(timer)

	signals := l.signals
	pending := 0

	for {
		select {
		case <-ctx.Done():
			l.logger.Debug().Int("pending", pending).Msg("Listener stopping (context cancelled)")
			return nil

		case sig, ok := <-signals:
			if !ok {
				signals = nil
				if pending == 0 {
					return nil
				}
				continue
			}
			signalsTotal.WithLabelValues(sig.Name).Inc()
			pending++
			stopTimer(timer)
			timer.Reset(l.config.SettleDelay)
			l.logger.Debug().
				Str("signal", sig.Name).
				Int("pending", pending).
				Dur("settle_delay", l.config.SettleDelay).
				Msg("Listing changed, waiting for host to settle")

		case <-timer.C:
			stop := l.reset(pending)
			pending = 0
			if stop || signals == nil {
				return nil
			}
		}
	}
}

// reset reinitializes the target and reports whether listening should stop.
func (l *Listener) reset(signals int) bool {
	err := l.target.Reinitialize()
	switch {
	case err == nil:
		resetsTotal.WithLabelValues("ok").Inc()
		l.logger.Info().Int("signals", signals).Msg("Session reinitialized after listing change")
		return false
	case errors.Is(err, session.ErrClosed):
		resetsTotal.WithLabelValues("closed").Inc()
		l.logger.Debug().Msg("Session closed, listener stopping")
		return true
	case errors.Is(err, session.ErrGridNotFound):
		resetsTotal.WithLabelValues("no_grid").Inc()
		l.logger.Warn().Err(err).Msg("Product grid gone after listing change")
		return false
	default:
		resetsTotal.WithLabelValues("error").Inc()
		l.logger.Error().Err(err).Msg("Session reinitialization failed")
		return false
	}
}

func stopTimer(t *time.Timer) {
	if !t.Stop() {
		select {
		case <-t.C:
		default:
		}
	}
}
