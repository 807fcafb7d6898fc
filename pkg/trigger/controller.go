// Package trigger decides when a scroll session loads its next page: when
// the sentinel nears the viewport, when the manual trigger is activated, or
// both, depending on settings.
package trigger

import (
	"context"
	"errors"
	"sync"

	"github.com/PuerkitoBio/goquery"
	"github.com/Sternrassler/infinite-scroll/pkg/session"
	"github.com/Sternrassler/infinite-scroll/pkg/settings"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Trigger modes, used as metric labels.
const (
	ModeViewport = "viewport"
	ModeManual   = "manual"
)

var (
	// ErrManualDisabled is returned by Activate when settings do not enable
	// the manual trigger.
	ErrManualDisabled = errors.New("manual trigger not enabled")

	// ErrControllerClosed is returned by Activate after Close.
	ErrControllerClosed = errors.New("trigger controller closed")
)

var triggersTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "scroll_triggers_total",
	Help: "Total load triggers by mode",
}, []string{"mode"})

// Session is the part of a scroll session the controller drives.
type Session interface {
	Load(ctx context.Context) (session.Outcome, error)
	Sentinel() *goquery.Selection
	Snapshot() session.Snapshot
	Settings() settings.Settings
	Subscribe(fn session.Handler) func()
}

// Controller wires an Observer and the manual trigger to a session.
type Controller struct {
	sess     Session
	observer Observer
	settings settings.Settings
	margin   string
	logger   zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu          sync.Mutex
	observing   bool
	closed      bool
	unsubscribe func()
}

// New creates a controller for sess. Viewport loads run with ctx; cancelling
// it aborts an in-flight viewport fetch. The sentinel is observed right away
// when viewport triggering is enabled and the session has controls.
func New(ctx context.Context, sess Session, observer Observer) *Controller {
	ctx, cancel := context.WithCancel(ctx)
	c := &Controller{
		sess:     sess,
		observer: observer,
		settings: sess.Settings(),
		margin:   DefaultRootMargin,
		logger:   log.With().Str("component", "trigger").Str("session_id", sess.Snapshot().ID).Logger(),
		ctx:      ctx,
		cancel:   cancel,
	}

	c.unsubscribe = sess.Subscribe(c.handle)

	c.mu.Lock()
	c.observeLocked()
	c.mu.Unlock()

	return c
}

// Viewport reports whether the controller loads on sentinel visibility.
func (c *Controller) Viewport() bool {
	return c.settings.ViewportTriggering() && c.observer != nil
}

// Observing reports whether the sentinel is currently observed.
func (c *Controller) Observing() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.observing
}

// Activate is the manual trigger. It runs one load cycle on the calling
// goroutine. Activations while a cycle is in flight are no-ops that return
// session.ErrBusy.
func (c *Controller) Activate(ctx context.Context) (session.Outcome, error) {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()

	if closed {
		return session.Outcome{}, ErrControllerClosed
	}
	if !c.settings.ManualTriggerEnabled {
		return session.Outcome{}, ErrManualDisabled
	}

	triggersTotal.WithLabelValues(ModeManual).Inc()
	return c.sess.Load(ctx)
}

// Close stops observing and detaches from the session.
func (c *Controller) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.disconnectLocked()
	unsub := c.unsubscribe
	c.mu.Unlock()

	c.cancel()
	if unsub != nil {
		unsub()
	}
}

// onVisible runs on the observer's goroutine.
func (c *Controller) onVisible(visible bool) {
	if !visible {
		return
	}

	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return
	}

	if snap := c.sess.Snapshot(); snap.State != session.Idle {
		c.logger.Debug().Str("state", snap.State.String()).Msg("Sentinel visible, session not idle")
		return
	}

	triggersTotal.WithLabelValues(ModeViewport).Inc()
	// Failures are logged by the session.
	if _, err := c.sess.Load(c.ctx); err != nil {
		c.logger.Debug().Err(err).Msg("Viewport load did not merge")
	}
}

// handle reacts to session notifications. It runs outside the session lock.
func (c *Controller) handle(n session.Notification) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}

	switch n.Type {
	case session.StateChanged:
		if n.To == session.Exhausted {
			c.disconnectLocked()
		}
	case session.ControlsRebuilt:
		c.disconnectLocked()
		if n.HasControls {
			c.observeLocked()
		}
	case session.Closed:
		c.disconnectLocked()
	}
}

func (c *Controller) observeLocked() {
	if !c.Viewport() {
		return
	}
	sentinel := c.sess.Sentinel()
	if sentinel == nil || sentinel.Length() == 0 {
		return
	}
	c.observer.Observe(sentinel, c.margin, c.onVisible)
	c.observing = true
	c.logger.Debug().Str("root_margin", c.margin).Msg("Observing sentinel")
}

func (c *Controller) disconnectLocked() {
	if !c.observing {
		return
	}
	c.observer.Disconnect()
	c.observing = false
	c.logger.Debug().Msg("Sentinel observation stopped")
}
