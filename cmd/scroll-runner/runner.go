package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"

	"github.com/PuerkitoBio/goquery"
	"github.com/Sternrassler/infinite-scroll/pkg/cache"
	"github.com/Sternrassler/infinite-scroll/pkg/client"
	"github.com/Sternrassler/infinite-scroll/pkg/detect"
	"github.com/Sternrassler/infinite-scroll/pkg/logging"
	"github.com/Sternrassler/infinite-scroll/pkg/ratelimit"
	"github.com/Sternrassler/infinite-scroll/pkg/reinit"
	"github.com/Sternrassler/infinite-scroll/pkg/session"
	"github.com/Sternrassler/infinite-scroll/pkg/settings"
	"github.com/Sternrassler/infinite-scroll/pkg/trigger"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

var (
	// ErrNotCollection is returned for pages that are not collection listings.
	ErrNotCollection = errors.New("not a collection page")

	// ErrNoTrigger is returned when the page's settings disable both
	// automatic and manual loading.
	ErrNoTrigger = errors.New("infinite scroll disabled by settings")

	// ErrTooManyFailures is returned after MaxFailures consecutive failed loads.
	ErrTooManyFailures = errors.New("too many failed loads")
)

// Result summarizes a run.
type Result struct {
	SessionID string
	Page      int
	Items     int
	Exhausted bool

	// URLs lists the page URLs pushed while URL sync is enabled.
	URLs []string

	HTML string
}

// Runner drives one scroll session headlessly: it reports the sentinel
// visible (or activates the manual trigger) whenever the session is idle.
type Runner struct {
	cfg     Config
	client  *client.Client
	redis   *redis.Client
	signals chan reinit.Signal
	logger  zerolog.Logger
}

// NewRunner validates cfg and prepares the page client. With a Redis URL,
// throttle state and cached pages are kept in Redis.
func NewRunner(ctx context.Context, cfg Config) (*Runner, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	r := &Runner{
		cfg:     cfg,
		signals: make(chan reinit.Signal, 8),
		logger:  logging.NewLogger("scroll-runner"),
	}

	ccfg := cfg.Fetch.clientConfig()
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		r.redis = redis.NewClient(opts)
		if err := r.redis.Ping(ctx).Err(); err != nil {
			r.redis.Close()
			return nil, fmt.Errorf("connect to redis: %w", err)
		}
		ccfg.RateLimitStore = ratelimit.NewRedisStore(r.redis)
		ccfg.Cache = cache.NewManager(r.redis)
		r.logger.Info().Str("addr", opts.Addr).Msg("Using Redis for throttle state and page cache")
	}

	c, err := client.New(ccfg)
	if err != nil {
		r.Close()
		return nil, fmt.Errorf("create page client: %w", err)
	}
	r.client = c

	return r, nil
}

// Close releases the Redis connection, if any.
func (r *Runner) Close() error {
	if r.redis != nil {
		return r.redis.Close()
	}
	return nil
}

// Notify asks the running session to re-detect the grid, as a host does after
// a filter or sort change. It reports false when a reset is already queued
// beyond capacity.
func (r *Runner) Notify(name string) bool {
	select {
	case r.signals <- reinit.Signal{Name: name}:
		return true
	default:
		return false
	}
}

// Run loads the configured collection page and keeps loading until the
// collection is exhausted, MaxPages is reached, or ctx is done.
func (r *Runner) Run(ctx context.Context) (*Result, error) {
	pageURL, err := url.Parse(r.cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse url: %w", err)
	}

	body, err := r.client.FetchPage(ctx, r.cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", r.cfg.URL, err)
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", r.cfg.URL, err)
	}
	if !detect.IsCollectionPage(doc, pageURL) {
		return nil, fmt.Errorf("%w: %s", ErrNotCollection, r.cfg.URL)
	}

	s := r.cfg.Settings.Apply(settings.FromDocument(doc))
	if !s.AutoScrollEnabled && !s.ManualTriggerEnabled {
		return nil, ErrNoTrigger
	}

	hist := &history{logger: r.logger}
	sess, err := session.New(doc, pageURL, s, r.client, session.Options{
		History:           hist,
		ErrorDisplayDelay: r.cfg.ErrorDelay,
	})
	if err != nil {
		return nil, err
	}
	defer sess.Close()

	prog := newProgress()
	unsubscribe := sess.Subscribe(prog.handle)
	defer unsubscribe()

	obs := trigger.NewSignalObserver()
	ctrl := trigger.New(ctx, sess, obs)
	defer ctrl.Close()

	r.logger.Info().
		Str("session_id", sess.ID()).
		Bool("viewport", ctrl.Viewport()).
		Str("next_url", sess.Snapshot().NextURL).
		Msg("Run started")

	g, gctx := errgroup.WithContext(ctx)
	listenCtx, stopListening := context.WithCancel(gctx)
	defer stopListening()

	g.Go(func() error {
		return reinit.New(sess, r.signals, reinit.DefaultConfig()).Run(listenCtx)
	})
	g.Go(func() error {
		defer stopListening()
		return r.drive(gctx, sess, ctrl, obs, prog)
	})

	if err := g.Wait(); err != nil {
		return nil, err
	}

	html, err := sess.HTML()
	if err != nil {
		return nil, fmt.Errorf("render document: %w", err)
	}

	snap := sess.Snapshot()
	res := &Result{
		SessionID: snap.ID,
		Page:      snap.Page,
		Items:     snap.Items,
		Exhausted: snap.State == session.Exhausted,
		URLs:      hist.urls(),
		HTML:      html,
	}

	r.logger.Info().
		Int("page", res.Page).
		Int("items", res.Items).
		Bool("exhausted", res.Exhausted).
		Msg("Run finished")

	return res, nil
}

func (r *Runner) drive(ctx context.Context, sess *session.Session, ctrl *trigger.Controller, obs *trigger.SignalObserver, prog *progress) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if n := prog.failures(); n >= r.cfg.MaxFailures {
			return fmt.Errorf("%w: %d in a row", ErrTooManyFailures, n)
		}

		snap := sess.Snapshot()
		if snap.State == session.Exhausted {
			return nil
		}
		if r.cfg.MaxPages > 0 && snap.Page >= r.cfg.MaxPages {
			r.logger.Info().Int("page", snap.Page).Msg("Page limit reached")
			return nil
		}

		if snap.State != session.Idle {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-prog.changed:
			}
			continue
		}

		if err := r.trigger(ctx, sess, ctrl, obs); err != nil {
			return err
		}
	}
}

func (r *Runner) trigger(ctx context.Context, sess *session.Session, ctrl *trigger.Controller, obs *trigger.SignalObserver) error {
	if ctrl.Viewport() {
		if !obs.Report(true) && sess.Snapshot().State == session.Idle {
			return fmt.Errorf("idle session without an observed sentinel")
		}
		return nil
	}

	_, err := ctrl.Activate(ctx)
	switch {
	case err == nil,
		errors.Is(err, session.ErrTransport),
		errors.Is(err, session.ErrMalformedResponse),
		errors.Is(err, session.ErrStale),
		errors.Is(err, session.ErrBusy),
		errors.Is(err, session.ErrRecovering),
		errors.Is(err, session.ErrExhausted):
		// Failures are counted from notifications.
		return nil
	default:
		return err
	}
}

// progress follows session notifications for the driver.
type progress struct {
	changed chan struct{}

	mu     sync.Mutex
	failed int
}

func newProgress() *progress {
	return &progress{changed: make(chan struct{}, 1)}
}

func (p *progress) handle(n session.Notification) {
	switch n.Type {
	case session.StateChanged:
		if n.To == session.Error {
			p.mu.Lock()
			p.failed++
			p.mu.Unlock()
		}
		select {
		case p.changed <- struct{}{}:
		default:
		}
	case session.LoadCompleted:
		p.mu.Lock()
		p.failed = 0
		p.mu.Unlock()
	}
}

func (p *progress) failures() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.failed
}

// history records pushed page URLs.
type history struct {
	logger zerolog.Logger

	mu   sync.Mutex
	list []string
}

func (h *history) PushState(page int, raw string) {
	h.mu.Lock()
	h.list = append(h.list, raw)
	h.mu.Unlock()
	h.logger.Debug().Int("page", page).Str("url", raw).Msg("URL pushed")
}

func (h *history) urls() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.list...)
}
