// Package session implements the scroll session: the state machine that owns
// pagination state for one listing and runs fetch, parse and merge cycles
// against a live document.
//
// All access to the live document goes through the session lock. A fetch
// runs without the lock held; its result is applied only if the session's
// generation has not moved on in the meantime (Reinitialize and Close bump
// it), so a response that arrives after a reset is discarded instead of
// merged into the rebuilt session.
package session

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/Sternrassler/infinite-scroll/pkg/controls"
	"github.com/Sternrassler/infinite-scroll/pkg/detect"
	"github.com/Sternrassler/infinite-scroll/pkg/images"
	"github.com/Sternrassler/infinite-scroll/pkg/settings"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Errors returned by the session.
var (
	// ErrGridNotFound means detection found no product grid. The session
	// does not start.
	ErrGridNotFound = errors.New("product grid not found")

	// ErrBusy is returned by Load while another cycle is in flight.
	ErrBusy = errors.New("load already in progress")

	// ErrExhausted is returned by Load once no further pages exist.
	ErrExhausted = errors.New("no more pages")

	// ErrRecovering is returned by Load while a failure is being displayed.
	ErrRecovering = errors.New("recovering from failed load")

	// ErrClosed is returned after Close.
	ErrClosed = errors.New("session closed")

	// ErrStale is returned when a fetch completed after the session was
	// reinitialized or closed. The result was discarded.
	ErrStale = errors.New("stale load result discarded")

	// ErrTransport wraps network and status failures of a fetch.
	ErrTransport = errors.New("page fetch failed")

	// ErrMalformedResponse means the fetched page had no detectable grid.
	ErrMalformedResponse = errors.New("malformed response")
)

// DefaultErrorDisplayDelay is how long a failure stays visible before the
// session accepts triggers again.
const DefaultErrorDisplayDelay = 3 * time.Second

// Fetcher retrieves the raw HTML of a page.
type Fetcher interface {
	FetchPage(ctx context.Context, url string) ([]byte, error)
}

// FetcherFunc adapts a function to Fetcher.
type FetcherFunc func(ctx context.Context, url string) ([]byte, error)

// FetchPage calls f.
func (f FetcherFunc) FetchPage(ctx context.Context, url string) ([]byte, error) {
	return f(ctx, url)
}

// History records the URL of each merged page when URL sync is enabled.
// PushState is called with the session lock held and must not call back into
// the session.
type History interface {
	PushState(page int, url string)
}

// Options tune a session.
type Options struct {
	// History receives merged page URLs when URL sync is enabled.
	History History

	// ErrorDisplayDelay is how long the Error state lasts. Zero recovers
	// immediately.
	ErrorDisplayDelay time.Duration

	// FetchTimeout bounds one fetch. Zero leaves it to the Fetcher.
	FetchTimeout time.Duration
}

// DefaultOptions returns the standard options.
func DefaultOptions() Options {
	return Options{ErrorDisplayDelay: DefaultErrorDisplayDelay}
}

// Outcome describes a completed load cycle.
type Outcome struct {
	// Page is the page index after the cycle.
	Page int
	// Items is the number of item nodes merged.
	Items int
	// NextURL is the next page to load, empty when exhausted.
	NextURL string
	// Exhausted is true when the cycle ended the collection.
	Exhausted bool
}

// Session is one infinite-scroll session over a live document.
type Session struct {
	id       string
	doc      *goquery.Document
	pageURL  *url.URL
	settings settings.Settings
	fetcher  Fetcher
	opts     Options
	logger   zerolog.Logger

	mu         sync.Mutex
	state      State
	page       int
	nextURL    string
	generation uint64
	structure  detect.Structure
	controls   *controls.Presenter
	recovery   *time.Timer
	closed     bool

	subsMu  sync.Mutex
	subs    map[int]Handler
	nextSub int
}

// New detects the grid in doc and starts a session. It returns
// ErrGridNotFound when no grid exists. When the page has no next link the
// session starts Exhausted and creates no controls; otherwise the theme's
// pagination is hidden, controls are mounted and the session is Idle.
func New(doc *goquery.Document, pageURL *url.URL, s settings.Settings, fetcher Fetcher, opts Options) (*Session, error) {
	if doc == nil {
		return nil, fmt.Errorf("document is required")
	}
	if fetcher == nil {
		return nil, fmt.Errorf("fetcher is required")
	}

	id := uuid.NewString()
	sess := &Session{
		id:       id,
		doc:      doc,
		pageURL:  pageURL,
		settings: s,
		fetcher:  fetcher,
		opts:     opts,
		logger:   log.With().Str("component", "scroll-session").Str("session_id", id).Logger(),
		page:     1,
		subs:     make(map[int]Handler),
	}

	sess.mu.Lock()
	state, _, err := sess.setupLocked()
	sess.state = state
	sess.mu.Unlock()

	if err != nil {
		sess.logger.Warn().Err(err).Msg("Infinite scroll not started")
		return nil, err
	}

	sessionsActive.Inc()
	sess.logger.Info().
		Str("state", state.String()).
		Str("grid", sess.structure.GridMatcher).
		Str("next_url", sess.nextURL).
		Msg("Session started")

	return sess, nil
}

// setupLocked runs detection against the live document and mounts controls
// when a next page exists. It returns the state the session should be in.
func (s *Session) setupLocked() (State, bool, error) {
	st := detect.Detect(s.doc)
	s.structure = st
	s.controls = nil
	s.nextURL = ""

	if !st.Found() {
		return Exhausted, false, ErrGridNotFound
	}

	next, ok := detect.ResolveNextURL(st.Pagination, s.pageURL)
	if !ok {
		s.logger.Info().Msg("No next page link, nothing to load")
		return Exhausted, false, nil
	}
	s.nextURL = next

	controls.HidePagination(st.Pagination)
	images.Optimize(st.Grid)

	p := controls.New(s.doc, st.Grid, s.settings)
	if err := p.Mount(); err != nil {
		s.nextURL = ""
		return Exhausted, false, fmt.Errorf("mount controls: %w", err)
	}
	s.controls = p

	return Idle, true, nil
}

// ID returns the session's correlation id.
func (s *Session) ID() string {
	return s.id
}

// Settings returns the settings the session was created with.
func (s *Session) Settings() settings.Settings {
	return s.settings
}

// Load runs one fetch, parse and merge cycle. It is the single entry point
// for every trigger. Outside Idle it does nothing and returns ErrBusy,
// ErrExhausted, ErrRecovering or ErrClosed.
func (s *Session) Load(ctx context.Context) (Outcome, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return Outcome{}, ErrClosed
	}
	if s.state != Idle {
		err := suppressed(s.state)
		triggersSuppressedTotal.WithLabelValues(s.state.String()).Inc()
		s.mu.Unlock()
		return Outcome{}, err
	}

	notes := s.moveLocked(EventTrigger)
	gen := s.generation
	target := s.nextURL
	if s.controls != nil {
		s.controls.ShowLoader()
	}
	s.mu.Unlock()
	s.dispatch(notes)

	s.logger.Debug().Str("url", target).Uint64("generation", gen).Msg("Loading next page")

	fetched, fetchErr := s.fetch(ctx, target)

	s.mu.Lock()
	if s.generation != gen {
		s.mu.Unlock()
		staleResultsTotal.Inc()
		cyclesTotal.WithLabelValues(outcomeStale).Inc()
		s.logger.Info().
			Str("url", target).
			Uint64("generation", gen).
			Msg("Discarding load result from previous generation")
		return Outcome{}, ErrStale
	}
	out, notes, err := s.applyLocked(target, fetched, fetchErr)
	if err == nil && out.Items > 0 {
		s.pushHistoryLocked(out.Page, target)
	}
	s.mu.Unlock()
	s.dispatch(notes)

	return out, err
}

// pushHistoryLocked records a merged page. It runs under the same lock as the
// generation check so a concurrent Reinitialize cannot slip in between.
func (s *Session) pushHistoryLocked(page int, target string) {
	if !s.settings.URLSyncEnabled || s.opts.History == nil {
		return
	}
	s.opts.History.PushState(page, target)
}

func suppressed(st State) error {
	switch st {
	case Loading:
		return ErrBusy
	case Exhausted:
		return ErrExhausted
	case Error:
		return ErrRecovering
	default:
		return fmt.Errorf("%w: trigger in %s", ErrInvalidTransition, st)
	}
}

// fetch retrieves and parses target. Runs without the lock.
func (s *Session) fetch(ctx context.Context, target string) (*goquery.Document, error) {
	if s.opts.FetchTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.opts.FetchTimeout)
		defer cancel()
	}

	body, err := s.fetcher.FetchPage(ctx, target)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrTransport, err)
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: parse %s: %v", ErrMalformedResponse, target, err)
	}
	return doc, nil
}

// applyLocked settles a cycle whose generation is still current.
func (s *Session) applyLocked(target string, fetched *goquery.Document, fetchErr error) (Outcome, []Notification, error) {
	if fetchErr != nil {
		ev, outcome := EventFetchFailed, outcomeTransport
		if errors.Is(fetchErr, ErrMalformedResponse) {
			ev, outcome = EventMalformed, outcomeMalformed
		}
		return Outcome{Page: s.page, NextURL: s.nextURL}, s.failLocked(ev, outcome, fetchErr), fetchErr
	}

	st := detect.Detect(fetched)
	if !st.Found() {
		err := fmt.Errorf("%w: no product grid in %s", ErrMalformedResponse, target)
		return Outcome{Page: s.page, NextURL: s.nextURL}, s.failLocked(EventMalformed, outcomeMalformed, err), err
	}

	items := st.Grid.First().Children()
	if items.Length() == 0 {
		notes := s.moveLocked(EventEmptyPage)
		s.nextURL = ""
		if s.controls != nil {
			s.controls.ShowExhausted()
		}
		cyclesTotal.WithLabelValues(outcomeExhausted).Inc()
		s.logger.Info().Str("url", target).Int("page", s.page).Msg("Empty page, collection exhausted")
		return Outcome{Page: s.page, Exhausted: true}, notes, nil
	}

	merged := s.mergeLocked(items)
	s.page++

	detect.SyncProductCount(s.doc, fetched)

	base, err := url.Parse(target)
	if err != nil {
		base = s.pageURL
	}
	next, more := detect.ResolveNextURL(st.Pagination, base)
	if more && next == target {
		s.logger.Warn().Str("url", target).Msg("Next link points at the page just loaded, stopping")
		more = false
	}

	var notes []Notification
	if more {
		s.nextURL = next
		notes = s.moveLocked(EventMergedMore)
		if s.controls != nil {
			s.controls.HideLoader()
		}
	} else {
		s.nextURL = ""
		notes = s.moveLocked(EventMergedLast)
		if s.controls != nil {
			s.controls.ShowExhausted()
		}
	}
	notes = append(notes, Notification{
		Type:       LoadCompleted,
		Generation: s.generation,
		Page:       s.page,
		Count:      merged,
	})

	cyclesTotal.WithLabelValues(outcomeMerged).Inc()
	itemsMergedTotal.Add(float64(merged))
	s.logger.Info().
		Str("url", target).
		Int("page", s.page).
		Int("items", merged).
		Bool("has_more", more).
		Msg("Page merged")

	return Outcome{Page: s.page, Items: merged, NextURL: s.nextURL, Exhausted: !more}, notes, nil
}

// mergeLocked deep-copies items out of the transient fetched document,
// appends the copies to the live grid in order and optimizes their images.
func (s *Session) mergeLocked(items *goquery.Selection) int {
	grid := s.structure.Grid.Get(0)
	clones := items.Clone()
	for _, n := range clones.Nodes {
		grid.AppendChild(n)
	}
	images.Optimize(s.doc.FindNodes(clones.Nodes...))
	return len(clones.Nodes)
}

// failLocked moves to Error, shows the failure and schedules recovery.
func (s *Session) failLocked(ev Event, outcome string, err error) []Notification {
	notes := s.moveLocked(ev)
	if s.controls != nil {
		s.controls.HideLoader()
		s.controls.ShowError()
	}
	cyclesTotal.WithLabelValues(outcome).Inc()
	s.logger.Warn().
		Err(err).
		Str("url", s.nextURL).
		Int("page", s.page).
		Msg("Load cycle failed")

	return append(notes, s.scheduleRecoveryLocked(s.generation)...)
}

func (s *Session) scheduleRecoveryLocked(gen uint64) []Notification {
	if s.opts.ErrorDisplayDelay <= 0 {
		return s.recoverLocked()
	}
	s.recovery = time.AfterFunc(s.opts.ErrorDisplayDelay, func() {
		s.mu.Lock()
		if s.generation != gen || s.state != Error {
			s.mu.Unlock()
			return
		}
		notes := s.recoverLocked()
		s.mu.Unlock()
		s.dispatch(notes)
	})
	return nil
}

func (s *Session) recoverLocked() []Notification {
	s.recovery = nil
	notes := s.moveLocked(EventRecovered)
	if s.controls != nil {
		s.controls.RestoreIdleLabel()
	}
	return notes
}

func (s *Session) stopRecoveryLocked() {
	if s.recovery != nil {
		s.recovery.Stop()
		s.recovery = nil
	}
}

// moveLocked applies ev and returns the StateChanged notification, if any.
func (s *Session) moveLocked(ev Event) []Notification {
	from := s.state
	to, err := transition(from, ev)
	if err != nil {
		s.logger.Error().Err(err).Msg("Rejected state transition")
		return nil
	}
	s.state = to
	if from == to {
		return nil
	}
	s.logger.Debug().Str("from", from.String()).Str("state", to.String()).Str("event", ev.String()).Msg("State changed")
	return []Notification{{Type: StateChanged, Generation: s.generation, From: from, To: to}}
}

// Reinitialize discards all session state and reruns detection against the
// live document, typically after the host replaced the grid for a filter or
// sort change. Previously created controls are always removed; new ones are
// created only if a next page exists. In-flight loads become stale.
func (s *Session) Reinitialize() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}

	s.generation++
	s.stopRecoveryLocked()
	if s.controls != nil {
		s.controls.Teardown()
		s.controls = nil
	}
	s.page = 1

	target, hasControls, err := s.setupLocked()
	ev := EventReset
	if target == Exhausted {
		ev = EventResetExhausted
	}
	notes := s.moveLocked(ev)
	notes = append(notes, Notification{
		Type:        ControlsRebuilt,
		Generation:  s.generation,
		HasControls: hasControls,
	})
	gen, next := s.generation, s.nextURL
	s.mu.Unlock()

	reinitializationsTotal.Inc()
	s.logger.Info().
		Uint64("generation", gen).
		Str("next_url", next).
		Bool("controls", hasControls).
		Msg("Session reinitialized")

	s.dispatch(notes)
	return err
}

// Close removes the controls and stops the session. Loads in flight are
// discarded when they complete. Close is idempotent.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.generation++
	s.stopRecoveryLocked()
	if s.controls != nil {
		s.controls.Teardown()
		s.controls = nil
	}
	gen := s.generation
	s.mu.Unlock()

	sessionsActive.Dec()
	s.logger.Info().Msg("Session closed")
	s.dispatch([]Notification{{Type: Closed, Generation: gen}})
	return nil
}

// Snapshot returns a consistent copy of the session state.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := Snapshot{
		ID:         s.id,
		State:      s.state,
		Page:       s.page,
		NextURL:    s.nextURL,
		Generation: s.generation,
	}
	if s.structure.Found() {
		snap.Items = s.structure.Grid.First().Children().Length()
	}
	if p := s.controls; p != nil {
		snap.Controls = ControlsView{
			Mounted:          p.Mounted(),
			LoaderVisible:    p.LoaderVisible(),
			ButtonPresent:    p.Button().Length() > 0,
			ButtonDisabled:   p.ButtonDisabled(),
			ButtonLabel:      p.ButtonLabel(),
			ExhaustedVisible: p.ExhaustedVisible(),
		}
	}
	return snap
}

// Sentinel returns the current sentinel element, or nil when no controls
// are mounted.
func (s *Session) Sentinel() *goquery.Selection {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.controls == nil {
		return nil
	}
	return s.controls.Sentinel()
}

// Mutate runs fn against the live document under the session lock. Hosts
// use it to apply their own DOM changes, such as replacing the grid after a
// filter change, before calling Reinitialize.
func (s *Session) Mutate(fn func(doc *goquery.Document)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(s.doc)
}

// View runs fn against the live document under the session lock. fn must
// not modify the document.
func (s *Session) View(fn func(doc *goquery.Document)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(s.doc)
}

// HTML renders the live document.
func (s *Session) HTML() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.doc.Html()
}
