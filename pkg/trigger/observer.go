package trigger

import (
	"sync"

	"github.com/PuerkitoBio/goquery"
)

// DefaultRootMargin starts loading well before the sentinel reaches the
// physical end of the viewport.
const DefaultRootMargin = "500px"

// Observer reports visibility changes of one target element.
type Observer interface {
	// Observe replaces any current target. fn receives every visibility
	// change of target, grown by rootMargin on every side.
	Observe(target *goquery.Selection, rootMargin string, fn func(visible bool))

	// Disconnect stops observing. It is safe to call when nothing is observed.
	Disconnect()
}

// SignalObserver is an Observer fed by the host: whoever knows the layout
// (a browser bridge, a headless driver, a test) calls Report.
type SignalObserver struct {
	mu     sync.Mutex
	target *goquery.Selection
	margin string
	fn     func(bool)
}

// NewSignalObserver returns an observer with nothing observed.
func NewSignalObserver() *SignalObserver {
	return &SignalObserver{}
}

// Observe implements Observer.
func (o *SignalObserver) Observe(target *goquery.Selection, rootMargin string, fn func(visible bool)) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.target, o.margin, o.fn = target, rootMargin, fn
}

// Disconnect implements Observer.
func (o *SignalObserver) Disconnect() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.target, o.margin, o.fn = nil, "", nil
}

// Report delivers a visibility change for the observed target on the
// calling goroutine and returns false when nothing is observed.
func (o *SignalObserver) Report(visible bool) bool {
	o.mu.Lock()
	fn := o.fn
	o.mu.Unlock()

	if fn == nil {
		return false
	}
	fn(visible)
	return true
}

// Observing reports whether a target is currently observed.
func (o *SignalObserver) Observing() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.fn != nil
}

// Target returns the observed element, or nil.
func (o *SignalObserver) Target() *goquery.Selection {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.target
}

// RootMargin returns the margin of the current observation.
func (o *SignalObserver) RootMargin() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.margin
}
