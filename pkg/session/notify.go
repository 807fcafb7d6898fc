package session

import (
	"runtime/debug"
	"slices"
)

// NotificationType names what a Notification reports.
type NotificationType string

const (
	// StateChanged fires on every state transition.
	StateChanged NotificationType = "infinitescroll:state"
	// LoadCompleted fires after every successful merge.
	LoadCompleted NotificationType = "infinitescroll:loaded"
	// ControlsRebuilt fires after reinitialization recreated (or dropped) the controls.
	ControlsRebuilt NotificationType = "infinitescroll:rebuilt"
	// Closed fires once when the session is closed.
	Closed NotificationType = "infinitescroll:closed"
)

// Notification is delivered to subscribers.
type Notification struct {
	Type       NotificationType
	Generation uint64

	// StateChanged
	From State
	To   State

	// LoadCompleted
	Page  int
	Count int

	// ControlsRebuilt
	HasControls bool
}

// Handler receives notifications. Handlers run synchronously on the
// goroutine that caused the notification, outside the session lock, so they
// may call back into the session.
type Handler func(Notification)

// Subscribe registers fn and returns a function that removes it.
func (s *Session) Subscribe(fn Handler) func() {
	s.subsMu.Lock()
	defer s.subsMu.Unlock()

	id := s.nextSub
	s.nextSub++
	s.subs[id] = fn

	return func() {
		s.subsMu.Lock()
		defer s.subsMu.Unlock()
		delete(s.subs, id)
	}
}

// dispatch delivers notes in order. Must be called without s.mu held.
func (s *Session) dispatch(notes []Notification) {
	if len(notes) == 0 {
		return
	}

	s.subsMu.Lock()
	ids := make([]int, 0, len(s.subs))
	for id := range s.subs {
		ids = append(ids, id)
	}
	handlers := make([]Handler, 0, len(ids))
	slices.Sort(ids)
	for _, id := range ids {
		handlers = append(handlers, s.subs[id])
	}
	s.subsMu.Unlock()

	for _, n := range notes {
		for _, h := range handlers {
			s.deliver(h, n)
		}
	}
}

func (s *Session) deliver(h Handler, n Notification) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error().
				Interface("panic", r).
				Str("notification", string(n.Type)).
				Bytes("stack", debug.Stack()).
				Msg("Notification handler panicked")
		}
	}()
	h(n)
}
