package session

import (
	"errors"
	"fmt"
)

// State is the position of a session in its load cycle.
type State int

const (
	// Idle means more pages exist and no load is running.
	Idle State = iota
	// Loading means exactly one fetch-and-merge cycle is in flight.
	Loading
	// Exhausted is terminal until the session is reinitialized.
	Exhausted
	// Error is a transient failure display. It returns to Idle after the
	// error display delay.
	Error
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Loading:
		return "loading"
	case Exhausted:
		return "exhausted"
	case Error:
		return "error"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Event is an input to the state machine.
type Event int

const (
	EventTrigger Event = iota
	EventFetchFailed
	EventMalformed
	EventEmptyPage
	EventMergedMore
	EventMergedLast
	EventRecovered
	EventReset
	EventResetExhausted
)

func (e Event) String() string {
	switch e {
	case EventTrigger:
		return "trigger"
	case EventFetchFailed:
		return "fetch_failed"
	case EventMalformed:
		return "malformed"
	case EventEmptyPage:
		return "empty_page"
	case EventMergedMore:
		return "merged_more"
	case EventMergedLast:
		return "merged_last"
	case EventRecovered:
		return "recovered"
	case EventReset:
		return "reset"
	case EventResetExhausted:
		return "reset_exhausted"
	default:
		return fmt.Sprintf("event(%d)", int(e))
	}
}

// ErrInvalidTransition is returned for an event the current state does not accept.
var ErrInvalidTransition = errors.New("invalid state transition")

// transitions is the complete table. Anything not listed is rejected.
var transitions = map[State]map[Event]State{
	Idle: {
		EventTrigger:        Loading,
		EventReset:          Idle,
		EventResetExhausted: Exhausted,
	},
	Loading: {
		EventFetchFailed:    Error,
		EventMalformed:      Error,
		EventEmptyPage:      Exhausted,
		EventMergedMore:     Idle,
		EventMergedLast:     Exhausted,
		EventReset:          Idle,
		EventResetExhausted: Exhausted,
	},
	Exhausted: {
		EventReset:          Idle,
		EventResetExhausted: Exhausted,
	},
	Error: {
		EventRecovered:      Idle,
		EventReset:          Idle,
		EventResetExhausted: Exhausted,
	},
}

// transition returns the state reached from `from` on ev.
func transition(from State, ev Event) (State, error) {
	if to, ok := transitions[from][ev]; ok {
		return to, nil
	}
	return from, fmt.Errorf("%w: %s on %s", ErrInvalidTransition, from, ev)
}

// Snapshot is a consistent copy of session state.
type Snapshot struct {
	ID         string
	State      State
	Page       int
	NextURL    string
	Generation uint64
	Items      int
	Controls   ControlsView
}

// Loading reports whether a cycle is in flight.
func (s Snapshot) Loading() bool { return s.State == Loading }

// Exhausted reports whether no further pages will be loaded.
func (s Snapshot) Exhausted() bool { return s.State == Exhausted }

// ControlsView reflects what the presenter currently shows.
type ControlsView struct {
	Mounted          bool
	LoaderVisible    bool
	ButtonPresent    bool
	ButtonDisabled   bool
	ButtonLabel      string
	ExhaustedVisible bool
}
