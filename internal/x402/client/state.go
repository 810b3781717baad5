package client

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/alphabot-ai/replay/internal/x402"
)

type State string

const (
	StateIdle       State = "idle"
	StateSigning    State = "signing"
	StateConfirming State = "confirming"
	StateSuccess    State = "success"
	StateError      State = "error"
)

// DefaultResetDelay is how long a terminal state is shown before returning
// to idle.
const DefaultResetDelay = 3 * time.Second

var (
	ErrBusy              = errors.New("payment already in progress")
	ErrInvalidTransition = errors.New("invalid payment state transition")
)

// Snapshot is one observed state of a Tracker.
type Snapshot struct {
	State  State
	Reason string
	At     time.Time
}

var transitions = map[State][]State{
	StateIdle:       {StateSigning},
	StateSigning:    {StateConfirming, StateSuccess, StateError},
	StateConfirming: {StateSuccess, StateError},
	StateSuccess:    {StateIdle},
	StateError:      {StateIdle},
}

// Tracker follows one payment flow at a time and implements Observer. It
// owns no transport logic; success and error fall back to idle on their own
// after the reset delay.
type Tracker struct {
	mu         sync.Mutex
	state      State
	reason     string
	resetDelay time.Duration
	timer      *time.Timer
	generation uint64
	listeners  []func(Snapshot)
}

func NewTracker(resetDelay time.Duration) *Tracker {
	if resetDelay <= 0 {
		resetDelay = DefaultResetDelay
	}
	return &Tracker{state: StateIdle, resetDelay: resetDelay}
}

func (t *Tracker) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

func (t *Tracker) Snapshot() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	return Snapshot{State: t.state, Reason: t.reason}
}

// Busy reports whether a flow is signing or confirming. Callers serialize
// flows by refusing to start while busy.
func (t *Tracker) Busy() bool {
	s := t.State()
	return s == StateSigning || s == StateConfirming
}

// Subscribe registers fn for every subsequent transition. fn runs without
// the tracker lock held.
func (t *Tracker) Subscribe(fn func(Snapshot)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.listeners = append(t.listeners, fn)
}

// Begin moves idle to signing. A terminal state that has not reset yet is
// cleared first.
func (t *Tracker) Begin() error {
	t.mu.Lock()
	switch t.state {
	case StateSigning, StateConfirming:
		t.mu.Unlock()
		return ErrBusy
	case StateSuccess, StateError:
		t.stopTimerLocked()
		t.state = StateIdle
		t.reason = ""
	}
	t.mu.Unlock()
	return t.transition(StateSigning, "")
}

func (t *Tracker) PaymentStarted() {
	if t.State() == StateSigning {
		return
	}
	_ = t.Begin()
}

func (t *Tracker) PaymentSigned(x402.PaymentRequirements) {
	_ = t.transition(StateConfirming, "")
}

func (t *Tracker) PaymentCompleted(statusCode int, detail string) {
	if statusCode >= 200 && statusCode <= 299 {
		_ = t.transition(StateSuccess, "")
		return
	}
	if detail == "" {
		detail = fmt.Sprintf("request failed with status %d", statusCode)
	}
	_ = t.transition(StateError, detail)
}

func (t *Tracker) PaymentFailed(err error) {
	reason := "payment failed"
	if err != nil {
		reason = err.Error()
	}
	var cancelled *PaymentCancelledError
	if errors.As(err, &cancelled) {
		reason = "payment cancelled"
	}
	_ = t.transition(StateError, reason)
}

// Close stops a pending reset.
func (t *Tracker) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stopTimerLocked()
}

func (t *Tracker) transition(to State, reason string) error {
	t.mu.Lock()
	if !allowed(t.state, to) {
		from := t.state
		t.mu.Unlock()
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	t.state = to
	t.reason = reason
	t.generation++
	if to == StateSuccess || to == StateError {
		gen := t.generation
		t.stopTimerLocked()
		t.timer = time.AfterFunc(t.resetDelay, func() { t.reset(gen) })
	}
	snap := Snapshot{State: to, Reason: reason, At: time.Now()}
	listeners := append([]func(Snapshot){}, t.listeners...)
	t.mu.Unlock()

	for _, fn := range listeners {
		fn(snap)
	}
	return nil
}

func (t *Tracker) reset(gen uint64) {
	t.mu.Lock()
	if t.generation != gen {
		t.mu.Unlock()
		return
	}
	t.mu.Unlock()
	_ = t.transition(StateIdle, "")
}

func (t *Tracker) stopTimerLocked() {
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
}

func allowed(from, to State) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}
