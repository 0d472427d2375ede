package notifier

import (
	"context"
	"errors"
	"sync"
	"time"
)

// DefaultDeadline is the fixed delay between noticing an unreachable backend
// and the single deferred recovery attempt. It matches the delay baked into
// the unreachable page served by the gateway.
const DefaultDeadline = 60 * time.Second

var (
	ErrAlreadyStarted = errors.New("retry already started")
	ErrNilAction      = errors.New("retry action is nil")
)

// State is the lifecycle position of a Retry.
type State int32

const (
	StateIdle State = iota
	StateWaiting
	StateFired
	StateCanceled
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateWaiting:
		return "waiting"
	case StateFired:
		return "fired"
	case StateCanceled:
		return "canceled"
	default:
		return "unknown"
	}
}

// Retry owns exactly one pending timer and fires its action exactly once.
//
// The zero value is not usable; construct with New.
type Retry struct {
	deadline time.Duration
	action   func()

	mu    sync.Mutex
	state State
	timer *time.Timer
	done  chan struct{}
}

// New creates an idle Retry that will invoke action once deadline elapses
// after Start. A non-positive deadline falls back to DefaultDeadline.
func New(deadline time.Duration, action func()) *Retry {
	if deadline <= 0 {
		deadline = DefaultDeadline
	}
	return &Retry{
		deadline: deadline,
		action:   action,
		done:     make(chan struct{}),
	}
}

// Deadline returns the configured fixed delay.
func (r *Retry) Deadline() time.Duration { return r.deadline }

// State returns the current lifecycle state.
func (r *Retry) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Done is closed when the Retry reaches a terminal state (fired or canceled).
func (r *Retry) Done() <-chan struct{} { return r.done }

// Start arms the single timer. It must be called exactly once; a second call
// returns ErrAlreadyStarted without touching the pending timer.
//
// If ctx is canceled before the deadline elapses, the action never runs.
func (r *Retry) Start(ctx context.Context) error {
	if r.action == nil {
		return ErrNilAction
	}

	r.mu.Lock()
	if r.state != StateIdle {
		r.mu.Unlock()
		return ErrAlreadyStarted
	}
	r.state = StateWaiting
	r.timer = time.AfterFunc(r.deadline, r.fire)
	r.mu.Unlock()

	if ctx != nil && ctx.Done() != nil {
		// Teardown watch: release the timer when the owner goes away first.
		go func() {
			select {
			case <-ctx.Done():
				r.Cancel()
			case <-r.done:
			}
		}()
	}
	return nil
}

// Cancel releases the pending timer. After Cancel returns, the action is
// guaranteed not to run. Canceling a fired or already-canceled Retry is a
// no-op.
func (r *Retry) Cancel() {
	r.mu.Lock()
	if r.state != StateWaiting {
		r.mu.Unlock()
		return
	}
	r.state = StateCanceled
	if r.timer != nil {
		r.timer.Stop()
		r.timer = nil
	}
	close(r.done)
	r.mu.Unlock()
}

// fire runs on the timer goroutine. The state check makes it race-safe
// against Cancel: whichever transition wins under the lock decides whether
// the action runs.
func (r *Retry) fire() {
	r.mu.Lock()
	if r.state != StateWaiting {
		r.mu.Unlock()
		return
	}
	r.state = StateFired
	r.timer = nil
	close(r.done)
	r.mu.Unlock()

	// Run outside the lock; the action may take arbitrary time.
	r.action()
}
