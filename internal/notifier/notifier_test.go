package notifier

import (
	"context"
	"sync/atomic"
	"testing"
	"time"
)

func TestFiresOnceAfterDeadline(t *testing.T) {
	t.Parallel()

	const deadline = 50 * time.Millisecond

	var fires atomic.Int32
	start := time.Now()
	firedAt := make(chan time.Duration, 1)

	r := New(deadline, func() {
		fires.Add(1)
		firedAt <- time.Since(start)
	})
	if got := r.State(); got != StateIdle {
		t.Fatalf("State = %v, want idle", got)
	}
	if err := r.Start(context.Background()); err != nil {
		t.Fatalf("Start error: %v", err)
	}
	if got := r.State(); got != StateWaiting {
		t.Fatalf("State = %v, want waiting", got)
	}

	select {
	case elapsed := <-firedAt:
		if elapsed < deadline {
			t.Fatalf("fired after %v, before the %v deadline", elapsed, deadline)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timer never fired")
	}

	<-r.Done()
	if got := r.State(); got != StateFired {
		t.Fatalf("State = %v, want fired", got)
	}

	// A terminal Retry stays terminal: late Cancel must not undo the fire.
	r.Cancel()
	if got := r.State(); got != StateFired {
		t.Fatalf("State after late Cancel = %v, want fired", got)
	}
	if n := fires.Load(); n != 1 {
		t.Fatalf("action ran %d times, want 1", n)
	}
}

func TestStartExactlyOnce(t *testing.T) {
	t.Parallel()

	r := New(time.Hour, func() {})
	defer r.Cancel()

	if err := r.Start(context.Background()); err != nil {
		t.Fatalf("first Start error: %v", err)
	}
	if err := r.Start(context.Background()); err != ErrAlreadyStarted {
		t.Fatalf("second Start error = %v, want ErrAlreadyStarted", err)
	}
}

func TestNilAction(t *testing.T) {
	t.Parallel()

	r := New(time.Hour, nil)
	if err := r.Start(context.Background()); err != ErrNilAction {
		t.Fatalf("Start error = %v, want ErrNilAction", err)
	}
}

func TestCancelBeforeDeadline(t *testing.T) {
	t.Parallel()

	const deadline = 40 * time.Millisecond

	var fires atomic.Int32
	r := New(deadline, func() { fires.Add(1) })
	if err := r.Start(context.Background()); err != nil {
		t.Fatalf("Start error: %v", err)
	}

	// Tear down well before the deadline.
	r.Cancel()
	if got := r.State(); got != StateCanceled {
		t.Fatalf("State = %v, want canceled", got)
	}

	time.Sleep(4 * deadline)
	if n := fires.Load(); n != 0 {
		t.Fatalf("action ran %d times after cancel, want 0", n)
	}

	select {
	case <-r.Done():
	default:
		t.Fatal("Done not closed after Cancel")
	}
}

func TestContextTeardownReleasesTimer(t *testing.T) {
	t.Parallel()

	const deadline = 40 * time.Millisecond

	var fires atomic.Int32
	ctx, cancel := context.WithCancel(context.Background())

	r := New(deadline, func() { fires.Add(1) })
	if err := r.Start(ctx); err != nil {
		t.Fatalf("Start error: %v", err)
	}

	cancel()
	select {
	case <-r.Done():
	case <-time.After(time.Second):
		t.Fatal("Done not closed after context teardown")
	}
	if got := r.State(); got != StateCanceled {
		t.Fatalf("State = %v, want canceled", got)
	}

	time.Sleep(4 * deadline)
	if n := fires.Load(); n != 0 {
		t.Fatalf("action ran %d times after teardown, want 0", n)
	}
}

// The pending timer must not disarm on unrelated state changes: even if the
// condition that scheduled the retry clears mid-wait, the one scheduled fire
// still happens.
func TestUnrelatedRecoveryDoesNotDisarm(t *testing.T) {
	t.Parallel()

	const deadline = 40 * time.Millisecond

	backendUp := atomic.Bool{}
	var fires atomic.Int32
	r := New(deadline, func() { fires.Add(1) })
	if err := r.Start(context.Background()); err != nil {
		t.Fatalf("Start error: %v", err)
	}

	// Backend "comes up" halfway through the wait. Nothing cancels.
	time.Sleep(deadline / 2)
	backendUp.Store(true)

	select {
	case <-r.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("timer never fired")
	}
	if n := fires.Load(); n != 1 {
		t.Fatalf("action ran %d times, want 1", n)
	}
	if !backendUp.Load() {
		t.Fatal("test invariant broken")
	}
}

func TestDefaultDeadline(t *testing.T) {
	t.Parallel()

	r := New(0, func() {})
	if got := r.Deadline(); got != DefaultDeadline {
		t.Fatalf("Deadline = %v, want %v", got, DefaultDeadline)
	}
	if DefaultDeadline != 60*time.Second {
		t.Fatalf("DefaultDeadline = %v, want 60s", DefaultDeadline)
	}
}

func TestStateString(t *testing.T) {
	t.Parallel()

	cases := map[State]string{
		StateIdle:     "idle",
		StateWaiting:  "waiting",
		StateFired:    "fired",
		StateCanceled: "canceled",
		State(99):     "unknown",
	}
	for s, want := range cases {
		if got := s.String(); got != want {
			t.Fatalf("State(%d).String() = %q, want %q", s, got, want)
		}
	}
}
