package supervisor

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func waitStopped(t *testing.T, sup *Supervisor) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	sup.Cancel()
	_ = sup.Wait(ctx)
}

func TestCancelOnFirstError(t *testing.T) {
	t.Parallel()

	sup := NewSupervisor(context.Background(), WithCancelOnError(true))
	boom := errors.New("boom")
	sup.Go("failing", func(ctx context.Context) error { return boom })

	select {
	case <-sup.Context().Done():
	case <-time.After(2 * time.Second):
		t.Fatal("supervisor context not canceled after error")
	}
	if err := sup.Err(); !errors.Is(err, boom) {
		t.Fatalf("Err = %v, want wrapped boom", err)
	}
}

func TestPanicRecovered(t *testing.T) {
	t.Parallel()

	sup := NewSupervisor(context.Background(), WithCancelOnError(true))
	sup.Go("panicky", func(ctx context.Context) error { panic("nope") })

	select {
	case <-sup.Context().Done():
	case <-time.After(2 * time.Second):
		t.Fatal("supervisor context not canceled after panic")
	}
	if err := sup.Err(); err == nil {
		t.Fatal("expected panic to surface via Err")
	}

	snap := sup.Snapshot()
	var found bool
	for _, ts := range snap.Tasks {
		if ts.Name == "panicky" && ts.Panics == 1 {
			found = true
		}
	}
	if !found {
		t.Fatalf("panic not counted in snapshot: %+v", snap.Tasks)
	}
}

func TestGoRestartRetriesUntilCancel(t *testing.T) {
	t.Parallel()

	sup := NewSupervisor(context.Background())
	var runs atomic.Int32
	done := make(chan struct{})

	sup.GoRestart("flaky", func(ctx context.Context) error {
		if runs.Add(1) == 3 {
			close(done)
		}
		return errors.New("transient")
	}, WithRestartBackoff(time.Millisecond, 5*time.Millisecond))

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatalf("only %d runs before timeout", runs.Load())
	}
	waitStopped(t, sup)
}

func TestGoRestartStopsOnCleanExit(t *testing.T) {
	t.Parallel()

	sup := NewSupervisor(context.Background())
	var runs atomic.Int32
	sup.GoRestart("oneshot", func(ctx context.Context) error {
		runs.Add(1)
		return nil
	}, WithRestartBackoff(time.Millisecond, 5*time.Millisecond))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := sup.Wait(ctx); err != nil {
		t.Fatalf("Wait error: %v", err)
	}
	if got := runs.Load(); got != 1 {
		t.Fatalf("runs = %d, want 1", got)
	}
}

func TestWaitAfterCleanExit(t *testing.T) {
	t.Parallel()

	sup := NewSupervisor(context.Background())
	sup.Go0("noop", func(ctx context.Context) {})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	sup.Cancel()
	if err := sup.Wait(ctx); err != nil {
		t.Fatalf("Wait error: %v", err)
	}

	snap := sup.Snapshot()
	if len(snap.Tasks) == 0 || snap.Tasks[0].Runs == 0 {
		t.Fatalf("expected run recorded in snapshot, got %+v", snap.Tasks)
	}
}
