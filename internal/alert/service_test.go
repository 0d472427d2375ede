package alert

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"portgate/pkg/logx"
)

type fakeChannel struct {
	mu       sync.Mutex
	sent     []Message
	failures int32 // fail this many sends before succeeding
	gate     chan struct{}
}

func (f *fakeChannel) Type() string    { return "fake" }
func (f *fakeChannel) Validate() error { return nil }

func (f *fakeChannel) Send(ctx context.Context, m Message) error {
	if f.gate != nil {
		select {
		case <-f.gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if atomic.AddInt32(&f.failures, -1) >= 0 {
		return errors.New("transport broke")
	}
	f.mu.Lock()
	f.sent = append(f.sent, m)
	f.mu.Unlock()
	return nil
}

func (f *fakeChannel) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

func waitCount(t *testing.T, f *fakeChannel, want int) {
	t.Helper()
	deadline := time.After(3 * time.Second)
	for {
		if f.count() == want {
			return
		}
		select {
		case <-deadline:
			t.Fatalf("sent count = %d, want %d", f.count(), want)
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func testConfig() Config {
	return Config{
		Enabled:    true,
		Workers:    2,
		QueueSize:  16,
		RatePerSec: 1000,
		RetryBase:  time.Millisecond,
	}
}

func TestDeliversToAllChannels(t *testing.T) {
	t.Parallel()

	a := &fakeChannel{failures: -1}
	b := &fakeChannel{failures: -1}
	s, err := New(testConfig(), []Channel{a, b}, logx.Nop(), nil)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	s.Start(context.Background())
	defer stop(t, s)

	if err := s.Notify(context.Background(), Message{Severity: SeverityCritical, Title: "backend down", Text: "port 3000 unreachable"}); err != nil {
		t.Fatalf("notify: %v", err)
	}
	waitCount(t, a, 1)
	waitCount(t, b, 1)

	if got := a.sent[0].Text; got != "🚨 port 3000 unreachable" {
		t.Fatalf("text = %q", got)
	}
	if hist := s.Snapshot(); len(hist) != 1 {
		t.Fatalf("history len = %d", len(hist))
	}
}

func TestRetriesFailedChannel(t *testing.T) {
	t.Parallel()

	flaky := &fakeChannel{failures: 2}
	cfg := testConfig()
	cfg.RetryMax = 3
	s, err := New(cfg, []Channel{flaky}, logx.Nop(), nil)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	s.Start(context.Background())
	defer stop(t, s)

	if err := s.Notify(context.Background(), Message{Title: "t", Text: "x"}); err != nil {
		t.Fatalf("notify: %v", err)
	}
	waitCount(t, flaky, 1)
}

func TestDedupSuppressesRepeat(t *testing.T) {
	t.Parallel()

	ch := &fakeChannel{failures: -1}
	cfg := testConfig()
	cfg.DedupWindow = time.Minute
	s, err := New(cfg, []Channel{ch}, logx.Nop(), nil)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	s.Start(context.Background())
	defer stop(t, s)

	m := Message{Severity: SeverityWarning, Title: "backend down", Text: "same incident"}
	if err := s.Notify(context.Background(), m); err != nil {
		t.Fatalf("notify: %v", err)
	}
	if err := s.Notify(context.Background(), m); err != nil {
		t.Fatalf("second notify: %v", err)
	}
	waitCount(t, ch, 1)

	// A different message still goes through.
	if err := s.Notify(context.Background(), Message{Title: "backend recovered", Text: "other"}); err != nil {
		t.Fatalf("third notify: %v", err)
	}
	waitCount(t, ch, 2)
}

func TestDisabledRejectsNotify(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.Enabled = false
	s, err := New(cfg, []Channel{&fakeChannel{failures: -1}}, logx.Nop(), nil)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	s.Start(context.Background())
	defer stop(t, s)

	if err := s.Notify(context.Background(), Message{Text: "x"}); !errors.Is(err, ErrDisabled) {
		t.Fatalf("err = %v, want ErrDisabled", err)
	}
}

func TestQueueFullDrops(t *testing.T) {
	t.Parallel()

	gate := make(chan struct{})
	slow := &fakeChannel{failures: -1, gate: gate}
	cfg := testConfig()
	cfg.Workers = 1
	cfg.QueueSize = 1
	s, err := New(cfg, []Channel{slow}, logx.Nop(), nil)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	s.Start(context.Background())
	defer func() {
		close(gate)
		stop(t, s)
	}()

	// First message occupies the worker, second fills the queue. Texts
	// differ so dedup never kicks in.
	if err := s.Notify(context.Background(), Message{Text: "a"}); err != nil {
		t.Fatalf("notify a: %v", err)
	}
	// Wait until the worker is blocked in Send so the queue slot is free.
	time.Sleep(50 * time.Millisecond)
	if err := s.Notify(context.Background(), Message{Text: "b"}); err != nil {
		t.Fatalf("notify b: %v", err)
	}
	if err := s.Notify(context.Background(), Message{Text: "c"}); !errors.Is(err, ErrQueueFull) {
		t.Fatalf("err = %v, want ErrQueueFull", err)
	}
}

func TestValidateRejectsBadChannel(t *testing.T) {
	t.Parallel()

	if _, err := New(testConfig(), []Channel{NewWebhook("discord", "://missing-scheme")}, logx.Nop(), nil); err == nil {
		t.Fatal("expected validation error")
	}
}

func stop(t *testing.T, s *Service) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	s.Stop(ctx)
}

type memDedupStore struct {
	mu sync.Mutex
	m  map[string]time.Time
}

func (st *memDedupStore) PutDedup(ctx context.Context, key string, until time.Time) error {
	st.mu.Lock()
	if st.m == nil {
		st.m = map[string]time.Time{}
	}
	st.m[key] = until
	st.mu.Unlock()
	return nil
}

func (st *memDedupStore) GetDedup(ctx context.Context, key string) (time.Time, bool, error) {
	st.mu.Lock()
	defer st.mu.Unlock()
	until, ok := st.m[key]
	return until, ok, nil
}

func TestDedupSuppressionSurvivesRestart(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.DedupWindow = time.Hour
	cfg.PersistDedup = true
	store := &memDedupStore{}
	msg := Message{Severity: SeverityCritical, Title: "backend down", Text: "port 3000 unreachable"}

	c1 := &fakeChannel{failures: -1}
	s1, err := New(cfg, []Channel{c1}, logx.Nop(), nil)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	s1.UseDedupStore(store)
	s1.Start(context.Background())
	if err := s1.Notify(context.Background(), msg); err != nil {
		t.Fatalf("notify: %v", err)
	}
	waitCount(t, c1, 1)
	stop(t, s1)

	// A fresh service sharing the store must stay quiet inside the window.
	c2 := &fakeChannel{failures: -1}
	s2, err := New(cfg, []Channel{c2}, logx.Nop(), nil)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	s2.UseDedupStore(store)
	s2.Start(context.Background())
	defer stop(t, s2)

	if err := s2.Notify(context.Background(), msg); err != nil {
		t.Fatalf("notify after restart: %v", err)
	}
	time.Sleep(50 * time.Millisecond)
	if got := c2.count(); got != 0 {
		t.Fatalf("alert re-delivered %d times after restart within dedup window, want 0", got)
	}
}

func TestSetChannelsSwapsTargets(t *testing.T) {
	t.Parallel()

	oldCh := &fakeChannel{failures: -1}
	s, err := New(testConfig(), []Channel{oldCh}, logx.Nop(), nil)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	s.Start(context.Background())
	defer stop(t, s)

	if err := s.Notify(context.Background(), Message{Title: "a", Text: "before swap"}); err != nil {
		t.Fatalf("notify: %v", err)
	}
	waitCount(t, oldCh, 1)

	newCh := &fakeChannel{failures: -1}
	if err := s.SetChannels([]Channel{newCh}); err != nil {
		t.Fatalf("set channels: %v", err)
	}
	if err := s.Notify(context.Background(), Message{Title: "b", Text: "after swap"}); err != nil {
		t.Fatalf("notify: %v", err)
	}
	waitCount(t, newCh, 1)
	if got := oldCh.count(); got != 1 {
		t.Fatalf("old channel received %d messages, want 1", got)
	}
}

func TestSetChannelsRejectsInvalid(t *testing.T) {
	t.Parallel()

	good := &fakeChannel{failures: -1}
	s, err := New(testConfig(), []Channel{good}, logx.Nop(), nil)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	s.Start(context.Background())
	defer stop(t, s)

	if err := s.SetChannels([]Channel{NewWebhook("discord", "://missing-scheme")}); err == nil {
		t.Fatal("expected validation error")
	}
	// Previous set still delivers.
	if err := s.Notify(context.Background(), Message{Title: "c", Text: "still here"}); err != nil {
		t.Fatalf("notify: %v", err)
	}
	waitCount(t, good, 1)
}
