package alert

import (
	"context"
	"errors"
	"math/rand"
	"runtime/debug"
	"sync"
	"time"

	"portgate/internal/eventbus"
	"portgate/pkg/logx"

	"golang.org/x/time/rate"
)

const (
	EventQueued  = "alert.queued"
	EventDeduped = "alert.deduped"
	EventDropped = "alert.dropped"
	EventSent    = "alert.sent"
	EventFailed  = "alert.failed"
)

type job struct {
	m Message
	// dedupKey is computed at enqueue time for cheap per-worker processing.
	dedupKey string
}

// Service fans alerts out to every configured channel asynchronously.
//
// It is safe for concurrent use.
type Service struct {
	mu sync.Mutex

	log      logx.Logger
	channels []Channel
	bus      eventbus.Bus
	store    DedupStore

	cfg     Config
	limiter *rate.Limiter

	accepting bool
	sendWG    sync.WaitGroup

	queue    chan job
	stopDone chan struct{}

	runCtx    context.Context
	runCancel context.CancelFunc
	workerWG  sync.WaitGroup

	// In-memory dedup cache: key -> suppress until
	dmu   sync.Mutex
	dedup map[string]time.Time

	// Delivered alerts for the status endpoint.
	hmu     sync.Mutex
	history []HistoryItem
}

// New builds a stopped service. Invalid channels are rejected here so a bad
// webhook URL fails startup instead of every delivery.
func New(cfg Config, channels []Channel, log logx.Logger, bus eventbus.Bus) (*Service, error) {
	for _, ch := range channels {
		if err := ch.Validate(); err != nil {
			return nil, err
		}
	}
	s := &Service{
		channels: channels,
		log:      log.With(logx.String("component", "alert")),
		bus:      bus,
		dedup:    map[string]time.Time{},
	}
	s.applyLocked(cfg)
	return s, nil
}

// UseDedupStore attaches a persistence backend for dedup suppressions.
// It only takes effect when Config.PersistDedup is set.
func (s *Service) UseDedupStore(st DedupStore) {
	s.mu.Lock()
	s.store = st
	s.mu.Unlock()
}

// SetChannels validates and swaps the delivery channel set, so a reload
// that edits a webhook URL or adds a target takes effect without a
// restart. In-flight deliveries finish with the set they started with.
func (s *Service) SetChannels(channels []Channel) error {
	for _, ch := range channels {
		if err := ch.Validate(); err != nil {
			return err
		}
	}
	s.mu.Lock()
	s.channels = channels
	s.mu.Unlock()
	return nil
}

func (s *Service) Enabled() bool {
	s.mu.Lock()
	en := s.cfg.Enabled
	s.mu.Unlock()
	return en
}

func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	s.applyLocked(cfg)
	s.mu.Unlock()
}

func (s *Service) applyLocked(cfg Config) {
	if cfg.Workers <= 0 {
		cfg.Workers = 2
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 512
	}
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = 3
	}
	if cfg.RetryMax < 0 {
		cfg.RetryMax = 0
	}
	if cfg.RetryBase <= 0 {
		cfg.RetryBase = 500 * time.Millisecond
	}
	if cfg.RetryMaxDelay <= 0 {
		cfg.RetryMaxDelay = 10 * time.Second
	}
	if cfg.DedupWindow < 0 {
		cfg.DedupWindow = 0
	}
	if cfg.DedupMaxEntries <= 0 {
		cfg.DedupMaxEntries = 2000
	}

	s.cfg = cfg
	// Token bucket: burst = rate per sec, so short spikes don't block too hard.
	s.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec)
}

func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	if s.queue != nil {
		// already running
		s.mu.Unlock()
		return
	}
	if !s.cfg.Enabled || len(s.channels) == 0 {
		s.mu.Unlock()
		return
	}

	s.queue = make(chan job, s.cfg.QueueSize)
	s.accepting = true
	s.stopDone = make(chan struct{})
	s.runCtx, s.runCancel = context.WithCancel(ctx)
	workers := s.cfg.Workers
	s.mu.Unlock()

	for i := 0; i < workers; i++ {
		i := i
		s.workerWG.Add(1)
		go func() {
			defer s.workerWG.Done()
			defer func() {
				if r := recover(); r != nil {
					s.log.Error("panic in alert worker",
						logx.Int("worker", i),
						logx.Any("panic", r),
						logx.String("stack", string(debug.Stack())))
				}
			}()
			s.workerLoop()
		}()
	}
}

// Stop stops intake and drains the queue best-effort until ctx deadline.
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	q := s.queue
	done := s.stopDone
	cancel := s.runCancel
	if q == nil {
		s.mu.Unlock()
		return
	}
	// Block new alerts.
	s.accepting = false
	s.mu.Unlock()

	// Wait for in-flight enqueues to settle, then close the queue so workers
	// can drain what is left.
	ch := make(chan struct{})
	go func() {
		s.sendWG.Wait()
		close(ch)
	}()
	select {
	case <-ctx.Done():
		if cancel != nil {
			cancel()
		}
		return
	case <-ch:
	}

	func() {
		defer func() { _ = recover() }()
		close(q)
	}()

	go func() {
		s.workerWG.Wait()
		close(done)
	}()

	select {
	case <-ctx.Done():
		if cancel != nil {
			cancel()
		}
	case <-done:
		if cancel != nil {
			cancel()
		}
	}

	s.mu.Lock()
	s.queue = nil
	s.stopDone = nil
	s.runCancel = nil
	s.runCtx = nil
	s.mu.Unlock()
}

// Notify enqueues a message for delivery. It never blocks on the transports.
func (s *Service) Notify(ctx context.Context, m Message) error {
	if ctx != nil {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
	}

	s.mu.Lock()
	if !s.cfg.Enabled {
		s.mu.Unlock()
		return ErrDisabled
	}
	if !s.accepting || s.queue == nil {
		s.mu.Unlock()
		return ErrStopped
	}
	q := s.queue
	dedupWindow := s.cfg.DedupWindow
	dedupMax := s.cfg.DedupMaxEntries
	var store DedupStore
	if s.cfg.PersistDedup {
		store = s.store
	}
	s.sendWG.Add(1)
	s.mu.Unlock()
	defer s.sendWG.Done()

	if m.At.IsZero() {
		m.At = time.Now()
	}

	key := dedupKey(m)
	if dedupWindow > 0 && key != "" {
		if !s.dedupAllow(ctx, key, dedupWindow, dedupMax, store) {
			s.publish(EventDeduped, m.Title, key, "")
			return nil
		}
	}

	s.publish(EventQueued, m.Title, key, "")

	select {
	case q <- job{m: m, dedupKey: key}:
		return nil
	default:
		s.publish(EventDropped, m.Title, key, ErrQueueFull.Error())
		return ErrQueueFull
	}
}

// Snapshot returns the recent delivery history.
func (s *Service) Snapshot() []HistoryItem {
	s.hmu.Lock()
	out := append([]HistoryItem(nil), s.history...)
	s.hmu.Unlock()
	return out
}

func (s *Service) publish(typ, title, key, errText string) {
	if s.bus == nil {
		return
	}
	now := time.Now()
	s.bus.Publish(eventbus.Event{Type: typ, Time: now, Data: DeliveryEvent{
		Title: title, Key: key, Error: errText, At: now,
	}})
}

func (s *Service) appendHistory(text string) {
	s.hmu.Lock()
	s.history = append(s.history, HistoryItem{At: time.Now(), Text: text})
	if len(s.history) > 300 {
		s.history = s.history[len(s.history)-300:]
	}
	s.hmu.Unlock()
}

func (s *Service) workerLoop() {
	s.mu.Lock()
	q := s.queue
	runCtx := s.runCtx
	s.mu.Unlock()

	for j := range q {
		if runCtx != nil {
			select {
			case <-runCtx.Done():
				return
			default:
			}
		}
		s.sendWithRetry(runCtx, j)
	}
}

func (s *Service) sendWithRetry(runCtx context.Context, j job) {
	s.mu.Lock()
	cfg := s.cfg
	lim := s.limiter
	channels := s.channels
	log := s.log
	s.mu.Unlock()

	if len(channels) == 0 {
		return
	}

	j.m.Text = prefixForSeverity(j.m.Severity) + j.m.Text
	if j.m.Text == "" {
		return
	}

	maxAttempts := 1
	if cfg.RetryMax > 0 {
		maxAttempts = 1 + cfg.RetryMax
	}

	// Channels that already succeeded are not retried.
	pending := make([]Channel, len(channels))
	copy(pending, channels)

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if lim != nil {
			wctx := runCtx
			if wctx == nil {
				wctx = context.Background()
			}
			if err := lim.Wait(wctx); err != nil {
				return
			}
		}

		callCtx := runCtx
		if callCtx == nil {
			callCtx = context.Background()
		}
		callCtx, cancel := context.WithTimeout(callCtx, 10*time.Second)

		var failed []Channel
		var errs []error
		for _, ch := range pending {
			if err := ch.Send(callCtx, j.m); err != nil {
				failed = append(failed, ch)
				errs = append(errs, err)
				log.Debug("alert send failed",
					logx.String("channel", ch.Type()),
					logx.Err(err),
					logx.Int("attempt", attempt),
					logx.Int("max", maxAttempts))
			}
		}
		cancel()

		if len(failed) == 0 {
			s.appendHistory(j.m.Text)
			s.publish(EventSent, j.m.Title, j.dedupKey, "")
			return
		}
		pending = failed
		lastErr = errors.Join(errs...)

		if attempt >= maxAttempts {
			break
		}
		delay := retryDelay(cfg, attempt)
		if delay <= 0 {
			continue
		}
		t := time.NewTimer(delay)
		rc := runCtx
		if rc == nil {
			rc = context.Background()
		}
		select {
		case <-t.C:
		case <-rc.Done():
			if !t.Stop() {
				<-t.C
			}
			return
		}
	}

	if lastErr != nil {
		s.publish(EventFailed, j.m.Title, j.dedupKey, lastErr.Error())
	}
}

// dedupAllow reports whether a message with this key may be delivered.
// The in-memory cache answers first; on a miss a persisted suppression is
// read through, and every new suppression is written through, so restarts
// inside the window stay quiet.
func (s *Service) dedupAllow(ctx context.Context, key string, window time.Duration, max int, store DedupStore) bool {
	now := time.Now()

	s.dmu.Lock()
	defer s.dmu.Unlock()
	if s.dedup == nil {
		s.dedup = map[string]time.Time{}
	}
	if until, ok := s.dedup[key]; ok && now.Before(until) {
		return false
	}
	if store != nil {
		if ctx == nil {
			ctx = context.Background()
		}
		if until, ok, err := store.GetDedup(ctx, key); err != nil {
			s.log.Debug("dedup read failed", logx.String("key", key), logx.Err(err))
		} else if ok && now.Before(until) {
			s.dedup[key] = until
			return false
		}
	}
	until := now.Add(window)
	s.dedup[key] = until
	if store != nil {
		if err := store.PutDedup(ctx, key, until); err != nil {
			s.log.Debug("dedup write failed", logx.String("key", key), logx.Err(err))
		}
	}

	// Prune expired and cap.
	for k, until := range s.dedup {
		if !now.Before(until) {
			delete(s.dedup, k)
		}
	}
	if max > 0 && len(s.dedup) > max {
		for len(s.dedup) > max {
			var (
				minKey string
				minT   time.Time
				set    bool
			)
			for k, t := range s.dedup {
				if !set || t.Before(minT) {
					minKey, minT, set = k, t, true
				}
			}
			if minKey == "" {
				break
			}
			delete(s.dedup, minKey)
		}
	}
	return true
}

func retryDelay(cfg Config, attempt int) time.Duration {
	// attempt starts at 1 (first attempt), delay is for the NEXT attempt.
	base := cfg.RetryBase
	if base <= 0 {
		base = 500 * time.Millisecond
	}
	maxD := cfg.RetryMaxDelay
	if maxD <= 0 {
		maxD = 10 * time.Second
	}
	d := base
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= maxD {
			d = maxD
			break
		}
	}
	// Jitter 0.7..1.3
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	jf := 0.7 + rng.Float64()*0.6
	d = time.Duration(float64(d) * jf)
	if d < 0 {
		return 0
	}
	if d > maxD {
		d = maxD
	}
	return d
}
