package probe

import (
	"context"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"golang.org/x/time/rate"

	"portgate/internal/eventbus"
	"portgate/internal/notifier"
	"portgate/pkg/logx"
)

// Bus event types published on backend state transitions.
const (
	EventDown = "probe.down"
	EventUp   = "probe.up"
)

type State string

const (
	StateUnknown State = "unknown"
	StateUp      State = "up"
	StateDown    State = "down"
)

// StateEvent is the payload carried on EventDown/EventUp.
type StateEvent struct {
	Addr   string    `json:"addr"`
	State  State     `json:"state"`
	Since  time.Time `json:"since"`
	Reason string    `json:"reason,omitempty"`

	// PidPorts lists where the expected pid is actually listening (if a pid
	// is configured and discovery is supported). Distinguishes "process on
	// the wrong port" from "no process at all".
	PidPorts []string `json:"pid_ports,omitempty"`
}

type Config struct {
	Addr string // backend host:port
	PID  int    // optional expected pid

	Interval      time.Duration // up-state re-check cadence
	DialTimeout   time.Duration
	RetryDeadline time.Duration // down-state fixed-delay pacing
	RatePerSec    int
	Sweep         string // optional cron spec for port-table sweeps
}

// Snapshot is a point-in-time view for statusz.
type Snapshot struct {
	Addr    string    `json:"addr"`
	State   State     `json:"state"`
	Since   time.Time `json:"since"`
	LastErr string    `json:"last_err,omitempty"`
	Checks  uint64    `json:"checks"`
}

// Prober watches one backend address.
//
// Up-state checks run on a short interval. Down-state checks reproduce the
// unreachable page's recovery policy exactly: one single-shot deferred
// re-check per cycle at the fixed retry deadline, forever, no backoff.
type Prober struct {
	mu  sync.Mutex
	cfg Config

	log logx.Logger
	bus eventbus.Bus

	limiter *rate.Limiter
	dial    func(ctx context.Context, addr string, timeout time.Duration) error

	sweeper *cron.Cron

	state   State
	since   time.Time
	lastErr string
	checks  uint64
}

func New(cfg Config, log logx.Logger, bus eventbus.Bus) *Prober {
	p := &Prober{
		log:   log,
		bus:   bus,
		dial:  dialTCP,
		state: StateUnknown,
		since: time.Now(),
	}
	p.applyLocked(cfg)
	return p
}

// Apply updates prober settings. Safe during config hot-reload; the running
// loop picks the new values up on its next cycle.
func (p *Prober) Apply(cfg Config) {
	p.mu.Lock()
	p.applyLocked(cfg)
	p.mu.Unlock()
}

func (p *Prober) applyLocked(cfg Config) {
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Second
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = time.Second
	}
	if cfg.RetryDeadline <= 0 {
		cfg.RetryDeadline = notifier.DefaultDeadline
	}
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = 4
	}
	p.cfg = cfg
	p.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec)
}

func (p *Prober) Snapshot() Snapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Snapshot{
		Addr:    p.cfg.Addr,
		State:   p.state,
		Since:   p.since,
		LastErr: p.lastErr,
		Checks:  p.checks,
	}
}

func (p *Prober) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Run is the monitor loop. It returns nil on context cancellation and is
// safe to restart (intended to run under the supervisor).
func (p *Prober) Run(ctx context.Context) error {
	p.startSweep(ctx)
	defer p.stopSweep()

	up, err := p.checkOnce(ctx)
	if ctx.Err() != nil {
		return nil
	}
	p.transition(ctx, up, err)

	for {
		if ctx.Err() != nil {
			return nil
		}

		if p.State() != StateDown {
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(p.interval()):
			}
			up, err := p.checkOnce(ctx)
			if ctx.Err() != nil {
				return nil
			}
			p.transition(ctx, up, err)
			continue
		}

		// Down: one deferred re-check per cycle at the fixed deadline. A
		// fresh Retry per cycle keeps the one-pending-timer invariant.
		type result struct {
			up  bool
			err error
		}
		res := make(chan result, 1)
		r := notifier.New(p.retryDeadline(), func() {
			up, err := p.checkOnce(ctx)
			res <- result{up: up, err: err}
		})
		if err := r.Start(ctx); err != nil {
			return err
		}

		select {
		case <-ctx.Done():
			r.Cancel()
			return nil
		case out := <-res:
			if ctx.Err() != nil {
				return nil
			}
			p.transition(ctx, out.up, out.err)
		}
	}
}

func (p *Prober) interval() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cfg.Interval
}

func (p *Prober) retryDeadline() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cfg.RetryDeadline
}

func (p *Prober) checkOnce(ctx context.Context) (bool, error) {
	p.mu.Lock()
	lim := p.limiter
	addr := p.cfg.Addr
	timeout := p.cfg.DialTimeout
	dial := p.dial
	p.checks++
	p.mu.Unlock()

	if lim != nil {
		if err := lim.Wait(ctx); err != nil {
			return false, err
		}
	}
	if err := dial(ctx, addr, timeout); err != nil {
		return false, err
	}
	return true, nil
}

func (p *Prober) transition(ctx context.Context, up bool, err error) {
	p.mu.Lock()
	prev := p.state
	next := StateDown
	if up {
		next = StateUp
	}
	reason := ""
	if err != nil {
		reason = err.Error()
	}
	p.lastErr = reason
	if prev == next {
		p.mu.Unlock()
		return
	}
	p.state = next
	p.since = time.Now()
	since := p.since
	addr := p.cfg.Addr
	pid := p.cfg.PID
	p.mu.Unlock()

	ev := StateEvent{Addr: addr, State: next, Since: since, Reason: reason}

	if next == StateDown {
		if pid > 0 {
			if ports, perr := ListeningPorts(ctx, pid); perr == nil {
				ev.PidPorts = ports
			}
		}
		p.log.Warn("backend unreachable",
			logx.String("addr", addr),
			logx.String("reason", reason),
			logx.Any("pid_ports", ev.PidPorts),
			logx.Duration("retry_in", p.retryDeadline()),
		)
		if p.bus != nil {
			p.bus.Publish(eventbus.Event{Type: EventDown, Time: since, Data: ev})
		}
		return
	}

	if prev == StateDown {
		p.log.Info("backend recovered", logx.String("addr", addr))
	} else {
		p.log.Debug("backend reachable", logx.String("addr", addr))
	}
	if p.bus != nil {
		p.bus.Publish(eventbus.Event{Type: EventUp, Time: since, Data: ev})
	}
}

// ---- sweep (optional cron-scheduled port-table scan) ----

func (p *Prober) startSweep(ctx context.Context) {
	p.mu.Lock()
	spec := strings.TrimSpace(p.cfg.Sweep)
	p.mu.Unlock()
	if spec == "" {
		return
	}

	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	sched, err := parser.Parse(spec)
	if err != nil {
		p.log.Warn("invalid probe.sweep spec; sweep disabled", logx.String("spec", spec), logx.Err(err))
		return
	}

	c := cron.New(cron.WithParser(parser))
	c.Schedule(sched, cron.FuncJob(func() { p.sweep(ctx) }))
	c.Start()

	p.mu.Lock()
	p.sweeper = c
	p.mu.Unlock()
	p.log.Debug("port-table sweep scheduled", logx.String("spec", spec))
}

func (p *Prober) stopSweep() {
	p.mu.Lock()
	c := p.sweeper
	p.sweeper = nil
	p.mu.Unlock()
	if c != nil {
		c.Stop()
	}
}

func (p *Prober) sweep(ctx context.Context) {
	table, err := listenTable(ctx)
	if err != nil {
		p.log.Debug("port-table sweep failed", logx.Err(err))
		return
	}

	p.mu.Lock()
	addr := p.cfg.Addr
	p.mu.Unlock()
	_, wantPort, _ := strings.Cut(addr, ":")

	bound := false
	sockets := 0
	for _, ports := range table {
		sockets += len(ports)
		for _, port := range ports {
			if port == wantPort {
				bound = true
			}
		}
	}
	p.log.Debug("port-table sweep",
		logx.Int("listening_sockets", sockets),
		logx.Int("pids", len(table)),
		logx.Bool("backend_port_bound", bound),
	)
}

func dialTCP(ctx context.Context, addr string, timeout time.Duration) error {
	d := net.Dialer{Timeout: timeout}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return err
	}
	return conn.Close()
}
