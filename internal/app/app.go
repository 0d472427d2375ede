package app

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"portgate/internal/alert"
	"portgate/internal/config"
	"portgate/internal/eventbus"
	"portgate/internal/gateway"
	"portgate/internal/observability/debughttp"
	"portgate/internal/probe"
	rtsup "portgate/internal/runtime/supervisor"
	"portgate/internal/storage"
	"portgate/pkg/logx"
	"portgate/pkg/sdnotify"
)

// App wires the gateway runtime together: config manager, logging, event
// bus, prober, alert pipeline, outage store and the public proxy listener.
type App struct {
	cfgPath string

	cfgm *config.Manager
	sup  *rtsup.Supervisor

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store storage.Store

	gw     *gateway.Gateway
	prober *probe.Prober
	alerts *alert.Service
	debug  *debughttp.Service

	// Outage currently in progress, if any. Closed and persisted on
	// recovery or on shutdown.
	omu         sync.Mutex
	openOutage  *storage.OutageEntry
	pagesAtDown uint64
}

func NewApp(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	logSvc, log := logx.New(mapLoggingConfig(cfg))
	log = log.With(logx.String("comp", "app"))

	bus := eventbus.New()

	// Storage (optional)
	var store storage.Store
	if sc, enabled, err := mapStorageConfig(cfg); err != nil {
		return nil, err
	} else if enabled {
		st, err := storage.Open(sc, log.With(logx.String("comp", "storage")))
		if err != nil {
			return nil, err
		}
		store = st
		log.Info("storage enabled", logx.String("driver", sc.Driver))
	}

	gwCfg, err := mapGatewayConfig(cfg)
	if err != nil {
		return nil, err
	}
	gw := gateway.New(gwCfg, log, bus)

	probeCfg, err := mapProbeConfig(cfg)
	if err != nil {
		return nil, err
	}
	prober := probe.New(probeCfg, log, bus)

	alertCfg, channels, err := mapAlertConfig(cfg)
	if err != nil {
		return nil, err
	}
	alerts, err := alert.New(alertCfg, channels, log, bus)
	if err != nil {
		return nil, err
	}
	if store != nil {
		alerts.UseDedupStore(store)
	}

	debugCfg, err := mapDebugConfig(cfg)
	if err != nil {
		return nil, err
	}

	a := &App{
		cfgPath: cfgPath,
		cfgm:    cfgm,
		log:     log,
		logs:    logSvc,
		bus:     bus,
		store:   store,
		gw:      gw,
		prober:  prober,
		alerts:  alerts,
	}
	a.debug = debughttp.New(debugCfg, log.With(logx.String("comp", "debughttp")), a.statusSnapshot)
	return a, nil
}

// Done is closed when the app supervisor context is canceled (fatal error or Stop()).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor (if any).
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = rtsup.NewSupervisor(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(true))

	// Transactional config reload: validate before commit/publish.
	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(c context.Context, cfg *config.Config) error {
		if _, err := mapGatewayConfig(cfg); err != nil {
			return err
		}
		if _, err := mapProbeConfig(cfg); err != nil {
			return err
		}
		if _, _, err := mapAlertConfig(cfg); err != nil {
			return err
		}
		if _, _, err := mapStorageConfig(cfg); err != nil {
			return err
		}
		if _, err := mapDebugConfig(cfg); err != nil {
			return err
		}
		return nil
	})

	// Bind the public listener first: if the listen address is taken there
	// is nothing to supervise.
	if err := a.gw.Start(); err != nil {
		return fmt.Errorf("gateway listen: %w", err)
	}

	a.sup.Go("probe.run", func(c context.Context) error {
		return a.prober.Run(c)
	})

	if a.alerts.Enabled() {
		a.alerts.Start(a.sup.Context())
	}
	if a.debug.Enabled() {
		a.debug.Start(a.sup.Context())
	}

	a.sup.Go0("events.route", a.routeEvents)
	a.sup.Go0("config.reload", a.reloadLoop)
	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	sdnotify.Ready()
	sdnotify.Status("serving " + a.gw.Addr())
	a.log.Info("gateway started", logx.String("listen", a.gw.Addr()))
	return nil
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	sdnotify.Stopping()
	a.log.Info("stopping", logx.String("reason", string(reason)))

	// Cancel the run context first so background loops start unwinding.
	a.sup.Cancel()

	// Run a shutdown step with an upper bound so one component can't stall
	// the whole stop.
	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()
		a.log.Debug("stop step begin", logx.String("name", name), logx.Duration("max", max))

		stepCtx := ctx
		var cancel context.CancelFunc
		if max > 0 {
			// respect the caller's deadline; never extend it
			if dl, ok := ctx.Deadline(); ok {
				rem := time.Until(dl)
				if rem <= 0 {
					max = 0
				} else if rem < max {
					max = rem
				}
			}
			if max > 0 {
				stepCtx, cancel = context.WithTimeout(ctx, max)
				defer cancel()
			}
		}

		done := make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- fmt.Errorf("panic in stop step %s: %v", name, r)
				}
			}()
			done <- fn(stepCtx)
		}()

		select {
		case err := <-done:
			if err != nil {
				a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			}
			a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached (continuing)",
				logx.String("name", name),
				logx.Duration("elapsed", time.Since(start)))
		}
	}

	step("gateway", 3*time.Second, func(c context.Context) error { return a.gw.Stop(c) })
	step("alerts", 2*time.Second, func(c context.Context) error { a.alerts.Stop(c); return nil })
	step("debughttp", 1*time.Second, func(c context.Context) error { a.debug.Stop(c); return nil })
	step("storage", 1*time.Second, func(c context.Context) error {
		if a.store == nil {
			return nil
		}
		// Persist a still-open outage so the episode isn't lost.
		a.omu.Lock()
		open := a.openOutage
		pagesAtDown := a.pagesAtDown
		a.openOutage = nil
		a.omu.Unlock()
		if open != nil {
			_, pages := a.gw.Counters()
			open.PagesServed = pages - pagesAtDown
			if err := a.store.AppendOutage(c, *open); err != nil {
				a.log.Warn("persist open outage", logx.Err(err))
			}
		}
		return a.store.Close()
	})
	step("supervisor", 2*time.Second, func(c context.Context) error { return a.sup.Wait(c) })

	a.log.Info("stopped")
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return nil
}

// routeEvents turns probe transitions into alerts and outage records.
func (a *App) routeEvents(ctx context.Context) {
	events, unsub := a.bus.Subscribe(128)
	defer unsub()
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-events:
			if !ok {
				return
			}
			switch e.Type {
			case probe.EventDown:
				a.onBackendDown(ctx, e)
			case probe.EventUp:
				a.onBackendUp(ctx, e)
			default:
				// Keep this debug-level; unreachable-page and alert delivery
				// events are frequent during an outage.
				a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
			}
		}
	}
}

func (a *App) onBackendDown(ctx context.Context, e eventbus.Event) {
	ev, ok := e.Data.(probe.StateEvent)
	if !ok {
		return
	}

	_, pages := a.gw.Counters()
	a.omu.Lock()
	a.openOutage = &storage.OutageEntry{
		Backend:   ev.Addr,
		StartedAt: ev.Since,
		Reason:    ev.Reason,
	}
	a.pagesAtDown = pages
	a.omu.Unlock()

	text := fmt.Sprintf("Backend %s is unreachable: %s", ev.Addr, ev.Reason)
	if len(ev.PidPorts) > 0 {
		text += fmt.Sprintf(" (expected process listens on %s)", strings.Join(ev.PidPorts, ", "))
	}
	a.notifyAlert(ctx, alert.Message{
		Severity: alert.SeverityCritical,
		Title:    "backend down",
		Text:     text,
		At:       e.Time,
	})
}

func (a *App) onBackendUp(ctx context.Context, e eventbus.Event) {
	ev, ok := e.Data.(probe.StateEvent)
	if !ok {
		return
	}

	a.omu.Lock()
	open := a.openOutage
	a.openOutage = nil
	pagesAtDown := a.pagesAtDown
	a.omu.Unlock()

	// First "up" after start has no outage to close.
	if open == nil {
		return
	}
	open.RecoveredAt = ev.Since
	snap := a.prober.Snapshot()
	open.Checks = int(snap.Checks)
	_, pages := a.gw.Counters()
	open.PagesServed = pages - pagesAtDown

	if a.store != nil {
		if err := a.store.AppendOutage(ctx, *open); err != nil {
			a.log.Warn("persist outage", logx.Err(err))
		}
	}

	a.notifyAlert(ctx, alert.Message{
		Severity: alert.SeverityInfo,
		Title:    "backend recovered",
		Text: fmt.Sprintf("Backend %s is back after %s (%d retry pages served)",
			ev.Addr, open.Duration().Truncate(time.Second), open.PagesServed),
		At: e.Time,
	})
}

func (a *App) notifyAlert(ctx context.Context, m alert.Message) {
	if !a.alerts.Enabled() {
		return
	}
	if err := a.alerts.Notify(ctx, m); err != nil {
		a.log.Debug("alert enqueue failed", logx.Err(err))
	}
}

// statusSnapshot feeds /statusz.
func (a *App) statusSnapshot(ctx context.Context) any {
	proxied, pages := a.gw.Counters()
	st := map[string]any{
		"probe": a.prober.Snapshot(),
		"gateway": map[string]any{
			"listen":       a.gw.Addr(),
			"proxied":      proxied,
			"pages_served": pages,
		},
		"alerts": a.alerts.Snapshot(),
	}
	if a.sup != nil {
		st["supervisor"] = a.sup.Snapshot()
	}
	if a.store != nil {
		if recent, err := a.store.RecentOutages(ctx, 20); err == nil {
			st["outages"] = recent
		}
	}
	return st
}

// reloadLoop applies validated config changes to running components.
func (a *App) reloadLoop(ctx context.Context) {
	sub := a.cfgm.Updates()

	lastApplied := a.cfgm.Get()
	for {
		select {
		case <-ctx.Done():
			return
		case newCfg := <-sub:
			if newCfg == nil {
				continue
			}
			// Coalesce bursts: keep only the latest config in the channel.
			for {
				select {
				case newer := <-sub:
					if newer != nil {
						newCfg = newer
					}
				default:
					goto APPLY
				}
			}
		APPLY:
			prev := lastApplied
			sections, attrs := config.SummarizeChange(prev, newCfg)
			if len(sections) == 0 {
				a.log.Debug("config reload received, but no effective changes detected")
				lastApplied = newCfg
				continue
			}
			lastApplied = newCfg

			for _, s := range sections {
				if s == "storage" {
					a.log.Warn("storage config changed; restart required for changes to take effect")
				}
			}

			// Logging first, so later reload logs obey the new level.
			a.logs.Apply(mapLoggingConfig(newCfg))

			if gwCfg, err := mapGatewayConfig(newCfg); err != nil {
				a.log.Warn("invalid gateway config; keeping previous", logx.Err(err))
			} else {
				if prev != nil && strings.TrimSpace(prev.Gateway.Listen) != strings.TrimSpace(newCfg.Gateway.Listen) {
					a.log.Warn("gateway.listen changed; restart required for the new address to take effect")
				}
				a.gw.Apply(gwCfg)
			}

			if pCfg, err := mapProbeConfig(newCfg); err != nil {
				a.log.Warn("invalid probe config; keeping previous", logx.Err(err))
			} else {
				a.prober.Apply(pCfg)
			}

			if aCfg, channels, err := mapAlertConfig(newCfg); err != nil {
				a.log.Warn("invalid alerts config; keeping previous", logx.Err(err))
			} else {
				prevEnabled := a.alerts.Enabled()
				a.alerts.Apply(aCfg)
				if err := a.alerts.SetChannels(channels); err != nil {
					a.log.Warn("invalid alert channel; keeping previous set", logx.Err(err))
				}
				if prevEnabled && !aCfg.Enabled {
					a.log.Info("alerting disabled via config")
					stopCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
					a.alerts.Stop(stopCtx)
					cancel()
				} else if !prevEnabled && aCfg.Enabled {
					a.log.Info("alerting enabled via config")
					a.alerts.Start(ctx)
				}
			}

			if dCfg, err := mapDebugConfig(newCfg); err != nil {
				a.log.Warn("invalid pprof config; keeping previous", logx.Err(err))
			} else {
				a.debug.Reconfigure(ctx, dCfg)
			}

			fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
			a.log.Info("config reloaded", fields...)
		}
	}
}
