package gateway

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"portgate/internal/eventbus"
	"portgate/internal/notifier"
	"portgate/pkg/logx"
)

// EventUnreachable is published on the bus each time a request hits a dead
// backend and the diagnostic page is served instead.
const EventUnreachable = "gateway.unreachable"

// UnreachableEvent is the payload for EventUnreachable.
type UnreachableEvent struct {
	Backend string    `json:"backend"`
	Method  string    `json:"method"`
	Path    string    `json:"path"`
	Reason  string    `json:"reason"`
	At      time.Time `json:"at"`
}

// Config holds the gateway's runtime settings. Zero values pick safe
// defaults in Apply.
type Config struct {
	Listen            string
	BackendAddr       string
	AppName           string
	RetryDeadline     time.Duration
	ReadHeaderTimeout time.Duration
	Version           string
}

// Gateway reverse-proxies every request to the configured backend and
// serves the self-retrying unreachable page when the backend cannot be
// dialed. Config updates apply to in-flight instances without a restart.
type Gateway struct {
	mu    sync.Mutex
	cfg   Config
	log   logx.Logger
	bus   eventbus.Bus
	proxy *httputil.ReverseProxy
	srv   *http.Server
	ln    net.Listener

	pagesServed atomic.Uint64
	proxied     atomic.Uint64
}

// New builds a gateway. The bus may be nil when nothing consumes
// unreachable events (tests mostly).
func New(cfg Config, log logx.Logger, bus eventbus.Bus) *Gateway {
	g := &Gateway{
		log: log.With(logx.String("component", "gateway")),
		bus: bus,
	}
	g.proxy = &httputil.ReverseProxy{
		Rewrite:        g.rewrite,
		ModifyResponse: g.modifyResponse,
		ErrorHandler:   g.errorHandler,
	}
	g.Apply(cfg)
	return g
}

// Apply swaps the active config. Listen address changes need a restart and
// are ignored here; everything else takes effect on the next request.
func (g *Gateway) Apply(cfg Config) {
	if cfg.AppName == "" {
		cfg.AppName = "app"
	}
	if cfg.RetryDeadline <= 0 {
		cfg.RetryDeadline = notifier.DefaultDeadline
	}
	if cfg.ReadHeaderTimeout <= 0 {
		cfg.ReadHeaderTimeout = 10 * time.Second
	}
	g.mu.Lock()
	g.cfg = cfg
	g.mu.Unlock()
}

func (g *Gateway) snapshot() Config {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.cfg
}

// Handler exposes the proxy for serving and tests.
func (g *Gateway) Handler() http.Handler {
	return g.proxy
}

// Counters reports how many requests were proxied and how many hit the
// unreachable page since start.
func (g *Gateway) Counters() (proxied, pagesServed uint64) {
	return g.proxied.Load(), g.pagesServed.Load()
}

func (g *Gateway) rewrite(pr *httputil.ProxyRequest) {
	cfg := g.snapshot()
	target := &url.URL{Scheme: "http", Host: cfg.BackendAddr}
	pr.SetURL(target)
	pr.SetXForwarded()
	pr.Out.Host = pr.In.Host
}

func (g *Gateway) modifyResponse(resp *http.Response) error {
	resp.Header.Set("x-served-by", "gated")
	g.proxied.Add(1)
	return nil
}

func (g *Gateway) errorHandler(w http.ResponseWriter, r *http.Request, err error) {
	cfg := g.snapshot()

	// Client went away mid-proxy; nothing useful to serve.
	if errors.Is(err, context.Canceled) {
		w.WriteHeader(http.StatusBadGateway)
		return
	}

	g.pagesServed.Add(1)
	g.log.Debug("backend unreachable, serving retry page",
		logx.String("backend", cfg.BackendAddr),
		logx.String("path", r.URL.Path),
		logx.Err(err))

	if g.bus != nil {
		g.bus.Publish(eventbus.Event{Type: EventUnreachable, Data: UnreachableEvent{
			Backend: cfg.BackendAddr,
			Method:  r.Method,
			Path:    r.URL.Path,
			Reason:  err.Error(),
			At:      time.Now(),
		}})
	}

	port := 0
	if _, p, splitErr := net.SplitHostPort(cfg.BackendAddr); splitErr == nil {
		port, _ = strconv.Atoi(p)
	}
	if serveErr := serveUnreachable(w, pageData{
		AppName:    cfg.AppName,
		Port:       port,
		DeadlineMS: cfg.RetryDeadline.Milliseconds(),
		Version:    cfg.Version,
	}); serveErr != nil {
		g.log.Error("render unreachable page", logx.Err(serveErr))
	}
}

// Start binds the listen address and serves until Stop or a fatal accept
// error. It returns once the listener is bound, so callers can treat a
// nil error as "ready".
func (g *Gateway) Start() error {
	cfg := g.snapshot()
	ln, err := net.Listen("tcp", cfg.Listen)
	if err != nil {
		return err
	}
	g.mu.Lock()
	g.ln = ln
	g.srv = &http.Server{
		Handler:           g.proxy,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
	}
	srv := g.srv
	g.mu.Unlock()

	g.log.Info("gateway listening",
		logx.String("addr", ln.Addr().String()),
		logx.String("backend", cfg.BackendAddr))

	go func() {
		if serveErr := srv.Serve(ln); serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
			g.log.Error("gateway serve", logx.Err(serveErr))
		}
	}()
	return nil
}

// Addr returns the bound listen address, empty before Start.
func (g *Gateway) Addr() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.ln == nil {
		return ""
	}
	return g.ln.Addr().String()
}

// Stop drains in-flight requests until ctx expires.
func (g *Gateway) Stop(ctx context.Context) error {
	g.mu.Lock()
	srv := g.srv
	g.srv = nil
	g.ln = nil
	g.mu.Unlock()
	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}
