package gateway

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"portgate/internal/eventbus"
	"portgate/pkg/logx"
)

func TestProxiesToLiveBackend(t *testing.T) {
	t.Parallel()

	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Upstream", "yes")
		_, _ = io.WriteString(w, "hello from backend")
	}))
	defer backend.Close()

	u, err := url.Parse(backend.URL)
	if err != nil {
		t.Fatalf("parse backend url: %v", err)
	}

	g := New(Config{BackendAddr: u.Host, AppName: "app"}, logx.Nop(), nil)
	rec := httptest.NewRecorder()
	g.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/greet", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if got := rec.Body.String(); got != "hello from backend" {
		t.Fatalf("body = %q", got)
	}
	if rec.Header().Get("X-Upstream") != "yes" {
		t.Fatal("upstream header not forwarded")
	}
	if rec.Header().Get("x-served-by") != "gated" {
		t.Fatal("x-served-by header missing")
	}
	proxied, pages := g.Counters()
	if proxied != 1 || pages != 0 {
		t.Fatalf("counters = (%d, %d), want (1, 0)", proxied, pages)
	}
}

func TestServesRetryPageWhenBackendDown(t *testing.T) {
	t.Parallel()

	bus := eventbus.New()
	events, unsub := bus.Subscribe(4)
	defer unsub()

	// Port 1 is effectively never bound.
	g := New(Config{
		BackendAddr:   "127.0.0.1:1",
		AppName:       "app",
		RetryDeadline: 45 * time.Second,
	}, logx.Nop(), bus)

	rec := httptest.NewRecorder()
	g.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/dashboard", nil))

	if rec.Code != http.StatusBadGateway {
		t.Fatalf("status = %d, want 502", rec.Code)
	}
	body := rec.Body.String()
	if !strings.Contains(body, "We couldn't reach this app") {
		t.Fatalf("page title missing, body:\n%s", body)
	}
	if !strings.Contains(body, "listening on port 1") {
		t.Fatal("port hint missing")
	}
	if !strings.Contains(body, "window.location.reload(); }, 45000") {
		t.Fatal("reload script missing or wrong deadline")
	}
	if cc := rec.Header().Get("Cache-Control"); !strings.Contains(cc, "no-store") {
		t.Fatalf("Cache-Control = %q, want no-store", cc)
	}
	if ra := rec.Header().Get("Retry-After"); ra != "45" {
		t.Fatalf("Retry-After = %q, want 45", ra)
	}

	select {
	case ev := <-events:
		if ev.Type != EventUnreachable {
			t.Fatalf("event type = %q", ev.Type)
		}
		data, ok := ev.Data.(UnreachableEvent)
		if !ok {
			t.Fatalf("event data type %T", ev.Data)
		}
		if data.Path != "/dashboard" {
			t.Fatalf("event path = %q", data.Path)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no unreachable event published")
	}

	if _, pages := g.Counters(); pages != 1 {
		t.Fatalf("pagesServed = %d, want 1", pages)
	}
}

func TestApplyDefaults(t *testing.T) {
	t.Parallel()

	g := New(Config{BackendAddr: "127.0.0.1:3000"}, logx.Nop(), nil)
	cfg := g.snapshot()
	if cfg.AppName != "app" {
		t.Fatalf("AppName = %q", cfg.AppName)
	}
	if cfg.RetryDeadline != 60*time.Second {
		t.Fatalf("RetryDeadline = %v", cfg.RetryDeadline)
	}
	if cfg.ReadHeaderTimeout != 10*time.Second {
		t.Fatalf("ReadHeaderTimeout = %v", cfg.ReadHeaderTimeout)
	}
}

func TestStartStop(t *testing.T) {
	t.Parallel()

	g := New(Config{Listen: "127.0.0.1:0", BackendAddr: "127.0.0.1:1"}, logx.Nop(), nil)
	if err := g.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	addr := g.Addr()
	if addr == "" {
		t.Fatal("no bound address after Start")
	}

	resp, err := http.Get("http://" + addr + "/")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadGateway {
		t.Fatalf("status = %d, want 502", resp.StatusCode)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := g.Stop(ctx); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if g.Addr() != "" {
		t.Fatal("address survived Stop")
	}
}
