package debughttp

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"portgate/pkg/logx"
)

func waitForAddr(t *testing.T, s *Service) string {
	t.Helper()
	deadline := time.After(3 * time.Second)
	for {
		if addr := s.Addr(); addr != "" {
			return addr
		}
		select {
		case <-deadline:
			t.Fatal("server never bound")
		case <-time.After(20 * time.Millisecond):
		}
	}
}

func TestStatuszServesSnapshot(t *testing.T) {
	status := func(ctx context.Context) any {
		return map[string]string{"backend": "down"}
	}
	s := New(Config{Enabled: true, Addr: "127.0.0.1:0"}, logx.Nop(), status)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Start(ctx)
	t.Cleanup(func() { s.Stop(context.Background()) })

	addr := waitForAddr(t, s)
	resp, err := http.Get("http://" + addr + "/statusz")
	if err != nil {
		t.Fatalf("get statusz: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}

	var env struct {
		PID    int            `json:"pid"`
		Status map[string]any `json:"status"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if env.PID == 0 {
		t.Fatal("pid missing")
	}
	if env.Status["backend"] != "down" {
		t.Fatalf("status payload = %v", env.Status)
	}
}

func TestTokenGuardsEndpoints(t *testing.T) {
	s := New(Config{Enabled: true, Addr: "127.0.0.1:0", Token: "s3cret"}, logx.Nop(), nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Start(ctx)
	t.Cleanup(func() { s.Stop(context.Background()) })

	addr := waitForAddr(t, s)

	resp, err := http.Get("http://" + addr + "/healthz")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("unauthenticated status = %d", resp.StatusCode)
	}

	req, _ := http.NewRequest(http.MethodGet, "http://"+addr+"/healthz", nil)
	req.Header.Set("Authorization", "Bearer s3cret")
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("authed get: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("authenticated status = %d", resp.StatusCode)
	}
}

func TestDisabledDoesNotServe(t *testing.T) {
	s := New(Config{Enabled: false, Addr: "127.0.0.1:0"}, logx.Nop(), nil)
	s.Start(context.Background())
	t.Cleanup(func() { s.Stop(context.Background()) })

	time.Sleep(50 * time.Millisecond)
	if addr := s.Addr(); addr != "" {
		t.Fatalf("disabled server bound %s", addr)
	}
}

func TestNormalizePrefix(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"":             "/debug/pprof/",
		"debug/pprof":  "/debug/pprof/",
		"/profilez":    "/profilez/",
		" /profilez/ ": "/profilez/",
	}
	for in, want := range cases {
		if got := normalizePrefix(in); got != want {
			t.Fatalf("normalizePrefix(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestIsLoopbackAddr(t *testing.T) {
	t.Parallel()

	cases := map[string]bool{
		"127.0.0.1:6060": true,
		"localhost:6060": true,
		"[::1]:6060":     true,
		"0.0.0.0:6060":   false,
		":6060":          false,
		"10.1.2.3:6060":  false,
		"bogus":          false,
	}
	for in, want := range cases {
		if got := isLoopbackAddr(in); got != want {
			t.Fatalf("isLoopbackAddr(%q) = %v, want %v", in, got, want)
		}
	}
}
