package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadYAML(t *testing.T) {
	t.Parallel()

	path := writeConfig(t, "gated.yaml", `
backend:
  port: 3000
gateway:
  listen: ":8080"
  retry_deadline: "60s"
probe:
  interval: "5s"
logging:
  level: info
  console: true
  file:
    enabled: false
    path: ""
  webhook:
    enabled: false
    url: ""
    min_level: warn
    rate_per_sec: 1
`)

	m := NewManager(path)
	cfg, err := m.Load()
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if cfg.Backend.Port != 3000 {
		t.Fatalf("backend.port = %d, want 3000", cfg.Backend.Port)
	}
	if cfg.Gateway.Listen != ":8080" {
		t.Fatalf("gateway.listen = %q", cfg.Gateway.Listen)
	}
	if got := m.Get(); got != cfg {
		t.Fatal("Get did not return the committed config")
	}

	d, err := ParseDurationOrDefault("gateway.retry_deadline", cfg.Gateway.RetryDeadline, time.Minute)
	if err != nil {
		t.Fatalf("retry_deadline: %v", err)
	}
	if d != time.Minute {
		t.Fatalf("retry_deadline = %v, want 1m", d)
	}
}

func TestLoadRejectsUnknownFields(t *testing.T) {
	t.Parallel()

	path := writeConfig(t, "gated.json", `{"backend":{"port":3000},"gateway":{"listen":":8080"},"probe":{},"logging":{"level":"info","console":true,"file":{"enabled":false,"path":""},"webhook":{"enabled":false,"url":"","min_level":"","rate_per_sec":0}},"no_such_section":{}}`)

	if _, err := NewManager(path).Load(); err == nil {
		t.Fatal("expected error for unknown field")
	}
}

func TestLoadRejectsTrailingData(t *testing.T) {
	t.Parallel()

	path := writeConfig(t, "gated.json", `{"backend":{"port":1},"gateway":{"listen":":0"},"probe":{},"logging":{"level":"","console":false,"file":{"enabled":false,"path":""},"webhook":{"enabled":false,"url":"","min_level":"","rate_per_sec":0}}}{}`)

	if _, err := NewManager(path).Load(); err == nil {
		t.Fatal("expected error for trailing data")
	}
}

func TestParseDurationOrDefault(t *testing.T) {
	t.Parallel()

	if d, err := ParseDurationOrDefault("x", "90s", time.Second); err != nil || d != 90*time.Second {
		t.Fatalf("got (%v, %v)", d, err)
	}
	if d, err := ParseDurationOrDefault("x", "  ", 7*time.Second); err != nil || d != 7*time.Second {
		t.Fatalf("blank: got (%v, %v)", d, err)
	}
	if _, err := ParseDurationOrDefault("x", "soon", 0); err == nil {
		t.Fatal("expected error for invalid duration")
	}
	if _, err := ParseDurationOrDefault("x", "-5s", 0); err == nil {
		t.Fatal("expected error for negative duration")
	}
}

func TestUpdatesKeepsNewestWhenConsumerLags(t *testing.T) {
	t.Parallel()

	m := NewManager("unused.json")
	for port := 1; port <= 10; port++ {
		m.push(&Config{Backend: BackendConfig{Port: port}})
	}

	var last *Config
	for {
		select {
		case cfg := <-m.Updates():
			last = cfg
			continue
		default:
		}
		break
	}
	if last == nil || last.Backend.Port != 10 {
		t.Fatalf("newest snapshot lost: %+v", last)
	}
}

func TestSummarizeChange(t *testing.T) {
	t.Parallel()

	oldCfg := &Config{Backend: BackendConfig{Port: 3000}, Gateway: GatewayConfig{Listen: ":8080"}}
	newCfg := &Config{Backend: BackendConfig{Port: 3001}, Gateway: GatewayConfig{Listen: ":8080"}}

	sections, _ := SummarizeChange(oldCfg, newCfg)
	if len(sections) != 1 || sections[0] != "backend" {
		t.Fatalf("sections = %v, want [backend]", sections)
	}

	sections, _ = SummarizeChange(newCfg, newCfg)
	if len(sections) != 0 {
		t.Fatalf("sections = %v, want none", sections)
	}
}
