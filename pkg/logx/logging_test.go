package logx

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestParseLevel(t *testing.T) {
	t.Parallel()

	cases := map[string]zerolog.Level{
		"trace":   zerolog.TraceLevel,
		"DEBUG":   zerolog.DebugLevel,
		" info ":  zerolog.InfoLevel,
		"warning": zerolog.WarnLevel,
		"ERROR":   zerolog.ErrorLevel,
		"bogus":   zerolog.InfoLevel,
		"":        zerolog.InfoLevel,
	}
	for in, want := range cases {
		if got := parseLevel(in, zerolog.InfoLevel); got != want {
			t.Fatalf("parseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestTruncate(t *testing.T) {
	t.Parallel()

	if got := truncate("short", 100); got != "short" {
		t.Fatalf("got %q", got)
	}
	long := strings.Repeat("x", 50)
	got := truncate(long, 20)
	if len(got) != 20 || !strings.HasSuffix(got, "...") {
		t.Fatalf("got %q (len %d)", got, len(got))
	}
	if got := truncate(long, 5); got != "xxxxx" {
		t.Fatalf("tiny cap got %q", got)
	}
}

func TestFormatWebhookJSON(t *testing.T) {
	t.Parallel()

	line := `{"level":"warn","time":"2024-01-01T00:00:00Z","comp":"probe","message":"backend unreachable"}`
	out := formatWebhookJSON([]byte(line))

	var payload map[string]any
	if err := json.Unmarshal([]byte(out), &payload); err != nil {
		t.Fatalf("output not JSON: %v\n%s", err, out)
	}
	if payload["level"] != "WARN" {
		t.Fatalf("level = %v", payload["level"])
	}
	if payload["message"] != "backend unreachable" {
		t.Fatalf("message = %v", payload["message"])
	}
	fields, ok := payload["fields"].(map[string]any)
	if !ok || fields["comp"] != "probe" {
		t.Fatalf("fields = %v", payload["fields"])
	}
	if _, hasTime := fields["time"]; hasTime {
		t.Fatal("time leaked into fields")
	}
}

func TestFormatWebhookJSONNonJSON(t *testing.T) {
	t.Parallel()

	out := formatWebhookJSON([]byte("plain text line"))
	var payload map[string]string
	if err := json.Unmarshal([]byte(out), &payload); err != nil {
		t.Fatalf("output not JSON: %v", err)
	}
	if payload["message"] != "plain text line" {
		t.Fatalf("message = %q", payload["message"])
	}
}

func TestLoggerWithFields(t *testing.T) {
	t.Parallel()

	log := Nop().With(String("comp", "test"))
	if log.IsZero() {
		t.Fatal("logger with fields reported zero")
	}
	// Must not panic even with a nop sink.
	log.Info("hello", Int("n", 1), Err(nil))
}
