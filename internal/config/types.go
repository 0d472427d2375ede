package config

// Config is the full gated configuration.
//
// All durations are Go duration strings (e.g. "500ms", "10s", "1m").
type Config struct {
	Backend BackendConfig `json:"backend"`
	Gateway GatewayConfig `json:"gateway"`
	Probe   ProbeConfig   `json:"probe"`
	Logging LoggingConfig `json:"logging"`
	Pprof   PprofConfig   `json:"pprof,omitempty"`

	Alerts  *AlertsConfig  `json:"alerts,omitempty"`
	Storage *StorageConfig `json:"storage,omitempty"`
}

// BackendConfig identifies the upstream process traffic is forwarded to.
type BackendConfig struct {
	// Host defaults to "127.0.0.1". The gateway only fronts local processes.
	Host string `json:"host,omitempty"`
	Port int    `json:"port"`

	// PID optionally names the process expected to bind the port. When set,
	// the probe reports whether that pid is listening anywhere at all, which
	// distinguishes "wrong port" from "no process" in logs and alerts.
	PID int `json:"pid,omitempty"`
}

// GatewayConfig controls the public-facing proxy listener.
type GatewayConfig struct {
	Listen string `json:"listen"` // e.g. ":8080"

	// AppName is the noun used in the unreachable page title
	// ("We couldn't reach this <app_name>"). Default: "app".
	AppName string `json:"app_name,omitempty"`

	// RetryDeadline is the fixed delay before the unreachable page reloads
	// itself, and before each down-state re-probe. Default: "60s".
	RetryDeadline string `json:"retry_deadline,omitempty"`

	ReadHeaderTimeout string `json:"read_header_timeout,omitempty"` // default "5s"
}

// ProbeConfig controls backend reachability checks.
type ProbeConfig struct {
	// Interval is the up-state re-check cadence. Default: "5s".
	// Down-state pacing uses gateway.retry_deadline instead.
	Interval string `json:"interval,omitempty"`

	DialTimeout string `json:"dial_timeout,omitempty"` // default "1s"

	// RatePerSec bounds dial attempts so a flapping backend can't turn the
	// prober into a port hammer. Default: 4.
	RatePerSec int `json:"rate_per_sec,omitempty"`

	// Sweep optionally schedules a full listening-port table scan
	// (cron spec or @every descriptor), logged at debug.
	Sweep string `json:"sweep,omitempty"`
}

// AlertsConfig controls the async alert pipeline.
//
// If the whole section is omitted, alerting is disabled.
type AlertsConfig struct {
	Enabled         bool   `json:"enabled"`
	Workers         int    `json:"workers,omitempty"`
	QueueSize       int    `json:"queue_size,omitempty"`
	RatePerSec      int    `json:"rate_per_sec,omitempty"`
	RetryMax        int    `json:"retry_max,omitempty"`
	RetryBase       string `json:"retry_base,omitempty"`
	RetryMaxDelay   string `json:"retry_max_delay,omitempty"`
	DedupWindow     string `json:"dedup_window,omitempty"`
	DedupMaxEntries int    `json:"dedup_max_entries,omitempty"`
	PersistDedup    bool   `json:"persist_dedup,omitempty"`

	Webhooks []WebhookTarget      `json:"webhooks,omitempty"`
	Telegram *TelegramAlertConfig `json:"telegram,omitempty"`
}

// WebhookTarget is one webhook alert destination.
// Type selects the payload shape: "discord", "slack" or "generic".
type WebhookTarget struct {
	Type string `json:"type"`
	URL  string `json:"url"`
}

// TelegramAlertConfig is the optional Telegram alert channel.
type TelegramAlertConfig struct {
	Token    string `json:"token"`
	ChatID   int64  `json:"chat_id"`
	ThreadID int    `json:"thread_id,omitempty"`
}

// StorageConfig controls the optional outage history store.
//
// Example:
//
//	"storage": { "driver": "file", "path": "./gated_store" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
}

// PprofConfig controls the optional debug HTTP server (pprof + statusz).
//
// Security note:
//   - Prefer binding to localhost (e.g. "127.0.0.1:6060").
//   - If you bind to a non-loopback address, set a token or explicitly allow_insecure.
type PprofConfig struct {
	Enabled       bool   `json:"enabled"`
	Addr          string `json:"addr,omitempty"`   // default: "127.0.0.1:6060"
	Prefix        string `json:"prefix,omitempty"` // default: "/debug/pprof/"
	Token         string `json:"token,omitempty"`  // optional bearer token (do not log)
	AllowInsecure bool   `json:"allow_insecure,omitempty"`

	// Server timeouts (Go duration strings). WriteTimeout defaults to 0 (disabled)
	// so /profile (which can take 30s+) works reliably.
	ReadTimeout  string `json:"read_timeout,omitempty"`
	WriteTimeout string `json:"write_timeout,omitempty"`
	IdleTimeout  string `json:"idle_timeout,omitempty"`

	// Runtime profiling rates. Leave 0 to keep Go defaults.
	MutexProfileFraction int `json:"mutex_profile_fraction,omitempty"`
	BlockProfileRate     int `json:"block_profile_rate,omitempty"`
	MemProfileRate       int `json:"mem_profile_rate,omitempty"`
}

type LoggingConfig struct {
	Level   string         `json:"level"`
	Console bool           `json:"console"`
	File    LoggingFile    `json:"file"`
	Webhook LoggingWebhook `json:"webhook"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// LoggingWebhook mirrors logx.WebhookConfig: warn+ log lines POSTed as JSON,
// rate limited so a crash loop can't flood the receiver.
type LoggingWebhook struct {
	Enabled    bool   `json:"enabled"`
	URL        string `json:"url"`
	MinLevel   string `json:"min_level"`
	RatePerSec int    `json:"rate_per_sec"`
}
