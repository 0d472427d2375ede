package app

import (
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"portgate/internal/alert"
	"portgate/internal/config"
	"portgate/internal/gateway"
	"portgate/internal/notifier"
	"portgate/internal/observability/debughttp"
	"portgate/internal/probe"
	"portgate/internal/storage"
	"portgate/pkg/logx"
)

// Version is stamped at build time via -ldflags.
var Version = "dev"

func backendAddr(cfg *config.Config) (string, error) {
	host := strings.TrimSpace(cfg.Backend.Host)
	if host == "" {
		host = "127.0.0.1"
	}
	if cfg.Backend.Port <= 0 || cfg.Backend.Port > 65535 {
		return "", fmt.Errorf("backend.port must be 1..65535, got %d", cfg.Backend.Port)
	}
	return net.JoinHostPort(host, strconv.Itoa(cfg.Backend.Port)), nil
}

func mapGatewayConfig(cfg *config.Config) (gateway.Config, error) {
	addr, err := backendAddr(cfg)
	if err != nil {
		return gateway.Config{}, err
	}
	if strings.TrimSpace(cfg.Gateway.Listen) == "" {
		return gateway.Config{}, fmt.Errorf("gateway.listen is required")
	}
	deadline, err := config.ParseDurationOrDefault("gateway.retry_deadline", cfg.Gateway.RetryDeadline, notifier.DefaultDeadline)
	if err != nil {
		return gateway.Config{}, err
	}
	if deadline <= 0 {
		return gateway.Config{}, fmt.Errorf("gateway.retry_deadline must be positive")
	}
	rht, err := config.ParseDurationOrDefault("gateway.read_header_timeout", cfg.Gateway.ReadHeaderTimeout, 5*time.Second)
	if err != nil {
		return gateway.Config{}, err
	}
	return gateway.Config{
		Listen:            cfg.Gateway.Listen,
		BackendAddr:       addr,
		AppName:           cfg.Gateway.AppName,
		RetryDeadline:     deadline,
		ReadHeaderTimeout: rht,
		Version:           Version,
	}, nil
}

func mapProbeConfig(cfg *config.Config) (probe.Config, error) {
	addr, err := backendAddr(cfg)
	if err != nil {
		return probe.Config{}, err
	}
	interval, err := config.ParseDurationOrDefault("probe.interval", cfg.Probe.Interval, 5*time.Second)
	if err != nil {
		return probe.Config{}, err
	}
	dialTimeout, err := config.ParseDurationOrDefault("probe.dial_timeout", cfg.Probe.DialTimeout, time.Second)
	if err != nil {
		return probe.Config{}, err
	}
	deadline, err := config.ParseDurationOrDefault("gateway.retry_deadline", cfg.Gateway.RetryDeadline, notifier.DefaultDeadline)
	if err != nil {
		return probe.Config{}, err
	}
	return probe.Config{
		Addr:          addr,
		PID:           cfg.Backend.PID,
		Interval:      interval,
		DialTimeout:   dialTimeout,
		RetryDeadline: deadline,
		RatePerSec:    cfg.Probe.RatePerSec,
		Sweep:         cfg.Probe.Sweep,
	}, nil
}

func mapAlertConfig(cfg *config.Config) (alert.Config, []alert.Channel, error) {
	if cfg.Alerts == nil {
		return alert.Config{}, nil, nil
	}
	a := cfg.Alerts

	retryBase, err := config.ParseDurationOrDefault("alerts.retry_base", a.RetryBase, 500*time.Millisecond)
	if err != nil {
		return alert.Config{}, nil, err
	}
	retryMaxDelay, err := config.ParseDurationOrDefault("alerts.retry_max_delay", a.RetryMaxDelay, 10*time.Second)
	if err != nil {
		return alert.Config{}, nil, err
	}
	dedupWindow, err := config.ParseDurationOrDefault("alerts.dedup_window", a.DedupWindow, 0)
	if err != nil {
		return alert.Config{}, nil, err
	}

	var channels []alert.Channel
	for i, wh := range a.Webhooks {
		if strings.TrimSpace(wh.URL) == "" {
			return alert.Config{}, nil, fmt.Errorf("alerts.webhooks[%d].url is required", i)
		}
		channels = append(channels, alert.NewWebhook(strings.ToLower(strings.TrimSpace(wh.Type)), wh.URL))
	}
	if a.Telegram != nil {
		channels = append(channels, alert.NewTelegram(a.Telegram.Token, a.Telegram.ChatID, a.Telegram.ThreadID))
	}

	return alert.Config{
		Enabled:         a.Enabled,
		Workers:         a.Workers,
		QueueSize:       a.QueueSize,
		RatePerSec:      a.RatePerSec,
		RetryMax:        a.RetryMax,
		RetryBase:       retryBase,
		RetryMaxDelay:   retryMaxDelay,
		DedupWindow:     dedupWindow,
		DedupMaxEntries: a.DedupMaxEntries,
		PersistDedup:    a.PersistDedup,
	}, channels, nil
}

func mapStorageConfig(cfg *config.Config) (storage.Config, bool, error) {
	if cfg == nil || cfg.Storage == nil {
		return storage.Config{}, false, nil
	}
	sc := cfg.Storage
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	if driver == "" || driver == "none" {
		return storage.Config{}, false, nil
	}
	path := strings.TrimSpace(sc.Path)

	switch driver {
	case "file":
		return storage.Config{Driver: "file", Path: path}, true, nil
	case "sqlite", "sqlite3":
		if path == "" {
			return storage.Config{}, false, fmt.Errorf("storage.path is required when storage.driver=sqlite")
		}
		busy, err := config.ParseDurationOrDefault("storage.busy_timeout", sc.BusyTimeout, time.Second)
		if err != nil {
			return storage.Config{}, false, err
		}
		return storage.Config{Driver: driver, Path: path, BusyTimeout: busy}, true, nil
	default:
		return storage.Config{}, false, fmt.Errorf("unknown storage.driver: %s", sc.Driver)
	}
}

func mapDebugConfig(cfg *config.Config) (debughttp.Config, error) {
	p := cfg.Pprof

	readTimeout, err := config.ParseDurationOrDefault("pprof.read_timeout", p.ReadTimeout, 5*time.Second)
	if err != nil {
		return debughttp.Config{}, err
	}
	// WriteTimeout defaults to 0: /profile can legitimately take 30s+.
	writeTimeout, err := config.ParseDurationOrDefault("pprof.write_timeout", p.WriteTimeout, 0)
	if err != nil {
		return debughttp.Config{}, err
	}
	idleTimeout, err := config.ParseDurationOrDefault("pprof.idle_timeout", p.IdleTimeout, time.Minute)
	if err != nil {
		return debughttp.Config{}, err
	}
	if p.MutexProfileFraction < 0 || p.BlockProfileRate < 0 || p.MemProfileRate < 0 {
		return debughttp.Config{}, fmt.Errorf("pprof profiling rates must be >= 0")
	}

	return debughttp.Config{
		Enabled:              p.Enabled,
		Addr:                 p.Addr,
		Prefix:               p.Prefix,
		Token:                p.Token,
		AllowInsecure:        p.AllowInsecure,
		ReadTimeout:          readTimeout,
		WriteTimeout:         writeTimeout,
		IdleTimeout:          idleTimeout,
		MutexProfileFraction: p.MutexProfileFraction,
		BlockProfileRate:     p.BlockProfileRate,
		MemProfileRate:       p.MemProfileRate,
	}, nil
}

func mapLoggingConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
		Webhook: logx.WebhookConfig{
			Enabled:    cfg.Logging.Webhook.Enabled,
			URL:        cfg.Logging.Webhook.URL,
			MinLevel:   cfg.Logging.Webhook.MinLevel,
			RatePerSec: cfg.Logging.Webhook.RatePerSec,
		},
	}
}
