package config

import (
	"reflect"
	"strings"

	"portgate/pkg/logx"
)

// SummarizeChange returns (1) a compact list of changed sections and
// (2) safe structured attrs for logging (never includes secrets like tokens
// or full webhook URLs).
func SummarizeChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 6)
	attrs := make([]logx.Field, 0, 20)

	// Backend
	if strings.TrimSpace(oldCfg.Backend.Host) != strings.TrimSpace(newCfg.Backend.Host) ||
		oldCfg.Backend.Port != newCfg.Backend.Port ||
		oldCfg.Backend.PID != newCfg.Backend.PID {
		changed = append(changed, "backend")
		attrs = append(attrs,
			logx.String("backend.host", strings.TrimSpace(newCfg.Backend.Host)),
			logx.Int("backend.port", newCfg.Backend.Port),
			logx.Int("backend.pid", newCfg.Backend.PID),
		)
	}

	// Gateway
	if strings.TrimSpace(oldCfg.Gateway.Listen) != strings.TrimSpace(newCfg.Gateway.Listen) ||
		strings.TrimSpace(oldCfg.Gateway.AppName) != strings.TrimSpace(newCfg.Gateway.AppName) ||
		strings.TrimSpace(oldCfg.Gateway.RetryDeadline) != strings.TrimSpace(newCfg.Gateway.RetryDeadline) ||
		strings.TrimSpace(oldCfg.Gateway.ReadHeaderTimeout) != strings.TrimSpace(newCfg.Gateway.ReadHeaderTimeout) {
		changed = append(changed, "gateway")
		attrs = append(attrs,
			logx.String("gateway.listen", strings.TrimSpace(newCfg.Gateway.Listen)),
			logx.String("gateway.retry_deadline", strings.TrimSpace(newCfg.Gateway.RetryDeadline)),
		)
	}

	// Probe
	if strings.TrimSpace(oldCfg.Probe.Interval) != strings.TrimSpace(newCfg.Probe.Interval) ||
		strings.TrimSpace(oldCfg.Probe.DialTimeout) != strings.TrimSpace(newCfg.Probe.DialTimeout) ||
		oldCfg.Probe.RatePerSec != newCfg.Probe.RatePerSec ||
		strings.TrimSpace(oldCfg.Probe.Sweep) != strings.TrimSpace(newCfg.Probe.Sweep) {
		changed = append(changed, "probe")
		attrs = append(attrs,
			logx.String("probe.interval", strings.TrimSpace(newCfg.Probe.Interval)),
			logx.String("probe.dial_timeout", strings.TrimSpace(newCfg.Probe.DialTimeout)),
			logx.Int("probe.rate_per_sec", newCfg.Probe.RatePerSec),
			logx.Bool("probe.sweep_set", strings.TrimSpace(newCfg.Probe.Sweep) != ""),
		)
	}

	// Logging (never log webhook URL)
	if oldCfg.Logging.Level != newCfg.Logging.Level ||
		oldCfg.Logging.Console != newCfg.Logging.Console ||
		oldCfg.Logging.File.Enabled != newCfg.Logging.File.Enabled ||
		strings.TrimSpace(oldCfg.Logging.File.Path) != strings.TrimSpace(newCfg.Logging.File.Path) ||
		oldCfg.Logging.Webhook.Enabled != newCfg.Logging.Webhook.Enabled ||
		strings.TrimSpace(oldCfg.Logging.Webhook.URL) != strings.TrimSpace(newCfg.Logging.Webhook.URL) ||
		oldCfg.Logging.Webhook.MinLevel != newCfg.Logging.Webhook.MinLevel ||
		oldCfg.Logging.Webhook.RatePerSec != newCfg.Logging.Webhook.RatePerSec {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logx.level", newCfg.Logging.Level),
			logx.Bool("logx.console", newCfg.Logging.Console),
			logx.Bool("logx.file_enabled", newCfg.Logging.File.Enabled),
			logx.Bool("logx.webhook_enabled", newCfg.Logging.Webhook.Enabled),
		)
	}

	// Alerts (never log tokens or webhook URLs)
	if !reflect.DeepEqual(normalizeAlerts(oldCfg.Alerts), normalizeAlerts(newCfg.Alerts)) {
		changed = append(changed, "alerts")
		na := normalizeAlerts(newCfg.Alerts)
		attrs = append(attrs,
			logx.Bool("alerts.enabled", na.Enabled),
			logx.Int("alerts.webhook_count", len(na.Webhooks)),
			logx.Bool("alerts.telegram_set", na.Telegram != nil),
		)
	}

	// Storage
	oldStorage := normalizeStorage(oldCfg.Storage)
	newStorage := normalizeStorage(newCfg.Storage)
	if oldStorage != newStorage {
		changed = append(changed, "storage")
		attrs = append(attrs,
			logx.String("storage.driver", newStorage.Driver),
			logx.Bool("storage.path_set", newStorage.Path != ""),
		)
	}

	// Pprof (never log token)
	if oldCfg.Pprof.Enabled != newCfg.Pprof.Enabled ||
		strings.TrimSpace(oldCfg.Pprof.Addr) != strings.TrimSpace(newCfg.Pprof.Addr) ||
		strings.TrimSpace(oldCfg.Pprof.Prefix) != strings.TrimSpace(newCfg.Pprof.Prefix) ||
		oldCfg.Pprof.AllowInsecure != newCfg.Pprof.AllowInsecure ||
		strings.TrimSpace(oldCfg.Pprof.ReadTimeout) != strings.TrimSpace(newCfg.Pprof.ReadTimeout) ||
		strings.TrimSpace(oldCfg.Pprof.WriteTimeout) != strings.TrimSpace(newCfg.Pprof.WriteTimeout) ||
		strings.TrimSpace(oldCfg.Pprof.IdleTimeout) != strings.TrimSpace(newCfg.Pprof.IdleTimeout) ||
		oldCfg.Pprof.MutexProfileFraction != newCfg.Pprof.MutexProfileFraction ||
		oldCfg.Pprof.BlockProfileRate != newCfg.Pprof.BlockProfileRate ||
		oldCfg.Pprof.MemProfileRate != newCfg.Pprof.MemProfileRate ||
		(strings.TrimSpace(oldCfg.Pprof.Token) != "") != (strings.TrimSpace(newCfg.Pprof.Token) != "") {
		changed = append(changed, "pprof")
		attrs = append(attrs,
			logx.Bool("pprof.enabled", newCfg.Pprof.Enabled),
			logx.String("pprof.addr", strings.TrimSpace(newCfg.Pprof.Addr)),
			logx.Bool("pprof.token_set", strings.TrimSpace(newCfg.Pprof.Token) != ""),
		)
	}

	return changed, attrs
}

func normalizeAlerts(a *AlertsConfig) AlertsConfig {
	if a == nil {
		return AlertsConfig{}
	}
	return *a
}

func normalizeStorage(s *StorageConfig) StorageConfig {
	if s == nil {
		return StorageConfig{}
	}
	return StorageConfig{
		Driver:      strings.ToLower(strings.TrimSpace(s.Driver)),
		Path:        strings.TrimSpace(s.Path),
		BusyTimeout: strings.TrimSpace(s.BusyTimeout),
	}
}
