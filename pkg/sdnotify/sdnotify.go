// Package sdnotify wraps systemd readiness notifications. All calls are
// no-ops outside a Type=notify unit, so callers never need to guard them.
package sdnotify

import (
	"github.com/coreos/go-systemd/v22/daemon"
)

// Ready tells systemd the service finished starting up.
func Ready() {
	_, _ = daemon.SdNotify(false, daemon.SdNotifyReady)
}

// Stopping tells systemd the service began shutting down.
func Stopping() {
	_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)
}

// Status sets the free-form status line shown by systemctl status.
func Status(msg string) {
	_, _ = daemon.SdNotify(false, "STATUS="+msg)
}
