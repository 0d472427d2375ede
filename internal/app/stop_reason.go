package app

import (
	"os"
	"syscall"
)

// StopReason records why the gateway is shutting down; it is logged and
// passed to components that care about graceful vs fatal teardown.
type StopReason string

const (
	StopUnknown    StopReason = "unknown"
	StopSIGINT     StopReason = "sigint"
	StopSIGTERM    StopReason = "sigterm"
	StopFatalError StopReason = "fatal_error"
	StopAppStop    StopReason = "app_stop"
)

// SignalReason maps a termination signal to its stop reason.
func SignalReason(sig os.Signal) StopReason {
	switch sig {
	case syscall.SIGTERM:
		return StopSIGTERM
	case os.Interrupt, syscall.SIGINT:
		return StopSIGINT
	default:
		return StopUnknown
	}
}
