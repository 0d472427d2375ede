package app

import (
	"os"
	"syscall"
	"testing"
)

func TestSignalReason(t *testing.T) {
	t.Parallel()

	if got := SignalReason(syscall.SIGTERM); got != StopSIGTERM {
		t.Fatalf("SIGTERM -> %q", got)
	}
	if got := SignalReason(os.Interrupt); got != StopSIGINT {
		t.Fatalf("interrupt -> %q", got)
	}
	if got := SignalReason(syscall.SIGHUP); got != StopUnknown {
		t.Fatalf("SIGHUP -> %q", got)
	}
}
