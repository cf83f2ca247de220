//go:build !windows

package cmdutil

import (
	"os"
	"syscall"
)

// TerminationSignals are the signals that request a graceful shutdown of the
// daemon: close the event source, stop servicing the command stream, and
// exit (spec.md §5).
var TerminationSignals = []os.Signal{
	syscall.SIGINT,
	syscall.SIGTERM,
}
