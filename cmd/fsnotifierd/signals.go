package main

import (
	"os"
	"os/signal"

	"github.com/skirge/fsnotifierd/internal/cmdutil"
)

// registerTerminationSignals routes the daemon's termination signals
// (internal/cmdutil.TerminationSignals) onto ch.
func registerTerminationSignals(ch chan<- os.Signal) {
	signal.Notify(ch, cmdutil.TerminationSignals...)
}
