//go:build darwin || freebsd || netbsd || openbsd || dragonfly

package main

import "github.com/skirge/fsnotifierd/internal/source"

// newEventSource selects the kqueue backend, the only one built on
// BSD/Darwin.
func newEventSource() source.EventSource {
	return source.NewKqueueSource()
}
