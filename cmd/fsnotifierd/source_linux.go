//go:build linux

package main

import "github.com/skirge/fsnotifierd/internal/source"

// newEventSource selects the inotify backend, the only one built on Linux.
func newEventSource() source.EventSource {
	return source.NewInotifySource()
}
