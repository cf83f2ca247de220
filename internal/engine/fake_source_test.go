package engine

import (
	"context"
	"sync"

	"github.com/skirge/fsnotifierd/internal/source"
)

// fakeSource is an in-memory stand-in for a kernel EventSource, used to drive
// Engine.Watch/Dispatch/Unwatch deterministically without a real inotify or
// kqueue channel underneath. It substitutes for the kernel the same way the
// teacher isolates its watcher implementations behind an interface for
// testing, except here the test itself decides what Register succeeds or
// fails and injects events directly rather than waiting on a real fd.
type fakeSource struct {
	mu            sync.Mutex
	next          source.Handle
	registered    map[source.Handle]string
	registersLeaf bool
	maxWatches    int
	limitReached  bool
	failNextErr   error
	failPaths     map[string]error
}

func newFakeSource() *fakeSource {
	return &fakeSource{
		registered: make(map[source.Handle]string),
		maxWatches: 1024,
		failPaths:  make(map[string]error),
	}
}

func (f *fakeSource) Init() error { return nil }

func (f *fakeSource) Register(path string, isDir bool) (source.Handle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err, ok := f.failPaths[path]; ok {
		return 0, err
	}
	if f.failNextErr != nil {
		err := f.failNextErr
		f.failNextErr = nil
		return 0, err
	}
	f.next++
	h := f.next
	f.registered[h] = path
	return h, nil
}

func (f *fakeSource) Unregister(h source.Handle) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.registered, h)
}

func (f *fakeSource) Poll(ctx context.Context) ([]source.RawEvent, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func (f *fakeSource) LimitReached() bool { return f.limitReached }
func (f *fakeSource) MaxWatches() int    { return f.maxWatches }
func (f *fakeSource) Close() error       { return nil }

func (f *fakeSource) RegistersLeaves() bool { return f.registersLeaf }

func (f *fakeSource) isRegistered(h source.Handle) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.registered[h]
	return ok
}

func (f *fakeSource) registeredCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.registered)
}

// recordingCallback implements engine.Callback and records every invocation
// for assertions.
type recordingCallback struct {
	mu        sync.Mutex
	changes   []changeRecord
	overflows int
}

type changeRecord struct {
	path    string
	rawMask uint32
}

func (c *recordingCallback) Change(path string, rawMask uint32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.changes = append(c.changes, changeRecord{path: path, rawMask: rawMask})
}

func (c *recordingCallback) Overflow() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.overflows++
}

func (c *recordingCallback) lastChange() (changeRecord, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.changes) == 0 {
		return changeRecord{}, false
	}
	return c.changes[len(c.changes)-1], true
}

func (c *recordingCallback) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.changes)
}
