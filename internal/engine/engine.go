package engine

import (
	"context"
	"io"

	"github.com/skirge/fsnotifierd/internal/logx"
	"github.com/skirge/fsnotifierd/internal/source"
)

// Callback receives user-visible change notifications from the dispatcher.
// It is the external collaborator referenced in spec.md §6: the engine
// itself only emits the CREATE record directly, and leaves formatting of
// CHANGE/STATS/MESSAGE records to the callback's implementation.
type Callback interface {
	// Change is invoked for every dispatched event that resolves to a known,
	// live node, after any structural mutation the event required.
	Change(path string, rawMask uint32)
	// Overflow is invoked when the kernel reports that its event queue
	// overflowed; some events may have been lost.
	Overflow()
}

// Engine owns the watch-node store, the root registry, and the event source
// adapter, and implements the tree walker and event dispatcher described in
// spec.md §4. It is written entirely against the source.EventSource
// interface and never branches on which kernel backend is active.
//
// Per spec.md §5, Engine is single-threaded and event-driven: every exported
// method here is expected to be called from one goroutine at a time, with no
// internal locking.
type Engine struct {
	store    *Store
	registry *Registry
	source   source.EventSource
	// treeLogger and dispatchLogger are subloggers of the Engine's logger,
	// named after the two components that do the engine's logging (spec.md
	// §4.3, §4.4) so that diagnostic output is traceable to the piece of
	// the engine that produced it.
	treeLogger     *logx.Logger
	dispatchLogger *logx.Logger
	output         io.Writer
	callback       Callback
}

// New creates an Engine around src. output receives the CREATE records the
// core emits directly (spec.md §6); callback receives every other
// user-visible notification.
func New(src source.EventSource, logger *logx.Logger, output io.Writer, callback Callback) *Engine {
	return &Engine{
		store:          NewStore(src.MaxWatches()),
		registry:       NewRegistry(),
		source:         src,
		treeLogger:     logger.For(logx.ComponentTreeWalker),
		dispatchLogger: logger.For(logx.ComponentDispatcher),
		output:         output,
		callback:       callback,
	}
}

// LimitReached reports whether the global watch quota has ever been
// exhausted (spec.md §4.1, §5).
func (e *Engine) LimitReached() bool {
	return e.source.LimitReached()
}

// Count returns the number of live registrations.
func (e *Engine) Count() int {
	return e.store.Len()
}

// MaxWatches returns the configured registration ceiling.
func (e *Engine) MaxWatches() int {
	return e.source.MaxWatches()
}

// Poll blocks for the next batch of raw kernel events. Callers drive the
// engine by alternating calls to Poll and Dispatch with servicing the
// command stream, per the single-threaded multiplexed model of spec.md §5.
//
// ctx should be derived once by the caller and reused across every Poll call
// for the life of the daemon, not rebuilt on each call: Poll itself does no
// context plumbing beyond forwarding ctx to the event source.
func (e *Engine) Poll(ctx context.Context) ([]source.RawEvent, error) {
	return e.source.Poll(ctx)
}

// Close shuts down the underlying event source.
func (e *Engine) Close() error {
	return e.source.Close()
}

// findRoot walks up from node to its root ancestor and returns the Root
// record that owns it, if any.
func (e *Engine) findRoot(node *WatchNode) *Root {
	ancestor := node
	for ancestor.Parent != nil {
		ancestor = ancestor.Parent
	}
	root, _ := e.registry.Get(ancestor.Handle)
	return root
}
