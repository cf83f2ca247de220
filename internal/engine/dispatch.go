package engine

import (
	"path/filepath"

	"github.com/pkg/errors"

	"github.com/skirge/fsnotifierd/internal/source"
)

// Dispatch applies a batch of raw kernel events to the tree, one at a time
// and in the order the kernel reported them, per spec.md §4.4. Structural
// mutation (rewalking a changed directory, registering a new child, tearing
// down a gone one) happens before the callback is invoked, so that by the
// time the callback sees a path the tree already reflects it.
func (e *Engine) Dispatch(events []source.RawEvent) {
	for _, ev := range events {
		e.dispatchOne(ev)
	}
}

func (e *Engine) dispatchOne(ev source.RawEvent) {
	if ev.Kind == source.Overflow {
		if e.dispatchLogger != nil {
			e.dispatchLogger.Printf("event queue overflowed, some events may have been lost")
		}
		if e.callback != nil {
			e.callback.Overflow()
		}
		return
	}

	node, ok := e.store.Get(ev.Handle)
	if !ok {
		// Stale handle: the node was already torn down by an earlier event in
		// this same batch, or by a concurrent unwatch. Drop silently.
		return
	}
	path := node.Name

	switch ev.Kind {
	case source.SelfChanged:
		if node.IsDir {
			e.rewalk(node)
		}
	case source.ChildCreated:
		childPath := filepath.Join(path, ev.ChildName)
		root := e.findRoot(node)
		var ignoreList []string
		if root != nil {
			ignoreList = root.IgnoreList
		}
		_, err := e.walk(childPath, node, ignoreList, true)
		if err != nil && !errors.Is(err, ErrIgnore) && e.dispatchLogger != nil {
			e.dispatchLogger.Warn(errors.Wrapf(err, "registering new child %s", childPath))
		}
		path = childPath
	case source.ChildRemoved:
		childPath := filepath.Join(path, ev.ChildName)
		if child := node.findChild(childPath); child != nil {
			e.rmWatch(child.Handle, false)
			node.clearChild(child)
		}
		path = childPath
	case source.SelfGone:
		if _, isRoot := e.registry.Get(node.Handle); isRoot {
			e.registry.Remove(node.Handle)
		}
		e.rmWatch(node.Handle, true)
	case source.AttrChanged:
		// Metadata-only change: no structural mutation, callback only.
	}

	if e.callback != nil {
		e.callback.Change(path, ev.RawMask)
	}
}

// rewalk re-scans a directory whose contents changed without the kernel
// naming which child was involved (the SelfChanged case, which arises on
// both backends but is the only way the kqueue backend ever learns of a new
// child). Already-known children are found via the walker's own dedup check
// and left untouched; only genuinely new entries are registered, with
// emit_create forced on so each produces a CREATE record.
func (e *Engine) rewalk(node *WatchNode) {
	root := e.findRoot(node)
	var ignoreList []string
	if root != nil {
		ignoreList = root.IgnoreList
	}
	if err := e.Rewalk(node, ignoreList); err != nil && e.dispatchLogger != nil {
		e.dispatchLogger.Warn(errors.Wrapf(err, "rewalking %s", node.Name))
	}
}
