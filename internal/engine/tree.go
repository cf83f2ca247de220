package engine

import (
	"os"
	"path/filepath"

	"github.com/pkg/errors"

	"github.com/skirge/fsnotifierd/internal/source"
)

// Watch registers root for observation: it canonicalizes the path, walks it
// (without emitting CREATE records for its pre-existing contents), and
// records it in the root registry so later dispatch can find its ignore
// list. It returns the handle of the node created for root itself.
func (e *Engine) Watch(root string, ignoreList []string) (source.Handle, error) {
	normalized, err := Realpath(root)
	if err != nil {
		return 0, err
	}
	if existing := e.registry.FindByPath(normalized); existing != nil {
		return existing.Handle, nil
	}
	handle, err := e.walk(normalized, nil, ignoreList, false)
	if err != nil {
		return 0, err
	}
	node, ok := e.store.Get(handle)
	if !ok {
		return 0, errors.New("engine: walked node missing from store")
	}
	e.registry.Add(&Root{Path: normalized, IgnoreList: ignoreList, Node: node})
	return handle, nil
}

// Unwatch tears down a previously registered root (or any node reachable by
// handle) and removes it from the root registry if it was one.
func (e *Engine) Unwatch(h source.Handle) error {
	if _, ok := e.store.Get(h); !ok {
		return nil
	}
	e.registry.Remove(h)
	e.rmWatch(h, true)
	return nil
}

// walk registers path (and, for a directory, its entire pre-existing
// contents) and links the resulting node under parent, if any. ignoreList is
// the owning root's ignore list. emitCreate controls whether a CREATE record
// is written for path and for every directory discovered beneath it
// (non-directories are registered without a CREATE record); the initial
// scan of a newly watched root passes false, while a rewalk triggered by a
// directory-change event passes true.
//
// It returns ErrIgnore if path should not be watched at all, source.ErrContinue
// if registration failed transiently (the caller should skip path but may
// continue with siblings), or source.ErrAbort if the failure is fatal (the
// caller must unwind).
func (e *Engine) walk(path string, parent *WatchNode, ignoreList []string, emitCreate bool) (source.Handle, error) {
	if IsIgnored(path, ignoreList) {
		return 0, ErrIgnore
	}
	if parent != nil {
		if existing := parent.findChild(path); existing != nil {
			return existing.Handle, nil
		}
	}

	f, err := os.Open(path)
	if err != nil {
		if os.IsPermission(err) {
			return 0, ErrIgnore
		}
		if e.treeLogger != nil {
			e.treeLogger.Warn(errors.Wrapf(err, "unable to open %s", path))
		}
		return 0, ErrIgnore
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		if e.treeLogger != nil {
			e.treeLogger.Warn(errors.Wrapf(err, "unable to stat %s", path))
		}
		return 0, ErrIgnore
	}

	if !info.IsDir() {
		return e.registerLeaf(path, parent)
	}

	handle, err := e.source.Register(path, true)
	if err != nil {
		return 0, err
	}
	node := &WatchNode{Name: path, Handle: handle, IsDir: true, Parent: parent}
	if !e.store.Put(handle, node) {
		e.source.Unregister(handle)
		return 0, errors.Wrap(source.ErrAbort, "engine: watch store at capacity")
	}
	if parent != nil {
		parent.addChild(node)
	}
	if emitCreate {
		e.emitCreate(path)
	}

	if err := e.scanChildren(f, node, ignoreList, emitCreate); err != nil {
		// Fatal: abandon this entire directory's subtree and propagate.
		e.rmWatch(handle, true)
		return 0, err
	}

	return handle, nil
}

// scanChildren lists dir's entries (dir must already be open on node's path)
// and walks each one not already present among node's children. It is
// shared by walk, which calls it once right after registering a brand new
// directory, and by rewalk, which calls it again on an already-registered
// directory whose contents the kernel reported as changed; in both cases
// walk's own per-child dedup check (by name, against node.Children) is what
// keeps already-known entries from being re-registered.
func (e *Engine) scanChildren(dir *os.File, node *WatchNode, ignoreList []string, emitCreate bool) error {
	entries, err := dir.ReadDir(-1)
	if err != nil {
		if e.treeLogger != nil {
			e.treeLogger.Warn(errors.Wrapf(err, "unable to read directory %s", node.Name))
		}
		return nil
	}

	for _, entry := range entries {
		childPath := filepath.Join(node.Name, entry.Name())
		isDir := entry.Type().IsDir()
		if entry.Type()&os.ModeSymlink != 0 {
			if info, statErr := os.Stat(childPath); statErr == nil {
				isDir = info.IsDir()
			}
		}
		if isDir {
			_, err := e.walk(childPath, node, ignoreList, emitCreate)
			if err == nil || errors.Is(err, ErrIgnore) {
				continue
			}
			if errors.Is(err, source.ErrContinue) {
				if e.treeLogger != nil {
					e.treeLogger.Warn(errors.Wrapf(err, "skipping %s", childPath))
				}
				continue
			}
			return err
		} else if e.source.RegistersLeaves() {
			_, err := e.registerLeaf(childPath, node)
			if err == nil || errors.Is(err, ErrIgnore) {
				continue
			}
			if errors.Is(err, source.ErrContinue) {
				if e.treeLogger != nil {
					e.treeLogger.Warn(errors.Wrapf(err, "skipping %s", childPath))
				}
				continue
			}
			return err
		}
	}

	return nil
}

// registerLeaf registers a non-directory path. walk uses it for any path that
// turns out not to be a directory (a plain-file root, or a file named by a
// ChildCreated event on either backend), and scanChildren uses it, on the
// vnode model only, for every non-directory child of a watched directory.
func (e *Engine) registerLeaf(path string, parent *WatchNode) (source.Handle, error) {
	if parent != nil {
		if existing := parent.findChild(path); existing != nil {
			return existing.Handle, nil
		}
	}
	handle, err := e.source.Register(path, false)
	if err != nil {
		return 0, err
	}
	node := &WatchNode{Name: path, Handle: handle, IsDir: false, Parent: parent}
	if !e.store.Put(handle, node) {
		e.source.Unregister(handle)
		return 0, errors.Wrap(source.ErrAbort, "engine: watch store at capacity")
	}
	if parent != nil {
		parent.addChild(node)
	}
	return handle, nil
}

// rmWatch tears down the node registered under h and, recursively, every
// child beneath it. updateParent controls whether the node's own slot in its
// parent's child array is cleared; recursive calls pass false to avoid a
// quadratic rescan of an array that is about to be discarded wholesale.
func (e *Engine) rmWatch(h source.Handle, updateParent bool) {
	node, ok := e.store.Get(h)
	if !ok {
		return
	}
	e.source.Unregister(h)
	for _, child := range node.Children {
		if child != nil {
			e.rmWatch(child.Handle, false)
		}
	}
	if updateParent && node.Parent != nil {
		node.Parent.clearChild(node)
	}
	e.store.Clear(h)
	node.Children = nil
}

// Rewalk re-scans an already-registered directory node whose contents the
// kernel reported as changed without naming which child was involved. It
// does not re-register node itself; it only opens node.Name and scans for
// children not already present, registering each with emitCreate forced so
// genuinely new entries produce CREATE records.
func (e *Engine) Rewalk(node *WatchNode, ignoreList []string) error {
	f, err := os.Open(node.Name)
	if err != nil {
		if os.IsPermission(err) || os.IsNotExist(err) {
			return nil
		}
		if e.treeLogger != nil {
			e.treeLogger.Warn(errors.Wrapf(err, "unable to reopen %s", node.Name))
		}
		return nil
	}
	defer f.Close()
	return e.scanChildren(f, node, ignoreList, true)
}

// emitCreate writes a CREATE record for path directly to the engine's output
// stream (spec.md §6). This is the one record format the engine core
// produces itself rather than leaving to the Callback.
func (e *Engine) emitCreate(path string) {
	if e.output == nil {
		return
	}
	_, _ = e.output.Write([]byte("CREATE\n" + path + "\n"))
}
