package engine

import "github.com/skirge/fsnotifierd/internal/source"

// Root is a user-requested subtree: a canonicalized root path, its ignore
// list, and the WatchNode created for it (or for its containing file, if
// root_path denotes a regular file) (spec.md §3).
type Root struct {
	Path       string
	IgnoreList []string
	Node       *WatchNode
}

// Registry holds the set of user-requested roots. It is the only externally
// initiated entry point for watch/unwatch (spec.md §4.5) and supplies the
// root-duplicate check that add_watch consults when asked to register a
// path with no parent node.
type Registry struct {
	roots map[source.Handle]*Root
}

// NewRegistry creates an empty root registry.
func NewRegistry() *Registry {
	return &Registry{roots: make(map[source.Handle]*Root)}
}

// Add records root under the handle of its root node.
func (r *Registry) Add(root *Root) {
	r.roots[root.Node.Handle] = root
}

// Remove drops the root registered under h, if any.
func (r *Registry) Remove(h source.Handle) {
	delete(r.roots, h)
}

// Get returns the root registered under h.
func (r *Registry) Get(h source.Handle) (*Root, bool) {
	root, ok := r.roots[h]
	return root, ok
}

// FindByPath returns the existing root node whose Name equals path, if the
// path has already been registered as a root by a previous watch call. It
// backs the root-duplicate check in add_watch when walking with no parent
// node.
func (r *Registry) FindByPath(path string) *WatchNode {
	for _, root := range r.roots {
		if root.Node != nil && root.Node.Name == path {
			return root.Node
		}
	}
	return nil
}

// Roots returns every currently registered root.
func (r *Registry) Roots() []*Root {
	roots := make([]*Root, 0, len(r.roots))
	for _, root := range r.roots {
		roots = append(roots, root)
	}
	return roots
}
