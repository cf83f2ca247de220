package engine

import "github.com/skirge/fsnotifierd/internal/source"

// WatchNode is one active kernel registration. It mirrors a single node in
// the live directory hierarchy being watched (spec.md §3).
//
// Parent is a non-owning back-reference: ownership flows strictly
// parent-to-child, and teardown always proceeds top-down, so a handle-only
// kernel event can still be resolved back to a root-relative path by walking
// Parent links without risking a double-free.
type WatchNode struct {
	// Name is the absolute, realpath-normalized path of the watched object.
	Name string
	// Handle is the kernel-returned registration handle.
	Handle source.Handle
	// IsDir indicates whether the object was a directory at registration
	// time. If false, Children is always empty.
	IsDir bool
	// Parent is the WatchNode of the enclosing directory, or nil if this
	// node is a root.
	Parent *WatchNode
	// Children is a sparse, index-stable sequence of child WatchNodes.
	// Slots are cleared (set to nil) rather than compacted so that an outer
	// loop iterating Children is never invalidated by a sibling's removal
	// mid-iteration.
	Children []*WatchNode
}

// addChild links child into n's child slots, reusing a cleared slot if
// one is available and appending otherwise. It returns the slot index.
func (n *WatchNode) addChild(child *WatchNode) int {
	for i, c := range n.Children {
		if c == nil {
			n.Children[i] = child
			return i
		}
	}
	n.Children = append(n.Children, child)
	return len(n.Children) - 1
}

// findChild returns the live child whose Name equals name, or nil if none
// exists. Cleared (nil) slots are skipped.
func (n *WatchNode) findChild(name string) *WatchNode {
	for _, c := range n.Children {
		if c != nil && c.Name == name {
			return c
		}
	}
	return nil
}

// clearChild removes child from the node's slots by identity, leaving a
// tombstone (nil) in its place rather than shifting later elements.
func (n *WatchNode) clearChild(child *WatchNode) {
	for i, c := range n.Children {
		if c == child {
			n.Children[i] = nil
			return
		}
	}
}

// Store is a fixed-capacity mapping from kernel handle to WatchNode, sized
// at initialization to the permitted maximum number of live registrations
// (spec.md §4.2). It owns each WatchNode it holds.
type Store struct {
	nodes map[source.Handle]*WatchNode
	max   int
}

// NewStore creates a Store that will refuse Put calls once it holds max
// entries.
func NewStore(max int) *Store {
	return &Store{
		nodes: make(map[source.Handle]*WatchNode, minInt(max, 4096)),
		max:   max,
	}
}

// Get returns the node registered under h, if any.
func (s *Store) Get(h source.Handle) (*WatchNode, bool) {
	n, ok := s.nodes[h]
	return n, ok
}

// Put inserts n under h. It returns false without modifying the store if the
// store is already at capacity.
func (s *Store) Put(h source.Handle, n *WatchNode) bool {
	if len(s.nodes) >= s.max {
		return false
	}
	s.nodes[h] = n
	return true
}

// Clear removes the entry for h, if present.
func (s *Store) Clear(h source.Handle) {
	delete(s.nodes, h)
}

// Len returns the number of live registrations.
func (s *Store) Len() int {
	return len(s.nodes)
}

// DestroyAll empties the store without individually tearing down each node
// and without unregistering any handle. Nothing in the daemon calls it: on a
// fatal kernel-channel error the process exits and the OS reclaims the
// descriptors.
func (s *Store) DestroyAll() {
	s.nodes = make(map[source.Handle]*WatchNode)
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
