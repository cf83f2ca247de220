// Package source implements the event source adapter described in the
// watch-tree engine design: it hides whether the running kernel reports
// recursive, path-relative events (inotify) or per-descriptor vnode events
// (kqueue) behind a single operation set, and normalizes whatever the kernel
// reports into a small internal event vocabulary that the tree walker and
// dispatcher in package engine can consume without caring which backend is
// active.
package source

import (
	"context"

	"github.com/pkg/errors"
)

// Handle identifies a single live kernel registration. On the inotify
// backend it is a watch descriptor; on the kqueue backend it is an open file
// descriptor. Callers should treat it as opaque.
type Handle uintptr

// DefaultMaxWatches is the ceiling assumed when the platform exposes no
// administrator-configured watch quota.
const DefaultMaxWatches = 1_000_000

// Sentinel errors returned by Register. ErrContinue indicates a transient,
// per-path registration failure; the caller may abort the current subtree but
// should continue with siblings. ErrAbort indicates a fatal, channel-wide
// failure; the caller should unwind entirely.
var (
	ErrContinue = errors.New("source: transient registration failure")
	ErrAbort    = errors.New("source: fatal event channel failure")
)

// EventKind enumerates the normalized event vocabulary produced by Poll,
// independent of which kernel model is in use.
type EventKind int

const (
	// ChildCreated indicates a new child of a watched directory was created.
	// Only produced by the inotify backend; the kqueue backend has no way to
	// learn a child's name without rescanning, so directory content changes
	// surface as SelfChanged instead.
	ChildCreated EventKind = iota
	// ChildRemoved indicates a named child of a watched directory was
	// removed. Inotify backend only, for the same reason as ChildCreated.
	ChildRemoved
	// SelfChanged indicates a watched object's contents changed. On the
	// kqueue backend it is produced only for a directory, and the kernel does
	// not name the child involved. On the inotify backend it is produced for
	// IN_MODIFY, whether on a watched file or on a named child of a watched
	// directory.
	SelfChanged
	// SelfGone indicates the watched object was deleted, renamed away, or
	// had access revoked.
	SelfGone
	// AttrChanged indicates a metadata-only change with no structural
	// implication.
	AttrChanged
	// Overflow indicates the kernel's event queue overflowed; some events
	// may have been lost.
	Overflow
)

// RawEvent is a single normalized event produced by Poll.
type RawEvent struct {
	Kind EventKind
	// Handle is the registration the event concerns. Zero-valued (and
	// meaningless) for Overflow.
	Handle Handle
	// ChildName is the basename of the affected child. The engine reads it
	// only for ChildCreated and ChildRemoved; the inotify backend also sets
	// it on any other event for which the kernel reported a child name, and
	// the kqueue backend never sets it.
	ChildName string
	// ChildIsDir indicates whether the created child is itself a directory.
	// Only meaningful alongside ChildCreated.
	ChildIsDir bool
	// RawMask is the backend-specific raw event mask (inotify IN_* bits, or
	// kqueue NOTE_* fflags), preserved verbatim so the dispatcher's callback
	// can be invoked with (path, raw_event_mask) per spec.md §4.4 even
	// though the engine itself only switches on Kind.
	RawMask uint32
}

// EventSource is the capability set that both kernel backends implement. The
// tree walker and dispatcher in package engine are written entirely against
// this interface and never branch on which backend is in use.
type EventSource interface {
	// Init opens the kernel event channel and sizes internal buffers. On
	// platforms that expose an administrator-configured watch quota, it also
	// reads that quota and stores it as the maximum permissible number of
	// live registrations.
	Init() error

	// Register asks the kernel to watch path, which the caller has already
	// determined is or isn't a directory, for the standard set of content,
	// metadata, and lifecycle changes. It returns ErrContinue for a
	// transient per-path failure (permission denied, vanished, descriptor
	// exhaustion) and ErrAbort for a fatal channel-wide failure.
	Register(path string, isDir bool) (Handle, error)

	// Unregister removes a registration. Failures are discarded: they are
	// neither returned to the caller nor logged.
	Unregister(h Handle)

	// Poll blocks until at least one event is available and then returns
	// whatever the kernel supplied in a single underlying read, in kernel
	// order. It returns an error only for ErrAbort-class failures or when
	// ctx is canceled.
	Poll(ctx context.Context) ([]RawEvent, error)

	// LimitReached reports whether the global watch quota has ever been
	// exhausted. Once true, it stays true for the life of the adapter.
	LimitReached() bool

	// MaxWatches reports the maximum number of live registrations the
	// adapter will permit, as discovered at Init or defaulted.
	MaxWatches() int

	// Close shuts down the kernel event channel and unblocks any pending
	// Poll call.
	Close() error

	// RegistersLeaves reports whether individual non-directory children must
	// be registered in order to observe changes to them. This is true for
	// the kqueue backend (a vnode watch on a directory reports that its entry
	// list changed, but not writes to an existing child) and false for the
	// inotify backend (a single watch on the directory reports child
	// creation, removal, and renames by name).
	RegistersLeaves() bool
}
