//go:build darwin || freebsd || netbsd || openbsd || dragonfly

package source

import (
	"context"
	"sync"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// kqueueNoteMask is the fixed set of vnode filter flags requested for every
// registration: content changes, size growth, attribute changes, removal,
// rename, and access revocation.
const kqueueNoteMask = unix.NOTE_DELETE | unix.NOTE_WRITE | unix.NOTE_EXTEND |
	unix.NOTE_ATTRIB | unix.NOTE_RENAME | unix.NOTE_REVOKE

// kqueueSource is the BSD/Darwin backend: one open file descriptor and one
// EVFILT_VNODE registration per watched path. It implements the vnode
// model: the kernel reports changes to a descriptor, never the name of the
// child responsible, so RegistersLeaves is true and the walker registers
// every non-directory child individually, relying on SelfChanged plus a
// rewalk to learn of new children and on each child's own SelfGone to learn
// of removed ones.
type kqueueSource struct {
	kq        int
	closepipe [2]int

	mu      sync.Mutex
	isDirOf map[Handle]bool
	closed  bool
}

// NewKqueueSource creates an uninitialized BSD/Darwin event source. Call
// Init before use.
func NewKqueueSource() EventSource {
	return &kqueueSource{isDirOf: make(map[Handle]bool)}
}

func (s *kqueueSource) Init() error {
	kq, err := unix.Kqueue()
	if err != nil {
		return errors.Wrap(err, "source: kqueue failed")
	}
	s.kq = kq

	if err := unix.Pipe(s.closepipe[:]); err != nil {
		unix.Close(kq)
		return errors.Wrap(err, "source: pipe failed")
	}
	unix.CloseOnExec(s.closepipe[0])
	unix.CloseOnExec(s.closepipe[1])

	changes := make([]unix.Kevent_t, 1)
	unix.SetKevent(&changes[0], s.closepipe[0], unix.EVFILT_READ, unix.EV_ADD|unix.EV_ENABLE|unix.EV_ONESHOT)
	if _, err := unix.Kevent(s.kq, changes, nil, nil); err != nil {
		unix.Close(kq)
		unix.Close(s.closepipe[0])
		unix.Close(s.closepipe[1])
		return errors.Wrap(err, "source: kevent registration of close pipe failed")
	}
	return nil
}

func (s *kqueueSource) Register(path string, isDir bool) (Handle, error) {
	fd, err := unix.Open(path, unix.O_RDONLY|unix.O_NONBLOCK|unix.O_CLOEXEC, 0)
	if err != nil {
		switch err {
		case unix.EACCES, unix.ENOENT, unix.ELOOP, unix.ENOTDIR:
			return 0, errors.Wrap(ErrContinue, err.Error())
		case unix.EMFILE, unix.ENFILE:
			return 0, errors.Wrap(ErrContinue, "descriptor table exhausted")
		default:
			return 0, errors.Wrap(ErrContinue, err.Error())
		}
	}

	changes := make([]unix.Kevent_t, 1)
	unix.SetKevent(&changes[0], fd, unix.EVFILT_VNODE, unix.EV_ADD|unix.EV_CLEAR|unix.EV_ENABLE)
	changes[0].Fflags = kqueueNoteMask
	if _, err := unix.Kevent(s.kq, changes, nil, nil); err != nil {
		unix.Close(fd)
		return 0, errors.Wrap(ErrAbort, err.Error())
	}

	h := Handle(fd)
	s.mu.Lock()
	s.isDirOf[h] = isDir
	s.mu.Unlock()
	return h, nil
}

func (s *kqueueSource) Unregister(h Handle) {
	fd := int(h)
	changes := make([]unix.Kevent_t, 1)
	unix.SetKevent(&changes[0], fd, unix.EVFILT_VNODE, unix.EV_DELETE)
	_, _ = unix.Kevent(s.kq, changes, nil, nil)
	unix.Close(fd)

	s.mu.Lock()
	delete(s.isDirOf, h)
	s.mu.Unlock()
}

func (s *kqueueSource) LimitReached() bool {
	// The vnode model is bounded by the process's open file descriptor
	// table, not a kernel-wide watch quota; Register already reports
	// exhaustion as ErrContinue per path.
	return false
}

func (s *kqueueSource) MaxWatches() int {
	return DefaultMaxWatches
}

func (s *kqueueSource) RegistersLeaves() bool {
	return true
}

func (s *kqueueSource) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	unix.Close(s.closepipe[1])
	return nil
}

// Poll performs one blocking kevent call and translates whatever batch of
// vnode events the kernel returned into the normalized vocabulary. It is
// interrupted by a write-side close of the internal pipe registered at
// Init, which Close triggers.
func (s *kqueueSource) Poll(ctx context.Context) ([]RawEvent, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	buf := make([]unix.Kevent_t, 32)
	n, err := unix.Kevent(s.kq, nil, buf, nil)
	if err != nil {
		if err == unix.EINTR {
			return nil, nil
		}
		return nil, errors.Wrap(ErrAbort, err.Error())
	}

	var events []RawEvent
	for _, kevent := range buf[:n] {
		fd := int(kevent.Ident)
		if fd == s.closepipe[0] {
			return nil, errors.Wrap(ErrAbort, "event source closed")
		}

		h := Handle(fd)
		s.mu.Lock()
		isDir, known := s.isDirOf[h]
		s.mu.Unlock()
		if !known {
			continue
		}

		mask := uint32(kevent.Fflags)
		ev := RawEvent{Handle: h, RawMask: mask}

		switch {
		case mask&(unix.NOTE_DELETE|unix.NOTE_REVOKE|unix.NOTE_RENAME) != 0:
			// Rename-within-watched-subtree is indistinguishable on the
			// vnode model from a genuine removal, so it is treated as one;
			// a later ChildCreated-equivalent rewalk of the parent will pick
			// up the new name as a fresh registration.
			ev.Kind = SelfGone
		case mask&unix.NOTE_ATTRIB != 0:
			ev.Kind = AttrChanged
		case mask&(unix.NOTE_WRITE|unix.NOTE_EXTEND) != 0:
			if isDir {
				ev.Kind = SelfChanged
			} else {
				ev.Kind = AttrChanged
			}
		default:
			continue
		}

		events = append(events, ev)
	}

	return events, nil
}
