//go:build linux

package source

import (
	"bytes"
	"context"
	"os"
	"strconv"
	"strings"
	"sync"
	"unsafe"

	"github.com/golang/groupcache/lru"
	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// inotifySource is the Linux backend: a single inotify instance, one watch
// descriptor per registered path. It implements the inode model: a watch on
// a directory reports the name of every child created, removed, or renamed
// within it, so individual files never need their own watch.
type inotifySource struct {
	fd   int
	file *os.File

	mu           sync.Mutex
	pathByHandle map[Handle]string
	maxWatches   int
	limitReached bool

	// registered is an LRU ledger of live registrations, sized to maxWatches,
	// used only for diagnostics: it mirrors the role groupcache/lru plays as
	// an unwatch-driving evictor in the teacher's non-recursive watcher, but
	// here OnEvicted only records a hint rather than actually unwatching —
	// ERR_CONTINUE on ENOSPC must leave every existing registration intact.
	// oldestHint holds the path most recently pushed out of the ledger by
	// that callback. lru.Cache.Remove also invokes OnEvicted, so in practice
	// this is the path most recently released by Unregister; the ledger is
	// sized to maxWatches and the kernel refuses registrations before it
	// fills.
	registered *lru.Cache
	oldestHint string
}

// NewInotifySource creates an uninitialized Linux event source. Call Init
// before use.
func NewInotifySource() EventSource {
	return &inotifySource{
		pathByHandle: make(map[Handle]string),
		maxWatches:   DefaultMaxWatches,
	}
}

// inotifyMask is the fixed set of events requested for every watch: content
// changes, attribute changes, and the full lifecycle (creation, removal,
// rename in either direction).
const inotifyMask = unix.IN_CREATE | unix.IN_DELETE | unix.IN_DELETE_SELF |
	unix.IN_MODIFY | unix.IN_ATTRIB | unix.IN_MOVE_SELF |
	unix.IN_MOVED_FROM | unix.IN_MOVED_TO

func (s *inotifySource) Init() error {
	fd, err := unix.InotifyInit1(unix.IN_CLOEXEC | unix.IN_NONBLOCK)
	if err != nil {
		return errors.Wrap(err, "source: inotify_init1 failed")
	}
	s.fd = fd
	s.file = os.NewFile(uintptr(fd), "inotify")
	s.maxWatches = readMaxUserWatches()

	s.registered = lru.New(s.maxWatches)
	s.registered.OnEvicted = func(key lru.Key, value interface{}) {
		if path, ok := value.(string); ok {
			s.oldestHint = path
		}
	}
	return nil
}

func readMaxUserWatches() int {
	data, err := os.ReadFile("/proc/sys/fs/inotify/max_user_watches")
	if err != nil {
		return DefaultMaxWatches
	}
	n, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || n <= 0 {
		return DefaultMaxWatches
	}
	return n
}

func (s *inotifySource) Register(path string, isDir bool) (Handle, error) {
	wd, err := unix.InotifyAddWatch(s.fd, path, inotifyMask)
	if err != nil {
		switch err {
		case unix.EACCES, unix.ENOENT, unix.ELOOP, unix.ENOTDIR:
			return 0, errors.Wrap(ErrContinue, err.Error())
		case unix.ENOSPC:
			s.mu.Lock()
			s.limitReached = true
			hint := s.oldestHint
			s.mu.Unlock()
			if hint != "" {
				return 0, errors.Wrapf(ErrContinue, "no space left for additional watch (most recently released watch: %s)", hint)
			}
			return 0, errors.Wrap(ErrContinue, "no space left for additional watch")
		case unix.EBADF, unix.EMFILE, unix.ENOMEM:
			return 0, errors.Wrap(ErrAbort, err.Error())
		default:
			return 0, errors.Wrap(ErrContinue, err.Error())
		}
	}

	h := Handle(wd)
	s.mu.Lock()
	s.pathByHandle[h] = path
	s.registered.Add(h, path)
	s.mu.Unlock()
	return h, nil
}

func (s *inotifySource) Unregister(h Handle) {
	s.mu.Lock()
	delete(s.pathByHandle, h)
	s.registered.Remove(h)
	s.mu.Unlock()
	// Best effort: the kernel has often already invalidated the descriptor
	// (e.g. on delete), so an error here is expected and not logged by the
	// caller.
	_, _ = unix.InotifyRmWatch(s.fd, uint32(h))
}

func (s *inotifySource) LimitReached() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.limitReached
}

func (s *inotifySource) MaxWatches() int {
	return s.maxWatches
}

func (s *inotifySource) RegistersLeaves() bool {
	return false
}

// PathOf returns the path a handle was registered for, mirroring the
// watches.byWd lookup the inotify backend needs to resolve a bare watch
// descriptor back to a path for diagnostics.
func (s *inotifySource) PathOf(h Handle) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	path, ok := s.pathByHandle[h]
	return path, ok
}

func (s *inotifySource) Close() error {
	return s.file.Close()
}

// Poll performs one blocking read of the inotify file descriptor and
// parses whatever batch of raw events the kernel returned into the
// normalized vocabulary. The read is interrupted by Close from another
// goroutine; ctx is honored only before the read begins, matching the
// fact that the underlying descriptor, not a context, is what unblocks it.
func (s *inotifySource) Poll(ctx context.Context) ([]RawEvent, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var buf [unix.SizeofInotifyEvent * 4096]byte
	n, err := s.file.Read(buf[:])
	if err != nil {
		if errors.Is(err, os.ErrClosed) {
			return nil, errors.Wrap(ErrAbort, "inotify file descriptor closed")
		}
		return nil, errors.Wrap(ErrAbort, err.Error())
	}
	if n < unix.SizeofInotifyEvent {
		return nil, nil
	}

	var events []RawEvent
	var offset uint32
	for offset <= uint32(n)-unix.SizeofInotifyEvent {
		raw := (*unix.InotifyEvent)(unsafe.Pointer(&buf[offset]))
		mask := uint32(raw.Mask)
		nameLen := uint32(raw.Len)

		var name string
		if nameLen > 0 {
			nameBytes := buf[offset+unix.SizeofInotifyEvent : offset+unix.SizeofInotifyEvent+nameLen]
			name = string(bytes.TrimRight(nameBytes, "\x00"))
		}
		offset += unix.SizeofInotifyEvent + nameLen

		if mask&unix.IN_Q_OVERFLOW != 0 {
			events = append(events, RawEvent{Kind: Overflow})
			continue
		}
		if mask&unix.IN_IGNORED != 0 {
			// The kernel has already torn down this watch down (explicit
			// removal or because the watched object is gone); the engine
			// learns of it via DELETE_SELF/MOVE_SELF instead.
			continue
		}

		h := Handle(raw.Wd)
		ev := RawEvent{Handle: h, ChildName: name, RawMask: mask}

		isDir := mask&unix.IN_ISDIR != 0
		switch {
		case mask&(unix.IN_CREATE|unix.IN_MOVED_TO) != 0:
			ev.Kind = ChildCreated
			ev.ChildIsDir = isDir
		case mask&(unix.IN_DELETE|unix.IN_MOVED_FROM) != 0:
			ev.Kind = ChildRemoved
		case mask&(unix.IN_DELETE_SELF|unix.IN_MOVE_SELF) != 0:
			ev.Kind = SelfGone
		case mask&unix.IN_ATTRIB != 0:
			ev.Kind = AttrChanged
		case mask&unix.IN_MODIFY != 0:
			ev.Kind = SelfChanged
		default:
			continue
		}

		events = append(events, ev)
	}

	return events, nil
}
