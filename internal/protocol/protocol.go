// Package protocol implements the line-oriented command/output contract
// spec.md §6 pushes outside the watch-tree engine's scope: parsing commands
// off the controlling input stream and formatting CHANGE, STATS, and
// MESSAGE records (CREATE is emitted by the engine core itself). It is a
// thin external collaborator, not part of the core.
package protocol

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/skirge/fsnotifierd/internal/source"
)

// Command is a single parsed request from the input stream.
type Command interface {
	isCommand()
}

// Watch requests that Root be registered, with Ignore as its ignore rules.
type Watch struct {
	Root   string
	Ignore []string
}

// Unwatch requests teardown of the root registered under Handle.
type Unwatch struct {
	Handle source.Handle
}

// Exit requests a graceful shutdown.
type Exit struct{}

func (Watch) isCommand()   {}
func (Unwatch) isCommand() {}
func (Exit) isCommand()    {}

// Reader parses the newline-delimited command grammar:
//
//	watch <root> [ignore...]
//	unwatch <handle>
//	exit
//
// off an input stream. Fields are whitespace-separated; a root or ignore
// rule containing whitespace is not representable in this minimal grammar.
type Reader struct {
	scanner *bufio.Scanner
}

// NewReader creates a Reader over in.
func NewReader(in io.Reader) *Reader {
	return &Reader{scanner: bufio.NewScanner(in)}
}

// Next returns the next parsed command, or io.EOF once the input stream is
// exhausted, which the caller treats the same as an explicit Exit per
// spec.md §5.
func (r *Reader) Next() (Command, error) {
	for r.scanner.Scan() {
		line := strings.TrimSpace(r.scanner.Text())
		if line == "" {
			continue
		}
		fields := strings.Fields(line)
		switch fields[0] {
		case "watch":
			if len(fields) < 2 {
				return nil, errors.Errorf("protocol: watch requires a root path: %q", line)
			}
			return Watch{Root: fields[1], Ignore: fields[2:]}, nil
		case "unwatch":
			if len(fields) != 2 {
				return nil, errors.Errorf("protocol: unwatch requires exactly one handle: %q", line)
			}
			n, err := strconv.ParseUint(fields[1], 10, 64)
			if err != nil {
				return nil, errors.Wrapf(err, "protocol: invalid handle %q", fields[1])
			}
			return Unwatch{Handle: source.Handle(n)}, nil
		case "exit":
			return Exit{}, nil
		default:
			return nil, errors.Errorf("protocol: unrecognized command %q", fields[0])
		}
	}
	if err := r.scanner.Err(); err != nil {
		return nil, err
	}
	return nil, io.EOF
}

// Writer formats the output records the external collaborator owns (CHANGE,
// STATS, MESSAGE); CREATE is written by the engine directly to the same
// underlying stream. Writer implements engine.Callback.
type Writer struct {
	out       io.Writer
	sessionID uuid.UUID
}

// NewWriter creates a Writer around out, tagging the run with a fresh
// session id used in the startup banner.
func NewWriter(out io.Writer) *Writer {
	return &Writer{out: out, sessionID: uuid.New()}
}

// Banner writes the startup MESSAGE record: session id and version, so the
// parent process can correlate output across daemon restarts.
func (w *Writer) Banner(version string) {
	fmt.Fprintf(w.out, "MESSAGE\nstarted session=%s version=%s\n", w.sessionID, version)
}

// Change implements engine.Callback. It classifies the raw mask into a
// CHANGE or DELETE record: a mask carrying any of the removal bits listed in
// isRemoval is reported as DELETE, everything else as CHANGE.
func (w *Writer) Change(path string, rawMask uint32) {
	if isRemoval(rawMask) {
		fmt.Fprintf(w.out, "DELETE\n%s\n", path)
		return
	}
	fmt.Fprintf(w.out, "CHANGE\n%s\n", path)
}

// Overflow implements engine.Callback.
func (w *Writer) Overflow() {
	fmt.Fprintf(w.out, "MESSAGE\nevent queue overflowed, some events may have been lost\n")
}

// Stats writes a periodic STATS record: live registration count against the
// configured ceiling, humanized for readability.
func (w *Writer) Stats(count, max int, uptime time.Duration) {
	fmt.Fprintf(w.out, "STATS\nwatches=%s/%s uptime=%s\n",
		humanize.Comma(int64(count)), humanize.Comma(int64(max)), uptime.Round(time.Second))
}

// Message writes a free-form diagnostic record.
func (w *Writer) Message(text string) {
	fmt.Fprintf(w.out, "MESSAGE\n%s\n", text)
}

// isRemoval reports whether mask carries a removal-flavored bit: inotify's
// IN_DELETE/IN_DELETE_SELF/IN_MOVED_FROM/IN_MOVE_SELF, or kqueue's
// NOTE_DELETE/NOTE_REVOKE/NOTE_RENAME. Only one backend is ever compiled
// into a given binary, so only one of these two bit vocabularies can appear
// in a live RawMask; the constants are inlined numerically here (rather
// than imported from golang.org/x/sys/unix) because this file has no build
// tag and must compile on every platform.
func isRemoval(mask uint32) bool {
	const (
		inDelete     = 0x00000200
		inDeleteSelf = 0x00000400
		inMovedFrom  = 0x00000040
		inMoveSelf   = 0x00000800

		noteDelete = 0x00000001
		noteRename = 0x00000020
		noteRevoke = 0x00000040
	)
	const removalMask = inDelete | inDeleteSelf | inMovedFrom | inMoveSelf | noteDelete | noteRename | noteRevoke
	return mask&removalMask != 0
}
