package protocol

import (
	"bytes"
	"io"
	"strings"
	"testing"

	"github.com/skirge/fsnotifierd/internal/source"
)

func TestReaderParsesWatch(t *testing.T) {
	r := NewReader(strings.NewReader("watch /tmp/a /tmp/a/ignored .git\n"))
	cmd, err := r.Next()
	if err != nil {
		t.Fatal("unexpected error:", err)
	}
	w, ok := cmd.(Watch)
	if !ok {
		t.Fatalf("got %T, want Watch", cmd)
	}
	if w.Root != "/tmp/a" {
		t.Errorf("Root = %q, want /tmp/a", w.Root)
	}
	if got, want := w.Ignore, []string{"/tmp/a/ignored", ".git"}; !equalSlices(got, want) {
		t.Errorf("Ignore = %v, want %v", got, want)
	}
}

func TestReaderParsesUnwatch(t *testing.T) {
	r := NewReader(strings.NewReader("unwatch 42\n"))
	cmd, err := r.Next()
	if err != nil {
		t.Fatal("unexpected error:", err)
	}
	u, ok := cmd.(Unwatch)
	if !ok {
		t.Fatalf("got %T, want Unwatch", cmd)
	}
	if u.Handle != source.Handle(42) {
		t.Errorf("Handle = %d, want 42", u.Handle)
	}
}

func TestReaderParsesExit(t *testing.T) {
	r := NewReader(strings.NewReader("exit\n"))
	cmd, err := r.Next()
	if err != nil {
		t.Fatal("unexpected error:", err)
	}
	if _, ok := cmd.(Exit); !ok {
		t.Fatalf("got %T, want Exit", cmd)
	}
}

func TestReaderReturnsEOF(t *testing.T) {
	r := NewReader(strings.NewReader(""))
	if _, err := r.Next(); err != io.EOF {
		t.Fatalf("err = %v, want io.EOF", err)
	}
}

func TestReaderRejectsUnknownCommand(t *testing.T) {
	r := NewReader(strings.NewReader("frobnicate\n"))
	if _, err := r.Next(); err == nil {
		t.Fatal("expected an error for an unrecognized command")
	}
}

func TestReaderSkipsBlankLines(t *testing.T) {
	r := NewReader(strings.NewReader("\n\n   \nexit\n"))
	cmd, err := r.Next()
	if err != nil {
		t.Fatal("unexpected error:", err)
	}
	if _, ok := cmd.(Exit); !ok {
		t.Fatalf("got %T, want Exit", cmd)
	}
}

func TestWriterChangeClassifiesRemovalAsDelete(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)

	w.Change("/tmp/a/sub1", 0x00000200) // IN_DELETE
	w.Change("/tmp/a/sub2", 0x00000002) // IN_MODIFY-ish non-removal bit

	out := buf.String()
	if !strings.Contains(out, "DELETE\n/tmp/a/sub1\n") {
		t.Errorf("expected a DELETE record for sub1, got %q", out)
	}
	if !strings.Contains(out, "CHANGE\n/tmp/a/sub2\n") {
		t.Errorf("expected a CHANGE record for sub2, got %q", out)
	}
}

func TestWriterOverflow(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)
	w.Overflow()
	if !strings.HasPrefix(buf.String(), "MESSAGE\n") {
		t.Errorf("Overflow record = %q, want a MESSAGE record", buf.String())
	}
}

func equalSlices(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
