package engine

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/skirge/fsnotifierd/internal/source"
)

func mustTempTree(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	if err := os.Mkdir(filepath.Join(dir, "sub"), 0o755); err != nil {
		t.Fatal("unable to create subdirectory:", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "sub", "leaf.txt"), []byte("hi"), 0o644); err != nil {
		t.Fatal("unable to create leaf file:", err)
	}
	return dir
}

// TestWatchRegistersWholeTree verifies that Watch walks an existing directory
// tree and registers every directory it contains, without emitting CREATE
// records for contents that predate the watch.
func TestWatchRegistersWholeTree(t *testing.T) {
	dir := mustTempTree(t)
	src := newFakeSource()
	var out fakeWriter
	eng := New(src, nil, &out, nil)

	handle, err := eng.Watch(dir, nil)
	if err != nil {
		t.Fatal("unable to watch:", err)
	}
	if !src.isRegistered(handle) {
		t.Fatal("root handle not registered with the event source")
	}
	if got, want := src.registeredCount(), 2; got != want {
		t.Fatalf("registered directory count = %d, want %d (root + sub)", got, want)
	}
	if out.String() != "" {
		t.Fatal("Watch emitted CREATE records for pre-existing contents:", out.String())
	}
}

// TestWatchIsIdempotentByPath verifies that watching an already-registered
// root returns the existing handle instead of re-registering it.
func TestWatchIsIdempotentByPath(t *testing.T) {
	dir := mustTempTree(t)
	src := newFakeSource()
	eng := New(src, nil, &fakeWriter{}, nil)

	first, err := eng.Watch(dir, nil)
	if err != nil {
		t.Fatal("unable to watch:", err)
	}
	second, err := eng.Watch(dir, nil)
	if err != nil {
		t.Fatal("unable to re-watch:", err)
	}
	if first != second {
		t.Fatal("re-watching an existing root produced a different handle")
	}
	if got, want := src.registeredCount(), 2; got != want {
		t.Fatalf("registered count after duplicate watch = %d, want %d", got, want)
	}
}

// TestDispatchChildCreatedRegistersAndEmits verifies that a ChildCreated
// event both registers the new child in the tree and invokes the callback
// with the child's full path.
func TestDispatchChildCreatedRegistersAndEmits(t *testing.T) {
	dir := mustTempTree(t)
	src := newFakeSource()
	cb := &recordingCallback{}
	eng := New(src, nil, &fakeWriter{}, cb)

	rootHandle, err := eng.Watch(dir, nil)
	if err != nil {
		t.Fatal("unable to watch:", err)
	}

	newFile := filepath.Join(dir, "new.txt")
	if err := os.WriteFile(newFile, []byte("x"), 0o644); err != nil {
		t.Fatal("unable to create new file:", err)
	}

	eng.Dispatch([]source.RawEvent{{
		Kind:    source.ChildCreated,
		Handle:  rootHandle,
		ChildName: "new.txt",
		RawMask: 0x100,
	}})

	last, ok := cb.lastChange()
	if !ok {
		t.Fatal("callback was not invoked")
	}
	if last.path != newFile {
		t.Fatalf("callback path = %q, want %q", last.path, newFile)
	}

	rootNode, _ := eng.store.Get(rootHandle)
	if rootNode.findChild(newFile) == nil {
		t.Fatal("new child was not linked into the tree")
	}
}

// TestDispatchChildRemovedTearsDownSubtree verifies that removing a directory
// child unregisters every node beneath it, not just the child itself.
func TestDispatchChildRemovedTearsDownSubtree(t *testing.T) {
	dir := mustTempTree(t)
	src := newFakeSource()
	src.registersLeaf = true
	cb := &recordingCallback{}
	eng := New(src, nil, &fakeWriter{}, cb)

	rootHandle, err := eng.Watch(dir, nil)
	if err != nil {
		t.Fatal("unable to watch:", err)
	}
	rootNode, _ := eng.store.Get(rootHandle)
	subPath := filepath.Join(dir, "sub")
	subNode := rootNode.findChild(subPath)
	if subNode == nil {
		t.Fatal("expected sub directory to already be registered")
	}
	subHandle := subNode.Handle
	leafNode := subNode.findChild(filepath.Join(subPath, "leaf.txt"))
	if leafNode == nil {
		t.Fatal("expected the file beneath sub to already be registered")
	}
	leafHandle := leafNode.Handle

	if err := os.RemoveAll(subPath); err != nil {
		t.Fatal("unable to remove subdirectory:", err)
	}

	eng.Dispatch([]source.RawEvent{{
		Kind:      source.ChildRemoved,
		Handle:    rootHandle,
		ChildName: "sub",
		RawMask:   0x200,
	}})

	if src.isRegistered(subHandle) {
		t.Fatal("removed subdirectory is still registered with the event source")
	}
	if src.isRegistered(leafHandle) {
		t.Fatal("file beneath the removed subdirectory is still registered with the event source")
	}
	if rootNode.findChild(subPath) != nil {
		t.Fatal("removed subdirectory is still linked into the tree")
	}
	if cb.count() == 0 {
		t.Fatal("callback was not invoked for the removal")
	}
}

// TestDispatchSelfGoneOnRootUnregistersRoot verifies that a SelfGone event
// concerning a root node removes it from the root registry as well as the
// node store.
func TestDispatchSelfGoneOnRootUnregistersRoot(t *testing.T) {
	dir := mustTempTree(t)
	src := newFakeSource()
	eng := New(src, nil, &fakeWriter{}, nil)

	rootHandle, err := eng.Watch(dir, nil)
	if err != nil {
		t.Fatal("unable to watch:", err)
	}
	if _, ok := eng.registry.Get(rootHandle); !ok {
		t.Fatal("root was not registered")
	}

	eng.Dispatch([]source.RawEvent{{
		Kind:   source.SelfGone,
		Handle: rootHandle,
	}})

	if _, ok := eng.registry.Get(rootHandle); ok {
		t.Fatal("root registry entry survived SelfGone")
	}
	if src.isRegistered(rootHandle) {
		t.Fatal("root handle is still registered with the event source")
	}
}

// TestDispatchSelfChangedRewalksForNewChildren verifies that a SelfChanged
// event on a directory discovers a child created on disk after the initial
// walk, without requiring the kernel to name it, and writes a CREATE record
// for it to the output stream.
func TestDispatchSelfChangedRewalksForNewChildren(t *testing.T) {
	dir := mustTempTree(t)
	src := newFakeSource()
	cb := &recordingCallback{}
	var out fakeWriter
	eng := New(src, nil, &out, cb)

	rootHandle, err := eng.Watch(dir, nil)
	if err != nil {
		t.Fatal("unable to watch:", err)
	}

	newDir := filepath.Join(dir, "sibling")
	if err := os.Mkdir(newDir, 0o755); err != nil {
		t.Fatal("unable to create sibling directory:", err)
	}

	eng.Dispatch([]source.RawEvent{{
		Kind:   source.SelfChanged,
		Handle: rootHandle,
	}})

	rootNode, _ := eng.store.Get(rootHandle)
	child := rootNode.findChild(newDir)
	if child == nil {
		t.Fatal("rewalk did not discover the new sibling directory")
	}
	if !src.isRegistered(child.Handle) {
		t.Fatal("newly discovered directory was not registered with the event source")
	}

	if !strings.Contains(out.String(), "CREATE\n"+newDir+"\n") {
		t.Fatalf("rewalk did not emit a CREATE record for the new directory, output = %q", out.String())
	}
}

// TestUnwatchTearsDownEntireSubtree verifies that Unwatch on a root handle
// removes every descendant from both the node store and the event source.
func TestUnwatchTearsDownEntireSubtree(t *testing.T) {
	dir := mustTempTree(t)
	src := newFakeSource()
	eng := New(src, nil, &fakeWriter{}, nil)

	rootHandle, err := eng.Watch(dir, nil)
	if err != nil {
		t.Fatal("unable to watch:", err)
	}
	if got := eng.Count(); got != 2 {
		t.Fatalf("Count() after watch = %d, want 2", got)
	}

	if err := eng.Unwatch(rootHandle); err != nil {
		t.Fatal("unable to unwatch:", err)
	}
	if got := eng.Count(); got != 0 {
		t.Fatalf("Count() after unwatch = %d, want 0", got)
	}
	if src.registeredCount() != 0 {
		t.Fatal("event source still holds registrations after unwatch")
	}
	if _, ok := eng.registry.Get(rootHandle); ok {
		t.Fatal("root registry entry survived unwatch")
	}
}

// TestWatchHonorsIgnoreList verifies that a directory matching an ignore rule
// is excluded from the watched tree entirely.
func TestWatchHonorsIgnoreList(t *testing.T) {
	dir := mustTempTree(t)
	src := newFakeSource()
	eng := New(src, nil, &fakeWriter{}, nil)

	rootHandle, err := eng.Watch(dir, []string{"sub"})
	if err != nil {
		t.Fatal("unable to watch:", err)
	}
	rootNode, _ := eng.store.Get(rootHandle)
	if rootNode.findChild(filepath.Join(dir, "sub")) != nil {
		t.Fatal("ignored subdirectory was registered anyway")
	}
	if got, want := src.registeredCount(), 1; got != want {
		t.Fatalf("registered count = %d, want %d (root only)", got, want)
	}
}

// fakeWriter is a minimal io.Writer that records everything written to it,
// standing in for the engine's CREATE-record output stream.
type fakeWriter struct {
	data []byte
}

func (w *fakeWriter) Write(p []byte) (int, error) {
	w.data = append(w.data, p...)
	return len(p), nil
}

func (w *fakeWriter) String() string {
	return string(w.data)
}
