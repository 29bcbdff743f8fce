package session

import (
	"os"
	"path/filepath"
	"testing"

	"reflectview/internal/history"
	"reflectview/internal/ilkind"
	"reflectview/internal/viewloc"
)

func sampleStack(t *testing.T) *history.Stack {
	t.Helper()
	f := &viewloc.FuncRef{Name: "main", Start: 0x1000, End: 0x1200}
	s := history.NewStack()
	for _, addr := range []uint64{0x1000, 0x1040, 0x1100} {
		loc, err := viewloc.New(f, ilkind.NormalGraph, viewloc.Position{Addr: addr}, viewloc.TokenState{})
		if err != nil {
			t.Fatal(err)
		}
		s.Push(history.Entry{Loc: loc, Kind: ilkind.NormalGraph})
	}
	if _, err := s.Back(); err != nil {
		t.Fatal(err)
	}
	return s
}

func TestSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.json")

	src := sampleStack(t)
	doc := File{
		Binary:       "/tmp/libapp.so",
		Source:       FromStack(src),
		ILSync:       true,
		LocationSync: false,
		Override:     true,
	}
	if err := Save(path, doc); err != nil {
		t.Fatal(err)
	}

	got, ok, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Fatal("Load reported missing file")
	}
	if got.Binary != doc.Binary || got.ILSync != doc.ILSync ||
		got.LocationSync != doc.LocationSync || got.Override != doc.Override {
		t.Errorf("loaded doc = %+v", got)
	}

	restored := got.Source.Restore()
	if restored.Len() != src.Len() {
		t.Fatalf("restored %d entries, want %d", restored.Len(), src.Len())
	}
	if restored.Cursor() != src.Cursor() {
		t.Errorf("cursor = %d, want %d", restored.Cursor(), src.Cursor())
	}
	want := src.Entries()
	for i, e := range restored.Entries() {
		if !e.Equal(want[i]) {
			t.Errorf("entry %d mismatch:\n got %+v\nwant %+v", i, e, want[i])
		}
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, ok, err := Load(filepath.Join(t.TempDir(), "absent.json"))
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Error("ok for a missing file")
	}
}

func TestLoadSkipsMalformedEntries(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.json")
	data := `{
  "binary": "/tmp/libapp.so",
  "source": {
    "entries": [
      {"tag": "disassembly", "funcName": "main", "funcStart": 4096, "funcEnd": 4608, "ilKind": "normal", "addr": 4096, "node": 0, "offset": 0, "scroll": 0, "cursor": 0},
      {"tag": "disassembly", "funcName": "main", "funcStart": 4096, "funcEnd": 4608, "ilKind": "not-a-kind", "addr": 4160, "node": 0, "offset": 0, "scroll": 0, "cursor": 0}
    ],
    "cursor": 1
  },
  "ilSync": true
}`
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}

	doc, ok, err := Load(path)
	if err != nil || !ok {
		t.Fatalf("Load: ok=%v err=%v", ok, err)
	}
	stack := doc.Source.Restore()
	if stack.Len() != 1 {
		t.Fatalf("stack kept %d entries, want 1 after dropping the malformed one", stack.Len())
	}
	cur, _ := stack.Current()
	if cur.Loc.Pos.Addr != 4096 {
		t.Errorf("surviving entry at %#x", cur.Loc.Pos.Addr)
	}
}
