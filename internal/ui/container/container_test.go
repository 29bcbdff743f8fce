package container

import (
	"debug/elf"
	"encoding/binary"
	"testing"

	"reflectview/internal/analysis"
	"reflectview/internal/elfx"
	"reflectview/internal/ilkind"
	"reflectview/internal/viewloc"
)

func testImage() *elfx.Image {
	words := []uint32{
		0x8b020020, // add x0, x1, x2
		0xb5000040, // cbnz x0, +8
		0xd503201f, // nop
		0xd65f03c0, // ret
	}
	data := make([]byte, 4*len(words))
	for i, w := range words {
		binary.LittleEndian.PutUint32(data[4*i:], w)
	}
	return &elfx.Image{
		All: data,
		Loads: []elfx.Seg{
			{Vaddr: 0x1000, Off: 0, Filesz: uint64(len(data)), Flags: elf.PF_R | elf.PF_X},
		},
		Text:  elfx.Section{Name: ".text", VA: 0x1000, Off: 0, Size: uint64(len(data))},
		Funcs: []elfx.Func{{Name: "frame", Start: 0x1000, End: 0x1010}},
	}
}

func testModel(t *testing.T) (Model, *analysis.Engine, *viewloc.FuncRef) {
	t.Helper()
	e := analysis.NewEngine(testImage())
	funcs := e.Functions()
	if len(funcs) != 1 {
		t.Fatalf("%d functions", len(funcs))
	}
	// Pre-run the passes both panes start on so navigation applies
	// synchronously in tests.
	if err := e.Analyze(funcs[0], ilkind.NormalGraph); err != nil {
		t.Fatal(err)
	}
	m := New(Options{Engine: e, Binary: "test.so"})
	return m, e, funcs[0]
}

func update(t *testing.T, m Model, msg any) Model {
	t.Helper()
	next, _ := m.Update(msg)
	out, ok := next.(Model)
	if !ok {
		t.Fatalf("Update returned %T", next)
	}
	return out
}

func TestNavigatePropagatesToTarget(t *testing.T) {
	m, _, f := testModel(t)

	m = update(t, m, navigateRequestMsg{f: f, addr: 0x1004})

	if !m.source.hasLoc || m.source.loc.Pos.Addr != 0x1004 {
		t.Fatalf("source loc = %+v", m.source.loc)
	}
	if !m.target.hasLoc {
		t.Fatal("location did not propagate to the reflection pane")
	}
	if m.target.loc.Func != f {
		t.Error("target points at a different function identity")
	}
	if m.source.hist.Len() != 1 || m.target.hist.Len() != 1 {
		t.Errorf("history lens = %d/%d, want 1/1",
			m.source.hist.Len(), m.target.hist.Len())
	}
}

func TestRepeatNavigationIsNoOp(t *testing.T) {
	m, _, f := testModel(t)
	m = update(t, m, navigateRequestMsg{f: f, addr: 0x1004})
	m = update(t, m, navigateRequestMsg{f: f, addr: 0x1004})

	if m.source.hist.Len() != 1 {
		t.Errorf("history len = %d after duplicate navigation, want 1", m.source.hist.Len())
	}
}

func TestLocationSyncOffLeavesTargetAlone(t *testing.T) {
	m, _, f := testModel(t)
	m.ctrl.SetLocationSyncEnabled(false)

	m = update(t, m, navigateRequestMsg{f: f, addr: 0x1004})

	if m.target.hasLoc {
		t.Error("target navigated with location sync off")
	}
}

func TestStaleAnalyzeCompletionDropped(t *testing.T) {
	m, e, f := testModel(t)
	m = update(t, m, navigateRequestMsg{f: f, addr: 0x1004})

	// Reanalysis mints a new identity; the completion for the old one
	// must not re-render or re-propagate.
	fresh := e.Reanalyze(f)
	if fresh == nil {
		t.Fatal("reanalyze failed")
	}
	targetHist := m.target.hist.Len()
	m = update(t, m, analyzeDoneMsg{f: fresh, kind: ilkind.NormalGraph})

	if m.target.hist.Len() != targetHist {
		t.Error("stale completion caused target navigation")
	}
}

func TestCursorMovePushesHistoryAndPropagates(t *testing.T) {
	m, _, f := testModel(t)
	m = update(t, m, navigateRequestMsg{f: f, addr: 0x1000})

	m = update(t, m, keyMsg("j"))

	if m.source.loc.Pos.Addr != 0x1004 {
		t.Errorf("cursor moved to %#x, want 0x1004", m.source.loc.Pos.Addr)
	}
	if m.source.hist.Len() != 2 {
		t.Errorf("history len = %d, want 2", m.source.hist.Len())
	}
	if m.target.loc.Pos.Addr != 0x1004 {
		t.Errorf("target at %#x, want propagated 0x1004", m.target.loc.Pos.Addr)
	}
}

func TestBackRestoresPreviousLocation(t *testing.T) {
	m, _, f := testModel(t)
	m = update(t, m, navigateRequestMsg{f: f, addr: 0x1000})
	m = update(t, m, keyMsg("j"))

	m = update(t, m, keyMsg("backspace"))
	if m.source.loc.Pos.Addr != 0x1000 {
		t.Errorf("back landed at %#x, want 0x1000", m.source.loc.Pos.Addr)
	}

	m = update(t, m, keyMsg("alt+right"))
	if m.source.loc.Pos.Addr != 0x1004 {
		t.Errorf("forward landed at %#x, want 0x1004", m.source.loc.Pos.Addr)
	}
}

func TestTargetCycleSetsOverride(t *testing.T) {
	m, e, f := testModel(t)
	if err := e.Analyze(f, ilkind.LinearDisassembly); err != nil {
		t.Fatal(err)
	}
	m = update(t, m, navigateRequestMsg{f: f, addr: 0x1000})

	m = update(t, m, keyMsg("2"))   // focus reflection pane
	m = update(t, m, keyMsg("tab")) // manual kind change

	st := m.ctrl.State()
	if !st.Override {
		t.Error("manual target cycle did not set override")
	}
	if _, ok := m.ctrl.Mapping(st.LastSourceKind); !ok {
		t.Error("manual mapping not stored")
	}

	m = update(t, m, keyMsg("o"))
	if m.ctrl.State().Override {
		t.Error("override not cleared")
	}
}

func TestDeferredResolveAppliesForCurrentGeneration(t *testing.T) {
	m, _, f := testModel(t)
	m = update(t, m, navigateRequestMsg{f: f, addr: 0x1000})

	loc := m.source.loc
	loc.Pos.Addr = 0x1004
	msg, ok := m.resolveCmd(loc)().(resolveDoneMsg)
	if !ok || !msg.ok {
		t.Fatalf("resolve failed: %+v", msg)
	}

	m = update(t, m, msg)
	if m.target.loc.Pos.Addr != 0x1004 {
		t.Errorf("target at %#x, want resolved 0x1004", m.target.loc.Pos.Addr)
	}
}

func TestDeferredResolveDroppedAfterNewNavigation(t *testing.T) {
	m, _, f := testModel(t)
	m = update(t, m, navigateRequestMsg{f: f, addr: 0x1004})

	cmd := m.resolveCmd(m.source.loc)
	// The user moves on before the resolution lands.
	m = update(t, m, keyMsg("k"))
	if m.target.loc.Pos.Addr != 0x1000 {
		t.Fatalf("target at %#x before delivery, want 0x1000", m.target.loc.Pos.Addr)
	}

	msg, ok := cmd().(resolveDoneMsg)
	if !ok || !msg.ok {
		t.Fatalf("resolve failed: %+v", msg)
	}
	m = update(t, m, msg)
	if m.target.loc.Pos.Addr != 0x1000 {
		t.Error("stale resolution moved the reflection pane")
	}
}
