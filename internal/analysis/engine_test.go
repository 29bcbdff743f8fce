package analysis

import (
	"debug/elf"
	"encoding/binary"
	"errors"
	"testing"

	"reflectview/internal/elfx"
	"reflectview/internal/ilkind"
	"reflectview/internal/viewloc"
	"reflectview/internal/viewsync"
)

// testImage builds an in-memory image with one function at 0x1000:
//
//	add x0, x1, x2
//	cbnz x0, 0x100c
//	nop
//	ret
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
		Funcs: []elfx.Func{{Name: "_Z5framev", Start: 0x1000, End: 0x1010}},
	}
}

func testEngine(t *testing.T) (*Engine, *viewloc.FuncRef) {
	t.Helper()
	e := NewEngine(testImage())
	funcs := e.Functions()
	if len(funcs) != 1 {
		t.Fatalf("engine found %d functions, want 1", len(funcs))
	}
	return e, funcs[0]
}

func TestAnalyzeProducesLines(t *testing.T) {
	e, f := testEngine(t)

	if e.IsAnalyzed(f, ilkind.NormalGraph) {
		t.Fatal("analyzed before any pass ran")
	}
	if err := e.Analyze(f, ilkind.NormalGraph); err != nil {
		t.Fatal(err)
	}
	if !e.IsAnalyzed(f, ilkind.NormalGraph) {
		t.Fatal("pass ran but IsAnalyzed is false")
	}

	lines, cur := e.RenderLines(f, ilkind.NormalGraph, viewloc.Position{Addr: 0x1008})
	if len(lines) != 4 {
		t.Fatalf("%d lines, want 4", len(lines))
	}
	if cur != 2 {
		t.Errorf("current line = %d, want 2", cur)
	}
}

func TestResolveUnanalyzedKind(t *testing.T) {
	e, f := testEngine(t)
	if err := e.Analyze(f, ilkind.NormalGraph); err != nil {
		t.Fatal(err)
	}
	_, err := e.ResolvePosition(f, ilkind.NormalGraph, viewloc.Position{Addr: 0x1004}, ilkind.LowLevelIL)
	if !errors.Is(err, viewsync.ErrUnresolvable) {
		t.Errorf("err = %v, want ErrUnresolvable for unanalyzed target kind", err)
	}
}

func TestResolveAcrossKinds(t *testing.T) {
	e, f := testEngine(t)
	for _, k := range []ilkind.Kind{ilkind.NormalGraph, ilkind.LowLevelIL} {
		if err := e.Analyze(f, k); err != nil {
			t.Fatal(err)
		}
	}

	// The nop at 0x1008 has no LLIL line; resolution lands on the last
	// line at or before it.
	pos, err := e.ResolvePosition(f, ilkind.NormalGraph, viewloc.Position{Addr: 0x1008}, ilkind.LowLevelIL)
	if err != nil {
		t.Fatal(err)
	}
	if pos.Addr != 0x1004 {
		t.Errorf("resolved addr = %#x, want %#x", pos.Addr, 0x1004)
	}
	if pos.Node < 0 {
		t.Error("graph-displayable target resolved without a node")
	}
}

func TestResolveOutsideFunction(t *testing.T) {
	e, f := testEngine(t)
	if err := e.Analyze(f, ilkind.LowLevelIL); err != nil {
		t.Fatal(err)
	}
	_, err := e.ResolvePosition(f, ilkind.NormalGraph, viewloc.Position{Addr: 0x9000}, ilkind.LowLevelIL)
	if !errors.Is(err, viewsync.ErrUnresolvable) {
		t.Errorf("err = %v, want ErrUnresolvable for out-of-extent address", err)
	}
}

func TestHasTokenAcrossRepresentations(t *testing.T) {
	e, f := testEngine(t)
	for _, k := range []ilkind.Kind{ilkind.LowLevelIL, ilkind.MediumLevelIL} {
		if err := e.Analyze(f, k); err != nil {
			t.Fatal(err)
		}
	}

	reg := viewloc.TokenState{Kind: viewloc.TokenRegister, Text: "x0"}
	if !e.HasToken(f, ilkind.LowLevelIL, reg) {
		t.Error("register token missing from llil")
	}
	// Medium level renames registers to variables; the register token
	// does not survive.
	if e.HasToken(f, ilkind.MediumLevelIL, reg) {
		t.Error("register token unexpectedly present in mlil")
	}
}

func TestFuncLookup(t *testing.T) {
	e, f := testEngine(t)

	if got, ok := e.FuncAt(0x1008); !ok || got != f {
		t.Error("FuncAt inside extent failed")
	}
	if _, ok := e.FuncAt(0x2000); ok {
		t.Error("FuncAt outside extent succeeded")
	}
	if got, ok := e.FuncByName("_Z5framev"); !ok || got != f {
		t.Error("FuncByName failed")
	}
}

func TestReanalyzeMintsNewIdentity(t *testing.T) {
	e, f := testEngine(t)
	if err := e.Analyze(f, ilkind.NormalGraph); err != nil {
		t.Fatal(err)
	}

	fresh := e.Reanalyze(f)
	if fresh == nil || fresh == f {
		t.Fatal("Reanalyze did not mint a distinct identity")
	}
	if *fresh != *f {
		t.Error("fresh identity changed symbol fields")
	}
	// Old identity is dead; new one starts unanalyzed.
	if e.IsAnalyzed(f, ilkind.NormalGraph) {
		t.Error("stale identity still answers queries")
	}
	if e.IsAnalyzed(fresh, ilkind.NormalGraph) {
		t.Error("fresh identity inherited analysis state")
	}
	if got, ok := e.FuncAt(0x1004); !ok || got != fresh {
		t.Error("function table not updated with fresh identity")
	}
}
