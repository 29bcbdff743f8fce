package analysis

import (
	"strings"
	"testing"

	"reflectview/internal/disasm"
	"reflectview/internal/ilkind"
	"reflectview/internal/viewloc"
)

func sampleStream() disasm.Stream {
	return disasm.Stream{
		{VA: 0x1000, Op: "add", Text: "add x0, x1, x2", Args: []string{"x0", "x1", "x2"}},
		{VA: 0x1004, Op: "cbnz", Text: "cbnz x0, 0x100c", Args: []string{"x0"}, IsBranch: true, IsCond: true, Target: 0x100c},
		{VA: 0x1008, Op: "nop", Text: "nop"},
		{VA: 0x100c, Op: "ret", Text: "ret", IsRet: true},
	}
}

func TestLiftAsmOnePerInstruction(t *testing.T) {
	s := sampleStream()
	blocks := disasm.Blocks(s)
	lines := lift(ilkind.NormalGraph, "f", s, blocks)
	if len(lines) != len(s) {
		t.Fatalf("%d lines for %d instructions", len(lines), len(s))
	}
	if lines[0].Node != 0 || lines[3].Node < 1 {
		t.Errorf("block assignment: first=%d last=%d", lines[0].Node, lines[3].Node)
	}
	// Linear form carries no node.
	linear := lift(ilkind.LinearDisassembly, "f", s, blocks)
	if linear[0].Node != -1 {
		t.Errorf("linear line has node %d", linear[0].Node)
	}
}

func TestLiftLowDropsNops(t *testing.T) {
	s := sampleStream()
	blocks := disasm.Blocks(s)

	lifted := lift(ilkind.LiftedIL, "f", s, blocks)
	if len(lifted) != 4 {
		t.Errorf("lifted form kept %d lines, want mechanical 4", len(lifted))
	}
	llil := lift(ilkind.LowLevelIL, "f", s, blocks)
	if len(llil) != 3 {
		t.Errorf("llil kept %d lines, want nop dropped", len(llil))
	}
	if !strings.Contains(llil[0].Text, "x0 = x1 + x2") {
		t.Errorf("llil line 0 = %q", llil[0].Text)
	}
	if !strings.Contains(llil[2].Text, "return") {
		t.Errorf("llil line 2 = %q", llil[2].Text)
	}
}

func TestLiftSSAVersionsDefs(t *testing.T) {
	s := disasm.Stream{
		{VA: 0x1000, Op: "mov", Args: []string{"x0", "x1"}},
		{VA: 0x1004, Op: "add", Args: []string{"x0", "x0", "x2"}},
	}
	lines := lift(ilkind.LowLevelILSSA, "f", s, disasm.Blocks(s))
	if !strings.Contains(lines[0].Text, "x0#1 =") {
		t.Errorf("first def = %q, want x0#1", lines[0].Text)
	}
	if !strings.Contains(lines[1].Text, "x0#2 =") {
		t.Errorf("second def = %q, want x0#2", lines[1].Text)
	}
}

func TestLiftMediumRenamesToVariables(t *testing.T) {
	s := sampleStream()
	lines := lift(ilkind.MediumLevelIL, "f", s, disasm.Blocks(s))
	if !strings.Contains(lines[0].Text, "var_0 = var_1 + var_2") {
		t.Errorf("mlil line 0 = %q", lines[0].Text)
	}
	for _, l := range lines {
		for _, tok := range l.Tokens {
			if tok.Kind != viewloc.TokenVariable {
				t.Errorf("mlil token %q has kind %d, want variable", tok.Text, tok.Kind)
			}
		}
	}
}

func TestLiftDecompiledWrapsBody(t *testing.T) {
	s := sampleStream()
	lines := lift(ilkind.DecompiledText, "frame_main", s, disasm.Blocks(s))
	if len(lines) < 4 {
		t.Fatalf("only %d lines", len(lines))
	}
	if !strings.Contains(lines[0].Text, "frame_main()") {
		t.Errorf("signature line = %q", lines[0].Text)
	}
	if lines[1].Text != "{" || lines[len(lines)-1].Text != "}" {
		t.Error("body not wrapped in braces")
	}
	for _, l := range lines {
		if l.Node != -1 {
			t.Errorf("decompiled line %q carries node %d", l.Text, l.Node)
		}
	}
}

func TestReplaceWord(t *testing.T) {
	tests := []struct {
		text, old, new, want string
	}{
		{"x0 = x0 + x1", "x0", "var_0", "var_0 = var_0 + x1"},
		{"x1 = x10", "x1", "v", "v = x10"},
		{"flags = sp - x2", "sp", "var_3", "flags = var_3 - x2"},
	}
	for _, tt := range tests {
		if got := replaceWord(tt.text, tt.old, tt.new); got != tt.want {
			t.Errorf("replaceWord(%q, %q, %q) = %q, want %q", tt.text, tt.old, tt.new, got, tt.want)
		}
	}
}
