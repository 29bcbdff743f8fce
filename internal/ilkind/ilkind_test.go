package ilkind

import (
	"errors"
	"testing"
)

func TestDisplayabilityFlags(t *testing.T) {
	tests := []struct {
		kind   Kind
		graph  bool
		linear bool
	}{
		{NormalGraph, true, false},
		{LinearDisassembly, false, true},
		{LowLevelIL, true, true},
		{MediumLevelILSSA, true, true},
		{DecompiledText, false, true},
	}
	for _, tt := range tests {
		if got := tt.kind.GraphDisplayable(); got != tt.graph {
			t.Errorf("%s.GraphDisplayable() = %v, want %v", tt.kind, got, tt.graph)
		}
		if got := tt.kind.LinearDisplayable(); got != tt.linear {
			t.Errorf("%s.LinearDisplayable() = %v, want %v", tt.kind, got, tt.linear)
		}
	}
}

func TestParseRoundTrip(t *testing.T) {
	for _, k := range All() {
		got, err := Parse(k.String())
		if err != nil {
			t.Fatalf("Parse(%q): %v", k.String(), err)
		}
		if got != k {
			t.Errorf("Parse(%q) = %v, want %v", k.String(), got, k)
		}
	}
}

func TestParseUnknown(t *testing.T) {
	_, err := Parse("quaternion-il")
	if err == nil {
		t.Fatal("Parse of unknown name succeeded")
	}
	var unknown *ErrUnknownKind
	if !errors.As(err, &unknown) {
		t.Fatalf("error type = %T, want *ErrUnknownKind", err)
	}
	if unknown.Name != "quaternion-il" {
		t.Errorf("unknown.Name = %q", unknown.Name)
	}
}

func TestDefaultTargetIdentity(t *testing.T) {
	// Target supports everything: identity mapping.
	for _, k := range All() {
		if got := DefaultTarget(k, nil); got != k {
			t.Errorf("DefaultTarget(%s, all) = %s, want identity", k, got)
		}
	}
}

func TestDefaultTargetNearestGraph(t *testing.T) {
	// Target cannot show SSA forms: they degrade to the nearest
	// supported graph kind.
	supports := func(k Kind) bool {
		return k != LowLevelILSSA && k != MediumLevelILSSA
	}
	if got := DefaultTarget(LowLevelILSSA, supports); got != LowLevelIL {
		t.Errorf("DefaultTarget(llil-ssa) = %s, want llil", got)
	}
	if got := DefaultTarget(MediumLevelILSSA, supports); got != MediumLevelIL {
		t.Errorf("DefaultTarget(mlil-ssa) = %s, want mlil", got)
	}
}

func TestDefaultTargetLinearFallback(t *testing.T) {
	// Target is text-only: first supported linear kind wins.
	supports := func(k Kind) bool {
		return k == LinearDisassembly || k == DecompiledText
	}
	if got := DefaultTarget(NormalGraph, supports); got != LinearDisassembly {
		t.Errorf("DefaultTarget(normal, text-only) = %s, want linear", got)
	}
}

func TestDefaultTargetNothingSupported(t *testing.T) {
	supports := func(Kind) bool { return false }
	if got := DefaultTarget(HighLevelIL, supports); got != HighLevelIL {
		t.Errorf("DefaultTarget with empty support set = %s, want source kind back", got)
	}
}

func TestNextWraps(t *testing.T) {
	if got := Next(DecompiledText, true); got != NormalGraph {
		t.Errorf("Next(last, forward) = %s, want %s", got, NormalGraph)
	}
	if got := Next(NormalGraph, false); got != DecompiledText {
		t.Errorf("Next(first, backward) = %s, want %s", got, DecompiledText)
	}
	// A full forward cycle visits every kind exactly once.
	seen := map[Kind]bool{}
	k := NormalGraph
	for i := 0; i < len(All()); i++ {
		if seen[k] {
			t.Fatalf("cycle revisited %s after %d steps", k, i)
		}
		seen[k] = true
		k = Next(k, true)
	}
	if k != NormalGraph {
		t.Errorf("cycle did not return to start, ended at %s", k)
	}
}
