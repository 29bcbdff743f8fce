// Package ilkind enumerates the representation kinds a function can be
// viewed as, and which of them can be rendered as a control-flow graph
// versus linear text only.
package ilkind

import "fmt"

// Kind identifies one representation level of a function.
type Kind int

const (
	NormalGraph Kind = iota // raw graph disassembly
	LinearDisassembly
	LiftedIL
	LowLevelIL
	LowLevelILSSA
	MediumLevelIL
	MediumLevelILSSA
	HighLevelIL
	DecompiledText
	numKinds
)

// capability describes how a kind can be displayed.
type capability struct {
	name   string
	graph  bool
	linear bool
}

// The registry is fixed at process start. An unknown kind anywhere past
// startup is a programmer error, not a runtime condition.
var registry = [numKinds]capability{
	NormalGraph:       {"normal", true, false},
	LinearDisassembly: {"linear", false, true},
	LiftedIL:          {"lifted", true, true},
	LowLevelIL:        {"llil", true, true},
	LowLevelILSSA:     {"llil-ssa", true, true},
	MediumLevelIL:     {"mlil", true, true},
	MediumLevelILSSA:  {"mlil-ssa", true, true},
	HighLevelIL:       {"hlil", true, true},
	DecompiledText:    {"decompiled", false, true},
}

// ErrUnknownKind reports a kind name or value outside the registry.
type ErrUnknownKind struct {
	Name string
}

func (e *ErrUnknownKind) Error() string {
	return fmt.Sprintf("unknown IL kind %q", e.Name)
}

// Valid reports whether k is a registered kind.
func (k Kind) Valid() bool {
	return k >= 0 && k < numKinds
}

// GraphDisplayable reports whether k can be rendered as a control-flow graph.
func (k Kind) GraphDisplayable() bool {
	if !k.Valid() {
		panic(fmt.Sprintf("ilkind: invalid kind %d", int(k)))
	}
	return registry[k].graph
}

// LinearDisplayable reports whether k can be rendered as linear text.
func (k Kind) LinearDisplayable() bool {
	if !k.Valid() {
		panic(fmt.Sprintf("ilkind: invalid kind %d", int(k)))
	}
	return registry[k].linear
}

func (k Kind) String() string {
	if !k.Valid() {
		return fmt.Sprintf("ilkind(%d)", int(k))
	}
	return registry[k].name
}

// Parse resolves a kind by its registry name. The serialized session
// format stores names, not ordinals, so reordering the enum cannot
// silently change the meaning of persisted entries.
func Parse(name string) (Kind, error) {
	for k := Kind(0); k < numKinds; k++ {
		if registry[k].name == name {
			return k, nil
		}
	}
	return 0, &ErrUnknownKind{Name: name}
}

// All returns every registered kind in declaration order.
func All() []Kind {
	kinds := make([]Kind, numKinds)
	for i := range kinds {
		kinds[i] = Kind(i)
	}
	return kinds
}

// DefaultTarget picks the best-effort kind a linked view should switch
// to when its source changes to src: the same kind if the target
// supports it, otherwise the nearest supported graph-displayable kind,
// otherwise the first supported linear-displayable kind. supports
// reports which kinds the target view can render; a nil supports means
// every registered kind.
func DefaultTarget(src Kind, supports func(Kind) bool) Kind {
	if supports == nil {
		supports = func(Kind) bool { return true }
	}
	if supports(src) {
		return src
	}
	// Nearest is by registry distance, preferring the lower kind on ties
	// so a missing SSA form degrades to its non-SSA sibling.
	best, bestDist := src, -1
	for k := Kind(0); k < numKinds; k++ {
		if !k.GraphDisplayable() || !supports(k) {
			continue
		}
		dist := int(k) - int(src)
		if dist < 0 {
			dist = -dist
		}
		if bestDist == -1 || dist < bestDist {
			best, bestDist = k, dist
		}
	}
	if bestDist != -1 {
		return best
	}
	for k := Kind(0); k < numKinds; k++ {
		if k.LinearDisplayable() && supports(k) {
			return k
		}
	}
	// Nothing supported at all: keep the source kind rather than invent one.
	return src
}

// Next cycles to the adjacent kind in registry order, wrapping at the
// ends. Used by the IL view cycle action.
func Next(cur Kind, forward bool) Kind {
	if forward {
		return (cur + 1) % numKinds
	}
	return (cur + numKinds - 1) % numKinds
}
