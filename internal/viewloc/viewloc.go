// Package viewloc defines the immutable value describing where a view
// is pointing: which function, which representation, and where within
// it, plus an optional token highlight.
package viewloc

import (
	"fmt"

	"reflectview/internal/ilkind"
)

// FuncRef identifies one analyzed function. Identity is the pointer:
// reanalysis produces a fresh FuncRef even when name and address are
// unchanged, which is what lets stale update notifications be dropped
// by identity rather than by address comparison.
type FuncRef struct {
	Name  string
	Start uint64 // entry virtual address
	End   uint64 // one past the last instruction
}

// TokenKind classifies the sub-element a highlight points at.
type TokenKind int

const (
	TokenNone TokenKind = iota
	TokenRegister
	TokenImmediate
	TokenAddress
	TokenMnemonic
	TokenVariable
)

// TokenState identifies a specific token within a rendered line. It is
// always copied by value when propagated between views; views never
// share one instance.
type TokenState struct {
	Kind    TokenKind
	Text    string
	Addr    uint64 // address the token refers to, if any
	Operand int    // operand index within the line, -1 if not an operand
}

// Valid reports whether the state highlights anything.
func (t TokenState) Valid() bool {
	return t.Kind != TokenNone
}

// Position locates a point inside one representation of a function. It
// stores both the linear coordinate (Addr) and the graph coordinate
// (Node block index plus instruction Offset within it); which one is
// meaningful depends on the displayability of the IL kind it is paired
// with. The model itself does not interpret either.
type Position struct {
	Addr   uint64
	Node   int
	Offset int
}

// Location is the full "where is this view pointing" value. Construct
// with New; a Location with a nil Func is meaningless and callers must
// not build one.
type Location struct {
	Func      *FuncRef
	Kind      ilkind.Kind
	Pos       Position
	Highlight TokenState
}

// New constructs a Location. It returns an error rather than a value
// when f is nil, since every downstream consumer assumes a resolved
// function.
func New(f *FuncRef, kind ilkind.Kind, pos Position, highlight TokenState) (Location, error) {
	if f == nil {
		return Location{}, fmt.Errorf("viewloc: location requires a resolved function")
	}
	return Location{Func: f, Kind: kind, Pos: pos, Highlight: highlight}, nil
}

// Equal reports structural equality. Function identity is pointer
// identity, everything else compares by value. Used to suppress
// redundant navigation and history churn.
func Equal(a, b Location) bool {
	return a.Func == b.Func &&
		a.Kind == b.Kind &&
		a.Pos == b.Pos &&
		a.Highlight == b.Highlight
}

// WithHighlight returns a copy of loc carrying h. The receiver is not
// modified; Locations are values.
func (loc Location) WithHighlight(h TokenState) Location {
	loc.Highlight = h
	return loc
}

// ClearHighlight returns a copy of loc with no highlight.
func (loc Location) ClearHighlight() Location {
	loc.Highlight = TokenState{}
	return loc
}
