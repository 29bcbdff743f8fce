// Package history records navigation state per view as a back/forward
// stack of entries, and defines the serialized form used for session
// persistence.
package history

import (
	"errors"
	"fmt"

	"reflectview/internal/ilkind"
	"reflectview/internal/viewloc"
)

var (
	// ErrNoHistory is returned by Back/Forward at a stack boundary. It
	// is an expected outcome, surfaced to the UI as a disabled action.
	ErrNoHistory = errors.New("history: no entry in that direction")

	// ErrMalformedEntry is returned when a serialized entry cannot be
	// decoded. The caller discards the entry and keeps loading.
	ErrMalformedEntry = errors.New("history: malformed entry")
)

// Snapshot captures view-specific layout state alongside a location so
// restoring an entry also restores how the view was framed.
type Snapshot struct {
	ScrollLine int
	CursorLine int
	Zoom       float64
}

// Entry is one recorded navigation state. The IL kind is stored
// explicitly even though the location carries it too; the serialized
// form keeps its own copy so old session files stay decodable if the
// location layout changes.
type Entry struct {
	Loc    viewloc.Location
	Kind   ilkind.Kind
	Layout Snapshot
}

// Equal compares entries structurally. Unlike viewloc.Equal, the
// function reference compares by value, since a decoded entry carries a
// freshly built FuncRef.
func (e Entry) Equal(other Entry) bool {
	if e.Kind != other.Kind || e.Layout != other.Layout {
		return false
	}
	a, b := e.Loc, other.Loc
	if (a.Func == nil) != (b.Func == nil) {
		return false
	}
	if a.Func != nil && *a.Func != *b.Func {
		return false
	}
	return a.Kind == b.Kind && a.Pos == b.Pos && a.Highlight == b.Highlight
}

// Stack is the per-view navigation history; construct with NewStack.
// Entries behind and ahead of the cursor are the back and forward
// sets; pushing while not at the tip discards the forward set.
type Stack struct {
	entries []Entry
	cur     int // index of current entry, -1 when empty
}

// NewStack returns an empty stack.
func NewStack() *Stack {
	return &Stack{cur: -1}
}

// Len reports the number of entries.
func (s *Stack) Len() int {
	return len(s.entries)
}

// Current returns the entry at the cursor.
func (s *Stack) Current() (Entry, bool) {
	if s.cur < 0 || s.cur >= len(s.entries) {
		return Entry{}, false
	}
	return s.entries[s.cur], true
}

// Push records a new navigation. A push whose location structurally
// equals the current entry's location is a no-op, so the stack never
// holds two consecutive entries for the same place. Any entries ahead
// of the cursor are discarded first.
func (s *Stack) Push(e Entry) {
	if cur, ok := s.Current(); ok && viewloc.Equal(cur.Loc, e.Loc) {
		return
	}
	if n := s.cur + 1; n >= 0 && n <= len(s.entries) {
		s.entries = s.entries[:n]
	}
	s.entries = append(s.entries, e)
	s.cur = len(s.entries) - 1
}

// Back moves the cursor one entry toward the oldest and returns the
// entry there, or ErrNoHistory if already at the bottom.
func (s *Stack) Back() (Entry, error) {
	if s.cur <= 0 {
		return Entry{}, ErrNoHistory
	}
	s.cur--
	return s.entries[s.cur], nil
}

// Forward moves the cursor one entry toward the newest and returns the
// entry there, or ErrNoHistory if already at the tip.
func (s *Stack) Forward() (Entry, error) {
	if s.cur >= len(s.entries)-1 {
		return Entry{}, ErrNoHistory
	}
	s.cur++
	return s.entries[s.cur], nil
}

// CanBack reports whether Back would succeed.
func (s *Stack) CanBack() bool { return s.cur > 0 }

// CanForward reports whether Forward would succeed.
func (s *Stack) CanForward() bool { return s.cur < len(s.entries)-1 }

// RefreshLayout replaces the current entry's layout snapshot. This is
// the only mutation an entry sees after creation; a view calls it just
// before navigating away so returning restores the latest framing.
func (s *Stack) RefreshLayout(layout Snapshot) {
	if s.cur >= 0 && s.cur < len(s.entries) {
		s.entries[s.cur].Layout = layout
	}
}

// Entries returns a copy of the stack contents in order, oldest first.
func (s *Stack) Entries() []Entry {
	out := make([]Entry, len(s.entries))
	copy(out, s.entries)
	return out
}

// Cursor returns the index of the current entry, -1 when empty.
func (s *Stack) Cursor() int { return s.cur }

// entryTag is the kind tag of the one record variant this package
// encodes. The tag exists so the session format can grow new entry
// variants without breaking old readers.
const entryTag = "disassembly"

// Record is the serialized form of an Entry. All coordinates are kept
// explicit and the IL kind is stored by registry name, so persisted
// sessions survive enum reordering.
type Record struct {
	Tag       string  `json:"tag"`
	FuncName  string  `json:"funcName"`
	FuncStart uint64  `json:"funcStart"`
	FuncEnd   uint64  `json:"funcEnd"`
	Kind      string  `json:"ilKind"`
	Addr      uint64  `json:"addr"`
	Node      int     `json:"node"`
	Offset    int     `json:"offset"`
	Scroll    int     `json:"scroll"`
	Cursor    int     `json:"cursor"`
	Zoom      float64 `json:"zoom,omitempty"`
}

// Encode converts an entry to its serialized record.
func Encode(e Entry) Record {
	r := Record{
		Tag:    entryTag,
		Kind:   e.Kind.String(),
		Addr:   e.Loc.Pos.Addr,
		Node:   e.Loc.Pos.Node,
		Offset: e.Loc.Pos.Offset,
		Scroll: e.Layout.ScrollLine,
		Cursor: e.Layout.CursorLine,
		Zoom:   e.Layout.Zoom,
	}
	if e.Loc.Func != nil {
		r.FuncName = e.Loc.Func.Name
		r.FuncStart = e.Loc.Func.Start
		r.FuncEnd = e.Loc.Func.End
	}
	return r
}

// Decode converts a record back to an entry. Unknown tags, unknown IL
// kind names, and records without a function are ErrMalformedEntry; the
// caller must drop the entry rather than apply it.
func Decode(r Record) (Entry, error) {
	if r.Tag != entryTag {
		return Entry{}, fmt.Errorf("%w: unknown tag %q", ErrMalformedEntry, r.Tag)
	}
	kind, err := ilkind.Parse(r.Kind)
	if err != nil {
		return Entry{}, fmt.Errorf("%w: %v", ErrMalformedEntry, err)
	}
	if r.FuncName == "" && r.FuncStart == 0 && r.FuncEnd == 0 {
		return Entry{}, fmt.Errorf("%w: no function", ErrMalformedEntry)
	}
	loc, err := viewloc.New(
		&viewloc.FuncRef{Name: r.FuncName, Start: r.FuncStart, End: r.FuncEnd},
		kind,
		viewloc.Position{Addr: r.Addr, Node: r.Node, Offset: r.Offset},
		viewloc.TokenState{},
	)
	if err != nil {
		return Entry{}, fmt.Errorf("%w: %v", ErrMalformedEntry, err)
	}
	return Entry{
		Loc:    loc,
		Kind:   kind,
		Layout: Snapshot{ScrollLine: r.Scroll, CursorLine: r.Cursor, Zoom: r.Zoom},
	}, nil
}

// LoadStack rebuilds a stack from serialized records, skipping any that
// fail to decode. The cursor lands on the clamped saved position. The
// number of dropped records is returned so the caller can log it.
func LoadStack(records []Record, cursor int) (*Stack, int) {
	s := NewStack()
	dropped := 0
	for _, r := range records {
		e, err := Decode(r)
		if err != nil {
			dropped++
			continue
		}
		s.entries = append(s.entries, e)
	}
	if len(s.entries) == 0 {
		return s, dropped
	}
	if cursor < 0 {
		cursor = 0
	}
	if cursor >= len(s.entries) {
		cursor = len(s.entries) - 1
	}
	s.cur = cursor
	return s, dropped
}
