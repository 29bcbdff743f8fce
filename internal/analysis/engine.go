// Package analysis is the in-process analysis collaborator behind the
// viewer: it decodes functions out of an ELF image, lifts them into the
// registered IL representations on demand, and answers the position and
// token correlation queries the sync layer needs.
package analysis

import (
	"fmt"
	"sort"
	"sync"

	"github.com/ianlancetaylor/demangle"

	"reflectview/internal/disasm"
	"reflectview/internal/elfx"
	"reflectview/internal/ilkind"
	"reflectview/internal/logging"
	"reflectview/internal/viewloc"
	"reflectview/internal/viewsync"
)

// funcState is everything known about one function identity. Lifted
// line tables appear per kind as analysis passes run; a kind with no
// table is "not analyzed" for resolution purposes.
type funcState struct {
	ref    *viewloc.FuncRef
	stream disasm.Stream
	blocks []disasm.Block
	lines  map[ilkind.Kind][]Line
}

// Engine owns the decoded state of an image. Queries arrive from the
// UI event loop while lift passes may run on worker goroutines, so the
// state table is mutex-guarded; results are still delivered to the UI
// as discrete messages.
type Engine struct {
	img *elfx.Image

	mu    sync.Mutex
	funcs []*viewloc.FuncRef
	state map[*viewloc.FuncRef]*funcState
}

// NewEngine builds the function table for an opened image. Nothing is
// decoded yet; representation passes run on demand.
func NewEngine(img *elfx.Image) *Engine {
	e := &Engine{
		img:   img,
		state: make(map[*viewloc.FuncRef]*funcState),
	}
	for _, fn := range img.Funcs {
		if !img.InText(fn.Start) {
			continue
		}
		ref := &viewloc.FuncRef{Name: fn.Name, Start: fn.Start, End: fn.End}
		e.funcs = append(e.funcs, ref)
		e.state[ref] = &funcState{ref: ref, lines: make(map[ilkind.Kind][]Line)}
	}
	return e
}

// Functions returns the function identities, sorted by address.
func (e *Engine) Functions() []*viewloc.FuncRef {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]*viewloc.FuncRef, len(e.funcs))
	copy(out, e.funcs)
	return out
}

// FuncAt returns the function identity covering va.
func (e *Engine) FuncAt(va uint64) (*viewloc.FuncRef, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	i := sort.Search(len(e.funcs), func(i int) bool { return e.funcs[i].Start > va })
	if i == 0 {
		return nil, false
	}
	f := e.funcs[i-1]
	if va >= f.Start && va < f.End {
		return f, true
	}
	return nil, false
}

// FuncByName looks a function up by its raw symbol name.
func (e *Engine) FuncByName(name string) (*viewloc.FuncRef, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, f := range e.funcs {
		if f.Name == name {
			return f, true
		}
	}
	return nil, false
}

// DisplayName is the demangled name shown in headers and lists.
func DisplayName(f *viewloc.FuncRef) string {
	if f == nil {
		return ""
	}
	return demangle.Filter(f.Name, demangle.NoClones)
}

// Analyze runs the lift pass producing the line table for kind. It is
// idempotent and safe to call from a worker goroutine; completion is
// reported through the returned error only.
func (e *Engine) Analyze(f *viewloc.FuncRef, kind ilkind.Kind) error {
	e.mu.Lock()
	st, ok := e.state[f]
	e.mu.Unlock()
	if !ok {
		return fmt.Errorf("analysis: unknown function %q", DisplayName(f))
	}

	e.mu.Lock()
	_, done := st.lines[kind]
	e.mu.Unlock()
	if done {
		return nil
	}

	// Decode outside the lock; worst case two goroutines decode the
	// same function and one result wins.
	size := int(f.End - f.Start)
	data, ok := e.img.ReadVA(f.Start, size)
	if !ok {
		return fmt.Errorf("analysis: %q: code bytes unmapped", DisplayName(f))
	}
	stream := disasm.DecodeARM64(data, f.Start)
	blocks := disasm.Blocks(stream)
	lines := lift(kind, DisplayName(f), stream, blocks)

	if logging.IsDebug() {
		lg := logging.NewLogger()
		lg.Debug("lift pass",
			"func", DisplayName(f), "kind", kind.String(),
			"insts", len(stream), "blocks", len(blocks), "lines", len(lines))
		lg.Close()
	}

	e.mu.Lock()
	if st.stream == nil {
		st.stream, st.blocks = stream, blocks
	}
	if _, done := st.lines[kind]; !done {
		st.lines[kind] = lines
	}
	e.mu.Unlock()
	return nil
}

// IsAnalyzed reports whether the function has a line table for kind.
func (e *Engine) IsAnalyzed(f *viewloc.FuncRef, kind ilkind.Kind) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	st, ok := e.state[f]
	if !ok {
		return false
	}
	_, done := st.lines[kind]
	return done
}

// ResolvePosition translates a position between representations of the
// same function. The match is the last target line at or before the
// source address; viewsync.ErrUnresolvable is returned when the target
// kind is not analyzed or the address has no image there.
func (e *Engine) ResolvePosition(f *viewloc.FuncRef, from ilkind.Kind, pos viewloc.Position, to ilkind.Kind) (viewloc.Position, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	st, ok := e.state[f]
	if !ok {
		return viewloc.Position{}, viewsync.ErrUnresolvable
	}
	lines, ok := st.lines[to]
	if !ok || len(lines) == 0 {
		return viewloc.Position{}, viewsync.ErrUnresolvable
	}

	addr := pos.Addr
	if addr < f.Start || addr >= f.End {
		return viewloc.Position{}, viewsync.ErrUnresolvable
	}

	best := -1
	for i, l := range lines {
		if l.Addr <= addr && (best < 0 || l.Addr >= lines[best].Addr) {
			best = i
		}
	}
	if best < 0 {
		return viewloc.Position{}, viewsync.ErrUnresolvable
	}

	out := viewloc.Position{Addr: lines[best].Addr, Node: lines[best].Node}
	if out.Node >= 0 {
		// Offset is the line's rank within its block.
		for i := 0; i < best; i++ {
			if lines[i].Node == out.Node {
				out.Offset++
			}
		}
	}
	return out, nil
}

// HasToken reports whether the same logical token appears anywhere in
// the target representation of the function.
func (e *Engine) HasToken(f *viewloc.FuncRef, kind ilkind.Kind, tok viewloc.TokenState) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	st, ok := e.state[f]
	if !ok {
		return false
	}
	for _, l := range st.lines[kind] {
		for _, t := range l.Tokens {
			if t.Kind == tok.Kind && t.Text == tok.Text {
				return true
			}
		}
	}
	return false
}

// RenderLines returns the line table for the representation plus the
// index of the line matching pos (-1 when none does). The caller must
// not mutate the returned slice.
func (e *Engine) RenderLines(f *viewloc.FuncRef, kind ilkind.Kind, pos viewloc.Position) ([]Line, int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	st, ok := e.state[f]
	if !ok {
		return nil, -1
	}
	lines := st.lines[kind]
	best := -1
	for i, l := range lines {
		if l.Addr <= pos.Addr && (best < 0 || l.Addr >= lines[best].Addr) {
			best = i
		}
	}
	return lines, best
}

// Reanalyze discards everything known about f and mints a fresh
// identity for the same symbol. Notifications carrying the old pointer
// become stale by construction.
func (e *Engine) Reanalyze(f *viewloc.FuncRef) *viewloc.FuncRef {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.state[f]
	if !ok {
		return nil
	}
	fresh := &viewloc.FuncRef{Name: f.Name, Start: f.Start, End: f.End}
	delete(e.state, f)
	e.state[fresh] = &funcState{ref: fresh, lines: make(map[ilkind.Kind][]Line)}
	for i, cur := range e.funcs {
		if cur == f {
			e.funcs[i] = fresh
			break
		}
	}
	return fresh
}
