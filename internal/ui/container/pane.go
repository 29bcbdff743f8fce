package container

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/v2/viewport"
	"github.com/charmbracelet/lipgloss/v2"

	"reflectview/internal/analysis"
	"reflectview/internal/history"
	"reflectview/internal/ilkind"
	"reflectview/internal/ui/colorize"
	"reflectview/internal/viewloc"
)

// Pane is one view over a function: a representation kind, the current
// location, and its own navigation history. The target pane doubles as
// the sync controller's TargetView.
type Pane struct {
	title  string
	engine *analysis.Engine

	vp     viewport.Model
	kind   ilkind.Kind
	loc    viewloc.Location
	hasLoc bool
	hist   *history.Stack

	curLine int
	lines   []analysis.Line
}

func newPane(title string, engine *analysis.Engine, kind ilkind.Kind) *Pane {
	vp := viewport.New()
	vp.SetWidth(80)
	vp.SetHeight(24)
	return &Pane{
		title:   title,
		engine:  engine,
		vp:      vp,
		kind:    kind,
		hist:    history.NewStack(),
		curLine: -1,
	}
}

// ILKind returns the pane's current representation kind.
func (p *Pane) ILKind() ilkind.Kind { return p.kind }

// SetILKind switches the representation, keeping the current location
// if one is set. The new kind's line table may not exist yet; render
// shows a placeholder until the analysis pass lands.
func (p *Pane) SetILKind(kind ilkind.Kind) {
	if kind == p.kind {
		return
	}
	p.kind = kind
	if p.hasLoc {
		p.loc.Kind = kind
		p.pushHistory()
	}
	p.render()
}

// Location returns the pane's current view location.
func (p *Pane) Location() (viewloc.Location, bool) { return p.loc, p.hasLoc }

// ApplyLocation navigates the pane, recording history. Structurally
// equal locations are a no-op.
func (p *Pane) ApplyLocation(loc viewloc.Location) bool {
	if loc.Func == nil {
		return false
	}
	if p.hasLoc && viewloc.Equal(p.loc, loc) {
		return false
	}
	if p.hasLoc {
		p.hist.RefreshLayout(p.layout())
	}
	p.loc = loc
	p.hasLoc = true
	p.kind = loc.Kind
	p.pushHistory()
	p.render()
	return true
}

// SupportsKind reports which kinds this pane can render. Both panes
// render every registered kind; the hook exists for the mapping default
// logic, which degrades gracefully for more limited views.
func (p *Pane) SupportsKind(kind ilkind.Kind) bool { return kind.Valid() }

// Analyzed reports whether the pane's current function has a line table
// at its current kind.
func (p *Pane) Analyzed() bool {
	return p.hasLoc && p.engine.IsAnalyzed(p.loc.Func, p.kind)
}

func (p *Pane) pushHistory() {
	p.hist.Push(history.Entry{Loc: p.loc, Kind: p.kind, Layout: p.layout()})
}

func (p *Pane) layout() history.Snapshot {
	return history.Snapshot{ScrollLine: p.vp.YOffset, CursorLine: p.curLine}
}

// back moves through history. The returned location must be applied
// without pushing a new entry.
func (p *Pane) back() (history.Entry, error) {
	p.hist.RefreshLayout(p.layout())
	return p.hist.Back()
}

func (p *Pane) forward() (history.Entry, error) {
	p.hist.RefreshLayout(p.layout())
	return p.hist.Forward()
}

// restore applies a history entry without recording a new one.
func (p *Pane) restore(e history.Entry) {
	p.loc = e.Loc
	p.hasLoc = true
	p.kind = e.Kind
	p.render()
	p.vp.SetYOffset(e.Layout.ScrollLine)
	p.curLine = e.Layout.CursorLine
}

// moveCursor shifts the current line and returns the location it now
// corresponds to, for propagation and history.
func (p *Pane) moveCursor(delta int) (viewloc.Location, bool) {
	if !p.hasLoc || len(p.lines) == 0 {
		return viewloc.Location{}, false
	}
	next := p.curLine + delta
	if next < 0 {
		next = 0
	}
	if next >= len(p.lines) {
		next = len(p.lines) - 1
	}
	if next == p.curLine {
		return viewloc.Location{}, false
	}
	p.curLine = next
	line := p.lines[next]
	loc := p.loc
	loc.Pos = viewloc.Position{Addr: line.Addr, Node: line.Node}
	loc.Highlight = viewloc.TokenState{}
	p.loc = loc
	p.pushHistory()
	p.renderContent()
	p.scrollToCursor()
	return loc, true
}

// highlightToken cycles the highlight across the current line's tokens
// and returns the updated location.
func (p *Pane) highlightToken() (viewloc.Location, bool) {
	if !p.hasLoc || p.curLine < 0 || p.curLine >= len(p.lines) {
		return viewloc.Location{}, false
	}
	toks := p.lines[p.curLine].Tokens
	if len(toks) == 0 {
		return viewloc.Location{}, false
	}
	next := 0
	if p.loc.Highlight.Valid() {
		for i, t := range toks {
			if t == p.loc.Highlight {
				next = (i + 1) % len(toks)
				break
			}
		}
	}
	p.loc = p.loc.WithHighlight(toks[next])
	p.renderContent()
	return p.loc, true
}

// render refreshes the pane's line table and content.
func (p *Pane) render() {
	if !p.hasLoc {
		p.vp.SetContent("  no function selected")
		p.lines, p.curLine = nil, -1
		return
	}
	if !p.engine.IsAnalyzed(p.loc.Func, p.kind) {
		p.vp.SetContent(fmt.Sprintf("  analyzing %s as %s...", analysis.DisplayName(p.loc.Func), p.kind))
		p.lines, p.curLine = nil, -1
		return
	}
	p.lines, p.curLine = p.engine.RenderLines(p.loc.Func, p.kind, p.loc.Pos)
	p.renderContent()
	p.scrollToCursor()
}

var (
	cursorStyle    = lipgloss.NewStyle().Background(lipgloss.Color("236"))
	highlightStyle = lipgloss.NewStyle().Background(lipgloss.Color("58"))
)

func (p *Pane) renderContent() {
	var b strings.Builder
	for i, line := range p.lines {
		text := p.colorLine(line.Text)
		if p.loc.Highlight.Valid() && lineHasToken(line, p.loc.Highlight) {
			text = highlightLine(line.Text, p.loc.Highlight.Text)
		}
		if i == p.curLine {
			text = cursorStyle.Render("> ") + text
		} else {
			text = "  " + text
		}
		b.WriteString(text)
		b.WriteByte('\n')
	}
	p.vp.SetContent(b.String())
}

func (p *Pane) colorLine(text string) string {
	var out string
	var err error
	if p.kind == ilkind.DecompiledText {
		out, err = colorize.PseudoC(text)
	} else {
		out, err = colorize.Assembly(text)
	}
	if err != nil {
		return text
	}
	return strings.TrimRight(out, "\n")
}

func lineHasToken(line analysis.Line, tok viewloc.TokenState) bool {
	for _, t := range line.Tokens {
		if t.Kind == tok.Kind && t.Text == tok.Text {
			return true
		}
	}
	return false
}

// highlightLine marks every occurrence of the token text. Plain string
// match is enough at this layer; token identity was already checked.
func highlightLine(text, token string) string {
	if token == "" {
		return text
	}
	return strings.ReplaceAll(text, token, highlightStyle.Render(token))
}

func (p *Pane) scrollToCursor() {
	if p.curLine < 0 {
		return
	}
	top := p.vp.YOffset
	h := p.vp.Height()
	if p.curLine < top {
		p.vp.SetYOffset(p.curLine)
	} else if p.curLine >= top+h {
		p.vp.SetYOffset(p.curLine - h + 1)
	}
}

func (p *Pane) setSize(w, h int) {
	p.vp.SetWidth(w)
	p.vp.SetHeight(h)
}
