// Package container hosts the linked-pane composite: a source pane and
// a reflection pane over one binary, a function header, and the sync
// controller wiring between them. All state transitions happen in the
// bubbletea update loop, one event at a time.
package container

import (
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/charmbracelet/bubbles/v2/list"
	"github.com/charmbracelet/bubbles/v2/spinner"
	tea "github.com/charmbracelet/bubbletea/v2"
	"github.com/charmbracelet/lipgloss/v2"

	"reflectview/internal/analysis"
	"reflectview/internal/events"
	"reflectview/internal/history"
	"reflectview/internal/ilkind"
	"reflectview/internal/session"
	"reflectview/internal/viewloc"
	"reflectview/internal/viewsync"
)

// analyzeDoneMsg reports a finished lift pass. The function identity it
// was requested for rides along so stale completions can be dropped.
type analyzeDoneMsg struct {
	f    *viewloc.FuncRef
	kind ilkind.Kind
	err  error
}

// resolveDoneMsg carries a deferred cross-representation resolution.
type resolveDoneMsg struct {
	gen uint64
	f   *viewloc.FuncRef
	loc viewloc.Location
	ok  bool
}

// progressMsg wraps one analysis event-stream record.
type progressMsg events.Progress

// eventsClosedMsg signals the end of the event stream.
type eventsClosedMsg struct{}

type funcItem struct {
	ref *viewloc.FuncRef
}

func (i funcItem) Title() string {
	return fmt.Sprintf("%x  %s", i.ref.Start, analysis.DisplayName(i.ref))
}
func (i funcItem) Description() string { return "" }
func (i funcItem) FilterValue() string { return analysis.DisplayName(i.ref) }

type funcDelegate struct{}

func (d funcDelegate) Height() int                               { return 1 }
func (d funcDelegate) Spacing() int                              { return 0 }
func (d funcDelegate) Update(msg tea.Msg, m *list.Model) tea.Cmd { return nil }

func (d funcDelegate) Render(w io.Writer, m list.Model, index int, listItem list.Item) {
	i, ok := listItem.(funcItem)
	if !ok {
		return
	}
	indicator := " "
	addrStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	if index == m.Index() {
		indicator = ">"
		addrStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("170"))
	}
	fmt.Fprintf(w, " %s  %s  %s",
		indicator,
		addrStyle.Render(fmt.Sprintf("%x", i.ref.Start)),
		analysis.DisplayName(i.ref))
}

// Model is the composite widget. It owns both panes, the controller
// session pairing them, and the function-selection overlay.
type Model struct {
	engine *analysis.Engine
	binary string

	source *Pane
	target *Pane
	ctrl   *viewsync.Controller

	funcList  list.Model
	spinner   spinner.Model
	showFuncs bool
	showHelp  bool

	focusTarget bool
	gotoMode    bool
	gotoBuf     string

	analyzing int // in-flight lift passes, drives the header spinner

	stream      *events.Stream
	sessionPath string

	// deferred initial navigation, resolved during Init so the analyze
	// command flows through the normal message loop
	pendingFunc *viewloc.FuncRef
	pendingAddr uint64

	width  int
	height int
}

// Options configures the composite at startup.
type Options struct {
	Engine      *analysis.Engine
	Binary      string
	Stream      *events.Stream // optional analysis event stream
	SessionPath string         // optional session persistence
	InitialFunc *viewloc.FuncRef
	InitialAddr uint64
}

// New builds the composite, restoring a saved session when one exists.
func New(opts Options) Model {
	src := newPane("source", opts.Engine, ilkind.NormalGraph)
	tgt := newPane("reflection", opts.Engine, ilkind.NormalGraph)

	items := []list.Item{}
	for _, f := range opts.Engine.Functions() {
		items = append(items, funcItem{ref: f})
	}
	fl := list.New(items, funcDelegate{}, 80, 24)
	fl.SetShowStatusBar(false)
	fl.SetFilteringEnabled(true)
	fl.Title = "Functions"
	fl.Styles.Title = lipgloss.NewStyle().
		Foreground(lipgloss.Color("99")).
		MarginLeft(2)

	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("170"))

	m := Model{
		engine:      opts.Engine,
		binary:      opts.Binary,
		source:      src,
		target:      tgt,
		ctrl:        viewsync.New(tgt, opts.Engine),
		funcList:    fl,
		spinner:     s,
		stream:      opts.Stream,
		sessionPath: opts.SessionPath,
		width:       80,
		height:      24,
	}

	if opts.SessionPath != "" {
		m.restoreSession()
	}
	if opts.InitialFunc != nil {
		m.pendingFunc = opts.InitialFunc
		m.pendingAddr = opts.InitialAddr
	}
	return m
}

func (m *Model) restoreSession() {
	doc, ok, err := session.Load(m.sessionPath)
	if err != nil {
		slog.Warn("session restore failed", "error", err)
		return
	}
	if !ok || doc.Binary != m.binary {
		return
	}
	m.source.hist = doc.Source.Restore()
	m.target.hist = doc.Target.Restore()
	m.ctrl.SetILSyncEnabled(doc.ILSync)
	m.ctrl.SetLocationSyncEnabled(doc.LocationSync)
	slog.Info("session restored",
		"source", m.source.hist.Len(), "target", m.target.hist.Len())
}

func (m *Model) saveSession() {
	if m.sessionPath == "" {
		return
	}
	st := m.ctrl.State()
	doc := session.File{
		Binary:       m.binary,
		Source:       session.FromStack(m.source.hist),
		Target:       session.FromStack(m.target.hist),
		ILSync:       st.ILSync,
		LocationSync: st.LocationSync,
		Override:     st.Override,
	}
	if err := session.Save(m.sessionPath, doc); err != nil {
		slog.Warn("session save failed", "error", err)
	}
}

func (m Model) Init() tea.Cmd {
	cmds := []tea.Cmd{m.spinner.Tick}
	if m.stream != nil {
		cmds = append(cmds, waitForEvent(m.stream))
	}
	if m.pendingFunc != nil {
		cmds = append(cmds, func() tea.Msg {
			return navigateRequestMsg{f: m.pendingFunc, addr: m.pendingAddr}
		})
	}
	return tea.Batch(cmds...)
}

// navigateRequestMsg asks the composite to navigate its source pane.
type navigateRequestMsg struct {
	f    *viewloc.FuncRef
	addr uint64
}

func waitForEvent(s *events.Stream) tea.Cmd {
	return func() tea.Msg {
		p, ok := <-s.Events()
		if !ok {
			return eventsClosedMsg{}
		}
		return progressMsg(p)
	}
}

func (m Model) analyzeCmd(f *viewloc.FuncRef, kind ilkind.Kind) tea.Cmd {
	engine := m.engine
	return func() tea.Msg {
		err := engine.Analyze(f, kind)
		return analyzeDoneMsg{f: f, kind: kind, err: err}
	}
}

// resolveCmd translates a source location into the target's current
// representation off the update loop. The generation stamp is taken
// now; by delivery the user may have moved on and the result is dropped.
func (m Model) resolveCmd(loc viewloc.Location) tea.Cmd {
	gen, f := m.ctrl.Generation()
	engine := m.engine
	tgtKind := m.target.kind
	return func() tea.Msg {
		pos, err := engine.ResolvePosition(loc.Func, loc.Kind, loc.Pos, tgtKind)
		if err != nil {
			return resolveDoneMsg{gen: gen, f: f}
		}
		out := viewloc.Location{Func: loc.Func, Kind: tgtKind, Pos: pos}
		if loc.Highlight.Valid() && engine.HasToken(loc.Func, tgtKind, loc.Highlight) {
			out.Highlight = loc.Highlight
		}
		return resolveDoneMsg{gen: gen, f: f, loc: out, ok: true}
	}
}

// ensureAnalyzed kicks a lift pass for the pane's current function and
// kind if the line table is missing.
func (m *Model) ensureAnalyzed(p *Pane) tea.Cmd {
	if !p.hasLoc || p.Analyzed() {
		return nil
	}
	m.analyzing++
	return m.analyzeCmd(p.loc.Func, p.kind)
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd

	switch msg := msg.(type) {
	case navigateRequestMsg:
		return m.navigateSource(msg.f, msg.addr)

	case analyzeDoneMsg:
		if m.analyzing > 0 {
			m.analyzing--
		}
		if msg.err != nil {
			slog.Warn("lift pass failed", "error", msg.err)
			return m, nil
		}
		// Coalesce: apply only to panes still showing the function the
		// pass was requested for, by identity.
		var cmds []tea.Cmd
		for _, p := range []*Pane{m.source, m.target} {
			if p.hasLoc && p.loc.Func == msg.f && p.kind == msg.kind {
				p.render()
			}
		}
		// The source may have been waiting on this table to propagate.
		if m.source.hasLoc && m.source.loc.Func == msg.f {
			if msg.kind == m.target.kind {
				// The reflection table just arrived; finish the pending
				// propagation off the update loop.
				cmds = append(cmds, m.resolveCmd(m.source.loc))
			} else {
				m.ctrl.OnSourceLocationChanged(m.source.loc)
				if c := m.ensureAnalyzed(m.target); c != nil {
					cmds = append(cmds, c)
				}
			}
		}
		return m, tea.Batch(cmds...)

	case resolveDoneMsg:
		if msg.ok {
			m.ctrl.ApplyResolved(msg.gen, msg.f, msg.loc)
		}
		return m, nil

	case progressMsg:
		cmds := []tea.Cmd{waitForEvent(m.stream)}
		if c := m.applyProgress(events.Progress(msg)); c != nil {
			cmds = append(cmds, c)
		}
		return m, tea.Batch(cmds...)

	case eventsClosedMsg:
		m.stream = nil
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		paneH := m.height - 4 // header + menu
		paneW := m.width/2 - 1
		m.source.setSize(paneW, paneH)
		m.target.setSize(paneW, paneH)
		m.funcList.SetWidth(m.width)
		m.funcList.SetHeight(m.height - 2)
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)
	}

	if m.showFuncs {
		m.funcList, cmd = m.funcList.Update(msg)
		return m, cmd
	}
	if m.focusTarget {
		m.target.vp, cmd = m.target.vp.Update(msg)
	} else {
		m.source.vp, cmd = m.source.vp.Update(msg)
	}
	return m, cmd
}

// applyProgress handles one analysis event-stream record. Records for
// functions no longer on screen are dropped by identity.
func (m *Model) applyProgress(p events.Progress) tea.Cmd {
	kind, err := ilkind.Parse(p.Kind)
	if err != nil {
		slog.Debug("event with unknown il kind", "kind", p.Kind)
		return nil
	}
	f, ok := m.engine.FuncAt(p.FuncAddr)
	if !ok {
		return nil
	}
	onScreen := (m.source.hasLoc && m.source.loc.Func == f) ||
		(m.target.hasLoc && m.target.loc.Func == f)
	if !onScreen {
		slog.Debug("stale progress event dropped", "addr", p.FuncAddr)
		return nil
	}
	if p.State == "done" && !m.engine.IsAnalyzed(f, kind) {
		m.analyzing++
		return m.analyzeCmd(f, kind)
	}
	return nil
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd

	if m.showFuncs {
		if m.funcList.FilterState() == list.Filtering {
			switch msg.String() {
			case "ctrl+c":
				m.saveSession()
				return m, tea.Quit
			}
			m.funcList, cmd = m.funcList.Update(msg)
			return m, cmd
		}
		switch msg.String() {
		case "q", "ctrl+c":
			m.saveSession()
			return m, tea.Quit
		case "esc", "f":
			m.showFuncs = false
			return m, nil
		case "enter":
			if item, ok := m.funcList.SelectedItem().(funcItem); ok {
				m.showFuncs = false
				return m.navigateSource(item.ref, item.ref.Start)
			}
			return m, nil
		}
		m.funcList, cmd = m.funcList.Update(msg)
		return m, cmd
	}

	if m.gotoMode {
		return m.handleGotoKey(msg)
	}

	if m.showHelp {
		switch msg.String() {
		case "q", "ctrl+c":
			m.saveSession()
			return m, tea.Quit
		default:
			m.showHelp = false
			return m, nil
		}
	}

	switch msg.String() {
	case "?":
		m.showHelp = true
		return m, nil

	case "q", "ctrl+c":
		m.saveSession()
		return m, tea.Quit

	case "f":
		m.showFuncs = true
		return m, nil

	case "g":
		m.gotoMode = true
		m.gotoBuf = ""
		return m, nil

	case "tab", "shift+tab":
		return m.cycleKind(msg.String() == "tab")

	case "1":
		m.focusTarget = false
		return m, nil
	case "2":
		m.focusTarget = true
		return m, nil

	case "i":
		on := m.ctrl.ToggleILSync()
		slog.Info("il sync toggled", "enabled", on)
		return m, nil
	case "l":
		on := m.ctrl.ToggleLocationSync()
		slog.Info("location sync toggled", "enabled", on)
		return m, nil
	case "o":
		m.ctrl.ClearOverride()
		return m, nil

	case "j", "down":
		return m.moveCursor(1)
	case "k", "up":
		return m.moveCursor(-1)

	case "h":
		return m.cycleHighlight()

	case "backspace", "alt+left":
		return m.historyStep(true)
	case "alt+right":
		return m.historyStep(false)
	}

	if m.focusTarget {
		m.target.vp, cmd = m.target.vp.Update(msg)
	} else {
		m.source.vp, cmd = m.source.vp.Update(msg)
	}
	return m, cmd
}

func (m Model) handleGotoKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch s := msg.String(); s {
	case "esc":
		m.gotoMode = false
		return m, nil
	case "enter":
		m.gotoMode = false
		var addr uint64
		if _, err := fmt.Sscanf(m.gotoBuf, "%x", &addr); err != nil {
			return m, nil
		}
		f, ok := m.engine.FuncAt(addr)
		if !ok {
			slog.Info("no function at address", "addr", fmt.Sprintf("%#x", addr))
			return m, nil
		}
		return m.navigateSource(f, addr)
	case "backspace":
		if len(m.gotoBuf) > 0 {
			m.gotoBuf = m.gotoBuf[:len(m.gotoBuf)-1]
		}
		return m, nil
	default:
		if len(s) == 1 {
			m.gotoBuf += s
		}
		return m, nil
	}
}

// navigateSource points the source pane at an address inside f and
// propagates through the controller.
func (m Model) navigateSource(f *viewloc.FuncRef, addr uint64) (tea.Model, tea.Cmd) {
	loc, err := viewloc.New(f, m.source.kind, viewloc.Position{Addr: addr}, viewloc.TokenState{})
	if err != nil {
		return m, nil
	}
	if !m.source.ApplyLocation(loc) {
		return m, nil
	}
	var cmds []tea.Cmd
	if c := m.ensureAnalyzed(m.source); c != nil {
		cmds = append(cmds, c)
	}
	m.ctrl.OnSourceLocationChanged(loc)
	if c := m.ensureAnalyzed(m.target); c != nil {
		cmds = append(cmds, c)
	}
	return m, tea.Batch(cmds...)
}

// cycleKind changes the focused pane's IL kind and routes the change
// into the controller: source-side changes may remap the target,
// target-side changes are manual overrides.
func (m Model) cycleKind(forward bool) (tea.Model, tea.Cmd) {
	if m.focusTarget {
		next := ilkind.Next(m.target.kind, forward)
		m.target.SetILKind(next)
		m.ctrl.OnTargetILKindChanged(next)
		if c := m.ensureAnalyzed(m.target); c != nil {
			return m, c
		}
		return m, nil
	}

	next := ilkind.Next(m.source.kind, forward)
	m.source.SetILKind(next)
	m.ctrl.OnSourceILKindChanged(next)

	var cmds []tea.Cmd
	if c := m.ensureAnalyzed(m.source); c != nil {
		cmds = append(cmds, c)
	}
	if c := m.ensureAnalyzed(m.target); c != nil {
		cmds = append(cmds, c)
	}
	return m, tea.Batch(cmds...)
}

func (m Model) moveCursor(delta int) (tea.Model, tea.Cmd) {
	p := m.source
	if m.focusTarget {
		p = m.target
	}
	loc, moved := p.moveCursor(delta)
	if !moved {
		return m, nil
	}
	if p == m.source {
		m.ctrl.OnSourceLocationChanged(loc)
		if c := m.ensureAnalyzed(m.target); c != nil {
			return m, c
		}
	}
	return m, nil
}

func (m Model) cycleHighlight() (tea.Model, tea.Cmd) {
	p := m.source
	if m.focusTarget {
		p = m.target
	}
	loc, changed := p.highlightToken()
	if !changed {
		return m, nil
	}
	if p == m.source {
		m.ctrl.OnSourceLocationChanged(loc)
	}
	return m, nil
}

func (m Model) historyStep(back bool) (tea.Model, tea.Cmd) {
	p := m.source
	if m.focusTarget {
		p = m.target
	}
	var (
		e   history.Entry
		err error
	)
	if back {
		e, err = p.back()
	} else {
		e, err = p.forward()
	}
	if err != nil {
		if !errors.Is(err, history.ErrNoHistory) {
			slog.Warn("history step failed", "error", err)
		}
		// Boundary: the action is simply unavailable.
		return m, nil
	}
	p.restore(e)
	var cmds []tea.Cmd
	if c := m.ensureAnalyzed(p); c != nil {
		cmds = append(cmds, c)
	}
	if p == m.source {
		m.ctrl.OnSourceLocationChanged(e.Loc)
		if c := m.ensureAnalyzed(m.target); c != nil {
			cmds = append(cmds, c)
		}
	}
	return m, tea.Batch(cmds...)
}

// CurrentHistoryEntry exposes the focused pane's current entry.
func (m Model) CurrentHistoryEntry() (history.Entry, bool) {
	if m.focusTarget {
		return m.target.hist.Current()
	}
	return m.source.hist.Current()
}

// NavigateToHistoryEntry applies an entry to the source pane, e.g. one
// restored from a session file.
func (m *Model) NavigateToHistoryEntry(e history.Entry) bool {
	f, ok := m.engine.FuncByName(e.Loc.Func.Name)
	if !ok {
		return false
	}
	loc := e.Loc
	loc.Func = f
	if !m.source.ApplyLocation(loc) {
		return false
	}
	m.ctrl.OnSourceLocationChanged(loc)
	return true
}

func (m Model) View() string {
	if m.showFuncs {
		return m.funcList.View() + "\n" + m.menuBar(" Enter: open function • Esc: close • Q: quit ")
	}
	if m.showHelp {
		return m.helpView() + "\n" + m.menuBar(" any key: close • Q: quit ")
	}

	header := m.headerView()
	panes := lipgloss.JoinHorizontal(lipgloss.Top,
		m.paneView(m.source, !m.focusTarget),
		m.paneView(m.target, m.focusTarget),
	)

	menu := " F: functions • Tab: cycle IL • I/L: sync • O: clear override • Backspace: back • ?: help • Q: quit "
	if m.gotoMode {
		menu = fmt.Sprintf(" goto: 0x%s_ (Enter to jump, Esc to cancel) ", m.gotoBuf)
	}
	return header + "\n" + panes + "\n" + m.menuBar(menu)
}

var (
	paneTitleStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("99")).Bold(true)
	paneFocusStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("170")).Bold(true)
	paneBorderStyle = lipgloss.NewStyle().Border(lipgloss.NormalBorder(), false, true, false, false)
)

func (m Model) paneView(p *Pane, focused bool) string {
	style := paneTitleStyle
	if focused {
		style = paneFocusStyle
	}
	title := style.Render(fmt.Sprintf(" %s [%s] ", p.title, p.kind))
	body := title + "\n" + p.vp.View()
	if p == m.source {
		return paneBorderStyle.Render(body)
	}
	return body
}

func (m Model) menuBar(text string) string {
	return lipgloss.NewStyle().
		Background(lipgloss.Color("235")).
		Foreground(lipgloss.Color("252")).
		Padding(0, 1).
		Width(m.width).
		Render(text)
}
