package container

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss/v2"

	"reflectview/internal/analysis"
)

var (
	funcNameStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("214")).Bold(true)
	kindTagStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("81"))
	syncOnStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("78"))
	syncOffStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	overrideStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("203"))
	headerStyle   = lipgloss.NewStyle().Padding(0, 1)
)

// headerView is the function header row: demangled name, current
// address, both panes' IL kinds, sync indicators, and the analysis
// spinner while a lift pass is in flight.
func (m Model) headerView() string {
	var parts []string

	if m.source.hasLoc {
		parts = append(parts,
			funcNameStyle.Render(analysis.DisplayName(m.source.loc.Func)),
			fmt.Sprintf("@ %x", m.source.loc.Pos.Addr))
	} else {
		parts = append(parts, funcNameStyle.Render("(no function)"))
	}

	parts = append(parts, kindTagStyle.Render(
		fmt.Sprintf("[%s → %s]", m.source.kind, m.target.kind)))

	st := m.ctrl.State()
	parts = append(parts, syncFlag("IL", st.ILSync), syncFlag("LOC", st.LocationSync))
	if st.Override {
		parts = append(parts, overrideStyle.Render("OVR"))
	}

	if m.analyzing > 0 {
		parts = append(parts, m.spinner.View()+"analyzing")
	}

	return headerStyle.Width(m.width).Render(strings.Join(parts, "  "))
}

func syncFlag(label string, on bool) string {
	if on {
		return syncOnStyle.Render(label + "✓")
	}
	return syncOffStyle.Render(label + "✗")
}
