package container

import (
	"strings"

	"reflectview/internal/reflectview/styles"
)

const helpText = `# reflectview

Two linked panes over one binary: the left pane is the view you drive,
the right pane is its reflection in another representation.

## Navigation

- ` + "`g`" + ` go to address (hex)
- ` + "`f`" + ` function list
- ` + "`j`" + `/` + "`k`" + ` move cursor, ` + "`h`" + ` cycle token highlight
- ` + "`backspace`" + ` / ` + "`alt+left`" + ` back, ` + "`alt+right`" + ` forward
- ` + "`1`" + `/` + "`2`" + ` focus left / right pane

## Representations

- ` + "`tab`" + ` / ` + "`shift+tab`" + ` cycle the focused pane's view
- ` + "`i`" + ` toggle view sync, ` + "`l`" + ` toggle location sync
- ` + "`o`" + ` clear a manual view pairing

Cycling the right pane pins a manual pairing for the current left-pane
view; the left pane keeps driving locations either way.
`

func (m Model) helpView() string {
	r := styles.GetMarkdownRenderer(m.width - 4)
	out, err := r.Render(helpText)
	if err != nil {
		return helpText
	}
	// Clamp to the available rows so the menu bar stays visible.
	lines := strings.Split(out, "\n")
	maxRows := m.height - 2
	if maxRows > 0 && len(lines) > maxRows {
		lines = lines[:maxRows]
	}
	return strings.Join(lines, "\n")
}
