package components

import (
	"strings"

	"github.com/charmbracelet/lipgloss"

	"skyport/internal/adapter/tui/theme"
)

// KeyHint represents a single keybinding hint shown in the status bar.
type KeyHint struct {
	Key  string // e.g. "c"
	Desc string // e.g. "Cancel"
}

// StatusBarModel renders a bottom status bar with keybinding hints on the
// left and run info on the right.
type StatusBarModel struct {
	Hints []KeyHint
	Info  []string // joined with bullets, e.g. account and mode
	Extra string   // highlighted status text (e.g. "Cancelling...")
	width int
}

// NewStatusBar creates an empty status bar.
func NewStatusBar() StatusBarModel {
	return StatusBarModel{}
}

// SetWidth updates the available width.
func (m *StatusBarModel) SetWidth(w int) {
	m.width = w
}

// View renders the status bar as a single line.
func (m StatusBarModel) View() string {
	var hints []string
	for _, h := range m.Hints {
		hints = append(hints, theme.StatusKey.Render(h.Key)+": "+h.Desc)
	}
	left := strings.Join(hints, "  "+theme.Dim.Render("|")+"  ")

	var right string
	if len(m.Info) > 0 {
		right = theme.TextMuted.Render(strings.Join(m.Info, " "+theme.SymbolBullet+" "))
	}
	if m.Extra != "" {
		if right != "" {
			right += "  "
		}
		right += theme.TextInfo.Render(m.Extra)
	}

	gap := m.width - lipgloss.Width(left) - lipgloss.Width(right)
	if gap < 1 {
		gap = 1
	}

	bar := left + strings.Repeat(" ", gap) + right
	return theme.StatusBar.Width(m.width).Render(bar)
}
