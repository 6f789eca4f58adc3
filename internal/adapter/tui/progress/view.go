package progress

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"skyport/internal/adapter/tui/theme"
	"skyport/internal/domain"
)

// headerHeight is the number of lines above the warnings block.
const headerHeight = 9

// View renders the screen.
func (m *Model) View() string {
	if m.width == 0 {
		return "  Initializing" + theme.SymbolEllipsis
	}

	sections := []string{
		theme.Title.Render("  Instagram " + theme.SymbolArrowR + " Bluesky"),
		m.phaseLine(),
		"  " + m.barView(),
		m.statsLine(),
		m.lastPostLine(),
		m.warningsView(),
		m.logs.View(),
		m.status.View(),
	}
	return lipgloss.JoinVertical(lipgloss.Left, sections...)
}

func (m *Model) phaseLine() string {
	msg := m.state.Message
	switch m.state.Phase {
	case domain.PhaseComplete:
		if msg == "" {
			msg = "Migration complete"
		}
		return "  " + theme.TextSuccess.Render(theme.SymbolSuccess+" "+msg)
	case domain.PhaseError:
		if msg == "" {
			msg = "Migration failed"
		}
		return "  " + theme.TextError.Render(theme.SymbolError+" "+msg)
	}
	if msg == "" {
		msg = "Starting migration" + theme.SymbolEllipsis
	}
	if m.finished {
		return "  " + theme.TextMuted.Render(msg)
	}
	return "  " + m.spinner.View() + " " + msg
}

func (m *Model) barView() string {
	if m.state.Percentage == nil {
		if m.state.Phase == domain.PhaseComplete {
			return m.bar.ViewAs(1)
		}
		return m.bar.ViewAs(0)
	}
	return m.bar.ViewAs(float64(*m.state.Percentage) / 100)
}

func (m *Model) statsLine() string {
	posts := fmt.Sprintf("%d", m.state.PostsCreated)
	if m.state.TotalPosts != nil {
		posts = fmt.Sprintf("%d/%d", m.state.PostsCreated, *m.state.TotalPosts)
	}
	pct := "-"
	if m.state.Percentage != nil {
		pct = fmt.Sprintf("%d%%", *m.state.Percentage)
	}

	cards := []string{
		statCard("Posts", posts),
		statCard("Media", fmt.Sprintf("%d", m.state.MediaCount)),
		statCard("Progress", pct),
		statCard("Elapsed", formatElapsed(m.elapsed())),
	}
	return "  " + lipgloss.JoinHorizontal(lipgloss.Top, cards...)
}

func statCard(label, value string) string {
	return theme.StatCard.Render(theme.StatLabel.Render(label) + " " + theme.StatValue.Render(value))
}

func (m *Model) lastPostLine() string {
	if m.state.LastPostURL == "" {
		return ""
	}
	return "  " + theme.TextMuted.Render("Last post "+theme.SymbolArrowR+" ") + theme.TextAccent.Render(m.state.LastPostURL)
}

func (m *Model) warningsView() string {
	total := m.state.WarningCount()
	if total == 0 {
		return ""
	}

	var sb strings.Builder
	sb.WriteString("  " + theme.TextWarning.Render(fmt.Sprintf("%s %d warning(s)", theme.SymbolWarning, total)) + "\n")

	shown := m.state.Warnings
	if len(shown) > maxShownWarnings {
		shown = shown[len(shown)-maxShownWarnings:]
	}
	for _, w := range shown {
		line := fmt.Sprintf("    %s %s", theme.SymbolBullet, w.Message)
		if w.Type != "" {
			line = fmt.Sprintf("    %s [%s] %s", theme.SymbolBullet, w.Type, w.Message)
		}
		sb.WriteString(theme.TextMuted.Render(line) + "\n")
	}
	if hidden := total - len(shown); hidden > 0 {
		sb.WriteString(theme.Dim.Render(fmt.Sprintf("    %s and %d more", theme.SymbolEllipsis, hidden)) + "\n")
	}
	return strings.TrimRight(sb.String(), "\n")
}

func formatElapsed(d time.Duration) string {
	if d <= 0 {
		return "0s"
	}
	d = d.Round(time.Second)
	h := int(d.Hours())
	mnt := int(d.Minutes()) % 60
	s := int(d.Seconds()) % 60
	if h > 0 {
		return fmt.Sprintf("%dh%02dm%02ds", h, mnt, s)
	}
	if mnt > 0 {
		return fmt.Sprintf("%dm%02ds", mnt, s)
	}
	return fmt.Sprintf("%ds", s)
}
