package components

import (
	"strings"

	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"

	"skyport/internal/adapter/tui/theme"
	"skyport/internal/domain"
)

const maxLogLines = 500

// LogLine is one rendered line of tool output.
type LogLine struct {
	Stream domain.OutputType
	Text   string
}

// LogViewModel is a scrollable tail of the migration tool's output with
// smart auto-scroll: it follows new lines only while scrolled to the bottom.
type LogViewModel struct {
	Viewport viewport.Model
	lines    []LogLine
	partial  map[domain.OutputType]string
	ready    bool
	atBottom bool
}

// NewLogView creates an output viewer.
func NewLogView() LogViewModel {
	return LogViewModel{atBottom: true, partial: make(map[domain.OutputType]string)}
}

// SetSize sets the viewport dimensions.
func (m *LogViewModel) SetSize(w, h int) {
	if !m.ready {
		m.Viewport = viewport.New(w, h)
		m.Viewport.MouseWheelEnabled = true
		m.Viewport.MouseWheelDelta = 3
		m.ready = true
	} else {
		m.Viewport.Width = w
		m.Viewport.Height = h
	}
	m.refreshContent()
}

// AddOutput appends a raw output chunk. Chunks may end mid-line; the
// remainder is held until the rest arrives on the same stream.
func (m *LogViewModel) AddOutput(stream domain.OutputType, data string) {
	data = m.partial[stream] + data
	parts := strings.Split(data, "\n")
	m.partial[stream] = parts[len(parts)-1]
	for _, p := range parts[:len(parts)-1] {
		m.lines = append(m.lines, LogLine{Stream: stream, Text: strings.TrimRight(p, "\r")})
	}
	m.trim()
	m.refreshContent()
}

// AddLine appends a complete line, e.g. a status note from the UI itself.
func (m *LogViewModel) AddLine(stream domain.OutputType, text string) {
	m.lines = append(m.lines, LogLine{Stream: stream, Text: text})
	m.trim()
	m.refreshContent()
}

// Flush commits any held partial lines.
func (m *LogViewModel) Flush() {
	for stream, rest := range m.partial {
		if rest != "" {
			m.lines = append(m.lines, LogLine{Stream: stream, Text: rest})
		}
		delete(m.partial, stream)
	}
	m.trim()
	m.refreshContent()
}

// Lines returns the retained lines.
func (m LogViewModel) Lines() []LogLine {
	return m.lines
}

// Update handles viewport scrolling.
func (m LogViewModel) Update(msg tea.Msg) (LogViewModel, tea.Cmd) {
	if !m.ready {
		return m, nil
	}
	var cmd tea.Cmd
	m.Viewport, cmd = m.Viewport.Update(msg)
	m.atBottom = m.Viewport.AtBottom()
	return m, cmd
}

// View renders the output tail.
func (m LogViewModel) View() string {
	if !m.ready {
		return ""
	}
	return m.Viewport.View()
}

func (m *LogViewModel) trim() {
	if len(m.lines) > maxLogLines {
		m.lines = m.lines[len(m.lines)-maxLogLines:]
	}
}

func (m *LogViewModel) refreshContent() {
	if !m.ready {
		return
	}
	if len(m.lines) == 0 {
		m.Viewport.SetContent(theme.TextMuted.Render("  Waiting for output" + theme.SymbolEllipsis))
		return
	}

	var sb strings.Builder
	for _, l := range m.lines {
		switch l.Stream {
		case domain.OutputStderr, domain.OutputError:
			sb.WriteString(theme.TextWarning.Render("  " + l.Text))
		default:
			sb.WriteString(theme.TextMuted.Render("  " + l.Text))
		}
		sb.WriteString("\n")
	}
	m.Viewport.SetContent(sb.String())
	if m.atBottom {
		m.Viewport.GotoBottom()
	}
}
