package progress

import (
	"encoding/json"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"skyport/internal/adapter/tui/components"
	"skyport/internal/adapter/tui/theme"
	"skyport/internal/domain"
)

// Ensure *Model satisfies tea.Model.
var _ tea.Model = (*Model)(nil)

// maxShownWarnings is how many of the most recent warnings stay on screen.
const maxShownWarnings = 5

// Deps are the inputs of the progress screen.
type Deps struct {
	Settings domain.RunSettings
	// Cancel asks the running migration to stop; nil disables the key.
	Cancel func() bool
	// QuitOnFinish exits the program as soon as the run finishes.
	QuitOnFinish bool
}

// Model is the root Bubble Tea model for a migration run.
type Model struct {
	deps Deps

	spinner spinner.Model
	bar     progress.Model
	logs    components.LogViewModel
	status  components.StatusBarModel

	state      domain.AggregateState
	record     *domain.RunRecord
	startedAt  time.Time
	now        time.Time
	finished   bool
	cancelling bool

	width  int
	height int
}

// New creates the progress screen.
func New(deps Deps) *Model {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(theme.ColorInfo)

	status := components.NewStatusBar()
	status.Info = runInfo(deps.Settings)

	m := &Model{
		deps:    deps,
		spinner: s,
		bar:     progress.New(progress.WithGradient(theme.ProgressStart, theme.ProgressEnd)),
		logs:    components.NewLogView(),
		status:  status,
		state:   domain.AggregateState{Phase: domain.PhaseStarting},
		now:     time.Now(),
	}
	m.status.Hints = m.hints()
	return m
}

// Init starts the spinner and the elapsed-time clock.
func (m *Model) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, clock())
}

// Update handles messages.
func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.layout()
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)

	case EventBusMsg:
		return m.handleEvent(msg.Event)

	case clockMsg:
		m.now = time.Now()
		if m.finished {
			return m, nil
		}
		return m, clock()

	case spinner.TickMsg:
		if m.finished {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}

	var cmd tea.Cmd
	m.logs, cmd = m.logs.Update(msg)
	return m, cmd
}

// State returns the last aggregate state seen.
func (m *Model) State() domain.AggregateState {
	return m.state
}

// Finished reports whether the run ended while the screen was up.
func (m *Model) Finished() bool {
	return m.finished
}

// Record returns the finished run as saved to history, if one was published.
func (m *Model) Record() *domain.RunRecord {
	return m.record
}

func (m *Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "ctrl+c", "q":
		if m.finished || m.deps.Cancel == nil {
			return m, tea.Quit
		}
		// First press stops the run; the screen stays until it has exited.
		if m.cancelling {
			return m, tea.Quit
		}
		m.requestCancel()
		return m, nil
	case "c":
		if !m.finished && !m.cancelling && m.deps.Cancel != nil {
			m.requestCancel()
		}
		return m, nil
	}

	var cmd tea.Cmd
	m.logs, cmd = m.logs.Update(msg)
	return m, cmd
}

func (m *Model) requestCancel() {
	if m.deps.Cancel() {
		m.cancelling = true
		m.status.Extra = "Cancelling" + theme.SymbolEllipsis
	} else {
		m.status.Extra = "Nothing to cancel"
	}
	m.status.Hints = m.hints()
}

func (m *Model) handleEvent(event domain.Event) (tea.Model, tea.Cmd) {
	switch event.Type {
	case domain.EventProcessOutput:
		var out domain.OutputEvent
		if json.Unmarshal(event.Payload, &out) == nil && out.Data != "" {
			m.logs.AddOutput(out.Type, out.Data)
		}

	case domain.EventMigrationStarted:
		m.startedAt = event.Timestamp
		var settings domain.RunSettings
		if json.Unmarshal(event.Payload, &settings) == nil && settings.Username != "" {
			m.deps.Settings = settings
			m.status.Info = runInfo(settings)
		}

	case domain.EventMigrationState:
		var st domain.AggregateState
		if json.Unmarshal(event.Payload, &st) == nil {
			m.state = st
		}

	case domain.EventMigrationFinished:
		m.finish(event)
		if m.deps.QuitOnFinish {
			return m, tea.Quit
		}
	}
	return m, nil
}

// finish accepts either a run record or, for a launch that never started,
// a bare aggregate state.
func (m *Model) finish(event domain.Event) {
	var rec domain.RunRecord
	if err := json.Unmarshal(event.Payload, &rec); err == nil && rec.ID != "" {
		m.record = &rec
		m.state = rec.Final
		if m.startedAt.IsZero() {
			m.startedAt = rec.StartedAt
		}
		m.now = rec.EndedAt
	} else {
		var st domain.AggregateState
		if json.Unmarshal(event.Payload, &st) == nil {
			m.state = st
		}
		m.now = event.Timestamp
	}
	m.finished = true
	m.cancelling = false
	m.status.Extra = ""
	m.status.Hints = m.hints()
	m.logs.Flush()
}

func (m *Model) hints() []components.KeyHint {
	if m.finished || m.deps.Cancel == nil {
		return []components.KeyHint{{Key: "↑/↓", Desc: "Scroll"}, {Key: "q", Desc: "Quit"}}
	}
	if m.cancelling {
		return []components.KeyHint{{Key: "q", Desc: "Quit now"}}
	}
	return []components.KeyHint{
		{Key: "↑/↓", Desc: "Scroll"},
		{Key: "c", Desc: "Cancel"},
		{Key: "q", Desc: "Cancel & quit"},
	}
}

func (m *Model) layout() {
	w := theme.Clamp(m.width, 20, theme.MaxContentWidth)
	m.bar.Width = w - 4
	m.status.SetWidth(m.width)

	logH := m.height - headerHeight - maxShownWarnings - 4
	if logH < 3 {
		logH = 3
	}
	m.logs.SetSize(m.width, logH)
}

func (m *Model) elapsed() time.Duration {
	if m.state.Duration != nil {
		return *m.state.Duration
	}
	if m.startedAt.IsZero() {
		return 0
	}
	return m.now.Sub(m.startedAt).Round(time.Second)
}

func clock() tea.Cmd {
	return tea.Tick(time.Second, func(time.Time) tea.Msg { return clockMsg{} })
}

func runInfo(s domain.RunSettings) []string {
	var info []string
	if s.Username != "" {
		info = append(info, "@"+s.Username)
	}
	if s.TestMode != "" {
		info = append(info, "test:"+s.TestMode)
	}
	if s.Simulate {
		info = append(info, "simulate")
	}
	return info
}
