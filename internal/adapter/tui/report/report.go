// Package report renders finished runs as Markdown, printed to the terminal
// through glamour.
package report

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/glamour"

	"skyport/internal/domain"
)

// Styles accepted by NewRenderer besides "auto".
var Styles = []string{"dark", "light", "notty", "ascii", "dracula", "pink", "tokyo-night"}

// Renderer turns report Markdown into styled terminal text.
type Renderer struct {
	tr *glamour.TermRenderer
}

// NewRenderer creates a renderer. An empty style or "auto" picks one from the
// terminal background.
func NewRenderer(style string, width int) (*Renderer, error) {
	opts := []glamour.TermRendererOption{glamour.WithWordWrap(width)}
	if style == "" || style == "auto" {
		opts = append(opts, glamour.WithAutoStyle())
	} else {
		opts = append(opts, glamour.WithStandardStyle(style))
	}
	tr, err := glamour.NewTermRenderer(opts...)
	if err != nil {
		return nil, fmt.Errorf("report renderer: %w", err)
	}
	return &Renderer{tr: tr}, nil
}

// Render renders Markdown.
func (r *Renderer) Render(md string) (string, error) {
	return r.tr.Render(md)
}

// Run renders a single run record.
func (r *Renderer) Run(rec domain.RunRecord) (string, error) {
	return r.Render(RunMarkdown(rec))
}

// History renders a list of runs.
func (r *Renderer) History(runs []domain.RunRecord) (string, error) {
	return r.Render(HistoryMarkdown(runs))
}

// RunMarkdown describes one run: outcome, settings, counters and warnings.
func RunMarkdown(rec domain.RunRecord) string {
	var sb strings.Builder
	st := rec.Final

	fmt.Fprintf(&sb, "# Migration %s\n\n", rec.ID)
	fmt.Fprintf(&sb, "**%s** %s\n\n", outcome(st.Phase), escape(st.Message))

	sb.WriteString("| | |\n|---|---|\n")
	row(&sb, "Account", "@"+rec.Settings.Username)
	if rec.Settings.TestMode != "" {
		row(&sb, "Archive", "test fixture `"+rec.Settings.TestMode+"`")
	} else {
		row(&sb, "Archive", "`"+rec.Settings.ArchiveFolder+"`")
	}
	row(&sb, "Mode", mode(rec.Settings.Simulate))
	if rec.Settings.MinDate != nil || rec.Settings.MaxDate != nil {
		row(&sb, "Date range", dateRange(rec.Settings.MinDate, rec.Settings.MaxDate))
	}
	row(&sb, "Started", rec.StartedAt.Local().Format("2006-01-02 15:04:05"))
	row(&sb, "Elapsed", rec.Elapsed().Round(time.Second).String())
	if st.Duration != nil {
		row(&sb, "Tool reported", st.Duration.Round(time.Second).String())
	}
	row(&sb, "Posts created", posts(st))
	row(&sb, "Media", fmt.Sprintf("%d", st.MediaCount))
	if st.ExitCode != nil {
		row(&sb, "Exit code", fmt.Sprintf("%d", *st.ExitCode))
	}
	if st.LastPostURL != "" {
		row(&sb, "Last post", st.LastPostURL)
	}

	total := st.WarningCount()
	if total > 0 {
		fmt.Fprintf(&sb, "\n## Warnings (%d)\n\n", total)
		for _, w := range st.Warnings {
			if w.Type != "" {
				fmt.Fprintf(&sb, "- **%s** %s", w.Type, escape(w.Message))
			} else {
				fmt.Fprintf(&sb, "- %s", escape(w.Message))
			}
			if w.Details != "" {
				fmt.Fprintf(&sb, " (%s)", escape(w.Details))
			}
			sb.WriteString("\n")
		}
		if st.DroppedWarnings > 0 {
			fmt.Fprintf(&sb, "- _%d more not kept_\n", st.DroppedWarnings)
		}
	}
	return sb.String()
}

// HistoryMarkdown tabulates runs, newest first as given.
func HistoryMarkdown(runs []domain.RunRecord) string {
	if len(runs) == 0 {
		return "_No migrations recorded yet._\n"
	}

	var sb strings.Builder
	sb.WriteString("# Migration history\n\n")
	sb.WriteString("| ID | Started | Account | Result | Posts | Warnings |\n")
	sb.WriteString("|---|---|---|---|---|---|\n")
	for _, r := range runs {
		result := outcome(r.Final.Phase)
		if r.Settings.Simulate {
			result += " (simulated)"
		}
		fmt.Fprintf(&sb, "| %s | %s | @%s | %s | %s | %d |\n",
			r.ID,
			r.StartedAt.Local().Format("2006-01-02 15:04"),
			escape(r.Settings.Username),
			result,
			posts(r.Final),
			r.Final.WarningCount(),
		)
	}
	return sb.String()
}

func row(sb *strings.Builder, k, v string) {
	fmt.Fprintf(sb, "| %s | %s |\n", k, escape(v))
}

func outcome(p domain.Phase) string {
	switch p {
	case domain.PhaseComplete:
		return "Completed"
	case domain.PhaseError:
		return "Failed"
	default:
		return "Interrupted"
	}
}

func mode(simulate bool) string {
	if simulate {
		return "simulation (nothing posted)"
	}
	return "live"
}

func posts(st domain.AggregateState) string {
	if st.TotalPosts != nil {
		return fmt.Sprintf("%d of %d", st.PostsCreated, *st.TotalPosts)
	}
	return fmt.Sprintf("%d", st.PostsCreated)
}

func dateRange(minDate, maxDate *time.Time) string {
	from, to := "beginning", "now"
	if minDate != nil {
		from = minDate.Format("2006-01-02")
	}
	if maxDate != nil {
		to = maxDate.Format("2006-01-02")
	}
	return from + " to " + to
}

// escape keeps tool output from breaking table cells.
func escape(s string) string {
	s = strings.ReplaceAll(s, "|", `\|`)
	return strings.ReplaceAll(s, "\n", " ")
}
