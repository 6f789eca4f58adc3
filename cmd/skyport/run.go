package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	progressui "skyport/internal/adapter/tui/progress"
	"skyport/internal/adapter/tui/report"
	"skyport/internal/adapter/tui/theme"
	"skyport/internal/domain"
	"skyport/internal/infra/config"
	"skyport/internal/infra/logger"
	"skyport/internal/usecase/migration"
)

type runOptions struct {
	archive  string
	user     string
	password string
	simulate bool
	minDate  string
	maxDate  string
	testMode string
	noTUI    bool
}

var runOpts runOptions

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Migrate an Instagram archive to Bluesky",
	Long: `Launches the migration tool and follows it until it exits.

Credentials default to migration.username / migration.password in the config
file, or SKYPORT_BLUESKY_USERNAME / SKYPORT_BLUESKY_PASSWORD.

Example:
  skyport run --archive ~/Downloads/instagram-export --user alice.bsky.social --simulate`,
	Args: cobra.NoArgs,
	RunE: runMigration,
}

func init() {
	f := runCmd.Flags()
	f.StringVar(&runOpts.archive, "archive", "", "Folder of the extracted Instagram export")
	f.StringVar(&runOpts.user, "user", "", "Bluesky handle")
	f.StringVar(&runOpts.password, "password", "", "Bluesky app password")
	f.BoolVar(&runOpts.simulate, "simulate", false, "Estimate the migration without posting")
	f.StringVar(&runOpts.minDate, "min-date", "", "Skip posts before this date (YYYY-MM-DD)")
	f.StringVar(&runOpts.maxDate, "max-date", "", "Skip posts after this date (YYYY-MM-DD)")
	f.StringVar(&runOpts.testMode, "test-mode", "", "Use a bundled archive: small, large, video or mixed")
	f.BoolVar(&runOpts.noTUI, "no-tui", false, "Stream plain output instead of the progress screen")
}

// settings merges flags over the configured credentials.
func (o runOptions) settings(cfg *config.Config) (migration.Settings, error) {
	s := migration.Settings{
		Username:      o.user,
		Password:      o.password,
		ArchiveFolder: o.archive,
		Simulate:      o.simulate,
		TestMode:      migration.TestMode(o.testMode),
	}
	if s.Username == "" {
		s.Username = cfg.Migration.Username
	}
	if s.Password == "" {
		s.Password = cfg.Migration.Password
	}
	var err error
	if s.MinDate, err = migration.ParseDate(o.minDate); err != nil {
		return s, err
	}
	if s.MaxDate, err = migration.ParseDate(o.maxDate); err != nil {
		return s, err
	}
	return s, nil
}

func runMigration(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	settings, err := runOpts.settings(cfg)
	if err != nil {
		return err
	}
	if err := settings.Validate(); err != nil {
		return err
	}

	interactive := !runOpts.noTUI && isatty.IsTerminal(os.Stdout.Fd())
	if interactive {
		// Log lines would tear the progress screen.
		cfg.Logger.Output = tuiLogOutput(cfg)
	}
	log, closeLog, err := logger.New(cfg.Logger)
	if err != nil {
		return fmt.Errorf("logger: %w", err)
	}
	defer closeLog()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer a.Close()

	var rec domain.RunRecord
	if interactive {
		rec, err = a.runInteractive(ctx, settings)
	} else {
		rec, err = a.runPlain(ctx, settings, cmd.OutOrStdout(), cmd.ErrOrStderr())
	}
	if err != nil {
		return err
	}

	if err := a.printReport(cmd.OutOrStdout(), rec); err != nil {
		log.Warn("report rendering failed", "error", err)
	}
	return runOutcome(rec.Final)
}

// tuiLogOutput keeps file outputs and moves terminal outputs next to history.
func tuiLogOutput(cfg *config.Config) string {
	switch cfg.Logger.Output {
	case "", "stdout", "stderr":
		return filepath.Join(filepath.Dir(cfg.History.Path), "skyport.log")
	}
	return cfg.Logger.Output
}

// runInteractive shows the progress screen until the user leaves it, then
// waits for the run to settle.
func (a *app) runInteractive(ctx context.Context, settings migration.Settings) (domain.RunRecord, error) {
	theme.Apply(a.cfg.UI.Theme)

	model := progressui.New(progressui.Deps{
		Settings: settings.Redacted(),
		Cancel:   func() bool { return a.service.Cancel(context.Background()) },
	})
	progCtx, cancelProg := context.WithCancel(ctx)
	p := tea.NewProgram(model, tea.WithAltScreen(), tea.WithContext(progCtx))

	// Subscribe before starting so migration.started reaches the screen.
	unsubscribe := progressui.Forward(a.bus, p.Send)
	defer unsubscribe()
	defer cancelProg()

	run, err := a.service.Start(ctx, settings)
	if err != nil {
		return domain.RunRecord{}, err
	}

	if _, err := p.Run(); err != nil && !errors.Is(err, tea.ErrProgramKilled) {
		a.log.Warn("progress screen exited", "error", err)
	}
	cancelProg()

	if rec := model.Record(); rec != nil {
		return *rec, nil
	}
	return a.settle(run), nil
}

// runPlain streams the tool's output and warnings as text.
func (a *app) runPlain(ctx context.Context, settings migration.Settings, stdout, stderr io.Writer) (domain.RunRecord, error) {
	unsubOutput := a.bus.Subscribe(domain.EventProcessOutput, func(_ context.Context, ev domain.Event) {
		var out domain.OutputEvent
		if err := json.Unmarshal(ev.Payload, &out); err != nil {
			return
		}
		switch out.Type {
		case domain.OutputStdout:
			fmt.Fprintln(stdout, out.Data)
		case domain.OutputStderr, domain.OutputError:
			fmt.Fprintln(stderr, out.Data)
		}
	})
	defer unsubOutput()
	unsubWarn := a.bus.Subscribe(domain.EventMigrationWarning, func(_ context.Context, ev domain.Event) {
		var w domain.MigrationWarning
		if err := json.Unmarshal(ev.Payload, &w); err == nil {
			fmt.Fprintf(stderr, "%s %s\n", theme.SymbolWarning, w.Message)
		}
	})
	defer unsubWarn()

	run, err := a.service.Start(ctx, settings)
	if err != nil {
		return domain.RunRecord{}, err
	}

	select {
	case <-run.Done():
	case <-ctx.Done():
		a.log.Info("interrupted, cancelling migration", "run_id", run.ID)
		a.service.Cancel(context.Background())
	}
	return a.settle(run), nil
}

// settle waits for run to finish and returns its record, preferring the
// stored copy.
func (a *app) settle(run *migration.Run) domain.RunRecord {
	select {
	case <-run.Done():
	default:
		a.service.Cancel(context.Background())
	}
	ctx, cancel := context.WithTimeout(context.Background(), a.cfg.Launcher.CancelGrace+5*time.Second)
	defer cancel()
	final, err := run.Wait(ctx)
	if err != nil {
		a.log.Warn("migration did not settle", "run_id", run.ID, "error", err)
		final = a.service.State()
	}

	if a.store != nil {
		if rec, err := a.store.Get(ctx, run.ID); err == nil {
			return *rec
		}
	}
	return domain.RunRecord{
		ID:        run.ID,
		ProcessID: run.ProcessID,
		Settings:  run.Settings,
		StartedAt: run.StartedAt,
		EndedAt:   time.Now(),
		Final:     final,
	}
}

func (a *app) printReport(w io.Writer, rec domain.RunRecord) error {
	r, err := report.NewRenderer(a.cfg.UI.ReportStyle, reportWidth())
	if err != nil {
		return err
	}
	out, err := r.Run(rec)
	if err != nil {
		return err
	}
	_, err = fmt.Fprint(w, out)
	return err
}

// runOutcome maps a finished run to the command's error.
func runOutcome(final domain.AggregateState) error {
	if final.Phase != domain.PhaseError {
		return nil
	}
	code := 1
	if final.ExitCode != nil && *final.ExitCode > 0 {
		code = *final.ExitCode
	}
	msg := final.Message
	if msg == "" {
		msg = "migration failed"
	}
	return &runFailedError{message: msg, code: code}
}

func reportWidth() int {
	return theme.MaxContentWidth
}
