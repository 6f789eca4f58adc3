// Package migration orchestrates one migration run: it turns settings into the
// tool's environment, launches it, folds its output into progress state,
// publishes that state and records the finished run.
package migration

import (
	"context"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"skyport/internal/domain"
	"skyport/internal/infra/tracer"
	"skyport/internal/usecase/process"
	"skyport/internal/usecase/progress"
)

// Config holds how the migration tool is invoked.
type Config struct {
	Command     string
	Args        []string
	WorkDir     string
	InheritEnv  bool
	FixturesDir string
	MaxWarnings int           // 0 = unbounded
	SaveTimeout time.Duration // history write deadline (default: 5s)
}

// Run is one started migration.
type Run struct {
	ID        string
	ProcessID string
	Settings  domain.RunSettings
	StartedAt time.Time

	done  chan struct{}
	final domain.AggregateState
}

// Done is closed once the run's process exited and its output was folded.
func (r *Run) Done() <-chan struct{} { return r.done }

// Wait blocks until the run finishes or ctx is done. There is no built-in timeout.
func (r *Run) Wait(ctx context.Context) (domain.AggregateState, error) {
	select {
	case <-r.done:
		return r.final.Clone(), nil
	case <-ctx.Done():
		return domain.AggregateState{}, ctx.Err()
	}
}

// Service runs at most one migration at a time.
type Service struct {
	cfg        Config
	launcher   *process.Launcher
	classifier *progress.Classifier
	aggregator *progress.Aggregator
	bus        domain.EventBus
	store      domain.RunStore
	logger     *slog.Logger
	chunkLog   rate.Sometimes

	mu     sync.Mutex
	active *Run
	last   *Run
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithClassifier replaces the default rule table.
func WithClassifier(c *progress.Classifier) ServiceOption {
	return func(s *Service) { s.classifier = c }
}

// WithRand seeds flavor message selection.
func WithRand(r *rand.Rand) ServiceOption {
	return func(s *Service) {
		s.aggregator = progress.NewAggregator(progress.WithRand(r), progress.WithMaxWarnings(s.cfg.MaxWarnings))
	}
}

// NewService creates a migration service. bus and store may be nil.
func NewService(cfg Config, launcher *process.Launcher, bus domain.EventBus, store domain.RunStore, logger *slog.Logger, opts ...ServiceOption) *Service {
	if cfg.SaveTimeout <= 0 {
		cfg.SaveTimeout = 5 * time.Second
	}
	s := &Service{
		cfg:        cfg,
		launcher:   launcher,
		classifier: progress.NewClassifier(),
		aggregator: progress.NewAggregator(progress.WithMaxWarnings(cfg.MaxWarnings)),
		bus:        bus,
		store:      store,
		logger:     logger,
		chunkLog:   rate.Sometimes{First: 20, Interval: 2 * time.Second},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start validates settings, launches the migration tool and begins folding its
// output. Only one run may be active; a second Start fails with ErrRunActive.
func (s *Service) Start(ctx context.Context, settings Settings) (*Run, error) {
	ctx, span := tracer.StartSpan(ctx, "migration.start",
		trace.WithAttributes(
			tracer.StringAttr("migration.username", normalizeUsername(settings.Username)),
			tracer.StringAttr("migration.test_mode", string(settings.TestMode)),
			tracer.BoolAttr("migration.simulate", settings.Simulate),
		),
	)
	defer span.End()

	if err := settings.Validate(); err != nil {
		tracer.RecordError(span, err)
		return nil, err
	}
	env, err := BuildEnv(settings, s.cfg.FixturesDir)
	if err != nil {
		tracer.RecordError(span, err)
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.active != nil {
		err := domain.NewSubSystemError("migration", "Service.Start", domain.ErrRunActive, s.active.ID)
		tracer.RecordError(span, err)
		return nil, err
	}

	s.aggregator.Reset()

	handle, err := s.launcher.Launch(ctx, domain.LaunchConfig{
		Command:    s.cfg.Command,
		Args:       s.cfg.Args,
		Env:        env,
		WorkDir:    s.cfg.WorkDir,
		InheritEnv: s.cfg.InheritEnv,
	})
	if err != nil {
		tracer.RecordError(span, err)
		s.publish(ctx, domain.EventMigrationFinished, "", s.failedLaunchState(err))
		return nil, err
	}

	sub, err := s.launcher.Demux().Subscribe(handle.ID)
	if err != nil {
		s.launcher.Cancel(ctx, handle.ID)
		tracer.RecordError(span, err)
		return nil, err
	}

	run := &Run{
		ID:        newRunID(),
		ProcessID: handle.ID,
		Settings:  settings.Redacted(),
		StartedAt: handle.StartedAt,
		done:      make(chan struct{}),
	}
	s.active = run

	span.SetAttributes(tracer.StringAttr("migration.run_id", run.ID), tracer.StringAttr("process.id", handle.ID))
	tracer.SetOK(span)

	s.publish(ctx, domain.EventMigrationStarted, handle.ID, run.Settings)
	s.logger.Info("migration started", "run_id", run.ID, "process_id", handle.ID,
		"simulate", settings.Simulate, "test_mode", string(settings.TestMode))

	go s.consume(run, sub)
	return run, nil
}

// Cancel asks the active run's process to terminate. It returns false when no
// run is active or the signal could not be delivered.
func (s *Service) Cancel(ctx context.Context) bool {
	s.mu.Lock()
	run := s.active
	s.mu.Unlock()
	if run == nil {
		return false
	}
	return s.launcher.Cancel(ctx, run.ProcessID)
}

// State returns a snapshot of the current (or last) run's aggregate state.
func (s *Service) State() domain.AggregateState {
	return s.aggregator.Snapshot()
}

// Active returns the running migration, or nil.
func (s *Service) Active() *Run {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// Logs returns the most recent output lines of the active run, or of the last
// finished run while its process handle is still retained.
func (s *Service) Logs(n int) ([]process.TailLine, error) {
	s.mu.Lock()
	run := s.active
	if run == nil {
		run = s.last
	}
	s.mu.Unlock()
	if run == nil {
		return nil, domain.NewSubSystemError("migration", "Service.Logs", domain.ErrNotRunning, "no run yet")
	}
	return s.launcher.Tail(run.ProcessID, n)
}

func (s *Service) consume(run *Run, sub *process.Subscription) {
	ctx, span := tracer.StartSpan(context.Background(), "migration.run",
		trace.WithAttributes(tracer.StringAttr("migration.run_id", run.ID)),
	)
	defer span.End()

	sawExit := false
	for ev := range sub.Events() {
		s.forwardOutput(ctx, ev)

		if ev.Type == domain.OutputError {
			s.logger.Warn("migration output stream error", "run_id", run.ID, "error", ev.Data)
		}
		if ev.Type == domain.OutputExit {
			sawExit = true
		}

		sigs := s.classifier.ClassifyOutput(ev)
		if len(sigs) == 0 {
			continue
		}
		for _, sig := range sigs {
			pe := s.aggregator.Apply(sig)
			s.chunkLog.Do(func() {
				s.logger.Debug("migration signal", "run_id", run.ID, "rule", sig.Rule, "phase", string(s.aggregator.Snapshot().Phase))
			})
			s.publish(ctx, domain.EventMigrationProgress, run.ProcessID, pe)
			if sig.Warning != nil {
				s.publish(ctx, domain.EventMigrationWarning, run.ProcessID, sig.Warning)
			}
		}
		s.publish(ctx, domain.EventMigrationState, run.ProcessID, s.aggregator.Snapshot())
	}

	if !sawExit {
		// Subscription closed without an exit event: the handle was reaped or
		// the launcher shut down underneath the run.
		s.aggregator.Apply(domain.Signal{Kind: domain.SignalFailure, Rule: "lost_process"})
	}

	final := s.aggregator.Snapshot()
	run.final = final
	rec := &domain.RunRecord{
		ID:        run.ID,
		ProcessID: run.ProcessID,
		Settings:  run.Settings,
		StartedAt: run.StartedAt,
		EndedAt:   time.Now(),
		Final:     final,
	}
	s.save(ctx, rec)

	s.mu.Lock()
	s.active = nil
	s.last = run
	s.mu.Unlock()
	close(run.done)

	s.publish(ctx, domain.EventMigrationFinished, run.ProcessID, rec)
	span.SetAttributes(
		tracer.StringAttr("migration.phase", string(final.Phase)),
		tracer.IntAttr("migration.posts", final.PostsCreated),
		tracer.IntAttr("migration.warnings", final.WarningCount()),
		tracer.DurationAttr("migration.elapsed", rec.Elapsed()),
	)
	if final.Phase == domain.PhaseError {
		span.SetAttributes(tracer.StringAttr("migration.message", final.Message))
	} else {
		tracer.SetOK(span)
	}
	s.logger.Info("migration finished", "run_id", run.ID, "phase", string(final.Phase),
		"posts", final.PostsCreated, "warnings", final.WarningCount(), "elapsed", rec.Elapsed().Round(time.Second))
}

// forwardOutput republishes raw output on the bus. Stderr goes to both channels.
func (s *Service) forwardOutput(ctx context.Context, ev domain.OutputEvent) {
	s.publish(ctx, domain.EventProcessOutput, ev.ProcessID, ev)
	if ev.Type == domain.OutputStderr {
		s.publish(ctx, domain.EventProcessError, ev.ProcessID, ev)
	}
}

func (s *Service) save(ctx context.Context, rec *domain.RunRecord) {
	if s.store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, s.cfg.SaveTimeout)
	defer cancel()
	if err := s.store.Save(ctx, rec); err != nil {
		s.logger.Error("failed to save run history", "run_id", rec.ID, "error", err)
	}
}

func (s *Service) failedLaunchState(err error) domain.AggregateState {
	st := s.aggregator.Snapshot()
	st.Phase = domain.PhaseError
	st.Message = "Could not start the migration tool: " + err.Error()
	return st
}

func (s *Service) publish(ctx context.Context, typ domain.EventType, processID string, payload any) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(ctx, domain.NewEvent(typ, processID, payload))
}

func newRunID() string {
	return ulid.Make().String()
}
