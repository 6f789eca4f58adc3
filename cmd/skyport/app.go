package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"skyport/internal/adapter/history"
	"skyport/internal/domain"
	"skyport/internal/infra/config"
	"skyport/internal/infra/tracer"
	"skyport/internal/usecase/eventbus"
	"skyport/internal/usecase/migration"
	"skyport/internal/usecase/process"
	"skyport/internal/usecase/scheduling"
)

// app holds the components shared by the run and serve commands.
type app struct {
	cfg       *config.Config
	log       *slog.Logger
	bus       *eventbus.Bus
	launcher  *process.Launcher
	store     domain.RunStore // nil when history is disabled
	service   *migration.Service
	scheduler *scheduling.Scheduler
	closers   []func()
}

// loadConfig reads the config file and applies global flags.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath())
	if err != nil {
		return nil, domain.NewDomainError("config.Load", domain.ErrConfigLoad, err.Error())
	}
	if verbose {
		cfg.Logger.Level = "debug"
	}
	return cfg, nil
}

// newApp wires tracing, the event bus, the launcher, history and the
// migration service. Close releases them in reverse order.
func newApp(ctx context.Context, cfg *config.Config, log *slog.Logger) (*app, error) {
	a := &app{cfg: cfg, log: log}

	shutdown, err := tracer.Setup(ctx, cfg.Tracer)
	if err != nil {
		return nil, fmt.Errorf("tracer: %w", err)
	}
	a.closers = append(a.closers, func() {
		if err := shutdown(context.Background()); err != nil {
			log.Warn("tracer shutdown failed", "error", err)
		}
	})

	a.bus = eventbus.New(log)
	a.closers = append(a.closers, a.bus.Close)

	if cfg.History.Enabled {
		store, err := openHistory(cfg.History.Path)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.store = store
		a.closers = append(a.closers, func() {
			if err := store.Close(); err != nil {
				log.Warn("history close failed", "error", err)
			}
		})
	}

	a.launcher = process.NewLauncher(process.LauncherConfig{
		MaxRunning:   cfg.Launcher.MaxRunning,
		HandleTTL:    cfg.Launcher.HandleTTL,
		TailLines:    cfg.Launcher.TailLines,
		MaxLineBytes: cfg.Launcher.MaxLineBytes,
		CancelGrace:  cfg.Launcher.CancelGrace,
	}, process.NewDemux(log), a.bus, log)
	a.closers = append(a.closers, func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), cfg.Launcher.CancelGrace+2*time.Second)
		defer cancel()
		a.launcher.Stop(stopCtx)
	})

	a.service = migration.NewService(migration.Config{
		Command:     cfg.Migration.Command,
		Args:        cfg.Migration.Args,
		WorkDir:     cfg.Migration.WorkDir,
		InheritEnv:  cfg.Migration.InheritEnv,
		FixturesDir: cfg.Migration.FixturesDir,
		MaxWarnings: cfg.Migration.MaxWarnings,
	}, a.launcher, a.bus, a.store, log)
	// Runs before the launcher stops so the final record is still saved.
	a.closers = append(a.closers, a.drainRun)

	if err := a.startScheduler(ctx); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func openHistory(path string) (*history.SQLiteStore, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
			return nil, domain.NewSubSystemError("history", "open", domain.ErrHistoryStore, err.Error())
		}
	}
	return history.NewSQLiteStore(path)
}

// startScheduler registers housekeeping tasks when the scheduler is enabled.
func (a *app) startScheduler(ctx context.Context) error {
	sc := a.cfg.Scheduler
	if !sc.Enabled {
		return nil
	}
	s := scheduling.NewScheduler(sc.TaskTimeout, a.log)
	s.RegisterAction(scheduling.ActionHandleReap, scheduling.ReapHandles(a.launcher, a.cfg.Launcher.HandleTTL, a.log))
	if sc.ReapSchedule != "" {
		if err := s.AddTask(scheduling.Task{Name: "reap-handles", Schedule: sc.ReapSchedule, Action: scheduling.ActionHandleReap}); err != nil {
			return err
		}
	}
	if a.store != nil && a.cfg.History.Retention > 0 {
		s.RegisterAction(scheduling.ActionHistoryPrune, scheduling.PruneHistory(a.store, a.cfg.History.Retention, a.log))
		if sc.PruneSchedule != "" {
			if err := s.AddTask(scheduling.Task{Name: "prune-history", Schedule: sc.PruneSchedule, Action: scheduling.ActionHistoryPrune}); err != nil {
				return err
			}
		}
		if err := s.RunNow(ctx, scheduling.ActionHistoryPrune); err != nil {
			a.log.Warn("initial history prune failed", "error", err)
		}
	}
	if err := s.Start(ctx); err != nil {
		return err
	}
	a.scheduler = s
	a.closers = append(a.closers, func() {
		if err := s.Stop(); err != nil {
			a.log.Warn("scheduler stop failed", "error", err)
		}
	})
	return nil
}

// drainRun cancels an active run and waits for its record to be written.
func (a *app) drainRun() {
	run := a.service.Active()
	if run == nil {
		return
	}
	a.log.Info("cancelling active migration", "run_id", run.ID)
	a.service.Cancel(context.Background())
	ctx, cancel := context.WithTimeout(context.Background(), a.cfg.Launcher.CancelGrace+5*time.Second)
	defer cancel()
	if _, err := run.Wait(ctx); err != nil {
		a.log.Warn("active migration did not finish before shutdown", "run_id", run.ID, "error", err)
	}
}

// Close releases every component in reverse order of creation.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
