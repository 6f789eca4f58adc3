// Package scheduling runs recurring housekeeping: pruning old run history and
// reaping finished process handles.
package scheduling

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"skyport/internal/domain"
)

// Action identifies a type of housekeeping job.
type Action string

const (
	ActionHistoryPrune Action = "history_prune"
	ActionHandleReap   Action = "handle_reap"
)

// Task binds an action to a schedule.
type Task struct {
	Name     string
	Schedule string // cron expression "0 3 * * *" OR duration "10m"
	Action   Action
}

// Scheduler runs tasks using cron expressions or fixed intervals.
type Scheduler struct {
	cron        *cron.Cron
	actions     map[Action]func(ctx context.Context) error
	entries     map[string]cron.EntryID
	taskTimeout time.Duration
	logger      *slog.Logger
	mu          sync.Mutex
	started     bool
	ctx         context.Context
	cancel      context.CancelFunc
}

// NewScheduler creates a scheduler. Each run of a task gets taskTimeout
// (default: 1m) before its context is cancelled.
func NewScheduler(taskTimeout time.Duration, logger *slog.Logger) *Scheduler {
	if taskTimeout <= 0 {
		taskTimeout = time.Minute
	}
	return &Scheduler{
		cron:        cron.New(),
		actions:     make(map[Action]func(ctx context.Context) error),
		entries:     make(map[string]cron.EntryID),
		taskTimeout: taskTimeout,
		logger:      logger,
	}
}

// RegisterAction registers the handler for an action.
func (s *Scheduler) RegisterAction(action Action, fn func(ctx context.Context) error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.actions[action] = fn
}

// AddTask schedules a task. Task names must be unique.
func (s *Scheduler) AddTask(task Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	fn, ok := s.actions[task.Action]
	if !ok {
		return fmt.Errorf("scheduler: unknown action %q for task %q", task.Action, task.Name)
	}
	if _, dup := s.entries[task.Name]; dup {
		return fmt.Errorf("scheduler: task %q already exists", task.Name)
	}

	schedule, err := ParseSchedule(task.Schedule)
	if err != nil {
		return fmt.Errorf("scheduler: invalid schedule %q for task %q: %w", task.Schedule, task.Name, err)
	}

	name := task.Name
	s.entries[name] = s.cron.Schedule(schedule, cron.FuncJob(func() { s.run(name, fn) }))
	s.logger.Info("task added to scheduler", "name", name, "schedule", task.Schedule, "action", string(task.Action))
	return nil
}

// RunNow executes the action of a scheduled task immediately, outside the schedule.
func (s *Scheduler) RunNow(ctx context.Context, action Action) error {
	s.mu.Lock()
	fn, ok := s.actions[action]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("scheduler: unknown action %q", action)
	}
	taskCtx, cancel := context.WithTimeout(ctx, s.taskTimeout)
	defer cancel()
	return fn(taskCtx)
}

// NextRun returns the next run time of a named task, or nil if it is unknown
// or the scheduler has not started.
func (s *Scheduler) NextRun(name string) *time.Time {
	s.mu.Lock()
	id, ok := s.entries[name]
	s.mu.Unlock()
	if !ok {
		return nil
	}
	entry := s.cron.Entry(id)
	if entry.ID == 0 || entry.Next.IsZero() {
		return nil
	}
	t := entry.Next
	return &t
}

func (s *Scheduler) run(name string, fn func(ctx context.Context) error) {
	s.mu.Lock()
	ctx := s.ctx
	s.mu.Unlock()

	if ctx == nil || ctx.Err() != nil {
		s.logger.Debug("scheduler stopped, skipping task", "task", name)
		return
	}

	taskCtx, cancel := context.WithTimeout(ctx, s.taskTimeout)
	defer cancel()

	start := time.Now()
	if err := fn(taskCtx); err != nil {
		s.logger.Warn("scheduled task failed", "task", name, "error", err, "duration", time.Since(start))
		return
	}
	s.logger.Debug("scheduled task completed", "task", name, "duration", time.Since(start))
}

// Start begins running the scheduler.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return nil
	}
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.cron.Start()
	s.started = true
	return nil
}

// Stop cancels running tasks and waits for them to return.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return nil
	}
	if s.cancel != nil {
		s.cancel()
	}
	s.started = false
	s.mu.Unlock()

	// Jobs take s.mu, so wait for them without holding it.
	<-s.cron.Stop().Done()
	return nil
}

// ParseSchedule parses a cron expression, falling back to a positive duration.
func ParseSchedule(schedule string) (cron.Schedule, error) {
	if schedule == "" {
		return nil, fmt.Errorf("empty schedule")
	}

	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	if sched, err := parser.Parse(schedule); err == nil {
		return sched, nil
	}

	dur, err := time.ParseDuration(schedule)
	if err != nil {
		return nil, fmt.Errorf("not a valid cron expression or duration: %q", schedule)
	}
	if dur <= 0 {
		return nil, fmt.Errorf("duration must be positive: %q", schedule)
	}
	return &constantDelay{delay: dur}, nil
}

// constantDelay fires at a fixed interval. Unlike cron.Every it keeps
// sub-second precision.
type constantDelay struct {
	delay time.Duration
}

func (d *constantDelay) Next(t time.Time) time.Time {
	return t.Add(d.delay)
}

// --- housekeeping actions ---

// Reaper forgets finished process handles that ended before cutoff.
type Reaper interface {
	Reap(cutoff time.Time) int
}

// PruneHistory returns an action that deletes runs older than retention.
func PruneHistory(store domain.RunStore, retention time.Duration, logger *slog.Logger) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		n, err := store.Prune(ctx, time.Now().Add(-retention))
		if err != nil {
			return err
		}
		if n > 0 {
			logger.Info("pruned run history", "removed", n, "retention", retention)
		}
		return nil
	}
}

// ReapHandles returns an action that drops process handles finished longer than ttl ago.
func ReapHandles(r Reaper, ttl time.Duration, logger *slog.Logger) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		if n := r.Reap(time.Now().Add(-ttl)); n > 0 {
			logger.Debug("reaped process handles", "removed", n)
		}
		return ctx.Err()
	}
}
