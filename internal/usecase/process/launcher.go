package process

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sort"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel/trace"

	"skyport/internal/domain"
	"skyport/internal/infra/tracer"
)

// DefaultTailLines is the number of lines Tail returns when no limit is given.
const DefaultTailLines = 100

// errProcessGone is returned by the signal helpers when the process already exited.
var errProcessGone = errors.New("no such process")

// LauncherConfig holds configuration for the Launcher.
type LauncherConfig struct {
	MaxRunning      int           // max concurrently running processes (default: 4)
	HandleTTL       time.Duration // reap finished handles after this (default: 30m)
	TailLines       int           // output lines retained per process (default: 2000)
	MaxLineBytes    int           // longest single output line accepted (default: 1MB)
	CancelGrace     time.Duration // SIGTERM -> SIGKILL delay on cancel (default: 5s)
	CleanupInterval time.Duration // how often to reap expired handles (default: 1m)
}

// processEntry holds the runtime state of one launched process.
type processEntry struct {
	handle    domain.ProcessHandle
	cmd       *exec.Cmd
	tail      *lineTail
	publishMu sync.Mutex // serializes stdout/stderr chunks into one ordered stream
	done      chan struct{}
	cancelled bool
}

// Launcher starts external processes and streams their output into a Demux.
// It does not serialize launches; callers that want a single active process
// must enforce that themselves.
type Launcher struct {
	entries  map[string]*processEntry
	mu       sync.Mutex
	config   LauncherConfig
	demux    *Demux
	bus      domain.EventBus
	logger   *slog.Logger
	stopOnce sync.Once
	stopCh   chan struct{}
}

// NewLauncher creates a Launcher and starts the handle reaper goroutine.
func NewLauncher(cfg LauncherConfig, demux *Demux, bus domain.EventBus, logger *slog.Logger) *Launcher {
	if cfg.MaxRunning <= 0 {
		cfg.MaxRunning = 4
	}
	if cfg.HandleTTL <= 0 {
		cfg.HandleTTL = 30 * time.Minute
	}
	if cfg.TailLines <= 0 {
		cfg.TailLines = 2000
	}
	if cfg.MaxLineBytes <= 0 {
		cfg.MaxLineBytes = 1024 * 1024
	}
	if cfg.CancelGrace <= 0 {
		cfg.CancelGrace = 5 * time.Second
	}
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = 1 * time.Minute
	}

	l := &Launcher{
		entries: make(map[string]*processEntry),
		config:  cfg,
		demux:   demux,
		bus:     bus,
		logger:  logger,
		stopCh:  make(chan struct{}),
	}
	go l.cleanupLoop()
	return l
}

// Demux returns the demultiplexer this launcher publishes into.
func (l *Launcher) Demux() *Demux { return l.demux }

// Launch starts one subprocess and returns its handle immediately. Output is
// published to the Demux under the handle ID; the first Subscribe for that ID
// receives everything published before it.
func (l *Launcher) Launch(ctx context.Context, lc domain.LaunchConfig) (*domain.ProcessHandle, error) {
	ctx, span := tracer.StartSpan(ctx, "process.launch",
		trace.WithAttributes(tracer.StringAttr("process.command", lc.Command)),
	)
	defer span.End()

	if lc.Command == "" {
		err := domain.NewSubSystemError("process", "Launcher.Launch", domain.ErrInvalidInput, "empty command")
		tracer.RecordError(span, err)
		return nil, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	running := 0
	for _, e := range l.entries {
		if e.handle.Status == domain.ProcessStatusRunning {
			running++
		}
	}
	if running >= l.config.MaxRunning {
		err := domain.NewSubSystemError("process", "Launcher.Launch", domain.ErrLimitReached,
			fmt.Sprintf("%d/%d processes running", running, l.config.MaxRunning))
		tracer.RecordError(span, err)
		return nil, err
	}

	id := l.newID()
	cmd := exec.Command(lc.Command, lc.Args...)
	cmd.Dir = lc.WorkDir
	cmd.Env = buildEnv(lc)
	setProcGroup(cmd)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, l.launchError(span, "stdout pipe", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, l.launchError(span, "stderr pipe", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, l.launchError(span, "start", err)
	}

	pid := cmd.Process.Pid
	handle := domain.ProcessHandle{
		ID:        id,
		PID:       &pid,
		Command:   lc.Command,
		Status:    domain.ProcessStatusRunning,
		StartedAt: time.Now(),
	}
	entry := &processEntry{
		handle: handle,
		cmd:    cmd,
		tail:   newLineTail(l.config.TailLines),
		done:   make(chan struct{}),
	}
	l.entries[id] = entry
	l.demux.Open(id)

	var readers sync.WaitGroup
	readers.Add(2)
	go l.readStream(entry, domain.OutputStdout, stdout, &readers)
	go l.readStream(entry, domain.OutputStderr, stderr, &readers)
	go l.waitForExit(entry, &readers)

	span.SetAttributes(tracer.StringAttr("process.id", id), tracer.IntAttr("process.pid", pid))
	tracer.SetOK(span)
	l.emitEvent(ctx, domain.EventProcessStarted, handle)
	l.logger.Info("process started", "process_id", id, "pid", pid, "command", lc.Command)

	return &handle, nil
}

// Cancel requests termination of a running process. It returns false when the
// handle is unknown, already finished, or the signal could not be delivered.
// Safe to call repeatedly.
func (l *Launcher) Cancel(ctx context.Context, processID string) bool {
	l.mu.Lock()
	entry, ok := l.entries[processID]
	if !ok || entry.handle.Status != domain.ProcessStatusRunning || entry.cancelled {
		l.mu.Unlock()
		return false
	}
	entry.cancelled = true
	l.mu.Unlock()

	if err := terminate(entry.cmd); err != nil {
		l.mu.Lock()
		entry.cancelled = false
		l.mu.Unlock()
		if !errors.Is(err, errProcessGone) {
			l.logger.Warn("process cancel failed", "process_id", processID, "error", err)
		}
		return false
	}

	go l.escalate(entry)

	l.emitEvent(ctx, domain.EventProcessCancelled, entry.snapshot(&l.mu))
	l.logger.Info("process cancel requested", "process_id", processID)
	return true
}

// Wait blocks until the process exits or ctx is done and returns its exit code.
// A process ended by a signal reports -1.
func (l *Launcher) Wait(ctx context.Context, processID string) (int, error) {
	l.mu.Lock()
	entry, ok := l.entries[processID]
	l.mu.Unlock()
	if !ok {
		return 0, domain.NewSubSystemError("process", "Launcher.Wait", domain.ErrNotFound, processID)
	}

	select {
	case <-entry.done:
	case <-ctx.Done():
		return 0, ctx.Err()
	}

	h := entry.snapshot(&l.mu)
	if h.ExitCode == nil {
		return -1, nil
	}
	return *h.ExitCode, nil
}

// Handle returns a snapshot of the handle for processID.
func (l *Launcher) Handle(processID string) (domain.ProcessHandle, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	entry, ok := l.entries[processID]
	if !ok {
		return domain.ProcessHandle{}, domain.NewSubSystemError("process", "Launcher.Handle", domain.ErrNotFound, processID)
	}
	return entry.handle, nil
}

// List returns snapshots of every tracked handle, newest first.
func (l *Launcher) List() []domain.ProcessHandle {
	l.mu.Lock()
	out := make([]domain.ProcessHandle, 0, len(l.entries))
	for _, e := range l.entries {
		out = append(out, e.handle)
	}
	l.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	return out
}

// Tail returns up to n of the most recent output lines of a process.
func (l *Launcher) Tail(processID string, n int) ([]TailLine, error) {
	l.mu.Lock()
	entry, ok := l.entries[processID]
	l.mu.Unlock()
	if !ok {
		return nil, domain.NewSubSystemError("process", "Launcher.Tail", domain.ErrNotFound, processID)
	}
	if n <= 0 {
		n = DefaultTailLines
	}
	return entry.tail.Last(n), nil
}

// Reap drops finished handles that ended before cutoff and returns how many were removed.
func (l *Launcher) Reap(cutoff time.Time) int {
	l.mu.Lock()
	var expired []string
	for id, entry := range l.entries {
		h := entry.handle
		if h.Status != domain.ProcessStatusRunning && h.EndedAt != nil && h.EndedAt.Before(cutoff) {
			delete(l.entries, id)
			expired = append(expired, id)
		}
	}
	l.mu.Unlock()

	for _, id := range expired {
		l.demux.Forget(id)
		l.logger.Debug("process handle expired", "process_id", id)
	}
	return len(expired)
}

// Stop shuts down the reaper and kills every running process.
func (l *Launcher) Stop(ctx context.Context) {
	l.stopOnce.Do(func() {
		close(l.stopCh)
	})

	l.mu.Lock()
	var running []*processEntry
	for _, e := range l.entries {
		if e.handle.Status == domain.ProcessStatusRunning {
			e.cancelled = true
			running = append(running, e)
		}
	}
	l.mu.Unlock()

	for _, e := range running {
		if err := kill(e.cmd); err != nil && !errors.Is(err, errProcessGone) {
			l.logger.Warn("process kill on stop failed", "process_id", e.handle.ID, "error", err)
		}
	}
	for _, e := range running {
		select {
		case <-e.done:
		case <-ctx.Done():
			return
		}
	}
}

// --- internal ---

func (l *Launcher) readStream(entry *processEntry, stream domain.OutputType, r io.Reader, wg *sync.WaitGroup) {
	defer wg.Done()

	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), l.config.MaxLineBytes)
	for sc.Scan() {
		l.publishChunk(entry, stream, sc.Text())
	}
	if err := sc.Err(); err != nil {
		l.publish(entry, domain.OutputEvent{
			ProcessID: entry.handle.ID,
			Type:      domain.OutputError,
			Data:      fmt.Sprintf("%s: %v", stream, err),
			Timestamp: time.Now(),
		})
		// Keep the pipe drained so the child never blocks on a full buffer.
		_, _ = io.Copy(io.Discard, r)
	}
}

func (l *Launcher) publishChunk(entry *processEntry, stream domain.OutputType, line string) {
	entry.tail.Add(string(stream), line)
	l.publish(entry, domain.OutputEvent{
		ProcessID: entry.handle.ID,
		Type:      stream,
		Data:      line,
		Timestamp: time.Now(),
	})
}

func (l *Launcher) publish(entry *processEntry, ev domain.OutputEvent) {
	entry.publishMu.Lock()
	defer entry.publishMu.Unlock()
	l.demux.Publish(ev)
}

func (l *Launcher) waitForExit(entry *processEntry, readers *sync.WaitGroup) {
	// All pipe data must be consumed before Wait closes the pipes.
	readers.Wait()
	err := entry.cmd.Wait()

	code := 0
	if err != nil {
		code = -1
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			code = exitErr.ExitCode()
		}
	}

	l.mu.Lock()
	now := time.Now()
	entry.handle.EndedAt = &now
	entry.handle.ExitCode = &code
	switch {
	case entry.cancelled:
		entry.handle.Status = domain.ProcessStatusCancelled
	case code == 0:
		entry.handle.Status = domain.ProcessStatusExited
	default:
		entry.handle.Status = domain.ProcessStatusFailed
	}
	handle := entry.handle
	l.mu.Unlock()

	l.publish(entry, domain.OutputEvent{
		ProcessID: handle.ID,
		Type:      domain.OutputExit,
		Code:      &code,
		Timestamp: now,
	})
	close(entry.done)

	l.emitEvent(context.Background(), domain.EventProcessExited, handle)
	l.logger.Info("process finished", "process_id", handle.ID, "status", handle.Status, "exit_code", code)
}

// escalate sends SIGKILL if the process ignores SIGTERM for longer than the grace period.
func (l *Launcher) escalate(entry *processEntry) {
	timer := time.NewTimer(l.config.CancelGrace)
	defer timer.Stop()
	select {
	case <-entry.done:
	case <-timer.C:
		if err := kill(entry.cmd); err != nil && !errors.Is(err, errProcessGone) {
			l.logger.Warn("process kill after grace failed", "process_id", entry.handle.ID, "error", err)
		}
	}
}

func (l *Launcher) cleanupLoop() {
	ticker := time.NewTicker(l.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-l.stopCh:
			return
		case <-ticker.C:
			l.Reap(time.Now().Add(-l.config.HandleTTL))
		}
	}
}

func (l *Launcher) emitEvent(ctx context.Context, eventType domain.EventType, handle domain.ProcessHandle) {
	if l.bus == nil {
		return
	}
	l.bus.Publish(ctx, domain.NewEvent(eventType, handle.ID, handle))
}

func (l *Launcher) launchError(span trace.Span, stage string, err error) error {
	de := domain.NewSubSystemError("process", "Launcher.Launch", fmt.Errorf("%w: %v", domain.ErrLaunchFailed, err), stage)
	tracer.RecordError(span, de)
	return de
}

func (l *Launcher) newID() string {
	return ulid.Make().String()
}

func (e *processEntry) snapshot(mu *sync.Mutex) domain.ProcessHandle {
	mu.Lock()
	defer mu.Unlock()
	return e.handle
}

// buildEnv merges the optional host environment with the configured variables.
// Configured variables come last so they take precedence. The result is never
// nil, so a process without InheritEnv really starts with only Env.
func buildEnv(lc domain.LaunchConfig) []string {
	env := make([]string, 0, len(lc.Env))
	if lc.InheritEnv {
		env = append(env, os.Environ()...)
	}
	keys := make([]string, 0, len(lc.Env))
	for k := range lc.Env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		env = append(env, k+"="+lc.Env[k])
	}
	return env
}
