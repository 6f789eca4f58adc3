package domain

import "time"

// ProcessStatus represents the lifecycle state of a launched process.
type ProcessStatus string

const (
	ProcessStatusRunning   ProcessStatus = "running"
	ProcessStatusExited    ProcessStatus = "exited"
	ProcessStatusFailed    ProcessStatus = "failed"
	ProcessStatusCancelled ProcessStatus = "cancelled"
)

// LaunchConfig describes one subprocess invocation.
type LaunchConfig struct {
	Command string            `json:"command"`
	Args    []string          `json:"args,omitempty"`
	Env     map[string]string `json:"-"` // may carry credentials; never serialized
	WorkDir string            `json:"workdir,omitempty"`
	// InheritEnv prepends the host environment before Env. Entries in Env win.
	InheritEnv bool `json:"inherit_env,omitempty"`
}

// ProcessHandle identifies one launched subprocess. It is owned by the launcher;
// other components only hold its ID.
type ProcessHandle struct {
	ID        string        `json:"id"`
	PID       *int          `json:"pid,omitempty"`
	Command   string        `json:"command"`
	Status    ProcessStatus `json:"status"`
	ExitCode  *int          `json:"exit_code,omitempty"`
	StartedAt time.Time     `json:"started_at"`
	EndedAt   *time.Time    `json:"ended_at,omitempty"`
}

// Running reports whether the handle still refers to a live process.
func (h ProcessHandle) Running() bool {
	return h.Status == ProcessStatusRunning
}

// OutputType discriminates OutputEvent.
type OutputType string

const (
	OutputStdout OutputType = "stdout"
	OutputStderr OutputType = "stderr"
	OutputExit   OutputType = "exit"
	OutputError  OutputType = "error"
)

// OutputEvent is one chunk of subprocess output, or its terminal exit notification.
// Data is set for stdout/stderr/error, Code only for exit.
type OutputEvent struct {
	ProcessID string     `json:"processId"`
	Type      OutputType `json:"type"`
	Data      string     `json:"data,omitempty"`
	Code      *int       `json:"code,omitempty"`
	Timestamp time.Time  `json:"timestamp"`
}

// IsTerminal reports whether no further events follow this one for its process.
func (e OutputEvent) IsTerminal() bool {
	return e.Type == OutputExit
}
