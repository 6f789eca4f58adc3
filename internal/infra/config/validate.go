package config

import (
	"fmt"
	"net"
	"strings"
)

// ValidationError accumulates config validation errors.
type ValidationError struct {
	Errors []string
}

func (v *ValidationError) Error() string {
	return "config validation failed:\n  - " + strings.Join(v.Errors, "\n  - ")
}

// HasErrors reports whether any validation errors have been recorded.
func (v *ValidationError) HasErrors() bool {
	return len(v.Errors) > 0
}

// Add records a formatted validation error.
func (v *ValidationError) Add(format string, args ...interface{}) {
	v.Errors = append(v.Errors, fmt.Sprintf(format, args...))
}

// Validate checks cfg for structural correctness. It returns a *ValidationError
// when one or more problems are found, allowing callers to inspect all issues.
func Validate(cfg *Config) error {
	ve := &ValidationError{}
	validateLogger(cfg, ve)
	validateTracer(cfg, ve)
	validateLauncher(cfg, ve)
	validateMigration(cfg, ve)
	validateGateway(cfg, ve)
	validateHistory(cfg, ve)
	validateScheduler(cfg, ve)
	validateUI(cfg, ve)
	if ve.HasErrors() {
		return ve
	}
	return nil
}

var validLogLevels = map[string]bool{"debug": true, "info": true, "warn": true, "error": true}

func validateLogger(cfg *Config, ve *ValidationError) {
	if lvl := strings.ToLower(cfg.Logger.Level); lvl != "" && !validLogLevels[lvl] {
		ve.Add("logger.level %q is invalid (use debug, info, warn or error)", cfg.Logger.Level)
	}
	switch cfg.Logger.Format {
	case "", "text", "json":
	default:
		ve.Add("logger.format %q is invalid (use text or json)", cfg.Logger.Format)
	}
}

func validateTracer(cfg *Config, ve *ValidationError) {
	if !cfg.Tracer.Enabled {
		return
	}
	switch cfg.Tracer.Exporter {
	case "", "noop", "stdout":
	default:
		ve.Add("tracer.exporter %q is invalid (use noop or stdout)", cfg.Tracer.Exporter)
	}
}

func validateLauncher(cfg *Config, ve *ValidationError) {
	l := cfg.Launcher
	if l.MaxRunning < 0 {
		ve.Add("launcher.max_running must be >= 0")
	}
	if l.TailLines < 0 {
		ve.Add("launcher.tail_lines must be >= 0")
	}
	if l.MaxLineBytes < 0 {
		ve.Add("launcher.max_line_bytes must be >= 0")
	}
	if l.CancelGrace < 0 {
		ve.Add("launcher.cancel_grace must be >= 0")
	}
	if l.HandleTTL < 0 {
		ve.Add("launcher.handle_ttl must be >= 0")
	}
}

func validateMigration(cfg *Config, ve *ValidationError) {
	if strings.TrimSpace(cfg.Migration.Command) == "" {
		ve.Add("migration.command is required")
	}
	if cfg.Migration.MaxWarnings < 0 {
		ve.Add("migration.max_warnings must be >= 0")
	}
	if strings.HasPrefix(cfg.Migration.Password, "enc:") {
		ve.Add("migration.password is encrypted but SKYPORT_CONFIG_KEY is not set")
	}
}

func validateGateway(cfg *Config, ve *ValidationError) {
	if !cfg.Gateway.Enabled {
		return
	}
	if cfg.Gateway.Addr == "" {
		ve.Add("gateway.addr is required when gateway is enabled")
	} else if _, _, err := net.SplitHostPort(cfg.Gateway.Addr); err != nil {
		ve.Add("gateway.addr %q is not a valid host:port", cfg.Gateway.Addr)
	}

	switch cfg.Gateway.Auth.Type {
	case "":
	case "static":
		if len(cfg.Gateway.Auth.Tokens) == 0 {
			ve.Add("gateway.auth.tokens must not be empty when auth type is static")
		}
		for i, t := range cfg.Gateway.Auth.Tokens {
			if t.Token == "" {
				ve.Add("gateway.auth.tokens[%d].token is required", i)
			}
			if strings.HasPrefix(t.Token, "enc:") {
				ve.Add("gateway.auth.tokens[%d].token is encrypted but SKYPORT_CONFIG_KEY is not set", i)
			}
		}
	default:
		ve.Add("gateway.auth.type %q is invalid (use static or leave empty)", cfg.Gateway.Auth.Type)
	}

	rl := cfg.Gateway.RateLimit
	if rl.RequestsPerMin < 0 {
		ve.Add("gateway.rate_limit.requests_per_min must be >= 0")
	}
	if rl.RequestsPerMin > 0 && rl.Burst <= 0 {
		ve.Add("gateway.rate_limit.burst must be > 0 when rate limiting is enabled")
	}
}

func validateHistory(cfg *Config, ve *ValidationError) {
	if !cfg.History.Enabled {
		return
	}
	if cfg.History.Path == "" {
		ve.Add("history.path is required when history is enabled")
	}
	if cfg.History.Retention < 0 {
		ve.Add("history.retention must be >= 0")
	}
}

func validateScheduler(cfg *Config, ve *ValidationError) {
	if !cfg.Scheduler.Enabled {
		return
	}
	if cfg.Scheduler.PruneSchedule == "" && cfg.Scheduler.ReapSchedule == "" {
		ve.Add("scheduler needs prune_schedule or reap_schedule when enabled")
	}
	if cfg.Scheduler.TaskTimeout < 0 {
		ve.Add("scheduler.task_timeout must be >= 0")
	}
}

func validateUI(cfg *Config, ve *ValidationError) {
	switch cfg.UI.Theme {
	case "", "dark", "light":
	default:
		ve.Add("ui.theme %q is invalid (use dark or light)", cfg.UI.Theme)
	}
	switch cfg.UI.ReportStyle {
	case "", "auto", "dark", "light", "notty", "ascii", "dracula", "pink", "tokyo-night":
	default:
		ve.Add("ui.report_style %q is not a known glamour style", cfg.UI.ReportStyle)
	}
}
