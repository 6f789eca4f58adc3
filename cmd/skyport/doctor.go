package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"skyport/internal/adapter/gateway"
	"skyport/internal/infra/config"
)

// CheckStatus represents the result of a health check.
type CheckStatus string

const (
	StatusPass CheckStatus = "PASS"
	StatusWarn CheckStatus = "WARN"
	StatusFail CheckStatus = "FAIL"
)

// CheckResult holds the outcome of a single health check.
type CheckResult struct {
	Name    string
	Status  CheckStatus
	Message string
	Fix     string // optional fix suggestion
}

// Check is a named health check function.
type Check struct {
	Name string
	Fn   func(cfg *config.Config) CheckResult
}

// blueskyHost is dialled by the network check.
var blueskyHost = "bsky.social:443"

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Run health checks on your setup",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return runDoctor(cmd.OutOrStdout())
	},
}

// runDoctor executes all health checks and reports results.
func runDoctor(w io.Writer) error {
	cfgPath := configPath()

	// Some checks work without a config.
	cfg, cfgErr := config.Load(cfgPath)

	checks := []Check{
		{Name: "Config file", Fn: checkConfigFile(cfgPath, cfgErr)},
		{Name: "Migration tool", Fn: checkMigrationTool},
		{Name: "Credentials", Fn: checkCredentials},
		{Name: "History store", Fn: checkHistoryStore},
		{Name: "Gateway address", Fn: checkGatewayAddr},
		{Name: "Disk space", Fn: checkDiskSpace},
		{Name: "Network", Fn: checkNetwork},
	}

	fmt.Fprintln(w, "skyport doctor")
	fmt.Fprintln(w, strings.Repeat("=", 50))
	fmt.Fprintln(w)

	var pass, warn, fail int
	for _, check := range checks {
		result := check.Fn(cfg)
		result.Name = check.Name

		fmt.Fprintf(w, "  %s %s: %s\n", statusIcon(result.Status), result.Name, result.Message)
		if result.Fix != "" {
			fmt.Fprintf(w, "      Fix: %s\n", result.Fix)
		}

		switch result.Status {
		case StatusPass:
			pass++
		case StatusWarn:
			warn++
		case StatusFail:
			fail++
		}
	}

	fmt.Fprintln(w)
	fmt.Fprintln(w, strings.Repeat("-", 50))
	fmt.Fprintf(w, "Results: %d passed, %d warnings, %d failed\n", pass, warn, fail)

	if fail > 0 {
		fmt.Fprintln(w, "\nFix the FAIL issues above before running a migration.")
		return fmt.Errorf("%d check(s) failed", fail)
	}
	if warn > 0 {
		fmt.Fprintln(w, "\nskyport should work, but consider addressing the warnings.")
	} else {
		fmt.Fprintln(w, "\nAll checks passed! skyport is ready to run.")
	}
	return nil
}

func statusIcon(s CheckStatus) string {
	switch s {
	case StatusPass:
		return "[PASS]"
	case StatusWarn:
		return "[WARN]"
	case StatusFail:
		return "[FAIL]"
	default:
		return "[????]"
	}
}

// checkConfigFile reports whether the config file exists and loaded. A missing
// file is only a warning: defaults and env vars are enough to run.
func checkConfigFile(cfgPath string, cfgErr error) func(*config.Config) CheckResult {
	return func(_ *config.Config) CheckResult {
		if cfgErr != nil {
			return CheckResult{
				Status:  StatusFail,
				Message: fmt.Sprintf("config error: %v", cfgErr),
				Fix:     fmt.Sprintf("Check the YAML syntax and permissions of %s", cfgPath),
			}
		}
		if _, err := os.Stat(cfgPath); errors.Is(err, os.ErrNotExist) {
			return CheckResult{
				Status:  StatusWarn,
				Message: fmt.Sprintf("no config file at %s, using defaults", cfgPath),
				Fix:     "Create skyport.yaml or set SKYPORT_CONFIG",
			}
		}
		return CheckResult{
			Status:  StatusPass,
			Message: fmt.Sprintf("config loaded from %s", cfgPath),
		}
	}
}

// checkMigrationTool verifies the migration command (and node, for npx) is on PATH.
func checkMigrationTool(cfg *config.Config) CheckResult {
	if cfg == nil {
		return CheckResult{Status: StatusWarn, Message: "cannot check: config not loaded"}
	}

	var missing []string
	if _, err := exec.LookPath(cfg.Migration.Command); err != nil {
		missing = append(missing, cfg.Migration.Command)
	}
	if filepath.Base(cfg.Migration.Command) == "npx" {
		if _, err := exec.LookPath("node"); err != nil {
			missing = append(missing, "node")
		}
	}
	if len(missing) > 0 {
		return CheckResult{
			Status:  StatusFail,
			Message: fmt.Sprintf("not found on PATH: %s", strings.Join(missing, ", ")),
			Fix:     "Install Node.js 18+ or point migration.command at the tool",
		}
	}
	return CheckResult{
		Status:  StatusPass,
		Message: fmt.Sprintf("%s found", cfg.Migration.Command),
	}
}

// checkCredentials reports whether stored credentials are available.
func checkCredentials(cfg *config.Config) CheckResult {
	if cfg == nil {
		return CheckResult{Status: StatusWarn, Message: "cannot check: config not loaded"}
	}
	switch {
	case cfg.Migration.Username == "" && cfg.Migration.Password == "":
		return CheckResult{
			Status:  StatusWarn,
			Message: "no stored credentials; pass --user and --password to run",
		}
	case cfg.Migration.Username == "":
		return CheckResult{
			Status:  StatusWarn,
			Message: "password stored without a username",
			Fix:     "Set migration.username or SKYPORT_BLUESKY_USERNAME",
		}
	case cfg.Migration.Password == "":
		return CheckResult{
			Status:  StatusWarn,
			Message: fmt.Sprintf("no app password stored for %s; only --simulate runs will work", cfg.Migration.Username),
			Fix:     "Create an app password at bsky.app and store it with 'skyport encrypt'",
		}
	}
	return CheckResult{
		Status:  StatusPass,
		Message: fmt.Sprintf("credentials stored for %s", cfg.Migration.Username),
	}
}

// checkHistoryStore opens the history database and runs a query.
func checkHistoryStore(cfg *config.Config) CheckResult {
	if cfg == nil {
		return CheckResult{Status: StatusWarn, Message: "cannot check: config not loaded"}
	}
	if !cfg.History.Enabled {
		return CheckResult{Status: StatusPass, Message: "history disabled"}
	}
	store, err := openHistory(cfg.History.Path)
	if err != nil {
		return CheckResult{
			Status:  StatusFail,
			Message: fmt.Sprintf("cannot open %s: %v", cfg.History.Path, err),
			Fix:     "Check history.path and its directory permissions",
		}
	}
	defer store.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	runs, err := store.List(ctx, 0)
	if err != nil {
		return CheckResult{
			Status:  StatusFail,
			Message: fmt.Sprintf("history query failed: %v", err),
			Fix:     "Move the database aside; skyport recreates it",
		}
	}
	return CheckResult{
		Status:  StatusPass,
		Message: fmt.Sprintf("%s (%d recent runs)", cfg.History.Path, len(runs)),
	}
}

// checkGatewayAddr verifies the bridge address can be bound.
func checkGatewayAddr(cfg *config.Config) CheckResult {
	if cfg == nil {
		return CheckResult{Status: StatusWarn, Message: "cannot check: config not loaded"}
	}
	host, _, err := net.SplitHostPort(cfg.Gateway.Addr)
	if err != nil {
		return CheckResult{
			Status:  StatusFail,
			Message: fmt.Sprintf("invalid gateway.addr %q", cfg.Gateway.Addr),
			Fix:     "Use host:port, e.g. 127.0.0.1:7420",
		}
	}
	ln, err := net.Listen("tcp", cfg.Gateway.Addr)
	if err != nil {
		return CheckResult{
			Status:  StatusWarn,
			Message: fmt.Sprintf("%s is not available: %v", cfg.Gateway.Addr, err),
			Fix:     "Stop the other listener or change gateway.addr",
		}
	}
	ln.Close()

	if cfg.Gateway.Auth.Type != "static" && !gateway.IsLoopbackHost(host) {
		return CheckResult{
			Status:  StatusFail,
			Message: fmt.Sprintf("%s is reachable from other hosts without auth; serve will refuse it", cfg.Gateway.Addr),
			Fix:     "Set gateway.auth.type: static with tokens, or bind to 127.0.0.1",
		}
	}
	return CheckResult{
		Status:  StatusPass,
		Message: fmt.Sprintf("%s is free", cfg.Gateway.Addr),
	}
}

// checkDiskSpace checks available disk space next to the history database.
func checkDiskSpace(cfg *config.Config) CheckResult {
	dataDir := "./data"
	if cfg != nil && cfg.History.Path != "" {
		dataDir = filepath.Dir(cfg.History.Path)
	}

	absDir, _ := filepath.Abs(dataDir)
	info, err := os.Stat(absDir)
	if err != nil || !info.IsDir() {
		return CheckResult{
			Status:  StatusPass,
			Message: "data directory does not exist yet, space check skipped",
		}
	}

	out, err := exec.Command("df", "-h", absDir).Output()
	if err != nil {
		return CheckResult{
			Status:  StatusWarn,
			Message: "could not determine disk space (df command failed)",
		}
	}
	available, pct, ok := parseDF(string(out))
	if !ok {
		return CheckResult{
			Status:  StatusWarn,
			Message: "unexpected df output format",
		}
	}

	if pct >= 95 {
		return CheckResult{
			Status:  StatusFail,
			Message: fmt.Sprintf("disk almost full: %d%% used, %s available", pct, available),
			Fix:     "Free up disk space or move history.path to another partition",
		}
	}
	if pct >= 85 {
		return CheckResult{
			Status:  StatusWarn,
			Message: fmt.Sprintf("disk usage high: %d%% used, %s available", pct, available),
		}
	}
	return CheckResult{
		Status:  StatusPass,
		Message: fmt.Sprintf("disk usage: %d%% used, %s available", pct, available),
	}
}

// parseDF reads the available space and use percentage from `df -h` output.
func parseDF(out string) (available string, pct int, ok bool) {
	lines := strings.Split(strings.TrimSpace(out), "\n")
	if len(lines) < 2 {
		return "", 0, false
	}
	fields := strings.Fields(lines[len(lines)-1])
	if len(fields) < 5 {
		return "", 0, false
	}
	if _, err := fmt.Sscanf(strings.TrimSuffix(fields[4], "%"), "%d", &pct); err != nil {
		return "", 0, false
	}
	return fields[3], pct, true
}

// checkNetwork verifies Bluesky is reachable.
func checkNetwork(_ *config.Config) CheckResult {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", blueskyHost)
	if err != nil {
		return CheckResult{
			Status:  StatusFail,
			Message: fmt.Sprintf("cannot reach %s", blueskyHost),
			Fix:     "Check your network connection and firewall settings",
		}
	}
	conn.Close()
	return CheckResult{
		Status:  StatusPass,
		Message: fmt.Sprintf("%s reachable", blueskyHost),
	}
}
