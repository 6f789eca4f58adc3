package main

import (
	"bytes"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"skyport/internal/infra/config"
)

func TestCheckConfigFile_NotFound(t *testing.T) {
	fn := checkConfigFile("/nonexistent/path/skyport.yaml", nil)
	result := fn(nil)
	if result.Status != StatusWarn {
		t.Errorf("expected WARN for missing config, got %s", result.Status)
	}
	if result.Fix == "" {
		t.Error("expected fix suggestion for missing config")
	}
}

func TestCheckConfigFile_LoadError(t *testing.T) {
	cfgPath := filepath.Join(t.TempDir(), "skyport.yaml")
	writeTestFile(t, cfgPath, "logger: {{yaml")

	fn := checkConfigFile(cfgPath, &config.ValidationError{Errors: []string{"bad yaml"}})
	if result := fn(nil); result.Status != StatusFail {
		t.Errorf("expected FAIL for load error, got %s", result.Status)
	}
}

func TestCheckConfigFile_Valid(t *testing.T) {
	cfgPath := filepath.Join(t.TempDir(), "skyport.yaml")
	writeTestFile(t, cfgPath, "logger:\n  level: debug\n")

	fn := checkConfigFile(cfgPath, nil)
	if result := fn(nil); result.Status != StatusPass {
		t.Errorf("expected PASS for valid config, got %s: %s", result.Status, result.Message)
	}
}

func TestCheckMigrationTool(t *testing.T) {
	if r := checkMigrationTool(nil); r.Status != StatusWarn {
		t.Errorf("nil config: got %s", r.Status)
	}

	cfg := config.Defaults()
	cfg.Migration.Command = "skyport-definitely-missing-tool"
	r := checkMigrationTool(cfg)
	if r.Status != StatusFail {
		t.Errorf("missing tool: got %s", r.Status)
	}
	if !strings.Contains(r.Message, "skyport-definitely-missing-tool") {
		t.Errorf("message should name the tool: %s", r.Message)
	}
}

func TestCheckCredentials(t *testing.T) {
	tests := []struct {
		name     string
		user     string
		password string
		want     CheckStatus
	}{
		{"none", "", "", StatusWarn},
		{"password only", "", "pw", StatusWarn},
		{"user only", "alice.bsky.social", "", StatusWarn},
		{"both", "alice.bsky.social", "pw", StatusPass},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.Defaults()
			cfg.Migration.Username = tt.user
			cfg.Migration.Password = tt.password
			if got := checkCredentials(cfg); got.Status != tt.want {
				t.Errorf("status = %s, want %s (%s)", got.Status, tt.want, got.Message)
			}
		})
	}
}

func TestCheckHistoryStore(t *testing.T) {
	cfg := config.Defaults()
	cfg.History.Path = filepath.Join(t.TempDir(), "nested", "history.db")
	if r := checkHistoryStore(cfg); r.Status != StatusPass {
		t.Fatalf("expected PASS, got %s: %s", r.Status, r.Message)
	}
	if _, err := os.Stat(cfg.History.Path); err != nil {
		t.Errorf("history db should have been created: %v", err)
	}

	cfg.History.Enabled = false
	if r := checkHistoryStore(cfg); r.Status != StatusPass || r.Message != "history disabled" {
		t.Errorf("disabled history: %s %s", r.Status, r.Message)
	}
}

func TestCheckHistoryStore_Unwritable(t *testing.T) {
	file := filepath.Join(t.TempDir(), "plain")
	writeTestFile(t, file, "")

	cfg := config.Defaults()
	cfg.History.Path = filepath.Join(file, "history.db")
	if r := checkHistoryStore(cfg); r.Status != StatusFail {
		t.Errorf("expected FAIL, got %s", r.Status)
	}
}

func TestCheckGatewayAddr(t *testing.T) {
	cfg := config.Defaults()
	cfg.Gateway.Addr = "127.0.0.1:0"
	if r := checkGatewayAddr(cfg); r.Status != StatusPass {
		t.Errorf("free port: %s %s", r.Status, r.Message)
	}

	cfg.Gateway.Addr = "nonsense"
	if r := checkGatewayAddr(cfg); r.Status != StatusFail {
		t.Errorf("invalid addr: %s", r.Status)
	}

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()
	cfg.Gateway.Addr = ln.Addr().String()
	if r := checkGatewayAddr(cfg); r.Status != StatusWarn {
		t.Errorf("busy port: %s", r.Status)
	}
}

func TestCheckGatewayAddr_ExposedWithoutAuth(t *testing.T) {
	cfg := config.Defaults()
	cfg.Gateway.Addr = "0.0.0.0:0"
	if r := checkGatewayAddr(cfg); r.Status != StatusFail {
		t.Errorf("exposed without auth: got %s", r.Status)
	}

	cfg.Gateway.Auth = config.AuthConfig{Type: "static", Tokens: []config.TokenConfig{{Token: "t", Name: "desktop"}}}
	if r := checkGatewayAddr(cfg); r.Status != StatusPass {
		t.Errorf("exposed with auth: got %s %s", r.Status, r.Message)
	}
}

func TestParseDF(t *testing.T) {
	out := "Filesystem      Size  Used Avail Use% Mounted on\n/dev/sda1        50G   40G   10G  80% /\n"
	avail, pct, ok := parseDF(out)
	if !ok || avail != "10G" || pct != 80 {
		t.Errorf("parseDF = %q %d %v", avail, pct, ok)
	}

	if _, _, ok := parseDF("garbage"); ok {
		t.Error("single line should not parse")
	}
	if _, _, ok := parseDF("h\nshort line"); ok {
		t.Error("short line should not parse")
	}
}

func TestCheckDiskSpace_NonexistentDir(t *testing.T) {
	cfg := config.Defaults()
	cfg.History.Path = "/nonexistent/skyport/history.db"
	if r := checkDiskSpace(cfg); r.Status != StatusPass {
		t.Errorf("expected PASS for missing dir, got %s", r.Status)
	}
}

func TestStatusIcon(t *testing.T) {
	tests := map[CheckStatus]string{
		StatusPass:  "[PASS]",
		StatusWarn:  "[WARN]",
		StatusFail:  "[FAIL]",
		"something": "[????]",
	}
	for status, want := range tests {
		if got := statusIcon(status); got != want {
			t.Errorf("statusIcon(%s) = %s, want %s", status, got, want)
		}
	}
}

func TestRunDoctorReportsSummary(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "skyport.yaml")
	writeTestFile(t, cfgPath, "migration:\n  command: skyport-definitely-missing-tool\nhistory:\n  path: "+filepath.Join(dir, "history.db")+"\ngateway:\n  addr: 127.0.0.1:0\n")
	withConfigFlag(t, cfgPath)
	blueskyHost = "127.0.0.1:1"
	t.Cleanup(func() { blueskyHost = "bsky.social:443" })

	var out bytes.Buffer
	err := runDoctor(&out)
	if err == nil {
		t.Fatal("expected failure for the missing migration tool")
	}
	if !strings.Contains(out.String(), "[FAIL] Migration tool") {
		t.Errorf("missing tool not reported:\n%s", out.String())
	}
	if !strings.Contains(out.String(), "Results:") {
		t.Errorf("no summary line:\n%s", out.String())
	}
}

func writeTestFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
}

// withConfigFlag points configPath at path for the duration of the test.
func withConfigFlag(t *testing.T, path string) {
	t.Helper()
	prev := cfgFile
	cfgFile = path
	t.Cleanup(func() { cfgFile = prev })
}
