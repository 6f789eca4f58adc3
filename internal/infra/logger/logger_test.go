package logger

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"skyport/internal/infra/config"
)

func TestNewWithWriterJSON(t *testing.T) {
	var buf bytes.Buffer
	log := NewWithWriter(config.LoggerConfig{Level: "info", Format: "json"}, &buf)

	log.Info("migration started", "run_id", "r1")

	var entry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("invalid JSON: %v, output: %s", err, buf.String())
	}
	if entry["msg"] != "migration started" {
		t.Errorf("msg = %q, want %q", entry["msg"], "migration started")
	}
	if entry["run_id"] != "r1" {
		t.Errorf("run_id = %v", entry["run_id"])
	}
}

func TestRedactsSecrets(t *testing.T) {
	var buf bytes.Buffer
	log := NewWithWriter(config.LoggerConfig{Level: "debug", Format: "text"}, &buf)

	log.Info("settings", "username", "alice", "password", "hunter2", "gateway_token", "abc123", "client_secret", "xyz")

	out := buf.String()
	for _, leaked := range []string{"hunter2", "abc123", "xyz"} {
		if strings.Contains(out, leaked) {
			t.Errorf("secret %q leaked into log: %s", leaked, out)
		}
	}
	if !strings.Contains(out, "alice") {
		t.Errorf("non-secret attribute dropped: %s", out)
	}
	if strings.Count(out, Redacted) != 3 {
		t.Errorf("want 3 redactions in %s", out)
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input string
		want  slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"ERROR", slog.LevelError},
		{"unknown", slog.LevelInfo},
		{"", slog.LevelInfo},
	}
	for _, tt := range tests {
		if got := parseLevel(tt.input); got != tt.want {
			t.Errorf("parseLevel(%q) = %v, want %v", tt.input, got, tt.want)
		}
	}
}

func TestOpenOutputStreams(t *testing.T) {
	tests := []struct {
		output string
		want   *os.File
	}{
		{"stdout", os.Stdout},
		{"stderr", os.Stderr},
		{"", os.Stderr},
	}
	for _, tt := range tests {
		w, closer, err := openOutput(tt.output)
		if err != nil {
			t.Fatalf("openOutput(%q): %v", tt.output, err)
		}
		if w != tt.want {
			t.Errorf("openOutput(%q) returned the wrong stream", tt.output)
		}
		closer()
	}
}

func TestOpenOutputFileCreatesDir(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "nested", "skyport.log")

	w, closer, err := openOutput(path)
	if err != nil {
		t.Fatalf("openOutput(file): %v", err)
	}
	if _, err := w.Write([]byte("test log line\n")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := closer(); err != nil {
		t.Fatalf("closer: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if string(data) != "test log line\n" {
		t.Errorf("file content = %q", string(data))
	}
}

func TestOpenOutputInvalidPath(t *testing.T) {
	// A regular file cannot be used as a directory.
	file := filepath.Join(t.TempDir(), "plain")
	if err := os.WriteFile(file, nil, 0600); err != nil {
		t.Fatal(err)
	}
	if _, _, err := openOutput(filepath.Join(file, "log.txt")); err == nil {
		t.Error("expected error for invalid path")
	}
}

func TestNewLoggerFileOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "skyport.log")

	log, closer, err := New(config.LoggerConfig{Level: "info", Format: "text", Output: path})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	log.Info("file output test", "key", "value")
	if err := closer(); err != nil {
		t.Fatalf("closer: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if !strings.Contains(string(data), "file output test") {
		t.Error("log file should contain the logged message")
	}
}

func TestNewLoggerInvalidOutput(t *testing.T) {
	file := filepath.Join(t.TempDir(), "plain")
	if err := os.WriteFile(file, nil, 0600); err != nil {
		t.Fatal(err)
	}
	if _, _, err := New(config.LoggerConfig{Output: filepath.Join(file, "app.log")}); err == nil {
		t.Error("expected error for invalid output path")
	}
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	log := NewWithWriter(config.LoggerConfig{Level: "warn"}, &buf)

	log.Info("should be filtered")
	log.Warn("should appear")

	output := buf.String()
	if strings.Contains(output, "should be filtered") {
		t.Error("info message should be filtered at warn level")
	}
	if !strings.Contains(output, "should appear") {
		t.Error("warn message should appear at warn level")
	}
}

func TestDiscard(t *testing.T) {
	Discard().Error("nowhere")
}
