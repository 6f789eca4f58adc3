package config

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"golang.org/x/crypto/argon2"
	"gopkg.in/yaml.v3"
)

// Config is the top-level skyport configuration.
type Config struct {
	Logger    LoggerConfig    `yaml:"logger"`
	Tracer    TracerConfig    `yaml:"tracer"`
	Launcher  LauncherConfig  `yaml:"launcher"`
	Migration MigrationConfig `yaml:"migration"`
	Gateway   GatewayConfig   `yaml:"gateway"`
	History   HistoryConfig   `yaml:"history"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	UI        UIConfig        `yaml:"ui"`
	Includes  []string        `yaml:"includes,omitempty"`
}

// LauncherConfig controls subprocess limits and output retention.
type LauncherConfig struct {
	MaxRunning   int           `yaml:"max_running"`
	HandleTTL    time.Duration `yaml:"handle_ttl"`
	TailLines    int           `yaml:"tail_lines"`
	MaxLineBytes int           `yaml:"max_line_bytes"`
	CancelGrace  time.Duration `yaml:"cancel_grace"`
}

// MigrationConfig describes the external migration tool and stored defaults
// for a run.
type MigrationConfig struct {
	Command     string   `yaml:"command"`
	Args        []string `yaml:"args,omitempty"`
	WorkDir     string   `yaml:"work_dir,omitempty"`
	InheritEnv  bool     `yaml:"inherit_env"`
	FixturesDir string   `yaml:"fixtures_dir,omitempty"`
	MaxWarnings int      `yaml:"max_warnings"` // 0 = unbounded
	Username    string   `yaml:"username,omitempty"`
	Password    string   `yaml:"password,omitempty"` // app password, may be "enc:..."
}

// GatewayConfig holds WebSocket bridge settings.
type GatewayConfig struct {
	Enabled   bool            `yaml:"enabled"`
	Addr      string          `yaml:"addr"`
	Auth      AuthConfig      `yaml:"auth"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
}

// AuthConfig holds gateway authentication settings.
type AuthConfig struct {
	Type   string        `yaml:"type"` // "static" or ""
	Tokens []TokenConfig `yaml:"tokens,omitempty"`
}

// TokenConfig holds a single gateway auth token.
type TokenConfig struct {
	Token string `yaml:"token"`
	Name  string `yaml:"name"`
}

// RateLimitConfig bounds HTTP requests per client IP on the gateway.
type RateLimitConfig struct {
	RequestsPerMin int      `yaml:"requests_per_min"` // 0 disables
	Burst          int      `yaml:"burst"`
	TrustedProxies []string `yaml:"trusted_proxies,omitempty"`
}

// HistoryConfig holds run history storage settings.
type HistoryConfig struct {
	Enabled   bool          `yaml:"enabled"`
	Path      string        `yaml:"path"`
	Retention time.Duration `yaml:"retention"` // 0 = keep forever
}

// SchedulerConfig holds housekeeping schedules.
type SchedulerConfig struct {
	Enabled       bool          `yaml:"enabled"`
	PruneSchedule string        `yaml:"prune_schedule"` // cron expression or duration string
	ReapSchedule  string        `yaml:"reap_schedule"`
	TaskTimeout   time.Duration `yaml:"task_timeout"`
}

// UIConfig holds terminal UI settings.
type UIConfig struct {
	Theme       string `yaml:"theme"` // "dark" or "light"
	ReportStyle string `yaml:"report_style"`
}

// LoggerConfig holds logging settings.
type LoggerConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// TracerConfig holds tracing settings.
type TracerConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Exporter string `yaml:"exporter"`
	Endpoint string `yaml:"endpoint"`
}

// defaultDataDir returns the persistent data directory under $HOME/.skyport/data.
// Falls back to "./data" if $HOME cannot be determined.
func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "./data"
	}
	return filepath.Join(home, ".skyport", "data")
}

// Defaults returns a Config with sensible defaults.
func Defaults() *Config {
	dataDir := defaultDataDir()
	return &Config{
		Logger: LoggerConfig{
			Level:  "info",
			Format: "text",
			Output: "stderr",
		},
		Tracer: TracerConfig{
			Exporter: "noop",
		},
		Launcher: LauncherConfig{
			MaxRunning:   4,
			HandleTTL:    30 * time.Minute,
			TailLines:    2000,
			MaxLineBytes: 1024 * 1024,
			CancelGrace:  5 * time.Second,
		},
		Migration: MigrationConfig{
			Command:    "npx",
			Args:       []string{"--yes", "@straiforos/instagramtobluesky"},
			InheritEnv: true,
		},
		Gateway: GatewayConfig{
			Addr: "127.0.0.1:7420",
			RateLimit: RateLimitConfig{
				RequestsPerMin: 120,
				Burst:          20,
			},
		},
		History: HistoryConfig{
			Enabled:   true,
			Path:      filepath.Join(dataDir, "history.db"),
			Retention: 90 * 24 * time.Hour,
		},
		Scheduler: SchedulerConfig{
			Enabled:       true,
			PruneSchedule: "@daily",
			ReapSchedule:  "5m",
			TaskTimeout:   time.Minute,
		},
		UI: UIConfig{
			Theme:       "dark",
			ReportStyle: "dark",
		},
	}
}

// Load reads a YAML config file, applies env var overrides, and decrypts secrets.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			ApplyEnvOverrides(cfg)
			if err := Validate(cfg); err != nil {
				return nil, err
			}
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve config path: %w", err)
	}

	if err := validatePermissions(absPath); err != nil {
		return nil, err
	}

	// First pass: unmarshal to get the includes list.
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if len(cfg.Includes) > 0 {
		visited := map[string]bool{absPath: true}
		if err := processIncludes(cfg, filepath.Dir(absPath), visited, 0); err != nil {
			return nil, err
		}

		// Second pass: the main file takes precedence over includes.
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config (second pass): %w", err)
		}
		cfg.Includes = nil
	}

	ApplyEnvOverrides(cfg)

	if passphrase := os.Getenv("SKYPORT_CONFIG_KEY"); passphrase != "" {
		if err := decryptSecrets(cfg, passphrase); err != nil {
			return nil, fmt.Errorf("decrypt secrets: %w", err)
		}
	}

	if err := Validate(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// ApplyEnvOverrides maps SKYPORT_* env vars to config fields.
func ApplyEnvOverrides(cfg *Config) {
	if v := os.Getenv("SKYPORT_LOGGER_LEVEL"); v != "" {
		cfg.Logger.Level = v
	}
	if v := os.Getenv("SKYPORT_LOGGER_FORMAT"); v != "" {
		cfg.Logger.Format = v
	}
	if v := os.Getenv("SKYPORT_LOGGER_OUTPUT"); v != "" {
		cfg.Logger.Output = v
	}
	if v := os.Getenv("SKYPORT_TRACER_ENABLED"); v == "true" {
		cfg.Tracer.Enabled = true
	}
	if v := os.Getenv("SKYPORT_TRACER_EXPORTER"); v != "" {
		cfg.Tracer.Exporter = v
	}

	if v := os.Getenv("SKYPORT_LAUNCHER_MAX_RUNNING"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Launcher.MaxRunning = n
		}
	}
	if v := os.Getenv("SKYPORT_LAUNCHER_CANCEL_GRACE"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			cfg.Launcher.CancelGrace = d
		}
	}

	if v := os.Getenv("SKYPORT_MIGRATION_COMMAND"); v != "" {
		cfg.Migration.Command = v
	}
	if v := os.Getenv("SKYPORT_MIGRATION_ARGS"); v != "" {
		cfg.Migration.Args = splitAndTrim(v, ",")
	}
	if v := os.Getenv("SKYPORT_MIGRATION_WORK_DIR"); v != "" {
		cfg.Migration.WorkDir = v
	}
	if v := os.Getenv("SKYPORT_MIGRATION_FIXTURES_DIR"); v != "" {
		cfg.Migration.FixturesDir = v
	}
	if v := os.Getenv("SKYPORT_MIGRATION_MAX_WARNINGS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			cfg.Migration.MaxWarnings = n
		}
	}
	// The migration tool's own variable names are honoured as fallbacks.
	if v := os.Getenv("SKYPORT_BLUESKY_USERNAME"); v != "" {
		cfg.Migration.Username = v
	} else if v := os.Getenv("BLUESKY_USERNAME"); v != "" && cfg.Migration.Username == "" {
		cfg.Migration.Username = v
	}
	if v := os.Getenv("SKYPORT_BLUESKY_PASSWORD"); v != "" {
		cfg.Migration.Password = v
	} else if v := os.Getenv("BLUESKY_PASSWORD"); v != "" && cfg.Migration.Password == "" {
		cfg.Migration.Password = v
	}

	if v := os.Getenv("SKYPORT_GATEWAY_ENABLED"); v == "true" {
		cfg.Gateway.Enabled = true
	}
	if v := os.Getenv("SKYPORT_GATEWAY_ADDR"); v != "" {
		cfg.Gateway.Addr = v
	}
	if v := os.Getenv("SKYPORT_GATEWAY_TOKEN"); v != "" {
		cfg.Gateway.Auth.Type = "static"
		cfg.Gateway.Auth.Tokens = []TokenConfig{{Token: v, Name: "env"}}
	}
	if v := os.Getenv("SKYPORT_GATEWAY_TRUSTED_PROXIES"); v != "" {
		cfg.Gateway.RateLimit.TrustedProxies = splitAndTrim(v, ",")
	}

	if v := os.Getenv("SKYPORT_HISTORY_ENABLED"); v == "false" {
		cfg.History.Enabled = false
	}
	if v := os.Getenv("SKYPORT_HISTORY_PATH"); v != "" {
		cfg.History.Path = v
	}
	if v := os.Getenv("SKYPORT_HISTORY_RETENTION"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d >= 0 {
			cfg.History.Retention = d
		}
	}

	if v := os.Getenv("SKYPORT_SCHEDULER_ENABLED"); v == "false" {
		cfg.Scheduler.Enabled = false
	}
	if v := os.Getenv("SKYPORT_UI_THEME"); v != "" {
		cfg.UI.Theme = v
	}
}

// splitAndTrim splits s by sep and trims whitespace from each element.
func splitAndTrim(s, sep string) []string {
	parts := strings.Split(s, sep)
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}

// decryptSecrets finds "enc:..." values and decrypts them in place.
func decryptSecrets(cfg *Config, passphrase string) error {
	if strings.HasPrefix(cfg.Migration.Password, "enc:") {
		decrypted, err := DecryptValue(strings.TrimPrefix(cfg.Migration.Password, "enc:"), passphrase)
		if err != nil {
			return fmt.Errorf("migration password: %w", err)
		}
		cfg.Migration.Password = decrypted
	}

	for i := range cfg.Gateway.Auth.Tokens {
		tok := cfg.Gateway.Auth.Tokens[i].Token
		if strings.HasPrefix(tok, "enc:") {
			decrypted, err := DecryptValue(strings.TrimPrefix(tok, "enc:"), passphrase)
			if err != nil {
				return fmt.Errorf("gateway auth token %s: %w", cfg.Gateway.Auth.Tokens[i].Name, err)
			}
			cfg.Gateway.Auth.Tokens[i].Token = decrypted
		}
	}

	return nil
}

// EncryptValue encrypts a plaintext value with AES-256-GCM using a passphrase.
func EncryptValue(plaintext, passphrase string) (string, error) {
	salt := make([]byte, 16)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return "", fmt.Errorf("generate salt: %w", err)
	}

	gcm, err := newGCM(passphrase, salt)
	if err != nil {
		return "", err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}

	ciphertext := gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	// Format: hex(salt) + ":" + hex(nonce+ciphertext)
	return hex.EncodeToString(salt) + ":" + hex.EncodeToString(ciphertext), nil
}

// DecryptValue decrypts a value produced by EncryptValue.
func DecryptValue(encrypted, passphrase string) (string, error) {
	saltHex, dataHex, ok := strings.Cut(encrypted, ":")
	if !ok {
		return "", fmt.Errorf("invalid encrypted format")
	}

	salt, err := hex.DecodeString(saltHex)
	if err != nil {
		return "", fmt.Errorf("decode salt: %w", err)
	}
	data, err := hex.DecodeString(dataHex)
	if err != nil {
		return "", fmt.Errorf("decode ciphertext: %w", err)
	}

	gcm, err := newGCM(passphrase, salt)
	if err != nil {
		return "", err
	}

	nonceSize := gcm.NonceSize()
	if len(data) < nonceSize {
		return "", fmt.Errorf("ciphertext too short")
	}

	nonce, ciphertext := data[:nonceSize], data[nonceSize:]
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", fmt.Errorf("decrypt: %w", err)
	}
	return string(plaintext), nil
}

func newGCM(passphrase string, salt []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(deriveKey(passphrase, salt))
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("create gcm: %w", err)
	}
	return gcm, nil
}

// deriveKey uses Argon2id to derive a 32-byte key from passphrase + salt.
func deriveKey(passphrase string, salt []byte) []byte {
	return argon2.IDKey([]byte(passphrase), salt, 1, 64*1024, 4, 32)
}

// validatePermissions checks the config file has restrictive permissions.
// The file may hold an app password, so group or world write is rejected.
func validatePermissions(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("stat config: %w", err)
	}
	mode := info.Mode().Perm()
	if mode&0o077 > 0o044 {
		return fmt.Errorf("config file %s has insecure permissions %o (want 0600 or 0644)", path, mode)
	}
	return nil
}
