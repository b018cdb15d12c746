package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoader_Defaults(t *testing.T) {
	loader := NewLoader()
	cfg, err := loader.Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Log.Level != "info" {
		t.Errorf("Log.Level = %q, want %q", cfg.Log.Level, "info")
	}
	if cfg.Lock.Backend != "sqlite" {
		t.Errorf("Lock.Backend = %q, want sqlite", cfg.Lock.Backend)
	}
	if cfg.LockTTL() != 60*time.Second {
		t.Errorf("LockTTL() = %v, want 60s", cfg.LockTTL())
	}
	if cfg.HeartbeatInterval() != 10*time.Second {
		t.Errorf("HeartbeatInterval() = %v, want 10s", cfg.HeartbeatInterval())
	}
	if cfg.PerItemTimeout() != 45*time.Second {
		t.Errorf("PerItemTimeout() = %v, want 45s", cfg.PerItemTimeout())
	}
	if cfg.Run.ConcurrencyLimit != 4 {
		t.Errorf("Run.ConcurrencyLimit = %d, want 4", cfg.Run.ConcurrencyLimit)
	}
	if cfg.Run.MaxAttempts != 1 {
		t.Errorf("Run.MaxAttempts = %d, want 1", cfg.Run.MaxAttempts)
	}
	if cfg.Executor.MaxOutputBytes != 1<<20 {
		t.Errorf("Executor.MaxOutputBytes = %d", cfg.Executor.MaxOutputBytes)
	}
	if cfg.Lock.Redis.KeyPrefix != "quorum-sweep:lock:" {
		t.Errorf("Lock.Redis.KeyPrefix = %q", cfg.Lock.Redis.KeyPrefix)
	}
	if len(cfg.Report.Formats) != 2 {
		t.Errorf("Report.Formats = %v", cfg.Report.Formats)
	}
	// The secret has no default: every deployment must choose one.
	if cfg.Lock.Secret != "" {
		t.Error("Lock.Secret should have no default")
	}
}

func TestLoader_EnvOverride(t *testing.T) {
	t.Setenv("SWEEP_LOG_LEVEL", "debug")
	t.Setenv("SWEEP_RUN_CONCURRENCY_LIMIT", "8")
	t.Setenv("SWEEP_LOCK_SECRET", "from-the-environment")
	t.Setenv("SWEEP_EXECUTOR_COMMAND", "python fixer.py")

	cfg, err := NewLoader().Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Log.Level != "debug" {
		t.Errorf("Log.Level = %q, want debug", cfg.Log.Level)
	}
	if cfg.Run.ConcurrencyLimit != 8 {
		t.Errorf("Run.ConcurrencyLimit = %d, want 8", cfg.Run.ConcurrencyLimit)
	}
	if cfg.Lock.Secret != "from-the-environment" {
		t.Errorf("Lock.Secret = %q", cfg.Lock.Secret)
	}
	if cfg.Executor.Command != "python fixer.py" {
		t.Errorf("Executor.Command = %q", cfg.Executor.Command)
	}
}

func TestLoader_ConfigFileOverride(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "sweep.yaml")
	configContent := `
log:
  level: warn
  format: json
lock:
  backend: redis
  ttl: 2m
  redis:
    addr: redis.internal:6380
    db: 3
run:
  concurrency_limit: 2
  max_attempts: 3
executor:
  command: ./fixer
  args: ["--fast"]
  env:
    FIXER_MODE: strict
source:
  kind: github
  github:
    repo: acme/widgets
    labels: [bug]
    label_priority:
      critical: 50
`
	if err := os.WriteFile(configPath, []byte(configContent), 0o644); err != nil {
		t.Fatalf("Failed to write test config: %v", err)
	}

	loader := NewLoader().WithConfigFile(configPath)
	cfg, err := loader.Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Log.Format != "json" {
		t.Errorf("Log.Format = %q, want json", cfg.Log.Format)
	}
	if cfg.Lock.Backend != "redis" || cfg.Lock.Redis.Addr != "redis.internal:6380" || cfg.Lock.Redis.DB != 3 {
		t.Errorf("Lock = %+v", cfg.Lock)
	}
	if cfg.LockTTL() != 2*time.Minute {
		t.Errorf("LockTTL() = %v", cfg.LockTTL())
	}
	// Unset keys keep their defaults.
	if cfg.HeartbeatInterval() != 10*time.Second {
		t.Errorf("HeartbeatInterval() = %v", cfg.HeartbeatInterval())
	}
	if cfg.Run.MaxAttempts != 3 {
		t.Errorf("Run.MaxAttempts = %d", cfg.Run.MaxAttempts)
	}
	if len(cfg.Executor.Args) != 1 || cfg.Executor.Args[0] != "--fast" {
		t.Errorf("Executor.Args = %v", cfg.Executor.Args)
	}
	if cfg.Executor.Env["FIXER_MODE"] != "strict" {
		t.Errorf("Executor.Env = %v", cfg.Executor.Env)
	}
	if cfg.Source.GitHub.Repo != "acme/widgets" || cfg.Source.GitHub.LabelPriority["critical"] != 50 {
		t.Errorf("Source.GitHub = %+v", cfg.Source.GitHub)
	}
	if loader.ConfigFile() != configPath {
		t.Errorf("ConfigFile() = %q", loader.ConfigFile())
	}
}

func TestLoader_Precedence(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "sweep.yaml")
	if err := os.WriteFile(configPath, []byte("log:\n  level: warn\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("SWEEP_LOG_LEVEL", "debug")

	cfg, err := NewLoader().WithConfigFile(configPath).Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("Log.Level = %q, want debug (env should override file)", cfg.Log.Level)
	}
}

func TestLoader_InvalidConfigFile(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "invalid.yaml")
	if err := os.WriteFile(configPath, []byte("log:\n  level: [invalid yaml\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := NewLoader().WithConfigFile(configPath).Load(); err == nil {
		t.Error("Load() should fail on invalid YAML")
	}
}

func TestDefaultConfigYAML_LoadsAndValidates(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".quorum-sweep.yaml")
	if err := WriteDefault(path, false); err != nil {
		t.Fatalf("WriteDefault() error = %v", err)
	}
	t.Setenv("SWEEP_LOCK_SECRET", "a-long-enough-secret")
	t.Setenv("SWEEP_EXECUTOR_COMMAND", "./fixer")

	cfg, err := NewLoader().WithConfigFile(path).Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if err := ValidateConfig(cfg); err != nil {
		t.Errorf("default config does not validate: %v", err)
	}
	if cfg.Source.GitHub.LabelPriority["critical"] != 100 {
		t.Errorf("label priority = %v", cfg.Source.GitHub.LabelPriority)
	}
}

func TestWriteDefault_KeepsExistingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".quorum-sweep.yaml")
	if err := os.WriteFile(path, []byte("log:\n  level: warn\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	if err := WriteDefault(path, false); !errors.Is(err, os.ErrExist) {
		t.Errorf("WriteDefault() error = %v, want ErrExist", err)
	}
	if err := WriteDefault(path, true); err != nil {
		t.Fatalf("WriteDefault(force) error = %v", err)
	}
	data, _ := os.ReadFile(path)
	if string(data) != DefaultConfigYAML {
		t.Error("forced write did not replace the file")
	}
}
