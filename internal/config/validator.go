package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Value   interface{}
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("config validation: %s: %s (got: %v)", e.Field, e.Message, e.Value)
}

// ValidationErrors collects multiple validation errors.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	var msgs []string
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "; ")
}

// HasErrors returns true if there are any validation errors.
func (e ValidationErrors) HasErrors() bool {
	return len(e) > 0
}

// Validator validates configuration.
type Validator struct {
	errors ValidationErrors
}

// NewValidator creates a new validator.
func NewValidator() *Validator {
	return &Validator{
		errors: make(ValidationErrors, 0),
	}
}

// Validate validates the entire configuration.
func (v *Validator) Validate(cfg *Config) error {
	v.validateLog(&cfg.Log)
	ttl := v.validateLock(&cfg.Lock)
	v.validateRun(&cfg.Run, ttl)
	v.validateExecutor(&cfg.Executor)
	v.validateSource(&cfg.Source)
	v.validateReport(&cfg.Report)

	if len(v.errors) > 0 {
		return v.errors
	}
	return nil
}

// ValidateLock validates only the log and lock sections, for commands that
// inspect the lock store without running anything.
func (v *Validator) ValidateLock(cfg *Config) error {
	v.validateLog(&cfg.Log)
	v.validateLock(&cfg.Lock)

	if len(v.errors) > 0 {
		return v.errors
	}
	return nil
}

// Errors returns the collected validation errors.
func (v *Validator) Errors() ValidationErrors {
	return v.errors
}

func (v *Validator) addError(field string, value interface{}, msg string) {
	v.errors = append(v.errors, ValidationError{
		Field:   field,
		Value:   value,
		Message: msg,
	})
}

// duration parses a positive duration or records an error and returns 0.
func (v *Validator) duration(field, value string) time.Duration {
	d, err := time.ParseDuration(value)
	if err != nil {
		v.addError(field, value, "invalid duration format")
		return 0
	}
	if d <= 0 {
		v.addError(field, value, "must be positive")
		return 0
	}
	return d
}

func (v *Validator) validateLog(cfg *LogConfig) {
	validLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLevels[cfg.Level] {
		v.addError("log.level", cfg.Level, "must be one of: debug, info, warn, error")
	}

	validFormats := map[string]bool{
		"auto": true, "text": true, "json": true,
	}
	if !validFormats[cfg.Format] {
		v.addError("log.format", cfg.Format, "must be one of: auto, text, json")
	}

	if cfg.File != "" && !isValidPath(cfg.File) {
		v.addError("log.file", cfg.File, "invalid file path")
	}
}

func (v *Validator) validateLock(cfg *LockConfig) time.Duration {
	switch cfg.Backend {
	case "sqlite":
		if cfg.SQLitePath == "" {
			v.addError("lock.sqlite_path", cfg.SQLitePath, "path required for sqlite backend")
		} else if !isValidPath(cfg.SQLitePath) {
			v.addError("lock.sqlite_path", cfg.SQLitePath, "invalid file path")
		}
	case "redis":
		if cfg.Redis.Addr == "" {
			v.addError("lock.redis.addr", cfg.Redis.Addr, "address required for redis backend")
		}
		if cfg.Redis.DB < 0 {
			v.addError("lock.redis.db", cfg.Redis.DB, "must be non-negative")
		}
	case "memory":
	default:
		v.addError("lock.backend", cfg.Backend, "must be one of: sqlite, redis, memory")
	}

	if cfg.Secret == "" {
		v.addError("lock.secret", "", "secret required to sign lock records")
	} else if len(cfg.Secret) < 16 {
		v.addError("lock.secret", "<redacted>", "must be at least 16 characters")
	}

	ttl := v.duration("lock.ttl", cfg.TTL)
	heartbeat := v.duration("lock.heartbeat_interval", cfg.HeartbeatInterval)
	if ttl > 0 && heartbeat > 0 && ttl <= 2*heartbeat {
		v.addError("lock.ttl", cfg.TTL, "must be greater than twice lock.heartbeat_interval")
	}
	return ttl
}

func (v *Validator) validateRun(cfg *RunConfig, ttl time.Duration) {
	if cfg.ConcurrencyLimit < 1 || cfg.ConcurrencyLimit > 256 {
		v.addError("run.concurrency_limit", cfg.ConcurrencyLimit, "must be between 1 and 256")
	}

	timeout := v.duration("run.per_item_timeout", cfg.PerItemTimeout)
	if timeout > 0 && ttl > 0 && timeout >= ttl {
		v.addError("run.per_item_timeout", cfg.PerItemTimeout, "must be less than lock.ttl")
	}

	if cfg.MaxAttempts < 1 || cfg.MaxAttempts > 10 {
		v.addError("run.max_attempts", cfg.MaxAttempts, "must be between 1 and 10")
	}
	if cfg.MaxAttempts > 1 {
		v.duration("run.retry_base_delay", cfg.RetryBaseDelay)
	}
}

func (v *Validator) validateExecutor(cfg *ExecutorConfig) {
	if strings.TrimSpace(cfg.Command) == "" {
		v.addError("executor.command", cfg.Command, "fixer command required")
	}
	v.duration("executor.grace_period", cfg.GracePeriod)
	if cfg.MaxOutputBytes <= 0 {
		v.addError("executor.max_output_bytes", cfg.MaxOutputBytes, "must be positive")
	}
	if cfg.WorkDir != "" {
		if info, err := os.Stat(cfg.WorkDir); err != nil || !info.IsDir() {
			v.addError("executor.work_dir", cfg.WorkDir, "must be an existing directory")
		}
	}
	for key := range cfg.Env {
		if key == "" || strings.ContainsAny(key, "= ") {
			v.addError("executor.env", key, "invalid environment variable name")
		}
	}
}

func (v *Validator) validateSource(cfg *SourceConfig) {
	switch cfg.Kind {
	case "file":
		if cfg.File == "" {
			v.addError("source.file", cfg.File, "backlog file required for file source")
		}
	case "github":
		if cfg.GitHub.Repo != "" && strings.Count(cfg.GitHub.Repo, "/") != 1 {
			v.addError("source.github.repo", cfg.GitHub.Repo, "must be owner/name")
		}
		if cfg.GitHub.Limit < 1 || cfg.GitHub.Limit > 1000 {
			v.addError("source.github.limit", cfg.GitHub.Limit, "must be between 1 and 1000")
		}
	default:
		v.addError("source.kind", cfg.Kind, "must be one of: file, github")
	}
}

func (v *Validator) validateReport(cfg *ReportConfig) {
	if cfg.Dir == "" {
		v.addError("report.dir", cfg.Dir, "directory required")
	} else if !isValidPath(cfg.Dir) {
		v.addError("report.dir", cfg.Dir, "invalid directory path")
	}
	for _, f := range cfg.Formats {
		if f != "json" && f != "markdown" {
			v.addError("report.formats", f, "must be json or markdown")
		}
	}
}

func isValidPath(path string) bool {
	dir := filepath.Dir(path)
	_, err := os.Stat(dir)
	return err == nil || os.IsNotExist(err)
}

// ValidateConfig is a convenience function that creates a validator and validates config.
func ValidateConfig(cfg *Config) error {
	v := NewValidator()
	return v.Validate(cfg)
}
