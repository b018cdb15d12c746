package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// DefaultConfigName is the base name of the project config file.
const DefaultConfigName = ".quorum-sweep"

// Loader handles configuration loading from multiple sources.
type Loader struct {
	v          *viper.Viper
	configFile string
	envPrefix  string
}

// NewLoader creates a new configuration loader.
func NewLoader() *Loader {
	return &Loader{
		v:         viper.New(),
		envPrefix: "SWEEP",
	}
}

// NewLoaderWithViper creates a loader using an existing viper instance.
// This allows integration with CLI flag bindings.
func NewLoaderWithViper(v *viper.Viper) *Loader {
	return &Loader{
		v:         v,
		envPrefix: "SWEEP",
	}
}

// WithConfigFile sets an explicit config file path.
func (l *Loader) WithConfigFile(path string) *Loader {
	l.configFile = path
	return l
}

// WithEnvPrefix sets the environment variable prefix.
func (l *Loader) WithEnvPrefix(prefix string) *Loader {
	l.envPrefix = prefix
	return l
}

// Viper returns the underlying viper instance for flag binding.
func (l *Loader) Viper() *viper.Viper {
	return l.v
}

// Load loads configuration from all sources.
// Precedence (highest to lowest):
// 1. CLI flags (set via viper.BindPFlag)
// 2. Environment variables (SWEEP_*)
// 3. Project config (.quorum-sweep.yaml in current directory)
// 4. User config (~/.config/quorum-sweep/config.yaml)
// 5. Defaults
func (l *Loader) Load() (*Config, error) {
	l.setDefaults()

	l.v.SetEnvPrefix(l.envPrefix)
	l.v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	l.v.AutomaticEnv()

	if l.configFile != "" {
		l.v.SetConfigFile(l.configFile)
	} else {
		l.v.SetConfigName(DefaultConfigName)
		l.v.SetConfigType("yaml")
		l.v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			l.v.AddConfigPath(filepath.Join(home, ".config", "quorum-sweep"))
		}
	}

	// Read config file (ignore not found)
	if err := l.v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	var cfg Config
	if err := l.v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	return &cfg, nil
}

// setDefaults configures default values.
func (l *Loader) setDefaults() {
	l.v.SetDefault("log.level", "info")
	l.v.SetDefault("log.format", "auto")

	// Lock defaults: a renewal every 10s keeps a 60s lease alive through
	// several missed beats.
	l.v.SetDefault("lock.backend", "sqlite")
	l.v.SetDefault("lock.ttl", "60s")
	l.v.SetDefault("lock.heartbeat_interval", "10s")
	l.v.SetDefault("lock.secret", "")
	l.v.SetDefault("lock.sqlite_path", ".quorum-sweep/locks.db")
	l.v.SetDefault("lock.redis.addr", "localhost:6379")
	l.v.SetDefault("lock.redis.password", "")
	l.v.SetDefault("lock.redis.db", 0)
	l.v.SetDefault("lock.redis.key_prefix", "quorum-sweep:lock:")

	l.v.SetDefault("run.concurrency_limit", 4)
	l.v.SetDefault("run.per_item_timeout", "45s")
	l.v.SetDefault("run.max_attempts", 1)
	l.v.SetDefault("run.retry_base_delay", "30s")

	// Keys without a meaningful default are still registered so that
	// SWEEP_* variables reach them through Unmarshal.
	l.v.SetDefault("executor.command", "")
	l.v.SetDefault("executor.work_dir", "")
	l.v.SetDefault("executor.grace_period", "5s")
	l.v.SetDefault("executor.max_output_bytes", 1<<20)

	l.v.SetDefault("source.kind", "file")
	l.v.SetDefault("source.file", "backlog.yaml")
	l.v.SetDefault("source.github.repo", "")
	l.v.SetDefault("source.github.limit", 50)

	l.v.SetDefault("report.dir", ".quorum-sweep/reports")
	l.v.SetDefault("report.formats", []string{"json", "markdown"})
	l.v.SetDefault("report.metrics_file", "")

	l.v.SetDefault("server.addr", "127.0.0.1:9464")
}

// ConfigFile returns the config file path if one was used.
func (l *Loader) ConfigFile() string {
	return l.v.ConfigFileUsed()
}

// Get returns a configuration value by key.
func (l *Loader) Get(key string) interface{} {
	return l.v.Get(key)
}

// Set sets a configuration value.
func (l *Loader) Set(key string, value interface{}) {
	l.v.Set(key, value)
}

// IsSet checks if a key has been set.
func (l *Loader) IsSet(key string) bool {
	return l.v.IsSet(key)
}
