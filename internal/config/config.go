package config

import (
	"time"
)

// Config holds all application configuration.
type Config struct {
	Log      LogConfig      `mapstructure:"log"`
	Lock     LockConfig     `mapstructure:"lock"`
	Run      RunConfig      `mapstructure:"run"`
	Executor ExecutorConfig `mapstructure:"executor"`
	Source   SourceConfig   `mapstructure:"source"`
	Report   ReportConfig   `mapstructure:"report"`
	Server   ServerConfig   `mapstructure:"server"`
}

// LogConfig configures logging behavior.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	File   string `mapstructure:"file"`
}

// LockConfig configures the distributed lock and its store.
type LockConfig struct {
	Backend           string      `mapstructure:"backend"`
	TTL               string      `mapstructure:"ttl"`
	HeartbeatInterval string      `mapstructure:"heartbeat_interval"`
	Secret            string      `mapstructure:"secret"`
	SQLitePath        string      `mapstructure:"sqlite_path"`
	Redis             RedisConfig `mapstructure:"redis"`
}

// RedisConfig configures the Redis lock store.
type RedisConfig struct {
	Addr      string `mapstructure:"addr"`
	Password  string `mapstructure:"password"`
	DB        int    `mapstructure:"db"`
	KeyPrefix string `mapstructure:"key_prefix"`
}

// RunConfig configures orchestration.
type RunConfig struct {
	ConcurrencyLimit int    `mapstructure:"concurrency_limit"`
	PerItemTimeout   string `mapstructure:"per_item_timeout"`
	MaxAttempts      int    `mapstructure:"max_attempts"`
	RetryBaseDelay   string `mapstructure:"retry_base_delay"`
}

// ExecutorConfig configures the fixer unit process.
type ExecutorConfig struct {
	Command        string            `mapstructure:"command"`
	Args           []string          `mapstructure:"args"`
	WorkDir        string            `mapstructure:"work_dir"`
	GracePeriod    string            `mapstructure:"grace_period"`
	MaxOutputBytes int               `mapstructure:"max_output_bytes"`
	Env            map[string]string `mapstructure:"env"`
}

// SourceConfig selects where work items come from.
type SourceConfig struct {
	Kind   string             `mapstructure:"kind"`
	File   string             `mapstructure:"file"`
	GitHub GitHubSourceConfig `mapstructure:"github"`
}

// GitHubSourceConfig configures the GitHub issue source.
type GitHubSourceConfig struct {
	Repo          string         `mapstructure:"repo"`
	Labels        []string       `mapstructure:"labels"`
	Limit         int            `mapstructure:"limit"`
	LabelPriority map[string]int `mapstructure:"label_priority"`
}

// ReportConfig configures report output.
type ReportConfig struct {
	Dir         string   `mapstructure:"dir"`
	Formats     []string `mapstructure:"formats"`
	MetricsFile string   `mapstructure:"metrics_file"`
}

// ServerConfig configures the status server.
type ServerConfig struct {
	Addr string `mapstructure:"addr"`
}

// Durations are kept as strings in the file and parsed once validated.
// The accessors below assume Validate succeeded and return zero otherwise.

// LockTTL returns lock.ttl.
func (c *Config) LockTTL() time.Duration { return parseDuration(c.Lock.TTL) }

// HeartbeatInterval returns lock.heartbeat_interval.
func (c *Config) HeartbeatInterval() time.Duration { return parseDuration(c.Lock.HeartbeatInterval) }

// PerItemTimeout returns run.per_item_timeout.
func (c *Config) PerItemTimeout() time.Duration { return parseDuration(c.Run.PerItemTimeout) }

// RetryBaseDelay returns run.retry_base_delay.
func (c *Config) RetryBaseDelay() time.Duration { return parseDuration(c.Run.RetryBaseDelay) }

// GracePeriod returns executor.grace_period.
func (c *Config) GracePeriod() time.Duration { return parseDuration(c.Executor.GracePeriod) }

func parseDuration(s string) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0
	}
	return d
}
