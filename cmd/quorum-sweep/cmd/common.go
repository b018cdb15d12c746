package cmd

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/hugo-lorenzo-mato/quorum-sweep/internal/adapters/file"
	"github.com/hugo-lorenzo-mato/quorum-sweep/internal/adapters/github"
	"github.com/hugo-lorenzo-mato/quorum-sweep/internal/adapters/state"
	"github.com/hugo-lorenzo-mato/quorum-sweep/internal/config"
	"github.com/hugo-lorenzo-mato/quorum-sweep/internal/core"
	"github.com/hugo-lorenzo-mato/quorum-sweep/internal/lock"
	"github.com/hugo-lorenzo-mato/quorum-sweep/internal/logging"
)

// flagBindings maps config keys to the command-line flags overriding them.
// Only flags present on the running command are bound.
var flagBindings = map[string]string{
	"log.level":             "log-level",
	"log.format":            "log-format",
	"lock.backend":          "backend",
	"source.kind":           "source",
	"source.file":           "file",
	"source.github.repo":    "repo",
	"run.concurrency_limit": "concurrency",
	"run.per_item_timeout":  "timeout",
	"run.max_attempts":      "max-attempts",
	"report.dir":            "report-dir",
	"report.metrics_file":   "metrics-file",
	"server.addr":           "addr",
}

// validation selects how much of the config a command needs.
type validation int

const (
	validateAll validation = iota
	validateLockOnly
)

// loadConfig loads configuration for cmd and validates it.
func loadConfig(cmd *cobra.Command, mode validation) (*config.Config, error) {
	v := viper.GetViper()
	for key, name := range flagBindings {
		if f := cmd.Flags().Lookup(name); f != nil {
			if err := v.BindPFlag(key, f); err != nil {
				return nil, fmt.Errorf("binding --%s: %w", name, err)
			}
		}
	}

	loader := config.NewLoaderWithViper(v)
	if cfgFile != "" {
		loader.WithConfigFile(cfgFile)
	}
	cfg, err := loader.Load()
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}

	validator := config.NewValidator()
	if mode == validateLockOnly {
		err = validator.ValidateLock(cfg)
	} else {
		err = validator.Validate(cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return cfg, nil
}

// newLogger builds the process logger. The lock secret and Redis password
// are registered for redaction. The returned closer flushes the log file,
// if one is configured.
func newLogger(cfg *config.Config, stderr io.Writer) (*logging.Logger, func(), error) {
	out := stderr
	closer := func() {}
	if cfg.Log.File != "" {
		f, err := logging.OpenFile(cfg.Log.File)
		if err != nil {
			return nil, nil, err
		}
		out = f
		closer = func() { _ = f.Close() }
	}

	logger := logging.New(logging.Config{
		Level:   cfg.Log.Level,
		Format:  cfg.Log.Format,
		Output:  out,
		Secrets: []string{cfg.Lock.Secret, cfg.Lock.Redis.Password},
	})
	return logger, closer, nil
}

// storeOptions translates the lock config into lock store options.
func storeOptions(cfg *config.Config) state.StoreOptions {
	return state.StoreOptions{
		Backend:        cfg.Lock.Backend,
		SQLitePath:     cfg.Lock.SQLitePath,
		RedisAddr:      cfg.Lock.Redis.Addr,
		RedisPassword:  cfg.Lock.Redis.Password,
		RedisDB:        cfg.Lock.Redis.DB,
		RedisKeyPrefix: cfg.Lock.Redis.KeyPrefix,
	}
}

// openLocks opens the configured lock store and wraps it in a manager. The
// caller closes the returned store.
func openLocks(ctx context.Context, cfg *config.Config, logger *logging.Logger) (*lock.Manager, core.LockStore, error) {
	store, err := state.NewLockStore(ctx, storeOptions(cfg))
	if err != nil {
		return nil, nil, fmt.Errorf("opening lock store: %w", err)
	}
	mgr := lock.NewManager(store, []byte(cfg.Lock.Secret), lock.WithLogger(logger))
	return mgr, store, nil
}

// buildSource returns the configured issue source.
func buildSource(cfg *config.Config) (core.IssueSource, error) {
	switch cfg.Source.Kind {
	case "file":
		return file.NewSource(cfg.Source.File), nil
	case "github":
		return github.NewIssueSource(nil, github.Options{
			Repo:          cfg.Source.GitHub.Repo,
			Labels:        cfg.Source.GitHub.Labels,
			Limit:         cfg.Source.GitHub.Limit,
			LabelPriority: cfg.Source.GitHub.LabelPriority,
		}), nil
	default:
		return nil, core.ErrValidation(core.CodeInvalidConfig,
			fmt.Sprintf("unknown source kind: %s", cfg.Source.Kind))
	}
}

func closeStore(store core.LockStore, logger *logging.Logger) {
	if err := store.Close(); err != nil {
		logger.Warn("closing lock store", "error", err)
	}
}

