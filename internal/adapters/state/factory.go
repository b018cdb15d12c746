package state

import (
	"context"
	"fmt"
	"time"

	redis "github.com/redis/go-redis/v9"

	"github.com/hugo-lorenzo-mato/quorum-sweep/internal/core"
)

// Supported lock store backends.
const (
	BackendSQLite = "sqlite"
	BackendRedis  = "redis"
	BackendMemory = "memory"
)

// StoreOptions configures lock store creation.
type StoreOptions struct {
	Backend string

	// SQLitePath is the database file shared by cooperating processes.
	SQLitePath  string
	BusyTimeout time.Duration

	RedisAddr      string
	RedisPassword  string
	RedisDB        int
	RedisKeyPrefix string
}

// NewLockStore creates the configured backend. For Redis it pings the server
// so an unreachable store fails fast instead of on the first acquire.
func NewLockStore(ctx context.Context, opts StoreOptions) (core.LockStore, error) {
	switch opts.Backend {
	case BackendSQLite, "":
		var sqliteOpts []SQLiteLockStoreOption
		if opts.BusyTimeout > 0 {
			sqliteOpts = append(sqliteOpts, WithBusyTimeout(opts.BusyTimeout))
		}
		return NewSQLiteLockStore(opts.SQLitePath, sqliteOpts...)
	case BackendRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     opts.RedisAddr,
			Password: opts.RedisPassword,
			DB:       opts.RedisDB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, core.ErrStore("connect", err)
		}
		var redisOpts []RedisLockStoreOption
		if opts.RedisKeyPrefix != "" {
			redisOpts = append(redisOpts, WithKeyPrefix(opts.RedisKeyPrefix))
		}
		return NewRedisLockStore(client, redisOpts...), nil
	case BackendMemory:
		return NewMemoryLockStore(), nil
	default:
		return nil, core.ErrValidation(core.CodeInvalidConfig,
			fmt.Sprintf("unknown lock store backend: %s", opts.Backend))
	}
}
