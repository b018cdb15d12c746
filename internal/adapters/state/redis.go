package state

import (
	"context"
	"errors"
	"strconv"
	"time"

	redis "github.com/redis/go-redis/v9"

	"github.com/hugo-lorenzo-mato/quorum-sweep/internal/core"
)

// Compile-time interface conformance check.
var _ core.LockStore = (*RedisLockStore)(nil)

// Record fields are stored as decimal UnixNano strings so they round-trip
// exactly; expires_us exists only for the numeric comparison in Lua, which
// works on doubles.
var createScript = redis.NewScript(`
local exp = redis.call("HGET", KEYS[1], "expires_us")
if exp and tonumber(exp) > tonumber(ARGV[8]) then
    return 0
end
redis.call("HSET", KEYS[1],
    "resource_id", ARGV[1],
    "holder_token", ARGV[2],
    "acquired_at", ARGV[3],
    "expires_at", ARGV[4],
    "last_renewed_at", ARGV[5],
    "signature", ARGV[6],
    "expires_us", ARGV[7])
redis.call("PEXPIRE", KEYS[1], ARGV[9])
redis.call("SADD", KEYS[2], ARGV[1])
return 1
`)

var updateScript = redis.NewScript(`
if redis.call("HGET", KEYS[1], "holder_token") ~= ARGV[2] then
    return 0
end
if redis.call("HGET", KEYS[1], "signature") ~= ARGV[9] then
    return 0
end
redis.call("HSET", KEYS[1],
    "acquired_at", ARGV[3],
    "expires_at", ARGV[4],
    "last_renewed_at", ARGV[5],
    "signature", ARGV[6],
    "expires_us", ARGV[7])
redis.call("PEXPIRE", KEYS[1], ARGV[8])
return 1
`)

var deleteScript = redis.NewScript(`
if redis.call("HGET", KEYS[1], "holder_token") == ARGV[1] then
    redis.call("DEL", KEYS[1])
    redis.call("SREM", KEYS[2], ARGV[2])
    return 1
end
return 0
`)

// RedisLockStore implements core.LockStore on Redis. Every mutation is a Lua
// script, so the check and the write happen atomically on the server.
type RedisLockStore struct {
	client    *redis.Client
	keyPrefix string
	// Redis drops keys this long after their logical expiry. Expired records
	// are already dead for acquirers; this only bounds memory.
	retention time.Duration
}

// RedisLockStoreOption configures the store.
type RedisLockStoreOption func(*RedisLockStore)

// WithKeyPrefix sets the key namespace.
func WithKeyPrefix(prefix string) RedisLockStoreOption {
	return func(s *RedisLockStore) {
		s.keyPrefix = prefix
	}
}

// WithRetention sets how long expired records linger before Redis evicts them.
func WithRetention(d time.Duration) RedisLockStoreOption {
	return func(s *RedisLockStore) {
		s.retention = d
	}
}

// NewRedisLockStore returns a store using client.
func NewRedisLockStore(client *redis.Client, opts ...RedisLockStoreOption) *RedisLockStore {
	s := &RedisLockStore{
		client:    client,
		keyPrefix: "quorum-sweep:lock:",
		retention: time.Hour,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Records live under prefix+"rec:" and the index set under prefix+"index",
// so no resource id can name the index.
func (s *RedisLockStore) key(resourceID string) string {
	return s.keyPrefix + "rec:" + resourceID
}

func (s *RedisLockStore) indexKey() string {
	return s.keyPrefix + "index"
}

func nanos(t time.Time) string {
	return strconv.FormatInt(t.UnixNano(), 10)
}

func (s *RedisLockStore) pttl(rec core.LockRecord) int64 {
	ms := time.Until(rec.ExpiresAt).Milliseconds() + s.retention.Milliseconds()
	if ms < 1 {
		ms = 1
	}
	return ms
}

// Create inserts rec or takes over an expired record.
func (s *RedisLockStore) Create(ctx context.Context, rec core.LockRecord, now time.Time) error {
	n, err := createScript.Run(ctx, s.client,
		[]string{s.key(rec.ResourceID), s.indexKey()},
		rec.ResourceID, rec.HolderToken,
		nanos(rec.AcquiredAt), nanos(rec.ExpiresAt), nanos(rec.LastRenewedAt),
		rec.Signature, rec.ExpiresAt.UnixMicro(),
		now.UnixMicro(), s.pttl(rec),
	).Int()
	if err != nil {
		return core.ErrStore("create", err)
	}
	if n == 0 {
		return core.ErrAlreadyHeld(rec.ResourceID)
	}
	return nil
}

// Update rewrites the record if token and signature still match.
func (s *RedisLockStore) Update(ctx context.Context, rec core.LockRecord, expectToken, expectSignature string) error {
	n, err := updateScript.Run(ctx, s.client,
		[]string{s.key(rec.ResourceID)},
		rec.ResourceID, expectToken,
		nanos(rec.AcquiredAt), nanos(rec.ExpiresAt), nanos(rec.LastRenewedAt),
		rec.Signature, rec.ExpiresAt.UnixMicro(),
		s.pttl(rec), expectSignature,
	).Int()
	if err != nil {
		return core.ErrStore("update", err)
	}
	if n == 0 {
		return core.ErrStolen(rec.ResourceID)
	}
	return nil
}

// Delete removes the record if it carries token.
func (s *RedisLockStore) Delete(ctx context.Context, resourceID, token string) (bool, error) {
	n, err := deleteScript.Run(ctx, s.client,
		[]string{s.key(resourceID), s.indexKey()},
		token, resourceID,
	).Int()
	if err != nil {
		return false, core.ErrStore("delete", err)
	}
	return n == 1, nil
}

// Get loads the record for resourceID.
func (s *RedisLockStore) Get(ctx context.Context, resourceID string) (*core.LockRecord, error) {
	fields, err := s.client.HGetAll(ctx, s.key(resourceID)).Result()
	if err != nil {
		return nil, core.ErrStore("get", err)
	}
	if len(fields) == 0 {
		return nil, core.ErrNotFound("lock", resourceID)
	}
	rec, err := parseRecord(fields)
	if err != nil {
		return nil, core.ErrStore("get", err)
	}
	return rec, nil
}

// List returns all indexed records. Index entries whose hash was evicted are
// pruned as a side effect.
func (s *RedisLockStore) List(ctx context.Context) ([]core.LockRecord, error) {
	ids, err := s.client.SMembers(ctx, s.indexKey()).Result()
	if err != nil {
		return nil, core.ErrStore("list", err)
	}
	var records []core.LockRecord
	for _, id := range ids {
		rec, err := s.Get(ctx, id)
		if core.IsCategory(err, core.ErrCatNotFound) {
			_ = s.client.SRem(ctx, s.indexKey(), id).Err()
			continue
		}
		if err != nil {
			return nil, err
		}
		records = append(records, *rec)
	}
	sortRecords(records)
	return records, nil
}

// Close closes the underlying client.
func (s *RedisLockStore) Close() error {
	return s.client.Close()
}

func parseRecord(fields map[string]string) (*core.LockRecord, error) {
	parse := func(name string) (time.Time, error) {
		n, err := strconv.ParseInt(fields[name], 10, 64)
		if err != nil {
			return time.Time{}, errors.New("malformed " + name)
		}
		return time.Unix(0, n), nil
	}
	rec := core.LockRecord{
		ResourceID:  fields["resource_id"],
		HolderToken: fields["holder_token"],
		Signature:   fields["signature"],
	}
	var err error
	if rec.AcquiredAt, err = parse("acquired_at"); err != nil {
		return nil, err
	}
	if rec.ExpiresAt, err = parse("expires_at"); err != nil {
		return nil, err
	}
	if rec.LastRenewedAt, err = parse("last_renewed_at"); err != nil {
		return nil, err
	}
	return &rec, nil
}
