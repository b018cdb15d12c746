package state

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/hugo-lorenzo-mato/quorum-sweep/internal/core"
	_ "modernc.org/sqlite"
)

//go:embed migrations/001_lock_records.sql
var migrationV1 string

// Compile-time interface conformance check.
var _ core.LockStore = (*SQLiteLockStore)(nil)

// SQLiteLockStore implements core.LockStore on a SQLite database file. Several
// processes may open the same file; SQLite serializes their writes and every
// mutation is a single conditional statement.
type SQLiteLockStore struct {
	dbPath      string
	db          *sql.DB
	busyTimeout time.Duration
}

// SQLiteLockStoreOption configures the store.
type SQLiteLockStoreOption func(*SQLiteLockStore)

// WithBusyTimeout sets how long a writer waits on a locked database file.
func WithBusyTimeout(d time.Duration) SQLiteLockStoreOption {
	return func(s *SQLiteLockStore) {
		s.busyTimeout = d
	}
}

// NewSQLiteLockStore opens (creating if needed) the lock database at dbPath.
func NewSQLiteLockStore(dbPath string, opts ...SQLiteLockStoreOption) (*SQLiteLockStore, error) {
	s := &SQLiteLockStore{
		dbPath:      dbPath,
		busyTimeout: 5 * time.Second,
	}
	for _, opt := range opts {
		opt(s)
	}

	if dbPath != ":memory:" {
		dir := filepath.Dir(dbPath)
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("creating lock store directory: %w", err)
		}
	}

	dsn := fmt.Sprintf("%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(%d)",
		dbPath, s.busyTimeout.Milliseconds())
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, core.ErrStore("open", err)
	}
	// One connection per process: writes queue in database/sql instead of
	// racing for the file lock, and :memory: databases stay a single database.
	db.SetMaxOpenConns(1)
	s.db = db

	if err := s.migrate(); err != nil {
		if closeErr := db.Close(); closeErr != nil {
			return nil, fmt.Errorf("running migrations: %w (close error: %v)", err, closeErr)
		}
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return s, nil
}

// Close closes the database connection.
func (s *SQLiteLockStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Path returns the database path.
func (s *SQLiteLockStore) Path() string {
	return s.dbPath
}

func (s *SQLiteLockStore) migrate() error {
	var version int
	err := s.db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&version)
	if err != nil {
		// Table doesn't exist yet
		version = 0
	}

	if version < 1 {
		if _, err := s.db.Exec(migrationV1); err != nil {
			return fmt.Errorf("applying migration v1: %w", err)
		}
	}
	return nil
}

// Create inserts rec or takes over an expired record in one statement.
func (s *SQLiteLockStore) Create(ctx context.Context, rec core.LockRecord, now time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO lock_records (resource_id, holder_token, acquired_at, expires_at, last_renewed_at, signature)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(resource_id) DO UPDATE SET
			holder_token = excluded.holder_token,
			acquired_at = excluded.acquired_at,
			expires_at = excluded.expires_at,
			last_renewed_at = excluded.last_renewed_at,
			signature = excluded.signature
		WHERE lock_records.expires_at <= ?
	`,
		rec.ResourceID, rec.HolderToken,
		rec.AcquiredAt.UnixNano(), rec.ExpiresAt.UnixNano(), rec.LastRenewedAt.UnixNano(),
		rec.Signature, now.UnixNano(),
	)
	if err != nil {
		return core.ErrStore("create", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return core.ErrStore("create", err)
	}
	if n == 0 {
		return core.ErrAlreadyHeld(rec.ResourceID)
	}
	return nil
}

// Update rewrites the record if token and signature still match.
func (s *SQLiteLockStore) Update(ctx context.Context, rec core.LockRecord, expectToken, expectSignature string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE lock_records SET
			acquired_at = ?,
			expires_at = ?,
			last_renewed_at = ?,
			signature = ?
		WHERE resource_id = ? AND holder_token = ? AND signature = ?
	`,
		rec.AcquiredAt.UnixNano(), rec.ExpiresAt.UnixNano(), rec.LastRenewedAt.UnixNano(), rec.Signature,
		rec.ResourceID, expectToken, expectSignature,
	)
	if err != nil {
		return core.ErrStore("update", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return core.ErrStore("update", err)
	}
	if n == 0 {
		return core.ErrStolen(rec.ResourceID)
	}
	return nil
}

// Delete removes the record if it carries token.
func (s *SQLiteLockStore) Delete(ctx context.Context, resourceID, token string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM lock_records WHERE resource_id = ? AND holder_token = ?`,
		resourceID, token)
	if err != nil {
		return false, core.ErrStore("delete", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, core.ErrStore("delete", err)
	}
	return n > 0, nil
}

// Get loads the record for resourceID.
func (s *SQLiteLockStore) Get(ctx context.Context, resourceID string) (*core.LockRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT resource_id, holder_token, acquired_at, expires_at, last_renewed_at, signature
		FROM lock_records WHERE resource_id = ?
	`, resourceID)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, core.ErrNotFound("lock", resourceID)
	}
	if err != nil {
		return nil, core.ErrStore("get", err)
	}
	return rec, nil
}

// List returns all records ordered by resource id.
func (s *SQLiteLockStore) List(ctx context.Context) ([]core.LockRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT resource_id, holder_token, acquired_at, expires_at, last_renewed_at, signature
		FROM lock_records ORDER BY resource_id
	`)
	if err != nil {
		return nil, core.ErrStore("list", err)
	}
	defer rows.Close()

	var records []core.LockRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, core.ErrStore("list", err)
		}
		records = append(records, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, core.ErrStore("list", err)
	}
	return records, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*core.LockRecord, error) {
	var rec core.LockRecord
	var acquired, expires, lastRenewed int64
	if err := row.Scan(&rec.ResourceID, &rec.HolderToken, &acquired, &expires, &lastRenewed, &rec.Signature); err != nil {
		return nil, err
	}
	rec.AcquiredAt = time.Unix(0, acquired)
	rec.ExpiresAt = time.Unix(0, expires)
	rec.LastRenewedAt = time.Unix(0, lastRenewed)
	return &rec, nil
}
