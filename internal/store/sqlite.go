// ABOUTME: SQLite implementation of the Store interface using modernc.org/sqlite
// ABOUTME: Owns the single connection, the store lock, and the worker dispatch every operation runs through

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// DefaultLegacyNamespace is assigned to rows upgraded from layouts that
// predate namespaces.
const DefaultLegacyNamespace = "0"

// DefaultBusyTimeout bounds how long opening or locking the database file may wait.
const DefaultBusyTimeout = 30 * time.Second

// timeLayout is fixed-width so that lexical order of stored timestamps
// matches chronological order.
const timeLayout = "2006-01-02T15:04:05.000000Z"

var errClosed = errors.New("store is closed")

// Options tunes a SQLiteStore. Zero values select defaults.
type Options struct {
	Logger          *slog.Logger
	BusyTimeout     time.Duration
	LegacyNamespace string
	Now             func() time.Time
}

// SQLiteStore implements Store on a single SQLite file. All access goes
// through one connection guarded by mu; see withLock.
type SQLiteStore struct {
	db              *sql.DB
	path            string
	logger          *slog.Logger
	legacyNamespace string
	now             func() time.Time

	mu     sync.Mutex
	closed bool

	// afterVouchCopy runs inside a merge transaction between the vouch copy
	// and the reply copy. Tests use it to inject faults.
	afterVouchCopy func(ctx context.Context, tx *sql.Tx) error
}

// NewSQLiteStore opens the store at path with default options.
// The schema is automatically created or upgraded.
// Parent directories are created if needed.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	return OpenSQLiteStore(path, Options{})
}

// OpenSQLiteStore opens the store at path with the given options.
func OpenSQLiteStore(path string, opts Options) (*SQLiteStore, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "store")

	busy := opts.BusyTimeout
	if busy <= 0 {
		busy = DefaultBusyTimeout
	}
	legacy := opts.LegacyNamespace
	if legacy == "" {
		legacy = DefaultLegacyNamespace
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}

	// Ensure parent directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	db, err := sql.Open("sqlite", dsn(path, busy))
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// One connection: every statement and transaction is serialized
	// through it, and pragmas set on it stick.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	ctx, cancel := context.WithTimeout(context.Background(), busy)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("connecting to database: %w", err)
	}

	s := &SQLiteStore{
		db:              db,
		path:            path,
		logger:          logger,
		legacyNamespace: legacy,
		now:             now,
	}

	if err := s.EnsureSchema(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path, "legacy_namespace", legacy)
	return s, nil
}

// dsn builds a modernc.org/sqlite connection string with the pragmas every
// new connection needs.
func dsn(path string, busy time.Duration) string {
	return fmt.Sprintf("file:%s?_pragma=busy_timeout(%d)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=foreign_keys(1)",
		path, busy.Milliseconds())
}

// Path returns the database file location.
func (s *SQLiteStore) Path() string { return s.path }

// Close closes the database connection. Operations already waiting for the
// lock fail with a storage error once it is released.
func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	s.logger.Info("closing SQLite store")
	return s.db.Close()
}

// withLock runs fn on its own goroutine while holding the store lock.
//
// The caller waits for the result. If ctx ends first the caller gets
// ctx.Err() immediately, but fn keeps running to completion with a context
// that is never cancelled, so a statement or transaction is never cut short
// halfway.
func (s *SQLiteStore) withLock(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	done := make(chan error, 1)
	detached := context.WithoutCancel(ctx)
	go func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.closed {
			done <- &StorageError{Op: op, Err: errClosed}
			return
		}
		done <- fn(detached)
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		s.logger.Debug("caller abandoned store operation", "op", op, "error", ctx.Err())
		return ctx.Err()
	}
}

// call is withLock for operations that produce a value.
func call[T any](ctx context.Context, s *SQLiteStore, op string, fn func(ctx context.Context) (T, error)) (T, error) {
	var out T
	err := s.withLock(ctx, op, func(ctx context.Context) error {
		v, err := fn(ctx)
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return out, nil
}

// inTx runs fn inside a transaction on the locked connection. Any error from
// fn, or a panic, rolls the transaction back.
func (s *SQLiteStore) inTx(ctx context.Context, fn func(tx *sql.Tx) error) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
		if err != nil {
			if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
				s.logger.Error("rollback failed", "error", rbErr)
			}
		}
	}()

	if err = fn(tx); err != nil {
		return err
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

func (s *SQLiteStore) timestamp() string {
	return formatTime(s.now())
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

// parseTime accepts the store's own layout plus the layouts found in rows
// written by older releases.
func parseTime(v string) (time.Time, error) {
	for _, layout := range []string{timeLayout, time.RFC3339Nano, "2006-01-02T15:04:05.999999", "2006-01-02 15:04:05"} {
		if t, err := time.Parse(layout, v); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", v)
}

// nullString returns nil for nil pointers, otherwise the string
func nullString(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}

func stringPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	v := ns.String
	return &v
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// Ensure SQLiteStore implements Store interface
var _ Store = (*SQLiteStore)(nil)
