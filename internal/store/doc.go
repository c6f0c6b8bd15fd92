// Package store provides persistent storage for vouches using SQLite.
//
// # Architecture
//
// The store package uses an interface-driven architecture with several
// specialized interfaces:
//
//   - VouchStore: Vouches, replies, aggregates and the leaderboard
//   - PolicyStore: Ban list, allow list and allow-listed roles
//   - SettingsStore: Namespace settings, profiles, DM preferences, mutes
//   - MergeStore: Moving rows between namespaces
//   - Store: All of the above plus export, import and the audit log
//
// SQLiteStore implements all interfaces in a single struct.
//
// # Namespaces
//
// Every row belongs to exactly one namespace (a guild). Rows only cross
// namespaces through MergeNamespace, MergeParty and ImportVouches, each of
// which runs in a single transaction and leaves an audit entry.
//
// # Concurrency
//
// The database has exactly one connection, guarded by one mutex. Each
// operation runs on its own goroutine while holding the mutex, so a
// multi-statement operation such as a merge never interleaves with another.
// Cancelling the caller's context abandons the wait, not the operation.
//
// # SQLite Configuration
//
// Every connection is opened with:
//
//	PRAGMA busy_timeout=30000;
//	PRAGMA journal_mode=WAL;
//	PRAGMA synchronous=NORMAL;
//	PRAGMA foreign_keys=ON;
//
// # Legacy Databases
//
// Files written before namespaces existed lack the guild_id column. On open
// each such table is rebuilt with the current layout and its rows are
// assigned Options.LegacyNamespace ("0" by default). A table whose rebuild
// fails, including one where any row does not fit the current constraints,
// is left untouched, logged, and retried on the next open.
//
// # Error Handling
//
// Common errors:
//
//   - ErrDuplicateVouch: Same seller, image and description already vouched
//   - ErrNotFound: Requested entity does not exist
//   - ErrInvalidRating, ErrInvalidMuteKind, ErrInvalidVouch: Rejected input
//   - *StorageError: Engine or I/O failure
//   - *IntegrityError: A merge or import was rolled back
//
// KindOf maps any returned error to an ErrorKind.
package store
