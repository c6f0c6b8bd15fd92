// ABOUTME: Schema creation and legacy-layout upgrades for the vouch database
// ABOUTME: Rebuilds namespace-less tables under a shadow name without losing rows

package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// namespaceColumn is the column whose absence marks a legacy table layout.
const namespaceColumn = "guild_id"

// tableDef describes one table in its current layout.
type tableDef struct {
	name    string
	columns string
	// namespaced tables get upgraded when namespaceColumn is missing.
	namespaced bool
}

func (t tableDef) createSQL(name string) string {
	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s)", name, t.columns)
}

// Table names are kept from earlier releases so existing database files open in place.
const (
	tableVouches           = "vouches"
	tableReplies           = "vouch_replies"
	tableBans              = "blacklist"
	tableAllowList         = "whitelist"
	tableAllowListSettings = "whitelist_settings"
	tableAllowedRoles      = "whitelist_roles"
	tableNamespaceSettings = "guild_settings"
	tableProfiles          = "user_profiles"
	tableNotifyPrefs       = "notify_prefs"
	tableMutes             = "mutes"
	tableAuditLog          = "audit_log"
)

var tables = []tableDef{
	{
		name: tableVouches,
		columns: `
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			seller_id TEXT NOT NULL,
			buyer_id TEXT NOT NULL,
			guild_id TEXT NOT NULL,
			rating INTEGER NOT NULL,
			text TEXT NOT NULL,
			img_hash TEXT NOT NULL,
			desc_hash TEXT NOT NULL,
			image_path TEXT,
			image_url TEXT,
			notify_seller INTEGER DEFAULT 1,
			timestamp TEXT NOT NULL`,
		namespaced: true,
	},
	{
		name: tableReplies,
		columns: `
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			vouch_id INTEGER NOT NULL,
			guild_id TEXT NOT NULL,
			seller_id TEXT NOT NULL,
			buyer_id TEXT NOT NULL,
			text TEXT NOT NULL,
			created_at TEXT NOT NULL,
			FOREIGN KEY (vouch_id) REFERENCES vouches(id) ON DELETE CASCADE`,
		namespaced: true,
	},
	{
		name: tableBans,
		columns: `
			user_id TEXT NOT NULL,
			guild_id TEXT NOT NULL,
			reason TEXT,
			banned_at TEXT,
			PRIMARY KEY (user_id, guild_id)`,
		namespaced: true,
	},
	{
		name: tableAllowList,
		columns: `
			guild_id TEXT NOT NULL,
			user_id TEXT NOT NULL,
			PRIMARY KEY (guild_id, user_id)`,
		namespaced: true,
	},
	{
		name: tableAllowListSettings,
		columns: `
			guild_id TEXT PRIMARY KEY,
			enabled INTEGER NOT NULL DEFAULT 0 CHECK (enabled IN (0,1))`,
		namespaced: true,
	},
	{
		name: tableAllowedRoles,
		columns: `
			guild_id TEXT NOT NULL,
			role_id TEXT NOT NULL,
			PRIMARY KEY (guild_id, role_id)`,
		namespaced: true,
	},
	{
		name: tableNamespaceSettings,
		columns: `
			guild_id TEXT PRIMARY KEY,
			notify_channel_id TEXT DEFAULT NULL,
			notify_enabled INTEGER DEFAULT 1`,
		namespaced: true,
	},
	{
		name: tableProfiles,
		columns: `
			user_id TEXT NOT NULL,
			guild_id TEXT NOT NULL,
			banner_path TEXT,
			stats_public INTEGER NOT NULL DEFAULT 1,
			PRIMARY KEY (user_id, guild_id)`,
		namespaced: true,
	},
	{
		name: tableNotifyPrefs,
		columns: `
			user_id TEXT NOT NULL,
			guild_id TEXT NOT NULL,
			vouch_dm INTEGER NOT NULL DEFAULT 1,
			reply_dm INTEGER NOT NULL DEFAULT 1,
			PRIMARY KEY (user_id, guild_id)`,
		namespaced: true,
	},
	{
		name: tableMutes,
		columns: `
			user_id TEXT NOT NULL,
			guild_id TEXT NOT NULL,
			type TEXT NOT NULL CHECK (type IN ('vouch', 'reply')),
			PRIMARY KEY (user_id, guild_id, type)`,
		namespaced: true,
	},
	{
		name: tableAuditLog,
		columns: `
			audit_id        TEXT PRIMARY KEY,
			action          TEXT NOT NULL,
			source_guild_id TEXT NOT NULL,
			target_guild_id TEXT,
			subject_id      TEXT,
			ts              TEXT NOT NULL,
			detail_json     TEXT,

			CHECK (action IN ('merge_namespace', 'merge_party', 'import_vouches'))`,
	},
}

type indexDef struct {
	table string
	sql   string
}

var indexes = []indexDef{
	{tableVouches, `CREATE UNIQUE INDEX IF NOT EXISTS ux_vouches_seller_guild_img_desc
		ON vouches(seller_id, guild_id, img_hash, desc_hash)`},
	{tableVouches, `CREATE INDEX IF NOT EXISTS ix_vouches_guild_created ON vouches(guild_id, timestamp DESC)`},
	{tableVouches, `CREATE INDEX IF NOT EXISTS ix_vouches_seller_guild ON vouches(seller_id, guild_id)`},
	{tableVouches, `CREATE INDEX IF NOT EXISTS ix_vouches_buyer_guild ON vouches(buyer_id, guild_id)`},
	{tableReplies, `CREATE INDEX IF NOT EXISTS ix_replies_vouch ON vouch_replies(vouch_id)`},
	{tableReplies, `CREATE INDEX IF NOT EXISTS ix_replies_guild ON vouch_replies(guild_id)`},
	{tableBans, `CREATE INDEX IF NOT EXISTS ix_blacklist_guild ON blacklist(guild_id, banned_at DESC)`},
	{tableAuditLog, `CREATE INDEX IF NOT EXISTS idx_audit_ts ON audit_log(ts DESC)`},
	{tableAuditLog, `CREATE INDEX IF NOT EXISTS idx_audit_source ON audit_log(source_guild_id)`},
}

// obsoleteIndexes were created by earlier releases and conflict with the
// current duplicate rule.
var obsoleteIndexes = []string{"uniq_vouch_triple"}

// EnsureSchema creates missing tables and indexes and upgrades legacy table
// layouts in place. It is safe to call on every startup and never drops data:
// a table whose upgrade fails is left as it was and retried next time.
func (s *SQLiteStore) EnsureSchema(ctx context.Context) error {
	return s.withLock(ctx, "ensure_schema", func(ctx context.Context) error {
		conn, err := s.db.Conn(ctx)
		if err != nil {
			return fmt.Errorf("acquiring connection: %w", err)
		}
		defer conn.Close()

		for _, t := range tables {
			if _, err := conn.ExecContext(ctx, t.createSQL(t.name)); err != nil {
				return fmt.Errorf("creating table %s: %w", t.name, err)
			}
		}

		legacy := s.upgradeLegacyTables(ctx, conn)

		for _, name := range obsoleteIndexes {
			if _, err := conn.ExecContext(ctx, "DROP INDEX IF EXISTS "+name); err != nil {
				s.logger.Warn("dropping obsolete index failed", "index", name, "error", err)
			}
		}

		for _, idx := range indexes {
			if legacy[idx.table] {
				s.logger.Warn("skipping index on legacy table", "table", idx.table)
				continue
			}
			if _, err := conn.ExecContext(ctx, idx.sql); err != nil {
				return fmt.Errorf("creating index on %s: %w", idx.table, err)
			}
		}
		return nil
	})
}

// LegacyTables lists namespaced tables still lacking the namespace column.
func (s *SQLiteStore) LegacyTables(ctx context.Context) ([]string, error) {
	return call(ctx, s, "legacy_tables", func(ctx context.Context) ([]string, error) {
		var out []string
		for _, t := range tables {
			if !t.namespaced {
				continue
			}
			ok, err := hasColumn(ctx, s.db, t.name, namespaceColumn)
			if err != nil {
				return nil, storageErr("legacy_tables", err)
			}
			if !ok {
				out = append(out, t.name)
			}
		}
		return out, nil
	})
}

// upgradeLegacyTables rebuilds every namespaced table that lacks the namespace
// column. It returns the set of tables that are still legacy afterwards.
func (s *SQLiteStore) upgradeLegacyTables(ctx context.Context, conn *sql.Conn) map[string]bool {
	legacy := make(map[string]bool)

	var pending []tableDef
	for _, t := range tables {
		if !t.namespaced {
			continue
		}
		ok, err := hasColumn(ctx, conn, t.name, namespaceColumn)
		if err != nil {
			s.logger.Warn("inspecting table failed", "table", t.name, "error", err)
			legacy[t.name] = true
			continue
		}
		if !ok {
			pending = append(pending, t)
		}
	}
	if len(pending) == 0 {
		return legacy
	}

	// Dropping a legacy vouches table with enforcement on would cascade into
	// replies. The pragma is a no-op inside a transaction, so flip it here.
	if _, err := conn.ExecContext(ctx, "PRAGMA foreign_keys=OFF"); err != nil {
		s.logger.Warn("disabling foreign keys for upgrade failed", "error", err)
		for _, t := range pending {
			legacy[t.name] = true
		}
		return legacy
	}
	defer func() {
		if _, err := conn.ExecContext(ctx, "PRAGMA foreign_keys=ON"); err != nil {
			s.logger.Error("re-enabling foreign keys failed", "error", err)
		}
	}()

	for _, t := range pending {
		copied, err := s.upgradeTable(ctx, conn, t)
		if err != nil {
			s.logger.Warn("legacy table upgrade failed, leaving table as-is", "table", t.name, "error", err)
			legacy[t.name] = true
			continue
		}
		s.logger.Info("applied migration", "table", t.name, "column", namespaceColumn, "rows", copied, "namespace", s.legacyNamespace)
	}
	return legacy
}

// upgradeTable copies a legacy table into a shadow table with the current
// layout, then swaps the shadow into place, all in one transaction.
func (s *SQLiteStore) upgradeTable(ctx context.Context, conn *sql.Conn, t tableDef) (int64, error) {
	shadow := t.name + "_new"

	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("beginning upgrade: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DROP TABLE IF EXISTS "+shadow); err != nil {
		return 0, fmt.Errorf("dropping stale shadow: %w", err)
	}
	if _, err := tx.ExecContext(ctx, t.createSQL(shadow)); err != nil {
		return 0, fmt.Errorf("creating shadow: %w", err)
	}

	current, err := columnNames(ctx, tx, shadow)
	if err != nil {
		return 0, err
	}
	old, err := columnNames(ctx, tx, t.name)
	if err != nil {
		return 0, err
	}
	have := make(map[string]bool, len(old))
	for _, c := range old {
		have[c] = true
	}

	var shared []string
	for _, c := range current {
		if c != namespaceColumn && have[c] {
			shared = append(shared, c)
		}
	}

	cols := strings.Join(append(append([]string{}, shared...), namespaceColumn), ", ")
	sel := strings.Join(append(append([]string{}, shared...), "?"), ", ")
	copySQL := fmt.Sprintf("INSERT OR IGNORE INTO %s (%s) SELECT %s FROM %s", shadow, cols, sel, t.name)

	var total int64
	if err := tx.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+t.name).Scan(&total); err != nil {
		return 0, fmt.Errorf("counting legacy rows: %w", err)
	}

	res, err := tx.ExecContext(ctx, copySQL, s.legacyNamespace)
	if err != nil {
		return 0, fmt.Errorf("copying rows: %w", err)
	}
	copied, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("counting copied rows: %w", err)
	}
	if copied < total {
		// Rolling back keeps every legacy row; the table is retried on the next open.
		return 0, fmt.Errorf("only %d of %d rows fit the current layout", copied, total)
	}

	if _, err := tx.ExecContext(ctx, "DROP TABLE "+t.name); err != nil {
		return 0, fmt.Errorf("dropping legacy table: %w", err)
	}
	if _, err := tx.ExecContext(ctx, fmt.Sprintf("ALTER TABLE %s RENAME TO %s", shadow, t.name)); err != nil {
		return 0, fmt.Errorf("renaming shadow: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("committing upgrade: %w", err)
	}
	return copied, nil
}

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func hasColumn(ctx context.Context, q queryer, table, column string) (bool, error) {
	var exists int
	err := q.QueryRowContext(ctx, `SELECT 1 FROM pragma_table_info(?) WHERE name = ?`, table, column).Scan(&exists)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("inspecting %s: %w", table, err)
	}
	return true, nil
}

func columnNames(ctx context.Context, q queryer, table string) ([]string, error) {
	rows, err := q.QueryContext(ctx, `SELECT name FROM pragma_table_info(?) ORDER BY cid`, table)
	if err != nil {
		return nil, fmt.Errorf("listing columns of %s: %w", table, err)
	}
	defer rows.Close()

	var cols []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scanning column of %s: %w", table, err)
		}
		cols = append(cols, name)
	}
	return cols, rows.Err()
}
