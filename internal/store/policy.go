// ABOUTME: Per-namespace access policy: ban list, allow list, and allow-listed roles
// ABOUTME: Adds and removes are idempotent; SellerAllowed combines the toggle, list and roles

package store

import (
	"context"
	"database/sql"
	"fmt"
)

// Ban blocks party in namespace. Banning an already banned party refreshes
// the reason and time.
func (s *SQLiteStore) Ban(ctx context.Context, party, namespace string, reason *string) error {
	return s.withLock(ctx, "ban", func(ctx context.Context) error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO blacklist (user_id, guild_id, reason, banned_at)
			VALUES (?, ?, ?, ?)
			ON CONFLICT(user_id, guild_id) DO UPDATE SET reason = excluded.reason, banned_at = excluded.banned_at
		`, party, namespace, nullString(reason), s.timestamp())
		if err != nil {
			return storageErr("ban", fmt.Errorf("upserting ban: %w", err))
		}
		s.logger.Debug("banned party", "party", party, "namespace", namespace)
		return nil
	})
}

// Unban lifts a ban. Unbanning a party that is not banned is not an error.
func (s *SQLiteStore) Unban(ctx context.Context, party, namespace string) error {
	return s.exec(ctx, "unban", `DELETE FROM blacklist WHERE user_id = ? AND guild_id = ?`, party, namespace)
}

// IsBanned reports whether party is banned in namespace.
func (s *SQLiteStore) IsBanned(ctx context.Context, party, namespace string) (bool, error) {
	return s.exists(ctx, "is_banned", `SELECT 1 FROM blacklist WHERE user_id = ? AND guild_id = ? LIMIT 1`, party, namespace)
}

// ListBans returns a namespace's bans, most recent first.
func (s *SQLiteStore) ListBans(ctx context.Context, namespace string) ([]*BanEntry, error) {
	return call(ctx, s, "list_bans", func(ctx context.Context) ([]*BanEntry, error) {
		rows, err := s.db.QueryContext(ctx, `
			SELECT user_id, guild_id, reason, banned_at FROM blacklist
			WHERE guild_id = ?
			ORDER BY banned_at DESC, user_id ASC
		`, namespace)
		if err != nil {
			return nil, storageErr("list_bans", fmt.Errorf("querying bans: %w", err))
		}
		defer rows.Close()

		var out []*BanEntry
		for rows.Next() {
			var b BanEntry
			var reason, bannedAt sql.NullString
			if err := rows.Scan(&b.Party, &b.Namespace, &reason, &bannedAt); err != nil {
				return nil, storageErr("list_bans", fmt.Errorf("scanning ban row: %w", err))
			}
			b.Reason = stringPtr(reason)
			// Rows carried over from old layouts may have no time.
			if bannedAt.Valid {
				b.BannedAt, _ = parseTime(bannedAt.String)
			}
			out = append(out, &b)
		}
		return out, storageErr("list_bans", rows.Err())
	})
}

// SetAllowListEnabled switches allow-list-required mode for a namespace.
func (s *SQLiteStore) SetAllowListEnabled(ctx context.Context, namespace string, enabled bool) error {
	return s.exec(ctx, "set_allow_list_enabled", `
		INSERT INTO whitelist_settings (guild_id, enabled)
		VALUES (?, ?)
		ON CONFLICT(guild_id) DO UPDATE SET enabled = excluded.enabled
	`, namespace, boolInt(enabled))
}

// AllowListEnabled reports whether allow-list-required mode is on. Namespaces
// that never set it are off.
func (s *SQLiteStore) AllowListEnabled(ctx context.Context, namespace string) (bool, error) {
	return call(ctx, s, "allow_list_enabled", func(ctx context.Context) (bool, error) {
		return s.allowListEnabled(ctx, namespace)
	})
}

func (s *SQLiteStore) allowListEnabled(ctx context.Context, namespace string) (bool, error) {
	var enabled int
	err := s.db.QueryRowContext(ctx, `SELECT enabled FROM whitelist_settings WHERE guild_id = ?`, namespace).Scan(&enabled)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, storageErr("allow_list_enabled", fmt.Errorf("querying allow list toggle: %w", err))
	}
	return enabled != 0, nil
}

// AllowParty adds party to the namespace allow list.
func (s *SQLiteStore) AllowParty(ctx context.Context, namespace, party string) error {
	return s.exec(ctx, "allow_party", `INSERT OR IGNORE INTO whitelist (guild_id, user_id) VALUES (?, ?)`, namespace, party)
}

// DisallowParty removes party from the namespace allow list.
func (s *SQLiteStore) DisallowParty(ctx context.Context, namespace, party string) error {
	return s.exec(ctx, "disallow_party", `DELETE FROM whitelist WHERE guild_id = ? AND user_id = ?`, namespace, party)
}

// IsAllowed reports whether party is on the namespace allow list.
func (s *SQLiteStore) IsAllowed(ctx context.Context, namespace, party string) (bool, error) {
	return s.exists(ctx, "is_allowed", `SELECT 1 FROM whitelist WHERE guild_id = ? AND user_id = ? LIMIT 1`, namespace, party)
}

// AllowRole lets members of role bypass the allow list.
func (s *SQLiteStore) AllowRole(ctx context.Context, namespace, role string) error {
	return s.exec(ctx, "allow_role", `INSERT OR IGNORE INTO whitelist_roles (guild_id, role_id) VALUES (?, ?)`, namespace, role)
}

// DisallowRole removes a role from the bypass set.
func (s *SQLiteStore) DisallowRole(ctx context.Context, namespace, role string) error {
	return s.exec(ctx, "disallow_role", `DELETE FROM whitelist_roles WHERE guild_id = ? AND role_id = ?`, namespace, role)
}

// AllowedRoles lists the roles that bypass the allow list, sorted.
func (s *SQLiteStore) AllowedRoles(ctx context.Context, namespace string) ([]string, error) {
	return call(ctx, s, "allowed_roles", func(ctx context.Context) ([]string, error) {
		return s.allowedRoles(ctx, namespace)
	})
}

func (s *SQLiteStore) allowedRoles(ctx context.Context, namespace string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT role_id FROM whitelist_roles WHERE guild_id = ? ORDER BY role_id`, namespace)
	if err != nil {
		return nil, storageErr("allowed_roles", fmt.Errorf("querying roles: %w", err))
	}
	defer rows.Close()

	var roles []string
	for rows.Next() {
		var r string
		if err := rows.Scan(&r); err != nil {
			return nil, storageErr("allowed_roles", fmt.Errorf("scanning role: %w", err))
		}
		roles = append(roles, r)
	}
	return roles, storageErr("allowed_roles", rows.Err())
}

// SellerAllowed reports whether seller may receive vouches in namespace:
// always when the allow list is off, otherwise when the seller is listed or
// holds one of roleIDs that is allow-listed. Bans are checked separately.
func (s *SQLiteStore) SellerAllowed(ctx context.Context, namespace, seller string, roleIDs []string) (bool, error) {
	return call(ctx, s, "seller_allowed", func(ctx context.Context) (bool, error) {
		enabled, err := s.allowListEnabled(ctx, namespace)
		if err != nil {
			return false, err
		}
		if !enabled {
			return true, nil
		}

		var one int
		err = s.db.QueryRowContext(ctx, `SELECT 1 FROM whitelist WHERE guild_id = ? AND user_id = ? LIMIT 1`, namespace, seller).Scan(&one)
		if err == nil {
			return true, nil
		}
		if err != sql.ErrNoRows {
			return false, storageErr("seller_allowed", fmt.Errorf("querying allow list: %w", err))
		}

		if len(roleIDs) == 0 {
			return false, nil
		}
		allowed, err := s.allowedRoles(ctx, namespace)
		if err != nil {
			return false, err
		}
		set := make(map[string]struct{}, len(allowed))
		for _, r := range allowed {
			set[r] = struct{}{}
		}
		for _, r := range roleIDs {
			if _, ok := set[r]; ok {
				return true, nil
			}
		}
		return false, nil
	})
}

// exec runs a single write statement under the store lock.
func (s *SQLiteStore) exec(ctx context.Context, op, query string, args ...any) error {
	return s.withLock(ctx, op, func(ctx context.Context) error {
		if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
			return storageErr(op, err)
		}
		return nil
	})
}

// exists runs a SELECT 1 query under the store lock and reports whether it matched.
func (s *SQLiteStore) exists(ctx context.Context, op, query string, args ...any) (bool, error) {
	return call(ctx, s, op, func(ctx context.Context) (bool, error) {
		var one int
		err := s.db.QueryRowContext(ctx, query, args...).Scan(&one)
		if err == sql.ErrNoRows {
			return false, nil
		}
		if err != nil {
			return false, storageErr(op, err)
		}
		return true, nil
	})
}
