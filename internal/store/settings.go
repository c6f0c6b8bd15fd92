// ABOUTME: Namespace settings, party profiles, notification preferences and mute flags
// ABOUTME: Every setter upserts only its own columns so sibling fields survive

package store

import (
	"context"
	"database/sql"
	"fmt"
)

// NamespaceSettings returns a namespace's notification settings, or the
// defaults (no channel, notifications on) if none were ever stored.
func (s *SQLiteStore) NamespaceSettings(ctx context.Context, namespace string) (*NamespaceSettings, error) {
	return call(ctx, s, "namespace_settings", func(ctx context.Context) (*NamespaceSettings, error) {
		ns := &NamespaceSettings{Namespace: namespace, NotifyEnabled: true}
		var channel sql.NullString
		var enabled sql.NullInt64
		err := s.db.QueryRowContext(ctx, `
			SELECT notify_channel_id, notify_enabled FROM guild_settings WHERE guild_id = ?
		`, namespace).Scan(&channel, &enabled)
		if err == sql.ErrNoRows {
			return ns, nil
		}
		if err != nil {
			return nil, storageErr("namespace_settings", fmt.Errorf("querying settings: %w", err))
		}
		ns.NotifyChannel = stringPtr(channel)
		ns.NotifyEnabled = !enabled.Valid || enabled.Int64 != 0
		return ns, nil
	})
}

// SetNotifyChannel sets or clears (nil) the notification channel, keeping
// the enabled flag.
func (s *SQLiteStore) SetNotifyChannel(ctx context.Context, namespace string, channel *string) error {
	return s.exec(ctx, "set_notify_channel", `
		INSERT INTO guild_settings (guild_id, notify_channel_id, notify_enabled)
		VALUES (?, ?, 1)
		ON CONFLICT(guild_id) DO UPDATE SET notify_channel_id = excluded.notify_channel_id
	`, namespace, nullString(channel))
}

// SetNotifyEnabled toggles namespace notifications, keeping the channel.
func (s *SQLiteStore) SetNotifyEnabled(ctx context.Context, namespace string, enabled bool) error {
	return s.exec(ctx, "set_notify_enabled", `
		INSERT INTO guild_settings (guild_id, notify_channel_id, notify_enabled)
		VALUES (?, NULL, ?)
		ON CONFLICT(guild_id) DO UPDATE SET notify_enabled = excluded.notify_enabled
	`, namespace, boolInt(enabled))
}

// Profile returns a party's profile in a namespace, or the defaults (no
// banner, public stats) if none were ever stored.
func (s *SQLiteStore) Profile(ctx context.Context, party, namespace string) (*Profile, error) {
	return call(ctx, s, "profile", func(ctx context.Context) (*Profile, error) {
		p := &Profile{Party: party, Namespace: namespace, StatsPublic: true}
		var banner sql.NullString
		var public int
		err := s.db.QueryRowContext(ctx, `
			SELECT banner_path, stats_public FROM user_profiles WHERE user_id = ? AND guild_id = ?
		`, party, namespace).Scan(&banner, &public)
		if err == sql.ErrNoRows {
			return p, nil
		}
		if err != nil {
			return nil, storageErr("profile", fmt.Errorf("querying profile: %w", err))
		}
		p.BannerPath = stringPtr(banner)
		p.StatsPublic = public != 0
		return p, nil
	})
}

// SetBannerPath sets or clears (nil) the banner, keeping the privacy flag.
func (s *SQLiteStore) SetBannerPath(ctx context.Context, party, namespace string, path *string) error {
	return s.exec(ctx, "set_banner_path", `
		INSERT INTO user_profiles (user_id, guild_id, banner_path, stats_public)
		VALUES (?, ?, ?, 1)
		ON CONFLICT(user_id, guild_id) DO UPDATE SET banner_path = excluded.banner_path
	`, party, namespace, nullString(path))
}

// SetStatsPublic sets the privacy flag, keeping the banner.
func (s *SQLiteStore) SetStatsPublic(ctx context.Context, party, namespace string, public bool) error {
	return s.exec(ctx, "set_stats_public", `
		INSERT INTO user_profiles (user_id, guild_id, banner_path, stats_public)
		VALUES (?, ?, NULL, ?)
		ON CONFLICT(user_id, guild_id) DO UPDATE SET stats_public = excluded.stats_public
	`, party, namespace, boolInt(public))
}

// NotifyPrefs returns a party's DM preferences. Absence means both on.
func (s *SQLiteStore) NotifyPrefs(ctx context.Context, party, namespace string) (*NotifyPrefs, error) {
	return call(ctx, s, "notify_prefs", func(ctx context.Context) (*NotifyPrefs, error) {
		return s.notifyPrefs(ctx, party, namespace)
	})
}

func (s *SQLiteStore) notifyPrefs(ctx context.Context, party, namespace string) (*NotifyPrefs, error) {
	p := &NotifyPrefs{Party: party, Namespace: namespace, VouchDM: true, ReplyDM: true}
	var vouchDM, replyDM int
	err := s.db.QueryRowContext(ctx, `
		SELECT vouch_dm, reply_dm FROM notify_prefs WHERE user_id = ? AND guild_id = ?
	`, party, namespace).Scan(&vouchDM, &replyDM)
	if err == sql.ErrNoRows {
		return p, nil
	}
	if err != nil {
		return nil, storageErr("notify_prefs", fmt.Errorf("querying notify prefs: %w", err))
	}
	p.VouchDM = vouchDM != 0
	p.ReplyDM = replyDM != 0
	return p, nil
}

// SetNotifyPrefs changes the non-nil fields of u. Fields left nil keep their
// stored value, or the default when no row exists yet.
func (s *SQLiteStore) SetNotifyPrefs(ctx context.Context, party, namespace string, u NotifyPrefsUpdate) error {
	return s.withLock(ctx, "set_notify_prefs", func(ctx context.Context) error {
		current, err := s.notifyPrefs(ctx, party, namespace)
		if err != nil {
			return err
		}
		if u.VouchDM != nil {
			current.VouchDM = *u.VouchDM
		}
		if u.ReplyDM != nil {
			current.ReplyDM = *u.ReplyDM
		}

		_, err = s.db.ExecContext(ctx, `
			INSERT INTO notify_prefs (user_id, guild_id, vouch_dm, reply_dm)
			VALUES (?, ?, ?, ?)
			ON CONFLICT(user_id, guild_id) DO UPDATE SET vouch_dm = excluded.vouch_dm, reply_dm = excluded.reply_dm
		`, party, namespace, boolInt(current.VouchDM), boolInt(current.ReplyDM))
		if err != nil {
			return storageErr("set_notify_prefs", fmt.Errorf("upserting notify prefs: %w", err))
		}
		return nil
	})
}

// SetMuted sets or clears a mute flag.
func (s *SQLiteStore) SetMuted(ctx context.Context, party, namespace string, kind MuteKind, muted bool) error {
	if !kind.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidMuteKind, kind)
	}
	if muted {
		return s.exec(ctx, "set_muted", `INSERT OR IGNORE INTO mutes (user_id, guild_id, type) VALUES (?, ?, ?)`, party, namespace, string(kind))
	}
	return s.exec(ctx, "set_muted", `DELETE FROM mutes WHERE user_id = ? AND guild_id = ? AND type = ?`, party, namespace, string(kind))
}

// IsMuted reports whether a mute flag is set.
func (s *SQLiteStore) IsMuted(ctx context.Context, party, namespace string, kind MuteKind) (bool, error) {
	if !kind.Valid() {
		return false, fmt.Errorf("%w: %q", ErrInvalidMuteKind, kind)
	}
	return s.exists(ctx, "is_muted", `SELECT 1 FROM mutes WHERE user_id = ? AND guild_id = ? AND type = ? LIMIT 1`, party, namespace, string(kind))
}

// DMAllowed reports whether party should be sent a direct message of the
// given kind: it is not muted and the matching preference is on.
func (s *SQLiteStore) DMAllowed(ctx context.Context, party, namespace string, kind MuteKind) (bool, error) {
	if !kind.Valid() {
		return false, fmt.Errorf("%w: %q", ErrInvalidMuteKind, kind)
	}
	return call(ctx, s, "dm_allowed", func(ctx context.Context) (bool, error) {
		var one int
		err := s.db.QueryRowContext(ctx, `
			SELECT 1 FROM mutes WHERE user_id = ? AND guild_id = ? AND type = ? LIMIT 1
		`, party, namespace, string(kind)).Scan(&one)
		if err == nil {
			return false, nil
		}
		if err != sql.ErrNoRows {
			return false, storageErr("dm_allowed", fmt.Errorf("querying mutes: %w", err))
		}

		prefs, err := s.notifyPrefs(ctx, party, namespace)
		if err != nil {
			return false, err
		}
		if kind == MuteReply {
			return prefs.ReplyDM, nil
		}
		return prefs.VouchDM, nil
	})
}
