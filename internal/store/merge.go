// ABOUTME: Namespace and party merges that move vouch data between namespaces in one transaction
// ABOUTME: Replies are re-attached to re-keyed vouches by matching content, never by old IDs

package store

import (
	"context"
	"database/sql"
	"fmt"
)

// TableCounts holds per-table row counts for one side of a merge.
type TableCounts struct {
	Vouches           int64 `json:"vouches"`
	Replies           int64 `json:"replies"`
	Profiles          int64 `json:"profiles"`
	Bans              int64 `json:"bans"`
	AllowList         int64 `json:"allow_list"`
	AllowedRoles      int64 `json:"allowed_roles"`
	NotifyPrefs       int64 `json:"notify_prefs"`
	Mutes             int64 `json:"mutes"`
	NamespaceSettings int64 `json:"namespace_settings"`
	AllowListSettings int64 `json:"allow_list_settings"`
}

// Total sums every table.
func (c TableCounts) Total() int64 {
	return c.Vouches + c.Replies + c.Profiles + c.Bans + c.AllowList + c.AllowedRoles +
		c.NotifyPrefs + c.Mutes + c.NamespaceSettings + c.AllowListSettings
}

// IsZero reports whether no rows were counted.
func (c TableCounts) IsZero() bool { return c.Total() == 0 }

func (c TableCounts) asMap() map[string]any {
	return map[string]any{
		"vouches":             c.Vouches,
		"replies":             c.Replies,
		"profiles":            c.Profiles,
		"bans":                c.Bans,
		"allow_list":          c.AllowList,
		"allowed_roles":       c.AllowedRoles,
		"notify_prefs":        c.NotifyPrefs,
		"mutes":               c.Mutes,
		"namespace_settings":  c.NamespaceSettings,
		"allow_list_settings": c.AllowListSettings,
	}
}

// MergeResult reports what a merge did. AuditID is empty for no-op self merges.
type MergeResult struct {
	AuditID string      `json:"audit_id,omitempty"`
	Copied  TableCounts `json:"copied"`
	Removed TableCounts `json:"removed"`
}

// contentKey identifies a vouch across namespaces. IDs are reassigned on
// copy, so replies follow their vouch by these fields instead.
type contentKey struct {
	seller, buyer, imageHash, descHash, timestamp string
}

// mergeScope narrows a merge to one seller when party is set.
type mergeScope struct {
	from, to string
	party    *string
}

func (m mergeScope) vouchFilter() string {
	if m.party != nil {
		return " AND seller_id = ?"
	}
	return ""
}

func (m mergeScope) args(namespace string) []any {
	if m.party != nil {
		return []any{namespace, *m.party}
	}
	return []any{namespace}
}

// MergeNamespace moves every row of namespace from into namespace to.
//
// Vouches already present at the destination (same seller, image and
// description) are skipped, and so are their replies. Settings-like rows
// take the incoming value for profiles, bans and notification preferences,
// and keep the destination's for everything else. The source namespace is
// emptied in the same transaction. Any failure rolls everything back and is
// returned as an *IntegrityError.
func (s *SQLiteStore) MergeNamespace(ctx context.Context, from, to string) (*MergeResult, error) {
	if from == to {
		return &MergeResult{}, nil
	}
	return s.merge(ctx, "merge_namespace", mergeScope{from: from, to: to})
}

// MergeParty moves one seller's vouches, and their replies, from one
// namespace to another. Bans, allow lists, profiles and other per-party
// settings stay where they are. Semantics otherwise match MergeNamespace.
func (s *SQLiteStore) MergeParty(ctx context.Context, party, from, to string) (*MergeResult, error) {
	if from == to {
		return &MergeResult{}, nil
	}
	return s.merge(ctx, "merge_party", mergeScope{from: from, to: to, party: &party})
}

func (s *SQLiteStore) merge(ctx context.Context, op string, scope mergeScope) (*MergeResult, error) {
	return call(ctx, s, op, func(ctx context.Context) (*MergeResult, error) {
		res := &MergeResult{}
		err := s.inTx(ctx, func(tx *sql.Tx) error {
			if err := s.mergeVouches(ctx, tx, scope, res); err != nil {
				return err
			}
			if scope.party == nil {
				if err := s.mergeNamespaceTables(ctx, tx, scope, res); err != nil {
					return err
				}
			}

			entry := &AuditEntry{
				Action:          AuditMergeNamespace,
				SourceNamespace: scope.from,
				TargetNamespace: &scope.to,
				Subject:         scope.party,
				Detail: map[string]any{
					"copied":  res.Copied.asMap(),
					"removed": res.Removed.asMap(),
				},
			}
			if scope.party != nil {
				entry.Action = AuditMergeParty
			}
			if err := s.appendAudit(ctx, tx, entry); err != nil {
				return err
			}
			res.AuditID = entry.ID
			return nil
		})
		if err != nil {
			s.logger.Error("merge rolled back", "op", op, "from", scope.from, "to", scope.to, "error", err)
			return nil, &IntegrityError{Op: op, Err: err}
		}

		s.logger.Info("merge committed",
			"op", op,
			"from", scope.from,
			"to", scope.to,
			"copied", res.Copied.Total(),
			"removed", res.Removed.Total(),
		)
		return res, nil
	})
}

// mergeVouches copies vouches and their replies, then removes the source rows.
func (s *SQLiteStore) mergeVouches(ctx context.Context, tx *sql.Tx, scope mergeScope, res *MergeResult) error {
	filter := scope.vouchFilter()

	existing, err := vouchKeys(ctx, tx, `WHERE guild_id = ?`+filter, scope.args(scope.to)...)
	if err != nil {
		return fmt.Errorf("snapshotting destination vouches: %w", err)
	}

	copyArgs := append([]any{scope.to}, scope.args(scope.from)...)
	r, err := tx.ExecContext(ctx, `
		INSERT OR IGNORE INTO vouches (seller_id, buyer_id, guild_id, rating, text, img_hash, desc_hash,
			image_path, image_url, notify_seller, timestamp)
		SELECT seller_id, buyer_id, ?, rating, text, img_hash, desc_hash,
			image_path, image_url, notify_seller, timestamp
		FROM vouches WHERE guild_id = ?`+filter+`
		ORDER BY id`, copyArgs...)
	if err != nil {
		return fmt.Errorf("copying vouches: %w", err)
	}
	if res.Copied.Vouches, err = r.RowsAffected(); err != nil {
		return fmt.Errorf("counting copied vouches: %w", err)
	}

	if s.afterVouchCopy != nil {
		if err := s.afterVouchCopy(ctx, tx); err != nil {
			return err
		}
	}

	source, err := vouchKeys(ctx, tx, `WHERE guild_id = ?`+filter, scope.args(scope.from)...)
	if err != nil {
		return fmt.Errorf("indexing source vouches: %w", err)
	}
	dest, err := vouchKeys(ctx, tx, `WHERE guild_id = ?`+filter, scope.args(scope.to)...)
	if err != nil {
		return fmt.Errorf("indexing destination vouches: %w", err)
	}

	// Destination vouch ID for each source vouch ID that was actually copied.
	target := make(map[int64]int64, len(source))
	byKey := make(map[contentKey]int64, len(dest))
	for id, k := range dest {
		byKey[k] = id
	}
	preexisting := make(map[contentKey]bool, len(existing))
	for _, k := range existing {
		preexisting[k] = true
	}
	for id, k := range source {
		if preexisting[k] {
			continue
		}
		if destID, ok := byKey[k]; ok {
			target[id] = destID
		}
	}

	replies, err := sourceReplies(ctx, tx, scope)
	if err != nil {
		return err
	}
	for _, rp := range replies {
		destID, ok := target[rp.VouchID]
		if !ok {
			continue
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO vouch_replies (vouch_id, guild_id, seller_id, buyer_id, text, created_at)
			VALUES (?, ?, ?, ?, ?, ?)
		`, destID, scope.to, rp.Seller, rp.Buyer, rp.Text, rp.createdAt); err != nil {
			return fmt.Errorf("copying reply %d: %w", rp.ID, err)
		}
		res.Copied.Replies++
	}

	// Replies first so no reply is ever left pointing at a deleted vouch.
	r, err = tx.ExecContext(ctx, `
		DELETE FROM vouch_replies
		WHERE vouch_id IN (SELECT id FROM vouches WHERE guild_id = ?`+filter+`)
	`, scope.args(scope.from)...)
	if err != nil {
		return fmt.Errorf("removing source replies: %w", err)
	}
	if res.Removed.Replies, err = r.RowsAffected(); err != nil {
		return fmt.Errorf("counting removed replies: %w", err)
	}

	r, err = tx.ExecContext(ctx, `DELETE FROM vouches WHERE guild_id = ?`+filter, scope.args(scope.from)...)
	if err != nil {
		return fmt.Errorf("removing source vouches: %w", err)
	}
	if res.Removed.Vouches, err = r.RowsAffected(); err != nil {
		return fmt.Errorf("counting removed vouches: %w", err)
	}
	return nil
}

// tableMerge copies one settings-like table. replace selects whether the
// incoming row wins over an existing destination row.
type tableMerge struct {
	table   string
	columns string
	replace bool
	copied  func(*TableCounts) *int64
}

var namespaceTableMerges = []tableMerge{
	{tableProfiles, "user_id, banner_path, stats_public", true, func(c *TableCounts) *int64 { return &c.Profiles }},
	{tableBans, "user_id, reason, banned_at", true, func(c *TableCounts) *int64 { return &c.Bans }},
	{tableAllowList, "user_id", false, func(c *TableCounts) *int64 { return &c.AllowList }},
	{tableAllowedRoles, "role_id", false, func(c *TableCounts) *int64 { return &c.AllowedRoles }},
	{tableNotifyPrefs, "user_id, vouch_dm, reply_dm", true, func(c *TableCounts) *int64 { return &c.NotifyPrefs }},
	{tableMutes, "user_id, type", false, func(c *TableCounts) *int64 { return &c.Mutes }},
	{tableNamespaceSettings, "notify_channel_id, notify_enabled", false, func(c *TableCounts) *int64 { return &c.NamespaceSettings }},
	{tableAllowListSettings, "enabled", false, func(c *TableCounts) *int64 { return &c.AllowListSettings }},
}

func (s *SQLiteStore) mergeNamespaceTables(ctx context.Context, tx *sql.Tx, scope mergeScope, res *MergeResult) error {
	for _, m := range namespaceTableMerges {
		verb := "INSERT OR IGNORE"
		if m.replace {
			verb = "INSERT OR REPLACE"
		}
		q := fmt.Sprintf("%s INTO %s (guild_id, %s) SELECT ?, %s FROM %s WHERE guild_id = ?",
			verb, m.table, m.columns, m.columns, m.table)
		r, err := tx.ExecContext(ctx, q, scope.to, scope.from)
		if err != nil {
			return fmt.Errorf("copying %s: %w", m.table, err)
		}
		if *m.copied(&res.Copied), err = r.RowsAffected(); err != nil {
			return fmt.Errorf("counting copied %s: %w", m.table, err)
		}

		r, err = tx.ExecContext(ctx, fmt.Sprintf("DELETE FROM %s WHERE guild_id = ?", m.table), scope.from)
		if err != nil {
			return fmt.Errorf("removing source %s: %w", m.table, err)
		}
		if *m.copied(&res.Removed), err = r.RowsAffected(); err != nil {
			return fmt.Errorf("counting removed %s: %w", m.table, err)
		}
	}
	return nil
}

func vouchKeys(ctx context.Context, tx *sql.Tx, where string, args ...any) (map[int64]contentKey, error) {
	rows, err := tx.QueryContext(ctx, `
		SELECT id, seller_id, buyer_id, img_hash, desc_hash, timestamp FROM vouches `+where, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[int64]contentKey)
	for rows.Next() {
		var id int64
		var k contentKey
		if err := rows.Scan(&id, &k.seller, &k.buyer, &k.imageHash, &k.descHash, &k.timestamp); err != nil {
			return nil, err
		}
		out[id] = k
	}
	return out, rows.Err()
}

type replyRow struct {
	Reply
	createdAt string
}

// sourceReplies loads the replies to move fully into memory so the inserts
// that follow do not run while a cursor is open on the same connection.
func sourceReplies(ctx context.Context, tx *sql.Tx, scope mergeScope) ([]replyRow, error) {
	rows, err := tx.QueryContext(ctx, `
		SELECT id, vouch_id, seller_id, buyer_id, text, created_at FROM vouch_replies
		WHERE vouch_id IN (SELECT id FROM vouches WHERE guild_id = ?`+scope.vouchFilter()+`)
		ORDER BY id
	`, scope.args(scope.from)...)
	if err != nil {
		return nil, fmt.Errorf("loading source replies: %w", err)
	}
	defer rows.Close()

	var out []replyRow
	for rows.Next() {
		var r replyRow
		if err := rows.Scan(&r.ID, &r.VouchID, &r.Seller, &r.Buyer, &r.Text, &r.createdAt); err != nil {
			return nil, fmt.Errorf("scanning source reply: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating source replies: %w", err)
	}
	return out, nil
}
