// ABOUTME: Tests for namespace and party merges
// ABOUTME: Covers reply re-keying, duplicate skipping, rollback on failure, and no-op merges

package store

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func countRows(t *testing.T, s *SQLiteStore, table, namespace string) int {
	t.Helper()
	var n int
	require.NoError(t, s.db.QueryRow(`SELECT COUNT(*) FROM `+table+` WHERE guild_id = ?`, namespace).Scan(&n))
	return n
}

func TestMergeNamespace_MovesVouchesAndReplies(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	v1 := mustAddVouch(t, store, newVouch("s1", "b1", "src", "one", 5))
	mustAddReply(t, store, v1, "src", "reply one")
	mustAddReply(t, store, v1, "src", "reply two")
	v2 := mustAddVouch(t, store, newVouch("s2", "b2", "src", "two", 4))
	mustAddReply(t, store, v2, "src", "dropped with its duplicate vouch")

	// The destination already has s2's vouch under another buyer.
	existing := mustAddVouch(t, store, newVouch("s2", "someone-else", "dst", "two", 3))

	res, err := store.MergeNamespace(ctx, "src", "dst")
	require.NoError(t, err)
	assert.NotEmpty(t, res.AuditID)
	assert.Equal(t, int64(1), res.Copied.Vouches)
	assert.Equal(t, int64(2), res.Copied.Replies)
	assert.Equal(t, int64(2), res.Removed.Vouches)
	assert.Equal(t, int64(3), res.Removed.Replies)

	n, err := store.CountVouches(ctx, "src")
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Zero(t, countRows(t, store, "vouch_replies", "src"))

	moved, err := store.ListVouchesBySeller(ctx, "s1", "dst")
	require.NoError(t, err)
	require.Len(t, moved, 1)
	assert.NotEqual(t, v1, moved[0].ID, "copied vouches get destination IDs")
	assert.Equal(t, "b1", moved[0].Buyer)
	assert.Equal(t, 5, moved[0].Rating)

	replies, err := store.ListReplies(ctx, moved[0].ID, "dst")
	require.NoError(t, err)
	require.Len(t, replies, 2)
	assert.Equal(t, "reply one", replies[0].Text)
	assert.Equal(t, "reply two", replies[1].Text)

	kept, err := store.GetVouch(ctx, existing, "dst")
	require.NoError(t, err)
	assert.Equal(t, "someone-else", kept.Buyer, "destination wins on duplicates")
	replies, err = store.ListReplies(ctx, existing, "dst")
	require.NoError(t, err)
	assert.Empty(t, replies)
}

func TestMergeNamespace_SettingsTables(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	// Profiles, bans and notify prefs take the incoming row.
	require.NoError(t, store.SetBannerPath(ctx, "u", "src", strPtr("/src.png")))
	require.NoError(t, store.SetBannerPath(ctx, "u", "dst", strPtr("/dst.png")))
	srcReason := "from src"
	require.NoError(t, store.Ban(ctx, "p", "src", &srcReason))
	require.NoError(t, store.Ban(ctx, "p", "dst", nil))
	require.NoError(t, store.SetNotifyPrefs(ctx, "u", "src", NotifyPrefsUpdate{VouchDM: boolPtr(false)}))

	// Set-like tables union.
	require.NoError(t, store.AllowParty(ctx, "src", "a"))
	require.NoError(t, store.AllowParty(ctx, "dst", "b"))
	require.NoError(t, store.AllowRole(ctx, "src", "r1"))
	require.NoError(t, store.AllowRole(ctx, "dst", "r1"))
	require.NoError(t, store.SetMuted(ctx, "u", "src", MuteReply, true))

	// Namespace-level settings keep the destination's.
	require.NoError(t, store.SetNotifyChannel(ctx, "src", strPtr("src-chan")))
	require.NoError(t, store.SetNotifyChannel(ctx, "dst", strPtr("dst-chan")))
	require.NoError(t, store.SetAllowListEnabled(ctx, "src", true))

	res, err := store.MergeNamespace(ctx, "src", "dst")
	require.NoError(t, err)

	p, err := store.Profile(ctx, "u", "dst")
	require.NoError(t, err)
	assert.Equal(t, "/src.png", *p.BannerPath)

	bans, err := store.ListBans(ctx, "dst")
	require.NoError(t, err)
	require.Len(t, bans, 1)
	require.NotNil(t, bans[0].Reason)
	assert.Equal(t, "from src", *bans[0].Reason)

	prefs, err := store.NotifyPrefs(ctx, "u", "dst")
	require.NoError(t, err)
	assert.False(t, prefs.VouchDM)

	for _, party := range []string{"a", "b"} {
		ok, err := store.IsAllowed(ctx, "dst", party)
		require.NoError(t, err)
		assert.True(t, ok, party)
	}
	roles, err := store.AllowedRoles(ctx, "dst")
	require.NoError(t, err)
	assert.Equal(t, []string{"r1"}, roles)

	muted, err := store.IsMuted(ctx, "u", "dst", MuteReply)
	require.NoError(t, err)
	assert.True(t, muted)

	ns, err := store.NamespaceSettings(ctx, "dst")
	require.NoError(t, err)
	assert.Equal(t, "dst-chan", *ns.NotifyChannel)

	enabled, err := store.AllowListEnabled(ctx, "dst")
	require.NoError(t, err)
	assert.True(t, enabled, "destination had no toggle, so the source's is adopted")

	assert.Equal(t, int64(1), res.Copied.AllowList)
	assert.Zero(t, res.Copied.AllowedRoles)
	assert.Zero(t, res.Copied.NamespaceSettings)
	assert.Equal(t, int64(1), res.Removed.AllowedRoles)
	assert.Equal(t, int64(1), res.Removed.NamespaceSettings)

	for _, table := range []string{tableProfiles, tableBans, tableAllowList, tableAllowedRoles,
		tableNotifyPrefs, tableMutes, tableNamespaceSettings, tableAllowListSettings} {
		assert.Zero(t, countRows(t, store, table, "src"), table)
	}
}

func TestMergeNamespace_RollsBackOnFailure(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	v := mustAddVouch(t, store, newVouch("s", "b", "src", "a", 5))
	mustAddReply(t, store, v, "src", "reply")
	require.NoError(t, store.AllowParty(ctx, "src", "p"))
	mustAddVouch(t, store, newVouch("other", "b", "dst", "z", 2))

	injected := errors.New("injected fault")
	store.afterVouchCopy = func(ctx context.Context, tx *sql.Tx) error {
		// The copy is visible inside the transaction before it fails.
		var n int
		if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM vouches WHERE guild_id = 'dst'`).Scan(&n); err != nil {
			return err
		}
		if n != 2 {
			return errors.New("vouch copy did not happen")
		}
		return injected
	}

	res, err := store.MergeNamespace(ctx, "src", "dst")
	require.Error(t, err)
	assert.Nil(t, res)
	assert.ErrorIs(t, err, injected)
	assert.Equal(t, KindIntegrity, KindOf(err))
	var ie *IntegrityError
	require.True(t, errors.As(err, &ie))
	assert.Equal(t, "merge_namespace", ie.Op)

	n, err := store.CountVouches(ctx, "dst")
	require.NoError(t, err)
	assert.Equal(t, 1, n, "destination gained nothing")

	n, err = store.CountVouches(ctx, "src")
	require.NoError(t, err)
	assert.Equal(t, 1, n, "source is intact")

	replies, err := store.ListReplies(ctx, v, "src")
	require.NoError(t, err)
	assert.Len(t, replies, 1)

	ok, err := store.IsAllowed(ctx, "src", "p")
	require.NoError(t, err)
	assert.True(t, ok)

	entries, err := store.ListAuditLog(ctx, AuditFilter{})
	require.NoError(t, err)
	assert.Empty(t, entries, "no audit entry for a rolled back merge")

	// The store is still usable and a clean retry succeeds.
	store.afterVouchCopy = nil
	res, err = store.MergeNamespace(ctx, "src", "dst")
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.Copied.Vouches)
	assert.Equal(t, int64(1), res.Copied.Replies)
}

func TestMergeNamespace_SecondMergeIsNoop(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	v := mustAddVouch(t, store, newVouch("s", "b", "src", "a", 5))
	mustAddReply(t, store, v, "src", "reply")
	require.NoError(t, store.Ban(ctx, "p", "src", nil))

	_, err := store.MergeNamespace(ctx, "src", "dst")
	require.NoError(t, err)

	res, err := store.MergeNamespace(ctx, "src", "dst")
	require.NoError(t, err)
	assert.True(t, res.Copied.IsZero())
	assert.True(t, res.Removed.IsZero())

	n, err := store.CountVouches(ctx, "dst")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestMergeNamespace_RepliesNotAttachedToExistingVouch(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	// The same vouch, down to its timestamp, lives in both namespaces.
	same := []*Vouch{{
		Seller: "s", Buyer: "b", Rating: 5, Text: "same", ImageHash: "img", DescriptionHash: "desc",
		NotifySeller: true, CreatedAt: testEpoch.Add(-time.Hour),
	}}
	_, err := store.ImportVouches(ctx, "src", same)
	require.NoError(t, err)
	_, err = store.ImportVouches(ctx, "dst", same)
	require.NoError(t, err)

	src, err := store.ExportVouches(ctx, "src")
	require.NoError(t, err)
	require.Len(t, src, 1)
	mustAddReply(t, store, src[0].ID, "src", "only on the source copy")

	res, err := store.MergeNamespace(ctx, "src", "dst")
	require.NoError(t, err)
	assert.Zero(t, res.Copied.Vouches)
	assert.Zero(t, res.Copied.Replies)
	assert.Equal(t, int64(1), res.Removed.Vouches)
	assert.Equal(t, int64(1), res.Removed.Replies)

	dst, err := store.ExportVouches(ctx, "dst")
	require.NoError(t, err)
	require.Len(t, dst, 1)
	replies, err := store.ListReplies(ctx, dst[0].ID, "dst")
	require.NoError(t, err)
	assert.Empty(t, replies)
}

func TestMergeNamespace_AllDuplicates(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	for _, key := range []string{"a", "b", "c"} {
		mustAddVouch(t, store, newVouch("s", "b", "src", key, 5))
		mustAddVouch(t, store, newVouch("s", "b", "dst", key, 5))
	}

	res, err := store.MergeNamespace(ctx, "src", "dst")
	require.NoError(t, err)
	assert.Zero(t, res.Copied.Vouches)
	assert.Zero(t, res.Copied.Replies)
	assert.Equal(t, int64(3), res.Removed.Vouches)

	n, err := store.CountVouches(ctx, "src")
	require.NoError(t, err)
	assert.Zero(t, n)
	n, err = store.CountVouches(ctx, "dst")
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func TestMergeNamespace_Self(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	v := mustAddVouch(t, store, newVouch("s", "b", "g", "a", 5))
	mustAddReply(t, store, v, "g", "reply")

	res, err := store.MergeNamespace(ctx, "g", "g")
	require.NoError(t, err)
	assert.Empty(t, res.AuditID)
	assert.True(t, res.Copied.IsZero())
	assert.True(t, res.Removed.IsZero())

	got, err := store.GetVouch(ctx, v, "g")
	require.NoError(t, err)
	assert.Equal(t, v, got.ID)
	replies, err := store.ListReplies(ctx, v, "g")
	require.NoError(t, err)
	assert.Len(t, replies, 1)
}

func TestMergeNamespace_EmptySource(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	mustAddVouch(t, store, newVouch("s", "b", "dst", "a", 5))

	res, err := store.MergeNamespace(ctx, "nothing-here", "dst")
	require.NoError(t, err)
	assert.True(t, res.Copied.IsZero())
	assert.True(t, res.Removed.IsZero())
}

func TestMergeParty(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	mine := mustAddVouch(t, store, newVouch("me", "b1", "src", "a", 5))
	mustAddReply(t, store, mine, "src", "mine")
	theirs := mustAddVouch(t, store, newVouch("them", "b2", "src", "b", 4))
	mustAddReply(t, store, theirs, "src", "theirs")
	require.NoError(t, store.Ban(ctx, "me", "src", nil))
	require.NoError(t, store.SetBannerPath(ctx, "me", "src", strPtr("/me.png")))

	res, err := store.MergeParty(ctx, "me", "src", "dst")
	require.NoError(t, err)
	assert.NotEmpty(t, res.AuditID)
	assert.Equal(t, int64(1), res.Copied.Vouches)
	assert.Equal(t, int64(1), res.Copied.Replies)
	assert.Equal(t, int64(1), res.Removed.Vouches)
	assert.Equal(t, int64(1), res.Removed.Replies)
	assert.Zero(t, res.Copied.Bans)
	assert.Zero(t, res.Copied.Profiles)

	moved, err := store.ListVouchesBySeller(ctx, "me", "dst")
	require.NoError(t, err)
	require.Len(t, moved, 1)
	replies, err := store.ListReplies(ctx, moved[0].ID, "dst")
	require.NoError(t, err)
	require.Len(t, replies, 1)
	assert.Equal(t, "mine", replies[0].Text)

	left, err := store.ListVouchesBySeller(ctx, "me", "src")
	require.NoError(t, err)
	assert.Empty(t, left)

	// Other sellers and per-party settings stay behind.
	_, err = store.GetVouch(ctx, theirs, "src")
	require.NoError(t, err)
	replies, err = store.ListReplies(ctx, theirs, "src")
	require.NoError(t, err)
	assert.Len(t, replies, 1)

	banned, err := store.IsBanned(ctx, "me", "src")
	require.NoError(t, err)
	assert.True(t, banned)
	banned, err = store.IsBanned(ctx, "me", "dst")
	require.NoError(t, err)
	assert.False(t, banned)

	p, err := store.Profile(ctx, "me", "src")
	require.NoError(t, err)
	assert.Equal(t, "/me.png", *p.BannerPath)
}

func TestMergeParty_NoVouches(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	mustAddVouch(t, store, newVouch("someone", "b", "src", "a", 5))

	res, err := store.MergeParty(ctx, "nobody", "src", "dst")
	require.NoError(t, err)
	assert.True(t, res.Copied.IsZero())
	assert.True(t, res.Removed.IsZero())

	n, err := store.CountVouches(ctx, "src")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestMergeParty_Self(t *testing.T) {
	store := setupTestStore(t)

	res, err := store.MergeParty(context.Background(), "me", "g", "g")
	require.NoError(t, err)
	assert.Empty(t, res.AuditID)
	assert.True(t, res.Copied.IsZero())
}

func TestMergeParty_RollsBackOnFailure(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	v := mustAddVouch(t, store, newVouch("me", "b", "src", "a", 5))
	mustAddReply(t, store, v, "src", "reply")
	store.afterVouchCopy = func(context.Context, *sql.Tx) error { return errors.New("boom") }

	_, err := store.MergeParty(ctx, "me", "src", "dst")
	require.Error(t, err)
	assert.Equal(t, KindIntegrity, KindOf(err))

	n, err := store.CountVouches(ctx, "dst")
	require.NoError(t, err)
	assert.Zero(t, n)
	_, err = store.GetVouch(ctx, v, "src")
	require.NoError(t, err)
}

func TestTableCounts(t *testing.T) {
	var c TableCounts
	assert.True(t, c.IsZero())
	c.Vouches = 2
	c.AllowListSettings = 1
	assert.False(t, c.IsZero())
	assert.Equal(t, int64(3), c.Total())
}
