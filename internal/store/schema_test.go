// ABOUTME: Tests for schema creation and in-place upgrade of legacy database files
// ABOUTME: Legacy files are built with raw SQL the way older releases laid them out

package store

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeLegacyDB creates a database whose tables predate namespaces.
func writeLegacyDB(t *testing.T, path string) {
	t.Helper()
	db, err := sql.Open("sqlite", path)
	require.NoError(t, err)
	defer db.Close()

	stmts := []string{
		`CREATE TABLE vouches (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			seller_id TEXT NOT NULL,
			buyer_id TEXT NOT NULL,
			rating INTEGER NOT NULL,
			text TEXT NOT NULL,
			img_hash TEXT NOT NULL,
			desc_hash TEXT NOT NULL,
			image_path TEXT,
			timestamp TEXT NOT NULL
		)`,
		`CREATE UNIQUE INDEX uniq_vouch_triple ON vouches(seller_id, img_hash, desc_hash)`,
		`INSERT INTO vouches (id, seller_id, buyer_id, rating, text, img_hash, desc_hash, timestamp)
			VALUES (7, 'seller', 'buyer-1', 5, 'great', 'i1', 'd1', '2024-01-02 03:04:05')`,
		`INSERT INTO vouches (id, seller_id, buyer_id, rating, text, img_hash, desc_hash, timestamp)
			VALUES (9, 'seller', 'buyer-2', 3, 'fine', 'i2', 'd2', '2024-01-03 03:04:05')`,
		`CREATE TABLE vouch_replies (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			vouch_id INTEGER NOT NULL,
			seller_id TEXT NOT NULL,
			buyer_id TEXT NOT NULL,
			text TEXT NOT NULL,
			created_at TEXT NOT NULL
		)`,
		`INSERT INTO vouch_replies (vouch_id, seller_id, buyer_id, text, created_at)
			VALUES (7, 'seller', 'buyer-1', 'thank you', '2024-01-02 04:00:00')`,
		`CREATE TABLE blacklist (user_id TEXT PRIMARY KEY, reason TEXT, banned_at TEXT)`,
		`INSERT INTO blacklist (user_id, reason, banned_at) VALUES ('scammer', 'chargeback', '2024-01-01 00:00:00')`,
		`CREATE TABLE user_profiles (user_id TEXT PRIMARY KEY, banner_path TEXT)`,
		`INSERT INTO user_profiles (user_id, banner_path) VALUES ('seller', '/banners/seller.png')`,
	}
	for _, stmt := range stmts {
		_, err := db.Exec(stmt)
		require.NoError(t, err, stmt)
	}
}

func TestEnsureSchema_FreshDatabase(t *testing.T) {
	store := setupTestStore(t)

	legacy, err := store.LegacyTables(context.Background())
	require.NoError(t, err)
	assert.Empty(t, legacy)

	for _, tbl := range tables {
		var name string
		err := store.db.QueryRow(`SELECT name FROM sqlite_master WHERE type = 'table' AND name = ?`, tbl.name).Scan(&name)
		require.NoError(t, err, "table %s", tbl.name)
	}

	var idx string
	require.NoError(t, store.db.QueryRow(
		`SELECT name FROM sqlite_master WHERE type = 'index' AND name = 'ux_vouches_seller_guild_img_desc'`).Scan(&idx))
}

func TestEnsureSchema_Idempotent(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	id := mustAddVouch(t, store, newVouch("s", "b", "g", "a", 5))
	require.NoError(t, store.EnsureSchema(ctx))
	require.NoError(t, store.EnsureSchema(ctx))

	got, err := store.GetVouch(ctx, id, "g")
	require.NoError(t, err)
	assert.Equal(t, "s", got.Seller)
}

func TestEnsureSchema_UpgradesLegacyTables(t *testing.T) {
	path := filepath.Join(t.TempDir(), "legacy.db")
	writeLegacyDB(t, path)

	store := setupTestStoreAt(t, path, Options{LegacyNamespace: "legacy-guild"})
	ctx := context.Background()

	legacy, err := store.LegacyTables(ctx)
	require.NoError(t, err)
	assert.Empty(t, legacy)

	vouches, err := store.ListVouchesBySeller(ctx, "seller", "legacy-guild")
	require.NoError(t, err)
	require.Len(t, vouches, 2)
	// IDs survive so replies still point at the right vouch.
	assert.Equal(t, int64(9), vouches[0].ID)
	assert.Equal(t, int64(7), vouches[1].ID)
	assert.Equal(t, "great", vouches[1].Text)
	assert.True(t, vouches[1].NotifySeller, "columns missing from the old layout take defaults")
	assert.Nil(t, vouches[1].ImageURL)

	replies, err := store.ListReplies(ctx, 7, "legacy-guild")
	require.NoError(t, err)
	require.Len(t, replies, 1)
	assert.Equal(t, "thank you", replies[0].Text)

	banned, err := store.IsBanned(ctx, "scammer", "legacy-guild")
	require.NoError(t, err)
	assert.True(t, banned)

	profile, err := store.Profile(ctx, "seller", "legacy-guild")
	require.NoError(t, err)
	require.NotNil(t, profile.BannerPath)
	assert.Equal(t, "/banners/seller.png", *profile.BannerPath)
	assert.True(t, profile.StatsPublic)

	// The current duplicate rule is enforced on upgraded data.
	_, err = store.AddVouch(ctx, NewVouch{
		Seller: "seller", Buyer: "someone", Namespace: "legacy-guild", Rating: 4,
		Text: "again", ImageHash: "i1", DescriptionHash: "d1",
	})
	assert.ErrorIs(t, err, ErrDuplicateVouch)

	// The same content in a real namespace is a different vouch.
	_, err = store.AddVouch(ctx, NewVouch{
		Seller: "seller", Buyer: "someone", Namespace: "guild-1", Rating: 4,
		Text: "again", ImageHash: "i1", DescriptionHash: "d1",
	})
	assert.NoError(t, err)

	var obsolete int
	require.NoError(t, store.db.QueryRow(
		`SELECT COUNT(*) FROM sqlite_master WHERE type = 'index' AND name = 'uniq_vouch_triple'`).Scan(&obsolete))
	assert.Zero(t, obsolete)

	var shadows int
	require.NoError(t, store.db.QueryRow(
		`SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name LIKE '%_new'`).Scan(&shadows))
	assert.Zero(t, shadows)
}

func TestEnsureSchema_LegacyRowsThatDoNotFitAreKept(t *testing.T) {
	path := filepath.Join(t.TempDir(), "legacy.db")

	db, err := sql.Open("sqlite", path)
	require.NoError(t, err)
	for _, stmt := range []string{
		`CREATE TABLE vouches (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			seller_id TEXT NOT NULL,
			buyer_id TEXT NOT NULL,
			rating INTEGER NOT NULL,
			text TEXT NOT NULL,
			img_hash TEXT NOT NULL,
			desc_hash TEXT NOT NULL,
			timestamp TEXT NOT NULL
		)`,
		`INSERT INTO vouches (id, seller_id, buyer_id, rating, text, img_hash, desc_hash, timestamp)
			VALUES (7, 'seller', 'buyer', 5, 'great', 'i1', 'd1', '2024-01-02 03:04:05')`,
		// Replies from this era carry no created_at, which is now required.
		`CREATE TABLE vouch_replies (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			vouch_id INTEGER NOT NULL,
			seller_id TEXT NOT NULL,
			buyer_id TEXT NOT NULL,
			text TEXT NOT NULL
		)`,
		`INSERT INTO vouch_replies (vouch_id, seller_id, buyer_id, text) VALUES (7, 'seller', 'buyer', 'thank you')`,
	} {
		_, err := db.Exec(stmt)
		require.NoError(t, err, stmt)
	}
	require.NoError(t, db.Close())

	store := setupTestStoreAt(t, path, Options{})
	ctx := context.Background()

	legacy, err := store.LegacyTables(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"vouch_replies"}, legacy)

	var n int
	require.NoError(t, store.db.QueryRow(`SELECT COUNT(*) FROM vouch_replies`).Scan(&n))
	assert.Equal(t, 1, n, "the legacy reply survives")

	ok, err := hasColumn(ctx, store.db, "vouch_replies", namespaceColumn)
	require.NoError(t, err)
	assert.False(t, ok, "the table keeps its legacy layout")

	var shadows int
	require.NoError(t, store.db.QueryRow(
		`SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name LIKE '%_new'`).Scan(&shadows))
	assert.Zero(t, shadows)

	// Tables that fit are still upgraded.
	count, err := store.CountVouches(ctx, DefaultLegacyNamespace)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	// A later open retries and still keeps the rows.
	require.NoError(t, store.Close())
	again := setupTestStoreAt(t, path, Options{})
	legacy, err = again.LegacyTables(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"vouch_replies"}, legacy)
	require.NoError(t, again.db.QueryRow(`SELECT COUNT(*) FROM vouch_replies`).Scan(&n))
	assert.Equal(t, 1, n)
}

func TestEnsureSchema_DefaultLegacyNamespace(t *testing.T) {
	path := filepath.Join(t.TempDir(), "legacy.db")
	writeLegacyDB(t, path)

	store := setupTestStoreAt(t, path, Options{})

	n, err := store.CountVouches(context.Background(), DefaultLegacyNamespace)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestEnsureSchema_UpgradeRunsOnce(t *testing.T) {
	path := filepath.Join(t.TempDir(), "legacy.db")
	writeLegacyDB(t, path)

	first, err := OpenSQLiteStore(path, Options{LegacyNamespace: "first"})
	require.NoError(t, err)
	require.NoError(t, first.Close())

	// A second open with another legacy namespace must not move anything.
	second := setupTestStoreAt(t, path, Options{LegacyNamespace: "second"})
	ctx := context.Background()

	n, err := second.CountVouches(ctx, "first")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = second.CountVouches(ctx, "second")
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestEnsureSchema_DropsObsoleteIndex(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")
	first, err := NewSQLiteStore(path)
	require.NoError(t, err)
	_, err = first.db.Exec(`CREATE INDEX uniq_vouch_triple ON vouches(seller_id, img_hash, desc_hash)`)
	require.NoError(t, err)
	require.NoError(t, first.Close())

	second := setupTestStoreAt(t, path, Options{})
	var n int
	require.NoError(t, second.db.QueryRow(
		`SELECT COUNT(*) FROM sqlite_master WHERE type = 'index' AND name = 'uniq_vouch_triple'`).Scan(&n))
	assert.Zero(t, n)
}

func TestHasColumn(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	ok, err := hasColumn(ctx, store.db, "vouches", "guild_id")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = hasColumn(ctx, store.db, "vouches", "no_such_column")
	require.NoError(t, err)
	assert.False(t, ok)

	cols, err := columnNames(ctx, store.db, "mutes")
	require.NoError(t, err)
	assert.Equal(t, []string{"user_id", "guild_id", "type"}, cols)
}
