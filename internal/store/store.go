// ABOUTME: Store interfaces and data types for vouch-ledger persistence
// ABOUTME: Defines Vouch, Reply, policy and settings records plus the interfaces callers depend on

package store

import (
	"context"
	"time"
)

// Vouch is a reputation attestation from a buyer about a seller within one namespace.
type Vouch struct {
	ID              int64
	Seller          string
	Buyer           string
	Namespace       string
	Rating          int
	Text            string
	ImageHash       string
	DescriptionHash string
	ImagePath       *string
	ImageURL        *string
	NotifySeller    bool
	CreatedAt       time.Time
}

// NewVouch holds the caller-supplied fields for AddVouch.
type NewVouch struct {
	Seller          string
	Buyer           string
	Namespace       string
	Rating          int
	Text            string
	ImageHash       string
	DescriptionHash string
	ImagePath       *string
	ImageURL        *string
	// NotifySeller defaults to true when nil.
	NotifySeller *bool
}

// Reply is a seller's answer to a vouch. Seller and Buyer are copied from the
// parent vouch when the reply is written.
type Reply struct {
	ID        int64
	VouchID   int64
	Namespace string
	Seller    string
	Buyer     string
	Text      string
	CreatedAt time.Time
}

// NewReply holds the caller-supplied fields for AddReply. The reply's parties
// are always taken from the parent vouch.
type NewReply struct {
	VouchID   int64
	Namespace string
	Text      string
}

// LeaderboardEntry is one seller's aggregate within a namespace.
type LeaderboardEntry struct {
	Seller    string  `json:"seller"`
	Count     int     `json:"count"`
	AvgRating float64 `json:"avg_rating"`
}

// BanEntry records that a party may not transact in a namespace.
type BanEntry struct {
	Party     string
	Namespace string
	Reason    *string
	BannedAt  time.Time
}

// NamespaceSettings holds per-namespace notification configuration.
type NamespaceSettings struct {
	Namespace     string
	NotifyChannel *string
	NotifyEnabled bool
}

// Profile holds per-party, per-namespace presentation state.
type Profile struct {
	Party       string
	Namespace   string
	BannerPath  *string
	StatsPublic bool
}

// NotifyPrefs holds a party's direct-message preferences in a namespace.
type NotifyPrefs struct {
	Party     string
	Namespace string
	VouchDM   bool
	ReplyDM   bool
}

// NotifyPrefsUpdate changes only the fields that are non-nil.
type NotifyPrefsUpdate struct {
	VouchDM *bool
	ReplyDM *bool
}

// MuteKind selects which notification stream a mute applies to.
type MuteKind string

const (
	MuteVouch MuteKind = "vouch"
	MuteReply MuteKind = "reply"
)

// Valid reports whether k is a known mute kind.
func (k MuteKind) Valid() bool {
	return k == MuteVouch || k == MuteReply
}

// VouchStore covers vouch and reply persistence.
type VouchStore interface {
	AddVouch(ctx context.Context, v NewVouch) (int64, error)
	IsDuplicateVouch(ctx context.Context, seller, namespace, imageHash, descHash string) (bool, error)
	GetVouch(ctx context.Context, id int64, namespace string) (*Vouch, error)
	ListVouchesBySeller(ctx context.Context, seller, namespace string) ([]*Vouch, error)
	ListVouchesByParty(ctx context.Context, party, namespace string, limit, offset int) ([]*Vouch, error)
	DeleteVouch(ctx context.Context, id int64, namespace string) (bool, error)
	CountVouches(ctx context.Context, namespace string) (int, error)
	SellerAggregates(ctx context.Context, seller, namespace string) (int, float64, error)
	Leaderboard(ctx context.Context, namespace string, limit, minVouches int) ([]LeaderboardEntry, error)

	AddReply(ctx context.Context, r NewReply) (int64, error)
	ListReplies(ctx context.Context, vouchID int64, namespace string) ([]*Reply, error)
}

// PolicyStore covers per-namespace ban and allow lists.
type PolicyStore interface {
	Ban(ctx context.Context, party, namespace string, reason *string) error
	Unban(ctx context.Context, party, namespace string) error
	IsBanned(ctx context.Context, party, namespace string) (bool, error)
	ListBans(ctx context.Context, namespace string) ([]*BanEntry, error)

	SetAllowListEnabled(ctx context.Context, namespace string, enabled bool) error
	AllowListEnabled(ctx context.Context, namespace string) (bool, error)
	AllowParty(ctx context.Context, namespace, party string) error
	DisallowParty(ctx context.Context, namespace, party string) error
	IsAllowed(ctx context.Context, namespace, party string) (bool, error)
	AllowRole(ctx context.Context, namespace, role string) error
	DisallowRole(ctx context.Context, namespace, role string) error
	AllowedRoles(ctx context.Context, namespace string) ([]string, error)
	SellerAllowed(ctx context.Context, namespace, seller string, roleIDs []string) (bool, error)
}

// SettingsStore covers namespace settings and per-party state.
type SettingsStore interface {
	NamespaceSettings(ctx context.Context, namespace string) (*NamespaceSettings, error)
	SetNotifyChannel(ctx context.Context, namespace string, channel *string) error
	SetNotifyEnabled(ctx context.Context, namespace string, enabled bool) error

	Profile(ctx context.Context, party, namespace string) (*Profile, error)
	SetBannerPath(ctx context.Context, party, namespace string, path *string) error
	SetStatsPublic(ctx context.Context, party, namespace string, public bool) error

	NotifyPrefs(ctx context.Context, party, namespace string) (*NotifyPrefs, error)
	SetNotifyPrefs(ctx context.Context, party, namespace string, u NotifyPrefsUpdate) error

	SetMuted(ctx context.Context, party, namespace string, kind MuteKind, muted bool) error
	IsMuted(ctx context.Context, party, namespace string, kind MuteKind) (bool, error)
	DMAllowed(ctx context.Context, party, namespace string, kind MuteKind) (bool, error)
}

// MergeStore relocates rows between namespaces.
type MergeStore interface {
	MergeNamespace(ctx context.Context, from, to string) (*MergeResult, error)
	MergeParty(ctx context.Context, party, from, to string) (*MergeResult, error)
}

// Store is everything the command layer needs.
type Store interface {
	VouchStore
	PolicyStore
	SettingsStore
	MergeStore

	ExportVouches(ctx context.Context, namespace string) ([]*Vouch, error)
	ImportVouches(ctx context.Context, namespace string, vouches []*Vouch) (int, error)
	ListAuditLog(ctx context.Context, filter AuditFilter) ([]AuditEntry, error)

	// Close releases any resources held by the store
	Close() error
}
