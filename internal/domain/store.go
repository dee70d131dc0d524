package domain

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// ListingStore persists listings. Update is conditional: it writes only when
// the stored status still equals expect, and returns ErrConflict otherwise.
type ListingStore interface {
	Create(ctx context.Context, l Listing) (uint64, error)
	Get(ctx context.Context, id uint64) (Listing, error)
	Update(ctx context.Context, l Listing, expect ListingStatus) error
	ActiveByAsset(ctx context.Context, asset AssetRef) (Listing, error)
	ListActive(ctx context.Context, opts ListOpts) ([]Listing, error)
	ListBySeller(ctx context.Context, seller common.Address, opts ListOpts) ([]Listing, error)
	ListClosedBefore(ctx context.Context, before time.Time) ([]Listing, error)
}

// OfferStore persists offers. Update follows the same conditional contract as
// ListingStore.Update.
type OfferStore interface {
	Create(ctx context.Context, o Offer) (uint64, error)
	Get(ctx context.Context, id uint64) (Offer, error)
	Update(ctx context.Context, o Offer, expect OfferStatus) error
	ListByAsset(ctx context.Context, asset AssetRef, status OfferStatus) ([]Offer, error)
	ListByBidder(ctx context.Context, bidder common.Address, opts ListOpts) ([]Offer, error)
	ListClosedBefore(ctx context.Context, before time.Time) ([]Offer, error)
}

// RoleStore persists role assignments.
type RoleStore interface {
	Grant(ctx context.Context, a RoleAssignment) error
	Revoke(ctx context.Context, role Role, account common.Address) (bool, error)
	Has(ctx context.Context, role Role, account common.Address) (bool, error)
	RolesOf(ctx context.Context, account common.Address) ([]Role, error)
	Members(ctx context.Context, role Role) ([]RoleAssignment, error)
}

// ConfigStore persists the PlatformConfig singleton. Get returns ErrNotFound
// before the first Save.
type ConfigStore interface {
	Get(ctx context.Context) (PlatformConfig, error)
	Save(ctx context.Context, cfg PlatformConfig) error
}

// RoyaltyStore persists per-collection royalties. Get returns ErrNotFound for
// collections without one.
type RoyaltyStore interface {
	Get(ctx context.Context, collection common.Address) (Royalty, error)
	Upsert(ctx context.Context, r Royalty) error
}

// SettlementStore persists completed sales.
type SettlementStore interface {
	Insert(ctx context.Context, s Settlement) error
	Get(ctx context.Context, id string) (Settlement, error)
	ListRecent(ctx context.Context, opts ListOpts) ([]Settlement, error)
	ListBefore(ctx context.Context, before time.Time) ([]Settlement, error)
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64
	Event     string
	Detail    map[string]any
	CreatedAt time.Time
}

// AuditStore persists an append-only audit log.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
	ListBefore(ctx context.Context, before time.Time) ([]AuditEntry, error)
}

// Ledger groups the engine tables. InTx runs fn against stores bound to one
// transaction: either every write inside fn commits or none does.
type Ledger interface {
	Listings() ListingStore
	Offers() OfferStore
	Roles() RoleStore
	Config() ConfigStore
	Royalties() RoyaltyStore
	Settlements() SettlementStore
	InTx(ctx context.Context, fn func(tx Ledger) error) error
}
