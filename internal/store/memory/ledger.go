// Package memory implements the domain store, cache and adapter interfaces
// in process. It backs the single-instance deployment mode and the engine
// tests.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/nftmarket/internal/domain"
)

type roleKey struct {
	role    domain.Role
	account common.Address
}

type tables struct {
	listings    map[uint64]domain.Listing
	nextListing uint64
	offers      map[uint64]domain.Offer
	nextOffer   uint64
	roles       map[roleKey]domain.RoleAssignment
	config      *domain.PlatformConfig
	royalties   map[common.Address]domain.Royalty
	settlements []domain.Settlement
}

func newTables() tables {
	return tables{
		listings:  make(map[uint64]domain.Listing),
		offers:    make(map[uint64]domain.Offer),
		roles:     make(map[roleKey]domain.RoleAssignment),
		royalties: make(map[common.Address]domain.Royalty),
	}
}

func (t tables) clone() tables {
	out := tables{
		listings:    make(map[uint64]domain.Listing, len(t.listings)),
		nextListing: t.nextListing,
		offers:      make(map[uint64]domain.Offer, len(t.offers)),
		nextOffer:   t.nextOffer,
		roles:       make(map[roleKey]domain.RoleAssignment, len(t.roles)),
		royalties:   make(map[common.Address]domain.Royalty, len(t.royalties)),
		settlements: append([]domain.Settlement(nil), t.settlements...),
	}
	for k, v := range t.listings {
		out.listings[k] = v.Clone()
	}
	for k, v := range t.offers {
		out.offers[k] = v
	}
	for k, v := range t.roles {
		out.roles[k] = v
	}
	for k, v := range t.royalties {
		out.royalties[k] = v
	}
	if t.config != nil {
		c := t.config.Clone()
		out.config = &c
	}
	return out
}

type db struct {
	// txMu serializes writers, so a transaction's working copy is always
	// based on the latest committed tables.
	txMu sync.Mutex
	mu   sync.RWMutex
	t    tables
}

// Ledger implements domain.Ledger over in-process maps.
type Ledger struct {
	db *db
	// work is the private copy a transaction writes to; nil outside InTx.
	work *tables
}

// NewLedger creates an empty ledger.
func NewLedger() *Ledger {
	return &Ledger{db: &db{t: newTables()}}
}

func (l *Ledger) Listings() domain.ListingStore       { return &ListingStore{l: l} }
func (l *Ledger) Offers() domain.OfferStore           { return &OfferStore{l: l} }
func (l *Ledger) Roles() domain.RoleStore             { return &RoleStore{l: l} }
func (l *Ledger) Config() domain.ConfigStore          { return &ConfigStore{l: l} }
func (l *Ledger) Royalties() domain.RoyaltyStore      { return &RoyaltyStore{l: l} }
func (l *Ledger) Settlements() domain.SettlementStore { return &SettlementStore{l: l} }

// InTx runs fn against a private copy of the tables and publishes it only if
// fn succeeds. Readers outside the transaction see the committed tables until
// then. Nested calls join the outer transaction.
func (l *Ledger) InTx(ctx context.Context, fn func(tx domain.Ledger) error) error {
	if l.work != nil {
		return fn(l)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	l.db.txMu.Lock()
	defer l.db.txMu.Unlock()

	l.db.mu.RLock()
	work := l.db.t.clone()
	l.db.mu.RUnlock()

	if err := fn(&Ledger{db: l.db, work: &work}); err != nil {
		return err
	}

	l.db.mu.Lock()
	l.db.t = work
	l.db.mu.Unlock()
	return nil
}

func (l *Ledger) write(fn func(t *tables) error) error {
	if l.work != nil {
		return fn(l.work)
	}
	l.db.txMu.Lock()
	defer l.db.txMu.Unlock()
	l.db.mu.Lock()
	defer l.db.mu.Unlock()
	return fn(&l.db.t)
}

func (l *Ledger) read(fn func(t *tables)) {
	if l.work != nil {
		fn(l.work)
		return
	}
	l.db.mu.RLock()
	defer l.db.mu.RUnlock()
	fn(&l.db.t)
}

// page applies time filtering and offset/limit to items already in the
// desired order.
func page[T any](items []T, opts domain.ListOpts, at func(T) time.Time) []T {
	out := items[:0:0]
	for _, it := range items {
		ts := at(it)
		if opts.Since != nil && ts.Before(*opts.Since) {
			continue
		}
		if opts.Until != nil && ts.After(*opts.Until) {
			continue
		}
		out = append(out, it)
	}
	if opts.Offset > 0 {
		if opts.Offset >= len(out) {
			return nil
		}
		out = out[opts.Offset:]
	}
	if opts.Limit > 0 && len(out) > opts.Limit {
		out = out[:opts.Limit]
	}
	return out
}

func sortedKeys[V any](m map[uint64]V) []uint64 {
	keys := make([]uint64, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}
