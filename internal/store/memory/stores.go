package memory

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/nftmarket/internal/domain"
)

// ListingStore implements domain.ListingStore.
type ListingStore struct{ l *Ledger }

func (s *ListingStore) Create(_ context.Context, l domain.Listing) (uint64, error) {
	var id uint64
	err := s.l.write(func(t *tables) error {
		t.nextListing++
		id = t.nextListing
		l.ID = id
		t.listings[id] = l.Clone()
		return nil
	})
	return id, err
}

func (s *ListingStore) Get(_ context.Context, id uint64) (domain.Listing, error) {
	var (
		out domain.Listing
		ok  bool
	)
	s.l.read(func(t *tables) {
		out, ok = t.listings[id]
		out = out.Clone()
	})
	if !ok {
		return domain.Listing{}, domain.ErrNotFound
	}
	return out, nil
}

func (s *ListingStore) Update(_ context.Context, l domain.Listing, expect domain.ListingStatus) error {
	return s.l.write(func(t *tables) error {
		cur, ok := t.listings[l.ID]
		if !ok {
			return domain.ErrNotFound
		}
		if cur.Status != expect {
			return fmt.Errorf("memory: listing %d is %s: %w", l.ID, cur.Status, domain.ErrConflict)
		}
		t.listings[l.ID] = l.Clone()
		return nil
	})
}

func (s *ListingStore) ActiveByAsset(_ context.Context, asset domain.AssetRef) (domain.Listing, error) {
	var (
		out   domain.Listing
		found bool
	)
	s.l.read(func(t *tables) {
		for _, id := range sortedKeys(t.listings) {
			l := t.listings[id]
			if l.Status == domain.ListingActive && l.Asset == asset {
				out, found = l.Clone(), true
				return
			}
		}
	})
	if !found {
		return domain.Listing{}, domain.ErrNotFound
	}
	return out, nil
}

func (s *ListingStore) ListActive(_ context.Context, opts domain.ListOpts) ([]domain.Listing, error) {
	return s.list(opts, false, func(l domain.Listing) bool { return l.Status == domain.ListingActive }), nil
}

func (s *ListingStore) ListBySeller(_ context.Context, seller common.Address, opts domain.ListOpts) ([]domain.Listing, error) {
	return s.list(opts, true, func(l domain.Listing) bool { return l.Seller == seller }), nil
}

func (s *ListingStore) ListClosedBefore(_ context.Context, before time.Time) ([]domain.Listing, error) {
	return s.list(domain.ListOpts{}, false, func(l domain.Listing) bool {
		return l.Status.Terminal() && l.UpdatedAt.Before(before)
	}), nil
}

func (s *ListingStore) list(opts domain.ListOpts, newestFirst bool, keep func(domain.Listing) bool) []domain.Listing {
	var out []domain.Listing
	s.l.read(func(t *tables) {
		for _, id := range sortedKeys(t.listings) {
			if l := t.listings[id]; keep(l) {
				out = append(out, l.Clone())
			}
		}
	})
	if newestFirst {
		reverse(out)
	}
	return page(out, opts, func(l domain.Listing) time.Time { return l.CreatedAt })
}

// OfferStore implements domain.OfferStore.
type OfferStore struct{ l *Ledger }

func (s *OfferStore) Create(_ context.Context, o domain.Offer) (uint64, error) {
	var id uint64
	err := s.l.write(func(t *tables) error {
		t.nextOffer++
		id = t.nextOffer
		o.ID = id
		t.offers[id] = cloneOffer(o)
		return nil
	})
	return id, err
}

func (s *OfferStore) Get(_ context.Context, id uint64) (domain.Offer, error) {
	var (
		out domain.Offer
		ok  bool
	)
	s.l.read(func(t *tables) { out, ok = t.offers[id] })
	if !ok {
		return domain.Offer{}, domain.ErrNotFound
	}
	return cloneOffer(out), nil
}

func (s *OfferStore) Update(_ context.Context, o domain.Offer, expect domain.OfferStatus) error {
	return s.l.write(func(t *tables) error {
		cur, ok := t.offers[o.ID]
		if !ok {
			return domain.ErrNotFound
		}
		if cur.Status != expect {
			return fmt.Errorf("memory: offer %d is %s: %w", o.ID, cur.Status, domain.ErrConflict)
		}
		t.offers[o.ID] = cloneOffer(o)
		return nil
	})
}

func (s *OfferStore) ListByAsset(_ context.Context, asset domain.AssetRef, status domain.OfferStatus) ([]domain.Offer, error) {
	return s.list(domain.ListOpts{}, false, func(o domain.Offer) bool {
		return o.Asset == asset && (status == "" || o.Status == status)
	}), nil
}

func (s *OfferStore) ListByBidder(_ context.Context, bidder common.Address, opts domain.ListOpts) ([]domain.Offer, error) {
	return s.list(opts, true, func(o domain.Offer) bool { return o.Bidder == bidder }), nil
}

func (s *OfferStore) ListClosedBefore(_ context.Context, before time.Time) ([]domain.Offer, error) {
	return s.list(domain.ListOpts{}, false, func(o domain.Offer) bool {
		return o.Status.Terminal() && o.ClosedAt != nil && o.ClosedAt.Before(before)
	}), nil
}

func (s *OfferStore) list(opts domain.ListOpts, newestFirst bool, keep func(domain.Offer) bool) []domain.Offer {
	var out []domain.Offer
	s.l.read(func(t *tables) {
		for _, id := range sortedKeys(t.offers) {
			if o := t.offers[id]; keep(o) {
				out = append(out, cloneOffer(o))
			}
		}
	})
	if newestFirst {
		reverse(out)
	}
	return page(out, opts, func(o domain.Offer) time.Time { return o.CreatedAt })
}

func cloneOffer(o domain.Offer) domain.Offer {
	if o.ListingID != nil {
		id := *o.ListingID
		o.ListingID = &id
	}
	if o.ClosedAt != nil {
		ts := *o.ClosedAt
		o.ClosedAt = &ts
	}
	return o
}

// RoleStore implements domain.RoleStore.
type RoleStore struct{ l *Ledger }

func (s *RoleStore) Grant(_ context.Context, a domain.RoleAssignment) error {
	return s.l.write(func(t *tables) error {
		k := roleKey{a.Role, a.Account}
		if _, ok := t.roles[k]; !ok {
			t.roles[k] = a
		}
		return nil
	})
}

func (s *RoleStore) Revoke(_ context.Context, role domain.Role, account common.Address) (bool, error) {
	var removed bool
	err := s.l.write(func(t *tables) error {
		k := roleKey{role, account}
		_, removed = t.roles[k]
		delete(t.roles, k)
		return nil
	})
	return removed, err
}

func (s *RoleStore) Has(_ context.Context, role domain.Role, account common.Address) (bool, error) {
	var ok bool
	s.l.read(func(t *tables) { _, ok = t.roles[roleKey{role, account}] })
	return ok, nil
}

func (s *RoleStore) RolesOf(_ context.Context, account common.Address) ([]domain.Role, error) {
	var out []domain.Role
	s.l.read(func(t *tables) {
		for _, r := range domain.AllRoles {
			if _, ok := t.roles[roleKey{r, account}]; ok {
				out = append(out, r)
			}
		}
	})
	return out, nil
}

func (s *RoleStore) Members(_ context.Context, role domain.Role) ([]domain.RoleAssignment, error) {
	var out []domain.RoleAssignment
	s.l.read(func(t *tables) {
		for k, a := range t.roles {
			if k.role == role {
				out = append(out, a)
			}
		}
	})
	sort.Slice(out, func(i, j int) bool {
		if !out[i].GrantedAt.Equal(out[j].GrantedAt) {
			return out[i].GrantedAt.Before(out[j].GrantedAt)
		}
		return out[i].Account.Hex() < out[j].Account.Hex()
	})
	return out, nil
}

// ConfigStore implements domain.ConfigStore.
type ConfigStore struct{ l *Ledger }

func (s *ConfigStore) Get(_ context.Context) (domain.PlatformConfig, error) {
	var out *domain.PlatformConfig
	s.l.read(func(t *tables) {
		if t.config != nil {
			c := t.config.Clone()
			out = &c
		}
	})
	if out == nil {
		return domain.PlatformConfig{}, domain.ErrNotFound
	}
	return *out, nil
}

func (s *ConfigStore) Save(_ context.Context, cfg domain.PlatformConfig) error {
	return s.l.write(func(t *tables) error {
		c := cfg.Clone()
		t.config = &c
		return nil
	})
}

// RoyaltyStore implements domain.RoyaltyStore.
type RoyaltyStore struct{ l *Ledger }

func (s *RoyaltyStore) Get(_ context.Context, collection common.Address) (domain.Royalty, error) {
	var (
		out domain.Royalty
		ok  bool
	)
	s.l.read(func(t *tables) { out, ok = t.royalties[collection] })
	if !ok {
		return domain.Royalty{}, domain.ErrNotFound
	}
	return out, nil
}

func (s *RoyaltyStore) Upsert(_ context.Context, r domain.Royalty) error {
	return s.l.write(func(t *tables) error {
		t.royalties[r.Collection] = r
		return nil
	})
}

// SettlementStore implements domain.SettlementStore.
type SettlementStore struct{ l *Ledger }

func (s *SettlementStore) Insert(_ context.Context, rec domain.Settlement) error {
	return s.l.write(func(t *tables) error {
		for _, existing := range t.settlements {
			if existing.ID == rec.ID {
				return fmt.Errorf("memory: settlement %s exists: %w", rec.ID, domain.ErrConflict)
			}
		}
		t.settlements = append(t.settlements, rec)
		return nil
	})
}

func (s *SettlementStore) Get(_ context.Context, id string) (domain.Settlement, error) {
	var (
		out   domain.Settlement
		found bool
	)
	s.l.read(func(t *tables) {
		for _, rec := range t.settlements {
			if rec.ID == id {
				out, found = rec, true
				return
			}
		}
	})
	if !found {
		return domain.Settlement{}, domain.ErrNotFound
	}
	return out, nil
}

func (s *SettlementStore) ListRecent(_ context.Context, opts domain.ListOpts) ([]domain.Settlement, error) {
	var out []domain.Settlement
	s.l.read(func(t *tables) { out = append(out, t.settlements...) })
	reverse(out)
	return page(out, opts, func(r domain.Settlement) time.Time { return r.SettledAt }), nil
}

func (s *SettlementStore) ListBefore(_ context.Context, before time.Time) ([]domain.Settlement, error) {
	var out []domain.Settlement
	s.l.read(func(t *tables) {
		for _, rec := range t.settlements {
			if rec.SettledAt.Before(before) {
				out = append(out, rec)
			}
		}
	})
	return out, nil
}

func reverse[T any](s []T) {
	for i, j := 0, len(s)-1; i < j; i, j = i+1, j-1 {
		s[i], s[j] = s[j], s[i]
	}
}
