package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/nftmarket/internal/domain"
)

var (
	seller = common.HexToAddress("0x1000000000000000000000000000000000000001")
	buyer  = common.HexToAddress("0x2000000000000000000000000000000000000002")
	nft    = domain.AssetRef{Contract: common.HexToAddress("0xc000000000000000000000000000000000000001"), TokenID: "7"}
)

func TestListingConditionalUpdate(t *testing.T) {
	ctx := context.Background()
	l := NewLedger()

	id, err := l.Listings().Create(ctx, domain.Listing{Seller: seller, Asset: nft, Price: 100, Status: domain.ListingActive})
	require.NoError(t, err)
	assert.Equal(t, uint64(1), id)

	got, err := l.Listings().Get(ctx, id)
	require.NoError(t, err)
	got.Status = domain.ListingSold
	require.NoError(t, l.Listings().Update(ctx, got, domain.ListingActive))

	got.Status = domain.ListingCancelled
	err = l.Listings().Update(ctx, got, domain.ListingActive)
	assert.ErrorIs(t, err, domain.ErrConflict)

	_, err = l.Listings().ActiveByAsset(ctx, nft)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestInTxRollsBackOnError(t *testing.T) {
	ctx := context.Background()
	l := NewLedger()
	boom := errors.New("boom")

	err := l.InTx(ctx, func(tx domain.Ledger) error {
		if _, err := tx.Listings().Create(ctx, domain.Listing{Seller: seller, Asset: nft, Price: 5, Status: domain.ListingActive}); err != nil {
			return err
		}
		if err := tx.Config().Save(ctx, domain.PlatformConfig{FeeBps: 100}); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	_, err = l.Listings().Get(ctx, 1)
	assert.ErrorIs(t, err, domain.ErrNotFound)
	_, err = l.Config().Get(ctx)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	id, err := l.Listings().Create(ctx, domain.Listing{Seller: seller, Asset: nft, Price: 5, Status: domain.ListingActive})
	require.NoError(t, err)
	assert.Equal(t, uint64(1), id, "id counter restored")
}

func TestInTxHidesUncommittedWrites(t *testing.T) {
	ctx := context.Background()
	l := NewLedger()
	id, err := l.Offers().Create(ctx, domain.Offer{Bidder: buyer, Asset: nft, Amount: 50, Status: domain.OfferOpen})
	require.NoError(t, err)

	boom := errors.New("boom")
	err = l.InTx(ctx, func(tx domain.Ledger) error {
		o, err := tx.Offers().Get(ctx, id)
		if err != nil {
			return err
		}
		o.Status = domain.OfferAccepted
		if err := tx.Offers().Update(ctx, o, domain.OfferOpen); err != nil {
			return err
		}

		inTx, err := tx.Offers().Get(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, domain.OfferAccepted, inTx.Status)

		outside, err := l.Offers().Get(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, domain.OfferOpen, outside.Status, "uncommitted write visible outside the transaction")
		return boom
	})
	require.ErrorIs(t, err, boom)

	got, err := l.Offers().Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, domain.OfferOpen, got.Status)
}

func TestInTxCommits(t *testing.T) {
	ctx := context.Background()
	l := NewLedger()

	err := l.InTx(ctx, func(tx domain.Ledger) error {
		return tx.Settlements().Insert(ctx, domain.Settlement{ID: "s1", Price: 10, SettledAt: time.Now()})
	})
	require.NoError(t, err)

	got, err := l.Settlements().Get(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, domain.Amount(10), got.Price)
}

func TestRoles(t *testing.T) {
	ctx := context.Background()
	roles := NewLedger().Roles()

	require.NoError(t, roles.Grant(ctx, domain.RoleAssignment{Role: domain.RoleAdmin, Account: seller}))
	require.NoError(t, roles.Grant(ctx, domain.RoleAssignment{Role: domain.RoleCreator, Account: seller}))

	got, err := roles.RolesOf(ctx, seller)
	require.NoError(t, err)
	assert.Equal(t, []domain.Role{domain.RoleAdmin, domain.RoleCreator}, got)

	removed, err := roles.Revoke(ctx, domain.RoleCreator, seller)
	require.NoError(t, err)
	assert.True(t, removed)
	removed, err = roles.Revoke(ctx, domain.RoleCreator, seller)
	require.NoError(t, err)
	assert.False(t, removed)
}

func TestOffersInsertionOrder(t *testing.T) {
	ctx := context.Background()
	offers := NewLedger().Offers()
	for i := 1; i <= 3; i++ {
		_, err := offers.Create(ctx, domain.Offer{Asset: nft, Bidder: buyer, Amount: domain.Amount(i), Status: domain.OfferOpen})
		require.NoError(t, err)
	}

	got, err := offers.ListByAsset(ctx, nft, domain.OfferOpen)
	require.NoError(t, err)
	require.Len(t, got, 3)
	for i, o := range got {
		assert.Equal(t, uint64(i+1), o.ID)
	}
}
