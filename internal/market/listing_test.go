package market

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/nftmarket/internal/domain"
)

func TestCreateListingValidation(t *testing.T) {
	f := newFixture(t, 100)
	asset := token("1")
	f.custody.Mint(asset, alice)

	tests := []struct {
		name string
		req  domain.ListingRequest
		by   common.Address
		want error
	}{
		{"zero price", domain.ListingRequest{Asset: asset, Price: 0}, alice, domain.ErrInvalidPrice},
		{"negative min bid", domain.ListingRequest{Asset: asset, Price: 5, IsAuction: true, Duration: time.Hour, MinBid: -1}, alice, domain.ErrInvalidAmount},
		{"auction without duration", domain.ListingRequest{Asset: asset, Price: 5, IsAuction: true}, alice, domain.ErrInvalidDuration},
		{"auction too long", domain.ListingRequest{Asset: asset, Price: 5, IsAuction: true, Duration: 365 * 24 * time.Hour}, alice, domain.ErrInvalidDuration},
		{"unapproved token", domain.ListingRequest{Asset: asset, Price: 5, Currency: domain.Currency(carol.Hex())}, alice, domain.ErrUnsupportedCurrency},
		{"bad token id", domain.ListingRequest{Asset: domain.AssetRef{Contract: collection, TokenID: "x"}, Price: 5}, alice, domain.ErrInvalidAsset},
		{"not owner", domain.ListingRequest{Asset: asset, Price: 5}, bob, domain.ErrNotAssetOwner},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.eng.CreateListing(f.ctx, tt.by, tt.req)
			assert.ErrorIs(t, err, tt.want)
		})
	}

	owner, escrowed := f.owner(asset)
	assert.Equal(t, alice, owner)
	assert.False(t, escrowed, "failed listings leave custody untouched")
}

func TestCreateListingEscrowsAsset(t *testing.T) {
	f := newFixture(t, 100)
	id := f.listFixed(alice, token("1"), 100)

	l := f.listing(id)
	assert.Equal(t, domain.ListingActive, l.Status)
	assert.Equal(t, alice, l.Seller)
	_, escrowed := f.owner(token("1"))
	assert.True(t, escrowed)

	_, err := f.eng.CreateListing(f.ctx, alice, domain.ListingRequest{Asset: token("1"), Price: 10})
	assert.ErrorIs(t, err, domain.ErrAssetAlreadyListed)

	evt, ok := f.events.last(domain.EventListed)
	require.True(t, ok)
	assert.Equal(t, id, *evt.ListingID)
}

func TestListingIDsAreMonotonic(t *testing.T) {
	f := newFixture(t, 0)
	a := f.listFixed(alice, token("1"), 1)
	b := f.listFixed(alice, token("2"), 1)
	c := f.listFixed(bob, token("3"), 1)
	assert.Less(t, a, b)
	assert.Less(t, b, c)

	active, err := f.eng.ListActiveListings(f.ctx, domain.ListOpts{})
	require.NoError(t, err)
	assert.Len(t, active, 3)
	mine, err := f.eng.ListingsBySeller(f.ctx, alice, domain.ListOpts{})
	require.NoError(t, err)
	assert.Len(t, mine, 2)
}

func TestCancelThenBuyFails(t *testing.T) {
	f := newFixture(t, 100)
	id := f.listFixed(alice, token("1"), 100)
	f.fund(bob, 100)

	assert.ErrorIs(t, f.eng.CancelListing(f.ctx, id, bob), domain.ErrNotSeller)
	require.NoError(t, f.eng.CancelListing(f.ctx, id, alice))
	assert.Equal(t, domain.ListingCancelled, f.listing(id).Status)

	owner, escrowed := f.owner(token("1"))
	assert.Equal(t, alice, owner)
	assert.False(t, escrowed)

	_, err := f.eng.BuyFixedPrice(f.ctx, id, bob)
	assert.ErrorIs(t, err, domain.ErrAlreadySettled)
	assert.Equal(t, domain.Amount(100), f.balance(bob))

	assert.ErrorIs(t, f.eng.CancelListing(f.ctx, id, alice), domain.ErrAlreadySettled)
}

func TestModeratorMayCancel(t *testing.T) {
	f := newFixture(t, 0)
	id := f.listFixed(alice, token("1"), 10)
	require.NoError(t, f.eng.GrantRole(f.ctx, domain.RoleModerator, carol, admin))

	require.NoError(t, f.eng.CancelListing(f.ctx, id, carol))
	assert.Equal(t, domain.ListingCancelled, f.listing(id).Status)
}

func TestBuyFixedPrice(t *testing.T) {
	f := newFixture(t, 100)
	f.royalty(500)
	id := f.listFixed(alice, token("1"), 100)
	f.fund(bob, 150)

	_, err := f.eng.BuyFixedPrice(f.ctx, id, alice)
	assert.ErrorIs(t, err, domain.ErrSelfTrade)

	rec, err := f.eng.BuyFixedPrice(f.ctx, id, bob)
	require.NoError(t, err)
	assert.Equal(t, domain.Amount(1), rec.Fee)
	assert.Equal(t, domain.Amount(5), rec.Royalty)
	assert.Equal(t, domain.SettlementFixedPrice, rec.Kind)

	assert.Equal(t, domain.Amount(94), f.balance(alice))
	assert.Equal(t, domain.Amount(1), f.balance(feeAccount))
	assert.Equal(t, domain.Amount(5), f.balance(creator))
	assert.Equal(t, domain.Amount(50), f.balance(bob))

	l := f.listing(id)
	assert.Equal(t, domain.ListingSold, l.Status)
	assert.Equal(t, bob, *l.Buyer)
	owner, escrowed := f.owner(token("1"))
	assert.Equal(t, bob, owner)
	assert.False(t, escrowed)

	stored, err := f.eng.GetSettlement(f.ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, rec.Price, stored.Price)

	evt, ok := f.events.last(domain.EventSettled)
	require.True(t, ok)
	assert.Equal(t, bob, *evt.Buyer)
	assert.Equal(t, alice, *evt.Seller)
	assert.Equal(t, domain.Amount(100), evt.Price)
	assert.Equal(t, domain.Amount(1), evt.Fee)
	assert.Equal(t, domain.Amount(5), evt.Royalty)
}

func TestNoDoubleSale(t *testing.T) {
	f := newFixture(t, 100)
	id := f.listFixed(alice, token("1"), 100)
	f.fund(bob, 100)
	f.fund(carol, 100)

	_, err := f.eng.BuyFixedPrice(f.ctx, id, bob)
	require.NoError(t, err)
	_, err = f.eng.BuyFixedPrice(f.ctx, id, carol)
	assert.ErrorIs(t, err, domain.ErrAlreadySettled)
	assert.Equal(t, domain.Amount(100), f.balance(carol))
}

func TestConcurrentBuyersSettleOnce(t *testing.T) {
	f := newFixture(t, 100)
	id := f.listFixed(alice, token("1"), 100)

	buyers := make([]common.Address, 8)
	for i := range buyers {
		buyers[i] = common.HexToAddress(fmt.Sprintf("0x%040x", 0x5000+i))
		f.fund(buyers[i], 100)
	}

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for _, b := range buyers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.eng.BuyFixedPrice(f.ctx, id, b)
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				wins++
				return
			}
			if !errors.Is(err, domain.ErrReentrantCall) {
				assert.ErrorIs(t, err, domain.ErrAlreadySettled)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, wins)
	var spent domain.Amount
	for _, b := range buyers {
		spent += 100 - f.balance(b)
	}
	assert.Equal(t, domain.Amount(100), spent)
}
