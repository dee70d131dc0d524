package market

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/nftmarket/internal/domain"
)

func TestPlaceWithdrawRoundTrip(t *testing.T) {
	f := newFixture(t, 100)
	f.custody.Mint(token("1"), alice)
	f.fund(bob, 40)

	id, err := f.eng.PlaceOffer(f.ctx, bob, domain.OfferRequest{Asset: token("1"), Amount: 25})
	require.NoError(t, err)
	assert.Equal(t, domain.Amount(15), f.balance(bob))
	assert.Equal(t, domain.Amount(25), f.balance(escrowAcct))

	assert.ErrorIs(t, f.eng.WithdrawOffer(f.ctx, id, carol), domain.ErrNotBidder)
	require.NoError(t, f.eng.WithdrawOffer(f.ctx, id, bob))
	assert.Equal(t, domain.Amount(40), f.balance(bob))
	assert.Equal(t, domain.Amount(0), f.balance(escrowAcct))

	o, err := f.eng.GetOffer(f.ctx, id)
	require.NoError(t, err)
	assert.Equal(t, domain.OfferWithdrawn, o.Status)
	require.NotNil(t, o.ClosedAt)

	assert.ErrorIs(t, f.eng.WithdrawOffer(f.ctx, id, bob), domain.ErrOfferNotOpen)
	assert.Equal(t, domain.Amount(40), f.balance(bob))
}

func TestPlaceOfferValidation(t *testing.T) {
	f := newFixture(t, 0)
	listed := f.listFixed(alice, token("1"), 10)
	f.fund(bob, 5)

	_, err := f.eng.PlaceOffer(f.ctx, bob, domain.OfferRequest{Asset: token("1"), Amount: 0})
	assert.ErrorIs(t, err, domain.ErrInvalidAmount)
	_, err = f.eng.PlaceOffer(f.ctx, bob, domain.OfferRequest{Asset: token("1"), Amount: 3, Currency: domain.Currency(carol.Hex())})
	assert.ErrorIs(t, err, domain.ErrUnsupportedCurrency)
	_, err = f.eng.PlaceOffer(f.ctx, alice, domain.OfferRequest{Asset: token("1"), ListingID: &listed, Amount: 3})
	assert.ErrorIs(t, err, domain.ErrSelfTrade)
	_, err = f.eng.PlaceOffer(f.ctx, bob, domain.OfferRequest{Asset: token("2"), ListingID: &listed, Amount: 3})
	assert.ErrorIs(t, err, domain.ErrInvalidAsset)

	_, err = f.eng.PlaceOffer(f.ctx, bob, domain.OfferRequest{Asset: token("1"), Amount: 6})
	assert.ErrorIs(t, err, domain.ErrPaymentFailed)
	offers, err := f.eng.ListOffers(f.ctx, token("1"), "")
	require.NoError(t, err)
	assert.Empty(t, offers)
}

func TestAcceptOfferOnUnlistedAsset(t *testing.T) {
	f := newFixture(t, 100)
	f.royalty(500)
	asset := token("1")
	f.custody.Mint(asset, alice)
	f.fund(bob, 100)
	f.fund(carol, 100)

	bobOffer, err := f.eng.PlaceOffer(f.ctx, bob, domain.OfferRequest{Asset: asset, Amount: 100})
	require.NoError(t, err)
	carolOffer, err := f.eng.PlaceOffer(f.ctx, carol, domain.OfferRequest{Asset: asset, Amount: 60})
	require.NoError(t, err)

	_, err = f.eng.AcceptOffer(f.ctx, bobOffer, carol)
	assert.ErrorIs(t, err, domain.ErrNotAuthorized)

	rec, err := f.eng.AcceptOffer(f.ctx, bobOffer, alice)
	require.NoError(t, err)
	assert.Equal(t, domain.SettlementOffer, rec.Kind)
	assert.Nil(t, rec.ListingID)

	assert.Equal(t, domain.Amount(94), f.balance(alice))
	assert.Equal(t, domain.Amount(1), f.balance(feeAccount))
	assert.Equal(t, domain.Amount(5), f.balance(creator))
	owner, escrowed := f.owner(asset)
	assert.Equal(t, bob, owner)
	assert.False(t, escrowed)

	accepted, err := f.eng.GetOffer(f.ctx, bobOffer)
	require.NoError(t, err)
	assert.Equal(t, domain.OfferAccepted, accepted.Status)

	other, err := f.eng.GetOffer(f.ctx, carolOffer)
	require.NoError(t, err)
	assert.Equal(t, domain.OfferOpen, other.Status, "competing offers stay open")
	assert.Equal(t, domain.Amount(60), f.balance(escrowAcct))

	_, err = f.eng.AcceptOffer(f.ctx, bobOffer, bob)
	assert.ErrorIs(t, err, domain.ErrOfferNotOpen)

	require.NoError(t, f.eng.WithdrawOffer(f.ctx, carolOffer, carol))
	assert.Equal(t, domain.Amount(100), f.balance(carol))
	assert.Contains(t, f.events.types(), domain.EventOfferAccepted)
}

func TestAcceptOfferClosesFixedListing(t *testing.T) {
	f := newFixture(t, 0)
	asset := token("1")
	id := f.listFixed(alice, asset, 500)
	f.fund(bob, 300)

	offer, err := f.eng.PlaceOffer(f.ctx, bob, domain.OfferRequest{Asset: asset, ListingID: &id, Amount: 300})
	require.NoError(t, err)

	_, err = f.eng.AcceptOffer(f.ctx, offer, carol)
	assert.ErrorIs(t, err, domain.ErrNotAuthorized)

	rec, err := f.eng.AcceptOffer(f.ctx, offer, alice)
	require.NoError(t, err)
	require.NotNil(t, rec.ListingID)
	assert.Equal(t, id, *rec.ListingID)

	l := f.listing(id)
	assert.Equal(t, domain.ListingSold, l.Status)
	assert.Equal(t, domain.Amount(300), l.SoldPrice)
	assert.Equal(t, domain.Amount(300), f.balance(alice))
	owner, _ := f.owner(asset)
	assert.Equal(t, bob, owner)
}

func TestAcceptOfferRejectedWhileAuctionHasBids(t *testing.T) {
	f := newFixture(t, 0)
	asset := token("1")
	id := f.listAuction(alice, asset, 1, time.Hour)
	f.fund(bob, 100)
	f.fund(carol, 100)
	require.NoError(t, f.eng.PlaceBid(f.ctx, id, carol, 5))

	offer, err := f.eng.PlaceOffer(f.ctx, bob, domain.OfferRequest{Asset: asset, Amount: 50})
	require.NoError(t, err)

	_, err = f.eng.AcceptOffer(f.ctx, offer, alice)
	assert.ErrorIs(t, err, domain.ErrAuctionHasBids)
	assert.Equal(t, domain.Amount(50), f.balance(bob))
	assert.Equal(t, domain.ListingActive, f.listing(id).Status)
}
