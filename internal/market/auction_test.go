package market

import (
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/nftmarket/internal/domain"
)

func TestBidIncrementsAndRefunds(t *testing.T) {
	f := newFixture(t, 100)
	id := f.listAuction(alice, token("1"), 10, time.Hour)
	f.fund(bob, 100)
	f.fund(carol, 100)

	assert.ErrorIs(t, f.eng.PlaceBid(f.ctx, id, bob, 10), domain.ErrBidTooLow, "equal to min bid")
	require.NoError(t, f.eng.PlaceBid(f.ctx, id, bob, 12))
	l := f.listing(id)
	assert.Equal(t, domain.Amount(12), l.Auction.HighestBid)
	assert.Equal(t, bob, *l.Auction.HighestBidder)
	assert.Equal(t, domain.Amount(88), f.balance(bob))
	assert.Equal(t, domain.Amount(12), f.balance(escrowAcct))

	assert.ErrorIs(t, f.eng.PlaceBid(f.ctx, id, carol, 12), domain.ErrBidTooLow, "ties rejected")
	assert.Equal(t, domain.Amount(100), f.balance(carol))

	require.NoError(t, f.eng.PlaceBid(f.ctx, id, carol, 15))
	l = f.listing(id)
	assert.Equal(t, domain.Amount(15), l.Auction.HighestBid)
	assert.Equal(t, carol, *l.Auction.HighestBidder)
	assert.Equal(t, domain.Amount(100), f.balance(bob), "displaced bidder fully refunded")
	assert.Equal(t, domain.Amount(15), f.balance(escrowAcct))
	assert.Equal(t, map[common.Address]domain.Amount{carol: 15}, l.Auction.Escrow)
	assert.GreaterOrEqual(t, l.Auction.TotalEscrowed(), l.Auction.HighestBid)

	evt, ok := f.events.last(domain.EventBidPlaced)
	require.True(t, ok)
	assert.Equal(t, bob.Hex(), evt.Data["refunded"])
}

func TestBidRules(t *testing.T) {
	f := newFixture(t, 0)
	id := f.listAuction(alice, token("1"), 10, time.Hour)
	fixed := f.listFixed(alice, token("2"), 10)
	f.fund(bob, 5)
	f.fund(alice, 100)

	assert.ErrorIs(t, f.eng.PlaceBid(f.ctx, id, alice, 20), domain.ErrSelfTrade)
	assert.ErrorIs(t, f.eng.PlaceBid(f.ctx, fixed, bob, 20), domain.ErrAuctionNotActive)

	err := f.eng.PlaceBid(f.ctx, id, bob, 20)
	assert.ErrorIs(t, err, domain.ErrPaymentFailed)
	assert.ErrorIs(t, err, domain.ErrInsufficientFunds)
	assert.False(t, f.listing(id).Auction.HasBids())

	f.clock.Advance(time.Hour)
	f.fund(bob, 100)
	assert.ErrorIs(t, f.eng.PlaceBid(f.ctx, id, bob, 20), domain.ErrAuctionNotActive, "deadline is exclusive")
}

func TestHighestBidStrictlyIncreases(t *testing.T) {
	f := newFixture(t, 0)
	id := f.listAuction(alice, token("1"), 0, time.Hour)
	f.fund(bob, 1_000)
	f.fund(carol, 1_000)

	prev := domain.Amount(0)
	bidders := []struct {
		who    common.Address
		amount domain.Amount
	}{{bob, 1}, {carol, 2}, {bob, 5}, {bob, 9}, {carol, 30}}
	for _, b := range bidders {
		require.NoError(t, f.eng.PlaceBid(f.ctx, id, b.who, b.amount))
		cur := f.listing(id).Auction.HighestBid
		assert.Greater(t, cur, prev)
		prev = cur
	}
	assert.Equal(t, domain.Amount(1_000), f.balance(bob))
	assert.Equal(t, domain.Amount(970), f.balance(carol))
	assert.Equal(t, domain.Amount(30), f.balance(escrowAcct))
}

func TestEndAuctionSettlesWinner(t *testing.T) {
	f := newFixture(t, 100)
	f.royalty(500)
	id := f.listAuction(alice, token("1"), 10, time.Hour)
	f.fund(bob, 100)
	f.fund(carol, 100)
	require.NoError(t, f.eng.PlaceBid(f.ctx, id, bob, 12))
	require.NoError(t, f.eng.PlaceBid(f.ctx, id, carol, 100))

	_, err := f.eng.EndAuction(f.ctx, id, bob)
	assert.ErrorIs(t, err, domain.ErrAuctionStillActive)

	f.clock.Advance(time.Hour)
	rec, err := f.eng.EndAuction(f.ctx, id, bob)
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, carol, rec.Buyer)
	assert.Equal(t, domain.Amount(100), rec.Price)

	assert.Equal(t, domain.Amount(94), f.balance(alice))
	assert.Equal(t, domain.Amount(1), f.balance(feeAccount))
	assert.Equal(t, domain.Amount(5), f.balance(creator))
	assert.Equal(t, domain.Amount(0), f.balance(escrowAcct))
	assert.Equal(t, domain.Amount(100), f.balance(bob))

	l := f.listing(id)
	assert.Equal(t, domain.ListingSold, l.Status)
	assert.Empty(t, l.Auction.Escrow)
	owner, _ := f.owner(token("1"))
	assert.Equal(t, carol, owner)
	assert.Contains(t, f.events.types(), domain.EventAuctionEnded)
}

func TestEndAuctionTwice(t *testing.T) {
	f := newFixture(t, 0)
	id := f.listAuction(alice, token("1"), 1, time.Minute)
	f.fund(bob, 10)
	require.NoError(t, f.eng.PlaceBid(f.ctx, id, bob, 5))
	f.clock.Advance(time.Minute)

	_, err := f.eng.EndAuction(f.ctx, id, carol)
	require.NoError(t, err)
	before := f.listing(id)
	events := len(f.events.types())

	_, err = f.eng.EndAuction(f.ctx, id, carol)
	assert.ErrorIs(t, err, domain.ErrAuctionNotActive)
	assert.ErrorIs(t, err, domain.ErrAlreadySettled)
	assert.Equal(t, before, f.listing(id))
	assert.Len(t, f.events.types(), events)
}

func TestEndAuctionWithoutBids(t *testing.T) {
	f := newFixture(t, 0)
	id := f.listAuction(alice, token("1"), 10, time.Minute)
	f.clock.Advance(2 * time.Minute)

	rec, err := f.eng.EndAuction(f.ctx, id, bob)
	require.NoError(t, err)
	assert.Nil(t, rec)
	assert.Equal(t, domain.ListingCancelled, f.listing(id).Status)
	owner, escrowed := f.owner(token("1"))
	assert.Equal(t, alice, owner)
	assert.False(t, escrowed)
}

func TestEmergencyEarlyEnd(t *testing.T) {
	f := newFixture(t, 0)
	id := f.listAuction(alice, token("1"), 1, time.Hour)
	f.fund(bob, 10)
	require.NoError(t, f.eng.PlaceBid(f.ctx, id, bob, 5))

	_, err := f.eng.EndAuction(f.ctx, id, team)
	assert.ErrorIs(t, err, domain.ErrAuctionStillActive, "early end needs the emergency stop")

	require.NoError(t, f.eng.Pause(f.ctx, admin))
	_, err = f.eng.EndAuction(f.ctx, id, bob)
	assert.ErrorIs(t, err, domain.ErrMarketplacePaused)

	rec, err := f.eng.EndAuction(f.ctx, id, team)
	require.NoError(t, err)
	assert.Equal(t, bob, rec.Buyer)
}

func TestCancelAuctionWithBids(t *testing.T) {
	f := newFixture(t, 0)
	id := f.listAuction(alice, token("1"), 1, time.Hour)
	f.fund(bob, 10)
	require.NoError(t, f.eng.PlaceBid(f.ctx, id, bob, 7))

	assert.ErrorIs(t, f.eng.CancelListing(f.ctx, id, alice), domain.ErrAuctionHasBids)
	require.NoError(t, f.eng.CancelListing(f.ctx, id, team))

	assert.Equal(t, domain.Amount(10), f.balance(bob))
	assert.Equal(t, domain.Amount(0), f.balance(escrowAcct))
	owner, escrowed := f.owner(token("1"))
	assert.Equal(t, alice, owner)
	assert.False(t, escrowed)
}
