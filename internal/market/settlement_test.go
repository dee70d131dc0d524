package market

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/nftmarket/internal/domain"
)

func TestPaymentFailureLeavesStateUnchanged(t *testing.T) {
	f := newFixture(t, 100)
	id := f.listFixed(alice, token("1"), 100)
	f.fund(bob, 99)

	_, err := f.eng.BuyFixedPrice(f.ctx, id, bob)
	assert.ErrorIs(t, err, domain.ErrPaymentFailed)
	assert.Equal(t, domain.KindExternalFailure, domain.KindOf(err))

	assert.Equal(t, domain.Amount(99), f.balance(bob))
	assert.Equal(t, domain.Amount(0), f.balance(alice))
	assert.Equal(t, domain.ListingActive, f.listing(id).Status)
	_, escrowed := f.owner(token("1"))
	assert.True(t, escrowed)
}

func TestPartialPaymentIsReversed(t *testing.T) {
	f := newFixture(t, 100)
	f.royalty(500)
	id := f.listFixed(alice, token("1"), 100)
	// Enough for the seller leg, not for the fee and royalty legs.
	f.fund(bob, 95)

	_, err := f.eng.BuyFixedPrice(f.ctx, id, bob)
	assert.ErrorIs(t, err, domain.ErrPaymentFailed)
	assert.Equal(t, domain.Amount(95), f.balance(bob))
	assert.Equal(t, domain.Amount(0), f.balance(alice))
	assert.Equal(t, domain.Amount(0), f.balance(feeAccount))
}

func TestAssetFailureReversesPayment(t *testing.T) {
	f := newFixture(t, 100)
	f.royalty(500)
	id := f.listFixed(alice, token("1"), 100)
	f.fund(bob, 100)
	f.custody.failRelease = true

	_, err := f.eng.BuyFixedPrice(f.ctx, id, bob)
	assert.ErrorIs(t, err, domain.ErrAssetTransferFailed)
	assert.ErrorIs(t, err, domain.ErrTransferDenied)

	assert.Equal(t, domain.Amount(100), f.balance(bob))
	assert.Equal(t, domain.Amount(0), f.balance(alice))
	assert.Equal(t, domain.Amount(0), f.balance(feeAccount))
	assert.Equal(t, domain.Amount(0), f.balance(creator))
	assert.Equal(t, domain.ListingActive, f.listing(id).Status)

	f.custody.failRelease = false
	_, err = f.eng.BuyFixedPrice(f.ctx, id, bob)
	require.NoError(t, err)
}

func TestCommitFailureUnwinds(t *testing.T) {
	f := newFixture(t, 100)
	id := f.listFixed(alice, token("1"), 100)
	f.fund(bob, 100)
	f.ledger.failInsert = true

	_, err := f.eng.BuyFixedPrice(f.ctx, id, bob)
	assert.ErrorIs(t, err, errInjected)

	assert.Equal(t, domain.Amount(100), f.balance(bob))
	assert.Equal(t, domain.Amount(0), f.balance(alice))
	assert.Equal(t, domain.ListingActive, f.listing(id).Status, "listing write rolled back with the insert")
	_, escrowed := f.owner(token("1"))
	assert.True(t, escrowed)

	list, err := f.eng.ListSettlements(f.ctx, domain.ListOpts{})
	require.NoError(t, err)
	assert.Empty(t, list)
	_, ok := f.events.last(domain.EventSettled)
	assert.False(t, ok)
}

func TestReentrantCallbackRejected(t *testing.T) {
	f := newFixture(t, 0)
	id := f.listFixed(alice, token("1"), 100)
	f.fund(bob, 100)
	f.fund(carol, 100)

	var inner error
	f.custody.onRelease = func(ctx context.Context) {
		_, inner = f.eng.BuyFixedPrice(ctx, id, carol)
	}

	_, err := f.eng.BuyFixedPrice(f.ctx, id, bob)
	require.NoError(t, err)
	assert.ErrorIs(t, inner, domain.ErrReentrantCall)
	assert.Equal(t, domain.Amount(100), f.balance(carol))
	assert.Equal(t, domain.Amount(100), f.balance(alice))
}

func TestReentrantCallbackOnFreshContext(t *testing.T) {
	f := newFixture(t, 0)
	id := f.listFixed(alice, token("1"), 100)
	f.fund(bob, 100)
	f.fund(carol, 100)

	var (
		inner   error
		elapsed time.Duration
	)
	f.custody.onRelease = func(context.Context) {
		start := time.Now()
		inner = f.eng.CancelListing(context.Background(), id, alice)
		elapsed = time.Since(start)
	}

	_, err := f.eng.BuyFixedPrice(f.ctx, id, bob)
	require.NoError(t, err)
	assert.ErrorIs(t, inner, domain.ErrReentrantCall)
	assert.Less(t, elapsed, time.Second, "rejected without waiting for the lock")
	assert.Equal(t, domain.ListingSold, f.listing(id).Status)
}

func TestLockTimeoutIsNotReentrancy(t *testing.T) {
	f := newFixture(t, 0, func(o *Options) { o.LockWait = 30 * time.Millisecond })
	id := f.listFixed(alice, token("1"), 100)

	unlock, err := f.eng.locks.Acquire(f.ctx, listingKey(id), time.Minute)
	require.NoError(t, err)
	defer unlock()

	err = f.eng.CancelListing(f.ctx, id, alice)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.NotErrorIs(t, err, domain.ErrReentrantCall)
}

func TestNewRequiresDeps(t *testing.T) {
	_, err := New(Deps{}, Options{EscrowAccount: escrowAcct})
	assert.Error(t, err)

	f := newFixture(t, 0)
	_, err = New(Deps{
		Ledger:   f.ledger,
		Custody:  f.custody,
		Payments: f.balances,
		Locks:    nil,
	}, Options{EscrowAccount: escrowAcct})
	assert.Error(t, err)

	_, err = New(Deps{
		Ledger:   f.ledger,
		Custody:  f.custody,
		Payments: f.balances,
		Locks:    f.eng.locks,
	}, Options{})
	assert.ErrorIs(t, err, domain.ErrInvalidAddress)
}
