package market

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/nftmarket/internal/domain"
)

func TestSplit(t *testing.T) {
	tests := []struct {
		name     string
		price    domain.Amount
		fee, roy uint16
		want     domain.Split
	}{
		{"one percent fee five percent royalty", 100, 100, 500, domain.Split{Seller: 94, Platform: 1, Royalty: 5}},
		{"no fees", 77, 0, 0, domain.Split{Seller: 77}},
		{"remainder to seller", 99, 250, 250, domain.Split{Seller: 95, Platform: 2, Royalty: 2}},
		{"everything split away", 10_000, 5_000, 5_000, domain.Split{Platform: 5_000, Royalty: 5_000}},
		{"large price", 9_000_000_000_000_000_000, 1_000, 0, domain.Split{Seller: 8_100_000_000_000_000_000, Platform: 900_000_000_000_000_000}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Split(tt.price, tt.fee, tt.roy)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.price, got.Total())
		})
	}
}

func TestSplitSumsToPrice(t *testing.T) {
	for price := domain.Amount(1); price <= 503; price += 7 {
		for _, fee := range []uint16{0, 1, 33, 999, 1000} {
			for _, roy := range []uint16{0, 7, 250, 5000} {
				s, err := Split(price, fee, roy)
				require.NoError(t, err)
				require.Equal(t, price, s.Total(), "price=%d fee=%d roy=%d", price, fee, roy)
				require.GreaterOrEqual(t, s.Seller, domain.Amount(0))
			}
		}
	}
}

func TestSplitRejects(t *testing.T) {
	_, err := Split(100, 6_000, 5_000)
	assert.ErrorIs(t, err, domain.ErrInvalidFeeConfig)
	_, err = Split(0, 100, 100)
	assert.ErrorIs(t, err, domain.ErrInvalidPrice)
	_, err = Split(-5, 0, 0)
	assert.ErrorIs(t, err, domain.ErrInvalidPrice)
}

func TestSetPlatformFeeAuthorization(t *testing.T) {
	f := newFixture(t, 100)

	err := f.eng.SetPlatformFee(f.ctx, 200, alice)
	assert.ErrorIs(t, err, domain.ErrUnauthorized)
	assert.Equal(t, domain.KindAuthorization, domain.KindOf(err))

	err = f.eng.SetPlatformFee(f.ctx, 1500, admin)
	assert.ErrorIs(t, err, domain.ErrFeeOutOfRange)

	require.NoError(t, f.eng.SetPlatformFee(f.ctx, 250, admin))
	cfg, err := f.eng.PlatformConfig(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, uint16(250), cfg.FeeBps)

	evt, ok := f.events.last(domain.EventFeeChanged)
	require.True(t, ok)
	assert.Equal(t, admin, evt.Actor)
}

func TestSetFeeRecipient(t *testing.T) {
	f := newFixture(t, 100)

	assert.ErrorIs(t, f.eng.SetFeeRecipient(f.ctx, carol, bob), domain.ErrUnauthorized)
	assert.ErrorIs(t, f.eng.SetFeeRecipient(f.ctx, domain.ZeroAccount, admin), domain.ErrInvalidAddress)
	require.NoError(t, f.eng.SetFeeRecipient(f.ctx, carol, admin))

	cfg, err := f.eng.PlatformConfig(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, carol, cfg.FeeRecipient)
}

func TestPaymentTokens(t *testing.T) {
	f := newFixture(t, 0)
	usdc := collection
	approver := carol
	require.NoError(t, f.eng.GrantRole(f.ctx, domain.RoleApprover, approver, admin))

	assert.ErrorIs(t, f.eng.ApprovePaymentToken(f.ctx, usdc, bob), domain.ErrUnauthorized)
	require.NoError(t, f.eng.ApprovePaymentToken(f.ctx, usdc, approver))

	cfg, err := f.eng.PlatformConfig(f.ctx)
	require.NoError(t, err)
	assert.True(t, cfg.Accepts(domain.Currency(usdc.Hex())))

	require.NoError(t, f.eng.RevokePaymentToken(f.ctx, usdc, admin))
	cfg, err = f.eng.PlatformConfig(f.ctx)
	require.NoError(t, err)
	assert.False(t, cfg.Accepts(domain.Currency(usdc.Hex())))
}

func TestSetRoyalty(t *testing.T) {
	f := newFixture(t, 100)

	assert.ErrorIs(t, f.eng.SetRoyalty(f.ctx, collection, creator, 500, creator), domain.ErrUnauthorized)
	require.NoError(t, f.eng.GrantRole(f.ctx, domain.RoleCreator, creator, admin))
	assert.ErrorIs(t, f.eng.SetRoyalty(f.ctx, collection, creator, 500, creator), domain.ErrUnauthorized,
		"a creator cannot claim an unregistered collection")

	assert.ErrorIs(t, f.eng.SetRoyalty(f.ctx, collection, creator, 5001, admin), domain.ErrRoyaltyOutOfRange)
	require.NoError(t, f.eng.SetRoyalty(f.ctx, collection, creator, 500, admin))
	require.NoError(t, f.eng.SetRoyalty(f.ctx, collection, creator, 400, creator))

	require.NoError(t, f.eng.GrantRole(f.ctx, domain.RoleCreator, bob, admin))
	assert.ErrorIs(t, f.eng.SetRoyalty(f.ctx, collection, bob, 100, bob), domain.ErrUnauthorized, "another creator cannot take over")

	r, err := f.eng.Royalty(f.ctx, collection)
	require.NoError(t, err)
	assert.Equal(t, creator, r.Recipient)
	assert.Equal(t, uint16(400), r.Bps)
}

func TestUnrelatedCreatorCannotClaimRoyalty(t *testing.T) {
	f := newFixture(t, 0)
	require.NoError(t, f.eng.GrantRole(f.ctx, domain.RoleCreator, bob, admin))

	assert.ErrorIs(t, f.eng.SetRoyalty(f.ctx, collection, bob, 5000, bob), domain.ErrUnauthorized)

	r, err := f.eng.Royalty(f.ctx, collection)
	require.NoError(t, err)
	assert.Zero(t, r.Bps)
}
