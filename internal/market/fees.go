package market

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/nftmarket/internal/domain"
)

// Split divides price into seller proceeds, platform fee and royalty.
//
//	platform = price * feeBps / 10000
//	royalty  = price * royaltyBps / 10000
//	seller   = price - platform - royalty
//
// Both divisions truncate, so any remainder stays with the seller and the
// three parts always sum to price.
func Split(price domain.Amount, feeBps, royaltyBps uint16) (domain.Split, error) {
	if price <= 0 {
		return domain.Split{}, domain.ErrInvalidPrice
	}
	if int(feeBps)+int(royaltyBps) > domain.BpsDenominator {
		return domain.Split{}, domain.ErrInvalidFeeConfig
	}
	platform := bpsOf(price, feeBps)
	royalty := bpsOf(price, royaltyBps)
	return domain.Split{
		Seller:   price - platform - royalty,
		Platform: platform,
		Royalty:  royalty,
	}, nil
}

// bpsOf computes price*bps/10000 without overflowing int64 intermediates.
func bpsOf(price domain.Amount, bps uint16) domain.Amount {
	if bps == 0 {
		return 0
	}
	n := new(big.Int).Mul(big.NewInt(price), big.NewInt(int64(bps)))
	n.Quo(n, big.NewInt(domain.BpsDenominator))
	return n.Int64()
}

// PlatformConfig returns the current platform configuration.
func (e *Engine) PlatformConfig(ctx context.Context) (domain.PlatformConfig, error) {
	return e.config(ctx)
}

// SetPlatformFee changes the platform fee. Admin only; capped at MaxFeeBps.
func (e *Engine) SetPlatformFee(ctx context.Context, feeBps uint16, caller common.Address) error {
	if err := e.RequireRole(ctx, domain.RoleAdmin, caller); err != nil {
		return err
	}
	if feeBps > domain.MaxFeeBps {
		return domain.ErrFeeOutOfRange
	}

	var old uint16
	err := e.mutateConfig(ctx, func(cfg *domain.PlatformConfig) error {
		if feeBps > 0 && domain.IsZero(cfg.FeeRecipient) {
			return domain.ErrInvalidAddress
		}
		old = cfg.FeeBps
		cfg.FeeBps = feeBps
		return nil
	})
	if err != nil {
		return err
	}

	e.logger.InfoContext(ctx, "platform fee changed",
		slog.Int("old_bps", int(old)),
		slog.Int("new_bps", int(feeBps)),
		slog.String("caller", caller.Hex()),
	)
	e.emit(ctx, domain.Event{
		Type:  domain.EventFeeChanged,
		Actor: caller,
		Data:  map[string]any{"old_bps": old, "new_bps": feeBps},
	})
	return nil
}

// SetFeeRecipient changes the account that receives platform fees. Admin only.
func (e *Engine) SetFeeRecipient(ctx context.Context, recipient, caller common.Address) error {
	if err := e.RequireRole(ctx, domain.RoleAdmin, caller); err != nil {
		return err
	}
	if domain.IsZero(recipient) {
		return domain.ErrInvalidAddress
	}

	var old common.Address
	if err := e.mutateConfig(ctx, func(cfg *domain.PlatformConfig) error {
		old = cfg.FeeRecipient
		cfg.FeeRecipient = recipient
		return nil
	}); err != nil {
		return err
	}

	e.logger.InfoContext(ctx, "fee recipient changed",
		slog.String("old", old.Hex()),
		slog.String("new", recipient.Hex()),
		slog.String("caller", caller.Hex()),
	)
	e.emit(ctx, domain.Event{
		Type:  domain.EventFeeRecipientChanged,
		Actor: caller,
		Data:  map[string]any{"old": old.Hex(), "new": recipient.Hex()},
	})
	return nil
}

// ApprovePaymentToken adds token to the accepted payment currencies. Admin or
// Approver.
func (e *Engine) ApprovePaymentToken(ctx context.Context, token, caller common.Address) error {
	if err := e.RequireAnyRole(ctx, caller, domain.RoleAdmin, domain.RoleApprover); err != nil {
		return err
	}
	if domain.IsZero(token) {
		return domain.ErrInvalidAddress
	}
	if err := e.mutateConfig(ctx, func(cfg *domain.PlatformConfig) error {
		*cfg = cfg.WithToken(token)
		return nil
	}); err != nil {
		return err
	}

	e.logger.InfoContext(ctx, "payment token approved",
		slog.String("token", token.Hex()),
		slog.String("caller", caller.Hex()),
	)
	e.emit(ctx, domain.Event{
		Type:     domain.EventPaymentTokenApproved,
		Actor:    caller,
		Currency: domain.Currency(token.Hex()),
	})
	return nil
}

// RevokePaymentToken removes token from the accepted payment currencies.
// Listings and offers already escrowed in that token are unaffected.
func (e *Engine) RevokePaymentToken(ctx context.Context, token, caller common.Address) error {
	if err := e.RequireAnyRole(ctx, caller, domain.RoleAdmin, domain.RoleApprover); err != nil {
		return err
	}
	if err := e.mutateConfig(ctx, func(cfg *domain.PlatformConfig) error {
		*cfg = cfg.WithoutToken(token)
		return nil
	}); err != nil {
		return err
	}

	e.logger.InfoContext(ctx, "payment token revoked",
		slog.String("token", token.Hex()),
		slog.String("caller", caller.Hex()),
	)
	e.emit(ctx, domain.Event{
		Type:     domain.EventPaymentTokenRevoked,
		Actor:    caller,
		Currency: domain.Currency(token.Hex()),
	})
	return nil
}

// SetRoyalty sets the resale royalty of a collection. Admins may set any
// collection and register its first royalty, naming the creator as
// recipient. From then on a Creator may update only a collection whose
// royalty currently pays them.
func (e *Engine) SetRoyalty(ctx context.Context, collection, recipient common.Address, bps uint16, caller common.Address) error {
	if domain.IsZero(collection) || domain.IsZero(recipient) {
		return domain.ErrInvalidAddress
	}
	if bps > domain.MaxRoyaltyBps {
		return domain.ErrRoyaltyOutOfRange
	}

	isAdmin, err := e.hasRole(ctx, domain.RoleAdmin, caller)
	if err != nil {
		return err
	}
	if !isAdmin {
		if err := e.RequireRole(ctx, domain.RoleCreator, caller); err != nil {
			return err
		}
	}

	unlock, err := e.lock(ctx, configLockKey)
	if err != nil {
		return err
	}
	defer unlock()

	cfg, err := e.config(ctx)
	if err != nil {
		return err
	}
	if int(cfg.FeeBps)+int(bps) > domain.BpsDenominator {
		return domain.ErrInvalidFeeConfig
	}

	existing, err := e.ledger.Royalties().Get(ctx, collection)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		if !isAdmin {
			return domain.ErrUnauthorized
		}
	case err != nil:
		return fmt.Errorf("market: load royalty: %w", err)
	case !isAdmin && existing.Recipient != caller:
		return domain.ErrUnauthorized
	}

	r := domain.Royalty{
		Collection: collection,
		Recipient:  recipient,
		Bps:        bps,
		UpdatedAt:  e.clock.Now(),
	}
	if err := e.ledger.Royalties().Upsert(ctx, r); err != nil {
		return fmt.Errorf("market: save royalty: %w", err)
	}

	e.logger.InfoContext(ctx, "royalty changed",
		slog.String("collection", collection.Hex()),
		slog.String("recipient", recipient.Hex()),
		slog.Int("bps", int(bps)),
		slog.String("caller", caller.Hex()),
	)
	e.emit(ctx, domain.Event{
		Type:  domain.EventRoyaltyChanged,
		Actor: caller,
		Data: map[string]any{
			"collection": collection.Hex(),
			"recipient":  recipient.Hex(),
			"bps":        bps,
		},
	})
	return nil
}

// Royalty returns the royalty of a collection; collections without one
// report a zero-bps royalty.
func (e *Engine) Royalty(ctx context.Context, collection common.Address) (domain.Royalty, error) {
	r, err := e.ledger.Royalties().Get(ctx, collection)
	if errors.Is(err, domain.ErrNotFound) {
		return domain.Royalty{Collection: collection}, nil
	}
	if err != nil {
		return domain.Royalty{}, fmt.Errorf("market: load royalty: %w", err)
	}
	return r, nil
}

// mutateConfig applies fn to the config under the config lock and saves it.
// Royalty bps already configured are not re-checked here; a fee increase that
// would overflow a royalty is caught by Split at settlement time.
func (e *Engine) mutateConfig(ctx context.Context, fn func(cfg *domain.PlatformConfig) error) error {
	unlock, err := e.lock(ctx, configLockKey)
	if err != nil {
		return err
	}
	defer unlock()

	cfg, err := e.config(ctx)
	if err != nil {
		return err
	}
	next := cfg.Clone()
	if err := fn(&next); err != nil {
		return err
	}
	next.UpdatedAt = e.clock.Now()
	if err := e.ledger.Config().Save(ctx, next); err != nil {
		return fmt.Errorf("market: save config: %w", err)
	}
	return nil
}
