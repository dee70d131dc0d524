package market

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"github.com/alanyoungcy/nftmarket/internal/domain"
)

// sale describes one exchange handed to the coordinator.
type sale struct {
	kind      domain.SettlementKind
	listingID *uint64
	offerID   *uint64
	asset     domain.AssetRef
	buyer     common.Address
	seller    common.Address
	// payer funds the legs: the buyer on a fixed-price purchase, the escrow
	// account when the funds were collected at bid or offer time.
	payer    common.Address
	price    domain.Amount
	currency domain.Currency
	// conflict is returned when the conditional status write loses.
	conflict error
}

// leg is one payment out of the payer.
type leg struct {
	to     common.Address
	amount domain.Amount
}

// quote computes the settlement record and the payment legs for s.
func (e *Engine) quote(ctx context.Context, s sale) (domain.Settlement, []leg, error) {
	cfg, err := e.config(ctx)
	if err != nil {
		return domain.Settlement{}, nil, err
	}
	royalty, err := e.Royalty(ctx, s.asset.Contract)
	if err != nil {
		return domain.Settlement{}, nil, err
	}
	split, err := Split(s.price, cfg.FeeBps, royalty.Bps)
	if err != nil {
		return domain.Settlement{}, nil, err
	}

	rec := domain.Settlement{
		ID:               uuid.NewString(),
		Kind:             s.kind,
		ListingID:        s.listingID,
		OfferID:          s.offerID,
		Asset:            s.asset,
		Buyer:            s.buyer,
		Seller:           s.seller,
		Price:            s.price,
		Fee:              split.Platform,
		Royalty:          split.Royalty,
		FeeRecipient:     cfg.FeeRecipient,
		RoyaltyRecipient: royalty.Recipient,
		Currency:         s.currency,
		SettledAt:        e.clock.Now(),
	}
	legs := []leg{
		{to: s.seller, amount: split.Seller},
		{to: cfg.FeeRecipient, amount: split.Platform},
		{to: royalty.Recipient, amount: split.Royalty},
	}
	return rec, legs, nil
}

// settle runs the exchange for s: payment legs, custody release to the buyer,
// then commit in one ledger transaction together with the settlement record.
// A failure at any step undoes the steps already taken.
//
// The caller must hold the entity locks and pass the guarded context.
func (e *Engine) settle(ctx context.Context, s sale, commit func(tx domain.Ledger) error) (domain.Settlement, error) {
	rec, legs, err := e.quote(ctx, s)
	if err != nil {
		return domain.Settlement{}, err
	}

	done := e.guard.beginSettlement(ctx)
	defer done()

	paid, err := e.pay(ctx, s.payer, legs, s.currency)
	if err != nil {
		return domain.Settlement{}, err
	}

	if err := e.custody.Release(ctx, s.asset, s.buyer); err != nil {
		e.reverse(ctx, s.payer, paid, s.currency)
		return domain.Settlement{}, fmt.Errorf("%w: %w", domain.ErrAssetTransferFailed, err)
	}

	err = e.ledger.InTx(ctx, func(tx domain.Ledger) error {
		if err := commit(tx); err != nil {
			return err
		}
		if err := tx.Settlements().Insert(ctx, rec); err != nil {
			return fmt.Errorf("market: record settlement: %w", err)
		}
		return nil
	})
	if err != nil {
		if _, rerr := e.custody.Escrow(ctx, s.asset, s.buyer); rerr != nil {
			e.logger.ErrorContext(ctx, "re-escrow after failed commit",
				slog.String("asset", s.asset.Key()),
				slog.String("buyer", s.buyer.Hex()),
				slog.String("error", rerr.Error()),
			)
		}
		e.reverse(ctx, s.payer, paid, s.currency)
		if errors.Is(err, domain.ErrConflict) && s.conflict != nil {
			return domain.Settlement{}, s.conflict
		}
		return domain.Settlement{}, err
	}

	e.logger.InfoContext(ctx, "settled",
		slog.String("settlement_id", rec.ID),
		slog.String("kind", string(rec.Kind)),
		slog.String("asset", rec.Asset.Key()),
		slog.String("buyer", rec.Buyer.Hex()),
		slog.String("seller", rec.Seller.Hex()),
		slog.Int64("price", rec.Price),
		slog.Int64("fee", rec.Fee),
		slog.Int64("royalty", rec.Royalty),
	)
	e.emit(ctx, domain.Event{
		Type:      domain.EventSettled,
		ListingID: rec.ListingID,
		OfferID:   rec.OfferID,
		Asset:     &rec.Asset,
		Actor:     s.buyer,
		Buyer:     &rec.Buyer,
		Seller:    &rec.Seller,
		Price:     rec.Price,
		Fee:       rec.Fee,
		Royalty:   rec.Royalty,
		Currency:  rec.Currency,
		Data:      map[string]any{"settlement_id": rec.ID, "kind": string(rec.Kind)},
	})
	return rec, nil
}

// pay executes legs in order, skipping zero amounts. On the first failure the
// completed legs are reversed and ErrPaymentFailed is returned.
func (e *Engine) pay(ctx context.Context, payer common.Address, legs []leg, currency domain.Currency) ([]leg, error) {
	done := make([]leg, 0, len(legs))
	for _, l := range legs {
		if l.amount == 0 {
			continue
		}
		if err := e.payments.Transfer(ctx, payer, l.to, l.amount, currency); err != nil {
			e.reverse(ctx, payer, done, currency)
			return nil, fmt.Errorf("%w: %w", domain.ErrPaymentFailed, err)
		}
		done = append(done, l)
	}
	return done, nil
}

// reverse sends completed legs back to payer, newest first. A reversal that
// fails cannot be undone here and is logged for manual reconciliation.
func (e *Engine) reverse(ctx context.Context, payer common.Address, done []leg, currency domain.Currency) {
	for i := len(done) - 1; i >= 0; i-- {
		l := done[i]
		if err := e.payments.Transfer(ctx, l.to, payer, l.amount, currency); err != nil {
			e.logger.ErrorContext(ctx, "payment reversal failed",
				slog.String("from", l.to.Hex()),
				slog.String("to", payer.Hex()),
				slog.Int64("amount", l.amount),
				slog.String("currency", string(currency)),
				slog.String("error", err.Error()),
			)
		}
	}
}

// refund moves amount from the escrow account back to to.
func (e *Engine) refund(ctx context.Context, to common.Address, amount domain.Amount, currency domain.Currency) error {
	if amount == 0 {
		return nil
	}
	if err := e.payments.Transfer(ctx, e.escrow, to, amount, currency); err != nil {
		return fmt.Errorf("%w: %w", domain.ErrPaymentFailed, err)
	}
	return nil
}

// collect moves amount from from into the escrow account.
func (e *Engine) collect(ctx context.Context, from common.Address, amount domain.Amount, currency domain.Currency) error {
	if err := e.payments.Transfer(ctx, from, e.escrow, amount, currency); err != nil {
		return fmt.Errorf("%w: %w", domain.ErrPaymentFailed, err)
	}
	return nil
}

// compensate logs a failed undo step. The original error is what the caller
// sees.
func (e *Engine) compensate(ctx context.Context, step string, err error) {
	if err == nil {
		return
	}
	e.logger.ErrorContext(ctx, "compensation failed",
		slog.String("step", step),
		slog.String("error", err.Error()),
	)
}

// GetSettlement returns one settlement record.
func (e *Engine) GetSettlement(ctx context.Context, id string) (domain.Settlement, error) {
	s, err := e.ledger.Settlements().Get(ctx, id)
	if err != nil {
		return domain.Settlement{}, fmt.Errorf("market: get settlement %s: %w", id, err)
	}
	return s, nil
}

// ListSettlements returns settlements newest first.
func (e *Engine) ListSettlements(ctx context.Context, opts domain.ListOpts) ([]domain.Settlement, error) {
	out, err := e.ledger.Settlements().ListRecent(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("market: list settlements: %w", err)
	}
	return out, nil
}

// storeErr maps a conditional-write conflict to conflict and wraps anything
// else.
func storeErr(op string, err, conflict error) error {
	if errors.Is(err, domain.ErrConflict) {
		return conflict
	}
	return fmt.Errorf("market: %s: %w", op, err)
}
