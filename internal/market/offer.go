package market

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/nftmarket/internal/domain"
)

// PlaceOffer escrows amount from bidder and records an open offer on the
// asset. Any number of open offers may coexist on one asset.
func (e *Engine) PlaceOffer(ctx context.Context, bidder common.Address, req domain.OfferRequest) (uint64, error) {
	cfg, err := e.config(ctx)
	if err != nil {
		return 0, err
	}
	if cfg.Paused {
		return 0, domain.ErrMarketplacePaused
	}
	if domain.IsZero(bidder) {
		return 0, domain.ErrInvalidAddress
	}
	if err := req.Asset.Validate(); err != nil {
		return 0, err
	}
	if req.Amount <= 0 {
		return 0, domain.ErrInvalidAmount
	}
	currency := req.Currency.Normalize()
	if !cfg.Accepts(currency) {
		return 0, domain.ErrUnsupportedCurrency
	}
	if req.ListingID != nil {
		l, err := e.getListing(ctx, *req.ListingID)
		if err != nil {
			return 0, err
		}
		if l.Asset != req.Asset {
			return 0, domain.ErrInvalidAsset
		}
		if l.Status != domain.ListingActive {
			return 0, domain.ErrAlreadySettled
		}
		if l.Seller == bidder {
			return 0, domain.ErrSelfTrade
		}
	}

	if err := e.collect(ctx, bidder, req.Amount, currency); err != nil {
		return 0, err
	}

	o := domain.Offer{
		Asset:     req.Asset,
		ListingID: req.ListingID,
		Bidder:    bidder,
		Amount:    req.Amount,
		Currency:  currency,
		Status:    domain.OfferOpen,
		CreatedAt: e.clock.Now(),
	}
	id, err := e.ledger.Offers().Create(ctx, o)
	if err != nil {
		e.compensate(ctx, "refund offer after failed create", e.refund(ctx, bidder, req.Amount, currency))
		return 0, fmt.Errorf("market: create offer: %w", err)
	}

	e.logger.InfoContext(ctx, "offer placed",
		slog.Uint64("offer_id", id),
		slog.String("asset", o.Asset.Key()),
		slog.String("bidder", bidder.Hex()),
		slog.Int64("amount", o.Amount),
	)
	e.emit(ctx, domain.Event{
		Type:      domain.EventOfferPlaced,
		ListingID: o.ListingID,
		OfferID:   ptr(id),
		Asset:     &o.Asset,
		Actor:     bidder,
		Buyer:     ptr(bidder),
		Price:     o.Amount,
		Currency:  o.Currency,
	})
	return id, nil
}

// WithdrawOffer refunds an open offer to its bidder.
func (e *Engine) WithdrawOffer(ctx context.Context, id uint64, caller common.Address) error {
	if err := e.ensureNotPaused(ctx); err != nil {
		return err
	}

	opCtx, release, err := e.acquire(ctx, offerKey(id))
	if err != nil {
		return err
	}
	defer release()

	o, err := e.getOffer(opCtx, id)
	if err != nil {
		return err
	}
	if caller != o.Bidder {
		return domain.ErrNotBidder
	}
	if o.Status != domain.OfferOpen {
		return domain.ErrOfferNotOpen
	}

	if err := e.refund(opCtx, o.Bidder, o.Amount, o.Currency); err != nil {
		return err
	}

	next := o
	next.Status = domain.OfferWithdrawn
	next.ClosedAt = ptr(e.clock.Now())
	if err := e.ledger.Offers().Update(opCtx, next, domain.OfferOpen); err != nil {
		e.compensate(opCtx, "recollect withdrawn offer", e.collect(opCtx, o.Bidder, o.Amount, o.Currency))
		return storeErr("withdraw offer", err, domain.ErrOfferNotOpen)
	}

	e.logger.InfoContext(ctx, "offer withdrawn",
		slog.Uint64("offer_id", id),
		slog.String("bidder", o.Bidder.Hex()),
	)
	e.emit(ctx, domain.Event{
		Type:      domain.EventOfferWithdrawn,
		ListingID: o.ListingID,
		OfferID:   ptr(id),
		Asset:     &next.Asset,
		Actor:     caller,
		Buyer:     ptr(o.Bidder),
		Price:     o.Amount,
		Currency:  o.Currency,
	})
	return nil
}

// AcceptOffer sells the asset to the offer's bidder at the offered amount.
// The caller must be the seller of the asset's active listing or, when the
// asset is unlisted, its current owner. An active listing without bids is
// closed as sold; other open offers on the asset stay open.
func (e *Engine) AcceptOffer(ctx context.Context, id uint64, caller common.Address) (domain.Settlement, error) {
	if err := e.ensureNotPaused(ctx); err != nil {
		return domain.Settlement{}, err
	}

	peek, err := e.getOffer(ctx, id)
	if err != nil {
		return domain.Settlement{}, err
	}
	keys := []string{assetKey(peek.Asset)}
	listing, err := e.ledger.Listings().ActiveByAsset(ctx, peek.Asset)
	listed := err == nil
	switch {
	case listed:
		keys = append(keys, listingKey(listing.ID))
	case !errors.Is(err, domain.ErrNotFound):
		return domain.Settlement{}, fmt.Errorf("market: active listing lookup: %w", err)
	}
	keys = append(keys, offerKey(id))

	opCtx, release, err := e.acquire(ctx, keys...)
	if err != nil {
		return domain.Settlement{}, err
	}
	defer release()

	o, err := e.getOffer(opCtx, id)
	if err != nil {
		return domain.Settlement{}, err
	}

	var seller common.Address
	escrowedHere := false
	if listed {
		if listing, err = e.getListing(opCtx, listing.ID); err != nil {
			return domain.Settlement{}, err
		}
		if caller != listing.Seller {
			return domain.Settlement{}, domain.ErrNotAuthorized
		}
		if listing.Status != domain.ListingActive {
			return domain.Settlement{}, domain.ErrAlreadySettled
		}
		seller = listing.Seller
	} else {
		owner, escrowed, err := e.custody.OwnerOf(opCtx, o.Asset)
		if err != nil {
			return domain.Settlement{}, fmt.Errorf("market: owner of %s: %w", o.Asset.Key(), err)
		}
		if escrowed || owner != caller {
			return domain.Settlement{}, domain.ErrNotAuthorized
		}
		seller = owner
	}
	if o.Status != domain.OfferOpen {
		return domain.Settlement{}, domain.ErrOfferNotOpen
	}
	if o.Bidder == seller {
		return domain.Settlement{}, domain.ErrSelfTrade
	}
	if listed && listing.Auction.HasBids() {
		return domain.Settlement{}, domain.ErrAuctionHasBids
	}

	if !listed {
		if _, err := e.custody.Escrow(opCtx, o.Asset, seller); err != nil {
			return domain.Settlement{}, fmt.Errorf("%w: %w", domain.ErrNotAssetOwner, err)
		}
		escrowedHere = true
	}

	var listingID *uint64
	if listed {
		listingID = ptr(listing.ID)
	}
	rec, err := e.settle(opCtx, sale{
		kind:      domain.SettlementOffer,
		listingID: listingID,
		offerID:   ptr(id),
		asset:     o.Asset,
		buyer:     o.Bidder,
		seller:    seller,
		payer:     e.escrow,
		price:     o.Amount,
		currency:  o.Currency,
		conflict:  domain.ErrOfferNotOpen,
	}, func(tx domain.Ledger) error {
		now := e.clock.Now()
		accepted := o
		accepted.Status = domain.OfferAccepted
		accepted.ClosedAt = ptr(now)
		if err := tx.Offers().Update(opCtx, accepted, domain.OfferOpen); err != nil {
			return err
		}
		if !listed {
			return nil
		}
		sold := listing.Clone()
		sold.Status = domain.ListingSold
		sold.Buyer = ptr(o.Bidder)
		sold.SoldPrice = o.Amount
		sold.UpdatedAt = now
		return tx.Listings().Update(opCtx, sold, domain.ListingActive)
	})
	if err != nil {
		if escrowedHere {
			e.compensate(opCtx, "return unlisted asset", e.custody.Release(opCtx, o.Asset, seller))
		}
		return domain.Settlement{}, err
	}

	e.logger.InfoContext(ctx, "offer accepted",
		slog.Uint64("offer_id", id),
		slog.String("seller", seller.Hex()),
		slog.String("bidder", o.Bidder.Hex()),
		slog.Int64("amount", o.Amount),
	)
	e.emit(ctx, domain.Event{
		Type:      domain.EventOfferAccepted,
		ListingID: listingID,
		OfferID:   ptr(id),
		Asset:     &rec.Asset,
		Actor:     caller,
		Buyer:     ptr(o.Bidder),
		Seller:    ptr(seller),
		Price:     o.Amount,
		Fee:       rec.Fee,
		Royalty:   rec.Royalty,
		Currency:  o.Currency,
		Data:      map[string]any{"settlement_id": rec.ID},
	})
	return rec, nil
}

// GetOffer returns one offer.
func (e *Engine) GetOffer(ctx context.Context, id uint64) (domain.Offer, error) {
	return e.getOffer(ctx, id)
}

// ListOffers returns offers on asset in insertion order. An empty status
// returns offers in every status.
func (e *Engine) ListOffers(ctx context.Context, asset domain.AssetRef, status domain.OfferStatus) ([]domain.Offer, error) {
	out, err := e.ledger.Offers().ListByAsset(ctx, asset, status)
	if err != nil {
		return nil, fmt.Errorf("market: list offers on %s: %w", asset.Key(), err)
	}
	return out, nil
}

// OffersByBidder returns offers placed by bidder, newest first.
func (e *Engine) OffersByBidder(ctx context.Context, bidder common.Address, opts domain.ListOpts) ([]domain.Offer, error) {
	out, err := e.ledger.Offers().ListByBidder(ctx, bidder, opts)
	if err != nil {
		return nil, fmt.Errorf("market: list offers of %s: %w", bidder.Hex(), err)
	}
	return out, nil
}

func (e *Engine) getOffer(ctx context.Context, id uint64) (domain.Offer, error) {
	o, err := e.ledger.Offers().Get(ctx, id)
	if err != nil {
		return domain.Offer{}, fmt.Errorf("market: get offer %d: %w", id, err)
	}
	return o, nil
}
