package market

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/nftmarket/internal/domain"
)

// CreateListing escrows the asset and opens a fixed-price or auction listing.
func (e *Engine) CreateListing(ctx context.Context, seller common.Address, req domain.ListingRequest) (uint64, error) {
	cfg, err := e.config(ctx)
	if err != nil {
		return 0, err
	}
	if cfg.Paused {
		return 0, domain.ErrMarketplacePaused
	}
	if domain.IsZero(seller) {
		return 0, domain.ErrInvalidAddress
	}
	if err := req.Asset.Validate(); err != nil {
		return 0, err
	}
	if req.Price <= 0 {
		return 0, domain.ErrInvalidPrice
	}
	if req.MinBid < 0 {
		return 0, domain.ErrInvalidAmount
	}
	if req.IsAuction && (req.Duration <= 0 || req.Duration > e.maxAuction) {
		return 0, domain.ErrInvalidDuration
	}
	currency := req.Currency.Normalize()
	if !cfg.Accepts(currency) {
		return 0, domain.ErrUnsupportedCurrency
	}

	opCtx, release, err := e.acquire(ctx, assetKey(req.Asset))
	if err != nil {
		return 0, err
	}
	defer release()

	if _, err := e.ledger.Listings().ActiveByAsset(opCtx, req.Asset); err == nil {
		return 0, domain.ErrAssetAlreadyListed
	} else if !errors.Is(err, domain.ErrNotFound) {
		return 0, fmt.Errorf("market: active listing lookup: %w", err)
	}

	if _, err := e.custody.Escrow(opCtx, req.Asset, seller); err != nil {
		switch {
		case errors.Is(err, domain.ErrNotOwner):
			return 0, fmt.Errorf("%w: %w", domain.ErrNotAssetOwner, err)
		case errors.Is(err, domain.ErrAlreadyEscrowed):
			return 0, fmt.Errorf("%w: %w", domain.ErrAssetAlreadyListed, err)
		default:
			return 0, fmt.Errorf("%w: %w", domain.ErrAssetTransferFailed, err)
		}
	}

	now := e.clock.Now()
	l := domain.Listing{
		Seller:    seller,
		Asset:     req.Asset,
		Price:     req.Price,
		Currency:  currency,
		IsAuction: req.IsAuction,
		Status:    domain.ListingActive,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if req.IsAuction {
		l.AuctionEnd = ptr(now.Add(req.Duration))
		l.MinBid = req.MinBid
	}

	id, err := e.ledger.Listings().Create(opCtx, l)
	if err != nil {
		e.compensate(opCtx, "release asset after failed listing", e.custody.Release(opCtx, req.Asset, seller))
		return 0, fmt.Errorf("market: create listing: %w", err)
	}
	l.ID = id

	e.logger.InfoContext(ctx, "listing created",
		slog.Uint64("listing_id", id),
		slog.String("asset", l.Asset.Key()),
		slog.String("seller", seller.Hex()),
		slog.Int64("price", l.Price),
		slog.Bool("auction", l.IsAuction),
	)
	data := map[string]any{"is_auction": l.IsAuction}
	if l.IsAuction {
		data["auction_end"] = *l.AuctionEnd
		data["min_bid"] = l.MinBid
	}
	e.emit(ctx, domain.Event{
		Type:      domain.EventListed,
		ListingID: ptr(id),
		Asset:     &l.Asset,
		Actor:     seller,
		Seller:    &l.Seller,
		Price:     l.Price,
		Currency:  l.Currency,
		Data:      data,
	})
	return id, nil
}

// CancelListing withdraws an active listing and returns the asset to the
// seller. The seller or an Admin, Team or Moderator may cancel; an auction
// that already has a bid can only be cancelled by Admin or Team, and the
// highest bidder is refunded.
func (e *Engine) CancelListing(ctx context.Context, id uint64, caller common.Address) error {
	privileged, err := e.hasAnyRole(ctx, caller, domain.RoleAdmin, domain.RoleTeam)
	if err != nil {
		return err
	}
	if err := e.pauseGate(ctx, privileged); err != nil {
		return err
	}

	opCtx, release, err := e.acquire(ctx, listingKey(id))
	if err != nil {
		return err
	}
	defer release()

	l, err := e.getListing(opCtx, id)
	if err != nil {
		return err
	}
	if caller != l.Seller && !privileged {
		mod, err := e.hasRole(opCtx, domain.RoleModerator, caller)
		if err != nil {
			return err
		}
		if !mod {
			return domain.ErrNotSeller
		}
	}
	if l.Status != domain.ListingActive {
		return domain.ErrAlreadySettled
	}
	if l.Auction.HasBids() && !privileged {
		return domain.ErrAuctionHasBids
	}

	if err := e.custody.Release(opCtx, l.Asset, l.Seller); err != nil {
		return fmt.Errorf("%w: %w", domain.ErrAssetTransferFailed, err)
	}

	var refunded *common.Address
	var refundAmt domain.Amount
	if l.Auction.HasBids() {
		bidder := *l.Auction.HighestBidder
		refundAmt = l.Auction.Escrow[bidder]
		if err := e.refund(opCtx, bidder, refundAmt, l.Currency); err != nil {
			e.reescrow(opCtx, l.Asset, l.Seller)
			return err
		}
		refunded = &bidder
	}

	next := l.Clone()
	next.Status = domain.ListingCancelled
	next.Auction.Escrow = nil
	next.UpdatedAt = e.clock.Now()
	if err := e.ledger.Listings().Update(opCtx, next, domain.ListingActive); err != nil {
		if refunded != nil {
			e.compensate(opCtx, "recollect refunded bid", e.collect(opCtx, *refunded, refundAmt, l.Currency))
		}
		e.reescrow(opCtx, l.Asset, l.Seller)
		return storeErr("cancel listing", err, domain.ErrAlreadySettled)
	}

	e.logger.InfoContext(ctx, "listing cancelled",
		slog.Uint64("listing_id", id),
		slog.String("caller", caller.Hex()),
	)
	data := map[string]any{}
	if refunded != nil {
		data["refunded"] = refunded.Hex()
		data["refund"] = refundAmt
	}
	e.emit(ctx, domain.Event{
		Type:      domain.EventCancelled,
		ListingID: ptr(id),
		Asset:     &next.Asset,
		Actor:     caller,
		Seller:    &next.Seller,
		Data:      data,
	})
	return nil
}

// BuyFixedPrice purchases an active fixed-price listing at its price.
func (e *Engine) BuyFixedPrice(ctx context.Context, id uint64, buyer common.Address) (domain.Settlement, error) {
	if err := e.ensureNotPaused(ctx); err != nil {
		return domain.Settlement{}, err
	}
	if domain.IsZero(buyer) {
		return domain.Settlement{}, domain.ErrInvalidAddress
	}

	opCtx, release, err := e.acquire(ctx, listingKey(id))
	if err != nil {
		return domain.Settlement{}, err
	}
	defer release()

	l, err := e.getListing(opCtx, id)
	if err != nil {
		return domain.Settlement{}, err
	}
	if l.Status != domain.ListingActive {
		return domain.Settlement{}, domain.ErrAlreadySettled
	}
	if l.IsAuction {
		return domain.Settlement{}, domain.ErrNotFixedPrice
	}
	if buyer == l.Seller {
		return domain.Settlement{}, domain.ErrSelfTrade
	}

	return e.settle(opCtx, sale{
		kind:      domain.SettlementFixedPrice,
		listingID: ptr(id),
		asset:     l.Asset,
		buyer:     buyer,
		seller:    l.Seller,
		payer:     buyer,
		price:     l.Price,
		currency:  l.Currency,
		conflict:  domain.ErrAlreadySettled,
	}, func(tx domain.Ledger) error {
		next := l.Clone()
		next.Status = domain.ListingSold
		next.Buyer = ptr(buyer)
		next.SoldPrice = l.Price
		next.UpdatedAt = e.clock.Now()
		return tx.Listings().Update(opCtx, next, domain.ListingActive)
	})
}

// GetListing returns one listing.
func (e *Engine) GetListing(ctx context.Context, id uint64) (domain.Listing, error) {
	return e.getListing(ctx, id)
}

// ListActiveListings returns active listings in id order.
func (e *Engine) ListActiveListings(ctx context.Context, opts domain.ListOpts) ([]domain.Listing, error) {
	out, err := e.ledger.Listings().ListActive(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("market: list active listings: %w", err)
	}
	return out, nil
}

// ListingsBySeller returns every listing a seller has created, newest first.
func (e *Engine) ListingsBySeller(ctx context.Context, seller common.Address, opts domain.ListOpts) ([]domain.Listing, error) {
	out, err := e.ledger.Listings().ListBySeller(ctx, seller, opts)
	if err != nil {
		return nil, fmt.Errorf("market: list listings of %s: %w", seller.Hex(), err)
	}
	return out, nil
}

func (e *Engine) getListing(ctx context.Context, id uint64) (domain.Listing, error) {
	l, err := e.ledger.Listings().Get(ctx, id)
	if err != nil {
		return domain.Listing{}, fmt.Errorf("market: get listing %d: %w", id, err)
	}
	return l, nil
}

// hasAnyRole is RequireAnyRole without the authorization error.
func (e *Engine) hasAnyRole(ctx context.Context, account common.Address, roles ...domain.Role) (bool, error) {
	err := e.RequireAnyRole(ctx, account, roles...)
	if errors.Is(err, domain.ErrUnauthorized) {
		return false, nil
	}
	return err == nil, err
}

// pauseGate fails with ErrMarketplacePaused while paused unless exempt.
func (e *Engine) pauseGate(ctx context.Context, exempt bool) error {
	if exempt {
		return nil
	}
	return e.ensureNotPaused(ctx)
}

// reescrow puts an asset that was released to owner back into escrow.
func (e *Engine) reescrow(ctx context.Context, asset domain.AssetRef, owner common.Address) {
	_, err := e.custody.Escrow(ctx, asset, owner)
	e.compensate(ctx, "re-escrow "+asset.Key(), err)
}
