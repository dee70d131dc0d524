package market

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/nftmarket/internal/domain"
)

// PlaceBid escrows amount from bidder as the new highest bid and refunds the
// displaced bidder in full. Bids must strictly exceed max(highest, minBid).
func (e *Engine) PlaceBid(ctx context.Context, id uint64, bidder common.Address, amount domain.Amount) error {
	if err := e.ensureNotPaused(ctx); err != nil {
		return err
	}
	if domain.IsZero(bidder) {
		return domain.ErrInvalidAddress
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
	if !l.IsAuction || l.Status != domain.ListingActive || l.Expired(e.clock.Now()) {
		return domain.ErrAuctionNotActive
	}
	if bidder == l.Seller {
		return domain.ErrSelfTrade
	}
	if amount <= l.BidFloor() {
		return domain.ErrBidTooLow
	}

	if err := e.collect(opCtx, bidder, amount, l.Currency); err != nil {
		return err
	}

	prev := l.Auction.HighestBidder
	var prevAmt domain.Amount
	if prev != nil {
		prevAmt = l.Auction.Escrow[*prev]
		if err := e.refund(opCtx, *prev, prevAmt, l.Currency); err != nil {
			e.compensate(opCtx, "return new bid", e.refund(opCtx, bidder, amount, l.Currency))
			return err
		}
	}

	next := l.Clone()
	if prev != nil {
		delete(next.Auction.Escrow, *prev)
	}
	if next.Auction.Escrow == nil {
		next.Auction.Escrow = make(map[common.Address]domain.Amount, 1)
	}
	next.Auction.Escrow[bidder] = amount
	next.Auction.HighestBidder = ptr(bidder)
	next.Auction.HighestBid = amount
	next.UpdatedAt = e.clock.Now()

	if err := e.ledger.Listings().Update(opCtx, next, domain.ListingActive); err != nil {
		if prev != nil {
			e.compensate(opCtx, "recollect displaced bid", e.collect(opCtx, *prev, prevAmt, l.Currency))
		}
		e.compensate(opCtx, "return new bid", e.refund(opCtx, bidder, amount, l.Currency))
		return storeErr("place bid", err, domain.ErrAuctionNotActive)
	}

	attrs := []any{
		slog.Uint64("listing_id", id),
		slog.String("bidder", bidder.Hex()),
		slog.Int64("amount", amount),
	}
	data := map[string]any{}
	if prev != nil {
		attrs = append(attrs, slog.String("refunded", prev.Hex()), slog.Int64("refund", prevAmt))
		data["refunded"] = prev.Hex()
		data["refund"] = prevAmt
	}
	e.logger.InfoContext(ctx, "bid placed", attrs...)
	e.emit(ctx, domain.Event{
		Type:      domain.EventBidPlaced,
		ListingID: ptr(id),
		Asset:     &next.Asset,
		Actor:     bidder,
		Buyer:     ptr(bidder),
		Price:     amount,
		Currency:  next.Currency,
		Data:      data,
	})
	return nil
}

// EndAuction finalizes an auction once its deadline has passed. Anyone may
// call it then; Admin or Team may end it early while the marketplace is
// paused. With a winner the sale settles at the highest bid and the
// settlement is returned; without bids the listing is cancelled, the asset
// goes back to the seller and the returned settlement is nil.
func (e *Engine) EndAuction(ctx context.Context, id uint64, caller common.Address) (*domain.Settlement, error) {
	cfg, err := e.config(ctx)
	if err != nil {
		return nil, err
	}
	emergency := false
	if cfg.Paused {
		ok, err := e.hasAnyRole(ctx, caller, domain.RoleAdmin, domain.RoleTeam)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, domain.ErrMarketplacePaused
		}
		emergency = true
	}

	opCtx, release, err := e.acquire(ctx, listingKey(id))
	if err != nil {
		return nil, err
	}
	defer release()

	l, err := e.getListing(opCtx, id)
	if err != nil {
		return nil, err
	}
	if !l.IsAuction {
		return nil, domain.ErrAuctionNotActive
	}
	if l.Status != domain.ListingActive {
		return nil, fmt.Errorf("%w: %w", domain.ErrAuctionNotActive, domain.ErrAlreadySettled)
	}
	if !l.Expired(e.clock.Now()) && !emergency {
		return nil, domain.ErrAuctionStillActive
	}

	if !l.Auction.HasBids() {
		return nil, e.closeUnsold(opCtx, l, caller)
	}

	winner := *l.Auction.HighestBidder
	price := l.Auction.HighestBid
	rec, err := e.settle(opCtx, sale{
		kind:      domain.SettlementAuction,
		listingID: ptr(id),
		asset:     l.Asset,
		buyer:     winner,
		seller:    l.Seller,
		payer:     e.escrow,
		price:     price,
		currency:  l.Currency,
		conflict:  domain.ErrAlreadySettled,
	}, func(tx domain.Ledger) error {
		next := l.Clone()
		next.Status = domain.ListingSold
		next.Buyer = ptr(winner)
		next.SoldPrice = price
		next.Auction.Escrow = nil
		next.UpdatedAt = e.clock.Now()
		return tx.Listings().Update(opCtx, next, domain.ListingActive)
	})
	if err != nil {
		return nil, err
	}

	e.logger.InfoContext(ctx, "auction ended",
		slog.Uint64("listing_id", id),
		slog.String("winner", winner.Hex()),
		slog.Int64("price", price),
		slog.Bool("early", emergency && !l.Expired(e.clock.Now())),
	)
	e.emit(ctx, domain.Event{
		Type:      domain.EventAuctionEnded,
		ListingID: ptr(id),
		Asset:     &rec.Asset,
		Actor:     caller,
		Buyer:     ptr(winner),
		Seller:    ptr(l.Seller),
		Price:     price,
		Fee:       rec.Fee,
		Royalty:   rec.Royalty,
		Currency:  rec.Currency,
		Data:      map[string]any{"settlement_id": rec.ID},
	})
	return &rec, nil
}

// closeUnsold cancels an auction that ended without bids.
func (e *Engine) closeUnsold(ctx context.Context, l domain.Listing, caller common.Address) error {
	if err := e.custody.Release(ctx, l.Asset, l.Seller); err != nil {
		return fmt.Errorf("%w: %w", domain.ErrAssetTransferFailed, err)
	}
	next := l.Clone()
	next.Status = domain.ListingCancelled
	next.UpdatedAt = e.clock.Now()
	if err := e.ledger.Listings().Update(ctx, next, domain.ListingActive); err != nil {
		e.reescrow(ctx, l.Asset, l.Seller)
		return storeErr("close auction", err, domain.ErrAlreadySettled)
	}

	e.logger.InfoContext(ctx, "auction ended without bids", slog.Uint64("listing_id", l.ID))
	e.emit(ctx, domain.Event{
		Type:      domain.EventAuctionEnded,
		ListingID: ptr(l.ID),
		Asset:     &next.Asset,
		Actor:     caller,
		Seller:    ptr(l.Seller),
		Currency:  l.Currency,
		Data:      map[string]any{"winner": nil},
	})
	return nil
}
