package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/nftmarket/internal/domain"
)

// AuctionEnder is the slice of the engine the sweeper drives.
type AuctionEnder interface {
	ListActiveListings(ctx context.Context, opts domain.ListOpts) ([]domain.Listing, error)
	EndAuction(ctx context.Context, id uint64, caller common.Address) (*domain.Settlement, error)
}

// sweepPage is the listing page size per query.
const sweepPage = 200

// AuctionSweeper finalizes auctions whose deadline has passed so winners do
// not wait for someone to call endAuction. Expiry is still enforced lazily by
// the engine; the sweeper only saves a round trip.
type AuctionSweeper struct {
	engine   AuctionEnder
	caller   common.Address
	interval time.Duration
	now      func() time.Time
	logger   *slog.Logger
}

// NewAuctionSweeper creates a sweeper that ends auctions as caller every
// interval.
func NewAuctionSweeper(engine AuctionEnder, caller common.Address, interval time.Duration, logger *slog.Logger) *AuctionSweeper {
	if interval <= 0 {
		interval = time.Minute
	}
	return &AuctionSweeper{
		engine:   engine,
		caller:   caller,
		interval: interval,
		now:      func() time.Time { return time.Now().UTC() },
		logger:   logger.With(slog.String("component", "auction_sweeper")),
	}
}

// Run sweeps on every tick until ctx is cancelled. Call in a goroutine.
func (s *AuctionSweeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if _, err := s.Sweep(ctx); err != nil {
				s.logger.ErrorContext(ctx, "auction sweep failed", slog.String("error", err.Error()))
			}
		}
	}
}

// Sweep ends every expired auction and returns how many it finalized. A
// failure on one listing is logged and does not stop the sweep.
func (s *AuctionSweeper) Sweep(ctx context.Context) (int, error) {
	now := s.now()
	var expired []uint64
	for offset := 0; ; offset += sweepPage {
		page, err := s.engine.ListActiveListings(ctx, domain.ListOpts{Limit: sweepPage, Offset: offset})
		if err != nil {
			return 0, err
		}
		for _, l := range page {
			if l.Expired(now) {
				expired = append(expired, l.ID)
			}
		}
		if len(page) < sweepPage {
			break
		}
	}

	ended := 0
	for _, id := range expired {
		rec, err := s.engine.EndAuction(ctx, id, s.caller)
		switch {
		case err == nil:
			ended++
			attrs := []any{slog.Uint64("listing_id", id), slog.Bool("sold", rec != nil)}
			if rec != nil {
				attrs = append(attrs, slog.String("settlement_id", rec.ID))
			}
			s.logger.InfoContext(ctx, "expired auction ended", attrs...)
		case errors.Is(err, domain.ErrAuctionNotActive), errors.Is(err, domain.ErrMarketplacePaused):
			// Ended concurrently, or the market is stopped.
		default:
			s.logger.WarnContext(ctx, "end expired auction failed",
				slog.Uint64("listing_id", id),
				slog.String("error", err.Error()),
			)
		}
	}
	return ended, nil
}
