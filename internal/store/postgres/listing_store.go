package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5"

	"github.com/alanyoungcy/nftmarket/internal/domain"
)

// ListingStore implements domain.ListingStore using PostgreSQL.
type ListingStore struct {
	db dbtx
}

const listingSelectCols = `id, seller, contract, token_id, price, currency,
	is_auction, auction_end, min_bid, highest_bidder, highest_bid, auction_escrow,
	status, buyer, sold_price, created_at, updated_at`

func scanListing(scanner interface{ Scan(dest ...any) error }) (domain.Listing, error) {
	var (
		l                    domain.Listing
		id                   int64
		seller, contract     string
		currency, status     string
		highestBidder, buyer *string
		escrowRaw            []byte
	)
	err := scanner.Scan(
		&id, &seller, &contract, &l.Asset.TokenID, &l.Price, &currency,
		&l.IsAuction, &l.AuctionEnd, &l.MinBid, &highestBidder, &l.Auction.HighestBid, &escrowRaw,
		&status, &buyer, &l.SoldPrice, &l.CreatedAt, &l.UpdatedAt,
	)
	if err != nil {
		return domain.Listing{}, err
	}
	l.ID = uint64(id)
	l.Seller = common.HexToAddress(seller)
	l.Asset.Contract = common.HexToAddress(contract)
	l.Currency = domain.Currency(currency)
	l.Status = domain.ListingStatus(status)
	l.Auction.HighestBidder = parseAddrPtr(highestBidder)
	l.Buyer = parseAddrPtr(buyer)
	if len(escrowRaw) > 0 {
		if err := json.Unmarshal(escrowRaw, &l.Auction.Escrow); err != nil {
			return domain.Listing{}, fmt.Errorf("unmarshal auction escrow: %w", err)
		}
		if len(l.Auction.Escrow) == 0 {
			l.Auction.Escrow = nil
		}
	}
	return l, nil
}

func scanListings(rows pgx.Rows) ([]domain.Listing, error) {
	defer rows.Close()
	var out []domain.Listing
	for rows.Next() {
		l, err := scanListing(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

func escrowJSON(a domain.AuctionState) ([]byte, error) {
	if a.Escrow == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(a.Escrow)
}

// Create inserts a listing and returns its id.
func (s *ListingStore) Create(ctx context.Context, l domain.Listing) (uint64, error) {
	escrow, err := escrowJSON(l.Auction)
	if err != nil {
		return 0, fmt.Errorf("postgres: marshal auction escrow: %w", err)
	}

	const query = `
		INSERT INTO listings (
			seller, contract, token_id, price, currency,
			is_auction, auction_end, min_bid, highest_bidder, highest_bid, auction_escrow,
			status, buyer, sold_price, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5,
			$6, $7, $8, $9, $10, $11,
			$12, $13, $14, $15, $16
		) RETURNING id`

	var id int64
	err = s.db.QueryRow(ctx, query,
		addr(l.Seller), addr(l.Asset.Contract), l.Asset.TokenID, l.Price, string(l.Currency),
		l.IsAuction, l.AuctionEnd, l.MinBid, addrPtr(l.Auction.HighestBidder), l.Auction.HighestBid, escrow,
		string(l.Status), addrPtr(l.Buyer), l.SoldPrice, utc(l.CreatedAt), utc(l.UpdatedAt),
	).Scan(&id)
	if err != nil {
		if isUniqueViolation(err) {
			return 0, fmt.Errorf("postgres: create listing for %s: %w", l.Asset.Key(), domain.ErrConflict)
		}
		return 0, fmt.Errorf("postgres: create listing: %w", err)
	}
	return uint64(id), nil
}

// Get retrieves a listing by id.
func (s *ListingStore) Get(ctx context.Context, id uint64) (domain.Listing, error) {
	row := s.db.QueryRow(ctx, `SELECT `+listingSelectCols+` FROM listings WHERE id = $1`, int64(id))
	l, err := scanListing(row)
	if err != nil {
		if isNoRows(err) {
			return domain.Listing{}, domain.ErrNotFound
		}
		return domain.Listing{}, fmt.Errorf("postgres: get listing %d: %w", id, err)
	}
	return l, nil
}

// Update overwrites the mutable columns of l when the stored status still
// equals expect.
func (s *ListingStore) Update(ctx context.Context, l domain.Listing, expect domain.ListingStatus) error {
	escrow, err := escrowJSON(l.Auction)
	if err != nil {
		return fmt.Errorf("postgres: marshal auction escrow: %w", err)
	}

	const query = `
		UPDATE listings SET
			highest_bidder = $3,
			highest_bid    = $4,
			auction_escrow = $5,
			status         = $6,
			buyer          = $7,
			sold_price     = $8,
			updated_at     = $9
		WHERE id = $1 AND status = $2`

	tag, err := s.db.Exec(ctx, query,
		int64(l.ID), string(expect),
		addrPtr(l.Auction.HighestBidder), l.Auction.HighestBid, escrow,
		string(l.Status), addrPtr(l.Buyer), l.SoldPrice, utc(l.UpdatedAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("postgres: update listing %d: %w", l.ID, domain.ErrConflict)
		}
		return fmt.Errorf("postgres: update listing %d: %w", l.ID, err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}
	if _, err := s.Get(ctx, l.ID); err != nil {
		return err
	}
	return fmt.Errorf("postgres: listing %d not %s: %w", l.ID, expect, domain.ErrConflict)
}

// ActiveByAsset returns the active listing of asset, if any.
func (s *ListingStore) ActiveByAsset(ctx context.Context, asset domain.AssetRef) (domain.Listing, error) {
	row := s.db.QueryRow(ctx,
		`SELECT `+listingSelectCols+` FROM listings
		 WHERE contract = $1 AND token_id = $2 AND status = 'active'`,
		addr(asset.Contract), asset.TokenID)
	l, err := scanListing(row)
	if err != nil {
		if isNoRows(err) {
			return domain.Listing{}, domain.ErrNotFound
		}
		return domain.Listing{}, fmt.Errorf("postgres: active listing for %s: %w", asset.Key(), err)
	}
	return l, nil
}

// ListActive returns active listings in id order.
func (s *ListingStore) ListActive(ctx context.Context, opts domain.ListOpts) ([]domain.Listing, error) {
	query, args := listFilter(
		`SELECT `+listingSelectCols+` FROM listings WHERE status = 'active'`,
		nil, opts, "created_at", "id ASC")
	return s.query(ctx, "list active listings", query, args...)
}

// ListBySeller returns a seller's listings, newest first.
func (s *ListingStore) ListBySeller(ctx context.Context, seller common.Address, opts domain.ListOpts) ([]domain.Listing, error) {
	query, args := listFilter(
		`SELECT `+listingSelectCols+` FROM listings WHERE seller = $1`,
		[]any{addr(seller)}, opts, "created_at", "id DESC")
	return s.query(ctx, "list listings by seller", query, args...)
}

// ListClosedBefore returns sold or cancelled listings last updated before t.
func (s *ListingStore) ListClosedBefore(ctx context.Context, before time.Time) ([]domain.Listing, error) {
	return s.query(ctx, "list closed listings",
		`SELECT `+listingSelectCols+` FROM listings
		 WHERE status <> 'active' AND updated_at < $1 ORDER BY id`, before)
}

func (s *ListingStore) query(ctx context.Context, op, query string, args ...any) ([]domain.Listing, error) {
	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: %s: %w", op, err)
	}
	out, err := scanListings(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan %s: %w", op, err)
	}
	return out, nil
}
