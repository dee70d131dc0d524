package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5"

	"github.com/alanyoungcy/nftmarket/internal/domain"
)

// OfferStore implements domain.OfferStore using PostgreSQL.
type OfferStore struct {
	db dbtx
}

const offerSelectCols = `id, contract, token_id, listing_id, bidder, amount,
	currency, status, created_at, closed_at`

func scanOffer(scanner interface{ Scan(dest ...any) error }) (domain.Offer, error) {
	var (
		o                domain.Offer
		id               int64
		listingID        *int64
		contract, bidder string
		currency, status string
	)
	err := scanner.Scan(
		&id, &contract, &o.Asset.TokenID, &listingID, &bidder, &o.Amount,
		&currency, &status, &o.CreatedAt, &o.ClosedAt,
	)
	if err != nil {
		return domain.Offer{}, err
	}
	o.ID = uint64(id)
	o.Asset.Contract = common.HexToAddress(contract)
	o.ListingID = parseUint64Ptr(listingID)
	o.Bidder = common.HexToAddress(bidder)
	o.Currency = domain.Currency(currency)
	o.Status = domain.OfferStatus(status)
	return o, nil
}

func scanOffers(rows pgx.Rows) ([]domain.Offer, error) {
	defer rows.Close()
	var out []domain.Offer
	for rows.Next() {
		o, err := scanOffer(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

// Create inserts an offer and returns its id.
func (s *OfferStore) Create(ctx context.Context, o domain.Offer) (uint64, error) {
	const query = `
		INSERT INTO offers (contract, token_id, listing_id, bidder, amount, currency, status, created_at, closed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id`

	var id int64
	err := s.db.QueryRow(ctx, query,
		addr(o.Asset.Contract), o.Asset.TokenID, uint64Ptr(o.ListingID), addr(o.Bidder),
		o.Amount, string(o.Currency), string(o.Status), utc(o.CreatedAt), o.ClosedAt,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("postgres: create offer: %w", err)
	}
	return uint64(id), nil
}

// Get retrieves an offer by id.
func (s *OfferStore) Get(ctx context.Context, id uint64) (domain.Offer, error) {
	row := s.db.QueryRow(ctx, `SELECT `+offerSelectCols+` FROM offers WHERE id = $1`, int64(id))
	o, err := scanOffer(row)
	if err != nil {
		if isNoRows(err) {
			return domain.Offer{}, domain.ErrNotFound
		}
		return domain.Offer{}, fmt.Errorf("postgres: get offer %d: %w", id, err)
	}
	return o, nil
}

// Update writes the status and close time of o when the stored status still
// equals expect.
func (s *OfferStore) Update(ctx context.Context, o domain.Offer, expect domain.OfferStatus) error {
	tag, err := s.db.Exec(ctx,
		`UPDATE offers SET status = $3, closed_at = $4 WHERE id = $1 AND status = $2`,
		int64(o.ID), string(expect), string(o.Status), o.ClosedAt)
	if err != nil {
		return fmt.Errorf("postgres: update offer %d: %w", o.ID, err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}
	if _, err := s.Get(ctx, o.ID); err != nil {
		return err
	}
	return fmt.Errorf("postgres: offer %d not %s: %w", o.ID, expect, domain.ErrConflict)
}

// ListByAsset returns offers on asset in insertion order; an empty status
// matches every status.
func (s *OfferStore) ListByAsset(ctx context.Context, asset domain.AssetRef, status domain.OfferStatus) ([]domain.Offer, error) {
	query := `SELECT ` + offerSelectCols + ` FROM offers WHERE contract = $1 AND token_id = $2`
	args := []any{addr(asset.Contract), asset.TokenID}
	if status != "" {
		query += ` AND status = $3`
		args = append(args, string(status))
	}
	query += ` ORDER BY id`
	return s.query(ctx, "list offers by asset", query, args...)
}

// ListByBidder returns a bidder's offers, newest first.
func (s *OfferStore) ListByBidder(ctx context.Context, bidder common.Address, opts domain.ListOpts) ([]domain.Offer, error) {
	query, args := listFilter(
		`SELECT `+offerSelectCols+` FROM offers WHERE bidder = $1`,
		[]any{addr(bidder)}, opts, "created_at", "id DESC")
	return s.query(ctx, "list offers by bidder", query, args...)
}

// ListClosedBefore returns accepted or withdrawn offers closed before t.
func (s *OfferStore) ListClosedBefore(ctx context.Context, before time.Time) ([]domain.Offer, error) {
	return s.query(ctx, "list closed offers",
		`SELECT `+offerSelectCols+` FROM offers
		 WHERE status <> 'open' AND closed_at < $1 ORDER BY id`, before)
}

func (s *OfferStore) query(ctx context.Context, op, query string, args ...any) ([]domain.Offer, error) {
	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: %s: %w", op, err)
	}
	out, err := scanOffers(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan %s: %w", op, err)
	}
	return out, nil
}
