package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5"

	"github.com/alanyoungcy/nftmarket/internal/domain"
)

// SettlementStore implements domain.SettlementStore using PostgreSQL.
type SettlementStore struct {
	db dbtx
}

const settlementSelectCols = `id, kind, listing_id, offer_id, contract, token_id,
	buyer, seller, price, fee, royalty, fee_recipient, royalty_recipient,
	currency, settled_at`

func scanSettlement(scanner interface{ Scan(dest ...any) error }) (domain.Settlement, error) {
	var (
		s                  domain.Settlement
		kind, contract     string
		buyer, seller      string
		feeTo, royaltyTo   string
		currency           string
		listingID, offerID *int64
	)
	err := scanner.Scan(
		&s.ID, &kind, &listingID, &offerID, &contract, &s.Asset.TokenID,
		&buyer, &seller, &s.Price, &s.Fee, &s.Royalty, &feeTo, &royaltyTo,
		&currency, &s.SettledAt,
	)
	if err != nil {
		return domain.Settlement{}, err
	}
	s.Kind = domain.SettlementKind(kind)
	s.ListingID = parseUint64Ptr(listingID)
	s.OfferID = parseUint64Ptr(offerID)
	s.Asset.Contract = common.HexToAddress(contract)
	s.Buyer = common.HexToAddress(buyer)
	s.Seller = common.HexToAddress(seller)
	s.FeeRecipient = common.HexToAddress(feeTo)
	s.RoyaltyRecipient = common.HexToAddress(royaltyTo)
	s.Currency = domain.Currency(currency)
	return s, nil
}

func scanSettlements(rows pgx.Rows) ([]domain.Settlement, error) {
	defer rows.Close()
	var out []domain.Settlement
	for rows.Next() {
		s, err := scanSettlement(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// Insert records a settlement. A duplicate id is reported as ErrConflict.
func (st *SettlementStore) Insert(ctx context.Context, s domain.Settlement) error {
	const query = `
		INSERT INTO settlements (id, kind, listing_id, offer_id, contract, token_id,
			buyer, seller, price, fee, royalty, fee_recipient, royalty_recipient,
			currency, settled_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`

	_, err := st.db.Exec(ctx, query,
		s.ID, string(s.Kind), uint64Ptr(s.ListingID), uint64Ptr(s.OfferID),
		addr(s.Asset.Contract), s.Asset.TokenID, addr(s.Buyer), addr(s.Seller),
		s.Price, s.Fee, s.Royalty, addr(s.FeeRecipient), addr(s.RoyaltyRecipient),
		string(s.Currency), utc(s.SettledAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("postgres: settlement %s exists: %w", s.ID, domain.ErrConflict)
		}
		return fmt.Errorf("postgres: insert settlement %s: %w", s.ID, err)
	}
	return nil
}

func (st *SettlementStore) Get(ctx context.Context, id string) (domain.Settlement, error) {
	row := st.db.QueryRow(ctx, `SELECT `+settlementSelectCols+` FROM settlements WHERE id::text = $1`, id)
	s, err := scanSettlement(row)
	if err != nil {
		if isNoRows(err) {
			return domain.Settlement{}, domain.ErrNotFound
		}
		return domain.Settlement{}, fmt.Errorf("postgres: get settlement %s: %w", id, err)
	}
	return s, nil
}

// ListRecent returns settlements newest first.
func (st *SettlementStore) ListRecent(ctx context.Context, opts domain.ListOpts) ([]domain.Settlement, error) {
	query, args := listFilter(`SELECT `+settlementSelectCols+` FROM settlements WHERE TRUE`,
		nil, opts, "settled_at", "settled_at DESC, id")
	return st.query(ctx, "list settlements", query, args...)
}

// ListBefore returns settlements recorded before t, oldest first.
func (st *SettlementStore) ListBefore(ctx context.Context, before time.Time) ([]domain.Settlement, error) {
	return st.query(ctx, "list settlements before",
		`SELECT `+settlementSelectCols+` FROM settlements WHERE settled_at < $1 ORDER BY settled_at, id`, before)
}

func (st *SettlementStore) query(ctx context.Context, op, query string, args ...any) ([]domain.Settlement, error) {
	rows, err := st.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: %s: %w", op, err)
	}
	out, err := scanSettlements(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan %s: %w", op, err)
	}
	return out, nil
}
