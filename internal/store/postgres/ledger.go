package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/nftmarket/internal/domain"
)

// Ledger implements domain.Ledger. Stores obtained from a Ledger returned by
// InTx run inside that transaction.
type Ledger struct {
	pool *pgxpool.Pool
	db   dbtx
}

// NewLedger creates a Ledger backed by the given connection pool.
func NewLedger(pool *pgxpool.Pool) *Ledger {
	return &Ledger{pool: pool, db: pool}
}

func (l *Ledger) Listings() domain.ListingStore       { return &ListingStore{db: l.db} }
func (l *Ledger) Offers() domain.OfferStore           { return &OfferStore{db: l.db} }
func (l *Ledger) Roles() domain.RoleStore             { return &RoleStore{db: l.db} }
func (l *Ledger) Config() domain.ConfigStore          { return &ConfigStore{db: l.db} }
func (l *Ledger) Royalties() domain.RoyaltyStore      { return &RoyaltyStore{db: l.db} }
func (l *Ledger) Settlements() domain.SettlementStore { return &SettlementStore{db: l.db} }

// InTx runs fn in one transaction, committing when fn returns nil. A Ledger
// already bound to a transaction runs fn in it directly.
func (l *Ledger) InTx(ctx context.Context, fn func(tx domain.Ledger) error) error {
	if l.pool == nil {
		return fn(l)
	}
	return pgx.BeginFunc(ctx, l.pool, func(tx pgx.Tx) error {
		return fn(&Ledger{db: tx})
	})
}

const uniqueViolation = "23505"

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

func isNoRows(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}

// addr stores addresses in checksummed hex so equality filters match.
func addr(a common.Address) string { return a.Hex() }

func addrPtr(a *common.Address) *string {
	if a == nil {
		return nil
	}
	s := a.Hex()
	return &s
}

func parseAddrPtr(s *string) *common.Address {
	if s == nil || *s == "" {
		return nil
	}
	a := common.HexToAddress(*s)
	return &a
}

func uint64Ptr(v *uint64) *int64 {
	if v == nil {
		return nil
	}
	n := int64(*v)
	return &n
}

func parseUint64Ptr(v *int64) *uint64 {
	if v == nil {
		return nil
	}
	n := uint64(*v)
	return &n
}

// listFilter appends the time window and pagination of opts to query. col is
// the timestamp column the window applies to; order is the ORDER BY clause.
func listFilter(query string, args []any, opts domain.ListOpts, col, order string) (string, []any) {
	var b strings.Builder
	b.WriteString(query)
	idx := len(args) + 1
	if opts.Since != nil {
		fmt.Fprintf(&b, " AND %s >= $%d", col, idx)
		args = append(args, *opts.Since)
		idx++
	}
	if opts.Until != nil {
		fmt.Fprintf(&b, " AND %s <= $%d", col, idx)
		args = append(args, *opts.Until)
		idx++
	}
	b.WriteString(" ORDER BY " + order)
	if opts.Limit > 0 {
		fmt.Fprintf(&b, " LIMIT $%d", idx)
		args = append(args, opts.Limit)
		idx++
	}
	if opts.Offset > 0 {
		fmt.Fprintf(&b, " OFFSET $%d", idx)
		args = append(args, opts.Offset)
	}
	return b.String(), args
}

func utc(t time.Time) time.Time { return t.UTC() }
