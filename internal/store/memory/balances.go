package memory

import (
	"context"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/nftmarket/internal/domain"
)

// BalanceBook implements domain.PaymentGateway as per-currency account
// balances.
type BalanceBook struct {
	mu       sync.Mutex
	balances map[domain.Currency]map[common.Address]domain.Amount
}

// NewBalanceBook creates an empty balance book.
func NewBalanceBook() *BalanceBook {
	return &BalanceBook{balances: make(map[domain.Currency]map[common.Address]domain.Amount)}
}

// Credit adds amount to account, creating funds from nothing.
func (b *BalanceBook) Credit(account common.Address, currency domain.Currency, amount domain.Amount) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.ledger(currency.Normalize())[account] += amount
}

func (b *BalanceBook) Transfer(_ context.Context, from, to common.Address, amount domain.Amount, currency domain.Currency) error {
	if amount <= 0 || domain.IsZero(to) {
		return domain.ErrRejected
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	l := b.ledger(currency.Normalize())
	if l[from] < amount {
		return domain.ErrInsufficientFunds
	}
	l[from] -= amount
	l[to] += amount
	return nil
}

func (b *BalanceBook) Balance(_ context.Context, account common.Address, currency domain.Currency) (domain.Amount, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.balances[currency.Normalize()][account], nil
}

func (b *BalanceBook) ledger(c domain.Currency) map[common.Address]domain.Amount {
	l, ok := b.balances[c]
	if !ok {
		l = make(map[common.Address]domain.Amount)
		b.balances[c] = l
	}
	return l
}
