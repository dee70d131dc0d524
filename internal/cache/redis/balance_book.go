package redis

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/nftmarket/internal/domain"
)

//go:embed scripts/transfer.lua
var transferLua string

// BalanceBook implements domain.PaymentGateway as one Redis hash of account
// balances per currency. Transfers are atomic Lua scripts, so a payment
// either moves the full amount or nothing.
type BalanceBook struct {
	rdb      *redis.Client
	transfer *redis.Script
}

// NewBalanceBook creates a BalanceBook backed by the given Client.
func NewBalanceBook(c *Client) *BalanceBook {
	return &BalanceBook{
		rdb:      c.Underlying(),
		transfer: redis.NewScript(transferLua),
	}
}

func balanceKey(c domain.Currency) string {
	c = c.Normalize()
	if c.IsNative() {
		return "market:balance:native"
	}
	return "market:balance:" + string(c)
}

// Credit adds amount to account. It is the deposit path used by operators
// and tests.
func (b *BalanceBook) Credit(ctx context.Context, account common.Address, currency domain.Currency, amount domain.Amount) error {
	if amount <= 0 {
		return domain.ErrRejected
	}
	if err := b.rdb.HIncrBy(ctx, balanceKey(currency), account.Hex(), amount).Err(); err != nil {
		return fmt.Errorf("redis: credit %s: %w", account.Hex(), err)
	}
	return nil
}

func (b *BalanceBook) Transfer(ctx context.Context, from, to common.Address, amount domain.Amount, currency domain.Currency) error {
	if amount <= 0 || domain.IsZero(to) {
		return domain.ErrRejected
	}
	ok, err := b.transfer.Run(ctx, b.rdb, []string{balanceKey(currency)},
		from.Hex(), to.Hex(), strconv.FormatInt(amount, 10)).Int()
	if err != nil {
		return fmt.Errorf("redis: transfer %s -> %s: %w", from.Hex(), to.Hex(), err)
	}
	if ok != 1 {
		return domain.ErrInsufficientFunds
	}
	return nil
}

func (b *BalanceBook) Balance(ctx context.Context, account common.Address, currency domain.Currency) (domain.Amount, error) {
	n, err := b.rdb.HGet(ctx, balanceKey(currency), account.Hex()).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, fmt.Errorf("redis: balance of %s: %w", account.Hex(), err)
	}
	return n, nil
}

// Compile-time interface check.
var _ domain.PaymentGateway = (*BalanceBook)(nil)
