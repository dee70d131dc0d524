package redis

import (
	"context"
	_ "embed"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/nftmarket/internal/domain"
)

var (
	//go:embed scripts/escrow.lua
	escrowLua string
	//go:embed scripts/release.lua
	releaseLua string
)

// CustodyBook implements domain.AssetCustody as one Redis hash per asset
// holding its owner and escrow flag. Escrow and release are Lua scripts so
// the owner check and the state change happen atomically.
type CustodyBook struct {
	rdb     *redis.Client
	escrow  *redis.Script
	release *redis.Script
	now     func() time.Time
}

// NewCustodyBook creates a CustodyBook backed by the given Client.
func NewCustodyBook(c *Client) *CustodyBook {
	return &CustodyBook{
		rdb:     c.Underlying(),
		escrow:  redis.NewScript(escrowLua),
		release: redis.NewScript(releaseLua),
		now:     time.Now,
	}
}

func custodyKey(asset domain.AssetRef) string {
	return "market:custody:" + asset.Key()
}

// Mint records owner as the holder of asset outside escrow.
func (b *CustodyBook) Mint(ctx context.Context, asset domain.AssetRef, owner common.Address) error {
	if err := b.rdb.HSet(ctx, custodyKey(asset), "owner", owner.Hex(), "escrowed", "0").Err(); err != nil {
		return fmt.Errorf("redis: mint %s: %w", asset.Key(), err)
	}
	return nil
}

func (b *CustodyBook) Escrow(ctx context.Context, asset domain.AssetRef, owner common.Address) (domain.Receipt, error) {
	res, err := b.escrow.Run(ctx, b.rdb, []string{custodyKey(asset)}, owner.Hex()).Int()
	if err != nil {
		return domain.Receipt{}, fmt.Errorf("redis: escrow %s: %w", asset.Key(), err)
	}
	switch res {
	case -1:
		return domain.Receipt{}, domain.ErrAlreadyEscrowed
	case 0:
		return domain.Receipt{}, domain.ErrNotOwner
	}
	return domain.Receipt{
		ID:         uuid.NewString(),
		Asset:      asset,
		Owner:      owner,
		EscrowedAt: b.now().UTC(),
	}, nil
}

func (b *CustodyBook) Release(ctx context.Context, asset domain.AssetRef, to common.Address) error {
	if domain.IsZero(to) {
		return domain.ErrTransferDenied
	}
	res, err := b.release.Run(ctx, b.rdb, []string{custodyKey(asset)}, to.Hex()).Int()
	if err != nil {
		return fmt.Errorf("redis: release %s: %w", asset.Key(), err)
	}
	if res != 1 {
		return domain.ErrNotEscrowed
	}
	return nil
}

// OwnerOf reports the holder of asset; unknown assets report the zero
// account.
func (b *CustodyBook) OwnerOf(ctx context.Context, asset domain.AssetRef) (common.Address, bool, error) {
	vals, err := b.rdb.HMGet(ctx, custodyKey(asset), "owner", "escrowed").Result()
	if err != nil {
		return common.Address{}, false, fmt.Errorf("redis: owner of %s: %w", asset.Key(), err)
	}
	owner, _ := vals[0].(string)
	escrowed, _ := vals[1].(string)
	if owner == "" {
		return common.Address{}, false, nil
	}
	return common.HexToAddress(owner), escrowed == "1", nil
}

// Compile-time interface check.
var _ domain.AssetCustody = (*CustodyBook)(nil)
