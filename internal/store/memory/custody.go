package memory

import (
	"context"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"github.com/alanyoungcy/nftmarket/internal/domain"
)

type holding struct {
	owner    common.Address
	escrowed bool
}

// CustodyBook implements domain.AssetCustody as an ownership table. An
// escrowed asset keeps its depositor as owner until released.
type CustodyBook struct {
	mu       sync.Mutex
	holdings map[string]holding
}

// NewCustodyBook creates an empty custody book.
func NewCustodyBook() *CustodyBook {
	return &CustodyBook{holdings: make(map[string]holding)}
}

// Mint records owner as the holder of asset outside escrow.
func (b *CustodyBook) Mint(asset domain.AssetRef, owner common.Address) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.holdings[asset.Key()] = holding{owner: owner}
}

func (b *CustodyBook) Escrow(_ context.Context, asset domain.AssetRef, owner common.Address) (domain.Receipt, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	h, ok := b.holdings[asset.Key()]
	switch {
	case ok && h.escrowed:
		return domain.Receipt{}, domain.ErrAlreadyEscrowed
	case !ok || h.owner != owner:
		return domain.Receipt{}, domain.ErrNotOwner
	}
	b.holdings[asset.Key()] = holding{owner: owner, escrowed: true}
	return domain.Receipt{
		ID:         uuid.NewString(),
		Asset:      asset,
		Owner:      owner,
		EscrowedAt: time.Now().UTC(),
	}, nil
}

func (b *CustodyBook) Release(_ context.Context, asset domain.AssetRef, to common.Address) error {
	if to == domain.ZeroAccount {
		return domain.ErrTransferDenied
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	h, ok := b.holdings[asset.Key()]
	if !ok || !h.escrowed {
		return domain.ErrNotEscrowed
	}
	b.holdings[asset.Key()] = holding{owner: to}
	return nil
}

// OwnerOf reports the holder of asset; unknown assets report the zero
// account.
func (b *CustodyBook) OwnerOf(_ context.Context, asset domain.AssetRef) (common.Address, bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	h := b.holdings[asset.Key()]
	return h.owner, h.escrowed, nil
}
