package domain

import (
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// AssetRef identifies one token: the collection contract plus a uint256
// token id in decimal form.
type AssetRef struct {
	Contract common.Address `json:"contract"`
	TokenID  string         `json:"token_id"`
}

// Key returns the canonical "contract/tokenId" form used for lock keys, cache
// keys and database indexes.
func (a AssetRef) Key() string {
	return strings.ToLower(a.Contract.Hex()) + "/" + a.TokenID
}

func (a AssetRef) String() string { return a.Key() }

// Validate rejects a zero contract or a token id that is not a non-negative
// decimal integer.
func (a AssetRef) Validate() error {
	if IsZero(a.Contract) {
		return ErrInvalidAsset
	}
	n, ok := new(big.Int).SetString(a.TokenID, 10)
	if !ok || n.Sign() < 0 {
		return ErrInvalidAsset
	}
	return nil
}

// Receipt is returned by the custody adapter when an asset enters escrow.
type Receipt struct {
	ID         string
	Asset      AssetRef
	Owner      common.Address
	EscrowedAt time.Time
}
