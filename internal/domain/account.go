package domain

import (
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// ZeroAccount is the null address. It never holds a role, a listing or funds.
var ZeroAccount = common.Address{}

// ParseAccount parses a 0x-prefixed hex address. Malformed input and the zero
// address both fail with ErrInvalidAddress.
func ParseAccount(s string) (common.Address, error) {
	s = strings.TrimSpace(s)
	if !common.IsHexAddress(s) {
		return common.Address{}, ErrInvalidAddress
	}
	addr := common.HexToAddress(s)
	if addr == ZeroAccount {
		return common.Address{}, ErrInvalidAddress
	}
	return addr, nil
}

// IsZero reports whether addr is the null account.
func IsZero(addr common.Address) bool {
	return addr == ZeroAccount
}
