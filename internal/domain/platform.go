package domain

import (
	"sort"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

const (
	// BpsDenominator is 100% in basis points.
	BpsDenominator = 10_000
	// MaxFeeBps caps the platform fee at 10%.
	MaxFeeBps = 1_000
	// MaxRoyaltyBps caps a collection royalty at 50%.
	MaxRoyaltyBps = 5_000
)

// Currency is the payment unit of a listing or offer: NativeCurrency or the
// hex address of an approved token contract.
type Currency string

// NativeCurrency is the chain's native unit.
const NativeCurrency Currency = ""

// IsNative reports whether c is the native unit.
func (c Currency) IsNative() bool { return c == NativeCurrency }

// Normalize lower-cases token addresses so set membership is stable.
func (c Currency) Normalize() Currency {
	return Currency(strings.ToLower(strings.TrimSpace(string(c))))
}

// PlatformConfig is the single process-wide marketplace configuration row.
type PlatformConfig struct {
	FeeBps                uint16           `json:"fee_bps"`
	FeeRecipient          common.Address   `json:"fee_recipient"`
	ApprovedPaymentTokens []common.Address `json:"approved_payment_tokens"`
	Paused                bool             `json:"paused"`
	UpdatedAt             time.Time        `json:"updated_at"`
}

// Accepts reports whether c may be used to pay.
func (p PlatformConfig) Accepts(c Currency) bool {
	if c.IsNative() {
		return true
	}
	if !common.IsHexAddress(string(c)) {
		return false
	}
	addr := common.HexToAddress(string(c))
	for _, t := range p.ApprovedPaymentTokens {
		if t == addr {
			return true
		}
	}
	return false
}

// WithToken returns a copy with addr added to the approved set, keeping the
// set sorted and free of duplicates.
func (p PlatformConfig) WithToken(addr common.Address) PlatformConfig {
	out := p.Clone()
	for _, t := range out.ApprovedPaymentTokens {
		if t == addr {
			return out
		}
	}
	out.ApprovedPaymentTokens = append(out.ApprovedPaymentTokens, addr)
	sort.Slice(out.ApprovedPaymentTokens, func(i, j int) bool {
		return out.ApprovedPaymentTokens[i].Hex() < out.ApprovedPaymentTokens[j].Hex()
	})
	return out
}

// WithoutToken returns a copy with addr removed from the approved set.
func (p PlatformConfig) WithoutToken(addr common.Address) PlatformConfig {
	out := p.Clone()
	kept := out.ApprovedPaymentTokens[:0]
	for _, t := range out.ApprovedPaymentTokens {
		if t != addr {
			kept = append(kept, t)
		}
	}
	out.ApprovedPaymentTokens = kept
	return out
}

// Clone copies the token slice.
func (p PlatformConfig) Clone() PlatformConfig {
	out := p
	if p.ApprovedPaymentTokens != nil {
		out.ApprovedPaymentTokens = make([]common.Address, len(p.ApprovedPaymentTokens))
		copy(out.ApprovedPaymentTokens, p.ApprovedPaymentTokens)
	}
	return out
}

// Royalty is the resale royalty owed on a collection.
type Royalty struct {
	Collection common.Address `json:"collection"`
	Recipient  common.Address `json:"recipient"`
	Bps        uint16         `json:"bps"`
	UpdatedAt  time.Time      `json:"updated_at"`
}
