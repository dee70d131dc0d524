package domain

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// SettlementKind names the path that produced a sale.
type SettlementKind string

const (
	SettlementFixedPrice SettlementKind = "fixed_price"
	SettlementAuction    SettlementKind = "auction"
	SettlementOffer      SettlementKind = "offer"
)

// Split is how a sale price divides between seller, platform and royalty
// recipient. The three parts always sum to the price.
type Split struct {
	Seller   Amount `json:"seller"`
	Platform Amount `json:"platform"`
	Royalty  Amount `json:"royalty"`
}

// Total returns Seller + Platform + Royalty.
func (s Split) Total() Amount {
	return s.Seller + s.Platform + s.Royalty
}

// Settlement is the append-only record of one completed exchange.
type Settlement struct {
	ID               string         `json:"id"`
	Kind             SettlementKind `json:"kind"`
	ListingID        *uint64        `json:"listing_id,omitempty"`
	OfferID          *uint64        `json:"offer_id,omitempty"`
	Asset            AssetRef       `json:"asset"`
	Buyer            common.Address `json:"buyer"`
	Seller           common.Address `json:"seller"`
	Price            Amount         `json:"price"`
	Fee              Amount         `json:"fee"`
	Royalty          Amount         `json:"royalty"`
	FeeRecipient     common.Address `json:"fee_recipient"`
	RoyaltyRecipient common.Address `json:"royalty_recipient"`
	Currency         Currency       `json:"currency"`
	SettledAt        time.Time      `json:"settled_at"`
}
