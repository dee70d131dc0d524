package domain

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// OfferStatus tracks the offer lifecycle. Accepted and Withdrawn are terminal.
type OfferStatus string

const (
	OfferOpen      OfferStatus = "open"
	OfferAccepted  OfferStatus = "accepted"
	OfferWithdrawn OfferStatus = "withdrawn"
)

// Terminal reports whether no further transition is allowed.
func (s OfferStatus) Terminal() bool {
	return s == OfferAccepted || s == OfferWithdrawn
}

// Offer is an escrowed bid for an asset, independent of any listing price.
type Offer struct {
	ID        uint64         `json:"id"`
	Asset     AssetRef       `json:"asset"`
	ListingID *uint64        `json:"listing_id,omitempty"`
	Bidder    common.Address `json:"bidder"`
	Amount    Amount         `json:"amount"`
	Currency  Currency       `json:"currency"`
	Status    OfferStatus    `json:"status"`
	CreatedAt time.Time      `json:"created_at"`
	ClosedAt  *time.Time     `json:"closed_at,omitempty"`
}

// OfferRequest carries the caller-supplied fields of placeOffer.
type OfferRequest struct {
	Asset     AssetRef `json:"asset"`
	ListingID *uint64  `json:"listing_id,omitempty"`
	Amount    Amount   `json:"amount"`
	Currency  Currency `json:"currency"`
}
