package domain

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// EventType names a marketplace event emitted after a state change commits.
type EventType string

const (
	EventListed               EventType = "listed"
	EventCancelled            EventType = "cancelled"
	EventBidPlaced            EventType = "bid_placed"
	EventAuctionEnded         EventType = "auction_ended"
	EventOfferPlaced          EventType = "offer_placed"
	EventOfferWithdrawn       EventType = "offer_withdrawn"
	EventOfferAccepted        EventType = "offer_accepted"
	EventSettled              EventType = "settled"
	EventRoleGranted          EventType = "role_granted"
	EventRoleRevoked          EventType = "role_revoked"
	EventFeeChanged           EventType = "fee_changed"
	EventFeeRecipientChanged  EventType = "fee_recipient_changed"
	EventPaymentTokenApproved EventType = "payment_token_approved"
	EventPaymentTokenRevoked  EventType = "payment_token_revoked"
	EventRoyaltyChanged       EventType = "royalty_changed"
	EventPaused               EventType = "paused"
	EventUnpaused             EventType = "unpaused"
)

// Event is the envelope published to the bus, the audit log and the
// WebSocket hub. Fields that do not apply to a type are left zero.
type Event struct {
	ID        string          `json:"id"`
	Type      EventType       `json:"type"`
	ListingID *uint64         `json:"listing_id,omitempty"`
	OfferID   *uint64         `json:"offer_id,omitempty"`
	Asset     *AssetRef       `json:"asset,omitempty"`
	Actor     common.Address  `json:"actor"`
	Buyer     *common.Address `json:"buyer,omitempty"`
	Seller    *common.Address `json:"seller,omitempty"`
	Price     Amount          `json:"price,omitempty"`
	Fee       Amount          `json:"fee,omitempty"`
	Royalty   Amount          `json:"royalty,omitempty"`
	Currency  Currency        `json:"currency,omitempty"`
	Data      map[string]any  `json:"data,omitempty"`
	At        time.Time       `json:"at"`
	Signer    *common.Address `json:"signer,omitempty"`
	Signature string          `json:"signature,omitempty"`
}
