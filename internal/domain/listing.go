package domain

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Amount is a quantity in the smallest unit of its currency.
type Amount = int64

// ListingStatus tracks the listing lifecycle. Sold and Cancelled are terminal.
type ListingStatus string

const (
	ListingActive    ListingStatus = "active"
	ListingSold      ListingStatus = "sold"
	ListingCancelled ListingStatus = "cancelled"
)

// Terminal reports whether no further transition is allowed.
func (s ListingStatus) Terminal() bool {
	return s == ListingSold || s == ListingCancelled
}

// AuctionState is the bidding state embedded in an auction listing.
// HighestBid is always the maximum escrowed bid and Escrow[HighestBidder]
// holds it; displaced bidders are refunded before their entry is removed.
type AuctionState struct {
	HighestBidder *common.Address           `json:"highest_bidder,omitempty"`
	HighestBid    Amount                    `json:"highest_bid"`
	Escrow        map[common.Address]Amount `json:"escrow,omitempty"`
}

// HasBids reports whether any bid has been accepted.
func (a AuctionState) HasBids() bool {
	return a.HighestBidder != nil
}

// TotalEscrowed sums all escrowed bid funds.
func (a AuctionState) TotalEscrowed() Amount {
	var total Amount
	for _, v := range a.Escrow {
		total += v
	}
	return total
}

// Clone returns a deep copy so callers can mutate without aliasing.
func (a AuctionState) Clone() AuctionState {
	out := AuctionState{HighestBid: a.HighestBid}
	if a.HighestBidder != nil {
		b := *a.HighestBidder
		out.HighestBidder = &b
	}
	if a.Escrow != nil {
		out.Escrow = make(map[common.Address]Amount, len(a.Escrow))
		for k, v := range a.Escrow {
			out.Escrow[k] = v
		}
	}
	return out
}

// Listing is a seller's offer to sell one asset, at a fixed price or by
// auction.
type Listing struct {
	ID         uint64          `json:"id"`
	Seller     common.Address  `json:"seller"`
	Asset      AssetRef        `json:"asset"`
	Price      Amount          `json:"price"`
	Currency   Currency        `json:"currency"`
	IsAuction  bool            `json:"is_auction"`
	AuctionEnd *time.Time      `json:"auction_end,omitempty"`
	MinBid     Amount          `json:"min_bid"`
	Auction    AuctionState    `json:"auction"`
	Status     ListingStatus   `json:"status"`
	Buyer      *common.Address `json:"buyer,omitempty"`
	SoldPrice  Amount          `json:"sold_price,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
	UpdatedAt  time.Time       `json:"updated_at"`
}

// Expired reports whether an auction's deadline has passed at now.
func (l Listing) Expired(now time.Time) bool {
	return l.IsAuction && l.AuctionEnd != nil && !now.Before(*l.AuctionEnd)
}

// BidFloor is the value a new bid must strictly exceed.
func (l Listing) BidFloor() Amount {
	if l.Auction.HighestBid > l.MinBid {
		return l.Auction.HighestBid
	}
	return l.MinBid
}

// Clone returns a copy whose pointers and maps are not shared with l.
func (l Listing) Clone() Listing {
	out := l
	out.Auction = l.Auction.Clone()
	if l.AuctionEnd != nil {
		t := *l.AuctionEnd
		out.AuctionEnd = &t
	}
	if l.Buyer != nil {
		b := *l.Buyer
		out.Buyer = &b
	}
	return out
}

// ListingRequest carries the caller-supplied fields of createListing.
type ListingRequest struct {
	Asset     AssetRef      `json:"asset"`
	Price     Amount        `json:"price"`
	Currency  Currency      `json:"currency"`
	IsAuction bool          `json:"is_auction"`
	Duration  time.Duration `json:"duration"`
	MinBid    Amount        `json:"min_bid"`
}
