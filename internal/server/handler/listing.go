package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/nftmarket/internal/domain"
)

// ListingService defines the engine operations the listing handler requires.
type ListingService interface {
	CreateListing(ctx context.Context, seller common.Address, req domain.ListingRequest) (uint64, error)
	CancelListing(ctx context.Context, id uint64, caller common.Address) error
	BuyFixedPrice(ctx context.Context, id uint64, buyer common.Address) (domain.Settlement, error)
	PlaceBid(ctx context.Context, id uint64, bidder common.Address, amount domain.Amount) error
	EndAuction(ctx context.Context, id uint64, caller common.Address) (*domain.Settlement, error)
	GetListing(ctx context.Context, id uint64) (domain.Listing, error)
	ListActiveListings(ctx context.Context, opts domain.ListOpts) ([]domain.Listing, error)
	ListingsBySeller(ctx context.Context, seller common.Address, opts domain.ListOpts) ([]domain.Listing, error)
}

// ListingHandler serves listing and auction endpoints.
type ListingHandler struct {
	listings ListingService
	logger   *slog.Logger
}

// NewListingHandler creates a ListingHandler with the given service and logger.
func NewListingHandler(listings ListingService, logger *slog.Logger) *ListingHandler {
	return &ListingHandler{
		listings: listings,
		logger:   logHandler(logger, "listings"),
	}
}

// createListingRequest is the POST /api/listings body. Duration is a Go
// duration string such as "72h".
type createListingRequest struct {
	Asset     domain.AssetRef `json:"asset"`
	Price     domain.Amount   `json:"price"`
	Currency  domain.Currency `json:"currency"`
	IsAuction bool            `json:"is_auction"`
	Duration  string          `json:"duration"`
	MinBid    domain.Amount   `json:"min_bid"`
}

type idResponse struct {
	ID uint64 `json:"id"`
}

type listListingsResponse struct {
	Listings []domain.Listing `json:"listings"`
}

type bidRequest struct {
	Amount domain.Amount `json:"amount"`
}

// endAuctionResponse carries the settlement when the auction had a winner.
type endAuctionResponse struct {
	Sold       bool               `json:"sold"`
	Settlement *domain.Settlement `json:"settlement,omitempty"`
}

// CreateListing escrows the caller's asset and opens a listing.
// POST /api/listings
func (h *ListingHandler) CreateListing(w http.ResponseWriter, r *http.Request) {
	seller, ok := caller(w, r)
	if !ok {
		return
	}
	var body createListingRequest
	if err := decodeJSON(w, r, &body); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	req := domain.ListingRequest{
		Asset:     body.Asset,
		Price:     body.Price,
		Currency:  body.Currency,
		IsAuction: body.IsAuction,
		MinBid:    body.MinBid,
	}
	if body.Duration != "" {
		d, err := time.ParseDuration(body.Duration)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid duration: "+err.Error())
			return
		}
		req.Duration = d
	}

	id, err := h.listings.CreateListing(r.Context(), seller, req)
	if err != nil {
		writeMarketError(w, r, h.logger, "create listing", err)
		return
	}
	writeJSON(w, http.StatusCreated, idResponse{ID: id})
}

// ListListings returns active listings, or every listing of one seller.
// GET /api/listings?seller=0x...&limit=50&offset=0
func (h *ListingHandler) ListListings(w http.ResponseWriter, r *http.Request) {
	opts := parseListOpts(r)

	var (
		listings []domain.Listing
		err      error
	)
	if s := r.URL.Query().Get("seller"); s != "" {
		seller, perr := domain.ParseAccount(s)
		if perr != nil {
			writeMarketError(w, r, h.logger, "list listings", perr)
			return
		}
		listings, err = h.listings.ListingsBySeller(r.Context(), seller, opts)
	} else {
		listings, err = h.listings.ListActiveListings(r.Context(), opts)
	}
	if err != nil {
		writeMarketError(w, r, h.logger, "list listings", err)
		return
	}
	if listings == nil {
		listings = []domain.Listing{}
	}
	writeJSON(w, http.StatusOK, listListingsResponse{Listings: listings})
}

// GetListing returns one listing.
// GET /api/listings/{id}
func (h *ListingHandler) GetListing(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	l, err := h.listings.GetListing(r.Context(), id)
	if err != nil {
		writeMarketError(w, r, h.logger, "get listing", err)
		return
	}
	writeJSON(w, http.StatusOK, l)
}

// CancelListing withdraws a listing and returns the asset to the seller.
// DELETE /api/listings/{id}
func (h *ListingHandler) CancelListing(w http.ResponseWriter, r *http.Request) {
	acct, ok := caller(w, r)
	if !ok {
		return
	}
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := h.listings.CancelListing(r.Context(), id, acct); err != nil {
		writeMarketError(w, r, h.logger, "cancel listing", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Buy settles a fixed-price listing to the caller.
// POST /api/listings/{id}/buy
func (h *ListingHandler) Buy(w http.ResponseWriter, r *http.Request) {
	buyer, ok := caller(w, r)
	if !ok {
		return
	}
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	rec, err := h.listings.BuyFixedPrice(r.Context(), id, buyer)
	if err != nil {
		writeMarketError(w, r, h.logger, "buy", err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// PlaceBid escrows a bid on an auction listing.
// POST /api/listings/{id}/bids
func (h *ListingHandler) PlaceBid(w http.ResponseWriter, r *http.Request) {
	bidder, ok := caller(w, r)
	if !ok {
		return
	}
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var body bidRequest
	if err := decodeJSON(w, r, &body); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := h.listings.PlaceBid(r.Context(), id, bidder, body.Amount); err != nil {
		writeMarketError(w, r, h.logger, "place bid", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// EndAuction finalizes an auction listing.
// POST /api/listings/{id}/end
func (h *ListingHandler) EndAuction(w http.ResponseWriter, r *http.Request) {
	acct, ok := caller(w, r)
	if !ok {
		return
	}
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	rec, err := h.listings.EndAuction(r.Context(), id, acct)
	if err != nil {
		writeMarketError(w, r, h.logger, "end auction", err)
		return
	}
	writeJSON(w, http.StatusOK, endAuctionResponse{Sold: rec != nil, Settlement: rec})
}
