package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/nftmarket/internal/domain"
)

// OfferService defines the engine operations the offer handler requires.
type OfferService interface {
	PlaceOffer(ctx context.Context, bidder common.Address, req domain.OfferRequest) (uint64, error)
	WithdrawOffer(ctx context.Context, id uint64, caller common.Address) error
	AcceptOffer(ctx context.Context, id uint64, caller common.Address) (domain.Settlement, error)
	GetOffer(ctx context.Context, id uint64) (domain.Offer, error)
	ListOffers(ctx context.Context, asset domain.AssetRef, status domain.OfferStatus) ([]domain.Offer, error)
	OffersByBidder(ctx context.Context, bidder common.Address, opts domain.ListOpts) ([]domain.Offer, error)
}

// OfferHandler serves offer endpoints.
type OfferHandler struct {
	offers OfferService
	logger *slog.Logger
}

// NewOfferHandler creates an OfferHandler with the given service and logger.
func NewOfferHandler(offers OfferService, logger *slog.Logger) *OfferHandler {
	return &OfferHandler{
		offers: offers,
		logger: logHandler(logger, "offers"),
	}
}

type listOffersResponse struct {
	Offers []domain.Offer `json:"offers"`
}

// PlaceOffer escrows an offer for an asset.
// POST /api/offers
func (h *OfferHandler) PlaceOffer(w http.ResponseWriter, r *http.Request) {
	bidder, ok := caller(w, r)
	if !ok {
		return
	}
	var req domain.OfferRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	id, err := h.offers.PlaceOffer(r.Context(), bidder, req)
	if err != nil {
		writeMarketError(w, r, h.logger, "place offer", err)
		return
	}
	writeJSON(w, http.StatusCreated, idResponse{ID: id})
}

// ListOffers returns the offers on one asset, or every offer of one bidder.
// GET /api/offers?contract=0x...&token_id=1&status=open
// GET /api/offers?bidder=0x...&limit=50&offset=0
func (h *OfferHandler) ListOffers(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	var (
		offers []domain.Offer
		err    error
	)
	switch {
	case q.Get("bidder") != "":
		bidder, perr := domain.ParseAccount(q.Get("bidder"))
		if perr != nil {
			writeMarketError(w, r, h.logger, "list offers", perr)
			return
		}
		offers, err = h.offers.OffersByBidder(r.Context(), bidder, parseListOpts(r))
	case q.Get("contract") != "":
		contract, perr := domain.ParseAccount(q.Get("contract"))
		if perr != nil {
			writeMarketError(w, r, h.logger, "list offers", perr)
			return
		}
		asset := domain.AssetRef{Contract: contract, TokenID: q.Get("token_id")}
		if verr := asset.Validate(); verr != nil {
			writeMarketError(w, r, h.logger, "list offers", verr)
			return
		}
		status := domain.OfferStatus(q.Get("status"))
		switch status {
		case "", domain.OfferOpen, domain.OfferAccepted, domain.OfferWithdrawn:
		default:
			writeError(w, http.StatusBadRequest, "invalid status "+string(status))
			return
		}
		offers, err = h.offers.ListOffers(r.Context(), asset, status)
	default:
		writeError(w, http.StatusBadRequest, "contract and token_id, or bidder, query parameters required")
		return
	}
	if err != nil {
		writeMarketError(w, r, h.logger, "list offers", err)
		return
	}
	if offers == nil {
		offers = []domain.Offer{}
	}
	writeJSON(w, http.StatusOK, listOffersResponse{Offers: offers})
}

// GetOffer returns one offer.
// GET /api/offers/{id}
func (h *OfferHandler) GetOffer(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	o, err := h.offers.GetOffer(r.Context(), id)
	if err != nil {
		writeMarketError(w, r, h.logger, "get offer", err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

// AcceptOffer settles an open offer against the caller's asset.
// POST /api/offers/{id}/accept
func (h *OfferHandler) AcceptOffer(w http.ResponseWriter, r *http.Request) {
	acct, ok := caller(w, r)
	if !ok {
		return
	}
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	rec, err := h.offers.AcceptOffer(r.Context(), id, acct)
	if err != nil {
		writeMarketError(w, r, h.logger, "accept offer", err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// WithdrawOffer refunds and closes the caller's open offer.
// DELETE /api/offers/{id}
func (h *OfferHandler) WithdrawOffer(w http.ResponseWriter, r *http.Request) {
	acct, ok := caller(w, r)
	if !ok {
		return
	}
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := h.offers.WithdrawOffer(r.Context(), id, acct); err != nil {
		writeMarketError(w, r, h.logger, "withdraw offer", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
