package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/nftmarket/internal/domain"
)

// SettlementService defines the read operations over completed sales.
type SettlementService interface {
	GetSettlement(ctx context.Context, id string) (domain.Settlement, error)
	ListSettlements(ctx context.Context, opts domain.ListOpts) ([]domain.Settlement, error)
}

// SettlementHandler serves the settlement history.
type SettlementHandler struct {
	settlements SettlementService
	logger      *slog.Logger
}

// NewSettlementHandler creates a SettlementHandler.
func NewSettlementHandler(settlements SettlementService, logger *slog.Logger) *SettlementHandler {
	return &SettlementHandler{settlements: settlements, logger: logHandler(logger, "settlements")}
}

type listSettlementsResponse struct {
	Settlements []domain.Settlement `json:"settlements"`
}

// ListSettlements returns recent settlements, newest first.
// GET /api/settlements?limit=50&offset=0
func (h *SettlementHandler) ListSettlements(w http.ResponseWriter, r *http.Request) {
	recs, err := h.settlements.ListSettlements(r.Context(), parseListOpts(r))
	if err != nil {
		writeMarketError(w, r, h.logger, "list settlements", err)
		return
	}
	if recs == nil {
		recs = []domain.Settlement{}
	}
	writeJSON(w, http.StatusOK, listSettlementsResponse{Settlements: recs})
}

// GetSettlement returns one settlement by id.
// GET /api/settlements/{id}
func (h *SettlementHandler) GetSettlement(w http.ResponseWriter, r *http.Request) {
	rec, err := h.settlements.GetSettlement(r.Context(), r.PathValue("id"))
	if err != nil {
		writeMarketError(w, r, h.logger, "get settlement", err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}
