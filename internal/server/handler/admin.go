package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/nftmarket/internal/domain"
)

// AdminService defines the engine operations behind roles, platform config,
// royalties and the emergency stop.
type AdminService interface {
	RolesOf(ctx context.Context, account common.Address) ([]domain.Role, error)
	Members(ctx context.Context, role domain.Role) ([]domain.RoleAssignment, error)
	GrantRole(ctx context.Context, role domain.Role, account, caller common.Address) error
	RevokeRole(ctx context.Context, role domain.Role, account, caller common.Address) error

	PlatformConfig(ctx context.Context) (domain.PlatformConfig, error)
	SetPlatformFee(ctx context.Context, feeBps uint16, caller common.Address) error
	SetFeeRecipient(ctx context.Context, recipient, caller common.Address) error
	ApprovePaymentToken(ctx context.Context, token, caller common.Address) error
	RevokePaymentToken(ctx context.Context, token, caller common.Address) error

	SetRoyalty(ctx context.Context, collection, recipient common.Address, bps uint16, caller common.Address) error
	Royalty(ctx context.Context, collection common.Address) (domain.Royalty, error)

	Pause(ctx context.Context, caller common.Address) error
	Unpause(ctx context.Context, caller common.Address) error
}

// AdminHandler serves the role-gated administration endpoints.
type AdminHandler struct {
	admin  AdminService
	logger *slog.Logger
}

// NewAdminHandler creates an AdminHandler with the given service and logger.
func NewAdminHandler(admin AdminService, logger *slog.Logger) *AdminHandler {
	return &AdminHandler{
		admin:  admin,
		logger: logHandler(logger, "admin"),
	}
}

type roleRequest struct {
	Role    domain.Role    `json:"role"`
	Account common.Address `json:"account"`
}

type rolesResponse struct {
	Account common.Address `json:"account"`
	Roles   []domain.Role  `json:"roles"`
}

type membersResponse struct {
	Role    domain.Role             `json:"role"`
	Members []domain.RoleAssignment `json:"members"`
}

type feeRequest struct {
	FeeBps uint16 `json:"fee_bps"`
}

type recipientRequest struct {
	Recipient common.Address `json:"recipient"`
}

type tokenRequest struct {
	Token common.Address `json:"token"`
}

type royaltyRequest struct {
	Collection common.Address `json:"collection"`
	Recipient  common.Address `json:"recipient"`
	Bps        uint16         `json:"bps"`
}

// ListRoles returns the roles of one account, or the members of one role.
// GET /api/roles?account=0x...
// GET /api/roles?role=admin
func (h *AdminHandler) ListRoles(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if name := q.Get("role"); name != "" {
		role, err := domain.ParseRole(name)
		if err != nil {
			writeMarketError(w, r, h.logger, "list members", err)
			return
		}
		members, err := h.admin.Members(r.Context(), role)
		if err != nil {
			writeMarketError(w, r, h.logger, "list members", err)
			return
		}
		if members == nil {
			members = []domain.RoleAssignment{}
		}
		writeJSON(w, http.StatusOK, membersResponse{Role: role, Members: members})
		return
	}

	account, err := domain.ParseAccount(q.Get("account"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "account or role query parameter required")
		return
	}
	roles, err := h.admin.RolesOf(r.Context(), account)
	if err != nil {
		writeMarketError(w, r, h.logger, "list roles", err)
		return
	}
	if roles == nil {
		roles = []domain.Role{}
	}
	writeJSON(w, http.StatusOK, rolesResponse{Account: account, Roles: roles})
}

// GrantRole grants a role. Admin only.
// POST /api/roles
func (h *AdminHandler) GrantRole(w http.ResponseWriter, r *http.Request) {
	acct, ok := caller(w, r)
	if !ok {
		return
	}
	var body roleRequest
	if err := decodeJSON(w, r, &body); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := h.admin.GrantRole(r.Context(), body.Role, body.Account, acct); err != nil {
		writeMarketError(w, r, h.logger, "grant role", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// RevokeRole revokes a role. Admin only.
// DELETE /api/roles?role=team&account=0x...
func (h *AdminHandler) RevokeRole(w http.ResponseWriter, r *http.Request) {
	acct, ok := caller(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	role, err := domain.ParseRole(q.Get("role"))
	if err != nil {
		writeMarketError(w, r, h.logger, "revoke role", err)
		return
	}
	account, err := domain.ParseAccount(q.Get("account"))
	if err != nil {
		writeMarketError(w, r, h.logger, "revoke role", err)
		return
	}
	if err := h.admin.RevokeRole(r.Context(), role, account, acct); err != nil {
		writeMarketError(w, r, h.logger, "revoke role", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GetConfig returns the platform config.
// GET /api/config
func (h *AdminHandler) GetConfig(w http.ResponseWriter, r *http.Request) {
	cfg, err := h.admin.PlatformConfig(r.Context())
	if err != nil {
		writeMarketError(w, r, h.logger, "get config", err)
		return
	}
	writeJSON(w, http.StatusOK, cfg)
}

// SetFee updates the platform fee.
// PUT /api/config/fee
func (h *AdminHandler) SetFee(w http.ResponseWriter, r *http.Request) {
	acct, ok := caller(w, r)
	if !ok {
		return
	}
	var body feeRequest
	if err := decodeJSON(w, r, &body); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := h.admin.SetPlatformFee(r.Context(), body.FeeBps, acct); err != nil {
		writeMarketError(w, r, h.logger, "set fee", err)
		return
	}
	h.GetConfig(w, r)
}

// SetFeeRecipient updates the fee recipient.
// PUT /api/config/fee-recipient
func (h *AdminHandler) SetFeeRecipient(w http.ResponseWriter, r *http.Request) {
	acct, ok := caller(w, r)
	if !ok {
		return
	}
	var body recipientRequest
	if err := decodeJSON(w, r, &body); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := h.admin.SetFeeRecipient(r.Context(), body.Recipient, acct); err != nil {
		writeMarketError(w, r, h.logger, "set fee recipient", err)
		return
	}
	h.GetConfig(w, r)
}

// ApprovePaymentToken adds a token to the approved payment currencies.
// POST /api/config/payment-tokens
func (h *AdminHandler) ApprovePaymentToken(w http.ResponseWriter, r *http.Request) {
	acct, ok := caller(w, r)
	if !ok {
		return
	}
	var body tokenRequest
	if err := decodeJSON(w, r, &body); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := h.admin.ApprovePaymentToken(r.Context(), body.Token, acct); err != nil {
		writeMarketError(w, r, h.logger, "approve payment token", err)
		return
	}
	h.GetConfig(w, r)
}

// RevokePaymentToken removes a token from the approved payment currencies.
// DELETE /api/config/payment-tokens/{token}
func (h *AdminHandler) RevokePaymentToken(w http.ResponseWriter, r *http.Request) {
	acct, ok := caller(w, r)
	if !ok {
		return
	}
	token, err := domain.ParseAccount(r.PathValue("token"))
	if err != nil {
		writeMarketError(w, r, h.logger, "revoke payment token", err)
		return
	}
	if err := h.admin.RevokePaymentToken(r.Context(), token, acct); err != nil {
		writeMarketError(w, r, h.logger, "revoke payment token", err)
		return
	}
	h.GetConfig(w, r)
}

// SetRoyalty sets a collection's royalty recipient and rate.
// PUT /api/royalties
func (h *AdminHandler) SetRoyalty(w http.ResponseWriter, r *http.Request) {
	acct, ok := caller(w, r)
	if !ok {
		return
	}
	var body royaltyRequest
	if err := decodeJSON(w, r, &body); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := h.admin.SetRoyalty(r.Context(), body.Collection, body.Recipient, body.Bps, acct); err != nil {
		writeMarketError(w, r, h.logger, "set royalty", err)
		return
	}
	roy, err := h.admin.Royalty(r.Context(), body.Collection)
	if err != nil {
		writeMarketError(w, r, h.logger, "get royalty", err)
		return
	}
	writeJSON(w, http.StatusOK, roy)
}

// GetRoyalty returns a collection's royalty.
// GET /api/royalties/{collection}
func (h *AdminHandler) GetRoyalty(w http.ResponseWriter, r *http.Request) {
	collection, err := domain.ParseAccount(r.PathValue("collection"))
	if err != nil {
		writeMarketError(w, r, h.logger, "get royalty", err)
		return
	}
	roy, err := h.admin.Royalty(r.Context(), collection)
	if err != nil {
		writeMarketError(w, r, h.logger, "get royalty", err)
		return
	}
	writeJSON(w, http.StatusOK, roy)
}

// Pause engages the emergency stop. Admin or Team.
// POST /api/pause
func (h *AdminHandler) Pause(w http.ResponseWriter, r *http.Request) {
	acct, ok := caller(w, r)
	if !ok {
		return
	}
	if err := h.admin.Pause(r.Context(), acct); err != nil {
		writeMarketError(w, r, h.logger, "pause", err)
		return
	}
	h.GetConfig(w, r)
}

// Unpause lifts the emergency stop. Admin only.
// POST /api/unpause
func (h *AdminHandler) Unpause(w http.ResponseWriter, r *http.Request) {
	acct, ok := caller(w, r)
	if !ok {
		return
	}
	if err := h.admin.Unpause(r.Context(), acct); err != nil {
		writeMarketError(w, r, h.logger, "unpause", err)
		return
	}
	h.GetConfig(w, r)
}
