// internal/handler/campaign_handler.go
package handler

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/unclebandit/engagement-escrow/internal/address"
	appErrors "github.com/unclebandit/engagement-escrow/internal/errors"
	"github.com/unclebandit/engagement-escrow/internal/model"
	"github.com/unclebandit/engagement-escrow/internal/service"
)

// CampaignHandler serves the read-only campaign and account endpoints
type CampaignHandler struct {
	Service *service.CampaignService
}

func NewCampaignHandler(svc *service.CampaignService) *CampaignHandler {
	return &CampaignHandler{Service: svc}
}

// GetCampaignHandler returns one campaign with its escrow balance and stats
func (h *CampaignHandler) GetCampaignHandler(w http.ResponseWriter, r *http.Request) {
	addr, err := address.Parse(chi.URLParam(r, "address"))
	if err != nil {
		WriteError(w, err)
		return
	}

	details, err := h.Service.GetCampaignDetails(r.Context(), addr)
	if err != nil {
		WriteError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, details)
}

// ListCampaignsHandler returns a paginated list of campaigns
func (h *CampaignHandler) ListCampaignsHandler(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	page, _ := strconv.Atoi(query.Get("page"))
	pageSize, _ := strconv.Atoi(query.Get("page_size"))

	var creator model.Identity
	if s := query.Get("creator"); s != "" {
		id, err := model.ParseIdentity(s)
		if err != nil {
			WriteError(w, err)
			return
		}
		creator = id
	}

	var complete *bool
	if s := query.Get("complete"); s != "" {
		b, err := strconv.ParseBool(s)
		if err != nil {
			WriteError(w, appErrors.NewInvalidInput("complete must be a boolean"))
			return
		}
		complete = &b
	}

	campaigns, pagination, err := h.Service.ListCampaigns(r.Context(), page, pageSize, creator, complete)
	if err != nil {
		WriteError(w, err)
		return
	}

	WriteJSON(w, http.StatusOK, map[string]any{
		"data":       campaigns,
		"pagination": pagination,
	})
}

// ListProofsHandler returns the accepted engagement proofs of a campaign
func (h *CampaignHandler) ListProofsHandler(w http.ResponseWriter, r *http.Request) {
	addr, err := address.Parse(chi.URLParam(r, "address"))
	if err != nil {
		WriteError(w, err)
		return
	}
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	pageSize, _ := strconv.Atoi(r.URL.Query().Get("page_size"))

	proofs, pagination, err := h.Service.ListProofs(r.Context(), addr, page, pageSize)
	if err != nil {
		WriteError(w, err)
		return
	}

	WriteJSON(w, http.StatusOK, map[string]any{
		"data":       proofs,
		"pagination": pagination,
	})
}

// BalanceHandler returns a wallet's spendable balance
func (h *CampaignHandler) BalanceHandler(w http.ResponseWriter, r *http.Request) {
	owner, err := model.ParseIdentity(chi.URLParam(r, "identity"))
	if err != nil {
		WriteError(w, err)
		return
	}

	balance, err := h.Service.Balance(r.Context(), owner)
	if err != nil {
		WriteError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{
		"identity": owner,
		"balance":  balance,
	})
}
