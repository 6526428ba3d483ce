// internal/controller/campaign_controller.go
package controller

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/unclebandit/engagement-escrow/internal/address"
	appErrors "github.com/unclebandit/engagement-escrow/internal/errors"
	"github.com/unclebandit/engagement-escrow/internal/handler"
	"github.com/unclebandit/engagement-escrow/internal/model"
	"github.com/unclebandit/engagement-escrow/internal/queue"
	"github.com/unclebandit/engagement-escrow/internal/service"
)

// CampaignController serves the state-changing escrow endpoints
type CampaignController struct {
	CampaignService *service.CampaignService
	Queue           queue.Queue // receives release jobs; nil disables /release-jobs
	ReleaseTopic    string
	Logger          *slog.Logger
}

func (c *CampaignController) CreateCampaign(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Budget              uint64 `json:"budget"`
		RewardPerEngagement uint64 `json:"reward_per_engagement"`
		GoalEngagements     uint64 `json:"goal_engagements"`
		Hashtag             string `json:"hashtag"`
		Oracle              string `json:"oracle"`
	}
	if !decodeBody(w, r, &body) {
		return
	}

	creator, _ := SignerFromContext(r.Context())
	var oracle model.Identity
	if body.Oracle != "" {
		id, err := model.ParseIdentity(body.Oracle)
		if err != nil {
			handler.WriteError(w, err)
			return
		}
		oracle = id
	}

	campaign, err := c.CampaignService.CreateCampaign(r.Context(), service.CreateCampaignInput{
		Creator:             creator,
		Oracle:              oracle,
		Budget:              body.Budget,
		RewardPerEngagement: body.RewardPerEngagement,
		GoalEngagements:     body.GoalEngagements,
		Hashtag:             body.Hashtag,
	})
	if err != nil {
		handler.WriteError(w, err)
		return
	}
	handler.WriteJSON(w, http.StatusCreated, campaign)
}

func (c *CampaignController) SetOracle(w http.ResponseWriter, r *http.Request) {
	addr, ok := campaignAddress(w, r)
	if !ok {
		return
	}
	var body struct {
		Oracle string `json:"oracle"`
	}
	if !decodeBody(w, r, &body) {
		return
	}
	oracle, err := model.ParseIdentity(body.Oracle)
	if err != nil {
		handler.WriteError(w, err)
		return
	}

	caller, _ := SignerFromContext(r.Context())
	campaign, err := c.CampaignService.SetOracle(r.Context(), caller, addr, oracle)
	if err != nil {
		handler.WriteError(w, err)
		return
	}
	handler.WriteJSON(w, http.StatusOK, campaign)
}

func (c *CampaignController) SubmitProof(w http.ResponseWriter, r *http.Request) {
	addr, ok := campaignAddress(w, r)
	if !ok {
		return
	}
	var body struct {
		EngagementCount uint64 `json:"engagement_count"`
		ReferenceID     string `json:"reference_id"`
	}
	if !decodeBody(w, r, &body) {
		return
	}

	caller, _ := SignerFromContext(r.Context())
	campaign, err := c.CampaignService.SubmitProof(r.Context(), caller, addr, body.EngagementCount, body.ReferenceID)
	if err != nil {
		handler.WriteError(w, err)
		return
	}
	handler.WriteJSON(w, http.StatusOK, campaign)
}

type releaseBody struct {
	Shiller         string `json:"shiller"`
	Recipient       string `json:"recipient"`
	EngagementCount uint64 `json:"engagement_count"`
}

// ReleasePayment needs no signer. Identities are passed through as given:
// the service compares them exactly and validates the recipient itself.
func (c *CampaignController) ReleasePayment(w http.ResponseWriter, r *http.Request) {
	addr, ok := campaignAddress(w, r)
	if !ok {
		return
	}
	var body releaseBody
	if !decodeBody(w, r, &body) {
		return
	}

	result, err := c.CampaignService.ReleasePayment(r.Context(), service.ReleasePaymentInput{
		Campaign:        addr,
		Shiller:         model.Identity(body.Shiller),
		Recipient:       model.Identity(body.Recipient),
		EngagementCount: body.EngagementCount,
	})
	if err != nil {
		handler.WriteError(w, err)
		return
	}
	handler.WriteJSON(w, http.StatusOK, result)
}

// EnqueueRelease hands a release to the payout worker and returns at once.
func (c *CampaignController) EnqueueRelease(w http.ResponseWriter, r *http.Request) {
	addr, ok := campaignAddress(w, r)
	if !ok {
		return
	}
	var body releaseBody
	if !decodeBody(w, r, &body) {
		return
	}
	if c.Queue == nil {
		handler.WriteJSON(w, http.StatusServiceUnavailable, handler.ErrorResponse{
			Error: "QueueUnavailable", Message: "release queue is not configured",
		})
		return
	}
	// Reject what the worker could never pay before it is queued.
	if !model.Identity(body.Recipient).Valid() {
		handler.WriteError(w, appErrors.NewInvalidInput("recipient must be a valid identity"))
		return
	}
	if _, err := c.CampaignService.GetCampaign(r.Context(), addr); err != nil {
		handler.WriteError(w, err)
		return
	}

	job := model.ReleaseJob{
		CampaignAddress: addr,
		Shiller:         model.Identity(body.Shiller),
		Recipient:       model.Identity(body.Recipient),
		EngagementCount: body.EngagementCount,
	}
	if err := c.Queue.Publish(c.ReleaseTopic, job); err != nil {
		c.logger().Error("failed to enqueue release job", "campaign", addr, "error", err)
		handler.WriteError(w, err)
		return
	}
	handler.WriteJSON(w, http.StatusAccepted, map[string]any{
		"status": "queued",
		"job":    job,
	})
}

// Fund is the development faucet.
func (c *CampaignController) Fund(w http.ResponseWriter, r *http.Request) {
	owner, err := model.ParseIdentity(chi.URLParam(r, "identity"))
	if err != nil {
		handler.WriteError(w, err)
		return
	}
	var body struct {
		Amount uint64 `json:"amount"`
	}
	if !decodeBody(w, r, &body) {
		return
	}

	balance, err := c.CampaignService.Fund(r.Context(), owner, body.Amount)
	if err != nil {
		handler.WriteError(w, err)
		return
	}
	handler.WriteJSON(w, http.StatusOK, map[string]any{
		"identity": owner,
		"balance":  balance,
	})
}

func (c *CampaignController) logger() *slog.Logger {
	if c.Logger == nil {
		return slog.Default()
	}
	return c.Logger
}

func campaignAddress(w http.ResponseWriter, r *http.Request) (model.Address, bool) {
	addr, err := address.Parse(chi.URLParam(r, "address"))
	if err != nil {
		handler.WriteError(w, err)
		return "", false
	}
	return addr, true
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	body := http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(body).Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			handler.WriteJSON(w, http.StatusRequestEntityTooLarge, handler.ErrorResponse{
				Error: "InvalidInput", Message: "request body too large",
			})
			return false
		}
		handler.WriteError(w, appErrors.NewInvalidInput("invalid body: %v", err))
		return false
	}
	return true
}
