// internal/service/campaign_service.go
package service

import (
	"context"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/unclebandit/engagement-escrow/internal/address"
	appErrors "github.com/unclebandit/engagement-escrow/internal/errors"
	"github.com/unclebandit/engagement-escrow/internal/metrics"
	"github.com/unclebandit/engagement-escrow/internal/model"
	"github.com/unclebandit/engagement-escrow/internal/queue"
	"github.com/unclebandit/engagement-escrow/internal/repository"
	"github.com/unclebandit/engagement-escrow/internal/safemath"
)

const DefaultEventsTopic = "escrow_events"

type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }

// CampaignService runs the four escrow state transitions. Each one takes the
// campaign's key lock, then does all of its checks and writes inside a
// single store transaction, so a failed call changes nothing.
type CampaignService struct {
	Store   repository.Store
	Queue   queue.Queue // optional; receives model.Event after each commit
	Metrics *metrics.Metrics
	Clock   Clock
	Logger  *slog.Logger

	EventsTopic string

	locks keyLocker
}

type CreateCampaignInput struct {
	Creator             model.Identity // funding party; the verified signer
	Oracle              model.Identity // optional, may be assigned later
	Budget              uint64
	RewardPerEngagement uint64
	GoalEngagements     uint64
	Hashtag             string
}

type ReleasePaymentInput struct {
	Campaign        model.Address
	Shiller         model.Identity // who the caller says is being paid
	Recipient       model.Identity // the wallet actually credited
	EngagementCount uint64
}

type ReleaseResult struct {
	CampaignAddress model.Address  `json:"campaign_address"`
	Recipient       model.Identity `json:"recipient"`
	EngagementCount uint64         `json:"engagement_count"`
	Reward          uint64         `json:"reward"`
	BudgetRemaining uint64         `json:"budget_remaining"`
}

type CampaignDetails struct {
	model.Campaign
	EscrowBalance uint64            `json:"escrow_balance"`
	Stats         map[string]uint64 `json:"stats"`
}

// CreateCampaign escrows in.Budget from the creator's wallet and records a
// new campaign at the address derived from (creator, hashtag).
func (s *CampaignService) CreateCampaign(ctx context.Context, in CreateCampaignInput) (created *model.Campaign, err error) {
	defer func() { s.observe(opCreateCampaign, err, "creator", in.Creator, "hashtag", in.Hashtag) }()

	if !in.Creator.Valid() {
		return nil, appErrors.NewInvalidInput("creator must be a valid identity")
	}
	if !in.Oracle.IsZero() && !in.Oracle.Valid() {
		return nil, appErrors.NewInvalidInput("oracle must be a valid identity")
	}
	if in.Budget == 0 || in.RewardPerEngagement == 0 || in.GoalEngagements == 0 {
		return nil, appErrors.NewInvalidInput("budget, reward_per_engagement and goal_engagements must be positive")
	}
	addr, err := address.Derive(in.Creator, in.Hashtag)
	if err != nil {
		return nil, err
	}

	unlock := s.locks.Lock(string(addr))
	defer unlock()

	now := s.now()
	err = s.Store.Update(ctx, func(tx repository.Tx) error {
		created = nil
		if _, err := tx.GetCampaign(ctx, addr); err == nil {
			return appErrors.ErrCampaignExists
		} else if appErrors.CodeOf(err) != appErrors.CodeCampaignNotFound {
			return err
		}

		wallet := model.WalletAccount(in.Creator)
		walletBal, err := tx.Balance(ctx, wallet)
		if err != nil {
			return err
		}
		if walletBal < in.Budget {
			return appErrors.ErrInsufficientFunds
		}
		escrow := model.EscrowAccount(addr)
		escrowBal, err := tx.Balance(ctx, escrow)
		if err != nil {
			return err
		}
		newEscrowBal, err := safemath.Add(escrowBal, in.Budget)
		if err != nil {
			return err
		}

		c := &model.Campaign{
			Address:             addr,
			Creator:             in.Creator,
			Oracle:              in.Oracle,
			Budget:              in.Budget,
			RewardPerEngagement: in.RewardPerEngagement,
			GoalEngagements:     in.GoalEngagements,
			Hashtag:             in.Hashtag,
			CreatedAt:           now,
		}
		if err := tx.InsertCampaign(ctx, c); err != nil {
			return err
		}
		if err := tx.SetBalance(ctx, wallet, walletBal-in.Budget); err != nil {
			return err
		}
		if err := tx.SetBalance(ctx, escrow, newEscrowBal); err != nil {
			return err
		}
		created = c
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.Metrics.AddEscrowed(created.Budget)
	s.publish(model.EventCampaignCreated, addr, map[string]any{
		"creator":               created.Creator,
		"oracle":                created.Oracle,
		"budget":                created.Budget,
		"reward_per_engagement": created.RewardPerEngagement,
		"goal_engagements":      created.GoalEngagements,
		"hashtag":               created.Hashtag,
	})
	return created, nil
}

// SetOracle lets the creator (and only the creator) replace the oracle.
// Assigning the current oracle again is accepted and changes nothing.
func (s *CampaignService) SetOracle(ctx context.Context, caller model.Identity, addr model.Address, oracle model.Identity) (updated *model.Campaign, err error) {
	defer func() { s.observe(opSetOracle, err, "campaign", addr, "caller", caller) }()

	if !oracle.Valid() {
		return nil, appErrors.NewInvalidInput("oracle must be a valid identity")
	}

	unlock := s.locks.Lock(string(addr))
	defer unlock()

	changed := false
	now := s.now()
	err = s.Store.Update(ctx, func(tx repository.Tx) error {
		c, err := tx.GetCampaign(ctx, addr)
		if err != nil {
			return err
		}
		if err := authorize(opSetOracle, caller, c); err != nil {
			return err
		}
		updated, changed = c, false
		if c.Oracle == oracle {
			return nil
		}
		c.Oracle = oracle
		c.UpdatedAt = &now
		changed = true
		return tx.UpdateCampaign(ctx, c)
	})
	if err != nil {
		return nil, err
	}

	if changed {
		s.publish(model.EventOracleSet, addr, map[string]any{"oracle": oracle})
	}
	return updated, nil
}

// SubmitProof adds engagementCount newly verified engagements. Only the
// campaign's oracle may call it, and it never moves funds.
func (s *CampaignService) SubmitProof(ctx context.Context, caller model.Identity, addr model.Address, engagementCount uint64, referenceID string) (updated *model.Campaign, err error) {
	defer func() { s.observe(opSubmitProof, err, "campaign", addr, "caller", caller, "count", engagementCount) }()

	if len(referenceID) > model.MaxReferenceIDLength {
		return nil, appErrors.NewInvalidInput("reference_id exceeds %d bytes", model.MaxReferenceIDLength)
	}

	unlock := s.locks.Lock(string(addr))
	defer unlock()

	var completedNow bool
	now := s.now()
	err = s.Store.Update(ctx, func(tx repository.Tx) error {
		c, err := tx.GetCampaign(ctx, addr)
		if err != nil {
			return err
		}
		if err := authorize(opSubmitProof, caller, c); err != nil {
			return err
		}
		total, err := safemath.Add(c.EngagementsVerified, engagementCount)
		if err != nil {
			return err
		}

		completedNow = false
		c.EngagementsVerified = total
		if !c.IsComplete && total >= c.GoalEngagements {
			c.IsComplete = true
			completedNow = true
		}
		c.UpdatedAt = &now
		if err := tx.UpdateCampaign(ctx, c); err != nil {
			return err
		}
		if err := tx.AppendProof(ctx, &model.Proof{
			ID:                  uuid.NewString(),
			CampaignAddress:     addr,
			Oracle:              caller,
			EngagementCount:     engagementCount,
			ReferenceID:         referenceID,
			EngagementsVerified: total,
			CreatedAt:           now,
		}); err != nil {
			return err
		}
		updated = c
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.publish(model.EventProofSubmitted, addr, map[string]any{
		"engagement_count":     engagementCount,
		"engagements_verified": updated.EngagementsVerified,
		"reference_id":         referenceID,
	})
	if completedNow {
		s.logger().Info("campaign goal reached", "campaign", addr, "goal", updated.GoalEngagements)
		s.publish(model.EventCampaignComplete, addr, map[string]any{
			"goal_engagements":     updated.GoalEngagements,
			"engagements_verified": updated.EngagementsVerified,
		})
	}
	return updated, nil
}

// ReleasePayment pays EngagementCount * reward_per_engagement from the
// campaign's escrow to the recipient. No signer is required.
//
// Nothing records which engagements were already paid: the same count can
// be released again for as long as the budget covers it. Callers that need
// exactly-once payouts must track that themselves.
func (s *CampaignService) ReleasePayment(ctx context.Context, in ReleasePaymentInput) (result *ReleaseResult, err error) {
	defer func() {
		s.observe(opReleasePayment, err, "campaign", in.Campaign, "recipient", in.Recipient, "count", in.EngagementCount)
	}()

	unlock := s.locks.Lock(string(in.Campaign))
	defer unlock()

	now := s.now()
	err = s.Store.Update(ctx, func(tx repository.Tx) error {
		c, err := tx.GetCampaign(ctx, in.Campaign)
		if err != nil {
			return err
		}
		if err := authorize(opReleasePayment, "", c); err != nil {
			return err
		}
		if !c.IsComplete {
			return appErrors.ErrCampaignNotComplete
		}
		if in.Shiller != in.Recipient {
			return appErrors.ErrInvalidShiller
		}
		if !in.Recipient.Valid() {
			return appErrors.NewInvalidInput("recipient must be a valid identity")
		}
		reward, err := safemath.Mul(in.EngagementCount, c.RewardPerEngagement)
		if err != nil {
			return err
		}
		if reward > c.Budget {
			return appErrors.ErrInsufficientBudget
		}

		escrow := model.EscrowAccount(c.Address)
		escrowBal, err := tx.Balance(ctx, escrow)
		if err != nil {
			return err
		}
		newEscrowBal, err := safemath.Sub(escrowBal, reward)
		if err != nil {
			return err
		}
		wallet := model.WalletAccount(in.Recipient)
		walletBal, err := tx.Balance(ctx, wallet)
		if err != nil {
			return err
		}
		newWalletBal, err := safemath.Add(walletBal, reward)
		if err != nil {
			return err
		}
		newBudget, err := safemath.Sub(c.Budget, reward)
		if err != nil {
			return err
		}

		if err := tx.SetBalance(ctx, escrow, newEscrowBal); err != nil {
			return err
		}
		if err := tx.SetBalance(ctx, wallet, newWalletBal); err != nil {
			return err
		}
		c.Budget = newBudget
		c.UpdatedAt = &now
		if err := tx.UpdateCampaign(ctx, c); err != nil {
			return err
		}
		result = &ReleaseResult{
			CampaignAddress: c.Address,
			Recipient:       in.Recipient,
			EngagementCount: in.EngagementCount,
			Reward:          reward,
			BudgetRemaining: newBudget,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.Metrics.AddReleased(result.Reward)
	s.publish(model.EventPaymentReleased, in.Campaign, map[string]any{
		"recipient":        result.Recipient,
		"engagement_count": result.EngagementCount,
		"reward":           result.Reward,
		"budget_remaining": result.BudgetRemaining,
	})
	return result, nil
}

// Fund credits a wallet. It stands in for native-currency deposits.
func (s *CampaignService) Fund(ctx context.Context, owner model.Identity, amount uint64) (balance uint64, err error) {
	defer func() { s.observe(opFund, err, "owner", owner, "amount", amount) }()

	if !owner.Valid() {
		return 0, appErrors.NewInvalidInput("owner must be a valid identity")
	}
	if amount == 0 {
		return 0, appErrors.NewInvalidInput("amount must be positive")
	}
	account := model.WalletAccount(owner)
	err = s.Store.Update(ctx, func(tx repository.Tx) error {
		bal, err := tx.Balance(ctx, account)
		if err != nil {
			return err
		}
		balance, err = safemath.Add(bal, amount)
		if err != nil {
			return err
		}
		return tx.SetBalance(ctx, account, balance)
	})
	if err != nil {
		return 0, err
	}
	s.Metrics.AddFunded(amount)
	s.publish(model.EventAccountFunded, "", map[string]any{"owner": owner, "amount": amount, "balance": balance})
	return balance, nil
}

// Balance returns the spendable wallet balance of owner.
func (s *CampaignService) Balance(ctx context.Context, owner model.Identity) (uint64, error) {
	if !owner.Valid() {
		return 0, appErrors.NewInvalidInput("owner must be a valid identity")
	}
	var bal uint64
	err := s.Store.View(ctx, func(tx repository.Tx) error {
		var err error
		bal, err = tx.Balance(ctx, model.WalletAccount(owner))
		return err
	})
	return bal, err
}

// GetCampaign fetches one campaign record.
func (s *CampaignService) GetCampaign(ctx context.Context, addr model.Address) (*model.Campaign, error) {
	var c *model.Campaign
	err := s.Store.View(ctx, func(tx repository.Tx) error {
		var err error
		c, err = tx.GetCampaign(ctx, addr)
		return err
	})
	return c, err
}

// GetCampaignDetails fetches a campaign with its escrow balance and progress stats
func (s *CampaignService) GetCampaignDetails(ctx context.Context, addr model.Address) (*CampaignDetails, error) {
	var details *CampaignDetails
	err := s.Store.View(ctx, func(tx repository.Tx) error {
		c, err := tx.GetCampaign(ctx, addr)
		if err != nil {
			return err
		}
		escrowBal, err := tx.Balance(ctx, model.EscrowAccount(addr))
		if err != nil {
			return err
		}
		details = &CampaignDetails{Campaign: *c, EscrowBalance: escrowBal}
		return nil
	})
	if err != nil {
		return nil, err
	}

	_, proofCount, err := s.Store.ListProofs(ctx, addr, 0, 0)
	if err != nil {
		return nil, err
	}

	var toGoal uint64
	if details.EngagementsVerified < details.GoalEngagements {
		toGoal = details.GoalEngagements - details.EngagementsVerified
	}
	details.Stats = map[string]uint64{
		"proofs":              uint64(proofCount),
		"engagements_to_goal": toGoal,
		"payable_engagements": details.Budget / details.RewardPerEngagement,
	}
	return details, nil
}

// ListCampaigns fetches campaigns with pagination
func (s *CampaignService) ListCampaigns(ctx context.Context, page, pageSize int, creator model.Identity, complete *bool) ([]model.Campaign, map[string]int, error) {
	page, pageSize, offset := normalizePage(page, pageSize)

	ptrs, total, err := s.Store.ListCampaigns(ctx, repository.CampaignFilter{Creator: creator, Complete: complete}, offset, pageSize)
	if err != nil {
		return nil, nil, err
	}

	campaigns := make([]model.Campaign, len(ptrs))
	for i, c := range ptrs {
		campaigns[i] = *c
	}
	return campaigns, pagination(page, pageSize, total), nil
}

// ListProofs fetches a campaign's accepted proofs with pagination
func (s *CampaignService) ListProofs(ctx context.Context, addr model.Address, page, pageSize int) ([]model.Proof, map[string]int, error) {
	page, pageSize, offset := normalizePage(page, pageSize)

	// Surface a missing campaign as such rather than as an empty list.
	if err := s.Store.View(ctx, func(tx repository.Tx) error {
		_, err := tx.GetCampaign(ctx, addr)
		return err
	}); err != nil {
		return nil, nil, err
	}

	ptrs, total, err := s.Store.ListProofs(ctx, addr, offset, pageSize)
	if err != nil {
		return nil, nil, err
	}
	proofs := make([]model.Proof, len(ptrs))
	for i, p := range ptrs {
		proofs[i] = *p
	}
	return proofs, pagination(page, pageSize, total), nil
}

func normalizePage(page, pageSize int) (int, int, int) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 20
	}
	if pageSize > 100 {
		pageSize = 100
	}
	return page, pageSize, (page - 1) * pageSize
}

func pagination(page, pageSize, total int) map[string]int {
	return map[string]int{
		"page":        page,
		"page_size":   pageSize,
		"total_count": total,
		"total_pages": (total + pageSize - 1) / pageSize,
	}
}

func (s *CampaignService) now() time.Time {
	if s.Clock == nil {
		return systemClock{}.Now()
	}
	return s.Clock.Now()
}

func (s *CampaignService) observe(op string, err error, attrs ...any) {
	s.Metrics.ObserveOperation(op, err)
	logger := s.logger()
	args := append([]any{"op", op}, attrs...)
	switch {
	case err == nil:
		logger.Info("operation committed", args...)
	case appErrors.CodeOf(err) != "":
		logger.Warn("operation rejected", append(args, "code", appErrors.CodeOf(err))...)
	default:
		logger.Error("operation failed", append(args, "error", err)...)
	}
}

func (s *CampaignService) publish(eventType model.EventType, addr model.Address, data map[string]any) {
	if s.Queue == nil {
		return
	}
	topic := s.EventsTopic
	if topic == "" {
		topic = DefaultEventsTopic
	}
	ev := model.Event{
		ID:        uuid.NewString(),
		Type:      eventType,
		Campaign:  addr,
		Timestamp: s.now(),
		Data:      data,
	}
	if err := s.Queue.Publish(topic, ev); err != nil {
		s.logger().Warn("failed to publish event", "type", eventType, "campaign", addr, "error", err)
	}
}

func (s *CampaignService) logger() *slog.Logger {
	if s.Logger == nil {
		return discardLogger
	}
	return s.Logger
}

var discardLogger = slog.New(slog.NewTextHandler(io.Discard, nil))
