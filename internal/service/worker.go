package service

import (
	"context"
	"log/slog"
	"time"

	appErrors "github.com/unclebandit/engagement-escrow/internal/errors"
	"github.com/unclebandit/engagement-escrow/internal/model"
)

const DefaultJobTimeout = 10 * time.Second

// Releaser defines the method the payout worker needs
type Releaser interface {
	ReleasePayment(ctx context.Context, in ReleasePaymentInput) (*ReleaseResult, error)
}

// PayoutWorker executes queued release jobs
type PayoutWorker struct {
	Releaser Releaser
	Logger   *slog.Logger
	Timeout  time.Duration
}

// Constructor
func NewPayoutWorker(releaser Releaser, logger *slog.Logger) *PayoutWorker {
	if logger == nil {
		logger = discardLogger
	}
	return &PayoutWorker{
		Releaser: releaser,
		Logger:   logger,
		Timeout:  DefaultJobTimeout,
	}
}

// Handle runs one job. A job rejected with an escrow code is final and is
// acknowledged; any other failure is returned so the queue retries it.
func (w *PayoutWorker) Handle(job model.ReleaseJob) error {
	timeout := w.Timeout
	if timeout <= 0 {
		timeout = DefaultJobTimeout
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	res, err := w.Releaser.ReleasePayment(ctx, ReleasePaymentInput{
		Campaign:        job.CampaignAddress,
		Shiller:         job.Shiller,
		Recipient:       job.Recipient,
		EngagementCount: job.EngagementCount,
	})
	if err != nil {
		if code := appErrors.CodeOf(err); code != "" {
			w.Logger.Warn("release job rejected",
				"campaign", job.CampaignAddress, "recipient", job.Recipient, "code", code)
			return nil
		}
		return err
	}

	w.Logger.Info("release job paid",
		"campaign", res.CampaignAddress, "recipient", res.Recipient,
		"reward", res.Reward, "budget_remaining", res.BudgetRemaining)
	return nil
}
