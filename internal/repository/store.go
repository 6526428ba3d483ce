package repository

import (
	"context"

	"github.com/unclebandit/engagement-escrow/internal/model"
)

// Tx is one all-or-nothing unit of work against campaign records and
// ledger balances. Nothing written through a Tx is visible to others
// unless the function passed to Store.Update returns nil.
type Tx interface {
	// GetCampaign returns appErrors.ErrCampaignNotFound when no record exists.
	GetCampaign(ctx context.Context, addr model.Address) (*model.Campaign, error)
	// InsertCampaign returns appErrors.ErrCampaignExists on a duplicate address.
	InsertCampaign(ctx context.Context, c *model.Campaign) error
	UpdateCampaign(ctx context.Context, c *model.Campaign) error

	// Balance returns 0 for accounts that were never credited.
	Balance(ctx context.Context, account model.AccountID) (uint64, error)
	SetBalance(ctx context.Context, account model.AccountID, amount uint64) error

	AppendProof(ctx context.Context, p *model.Proof) error
}

type CampaignFilter struct {
	Creator  model.Identity
	Complete *bool
}

// Store is the keyed campaign store plus escrow ledger.
type Store interface {
	Update(ctx context.Context, fn func(tx Tx) error) error
	View(ctx context.Context, fn func(tx Tx) error) error

	// ListCampaigns returns one page, newest first, and the total match count.
	ListCampaigns(ctx context.Context, filter CampaignFilter, offset, limit int) ([]*model.Campaign, int, error)
	// ListProofs returns one page of a campaign's proofs in submission order.
	ListProofs(ctx context.Context, addr model.Address, offset, limit int) ([]*model.Proof, int, error)

	Close() error
}

func matches(c *model.Campaign, f CampaignFilter) bool {
	if f.Creator != "" && c.Creator != f.Creator {
		return false
	}
	if f.Complete != nil && c.IsComplete != *f.Complete {
		return false
	}
	return true
}

// page slices items[offset:offset+limit], clamped to bounds.
func page[T any](items []T, offset, limit int) []T {
	if offset < 0 {
		offset = 0
	}
	if limit <= 0 || offset >= len(items) {
		return []T{}
	}
	end := offset + limit
	if end > len(items) {
		end = len(items)
	}
	return items[offset:end]
}
