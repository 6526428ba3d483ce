package repository

import (
	"context"
	"errors"
	"sort"
	"sync"

	appErrors "github.com/unclebandit/engagement-escrow/internal/errors"
	"github.com/unclebandit/engagement-escrow/internal/model"
)

var errReadOnlyTx = errors.New("write in read-only transaction")

// MemoryStore keeps everything in process. Update holds the store lock for
// the whole transaction and applies staged writes only on success.
type MemoryStore struct {
	mu sync.RWMutex

	campaigns map[model.Address]*model.Campaign
	balances  map[model.AccountID]uint64
	proofs    map[model.Address][]*model.Proof
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		campaigns: make(map[model.Address]*model.Campaign),
		balances:  make(map[model.AccountID]uint64),
		proofs:    make(map[model.Address][]*model.Proof),
	}
}

type memTx struct {
	s        *MemoryStore
	readOnly bool

	campaigns map[model.Address]*model.Campaign
	inserted  map[model.Address]bool
	balances  map[model.AccountID]uint64
	proofs    []*model.Proof
}

func (s *MemoryStore) Update(ctx context.Context, fn func(tx Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := s.newTx(false)
	if err := fn(tx); err != nil {
		return err
	}
	for addr, c := range tx.campaigns {
		s.campaigns[addr] = c
	}
	for account, amount := range tx.balances {
		s.balances[account] = amount
	}
	for _, p := range tx.proofs {
		s.proofs[p.CampaignAddress] = append(s.proofs[p.CampaignAddress], p)
	}
	return nil
}

func (s *MemoryStore) View(ctx context.Context, fn func(tx Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return fn(s.newTx(true))
}

func (s *MemoryStore) newTx(readOnly bool) *memTx {
	return &memTx{
		s:         s,
		readOnly:  readOnly,
		campaigns: make(map[model.Address]*model.Campaign),
		inserted:  make(map[model.Address]bool),
		balances:  make(map[model.AccountID]uint64),
	}
}

func (t *memTx) GetCampaign(_ context.Context, addr model.Address) (*model.Campaign, error) {
	if c, ok := t.campaigns[addr]; ok {
		return c.Clone(), nil
	}
	c, ok := t.s.campaigns[addr]
	if !ok {
		return nil, appErrors.NewCampaignNotFound(string(addr))
	}
	return c.Clone(), nil
}

func (t *memTx) InsertCampaign(_ context.Context, c *model.Campaign) error {
	if t.readOnly {
		return errReadOnlyTx
	}
	if _, exists := t.s.campaigns[c.Address]; exists || t.inserted[c.Address] {
		return appErrors.ErrCampaignExists
	}
	t.inserted[c.Address] = true
	t.campaigns[c.Address] = c.Clone()
	return nil
}

func (t *memTx) UpdateCampaign(_ context.Context, c *model.Campaign) error {
	if t.readOnly {
		return errReadOnlyTx
	}
	if _, exists := t.s.campaigns[c.Address]; !exists && !t.inserted[c.Address] {
		return appErrors.NewCampaignNotFound(string(c.Address))
	}
	t.campaigns[c.Address] = c.Clone()
	return nil
}

func (t *memTx) Balance(_ context.Context, account model.AccountID) (uint64, error) {
	if amount, ok := t.balances[account]; ok {
		return amount, nil
	}
	return t.s.balances[account], nil
}

func (t *memTx) SetBalance(_ context.Context, account model.AccountID, amount uint64) error {
	if t.readOnly {
		return errReadOnlyTx
	}
	t.balances[account] = amount
	return nil
}

func (t *memTx) AppendProof(_ context.Context, p *model.Proof) error {
	if t.readOnly {
		return errReadOnlyTx
	}
	cp := *p
	t.proofs = append(t.proofs, &cp)
	return nil
}

func (s *MemoryStore) ListCampaigns(ctx context.Context, filter CampaignFilter, offset, limit int) ([]*model.Campaign, int, error) {
	if err := ctx.Err(); err != nil {
		return nil, 0, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	items := make([]*model.Campaign, 0, len(s.campaigns))
	for _, c := range s.campaigns {
		if matches(c, filter) {
			items = append(items, c.Clone())
		}
	}
	sortNewestFirst(items)
	return page(items, offset, limit), len(items), nil
}

func (s *MemoryStore) ListProofs(ctx context.Context, addr model.Address, offset, limit int) ([]*model.Proof, int, error) {
	if err := ctx.Err(); err != nil {
		return nil, 0, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	all := s.proofs[addr]
	items := make([]*model.Proof, 0, len(all))
	for _, p := range all {
		cp := *p
		items = append(items, &cp)
	}
	return page(items, offset, limit), len(items), nil
}

func (s *MemoryStore) Close() error {
	return nil
}

func sortNewestFirst(items []*model.Campaign) {
	sort.Slice(items, func(i, j int) bool {
		if !items[i].CreatedAt.Equal(items[j].CreatedAt) {
			return items[i].CreatedAt.After(items[j].CreatedAt)
		}
		return items[i].Address < items[j].Address
	})
}

var _ Store = (*MemoryStore)(nil)
