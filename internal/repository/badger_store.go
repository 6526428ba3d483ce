package repository

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	badger "github.com/dgraph-io/badger/v4"

	appErrors "github.com/unclebandit/engagement-escrow/internal/errors"
	"github.com/unclebandit/engagement-escrow/internal/model"
)

const (
	campaignPrefix = "campaign/"
	balancePrefix  = "balance/"
	proofPrefix    = "proof/"

	DefaultConflictRetries = 5
)

// BadgerStore persists campaigns, balances and proofs in badger. With no
// data dir it runs fully in memory.
type BadgerStore struct {
	db              *badger.DB
	logger          *slog.Logger
	dataDir         string
	conflictRetries int
}

type BadgerStoreOptionFunc func(*BadgerStore)

// WithBadgerLogger specifies the logger object to use for logging messages
func WithBadgerLogger(logger *slog.Logger) BadgerStoreOptionFunc {
	return func(s *BadgerStore) {
		s.logger = logger
	}
}

// WithBadgerDataDir specifies the data directory to use for storage
func WithBadgerDataDir(dataDir string) BadgerStoreOptionFunc {
	return func(s *BadgerStore) {
		s.dataDir = dataDir
	}
}

// WithConflictRetries bounds how often an Update is re-run after a write conflict
func WithConflictRetries(n int) BadgerStoreOptionFunc {
	return func(s *BadgerStore) {
		s.conflictRetries = n
	}
}

func NewBadgerStore(opts ...BadgerStoreOptionFunc) (*BadgerStore, error) {
	s := &BadgerStore{conflictRetries: DefaultConflictRetries}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}

	var badgerOpts badger.Options
	if s.dataDir == "" {
		badgerOpts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(s.dataDir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create data dir: %w", err)
		}
		badgerOpts = badger.DefaultOptions(s.dataDir)
	}
	badgerOpts = badgerOpts.
		WithLogger(&badgerLogger{logger: s.logger}).
		// The default INFO logging is a bit verbose
		WithLoggingLevel(badger.WARNING)

	db, err := badger.Open(badgerOpts)
	if err != nil {
		return nil, fmt.Errorf("open badger: %w", err)
	}
	s.db = db
	return s, nil
}

func (s *BadgerStore) Update(ctx context.Context, fn func(tx Tx) error) error {
	for attempt := 0; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		err := s.db.Update(func(txn *badger.Txn) error {
			return fn(&badgerTx{txn: txn})
		})
		if errors.Is(err, badger.ErrConflict) && attempt < s.conflictRetries {
			s.logger.Debug("badger write conflict, retrying", "attempt", attempt+1)
			continue
		}
		return err
	}
}

func (s *BadgerStore) View(ctx context.Context, fn func(tx Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.View(func(txn *badger.Txn) error {
		return fn(&badgerTx{txn: txn})
	})
}

func (s *BadgerStore) ListCampaigns(ctx context.Context, filter CampaignFilter, offset, limit int) ([]*model.Campaign, int, error) {
	if err := ctx.Err(); err != nil {
		return nil, 0, err
	}
	var items []*model.Campaign
	err := s.db.View(func(txn *badger.Txn) error {
		return iteratePrefix(txn, []byte(campaignPrefix), func(val []byte) error {
			c := &model.Campaign{}
			if err := json.Unmarshal(val, c); err != nil {
				return fmt.Errorf("decode campaign: %w", err)
			}
			if matches(c, filter) {
				items = append(items, c)
			}
			return nil
		})
	})
	if err != nil {
		return nil, 0, err
	}
	sortNewestFirst(items)
	return page(items, offset, limit), len(items), nil
}

func (s *BadgerStore) ListProofs(ctx context.Context, addr model.Address, offset, limit int) ([]*model.Proof, int, error) {
	if err := ctx.Err(); err != nil {
		return nil, 0, err
	}
	var items []*model.Proof
	err := s.db.View(func(txn *badger.Txn) error {
		return iteratePrefix(txn, []byte(proofPrefix+string(addr)+"/"), func(val []byte) error {
			p := &model.Proof{}
			if err := json.Unmarshal(val, p); err != nil {
				return fmt.Errorf("decode proof: %w", err)
			}
			items = append(items, p)
			return nil
		})
	})
	if err != nil {
		return nil, 0, err
	}
	return page(items, offset, limit), len(items), nil
}

func (s *BadgerStore) Close() error {
	return s.db.Close()
}

// badgerTx wraps a badger transaction and implements Tx
type badgerTx struct {
	txn *badger.Txn
}

func (t *badgerTx) GetCampaign(_ context.Context, addr model.Address) (*model.Campaign, error) {
	item, err := t.txn.Get(campaignKey(addr))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, appErrors.NewCampaignNotFound(string(addr))
	}
	if err != nil {
		return nil, err
	}
	val, err := item.ValueCopy(nil)
	if err != nil {
		return nil, err
	}
	c := &model.Campaign{}
	if err := json.Unmarshal(val, c); err != nil {
		return nil, fmt.Errorf("decode campaign %s: %w", addr, err)
	}
	return c, nil
}

func (t *badgerTx) InsertCampaign(ctx context.Context, c *model.Campaign) error {
	_, err := t.txn.Get(campaignKey(c.Address))
	if err == nil {
		return appErrors.ErrCampaignExists
	}
	if !errors.Is(err, badger.ErrKeyNotFound) {
		return err
	}
	return t.putCampaign(c)
}

func (t *badgerTx) UpdateCampaign(ctx context.Context, c *model.Campaign) error {
	if _, err := t.GetCampaign(ctx, c.Address); err != nil {
		return err
	}
	return t.putCampaign(c)
}

func (t *badgerTx) putCampaign(c *model.Campaign) error {
	val, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("encode campaign: %w", err)
	}
	return t.txn.Set(campaignKey(c.Address), val)
}

func (t *badgerTx) Balance(_ context.Context, account model.AccountID) (uint64, error) {
	item, err := t.txn.Get(balanceKey(account))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	val, err := item.ValueCopy(nil)
	if err != nil {
		return 0, err
	}
	if len(val) != 8 {
		return 0, fmt.Errorf("corrupt balance for %s", account)
	}
	return binary.BigEndian.Uint64(val), nil
}

func (t *badgerTx) SetBalance(_ context.Context, account model.AccountID, amount uint64) error {
	return t.txn.Set(balanceKey(account), binary.BigEndian.AppendUint64(nil, amount))
}

func (t *badgerTx) AppendProof(_ context.Context, p *model.Proof) error {
	val, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("encode proof: %w", err)
	}
	key := fmt.Sprintf("%s%s/%020d/%s", proofPrefix, p.CampaignAddress, p.CreatedAt.UnixNano(), p.ID)
	return t.txn.Set([]byte(key), val)
}

func campaignKey(addr model.Address) []byte {
	return []byte(campaignPrefix + string(addr))
}

func balanceKey(account model.AccountID) []byte {
	return []byte(balancePrefix + string(account))
}

func iteratePrefix(txn *badger.Txn, prefix []byte, fn func(val []byte) error) error {
	opts := badger.DefaultIteratorOptions
	opts.Prefix = prefix
	it := txn.NewIterator(opts)
	defer it.Close()
	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		val, err := it.Item().ValueCopy(nil)
		if err != nil {
			return err
		}
		if err := fn(val); err != nil {
			return err
		}
	}
	return nil
}

// badgerLogger routes badger's printf-style logging into slog
type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(msg string, args ...any) {
	l.logger.Error(fmt.Sprintf(msg, args...), "component", "badger")
}

func (l *badgerLogger) Warningf(msg string, args ...any) {
	l.logger.Warn(fmt.Sprintf(msg, args...), "component", "badger")
}

func (l *badgerLogger) Infof(msg string, args ...any) {
	l.logger.Info(fmt.Sprintf(msg, args...), "component", "badger")
}

func (l *badgerLogger) Debugf(msg string, args ...any) {
	l.logger.Debug(fmt.Sprintf(msg, args...), "component", "badger")
}

var _ Store = (*BadgerStore)(nil)
