package repository

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"fmt"
	"strconv"
)

// PostgresStore runs every Update inside one SQL transaction and locks the
// rows it reads with SELECT ... FOR UPDATE.
type PostgresStore struct {
	DB *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{DB: db}
}

// pgTx implements Tx on top of *sql.Tx. Its methods live next to the
// tables they touch: campaign_repository.go, account_repository.go and
// proof_repository.go.
type pgTx struct {
	tx       *sql.Tx
	readOnly bool
}

func (s *PostgresStore) Update(ctx context.Context, fn func(tx Tx) error) error {
	return s.run(ctx, false, fn)
}

func (s *PostgresStore) View(ctx context.Context, fn func(tx Tx) error) error {
	return s.run(ctx, true, fn)
}

func (s *PostgresStore) run(ctx context.Context, readOnly bool, fn func(tx Tx) error) error {
	tx, err := s.DB.BeginTx(ctx, &sql.TxOptions{ReadOnly: readOnly})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(&pgTx{tx: tx, readOnly: readOnly}); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func (s *PostgresStore) Close() error {
	return s.DB.Close()
}

func (t *pgTx) lockClause() string {
	if t.readOnly {
		return ""
	}
	return " FOR UPDATE"
}

// pgUint64 stores a uint64 in a NUMERIC(20,0) column; database/sql refuses
// uint64 values with the high bit set.
type pgUint64 uint64

func (u pgUint64) Value() (driver.Value, error) {
	return strconv.FormatUint(uint64(u), 10), nil
}

func (u *pgUint64) Scan(src any) error {
	var s string
	switch v := src.(type) {
	case []byte:
		s = string(v)
	case string:
		s = v
	case int64:
		if v < 0 {
			return fmt.Errorf("negative value %d for unsigned column", v)
		}
		*u = pgUint64(v)
		return nil
	default:
		return fmt.Errorf("cannot scan %T into uint64", src)
	}
	n, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return fmt.Errorf("parse numeric %q: %w", s, err)
	}
	*u = pgUint64(n)
	return nil
}

var _ Store = (*PostgresStore)(nil)
