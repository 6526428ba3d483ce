package repository

import (
	"context"

	"github.com/unclebandit/engagement-escrow/internal/model"
)

// Balance reads (and, in a writable tx, row-locks) a ledger account. The
// zero row is inserted first so that concurrent first credits to the same
// account serialize on the primary key instead of racing.
func (t *pgTx) Balance(ctx context.Context, account model.AccountID) (uint64, error) {
	if !t.readOnly {
		_, err := t.tx.ExecContext(ctx,
			`INSERT INTO balances (account, amount) VALUES ($1, 0) ON CONFLICT (account) DO NOTHING`,
			string(account))
		if err != nil {
			return 0, err
		}
	}

	var amount pgUint64
	query := `SELECT amount FROM balances WHERE account=$1` + t.lockClause()
	rows, err := t.tx.QueryContext(ctx, query, string(account))
	if err != nil {
		return 0, err
	}
	defer rows.Close()
	if !rows.Next() {
		return 0, rows.Err()
	}
	if err := rows.Scan(&amount); err != nil {
		return 0, err
	}
	return uint64(amount), rows.Err()
}

func (t *pgTx) SetBalance(ctx context.Context, account model.AccountID, amount uint64) error {
	query := `
        INSERT INTO balances (account, amount, updated_at)
        VALUES ($1, $2, NOW())
        ON CONFLICT (account) DO UPDATE SET amount=EXCLUDED.amount, updated_at=NOW()
    `
	_, err := t.tx.ExecContext(ctx, query, string(account), pgUint64(amount))
	return err
}
