package statements

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// PGRepo implements TransactionsRepo using Postgres.
type PGRepo struct {
	DB *sql.DB
}

func (r *PGRepo) InsertIfAbsent(ctx context.Context, txn Transaction) (bool, error) {
	const query = `
INSERT INTO transactions (id, user_id, type, amount, description, category, txn_date, source, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
ON CONFLICT (user_id, txn_date, amount, description) DO NOTHING
RETURNING id`

	var id string
	err := r.DB.QueryRowContext(ctx, query,
		txn.ID,
		txn.UserID,
		string(txn.Type),
		txn.Amount.StringFixed(2),
		txn.Description,
		txn.Category,
		txn.TxnDate.Format(dateLayout),
		txn.Source,
		txn.CreatedAt,
	).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("insert transaction: %w", err)
	}
	return true, nil
}

func (r *PGRepo) ListByUser(ctx context.Context, userID string, limit int) ([]Transaction, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	const query = `
SELECT id, user_id, type, amount::text, description, category, txn_date, source, created_at
FROM transactions
WHERE user_id = $1
ORDER BY txn_date DESC, created_at DESC
LIMIT $2`

	rows, err := r.DB.QueryContext(ctx, query, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	defer rows.Close()

	var out []Transaction
	for rows.Next() {
		var (
			t      Transaction
			typ    string
			amount string
		)
		if err := rows.Scan(&t.ID, &t.UserID, &typ, &amount, &t.Description, &t.Category, &t.TxnDate, &t.Source, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan transaction: %w", err)
		}
		t.Type = TxnType(typ)
		if t.Amount, err = parseAmount(amount); err != nil {
			return nil, fmt.Errorf("scan transaction %s amount: %w", t.ID, err)
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	return out, nil
}
