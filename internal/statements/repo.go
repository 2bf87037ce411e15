package statements

import "context"

// TransactionsRepo persists imported transactions.
type TransactionsRepo interface {
	// InsertIfAbsent stores txn unless a row with the same owner, date, amount
	// and description exists. inserted is false for such a duplicate.
	InsertIfAbsent(ctx context.Context, txn Transaction) (inserted bool, err error)
	ListByUser(ctx context.Context, userID string, limit int) ([]Transaction, error)
}
