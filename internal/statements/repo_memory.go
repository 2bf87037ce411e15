package statements

import (
	"context"
	"sort"
	"sync"
)

type dedupeKey struct {
	userID      string
	date        string
	amount      string
	description string
}

func keyOf(t Transaction) dedupeKey {
	return dedupeKey{
		userID:      t.UserID,
		date:        t.TxnDate.Format(dateLayout),
		amount:      t.Amount.StringFixed(2),
		description: t.Description,
	}
}

// MemoryRepo is an in-memory TransactionsRepo. Its key set mirrors the unique
// index on (user_id, txn_date, amount, description).
type MemoryRepo struct {
	mu   sync.Mutex
	keys map[dedupeKey]struct{}
	rows []Transaction
}

// NewMemoryRepo constructs a MemoryRepo.
func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{keys: make(map[dedupeKey]struct{})}
}

func (r *MemoryRepo) InsertIfAbsent(ctx context.Context, txn Transaction) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	k := keyOf(txn)
	if _, ok := r.keys[k]; ok {
		return false, nil
	}
	r.keys[k] = struct{}{}
	r.rows = append(r.rows, txn)
	return true, nil
}

// ListByUser returns the user's transactions, latest date first.
func (r *MemoryRepo) ListByUser(ctx context.Context, userID string, limit int) ([]Transaction, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Transaction
	for _, t := range r.rows {
		if t.UserID == userID {
			out = append(out, t)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].TxnDate.After(out[j].TxnDate) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
