package statements

import (
	"time"

	"github.com/shopspring/decimal"
)

// TxnType is the direction of a transaction from the owner's point of view.
type TxnType string

const (
	TypeIncome  TxnType = "income"
	TypeExpense TxnType = "expense"
)

// SourceStatement marks rows created by a statement import.
const SourceStatement = "statement"

// Transaction is one financial transaction owned by a user.
type Transaction struct {
	ID          string          `json:"id"`
	UserID      string          `json:"-"`
	Type        TxnType         `json:"type"`
	Amount      decimal.Decimal `json:"amount"`
	Description string          `json:"description"`
	Category    string          `json:"category"`
	TxnDate     time.Time       `json:"date"`
	Source      string          `json:"source"`
	CreatedAt   time.Time       `json:"createdAt"`
}

// Import outcome statuses.
const (
	StatusOK      = "ok"
	StatusPartial = "partial"
	StatusFailed  = "failed"
)

// RowSkip names a line that was not inserted because it already exists.
type RowSkip struct {
	Index  int    `json:"index"`
	Reason string `json:"reason"`
}

// RowError names a line that could not be mapped or stored.
type RowError struct {
	Index   int    `json:"index"`
	Message string `json:"message"`
}

// Summary echoes the statement header returned by the parser.
type Summary struct {
	AccountNumber  string           `json:"accountNumber,omitempty"`
	AccountHolder  string           `json:"accountHolder,omitempty"`
	Period         string           `json:"period,omitempty"`
	OpeningBalance *decimal.Decimal `json:"openingBalance,omitempty"`
	ClosingBalance *decimal.Decimal `json:"closingBalance,omitempty"`
	TotalCredits   decimal.Decimal  `json:"totalCredits"`
	TotalDebits    decimal.Decimal  `json:"totalDebits"`
}

// Result reports the outcome of one import.
type Result struct {
	Status       string        `json:"status"`
	Total        int           `json:"total"`
	Inserted     int           `json:"inserted"`
	Skipped      int           `json:"skipped"`
	Failed       int           `json:"failed"`
	Transactions []Transaction `json:"transactions"`
	Skips        []RowSkip     `json:"skips"`
	Errors       []RowError    `json:"errors"`
	Summary      Summary       `json:"summary"`
}

func (r *Result) finish() {
	switch {
	case r.Total > 0 && r.Failed == r.Total:
		r.Status = StatusFailed
	case r.Failed > 0:
		r.Status = StatusPartial
	default:
		r.Status = StatusOK
	}
}
