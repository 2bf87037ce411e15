package extraction

import (
	"github.com/shopspring/decimal"
)

// DefaultCurrency is assumed when the service omits one.
const DefaultCurrency = "INR"

const placeholderVendor = "Unknown Vendor"

// ReceiptResult holds the fields extracted from one receipt.
type ReceiptResult struct {
	Amount           decimal.NullDecimal
	Date             string
	Vendor           string
	Currency         string
	Confidence       float64
	RawText          string
	ProcessingStatus string
}

// StatementLine is one transaction row parsed from a statement.
type StatementLine struct {
	Date        string
	Description string
	Amount      decimal.Decimal
	Balance     decimal.NullDecimal
	Type        string
	Category    string
}

// StatementResult is a parsed bank statement.
type StatementResult struct {
	AccountNumber    string
	AccountHolder    string
	Period           string
	OpeningBalance   decimal.NullDecimal
	ClosingBalance   decimal.NullDecimal
	Transactions     []StatementLine
	TotalCredits     decimal.Decimal
	TotalDebits      decimal.Decimal
	TransactionCount int
}

// HealthStatus is the reply of the service health endpoint.
type HealthStatus struct {
	Status  string `json:"status"`
	Service string `json:"service,omitempty"`
	Version string `json:"version,omitempty"`
}

// Healthy reports whether the service described itself as healthy.
func (h HealthStatus) Healthy() bool {
	return h.Status == "healthy"
}

type receiptEnvelope struct {
	Success bool        `json:"success"`
	Message string      `json:"message"`
	Data    receiptData `json:"data"`
}

type receiptData struct {
	RawText          string         `json:"raw_text"`
	ExtractedData    *extractedData `json:"extracted_data"`
	ProcessingStatus string         `json:"processing_status"`
	Error            string         `json:"error"`
	ConfidenceScore  *float64       `json:"confidence_score"`
}

type extractedData struct {
	Amount   decimal.NullDecimal `json:"amount"`
	Date     *string             `json:"date"`
	Vendor   *string             `json:"vendor"`
	Currency *string             `json:"currency"`
}

type statementBody struct {
	AccountNumber    *string             `json:"account_number"`
	AccountHolder    *string             `json:"account_holder"`
	StatementPeriod  *string             `json:"statement_period"`
	OpeningBalance   decimal.NullDecimal `json:"opening_balance"`
	ClosingBalance   decimal.NullDecimal `json:"closing_balance"`
	Transactions     []statementTxn      `json:"transactions"`
	TotalCredits     decimal.Decimal     `json:"total_credits"`
	TotalDebits      decimal.Decimal     `json:"total_debits"`
	TransactionCount int                 `json:"transaction_count"`
}

type statementTxn struct {
	Date            string              `json:"date"`
	Description     string              `json:"description"`
	Amount          decimal.Decimal     `json:"amount"`
	Balance         decimal.NullDecimal `json:"balance"`
	TransactionType string              `json:"transaction_type"`
	Category        *string             `json:"category"`
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
