// Package statements imports the transactions of a bank statement PDF,
// skipping rows that were already imported.
package statements

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"expense-backend/internal/extraction"
	"expense-backend/internal/intake"
	"expense-backend/internal/shared/metrics"
	"expense-backend/internal/shared/storage/object"
	"expense-backend/internal/shared/telemetry"
)

const (
	dateLayout  = "2006-01-02"
	rowsTimeout = 2 * time.Minute
)

var dateLayouts = []string{dateLayout, "02/01/2006", "02-01-2006"}

// ErrInvalidInput rejects an import without an owner.
var ErrInvalidInput = errors.New("invalid input")

// StatementExtractor parses a statement PDF.
type StatementExtractor interface {
	ExtractStatement(ctx context.Context, data []byte, filename string) (extraction.StatementResult, error)
}

// Importer turns statement PDFs into transactions.
type Importer struct {
	Intake     *intake.Intake
	Extractor  StatementExtractor
	Repo       TransactionsRepo
	Classifier Classifier

	now   func() time.Time
	newID func() string
}

// NewImporter constructs an Importer. A nil classifier falls back to the
// built-in keyword table.
func NewImporter(in *intake.Intake, ex StatementExtractor, repo TransactionsRepo, cls Classifier) *Importer {
	if cls == nil {
		cls = NewKeywordClassifier(DefaultRules())
	}
	return &Importer{
		Intake:     in,
		Extractor:  ex,
		Repo:       repo,
		Classifier: cls,
		now:        time.Now,
		newID:      uuid.NewString,
	}
}

// ImportStatement validates and parses one statement upload, then imports its
// lines. Validation and extraction errors are returned before any row is
// written. The uploaded file is removed once parsed.
func (im *Importer) ImportStatement(ctx context.Context, owner string, u intake.Upload) (Result, error) {
	if strings.TrimSpace(owner) == "" {
		return Result{}, fmt.Errorf("%w: owner is required", ErrInvalidInput)
	}
	stored, err := im.Intake.Accept(ctx, u)
	if err != nil {
		return Result{}, err
	}
	defer im.discard(ctx, stored)

	data, err := object.ReadAll(ctx, im.Intake.Store, stored.Key)
	if err != nil {
		return Result{}, fmt.Errorf("read statement: %w", err)
	}

	pages, err := preflightPDF(data)
	if err != nil {
		return Result{}, err
	}

	parsed, err := im.Extractor.ExtractStatement(ctx, data, stored.OriginalFilename)
	if err != nil {
		telemetry.Warn("statement.extract_failed", telemetry.WithError(map[string]any{
			"user_id":    owner,
			"file":       stored.Key,
			"pages":      pages,
			"request_id": telemetry.RequestIDFromContext(ctx),
		}, err))
		return Result{}, err
	}

	return im.ImportParsed(ctx, owner, parsed)
}

func (im *Importer) discard(ctx context.Context, f intake.StoredFile) {
	if err := im.Intake.Discard(telemetry.Detached(ctx), f); err != nil {
		telemetry.Warn("statement.file_delete_failed", telemetry.WithError(map[string]any{
			"file": f.Key,
		}, err))
	}
}

// ImportParsed maps and stores every line of parsed. Rows are independent: a
// bad or failing row is reported by index and the rest still go in.
func (im *Importer) ImportParsed(ctx context.Context, owner string, parsed extraction.StatementResult) (Result, error) {
	if strings.TrimSpace(owner) == "" {
		return Result{}, fmt.Errorf("%w: owner is required", ErrInvalidInput)
	}

	res := Result{
		Total:        len(parsed.Transactions),
		Transactions: []Transaction{},
		Skips:        []RowSkip{},
		Errors:       []RowError{},
		Summary:      summaryOf(parsed),
	}

	// Once parsing has succeeded the rows are written to completion, so the
	// result always accounts for every row even if the caller goes away.
	storeCtx, cancel := context.WithTimeout(telemetry.Detached(ctx), rowsTimeout)
	defer cancel()

	for i, line := range parsed.Transactions {
		txn, err := im.mapLine(owner, line)
		if err != nil {
			res.Failed++
			res.Errors = append(res.Errors, RowError{Index: i, Message: err.Error()})
			continue
		}
		inserted, err := im.Repo.InsertIfAbsent(storeCtx, txn)
		if err != nil {
			res.Failed++
			res.Errors = append(res.Errors, RowError{Index: i, Message: "could not store transaction"})
			telemetry.Error("statement.row_failed", telemetry.WithError(map[string]any{
				"user_id": owner,
				"index":   i,
			}, err))
			continue
		}
		if !inserted {
			res.Skipped++
			res.Skips = append(res.Skips, RowSkip{Index: i, Reason: "duplicate"})
			continue
		}
		res.Inserted++
		res.Transactions = append(res.Transactions, txn)
	}
	res.finish()

	metrics.AddStatementRows(res.Inserted, res.Skipped, res.Failed)
	telemetry.Info("statement.import", map[string]any{
		"user_id":    owner,
		"status":     res.Status,
		"total":      res.Total,
		"inserted":   res.Inserted,
		"skipped":    res.Skipped,
		"failed":     res.Failed,
		"request_id": telemetry.RequestIDFromContext(ctx),
	})
	return res, nil
}

func (im *Importer) mapLine(owner string, line extraction.StatementLine) (Transaction, error) {
	var typ TxnType
	switch strings.ToLower(strings.TrimSpace(line.Type)) {
	case "debit":
		typ = TypeExpense
	case "credit":
		typ = TypeIncome
	default:
		return Transaction{}, fmt.Errorf("unknown transaction type %q", line.Type)
	}

	date, err := parseDate(line.Date)
	if err != nil {
		return Transaction{}, err
	}

	amount := line.Amount.Abs().Round(2)
	if !amount.IsPositive() {
		return Transaction{}, errors.New("amount must be positive")
	}

	desc := strings.TrimSpace(line.Description)
	if desc == "" {
		return Transaction{}, errors.New("description is empty")
	}

	category := strings.TrimSpace(line.Category)
	if category == "" {
		category = im.Classifier.Classify(desc, typ)
	}

	return Transaction{
		ID:          im.newID(),
		UserID:      owner,
		Type:        typ,
		Amount:      amount,
		Description: desc,
		Category:    category,
		TxnDate:     date,
		Source:      SourceStatement,
		CreatedAt:   im.now().UTC(),
	}, nil
}

func parseDate(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unparseable date %q", raw)
}

func parseAmount(raw string) (decimal.Decimal, error) {
	return decimal.NewFromString(strings.TrimSpace(raw))
}

func summaryOf(parsed extraction.StatementResult) Summary {
	s := Summary{
		AccountNumber: parsed.AccountNumber,
		AccountHolder: parsed.AccountHolder,
		Period:        parsed.Period,
		TotalCredits:  parsed.TotalCredits,
		TotalDebits:   parsed.TotalDebits,
	}
	if parsed.OpeningBalance.Valid {
		v := parsed.OpeningBalance.Decimal
		s.OpeningBalance = &v
	}
	if parsed.ClosingBalance.Valid {
		v := parsed.ClosingBalance.Decimal
		s.ClosingBalance = &v
	}
	return s
}
