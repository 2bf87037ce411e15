package statements

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"expense-backend/internal/extraction"
	"expense-backend/internal/intake"
	"expense-backend/internal/shared/storage/object/local"
)

type fakeExtractor struct {
	calls    atomic.Int32
	filename string
	result   extraction.StatementResult
	err      error
}

func (f *fakeExtractor) ExtractStatement(ctx context.Context, data []byte, filename string) (extraction.StatementResult, error) {
	f.calls.Add(1)
	f.filename = filename
	return f.result, f.err
}

type failingRepo struct {
	*MemoryRepo
	failOn string
}

func (r failingRepo) InsertIfAbsent(ctx context.Context, txn Transaction) (bool, error) {
	if txn.Description == r.failOn {
		return false, errors.New("connection reset")
	}
	return r.MemoryRepo.InsertIfAbsent(ctx, txn)
}

func line(date, desc, amount, typ string) extraction.StatementLine {
	return extraction.StatementLine{
		Date:        date,
		Description: desc,
		Amount:      decimal.RequireFromString(amount),
		Type:        typ,
	}
}

func newImporter(t *testing.T, repo TransactionsRepo, ex StatementExtractor) (*Importer, string) {
	t.Helper()
	dir := t.TempDir()
	in := intake.New(local.New(dir), intake.StatementPolicy(1<<20))
	im := NewImporter(in, ex, repo, nil)
	im.now = func() time.Time { return time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC) }
	return im, dir
}

func statementFixture(t *testing.T) []byte {
	t.Helper()
	data, err := os.ReadFile(filepath.Join("testdata", "statement.pdf"))
	require.NoError(t, err)
	return data
}

func pdfUpload(data []byte) intake.Upload {
	return intake.Upload{Filename: "may.pdf", ContentType: "application/pdf", Size: int64(len(data)), Body: bytes.NewReader(data)}
}

func TestImportParsedMapsLines(t *testing.T) {
	repo := NewMemoryRepo()
	im, _ := newImporter(t, repo, nil)

	parsed := extraction.StatementResult{
		AccountNumber:  "XXXX1234",
		OpeningBalance: decimal.NewNullDecimal(decimal.RequireFromString("1000")),
		Transactions: []extraction.StatementLine{
			line("2024-05-02", "  SWIGGY ORDER  ", "-249.505", "debit"),
			line("03/05/2024", "NEFT SALARY", "50000", "CREDIT"),
			{Date: "04-05-2024", Description: "Misc", Amount: decimal.RequireFromString("10"), Type: "debit", Category: "Gifts"},
		},
	}

	res, err := im.ImportParsed(context.Background(), "user-1", parsed)
	require.NoError(t, err)
	assert.Equal(t, StatusOK, res.Status)
	assert.Equal(t, 3, res.Total)
	assert.Equal(t, 3, res.Inserted)
	require.Len(t, res.Transactions, 3)

	first := res.Transactions[0]
	assert.Equal(t, TypeExpense, first.Type)
	assert.Equal(t, "249.51", first.Amount.StringFixed(2))
	assert.Equal(t, "SWIGGY ORDER", first.Description)
	assert.Equal(t, "Food & Dining", first.Category)
	assert.Equal(t, SourceStatement, first.Source)
	assert.Equal(t, "user-1", first.UserID)
	assert.NotEmpty(t, first.ID)

	second := res.Transactions[1]
	assert.Equal(t, TypeIncome, second.Type)
	assert.Equal(t, time.Date(2024, 5, 3, 0, 0, 0, 0, time.UTC), second.TxnDate)
	assert.Equal(t, "Salary", second.Category)

	assert.Equal(t, "Gifts", res.Transactions[2].Category)
	assert.Equal(t, "XXXX1234", res.Summary.AccountNumber)
	require.NotNil(t, res.Summary.OpeningBalance)
	assert.Nil(t, res.Summary.ClosingBalance)
}

func TestImportParsedDuplicateLaw(t *testing.T) {
	repo := NewMemoryRepo()
	im, _ := newImporter(t, repo, nil)
	parsed := extraction.StatementResult{Transactions: []extraction.StatementLine{
		line("2024-05-02", "Coffee", "120", "debit"),
		line("2024-05-03", "Rent", "15000", "debit"),
	}}

	first, err := im.ImportParsed(context.Background(), "user-1", parsed)
	require.NoError(t, err)
	assert.Equal(t, 2, first.Inserted)

	second, err := im.ImportParsed(context.Background(), "user-1", parsed)
	require.NoError(t, err)
	assert.Equal(t, StatusOK, second.Status)
	assert.Equal(t, 0, second.Inserted)
	assert.Equal(t, 2, second.Skipped)
	assert.Equal(t, 0, second.Failed)
	assert.Equal(t, []RowSkip{{Index: 0, Reason: "duplicate"}, {Index: 1, Reason: "duplicate"}}, second.Skips)
	assert.Empty(t, second.Transactions)

	other, err := im.ImportParsed(context.Background(), "user-2", parsed)
	require.NoError(t, err)
	assert.Equal(t, 2, other.Inserted, "dedupe is scoped to the owner")
}

func TestImportParsedIdenticalLinesInsertOnce(t *testing.T) {
	im, _ := newImporter(t, NewMemoryRepo(), nil)
	l := line("2024-05-02", "Metro card", "100", "debit")
	res, err := im.ImportParsed(context.Background(), "user-1", extraction.StatementResult{
		Transactions: []extraction.StatementLine{l, l, l},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Inserted)
	assert.Equal(t, 2, res.Skipped)
	assert.Equal(t, StatusOK, res.Status)
}

func TestImportParsedPartialFailure(t *testing.T) {
	repo := failingRepo{MemoryRepo: NewMemoryRepo(), failOn: "Broken row"}
	im, _ := newImporter(t, repo, nil)

	res, err := im.ImportParsed(context.Background(), "user-1", extraction.StatementResult{
		Transactions: []extraction.StatementLine{
			line("2024-05-02", "Good row", "10", "debit"),
			line("not a date", "Bad date", "10", "debit"),
			line("2024-05-02", "Zero", "0", "debit"),
			line("2024-05-02", "   ", "10", "debit"),
			line("2024-05-02", "Odd type", "10", "transfer"),
			line("2024-05-02", "Broken row", "10", "credit"),
		},
	})
	require.NoError(t, err)
	assert.Equal(t, StatusPartial, res.Status)
	assert.Equal(t, 1, res.Inserted)
	assert.Equal(t, 5, res.Failed)

	var indexes []int
	for _, e := range res.Errors {
		indexes = append(indexes, e.Index)
		assert.NotEmpty(t, e.Message)
	}
	assert.Equal(t, []int{1, 2, 3, 4, 5}, indexes)
}

func TestImportParsedStatus(t *testing.T) {
	im, _ := newImporter(t, NewMemoryRepo(), nil)

	res, err := im.ImportParsed(context.Background(), "user-1", extraction.StatementResult{
		Transactions: []extraction.StatementLine{line("bad", "x", "1", "debit")},
	})
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, res.Status)

	res, err = im.ImportParsed(context.Background(), "user-1", extraction.StatementResult{})
	require.NoError(t, err)
	assert.Equal(t, StatusOK, res.Status)
	assert.Equal(t, 0, res.Total)

	_, err = im.ImportParsed(context.Background(), " ", extraction.StatementResult{})
	require.ErrorIs(t, err, ErrInvalidInput)
}

func TestImportStatementEndToEnd(t *testing.T) {
	ex := &fakeExtractor{result: extraction.StatementResult{Transactions: []extraction.StatementLine{
		line("2024-05-02", "DMART", "540.00", "debit"),
	}}}
	repo := NewMemoryRepo()
	im, dir := newImporter(t, repo, ex)

	res, err := im.ImportStatement(context.Background(), "user-1", pdfUpload(statementFixture(t)))
	require.NoError(t, err)
	assert.Equal(t, int32(1), ex.calls.Load())
	assert.Equal(t, 1, res.Inserted)
	assert.Equal(t, "Groceries", res.Transactions[0].Category)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries, "temp statement file must be removed")

	rows, err := repo.ListByUser(context.Background(), "user-1", 10)
	require.NoError(t, err)
	assert.Len(t, rows, 1)
}

func TestImportStatementRejectsUnreadablePDF(t *testing.T) {
	ex := &fakeExtractor{}
	im, dir := newImporter(t, NewMemoryRepo(), ex)

	data := []byte("%PDF-1.4\n" + string(bytes.Repeat([]byte("junk "), 40)))
	_, err := im.ImportStatement(context.Background(), "user-1", pdfUpload(data))
	require.ErrorIs(t, err, intake.ErrValidation)
	assert.Equal(t, intake.ReasonUnreadablePDF, intake.ReasonOf(err))
	assert.Equal(t, int32(0), ex.calls.Load())

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestImportStatementRejectsNonPDF(t *testing.T) {
	ex := &fakeExtractor{}
	im, _ := newImporter(t, NewMemoryRepo(), ex)

	png := []byte("\x89PNG\r\n\x1a\n0000")
	_, err := im.ImportStatement(context.Background(), "user-1", intake.Upload{
		Filename: "scan.png", ContentType: "image/png", Size: int64(len(png)), Body: bytes.NewReader(png),
	})
	assert.Equal(t, intake.ReasonUnsupportedType, intake.ReasonOf(err))
	assert.Equal(t, int32(0), ex.calls.Load())
}

func TestImportStatementExtractionErrorWritesNothing(t *testing.T) {
	ex := &fakeExtractor{err: &extraction.Error{Kind: extraction.ErrServiceUnavailable}}
	repo := NewMemoryRepo()
	im, _ := newImporter(t, repo, ex)

	_, err := im.ImportStatement(context.Background(), "user-1", pdfUpload(statementFixture(t)))
	require.ErrorIs(t, err, extraction.ErrServiceUnavailable)

	rows, err := repo.ListByUser(context.Background(), "user-1", 10)
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestPreflightPDF(t *testing.T) {
	pages, err := preflightPDF(statementFixture(t))
	require.NoError(t, err)
	assert.Equal(t, 1, pages)

	_, err = preflightPDF([]byte("not a pdf at all"))
	assert.Equal(t, intake.ReasonUnreadablePDF, intake.ReasonOf(err))
}

func TestImportParsedFinishesRowsAfterCallerCancels(t *testing.T) {
	repo := NewMemoryRepo()
	im, _ := newImporter(t, repo, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	parsed := extraction.StatementResult{Transactions: []extraction.StatementLine{
		line("2024-05-02", "SWIGGY ORDER", "249.50", "debit"),
		line("2024-05-03", "UBER TRIP", "180", "debit"),
	}}
	res, err := im.ImportParsed(ctx, "user-1", parsed)
	require.NoError(t, err)
	assert.Equal(t, StatusOK, res.Status)
	assert.Equal(t, 2, res.Inserted)

	stored, err := repo.ListByUser(context.Background(), "user-1", 10)
	require.NoError(t, err)
	assert.Len(t, stored, res.Inserted)
}

func TestImportStatementSendsPDFNameForLongUploads(t *testing.T) {
	data := statementFixture(t)
	ex := &fakeExtractor{result: extraction.StatementResult{}}
	im, _ := newImporter(t, NewMemoryRepo(), ex)

	u := pdfUpload(data)
	u.Filename = strings.Repeat("statement-", 40) + ".pdf"
	_, err := im.ImportStatement(context.Background(), "user-1", u)
	require.NoError(t, err)

	assert.True(t, strings.HasSuffix(ex.filename, ".pdf"), "filename %q", ex.filename)
	assert.LessOrEqual(t, len([]rune(ex.filename)), 255)
}
