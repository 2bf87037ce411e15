package statements

import (
	"bytes"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"expense-backend/internal/extraction"
	"expense-backend/internal/shared/server/middleware"
)

func newTestRouter(t *testing.T, ex StatementExtractor, repo TransactionsRepo) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	im, _ := newImporter(t, repo, ex)
	r := gin.New()
	api := r.Group("/api/v1", middleware.Identity())
	NewHandler(im, 1<<20).RegisterRoutes(api)
	return r
}

func multipartPDF(t *testing.T, data []byte) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", `form-data; name="file"; filename="may.pdf"`)
	h.Set("Content-Type", "application/pdf")
	part, err := w.CreatePart(h)
	require.NoError(t, err)
	_, err = part.Write(data)
	require.NoError(t, err)
	require.NoError(t, w.Close())
	return &buf, w.FormDataContentType()
}

func postStatement(t *testing.T, r http.Handler, data []byte) *httptest.ResponseRecorder {
	t.Helper()
	body, contentType := multipartPDF(t, data)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/statements/import", body)
	req.Header.Set("Content-Type", contentType)
	req.Header.Set(middleware.UserIDHeader, "user-1")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func TestImportHandlerStatusCodes(t *testing.T) {
	ok := extraction.StatementResult{Transactions: []extraction.StatementLine{line("2024-05-02", "Coffee", "10", "debit")}}
	partial := extraction.StatementResult{Transactions: []extraction.StatementLine{
		line("2024-05-02", "Tea", "10", "debit"),
		line("bad", "Tea", "10", "debit"),
	}}
	failed := extraction.StatementResult{Transactions: []extraction.StatementLine{line("bad", "Tea", "10", "debit")}}

	tests := []struct {
		name   string
		ex     *fakeExtractor
		status int
	}{
		{"ok", &fakeExtractor{result: ok}, http.StatusCreated},
		{"partial", &fakeExtractor{result: partial}, http.StatusMultiStatus},
		{"failed", &fakeExtractor{result: failed}, http.StatusUnprocessableEntity},
		{"unavailable", &fakeExtractor{err: &extraction.Error{Kind: extraction.ErrServiceUnavailable}}, http.StatusServiceUnavailable},
		{"service error", &fakeExtractor{err: &extraction.Error{Kind: extraction.ErrServiceError, Status: 500}}, http.StatusBadGateway},
		{"bad input", &fakeExtractor{err: &extraction.Error{Kind: extraction.ErrBadInput, Status: 400}}, http.StatusUnprocessableEntity},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newTestRouter(t, tt.ex, NewMemoryRepo())
			rec := postStatement(t, r, statementFixture(t))
			assert.Equal(t, tt.status, rec.Code, rec.Body.String())
		})
	}
}

func TestImportHandlerResponseBody(t *testing.T) {
	ex := &fakeExtractor{result: extraction.StatementResult{Transactions: []extraction.StatementLine{
		line("2024-05-02", "Coffee", "10", "debit"),
	}}}
	r := newTestRouter(t, ex, NewMemoryRepo())

	rec := postStatement(t, r, statementFixture(t))
	require.Equal(t, http.StatusCreated, rec.Code)

	var body Result
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, StatusOK, body.Status)
	assert.Equal(t, 1, body.Inserted)

	rec = postStatement(t, r, statementFixture(t))
	require.Equal(t, http.StatusCreated, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, 0, body.Inserted)
	assert.Equal(t, 1, body.Skipped)
}

func TestImportHandlerRejectsUnreadablePDF(t *testing.T) {
	r := newTestRouter(t, &fakeExtractor{}, NewMemoryRepo())
	rec := postStatement(t, r, []byte("%PDF-1.4\n"+string(bytes.Repeat([]byte("x"), 200))))
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Contains(t, rec.Body.String(), "unreadable_pdf")
}

func TestImportHandlerRequiresFile(t *testing.T) {
	r := newTestRouter(t, &fakeExtractor{}, NewMemoryRepo())
	req := httptest.NewRequest(http.MethodPost, "/api/v1/statements/import", nil)
	req.Header.Set(middleware.UserIDHeader, "user-1")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
