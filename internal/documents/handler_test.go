package documents_test

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"os"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/gin-gonic/gin"

	"expense-backend/internal/bootstrap"
	"expense-backend/internal/documents"
	"expense-backend/internal/intake"
	"expense-backend/internal/shared/config"
	"expense-backend/internal/shared/server/middleware"
	"expense-backend/internal/shared/storage/object/local"
)

var pngBody = append([]byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR"), bytes.Repeat([]byte{0}, 32)...)

const ocrReply = `{
  "success": true,
  "message": "Receipt processed successfully",
  "data": {
    "raw_text": "CAFE MOCHA\nTotal 245.50",
    "extracted_data": {"amount": 245.5, "date": "2024-05-01", "vendor": "Cafe Mocha", "currency": "INR"},
    "processing_status": "completed",
    "confidence_score": 100.0
  }
}`

func newTestApp(t *testing.T) (*bootstrap.App, string) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	ocr := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/health":
			_, _ = w.Write([]byte(`{"status":"healthy","service":"ocr","version":"1.0.0"}`))
		case "/ocr/receipt":
			_, _ = w.Write([]byte(ocrReply))
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(ocr.Close)

	uploadDir := t.TempDir()
	cfg := config.Config{
		Env:                   "dev",
		CORSAllowOrigin:       []string{"http://localhost:5173"},
		ObjectStoreType:       "local",
		UploadDir:             uploadDir,
		MaxUploadBytes:        1 << 20,
		MaxFilesPerRequest:    3,
		ExtractionBaseURL:     ocr.URL,
		ExtractionTimeout:     2 * time.Second,
		ExtractionMaxAttempts: 1,
		ExtractionRatePerSec:  100,
		ExtractionBurst:       10,
		DispatchMode:          "pool",
		WorkerConcurrency:     2,
		WorkerQueueSize:       8,
		JobTimeout:            5 * time.Second,
	}

	app, err := bootstrap.Build(cfg)
	if err != nil {
		t.Fatalf("bootstrap build: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = app.Close(ctx)
	})
	return app, uploadDir
}

func do(t *testing.T, h http.Handler, method, path, user string, body *bytes.Buffer, contentType string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != nil {
		req = httptest.NewRequest(method, path, body)
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if user != "" {
		req.Header.Set(middleware.UserIDHeader, user)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func pngForm(t *testing.T, field string, names ...string) (*bytes.Buffer, string) {
	t.Helper()
	body := &bytes.Buffer{}
	w := multipart.NewWriter(body)
	for _, name := range names {
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", `form-data; name="`+field+`"; filename="`+name+`"`)
		h.Set("Content-Type", "image/png")
		part, err := w.CreatePart(h)
		if err != nil {
			t.Fatalf("create part: %v", err)
		}
		if _, err := part.Write(pngBody); err != nil {
			t.Fatalf("write part: %v", err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close writer: %v", err)
	}
	return body, w.FormDataContentType()
}

type documentBody struct {
	DocumentID string         `json:"documentId"`
	FileName   string         `json:"fileName"`
	Status     string         `json:"status"`
	Payload    map[string]any `json:"payload"`
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, out any) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), out); err != nil {
		t.Fatalf("decode %s: %v", rec.Body.String(), err)
	}
}

func TestUploadIsAcceptedAndCompletesInBackground(t *testing.T) {
	app, uploadDir := newTestApp(t)
	router := app.Router

	body, ct := pngForm(t, "file", "lunch.png")
	rec := do(t, router, http.MethodPost, "/api/v1/documents", "user-1", body, ct)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", rec.Code, rec.Body.String())
	}
	var accepted documentBody
	decode(t, rec, &accepted)
	if accepted.DocumentID == "" || accepted.Status != "pending" || accepted.FileName != "lunch.png" {
		t.Fatalf("unexpected accepted body %+v", accepted)
	}

	var doc documentBody
	deadline := time.Now().Add(5 * time.Second)
	for {
		rec = do(t, router, http.MethodGet, "/api/v1/documents/"+accepted.DocumentID, "user-1", nil, "")
		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", rec.Code)
		}
		decode(t, rec, &doc)
		if doc.Status == "completed" || doc.Status == "failed" {
			break
		}
		if doc.Payload != nil {
			t.Fatalf("payload must be null while %s", doc.Status)
		}
		if time.Now().After(deadline) {
			t.Fatalf("document stuck in %s", doc.Status)
		}
		time.Sleep(20 * time.Millisecond)
	}

	if doc.Status != "completed" {
		t.Fatalf("expected completed, got %s (%v)", doc.Status, doc.Payload)
	}
	if doc.Payload["vendor"] != "Cafe Mocha" || doc.Payload["amount"] != "245.5" || doc.Payload["currency"] != "INR" {
		t.Fatalf("unexpected payload %v", doc.Payload)
	}

	// The file is removed right after the terminal transition.
	for {
		entries, err := os.ReadDir(uploadDir)
		if err != nil {
			t.Fatalf("read upload dir: %v", err)
		}
		if len(entries) == 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("expected uploaded file to be removed after processing, found %d", len(entries))
		}
		time.Sleep(20 * time.Millisecond)
	}
}

func TestDocumentsAreScopedToOwner(t *testing.T) {
	app, _ := newTestApp(t)
	router := app.Router

	body, ct := pngForm(t, "file", "taxi.png")
	rec := do(t, router, http.MethodPost, "/api/v1/documents", "user-1", body, ct)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", rec.Code)
	}
	var accepted documentBody
	decode(t, rec, &accepted)

	rec = do(t, router, http.MethodGet, "/api/v1/documents/"+accepted.DocumentID, "user-2", nil, "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for another owner, got %d", rec.Code)
	}

	rec = do(t, router, http.MethodGet, "/api/v1/documents?limit=10", "user-1", nil, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var listed struct {
		Documents []documentBody `json:"documents"`
		Limit     int            `json:"limit"`
	}
	decode(t, rec, &listed)
	if len(listed.Documents) != 1 || listed.Limit != 10 {
		t.Fatalf("unexpected list %+v", listed)
	}

	rec = do(t, router, http.MethodDelete, "/api/v1/documents/"+accepted.DocumentID, "user-2", nil, "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 deleting another owner's document, got %d", rec.Code)
	}
	rec = do(t, router, http.MethodDelete, "/api/v1/documents/"+accepted.DocumentID, "user-1", nil, "")
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rec.Code)
	}
	rec = do(t, router, http.MethodGet, "/api/v1/documents/"+accepted.DocumentID, "user-1", nil, "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 after delete, got %d", rec.Code)
	}
}

func TestMalformedIDIsNotFoundWithPostgres(t *testing.T) {
	gin.SetMode(gin.TestMode)
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	in := intake.New(local.New(t.TempDir()), intake.DocumentPolicy(1<<20, 3))
	svc := documents.NewService(&documents.PGRepo{DB: db}, in, nil)
	router := gin.New()
	router.Use(middleware.Identity())
	documents.NewHandler(svc, 1<<20, 3).RegisterRoutes(router.Group("/api/v1"))

	for _, method := range []string{http.MethodGet, http.MethodDelete} {
		rec := do(t, router, method, "/api/v1/documents/abc", "user-1", nil, "")
		if rec.Code != http.StatusNotFound {
			t.Fatalf("%s: expected 404 for a non-uuid id, got %d (%s)", method, rec.Code, rec.Body.String())
		}
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("malformed ids must not reach the database: %v", err)
	}
}

func TestBatchUpload(t *testing.T) {
	app, _ := newTestApp(t)

	body, ct := pngForm(t, "files", "a.png", "b.png")
	rec := do(t, app.Router, http.MethodPost, "/api/v1/documents/batch", "user-1", body, ct)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", rec.Code, rec.Body.String())
	}
	var batch struct {
		Documents []documentBody `json:"documents"`
		Failed    []any          `json:"failed"`
	}
	decode(t, rec, &batch)
	if len(batch.Documents) != 2 || len(batch.Failed) != 0 {
		t.Fatalf("unexpected batch %+v", batch)
	}

	body, ct = pngForm(t, "files", "a.png", "b.png", "c.png", "d.png")
	rec = do(t, app.Router, http.MethodPost, "/api/v1/documents/batch", "user-1", body, ct)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for too many files, got %d", rec.Code)
	}
}

func TestUploadValidationErrors(t *testing.T) {
	app, _ := newTestApp(t)

	body := &bytes.Buffer{}
	w := multipart.NewWriter(body)
	part, err := w.CreateFormFile("file", "notes.txt")
	if err != nil {
		t.Fatalf("create form file: %v", err)
	}
	_, _ = part.Write([]byte("hello world"))
	_ = w.Close()

	rec := do(t, app.Router, http.MethodPost, "/api/v1/documents", "user-1", body, w.FormDataContentType())
	if rec.Code != http.StatusUnsupportedMediaType {
		t.Fatalf("expected 415, got %d", rec.Code)
	}
	var errBody struct {
		Error struct {
			Code    string         `json:"code"`
			Details map[string]any `json:"details"`
		} `json:"error"`
	}
	decode(t, rec, &errBody)
	if errBody.Error.Code != "validation_error" || errBody.Error.Details["reason"] != "unsupported_type" {
		t.Fatalf("unexpected error body %s", rec.Body.String())
	}

	body, ct := pngForm(t, "file", "lunch.png")
	rec = do(t, app.Router, http.MethodPost, "/api/v1/documents", "", body, ct)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without identity, got %d", rec.Code)
	}
}

func TestHealthIsPublic(t *testing.T) {
	app, _ := newTestApp(t)

	rec := do(t, app.Router, http.MethodGet, "/api/v1/health", "", nil, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var rep struct {
		OK         bool   `json:"ok"`
		Database   string `json:"database"`
		Extraction string `json:"extraction"`
	}
	decode(t, rec, &rep)
	if !rep.OK || rep.Database != "memory" || rep.Extraction != "up" {
		t.Fatalf("unexpected health %+v", rep)
	}

	rec = do(t, app.Router, http.MethodGet, "/metrics", "", nil, "")
	if rec.Code != http.StatusOK || !bytes.Contains(rec.Body.Bytes(), []byte("documents_uploaded_total")) {
		t.Fatalf("unexpected metrics response %d", rec.Code)
	}
}
