// Package extraction talks to the OCR and statement parsing service.
package extraction

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"expense-backend/internal/shared/metrics"
	"expense-backend/internal/shared/telemetry"
	"expense-backend/internal/shared/util"
)

const (
	receiptPath   = "/ocr/receipt"
	statementPath = "/parse-pdf"
	healthPath    = "/health"

	maxResponseBytes = 8 << 20
	maxDetailRunes   = 500
)

// Options configures a Client.
type Options struct {
	BaseURL     string
	Timeout     time.Duration
	MaxAttempts int
	RatePerSec  float64
	Burst       int
	HTTPClient  *http.Client
	Auth        *AuthConfig
}

// Client calls the extraction service.
type Client struct {
	baseURL     string
	timeout     time.Duration
	maxAttempts int
	limiter     *rate.Limiter
	httpClient  *http.Client

	backoff func(attempt int) time.Duration
}

// NewClient constructs a Client, filling unset options with defaults.
func NewClient(opts Options) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 2
	}
	if opts.RatePerSec <= 0 {
		opts.RatePerSec = 5
	}
	if opts.Burst <= 0 {
		opts.Burst = 1
	}
	base := opts.HTTPClient
	if base == nil {
		base = &http.Client{}
	}
	return &Client{
		baseURL:     strings.TrimRight(opts.BaseURL, "/"),
		timeout:     opts.Timeout,
		maxAttempts: opts.MaxAttempts,
		limiter:     rate.NewLimiter(rate.Limit(opts.RatePerSec), opts.Burst),
		httpClient:  authorizedClient(base, opts.Auth),
		backoff: func(attempt int) time.Duration {
			return time.Duration(attempt) * 300 * time.Millisecond
		},
	}
}

// ExtractReceipt sends one receipt image or PDF for OCR.
func (c *Client) ExtractReceipt(ctx context.Context, data []byte, filename, contentType string) (ReceiptResult, error) {
	body, formType, err := multipartBody(data, filename, contentType)
	if err != nil {
		return ReceiptResult{}, &Error{Kind: ErrBadInput, Err: err}
	}
	start := time.Now()
	raw, err := c.post(ctx, receiptPath, body, formType)
	metrics.ObserveExtractionDurationMs(float64(time.Since(start).Milliseconds()))
	if err != nil {
		return ReceiptResult{}, err
	}
	if err := validateBody(receiptSchema, raw); err != nil {
		return ReceiptResult{}, &Error{Kind: ErrServiceError, Detail: "invalid receipt response", Err: err}
	}
	var env receiptEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return ReceiptResult{}, &Error{Kind: ErrServiceError, Detail: "invalid receipt response", Err: err}
	}
	return mapReceipt(env.Data)
}

func mapReceipt(d receiptData) (ReceiptResult, error) {
	if d.ProcessingStatus == "failed" {
		return ReceiptResult{}, &Error{Kind: ErrEmptyResult, Detail: truncateDetail(d.Error)}
	}
	if d.ExtractedData == nil {
		return ReceiptResult{}, &Error{Kind: ErrEmptyResult, Detail: "extracted_data missing"}
	}
	ex := d.ExtractedData
	res := ReceiptResult{
		Amount:           ex.Amount,
		Date:             strings.TrimSpace(deref(ex.Date)),
		Vendor:           strings.TrimSpace(deref(ex.Vendor)),
		Currency:         strings.TrimSpace(deref(ex.Currency)),
		RawText:          d.RawText,
		ProcessingStatus: d.ProcessingStatus,
	}
	if res.Vendor == placeholderVendor {
		res.Vendor = ""
	}
	if !res.Amount.Valid && res.Date == "" && res.Vendor == "" {
		return ReceiptResult{}, &Error{Kind: ErrEmptyResult, Detail: "no amount, date or vendor found"}
	}
	if res.Currency == "" {
		res.Currency = DefaultCurrency
	}
	if res.ProcessingStatus == "" {
		res.ProcessingStatus = "completed"
	}
	if d.ConfidenceScore != nil {
		res.Confidence = *d.ConfidenceScore
	} else {
		res.Confidence = Confidence(res)
	}
	return res, nil
}

// Confidence scores a result the way the service does: amount 0.4, date 0.3
// and a real vendor name 0.3, as a percentage.
func Confidence(r ReceiptResult) float64 {
	score := 0.0
	if r.Amount.Valid {
		score += 0.4
	}
	if r.Date != "" {
		score += 0.3
	}
	if r.Vendor != "" && r.Vendor != placeholderVendor && len([]rune(r.Vendor)) > 3 {
		score += 0.3
	}
	return math.Round(score*100*100) / 100
}

// ExtractStatement sends a bank statement PDF for parsing.
func (c *Client) ExtractStatement(ctx context.Context, data []byte, filename string) (StatementResult, error) {
	body, formType, err := multipartBody(data, filename, "application/pdf")
	if err != nil {
		return StatementResult{}, &Error{Kind: ErrBadInput, Err: err}
	}
	start := time.Now()
	raw, err := c.post(ctx, statementPath, body, formType)
	metrics.ObserveExtractionDurationMs(float64(time.Since(start).Milliseconds()))
	if err != nil {
		return StatementResult{}, err
	}
	if err := validateBody(statementSchema, raw); err != nil {
		return StatementResult{}, &Error{Kind: ErrServiceError, Detail: "invalid statement response", Err: err}
	}
	var parsed statementBody
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return StatementResult{}, &Error{Kind: ErrServiceError, Detail: "invalid statement response", Err: err}
	}

	res := StatementResult{
		AccountNumber:    deref(parsed.AccountNumber),
		AccountHolder:    strings.TrimSpace(deref(parsed.AccountHolder)),
		Period:           deref(parsed.StatementPeriod),
		OpeningBalance:   parsed.OpeningBalance,
		ClosingBalance:   parsed.ClosingBalance,
		TotalCredits:     parsed.TotalCredits,
		TotalDebits:      parsed.TotalDebits,
		TransactionCount: parsed.TransactionCount,
		Transactions:     make([]StatementLine, 0, len(parsed.Transactions)),
	}
	for _, t := range parsed.Transactions {
		res.Transactions = append(res.Transactions, StatementLine{
			Date:        t.Date,
			Description: t.Description,
			Amount:      t.Amount,
			Balance:     t.Balance,
			Type:        t.TransactionType,
			Category:    deref(t.Category),
		})
	}
	if res.TransactionCount == 0 {
		res.TransactionCount = len(res.Transactions)
	}
	return res, nil
}

// Health queries the service health endpoint once, without retries.
func (c *Client) Health(ctx context.Context) (HealthStatus, error) {
	raw, err := c.attempt(ctx, http.MethodGet, healthPath, nil, "")
	if err != nil {
		return HealthStatus{}, err
	}
	var status HealthStatus
	if err := json.Unmarshal(raw, &status); err != nil {
		return HealthStatus{}, &Error{Kind: ErrServiceError, Detail: "invalid health response", Err: err}
	}
	if !status.Healthy() {
		return status, &Error{Kind: ErrServiceUnavailable, Detail: "status " + status.Status}
	}
	return status, nil
}

func (c *Client) post(ctx context.Context, path string, body []byte, contentType string) ([]byte, error) {
	var lastErr error
	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		raw, err := c.attempt(ctx, http.MethodPost, path, body, contentType)
		if err == nil {
			return raw, nil
		}
		lastErr = err
		if !isServiceError(err) || attempt == c.maxAttempts {
			break
		}
		wait := c.backoff(attempt)
		telemetry.Warn("extraction.retry", telemetry.WithError(map[string]any{
			"path":       path,
			"attempt":    attempt,
			"backoff_ms": wait.Milliseconds(),
			"request_id": telemetry.RequestIDFromContext(ctx),
		}, err))
		select {
		case <-ctx.Done():
			return nil, classifyTransport(ctx.Err())
		case <-time.After(wait):
		}
	}
	return nil, lastErr
}

func (c *Client) attempt(ctx context.Context, method, path string, body []byte, contentType string) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, classifyTransport(err)
	}
	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(callCtx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, &Error{Kind: ErrServiceError, Err: err}
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("Accept", "application/json")
	if requestID := telemetry.RequestIDFromContext(ctx); requestID != "" {
		req.Header.Set("X-Request-Id", requestID)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, classifyTransport(err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, classifyTransport(err)
	}
	telemetry.Info("extraction.response", map[string]any{
		"path":       path,
		"status":     resp.StatusCode,
		"bytes":      len(raw),
		"elapsed_ms": time.Since(start).Milliseconds(),
		"request_id": telemetry.RequestIDFromContext(ctx),
	})
	if resp.StatusCode/100 != 2 {
		return nil, classifyStatus(resp.StatusCode, detailFrom(raw))
	}
	return raw, nil
}

func isServiceError(err error) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == ErrServiceError
}

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")

func multipartBody(data []byte, filename, contentType string) ([]byte, string, error) {
	if len(data) == 0 {
		return nil, "", fmt.Errorf("empty file")
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename="%s"`, quoteEscaper.Replace(filename)))
	h.Set("Content-Type", contentType)
	part, err := w.CreatePart(h)
	if err != nil {
		return nil, "", err
	}
	if _, err := part.Write(data); err != nil {
		return nil, "", err
	}
	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return buf.Bytes(), w.FormDataContentType(), nil
}

// detailFrom pulls a FastAPI style {"detail": ...} message out of an error body.
func detailFrom(raw []byte) string {
	var body struct {
		Detail json.RawMessage `json:"detail"`
	}
	if err := json.Unmarshal(raw, &body); err != nil || len(body.Detail) == 0 {
		return truncateDetail(strings.TrimSpace(string(raw)))
	}
	var s string
	if err := json.Unmarshal(body.Detail, &s); err == nil {
		return truncateDetail(s)
	}
	return truncateDetail(string(body.Detail))
}

func truncateDetail(s string) string {
	s = strings.ReplaceAll(s, "\n", " ")
	return util.Truncate(s, maxDetailRunes)
}
