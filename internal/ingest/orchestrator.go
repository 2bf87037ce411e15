// Package ingest runs documents through extraction: the orchestrator, the
// in-process worker pool that feeds it and the reconciler that re-dispatches
// stuck records.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"expense-backend/internal/documents"
	"expense-backend/internal/extraction"
	"expense-backend/internal/shared/metrics"
	"expense-backend/internal/shared/storage/object"
	"expense-backend/internal/shared/telemetry"
	"expense-backend/internal/shared/util"
)

const (
	maxRawTextRunes = 1000
	maxErrorRunes   = 500
)

// Extractor is the part of the extraction client the orchestrator needs.
type Extractor interface {
	ExtractReceipt(ctx context.Context, data []byte, filename, contentType string) (extraction.ReceiptResult, error)
	Health(ctx context.Context) (extraction.HealthStatus, error)
}

// Options tunes an Orchestrator. Zero values fall back to defaults.
type Options struct {
	ExtractTimeout time.Duration
	HealthTTL      time.Duration
	StoreAttempts  int
	StoreBackoff   time.Duration
}

// Orchestrator drives one document from pending to a terminal state.
type Orchestrator struct {
	Repo      documents.DocumentsRepo
	Store     object.ObjectStore
	Extractor Extractor
	opts      Options
	health    *healthCache
	now       func() time.Time
}

// NewOrchestrator constructs an Orchestrator.
func NewOrchestrator(repo documents.DocumentsRepo, store object.ObjectStore, ex Extractor, opts Options) *Orchestrator {
	if opts.ExtractTimeout <= 0 {
		opts.ExtractTimeout = 30 * time.Second
	}
	if opts.HealthTTL <= 0 {
		opts.HealthTTL = 15 * time.Second
	}
	if opts.StoreAttempts <= 0 {
		opts.StoreAttempts = 3
	}
	if opts.StoreBackoff <= 0 {
		opts.StoreBackoff = 200 * time.Millisecond
	}
	return &Orchestrator{
		Repo:      repo,
		Store:     store,
		Extractor: ex,
		opts:      opts,
		health:    &healthCache{ttl: opts.HealthTTL},
		now:       time.Now,
	}
}

// ProcessDocument runs extraction for one document. Redelivery of a finished
// document is a no-op. A returned error means the record could not be moved
// and the job should be retried; extraction failures are recorded on the
// document instead.
func (o *Orchestrator) ProcessDocument(ctx context.Context, id string) (err error) {
	fields := map[string]any{
		"document_id": id,
		"request_id":  telemetry.RequestIDFromContext(ctx),
	}

	doc, err := o.Repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, documents.ErrNotFound) {
			telemetry.Warn("ingest.not_found", fields)
		}
		return err
	}
	if doc.Status.Terminal() {
		telemetry.Info("ingest.skip_terminal", withField(fields, "status", doc.Status))
		return nil
	}

	from := doc.Status
	err = retryStore(ctx, o.opts.StoreAttempts, o.opts.StoreBackoff, func(ctx context.Context) error {
		var terr error
		doc, terr = o.Repo.Transition(ctx, id, documents.StatusProcessing, nil, o.now().UTC())
		return terr
	})
	if err != nil {
		if errors.Is(err, documents.ErrInvalidTransition) {
			telemetry.Info("ingest.skip_terminal", fields)
			return nil
		}
		telemetry.Error("ingest.transition_failed", telemetry.WithError(fields, err))
		return fmt.Errorf("mark processing: %w", err)
	}
	telemetry.Info("document.status", withField(fields, "status_transition", documents.TransitionLabel(from, documents.StatusProcessing)))

	status, payload := o.extract(ctx, doc)

	err = retryStore(ctx, o.opts.StoreAttempts, o.opts.StoreBackoff, func(ctx context.Context) error {
		_, terr := o.Repo.Transition(ctx, id, status, payload, o.now().UTC())
		return terr
	})
	if err != nil {
		if errors.Is(err, documents.ErrInvalidTransition) {
			// Another worker reached a terminal state first; the file is no
			// longer needed either way.
			telemetry.Warn("ingest.finished_elsewhere", withField(fields, "status", status))
			o.deleteFile(ctx, doc, fields)
			return nil
		}
		telemetry.Error("ingest.persist_failed", telemetry.WithError(withField(fields, "status", status), err))
		return fmt.Errorf("persist %s: %w", status, err)
	}

	if status == documents.StatusCompleted {
		metrics.IncDocumentsCompleted()
	} else {
		metrics.IncDocumentsFailed()
	}
	done := withField(fields, "status_transition", documents.TransitionLabel(documents.StatusProcessing, status))
	if payload.ErrorCode != "" {
		done["error_code"] = payload.ErrorCode
	}
	telemetry.Info("document.status", done)

	o.deleteFile(ctx, doc, fields)
	return nil
}

func (o *Orchestrator) deleteFile(ctx context.Context, doc documents.Document, fields map[string]any) {
	if err := o.Store.Delete(ctx, doc.StorageKey); err != nil {
		telemetry.Warn("ingest.file_delete_failed", telemetry.WithError(withField(fields, "stored_filename", doc.StoredFilename), err))
	}
}

// extract never fails: every problem becomes a failed payload.
func (o *Orchestrator) extract(ctx context.Context, doc documents.Document) (status documents.Status, payload *documents.Payload) {
	defer func() {
		if r := recover(); r != nil {
			telemetry.Error("ingest.panic", map[string]any{
				"document_id": doc.ID,
				"panic":       fmt.Sprint(r),
			})
			status = documents.StatusFailed
			payload = documents.FailurePayload(documents.ErrorCodeInternal, "internal error during processing", false)
		}
	}()

	data, err := object.ReadAll(ctx, o.Store, doc.StorageKey)
	if err != nil {
		return documents.StatusFailed, documents.FailurePayload(documents.ErrorCodeStorage, sanitizeError(err), true)
	}

	if err := o.health.check(ctx, o.Extractor); err != nil {
		return documents.StatusFailed, documents.FailurePayload(documents.ErrorCodeServiceUnavailable, sanitizeError(err), true)
	}

	extractCtx, cancel := context.WithTimeout(ctx, o.opts.ExtractTimeout)
	defer cancel()
	res, err := o.Extractor.ExtractReceipt(extractCtx, data, doc.OriginalFilename, doc.MimeType)
	if err != nil {
		if errors.Is(err, extraction.ErrServiceUnavailable) {
			o.health.invalidate()
		}
		code, retryable := classifyFailure(err)
		return documents.StatusFailed, documents.FailurePayload(code, sanitizeError(err), retryable)
	}
	return documents.StatusCompleted, completedPayload(res)
}

func completedPayload(res extraction.ReceiptResult) *documents.Payload {
	p := &documents.Payload{
		Date:             res.Date,
		Vendor:           res.Vendor,
		Currency:         res.Currency,
		RawText:          util.Truncate(res.RawText, maxRawTextRunes),
		ProcessingStatus: res.ProcessingStatus,
	}
	if res.Amount.Valid {
		amount := res.Amount.Decimal
		p.Amount = &amount
	}
	confidence := res.Confidence
	p.Confidence = &confidence
	return p
}

func classifyFailure(err error) (string, bool) {
	var extErr *extraction.Error
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return documents.ErrorCodeTimeout, true
	case errors.As(err, &extErr) && extErr.Kind == extraction.ErrServiceError && extErr.Detail == "timeout":
		return documents.ErrorCodeTimeout, true
	case errors.Is(err, extraction.ErrServiceUnavailable):
		return documents.ErrorCodeServiceUnavailable, true
	case errors.Is(err, extraction.ErrBadInput):
		return documents.ErrorCodeBadInput, false
	case errors.Is(err, extraction.ErrEmptyResult):
		return documents.ErrorCodeEmptyResult, false
	case errors.Is(err, extraction.ErrServiceError):
		return documents.ErrorCodeServiceError, true
	default:
		return documents.ErrorCodeInternal, false
	}
}

func sanitizeError(err error) string {
	if err == nil {
		return ""
	}
	msg := strings.TrimSpace(strings.ReplaceAll(err.Error(), "\n", " "))
	if msg == "" {
		msg = "processing failed"
	}
	return util.Truncate(msg, maxErrorRunes)
}

func withField(fields map[string]any, key string, value any) map[string]any {
	out := make(map[string]any, len(fields)+1)
	for k, v := range fields {
		out[k] = v
	}
	out[key] = value
	return out
}

// healthCache remembers the last health result for ttl. Concurrent misses
// share one probe, and callers stop waiting when their own context ends.
type healthCache struct {
	ttl   time.Duration
	probe singleflight.Group

	mu      sync.Mutex
	checked time.Time
	err     error
}

func (h *healthCache) check(ctx context.Context, ex Extractor) error {
	h.mu.Lock()
	if !h.checked.IsZero() && time.Since(h.checked) < h.ttl {
		err := h.err
		h.mu.Unlock()
		return err
	}
	h.mu.Unlock()

	ch := h.probe.DoChan("health", func() (any, error) {
		_, err := ex.Health(telemetry.Detached(ctx))
		h.mu.Lock()
		h.checked = time.Now()
		h.err = err
		h.mu.Unlock()
		if err != nil {
			telemetry.Warn("ingest.extraction_unhealthy", telemetry.WithError(nil, err))
		}
		return nil, err
	})
	select {
	case res := <-ch:
		return res.Err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (h *healthCache) invalidate() {
	h.mu.Lock()
	h.checked = time.Time{}
	h.mu.Unlock()
}
