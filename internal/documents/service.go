package documents

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"expense-backend/internal/intake"
	"expense-backend/internal/queue"
	"expense-backend/internal/shared/metrics"
	"expense-backend/internal/shared/telemetry"
)

const dispatchTimeout = 10 * time.Second

// Service contains business logic for documents.
type Service struct {
	Repo   DocumentsRepo
	Intake *intake.Intake
	Queue  queue.Client

	now func() time.Time
}

// NewService constructs a Service. q may be nil, in which case documents stay
// pending until the reconciler dispatches them.
func NewService(repo DocumentsRepo, in *intake.Intake, q queue.Client) *Service {
	return &Service{Repo: repo, Intake: in, Queue: q, now: time.Now}
}

// FailedUpload reports one rejected file of a batch.
type FailedUpload struct {
	Index    int
	Filename string
	Reason   string
	Message  string
}

// BatchResult holds the outcome of CreateBatch in input order.
type BatchResult struct {
	Documents []Document
	Failed    []FailedUpload
}

// CreateDocument stores one upload, records it as pending and hands it to the
// queue. The returned document always carries a nil payload.
func (s *Service) CreateDocument(ctx context.Context, owner string, u intake.Upload) (Document, error) {
	if strings.TrimSpace(owner) == "" {
		return Document{}, fmt.Errorf("%w: owner required", ErrInvalidInput)
	}
	if err := s.Intake.Validate(u); err != nil {
		return Document{}, err
	}
	return s.create(ctx, owner, u)
}

// CreateBatch checks the file count and every file's metadata before writing
// anything. After that each file succeeds or fails on its own.
func (s *Service) CreateBatch(ctx context.Context, owner string, uploads []intake.Upload) (BatchResult, error) {
	if strings.TrimSpace(owner) == "" {
		return BatchResult{}, fmt.Errorf("%w: owner required", ErrInvalidInput)
	}
	if err := s.Intake.CheckCount(len(uploads)); err != nil {
		return BatchResult{}, err
	}
	for i, u := range uploads {
		if err := s.Intake.Validate(u); err != nil {
			return BatchResult{}, fmt.Errorf("file %d (%s): %w", i, u.Filename, err)
		}
	}

	result := BatchResult{Documents: make([]Document, 0, len(uploads))}
	for i, u := range uploads {
		doc, err := s.create(ctx, owner, u)
		if err != nil {
			reason := intake.ReasonOf(err)
			if reason == "" {
				reason = "internal_error"
			}
			telemetry.Warn("document.batch_item_failed", telemetry.WithError(map[string]any{
				"user_id":    owner,
				"index":      i,
				"request_id": telemetry.RequestIDFromContext(ctx),
			}, err))
			result.Failed = append(result.Failed, FailedUpload{
				Index:    i,
				Filename: u.Filename,
				Reason:   reason,
				Message:  err.Error(),
			})
			continue
		}
		result.Documents = append(result.Documents, doc)
	}
	return result, nil
}

func (s *Service) create(ctx context.Context, owner string, u intake.Upload) (Document, error) {
	stored, err := s.Intake.Accept(ctx, u)
	if err != nil {
		return Document{}, err
	}

	now := s.clock().UTC()
	doc := Document{
		ID:               uuid.NewString(),
		UserID:           owner,
		StoredFilename:   stored.Key,
		OriginalFilename: stored.OriginalFilename,
		StorageProvider:  stored.Provider,
		StorageKey:       stored.Key,
		SizeBytes:        stored.Size,
		MimeType:         stored.ContentType,
		DetectedMimeType: stored.DetectedType,
		Status:           StatusPending,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := s.Repo.Create(ctx, doc); err != nil {
		if discardErr := s.Intake.Discard(ctx, stored); discardErr != nil {
			telemetry.Warn("document.discard_failed", telemetry.WithError(map[string]any{
				"stored_filename": stored.Key,
			}, discardErr))
		}
		return Document{}, fmt.Errorf("create document: %w", err)
	}
	metrics.IncDocumentsUploaded()

	requestID := telemetry.RequestIDFromContext(ctx)
	telemetry.Info("document.created", map[string]any{
		"document_id":     doc.ID,
		"user_id":         owner,
		"stored_filename": doc.StoredFilename,
		"size_bytes":      doc.SizeBytes,
		"request_id":      requestID,
	})
	s.dispatch(ctx, doc.ID, requestID, now)
	return doc, nil
}

func (s *Service) dispatch(ctx context.Context, id, requestID string, now time.Time) {
	if s.Queue == nil {
		return
	}
	// The upload request may end before the queue accepts the message.
	sendCtx, cancel := context.WithTimeout(telemetry.Detached(ctx), dispatchTimeout)
	defer cancel()
	if err := s.Queue.Send(sendCtx, queue.NewMessage(id, requestID, now)); err != nil {
		telemetry.Error("document.dispatch_failed", telemetry.WithError(map[string]any{
			"document_id": id,
			"request_id":  requestID,
		}, err))
	}
}

// GetDocument returns the owner's document. Documents of other owners are
// reported as not found.
func (s *Service) GetDocument(ctx context.Context, owner, id string) (Document, error) {
	doc, err := s.Repo.GetByID(ctx, id)
	if err != nil {
		return Document{}, err
	}
	if doc.UserID != owner {
		return Document{}, ErrNotFound
	}
	return doc, nil
}

// List returns the owner's documents, newest first.
func (s *Service) List(ctx context.Context, owner string, limit, offset int) ([]Document, error) {
	if strings.TrimSpace(owner) == "" {
		return nil, fmt.Errorf("%w: owner required", ErrInvalidInput)
	}
	return s.Repo.ListByUser(ctx, owner, limit, offset)
}

// Delete removes the record, then its file.
func (s *Service) Delete(ctx context.Context, owner, id string) error {
	doc, err := s.Repo.Delete(ctx, owner, id)
	if err != nil {
		return err
	}
	if err := s.Intake.Store.Delete(ctx, doc.StorageKey); err != nil {
		telemetry.Warn("document.file_delete_failed", telemetry.WithError(map[string]any{
			"document_id":     doc.ID,
			"stored_filename": doc.StoredFilename,
		}, err))
	}
	return nil
}

func (s *Service) clock() time.Time {
	if s.now != nil {
		return s.now()
	}
	return time.Now()
}
