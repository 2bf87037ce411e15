package documents

import (
	"context"
	"time"
)

// DocumentsRepo defines persistence operations for documents.
type DocumentsRepo interface {
	Create(ctx context.Context, doc Document) error
	GetByID(ctx context.Context, id string) (Document, error)
	ListByUser(ctx context.Context, userID string, limit, offset int) ([]Document, error)
	// Transition moves the document to status and stores payload in one
	// atomic step. Re-applying the current status returns the record unchanged.
	Transition(ctx context.Context, id string, status Status, payload *Payload, at time.Time) (Document, error)
	// Delete removes the user's document and returns the removed row.
	Delete(ctx context.Context, userID, id string) (Document, error)
	// ExistingStoredFilenames returns the subset of names still referenced by a row.
	ExistingStoredFilenames(ctx context.Context, names []string) (map[string]struct{}, error)
	// ListStale returns documents in one of statuses last updated before olderThan, oldest first.
	ListStale(ctx context.Context, statuses []Status, olderThan time.Time, limit int) ([]Document, error)
	// MarkRequeued bumps dispatch_attempts of a pending or processing
	// document and returns the new count.
	MarkRequeued(ctx context.Context, id string, at time.Time) (int, error)
}
