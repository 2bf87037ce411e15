package documents

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// MemoryRepo is an in-memory implementation of DocumentsRepo.
type MemoryRepo struct {
	mu     sync.RWMutex
	byID   map[string]Document
	byName map[string]string // stored filename -> id
}

// NewMemoryRepo constructs a MemoryRepo.
func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{
		byID:   make(map[string]Document),
		byName: make(map[string]string),
	}
}

// Create stores a new document.
func (r *MemoryRepo) Create(ctx context.Context, doc Document) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byID[doc.ID]; ok {
		return fmt.Errorf("document %s already exists", doc.ID)
	}
	if _, ok := r.byName[doc.StoredFilename]; ok {
		return fmt.Errorf("stored filename %s already exists", doc.StoredFilename)
	}
	r.byID[doc.ID] = cloneDocument(doc)
	r.byName[doc.StoredFilename] = doc.ID
	return nil
}

// GetByID returns a document by ID.
func (r *MemoryRepo) GetByID(ctx context.Context, id string) (Document, error) {
	if err := ctx.Err(); err != nil {
		return Document{}, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	doc, ok := r.byID[id]
	if !ok {
		return Document{}, ErrNotFound
	}
	return cloneDocument(doc), nil
}

// ListByUser returns documents for a user, newest first, honoring limit/offset.
func (r *MemoryRepo) ListByUser(ctx context.Context, userID string, limit, offset int) ([]Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if offset < 0 {
		offset = 0
	}
	if limit < 0 {
		limit = 0
	}

	r.mu.RLock()
	docs := make([]Document, 0)
	for _, doc := range r.byID {
		if doc.UserID == userID {
			docs = append(docs, cloneDocument(doc))
		}
	}
	r.mu.RUnlock()

	if offset >= len(docs) {
		return []Document{}, nil
	}
	sort.Slice(docs, func(i, j int) bool {
		return docs[i].CreatedAt.After(docs[j].CreatedAt)
	})

	end := len(docs)
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}
	return docs[offset:end], nil
}

// Transition applies a status change under the write lock.
func (r *MemoryRepo) Transition(ctx context.Context, id string, status Status, payload *Payload, at time.Time) (Document, error) {
	if err := ctx.Err(); err != nil {
		return Document{}, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	doc, ok := r.byID[id]
	if !ok {
		return Document{}, ErrNotFound
	}
	noop, err := checkTransition(doc.Status, status)
	if err != nil {
		return Document{}, err
	}
	if noop {
		return cloneDocument(doc), nil
	}
	if err := checkPayload(status, payload); err != nil {
		return Document{}, err
	}

	doc.Status = status
	doc.Payload = clonePayload(payload)
	doc.UpdatedAt = at
	if status == StatusProcessing {
		started := at
		doc.ProcessingStartedAt = &started
	}
	r.byID[id] = doc
	return cloneDocument(doc), nil
}

// Delete removes the user's document.
func (r *MemoryRepo) Delete(ctx context.Context, userID, id string) (Document, error) {
	if err := ctx.Err(); err != nil {
		return Document{}, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	doc, ok := r.byID[id]
	if !ok || doc.UserID != userID {
		return Document{}, ErrNotFound
	}
	delete(r.byID, id)
	delete(r.byName, doc.StoredFilename)
	return doc, nil
}

// ExistingStoredFilenames returns the names that still have a row.
func (r *MemoryRepo) ExistingStoredFilenames(ctx context.Context, names []string) (map[string]struct{}, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]struct{})
	for _, name := range names {
		if _, ok := r.byName[name]; ok {
			out[name] = struct{}{}
		}
	}
	return out, nil
}

// ListStale returns matching documents, oldest update first.
func (r *MemoryRepo) ListStale(ctx context.Context, statuses []Status, olderThan time.Time, limit int) ([]Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	want := make(map[Status]struct{}, len(statuses))
	for _, s := range statuses {
		want[s] = struct{}{}
	}

	r.mu.RLock()
	var out []Document
	for _, doc := range r.byID {
		if _, ok := want[doc.Status]; ok && doc.UpdatedAt.Before(olderThan) {
			out = append(out, cloneDocument(doc))
		}
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].UpdatedAt.Before(out[j].UpdatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// MarkRequeued bumps the dispatch counter of a non-terminal document.
func (r *MemoryRepo) MarkRequeued(ctx context.Context, id string, at time.Time) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	doc, ok := r.byID[id]
	if !ok || doc.Status.Terminal() {
		return 0, ErrNotFound
	}
	doc.DispatchAttempts++
	doc.UpdatedAt = at
	r.byID[id] = doc
	return doc.DispatchAttempts, nil
}

func cloneDocument(doc Document) Document {
	doc.Payload = clonePayload(doc.Payload)
	if doc.ProcessingStartedAt != nil {
		started := *doc.ProcessingStartedAt
		doc.ProcessingStartedAt = &started
	}
	return doc
}

func clonePayload(p *Payload) *Payload {
	if p == nil {
		return nil
	}
	out := *p
	return &out
}

var _ DocumentsRepo = (*MemoryRepo)(nil)
