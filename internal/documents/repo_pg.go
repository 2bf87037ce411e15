package documents

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// PGRepo implements DocumentsRepo using Postgres.
type PGRepo struct {
	DB *sql.DB
}

const documentColumns = `id, user_id, stored_filename, original_filename, storage_provider, storage_key, size_bytes,
    mime_type, detected_mime_type, status, payload, dispatch_attempts, processing_started_at, created_at, updated_at`

// validID reports whether id can be compared against the uuid primary key.
// Anything else would fail in Postgres with invalid_text_representation, so
// callers get ErrNotFound instead.
func validID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}

// Create inserts a new pending document.
func (r *PGRepo) Create(ctx context.Context, doc Document) error {
	const query = `
INSERT INTO documents (
    id,
    user_id,
    stored_filename,
    original_filename,
    storage_provider,
    storage_key,
    size_bytes,
    mime_type,
    detected_mime_type,
    status,
    payload,
    dispatch_attempts,
    created_at,
    updated_at
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, NULL, 0, $11, $11)`

	storageProvider := doc.StorageProvider
	if storageProvider == "" {
		storageProvider = "local"
	}
	var detected sql.NullString
	if doc.DetectedMimeType != "" {
		detected = sql.NullString{String: doc.DetectedMimeType, Valid: true}
	}

	_, err := r.DB.ExecContext(
		ctx,
		query,
		doc.ID,
		doc.UserID,
		doc.StoredFilename,
		doc.OriginalFilename,
		storageProvider,
		doc.StorageKey,
		doc.SizeBytes,
		doc.MimeType,
		detected,
		string(StatusPending),
		doc.CreatedAt,
	)
	return err
}

// GetByID fetches a document by ID.
func (r *PGRepo) GetByID(ctx context.Context, id string) (Document, error) {
	if !validID(id) {
		return Document{}, ErrNotFound
	}
	query := `SELECT ` + documentColumns + `
FROM documents
WHERE id = $1`
	doc, err := scanDocument(r.DB.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Document{}, ErrNotFound
		}
		return Document{}, err
	}
	return doc, nil
}

// ListByUser lists documents ordered newest-first.
func (r *PGRepo) ListByUser(ctx context.Context, userID string, limit, offset int) ([]Document, error) {
	if limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}
	query := `SELECT ` + documentColumns + `
FROM documents
WHERE user_id = $1
ORDER BY created_at DESC
LIMIT $2 OFFSET $3`
	return r.queryDocuments(ctx, query, userID, limit, offset)
}

// Transition applies a status change with a conditional update on the
// status read beforehand. A lost race is re-evaluated against the new row.
func (r *PGRepo) Transition(ctx context.Context, id string, status Status, payload *Payload, at time.Time) (Document, error) {
	const attempts = 2
	for i := 0; i < attempts; i++ {
		current, err := r.GetByID(ctx, id)
		if err != nil {
			return Document{}, err
		}
		noop, err := checkTransition(current.Status, status)
		if err != nil {
			return Document{}, err
		}
		if noop {
			return current, nil
		}
		if err := checkPayload(status, payload); err != nil {
			return Document{}, err
		}

		doc, err := r.conditionalUpdate(ctx, id, current.Status, status, payload, at)
		if errors.Is(err, sql.ErrNoRows) {
			continue
		}
		if err != nil {
			return Document{}, err
		}
		return doc, nil
	}
	return Document{}, fmt.Errorf("%w: document %s changed concurrently", ErrInvalidTransition, id)
}

func (r *PGRepo) conditionalUpdate(ctx context.Context, id string, from, to Status, payload *Payload, at time.Time) (Document, error) {
	query := `
UPDATE documents
SET status = $1,
    payload = $2::jsonb,
    processing_started_at = CASE WHEN $1 = 'processing' THEN $3 ELSE processing_started_at END,
    updated_at = $3
WHERE id = $4 AND status = $5
RETURNING ` + documentColumns

	var raw any
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return Document{}, fmt.Errorf("marshal payload: %w", err)
		}
		raw = data
	}
	return scanDocument(r.DB.QueryRowContext(ctx, query, string(to), raw, at, id, string(from)))
}

// Delete removes the user's document and returns the removed row.
func (r *PGRepo) Delete(ctx context.Context, userID, id string) (Document, error) {
	if !validID(id) {
		return Document{}, ErrNotFound
	}
	query := `
DELETE FROM documents
WHERE id = $1 AND user_id = $2
RETURNING ` + documentColumns
	doc, err := scanDocument(r.DB.QueryRowContext(ctx, query, id, userID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Document{}, ErrNotFound
		}
		return Document{}, err
	}
	return doc, nil
}

// ExistingStoredFilenames looks up names in one round trip.
func (r *PGRepo) ExistingStoredFilenames(ctx context.Context, names []string) (map[string]struct{}, error) {
	out := make(map[string]struct{})
	if len(names) == 0 {
		return out, nil
	}
	const query = `
SELECT stored_filename
FROM documents
WHERE stored_filename = ANY($1)`
	rows, err := r.DB.QueryContext(ctx, query, pq.Array(names))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		out[name] = struct{}{}
	}
	return out, rows.Err()
}

// ListStale returns documents in one of statuses not updated since olderThan.
func (r *PGRepo) ListStale(ctx context.Context, statuses []Status, olderThan time.Time, limit int) ([]Document, error) {
	if limit <= 0 {
		limit = 100
	}
	names := make([]string, 0, len(statuses))
	for _, s := range statuses {
		names = append(names, string(s))
	}
	query := `SELECT ` + documentColumns + `
FROM documents
WHERE status = ANY($1) AND updated_at < $2
ORDER BY updated_at ASC
LIMIT $3`
	return r.queryDocuments(ctx, query, pq.Array(names), olderThan, limit)
}

// MarkRequeued bumps dispatch_attempts of a pending or processing document.
func (r *PGRepo) MarkRequeued(ctx context.Context, id string, at time.Time) (int, error) {
	if !validID(id) {
		return 0, ErrNotFound
	}
	const query = `
UPDATE documents
SET dispatch_attempts = dispatch_attempts + 1,
    updated_at = $2
WHERE id = $1 AND status IN ('pending', 'processing')
RETURNING dispatch_attempts`
	var attempts int
	if err := r.DB.QueryRowContext(ctx, query, id, at).Scan(&attempts); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, ErrNotFound
		}
		return 0, err
	}
	return attempts, nil
}

func (r *PGRepo) queryDocuments(ctx context.Context, query string, args ...any) ([]Document, error) {
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, doc)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDocument(row rowScanner) (Document, error) {
	var doc Document
	var status string
	var detected sql.NullString
	var payload []byte
	var startedAt sql.NullTime
	if err := row.Scan(
		&doc.ID,
		&doc.UserID,
		&doc.StoredFilename,
		&doc.OriginalFilename,
		&doc.StorageProvider,
		&doc.StorageKey,
		&doc.SizeBytes,
		&doc.MimeType,
		&detected,
		&status,
		&payload,
		&doc.DispatchAttempts,
		&startedAt,
		&doc.CreatedAt,
		&doc.UpdatedAt,
	); err != nil {
		return Document{}, err
	}
	doc.Status = Status(status)
	if detected.Valid {
		doc.DetectedMimeType = detected.String
	}
	if startedAt.Valid {
		doc.ProcessingStartedAt = &startedAt.Time
	}
	if len(payload) > 0 {
		var p Payload
		if err := json.Unmarshal(payload, &p); err != nil {
			return Document{}, fmt.Errorf("decode payload for %s: %w", doc.ID, err)
		}
		doc.Payload = &p
	}
	return doc, nil
}

var _ DocumentsRepo = (*PGRepo)(nil)
