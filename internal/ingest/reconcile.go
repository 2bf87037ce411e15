package ingest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"expense-backend/internal/documents"
	"expense-backend/internal/queue"
	"expense-backend/internal/shared/metrics"
	"expense-backend/internal/shared/schedule"
	"expense-backend/internal/shared/storage/object"
	"expense-backend/internal/shared/telemetry"
)

// ReconcileOptions tunes a Reconciler.
type ReconcileOptions struct {
	Interval    time.Duration
	StaleAfter  time.Duration
	MaxAttempts int
	BatchSize   int
}

// ReconcileResult summarizes one sweep.
type ReconcileResult struct {
	Scanned    int       `json:"scanned"`
	Requeued   int       `json:"requeued"`
	Abandoned  int       `json:"abandoned"`
	Errors     int       `json:"errors"`
	StartedAt  time.Time `json:"startedAt"`
	FinishedAt time.Time `json:"finishedAt"`
}

// Reconciler re-dispatches documents stuck in pending or processing and
// gives up on them after MaxAttempts dispatches.
type Reconciler struct {
	Repo  documents.DocumentsRepo
	Queue queue.Client
	Store object.ObjectStore

	opts ReconcileOptions
	job  *schedule.Job
	mu   sync.Mutex
	now  func() time.Time
}

// NewReconciler constructs a Reconciler.
func NewReconciler(repo documents.DocumentsRepo, q queue.Client, store object.ObjectStore, opts ReconcileOptions) *Reconciler {
	if opts.Interval <= 0 {
		opts.Interval = 5 * time.Minute
	}
	if opts.StaleAfter <= 0 {
		opts.StaleAfter = 10 * time.Minute
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 3
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 100
	}
	r := &Reconciler{Repo: repo, Queue: q, Store: store, opts: opts, now: time.Now}
	r.job = schedule.New("reconcile", opts.Interval, func(ctx context.Context) {
		if _, err := r.Sweep(ctx); err != nil {
			telemetry.Error("reconcile.sweep_failed", telemetry.WithError(nil, err))
		}
	})
	return r
}

// Start runs one sweep now and then every Interval.
func (r *Reconciler) Start() error {
	return r.job.Start()
}

// Stop halts the schedule and waits for a running sweep.
func (r *Reconciler) Stop(ctx context.Context) error {
	return r.job.Stop(ctx)
}

// Sweep processes one batch of stale documents. Sweeps never overlap.
func (r *Reconciler) Sweep(ctx context.Context) (ReconcileResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now().UTC()
	res := ReconcileResult{StartedAt: now}
	stale, err := r.Repo.ListStale(ctx,
		[]documents.Status{documents.StatusPending, documents.StatusProcessing},
		now.Add(-r.opts.StaleAfter),
		r.opts.BatchSize,
	)
	if err != nil {
		return res, fmt.Errorf("list stale documents: %w", err)
	}
	res.Scanned = len(stale)

	for _, doc := range stale {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		fields := map[string]any{
			"document_id":       doc.ID,
			"status":            doc.Status,
			"dispatch_attempts": doc.DispatchAttempts,
		}
		if doc.DispatchAttempts >= r.opts.MaxAttempts {
			abandoned, err := r.abandon(ctx, doc)
			if err != nil {
				res.Errors++
				telemetry.Error("reconcile.abandon_failed", telemetry.WithError(fields, err))
				continue
			}
			if !abandoned {
				continue
			}
			res.Abandoned++
			telemetry.Warn("reconcile.abandoned", fields)
			continue
		}

		attempts, err := r.Repo.MarkRequeued(ctx, doc.ID, now)
		if errors.Is(err, documents.ErrNotFound) {
			continue
		}
		if err != nil {
			res.Errors++
			telemetry.Error("reconcile.mark_failed", telemetry.WithError(fields, err))
			continue
		}
		fields["dispatch_attempts"] = attempts
		if err := r.Queue.Send(ctx, queue.NewMessage(doc.ID, "", now)); err != nil {
			res.Errors++
			telemetry.Error("reconcile.dispatch_failed", telemetry.WithError(fields, err))
			continue
		}
		res.Requeued++
		metrics.IncReconcileRequeued()
		telemetry.Info("reconcile.requeued", fields)
	}

	res.FinishedAt = r.now().UTC()
	telemetry.Info("reconcile.sweep", map[string]any{
		"scanned":   res.Scanned,
		"requeued":  res.Requeued,
		"abandoned": res.Abandoned,
		"errors":    res.Errors,
	})
	return res, nil
}

// abandon fails the document and removes its file. Once the record is
// terminal nothing else would ever consume the file.
func (r *Reconciler) abandon(ctx context.Context, doc documents.Document) (bool, error) {
	msg := fmt.Sprintf("abandoned after %d dispatch attempts", doc.DispatchAttempts)
	payload := documents.FailurePayload(documents.ErrorCodeAbandoned, msg, false)
	if _, err := r.Repo.Transition(ctx, doc.ID, documents.StatusFailed, payload, r.now().UTC()); err != nil {
		if errors.Is(err, documents.ErrInvalidTransition) {
			return false, nil
		}
		return false, err
	}
	metrics.IncDocumentsFailed()
	if r.Store != nil {
		if err := r.Store.Delete(ctx, doc.StorageKey); err != nil {
			telemetry.Warn("reconcile.file_delete_failed", telemetry.WithError(map[string]any{
				"document_id":     doc.ID,
				"stored_filename": doc.StoredFilename,
			}, err))
		}
	}
	return true, nil
}
