package ingest

import (
	"context"
	"errors"
	"time"

	"github.com/sethvargo/go-retry"

	"expense-backend/internal/documents"
)

// retryStore runs fn with exponential backoff. Errors that re-running cannot
// fix (missing record, illegal transition, bad payload) are returned at once.
func retryStore(ctx context.Context, attempts int, base time.Duration, fn func(ctx context.Context) error) error {
	if attempts < 1 {
		attempts = 1
	}
	if base <= 0 {
		base = 200 * time.Millisecond
	}
	backoff := retry.WithMaxRetries(uint64(attempts-1), retry.NewExponential(base))
	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		err := fn(ctx)
		if err == nil || permanentStoreError(err) {
			return err
		}
		return retry.RetryableError(err)
	})
}

func permanentStoreError(err error) bool {
	return errors.Is(err, documents.ErrNotFound) ||
		errors.Is(err, documents.ErrInvalidTransition) ||
		errors.Is(err, documents.ErrInvalidPayload) ||
		errors.Is(err, context.Canceled)
}
