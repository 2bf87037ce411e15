package schedule

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func TestStartRunsImmediately(t *testing.T) {
	ran := make(chan struct{}, 1)
	job := New("test", time.Hour, func(ctx context.Context) {
		select {
		case ran <- struct{}{}:
		default:
		}
	})
	if err := job.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer job.Stop(context.Background())

	select {
	case <-ran:
	case <-time.After(2 * time.Second):
		t.Fatalf("expected immediate run")
	}
	if !job.Started() {
		t.Fatalf("expected job to report started")
	}
	if err := job.Start(); !errors.Is(err, ErrAlreadyStarted) {
		t.Fatalf("expected ErrAlreadyStarted, got %v", err)
	}
}

func TestStopCancelsAndWaits(t *testing.T) {
	var finished atomic.Bool
	started := make(chan struct{})
	job := New("blocking", time.Hour, func(ctx context.Context) {
		close(started)
		<-ctx.Done()
		finished.Store(true)
	})
	if err := job.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := job.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if !finished.Load() {
		t.Fatalf("expected run to observe cancellation before Stop returned")
	}
	if job.Started() {
		t.Fatalf("expected job to report stopped")
	}
}

func TestStartRejectsNonPositiveInterval(t *testing.T) {
	job := New("bad", 0, func(ctx context.Context) {})
	if err := job.Start(); err == nil {
		t.Fatalf("expected interval error")
	}
	if err := job.Stop(context.Background()); err != nil {
		t.Fatalf("Stop on unstarted job should be a no-op, got %v", err)
	}
}

func TestPanicIsRecovered(t *testing.T) {
	done := make(chan struct{})
	job := New("panics", time.Hour, func(ctx context.Context) {
		defer close(done)
		panic("boom")
	})
	if err := job.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	<-done
	if err := job.Stop(context.Background()); err != nil {
		t.Fatalf("Stop: %v", err)
	}
}
