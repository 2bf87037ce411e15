package ingest

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"expense-backend/internal/queue"
	"expense-backend/internal/shared/telemetry"
)

type recordingProcessor struct {
	mu      sync.Mutex
	ids     []string
	reqIDs  []string
	block   chan struct{}
	started chan string
	err     error
}

func (p *recordingProcessor) ProcessDocument(ctx context.Context, id string) error {
	if p.started != nil {
		p.started <- id
	}
	if p.block != nil {
		<-p.block
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ids = append(p.ids, id)
	p.reqIDs = append(p.reqIDs, telemetry.RequestIDFromContext(ctx))
	return p.err
}

func (p *recordingProcessor) processed() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.ids...)
}

func TestPoolProcessesAndDrains(t *testing.T) {
	proc := &recordingProcessor{}
	pool := NewPool(proc, WithWorkers(2), WithQueueSize(8))

	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, pool.Send(context.Background(), queue.NewMessage(id, "req-"+id, time.Now())))
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, pool.Shutdown(ctx))

	assert.ElementsMatch(t, []string{"a", "b", "c"}, proc.processed())
	assert.Contains(t, proc.reqIDs, "req-b")
}

func TestPoolRejectsAfterShutdown(t *testing.T) {
	pool := NewPool(&recordingProcessor{}, WithWorkers(1))
	require.NoError(t, pool.Shutdown(context.Background()))
	require.NoError(t, pool.Shutdown(context.Background()))

	err := pool.Send(context.Background(), queue.NewMessage("a", "", time.Now()))
	assert.ErrorIs(t, err, ErrPoolClosed)
}

func TestPoolSendAppliesBackpressure(t *testing.T) {
	proc := &recordingProcessor{block: make(chan struct{}), started: make(chan string, 1)}
	pool := NewPool(proc, WithWorkers(1), WithQueueSize(1))

	require.NoError(t, pool.Send(context.Background(), queue.NewMessage("a", "", time.Now())))
	<-proc.started
	require.NoError(t, pool.Send(context.Background(), queue.NewMessage("b", "", time.Now())))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := pool.Send(ctx, queue.NewMessage("c", "", time.Now()))
	assert.True(t, errors.Is(err, context.DeadlineExceeded), "expected deadline, got %v", err)

	proc.started = nil
	close(proc.block)
	require.NoError(t, pool.Shutdown(context.Background()))
	assert.ElementsMatch(t, []string{"a", "b"}, proc.processed())
}

func TestPoolSurvivesProcessorPanic(t *testing.T) {
	var calls int
	var mu sync.Mutex
	proc := processorFunc(func(ctx context.Context, id string) error {
		mu.Lock()
		calls++
		mu.Unlock()
		if id == "boom" {
			panic("bad document")
		}
		return nil
	})
	pool := NewPool(proc, WithWorkers(1))
	require.NoError(t, pool.Send(context.Background(), queue.NewMessage("boom", "", time.Now())))
	require.NoError(t, pool.Send(context.Background(), queue.NewMessage("ok", "", time.Now())))
	require.NoError(t, pool.Shutdown(context.Background()))

	assert.Equal(t, 2, calls)
}

func TestPoolAppliesJobTimeout(t *testing.T) {
	deadlines := make(chan bool, 1)
	proc := processorFunc(func(ctx context.Context, id string) error {
		_, ok := ctx.Deadline()
		deadlines <- ok
		return nil
	})
	pool := NewPool(proc, WithWorkers(1), WithJobTimeout(time.Second))
	require.NoError(t, pool.Send(context.Background(), queue.NewMessage("a", "", time.Now())))
	require.NoError(t, pool.Shutdown(context.Background()))
	assert.True(t, <-deadlines)
}

type processorFunc func(ctx context.Context, id string) error

func (f processorFunc) ProcessDocument(ctx context.Context, id string) error {
	return f(ctx, id)
}
