package ingest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"expense-backend/internal/queue"
	"expense-backend/internal/shared/metrics"
	"expense-backend/internal/shared/telemetry"
)

// ErrPoolClosed is returned by Send after Shutdown has started.
var ErrPoolClosed = errors.New("ingest pool closed")

// Processor runs one document. *Orchestrator implements it.
type Processor interface {
	ProcessDocument(ctx context.Context, id string) error
}

// Pool is an in-process queue.Client backed by a buffered channel and a
// fixed set of workers.
type Pool struct {
	proc    Processor
	workers int
	timeout time.Duration

	ch   chan queue.Message
	quit chan struct{}
	wg   sync.WaitGroup
	once sync.Once
	stop sync.Once

	mu     sync.RWMutex
	closed bool
}

type Option func(*Pool)

func WithWorkers(n int) Option {
	return func(p *Pool) {
		if n > 0 {
			p.workers = n
		}
	}
}

func WithQueueSize(n int) Option {
	return func(p *Pool) {
		if n > 0 {
			p.ch = make(chan queue.Message, n)
		}
	}
}

func WithJobTimeout(d time.Duration) Option {
	return func(p *Pool) {
		if d > 0 {
			p.timeout = d
		}
	}
}

// NewPool starts the workers and returns the pool.
func NewPool(proc Processor, opts ...Option) *Pool {
	p := &Pool{
		proc:    proc,
		workers: 4,
		timeout: 2 * time.Minute,
		ch:      make(chan queue.Message, 64),
		quit:    make(chan struct{}),
	}
	for _, o := range opts {
		o(p)
	}
	p.start()
	return p
}

func (p *Pool) start() {
	p.once.Do(func() {
		for i := 0; i < p.workers; i++ {
			p.wg.Add(1)
			go func(workerID int) {
				defer p.wg.Done()
				for msg := range p.ch {
					p.run(workerID, msg)
				}
			}(i + 1)
		}
		telemetry.Info("pool.started", map[string]any{"workers": p.workers, "queue_size": cap(p.ch)})
	})
}

// run processes one message on a fresh context. The request context of the
// upload is long gone; only its request id travels with the message.
func (p *Pool) run(workerID int, msg queue.Message) {
	fields := map[string]any{
		"worker_id":   workerID,
		"document_id": msg.DocumentID,
		"request_id":  msg.RequestID,
	}
	ctx, cancel := context.WithTimeout(telemetry.WithRequestID(context.Background(), msg.RequestID), p.timeout)
	defer cancel()

	metrics.IncWorkerJobsReceived()
	start := time.Now()
	err := p.safeProcess(ctx, msg.DocumentID)
	fields["duration_ms"] = time.Since(start).Milliseconds()
	if err != nil {
		metrics.IncWorkerJobsFailed()
		telemetry.Error("pool.job_failed", telemetry.WithError(fields, err))
		return
	}
	metrics.IncWorkerJobsCompleted()
	telemetry.Info("pool.job_done", fields)
}

func (p *Pool) safeProcess(ctx context.Context, id string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return p.proc.ProcessDocument(ctx, id)
}

// Send enqueues msg, blocking while the buffer is full until there is room,
// ctx ends or the pool shuts down.
func (p *Pool) Send(ctx context.Context, msg queue.Message) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrPoolClosed
	}
	select {
	case p.ch <- msg:
		return nil
	default:
	}
	telemetry.Warn("pool.backpressure", map[string]any{"document_id": msg.DocumentID})
	select {
	case p.ch <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-p.quit:
		return ErrPoolClosed
	}
}

// Pending reports the number of buffered messages.
func (p *Pool) Pending() int {
	return len(p.ch)
}

// Shutdown stops accepting messages and waits for queued ones to finish or
// for ctx to end.
func (p *Pool) Shutdown(ctx context.Context) error {
	p.stop.Do(func() {
		close(p.quit)
		p.mu.Lock()
		p.closed = true
		close(p.ch)
		p.mu.Unlock()
	})

	done := make(chan struct{})
	go func() { defer close(done); p.wg.Wait() }()

	select {
	case <-ctx.Done():
		telemetry.Warn("pool.shutdown_interrupted", map[string]any{"pending": len(p.ch)})
		return ctx.Err()
	case <-done:
		telemetry.Info("pool.drained", nil)
		return nil
	}
}

var _ queue.Client = (*Pool)(nil)
