// Package schedule runs background sweeps on a fixed interval using cron.
package schedule

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"expense-backend/internal/shared/telemetry"
)

// ErrAlreadyStarted is returned by Start on a running Job.
var ErrAlreadyStarted = errors.New("schedule: job already started")

// Job runs fn once at Start and then every interval. Overlapping runs are
// skipped and panics are recovered.
type Job struct {
	name     string
	interval time.Duration
	fn       func(ctx context.Context)

	mu      sync.Mutex
	cron    *cron.Cron
	cancel  context.CancelFunc
	initial sync.WaitGroup
}

// New creates a Job. A non-positive interval is rejected at Start.
func New(name string, interval time.Duration, fn func(ctx context.Context)) *Job {
	return &Job{name: name, interval: interval, fn: fn}
}

// Start schedules the job and kicks off one immediate run.
func (j *Job) Start() error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.cron != nil {
		return ErrAlreadyStarted
	}
	if j.interval <= 0 {
		return fmt.Errorf("schedule %s: interval must be positive", j.name)
	}

	ctx, cancel := context.WithCancel(context.Background())
	logger := cronLogger{name: j.name}
	wrapped := cron.NewChain(
		cron.Recover(logger),
		cron.SkipIfStillRunning(logger),
	).Then(cron.FuncJob(func() { j.fn(ctx) }))

	c := cron.New()
	c.Schedule(cron.Every(j.interval), wrapped)
	c.Start()

	j.cron = c
	j.cancel = cancel

	j.initial.Add(1)
	go func() {
		defer j.initial.Done()
		wrapped.Run()
	}()

	telemetry.Info("schedule.start", map[string]any{
		"job":      j.name,
		"interval": j.interval.String(),
	})
	return nil
}

// Stop cancels the job context and waits for in-flight runs or ctx expiry.
func (j *Job) Stop(ctx context.Context) error {
	j.mu.Lock()
	c := j.cron
	cancel := j.cancel
	j.cron = nil
	j.cancel = nil
	j.mu.Unlock()

	if c == nil {
		return nil
	}
	cancel()
	cronDone := c.Stop()

	done := make(chan struct{})
	go func() {
		<-cronDone.Done()
		j.initial.Wait()
		close(done)
	}()

	select {
	case <-done:
		telemetry.Info("schedule.stop", map[string]any{"job": j.name})
		return nil
	case <-ctx.Done():
		return fmt.Errorf("schedule %s: stop: %w", j.name, ctx.Err())
	}
}

// Started reports whether Start has been called without a matching Stop.
func (j *Job) Started() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.cron != nil
}

// cronLogger routes cron's internal logging to telemetry.
type cronLogger struct {
	name string
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	telemetry.Info("schedule."+msg, fields(l.name, keysAndValues))
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	telemetry.Error("schedule."+msg, telemetry.WithError(fields(l.name, keysAndValues), err))
}

func fields(name string, keysAndValues []interface{}) map[string]any {
	out := map[string]any{"job": name}
	for i := 0; i+1 < len(keysAndValues); i += 2 {
		if key, ok := keysAndValues[i].(string); ok {
			out[key] = keysAndValues[i+1]
		}
	}
	return out
}
