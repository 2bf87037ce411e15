// Package retention deletes uploaded files that no document references any
// more. Records are never touched; only files are collected.
package retention

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"expense-backend/internal/shared/metrics"
	"expense-backend/internal/shared/schedule"
	"expense-backend/internal/shared/storage/object"
	"expense-backend/internal/shared/telemetry"
)

// RefChecker reports which stored filenames are still referenced by a record.
type RefChecker interface {
	ExistingStoredFilenames(ctx context.Context, names []string) (map[string]struct{}, error)
}

// Options tunes a Collector.
type Options struct {
	Interval time.Duration
	// MaxAge bounds the aged pass. It must exceed the longest plausible
	// orchestration, or in-flight uploads lose their file.
	MaxAge time.Duration
	// OrphanGrace is the minimum age of a document file before the orphan
	// pass looks at it.
	OrphanGrace time.Duration
	// DocumentPrefix selects the files written for document records.
	DocumentPrefix string
	// LookupBatch bounds the names sent in one reference lookup.
	LookupBatch int
}

// SweepResult summarizes one sweep.
type SweepResult struct {
	Scanned        int       `json:"scanned"`
	OrphansDeleted int       `json:"orphansDeleted"`
	AgedDeleted    int       `json:"agedDeleted"`
	BytesFreed     int64     `json:"bytesFreed"`
	Failures       int       `json:"failures"`
	StartedAt      time.Time `json:"startedAt"`
	FinishedAt     time.Time `json:"finishedAt"`
}

// Deleted is the total number of files removed.
func (r SweepResult) Deleted() int {
	return r.OrphansDeleted + r.AgedDeleted
}

// Stats is a point-in-time view of the upload root.
type Stats struct {
	FileCount  int          `json:"fileCount"`
	TotalBytes int64        `json:"totalBytes"`
	Running    bool         `json:"running"`
	LastSweep  *SweepResult `json:"lastSweep,omitempty"`
}

// Collector runs the orphan and aged passes over an object store.
type Collector struct {
	Store object.ObjectStore
	Refs  RefChecker

	opts Options
	job  *schedule.Job
	now  func() time.Time

	mu sync.Mutex // serializes sweeps

	lastMu sync.RWMutex
	last   *SweepResult
}

// NewCollector constructs a Collector. Zero options take their defaults.
func NewCollector(store object.ObjectStore, refs RefChecker, opts Options) *Collector {
	if opts.Interval <= 0 {
		opts.Interval = time.Hour
	}
	if opts.MaxAge <= 0 {
		opts.MaxAge = 24 * time.Hour
	}
	if opts.OrphanGrace <= 0 {
		opts.OrphanGrace = 15 * time.Minute
	}
	if opts.DocumentPrefix == "" {
		opts.DocumentPrefix = "receipt"
	}
	if opts.LookupBatch <= 0 {
		opts.LookupBatch = 500
	}
	c := &Collector{Store: store, Refs: refs, opts: opts, now: time.Now}
	c.job = schedule.New("retention", opts.Interval, func(ctx context.Context) {
		if _, err := c.Sweep(ctx); err != nil {
			telemetry.Error("retention.sweep_failed", telemetry.WithError(nil, err))
		}
	})
	return c
}

// Start runs one sweep now and then every Interval.
func (c *Collector) Start() error {
	return c.job.Start()
}

// Stop halts the schedule and waits for a running sweep.
func (c *Collector) Stop(ctx context.Context) error {
	return c.job.Stop(ctx)
}

// Sweep runs both passes once. An error means the store could not be listed;
// per-file and lookup failures are counted in the result instead.
func (c *Collector) Sweep(ctx context.Context) (SweepResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now().UTC()
	res := SweepResult{StartedAt: now}

	files, err := c.Store.List(ctx)
	if err != nil {
		return res, fmt.Errorf("list uploads: %w", err)
	}
	res.Scanned = len(files)

	docPrefix := c.opts.DocumentPrefix + "_"
	deleted := make(map[string]struct{})

	var orphanCandidates []object.ObjectInfo
	for _, f := range files {
		if strings.HasPrefix(f.Key, docPrefix) && now.Sub(f.ModTime) > c.opts.OrphanGrace {
			orphanCandidates = append(orphanCandidates, f)
		}
	}
	n, freed := c.collect(ctx, "orphan", orphanCandidates, deleted, &res)
	res.OrphansDeleted = n
	res.BytesFreed += freed

	var agedCandidates []object.ObjectInfo
	for _, f := range files {
		if _, gone := deleted[f.Key]; gone {
			continue
		}
		if now.Sub(f.ModTime) > c.opts.MaxAge {
			agedCandidates = append(agedCandidates, f)
		}
	}
	n, freed = c.collect(ctx, "aged", agedCandidates, deleted, &res)
	res.AgedDeleted = n
	res.BytesFreed += freed

	res.FinishedAt = c.now().UTC()
	metrics.AddRetentionFilesDeleted(res.Deleted())
	metrics.AddRetentionFailures(res.Failures)

	c.lastMu.Lock()
	last := res
	c.last = &last
	c.lastMu.Unlock()

	telemetry.Info("retention.sweep", map[string]any{
		"scanned":         res.Scanned,
		"orphans_deleted": res.OrphansDeleted,
		"aged_deleted":    res.AgedDeleted,
		"bytes_freed":     res.BytesFreed,
		"failures":        res.Failures,
		"duration_ms":     res.FinishedAt.Sub(res.StartedAt).Milliseconds(),
	})
	return res, nil
}

// collect deletes the unreferenced files among candidates. If the reference
// lookup fails nothing is deleted.
func (c *Collector) collect(ctx context.Context, pass string, candidates []object.ObjectInfo, deleted map[string]struct{}, res *SweepResult) (int, int64) {
	if len(candidates) == 0 {
		return 0, 0
	}
	refs, err := c.lookup(ctx, candidates)
	if err != nil {
		res.Failures++
		telemetry.Error("retention.lookup_failed", telemetry.WithError(map[string]any{
			"pass":       pass,
			"candidates": len(candidates),
		}, err))
		return 0, 0
	}

	var count int
	var freed int64
	for _, f := range candidates {
		if _, ok := refs[f.Key]; ok {
			continue
		}
		if err := ctx.Err(); err != nil {
			res.Failures++
			return count, freed
		}
		if err := c.Store.Delete(ctx, f.Key); err != nil {
			res.Failures++
			telemetry.Warn("retention.delete_failed", telemetry.WithError(map[string]any{
				"pass": pass,
				"file": f.Key,
			}, err))
			continue
		}
		deleted[f.Key] = struct{}{}
		count++
		freed += f.Size
		telemetry.Info("retention.deleted", map[string]any{
			"pass":   pass,
			"file":   f.Key,
			"bytes":  f.Size,
			"age_ms": c.now().Sub(f.ModTime).Milliseconds(),
		})
	}
	return count, freed
}

func (c *Collector) lookup(ctx context.Context, files []object.ObjectInfo) (map[string]struct{}, error) {
	out := make(map[string]struct{})
	for start := 0; start < len(files); start += c.opts.LookupBatch {
		end := start + c.opts.LookupBatch
		if end > len(files) {
			end = len(files)
		}
		names := make([]string, 0, end-start)
		for _, f := range files[start:end] {
			names = append(names, f.Key)
		}
		found, err := c.Refs.ExistingStoredFilenames(ctx, names)
		if err != nil {
			return nil, err
		}
		for name := range found {
			out[name] = struct{}{}
		}
	}
	return out, nil
}

// Stats lists the store and reports its size along with the last sweep.
func (c *Collector) Stats(ctx context.Context) (Stats, error) {
	files, err := c.Store.List(ctx)
	if err != nil {
		return Stats{}, fmt.Errorf("list uploads: %w", err)
	}
	st := Stats{FileCount: len(files), Running: c.job.Started()}
	for _, f := range files {
		st.TotalBytes += f.Size
	}
	c.lastMu.RLock()
	if c.last != nil {
		last := *c.last
		st.LastSweep = &last
	}
	c.lastMu.RUnlock()
	return st, nil
}
