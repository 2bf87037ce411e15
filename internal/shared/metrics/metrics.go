package metrics

import (
	"bytes"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/gin-gonic/gin"
)

var (
	documentsUploadedTotal  atomic.Uint64
	documentsCompletedTotal atomic.Uint64
	documentsFailedTotal    atomic.Uint64

	retentionFilesDeletedTotal atomic.Uint64
	retentionFailuresTotal     atomic.Uint64

	statementRowsInsertedTotal atomic.Uint64
	statementRowsSkippedTotal  atomic.Uint64
	statementRowsFailedTotal   atomic.Uint64

	reconcileRequeuedTotal atomic.Uint64

	workerJobsReceivedTotal  atomic.Uint64
	workerJobsCompletedTotal atomic.Uint64
	workerJobsFailedTotal    atomic.Uint64

	extractionDuration = newHistogram([]float64{100, 250, 500, 1000, 2000, 5000, 10000, 30000, 60000})
)

// IncDocumentsUploaded increments the uploaded counter.
func IncDocumentsUploaded() {
	documentsUploadedTotal.Add(1)
}

// IncDocumentsCompleted increments the completed counter.
func IncDocumentsCompleted() {
	documentsCompletedTotal.Add(1)
}

// IncDocumentsFailed increments the failed counter.
func IncDocumentsFailed() {
	documentsFailedTotal.Add(1)
}

// ObserveExtractionDurationMs records an extraction call duration in milliseconds.
func ObserveExtractionDurationMs(value float64) {
	if value < 0 {
		value = 0
	}
	extractionDuration.Observe(value)
}

func AddRetentionFilesDeleted(n int) {
	if n > 0 {
		retentionFilesDeletedTotal.Add(uint64(n))
	}
}

func AddRetentionFailures(n int) {
	if n > 0 {
		retentionFailuresTotal.Add(uint64(n))
	}
}

// AddStatementRows records the outcome counts of one statement import.
func AddStatementRows(inserted, skipped, failed int) {
	if inserted > 0 {
		statementRowsInsertedTotal.Add(uint64(inserted))
	}
	if skipped > 0 {
		statementRowsSkippedTotal.Add(uint64(skipped))
	}
	if failed > 0 {
		statementRowsFailedTotal.Add(uint64(failed))
	}
}

func IncReconcileRequeued() {
	reconcileRequeuedTotal.Add(1)
}

func IncWorkerJobsReceived() {
	workerJobsReceivedTotal.Add(1)
}

func IncWorkerJobsCompleted() {
	workerJobsCompletedTotal.Add(1)
}

func IncWorkerJobsFailed() {
	workerJobsFailedTotal.Add(1)
}

// Handler exposes metrics in Prometheus text format.
func Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Content-Type", "text/plain; version=0.0.4")
		c.String(http.StatusOK, Render())
	}
}

// Render renders metrics in Prometheus text format.
func Render() string {
	var buf bytes.Buffer
	writeCounter(&buf, "documents_uploaded_total", "Total documents accepted for ingestion", documentsUploadedTotal.Load())
	writeCounter(&buf, "documents_completed_total", "Total documents extracted successfully", documentsCompletedTotal.Load())
	writeCounter(&buf, "documents_failed_total", "Total documents that ended in failed", documentsFailedTotal.Load())
	writeHistogram(&buf, "extraction_duration_ms", "Extraction call duration in milliseconds", extractionDuration.Snapshot())
	writeCounter(&buf, "retention_files_deleted_total", "Total files removed by the retention collector", retentionFilesDeletedTotal.Load())
	writeCounter(&buf, "retention_failures_total", "Total retention deletions or lookups that failed", retentionFailuresTotal.Load())
	writeCounter(&buf, "statement_rows_inserted_total", "Total statement rows inserted", statementRowsInsertedTotal.Load())
	writeCounter(&buf, "statement_rows_skipped_total", "Total statement rows skipped as duplicates", statementRowsSkippedTotal.Load())
	writeCounter(&buf, "statement_rows_failed_total", "Total statement rows rejected", statementRowsFailedTotal.Load())
	writeCounter(&buf, "reconcile_requeued_total", "Total stale documents re-queued", reconcileRequeuedTotal.Load())
	writeCounter(&buf, "worker_jobs_received_total", "Total ingestion jobs received", workerJobsReceivedTotal.Load())
	writeCounter(&buf, "worker_jobs_completed_total", "Total ingestion jobs completed", workerJobsCompletedTotal.Load())
	writeCounter(&buf, "worker_jobs_failed_total", "Total ingestion jobs failed", workerJobsFailedTotal.Load())
	return buf.String()
}

type histogram struct {
	mu      sync.Mutex
	buckets []float64
	counts  []uint64
	sum     float64
	count   uint64
}

type histogramSnapshot struct {
	buckets []float64
	counts  []uint64
	sum     float64
	count   uint64
}

func newHistogram(buckets []float64) *histogram {
	return &histogram{
		buckets: buckets,
		counts:  make([]uint64, len(buckets)),
	}
}

func (h *histogram) Observe(value float64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.count++
	h.sum += value
	// counts holds per-bucket hits; writeHistogram accumulates them.
	for i, bound := range h.buckets {
		if value <= bound {
			h.counts[i]++
			break
		}
	}
}

func (h *histogram) Snapshot() histogramSnapshot {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := histogramSnapshot{
		buckets: append([]float64(nil), h.buckets...),
		counts:  append([]uint64(nil), h.counts...),
		sum:     h.sum,
		count:   h.count,
	}
	return out
}

func writeCounter(buf *bytes.Buffer, name, help string, value uint64) {
	fmt.Fprintf(buf, "# HELP %s %s\n", name, help)
	fmt.Fprintf(buf, "# TYPE %s counter\n", name)
	fmt.Fprintf(buf, "%s %d\n", name, value)
}

func writeHistogram(buf *bytes.Buffer, name, help string, snap histogramSnapshot) {
	fmt.Fprintf(buf, "# HELP %s %s\n", name, help)
	fmt.Fprintf(buf, "# TYPE %s histogram\n", name)
	var cumulative uint64
	for i, bound := range snap.buckets {
		cumulative += snap.counts[i]
		fmt.Fprintf(buf, "%s_bucket{le=\"%s\"} %d\n", name, formatFloat(bound), cumulative)
	}
	fmt.Fprintf(buf, "%s_bucket{le=\"+Inf\"} %d\n", name, snap.count)
	fmt.Fprintf(buf, "%s_sum %s\n", name, formatFloat(snap.sum))
	fmt.Fprintf(buf, "%s_count %d\n", name, snap.count)
}

func formatFloat(value float64) string {
	if value == float64(int64(value)) {
		return strconv.FormatInt(int64(value), 10)
	}
	return strconv.FormatFloat(value, 'f', -1, 64)
}
