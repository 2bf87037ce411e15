package metrics

import (
	"bytes"
	"strings"
	"testing"
)

func TestRenderIncludesCountersAndHistogram(t *testing.T) {
	IncDocumentsUploaded()
	AddStatementRows(2, 1, 0)
	ObserveExtractionDurationMs(300)
	ObserveExtractionDurationMs(-5)

	out := Render()
	for _, want := range []string{
		"# TYPE documents_uploaded_total counter",
		"# TYPE extraction_duration_ms histogram",
		`extraction_duration_ms_bucket{le="500"}`,
		`extraction_duration_ms_bucket{le="+Inf"}`,
		"statement_rows_inserted_total",
		"worker_jobs_failed_total",
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected %q in output:\n%s", want, out)
		}
	}
}

func TestHistogramBucketsAreCumulative(t *testing.T) {
	h := newHistogram([]float64{10, 100})
	h.Observe(5)
	h.Observe(50)
	h.Observe(500)

	snap := h.Snapshot()
	if snap.count != 3 {
		t.Fatalf("expected count 3, got %d", snap.count)
	}
	if snap.counts[0] != 1 || snap.counts[1] != 1 {
		t.Fatalf("unexpected bucket counts %v", snap.counts)
	}
	if formatFloat(snap.sum) != "555" {
		t.Fatalf("unexpected sum %s", formatFloat(snap.sum))
	}

	var buf bytes.Buffer
	writeHistogram(&buf, "h", "test", snap)
	if !strings.Contains(buf.String(), `h_bucket{le="100"} 2`) {
		t.Fatalf("expected cumulative le=100 bucket of 2:\n%s", buf.String())
	}
	if !strings.Contains(buf.String(), `h_bucket{le="+Inf"} 3`) {
		t.Fatalf("expected +Inf bucket of 3:\n%s", buf.String())
	}
}
