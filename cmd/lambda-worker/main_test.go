package main

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-lambda-go/events"

	"expense-backend/internal/documents"
	"expense-backend/internal/queue"
)

type fakeProcessor struct {
	errs map[string]error
	seen []string
}

func (f *fakeProcessor) ProcessDocument(ctx context.Context, id string) error {
	f.seen = append(f.seen, id)
	return f.errs[id]
}

func record(t *testing.T, messageID, documentID string) events.SQSMessage {
	t.Helper()
	body, err := queue.EncodeMessage(queue.Message{DocumentID: documentID, RequestID: "req-" + messageID})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	return events.SQSMessage{MessageId: messageID, Body: string(body)}
}

func TestProcessBatchReportsOnlyRedeliverableFailures(t *testing.T) {
	proc := &fakeProcessor{errs: map[string]error{
		"doc-2": errors.New("db down"),
		"doc-5": documents.ErrNotFound,
	}}
	event := events.SQSEvent{Records: []events.SQSMessage{
		record(t, "m1", "doc-1"),
		record(t, "m2", "doc-2"),
		{MessageId: "m3", Body: "{not json"},
		{MessageId: "m4", Body: ""},
		record(t, "m5", "doc-5"),
	}}

	resp := processBatch(context.Background(), proc, event)

	if len(resp.BatchItemFailures) != 1 || resp.BatchItemFailures[0].ItemIdentifier != "m2" {
		t.Fatalf("expected only m2 to be redelivered, got %+v", resp.BatchItemFailures)
	}
	if len(proc.seen) != 3 {
		t.Fatalf("expected three documents processed, got %v", proc.seen)
	}
}

func TestAllFailedMarksEveryRecord(t *testing.T) {
	event := events.SQSEvent{Records: []events.SQSMessage{{MessageId: "a"}, {MessageId: "b"}}}
	resp := allFailed(event)
	if len(resp.BatchItemFailures) != 2 {
		t.Fatalf("expected 2 failures, got %d", len(resp.BatchItemFailures))
	}
}
