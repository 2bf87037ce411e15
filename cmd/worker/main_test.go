package main

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqstypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"

	"expense-backend/internal/documents"
	"expense-backend/internal/queue"
)

type fakeSQS struct {
	deleted []string
}

func (f *fakeSQS) ReceiveMessage(ctx context.Context, params *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error) {
	return &sqs.ReceiveMessageOutput{}, nil
}

func (f *fakeSQS) DeleteMessage(ctx context.Context, params *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error) {
	f.deleted = append(f.deleted, aws.ToString(params.ReceiptHandle))
	return &sqs.DeleteMessageOutput{}, nil
}

type fakeProcessor struct {
	err  error
	seen []string
}

func (f *fakeProcessor) ProcessDocument(ctx context.Context, id string) error {
	f.seen = append(f.seen, id)
	return f.err
}

func sqsMessage(t *testing.T, id, receipt string, msg queue.Message) sqstypes.Message {
	t.Helper()
	body, err := queue.EncodeMessage(msg)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	return sqstypes.Message{
		MessageId:     aws.String(id),
		ReceiptHandle: aws.String(receipt),
		Body:          aws.String(string(body)),
		Attributes:    map[string]string{"ApproximateReceiveCount": "1"},
	}
}

func TestWorkerDeletesMessageOnSuccess(t *testing.T) {
	client := &fakeSQS{}
	proc := &fakeProcessor{}
	msg := sqsMessage(t, "m1", "r1", queue.Message{DocumentID: "doc-1", RequestID: "req-1"})

	handleMessage(context.Background(), client, "queue", proc, msg)

	if len(client.deleted) != 1 || client.deleted[0] != "r1" {
		t.Fatalf("expected delete of r1, got %v", client.deleted)
	}
	if len(proc.seen) != 1 || proc.seen[0] != "doc-1" {
		t.Fatalf("expected doc-1 processed, got %v", proc.seen)
	}
}

func TestWorkerKeepsMessageOnFailure(t *testing.T) {
	client := &fakeSQS{}
	proc := &fakeProcessor{err: errors.New("database unavailable")}
	msg := sqsMessage(t, "m2", "r2", queue.Message{DocumentID: "doc-2", RequestID: "req-2"})

	handleMessage(context.Background(), client, "queue", proc, msg)

	if len(client.deleted) != 0 {
		t.Fatalf("expected no delete, got %d", len(client.deleted))
	}
}

func TestWorkerDeletesMessageForDeletedDocument(t *testing.T) {
	client := &fakeSQS{}
	proc := &fakeProcessor{err: documents.ErrNotFound}
	msg := sqsMessage(t, "m5", "r5", queue.Message{DocumentID: "doc-5"})

	handleMessage(context.Background(), client, "queue", proc, msg)

	if len(client.deleted) != 1 || client.deleted[0] != "r5" {
		t.Fatalf("a message for a deleted document must be removed, got %v", client.deleted)
	}
}

func TestWorkerDeletesUnrecoverableMessages(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"invalid json", "{bad-json"},
		{"empty body", "   "},
		{"missing document id", `{"requestId":"req-3","version":1}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := &fakeSQS{}
			proc := &fakeProcessor{}
			msg := sqstypes.Message{
				MessageId:     aws.String("m3"),
				ReceiptHandle: aws.String("r3"),
				Body:          aws.String(tt.body),
			}

			handleMessage(context.Background(), client, "queue", proc, msg)

			if len(client.deleted) != 1 {
				t.Fatalf("expected delete, got %d", len(client.deleted))
			}
			if len(proc.seen) != 0 {
				t.Fatalf("processor must not run, got %v", proc.seen)
			}
		})
	}
}

func TestReceiveCount(t *testing.T) {
	msg := sqstypes.Message{Attributes: map[string]string{"ApproximateReceiveCount": "3"}}
	if got := receiveCount(msg); got != 3 {
		t.Fatalf("expected 3, got %d", got)
	}
	if got := receiveCount(sqstypes.Message{}); got != 0 {
		t.Fatalf("expected 0, got %d", got)
	}
}
