package main

// Build the Lambda handler binary:
//   GOOS=linux GOARCH=amd64 CGO_ENABLED=0 go build -o bootstrap ./cmd/lambda-worker

import (
	"context"
	"log"
	"sync"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"

	"expense-backend/internal/bootstrap"
	"expense-backend/internal/shared/config"
	"expense-backend/internal/shared/metrics"
	"expense-backend/internal/shared/telemetry"
	"expense-backend/internal/workerproc"
)

var (
	initOnce sync.Once
	initErr  error
	worker   *bootstrap.Worker
)

func initWorker() {
	cfg := config.Load()
	built, err := bootstrap.BuildWorker(context.Background(), cfg)
	if err != nil {
		initErr = err
		return
	}
	worker = built
}

func handler(ctx context.Context, event events.SQSEvent) (events.SQSEventResponse, error) {
	initOnce.Do(initWorker)
	if initErr != nil {
		log.Printf("bootstrap error: %v", initErr)
		return allFailed(event), initErr
	}
	return processBatch(ctx, worker.Orchestrator, event), nil
}

// processBatch reports only redeliverable failures. Messages that can never
// succeed are acknowledged so they do not cycle through the queue.
func processBatch(ctx context.Context, proc workerproc.Processor, event events.SQSEvent) events.SQSEventResponse {
	failures := make([]events.SQSBatchItemFailure, 0)
	for _, record := range event.Records {
		metrics.IncWorkerJobsReceived()
		err := workerproc.HandleMessage(ctx, proc, record.Body)
		switch {
		case err == nil:
			metrics.IncWorkerJobsCompleted()
		case workerproc.Unrecoverable(err):
			metrics.IncWorkerJobsFailed()
			telemetry.Warn("lambda.message_dropped", telemetry.WithError(map[string]any{
				"message_id": record.MessageId,
			}, err))
		default:
			metrics.IncWorkerJobsFailed()
			telemetry.Error("lambda.message_failed", telemetry.WithError(map[string]any{
				"message_id": record.MessageId,
			}, err))
			failures = append(failures, events.SQSBatchItemFailure{ItemIdentifier: record.MessageId})
		}
	}
	return events.SQSEventResponse{BatchItemFailures: failures}
}

func allFailed(event events.SQSEvent) events.SQSEventResponse {
	failures := make([]events.SQSBatchItemFailure, 0, len(event.Records))
	for _, record := range event.Records {
		failures = append(failures, events.SQSBatchItemFailure{ItemIdentifier: record.MessageId})
	}
	return events.SQSEventResponse{BatchItemFailures: failures}
}

func main() {
	lambda.Start(handler)
}
