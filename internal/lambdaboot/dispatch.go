package lambdaboot

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/aws/aws-sdk-go-v2/aws"
	lambdasvc "github.com/aws/aws-sdk-go-v2/service/lambda"
	lambdatypes "github.com/aws/aws-sdk-go-v2/service/lambda/types"
	"github.com/rs/zerolog/log"
)

// Worker event types.
const (
	WorkerEventCreate = "create"
	WorkerEventDelete = "delete"
)

// WorkerEvent is the payload the webhook Lambda sends to the worker
// Lambda: the event kind plus the queue item ID to process. The item's
// full state lives in the store; the event only names it.
type WorkerEvent struct {
	Type   string `json:"type"`
	ItemID string `json:"itemId"`
}

// WorkerInvoker dispatches queue items to the worker Lambda with
// InvocationType=Event, so the webhook returns without waiting for
// processing to finish.
type WorkerInvoker struct {
	client      *lambdasvc.Client
	functionArn string
}

// NewWorkerInvoker creates a WorkerInvoker reading the worker function
// ARN from the WORKER_LAMBDA_ARN environment variable. Fatals if unset.
func NewWorkerInvoker(cfg aws.Config) *WorkerInvoker {
	arn := os.Getenv("WORKER_LAMBDA_ARN")
	if arn == "" {
		log.Fatal().Str("envVar", "WORKER_LAMBDA_ARN").Msg("Worker Lambda ARN environment variable is required")
	}
	return &WorkerInvoker{
		client:      lambdasvc.NewFromConfig(cfg),
		functionArn: arn,
	}
}

// Invoke sends the event asynchronously. The returned error covers only
// the dispatch itself; worker failures surface through the queue item's
// status, not here.
func (w *WorkerInvoker) Invoke(ctx context.Context, event WorkerEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal worker event: %w", err)
	}

	_, err = w.client.Invoke(ctx, &lambdasvc.InvokeInput{
		FunctionName:   aws.String(w.functionArn),
		InvocationType: lambdatypes.InvocationTypeEvent,
		Payload:        payload,
	})
	if err != nil {
		return fmt.Errorf("invoke worker lambda: %w", err)
	}

	log.Debug().
		Str("type", event.Type).
		Str("itemId", event.ItemID).
		Msg("Worker Lambda invoked asynchronously")
	return nil
}
