// Package main provides the webhook Lambda: the synchronous ingestion
// edge of the feed pipeline.
//
// It verifies inbound chat-platform event signatures, classifies events,
// and either answers directly (endpoint verification, restores) or
// enqueues durable work and dispatches the worker Lambda asynchronously.
// The synchronous portion must finish inside the event source's short
// response budget; everything slow is deferred to the worker.
//
// Endpoints:
//
//	POST /slack/events — signed event webhook
package main

import (
	"net/http"
	"time"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/awslabs/aws-lambda-go-api-proxy/httpadapter"

	"github.com/tkpar/feedbridge/internal/lambdaboot"
	"github.com/tkpar/feedbridge/internal/logging"
	"github.com/tkpar/feedbridge/internal/queue"
	"github.com/tkpar/feedbridge/internal/slack"
	"github.com/tkpar/feedbridge/internal/webhook"
)

var events *webhook.EventHandler

func init() {
	initStart := time.Now()
	logging.Init()

	aws := lambdaboot.InitAWS()
	st := lambdaboot.InitDynamo(aws.Config, "FEED_TABLE_NAME")
	invoker := lambdaboot.NewWorkerInvoker(aws.Config)

	verifier := slack.NewVerifier(lambdaboot.LoadSigningSecret(aws.SSM))
	classifier := slack.NewClassifier(logging.EnvOrDefault("MARK_REACTION", slack.DefaultMarkReaction))

	// The restore path only touches the store; the processor's other
	// collaborators stay unset.
	restorer := queue.NewProcessor(st, nil, nil, slack.NewNotifier(""), queue.Defaults{})

	events = webhook.NewEventHandler(verifier, classifier, st, invoker, restorer)

	lambdaboot.StartupLog("webhook-lambda", initStart).
		DynamoTable("feed", logging.EnvOrDefault("FEED_TABLE_NAME", "")).
		LambdaFunc("worker", logging.EnvOrDefault("WORKER_LAMBDA_ARN", "")).
		Config("markReaction", logging.EnvOrDefault("MARK_REACTION", slack.DefaultMarkReaction)).
		Log()
}

func main() {
	mux := http.NewServeMux()
	mux.Handle("/slack/events", events)

	adapter := httpadapter.NewV2(mux)
	lambda.Start(adapter.ProxyWithContext)
}
