// Package main provides the reprocess Lambda: the operator-facing manual
// retry entry point.
//
// A failed queue item is never retried automatically. This endpoint,
// guarded by a shared secret, transitions a failed item to reprocessing
// and reruns the full creation pipeline synchronously, so the caller
// learns the outcome in the response.
//
// Endpoints:
//
//	POST /reprocess — {"itemId": "...", "secret": "..."}
package main

import (
	"net/http"
	"time"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/awslabs/aws-lambda-go-api-proxy/httpadapter"

	"github.com/tkpar/feedbridge/internal/lambdaboot"
	"github.com/tkpar/feedbridge/internal/logging"
	"github.com/tkpar/feedbridge/internal/media"
	"github.com/tkpar/feedbridge/internal/queue"
	"github.com/tkpar/feedbridge/internal/s3util"
	"github.com/tkpar/feedbridge/internal/slack"
	"github.com/tkpar/feedbridge/internal/store"
	"github.com/tkpar/feedbridge/internal/webhook"
)

var reprocess *webhook.ReprocessHandler

func init() {
	initStart := time.Now()
	logging.Init()

	aws := lambdaboot.InitAWS()
	st := lambdaboot.InitDynamo(aws.Config, "FEED_TABLE_NAME")
	s3c := lambdaboot.InitS3(aws.Config, "ASSET_BUCKET_NAME", "ASSET_BASE_URL")

	botToken := lambdaboot.LoadBotToken(aws.SSM)
	slackClient := slack.NewClient(botToken)
	notifier := slack.NewNotifier(lambdaboot.LoadNotifyWebhook(aws.SSM))

	uploader := s3util.NewPublicUploader(s3c.Client, s3c.Bucket, s3c.BaseURL)
	pipeline := media.NewPipeline(media.NewDownloader(&http.Client{Timeout: 5 * time.Minute}, botToken), uploader)

	processor := queue.NewProcessor(st, slackClient, pipeline, notifier, queue.Defaults{
		AuthorName:      logging.EnvOrDefault("DEFAULT_AUTHOR_NAME", "tkpar"),
		AuthorAvatarURL: logging.EnvOrDefault("DEFAULT_AUTHOR_AVATAR", "/assets/profile_pic.png"),
		Background: store.Background{
			Kind: store.BackgroundImage,
			URL:  logging.EnvOrDefault("DEFAULT_BACKGROUND_URL", "/assets/post2_bg.gif"),
		},
	})

	reprocess = webhook.NewReprocessHandler(lambdaboot.LoadReprocessSecret(aws.SSM), processor)

	lambdaboot.StartupLog("reprocess-lambda", initStart).
		DynamoTable("feed", logging.EnvOrDefault("FEED_TABLE_NAME", "")).
		S3Bucket("assets", s3c.Bucket).
		Log()
}

func main() {
	mux := http.NewServeMux()
	mux.Handle("/reprocess", reprocess)

	adapter := httpadapter.NewV2(mux)
	lambda.Start(adapter.ProxyWithContext)
}
