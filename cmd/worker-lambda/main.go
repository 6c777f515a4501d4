// Package main provides the worker Lambda: the asynchronous half of the
// ingestion pipeline.
//
// It is invoked by the webhook Lambda via lambda:Invoke with
// InvocationType=Event, one invocation per queue item. Creation items run
// the full pipeline (author resolution, media transcode, post persist);
// deletion items flip the matching post's soft-delete flag. Handled work
// failures are recorded on the queue item and the handler returns nil, so
// the platform's automatic async retry never reruns a failed item — only
// the manual reprocess endpoint may.
//
// Event format:
//
//	{"type": "create"|"delete", "itemId": "q-xxx"}
package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/rs/zerolog/log"

	"github.com/tkpar/feedbridge/internal/lambdaboot"
	"github.com/tkpar/feedbridge/internal/logging"
	"github.com/tkpar/feedbridge/internal/media"
	"github.com/tkpar/feedbridge/internal/queue"
	"github.com/tkpar/feedbridge/internal/s3util"
	"github.com/tkpar/feedbridge/internal/slack"
	"github.com/tkpar/feedbridge/internal/store"
)

var coldStart = true

var processor *queue.Processor

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

	ffmpegOK := true
	if err := media.CheckFFmpegAvailable(); err != nil {
		// Image items still work; video items will fail into the queue's
		// fallback path.
		log.Error().Err(err).Msg("ffmpeg unavailable in this image")
		ffmpegOK = false
	}

	processor = queue.NewProcessor(st, slackClient, pipeline, notifier, queue.Defaults{
		AuthorName:      logging.EnvOrDefault("DEFAULT_AUTHOR_NAME", "tkpar"),
		AuthorAvatarURL: logging.EnvOrDefault("DEFAULT_AUTHOR_AVATAR", "/assets/profile_pic.png"),
		Background: store.Background{
			Kind: store.BackgroundImage,
			URL:  logging.EnvOrDefault("DEFAULT_BACKGROUND_URL", "/assets/post2_bg.gif"),
		},
	})

	lambdaboot.StartupLog("worker-lambda", initStart).
		DynamoTable("feed", logging.EnvOrDefault("FEED_TABLE_NAME", "")).
		S3Bucket("assets", s3c.Bucket).
		Feature("ffmpeg", ffmpegOK).
		Feature("notifications", notifier.Enabled()).
		Log()
}

func main() {
	lambda.Start(handler)
}

func handler(ctx context.Context, event lambdaboot.WorkerEvent) error {
	if coldStart {
		coldStart = false
		log.Info().Str("function", "worker-lambda").Msg("Cold start — first invocation")
	}
	log.Info().
		Str("type", event.Type).
		Str("itemId", event.ItemID).
		Msg("Worker Lambda invoked")

	switch event.Type {
	case lambdaboot.WorkerEventCreate:
		return processor.ProcessCreate(ctx, event.ItemID)
	case lambdaboot.WorkerEventDelete:
		return processor.ProcessDelete(ctx, event.ItemID)
	default:
		return fmt.Errorf("unknown event type: %s", event.Type)
	}
}
