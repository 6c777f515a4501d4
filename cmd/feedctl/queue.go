package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/tkpar/feedbridge/internal/lambdaboot"
	"github.com/tkpar/feedbridge/internal/media"
	"github.com/tkpar/feedbridge/internal/queue"
	"github.com/tkpar/feedbridge/internal/s3util"
	"github.com/tkpar/feedbridge/internal/slack"
	"github.com/tkpar/feedbridge/internal/store"
)

var statusFlag string

var queueCmd = &cobra.Command{
	Use:   "queue",
	Short: "Inspect and repair the creation queue",
}

var queueListCmd = &cobra.Command{
	Use:   "list",
	Short: "List queue items, optionally filtered by status",
	Run:   runQueueList,
}

var queueShowCmd = &cobra.Command{
	Use:   "show <item-id>",
	Short: "Show one queue item in full",
	Args:  cobra.ExactArgs(1),
	Run:   runQueueShow,
}

var queueReprocessCmd = &cobra.Command{
	Use:   "reprocess <item-id>",
	Short: "Rerun the creation pipeline for a failed item",
	Long: `Rerun the creation pipeline for a failed queue item.

The pipeline runs in-process: the item's attachment is downloaded,
transcoded, and uploaded, and the post is created, before the command
returns. Only failed items with retry budget left are eligible, and the
command needs the worker's environment (SLACK_BOT_TOKEN or its SSM
parameter, ASSET_BUCKET_NAME, ASSET_BASE_URL).`,
	Args: cobra.ExactArgs(1),
	Run:  runQueueReprocess,
}

func init() {
	queueListCmd.Flags().StringVarP(&statusFlag, "status", "s", "", "Filter by status (pending, processing, failed, reprocessing)")
	queueCmd.AddCommand(queueListCmd)
	queueCmd.AddCommand(queueShowCmd)
	queueCmd.AddCommand(queueReprocessCmd)
}

func runQueueList(cmd *cobra.Command, args []string) {
	st, _ := initStore()

	status := store.Status(statusFlag)
	if statusFlag != "" && !status.Valid() {
		log.Fatal().Str("status", statusFlag).Msg("unknown status")
	}

	items, err := st.ListQueueItems(context.Background(), status)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to list queue items")
	}

	if len(items) == 0 {
		fmt.Println("No queue items found.")
		return
	}

	fmt.Printf("%-22s %-13s %-9s %-12s %s\n", "ID", "STATUS", "ATTEMPTS", "USER", "RECEIVED")
	for _, item := range items {
		fmt.Printf("%-22s %-13s %-9d %-12s %s\n",
			item.ID, item.Status, item.Attempts, item.SourceEvent.User, formatMillis(item.ReceivedAt))
	}
	fmt.Printf("\n%d item(s)\n", len(items))
}

func runQueueShow(cmd *cobra.Command, args []string) {
	st, _ := initStore()

	item, err := st.GetQueueItem(context.Background(), args[0])
	if err != nil {
		log.Fatal().Err(err).Msg("failed to read queue item")
	}
	if item == nil {
		log.Fatal().Str("item_id", args[0]).Msg("queue item not found")
	}

	src := item.SourceEvent
	fmt.Printf("ID:           %s\n", item.ID)
	fmt.Printf("Status:       %s\n", item.Status)
	fmt.Printf("Attempts:     %d/%d\n", item.Attempts, store.MaxRetries)
	fmt.Printf("User:         %s\n", src.User)
	fmt.Printf("Channel:      %s\n", src.Channel)
	fmt.Printf("Correlation:  %s\n", src.CorrelationID)
	fmt.Printf("Received:     %s\n", formatMillis(item.ReceivedAt))
	if item.LastAttempt > 0 {
		fmt.Printf("Last attempt: %s\n", formatMillis(item.LastAttempt))
	}
	if item.Error != "" {
		fmt.Printf("Error:        %s\n", item.Error)
	}
	if src.File != nil {
		fmt.Printf("Attachment:   %s (%s)\n", src.File.Name, src.File.Mimetype)
	}
	if src.Text != "" {
		fmt.Printf("Text:\n  %s\n", src.Text)
	}
}

func runQueueReprocess(cmd *cobra.Command, args []string) {
	processor := initProcessor()

	err := processor.Reprocess(context.Background(), args[0])
	switch {
	case err == nil:
		fmt.Printf("Queue item %s reprocessed; post created.\n", args[0])
	case errors.Is(err, queue.ErrItemNotFound):
		log.Fatal().Str("item_id", args[0]).Msg("queue item not found")
	case errors.Is(err, queue.ErrNotRetryable):
		log.Fatal().Err(err).Str("item_id", args[0]).Msg("item is not eligible for reprocessing")
	default:
		log.Fatal().Err(err).Str("item_id", args[0]).Msg("reprocess failed; item marked failed again")
	}
}

// initProcessor wires the same creation pipeline the worker Lambda runs,
// so reprocessing from a laptop behaves identically to production.
func initProcessor() *queue.Processor {
	st, aws := initStore()
	s3c := lambdaboot.InitS3(aws.Config, "ASSET_BUCKET_NAME", "ASSET_BASE_URL")

	botToken := lambdaboot.LoadBotToken(aws.SSM)
	slackClient := slack.NewClient(botToken)
	notifier := slack.NewNotifier(lambdaboot.LoadNotifyWebhook(aws.SSM))

	uploader := s3util.NewPublicUploader(s3c.Client, s3c.Bucket, s3c.BaseURL)
	pipeline := media.NewPipeline(media.NewDownloader(&http.Client{Timeout: 5 * time.Minute}, botToken), uploader)

	if err := media.CheckFFmpegAvailable(); err != nil {
		log.Warn().Err(err).Msg("ffmpeg not found; video attachments will fall back to the default background")
	}

	return queue.NewProcessor(st, slackClient, pipeline, notifier, defaultIdentity())
}

func formatMillis(ms int64) string {
	if ms == 0 {
		return "-"
	}
	return time.UnixMilli(ms).UTC().Format(time.RFC3339)
}
