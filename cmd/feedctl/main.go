// Package main provides feedctl, the operator CLI for the feed pipeline.
//
// feedctl talks directly to the DynamoDB feed table, so it needs AWS
// credentials and FEED_TABLE_NAME (or --table) in the environment.
// The reprocess subcommand additionally needs the worker's full
// configuration (bot token, asset bucket) because it runs the creation
// pipeline in-process.
package main

import (
	"os"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/tkpar/feedbridge/internal/lambdaboot"
	"github.com/tkpar/feedbridge/internal/logging"
	"github.com/tkpar/feedbridge/internal/queue"
	"github.com/tkpar/feedbridge/internal/store"
)

// CLI flags
var (
	tableFlag string
)

// rootCmd is the main Cobra command for the CLI.
var rootCmd = &cobra.Command{
	Use:   "feedctl",
	Short: "Operator tooling for the feed ingestion pipeline",
	Long: `feedctl inspects and repairs the feed pipeline's durable state: the
creation queue, the deletion queue, and the published posts.

Examples:
  feedctl queue list --status failed
  feedctl queue show q-1f2e3d4c5b6a7988
  feedctl queue reprocess q-1f2e3d4c5b6a7988
  feedctl post list --limit 20
  feedctl post delete 0001756600000000-6ba7b810-9dad-11d1-80b4-00c04fd430c8
  feedctl post restore 0001756600000000-6ba7b810-9dad-11d1-80b4-00c04fd430c8`,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&tableFlag, "table", "t", "", "DynamoDB feed table name (defaults to FEED_TABLE_NAME)")
	rootCmd.AddCommand(queueCmd)
	rootCmd.AddCommand(postCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// initStore initializes logging and returns a store bound to the feed
// table, plus the AWS clients for commands that need more than DynamoDB.
func initStore() (*store.DynamoStore, lambdaboot.AWSClients) {
	logging.Init()

	if tableFlag != "" {
		os.Setenv("FEED_TABLE_NAME", tableFlag)
	}
	if os.Getenv("FEED_TABLE_NAME") == "" {
		log.Fatal().Msg("no feed table configured: set FEED_TABLE_NAME or pass --table")
	}

	aws := lambdaboot.InitAWS()
	return lambdaboot.InitDynamo(aws.Config, "FEED_TABLE_NAME"), aws
}

// defaultIdentity mirrors the worker Lambda's fallback configuration so an
// in-process reprocess produces the same post a production retry would.
func defaultIdentity() queue.Defaults {
	return queue.Defaults{
		AuthorName:      logging.EnvOrDefault("DEFAULT_AUTHOR_NAME", "tkpar"),
		AuthorAvatarURL: logging.EnvOrDefault("DEFAULT_AUTHOR_AVATAR", "/assets/profile_pic.png"),
		Background: store.Background{
			Kind: store.BackgroundImage,
			URL:  logging.EnvOrDefault("DEFAULT_BACKGROUND_URL", "/assets/post2_bg.gif"),
		},
	}
}
