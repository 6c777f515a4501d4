// Package lambdaboot provides shared Lambda cold-start bootstrap logic.
//
// Every Lambda in the project needs some subset of: AWS config, S3,
// DynamoDB, SSM secret fetch, and startup logging. This package extracts
// the common init patterns so each Lambda's init() is a short composition
// of helpers.
package lambdaboot

import (
	"context"
	"os"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/rs/zerolog/log"

	"github.com/tkpar/feedbridge/internal/logging"
	"github.com/tkpar/feedbridge/internal/store"
)

// AWSClients holds the core AWS SDK clients used across Lambdas.
type AWSClients struct {
	Config aws.Config
	SSM    *ssm.Client
}

// S3Clients holds the S3 client, asset bucket name, and the public base
// URL under which uploaded objects are reachable.
type S3Clients struct {
	Client  *s3.Client
	Bucket  string
	BaseURL string
}

// InitAWS loads the default AWS config and returns it along with common clients.
func InitAWS() AWSClients {
	cfg, err := awsconfig.LoadDefaultConfig(context.Background())
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load AWS config")
	}
	log.Debug().Str("region", cfg.Region).Msg("AWS config loaded")
	return AWSClients{
		Config: cfg,
		SSM:    ssm.NewFromConfig(cfg),
	}
}

// InitS3 creates an S3 client and reads the bucket name and public base
// URL from the given environment variables. Fatals if either is empty.
func InitS3(cfg aws.Config, bucketEnvVar, baseURLEnvVar string) S3Clients {
	bucket := os.Getenv(bucketEnvVar)
	if bucket == "" {
		log.Fatal().Str("envVar", bucketEnvVar).Msg("Bucket environment variable is required")
	}
	baseURL := os.Getenv(baseURLEnvVar)
	if baseURL == "" {
		log.Fatal().Str("envVar", baseURLEnvVar).Msg("Asset base URL environment variable is required")
	}
	return S3Clients{
		Client:  s3.NewFromConfig(cfg),
		Bucket:  bucket,
		BaseURL: baseURL,
	}
}

// InitDynamo creates the DynamoDB store from the given config and table
// name environment variable. Fatals if the env var is empty.
func InitDynamo(cfg aws.Config, tableEnvVar string) *store.DynamoStore {
	tableName := os.Getenv(tableEnvVar)
	if tableName == "" {
		log.Fatal().Str("envVar", tableEnvVar).Msg("DynamoDB table environment variable is required")
	}
	ddbClient := dynamodb.NewFromConfig(cfg)
	return store.NewDynamoStore(ddbClient, tableName)
}

// LoadSecret resolves a secret: the env var wins when set, otherwise the
// value is fetched with decryption from SSM Parameter Store under the
// param named by paramEnvVar (falling back to defaultParam). Fatals on
// SSM errors when required; returns "" for optional missing secrets.
func LoadSecret(ssmClient *ssm.Client, envVar, paramEnvVar, defaultParam string, required bool) string {
	if v := os.Getenv(envVar); v != "" {
		return v
	}

	paramName := os.Getenv(paramEnvVar)
	if paramName == "" {
		paramName = defaultParam
	}

	ssmStart := time.Now()
	result, err := ssmClient.GetParameter(context.Background(), &ssm.GetParameterInput{
		Name:           &paramName,
		WithDecryption: aws.Bool(true),
	})
	if err != nil {
		if required {
			log.Fatal().Err(err).Str("param", paramName).Msg("Failed to read required secret from SSM")
		}
		log.Warn().Err(err).Str("param", paramName).Msg("Optional secret not found in SSM")
		return ""
	}
	log.Debug().Str("param", paramName).Dur("elapsed", time.Since(ssmStart)).Msg("Secret loaded from SSM")
	return *result.Parameter.Value
}

// LoadSigningSecret loads the webhook signing secret. Required: without
// it every inbound request would have to be rejected.
func LoadSigningSecret(ssmClient *ssm.Client) string {
	return LoadSecret(ssmClient, "SLACK_SIGNING_SECRET", "SSM_SIGNING_SECRET_PARAM",
		"/feedbridge/prod/slack-signing-secret", true)
}

// LoadBotToken loads the bot token used for identity lookups and
// authenticated file downloads. Required on the worker path.
func LoadBotToken(ssmClient *ssm.Client) string {
	return LoadSecret(ssmClient, "SLACK_BOT_TOKEN", "SSM_BOT_TOKEN_PARAM",
		"/feedbridge/prod/slack-bot-token", true)
}

// LoadReprocessSecret loads the shared secret guarding the manual
// reprocess endpoint. Required wherever that endpoint is served.
func LoadReprocessSecret(ssmClient *ssm.Client) string {
	return LoadSecret(ssmClient, "REPROCESS_SECRET", "SSM_REPROCESS_SECRET_PARAM",
		"/feedbridge/prod/reprocess-secret", true)
}

// LoadNotifyWebhook loads the operator notification webhook URL.
// Optional: without it failure notifications degrade to logged no-ops.
func LoadNotifyWebhook(ssmClient *ssm.Client) string {
	return LoadSecret(ssmClient, "NOTIFY_WEBHOOK_URL", "SSM_NOTIFY_WEBHOOK_PARAM",
		"/feedbridge/prod/notify-webhook-url", false)
}

// StartupLog is a convenience wrapper for the startup logger.
func StartupLog(name string, initStart time.Time) *logging.StartupLogger {
	return logging.NewStartupLogger(name).InitDuration(time.Since(initStart))
}
