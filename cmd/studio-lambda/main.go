// Package main provides the Lambda entry point for the garment studio API.
//
// API Gateway (HTTP API, payload v2) proxies every /api request here; the
// chi router from internal/api serves it through the httpadapter. Sessions
// are persisted to DynamoDB (DYNAMO_TABLE) with images archived to S3
// (MEDIA_BUCKET), so any warm instance can serve any session. The Gemini
// key comes from GEMINI_API_KEY or SSM Parameter Store (SSM_API_KEY_PARAM).
package main

import (
	"context"
	"net/http"
	"os"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/awslabs/aws-lambda-go-api-proxy/httpadapter"
	"github.com/rs/zerolog/log"

	"github.com/fpang/garment-studio/internal/api"
	"github.com/fpang/garment-studio/internal/config"
	"github.com/fpang/garment-studio/internal/lambdaboot"
	"github.com/fpang/garment-studio/internal/logging"
)

func main() {
	if os.Getenv("STUDIO_LOG_FORMAT") == "" {
		os.Setenv("STUDIO_LOG_FORMAT", "json")
	}
	logging.Init()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid configuration")
	}
	if cfg.DynamoTable == "" {
		log.Warn().Msg("DYNAMO_TABLE not set, sessions will not survive between invocations")
	}

	studio, err := lambdaboot.Boot(context.Background(), cfg, lambdaboot.Options{
		Name:       "studio-lambda",
		UseSSM:     true,
		CommitHash: commitHash,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to boot studio")
	}

	server := api.NewServer(studio.Registry, studio.Gemini, api.Options{
		AllowedOrigins:     cfg.AllowedOrigins,
		OriginVerifySecret: cfg.OriginVerifySecret,
	})

	adapter := httpadapter.NewV2(withSettle(server.Router(), studio))
	lambda.Start(adapter.ProxyWithContext)
}

// withSettle returns only after background calls started by the request
// have finished; the process is frozen between invocations. Clients still
// receive the 202 view and poll for the result.
func withSettle(next http.Handler, studio *lambdaboot.Studio) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		next.ServeHTTP(w, r)
		studio.Registry.Runner().Wait()
	})
}
