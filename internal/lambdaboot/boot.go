// Package lambdaboot provides the shared cold-start bootstrap for the studio
// binaries.
//
// Every binary needs some subset of: AWS config, the Gemini key (from the
// environment, a local credential file or SSM), the suggestion cache,
// session persistence and startup logging. Boot composes them from a
// config.Config so each main() is a short call.
package lambdaboot

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/rs/zerolog/log"

	"github.com/fpang/garment-studio/internal/attrcache"
	"github.com/fpang/garment-studio/internal/auth"
	"github.com/fpang/garment-studio/internal/config"
	"github.com/fpang/garment-studio/internal/gemini"
	"github.com/fpang/garment-studio/internal/logging"
	"github.com/fpang/garment-studio/internal/s3util"
	"github.com/fpang/garment-studio/internal/store"
	"github.com/fpang/garment-studio/internal/workflow"
)

// SSMAPI is the subset of the SSM client used to fetch the API key.
type SSMAPI interface {
	GetParameter(ctx context.Context, in *ssm.GetParameterInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterOutput, error)
}

// Compile-time interface check.
var _ workflow.Services = (*gemini.Client)(nil)

// Options selects where the API key may come from.
type Options struct {
	// Name labels the startup log.
	Name string
	// UseSSM fetches the key from Parameter Store when it is not in the
	// environment. Lambda sets this.
	UseSSM bool
	// UseLocalCredentials falls back to the key files under the user's
	// home directory. Local binaries set this.
	UseLocalCredentials bool
	// CommitHash is reported in the startup log.
	CommitHash string
}

// Studio is a fully wired studio: a Gemini client, a suggestion cache, a
// session store and the registry that drives them.
type Studio struct {
	Config   config.Config
	Gemini   *gemini.Client
	Cache    attrcache.Cache
	Store    workflow.Store
	Registry *workflow.Registry

	closers []func() error
}

// Close releases backend connections after waiting for in-flight calls.
func (s *Studio) Close() error {
	s.Registry.Runner().Wait()
	var firstErr error
	for _, c := range s.closers {
		if err := c(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Boot wires a Studio from cfg. Backends whose configuration is empty are
// disabled. A missing API key is not an error; the studio starts
// NotConfigured and the key can be set later.
func Boot(ctx context.Context, cfg config.Config, opts Options) (*Studio, error) {
	initStart := time.Now()
	startup := logging.NewStartupLogger(opts.Name).CommitHash(opts.CommitHash)

	st := &Studio{
		Config: cfg,
		Gemini: gemini.New(gemini.Options{AnalysisModel: cfg.AnalysisModel, ImageModel: cfg.ImageModel}),
	}

	var awsCfg aws.Config
	needAWS := cfg.DynamoTable != "" || cfg.MediaBucket != "" || (opts.UseSSM && cfg.GeminiAPIKey == "")
	if needAWS {
		var err error
		if awsCfg, err = InitAWS(ctx); err != nil {
			return nil, err
		}
	}

	apiKey := cfg.GeminiAPIKey
	keySource := "env"
	if apiKey == "" && opts.UseSSM {
		key, err := LoadGeminiKey(ctx, ssm.NewFromConfig(awsCfg), cfg.SSMKeyParam)
		if err != nil {
			log.Warn().Err(err).Str("param", cfg.SSMKeyParam).Msg("Gemini API key not loaded from SSM, starting unconfigured")
		} else {
			apiKey, keySource = key, "ssm"
		}
		startup.SSMParam("geminiApiKey", cfg.SSMKeyParam)
	}
	if apiKey == "" && opts.UseLocalCredentials {
		if key, source, err := auth.GetAPIKey(); err == nil {
			apiKey, keySource = key, string(source)
		}
	}
	if apiKey != "" {
		if err := st.Gemini.Configure(ctx, apiKey, cfg.GeminiBaseURL); err != nil {
			return nil, fmt.Errorf("configure gemini: %w", err)
		}
		startup.Config("apiKeySource", keySource)
	}
	startup.Feature("geminiConfigured", apiKey != "")
	startup.Config("analysisModel", cfg.AnalysisModel)
	startup.Config("imageModel", cfg.ImageModel)
	startup.Config("callTimeout", cfg.CallTimeout.String())

	st.Cache = initCache(ctx, cfg.RedisURL, st)
	startup.Backend("suggestionCache", cacheTarget(st.Cache))

	st.Store = InitStore(awsCfg, cfg.DynamoTable, cfg.MediaBucket)
	startup.Backend("dynamodb", cfg.DynamoTable)
	startup.Backend("s3Archive", archiveTarget(cfg))

	st.Registry = workflow.NewRegistry(st.Gemini, workflow.RegistryOptions{
		CallTimeout: cfg.CallTimeout,
		Cache:       st.Cache,
		Store:       st.Store,
		IdleTTL:     store.SessionTTL,
	})

	startup.InitDuration(time.Since(initStart)).Log()
	return st, nil
}

// InitAWS loads the default AWS config.
func InitAWS(ctx context.Context) (aws.Config, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return aws.Config{}, fmt.Errorf("load AWS config: %w", err)
	}
	log.Debug().Str("region", cfg.Region).Msg("AWS config loaded")
	return cfg, nil
}

// LoadGeminiKey fetches the Gemini API key from SSM Parameter Store.
func LoadGeminiKey(ctx context.Context, client SSMAPI, paramName string) (string, error) {
	if paramName == "" {
		paramName = config.DefaultSSMKeyParam
	}
	ssmStart := time.Now()
	result, err := client.GetParameter(ctx, &ssm.GetParameterInput{
		Name:           &paramName,
		WithDecryption: aws.Bool(true),
	})
	if err != nil {
		return "", fmt.Errorf("read %s from SSM: %w", paramName, err)
	}
	if result.Parameter == nil || aws.ToString(result.Parameter.Value) == "" {
		return "", fmt.Errorf("SSM parameter %s is empty", paramName)
	}
	log.Debug().Str("param", paramName).Dur("elapsed", time.Since(ssmStart)).Msg("Gemini API key loaded from SSM")
	return aws.ToString(result.Parameter.Value), nil
}

// InitStore returns a DynamoDB store when table is set, archiving images to
// bucket when that is set too. Without a table sessions persist in memory.
func InitStore(cfg aws.Config, table, bucket string) workflow.Store {
	if table == "" {
		log.Warn().Msg("DYNAMO_TABLE not set, sessions persist in memory only")
		return store.NewMemory()
	}
	var archive store.ImageArchive
	if bucket != "" {
		archive = s3util.NewArchive(s3.NewFromConfig(cfg), bucket)
	}
	return store.NewDynamoStore(dynamodb.NewFromConfig(cfg), table, archive)
}

// initCache connects to Redis when url is set. A failed connection falls
// back to the in-memory cache.
func initCache(ctx context.Context, url string, st *Studio) attrcache.Cache {
	if url == "" {
		return attrcache.NewMemory()
	}
	client, err := attrcache.Connect(ctx, url)
	if err != nil {
		log.Warn().Err(err).Msg("Redis unavailable, using in-memory suggestion cache")
		return attrcache.NewMemory()
	}
	st.closers = append(st.closers, client.Close)
	return attrcache.NewRedis(client, 0)
}

// cacheTarget names the cache backend without exposing the Redis URL.
func cacheTarget(c attrcache.Cache) string {
	if _, ok := c.(*attrcache.Redis); ok {
		return "redis"
	}
	return "memory"
}

func archiveTarget(cfg config.Config) string {
	if cfg.DynamoTable == "" {
		return ""
	}
	return cfg.MediaBucket
}
