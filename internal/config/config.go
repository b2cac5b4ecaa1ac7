// Package config loads process configuration from the environment, with an
// optional .env file for local development.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

// Defaults.
const (
	DefaultAnalysisModel = "gemini-2.5-flash"
	DefaultImageModel    = "gemini-2.5-flash-image"
	DefaultCallTimeout   = 120 * time.Second
	DefaultPort          = 8080
	DefaultSSMKeyParam   = "/garment-studio/prod/gemini-api-key"
)

// Config is the resolved configuration of a studio binary. Empty backend
// fields disable the corresponding backend.
type Config struct {
	GeminiAPIKey  string
	GeminiBaseURL string
	AnalysisModel string
	ImageModel    string

	CallTimeout time.Duration
	Port        int

	RedisURL    string
	DynamoTable string
	MediaBucket string
	SSMKeyParam string

	AllowedOrigins []string

	// OriginVerifySecret, when set, is required in the x-origin-verify
	// header of every API request.
	OriginVerifySecret string
}

// Load reads .env files if present, then the environment. Files never
// override variables that are already set.
func Load(files ...string) (Config, error) {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !os.IsNotExist(err) {
			log.Warn().Err(err).Str("file", f).Msg("Failed to read env file")
		}
	}

	c := Config{
		GeminiAPIKey:   os.Getenv("GEMINI_API_KEY"),
		GeminiBaseURL:  os.Getenv("GEMINI_BASE_URL"),
		AnalysisModel:  EnvOrDefault("STUDIO_ANALYSIS_MODEL", DefaultAnalysisModel),
		ImageModel:     EnvOrDefault("STUDIO_IMAGE_MODEL", DefaultImageModel),
		RedisURL:       os.Getenv("REDIS_URL"),
		DynamoTable:    os.Getenv("DYNAMO_TABLE"),
		MediaBucket:    os.Getenv("MEDIA_BUCKET"),
		SSMKeyParam:    EnvOrDefault("SSM_API_KEY_PARAM", DefaultSSMKeyParam),
		AllowedOrigins: splitList(os.Getenv("STUDIO_ALLOWED_ORIGINS")),

		OriginVerifySecret: os.Getenv("ORIGIN_VERIFY_SECRET"),
	}

	var err error
	if c.CallTimeout, err = durationEnv("STUDIO_CALL_TIMEOUT", DefaultCallTimeout); err != nil {
		return Config{}, err
	}
	if c.Port, err = intEnv("STUDIO_PORT", DefaultPort); err != nil {
		return Config{}, err
	}
	if c.Port <= 0 || c.Port > 65535 {
		return Config{}, fmt.Errorf("STUDIO_PORT out of range: %d", c.Port)
	}
	return c, nil
}

// EnvOrDefault returns the value of the named environment variable, or
// defaultVal if the variable is empty or unset.
func EnvOrDefault(envVar, defaultVal string) string {
	if v := os.Getenv(envVar); v != "" {
		return v
	}
	return defaultVal
}

// durationEnv accepts Go durations ("90s") or a bare number of seconds.
func durationEnv(name string, def time.Duration) (time.Duration, error) {
	v := strings.TrimSpace(os.Getenv(name))
	if v == "" {
		return def, nil
	}
	if secs, err := strconv.Atoi(v); err == nil {
		if secs <= 0 {
			return 0, fmt.Errorf("%s must be positive, got %q", name, v)
		}
		return time.Duration(secs) * time.Second, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", name, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("%s must be positive, got %q", name, v)
	}
	return d, nil
}

func intEnv(name string, def int) (int, error) {
	v := strings.TrimSpace(os.Getenv(name))
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", name, err)
	}
	return n, nil
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
