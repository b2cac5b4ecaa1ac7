// Package gemini implements the studio's remote services on the Gemini API:
// garment analysis, targeted re-analysis, background normalization,
// modification suggestions, image generation and model try-on shots.
//
// A Client starts unconfigured. Every call made before Configure succeeds
// is refused locally with a NotConfigured error and no request is sent.
package gemini

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/fpang/garment-studio/internal/garment"
	"github.com/fpang/garment-studio/internal/metrics"
	"github.com/rs/zerolog/log"
	"google.golang.org/genai"
)

// Defaults for rate-limit retries.
const (
	DefaultRetryAttempts = 3
	DefaultRetryBackoff  = 2 * time.Second
)

// Options configures model selection and retry behaviour.
type Options struct {
	AnalysisModel string
	ImageModel    string
	RetryAttempts int
	RetryBackoff  time.Duration
}

func (o Options) withDefaults() Options {
	if o.AnalysisModel == "" {
		o.AnalysisModel = ModelGemini25Flash
	}
	if o.ImageModel == "" {
		o.ImageModel = ModelGemini25FlashImage
	}
	if o.RetryAttempts <= 0 {
		o.RetryAttempts = DefaultRetryAttempts
	}
	if o.RetryBackoff <= 0 {
		o.RetryBackoff = DefaultRetryBackoff
	}
	return o
}

// Client is safe for concurrent use. Configure may be called again at any
// time to switch credentials; in-flight calls finish on the old client.
type Client struct {
	opts Options

	mu      sync.RWMutex
	client  *genai.Client
	baseURL string
}

// New creates an unconfigured client.
func New(opts Options) *Client {
	return &Client{opts: opts.withDefaults()}
}

var whitespace = regexp.MustCompile(`\s+`)

// Configure establishes the credential. All whitespace is removed from the
// key and a trailing slash is stripped from baseURL. An empty baseURL uses
// the public Gemini endpoint.
func (c *Client) Configure(ctx context.Context, apiKey, baseURL string) error {
	apiKey = whitespace.ReplaceAllString(apiKey, "")
	if apiKey == "" {
		return garment.Errorf(garment.KindValidation, "configure", "API key is empty")
	}
	baseURL = strings.TrimSuffix(strings.TrimSpace(baseURL), "/")

	cfg := &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	}
	if baseURL != "" {
		cfg.HTTPOptions = genai.HTTPOptions{BaseURL: baseURL}
	}

	client, err := genai.NewClient(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to create Gemini client: %w", err)
	}

	c.mu.Lock()
	c.client = client
	c.baseURL = baseURL
	c.mu.Unlock()

	log.Info().
		Bool("custom_base_url", baseURL != "").
		Str("analysis_model", c.opts.AnalysisModel).
		Str("image_model", c.opts.ImageModel).
		Msg("Gemini client configured")
	return nil
}

// Configured reports whether a credential has been established.
func (c *Client) Configured() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.client != nil
}

// conn returns the current SDK client or a NotConfigured error.
func (c *Client) conn(op string) (*genai.Client, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.client == nil {
		return nil, garment.Errorf(garment.KindNotConfigured, op,
			"enter a valid Gemini API key before using AI features")
	}
	return c.client, nil
}

// generate calls GenerateContent with rate-limit retries and records one
// latency metric per logical call.
func (c *Client) generate(ctx context.Context, op, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	client, err := c.conn(op)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	var resp *genai.GenerateContentResponse
	attempt := 0
	err = c.withRetry(ctx, op, func() error {
		attempt++
		var callErr error
		resp, callErr = client.Models.GenerateContent(ctx, model, contents, config)
		return callErr
	})
	elapsed := time.Since(start)

	result := "success"
	if err != nil {
		result = classifyResult(err)
	}
	metrics.New(metrics.Namespace).
		Dimension("Operation", op).
		Dimension("Result", result).
		Duration("GeminiCallMs", elapsed).
		Metric("GeminiAttempts", float64(attempt), metrics.UnitCount).
		Property("model", model).
		Flush()

	if err != nil {
		log.Error().
			Err(err).
			Str("op", op).
			Str("model", model).
			Int("attempts", attempt).
			Dur("duration", elapsed).
			Msg("Gemini call failed")
		return nil, err
	}

	log.Debug().
		Str("op", op).
		Str("model", model).
		Dur("duration", elapsed).
		Msg("Gemini call complete")
	return resp, nil
}

// --- Content builders ---

func imagePart(img *garment.Image) *genai.Part {
	mimeType := img.MIMEType
	if mimeType == "" {
		mimeType = "image/jpeg"
	}
	return &genai.Part{InlineData: &genai.Blob{MIMEType: mimeType, Data: img.Data}}
}

func userContent(parts ...*genai.Part) []*genai.Content {
	return []*genai.Content{{Role: "user", Parts: parts}}
}

func systemInstruction(text string) *genai.Content {
	return &genai.Content{Parts: []*genai.Part{{Text: text}}}
}

// firstImage returns the first inline image of the response and any text
// returned alongside it.
func firstImage(resp *genai.GenerateContentResponse) (*garment.Image, string) {
	var text strings.Builder
	for _, cand := range resp.Candidates {
		if cand == nil || cand.Content == nil {
			continue
		}
		for _, part := range cand.Content.Parts {
			if part == nil {
				continue
			}
			if part.InlineData != nil && len(part.InlineData.Data) > 0 {
				mimeType := part.InlineData.MIMEType
				if mimeType == "" {
					mimeType = "image/png"
				}
				return &garment.Image{MIMEType: mimeType, Data: part.InlineData.Data}, text.String()
			}
			text.WriteString(part.Text)
		}
	}
	return nil, text.String()
}

// truncateString truncates a string to maxLen, appending "..." if truncated.
func truncateString(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
