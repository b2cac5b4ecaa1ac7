package gemini

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/fpang/garment-studio/internal/metrics"
	"github.com/rs/zerolog/log"
	"google.golang.org/genai"
)

// KeyErrorType categorizes credential check failures.
type KeyErrorType int

const (
	// ErrTypeNoKey indicates no API key was configured.
	ErrTypeNoKey KeyErrorType = iota
	// ErrTypeInvalidKey indicates the API key is invalid or revoked.
	ErrTypeInvalidKey
	// ErrTypeNetworkError indicates a network connectivity issue.
	ErrTypeNetworkError
	// ErrTypeQuotaExceeded indicates the API quota has been exceeded.
	ErrTypeQuotaExceeded
	// ErrTypeUnknown indicates an unknown error occurred.
	ErrTypeUnknown
)

// String returns the metric label of the type.
func (t KeyErrorType) String() string {
	switch t {
	case ErrTypeNoKey:
		return "no_key"
	case ErrTypeInvalidKey:
		return "invalid"
	case ErrTypeNetworkError:
		return "network_error"
	case ErrTypeQuotaExceeded:
		return "quota"
	default:
		return "unknown"
	}
}

// KeyError is a classified remote failure.
type KeyError struct {
	Type    KeyErrorType
	Message string
	Err     error
}

func (e *KeyError) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *KeyError) Unwrap() error {
	return e.Err
}

// ValidateKey makes a minimal call to verify the configured credential.
func (c *Client) ValidateKey(ctx context.Context) error {
	client, err := c.conn("validate_key")
	if err != nil {
		return &KeyError{Type: ErrTypeNoKey, Message: "no API key configured", Err: err}
	}

	log.Debug().Msg("Validating API key with Gemini API")

	start := time.Now()
	resp, err := client.Models.GenerateContent(ctx, c.opts.AnalysisModel, genai.Text("hi"), nil)
	elapsed := time.Since(start)

	result := "success"
	var keyErr *KeyError
	switch {
	case err != nil:
		keyErr = classifyError(err)
		result = keyErr.Type.String()
	case resp == nil || len(resp.Candidates) == 0:
		log.Warn().Msg("API key validation returned empty response")
		result = "empty_response"
		keyErr = &KeyError{Type: ErrTypeUnknown, Message: "API returned empty response"}
	}

	metrics.New(metrics.Namespace).
		Dimension("Result", result).
		Duration("ApiKeyValidationMs", elapsed).
		Count("ApiKeyValidationResult").
		Flush()

	if keyErr != nil {
		return keyErr
	}

	log.Info().Dur("duration", elapsed).Msg("API key validated successfully")
	return nil
}

// asAPIError extracts a genai.APIError whether it was returned by value or pointer.
func asAPIError(err error) (*genai.APIError, bool) {
	var ptr *genai.APIError
	if errors.As(err, &ptr) && ptr != nil {
		return ptr, true
	}
	var val genai.APIError
	if errors.As(err, &val) {
		return &val, true
	}
	return nil, false
}

// isRateLimited reports whether err is a 429 / RESOURCE_EXHAUSTED response.
func isRateLimited(err error) bool {
	if apiErr, ok := asAPIError(err); ok {
		return apiErr.Code == 429 || apiErr.Status == "RESOURCE_EXHAUSTED"
	}
	msg := err.Error()
	return strings.Contains(msg, "429") || strings.Contains(msg, "RESOURCE_EXHAUSTED")
}

// classifyResult returns the metric label for a failed call.
func classifyResult(err error) string {
	if errors.Is(err, context.DeadlineExceeded) {
		return "timeout"
	}
	if errors.Is(err, context.Canceled) {
		return "canceled"
	}
	return classifyError(err).Type.String()
}

// classifyError analyzes an error and returns a KeyError with the appropriate type.
func classifyError(err error) *KeyError {
	if apiErr, ok := asAPIError(err); ok {
		return classifyAPIError(apiErr, err)
	}

	errLower := strings.ToLower(err.Error())
	switch {
	case strings.Contains(errLower, "api key not valid") ||
		strings.Contains(errLower, "invalid api key") ||
		strings.Contains(errLower, "api_key_invalid") ||
		strings.Contains(errLower, "permission denied"):
		return &KeyError{Type: ErrTypeInvalidKey, Message: "API key is invalid or has been revoked", Err: err}

	case strings.Contains(errLower, "quota") ||
		strings.Contains(errLower, "resource exhausted") ||
		strings.Contains(errLower, "rate limit"):
		return &KeyError{Type: ErrTypeQuotaExceeded, Message: "API quota exceeded or rate limited", Err: err}

	case strings.Contains(errLower, "connection") ||
		strings.Contains(errLower, "network") ||
		strings.Contains(errLower, "timeout") ||
		strings.Contains(errLower, "dial") ||
		strings.Contains(errLower, "no such host") ||
		strings.Contains(errLower, "unreachable"):
		return &KeyError{Type: ErrTypeNetworkError, Message: "Network error - check your internet connection", Err: err}

	default:
		return &KeyError{Type: ErrTypeUnknown, Message: "Gemini request failed", Err: err}
	}
}

func classifyAPIError(apiErr *genai.APIError, err error) *KeyError {
	switch apiErr.Code {
	case 400:
		if strings.Contains(strings.ToLower(apiErr.Message), "api key") {
			return &KeyError{Type: ErrTypeInvalidKey, Message: "Bad request - API key may be malformed", Err: err}
		}
		return &KeyError{Type: ErrTypeUnknown, Message: apiErr.Message, Err: err}
	case 401, 403:
		return &KeyError{Type: ErrTypeInvalidKey, Message: "API key is invalid, expired, or lacks permissions", Err: err}
	case 429:
		return &KeyError{Type: ErrTypeQuotaExceeded, Message: "API rate limit exceeded - try again later", Err: err}
	case 500, 502, 503, 504:
		return &KeyError{Type: ErrTypeNetworkError, Message: "Gemini API server error - try again later", Err: err}
	default:
		return &KeyError{Type: ErrTypeUnknown, Message: apiErr.Message, Err: err}
	}
}
