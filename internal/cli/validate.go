package cli

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/fpang/garment-studio/internal/garment"
	"github.com/fpang/garment-studio/internal/gemini"
)

// ResolveImagePath checks that the path exists and is a regular file, then
// returns the absolute path.
func ResolveImagePath(path string) (string, error) {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("image not found: %s", path)
		}
		return "", fmt.Errorf("access %s: %w", path, err)
	}
	if info.IsDir() {
		return "", fmt.Errorf("%s is a directory, not an image", path)
	}

	if abs, err := filepath.Abs(path); err == nil {
		path = abs
	}
	return path, nil
}

// Explain turns a failure into a message for the terminal.
func Explain(err error) string {
	var keyErr *gemini.KeyError
	if errors.As(err, &keyErr) {
		switch keyErr.Type {
		case gemini.ErrTypeNoKey:
			return "No API key configured. Set GEMINI_API_KEY or save one to ~/.garment-studio/api-key"
		case gemini.ErrTypeInvalidKey:
			return "Invalid API key. Please check your API key and try again"
		case gemini.ErrTypeNetworkError:
			return "Network error. Please check your internet connection"
		case gemini.ErrTypeQuotaExceeded:
			return "API quota exceeded. Please try again later or check your usage limits"
		}
	}
	switch garment.KindOf(err) {
	case garment.KindNotConfigured:
		return "No API key configured. Set GEMINI_API_KEY or save one to ~/.garment-studio/api-key"
	case garment.KindValidation:
		return "Invalid input: " + err.Error()
	}
	return err.Error()
}
