// Package auth resolves the Gemini API key for local binaries.
package auth

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/fpang/garment-studio/internal/garment"
	"github.com/rs/zerolog/log"
)

const (
	credentialDir  = ".garment-studio"
	plainKeyFile   = "api-key"
	credentialFile = "credentials.gpg"
)

// Source names where a key was found.
type Source string

const (
	SourceNone Source = ""
	SourceEnv  Source = "env"
	SourceFile Source = "file"
	SourceGPG  Source = "gpg"
)

// GetAPIKey retrieves the Gemini API key from available sources.
// Priority order:
//  1. GEMINI_API_KEY environment variable
//  2. Plain key file at ~/.garment-studio/api-key (must be mode 0600)
//  3. GPG-encrypted file at ~/.garment-studio/credentials.gpg
//
// A missing key is a NotConfigured error; the studio still starts and the
// key can be set later.
func GetAPIKey() (string, Source, error) {
	if key := strings.TrimSpace(os.Getenv("GEMINI_API_KEY")); key != "" {
		log.Debug().Msg("Using API key from environment variable")
		return key, SourceEnv, nil
	}

	key, err := getFromFile()
	if err == nil && key != "" {
		log.Debug().Msg("Using API key from key file")
		return key, SourceFile, nil
	}
	if err != nil {
		log.Debug().Err(err).Msg("Key file not usable")
	}

	key, err = getFromGPG()
	if err == nil && key != "" {
		log.Debug().Msg("Using API key from GPG encrypted file")
		return key, SourceGPG, nil
	}

	log.Debug().Err(err).Msg("No API key source available")
	return "", SourceNone, garment.Errorf(garment.KindNotConfigured, "auth",
		"API key not found. Set GEMINI_API_KEY or write it to ~/%s/%s", credentialDir, plainKeyFile)
}

// getFromFile reads the plain key file. Files readable by group or others
// are refused.
func getFromFile() (string, error) {
	path, err := credentialPath(plainKeyFile)
	if err != nil {
		return "", err
	}
	fi, err := os.Stat(path)
	if err != nil {
		return "", fmt.Errorf("key file %s: %w", path, err)
	}
	if mode := fi.Mode().Perm(); mode&0077 != 0 {
		log.Warn().
			Str("file", path).
			Str("permissions", fmt.Sprintf("%04o", mode)).
			Msg("Key file has insecure permissions (should be 0600); skipping")
		return "", fmt.Errorf("key file %s has insecure permissions %04o", path, mode)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read key file: %w", err)
	}
	return strings.TrimSpace(string(data)), nil
}

// getFromGPG decrypts the API key from the GPG-encrypted credentials file.
func getFromGPG() (string, error) {
	credPath, err := credentialPath(credentialFile)
	if err != nil {
		return "", err
	}

	if _, err := os.Stat(credPath); os.IsNotExist(err) {
		return "", fmt.Errorf("GPG credentials file not found at %s", credPath)
	}

	if _, err := exec.LookPath("gpg"); err != nil {
		return "", fmt.Errorf("gpg not installed: %w", err)
	}

	log.Debug().Str("file", credPath).Msg("Decrypting GPG credentials")
	cmd := exec.Command("gpg", "--decrypt", "--quiet", credPath)
	output, err := cmd.Output()
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			return "", fmt.Errorf("GPG decryption failed: %s", string(exitErr.Stderr))
		}
		return "", fmt.Errorf("GPG decryption failed: %w", err)
	}

	return strings.TrimSpace(string(output)), nil
}

// credentialPath returns the full path of a file in the credential directory.
func credentialPath(name string) (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, credentialDir, name), nil
}
