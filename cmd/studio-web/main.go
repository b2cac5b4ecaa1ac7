// Command studio-web serves the garment studio API on a local port.
//
// The Gemini key is read from GEMINI_API_KEY or the local credential files
// (see internal/auth). Without one the server still starts and answers
// NotConfigured until a key is posted to /api/config/key.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/fpang/garment-studio/internal/api"
	"github.com/fpang/garment-studio/internal/config"
	"github.com/fpang/garment-studio/internal/lambdaboot"
	"github.com/fpang/garment-studio/internal/logging"
)

// CLI flags
var (
	portFlag        int
	envFileFlag     string
	skipValidateKey bool
)

var rootCmd = &cobra.Command{
	Use:   "studio-web",
	Short: "HTTP API for AI garment editing sessions",
	Long: `Studio Web starts an HTTP server exposing garment editing sessions:
upload a garment photo, set the target market, analyze its design
attributes and generate redesigned variations into a session gallery.

Examples:
  studio-web
  studio-web --port 9090
  studio-web --env-file ./dev.env`,
	RunE: runMain,
}

func init() {
	rootCmd.Flags().IntVar(&portFlag, "port", 0, "Port to listen on (default STUDIO_PORT or 8080)")
	rootCmd.Flags().StringVar(&envFileFlag, "env-file", ".env", "Optional .env file to load")
	rootCmd.Flags().BoolVar(&skipValidateKey, "skip-validate-key", false, "Do not verify the API key at startup")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runMain(cmd *cobra.Command, args []string) error {
	logging.Init()

	cfg, err := config.Load(envFileFlag)
	if err != nil {
		return err
	}
	if portFlag != 0 {
		cfg.Port = portFlag
	}

	ctx := context.Background()
	studio, err := lambdaboot.Boot(ctx, cfg, lambdaboot.Options{
		Name:                "studio-web",
		UseLocalCredentials: true,
		CommitHash:          commitHash,
	})
	if err != nil {
		return fmt.Errorf("boot: %w", err)
	}
	defer studio.Close()

	if studio.Gemini.Configured() && !skipValidateKey {
		if err := studio.Gemini.ValidateKey(ctx); err != nil {
			log.Warn().Err(err).Msg("API key validation failed, requests will fail until a valid key is configured")
		} else {
			log.Info().Msg("API key validated")
		}
	}

	server := api.NewServer(studio.Registry, studio.Gemini, api.Options{
		AllowedOrigins:     cfg.AllowedOrigins,
		OriginVerifySecret: cfg.OriginVerifySecret,
	})

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      server.Router(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: cfg.CallTimeout + 30*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		log.Info().Msg("Shutting down...")
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			log.Warn().Err(err).Msg("Shutdown did not complete cleanly")
		}
	}()

	log.Info().Int("port", cfg.Port).Msg("Starting web server")
	fmt.Printf("\n  Garment Studio API: http://localhost:%d/api\n\n", cfg.Port)

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server failed: %w", err)
	}
	return nil
}
