package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/fpang/garment-studio/internal/cli"
	"github.com/fpang/garment-studio/internal/config"
	"github.com/fpang/garment-studio/internal/garment"
	"github.com/fpang/garment-studio/internal/imageutil"
	"github.com/fpang/garment-studio/internal/lambdaboot"
	"github.com/fpang/garment-studio/internal/logging"
	"github.com/fpang/garment-studio/internal/workflow"
)

func boot(ctx context.Context) (*lambdaboot.Studio, error) {
	logging.Init()
	cfg, err := config.Load(envFileFlag)
	if err != nil {
		return nil, err
	}
	// A CLI run never outlives the process; persistence is not needed.
	cfg.DynamoTable, cfg.MediaBucket = "", ""

	studio, err := lambdaboot.Boot(ctx, cfg, lambdaboot.Options{
		Name:                "studio-cli",
		UseLocalCredentials: true,
		CommitHash:          commitHash,
	})
	if err != nil {
		return nil, err
	}
	if !studio.Gemini.Configured() {
		studio.Close()
		return nil, garment.Errorf(garment.KindNotConfigured, "boot",
			"no Gemini API key: set GEMINI_API_KEY or save one to ~/.garment-studio/api-key")
	}
	return studio, nil
}

// settle waits for background calls and surfaces a failure recorded on the
// session.
func settle(studio *lambdaboot.Studio, sess *workflow.Session) error {
	studio.Registry.Runner().Wait()
	if n := sess.Snapshot().Notice; n != nil {
		return fmt.Errorf("%s: %s", n.Kind, n.Message)
	}
	return nil
}

// openSession uploads the image and drives the session to an analysed
// workspace.
func openSession(ctx context.Context, studio *lambdaboot.Studio) (*workflow.Session, error) {
	path, err := cli.ResolveImagePath(imageFlag)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read image: %w", err)
	}
	in, err := imageutil.Prepare(data)
	if err != nil {
		return nil, err
	}
	log.Info().
		Str("path", path).
		Str("mimeType", in.Image.MIMEType).
		Int("width", in.Width).
		Int("height", in.Height).
		Bool("downscaled", in.Downscaled).
		Msg("Image loaded")
	fmt.Printf("Loaded %s (%dx%d, %s).\n", filepath.Base(path), in.Width, in.Height, cli.FormatSize(len(in.Image.Data)))

	runner := studio.Registry.Runner()
	sess := studio.Registry.Create(ctx)
	if err := runner.Upload(ctx, sess, in.Image); err != nil {
		return nil, err
	}

	if flatLayFlag != "" {
		if err := sess.BeginBackgroundTargetSelection(false); err != nil {
			return nil, err
		}
		if err := runner.StartBackground(ctx, sess, flatLayFlag, ""); err != nil {
			return nil, err
		}
		if err := settle(studio, sess); err != nil {
			return nil, err
		}
		fmt.Println("Converted to flat lay.")
	}

	if err := sess.ConfirmImage(); err != nil {
		return nil, err
	}
	if err := sess.SetMarket(market()); err != nil {
		return nil, err
	}
	start := time.Now()
	if err := runner.StartAnalysis(ctx, sess); err != nil {
		return nil, err
	}
	if err := settle(studio, sess); err != nil {
		return nil, err
	}
	fmt.Printf("Analyzed in %s.\n", cli.FormatElapsed(time.Since(start)))
	return sess, nil
}

func runAnalyze(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	studio, err := boot(ctx)
	if err != nil {
		return err
	}
	defer studio.Close()

	sess, err := openSession(ctx, studio)
	if err != nil {
		return err
	}
	printAnalysis(sess.Snapshot().Analysis)
	return nil
}

func printAnalysis(a *garment.AnalysisResult) {
	if a == nil {
		return
	}
	fmt.Println("\nAttributes:")
	for _, attr := range a.Attributes {
		fmt.Printf("  %-24s %-12s %s\n", attr.Name, attr.Category, attr.Value)
	}
	if a.Critique.Content != "" {
		fmt.Printf("\n%s\n  %s\n", a.Critique.Title, a.Critique.Content)
	}
	if len(a.RecommendedAttributeNames) > 0 {
		fmt.Printf("\nRecommended: %s\n", strings.Join(a.RecommendedAttributeNames, ", "))
	}
}

func runEdit(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	studio, err := boot(ctx)
	if err != nil {
		return err
	}
	defer studio.Close()

	sess, err := openSession(ctx, studio)
	if err != nil {
		return err
	}
	analysis := sess.Snapshot().Analysis

	names := attrFlags
	if len(names) == 0 {
		names = analysis.RecommendedAttributeNames
	}
	if len(names) == 0 {
		return fmt.Errorf("no attributes to redesign: pass --attr")
	}
	for _, n := range names {
		if _, err := sess.ToggleAttribute(n); err != nil {
			return err
		}
	}

	runner := studio.Registry.Runner()
	if promptFlag != "" {
		in := workflow.GenerateInput{Prompt: promptFlag, Title: "Custom", Kind: garment.KindText}
		if err := runner.StartGenerate(ctx, sess, in); err != nil {
			return err
		}
	} else {
		dialog, err := runner.FetchSuggestions(ctx, sess, guidanceFlag, false)
		if err != nil {
			return err
		}
		fmt.Println("\nSuggestions:")
		for i, opt := range dialog.Options {
			fmt.Printf("  %d. %s: %s\n", i+1, opt.Title, opt.Description)
		}

		choices := pickFlags
		if len(choices) == 0 {
			choices = []int{1}
			if cli.Interactive() {
				choices = cli.PromptForPicks(os.Stdin, len(dialog.Options))
			}
		}
		var picks []workflow.BatchSelection
		for _, p := range choices {
			if p < 1 || p > len(dialog.Options) {
				return fmt.Errorf("--pick %d out of range 1-%d", p, len(dialog.Options))
			}
			opt := dialog.Options[p-1]
			picks = append(picks, workflow.BatchSelection{Prompt: opt.ImagePrompt, Title: opt.Title})
		}
		if err := runner.StartBatch(ctx, sess, picks); err != nil {
			return err
		}
	}

	// Batch failures are per item; whatever succeeded is still written.
	settleErr := settle(studio, sess)
	written, err := writeGallery(sess.Snapshot().Gallery)
	if err != nil {
		return err
	}
	if written == 0 && settleErr != nil {
		return settleErr
	}
	if settleErr != nil {
		log.Warn().Err(settleErr).Msg("Some generations failed")
	}
	return nil
}

func runModelShot(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	studio, err := boot(ctx)
	if err != nil {
		return err
	}
	defer studio.Close()

	sess, err := openSession(ctx, studio)
	if err != nil {
		return err
	}
	runner := studio.Registry.Runner()
	if _, err := runner.DetectFeatures(ctx, sess); err != nil {
		return err
	}
	if err := runner.StartModelShot(ctx, sess, workflow.ModelShotInput{Options: shotFlags}); err != nil {
		return err
	}
	if err := settle(studio, sess); err != nil {
		return err
	}
	_, err = writeGallery(sess.Snapshot().Gallery)
	return err
}

func runCheckKey(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	studio, err := boot(ctx)
	if err != nil {
		return err
	}
	defer studio.Close()

	if err := studio.Gemini.ValidateKey(ctx); err != nil {
		return err
	}
	fmt.Println("API key is valid.")
	return nil
}

// writeGallery saves each item's result under outDirFlag.
func writeGallery(items []*garment.GalleryItem) (int, error) {
	if err := os.MkdirAll(outDirFlag, 0o755); err != nil {
		return 0, fmt.Errorf("create output directory: %w", err)
	}
	fmt.Println()
	for i, item := range items {
		name := fmt.Sprintf("%02d-%s%s", i+1, slug(item.SuggestionTitle), imageutil.Extension(item.ModifiedImage.MIMEType))
		path := filepath.Join(outDirFlag, name)
		if err := os.WriteFile(path, item.ModifiedImage.Data, 0o644); err != nil {
			return i, fmt.Errorf("write %s: %w", path, err)
		}
		fmt.Printf("  %s  %s\n", path, item.SuggestionTitle)
	}
	return len(items), nil
}

func slug(s string) string {
	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(s) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			dash = false
		case !dash && b.Len() > 0:
			b.WriteByte('-')
			dash = true
		}
	}
	out := strings.TrimSuffix(b.String(), "-")
	if out == "" {
		return "result"
	}
	return out
}
