package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/fpang/garment-studio/internal/cli"
	"github.com/fpang/garment-studio/internal/garment"
	"github.com/fpang/garment-studio/internal/modelshot"
)

// CLI flags
var (
	envFileFlag  string
	ageFlag      string
	genderFlag   string
	flatLayFlag  string
	outDirFlag   string
	attrFlags    []string
	pickFlags    []int
	promptFlag   string
	guidanceFlag string
	shotFlags    modelshot.Options
)

var rootCmd = &cobra.Command{
	Use:   "studio-cli",
	Short: "AI-assisted garment redesign from the command line",
	Long: `Studio CLI runs a garment editing session in-process: it analyzes a
garment photo for the target market, suggests redesigns of the chosen
attributes and writes the generated variations to disk.

Examples:
  studio-cli analyze -i dress.jpg --age 5-6y --gender girl
  studio-cli edit -i dress.jpg --attr Collar --attr Sleeves --pick 1 --pick 3 -o ./out
  studio-cli edit -i hoodie.heic --flat-lay "Top/Upper Garment" --prompt "Add a kangaroo pocket" -o ./out
  studio-cli model-shot -i hoodie.jpg --age 7-8y --gender boy --pose walking -o ./out
  studio-cli check-key`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

var analyzeCmd = &cobra.Command{
	Use:   "analyze",
	Short: "Analyze a garment photo and print its design attributes",
	Args:  cobra.ExactArgs(0),
	RunE:  runAnalyze,
}

var editCmd = &cobra.Command{
	Use:   "edit",
	Short: "Generate redesigned variations of selected attributes",
	Args:  cobra.ExactArgs(0),
	RunE:  runEdit,
}

var modelShotCmd = &cobra.Command{
	Use:   "model-shot",
	Short: "Render the garment worn by a generated model",
	Args:  cobra.ExactArgs(0),
	RunE:  runModelShot,
}

var checkKeyCmd = &cobra.Command{
	Use:   "check-key",
	Short: "Verify the configured Gemini API key",
	Args:  cobra.ExactArgs(0),
	RunE:  runCheckKey,
}

var imageFlag string

func init() {
	rootCmd.PersistentFlags().StringVar(&envFileFlag, "env-file", ".env", "Optional .env file to load")

	for _, c := range []*cobra.Command{analyzeCmd, editCmd, modelShotCmd} {
		c.Flags().StringVarP(&imageFlag, "image", "i", "", "Garment photo (JPEG, PNG, WebP, GIF or HEIC)")
		c.Flags().StringVar(&ageFlag, "age", "", "Target age group, e.g. 5-6y")
		c.Flags().StringVar(&genderFlag, "gender", "", "Target gender: boy, girl or neutral")
		c.Flags().StringVar(&flatLayFlag, "flat-lay", "", "Convert to a flat lay first, isolating this part (e.g. \"Top/Upper Garment\")")
		_ = c.MarkFlagRequired("image")
	}
	for _, c := range []*cobra.Command{editCmd, modelShotCmd} {
		c.Flags().StringVarP(&outDirFlag, "out", "o", ".", "Directory for generated images")
	}

	editCmd.Flags().StringSliceVar(&attrFlags, "attr", nil, "Attribute to redesign (repeatable; default: the recommended attributes)")
	editCmd.Flags().IntSliceVar(&pickFlags, "pick", nil, "1-based suggestion number to generate (repeatable; prompts when omitted)")
	editCmd.Flags().StringVar(&promptFlag, "prompt", "", "Custom modification prompt instead of suggestions")
	editCmd.Flags().StringVar(&guidanceFlag, "guidance", "", "Extra direction for the suggestions")

	modelShotCmd.Flags().StringVar(&shotFlags.Environment, "env", "", "Scene environment")
	modelShotCmd.Flags().StringVar(&shotFlags.Pose, "pose", "", "Model pose")
	modelShotCmd.Flags().StringVar(&shotFlags.Wear, "wear", "", "How the garment is worn")
	modelShotCmd.Flags().StringVar(&shotFlags.Bottom, "bottom", "", "Bottom styling")
	modelShotCmd.Flags().StringVar(&shotFlags.Shoes, "shoes", "", "Shoes")
	modelShotCmd.Flags().StringVar(&shotFlags.Prompt, "prompt", "", "Extra direction for the shot")
	modelShotCmd.Flags().StringVar(&shotFlags.AspectRatio, "aspect", "", "Aspect ratio, e.g. 3:4")

	rootCmd.AddCommand(analyzeCmd, editCmd, modelShotCmd, checkKeyCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", cli.Explain(err))
		os.Exit(1)
	}
}

func market() garment.MarketSettings {
	return garment.MarketSettings{AgeGroup: ageFlag, Gender: garment.Gender(genderFlag)}
}
