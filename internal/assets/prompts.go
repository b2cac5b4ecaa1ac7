// Package assets provides embedded static assets for the application.
//
// Prompt templates are stored as text files under prompts/ and embedded at compile time.

package assets

import (
	"bytes"
	_ "embed"
	"strings"
	"text/template"
)

// --- Static prompts (no dynamic data) ---

// StudioSystemPrompt frames every analysis call as a children's wear design review.
//
//go:embed prompts/studio-system.txt
var StudioSystemPrompt string

// FeaturesPrompt asks for the structural features that drive model-shot styling.
//
//go:embed prompts/features.txt
var FeaturesPrompt string

// ComparePrompt asks for a short description of the changes between two images.
//
//go:embed prompts/compare.txt
var ComparePrompt string

// ReferenceImageSuffix is appended to a generation prompt when a reference image is attached.
const ReferenceImageSuffix = " Use the second image as a visual reference for style/material/pattern."

// --- Dynamic prompt templates ---

//go:embed prompts/analysis.txt
var analysisTemplate string

//go:embed prompts/reanalyze.txt
var reanalyzeTemplate string

//go:embed prompts/background.txt
var backgroundTemplate string

//go:embed prompts/suggestions.txt
var suggestionsTemplate string

//go:embed prompts/model-shot.txt
var modelShotTemplate string

// Pre-parsed templates. template.Must panics on malformed templates,
// catching errors at program startup rather than at call time.
var (
	analysisTmpl    = template.Must(template.New("analysis").Parse(analysisTemplate))
	reanalyzeTmpl   = template.Must(template.New("reanalyze").Parse(reanalyzeTemplate))
	backgroundTmpl  = template.Must(template.New("background").Parse(backgroundTemplate))
	suggestionsTmpl = template.Must(template.New("suggestions").Parse(suggestionsTemplate))
	modelShotTmpl   = template.Must(template.New("model-shot").Parse(modelShotTemplate))
)

// AnalysisData holds the market context for the analysis prompt.
type AnalysisData struct {
	AgeGroup    string
	GenderLabel string
}

// RenderAnalysisPrompt renders the full-analysis prompt.
func RenderAnalysisPrompt(data AnalysisData) string {
	return renderTemplate(analysisTmpl, data)
}

// RenderReanalyzePrompt renders the targeted re-analysis prompt for names.
func RenderReanalyzePrompt(names []string) string {
	return renderTemplate(reanalyzeTmpl, struct{ Names string }{strings.Join(names, ", ")})
}

// BackgroundData holds the optional target region and retry instruction.
type BackgroundData struct {
	Target      string
	Instruction string
}

// RenderBackgroundPrompt renders the flat-lay background normalization prompt.
func RenderBackgroundPrompt(data BackgroundData) string {
	return renderTemplate(backgroundTmpl, data)
}

// SuggestionsData holds the inputs of a suggestion request.
type SuggestionsData struct {
	Names    string
	Guidance string
	Critique string
}

// RenderSuggestionsPrompt renders the joint-redesign suggestion prompt.
func RenderSuggestionsPrompt(data SuggestionsData) string {
	return renderTemplate(suggestionsTmpl, data)
}

// ModelShotData holds the market context and styling prompt of a model shot.
type ModelShotData struct {
	AgeGroup     string
	Gender       string
	HasReference bool
	Prompt       string
}

// RenderModelShotPrompt renders the try-on prompt.
func RenderModelShotPrompt(data ModelShotData) string {
	return renderTemplate(modelShotTmpl, data)
}

// renderTemplate executes a pre-parsed template with the given data.
func renderTemplate(tmpl *template.Template, data any) string {
	var buf bytes.Buffer
	// Template execution errors are not expected with our simple templates,
	// but we handle them gracefully by returning whatever was rendered.
	_ = tmpl.Execute(&buf, data)
	return strings.TrimSpace(buf.String())
}
