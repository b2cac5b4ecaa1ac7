package gemini

import (
	"context"
	"strconv"
	"strings"

	"github.com/fpang/garment-studio/internal/assets"
	"github.com/fpang/garment-studio/internal/garment"
	"github.com/fpang/garment-studio/internal/jsonutil"
	"github.com/rs/zerolog/log"
	"google.golang.org/genai"
)

// --- Response schemas ---

var attributeSchema = &genai.Schema{
	Type: genai.TypeObject,
	Properties: map[string]*genai.Schema{
		"name":     {Type: genai.TypeString},
		"value":    {Type: genai.TypeString},
		"category": {Type: genai.TypeString},
	},
	Required: []string{"name", "value", "category"},
}

var analysisSchema = &genai.Schema{
	Type: genai.TypeObject,
	Properties: map[string]*genai.Schema{
		"attributes": {Type: genai.TypeArray, Items: attributeSchema},
		"critique": {
			Type: genai.TypeObject,
			Properties: map[string]*genai.Schema{
				"title":   {Type: genai.TypeString},
				"content": {Type: genai.TypeString},
			},
			Required: []string{"title", "content"},
		},
		"recommendedAttributes": {
			Type:        genai.TypeArray,
			Items:       &genai.Schema{Type: genai.TypeString},
			Description: "List of attribute names that are recommended for modification",
		},
	},
	Required: []string{"attributes", "critique", "recommendedAttributes"},
}

var reanalysisSchema = &genai.Schema{
	Type: genai.TypeObject,
	Properties: map[string]*genai.Schema{
		"attributes": {Type: genai.TypeArray, Items: attributeSchema},
	},
}

var suggestionsSchema = &genai.Schema{
	Type: genai.TypeArray,
	Items: &genai.Schema{
		Type: genai.TypeObject,
		Properties: map[string]*genai.Schema{
			"id":          {Type: genai.TypeString},
			"title":       {Type: genai.TypeString},
			"description": {Type: genai.TypeString},
			"imagePrompt": {Type: genai.TypeString},
		},
		Required: []string{"id", "title", "description", "imagePrompt"},
	},
}

var featuresSchema = &genai.Schema{
	Type: genai.TypeObject,
	Properties: map[string]*genai.Schema{
		"category":   {Type: genai.TypeString},
		"hasHood":    {Type: genai.TypeBoolean},
		"hasClosure": {Type: genai.TypeBoolean},
	},
	Required: []string{"category", "hasHood", "hasClosure"},
}

// wireAttribute is an attribute as the model returns it, before the
// category label is normalized.
type wireAttribute struct {
	Name     string `json:"name"`
	Value    string `json:"value"`
	Category string `json:"category"`
}

type analysisPayload struct {
	Attributes            []wireAttribute  `json:"attributes"`
	Critique              garment.Critique `json:"critique"`
	RecommendedAttributes []string         `json:"recommendedAttributes"`
}

type reanalysisPayload struct {
	Attributes []wireAttribute `json:"attributes"`
}

func toAttributes(in []wireAttribute) []garment.Attribute {
	out := make([]garment.Attribute, 0, len(in))
	for _, a := range in {
		name := strings.TrimSpace(a.Name)
		if name == "" {
			continue
		}
		out = append(out, garment.Attribute{
			Name:     name,
			Value:    strings.TrimSpace(a.Value),
			Category: garment.ParseCategory(a.Category),
		})
	}
	return out
}

// GenderLabel renders a gender for the analysis prompt.
func GenderLabel(g garment.Gender) string {
	switch g {
	case garment.GenderBoy:
		return "Boy"
	case garment.GenderGirl:
		return "Girl"
	case garment.GenderNeutral:
		return "Neutral/Unisex"
	default:
		return "Unspecified"
	}
}

func requireImage(op string, img *garment.Image) error {
	if img.Empty() {
		return garment.Errorf(garment.KindValidation, op, "image is required")
	}
	return nil
}

// --- Analysis ---

// Analyze runs the full garment analysis for the given market.
func (c *Client) Analyze(ctx context.Context, img *garment.Image, market garment.MarketSettings) (*garment.AnalysisResult, error) {
	const op = "analyze"
	if err := requireImage(op, img); err != nil {
		return nil, err
	}

	prompt := assets.RenderAnalysisPrompt(assets.AnalysisData{
		AgeGroup:    market.AgeGroup,
		GenderLabel: GenderLabel(market.Gender),
	})
	resp, err := c.generate(ctx, op, c.opts.AnalysisModel,
		userContent(imagePart(img), genai.NewPartFromText(prompt)),
		&genai.GenerateContentConfig{
			SystemInstruction: systemInstruction(assets.StudioSystemPrompt),
			ResponseMIMEType:  "application/json",
			ResponseSchema:    analysisSchema,
		})
	if err != nil {
		return nil, garment.Wrap(garment.KindAnalysis, op, "analysis failed", err)
	}

	payload, err := jsonutil.ParseJSON[analysisPayload](resp.Text())
	if err != nil {
		return nil, garment.Wrap(garment.KindAnalysis, op, "failed to parse analysis response", err)
	}

	result := &garment.AnalysisResult{
		Attributes:                toAttributes(payload.Attributes),
		Critique:                  payload.Critique,
		RecommendedAttributeNames: payload.RecommendedAttributes,
	}
	result.Dedupe()
	if len(result.Attributes) == 0 {
		return nil, garment.Errorf(garment.KindAnalysis, op, "analysis returned no attributes")
	}

	log.Info().
		Int("attributes", len(result.Attributes)).
		Int("recommended", len(result.RecommendedAttributeNames)).
		Msg("Garment analysis complete")
	return result, nil
}

// ReanalyzeSubset re-detects only the named attributes. Names the model
// does not return, or returns but were not requested, are absent from the
// result.
func (c *Client) ReanalyzeSubset(ctx context.Context, img *garment.Image, names []string) ([]garment.Attribute, error) {
	const op = "reanalyze"
	if err := requireImage(op, img); err != nil {
		return nil, err
	}
	if len(names) == 0 {
		return nil, nil
	}

	resp, err := c.generate(ctx, op, c.opts.AnalysisModel,
		userContent(imagePart(img), genai.NewPartFromText(assets.RenderReanalyzePrompt(names))),
		&genai.GenerateContentConfig{
			SystemInstruction: systemInstruction(assets.StudioSystemPrompt),
			ResponseMIMEType:  "application/json",
			ResponseSchema:    reanalysisSchema,
		})
	if err != nil {
		return nil, garment.Wrap(garment.KindAnalysis, op, "targeted re-analysis failed", err)
	}

	payload, err := jsonutil.ParseJSON[reanalysisPayload](resp.Text())
	if err != nil {
		return nil, garment.Wrap(garment.KindAnalysis, op, "failed to parse re-analysis response", err)
	}

	wanted := make(map[string]bool, len(names))
	for _, n := range names {
		wanted[n] = true
	}
	var out []garment.Attribute
	for _, attr := range toAttributes(payload.Attributes) {
		if wanted[attr.Name] {
			out = append(out, attr)
			delete(wanted, attr.Name)
		}
	}

	log.Info().
		Strs("requested", names).
		Int("returned", len(out)).
		Msg("Targeted re-analysis complete")
	return out, nil
}

// --- Images ---

// RemoveBackground renders the garment as a flat lay on pure white. target
// is an optional region hint and instruction an optional free-text note.
func (c *Client) RemoveBackground(ctx context.Context, img *garment.Image, target, instruction string) (*garment.Image, error) {
	const op = "remove_background"
	if err := requireImage(op, img); err != nil {
		return nil, err
	}

	prompt := assets.RenderBackgroundPrompt(assets.BackgroundData{
		Target:      strings.TrimSpace(target),
		Instruction: strings.TrimSpace(instruction),
	})
	out, err := c.generateImage(ctx, op, []*genai.Part{imagePart(img), genai.NewPartFromText(prompt)}, AspectSquare)
	if err != nil {
		return nil, garment.Wrap(garment.KindBackgroundRemoval, op, "failed to remove background", err)
	}
	return out, nil
}

// GenerateImage applies prompt to img. A non-empty ref is attached as a
// visual reference for style, material or pattern.
func (c *Client) GenerateImage(ctx context.Context, img *garment.Image, prompt string, ref *garment.Image) (*garment.Image, error) {
	const op = "generate_image"
	if err := requireImage(op, img); err != nil {
		return nil, err
	}
	if strings.TrimSpace(prompt) == "" {
		return nil, garment.Errorf(garment.KindValidation, op, "prompt is empty")
	}

	parts := []*genai.Part{imagePart(img)}
	if !ref.Empty() {
		parts = append(parts, imagePart(ref))
		prompt += assets.ReferenceImageSuffix
	}
	parts = append(parts, genai.NewPartFromText(prompt))

	out, err := c.generateImage(ctx, op, parts, AspectSquare)
	if err != nil {
		return nil, garment.Wrap(garment.KindGeneration, op, "image generation failed", err)
	}
	return out, nil
}

// GenerateModelImage renders a child model wearing clothing. A non-empty ref
// is used as the pose and background reference. An empty aspect uses
// DefaultModelAspect.
func (c *Client) GenerateModelImage(ctx context.Context, clothing *garment.Image, prompt string, ref *garment.Image, market garment.MarketSettings, aspect string) (*garment.Image, error) {
	const op = "generate_model_image"
	if err := requireImage(op, clothing); err != nil {
		return nil, err
	}
	if aspect == "" {
		aspect = DefaultModelAspect
	}
	if !ValidAspectRatio(aspect) {
		return nil, garment.Errorf(garment.KindValidation, op, "unsupported aspect ratio %q", aspect)
	}

	parts := []*genai.Part{imagePart(clothing)}
	hasRef := !ref.Empty()
	if hasRef {
		parts = append(parts, imagePart(ref))
	}
	parts = append(parts, genai.NewPartFromText(assets.RenderModelShotPrompt(assets.ModelShotData{
		AgeGroup:     market.AgeGroup,
		Gender:       string(market.Gender),
		HasReference: hasRef,
		Prompt:       prompt,
	})))

	out, err := c.generateImage(ctx, op, parts, aspect)
	if err != nil {
		return nil, garment.Wrap(garment.KindGeneration, op, "model image generation failed", err)
	}
	return out, nil
}

// generateImage runs an image-model call and extracts the first image. A
// response without image data is an error.
func (c *Client) generateImage(ctx context.Context, op string, parts []*genai.Part, aspect string) (*garment.Image, error) {
	resp, err := c.generate(ctx, op, c.opts.ImageModel, userContent(parts...),
		&genai.GenerateContentConfig{
			ResponseModalities: []string{"IMAGE", "TEXT"},
			ImageConfig:        &genai.ImageConfig{AspectRatio: aspect},
		})
	if err != nil {
		return nil, err
	}

	img, text := firstImage(resp)
	if img == nil {
		log.Warn().
			Str("op", op).
			Str("text", truncateString(text, 200)).
			Msg("Image model returned no image data")
		return nil, garment.Errorf(garment.KindUnknown, op, "no image in response")
	}

	log.Info().
		Str("op", op).
		Str("mime_type", img.MIMEType).
		Int("bytes", len(img.Data)).
		Str("aspect", aspect).
		Msg("Image generated")
	return img, nil
}

// --- Suggestions ---

// FetchSuggestions returns redesign options for a joint change of the named
// attributes. critique and guidance are optional context. IDs are reassigned
// to each option's position in the batch.
func (c *Client) FetchSuggestions(ctx context.Context, img *garment.Image, names []string, critique, guidance string) ([]garment.ModificationOption, error) {
	const op = "fetch_suggestions"
	if err := requireImage(op, img); err != nil {
		return nil, err
	}
	if len(names) == 0 {
		return nil, garment.Errorf(garment.KindValidation, op, "no attributes selected")
	}

	prompt := assets.RenderSuggestionsPrompt(assets.SuggestionsData{
		Names:    garment.JoinNames(names),
		Guidance: strings.TrimSpace(guidance),
		Critique: strings.TrimSpace(critique),
	})
	resp, err := c.generate(ctx, op, c.opts.AnalysisModel,
		userContent(imagePart(img), genai.NewPartFromText(prompt)),
		&genai.GenerateContentConfig{
			SystemInstruction: systemInstruction(assets.StudioSystemPrompt),
			ResponseMIMEType:  "application/json",
			ResponseSchema:    suggestionsSchema,
		})
	if err != nil {
		return nil, garment.Wrap(garment.KindSuggestion, op, "failed to fetch suggestions", err)
	}

	options, err := jsonutil.ParseJSON[[]garment.ModificationOption](resp.Text())
	if err != nil {
		return nil, garment.Wrap(garment.KindSuggestion, op, "failed to parse suggestions", err)
	}
	if len(options) == 0 {
		return nil, garment.Errorf(garment.KindSuggestion, op, "no suggestions generated")
	}
	for i := range options {
		options[i].ID = strconv.Itoa(i)
	}

	log.Info().
		Str("key", garment.SelectionKey(names)).
		Int("options", len(options)).
		Bool("guided", guidance != "").
		Msg("Suggestions received")
	return options, nil
}

// --- Auxiliary ---

// DetectFeatures identifies the structural features that drive model-shot
// styling.
func (c *Client) DetectFeatures(ctx context.Context, img *garment.Image) (garment.GarmentFeatures, error) {
	const op = "detect_features"
	if err := requireImage(op, img); err != nil {
		return garment.UnknownFeatures, err
	}

	resp, err := c.generate(ctx, op, c.opts.AnalysisModel,
		userContent(imagePart(img), genai.NewPartFromText(assets.FeaturesPrompt)),
		&genai.GenerateContentConfig{
			ResponseMIMEType: "application/json",
			ResponseSchema:   featuresSchema,
		})
	if err != nil {
		return garment.UnknownFeatures, garment.Wrap(garment.KindAnalysis, op, "feature detection failed", err)
	}

	features, err := jsonutil.ParseJSON[garment.GarmentFeatures](resp.Text())
	if err != nil {
		return garment.UnknownFeatures, garment.Wrap(garment.KindAnalysis, op, "failed to parse features", err)
	}
	return features, nil
}

// DescribeChanges summarizes the design changes between original and modified.
func (c *Client) DescribeChanges(ctx context.Context, original, modified *garment.Image) (string, error) {
	const op = "describe_changes"
	if original.Empty() || modified.Empty() {
		return "", garment.Errorf(garment.KindValidation, op, "both images are required")
	}

	resp, err := c.generate(ctx, op, c.opts.AnalysisModel,
		userContent(imagePart(original), imagePart(modified), genai.NewPartFromText(assets.ComparePrompt)),
		nil)
	if err != nil {
		return "", garment.Wrap(garment.KindAnalysis, op, "comparison failed", err)
	}

	text := strings.TrimSpace(resp.Text())
	if text == "" {
		return "Analysis unavailable.", nil
	}
	return text, nil
}
