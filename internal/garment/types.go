// Package garment holds the domain model shared by every layer of the
// design studio: analysed attributes, modification options, market
// settings, images and gallery records.
//
// Types carry both json tags (HTTP API, Redis payloads) and dynamodbav tags
// (session persistence). Images are kept as raw bytes plus MIME type and are
// only converted to data URLs at the API boundary.
package garment

import (
	"encoding/base64"
	"fmt"
	"sort"
	"strings"
)

// Category groups attributes by the part of the design they describe.
type Category string

const (
	CategoryStructure Category = "structure"
	CategoryDetail    Category = "detail"
	CategoryPattern   Category = "pattern"
	CategoryMaterial  Category = "material"
	CategoryStyle     Category = "style"
)

// categoryAliases maps the labels the analysis model may answer with onto
// the canonical categories.
var categoryAliases = map[string]Category{
	"structure": CategoryStructure,
	"结构":        CategoryStructure,
	"detail":    CategoryDetail,
	"details":   CategoryDetail,
	"细节":        CategoryDetail,
	"pattern":   CategoryPattern,
	"图案":        CategoryPattern,
	"material":  CategoryMaterial,
	"材质":        CategoryMaterial,
	"style":     CategoryStyle,
	"风格":        CategoryStyle,
}

// ParseCategory normalizes a free-form category label. Unknown labels map to
// CategoryStyle so an attribute is never dropped for a bad label.
func ParseCategory(label string) Category {
	if c, ok := categoryAliases[strings.ToLower(strings.TrimSpace(label))]; ok {
		return c
	}
	return CategoryStyle
}

// Attribute is one analysed property of the garment. Name is its identity
// within an AnalysisResult.
type Attribute struct {
	Name     string   `json:"name" dynamodbav:"name"`
	Value    string   `json:"value" dynamodbav:"value"`
	Category Category `json:"category" dynamodbav:"category"`
}

// Critique is the design assessment returned with a full analysis.
type Critique struct {
	Title   string `json:"title" dynamodbav:"title"`
	Content string `json:"content" dynamodbav:"content"`
}

// AnalysisResult is the output of a full analysis call.
type AnalysisResult struct {
	Attributes                []Attribute `json:"attributes" dynamodbav:"attributes"`
	Critique                  Critique    `json:"critique" dynamodbav:"critique"`
	RecommendedAttributeNames []string    `json:"recommendedAttributes" dynamodbav:"recommendedAttributes"`
}

// Attribute returns the attribute with the given name.
func (a *AnalysisResult) Attribute(name string) (Attribute, bool) {
	if a == nil {
		return Attribute{}, false
	}
	for _, attr := range a.Attributes {
		if attr.Name == name {
			return attr, true
		}
	}
	return Attribute{}, false
}

// Dedupe drops attributes whose name already appeared earlier in the list.
func (a *AnalysisResult) Dedupe() {
	seen := make(map[string]bool, len(a.Attributes))
	kept := a.Attributes[:0]
	for _, attr := range a.Attributes {
		if seen[attr.Name] {
			continue
		}
		seen[attr.Name] = true
		kept = append(kept, attr)
	}
	a.Attributes = kept
}

// Merge returns a copy of the analysis where every attribute named in
// updates takes the updated value. Attributes not present in updates keep
// their previous value, and update names unknown to the analysis are
// ignored. Critique and recommendations are carried over unchanged.
func (a *AnalysisResult) Merge(updates []Attribute) *AnalysisResult {
	if a == nil {
		return nil
	}
	byName := make(map[string]string, len(updates))
	for _, u := range updates {
		byName[u.Name] = u.Value
	}

	merged := &AnalysisResult{
		Attributes:                make([]Attribute, len(a.Attributes)),
		Critique:                  a.Critique,
		RecommendedAttributeNames: append([]string(nil), a.RecommendedAttributeNames...),
	}
	for i, attr := range a.Attributes {
		if v, ok := byName[attr.Name]; ok {
			attr.Value = v
		}
		merged.Attributes[i] = attr
	}
	return merged
}

// ModificationOption is one suggested redesign for a selection of
// attributes. ID is only unique within its suggestion batch.
type ModificationOption struct {
	ID          string `json:"id" dynamodbav:"id"`
	Title       string `json:"title" dynamodbav:"title"`
	Description string `json:"description" dynamodbav:"description"`
	ImagePrompt string `json:"imagePrompt" dynamodbav:"imagePrompt"`
}

// Gender is the target gender of the market settings.
type Gender string

const (
	GenderUnset   Gender = ""
	GenderBoy     Gender = "boy"
	GenderGirl    Gender = "girl"
	GenderNeutral Gender = "neutral"
)

// Valid reports whether g is one of the supported genders.
func (g Gender) Valid() bool {
	switch g {
	case GenderUnset, GenderBoy, GenderGirl, GenderNeutral:
		return true
	}
	return false
}

// MarketSettings describes the target market for analysis and model shots.
type MarketSettings struct {
	AgeGroup string `json:"ageGroup" dynamodbav:"ageGroup"`
	Gender   Gender `json:"gender" dynamodbav:"gender"`
}

// GarmentFeatures are the structural features that decide which styling
// options apply to a model shot.
type GarmentFeatures struct {
	Category   string `json:"category"`
	HasHood    bool   `json:"hasHood"`
	HasClosure bool   `json:"hasClosure"`
}

// UnknownFeatures is returned when feature detection fails.
var UnknownFeatures = GarmentFeatures{Category: "Unknown"}

// SelectionKey derives the suggestion-cache key for a set of attribute
// names: names are deduplicated, sorted case-sensitively and joined by "|".
func SelectionKey(names []string) string {
	uniq := make([]string, 0, len(names))
	seen := make(map[string]bool, len(names))
	for _, n := range names {
		if seen[n] {
			continue
		}
		seen[n] = true
		uniq = append(uniq, n)
	}
	sort.Strings(uniq)
	return strings.Join(uniq, "|")
}

// JoinNames renders attribute names the way gallery items record them.
func JoinNames(names []string) string {
	return strings.Join(names, ", ")
}

// SplitNames parses a gallery item's modified attribute names back into a
// list, trimming whitespace and dropping empty entries.
func SplitNames(joined string) []string {
	var names []string
	for _, part := range strings.Split(joined, ",") {
		if n := strings.TrimSpace(part); n != "" {
			names = append(names, n)
		}
	}
	return names
}

// Image is a self-describing binary image.
type Image struct {
	MIMEType string `json:"mimeType" dynamodbav:"mimeType"`
	Data     []byte `json:"-" dynamodbav:"-"`
}

// Empty reports whether the image carries no data.
func (img *Image) Empty() bool {
	return img == nil || len(img.Data) == 0
}

// DataURL encodes the image as a data URL.
func (img *Image) DataURL() string {
	if img.Empty() {
		return ""
	}
	return "data:" + img.MIMEType + ";base64," + base64.StdEncoding.EncodeToString(img.Data)
}

// ParseDataURL decodes a data URL. A bare base64 payload without the
// data: prefix is accepted and assumed to be JPEG.
func ParseDataURL(s string) (*Image, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, fmt.Errorf("empty image")
	}

	mimeType := "image/jpeg"
	payload := s
	if strings.HasPrefix(s, "data:") {
		header, body, ok := strings.Cut(s, ",")
		if !ok {
			return nil, fmt.Errorf("malformed data URL")
		}
		header = strings.TrimPrefix(header, "data:")
		mt, enc, _ := strings.Cut(header, ";")
		if enc != "base64" {
			return nil, fmt.Errorf("unsupported data URL encoding %q", enc)
		}
		if mt != "" {
			mimeType = mt
		}
		payload = body
	}

	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, fmt.Errorf("invalid base64 image: %w", err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("empty image")
	}
	return &Image{MIMEType: mimeType, Data: data}, nil
}

// ModificationKind records how a gallery item's prompt was produced.
type ModificationKind string

const (
	KindAI   ModificationKind = "ai"
	KindText ModificationKind = "text"
	KindRef  ModificationKind = "ref"
)

// Valid reports whether k is a known kind. The empty kind is allowed.
func (k ModificationKind) Valid() bool {
	switch k {
	case "", KindAI, KindText, KindRef:
		return true
	}
	return false
}

// GalleryItem is an immutable record of one generated image.
type GalleryItem struct {
	ID                     string           `json:"id" dynamodbav:"-"`
	OriginalImage          *Image           `json:"-" dynamodbav:"-"`
	ModifiedImage          *Image           `json:"-" dynamodbav:"-"`
	SuggestionTitle        string           `json:"suggestionTitle" dynamodbav:"suggestionTitle"`
	Timestamp              int64            `json:"timestamp" dynamodbav:"timestamp"`
	ModifiedAttributeNames string           `json:"modifiedAttributeName,omitempty" dynamodbav:"modifiedAttributeName,omitempty"`
	ModifiedAttributeValue string           `json:"modifiedAttributeValue,omitempty" dynamodbav:"modifiedAttributeValue,omitempty"`
	ModificationType       ModificationKind `json:"modificationType,omitempty" dynamodbav:"modificationType,omitempty"`
	ReferenceImage         *Image           `json:"-" dynamodbav:"-"`
}
