package gemini

// Gemini Model IDs
//
// | Model Name                  | API Model ID                | Use Case                         |
// |-----------------------------|-----------------------------|----------------------------------|
// | Gemini 2.5 Flash            | gemini-2.5-flash            | Analysis, suggestions (JSON)     |
// | Gemini 2.5 Flash Image      | gemini-2.5-flash-image      | Background removal, generation   |
// | Gemini 3 Flash (Preview)    | gemini-3-flash-preview      | Faster analysis, opt-in          |
// | Gemini 3 Pro Image          | gemini-3-pro-image-preview  | Higher fidelity edits, opt-in    |
const (
	// ModelGemini25Flash is the default text/JSON model.
	ModelGemini25Flash = "gemini-2.5-flash"

	// ModelGemini25FlashImage is the default image model.
	ModelGemini25FlashImage = "gemini-2.5-flash-image"

	// ModelGemini3FlashPreview is an opt-in analysis model.
	ModelGemini3FlashPreview = "gemini-3-flash-preview"

	// ModelGemini3ProImage is an opt-in image model.
	ModelGemini3ProImage = "gemini-3-pro-image-preview"
)

// Aspect ratios accepted by the image model.
const (
	AspectSquare    = "1:1"
	AspectPortrait  = "3:4"
	AspectLandscape = "4:3"
	AspectStory     = "9:16"
	AspectWide      = "16:9"
)

// DefaultModelAspect is the default aspect ratio of a model shot.
const DefaultModelAspect = AspectPortrait

// ValidAspectRatio reports whether ratio is one of the supported aspect ratios.
func ValidAspectRatio(ratio string) bool {
	switch ratio {
	case AspectSquare, AspectPortrait, AspectLandscape, AspectStory, AspectWide:
		return true
	}
	return false
}
