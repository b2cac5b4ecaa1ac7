// Package modelshot builds the styling prompt of a model try-on shot.
//
// In auto mode the prompt is assembled from styling choices (environment,
// wearing style, hood, outfit and pose). Wearing-style and hood lines are
// only emitted when detected garment features say they apply. In reference
// mode the second image carries pose and background, so only the user's
// free-text prompt is sent.
package modelshot

import (
	"fmt"
	"strings"

	"github.com/fpang/garment-studio/internal/garment"
)

// Mode selects how the shot is styled.
type Mode string

const (
	ModeAuto Mode = "auto"
	ModeRef  Mode = "ref"
)

// Option values. The zero value of each field in Options picks the first
// constant of its group.
const (
	EnvOutdoor = "outdoor"
	EnvIndoor  = "indoor"

	WearClosed = "closed"
	WearOpen   = "open"

	HoodDown = "down"
	HoodUp   = "up"

	InnerTShirt     = "tshirt"
	InnerShirt      = "shirt"
	InnerTurtleneck = "turtleneck"
	InnerNone       = "none"

	BottomJeans      = "jeans"
	BottomSlacks     = "slacks"
	BottomSkirt      = "skirt"
	BottomShorts     = "shorts"
	BottomSweatpants = "sweatpants"

	ShoesSneakers = "sneakers"
	ShoesBoots    = "boots"
	ShoesLeather  = "leather"
	ShoesSandals  = "sandals"

	PoseStanding = "standing"
	PoseWalking  = "walking"
	PosePocket   = "pocket"
	PoseSide     = "side"
	PoseSitting  = "sitting"
)

var poses = map[string]string{
	PoseStanding: "standing naturally, facing camera, full body shot",
	PoseWalking:  "walking forward dynamically, fashion runway style",
	PosePocket:   "standing with hands in pockets, cool confident attitude",
	PoseSide:     "standing in side profile view, showcasing the side of the garment",
	PoseSitting:  "sitting casually on a block or steps, relaxed pose",
}

var allowed = map[string][]string{
	"environment": {EnvOutdoor, EnvIndoor},
	"wear":        {WearClosed, WearOpen},
	"hood":        {HoodDown, HoodUp},
	"inner":       {InnerTShirt, InnerShirt, InnerTurtleneck, InnerNone},
	"bottom":      {BottomJeans, BottomSlacks, BottomSkirt, BottomShorts, BottomSweatpants},
	"shoes":       {ShoesSneakers, ShoesBoots, ShoesLeather, ShoesSandals},
	"pose":        {PoseStanding, PoseWalking, PosePocket, PoseSide, PoseSitting},
}

// Options are the user's styling choices.
type Options struct {
	Mode        Mode   `json:"mode"`
	Environment string `json:"environment,omitempty"`
	Wear        string `json:"wear,omitempty"`
	Hood        string `json:"hood,omitempty"`
	Inner       string `json:"inner,omitempty"`
	Bottom      string `json:"bottom,omitempty"`
	Shoes       string `json:"shoes,omitempty"`
	Pose        string `json:"pose,omitempty"`
	Prompt      string `json:"prompt,omitempty"`
	AspectRatio string `json:"aspectRatio,omitempty"`
}

// Normalize fills defaults and rejects unknown option values.
func (o Options) Normalize() (Options, error) {
	if o.Mode == "" {
		o.Mode = ModeAuto
	}
	if o.Mode != ModeAuto && o.Mode != ModeRef {
		return o, garment.Errorf(garment.KindValidation, "model_shot", "unknown mode %q", o.Mode)
	}

	fields := []struct {
		name string
		val  *string
	}{
		{"environment", &o.Environment},
		{"wear", &o.Wear},
		{"hood", &o.Hood},
		{"inner", &o.Inner},
		{"bottom", &o.Bottom},
		{"shoes", &o.Shoes},
		{"pose", &o.Pose},
	}
	for _, f := range fields {
		choices := allowed[f.name]
		if *f.val == "" {
			*f.val = choices[0]
			continue
		}
		if !contains(choices, *f.val) {
			return o, garment.Errorf(garment.KindValidation, "model_shot",
				"unknown %s %q (want one of %s)", f.name, *f.val, strings.Join(choices, ", "))
		}
	}
	o.Prompt = strings.TrimSpace(o.Prompt)
	return o, nil
}

// Build returns the final prompt for the image model. features may be nil
// when detection has not been run.
func Build(o Options, features *garment.GarmentFeatures) string {
	if o.Mode == ModeRef {
		return o.Prompt
	}

	var lines []string
	if o.Environment == EnvIndoor {
		lines = append(lines, "Environment: Clean Indoor Studio setting or cozy home interior.")
	} else {
		lines = append(lines, "Environment: Outdoor setting with natural sunlight (park, street, or garden).")
	}

	if features != nil && features.HasClosure {
		if o.Wear == WearOpen {
			lines = append(lines, "Wearing Style: The garment is worn OPEN/UNZIPPED/UNBUTTONED, showing the inner layer clearly. Casual look.")
		} else {
			lines = append(lines, "Wearing Style: The garment is fully ZIPPED UP or BUTTONED UP (Closed).")
		}
	}

	if features != nil && features.HasHood {
		if o.Hood == HoodUp {
			lines = append(lines, "Hood Style: The hood is UP, worn over the model's head.")
		} else {
			lines = append(lines, "Hood Style: The hood is DOWN (resting on back).")
		}
	}

	if o.Inner != "" && o.Inner != InnerNone {
		lines = append(lines, fmt.Sprintf("Inner Layer: Wearing a simple %s underneath.", o.Inner))
	}
	lines = append(lines,
		fmt.Sprintf("Bottoms: Wearing matching %s that complement the top.", o.Bottom),
		fmt.Sprintf("Shoes: Wearing stylish %s suitable for kids.", o.Shoes),
	)
	pose, ok := poses[o.Pose]
	if !ok {
		pose = poses[PoseStanding]
	}
	lines = append(lines, fmt.Sprintf("Pose: Model is %s.", pose))

	return strings.TrimSpace(strings.Join(lines, " ") + " " + o.Prompt)
}

// Title returns the gallery title of a model shot.
func Title(mode Mode, market garment.MarketSettings) string {
	if mode == ModeRef {
		return "Ref Model Try-on"
	}
	gender := string(market.Gender)
	if gender == "" {
		gender = "Child"
	}
	return "Auto Model (" + gender + ")"
}

// Kind returns the gallery modification kind of a model shot.
func Kind(mode Mode) garment.ModificationKind {
	if mode == ModeRef {
		return garment.KindRef
	}
	return garment.KindAI
}

// Snippet returns the prompt excerpt recorded on the gallery item.
func Snippet(prompt string) string {
	r := []rune(prompt)
	if len(r) > 50 {
		r = r[:50]
	}
	return string(r) + "..."
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
