package assets

import (
	"strings"
	"testing"
)

func TestRenderBackgroundPromptTarget(t *testing.T) {
	p := RenderBackgroundPrompt(BackgroundData{Target: "Top/Upper Garment"})
	if !strings.Contains(p, "Strictly focus on extracting and processing the Top/Upper Garment.") {
		t.Errorf("expected target focus line, got:\n%s", p)
	}
	if strings.Contains(p, "USER INSTRUCTION") {
		t.Error("expected no user instruction without one")
	}
}

func TestRenderBackgroundPromptAuto(t *testing.T) {
	p := RenderBackgroundPrompt(BackgroundData{Instruction: "keep the bow"})
	if !strings.Contains(p, "Identify the main clothing item.") {
		t.Errorf("expected auto target line, got:\n%s", p)
	}
	if !strings.Contains(p, "USER INSTRUCTION: keep the bow") {
		t.Errorf("expected user instruction, got:\n%s", p)
	}
}

func TestRenderSuggestionsPromptOptionalBlocks(t *testing.T) {
	p := RenderSuggestionsPrompt(SuggestionsData{Names: "Collar, Pattern"})
	if strings.Contains(p, "USER DIRECTION") || strings.Contains(p, "Design Critique") {
		t.Errorf("expected no optional blocks, got:\n%s", p)
	}
	if !strings.Contains(p, "[ Collar, Pattern ]") {
		t.Errorf("expected attribute names, got:\n%s", p)
	}

	p = RenderSuggestionsPrompt(SuggestionsData{Names: "Collar", Guidance: "more playful", Critique: "Too plain."})
	if !strings.Contains(p, `"more playful"`) || !strings.Contains(p, "Too plain.") {
		t.Errorf("expected guidance and critique, got:\n%s", p)
	}
}

func TestRenderAnalysisPromptDefaults(t *testing.T) {
	p := RenderAnalysisPrompt(AnalysisData{GenderLabel: "Unspecified"})
	if !strings.Contains(p, "Unspecified (General Kids)") {
		t.Errorf("expected default age group, got:\n%s", p)
	}
}

func TestRenderModelShotPrompt(t *testing.T) {
	p := RenderModelShotPrompt(ModelShotData{AgeGroup: "5-6y", Gender: "girl", HasReference: true, Prompt: "Pose: walking."})
	for _, want := range []string{"Target Audience: 5-6y girl.", "second image as the reference", "Pose: walking."} {
		if !strings.Contains(p, want) {
			t.Errorf("expected %q in prompt:\n%s", want, p)
		}
	}
}

func TestRenderReanalyzePrompt(t *testing.T) {
	p := RenderReanalyzePrompt([]string{"Collar", "Pattern"})
	if !strings.Contains(p, "[ Collar, Pattern ]") {
		t.Errorf("expected names list, got:\n%s", p)
	}
}
