package garment

import (
	"errors"
	"fmt"
	"testing"
)

// --- SelectionKey Tests ---

func TestSelectionKeyOrderIndependent(t *testing.T) {
	tests := []struct {
		a, b []string
	}{
		{[]string{"Collar", "Pattern"}, []string{"Pattern", "Collar"}},
		{[]string{"Main Color", "Collar", "Cuffs"}, []string{"Cuffs", "Main Color", "Collar"}},
		{[]string{"Fit"}, []string{"Fit"}},
		{[]string{"Collar", "Pattern", "Collar"}, []string{"Pattern", "Collar"}},
	}

	for _, tt := range tests {
		ka, kb := SelectionKey(tt.a), SelectionKey(tt.b)
		if ka != kb {
			t.Errorf("expected equal keys for %v and %v, got %q and %q", tt.a, tt.b, ka, kb)
		}
	}
}

func TestSelectionKeyFormat(t *testing.T) {
	if got := SelectionKey([]string{"Pattern", "Collar"}); got != "Collar|Pattern" {
		t.Errorf("expected %q, got %q", "Collar|Pattern", got)
	}
}

func TestSelectionKeyCaseSensitive(t *testing.T) {
	if SelectionKey([]string{"collar"}) == SelectionKey([]string{"Collar"}) {
		t.Error("expected case-sensitive keys to differ")
	}
}

func TestSplitNames(t *testing.T) {
	names := SplitNames(" Collar,Pattern , ,Main Color")
	expected := []string{"Collar", "Pattern", "Main Color"}
	if len(names) != len(expected) {
		t.Fatalf("expected %d names, got %d (%v)", len(expected), len(names), names)
	}
	for i := range expected {
		if names[i] != expected[i] {
			t.Errorf("name %d: expected %q, got %q", i, expected[i], names[i])
		}
	}
}

// --- AnalysisResult Tests ---

func sampleAnalysis() *AnalysisResult {
	return &AnalysisResult{
		Attributes: []Attribute{
			{Name: "Fit", Value: "Relaxed", Category: CategoryStructure},
			{Name: "Collar", Value: "Crew neck", Category: CategoryDetail},
			{Name: "Pattern", Value: "Stripes", Category: CategoryPattern},
			{Name: "Material", Value: "Cotton jersey", Category: CategoryMaterial},
			{Name: "Style Tag", Value: "Casual", Category: CategoryStyle},
		},
		Critique:                  Critique{Title: "Review", Content: "Solid basics."},
		RecommendedAttributeNames: []string{"Collar"},
	}
}

func TestMergeReplacesOnlyNamedAttributes(t *testing.T) {
	prior := sampleAnalysis()
	merged := prior.Merge([]Attribute{
		{Name: "Collar", Value: "Peter Pan collar"},
		{Name: "Pattern", Value: "Polka dots"},
	})

	for _, attr := range merged.Attributes {
		before, _ := prior.Attribute(attr.Name)
		switch attr.Name {
		case "Collar":
			if attr.Value != "Peter Pan collar" {
				t.Errorf("expected Collar updated, got %q", attr.Value)
			}
		case "Pattern":
			if attr.Value != "Polka dots" {
				t.Errorf("expected Pattern updated, got %q", attr.Value)
			}
		default:
			if attr != before {
				t.Errorf("expected %s unchanged, got %+v (was %+v)", attr.Name, attr, before)
			}
		}
	}

	if got, _ := prior.Attribute("Collar"); got.Value != "Crew neck" {
		t.Errorf("merge mutated the prior analysis: Collar=%q", got.Value)
	}
	if merged.Critique != prior.Critique {
		t.Errorf("expected critique carried over")
	}
}

func TestMergeIgnoresUnknownNames(t *testing.T) {
	prior := sampleAnalysis()
	merged := prior.Merge([]Attribute{{Name: "Sleeve Length", Value: "Long"}})
	if len(merged.Attributes) != len(prior.Attributes) {
		t.Fatalf("expected %d attributes, got %d", len(prior.Attributes), len(merged.Attributes))
	}
	if _, ok := merged.Attribute("Sleeve Length"); ok {
		t.Error("expected unknown attribute to be ignored")
	}
}

func TestDedupe(t *testing.T) {
	a := &AnalysisResult{Attributes: []Attribute{
		{Name: "Collar", Value: "A"},
		{Name: "Collar", Value: "B"},
		{Name: "Fit", Value: "C"},
	}}
	a.Dedupe()
	if len(a.Attributes) != 2 {
		t.Fatalf("expected 2 attributes, got %d", len(a.Attributes))
	}
	if a.Attributes[0].Value != "A" {
		t.Errorf("expected first occurrence kept, got %q", a.Attributes[0].Value)
	}
}

func TestParseCategory(t *testing.T) {
	tests := map[string]Category{
		"结构":       CategoryStructure,
		"Pattern":  CategoryPattern,
		" detail ": CategoryDetail,
		"材质":       CategoryMaterial,
		"whatever": CategoryStyle,
	}
	for in, want := range tests {
		if got := ParseCategory(in); got != want {
			t.Errorf("ParseCategory(%q): expected %q, got %q", in, want, got)
		}
	}
}

// --- Image Tests ---

func TestDataURLRoundTrip(t *testing.T) {
	img := &Image{MIMEType: "image/png", Data: []byte{0x89, 'P', 'N', 'G'}}
	parsed, err := ParseDataURL(img.DataURL())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if parsed.MIMEType != "image/png" {
		t.Errorf("expected image/png, got %q", parsed.MIMEType)
	}
	if string(parsed.Data) != string(img.Data) {
		t.Errorf("expected data preserved")
	}
}

func TestParseDataURLRejectsGarbage(t *testing.T) {
	for _, in := range []string{"", "data:image/png;base64", "data:image/png;utf8,abc", "%%%"} {
		if _, err := ParseDataURL(in); err == nil {
			t.Errorf("expected error for %q", in)
		}
	}
}

// --- Error Tests ---

func TestWrapKeepsInnerKind(t *testing.T) {
	inner := Errorf(KindNotConfigured, "gemini", "no credential")
	outer := Wrap(KindGeneration, "generate", "image call failed", inner)
	if outer.Kind != KindNotConfigured {
		t.Errorf("expected NotConfigured, got %v", outer.Kind)
	}
	if !errors.Is(outer, inner) {
		t.Error("expected wrapped error to unwrap to inner")
	}
}

func TestIsKindThroughFmtWrap(t *testing.T) {
	err := fmt.Errorf("batch item 2: %w", Errorf(KindGeneration, "generate", "no image returned"))
	if !IsKind(err, KindGeneration) {
		t.Error("expected KindGeneration through fmt wrapping")
	}
	if IsKind(nil, KindGeneration) {
		t.Error("expected nil error to carry no kind")
	}
}

func TestKindString(t *testing.T) {
	if KindSelectionLimit.String() != "SelectionLimitExceeded" {
		t.Errorf("unexpected name %q", KindSelectionLimit.String())
	}
}
