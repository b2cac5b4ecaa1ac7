package workflow

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/fpang/garment-studio/internal/attrcache"
	"github.com/fpang/garment-studio/internal/garment"
)

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

var testClock = fixedClock{t: time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)}

func img(name string) *garment.Image {
	return &garment.Image{MIMEType: "image/png", Data: []byte(name)}
}

var errRemote = errors.New("remote exploded")

// fakeServices records calls and delegates to optional hooks.
type fakeServices struct {
	mu    sync.Mutex
	calls map[string]int
	args  map[string][]any

	analyze     func(ctx context.Context, img *garment.Image, m garment.MarketSettings) (*garment.AnalysisResult, error)
	reanalyze   func(ctx context.Context, img *garment.Image, names []string) ([]garment.Attribute, error)
	background  func(ctx context.Context, img *garment.Image, target, instruction string) (*garment.Image, error)
	suggestions func(ctx context.Context, img *garment.Image, names []string, critique, guidance string) ([]garment.ModificationOption, error)
	generate    func(ctx context.Context, img *garment.Image, prompt string, ref *garment.Image) (*garment.Image, error)
	model       func(ctx context.Context, clothing *garment.Image, prompt string, ref *garment.Image, m garment.MarketSettings, aspect string) (*garment.Image, error)
	features    func(ctx context.Context, img *garment.Image) (garment.GarmentFeatures, error)
	describe    func(ctx context.Context, a, b *garment.Image) (string, error)
}

func newFakeServices() *fakeServices {
	return &fakeServices{calls: make(map[string]int), args: make(map[string][]any)}
}

func (f *fakeServices) record(name string, args ...any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[name]++
	f.args[name] = args
}

func (f *fakeServices) count(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[name]
}

func (f *fakeServices) lastArgs(name string) []any {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.args[name]
}

func fiveAttributes() *garment.AnalysisResult {
	return &garment.AnalysisResult{
		Attributes: []garment.Attribute{
			{Name: "Fit", Value: "Relaxed", Category: garment.CategoryStructure},
			{Name: "Collar", Value: "Round", Category: garment.CategoryDetail},
			{Name: "Pattern", Value: "Stripes", Category: garment.CategoryPattern},
			{Name: "Material", Value: "Cotton", Category: garment.CategoryMaterial},
			{Name: "Mood Tag", Value: "Cheerful", Category: garment.CategoryStyle},
		},
		Critique:                  garment.Critique{Title: "Solid basic", Content: "Collar is plain."},
		RecommendedAttributeNames: []string{"Collar"},
	}
}

func eightOptions() []garment.ModificationOption {
	opts := make([]garment.ModificationOption, 8)
	for i := range opts {
		opts[i] = garment.ModificationOption{
			ID:          string(rune('0' + i)),
			Title:       "Option " + string(rune('A'+i)),
			Description: "desc",
			ImagePrompt: "prompt-" + string(rune('A'+i)),
		}
	}
	return opts
}

func (f *fakeServices) Analyze(ctx context.Context, im *garment.Image, m garment.MarketSettings) (*garment.AnalysisResult, error) {
	f.record("analyze", im, m)
	if f.analyze != nil {
		return f.analyze(ctx, im, m)
	}
	return fiveAttributes(), nil
}

func (f *fakeServices) ReanalyzeSubset(ctx context.Context, im *garment.Image, names []string) ([]garment.Attribute, error) {
	f.record("reanalyze", im, names)
	if f.reanalyze != nil {
		return f.reanalyze(ctx, im, names)
	}
	return nil, nil
}

func (f *fakeServices) RemoveBackground(ctx context.Context, im *garment.Image, target, instruction string) (*garment.Image, error) {
	f.record("background", im, target, instruction)
	if f.background != nil {
		return f.background(ctx, im, target, instruction)
	}
	return img("flat-lay"), nil
}

func (f *fakeServices) FetchSuggestions(ctx context.Context, im *garment.Image, names []string, critique, guidance string) ([]garment.ModificationOption, error) {
	f.record("suggestions", im, names, critique, guidance)
	if f.suggestions != nil {
		return f.suggestions(ctx, im, names, critique, guidance)
	}
	return eightOptions(), nil
}

func (f *fakeServices) GenerateImage(ctx context.Context, im *garment.Image, prompt string, ref *garment.Image) (*garment.Image, error) {
	f.record("generate", im, prompt, ref)
	if f.generate != nil {
		return f.generate(ctx, im, prompt, ref)
	}
	return img("gen:" + prompt), nil
}

func (f *fakeServices) GenerateModelImage(ctx context.Context, clothing *garment.Image, prompt string, ref *garment.Image, m garment.MarketSettings, aspect string) (*garment.Image, error) {
	f.record("model", clothing, prompt, ref, m, aspect)
	if f.model != nil {
		return f.model(ctx, clothing, prompt, ref, m, aspect)
	}
	return img("model"), nil
}

func (f *fakeServices) DetectFeatures(ctx context.Context, im *garment.Image) (garment.GarmentFeatures, error) {
	f.record("features", im)
	if f.features != nil {
		return f.features(ctx, im)
	}
	return garment.GarmentFeatures{Category: "Hoodie", HasHood: true, HasClosure: true}, nil
}

func (f *fakeServices) DescribeChanges(ctx context.Context, a, b *garment.Image) (string, error) {
	f.record("describe", a, b)
	if f.describe != nil {
		return f.describe(ctx, a, b)
	}
	return "Collar changed.", nil
}

// harness wires a session, a runner and an in-memory cache.
type harness struct {
	t     *testing.T
	svc   *fakeServices
	cache *attrcache.Memory
	r     *Runner
	s     *Session
	ctx   context.Context
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	svc := newFakeServices()
	cache := attrcache.NewMemory()
	return &harness{
		t:     t,
		svc:   svc,
		cache: cache,
		r:     NewRunner(svc, RunnerOptions{Cache: cache, CallTimeout: 5 * time.Second}),
		s:     NewSession("sess-1", testClock),
		ctx:   context.Background(),
	}
}

// toWorkspace uploads, confirms, sets the market and applies the analysis.
func (h *harness) toWorkspace() {
	h.t.Helper()
	if err := h.r.Upload(h.ctx, h.s, img("I1")); err != nil {
		h.t.Fatalf("unexpected error: %v", err)
	}
	if err := h.s.ConfirmImage(); err != nil {
		h.t.Fatalf("unexpected error: %v", err)
	}
	if err := h.s.SetMarket(garment.MarketSettings{AgeGroup: "5-6y", Gender: garment.GenderGirl}); err != nil {
		h.t.Fatalf("unexpected error: %v", err)
	}
	if err := h.r.StartAnalysis(h.ctx, h.s); err != nil {
		h.t.Fatalf("unexpected error: %v", err)
	}
	h.r.Wait()
	if snap := h.s.Snapshot(); snap.Analysis == nil || snap.Step != StepWorkspace {
		h.t.Fatalf("expected analysed workspace, got step %v analysis %v", snap.Step, snap.Analysis)
	}
}

func (h *harness) selectNames(names ...string) {
	h.t.Helper()
	for _, n := range names {
		selected, err := h.s.ToggleAttribute(n)
		if err != nil {
			h.t.Fatalf("unexpected error: %v", err)
		}
		if !selected {
			h.t.Fatalf("expected %s to be selected", n)
		}
	}
}

// generateOne runs a single generation to completion and returns its item.
func (h *harness) generateOne(name, prompt string) *garment.GalleryItem {
	h.t.Helper()
	h.selectNames(name)
	if err := h.r.StartGenerate(h.ctx, h.s, GenerateInput{Prompt: prompt, Title: prompt, Kind: garment.KindText}); err != nil {
		h.t.Fatalf("unexpected error: %v", err)
	}
	h.r.Wait()
	items := h.s.Snapshot().Gallery
	if len(items) == 0 {
		h.t.Fatal("expected a gallery item")
	}
	return items[0]
}
