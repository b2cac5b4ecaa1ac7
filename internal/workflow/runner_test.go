package workflow

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/fpang/garment-studio/internal/attrcache"
	"github.com/fpang/garment-studio/internal/garment"
	"github.com/fpang/garment-studio/internal/modelshot"
)

// --- Analysis Tests ---

func TestStartAnalysisAppliesResult(t *testing.T) {
	h := newHarness(t)
	h.toWorkspace()

	args := h.svc.lastArgs("analyze")
	market := args[1].(garment.MarketSettings)
	if market.AgeGroup != "5-6y" || market.Gender != garment.GenderGirl {
		t.Errorf("expected market to be forwarded, got %+v", market)
	}
	if n := len(h.s.Snapshot().Analysis.Attributes); n != 5 {
		t.Errorf("expected 5 attributes, got %d", n)
	}
}

func TestStartAnalysisTimesOut(t *testing.T) {
	h := newHarness(t)
	h.r = NewRunner(h.svc, RunnerOptions{Cache: h.cache, CallTimeout: 20 * time.Millisecond})
	h.svc.analyze = func(ctx context.Context, _ *garment.Image, _ garment.MarketSettings) (*garment.AnalysisResult, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}

	_ = h.r.Upload(h.ctx, h.s, img("I1"))
	_ = h.s.ConfirmImage()
	if err := h.r.StartAnalysis(h.ctx, h.s); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	h.r.Wait()

	snap := h.s.Snapshot()
	if snap.Step != StepMarketSetup {
		t.Errorf("expected step %v after timeout, got %v", StepMarketSetup, snap.Step)
	}
	if snap.Flags.Analyzing {
		t.Error("expected analyzing flag to be cleared")
	}
	if snap.Notice == nil || snap.Notice.Kind != "AnalysisError" {
		t.Errorf("expected analysis notice, got %+v", snap.Notice)
	}
}

func TestCallerCancellationDoesNotAbortCall(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithCancel(context.Background())
	release := make(chan struct{})
	h.svc.analyze = func(ctx context.Context, _ *garment.Image, _ garment.MarketSettings) (*garment.AnalysisResult, error) {
		<-release
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return fiveAttributes(), nil
	}

	_ = h.r.Upload(ctx, h.s, img("I1"))
	_ = h.s.ConfirmImage()
	if err := h.r.StartAnalysis(ctx, h.s); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	cancel()
	close(release)
	h.r.Wait()

	if h.s.Snapshot().Analysis == nil {
		t.Error("expected analysis to complete after the caller went away")
	}
}

func TestStaleAnalysisAfterUpload(t *testing.T) {
	h := newHarness(t)
	release := make(chan struct{})
	h.svc.analyze = func(context.Context, *garment.Image, garment.MarketSettings) (*garment.AnalysisResult, error) {
		<-release
		return fiveAttributes(), nil
	}

	_ = h.r.Upload(h.ctx, h.s, img("I1"))
	_ = h.s.ConfirmImage()
	_ = h.r.StartAnalysis(h.ctx, h.s)

	if err := h.r.Upload(h.ctx, h.s, img("I2")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	close(release)
	h.r.Wait()

	snap := h.s.Snapshot()
	if snap.Analysis != nil {
		t.Error("expected result for the old image to be dropped")
	}
	if string(snap.WorkingImage.Data) != "I2" {
		t.Errorf("expected working image I2, got %q", snap.WorkingImage.Data)
	}
	if snap.Flags.Analyzing {
		t.Error("expected analyzing flag to be cleared")
	}
}

// --- Background Tests ---

func TestStartBackgroundReplacesWorking(t *testing.T) {
	h := newHarness(t)
	_ = h.r.Upload(h.ctx, h.s, img("I1"))
	if err := h.s.BeginBackgroundTargetSelection(true); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := h.r.StartBackground(h.ctx, h.s, "Bottom/Pants/Skirt", "keep pockets"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	h.r.Wait()

	args := h.svc.lastArgs("background")
	if args[1] != "Bottom/Pants/Skirt" || args[2] != "keep pockets" {
		t.Errorf("expected target and instruction forwarded, got %v", args[1:])
	}
	snap := h.s.Snapshot()
	if string(snap.WorkingImage.Data) != "flat-lay" {
		t.Errorf("expected working image flat-lay, got %q", snap.WorkingImage.Data)
	}
	if snap.Background.Selecting {
		t.Error("expected sub-flow to be closed")
	}
}

func TestAnalysisWaitsForBackgroundResult(t *testing.T) {
	h := newHarness(t)
	release := make(chan struct{})
	h.svc.background = func(context.Context, *garment.Image, string, string) (*garment.Image, error) {
		<-release
		return img("flat-lay"), nil
	}

	_ = h.r.Upload(h.ctx, h.s, img("I1"))
	_ = h.s.BeginBackgroundTargetSelection(false)
	if err := h.r.StartBackground(h.ctx, h.s, "", ""); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := h.s.ConfirmImage(); !garment.IsKind(err, garment.KindValidation) {
		t.Fatalf("expected validation error while background runs, got %v", err)
	}
	if err := h.r.StartAnalysis(h.ctx, h.s); !garment.IsKind(err, garment.KindValidation) {
		t.Fatalf("expected validation error before confirming, got %v", err)
	}

	close(release)
	h.r.Wait()
	if err := h.s.ConfirmImage(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := h.r.StartAnalysis(h.ctx, h.s); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	h.r.Wait()

	snap := h.s.Snapshot()
	if snap.Step != StepWorkspace || snap.Analysis == nil {
		t.Fatalf("expected analysed workspace, got step %v analysis %v", snap.Step, snap.Analysis)
	}
	analyzed := h.svc.lastArgs("analyze")[0].(*garment.Image)
	if string(analyzed.Data) != "flat-lay" || string(snap.WorkingImage.Data) != "flat-lay" {
		t.Errorf("expected analysis of the flat-lay working image, got %q on %q", analyzed.Data, snap.WorkingImage.Data)
	}
}

// --- Suggestion Cache Tests ---

func TestFetchSuggestionsUsesCache(t *testing.T) {
	h := newHarness(t)
	h.toWorkspace()
	h.selectNames("Collar")

	view, err := h.r.FetchSuggestions(h.ctx, h.s, "", false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(view.Options) != 8 || view.Cached {
		t.Fatalf("expected 8 fresh options, got %d cached=%v", len(view.Options), view.Cached)
	}

	h.s.CloseDialog()
	view, err = h.r.FetchSuggestions(h.ctx, h.s, "", false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !view.Cached || len(view.Options) != 8 {
		t.Errorf("expected 8 cached options, got %d cached=%v", len(view.Options), view.Cached)
	}
	if n := h.svc.count("suggestions"); n != 1 {
		t.Errorf("expected 1 remote call, got %d", n)
	}
}

func TestFetchSuggestionsRetryBypassesCache(t *testing.T) {
	h := newHarness(t)
	h.toWorkspace()
	h.selectNames("Collar")

	if _, err := h.r.FetchSuggestions(h.ctx, h.s, "ignored", false); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if g := h.svc.lastArgs("suggestions")[4]; g != "" {
		t.Errorf("expected no guidance on first fetch, got %v", g)
	}

	h.svc.suggestions = func(context.Context, *garment.Image, []string, string, string) ([]garment.ModificationOption, error) {
		return eightOptions()[:3], nil
	}
	view, err := h.r.FetchSuggestions(h.ctx, h.s, "more pastel", true)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(view.Options) != 3 {
		t.Errorf("expected 3 options, got %d", len(view.Options))
	}
	if g := h.svc.lastArgs("suggestions")[4]; g != "more pastel" {
		t.Errorf("expected guidance on retry, got %v", g)
	}

	cached, ok, _ := h.cache.Get(h.ctx, h.s.cacheScope(), "Collar")
	if !ok || len(cached) != 3 {
		t.Errorf("expected cache entry overwritten with 3 options, got %d", len(cached))
	}
}

func TestOpenDialogPrefillsFromCache(t *testing.T) {
	h := newHarness(t)
	h.toWorkspace()
	h.selectNames("Collar", "Pattern")
	_, _ = h.r.FetchSuggestions(h.ctx, h.s, "", false)
	h.s.CloseDialog()

	h.s.ClearSelection()
	h.selectNames("Pattern", "Collar")
	view, err := h.r.OpenDialog(h.ctx, h.s)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !view.Cached || view.Key != "Collar|Pattern" {
		t.Errorf("expected cached view for Collar|Pattern, got %+v", view)
	}
}

func TestFailedSuggestionsAreNotCached(t *testing.T) {
	h := newHarness(t)
	h.toWorkspace()
	h.selectNames("Collar")
	h.svc.suggestions = func(context.Context, *garment.Image, []string, string, string) ([]garment.ModificationOption, error) {
		return nil, errRemote
	}

	_, err := h.r.FetchSuggestions(h.ctx, h.s, "", false)
	if !garment.IsKind(err, garment.KindSuggestion) {
		t.Fatalf("expected suggestion error, got %v", err)
	}
	if n, _ := h.cache.Len(h.ctx, h.s.cacheScope()); n != 0 {
		t.Errorf("expected empty cache, got %d", n)
	}
	if h.s.Snapshot().Flags.FetchingSuggestions {
		t.Error("expected fetching flag to be cleared")
	}
}

// putHookCache runs beforePut once ahead of the first Put.
type putHookCache struct {
	attrcache.Cache
	once      sync.Once
	beforePut func()
}

func (c *putHookCache) Put(ctx context.Context, scope, key string, options []garment.ModificationOption) error {
	c.once.Do(c.beforePut)
	return c.Cache.Put(ctx, scope, key, options)
}

func TestSuggestionsCachedIntoRetiredScopeAreCleared(t *testing.T) {
	h := newHarness(t)
	hooked := &putHookCache{Cache: h.cache}
	h.r = NewRunner(h.svc, RunnerOptions{Cache: hooked, CallTimeout: 5 * time.Second})
	h.toWorkspace()
	h.selectNames("Collar")
	oldScope := h.s.cacheScope()
	hooked.beforePut = func() {
		if err := h.r.Upload(h.ctx, h.s, img("I2")); err != nil {
			t.Errorf("unexpected error: %v", err)
		}
	}

	if _, err := h.r.FetchSuggestions(h.ctx, h.s, "", false); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n, _ := h.cache.Len(h.ctx, oldScope); n != 0 {
		t.Errorf("expected retired scope to stay empty, got %d", n)
	}
	if oldScope == h.s.cacheScope() {
		t.Error("expected upload to retire the scope")
	}
}

func TestUploadClearsCacheAndSelection(t *testing.T) {
	h := newHarness(t)
	h.toWorkspace()
	h.selectNames("Collar")
	_, _ = h.r.FetchSuggestions(h.ctx, h.s, "", false)
	oldScope := h.s.cacheScope()
	if n, _ := h.cache.Len(h.ctx, oldScope); n != 1 {
		t.Fatalf("expected 1 cache entry, got %d", n)
	}

	if err := h.r.Upload(h.ctx, h.s, img("I2")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n, _ := h.cache.Len(h.ctx, h.s.cacheScope()); n != 0 {
		t.Errorf("expected empty cache for the new image, got %d", n)
	}
	if n, _ := h.cache.Len(h.ctx, oldScope); n != 0 {
		t.Errorf("expected old scope to be cleared, got %d", n)
	}
	if n := len(h.s.Snapshot().Selected); n != 0 {
		t.Errorf("expected empty selection, got %d", n)
	}
}

type failingCache struct{ attrcache.Cache }

func (failingCache) Get(context.Context, string, string) ([]garment.ModificationOption, bool, error) {
	return nil, false, errors.New("cache down")
}

func (failingCache) Put(context.Context, string, string, []garment.ModificationOption) error {
	return errors.New("cache down")
}

func TestCacheFailureFallsBackToRemote(t *testing.T) {
	h := newHarness(t)
	h.r = NewRunner(h.svc, RunnerOptions{Cache: failingCache{Cache: attrcache.NewMemory()}})
	h.toWorkspace()
	h.selectNames("Collar")

	view, err := h.r.FetchSuggestions(h.ctx, h.s, "", false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(view.Options) != 8 {
		t.Errorf("expected 8 options, got %d", len(view.Options))
	}
}

// --- Generation Tests ---

func TestStartGenerateAddsItem(t *testing.T) {
	h := newHarness(t)
	h.toWorkspace()
	item := h.generateOne("Collar", "sailor collar")

	if string(item.ModifiedImage.Data) != "gen:sailor collar" {
		t.Errorf("expected generated image, got %q", item.ModifiedImage.Data)
	}
	snap := h.s.Snapshot()
	if snap.CurrentItemID != item.ID {
		t.Errorf("expected %q to be current, got %q", item.ID, snap.CurrentItemID)
	}
	if snap.Flags.Generating {
		t.Error("expected generating flag to be cleared")
	}
}

func TestBatchBarrier(t *testing.T) {
	h := newHarness(t)
	h.toWorkspace()
	h.selectNames("Collar")

	gate := make(chan struct{})
	started := make(chan struct{}, 3)
	h.svc.generate = func(_ context.Context, _ *garment.Image, prompt string, _ *garment.Image) (*garment.Image, error) {
		started <- struct{}{}
		switch prompt {
		case "b":
			<-gate
			return nil, errRemote
		default:
			return img("gen:" + prompt), nil
		}
	}

	err := h.r.StartBatch(h.ctx, h.s, []BatchSelection{
		{Prompt: "a", Title: "A"},
		{Prompt: "b", Title: "B"},
		{Prompt: "c", Title: "C"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for i := 0; i < 3; i++ {
		<-started
	}

	snap := h.s.Snapshot()
	if !snap.Flags.Generating {
		t.Error("expected generating flag while an item is outstanding")
	}
	if len(snap.Gallery) != 0 {
		t.Errorf("expected no items before the batch settles, got %d", len(snap.Gallery))
	}

	close(gate)
	h.r.Wait()

	snap = h.s.Snapshot()
	if snap.Flags.Generating {
		t.Error("expected generating flag to be cleared")
	}
	if len(snap.Gallery) != 2 {
		t.Fatalf("expected 2 items, got %d", len(snap.Gallery))
	}
	if snap.Gallery[0].SuggestionTitle != "A" || snap.Gallery[1].SuggestionTitle != "C" {
		t.Errorf("expected A, C, got %q, %q", snap.Gallery[0].SuggestionTitle, snap.Gallery[1].SuggestionTitle)
	}
	if snap.CurrentItemID != snap.Gallery[0].ID {
		t.Errorf("expected A to be current, got %q", snap.CurrentItemID)
	}
	if snap.Notice != nil {
		t.Errorf("expected partial failure to leave no notice, got %+v", snap.Notice)
	}
}

func TestBatchSendsNoReference(t *testing.T) {
	h := newHarness(t)
	h.toWorkspace()
	h.selectNames("Collar")
	_ = h.r.StartBatch(h.ctx, h.s, []BatchSelection{{Prompt: "a"}})
	h.r.Wait()
	if ref := h.svc.lastArgs("generate")[2].(*garment.Image); ref != nil {
		t.Errorf("expected no reference image, got %v", ref)
	}
}

// --- Continue Editing Tests ---

func TestContinueEditingRunsTargetedReanalysis(t *testing.T) {
	h := newHarness(t)
	h.toWorkspace()
	h.selectNames("Collar", "Pattern")
	if err := h.r.StartGenerate(h.ctx, h.s, GenerateInput{Prompt: "p"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	h.r.Wait()
	item := h.s.Snapshot().Gallery[0]

	h.svc.reanalyze = func(_ context.Context, _ *garment.Image, names []string) ([]garment.Attribute, error) {
		return []garment.Attribute{
			{Name: "Collar", Value: "Sailor"},
			{Name: "Pattern", Value: "Polka Dots"},
		}, nil
	}
	if err := h.r.ContinueEditing(h.ctx, h.s, item.ID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	h.r.Wait()

	names := h.svc.lastArgs("reanalyze")[1].([]string)
	if strings.Join(names, ",") != "Collar,Pattern" {
		t.Errorf("expected Collar,Pattern, got %v", names)
	}
	collar, _ := h.s.Snapshot().Analysis.Attribute("Collar")
	if collar.Value != "Sailor" {
		t.Errorf("expected %q, got %q", "Sailor", collar.Value)
	}
}

// --- Model Shot Tests ---

func TestStartModelShotUsesFeatures(t *testing.T) {
	h := newHarness(t)
	h.toWorkspace()
	if _, err := h.r.DetectFeatures(h.ctx, h.s); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	err := h.r.StartModelShot(h.ctx, h.s, ModelShotInput{Options: modelshot.Options{
		Mode: modelshot.ModeAuto,
		Hood: modelshot.HoodUp,
	}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	h.r.Wait()

	args := h.svc.lastArgs("model")
	prompt := args[1].(string)
	if !strings.Contains(prompt, "hood") {
		t.Errorf("expected hood styling in prompt, got %q", prompt)
	}
	if aspect := args[4].(string); aspect != "3:4" {
		t.Errorf("expected default aspect 3:4, got %q", aspect)
	}

	snap := h.s.Snapshot()
	if len(snap.Gallery) != 1 {
		t.Fatalf("expected 1 item, got %d", len(snap.Gallery))
	}
	item := snap.Gallery[0]
	if item.SuggestionTitle != "Auto Model (girl)" {
		t.Errorf("expected %q, got %q", "Auto Model (girl)", item.SuggestionTitle)
	}
	if snap.DetailID != item.ID || snap.CurrentItemID != "" {
		t.Errorf("expected detail view only, got detail %q current %q", snap.DetailID, snap.CurrentItemID)
	}
}

func TestStartModelShotRefModeNeedsReference(t *testing.T) {
	h := newHarness(t)
	h.toWorkspace()
	err := h.r.StartModelShot(h.ctx, h.s, ModelShotInput{Options: modelshot.Options{Mode: modelshot.ModeRef}})
	if !garment.IsKind(err, garment.KindValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if h.svc.count("model") != 0 {
		t.Error("expected no remote call")
	}
}

// --- Auxiliary Tests ---

func TestDetectFeaturesDegrades(t *testing.T) {
	h := newHarness(t)
	h.toWorkspace()
	h.svc.features = func(context.Context, *garment.Image) (garment.GarmentFeatures, error) {
		return garment.UnknownFeatures, errRemote
	}
	f, err := h.r.DetectFeatures(h.ctx, h.s)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if f != garment.UnknownFeatures {
		t.Errorf("expected unknown features, got %+v", f)
	}
}

func TestDetectFeaturesNotConfigured(t *testing.T) {
	h := newHarness(t)
	h.toWorkspace()
	h.svc.features = func(context.Context, *garment.Image) (garment.GarmentFeatures, error) {
		return garment.UnknownFeatures, garment.Errorf(garment.KindNotConfigured, "detect_features", "no key")
	}
	if _, err := h.r.DetectFeatures(h.ctx, h.s); !garment.IsKind(err, garment.KindNotConfigured) {
		t.Fatalf("expected not configured error, got %v", err)
	}
}

func TestDescribeChangesFallback(t *testing.T) {
	h := newHarness(t)
	h.toWorkspace()
	item := h.generateOne("Collar", "p")

	text, err := h.r.DescribeChanges(h.ctx, h.s, item.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if text != "Collar changed." {
		t.Errorf("expected %q, got %q", "Collar changed.", text)
	}

	h.svc.describe = func(context.Context, *garment.Image, *garment.Image) (string, error) {
		return "", errRemote
	}
	text, err = h.r.DescribeChanges(h.ctx, h.s, item.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if text != "Analysis failed." {
		t.Errorf("expected %q, got %q", "Analysis failed.", text)
	}
}

// --- Persistence Tests ---

type recordingSaver struct {
	mu    sync.Mutex
	snaps []*Snapshot
}

func (r *recordingSaver) Save(_ context.Context, snap *Snapshot) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.snaps = append(r.snaps, snap)
	return nil
}

func (r *recordingSaver) last() *Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.snaps) == 0 {
		return nil
	}
	return r.snaps[len(r.snaps)-1]
}

func TestCommitPersistsAfterAsyncCompletion(t *testing.T) {
	h := newHarness(t)
	saver := &recordingSaver{}
	h.r = NewRunner(h.svc, RunnerOptions{Cache: h.cache, Saver: saver})
	h.toWorkspace()

	last := saver.last()
	if last == nil || last.Analysis == nil {
		t.Fatal("expected the applied analysis to be persisted")
	}
}

func TestCommitSkipsClosedSession(t *testing.T) {
	h := newHarness(t)
	saver := &recordingSaver{}
	h.r = NewRunner(h.svc, RunnerOptions{Cache: h.cache, Saver: saver})
	h.s.close()
	h.r.Commit(h.ctx, h.s)
	if saver.last() != nil {
		t.Error("expected closed session not to be persisted")
	}
}

// --- Scenario Tests ---

func TestFullEditingScenario(t *testing.T) {
	h := newHarness(t)
	h.toWorkspace()

	cats := make(map[garment.Category]bool)
	for _, a := range h.s.Snapshot().Analysis.Attributes {
		cats[a.Category] = true
	}
	if len(cats) != 5 {
		t.Fatalf("expected 5 categories, got %d", len(cats))
	}

	h.selectNames("Collar", "Pattern")
	view, err := h.r.FetchSuggestions(h.ctx, h.s, "", false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(view.Options) != 8 {
		t.Fatalf("expected 8 options, got %d", len(view.Options))
	}

	chosen := []BatchSelection{
		{Prompt: view.Options[1].ImagePrompt, Title: view.Options[1].Title, Value: view.Options[1].Title},
		{Prompt: view.Options[4].ImagePrompt, Title: view.Options[4].Title, Value: view.Options[4].Title},
	}
	if err := h.r.StartBatch(h.ctx, h.s, chosen); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	h.r.Wait()

	snap := h.s.Snapshot()
	if len(snap.Gallery) != 2 {
		t.Fatalf("expected 2 gallery items, got %d", len(snap.Gallery))
	}
	for _, item := range snap.Gallery {
		if item.ModifiedAttributeNames != "Collar, Pattern" {
			t.Errorf("expected %q, got %q", "Collar, Pattern", item.ModifiedAttributeNames)
		}
		if item.ModificationType != garment.KindAI {
			t.Errorf("expected %q, got %q", garment.KindAI, item.ModificationType)
		}
	}
	if snap.Gallery[0].SuggestionTitle != "Option B" || snap.Gallery[1].SuggestionTitle != "Option E" {
		t.Errorf("expected Option B, Option E, got %q, %q", snap.Gallery[0].SuggestionTitle, snap.Gallery[1].SuggestionTitle)
	}

	cached, ok, err := h.cache.Get(h.ctx, h.s.cacheScope(), "Collar|Pattern")
	if err != nil || !ok {
		t.Fatalf("expected cache entry, got ok=%v err=%v", ok, err)
	}
	if len(cached) != 8 {
		t.Errorf("expected 8 cached options, got %d", len(cached))
	}
	if h.svc.count("generate") != 2 {
		t.Errorf("expected 2 generation calls, got %d", h.svc.count("generate"))
	}
}
