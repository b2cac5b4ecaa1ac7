// Package workflow is the session controller of the design studio.
//
// A Session owns all mutable workflow state: the working image, the
// analysis, the attribute and compare selections, the gallery and the
// in-flight flags. Every user action is a synchronous method. Actions that
// need a remote call are split into a Begin method, which validates
// preconditions, applies the optimistic state change and returns a request
// descriptor, and a Complete method, which applies the result.
//
// Request descriptors capture the session epoch. The epoch advances whenever
// the working image is replaced (upload, background normalization,
// continue editing) and on reset. A Complete call whose epoch no longer
// matches drops the result and returns a StaleResult error; the in-flight
// flag it held is released either way.
//
// The Runner executes request descriptors against the remote services.
package workflow

import (
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/fpang/garment-studio/internal/gallery"
	"github.com/fpang/garment-studio/internal/garment"
	"github.com/fpang/garment-studio/internal/selection"
	"github.com/rs/zerolog/log"
)

// Step is a workflow state.
type Step int

const (
	StepIntake      Step = 1
	StepMarketSetup Step = 2
	StepWorkspace   Step = 3
)

func (s Step) String() string {
	switch s {
	case StepIntake:
		return "intake"
	case StepMarketSetup:
		return "market_setup"
	case StepWorkspace:
		return "workspace"
	}
	return "step(" + strconv.Itoa(int(s)) + ")"
}

// BackgroundTargets are the region hints offered for flat-lay conversion.
// An empty target lets the model pick the main item.
var BackgroundTargets = []string{"Top/Upper Garment", "Bottom/Pants/Skirt", "Full Body/Dress"}

// Notice is the last user-visible failure of a session.
type Notice struct {
	Kind    string    `json:"kind"`
	Op      string    `json:"op"`
	Message string    `json:"message"`
	At      time.Time `json:"at"`
}

// inflight counts outstanding remote calls per flag.
type inflight struct {
	analyzing   int
	generating  int
	background  int
	suggestions int
	reanalyzing int
}

type dialogState struct {
	open    bool
	key     string
	options []garment.ModificationOption
	cached  bool
}

type backgroundState struct {
	selecting bool
	retry     bool
}

// Session is one user's workflow. It is safe for concurrent use.
type Session struct {
	mu    sync.Mutex
	id    string
	ids   *gallery.IDSource
	clock gallery.Clock

	step     Step
	epoch    uint64
	cacheGen int

	rawUpload *garment.Image
	working   *garment.Image
	market    garment.MarketSettings
	analysis  *garment.AnalysisResult
	features  *garment.GarmentFeatures

	attrs   selection.Attributes
	compare selection.Compare
	gallery *gallery.Store

	current   *garment.Image
	currentID string
	detailID  string

	dialog  dialogState
	bg      backgroundState
	flights inflight
	notice  *Notice

	retired   []string
	closed    bool
	updatedAt time.Time
}

// NewSession creates a session in the intake step. A nil clock uses the
// system clock.
func NewSession(id string, clock gallery.Clock) *Session {
	if clock == nil {
		clock = gallery.SystemClock{}
	}
	return &Session{
		id:        id,
		ids:       gallery.NewIDSource(clock),
		clock:     clock,
		step:      StepIntake,
		epoch:     1,
		gallery:   gallery.New(),
		updatedAt: clock.Now(),
	}
}

// ID returns the session ID.
func (s *Session) ID() string {
	return s.id
}

// --- Internal helpers (lock held) ---

func (s *Session) touch() {
	s.updatedAt = s.clock.Now()
}

func (s *Session) scope() string {
	return s.id + "#" + strconv.Itoa(s.cacheGen)
}

// invalidateCache retires the current suggestion-cache scope and drops the
// selection and suggestion view that referred to it.
func (s *Session) invalidateCache() {
	s.retired = append(s.retired, s.scope())
	s.cacheGen++
	s.attrs.Clear()
	s.dialog = dialogState{}
}

// replaceWorking swaps the working image and everything derived from it.
func (s *Session) replaceWorking(img *garment.Image) {
	s.working = img
	s.epoch++
	s.features = nil
	s.invalidateCache()
}

func (s *Session) checkEpoch(op string, epoch uint64) error {
	if epoch == s.epoch {
		return nil
	}
	log.Debug().
		Str("sessionId", s.id).
		Str("op", op).
		Uint64("resultEpoch", epoch).
		Uint64("currentEpoch", s.epoch).
		Msg("Dropping stale result")
	return garment.Errorf(garment.KindStale, op, "result for epoch %d dropped (current epoch %d)", epoch, s.epoch)
}

func (s *Session) fail(op string, err error) error {
	kind := garment.KindOf(err)
	s.notice = &Notice{Kind: kind.String(), Op: op, Message: err.Error(), At: s.clock.Now()}
	log.Warn().
		Err(err).
		Str("sessionId", s.id).
		Str("op", op).
		Str("kind", kind.String()).
		Msg("Operation failed")
	return err
}

func validation(op, format string, args ...any) error {
	return garment.Errorf(garment.KindValidation, op, format, args...)
}

func release(counter *int) {
	if *counter > 0 {
		*counter--
	}
}

// drainRetired returns and forgets the cache scopes retired since the last call.
func (s *Session) drainRetired() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.retired
	s.retired = nil
	return out
}

// close marks the session as dropped; it is no longer persisted.
func (s *Session) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
}

func (s *Session) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// idle reports whether the session has not been touched for ttl and has no
// remote call outstanding.
func (s *Session) idle(now time.Time, ttl time.Duration) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	f := s.flights
	if f.analyzing+f.generating+f.background+f.suggestions+f.reanalyzing > 0 {
		return false
	}
	return now.Sub(s.updatedAt) >= ttl
}

// cacheScope returns the live suggestion-cache scope.
func (s *Session) cacheScope() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.scope()
}

// --- Intake ---

// Upload replaces the raw upload and the working image and resets all
// downstream state. The gallery is kept.
func (s *Session) Upload(img *garment.Image) error {
	if img.Empty() {
		return validation("upload", "image is empty")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.rawUpload = img
	s.replaceWorking(img)
	s.step = StepIntake
	s.analysis = nil
	s.current = nil
	s.currentID = ""
	s.detailID = ""
	s.bg = backgroundState{}
	s.notice = nil
	s.touch()

	log.Info().
		Str("sessionId", s.id).
		Str("mime_type", img.MIMEType).
		Int("bytes", len(img.Data)).
		Uint64("epoch", s.epoch).
		Msg("Image uploaded")
	return nil
}

// Reset returns the session to its initial state. The gallery is kept.
func (s *Session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.rawUpload = nil
	s.replaceWorking(nil)
	s.step = StepIntake
	s.market = garment.MarketSettings{}
	s.analysis = nil
	s.current = nil
	s.currentID = ""
	s.detailID = ""
	s.compare.Reset()
	s.bg = backgroundState{}
	s.notice = nil
	s.touch()

	log.Info().Str("sessionId", s.id).Uint64("epoch", s.epoch).Msg("Session reset")
}

// BeginBackgroundTargetSelection enters the flat-lay sub-flow. A retry
// enables the free-text instruction.
func (s *Session) BeginBackgroundTargetSelection(isRetry bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.step != StepIntake {
		return validation("background", "background normalization is only available before confirming the image")
	}
	if s.rawUpload == nil {
		return validation("background", "upload an image first")
	}
	s.bg = backgroundState{selecting: true, retry: isRetry}
	s.touch()
	return nil
}

// CancelBackgroundTargetSelection leaves the sub-flow without a call.
func (s *Session) CancelBackgroundTargetSelection() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bg = backgroundState{}
	s.touch()
}

// BackgroundRequest is a pending flat-lay conversion.
type BackgroundRequest struct {
	Epoch       uint64
	Image       *garment.Image
	Target      string
	Instruction string
}

// ConfirmBackgroundTarget issues the background-removal request for the raw
// upload. The instruction is only sent on retry.
func (s *Session) ConfirmBackgroundTarget(target, instruction string) (BackgroundRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.bg.selecting {
		return BackgroundRequest{}, validation("background", "choose a target region first")
	}
	if target != "" && !containsString(BackgroundTargets, target) {
		return BackgroundRequest{}, validation("background", "unknown target region %q", target)
	}
	if !s.bg.retry {
		instruction = ""
	}

	s.bg = backgroundState{}
	s.flights.background++
	s.touch()
	return BackgroundRequest{
		Epoch:       s.epoch,
		Image:       s.rawUpload,
		Target:      target,
		Instruction: instruction,
	}, nil
}

// CompleteBackground applies a background-removal result. On failure the
// working image is left unchanged.
func (s *Session) CompleteBackground(req BackgroundRequest, img *garment.Image, err error) error {
	const op = "background"
	s.mu.Lock()
	defer s.mu.Unlock()

	release(&s.flights.background)
	s.touch()
	if staleErr := s.checkEpoch(op, req.Epoch); staleErr != nil {
		return staleErr
	}
	if s.step != StepIntake {
		log.Debug().Str("sessionId", s.id).Stringer("step", s.step).Msg("Dropping background result outside intake")
		return garment.Errorf(garment.KindStale, op, "image already confirmed")
	}
	if err == nil && img.Empty() {
		err = garment.Errorf(garment.KindBackgroundRemoval, op, "no image returned")
	}
	if err != nil {
		return s.fail(op, garment.Wrap(garment.KindBackgroundRemoval, op, "background removal failed", err))
	}

	s.replaceWorking(img)
	s.analysis = nil
	log.Info().Str("sessionId", s.id).Str("target", req.Target).Msg("Working image normalized")
	return nil
}

// ConfirmImage advances from intake to market setup.
func (s *Session) ConfirmImage() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.step != StepIntake {
		return validation("confirm", "image already confirmed")
	}
	if s.working == nil {
		return validation("confirm", "upload an image first")
	}
	if s.flights.background > 0 {
		return validation("confirm", "background removal is still running")
	}
	s.step = StepMarketSetup
	s.bg = backgroundState{}
	s.touch()
	return nil
}

// --- Market setup and analysis ---

// SetMarket updates the market settings.
func (s *Session) SetMarket(m garment.MarketSettings) error {
	if !m.Gender.Valid() {
		return validation("market", "unknown gender %q", m.Gender)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.market = m
	s.touch()
	return nil
}

// AnalysisRequest is a pending full analysis.
type AnalysisRequest struct {
	Epoch  uint64
	Image  *garment.Image
	Market garment.MarketSettings
}

// BeginAnalysis optimistically moves to the workspace and issues a full
// analysis of the working image.
func (s *Session) BeginAnalysis() (AnalysisRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.step != StepMarketSetup {
		return AnalysisRequest{}, validation("analyze", "analysis starts from market setup")
	}
	if s.working == nil {
		return AnalysisRequest{}, validation("analyze", "no working image")
	}
	if s.flights.analyzing > 0 {
		return AnalysisRequest{}, validation("analyze", "analysis already in progress")
	}

	s.step = StepWorkspace
	s.flights.analyzing++
	s.notice = nil
	s.touch()
	return AnalysisRequest{Epoch: s.epoch, Image: s.working, Market: s.market}, nil
}

// CompleteAnalysis applies a full analysis. On failure the session returns
// to market setup with image and market settings intact.
func (s *Session) CompleteAnalysis(req AnalysisRequest, result *garment.AnalysisResult, err error) error {
	const op = "analyze"
	s.mu.Lock()
	defer s.mu.Unlock()

	release(&s.flights.analyzing)
	s.touch()
	if staleErr := s.checkEpoch(op, req.Epoch); staleErr != nil {
		return staleErr
	}
	if err == nil && (result == nil || len(result.Attributes) == 0) {
		err = garment.Errorf(garment.KindAnalysis, op, "empty analysis")
	}
	if err != nil {
		s.step = StepMarketSetup
		return s.fail(op, garment.Wrap(garment.KindAnalysis, op, "analysis failed", err))
	}

	s.analysis = result
	s.invalidateCache()
	log.Info().
		Str("sessionId", s.id).
		Int("attributes", len(result.Attributes)).
		Msg("Analysis applied")
	return nil
}

// Back returns from the workspace to market setup. The analysis is kept.
func (s *Session) Back() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.step != StepWorkspace {
		return validation("back", "not in the workspace")
	}
	s.step = StepMarketSetup
	s.dialog = dialogState{}
	s.touch()
	return nil
}

// Resume re-enters the workspace with the existing analysis.
func (s *Session) Resume() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.step != StepMarketSetup {
		return validation("resume", "resume starts from market setup")
	}
	if s.analysis == nil {
		return validation("resume", "no analysis to resume; start an analysis")
	}
	s.step = StepWorkspace
	s.touch()
	return nil
}

// --- Attribute selection ---

// ToggleAttribute selects or deselects the named attribute of the current
// analysis and reports whether it is selected afterwards.
func (s *Session) ToggleAttribute(name string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	attr, ok := s.analysis.Attribute(name)
	if !ok {
		return false, validation("select", "unknown attribute %q", name)
	}
	selected := s.attrs.Toggle(attr)
	s.touch()
	return selected, nil
}

// ClearSelection empties the attribute selection.
func (s *Session) ClearSelection() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attrs.Clear()
	s.touch()
}

// DialogRequest identifies the cache entry consulted when the modification
// dialog opens.
type DialogRequest struct {
	Epoch uint64
	Scope string
	Key   string
	Names []string
}

// OpenDialog opens the modification dialog for the current selection.
func (s *Session) OpenDialog() (DialogRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.attrs.Len() == 0 {
		return DialogRequest{}, validation("dialog", "select at least one attribute")
	}
	key := s.attrs.Key()
	if !s.dialog.open || s.dialog.key != key {
		s.dialog = dialogState{open: true, key: key}
	}
	s.touch()
	return DialogRequest{Epoch: s.epoch, Scope: s.scope(), Key: key, Names: s.attrs.Names()}, nil
}

// ShowCachedOptions fills the open dialog from a cache hit.
func (s *Session) ShowCachedOptions(req DialogRequest, options []garment.ModificationOption) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if req.Epoch != s.epoch || req.Scope != s.scope() || !s.dialog.open || s.dialog.key != req.Key {
		return
	}
	s.dialog.options = options
	s.dialog.cached = true
	s.touch()
}

// CloseDialog closes the modification dialog. The selection is kept.
func (s *Session) CloseDialog() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dialog = dialogState{}
	s.touch()
}

// SuggestionRequest is a pending suggestion fetch.
type SuggestionRequest struct {
	Epoch    uint64
	Scope    string
	Key      string
	Image    *garment.Image
	Names    []string
	Critique string
	Guidance string
	Retry    bool
}

// BeginSuggestions issues a suggestion fetch for the current selection.
// Guidance is only sent on retry.
func (s *Session) BeginSuggestions(guidance string, retry bool) (SuggestionRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.working == nil {
		return SuggestionRequest{}, validation("suggestions", "no working image")
	}
	if s.attrs.Len() == 0 {
		return SuggestionRequest{}, validation("suggestions", "select at least one attribute")
	}
	if !retry {
		guidance = ""
	}

	key := s.attrs.Key()
	if !s.dialog.open || s.dialog.key != key {
		s.dialog = dialogState{open: true, key: key}
	}
	var critique string
	if s.analysis != nil {
		critique = s.analysis.Critique.Content
	}
	s.flights.suggestions++
	s.touch()
	return SuggestionRequest{
		Epoch:    s.epoch,
		Scope:    s.scope(),
		Key:      key,
		Image:    s.working,
		Names:    s.attrs.Names(),
		Critique: critique,
		Guidance: guidance,
		Retry:    retry,
	}, nil
}

// CompleteSuggestions applies fetched suggestions to the dialog. A result
// for a retired cache scope is stale even within the same epoch.
func (s *Session) CompleteSuggestions(req SuggestionRequest, options []garment.ModificationOption, err error) error {
	const op = "suggestions"
	s.mu.Lock()
	defer s.mu.Unlock()

	release(&s.flights.suggestions)
	s.touch()
	if staleErr := s.checkEpoch(op, req.Epoch); staleErr != nil {
		return staleErr
	}
	if req.Scope != s.scope() {
		return garment.Errorf(garment.KindStale, op, "suggestion cache was invalidated")
	}
	if err == nil && len(options) == 0 {
		err = garment.Errorf(garment.KindSuggestion, op, "no suggestions returned")
	}
	if err != nil {
		return s.fail(op, garment.Wrap(garment.KindSuggestion, op, "failed to fetch suggestions", err))
	}

	if s.dialog.open && s.dialog.key == req.Key {
		s.dialog.options = options
		s.dialog.cached = false
	}
	return nil
}

// --- Generation ---

// GenerateInput is a single generation request from the modification dialog.
type GenerateInput struct {
	Prompt    string
	Title     string
	Value     string
	Reference *garment.Image
	Kind      garment.ModificationKind
}

// GenerateRequest is a pending single generation.
type GenerateRequest struct {
	Epoch     uint64
	Image     *garment.Image
	Names     string
	Prompt    string
	Title     string
	Value     string
	Reference *garment.Image
	Kind      garment.ModificationKind
}

func (s *Session) checkGenerate(op string) error {
	if s.working == nil {
		return validation(op, "no working image")
	}
	if s.attrs.Len() == 0 {
		return validation(op, "select at least one attribute")
	}
	return nil
}

// BeginGenerate issues a single generation. The selection is cleared and the
// dialog closed immediately.
func (s *Session) BeginGenerate(in GenerateInput) (GenerateRequest, error) {
	const op = "generate"
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkGenerate(op); err != nil {
		return GenerateRequest{}, err
	}
	if in.Prompt == "" {
		return GenerateRequest{}, validation(op, "prompt is empty")
	}
	if !in.Kind.Valid() {
		return GenerateRequest{}, validation(op, "unknown modification type %q", in.Kind)
	}

	req := GenerateRequest{
		Epoch:     s.epoch,
		Image:     s.working,
		Names:     garment.JoinNames(s.attrs.Names()),
		Prompt:    in.Prompt,
		Title:     in.Title,
		Value:     in.Value,
		Reference: in.Reference,
		Kind:      in.Kind,
	}
	s.attrs.Clear()
	s.dialog = dialogState{}
	s.flights.generating++
	s.notice = nil
	s.touch()
	return req, nil
}

// CompleteGenerate records a successful generation in the gallery and makes
// it the current image. On failure the previous current image is kept.
func (s *Session) CompleteGenerate(req GenerateRequest, img *garment.Image, err error) (*garment.GalleryItem, error) {
	const op = "generate"
	s.mu.Lock()
	defer s.mu.Unlock()

	release(&s.flights.generating)
	s.touch()
	if staleErr := s.checkEpoch(op, req.Epoch); staleErr != nil {
		return nil, staleErr
	}
	if err == nil && img.Empty() {
		err = garment.Errorf(garment.KindGeneration, op, "no image returned")
	}
	if err != nil {
		return nil, s.fail(op, garment.Wrap(garment.KindGeneration, op, "generation failed", err))
	}

	id, ts := s.ids.Next(0)
	item := &garment.GalleryItem{
		ID:                     id,
		OriginalImage:          req.Image,
		ModifiedImage:          img,
		SuggestionTitle:        req.Title,
		Timestamp:              ts,
		ModifiedAttributeNames: req.Names,
		ModifiedAttributeValue: req.Value,
		ModificationType:       req.Kind,
		ReferenceImage:         req.Reference,
	}
	s.gallery.Insert(item)
	s.setCurrent(item)

	log.Info().Str("sessionId", s.id).Str("itemId", id).Str("title", req.Title).Msg("Generation added to gallery")
	return item, nil
}

func (s *Session) setCurrent(item *garment.GalleryItem) {
	s.current = item.ModifiedImage
	s.currentID = item.ID
	s.detailID = item.ID
}

// BatchSelection is one chosen suggestion in a batch generation.
type BatchSelection struct {
	Prompt string `json:"prompt"`
	Title  string `json:"title"`
	Value  string `json:"value"`
}

// BatchRequest is a pending batch generation.
type BatchRequest struct {
	Epoch uint64
	Image *garment.Image
	Names string
	Items []BatchSelection
}

// BatchResult is the settled outcome of one batch item.
type BatchResult struct {
	Image *garment.Image
	Err   error
}

// BeginBatch issues one generation per selection under a single generating
// flag. The selection is cleared and the dialog closed immediately.
func (s *Session) BeginBatch(items []BatchSelection) (BatchRequest, error) {
	const op = "generate_batch"
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(items) == 0 {
		return BatchRequest{}, validation(op, "choose at least one suggestion")
	}
	if err := s.checkGenerate(op); err != nil {
		return BatchRequest{}, err
	}
	for i, it := range items {
		if it.Prompt == "" {
			return BatchRequest{}, validation(op, "selection %d has an empty prompt", i+1)
		}
	}

	req := BatchRequest{
		Epoch: s.epoch,
		Image: s.working,
		Names: garment.JoinNames(s.attrs.Names()),
		Items: append([]BatchSelection(nil), items...),
	}
	s.attrs.Clear()
	s.dialog = dialogState{}
	s.flights.generating++
	s.notice = nil
	s.touch()
	return req, nil
}

// CompleteBatch applies a settled batch. Successes are added to the gallery
// in selection order, newest first, and the first one becomes current.
// Failed items are skipped; if every item failed the gallery is unchanged
// and an aggregate GenerationError is returned.
func (s *Session) CompleteBatch(req BatchRequest, results []BatchResult) ([]*garment.GalleryItem, error) {
	const op = "generate_batch"
	s.mu.Lock()
	defer s.mu.Unlock()

	release(&s.flights.generating)
	s.touch()
	if staleErr := s.checkEpoch(op, req.Epoch); staleErr != nil {
		return nil, staleErr
	}

	var items []*garment.GalleryItem
	failed := 0
	for i, sel := range req.Items {
		var res BatchResult
		if i < len(results) {
			res = results[i]
		} else {
			res.Err = garment.Errorf(garment.KindGeneration, op, "item %d did not settle", i+1)
		}
		if res.Err == nil && res.Image.Empty() {
			res.Err = garment.Errorf(garment.KindGeneration, op, "no image returned")
		}
		if res.Err != nil {
			failed++
			log.Warn().
				Err(res.Err).
				Str("sessionId", s.id).
				Int("item", i+1).
				Msg("Batch item failed")
			continue
		}

		id, ts := s.ids.Next(i + 1)
		items = append(items, &garment.GalleryItem{
			ID:                     id,
			OriginalImage:          req.Image,
			ModifiedImage:          res.Image,
			SuggestionTitle:        sel.Title,
			Timestamp:              ts,
			ModifiedAttributeNames: req.Names,
			ModifiedAttributeValue: sel.Value,
			ModificationType:       garment.KindAI,
		})
	}

	if len(items) == 0 {
		return nil, s.fail(op, garment.Errorf(garment.KindGeneration, op,
			"%d of %d failed", failed, len(req.Items)))
	}

	s.gallery.InsertAll(items)
	s.setCurrent(items[0])
	log.Info().
		Str("sessionId", s.id).
		Int("succeeded", len(items)).
		Int("failed", failed).
		Msg("Batch generation applied")
	return items, nil
}

// --- Model shots ---

// ModelShotRequest is a pending model try-on generation.
type ModelShotRequest struct {
	Epoch     uint64
	Clothing  *garment.Image
	Prompt    string
	Reference *garment.Image
	Market    garment.MarketSettings
	Aspect    string
	Title     string
	Kind      garment.ModificationKind
}

// BeginModelShot issues a try-on shot of the working image, or of a gallery
// item's result when sourceID is set. prompt is the final styling prompt.
func (s *Session) BeginModelShot(sourceID, prompt string, ref *garment.Image, aspect, title string, kind garment.ModificationKind) (ModelShotRequest, error) {
	const op = "model_shot"
	s.mu.Lock()
	defer s.mu.Unlock()

	clothing := s.working
	if sourceID != "" {
		item, ok := s.gallery.Get(sourceID)
		if !ok {
			return ModelShotRequest{}, garment.Errorf(garment.KindNotFound, op, "gallery item %s not found", sourceID)
		}
		clothing = item.ModifiedImage
	}
	if clothing.Empty() {
		return ModelShotRequest{}, validation(op, "no garment image")
	}
	if kind == garment.KindRef && ref.Empty() {
		return ModelShotRequest{}, validation(op, "reference mode needs a reference image")
	}

	s.flights.generating++
	s.notice = nil
	s.touch()
	return ModelShotRequest{
		Epoch:     s.epoch,
		Clothing:  clothing,
		Prompt:    prompt,
		Reference: ref,
		Market:    s.market,
		Aspect:    aspect,
		Title:     title,
		Kind:      kind,
	}, nil
}

// CompleteModelShot records a try-on result in the gallery and opens it in
// the detail view. The current generated image is not changed.
func (s *Session) CompleteModelShot(req ModelShotRequest, img *garment.Image, snippet string, err error) (*garment.GalleryItem, error) {
	const op = "model_shot"
	s.mu.Lock()
	defer s.mu.Unlock()

	release(&s.flights.generating)
	s.touch()
	if staleErr := s.checkEpoch(op, req.Epoch); staleErr != nil {
		return nil, staleErr
	}
	if err == nil && img.Empty() {
		err = garment.Errorf(garment.KindGeneration, op, "no image returned")
	}
	if err != nil {
		return nil, s.fail(op, garment.Wrap(garment.KindGeneration, op, "model generation failed", err))
	}

	id, ts := s.ids.Next(0)
	item := &garment.GalleryItem{
		ID:                     id,
		OriginalImage:          req.Clothing,
		ModifiedImage:          img,
		SuggestionTitle:        req.Title,
		Timestamp:              ts,
		ModifiedAttributeValue: snippet,
		ModificationType:       req.Kind,
	}
	if req.Kind == garment.KindRef {
		item.ReferenceImage = req.Reference
	}
	s.gallery.Insert(item)
	s.detailID = id
	return item, nil
}

// FeaturesRequest is a pending garment feature detection.
type FeaturesRequest struct {
	Epoch uint64
	Image *garment.Image
}

// BeginFeatures issues feature detection for the working image.
func (s *Session) BeginFeatures() (FeaturesRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.working == nil {
		return FeaturesRequest{}, validation("features", "no working image")
	}
	return FeaturesRequest{Epoch: s.epoch, Image: s.working}, nil
}

// CompleteFeatures stores detected features for the working image.
func (s *Session) CompleteFeatures(req FeaturesRequest, f garment.GarmentFeatures) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkEpoch("features", req.Epoch); err != nil {
		return err
	}
	s.features = &f
	s.touch()
	return nil
}

// Features returns the detected features of the working image, if any.
func (s *Session) Features() *garment.GarmentFeatures {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.features == nil {
		return nil
	}
	f := *s.features
	return &f
}

// --- Continue editing ---

// ReanalysisRequest is a pending targeted re-analysis.
type ReanalysisRequest struct {
	Epoch uint64
	Image *garment.Image
	Names []string
}

// ContinueEditing makes a gallery result the new working image. If an
// analysis exists, the returned request re-detects the attributes the item
// changed; otherwise the request is nil.
func (s *Session) ContinueEditing(itemID string) (*ReanalysisRequest, error) {
	const op = "continue"
	s.mu.Lock()
	defer s.mu.Unlock()

	item, ok := s.gallery.Get(itemID)
	if !ok {
		return nil, garment.Errorf(garment.KindNotFound, op, "gallery item %s not found", itemID)
	}
	if s.step != StepWorkspace {
		return nil, validation(op, "continue editing is only available in the workspace")
	}
	if item.ModifiedImage.Empty() {
		return nil, validation(op, "gallery item has no image")
	}

	s.replaceWorking(item.ModifiedImage)
	s.current = nil
	s.currentID = ""
	s.detailID = ""
	s.notice = nil
	s.touch()

	log.Info().
		Str("sessionId", s.id).
		Str("itemId", itemID).
		Uint64("epoch", s.epoch).
		Msg("Continuing from gallery item")

	names := garment.SplitNames(item.ModifiedAttributeNames)
	if s.analysis == nil || len(names) == 0 {
		return nil, nil
	}
	s.flights.reanalyzing++
	return &ReanalysisRequest{Epoch: s.epoch, Image: s.working, Names: names}, nil
}

// CompleteReanalysis merges re-detected values into the analysis. On
// failure the previous analysis is kept as is.
func (s *Session) CompleteReanalysis(req ReanalysisRequest, attrs []garment.Attribute, err error) error {
	const op = "reanalyze"
	s.mu.Lock()
	defer s.mu.Unlock()

	release(&s.flights.reanalyzing)
	s.touch()
	if staleErr := s.checkEpoch(op, req.Epoch); staleErr != nil {
		return staleErr
	}
	if err != nil {
		return s.fail(op, garment.Wrap(garment.KindAnalysis, op, "re-analysis failed; keeping previous values", err))
	}
	if s.analysis == nil {
		return nil
	}

	s.analysis = s.analysis.Merge(attrs)
	s.attrs.Clear()
	s.dialog = dialogState{}
	log.Info().
		Str("sessionId", s.id).
		Int("updated", len(attrs)).
		Msg("Targeted re-analysis merged")
	return nil
}

// --- Gallery ---

// Item returns a gallery item by ID.
func (s *Session) Item(id string) (*garment.GalleryItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.gallery.Get(id)
	if !ok {
		return nil, garment.Errorf(garment.KindNotFound, "gallery", "gallery item %s not found", id)
	}
	return item, nil
}

// DeleteItem removes a gallery item and every reference to it.
func (s *Session) DeleteItem(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.gallery.Delete(id) {
		return garment.Errorf(garment.KindNotFound, "delete", "gallery item %s not found", id)
	}
	if s.detailID == id {
		s.detailID = ""
	}
	if s.currentID == id {
		s.currentID = ""
	}
	s.compare.Remove(id)
	s.touch()
	return nil
}

// OpenDetail shows a gallery item in the detail view.
func (s *Session) OpenDetail(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.gallery.Get(id); !ok {
		return garment.Errorf(garment.KindNotFound, "detail", "gallery item %s not found", id)
	}
	s.detailID = id
	s.touch()
	return nil
}

// OpenCurrent shows the item holding the current generated image.
func (s *Session) OpenCurrent() (*garment.GalleryItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.current == nil {
		return nil, garment.Errorf(garment.KindNotFound, "detail", "no current generated image")
	}
	item, ok := s.gallery.Find(func(it *garment.GalleryItem) bool {
		return it.ID == s.currentID || it.ModifiedImage == s.current
	})
	if !ok {
		return nil, garment.Errorf(garment.KindNotFound, "detail", "current image is no longer in the gallery")
	}
	s.detailID = item.ID
	s.touch()
	return item, nil
}

// CloseDetail closes the detail view.
func (s *Session) CloseDetail() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.detailID = ""
	s.touch()
}

// --- Compare ---

// ToggleCompareMode flips compare mode, clearing the compare set.
func (s *Session) ToggleCompareMode() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.touch()
	return s.compare.ToggleMode()
}

// ToggleCompare adds or removes a gallery item from the compare set.
func (s *Session) ToggleCompare(id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.compare.Enabled() {
		return false, validation("compare", "compare mode is off")
	}
	if _, ok := s.gallery.Get(id); !ok {
		return false, garment.Errorf(garment.KindNotFound, "compare", "gallery item %s not found", id)
	}
	selected, err := s.compare.Toggle(id)
	if err != nil {
		return false, err
	}
	s.touch()
	return selected, nil
}

// ComparedItems returns the items in the compare set, in gallery order.
func (s *Session) ComparedItems() ([]*garment.GalleryItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.compare.Ready() {
		return nil, validation("compare", "select at least %d images to compare", selection.MinCompare)
	}
	return s.gallery.FilterByIDs(s.compare.IDs()), nil
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// String identifies the session in logs.
func (s *Session) String() string {
	return fmt.Sprintf("session(%s)", s.id)
}
