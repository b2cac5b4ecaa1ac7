package workflow

import (
	"context"
	"sync"
	"time"

	"github.com/fpang/garment-studio/internal/attrcache"
	"github.com/fpang/garment-studio/internal/garment"
	"github.com/fpang/garment-studio/internal/modelshot"
	"github.com/rs/zerolog/log"
)

// DefaultCallTimeout bounds every remote call issued by a Runner.
const DefaultCallTimeout = 120 * time.Second

const saveTimeout = 10 * time.Second

// Services is the remote contract consumed by the workflow.
type Services interface {
	Analyze(ctx context.Context, img *garment.Image, market garment.MarketSettings) (*garment.AnalysisResult, error)
	ReanalyzeSubset(ctx context.Context, img *garment.Image, names []string) ([]garment.Attribute, error)
	RemoveBackground(ctx context.Context, img *garment.Image, target, instruction string) (*garment.Image, error)
	FetchSuggestions(ctx context.Context, img *garment.Image, names []string, critique, guidance string) ([]garment.ModificationOption, error)
	GenerateImage(ctx context.Context, img *garment.Image, prompt string, ref *garment.Image) (*garment.Image, error)
	GenerateModelImage(ctx context.Context, clothing *garment.Image, prompt string, ref *garment.Image, market garment.MarketSettings, aspect string) (*garment.Image, error)
	DetectFeatures(ctx context.Context, img *garment.Image) (garment.GarmentFeatures, error)
	DescribeChanges(ctx context.Context, original, modified *garment.Image) (string, error)
}

// Saver persists session snapshots.
type Saver interface {
	Save(ctx context.Context, snap *Snapshot) error
}

// RunnerOptions configures a Runner.
type RunnerOptions struct {
	// CallTimeout bounds each remote call. Zero uses DefaultCallTimeout.
	CallTimeout time.Duration
	// Cache stores suggestions. Nil uses an in-memory cache.
	Cache attrcache.Cache
	// Saver, if set, receives a snapshot after every applied transition.
	Saver Saver
}

// Runner executes session requests against the remote services. Remote
// calls started by Start methods run in the background with a bounded wait
// and detached from the caller's cancellation.
type Runner struct {
	services Services
	cache    attrcache.Cache
	saver    Saver
	timeout  time.Duration

	wg sync.WaitGroup
}

// NewRunner creates a Runner.
func NewRunner(services Services, opts RunnerOptions) *Runner {
	if opts.CallTimeout <= 0 {
		opts.CallTimeout = DefaultCallTimeout
	}
	if opts.Cache == nil {
		opts.Cache = attrcache.NewMemory()
	}
	return &Runner{
		services: services,
		cache:    opts.Cache,
		saver:    opts.Saver,
		timeout:  opts.CallTimeout,
	}
}

// Wait blocks until every background call has been applied.
func (r *Runner) Wait() {
	r.wg.Wait()
}

func (r *Runner) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), r.timeout)
}

// async runs fn in the background with a bounded call context, then commits.
func (r *Runner) async(ctx context.Context, s *Session, op string, fn func(ctx context.Context) error) {
	detached := context.WithoutCancel(ctx)
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		callCtx, cancel := r.callContext(detached)
		err := fn(callCtx)
		cancel()
		r.logOutcome(s, op, err)
		r.Commit(detached, s)
	}()
}

func (r *Runner) logOutcome(s *Session, op string, err error) {
	switch {
	case err == nil:
	case garment.IsKind(err, garment.KindStale):
		log.Debug().Str("sessionId", s.ID()).Str("op", op).Msg("Result discarded after session moved on")
	default:
		log.Debug().Err(err).Str("sessionId", s.ID()).Str("op", op).Msg("Background operation finished with error")
	}
}

// Commit clears retired cache scopes and persists the session. Cache and
// store failures are logged, never returned: a retired scope is already
// unreachable, and persistence is best effort.
func (r *Runner) Commit(ctx context.Context, s *Session) {
	ctx = context.WithoutCancel(ctx)
	for _, scope := range s.drainRetired() {
		if err := r.cache.Clear(ctx, scope); err != nil {
			log.Warn().Err(err).Str("sessionId", s.ID()).Str("scope", scope).Msg("Failed to clear suggestion cache")
		}
	}
	if r.saver == nil || s.isClosed() {
		return
	}
	saveCtx, cancel := context.WithTimeout(ctx, saveTimeout)
	defer cancel()
	if err := r.saver.Save(saveCtx, s.Snapshot()); err != nil {
		log.Error().Err(err).Str("sessionId", s.ID()).Msg("Failed to persist session")
	}
}

// forget clears the suggestion cache of a session dropped from memory. Its
// persisted snapshot is left to the store TTL.
func (r *Runner) forget(ctx context.Context, s *Session) {
	ctx = context.WithoutCancel(ctx)
	scopes := append(s.drainRetired(), s.cacheScope())
	for _, scope := range scopes {
		if err := r.cache.Clear(ctx, scope); err != nil {
			log.Warn().Err(err).Str("sessionId", s.ID()).Str("scope", scope).Msg("Failed to clear suggestion cache")
		}
	}
}

// --- Intake ---

// Upload replaces the session's image.
func (r *Runner) Upload(ctx context.Context, s *Session, img *garment.Image) error {
	if err := s.Upload(img); err != nil {
		return err
	}
	r.Commit(ctx, s)
	return nil
}

// Reset resets the session.
func (r *Runner) Reset(ctx context.Context, s *Session) {
	s.Reset()
	r.Commit(ctx, s)
}

// StartBackground confirms the target region and normalizes the background
// of the raw upload in the background.
func (r *Runner) StartBackground(ctx context.Context, s *Session, target, instruction string) error {
	req, err := s.ConfirmBackgroundTarget(target, instruction)
	if err != nil {
		return err
	}
	r.Commit(ctx, s)

	r.async(ctx, s, "background", func(ctx context.Context) error {
		img, err := r.services.RemoveBackground(ctx, req.Image, req.Target, req.Instruction)
		return s.CompleteBackground(req, img, err)
	})
	return nil
}

// --- Analysis ---

// StartAnalysis moves to the workspace and analyzes the working image in
// the background.
func (r *Runner) StartAnalysis(ctx context.Context, s *Session) error {
	req, err := s.BeginAnalysis()
	if err != nil {
		return err
	}
	r.Commit(ctx, s)

	r.async(ctx, s, "analyze", func(ctx context.Context) error {
		result, err := r.services.Analyze(ctx, req.Image, req.Market)
		return s.CompleteAnalysis(req, result, err)
	})
	return nil
}

// ContinueEditing makes a gallery result the working image and, when an
// analysis exists, re-detects the changed attributes in the background.
func (r *Runner) ContinueEditing(ctx context.Context, s *Session, itemID string) error {
	req, err := s.ContinueEditing(itemID)
	if err != nil {
		return err
	}
	r.Commit(ctx, s)
	if req == nil {
		return nil
	}

	r.async(ctx, s, "reanalyze", func(ctx context.Context) error {
		attrs, err := r.services.ReanalyzeSubset(ctx, req.Image, req.Names)
		return s.CompleteReanalysis(*req, attrs, err)
	})
	return nil
}

// --- Suggestions ---

// OpenDialog opens the modification dialog, pre-filled from the cache when
// the selection has been seen before.
func (r *Runner) OpenDialog(ctx context.Context, s *Session) (DialogView, error) {
	req, err := s.OpenDialog()
	if err != nil {
		return DialogView{}, err
	}
	if opts, ok := r.cached(ctx, s, req.Scope, req.Key); ok {
		s.ShowCachedOptions(req, opts)
	}
	r.Commit(ctx, s)
	return s.Snapshot().Dialog, nil
}

func (r *Runner) cached(ctx context.Context, s *Session, scope, key string) ([]garment.ModificationOption, bool) {
	opts, ok, err := r.cache.Get(ctx, scope, key)
	if err != nil {
		log.Warn().Err(err).Str("sessionId", s.ID()).Str("key", key).Msg("Suggestion cache lookup failed")
		return nil, false
	}
	return opts, ok
}

// FetchSuggestions returns options for the current selection. Without
// retry a cached entry is used and no remote call is made. A retry always
// calls the service, sends the guidance and overwrites the cache entry.
func (r *Runner) FetchSuggestions(ctx context.Context, s *Session, guidance string, retry bool) (DialogView, error) {
	if !retry {
		dreq, err := s.OpenDialog()
		if err != nil {
			return DialogView{}, err
		}
		if opts, ok := r.cached(ctx, s, dreq.Scope, dreq.Key); ok {
			s.ShowCachedOptions(dreq, opts)
			r.Commit(ctx, s)
			return s.Snapshot().Dialog, nil
		}
	}

	req, err := s.BeginSuggestions(guidance, retry)
	if err != nil {
		return DialogView{}, err
	}

	callCtx, cancel := r.callContext(ctx)
	opts, callErr := r.services.FetchSuggestions(callCtx, req.Image, req.Names, req.Critique, req.Guidance)
	cancel()

	if err := s.CompleteSuggestions(req, opts, callErr); err != nil {
		r.Commit(ctx, s)
		return DialogView{}, err
	}
	cacheCtx := context.WithoutCancel(ctx)
	if err := r.cache.Put(cacheCtx, req.Scope, req.Key, opts); err != nil {
		log.Warn().Err(err).Str("sessionId", s.ID()).Str("key", req.Key).Msg("Failed to cache suggestions")
	}
	// The scope may have been retired and cleared while the Put was in flight.
	if s.cacheScope() != req.Scope {
		if err := r.cache.Clear(cacheCtx, req.Scope); err != nil {
			log.Warn().Err(err).Str("sessionId", s.ID()).Str("scope", req.Scope).Msg("Failed to clear suggestion cache")
		}
	}
	r.Commit(ctx, s)
	return s.Snapshot().Dialog, nil
}

// --- Generation ---

// StartGenerate runs a single generation in the background.
func (r *Runner) StartGenerate(ctx context.Context, s *Session, in GenerateInput) error {
	req, err := s.BeginGenerate(in)
	if err != nil {
		return err
	}
	r.Commit(ctx, s)

	r.async(ctx, s, "generate", func(ctx context.Context) error {
		img, err := r.services.GenerateImage(ctx, req.Image, req.Prompt, req.Reference)
		_, err = s.CompleteGenerate(req, img, err)
		return err
	})
	return nil
}

// StartBatch generates every selection concurrently and applies the batch
// once all calls have settled.
func (r *Runner) StartBatch(ctx context.Context, s *Session, items []BatchSelection) error {
	req, err := s.BeginBatch(items)
	if err != nil {
		return err
	}
	r.Commit(ctx, s)

	r.async(ctx, s, "generate_batch", func(ctx context.Context) error {
		results := settleAll(ctx, len(req.Items), func(ctx context.Context, i int) (*garment.Image, error) {
			return r.services.GenerateImage(ctx, req.Image, req.Items[i].Prompt, nil)
		})
		_, err := s.CompleteBatch(req, results)
		return err
	})
	return nil
}

// ModelShotInput describes a try-on request.
type ModelShotInput struct {
	// SourceID selects a gallery item's result as the garment; empty uses
	// the working image.
	SourceID  string
	Options   modelshot.Options
	Reference *garment.Image
}

// StartModelShot renders a try-on shot in the background.
func (r *Runner) StartModelShot(ctx context.Context, s *Session, in ModelShotInput) error {
	opts, err := in.Options.Normalize()
	if err != nil {
		return err
	}

	var features *garment.GarmentFeatures
	if in.SourceID == "" {
		features = s.Features()
	}
	prompt := modelshot.Build(opts, features)

	var ref *garment.Image
	if opts.Mode == modelshot.ModeRef {
		ref = in.Reference
	}
	title := modelshot.Title(opts.Mode, s.Snapshot().Market)
	req, err := s.BeginModelShot(in.SourceID, prompt, ref, opts.AspectRatio, title, modelshot.Kind(opts.Mode))
	if err != nil {
		return err
	}
	r.Commit(ctx, s)

	r.async(ctx, s, "model_shot", func(ctx context.Context) error {
		img, err := r.services.GenerateModelImage(ctx, req.Clothing, req.Prompt, req.Reference, req.Market, req.Aspect)
		_, err = s.CompleteModelShot(req, img, modelshot.Snippet(req.Prompt), err)
		return err
	})
	return nil
}

// --- Auxiliary ---

// DetectFeatures identifies the working image's structural features. A
// failed detection degrades to unknown features; only a missing credential
// is returned as an error.
func (r *Runner) DetectFeatures(ctx context.Context, s *Session) (garment.GarmentFeatures, error) {
	req, err := s.BeginFeatures()
	if err != nil {
		return garment.UnknownFeatures, err
	}

	callCtx, cancel := r.callContext(ctx)
	features, err := r.services.DetectFeatures(callCtx, req.Image)
	cancel()
	if err != nil {
		if garment.IsKind(err, garment.KindNotConfigured) {
			return garment.UnknownFeatures, err
		}
		log.Warn().Err(err).Str("sessionId", s.ID()).Msg("Feature detection failed, using unknown features")
		features = garment.UnknownFeatures
	}

	if err := s.CompleteFeatures(req, features); err != nil {
		return features, err
	}
	r.Commit(ctx, s)
	return features, nil
}

// DescribeChanges summarizes how a gallery item differs from its original.
// Remote failures yield a fixed message instead of an error.
func (r *Runner) DescribeChanges(ctx context.Context, s *Session, itemID string) (string, error) {
	item, err := s.Item(itemID)
	if err != nil {
		return "", err
	}
	if item.OriginalImage.Empty() {
		return "", garment.Errorf(garment.KindValidation, "describe_changes", "gallery item has no original image")
	}

	callCtx, cancel := r.callContext(ctx)
	defer cancel()
	text, err := r.services.DescribeChanges(callCtx, item.OriginalImage, item.ModifiedImage)
	if err != nil {
		if garment.IsKind(err, garment.KindNotConfigured) {
			return "", err
		}
		log.Warn().Err(err).Str("sessionId", s.ID()).Str("itemId", itemID).Msg("Comparison analysis failed")
		return "Analysis failed.", nil
	}
	return text, nil
}
