package workflow

import (
	"time"

	"github.com/fpang/garment-studio/internal/gallery"
	"github.com/fpang/garment-studio/internal/garment"
)

// Flags are the user-visible in-flight indicators.
type Flags struct {
	Analyzing            bool `json:"analyzing"`
	Generating           bool `json:"generating"`
	ProcessingBackground bool `json:"processingBackground"`
	FetchingSuggestions  bool `json:"fetchingSuggestions"`
	Reanalyzing          bool `json:"reanalyzing"`
}

// DialogView is the state of the modification dialog.
type DialogView struct {
	Open    bool                         `json:"open"`
	Key     string                       `json:"key,omitempty"`
	Options []garment.ModificationOption `json:"options,omitempty"`
	Cached  bool                         `json:"cached,omitempty"`
}

// BackgroundView is the state of the flat-lay sub-flow.
type BackgroundView struct {
	Selecting bool `json:"selecting"`
	Retry     bool `json:"retry"`
}

// Snapshot is a point-in-time copy of a session. Images and gallery items
// are shared, not copied; both are immutable once created.
type Snapshot struct {
	ID              string                   `json:"id"`
	Step            Step                     `json:"step"`
	Epoch           uint64                   `json:"epoch"`
	CacheGeneration int                      `json:"cacheGeneration"`
	RawUpload       *garment.Image           `json:"-"`
	WorkingImage    *garment.Image           `json:"-"`
	CurrentImage    *garment.Image           `json:"-"`
	CurrentItemID   string                   `json:"currentItemId,omitempty"`
	Market          garment.MarketSettings   `json:"market"`
	Analysis        *garment.AnalysisResult  `json:"analysis,omitempty"`
	Features        *garment.GarmentFeatures `json:"features,omitempty"`
	Selected        []garment.Attribute      `json:"selectedAttributes"`
	CompareMode     bool                     `json:"compareMode"`
	CompareIDs      []string                 `json:"compareIds"`
	DetailID        string                   `json:"detailId,omitempty"`
	Dialog          DialogView               `json:"dialog"`
	Background      BackgroundView           `json:"background"`
	Flags           Flags                    `json:"flags"`
	Notice          *Notice                  `json:"notice,omitempty"`
	Gallery         []*garment.GalleryItem   `json:"-"`
	UpdatedAt       time.Time                `json:"updatedAt"`
}

// Snapshot copies the session state.
func (s *Session) Snapshot() *Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := &Snapshot{
		ID:              s.id,
		Step:            s.step,
		Epoch:           s.epoch,
		CacheGeneration: s.cacheGen,
		RawUpload:       s.rawUpload,
		WorkingImage:    s.working,
		CurrentImage:    s.current,
		CurrentItemID:   s.currentID,
		Market:          s.market,
		Analysis:        s.analysis,
		Selected:        s.attrs.Items(),
		CompareMode:     s.compare.Enabled(),
		CompareIDs:      s.compare.IDs(),
		DetailID:        s.detailID,
		Dialog: DialogView{
			Open:    s.dialog.open,
			Key:     s.dialog.key,
			Options: append([]garment.ModificationOption(nil), s.dialog.options...),
			Cached:  s.dialog.cached,
		},
		Background: BackgroundView{Selecting: s.bg.selecting, Retry: s.bg.retry},
		Flags: Flags{
			Analyzing:            s.flights.analyzing > 0,
			Generating:           s.flights.generating > 0,
			ProcessingBackground: s.flights.background > 0,
			FetchingSuggestions:  s.flights.suggestions > 0,
			Reanalyzing:          s.flights.reanalyzing > 0,
		},
		Gallery:   s.gallery.Items(),
		UpdatedAt: s.updatedAt,
	}
	if s.features != nil {
		f := *s.features
		snap.Features = &f
	}
	if s.notice != nil {
		n := *s.notice
		snap.Notice = &n
	}
	return snap
}

// Restore rebuilds a session from a snapshot. In-flight flags are not
// restored: calls issued by another process cannot complete here. The epoch
// is advanced so any such result is treated as stale.
func Restore(snap *Snapshot, clock gallery.Clock) *Session {
	s := NewSession(snap.ID, clock)

	s.step = snap.Step
	if s.step < StepIntake || s.step > StepWorkspace {
		s.step = StepIntake
	}
	s.epoch = snap.Epoch + 1
	s.cacheGen = snap.CacheGeneration
	s.rawUpload = snap.RawUpload
	s.working = snap.WorkingImage
	s.current = snap.CurrentImage
	s.currentID = snap.CurrentItemID
	s.market = snap.Market
	s.analysis = snap.Analysis
	if snap.Features != nil {
		f := *snap.Features
		s.features = &f
	}
	s.gallery = gallery.NewFrom(snap.Gallery)

	if s.analysis != nil {
		var valid []garment.Attribute
		for _, attr := range snap.Selected {
			if _, ok := s.analysis.Attribute(attr.Name); ok {
				valid = append(valid, attr)
			}
		}
		s.attrs.Restore(valid)
	}

	var ids []string
	for _, id := range snap.CompareIDs {
		if _, ok := s.gallery.Get(id); ok {
			ids = append(ids, id)
		}
	}
	s.compare.Restore(snap.CompareMode, ids)

	if _, ok := s.gallery.Get(snap.DetailID); ok {
		s.detailID = snap.DetailID
	}
	if snap.Dialog.Open {
		s.dialog = dialogState{
			open:    true,
			key:     snap.Dialog.Key,
			options: snap.Dialog.Options,
			cached:  snap.Dialog.Cached,
		}
	}
	s.bg = backgroundState{selecting: snap.Background.Selecting, retry: snap.Background.Retry}
	if snap.Notice != nil {
		n := *snap.Notice
		s.notice = &n
	}
	if !snap.UpdatedAt.IsZero() {
		s.updatedAt = snap.UpdatedAt
	}
	return s
}
