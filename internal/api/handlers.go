package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/fpang/garment-studio/internal/garment"
	"github.com/fpang/garment-studio/internal/imageutil"
	"github.com/fpang/garment-studio/internal/modelshot"
	"github.com/fpang/garment-studio/internal/workflow"
)

// view writes the session view without committing. Async starts have
// already committed inside the runner.
func view(w http.ResponseWriter, sess *workflow.Session, status int) error {
	respondJSON(w, status, newSessionView(sess.Snapshot()))
	return nil
}

// optionalImage decodes a data URL field. An empty field is nil.
func optionalImage(field, dataURL string) (*garment.Image, error) {
	if dataURL == "" {
		return nil, nil
	}
	img, err := garment.ParseDataURL(dataURL)
	if err != nil {
		return nil, garment.Wrap(garment.KindValidation, field, "invalid "+field+" image", err)
	}
	return img, nil
}

// --- Credential ---

type configureKeyRequest struct {
	APIKey  string `json:"apiKey"`
	BaseURL string `json:"baseUrl"`
}

func (s *Server) handleConfigureKey(w http.ResponseWriter, r *http.Request) error {
	var req configureKeyRequest
	if err := decodeJSON(r, &req); err != nil {
		return err
	}
	if err := s.keys.Configure(r.Context(), req.APIKey, req.BaseURL); err != nil {
		return err
	}
	// A new credential starts every session over.
	s.registry.ResetAll(r.Context())
	respondJSON(w, http.StatusOK, map[string]bool{"configured": true})
	return nil
}

// --- Session lifecycle ---

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) error {
	sess := s.registry.Create(r.Context())
	return view(w, sess, http.StatusCreated)
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request, sess *workflow.Session) error {
	return view(w, sess, http.StatusOK)
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) error {
	if err := s.registry.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		return err
	}
	w.WriteHeader(http.StatusNoContent)
	return nil
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request, sess *workflow.Session) error {
	s.runner.Reset(r.Context(), sess)
	return view(w, sess, http.StatusOK)
}

// --- Intake ---

type uploadRequest struct {
	Image string `json:"image"`
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request, sess *workflow.Session) error {
	var req uploadRequest
	if err := decodeJSON(r, &req); err != nil {
		return err
	}
	in, err := imageutil.PrepareDataURL(req.Image)
	if err != nil {
		return err
	}
	if err := s.runner.Upload(r.Context(), sess, in.Image); err != nil {
		return err
	}
	log.Info().
		Str("sessionId", sess.ID()).
		Str("mimeType", in.Image.MIMEType).
		Int("width", in.Width).
		Int("height", in.Height).
		Bool("downscaled", in.Downscaled).
		Str("camera", in.Provenance.CameraMake+" "+in.Provenance.CameraModel).
		Msg("Image uploaded")
	return view(w, sess, http.StatusOK)
}

type backgroundRequest struct {
	Target      string `json:"target"`
	Instruction string `json:"instruction"`
	Retry       bool   `json:"retry"`
}

func (s *Server) handleBackground(w http.ResponseWriter, r *http.Request, sess *workflow.Session) error {
	var req backgroundRequest
	if err := decodeJSON(r, &req); err != nil {
		return err
	}
	if err := sess.BeginBackgroundTargetSelection(req.Retry); err != nil {
		return err
	}
	if err := s.runner.StartBackground(r.Context(), sess, req.Target, req.Instruction); err != nil {
		sess.CancelBackgroundTargetSelection()
		return err
	}
	return view(w, sess, http.StatusAccepted)
}

func (s *Server) handleCancelBackground(w http.ResponseWriter, r *http.Request, sess *workflow.Session) error {
	sess.CancelBackgroundTargetSelection()
	return s.respondSession(w, r, sess, http.StatusOK)
}

func (s *Server) handleConfirm(w http.ResponseWriter, r *http.Request, sess *workflow.Session) error {
	if err := sess.ConfirmImage(); err != nil {
		return err
	}
	return s.respondSession(w, r, sess, http.StatusOK)
}

func (s *Server) handleMarket(w http.ResponseWriter, r *http.Request, sess *workflow.Session) error {
	var m garment.MarketSettings
	if err := decodeJSON(r, &m); err != nil {
		return err
	}
	if err := sess.SetMarket(m); err != nil {
		return err
	}
	return s.respondSession(w, r, sess, http.StatusOK)
}

// --- Analysis ---

func (s *Server) handleAnalysis(w http.ResponseWriter, r *http.Request, sess *workflow.Session) error {
	if err := s.runner.StartAnalysis(r.Context(), sess); err != nil {
		return err
	}
	return view(w, sess, http.StatusAccepted)
}

func (s *Server) handleBack(w http.ResponseWriter, r *http.Request, sess *workflow.Session) error {
	if err := sess.Back(); err != nil {
		return err
	}
	return s.respondSession(w, r, sess, http.StatusOK)
}

func (s *Server) handleResume(w http.ResponseWriter, r *http.Request, sess *workflow.Session) error {
	if err := sess.Resume(); err != nil {
		return err
	}
	return s.respondSession(w, r, sess, http.StatusOK)
}

// --- Selection ---

func (s *Server) handleToggleAttribute(w http.ResponseWriter, r *http.Request, sess *workflow.Session) error {
	if _, err := sess.ToggleAttribute(chi.URLParam(r, "name")); err != nil {
		return err
	}
	return s.respondSession(w, r, sess, http.StatusOK)
}

func (s *Server) handleClearSelection(w http.ResponseWriter, r *http.Request, sess *workflow.Session) error {
	sess.ClearSelection()
	return s.respondSession(w, r, sess, http.StatusOK)
}

// --- Dialog and suggestions ---

func (s *Server) handleOpenDialog(w http.ResponseWriter, r *http.Request, sess *workflow.Session) error {
	dialog, err := s.runner.OpenDialog(r.Context(), sess)
	if err != nil {
		return err
	}
	respondJSON(w, http.StatusOK, dialog)
	return nil
}

func (s *Server) handleCloseDialog(w http.ResponseWriter, r *http.Request, sess *workflow.Session) error {
	sess.CloseDialog()
	return s.respondSession(w, r, sess, http.StatusOK)
}

type suggestionsRequest struct {
	Guidance string `json:"guidance"`
	Retry    bool   `json:"retry"`
}

func (s *Server) handleSuggestions(w http.ResponseWriter, r *http.Request, sess *workflow.Session) error {
	var req suggestionsRequest
	if err := decodeJSON(r, &req); err != nil {
		return err
	}
	dialog, err := s.runner.FetchSuggestions(r.Context(), sess, req.Guidance, req.Retry)
	if err != nil {
		return err
	}
	respondJSON(w, http.StatusOK, dialog)
	return nil
}

// --- Generation ---

type generateRequest struct {
	Prompt         string                   `json:"prompt"`
	Title          string                   `json:"title"`
	Value          string                   `json:"value"`
	Kind           garment.ModificationKind `json:"kind"`
	ReferenceImage string                   `json:"referenceImage"`
}

func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request, sess *workflow.Session) error {
	var req generateRequest
	if err := decodeJSON(r, &req); err != nil {
		return err
	}
	ref, err := optionalImage("reference", req.ReferenceImage)
	if err != nil {
		return err
	}
	in := workflow.GenerateInput{
		Prompt:    req.Prompt,
		Title:     req.Title,
		Value:     req.Value,
		Reference: ref,
		Kind:      req.Kind,
	}
	if err := s.runner.StartGenerate(r.Context(), sess, in); err != nil {
		return err
	}
	return view(w, sess, http.StatusAccepted)
}

type batchRequest struct {
	Items []workflow.BatchSelection `json:"items"`
}

func (s *Server) handleBatch(w http.ResponseWriter, r *http.Request, sess *workflow.Session) error {
	var req batchRequest
	if err := decodeJSON(r, &req); err != nil {
		return err
	}
	if err := s.runner.StartBatch(r.Context(), sess, req.Items); err != nil {
		return err
	}
	return view(w, sess, http.StatusAccepted)
}

type modelShotRequest struct {
	SourceID       string            `json:"sourceId"`
	Options        modelshot.Options `json:"options"`
	ReferenceImage string            `json:"referenceImage"`
}

func (s *Server) handleModelShot(w http.ResponseWriter, r *http.Request, sess *workflow.Session) error {
	var req modelShotRequest
	if err := decodeJSON(r, &req); err != nil {
		return err
	}
	ref, err := optionalImage("reference", req.ReferenceImage)
	if err != nil {
		return err
	}
	in := workflow.ModelShotInput{SourceID: req.SourceID, Options: req.Options, Reference: ref}
	if err := s.runner.StartModelShot(r.Context(), sess, in); err != nil {
		return err
	}
	return view(w, sess, http.StatusAccepted)
}

func (s *Server) handleFeatures(w http.ResponseWriter, r *http.Request, sess *workflow.Session) error {
	features, err := s.runner.DetectFeatures(r.Context(), sess)
	if err != nil {
		return err
	}
	respondJSON(w, http.StatusOK, features)
	return nil
}

// --- Gallery ---

func (s *Server) handleGetItem(w http.ResponseWriter, r *http.Request, sess *workflow.Session) error {
	item, err := sess.Item(chi.URLParam(r, "itemId"))
	if err != nil {
		return err
	}
	respondJSON(w, http.StatusOK, newItemView(item))
	return nil
}

func (s *Server) handleDeleteItem(w http.ResponseWriter, r *http.Request, sess *workflow.Session) error {
	if err := sess.DeleteItem(chi.URLParam(r, "itemId")); err != nil {
		return err
	}
	return s.respondSession(w, r, sess, http.StatusOK)
}

func (s *Server) handleContinue(w http.ResponseWriter, r *http.Request, sess *workflow.Session) error {
	if err := s.runner.ContinueEditing(r.Context(), sess, chi.URLParam(r, "itemId")); err != nil {
		return err
	}
	return view(w, sess, http.StatusAccepted)
}

func (s *Server) handleChanges(w http.ResponseWriter, r *http.Request, sess *workflow.Session) error {
	text, err := s.runner.DescribeChanges(r.Context(), sess, chi.URLParam(r, "itemId"))
	if err != nil {
		return err
	}
	respondJSON(w, http.StatusOK, map[string]string{"description": text})
	return nil
}

// --- Detail view ---

func (s *Server) handleOpenDetail(w http.ResponseWriter, r *http.Request, sess *workflow.Session) error {
	if err := sess.OpenDetail(chi.URLParam(r, "itemId")); err != nil {
		return err
	}
	return s.respondSession(w, r, sess, http.StatusOK)
}

func (s *Server) handleOpenCurrent(w http.ResponseWriter, r *http.Request, sess *workflow.Session) error {
	if _, err := sess.OpenCurrent(); err != nil {
		return err
	}
	return s.respondSession(w, r, sess, http.StatusOK)
}

func (s *Server) handleCloseDetail(w http.ResponseWriter, r *http.Request, sess *workflow.Session) error {
	sess.CloseDetail()
	return s.respondSession(w, r, sess, http.StatusOK)
}

// --- Compare ---

func (s *Server) handleCompareMode(w http.ResponseWriter, r *http.Request, sess *workflow.Session) error {
	sess.ToggleCompareMode()
	return s.respondSession(w, r, sess, http.StatusOK)
}

func (s *Server) handleToggleCompare(w http.ResponseWriter, r *http.Request, sess *workflow.Session) error {
	if _, err := sess.ToggleCompare(chi.URLParam(r, "itemId")); err != nil {
		return err
	}
	return s.respondSession(w, r, sess, http.StatusOK)
}

func (s *Server) handleCompared(w http.ResponseWriter, r *http.Request, sess *workflow.Session) error {
	items, err := sess.ComparedItems()
	if err != nil {
		return err
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"items": newItemViews(items)})
	return nil
}
