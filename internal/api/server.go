// Package api exposes studio sessions over JSON HTTP.
//
// Endpoints (all under /api unless noted):
//
//	GET    /healthz                                  liveness (no auth)
//	POST   /config/key                               establish the Gemini credential
//	POST   /sessions                                 create a session
//	GET    /sessions/{id}                            session view
//	DELETE /sessions/{id}                            drop a session
//	POST   /sessions/{id}/reset                      back to intake, gallery kept
//	POST   /sessions/{id}/upload                     replace the image
//	POST   /sessions/{id}/background                 flat-lay conversion (async)
//	DELETE /sessions/{id}/background                 leave target selection
//	POST   /sessions/{id}/confirm                    intake to market setup
//	PUT    /sessions/{id}/market                     set market settings
//	POST   /sessions/{id}/analysis                   analyze (async)
//	POST   /sessions/{id}/back                       workspace to market setup
//	POST   /sessions/{id}/resume                     market setup to workspace
//	POST   /sessions/{id}/attributes/{name}/toggle   toggle an attribute
//	DELETE /sessions/{id}/attributes                 clear the selection
//	POST   /sessions/{id}/dialog                     open the modification dialog
//	DELETE /sessions/{id}/dialog                     close it
//	POST   /sessions/{id}/suggestions                fetch suggestions
//	POST   /sessions/{id}/generate                   single generation (async)
//	POST   /sessions/{id}/generate/batch             batch generation (async)
//	POST   /sessions/{id}/model-shot                 model try-on (async)
//	POST   /sessions/{id}/features                   detect garment features
//	GET    /sessions/{id}/gallery/{itemId}           gallery item
//	DELETE /sessions/{id}/gallery/{itemId}           delete a gallery item
//	POST   /sessions/{id}/gallery/{itemId}/continue  continue editing (async)
//	GET    /sessions/{id}/gallery/{itemId}/changes   comparison commentary
//	POST   /sessions/{id}/detail/{itemId}            open the detail view
//	POST   /sessions/{id}/detail/current             open the current result
//	DELETE /sessions/{id}/detail                     close the detail view
//	POST   /sessions/{id}/compare/mode               toggle compare mode
//	POST   /sessions/{id}/compare/{itemId}           toggle an item in the compare set
//	GET    /sessions/{id}/compare                    compared items
//
// Async endpoints answer 202 with the session view; clients poll the
// session until the corresponding flag clears.
package api

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog/log"

	"github.com/fpang/garment-studio/internal/workflow"
)

// KeyConfigurer establishes the remote credential.
type KeyConfigurer interface {
	Configure(ctx context.Context, apiKey, baseURL string) error
	Configured() bool
}

// Options configures the router.
type Options struct {
	AllowedOrigins     []string
	OriginVerifySecret string
}

// Server serves the studio API over a session registry.
type Server struct {
	registry *workflow.Registry
	runner   *workflow.Runner
	keys     KeyConfigurer
	opts     Options
}

// NewServer creates a Server.
func NewServer(registry *workflow.Registry, keys KeyConfigurer, opts Options) *Server {
	return &Server{
		registry: registry,
		runner:   registry.Runner(),
		keys:     keys,
		opts:     opts,
	}
}

func (s *Server) allowedOrigins() []string {
	if len(s.opts.AllowedOrigins) == 0 {
		return []string{"*"}
	}
	return s.opts.AllowedOrigins
}

// Router builds the HTTP handler.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, middleware.Recoverer)
	r.Use(withRequestLog)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.allowedOrigins(),
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", "x-origin-verify"},
		MaxAge:         300,
	}))
	r.Use(withOriginVerify(s.opts.OriginVerifySecret))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		respondJSON(w, http.StatusOK, map[string]interface{}{
			"status":     "ok",
			"configured": s.keys.Configured(),
		})
	})

	r.Route("/api", func(api chi.Router) {
		api.Post("/config/key", s.wrap(s.handleConfigureKey))
		api.Post("/sessions", s.wrap(s.handleCreateSession))

		api.Route("/sessions/{id}", func(sr chi.Router) {
			sr.Get("/", s.withSession(s.handleGetSession))
			sr.Delete("/", s.wrap(s.handleDeleteSession))
			sr.Post("/reset", s.withSession(s.handleReset))

			sr.Post("/upload", s.withSession(s.handleUpload))
			sr.Post("/background", s.withSession(s.handleBackground))
			sr.Delete("/background", s.withSession(s.handleCancelBackground))
			sr.Post("/confirm", s.withSession(s.handleConfirm))
			sr.Put("/market", s.withSession(s.handleMarket))
			sr.Post("/analysis", s.withSession(s.handleAnalysis))
			sr.Post("/back", s.withSession(s.handleBack))
			sr.Post("/resume", s.withSession(s.handleResume))

			sr.Post("/attributes/{name}/toggle", s.withSession(s.handleToggleAttribute))
			sr.Delete("/attributes", s.withSession(s.handleClearSelection))

			sr.Post("/dialog", s.withSession(s.handleOpenDialog))
			sr.Delete("/dialog", s.withSession(s.handleCloseDialog))
			sr.Post("/suggestions", s.withSession(s.handleSuggestions))

			sr.Post("/generate", s.withSession(s.handleGenerate))
			sr.Post("/generate/batch", s.withSession(s.handleBatch))
			sr.Post("/model-shot", s.withSession(s.handleModelShot))
			sr.Post("/features", s.withSession(s.handleFeatures))

			sr.Get("/gallery/{itemId}", s.withSession(s.handleGetItem))
			sr.Delete("/gallery/{itemId}", s.withSession(s.handleDeleteItem))
			sr.Post("/gallery/{itemId}/continue", s.withSession(s.handleContinue))
			sr.Get("/gallery/{itemId}/changes", s.withSession(s.handleChanges))

			sr.Post("/detail/current", s.withSession(s.handleOpenCurrent))
			sr.Post("/detail/{itemId}", s.withSession(s.handleOpenDetail))
			sr.Delete("/detail", s.withSession(s.handleCloseDetail))

			sr.Post("/compare/mode", s.withSession(s.handleCompareMode))
			sr.Post("/compare/{itemId}", s.withSession(s.handleToggleCompare))
			sr.Get("/compare", s.withSession(s.handleCompared))
		})
	})

	log.Debug().Strs("allowedOrigins", s.allowedOrigins()).Bool("originVerify", s.opts.OriginVerifySecret != "").Msg("API router built")
	return r
}

type handlerFunc func(http.ResponseWriter, *http.Request) error

type sessionHandlerFunc func(http.ResponseWriter, *http.Request, *workflow.Session) error

func (s *Server) wrap(h handlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := h(w, r); err != nil {
			respondError(w, r, err)
		}
	}
}

// withSession resolves {id} before calling h.
func (s *Server) withSession(h sessionHandlerFunc) http.HandlerFunc {
	return s.wrap(func(w http.ResponseWriter, r *http.Request) error {
		sess, err := s.registry.Get(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			return err
		}
		return h(w, r, sess)
	})
}

// respondSession commits the session and writes its view.
func (s *Server) respondSession(w http.ResponseWriter, r *http.Request, sess *workflow.Session, status int) error {
	s.runner.Commit(r.Context(), sess)
	respondJSON(w, status, newSessionView(sess.Snapshot()))
	return nil
}
