package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/fpang/garment-studio/internal/garment"
	"github.com/rs/zerolog/log"
)

// maxBodyBytes bounds request bodies. Images arrive base64 encoded, so this
// leaves room for a full-size upload plus a reference image.
const maxBodyBytes = 64 << 20

// --- JSON Helpers ---

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Warn().Err(err).Msg("Failed to write JSON response")
	}
}

// errorBody is the JSON shape of every error response.
type errorBody struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
}

// httpError sends a JSON error response. The clientMsg is returned to the caller.
// Optional internalDetails are logged server-side but never sent to the client.
func httpError(w http.ResponseWriter, status int, clientMsg string, internalDetails ...string) {
	if len(internalDetails) > 0 {
		log.Error().
			Int("status", status).
			Str("clientMsg", clientMsg).
			Strs("internalDetails", internalDetails).
			Msg("HTTP error with internal details")
	}
	respondJSON(w, status, errorBody{Error: clientMsg})
}

// statusFor maps an error kind to an HTTP status.
func statusFor(kind garment.Kind) int {
	switch kind {
	case garment.KindValidation:
		return http.StatusBadRequest
	case garment.KindNotFound:
		return http.StatusNotFound
	case garment.KindSelectionLimit, garment.KindStale:
		return http.StatusConflict
	case garment.KindNotConfigured:
		return http.StatusPreconditionFailed
	case garment.KindAnalysis, garment.KindBackgroundRemoval, garment.KindSuggestion, garment.KindGeneration:
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

// respondError writes err using its kind. Typed errors carry a message that
// is safe to show; anything else is logged and reported generically.
func respondError(w http.ResponseWriter, r *http.Request, err error) {
	var gerr *garment.Error
	if !errors.As(err, &gerr) {
		httpError(w, http.StatusInternalServerError, "internal error", r.Method+" "+r.URL.Path, err.Error())
		return
	}
	status := statusFor(gerr.Kind)
	if status >= http.StatusInternalServerError {
		log.Warn().Err(err).Str("path", r.URL.Path).Int("status", status).Msg("Request failed")
	}
	respondJSON(w, status, errorBody{Error: gerr.Message, Kind: gerr.Kind.String()})
}

// decodeJSON reads a JSON body into v. An empty body leaves v untouched.
func decodeJSON(r *http.Request, v interface{}) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return garment.Wrap(garment.KindValidation, "decode", fmt.Sprintf("invalid request body: %v", err), err)
	}
	return nil
}
