// Package respond centralizes how the HTTP API writes JSON responses and
// error bodies, so every handler reports failures the same way.
package respond

import (
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog/log"
)

type errorBody struct {
	Error string `json:"error"`
}

// JSON writes v as a JSON body with the given status code.
func JSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("failed to encode response body")
	}
}

// Error writes a JSON error body with the given status code.
func Error(w http.ResponseWriter, status int, msg string) {
	JSON(w, status, errorBody{Error: msg})
}

// BadRequest writes a 400 with msg as the error text.
func BadRequest(w http.ResponseWriter, msg string) { Error(w, http.StatusBadRequest, msg) }

// NotFound writes a 404 with msg as the error text.
func NotFound(w http.ResponseWriter, msg string) { Error(w, http.StatusNotFound, msg) }

// InternalError writes a 500. The underlying error is logged but never
// echoed to the client.
func InternalError(w http.ResponseWriter, err error) {
	log.Error().Err(err).Msg("internal error handling request")
	Error(w, http.StatusInternalServerError, "internal error")
}
