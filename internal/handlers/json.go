package handlers

import (
	"net/http"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
)

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any, log zerolog.Logger) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("Error encoding JSON response")
	}
}

func writeError(w http.ResponseWriter, status int, msg string, log zerolog.Logger) {
	writeJSON(w, status, errorResponse{Error: msg}, log)
}
