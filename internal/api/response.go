package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/mkarlsen/sendlater/internal/storage"
)

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: message})
}

// writeStorageError maps the storage sentinels onto HTTP statuses so
// handlers stay free of error-inspection boilerplate.
func writeStorageError(w http.ResponseWriter, err error, fallback string) {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		writeError(w, http.StatusNotFound, "message not found")
	case errors.Is(err, storage.ErrCancelled):
		writeError(w, http.StatusConflict, "message is cancelled")
	case errors.Is(err, storage.ErrTerminal):
		writeError(w, http.StatusConflict, "message is in a terminal state")
	case errors.Is(err, storage.ErrClaimLost):
		writeError(w, http.StatusConflict, "message is currently being processed")
	default:
		writeError(w, http.StatusInternalServerError, fallback)
	}
}
