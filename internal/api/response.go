// Package api serves the daemon's REST and WebSocket surface.
package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/apexhq/apex/internal/aerrors"
)

// apiError is the JSON error envelope.
type apiError struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// writeError maps structured errors to their HTTP status; anything else
// is a 500.
func writeError(w http.ResponseWriter, err error) {
	var ae *aerrors.Error
	if errors.As(err, &ae) {
		writeJSON(w, ae.HTTPStatus(), apiError{Error: ae.What, Code: string(ae.Code)})
		return
	}
	writeJSON(w, http.StatusInternalServerError, apiError{Error: err.Error()})
}

func writeBadRequest(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusBadRequest, apiError{Error: msg})
}
