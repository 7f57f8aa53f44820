// Package handlers provides HTTP handlers for the fulfillment API.
package handlers

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"github.com/medrova/go-fulfillment/internal/errs"
)

type errorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
}

func respondJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		json.NewEncoder(w).Encode(v)
	}
}

// respondError maps the error taxonomy to HTTP status codes. Unclassified
// errors become a 500 with the detail kept out of the response body.
func respondError(w http.ResponseWriter, logger *zap.Logger, err error) {
	kind := errs.KindOf(err)

	var status int
	switch kind {
	case errs.KindNotFound:
		status = http.StatusNotFound
	case errs.KindForbidden:
		status = http.StatusForbidden
	case errs.KindInvalidState:
		status = http.StatusUnprocessableEntity
	case errs.KindConflict:
		status = http.StatusConflict
	default:
		status = http.StatusInternalServerError
	}

	if status == http.StatusInternalServerError {
		if logger != nil {
			logger.Error("internal error", zap.Error(err))
		}
		respondJSON(w, status, errorResponse{Error: "internal server error"})
		return
	}
	respondJSON(w, status, errorResponse{Error: err.Error(), Kind: kind.String()})
}

func badRequest(w http.ResponseWriter, msg string) {
	respondJSON(w, http.StatusBadRequest, errorResponse{Error: msg})
}

func decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		badRequest(w, "invalid request body")
		return false
	}
	return true
}
