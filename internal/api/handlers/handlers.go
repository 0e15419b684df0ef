package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/amaumene/gostreamd/internal/models"
)

// writeJSON encodes v as the JSON response body
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error body
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// writeTaxonomyError maps a delivery pipeline error onto its HTTP status
func writeTaxonomyError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, models.ErrNotFound):
		writeError(w, http.StatusNotFound, "title not found")
	case errors.Is(err, models.ErrNoVariantsAvailable):
		writeError(w, http.StatusNotFound, "no variants available")
	case errors.Is(err, models.ErrInvalidVariant):
		writeError(w, http.StatusNotFound, "unknown quality variant")
	case errors.Is(err, models.ErrSegmentNotFound):
		writeError(w, http.StatusNotFound, "segment not found")
	case errors.Is(err, models.ErrUpstreamTimeout):
		writeError(w, http.StatusGatewayTimeout, "origin timeout")
	case errors.Is(err, models.ErrUpstreamUnavailable):
		writeError(w, http.StatusBadGateway, "origin unavailable")
	case errors.Is(err, models.ErrGrantExpired):
		writeError(w, http.StatusGone, "download grant expired")
	case errors.Is(err, models.ErrGrantInvalidSignature):
		writeError(w, http.StatusForbidden, "download grant invalid")
	default:
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}
