package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/amaumene/gostreamd/internal/models"
	"github.com/sirupsen/logrus"
)

// ProgressHandler stores and serves resume positions
type ProgressHandler struct {
	db     *models.Database
	logger *logrus.Logger
}

// NewProgressHandler creates a new progress handler
func NewProgressHandler(db *models.Database, logger *logrus.Logger) *ProgressHandler {
	return &ProgressHandler{
		db:     db,
		logger: logger,
	}
}

// Get handles GET /progress/{titleId}
func (h *ProgressHandler) Get(w http.ResponseWriter, r *http.Request) {
	titleID := r.PathValue("titleId")

	progress, err := h.db.GetProgress(titleID)
	if err != nil {
		if models.IsNotFound(err) {
			writeError(w, http.StatusNotFound, "no progress recorded")
			return
		}
		h.logger.WithError(err).Error("Failed to load progress")
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	writeJSON(w, http.StatusOK, progress)
}

// progressUpdate is the PUT /progress/{titleId} request body
type progressUpdate struct {
	PositionSeconds int `json:"position_seconds"`
	DurationSeconds int `json:"duration_seconds"`
}

// Put handles PUT /progress/{titleId}
func (h *ProgressHandler) Put(w http.ResponseWriter, r *http.Request) {
	titleID := r.PathValue("titleId")

	var update progressUpdate
	if err := json.NewDecoder(r.Body).Decode(&update); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if update.PositionSeconds < 0 || update.DurationSeconds < 0 ||
		(update.DurationSeconds > 0 && update.PositionSeconds > update.DurationSeconds) {
		writeError(w, http.StatusBadRequest, "position out of range")
		return
	}

	progress := &models.WatchProgress{
		TitleID:         titleID,
		PositionSeconds: update.PositionSeconds,
		DurationSeconds: update.DurationSeconds,
	}
	if err := h.db.SaveProgress(progress); err != nil {
		h.logger.WithError(err).Error("Failed to save progress")
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	writeJSON(w, http.StatusOK, progress)
}

// ContinueWatching handles GET /continue-watching
func (h *ProgressHandler) ContinueWatching(w http.ResponseWriter, r *http.Request) {
	items, err := h.db.ListContinueWatching()
	if err != nil {
		h.logger.WithError(err).Error("Failed to list continue-watching")
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	if items == nil {
		items = []*models.WatchProgress{}
	}
	writeJSON(w, http.StatusOK, items)
}
