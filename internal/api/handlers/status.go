package handlers

import (
	"net/http"
	"time"

	"github.com/amaumene/gostreamd/internal/models"
	"github.com/amaumene/gostreamd/internal/services/origin"
	"github.com/sirupsen/logrus"
)

// StatusHandler reports pipeline state for operators
type StatusHandler struct {
	origin  *origin.Client
	db      *models.Database
	started time.Time
	logger  *logrus.Logger
}

// NewStatusHandler creates a new status handler
func NewStatusHandler(originClient *origin.Client, db *models.Database, logger *logrus.Logger) *StatusHandler {
	return &StatusHandler{
		origin:  originClient,
		db:      db,
		started: time.Now(),
		logger:  logger,
	}
}

// StatusResponse represents the status response
type StatusResponse struct {
	UptimeSeconds   int64  `json:"uptime_seconds"`
	OriginHealthy   bool   `json:"origin_healthy"`
	OriginLastProbe string `json:"origin_last_probe,omitempty"`
	InProgress      int    `json:"titles_in_progress"`
}

// ServeHTTP handles the status endpoint
func (h *StatusHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	healthy, lastProbe := h.origin.Healthy()

	response := StatusResponse{
		UptimeSeconds: int64(time.Since(h.started).Seconds()),
		OriginHealthy: healthy,
	}
	if !lastProbe.IsZero() {
		response.OriginLastProbe = lastProbe.UTC().Format(time.RFC3339)
	}

	items, err := h.db.ListContinueWatching()
	if err != nil {
		h.logger.WithError(err).Error("Failed to count in-progress titles")
	} else {
		response.InProgress = len(items)
	}

	writeJSON(w, http.StatusOK, response)
}
