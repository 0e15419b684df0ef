package handlers

import (
	"fmt"
	"net/http"
	"regexp"

	"github.com/amaumene/gostreamd/internal/config"
	"github.com/amaumene/gostreamd/internal/grant"
	"github.com/amaumene/gostreamd/internal/metrics"
	"github.com/amaumene/gostreamd/internal/models"
	"github.com/amaumene/gostreamd/internal/services/catalog"
	"github.com/sirupsen/logrus"
)

// filenameSanitizeRE strips anything that doesn't belong in a download
// filename derived from catalog metadata.
var filenameSanitizeRE = regexp.MustCompile(`[^a-zA-Z0-9_.-]`)

// DownloadHandler redirects to signed, time-limited origin download URLs
type DownloadHandler struct {
	issuer    *grant.Issuer
	catalog   *catalog.Client
	cfg       *config.Config
	collector *metrics.Collector
	logger    *logrus.Logger
}

// NewDownloadHandler creates a new download handler
func NewDownloadHandler(issuer *grant.Issuer, catalogClient *catalog.Client, cfg *config.Config, collector *metrics.Collector, logger *logrus.Logger) *DownloadHandler {
	return &DownloadHandler{
		issuer:    issuer,
		catalog:   catalogClient,
		cfg:       cfg,
		collector: collector,
		logger:    logger,
	}
}

// ServeHTTP handles GET /download/{titleId}?quality=
func (h *DownloadHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	titleID := r.PathValue("titleId")

	quality := models.QualityLabel(r.URL.Query().Get("quality"))
	if quality == "" {
		quality = models.Quality720p
	}
	if _, ok := models.VariantFor(quality); !ok {
		writeError(w, http.StatusNotFound, "unknown quality variant")
		return
	}

	title, err := h.catalog.GetTitle(r.Context(), titleID)
	if err != nil {
		writeTaxonomyError(w, err)
		return
	}
	if !hasQuality(title, quality) {
		writeError(w, http.StatusNotFound, "quality not available for this title")
		return
	}

	g := h.issuer.Issue(titleID, quality, h.cfg.DownloadTTL)
	h.collector.GrantsIssued.WithLabelValues(string(quality)).Inc()

	filename := SanitizeFilename(fmt.Sprintf("%s_%s.mp4", title.Name, quality))
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))

	h.logger.WithFields(logrus.Fields{
		"title_id": titleID,
		"quality":  quality,
		"expires":  g.Expiry.Unix(),
	}).Info("Download grant issued")

	http.Redirect(w, r, g.URL, http.StatusFound)
}

// SanitizeFilename replaces characters unsafe in a Content-Disposition
// filename with underscores.
func SanitizeFilename(name string) string {
	if name == "" {
		return "Movie.mp4"
	}
	return filenameSanitizeRE.ReplaceAllString(name, "_")
}

func hasQuality(title *models.Title, quality models.QualityLabel) bool {
	for _, q := range title.Qualities {
		if q == quality {
			return true
		}
	}
	return false
}
