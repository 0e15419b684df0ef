package handlers

import (
	"fmt"
	"net/http"
	"time"

	"github.com/amaumene/gostreamd/internal/config"
	"github.com/amaumene/gostreamd/internal/manifest"
	"github.com/amaumene/gostreamd/internal/models"
	"github.com/amaumene/gostreamd/internal/services/catalog"
	gocache "github.com/patrickmn/go-cache"
	"github.com/sirupsen/logrus"
)

const playlistContentType = "application/vnd.apple.mpegurl"

// StreamHandler serves master manifests, variant playlists and stream info
type StreamHandler struct {
	catalog       *catalog.Client
	cfg           *config.Config
	playlistCache *gocache.Cache
	logger        *logrus.Logger
}

// NewStreamHandler creates a new stream handler
func NewStreamHandler(catalogClient *catalog.Client, cfg *config.Config, logger *logrus.Logger) *StreamHandler {
	return &StreamHandler{
		catalog:       catalogClient,
		cfg:           cfg,
		playlistCache: gocache.New(cfg.ManifestCacheTTL, 2*cfg.ManifestCacheTTL),
		logger:        logger,
	}
}

// Master handles GET /stream/{titleId}/manifest.m3u8[?quality=]
func (h *StreamHandler) Master(w http.ResponseWriter, r *http.Request) {
	titleID := r.PathValue("titleId")
	quality := r.URL.Query().Get("quality")
	if quality == "" {
		quality = models.QualityAuto
	}

	cacheKey := "master/" + titleID + "/" + quality
	if cached, ok := h.playlistCache.Get(cacheKey); ok {
		h.writePlaylist(w, cached.(string))
		return
	}

	title, err := h.catalog.GetTitle(r.Context(), titleID)
	if err != nil {
		h.logger.WithError(err).WithField("title_id", titleID).Warn("Master manifest lookup failed")
		writeTaxonomyError(w, err)
		return
	}

	master, err := manifest.BuildMaster(title, quality)
	if err != nil {
		writeTaxonomyError(w, err)
		return
	}

	text := manifest.EncodeMaster(master)
	h.playlistCache.Set(cacheKey, text, gocache.DefaultExpiration)

	h.logger.WithFields(logrus.Fields{
		"title_id": titleID,
		"quality":  quality,
		"variants": len(master.Variants),
	}).Debug("Master manifest generated")

	h.writePlaylist(w, text)
}

// VariantPlaylist handles GET /stream/{titleId}/{quality}/index.m3u8
func (h *StreamHandler) VariantPlaylist(w http.ResponseWriter, r *http.Request) {
	titleID := r.PathValue("titleId")
	quality := models.QualityLabel(r.PathValue("quality"))

	cacheKey := fmt.Sprintf("playlist/%s/%s", titleID, quality)
	if cached, ok := h.playlistCache.Get(cacheKey); ok {
		h.writePlaylist(w, cached.(string))
		return
	}

	title, err := h.catalog.GetTitle(r.Context(), titleID)
	if err != nil {
		writeTaxonomyError(w, err)
		return
	}

	playlist, err := manifest.BuildVariantPlaylist(title, quality, h.cfg.TargetSegmentDuration)
	if err != nil {
		writeTaxonomyError(w, err)
		return
	}

	text := manifest.EncodePlaylist(playlist)
	h.playlistCache.Set(cacheKey, text, gocache.DefaultExpiration)

	h.writePlaylist(w, text)
}

// streamInfo is the GET /stream/{titleId}/info response
type streamInfo struct {
	TitleID   string   `json:"title_id"`
	Available bool     `json:"available"`
	Qualities []string `json:"qualities"`
	Duration  int      `json:"duration"`
	Formats   []string `json:"formats"`
}

// Info handles GET /stream/{titleId}/info
func (h *StreamHandler) Info(w http.ResponseWriter, r *http.Request) {
	titleID := r.PathValue("titleId")

	title, err := h.catalog.GetTitle(r.Context(), titleID)
	if err != nil {
		writeTaxonomyError(w, err)
		return
	}

	info := streamInfo{
		TitleID:   title.ID,
		Available: len(title.Qualities) > 0,
		Duration:  title.DurationSeconds,
		Formats:   []string{"HLS", "MP4"},
	}
	for _, q := range title.Qualities {
		info.Qualities = append(info.Qualities, string(q))
	}

	writeJSON(w, http.StatusOK, info)
}

func (h *StreamHandler) writePlaylist(w http.ResponseWriter, text string) {
	w.Header().Set("Content-Type", playlistContentType)
	w.Header().Set("Cache-Control", fmt.Sprintf("max-age=%d", int(h.cfg.ManifestCacheTTL/time.Second)))
	w.Write([]byte(text))
}
