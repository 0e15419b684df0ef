package handlers

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strconv"
	"time"

	"github.com/amaumene/gostreamd/internal/config"
	"github.com/amaumene/gostreamd/internal/metrics"
	"github.com/amaumene/gostreamd/internal/models"
	"github.com/amaumene/gostreamd/internal/services/origin"
	gocache "github.com/patrickmn/go-cache"
	"github.com/sirupsen/logrus"
)

const segmentContentType = "video/MP2T"

// segmentNameRE matches the zero-padded segment file names in request paths.
var segmentNameRE = regexp.MustCompile(`^segment(\d{1,6})\.ts$`)

// SegmentHandler proxies segment bytes from the origin store, forwarding
// range semantics. Segments are immutable once published, so full-body
// responses go through a concurrency-safe read-through cache with a long TTL.
type SegmentHandler struct {
	origin    *origin.Client
	cfg       *config.Config
	cache     *gocache.Cache
	collector *metrics.Collector
	logger    *logrus.Logger
}

// NewSegmentHandler creates a new segment gateway handler
func NewSegmentHandler(originClient *origin.Client, cfg *config.Config, collector *metrics.Collector, logger *logrus.Logger) *SegmentHandler {
	return &SegmentHandler{
		origin:    originClient,
		cfg:       cfg,
		cache:     gocache.New(cfg.SegmentCacheTTL, time.Hour),
		collector: collector,
		logger:    logger,
	}
}

// ServeHTTP handles GET /stream/{titleId}/{quality}/{segment}
func (h *SegmentHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	titleID := r.PathValue("titleId")
	quality := models.QualityLabel(r.PathValue("quality"))
	segmentName := r.PathValue("segment")

	match := segmentNameRE.FindStringSubmatch(segmentName)
	if match == nil {
		writeError(w, http.StatusNotFound, "segment not found")
		return
	}
	index, err := strconv.Atoi(match[1])
	if err != nil {
		writeError(w, http.StatusNotFound, "segment not found")
		return
	}

	if _, ok := models.VariantFor(quality); !ok {
		writeError(w, http.StatusNotFound, "unknown quality variant")
		return
	}

	rangeHeader := r.Header.Get("Range")
	cacheKey := fmt.Sprintf("%s/%s/%d", titleID, quality, index)

	// Range requests bypass the cache; cached bodies serve full requests only.
	if rangeHeader == "" {
		if cached, ok := h.cache.Get(cacheKey); ok {
			h.collector.SegmentCacheHits.Inc()
			h.writeSegmentHeaders(w, "", int64(len(cached.([]byte))))
			w.WriteHeader(http.StatusOK)
			w.Write(cached.([]byte))
			h.collector.ObserveSegmentServe(time.Since(start))
			return
		}
		h.collector.SegmentCacheMisses.Inc()
	}

	result, err := h.origin.FetchSegment(r.Context(), titleID, quality, index, rangeHeader)
	if err != nil {
		h.recordOriginError(err)
		h.logger.WithError(err).WithFields(logrus.Fields{
			"title_id": titleID,
			"quality":  quality,
			"index":    index,
		}).Warn("Segment fetch failed")
		writeTaxonomyError(w, err)
		return
	}
	defer result.Body.Close()

	// Small full-body responses are kept for subsequent viewers.
	if rangeHeader == "" && result.StatusCode == http.StatusOK &&
		result.ContentLength > 0 && result.ContentLength <= int64(h.cfg.SegmentCacheMaxBytes) {
		var buf bytes.Buffer
		if _, err := io.Copy(&buf, result.Body); err != nil {
			h.logger.WithError(err).Warn("Segment body read failed")
			writeError(w, http.StatusBadGateway, "origin read failed")
			return
		}
		body := buf.Bytes()
		h.cache.Set(cacheKey, body, gocache.DefaultExpiration)

		h.writeSegmentHeaders(w, "", int64(len(body)))
		w.WriteHeader(http.StatusOK)
		w.Write(body)
		h.collector.ObserveSegmentServe(time.Since(start))
		return
	}

	h.writeSegmentHeaders(w, result.ContentRange, result.ContentLength)
	w.WriteHeader(result.StatusCode)
	if _, err := io.Copy(w, result.Body); err != nil {
		h.logger.WithError(err).Debug("Segment stream interrupted")
	}
	h.collector.ObserveSegmentServe(time.Since(start))
}

func (h *SegmentHandler) writeSegmentHeaders(w http.ResponseWriter, contentRange string, contentLength int64) {
	w.Header().Set("Content-Type", segmentContentType)
	w.Header().Set("Accept-Ranges", "bytes")
	w.Header().Set("Cache-Control", fmt.Sprintf("max-age=%d", int(h.cfg.SegmentCacheTTL/time.Second)))
	if contentLength >= 0 {
		w.Header().Set("Content-Length", strconv.FormatInt(contentLength, 10))
	}
	if contentRange != "" {
		w.Header().Set("Content-Range", contentRange)
	}
}

func (h *SegmentHandler) recordOriginError(err error) {
	switch {
	case errors.Is(err, models.ErrSegmentNotFound):
		h.collector.OriginErrors.WithLabelValues("not_found").Inc()
	case errors.Is(err, models.ErrUpstreamTimeout):
		h.collector.OriginErrors.WithLabelValues("timeout").Inc()
	default:
		h.collector.OriginErrors.WithLabelValues("unavailable").Inc()
	}
}
