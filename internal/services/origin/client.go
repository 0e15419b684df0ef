// Package origin is the client for the external origin store holding encoded
// segments. Segments are immutable once published; the gateway forwards
// byte-range semantics through unchanged.
package origin

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/amaumene/gostreamd/internal/config"
	"github.com/amaumene/gostreamd/internal/manifest"
	"github.com/amaumene/gostreamd/internal/models"
	"github.com/sirupsen/logrus"
)

// SegmentResult is one origin response, streamed through to the caller.
// Body must be closed by the caller.
type SegmentResult struct {
	Body          io.ReadCloser
	StatusCode    int // 200 or 206
	ContentLength int64
	ContentRange  string
	ContentType   string
}

// Client wraps direct origin store HTTP calls
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *logrus.Logger

	mu        sync.RWMutex
	healthy   bool
	lastProbe time.Time
}

// NewClient creates a new origin client
func NewClient(cfg *config.Config, logger *logrus.Logger) (*Client, error) {
	if cfg.OriginBaseURL == "" {
		return nil, fmt.Errorf("origin base URL is required")
	}

	return &Client{
		baseURL: cfg.OriginBaseURL,
		httpClient: &http.Client{
			Timeout: cfg.OriginTimeout,
		},
		logger:  logger,
		healthy: true,
	}, nil
}

// FetchSegment streams one segment from the origin store. rangeHeader is the
// verbatim Range header from the client request, or empty for the full body.
// Maps origin failures onto the delivery error taxonomy.
func (c *Client) FetchSegment(ctx context.Context, titleID string, quality models.QualityLabel, index int, rangeHeader string) (*SegmentResult, error) {
	segmentURL := fmt.Sprintf("%s/videos/%s/%s/%s", c.baseURL, titleID, quality, manifest.SegmentName(index))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, segmentURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create segment request: %w", err)
	}
	req.Header.Set("User-Agent", "gostreamd/1.0")
	if rangeHeader != "" {
		req.Header.Set("Range", rangeHeader)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if isTimeout(err) {
			return nil, fmt.Errorf("%w: %v", models.ErrUpstreamTimeout, err)
		}
		return nil, fmt.Errorf("%w: %v", models.ErrUpstreamUnavailable, err)
	}

	switch {
	case resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusPartialContent:
		return &SegmentResult{
			Body:          resp.Body,
			StatusCode:    resp.StatusCode,
			ContentLength: resp.ContentLength,
			ContentRange:  resp.Header.Get("Content-Range"),
			ContentType:   resp.Header.Get("Content-Type"),
		}, nil
	case resp.StatusCode == http.StatusNotFound:
		resp.Body.Close()
		return nil, models.ErrSegmentNotFound
	case resp.StatusCode == http.StatusRequestedRangeNotSatisfiable:
		resp.Body.Close()
		return nil, fmt.Errorf("%w: unsatisfiable range %q", models.ErrSegmentNotFound, rangeHeader)
	default:
		resp.Body.Close()
		c.logger.WithFields(logrus.Fields{
			"status_code": resp.StatusCode,
			"url":         segmentURL,
		}).Error("Origin returned unexpected status")
		return nil, fmt.Errorf("%w: origin status %d", models.ErrUpstreamUnavailable, resp.StatusCode)
	}
}

// Probe checks origin reachability. Run periodically by the scheduler; the
// status endpoint reports the last result.
func (c *Client) Probe(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return err
	}

	start := time.Now()
	resp, probeErr := c.httpClient.Do(req)
	elapsed := time.Since(start)

	healthy := false
	if probeErr == nil {
		resp.Body.Close()
		healthy = resp.StatusCode < http.StatusInternalServerError
	}

	c.mu.Lock()
	c.healthy = healthy
	c.lastProbe = time.Now()
	c.mu.Unlock()

	if probeErr != nil {
		return fmt.Errorf("origin probe failed: %w", probeErr)
	}

	c.logger.WithFields(logrus.Fields{
		"healthy":    healthy,
		"latency_ms": elapsed.Milliseconds(),
	}).Debug("Origin probe completed")

	return nil
}

// Healthy returns the last probe result and when it was taken.
func (c *Client) Healthy() (bool, time.Time) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.healthy, c.lastProbe
}

// isTimeout reports whether a transport error was a deadline or timeout.
func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return urlErr.Timeout()
	}
	return false
}
