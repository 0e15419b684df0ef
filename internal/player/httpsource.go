package player

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/amaumene/gostreamd/internal/manifest"
	"github.com/amaumene/gostreamd/internal/models"
)

// HTTPSource fetches manifests and segments from a delivery server over the
// /stream wire contract. It implements both ManifestSource and SegmentSource.
type HTTPSource struct {
	baseURL string
	client  *http.Client
}

// NewHTTPSource creates a source rooted at baseURL, e.g.
// "https://delivery.example.com".
func NewHTTPSource(baseURL string) *HTTPSource {
	return &HTTPSource{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: 30 * time.Second},
	}
}

// Master fetches and parses the master manifest for a title.
func (h *HTTPSource) Master(ctx context.Context, titleID string) (models.Manifest, error) {
	u := fmt.Sprintf("%s/stream/%s/manifest.m3u8", h.baseURL, url.PathEscape(titleID))

	body, err := h.get(ctx, u)
	if err != nil {
		return models.Manifest{}, err
	}
	defer body.Close()

	m, err := manifest.ParseMaster(body)
	if err != nil {
		return models.Manifest{}, fmt.Errorf("parsing master manifest: %w", err)
	}
	return m, nil
}

// Playlist fetches and parses one variant playlist.
func (h *HTTPSource) Playlist(ctx context.Context, titleID string, quality models.QualityLabel) (models.VariantPlaylist, error) {
	u := fmt.Sprintf("%s/stream/%s/%s/index.m3u8", h.baseURL, url.PathEscape(titleID), quality)

	body, err := h.get(ctx, u)
	if err != nil {
		return models.VariantPlaylist{}, err
	}
	defer body.Close()

	p, err := manifest.ParsePlaylist(body)
	if err != nil {
		return models.VariantPlaylist{}, fmt.Errorf("parsing variant playlist: %w", err)
	}
	return p, nil
}

// FetchSegment downloads one segment and measures the transfer for the
// throughput estimator.
func (h *HTTPSource) FetchSegment(ctx context.Context, titleID string, quality models.QualityLabel, index int) (SegmentData, error) {
	u := fmt.Sprintf("%s%s", h.baseURL, manifest.SegmentPath(titleID, quality, index))

	start := time.Now()
	body, err := h.get(ctx, u)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return SegmentData{}, models.ErrSegmentNotFound
		}
		return SegmentData{}, err
	}
	defer body.Close()

	payload, err := io.ReadAll(body)
	if err != nil {
		return SegmentData{}, classifyTransport(fmt.Errorf("reading segment body: %w", err))
	}

	return SegmentData{
		Payload: payload,
		Elapsed: time.Since(start),
	}, nil
}

func (h *HTTPSource) get(ctx context.Context, u string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, classifyTransport(err)
	}

	switch {
	case resp.StatusCode == http.StatusOK:
		return resp.Body, nil
	case resp.StatusCode == http.StatusNotFound:
		resp.Body.Close()
		return nil, models.ErrNotFound
	case resp.StatusCode == http.StatusGatewayTimeout:
		resp.Body.Close()
		return nil, models.ErrUpstreamTimeout
	default:
		resp.Body.Close()
		return nil, fmt.Errorf("%w: status %d from %s", models.ErrUpstreamUnavailable, resp.StatusCode, u)
	}
}

// classifyTransport maps transport failures onto the shared error taxonomy
// so the engine's retry policy can tell timeouts from hard failures.
func classifyTransport(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", models.ErrUpstreamTimeout, err)
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) && urlErr.Timeout() {
		return fmt.Errorf("%w: %v", models.ErrUpstreamTimeout, err)
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	return fmt.Errorf("%w: %v", models.ErrUpstreamUnavailable, err)
}
