// Package catalog is the client for the external catalog metadata service.
// The service owns browsing, search and display metadata; the delivery
// pipeline only asks it for the handful of fields a stream derives from.
package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/amaumene/gostreamd/internal/config"
	"github.com/amaumene/gostreamd/internal/models"
	gocache "github.com/patrickmn/go-cache"
	"github.com/sirupsen/logrus"
)

// titleCacheTTL bounds how long catalog metadata is reused without a refetch.
const titleCacheTTL = 5 * time.Minute

// titleResponse is the catalog service's JSON representation of a title.
type titleResponse struct {
	ID              string   `json:"id"`
	Title           string   `json:"title"`
	DurationSeconds int      `json:"duration_seconds"`
	Qualities       []string `json:"qualities"`
}

// Client wraps direct catalog service HTTP calls
type Client struct {
	baseURL    string
	httpClient *http.Client
	cache      *gocache.Cache
	logger     *logrus.Logger
}

// NewClient creates a new catalog client
func NewClient(cfg *config.Config, logger *logrus.Logger) (*Client, error) {
	if cfg.CatalogBaseURL == "" {
		return nil, fmt.Errorf("catalog base URL is required")
	}

	return &Client{
		baseURL: cfg.CatalogBaseURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		cache:  gocache.New(titleCacheTTL, 10*time.Minute),
		logger: logger,
	}, nil
}

// GetTitle fetches metadata for one title. Results are cached for a bounded
// TTL so manifest regeneration stays cheap.
func (c *Client) GetTitle(ctx context.Context, titleID string) (*models.Title, error) {
	if cached, ok := c.cache.Get(titleID); ok {
		return cached.(*models.Title), nil
	}

	url := fmt.Sprintf("%s/titles/%s", c.baseURL, titleID)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", "gostreamd/1.0")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("catalog request failed: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, models.ErrNotFound
	case resp.StatusCode != http.StatusOK:
		c.logger.WithFields(logrus.Fields{
			"status_code": resp.StatusCode,
			"title_id":    titleID,
		}).Error("Catalog service returned non-OK status")
		return nil, fmt.Errorf("catalog returned status %d", resp.StatusCode)
	}

	var tr titleResponse
	if err := json.NewDecoder(resp.Body).Decode(&tr); err != nil {
		return nil, fmt.Errorf("failed to parse catalog response: %w", err)
	}

	title := &models.Title{
		ID:              tr.ID,
		Name:            tr.Title,
		DurationSeconds: tr.DurationSeconds,
	}
	for _, q := range tr.Qualities {
		label := models.QualityLabel(q)
		if _, ok := models.VariantFor(label); ok {
			title.Qualities = append(title.Qualities, label)
		} else {
			c.logger.WithFields(logrus.Fields{
				"title_id": titleID,
				"quality":  q,
			}).Warn("Catalog lists a quality outside the encoding ladder, skipping")
		}
	}

	c.cache.Set(titleID, title, gocache.DefaultExpiration)

	c.logger.WithFields(logrus.Fields{
		"title_id":  titleID,
		"duration":  title.DurationSeconds,
		"qualities": len(title.Qualities),
	}).Debug("Title metadata fetched")

	return title, nil
}
