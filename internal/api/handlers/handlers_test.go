package handlers

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/amaumene/gostreamd/internal/config"
	"github.com/amaumene/gostreamd/internal/grant"
	"github.com/amaumene/gostreamd/internal/metrics"
	"github.com/amaumene/gostreamd/internal/models"
	"github.com/amaumene/gostreamd/internal/services/catalog"
	"github.com/amaumene/gostreamd/internal/services/origin"
	"github.com/sirupsen/logrus"
)

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetLevel(logrus.PanicLevel)
	return l
}

func handlerConfig(catalogURL, originURL string) *config.Config {
	return &config.Config{
		CatalogBaseURL:        catalogURL,
		OriginBaseURL:         originURL,
		SigningSecret:         "test-secret",
		DownloadTTL:           10 * time.Minute,
		DownloadBaseURL:       originURL,
		TargetSegmentDuration: 10,
		ManifestCacheTTL:      5 * time.Minute,
		SegmentCacheTTL:       24 * time.Hour,
		SegmentCacheMaxBytes:  4 << 20,
		OriginTimeout:         5 * time.Second,
		ProgressRetentionDays: 90,
		ServerPort:            "0",
	}
}

// newCatalogServer serves one title, tt1, a two-hour movie with three rungs.
func newCatalogServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/titles/tt1" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"id":"tt1","title":"The Big Movie!","duration_seconds":7200,"qualities":["480p","720p","1080p"]}`)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newCatalogClient(t *testing.T, cfg *config.Config) *catalog.Client {
	t.Helper()
	c, err := catalog.NewClient(cfg, quietLogger())
	if err != nil {
		t.Fatalf("catalog client: %v", err)
	}
	return c
}

func getWithTitle(h http.HandlerFunc, target, titleID string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, target, nil)
	req.SetPathValue("titleId", titleID)
	w := httptest.NewRecorder()
	h(w, req)
	return w
}

func TestMasterManifest(t *testing.T) {
	catalogSrv := newCatalogServer(t)
	cfg := handlerConfig(catalogSrv.URL, "http://origin.invalid")
	h := NewStreamHandler(newCatalogClient(t, cfg), cfg, quietLogger())

	w := getWithTitle(h.Master, "/stream/tt1/manifest.m3u8", "tt1")

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/vnd.apple.mpegurl" {
		t.Errorf("unexpected content type %q", ct)
	}
	if cc := w.Header().Get("Cache-Control"); cc != "max-age=300" {
		t.Errorf("unexpected cache control %q", cc)
	}

	body := w.Body.String()
	if !strings.HasPrefix(body, "#EXTM3U") {
		t.Errorf("body does not start with #EXTM3U:\n%s", body)
	}
	if got := strings.Count(body, "#EXT-X-STREAM-INF:"); got != 3 {
		t.Errorf("expected 3 variants, got %d:\n%s", got, body)
	}
	if !strings.Contains(body, "BANDWIDTH=3000000,RESOLUTION=1280x720") {
		t.Errorf("missing 720p stream-inf attributes:\n%s", body)
	}
}

func TestMasterManifestSingleQuality(t *testing.T) {
	catalogSrv := newCatalogServer(t)
	cfg := handlerConfig(catalogSrv.URL, "http://origin.invalid")
	h := NewStreamHandler(newCatalogClient(t, cfg), cfg, quietLogger())

	w := getWithTitle(h.Master, "/stream/tt1/manifest.m3u8?quality=1080p", "tt1")

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	body := w.Body.String()
	if got := strings.Count(body, "#EXT-X-STREAM-INF:"); got != 1 {
		t.Errorf("expected a single pinned variant, got %d:\n%s", got, body)
	}
	if !strings.Contains(body, "1080p/index.m3u8") {
		t.Errorf("missing 1080p playlist reference:\n%s", body)
	}
}

func TestMasterManifestUnknownTitle(t *testing.T) {
	catalogSrv := newCatalogServer(t)
	cfg := handlerConfig(catalogSrv.URL, "http://origin.invalid")
	h := NewStreamHandler(newCatalogClient(t, cfg), cfg, quietLogger())

	w := getWithTitle(h.Master, "/stream/nope/manifest.m3u8", "nope")
	if w.Code != http.StatusNotFound {
		t.Errorf("expected 404 for unknown title, got %d", w.Code)
	}
}

func TestVariantPlaylist(t *testing.T) {
	catalogSrv := newCatalogServer(t)
	cfg := handlerConfig(catalogSrv.URL, "http://origin.invalid")
	h := NewStreamHandler(newCatalogClient(t, cfg), cfg, quietLogger())

	req := httptest.NewRequest(http.MethodGet, "/stream/tt1/720p/index.m3u8", nil)
	req.SetPathValue("titleId", "tt1")
	req.SetPathValue("quality", "720p")
	w := httptest.NewRecorder()
	h.VariantPlaylist(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	body := w.Body.String()
	// 7200s at 10s per segment is exactly 720 segments.
	if got := strings.Count(body, "#EXTINF:"); got != 720 {
		t.Errorf("expected 720 segments, got %d", got)
	}
	if !strings.Contains(body, "segment000000.ts") || !strings.Contains(body, "segment000719.ts") {
		t.Error("expected zero-padded first and last segment names")
	}
	if !strings.HasSuffix(strings.TrimSpace(body), "#EXT-X-ENDLIST") {
		t.Error("expected playlist to end with #EXT-X-ENDLIST")
	}
}

func TestStreamInfo(t *testing.T) {
	catalogSrv := newCatalogServer(t)
	cfg := handlerConfig(catalogSrv.URL, "http://origin.invalid")
	h := NewStreamHandler(newCatalogClient(t, cfg), cfg, quietLogger())

	w := getWithTitle(h.Info, "/stream/tt1/info", "tt1")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}

	var info struct {
		TitleID   string   `json:"title_id"`
		Available bool     `json:"available"`
		Qualities []string `json:"qualities"`
		Duration  int      `json:"duration"`
		Formats   []string `json:"formats"`
	}
	if err := json.NewDecoder(w.Body).Decode(&info); err != nil {
		t.Fatalf("decoding info: %v", err)
	}
	if info.TitleID != "tt1" || !info.Available || info.Duration != 7200 {
		t.Errorf("unexpected info %+v", info)
	}
	if len(info.Qualities) != 3 || len(info.Formats) != 2 {
		t.Errorf("unexpected qualities/formats %+v", info)
	}
}

func newSegmentFixture(t *testing.T, payload []byte) (*SegmentHandler, *atomic.Int32) {
	t.Helper()

	var originHits atomic.Int32
	originSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/videos/tt1/720p/segment000000.ts" {
			http.NotFound(w, r)
			return
		}
		originHits.Add(1)
		http.ServeContent(w, r, "segment000000.ts", time.Time{}, bytes.NewReader(payload))
	}))
	t.Cleanup(originSrv.Close)

	cfg := handlerConfig("http://catalog.invalid", originSrv.URL)
	originClient, err := origin.NewClient(cfg, quietLogger())
	if err != nil {
		t.Fatalf("origin client: %v", err)
	}

	return NewSegmentHandler(originClient, cfg, metrics.NewCollector(), quietLogger()), &originHits
}

func segmentRequest(name, rangeHeader string) *http.Request {
	req := httptest.NewRequest(http.MethodGet, "/stream/tt1/720p/"+name, nil)
	req.SetPathValue("titleId", "tt1")
	req.SetPathValue("quality", "720p")
	req.SetPathValue("segment", name)
	if rangeHeader != "" {
		req.Header.Set("Range", rangeHeader)
	}
	return req
}

func TestSegmentFullBodyIsCached(t *testing.T) {
	payload := bytes.Repeat([]byte{0x47}, 5000)
	h, originHits := newSegmentFixture(t, payload)

	for i := 0; i < 2; i++ {
		w := httptest.NewRecorder()
		h.ServeHTTP(w, segmentRequest("segment000000.ts", ""))

		if w.Code != http.StatusOK {
			t.Fatalf("request %d: expected 200, got %d", i, w.Code)
		}
		if !bytes.Equal(w.Body.Bytes(), payload) {
			t.Fatalf("request %d: body mismatch", i)
		}
		if ct := w.Header().Get("Content-Type"); ct != "video/MP2T" {
			t.Errorf("unexpected content type %q", ct)
		}
		if ar := w.Header().Get("Accept-Ranges"); ar != "bytes" {
			t.Errorf("unexpected accept-ranges %q", ar)
		}
		if cc := w.Header().Get("Cache-Control"); cc != "max-age=86400" {
			t.Errorf("unexpected cache control %q", cc)
		}
	}

	if got := originHits.Load(); got != 1 {
		t.Errorf("expected the second request served from cache, origin hits = %d", got)
	}
}

func TestSegmentRangeRequestBypassesCache(t *testing.T) {
	payload := bytes.Repeat([]byte{0x47}, 5000)
	h, originHits := newSegmentFixture(t, payload)

	for i := 0; i < 2; i++ {
		w := httptest.NewRecorder()
		h.ServeHTTP(w, segmentRequest("segment000000.ts", "bytes=0-99"))

		if w.Code != http.StatusPartialContent {
			t.Fatalf("expected 206, got %d", w.Code)
		}
		if w.Body.Len() != 100 {
			t.Errorf("expected 100 bytes, got %d", w.Body.Len())
		}
		if cr := w.Header().Get("Content-Range"); cr != "bytes 0-99/5000" {
			t.Errorf("unexpected content range %q", cr)
		}
	}

	if got := originHits.Load(); got != 2 {
		t.Errorf("expected range requests to reach the origin each time, hits = %d", got)
	}
}

func TestSegmentRejectsBadNames(t *testing.T) {
	h, originHits := newSegmentFixture(t, []byte{0x47})

	for _, name := range []string{"notasegment.ts", "segment.ts", "segment1234567.ts", "segment000000.mp4"} {
		w := httptest.NewRecorder()
		h.ServeHTTP(w, segmentRequest(name, ""))
		if w.Code != http.StatusNotFound {
			t.Errorf("%s: expected 404, got %d", name, w.Code)
		}
	}
	if got := originHits.Load(); got != 0 {
		t.Errorf("malformed names must not reach the origin, hits = %d", got)
	}
}

func TestSegmentUnknownQuality(t *testing.T) {
	h, _ := newSegmentFixture(t, []byte{0x47})

	req := segmentRequest("segment000000.ts", "")
	req.SetPathValue("quality", "999p")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Errorf("expected 404 for unknown quality, got %d", w.Code)
	}
}

func TestSegmentMissingAtOrigin(t *testing.T) {
	h, _ := newSegmentFixture(t, []byte{0x47})

	req := segmentRequest("segment000001.ts", "")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Errorf("expected 404 for a segment the origin lacks, got %d", w.Code)
	}
}

func newDownloadHandler(t *testing.T) (*DownloadHandler, *grant.Issuer) {
	t.Helper()
	catalogSrv := newCatalogServer(t)
	cfg := handlerConfig(catalogSrv.URL, "https://cdn.example.com")
	issuer := grant.NewIssuer(cfg.SigningSecret, cfg.DownloadBaseURL)
	return NewDownloadHandler(issuer, newCatalogClient(t, cfg), cfg, metrics.NewCollector(), quietLogger()), issuer
}

func TestDownloadRedirectCarriesValidGrant(t *testing.T) {
	h, issuer := newDownloadHandler(t)

	req := httptest.NewRequest(http.MethodGet, "/download/tt1?quality=1080p", nil)
	req.SetPathValue("titleId", "tt1")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	if w.Code != http.StatusFound {
		t.Fatalf("expected 302, got %d: %s", w.Code, w.Body.String())
	}

	loc, err := url.Parse(w.Header().Get("Location"))
	if err != nil {
		t.Fatalf("parsing redirect location: %v", err)
	}
	if loc.Path != "/downloads/tt1_1080p.mp4" {
		t.Errorf("unexpected download path %q", loc.Path)
	}

	expires, err := strconv.ParseInt(loc.Query().Get("expires"), 10, 64)
	if err != nil {
		t.Fatalf("parsing expires: %v", err)
	}
	if err := issuer.Redeem("tt1", models.Quality1080p, expires, loc.Query().Get("sig")); err != nil {
		t.Errorf("redirect URL does not carry a redeemable grant: %v", err)
	}

	cd := w.Header().Get("Content-Disposition")
	if cd != `attachment; filename="The_Big_Movie__1080p.mp4"` {
		t.Errorf("unexpected content disposition %q", cd)
	}
}

func TestDownloadDefaultsTo720p(t *testing.T) {
	h, _ := newDownloadHandler(t)

	req := httptest.NewRequest(http.MethodGet, "/download/tt1", nil)
	req.SetPathValue("titleId", "tt1")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	if w.Code != http.StatusFound {
		t.Fatalf("expected 302, got %d", w.Code)
	}
	if !strings.Contains(w.Header().Get("Location"), "tt1_720p.mp4") {
		t.Errorf("expected default 720p download, got %q", w.Header().Get("Location"))
	}
}

func TestDownloadRejectsUnavailableQuality(t *testing.T) {
	h, _ := newDownloadHandler(t)

	// 4K is a valid ladder rung but tt1 does not offer it.
	req := httptest.NewRequest(http.MethodGet, "/download/tt1?quality=4K", nil)
	req.SetPathValue("titleId", "tt1")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	if w.Code != http.StatusNotFound {
		t.Errorf("expected 404 for a quality the title lacks, got %d", w.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/download/tt1?quality=333p", nil)
	req.SetPathValue("titleId", "tt1")
	w = httptest.NewRecorder()
	h.ServeHTTP(w, req)
	if w.Code != http.StatusNotFound {
		t.Errorf("expected 404 for an unknown rung, got %d", w.Code)
	}
}

func TestSanitizeFilename(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"The Big Movie!_720p.mp4", "The_Big_Movie__720p.mp4"},
		{"plain-name_1080p.mp4", "plain-name_1080p.mp4"},
		{"semi;colon&amp.mp4", "semi_colon_amp.mp4"},
		{"", "Movie.mp4"},
	}
	for _, tt := range tests {
		if got := SanitizeFilename(tt.in); got != tt.want {
			t.Errorf("SanitizeFilename(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func newProgressHandler(t *testing.T) *ProgressHandler {
	t.Helper()
	db, err := models.NewDatabase(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("opening database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewProgressHandler(db, quietLogger())
}

func TestProgressRoundTrip(t *testing.T) {
	h := newProgressHandler(t)

	put := httptest.NewRequest(http.MethodPut, "/progress/tt1",
		strings.NewReader(`{"position_seconds":1200,"duration_seconds":7200}`))
	put.SetPathValue("titleId", "tt1")
	w := httptest.NewRecorder()
	h.Put(w, put)
	if w.Code != http.StatusOK {
		t.Fatalf("put: expected 200, got %d: %s", w.Code, w.Body.String())
	}

	w = getWithTitle(h.Get, "/progress/tt1", "tt1")
	if w.Code != http.StatusOK {
		t.Fatalf("get: expected 200, got %d", w.Code)
	}

	var progress models.WatchProgress
	if err := json.NewDecoder(w.Body).Decode(&progress); err != nil {
		t.Fatalf("decoding progress: %v", err)
	}
	if progress.TitleID != "tt1" || progress.PositionSeconds != 1200 || progress.DurationSeconds != 7200 {
		t.Errorf("unexpected progress %+v", progress)
	}
}

func TestProgressNotFound(t *testing.T) {
	h := newProgressHandler(t)

	w := getWithTitle(h.Get, "/progress/unknown", "unknown")
	if w.Code != http.StatusNotFound {
		t.Errorf("expected 404 for unrecorded title, got %d", w.Code)
	}
}

func TestProgressRejectsOutOfRange(t *testing.T) {
	h := newProgressHandler(t)

	for _, body := range []string{
		`{"position_seconds":-1,"duration_seconds":7200}`,
		`{"position_seconds":8000,"duration_seconds":7200}`,
		`not json`,
	} {
		put := httptest.NewRequest(http.MethodPut, "/progress/tt1", strings.NewReader(body))
		put.SetPathValue("titleId", "tt1")
		w := httptest.NewRecorder()
		h.Put(w, put)
		if w.Code != http.StatusBadRequest {
			t.Errorf("%s: expected 400, got %d", body, w.Code)
		}
	}
}

func TestContinueWatchingSkipsCompleted(t *testing.T) {
	h := newProgressHandler(t)

	for titleID, pos := range map[string]int{
		"tt-halfway": 3600,
		"tt-done":    7100, // past the completion threshold
	} {
		put := httptest.NewRequest(http.MethodPut, "/progress/"+titleID,
			strings.NewReader(fmt.Sprintf(`{"position_seconds":%d,"duration_seconds":7200}`, pos)))
		put.SetPathValue("titleId", titleID)
		w := httptest.NewRecorder()
		h.Put(w, put)
		if w.Code != http.StatusOK {
			t.Fatalf("put %s: expected 200, got %d", titleID, w.Code)
		}
	}

	req := httptest.NewRequest(http.MethodGet, "/continue-watching", nil)
	w := httptest.NewRecorder()
	h.ContinueWatching(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}

	var items []models.WatchProgress
	if err := json.NewDecoder(w.Body).Decode(&items); err != nil {
		t.Fatalf("decoding list: %v", err)
	}
	if len(items) != 1 || items[0].TitleID != "tt-halfway" {
		t.Errorf("expected only the half-watched title, got %+v", items)
	}
}
