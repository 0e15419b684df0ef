package models

import (
	"strconv"
	"time"
)

// QualityLabel identifies a configured encoding ladder rung (e.g. "720p").
type QualityLabel string

const (
	Quality480p  QualityLabel = "480p"
	Quality720p  QualityLabel = "720p"
	Quality1080p QualityLabel = "1080p"
	Quality4K    QualityLabel = "4K"
)

// QualityAuto is the sentinel requested-quality value that selects the full
// variant ladder instead of a single rung.
const QualityAuto = "auto"

// Title is the catalog metadata a stream is derived from. It is owned by the
// external catalog service; only the fields the delivery pipeline needs are
// kept here.
type Title struct {
	ID              string
	Name            string
	DurationSeconds int
	Qualities       []QualityLabel // ordered as configured by the encoder
}

// QualityVariant describes one rung of a title's encoding ladder.
type QualityVariant struct {
	Label        QualityLabel
	Width        int
	Height       int
	Bandwidth    int // peak bits per second
	PlaylistPath string
}

// Resolution returns the "WxH" form used in master playlists.
func (v QualityVariant) Resolution() string {
	return strconv.Itoa(v.Width) + "x" + strconv.Itoa(v.Height)
}

// Manifest is the master playlist for one title, derived per request from
// Title metadata and never persisted. Variants are sorted ascending by
// bandwidth; a manifest with zero variants is invalid.
type Manifest struct {
	TitleID  string
	Variants []QualityVariant
}

// Lowest returns the lowest-bandwidth variant. Callers must not invoke it on
// an empty manifest.
func (m Manifest) Lowest() QualityVariant {
	return m.Variants[0]
}

// Segment is one fixed-duration chunk of a variant, addressed by its
// zero-based sequence index.
type Segment struct {
	Index    int
	Duration float64
	Path     string
}

// VariantPlaylist is the per-quality ordered segment list for one title.
// Indices are contiguous 0..N-1 and the list always terminates with an
// explicit end-of-stream marker.
type VariantPlaylist struct {
	TitleID        string
	Quality        QualityLabel
	TargetDuration int
	MediaSequence  int
	Segments       []Segment
	EndList        bool
}

// DurationSeconds is the summed duration of all segments.
func (p VariantPlaylist) DurationSeconds() float64 {
	var total float64
	for _, s := range p.Segments {
		total += s.Duration
	}
	return total
}

// DownloadGrant is a signed, time-limited authorization for a direct
// full-file fetch. It is stateless: redeemable repeatedly until expiry, with
// no per-grant server record.
type DownloadGrant struct {
	TitleID   string
	Quality   QualityLabel
	Expiry    time.Time
	Signature string
	URL       string
}

// WatchProgress is the stored resume position for one title.
type WatchProgress struct {
	TitleID         string    `boltholdKey:"TitleID" json:"title_id"`
	PositionSeconds int       `json:"position_seconds"`
	DurationSeconds int       `json:"duration_seconds"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// Completed reports whether the title was watched (almost) to the end.
// Completed items no longer show up under continue-watching.
func (p WatchProgress) Completed() bool {
	if p.DurationSeconds == 0 {
		return false
	}
	return float64(p.PositionSeconds)/float64(p.DurationSeconds) >= 0.95
}

// variantTable is the encoding ladder shared by all titles. Bandwidth and
// resolution figures match the encoder presets.
var variantTable = map[QualityLabel]QualityVariant{
	Quality480p:  {Label: Quality480p, Width: 854, Height: 480, Bandwidth: 1_500_000},
	Quality720p:  {Label: Quality720p, Width: 1280, Height: 720, Bandwidth: 3_000_000},
	Quality1080p: {Label: Quality1080p, Width: 1920, Height: 1080, Bandwidth: 6_000_000},
	Quality4K:    {Label: Quality4K, Width: 3840, Height: 2160, Bandwidth: 15_000_000},
}

// VariantFor resolves a quality label to its ladder entry.
func VariantFor(label QualityLabel) (QualityVariant, bool) {
	v, ok := variantTable[label]
	return v, ok
}
