// Package manifest derives master and variant playlists from title metadata.
// Playlists are pure functions of (duration, target segment duration, quality)
// and are never persisted; callers regenerate them per request and may cache
// the encoded form with a bounded TTL.
package manifest

import (
	"fmt"
	"math"
	"sort"

	"github.com/amaumene/gostreamd/internal/models"
)

// BuildMaster derives the master playlist for a title. With requestedQuality
// "auto" it returns every configured variant; with a concrete label it returns
// a single-variant manifest (degraded mode). Variants are sorted ascending by
// bandwidth.
func BuildMaster(title *models.Title, requestedQuality string) (models.Manifest, error) {
	if title == nil {
		return models.Manifest{}, models.ErrNotFound
	}
	if len(title.Qualities) == 0 {
		return models.Manifest{}, models.ErrNoVariantsAvailable
	}

	labels := title.Qualities
	if requestedQuality != models.QualityAuto {
		label := models.QualityLabel(requestedQuality)
		if !hasQuality(title, label) {
			return models.Manifest{}, models.ErrInvalidVariant
		}
		labels = []models.QualityLabel{label}
	}

	m := models.Manifest{TitleID: title.ID}
	for _, label := range labels {
		variant, ok := models.VariantFor(label)
		if !ok {
			return models.Manifest{}, fmt.Errorf("%w: %s", models.ErrInvalidVariant, label)
		}
		variant.PlaylistPath = fmt.Sprintf("/stream/%s/%s/index.m3u8", title.ID, label)
		m.Variants = append(m.Variants, variant)
	}

	sort.Slice(m.Variants, func(i, j int) bool {
		return m.Variants[i].Bandwidth < m.Variants[j].Bandwidth
	})

	return m, nil
}

// BuildVariantPlaylist derives the segment list for one quality of a title.
// The playlist has exactly ceil(duration/targetSegmentDuration) contiguous
// segments 0..N-1 and terminates with an explicit end-of-stream marker.
func BuildVariantPlaylist(title *models.Title, quality models.QualityLabel, targetSegmentDuration int) (models.VariantPlaylist, error) {
	if title == nil {
		return models.VariantPlaylist{}, models.ErrNotFound
	}
	if !hasQuality(title, quality) {
		return models.VariantPlaylist{}, models.ErrInvalidVariant
	}

	count := int(math.Ceil(float64(title.DurationSeconds) / float64(targetSegmentDuration)))

	playlist := models.VariantPlaylist{
		TitleID:        title.ID,
		Quality:        quality,
		TargetDuration: targetSegmentDuration,
		MediaSequence:  0,
		EndList:        true,
	}

	remaining := float64(title.DurationSeconds)
	for i := 0; i < count; i++ {
		duration := float64(targetSegmentDuration)
		if remaining < duration {
			duration = remaining
		}
		remaining -= duration

		playlist.Segments = append(playlist.Segments, models.Segment{
			Index:    i,
			Duration: duration,
			Path:     SegmentPath(title.ID, quality, i),
		})
	}

	return playlist, nil
}

// SegmentPath returns the request path for one segment. Indices are
// zero-padded to six digits, matching the origin store layout.
func SegmentPath(titleID string, quality models.QualityLabel, index int) string {
	return fmt.Sprintf("/stream/%s/%s/segment%06d.ts", titleID, quality, index)
}

// SegmentName returns the origin object name for one segment.
func SegmentName(index int) string {
	return fmt.Sprintf("segment%06d.ts", index)
}

func hasQuality(title *models.Title, label models.QualityLabel) bool {
	for _, q := range title.Qualities {
		if q == label {
			return true
		}
	}
	return false
}
