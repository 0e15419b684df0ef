package player

import (
	"context"
	"time"

	"github.com/amaumene/gostreamd/internal/models"
)

// ManifestSource fetches playlists over the streaming wire contract.
type ManifestSource interface {
	Master(ctx context.Context, titleID string) (models.Manifest, error)
	Playlist(ctx context.Context, titleID string, quality models.QualityLabel) (models.VariantPlaylist, error)
}

// SegmentData is one downloaded segment plus the measurements quality
// adaptation feeds on.
type SegmentData struct {
	Payload []byte
	Elapsed time.Duration // wall time the download took
}

// SegmentSource fetches segment payloads over the streaming wire contract.
type SegmentSource interface {
	FetchSegment(ctx context.Context, titleID string, quality models.QualityLabel, index int) (SegmentData, error)
}
