package manifest

import (
	"bufio"
	"fmt"
	"io"
	"regexp"
	"strconv"
	"strings"

	"github.com/amaumene/gostreamd/internal/models"
)

// Playlist text format shared by the server handlers and the playback engine.
// The emitted subset is HLS version 6: #EXT-X-STREAM-INF stanzas in the master
// playlist, #EXTINF entries terminated by #EXT-X-ENDLIST in variant playlists.

const (
	header     = "#EXTM3U"
	versionTag = "#EXT-X-VERSION:6"

	// codecsAttr matches the encoder output (H.264 high profile + AAC-LC).
	codecsAttr = `CODECS="avc1.64001f,mp4a.40.2"`
)

// EncodeMaster renders a master playlist as m3u8 text.
func EncodeMaster(m models.Manifest) string {
	var b strings.Builder
	b.WriteString(header + "\n")
	b.WriteString(versionTag + "\n\n")

	for _, v := range m.Variants {
		fmt.Fprintf(&b, "#EXT-X-STREAM-INF:BANDWIDTH=%d,RESOLUTION=%s,%s\n", v.Bandwidth, v.Resolution(), codecsAttr)
		b.WriteString(v.PlaylistPath + "\n\n")
	}

	return b.String()
}

// EncodePlaylist renders a variant playlist as m3u8 text.
func EncodePlaylist(p models.VariantPlaylist) string {
	var b strings.Builder
	b.WriteString(header + "\n")
	b.WriteString(versionTag + "\n")
	fmt.Fprintf(&b, "#EXT-X-TARGETDURATION:%d\n", p.TargetDuration)
	fmt.Fprintf(&b, "#EXT-X-MEDIA-SEQUENCE:%d\n\n", p.MediaSequence)

	for _, s := range p.Segments {
		fmt.Fprintf(&b, "#EXTINF:%.1f,\n", s.Duration)
		b.WriteString(s.Path + "\n")
	}

	if p.EndList {
		b.WriteString("#EXT-X-ENDLIST\n")
	}

	return b.String()
}

// streamInfRE extracts KEY=value or KEY="value" attributes from a STREAM-INF line.
var streamInfRE = regexp.MustCompile(`([A-Z0-9-]+)=(?:"([^"]*)"|([^,]+))`)

// ParseMaster decodes a master playlist. Used by the playback engine to read
// the server's wire format back into variant metadata.
func ParseMaster(r io.Reader) (models.Manifest, error) {
	scanner := bufio.NewScanner(r)

	var m models.Manifest
	var pending *models.QualityVariant
	firstLine := true

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		if firstLine {
			firstLine = false
			if !strings.HasPrefix(line, header) {
				return models.Manifest{}, fmt.Errorf("master playlist: not m3u8 (first line %q)", line)
			}
			continue
		}

		if strings.HasPrefix(line, "#EXT-X-STREAM-INF:") {
			v, err := parseStreamInf(line)
			if err != nil {
				return models.Manifest{}, fmt.Errorf("master playlist: %w", err)
			}
			pending = &v
			continue
		}

		if strings.HasPrefix(line, "#") {
			continue
		}

		// Non-comment line following a STREAM-INF tag is the variant URI.
		if pending != nil {
			pending.Label = labelForHeight(pending.Height)
			pending.PlaylistPath = line
			m.Variants = append(m.Variants, *pending)
			pending = nil
		}
	}

	if err := scanner.Err(); err != nil {
		return models.Manifest{}, fmt.Errorf("master playlist scan: %w", err)
	}
	if len(m.Variants) == 0 {
		return models.Manifest{}, models.ErrNoVariantsAvailable
	}

	return m, nil
}

// ParsePlaylist decodes a variant playlist.
func ParsePlaylist(r io.Reader) (models.VariantPlaylist, error) {
	scanner := bufio.NewScanner(r)

	var p models.VariantPlaylist
	var pendingDuration float64
	havePending := false
	firstLine := true

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		if firstLine {
			firstLine = false
			if !strings.HasPrefix(line, header) {
				return models.VariantPlaylist{}, fmt.Errorf("variant playlist: not m3u8 (first line %q)", line)
			}
			continue
		}

		switch {
		case strings.HasPrefix(line, "#EXT-X-TARGETDURATION:"):
			n, err := strconv.Atoi(strings.TrimPrefix(line, "#EXT-X-TARGETDURATION:"))
			if err != nil {
				return models.VariantPlaylist{}, fmt.Errorf("variant playlist: bad target duration %q: %w", line, err)
			}
			p.TargetDuration = n
		case strings.HasPrefix(line, "#EXT-X-MEDIA-SEQUENCE:"):
			n, err := strconv.Atoi(strings.TrimPrefix(line, "#EXT-X-MEDIA-SEQUENCE:"))
			if err != nil {
				return models.VariantPlaylist{}, fmt.Errorf("variant playlist: bad media sequence %q: %w", line, err)
			}
			p.MediaSequence = n
		case strings.HasPrefix(line, "#EXTINF:"):
			value := strings.TrimSuffix(strings.TrimPrefix(line, "#EXTINF:"), ",")
			d, err := strconv.ParseFloat(value, 64)
			if err != nil {
				return models.VariantPlaylist{}, fmt.Errorf("variant playlist: bad segment duration %q: %w", line, err)
			}
			pendingDuration = d
			havePending = true
		case line == "#EXT-X-ENDLIST":
			p.EndList = true
		case strings.HasPrefix(line, "#"):
			// Unknown tag, skip.
		default:
			if havePending {
				p.Segments = append(p.Segments, models.Segment{
					Index:    len(p.Segments),
					Duration: pendingDuration,
					Path:     line,
				})
				havePending = false
			}
		}
	}

	if err := scanner.Err(); err != nil {
		return models.VariantPlaylist{}, fmt.Errorf("variant playlist scan: %w", err)
	}

	return p, nil
}

func parseStreamInf(line string) (models.QualityVariant, error) {
	var v models.QualityVariant

	attrs := streamInfRE.FindAllStringSubmatch(strings.TrimPrefix(line, "#EXT-X-STREAM-INF:"), -1)
	for _, m := range attrs {
		value := m[2]
		if value == "" {
			value = m[3]
		}
		switch m[1] {
		case "BANDWIDTH":
			bw, err := strconv.Atoi(value)
			if err != nil {
				return models.QualityVariant{}, fmt.Errorf("bad bandwidth %q: %w", value, err)
			}
			v.Bandwidth = bw
		case "RESOLUTION":
			w, h, ok := strings.Cut(value, "x")
			if !ok {
				return models.QualityVariant{}, fmt.Errorf("bad resolution %q", value)
			}
			width, err := strconv.Atoi(w)
			if err != nil {
				return models.QualityVariant{}, fmt.Errorf("bad resolution %q: %w", value, err)
			}
			height, err := strconv.Atoi(h)
			if err != nil {
				return models.QualityVariant{}, fmt.Errorf("bad resolution %q: %w", value, err)
			}
			v.Width = width
			v.Height = height
		}
	}

	return v, nil
}

func labelForHeight(h int) models.QualityLabel {
	switch {
	case h >= 2160:
		return models.Quality4K
	case h >= 1080:
		return models.Quality1080p
	case h >= 720:
		return models.Quality720p
	default:
		return models.Quality480p
	}
}
