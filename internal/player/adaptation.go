package player

import (
	"time"

	"github.com/amaumene/gostreamd/internal/models"
)

// throughputEstimator keeps a rolling window of recent segment download
// rates. The estimate is the window mean in bits per second.
type throughputEstimator struct {
	samples []float64
	window  int
}

func newThroughputEstimator(window int) *throughputEstimator {
	if window <= 0 {
		window = 5
	}
	return &throughputEstimator{window: window}
}

// Record adds one download measurement.
func (t *throughputEstimator) Record(payloadBytes int, elapsed time.Duration) {
	if elapsed <= 0 || payloadBytes <= 0 {
		return
	}
	bps := float64(payloadBytes*8) / elapsed.Seconds()

	t.samples = append(t.samples, bps)
	if len(t.samples) > t.window {
		t.samples = t.samples[len(t.samples)-t.window:]
	}
}

// Estimate returns the mean rate in bits per second, or 0 with no samples.
func (t *throughputEstimator) Estimate() float64 {
	if len(t.samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range t.samples {
		sum += s
	}
	return sum / float64(len(t.samples))
}

func (t *throughputEstimator) Reset() {
	t.samples = t.samples[:0]
}

// pickVariant chooses the variant index for AUTO mode: the highest-bandwidth
// variant whose bandwidth fits under estimate*safetyMargin, moved at most one
// step away from current per evaluation. With no estimate yet the current
// choice stands; when nothing fits, selection walks down toward the lowest
// variant rather than refusing to play.
func pickVariant(variants []models.QualityVariant, current int, estimate, safetyMargin float64) int {
	if len(variants) == 0 {
		return current
	}
	if estimate <= 0 {
		return current
	}

	budget := estimate * safetyMargin

	ideal := 0
	for i, v := range variants {
		if float64(v.Bandwidth) <= budget {
			ideal = i
		}
	}

	// One step per evaluation window, up or down.
	switch {
	case ideal > current:
		return current + 1
	case ideal < current:
		return current - 1
	default:
		return current
	}
}
