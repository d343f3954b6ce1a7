package correlate

import (
	"math"
	"sort"
	"time"
)

// BurstyThreshold is the score at or above which a recon sequence is called
// bursty. Scores run 0 to 10.
const BurstyThreshold = 6.0

// Burstiness scores how clustered a sequence of recon timestamps is, from 0
// (evenly spaced) to 10 (tight burst). It uses the normalized dispersion of
// inter-arrival times: B = (cv - 1) / (cv + 1) where cv is the coefficient of
// variation, mapped onto 0..10. Fewer than three events score 0; a sequence
// with zero mean gap (all simultaneous) scores 10.
func Burstiness(timestamps []time.Time) float64 {
	if len(timestamps) < 3 {
		return 0
	}

	ts := make([]time.Time, len(timestamps))
	copy(ts, timestamps)
	sort.Slice(ts, func(i, j int) bool { return ts[i].Before(ts[j]) })

	gaps := make([]float64, 0, len(ts)-1)
	for i := 1; i < len(ts); i++ {
		gaps = append(gaps, ts[i].Sub(ts[i-1]).Seconds())
	}

	var sum float64
	for _, g := range gaps {
		sum += g
	}
	mean := sum / float64(len(gaps))
	if mean == 0 {
		return 10
	}

	var variance float64
	for _, g := range gaps {
		d := g - mean
		variance += d * d
	}
	variance /= float64(len(gaps))

	cv := math.Sqrt(variance) / mean
	b := (cv - 1) / (cv + 1)
	if b < 0 {
		return 0
	}
	return b * 10
}
