package coherence

import "math"

// minRRSamples is how many RR intervals are needed before a coherence value
// is meaningful.
const minRRSamples = 10

// rmssdScaleMs normalizes RMSSD into the [0,1] coherence range. Typical
// RMSSD runs 20-100 ms; lower beat-to-beat variability maps to higher
// coherence.
const rmssdScaleMs = 50.0

// FromRRIntervals derives a [0,1] coherence scalar from a window of RR
// intervals in milliseconds, for sensor collaborators that deliver raw beat
// timing instead of a precomputed scalar. Fewer than minRRSamples intervals
// yield 0.
func FromRRIntervals(rrMs []float64) float64 {
	if len(rrMs) < minRRSamples {
		return 0
	}

	var sumSq float64
	for i := 1; i < len(rrMs); i++ {
		d := rrMs[i] - rrMs[i-1]
		sumSq += d * d
	}
	rmssd := math.Sqrt(sumSq / float64(len(rrMs)-1))

	c := 1 / (1 + rmssd/rmssdScaleMs)
	return math.Min(math.Max(c, 0), 1)
}
