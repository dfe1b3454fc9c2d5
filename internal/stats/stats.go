// Package stats maintains rolling statistics over the mindfield bitstream.
//
// All running values update in O(1) per observation (Welford's algorithm);
// no history is stored. Significance is a z-score of the running mean
// against the theoretical null for an unbiased bit: mean 0.5, variance 0.25.
package stats

import "math"

// Null hypothesis parameters for a single unbiased bit.
const (
	NullMean     = 0.5
	NullVariance = 0.25
)

// Accumulator is an incremental mean/variance accumulator.
type Accumulator struct {
	n    uint64
	mean float64
	m2   float64
}

// Add folds one observation into the accumulator.
func (a *Accumulator) Add(x float64) {
	a.n++
	delta := x - a.mean
	a.mean += delta / float64(a.n)
	a.m2 += delta * (x - a.mean)
}

// AddBit folds a single bit observation into the accumulator.
func (a *Accumulator) AddBit(bit uint8) {
	a.Add(float64(bit & 1))
}

// Count returns the number of observations.
func (a *Accumulator) Count() uint64 { return a.n }

// Mean returns the running mean, or 0 when empty.
func (a *Accumulator) Mean() float64 { return a.mean }

// Variance returns the population variance, or 0 for n < 2.
func (a *Accumulator) Variance() float64 {
	if a.n < 2 {
		return 0
	}
	return a.m2 / float64(a.n)
}

// Reset clears the accumulator.
func (a *Accumulator) Reset() {
	*a = Accumulator{}
}

// ZScore returns the deviation of the running mean from the theoretical null
// in standard errors: z = (mean - mu0) / (sigma0 / sqrt(n)). The second
// return is false while n = 0 (insufficient data), never a division by zero.
func (a *Accumulator) ZScore(nullMean, nullVariance float64) (float64, bool) {
	if a.n == 0 {
		return 0, false
	}
	se := math.Sqrt(nullVariance / float64(a.n))
	return (a.mean - nullMean) / se, true
}

// Engine tracks two parallel accumulators over the session bitstream: one
// since session start and one since the last marker, for short-window
// sensitivity.
type Engine struct {
	sinceStart  Accumulator
	sinceMarker Accumulator
}

// Observe folds bits (low bitsPerSample bits of v, MSB first) into both
// windows.
func (e *Engine) Observe(v uint64, bitsPerSample int) {
	for i := bitsPerSample - 1; i >= 0; i-- {
		bit := uint8((v >> uint(i)) & 1)
		e.sinceStart.AddBit(bit)
		e.sinceMarker.AddBit(bit)
	}
}

// MarkerReset clears the since-marker window.
func (e *Engine) MarkerReset() {
	e.sinceMarker.Reset()
}

// Reset clears both windows (session start).
func (e *Engine) Reset() {
	e.sinceStart.Reset()
	e.sinceMarker.Reset()
}

// Counters is the cumulative statistics record attached to every sample.
type Counters struct {
	Count    uint64  `json:"count"`
	Mean     float64 `json:"mean"`
	Variance float64 `json:"variance"`
	ZScore   float64 `json:"z_score"`
	// ZValid is false while no bits have been observed; the z-score is
	// reported as insufficient-data rather than a number.
	ZValid bool `json:"z_valid"`
}

func snapshot(a *Accumulator) Counters {
	z, ok := a.ZScore(NullMean, NullVariance)
	return Counters{
		Count:    a.Count(),
		Mean:     a.Mean(),
		Variance: a.Variance(),
		ZScore:   z,
		ZValid:   ok,
	}
}

// SinceStart returns the counters for the whole-session window.
func (e *Engine) SinceStart() Counters { return snapshot(&e.sinceStart) }

// SinceMarker returns the counters for the since-last-marker window.
func (e *Engine) SinceMarker() Counters { return snapshot(&e.sinceMarker) }
