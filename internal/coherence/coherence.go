// Package coherence aggregates per-device physiological coherence readings
// into a single scalar per sampling tick.
//
// The sensor collaborator pushes readings asynchronously; the session
// controller drains them into the aggregator at tick boundaries, so the
// aggregator itself is single-goroutine and unlocked.
package coherence

import "math"

// Reading is one device's coherence scalar for a tick.
type Reading struct {
	DeviceID string  `json:"device_id"`
	Value    float64 `json:"value"` // in [0,1]
	Tick     uint64  `json:"tick"`
}

// Aggregate is the derived per-tick scalar. When no device reported within
// the staleness window, NoData is set instead of defaulting the value to 0.
type Aggregate struct {
	Tick        uint64  `json:"tick"`
	Value       float64 `json:"value"`
	DeviceCount int     `json:"device_count"`
	NoData      bool    `json:"no_data"`
}

type deviceState struct {
	value float64
	tick  uint64
}

// Aggregator collects readings, drops stale devices, and evaluates the
// auto-mark threshold with hysteresis.
//
// Hysteresis: an automatic trigger requires the aggregate to reach
// threshold + band while armed; firing disarms, and the trigger re-arms only
// once the aggregate falls back below the threshold. A noisy signal hovering
// at the boundary therefore fires at most once per excursion.
type Aggregator struct {
	staleness uint64
	threshold float64
	band      float64

	devices map[string]deviceState
	tick    uint64
	armed   bool
}

// NewAggregator creates an aggregator. stalenessTicks is how many ticks a
// device reading stays in-window; threshold and band configure auto-marking.
func NewAggregator(stalenessTicks uint64, threshold, band float64) *Aggregator {
	return &Aggregator{
		staleness: max(stalenessTicks, 1),
		threshold: threshold,
		band:      band,
		devices:   map[string]deviceState{},
		armed:     true,
	}
}

// Ingest records a device reading. Readings outside [0,1] are discarded, and
// delivery is de-duplicated by (device, tick): a repeat of an already-seen
// tick for the same device is ignored (at-least-once transport upstream).
func (a *Aggregator) Ingest(r Reading) {
	if r.Value < 0 || r.Value > 1 || math.IsNaN(r.Value) {
		return
	}
	if prev, ok := a.devices[r.DeviceID]; ok && prev.tick == r.Tick {
		return
	}
	a.devices[r.DeviceID] = deviceState{value: r.Value, tick: r.Tick}
}

// Advance moves the aggregator to the given tick and prunes devices that
// fell out of the staleness window. A device that stops reporting is dropped
// from the average entirely, never treated as zero.
func (a *Aggregator) Advance(tick uint64) {
	a.tick = tick
	for id, st := range a.devices {
		if a.ageOf(st.tick) >= a.staleness {
			delete(a.devices, id)
		}
	}
}

func (a *Aggregator) ageOf(readingTick uint64) uint64 {
	if readingTick >= a.tick {
		return 0
	}
	return a.tick - readingTick
}

// Current returns the aggregate for the current tick: the arithmetic mean of
// in-window device readings, or a no-data aggregate when none exist.
func (a *Aggregator) Current() Aggregate {
	var sum float64
	var count int

	for _, st := range a.devices {
		if a.ageOf(st.tick) >= a.staleness {
			continue
		}
		sum += st.value
		count++
	}

	if count == 0 {
		return Aggregate{Tick: a.tick, NoData: true}
	}
	return Aggregate{Tick: a.tick, Value: sum / float64(count), DeviceCount: count}
}

// ThresholdCrossed evaluates the current aggregate against the auto-mark
// threshold, applying hysteresis. It returns true exactly when an automatic
// marker should fire, and the aggregate that triggered it.
func (a *Aggregator) ThresholdCrossed() (bool, Aggregate) {
	agg := a.Current()
	if agg.NoData {
		return false, agg
	}

	if a.armed && agg.Value >= a.threshold+a.band {
		a.armed = false
		return true, agg
	}
	if !a.armed && agg.Value < a.threshold {
		a.armed = true
	}
	return false, agg
}

// Reset clears all device state and re-arms the trigger (session start).
func (a *Aggregator) Reset() {
	clear(a.devices)
	a.tick = 0
	a.armed = true
}

// DeviceCount returns the number of devices currently tracked.
func (a *Aggregator) DeviceCount() int { return len(a.devices) }
