package entropy

import (
	"math"
	"sync"
)

// HealthMonitor estimates the Shannon entropy of a raw hardware bitstream
// using an order-7 Markov model: for each 7-bit history it tracks how often
// the next bit is 0 or 1 and accumulates the surprisal of what actually
// arrived. A healthy device converges near its physical entropy rate; a stuck
// or externally driven device collapses toward zero.
//
// An unhealthy verdict never blocks absorption (whitening makes biased input
// safe); it is surfaced in source stats and logs.
type HealthMonitor struct {
	mu sync.Mutex

	counts [128][2]uint32

	totalBits  uint64
	entropySum float64

	target    float64
	tolerance float64
	window    uint64
}

// NewHealthMonitor creates a monitor expecting the given entropy per raw bit,
// enforcing the tolerance only after window bits have been observed.
func NewHealthMonitor(target, tolerance float64, window uint64) *HealthMonitor {
	return &HealthMonitor{
		target:    target,
		tolerance: tolerance,
		window:    window,
	}
}

// Add processes raw bytes and updates the entropy estimate. It returns the
// resulting health verdict.
func (h *HealthMonitor) Add(data []byte) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	var history uint8

	for _, b := range data {
		for i := 0; i < 8; i++ {
			bit := (b >> (7 - i)) & 1

			c0 := float64(h.counts[history][0])
			c1 := float64(h.counts[history][1])
			total := c0 + c1

			if total > 0 {
				prob := 0.5
				if bit == 0 {
					prob = c0 / total
				} else {
					prob = c1 / total
				}
				if prob > 0 {
					h.entropySum += -math.Log2(prob)
				}
			}

			h.counts[history][bit]++
			history = ((history << 1) | bit) & 0x7F
			h.totalBits++
		}
	}

	return h.healthyLocked()
}

// IsHealthy reports whether the stream is within tolerance of the target.
// Before the warmup window fills this is always true.
func (h *HealthMonitor) IsHealthy() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.healthyLocked()
}

func (h *HealthMonitor) healthyLocked() bool {
	if h.totalBits < h.window {
		return true
	}
	actual := h.entropySum / float64(h.totalBits)
	return math.Abs(actual-h.target) <= h.target*h.tolerance
}

// EstimatedEntropy returns the current Shannon entropy estimate per bit.
func (h *HealthMonitor) EstimatedEntropy() float64 {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.totalBits == 0 {
		return 0
	}
	return h.entropySum / float64(h.totalBits)
}
