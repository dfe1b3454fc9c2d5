package entropy

import (
	"sync/atomic"
	"time"
)

// RawReader is the hardware collaborator contract: a device driver that fills
// p with raw, unwhitened samples. The reader may block on device I/O; the
// RadioSource bounds every call with a timeout.
type RawReader interface {
	ReadRaw(p []byte) (n int, err error)
}

// RadioSource wraps a radio-frequency entropy device. It performs no
// cryptographic processing itself; raw samples only. Whitening happens in the
// DRBG.
type RadioSource struct {
	counters

	reader  RawReader
	timeout time.Duration
	health  *HealthMonitor

	// consecutive fetch failures; the source advertises unavailable after
	// too many so callers stop paying the timeout each cycle.
	failures atomic.Uint32
}

// maxConsecutiveFailures before the source reports unavailable. A later
// successful fetch resets the count, so a flapping device recovers on its own.
const maxConsecutiveFailures = 8

// NewRadioSource creates a hardware source over the given reader. A nil
// health monitor disables health tracking.
func NewRadioSource(reader RawReader, timeout time.Duration, health *HealthMonitor) *RadioSource {
	return &RadioSource{
		reader:  reader,
		timeout: timeout,
		health:  health,
	}
}

// Name returns the source name.
func (s *RadioSource) Name() string { return "radio" }

// Provenance returns ProvenanceHardware.
func (s *RadioSource) Provenance() Provenance { return ProvenanceHardware }

// Available reports whether the device has produced bytes recently.
func (s *RadioSource) Available() bool {
	return s.reader != nil && s.failures.Load() < maxConsecutiveFailures
}

type rawResult struct {
	n   int
	err error
}

// TryFetch reads up to maxBytes of raw samples from the device, bounded by
// the configured timeout. On timeout or device error it returns
// ErrUnavailable; the caller continues on the software path.
func (s *RadioSource) TryFetch(maxBytes int) (Chunk, error) {
	if s.reader == nil || maxBytes <= 0 {
		return Chunk{}, ErrUnavailable
	}

	buf := make([]byte, maxBytes)
	done := make(chan rawResult, 1)

	// The device read runs on its own goroutine; an overrunning read is
	// abandoned together with its buffer, never joined.
	go func() {
		n, err := s.reader.ReadRaw(buf)
		done <- rawResult{n: n, err: err}
	}()

	timer := time.NewTimer(s.timeout)
	defer timer.Stop()

	select {
	case res := <-done:
		if res.err != nil || res.n == 0 {
			if res.err != nil {
				s.recordError(res.err)
			}
			s.failures.Add(1)
			return Chunk{}, ErrUnavailable
		}

		s.failures.Store(0)
		s.recordSuccess(res.n)
		if s.health != nil {
			s.health.Add(buf[:res.n])
		}
		return Chunk{
			Bytes:      buf[:res.n],
			Provenance: ProvenanceHardware,
			Source:     s.Name(),
			ArrivedAt:  time.Now(),
		}, nil

	case <-timer.C:
		s.failures.Add(1)
		s.recordError(ErrUnavailable)
		return Chunk{}, ErrUnavailable
	}
}

// Stats returns counters about the source, including the health estimate.
func (s *RadioSource) Stats() SourceStats {
	stats := SourceStats{
		Name:       s.Name(),
		Provenance: s.Provenance().String(),
		Available:  s.Available(),
		Healthy:    true,
	}
	s.fill(&stats)
	if s.health != nil {
		stats.Healthy = s.health.IsHealthy()
		stats.EntropyPerBit = s.health.EstimatedEntropy()
	}
	return stats
}
