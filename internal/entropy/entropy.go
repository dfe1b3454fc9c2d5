// Package entropy provides raw entropy collection for the mindfield DRBG.
//
// This package implements:
//   - A capability interface over polymorphic entropy sources
//   - A software CSPRNG source (the only correctness dependency)
//   - A hardware radio source wrapping an injected raw-sample reader
//   - An optional TPM 2.0 random number generator source
//   - Shannon-entropy health monitoring of raw hardware output
//
// Hardware sources are strictly additive seed material. Every raw chunk is
// cryptographically whitened downstream, so a biased or failing device can
// never reduce output quality below the software baseline.
package entropy

import (
	"errors"
	"sync/atomic"
	"time"
)

// Entropy errors.
var (
	// ErrUnavailable reports that a source produced no bytes. Callers fall
	// back to the software path; this is never a session failure.
	ErrUnavailable = errors.New("entropy: source unavailable")

	// ErrSoftwareSourceFailed reports that the software CSPRNG cannot be
	// read. This is the only fatal entropy condition.
	ErrSoftwareSourceFailed = errors.New("entropy: software CSPRNG unavailable")
)

// Provenance identifies where a chunk's bytes came from.
type Provenance int

const (
	ProvenanceSoftware Provenance = iota
	ProvenanceHardware
)

// String returns a human-readable name for the provenance tag.
func (p Provenance) String() string {
	switch p {
	case ProvenanceSoftware:
		return "software"
	case ProvenanceHardware:
		return "hardware"
	default:
		return "unknown"
	}
}

// Chunk is an opaque byte sequence from an entropy source. Immutable once
// produced.
type Chunk struct {
	Bytes      []byte
	Provenance Provenance
	Source     string
	ArrivedAt  time.Time
}

// Source is an entropy source. TryFetch must never block longer than the
// source's configured timeout; on timeout or device error it returns
// ErrUnavailable and the caller continues on the software path.
type Source interface {
	// Name returns the source name.
	Name() string

	// Provenance returns the provenance tag applied to fetched chunks.
	Provenance() Provenance

	// Available reports whether the source can currently be used.
	Available() bool

	// TryFetch returns up to maxBytes of raw entropy.
	TryFetch(maxBytes int) (Chunk, error)

	// Stats returns counters about the source.
	Stats() SourceStats
}

// SourceStats contains statistics about an entropy source.
type SourceStats struct {
	Name           string    `json:"name"`
	Provenance     string    `json:"provenance"`
	Available      bool      `json:"available"`
	Healthy        bool      `json:"healthy"`
	BytesFetched   uint64    `json:"bytes_fetched"`
	Errors         uint64    `json:"errors"`
	LastError      string    `json:"last_error,omitempty"`
	LastSuccess    time.Time `json:"last_success"`
	EntropyPerBit  float64   `json:"entropy_per_bit,omitempty"`
}

// counters is the shared bookkeeping embedded by source implementations.
type counters struct {
	bytesFetched atomic.Uint64
	errors       atomic.Uint64
	lastError    atomic.Pointer[string]
	lastSuccess  atomic.Int64 // unix nanos
}

func (c *counters) recordSuccess(n int) {
	c.bytesFetched.Add(uint64(n))
	c.lastSuccess.Store(time.Now().UnixNano())
}

func (c *counters) recordError(err error) {
	c.errors.Add(1)
	msg := err.Error()
	c.lastError.Store(&msg)
}

func (c *counters) fill(s *SourceStats) {
	s.BytesFetched = c.bytesFetched.Load()
	s.Errors = c.errors.Load()
	if msg := c.lastError.Load(); msg != nil {
		s.LastError = *msg
	}
	if ns := c.lastSuccess.Load(); ns != 0 {
		s.LastSuccess = time.Unix(0, ns)
	}
}
