package entropy

import (
	"fmt"
	"time"
)

// SoftwareSource is the process-seeded CSPRNG source. It is the mandatory
// fallback: the system refuses to start without it, and it alone is enough
// for statistically correct operation.
type SoftwareSource struct {
	counters
}

// NewSoftwareSource creates the software source and verifies the CSPRNG is
// readable. Failure here is fatal to session start.
func NewSoftwareSource() (*SoftwareSource, error) {
	s := &SoftwareSource{}
	var probe [16]byte
	if err := readSystemRandom(probe[:]); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSoftwareSourceFailed, err)
	}
	return s, nil
}

// Name returns the source name.
func (s *SoftwareSource) Name() string { return "software-csprng" }

// Provenance returns ProvenanceSoftware.
func (s *SoftwareSource) Provenance() Provenance { return ProvenanceSoftware }

// Available always reports true; the constructor already proved readability.
func (s *SoftwareSource) Available() bool { return true }

// TryFetch returns maxBytes from the system CSPRNG.
func (s *SoftwareSource) TryFetch(maxBytes int) (Chunk, error) {
	if maxBytes <= 0 {
		return Chunk{Provenance: ProvenanceSoftware, Source: s.Name(), ArrivedAt: time.Now()}, nil
	}

	buf := make([]byte, maxBytes)
	if err := readSystemRandom(buf); err != nil {
		s.recordError(err)
		return Chunk{}, fmt.Errorf("%w: %v", ErrSoftwareSourceFailed, err)
	}

	s.recordSuccess(len(buf))
	return Chunk{
		Bytes:      buf,
		Provenance: ProvenanceSoftware,
		Source:     s.Name(),
		ArrivedAt:  time.Now(),
	}, nil
}

// Stats returns counters about the source.
func (s *SoftwareSource) Stats() SourceStats {
	stats := SourceStats{
		Name:       s.Name(),
		Provenance: s.Provenance().String(),
		Available:  true,
		Healthy:    true,
	}
	s.fill(&stats)
	return stats
}
