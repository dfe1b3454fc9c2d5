//go:build !linux

package entropy

// TPMSource is only implemented on Linux. Other platforms report
// ErrUnavailable at construction and the daemon runs without it.
type TPMSource struct {
	counters
}

// NewTPMSource reports ErrUnavailable on this platform.
func NewTPMSource(devicePath string) (*TPMSource, error) {
	return nil, ErrUnavailable
}

// Name returns the source name.
func (s *TPMSource) Name() string { return "tpm" }

// Provenance returns ProvenanceHardware.
func (s *TPMSource) Provenance() Provenance { return ProvenanceHardware }

// Available always reports false on this platform.
func (s *TPMSource) Available() bool { return false }

// TryFetch always reports ErrUnavailable on this platform.
func (s *TPMSource) TryFetch(maxBytes int) (Chunk, error) {
	return Chunk{}, ErrUnavailable
}

// Stats returns counters about the source.
func (s *TPMSource) Stats() SourceStats {
	return SourceStats{
		Name:       s.Name(),
		Provenance: s.Provenance().String(),
	}
}

// Close is a no-op on this platform.
func (s *TPMSource) Close() error { return nil }
