//go:build linux

package entropy

import (
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/google/go-tpm/tpm2"
	"github.com/google/go-tpm/tpm2/transport"
)

// TPM device paths in order of preference.
var tpmDevicePaths = []string{
	"/dev/tpmrm0", // TPM resource manager (preferred)
	"/dev/tpm0",   // direct access (fallback)
}

// TPMSource draws seed material from a TPM 2.0 hardware RNG. Like the radio
// source it is strictly additive: unavailability is degraded operation, not
// an error surface.
type TPMSource struct {
	counters

	mu         sync.Mutex
	devicePath string
	transport  transport.TPMCloser
}

// NewTPMSource opens the TPM at devicePath, auto-detecting when empty.
// It returns ErrUnavailable when no usable TPM exists.
func NewTPMSource(devicePath string) (*TPMSource, error) {
	if devicePath == "" {
		devicePath = detectTPMDevice()
	}
	if devicePath == "" {
		return nil, ErrUnavailable
	}

	t, err := transport.OpenTPM(devicePath)
	if err != nil {
		return nil, fmt.Errorf("open TPM %s: %w", devicePath, err)
	}

	return &TPMSource{devicePath: devicePath, transport: t}, nil
}

func detectTPMDevice() string {
	for _, path := range tpmDevicePaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// Name returns the source name.
func (s *TPMSource) Name() string { return "tpm" }

// Provenance returns ProvenanceHardware.
func (s *TPMSource) Provenance() Provenance { return ProvenanceHardware }

// Available reports whether the TPM transport is open.
func (s *TPMSource) Available() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.transport != nil
}

// TryFetch requests up to maxBytes from the TPM RNG. TPM2_GetRandom caps a
// single request at the digest size, so larger requests are chunked.
func (s *TPMSource) TryFetch(maxBytes int) (Chunk, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.transport == nil || maxBytes <= 0 {
		return Chunk{}, ErrUnavailable
	}

	const perCall = 32
	out := make([]byte, 0, maxBytes)

	for len(out) < maxBytes {
		ask := maxBytes - len(out)
		if ask > perCall {
			ask = perCall
		}

		resp, err := tpm2.GetRandom{BytesRequested: uint16(ask)}.Execute(s.transport)
		if err != nil {
			s.recordError(err)
			return Chunk{}, ErrUnavailable
		}
		if len(resp.RandomBytes.Buffer) == 0 {
			s.recordError(ErrUnavailable)
			return Chunk{}, ErrUnavailable
		}
		out = append(out, resp.RandomBytes.Buffer...)
	}

	s.recordSuccess(len(out))
	return Chunk{
		Bytes:      out,
		Provenance: ProvenanceHardware,
		Source:     s.Name(),
		ArrivedAt:  time.Now(),
	}, nil
}

// Stats returns counters about the source.
func (s *TPMSource) Stats() SourceStats {
	stats := SourceStats{
		Name:       s.Name(),
		Provenance: s.Provenance().String(),
		Available:  s.Available(),
		Healthy:    s.Available(),
	}
	s.fill(&stats)
	return stats
}

// Close releases the TPM transport.
func (s *TPMSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.transport == nil {
		return nil
	}
	err := s.transport.Close()
	s.transport = nil
	return err
}
