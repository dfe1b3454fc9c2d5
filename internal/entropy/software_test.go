package entropy

import (
	"bytes"
	"testing"
)

func TestSoftwareSourceFetch(t *testing.T) {
	src, err := NewSoftwareSource()
	if err != nil {
		t.Fatalf("NewSoftwareSource failed: %v", err)
	}

	if !src.Available() {
		t.Fatal("software source must always be available")
	}
	if src.Provenance() != ProvenanceSoftware {
		t.Errorf("expected software provenance, got %v", src.Provenance())
	}

	chunk, err := src.TryFetch(64)
	if err != nil {
		t.Fatalf("TryFetch failed: %v", err)
	}
	if len(chunk.Bytes) != 64 {
		t.Errorf("expected 64 bytes, got %d", len(chunk.Bytes))
	}
	if bytes.Equal(chunk.Bytes, make([]byte, 64)) {
		t.Error("fetched bytes are all zero")
	}

	second, err := src.TryFetch(64)
	if err != nil {
		t.Fatalf("second TryFetch failed: %v", err)
	}
	if bytes.Equal(chunk.Bytes, second.Bytes) {
		t.Error("consecutive fetches returned identical bytes")
	}

	stats := src.Stats()
	if stats.BytesFetched != 128 {
		t.Errorf("expected 128 bytes fetched, got %d", stats.BytesFetched)
	}
	if stats.Errors != 0 {
		t.Errorf("expected no errors, got %d", stats.Errors)
	}
}
