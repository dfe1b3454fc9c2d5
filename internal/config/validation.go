package config

import (
	"errors"
	"fmt"
)

// Validation errors.
var (
	ErrInvalidRate      = errors.New("config: sampling rate must be between 1 and 1000 Hz")
	ErrInvalidThreshold = errors.New("config: auto-mark threshold must be in (0, 1]")
)

// Validate checks the configuration for invalid or inconsistent values.
func (c *Config) Validate() error {
	if c.Sampling.RateHz < 1 || c.Sampling.RateHz > 1000 {
		return ErrInvalidRate
	}
	if c.Sampling.BitsPerTick < 1 || c.Sampling.BitsPerTick > 64 {
		return fmt.Errorf("config: bits_per_tick must be between 1 and 64, got %d", c.Sampling.BitsPerTick)
	}
	if c.Sampling.CoherenceQueueSize < 1 {
		return fmt.Errorf("config: coherence_queue_size must be positive, got %d", c.Sampling.CoherenceQueueSize)
	}

	if c.Entropy.ReseedIntervalSec < 1 {
		return fmt.Errorf("config: reseed_interval_sec must be positive, got %d", c.Entropy.ReseedIntervalSec)
	}
	if c.Entropy.MaxBytesPerReseed < 64 {
		return fmt.Errorf("config: max_bytes_per_reseed must be at least 64, got %d", c.Entropy.MaxBytesPerReseed)
	}
	if c.Entropy.FetchTimeoutMs < 1 {
		return fmt.Errorf("config: fetch_timeout_ms must be positive, got %d", c.Entropy.FetchTimeoutMs)
	}
	if c.Entropy.HealthTolerance <= 0 || c.Entropy.HealthTolerance >= 1 {
		return fmt.Errorf("config: health_tolerance must be in (0, 1), got %g", c.Entropy.HealthTolerance)
	}

	if c.Coherence.AutoMarkThreshold <= 0 || c.Coherence.AutoMarkThreshold > 1 {
		return ErrInvalidThreshold
	}
	if c.Coherence.HysteresisBand < 0 || c.Coherence.HysteresisBand >= c.Coherence.AutoMarkThreshold {
		return fmt.Errorf("config: hysteresis_band must be in [0, threshold), got %g", c.Coherence.HysteresisBand)
	}
	if c.Coherence.StalenessTicks < 1 {
		return fmt.Errorf("config: staleness_ticks must be positive, got %d", c.Coherence.StalenessTicks)
	}

	if c.Session.BaselineDurationSec < 1 {
		return fmt.Errorf("config: baseline_duration_sec must be positive, got %d", c.Session.BaselineDurationSec)
	}

	switch c.Storage.Type {
	case "sqlite":
		if c.Storage.Path == "" {
			return errors.New("config: storage.path required for sqlite backend")
		}
	case "none":
	default:
		return fmt.Errorf("config: unknown storage type %q", c.Storage.Type)
	}

	switch c.Export.Format {
	case "csv", "json", "both":
	default:
		return fmt.Errorf("config: unknown export format %q", c.Export.Format)
	}

	return nil
}
