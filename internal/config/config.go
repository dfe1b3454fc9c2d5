// Package config handles configuration loading, validation, and management
// for mindfield.
package config

import (
	"os"
	"strconv"
	"time"
)

// Version is the current configuration schema version.
const Version = 1

// Config holds the complete daemon configuration.
type Config struct {
	// Version is the configuration schema version.
	Version int `toml:"version" json:"version" yaml:"version"`

	// Sampling configuration for the bit collection loop.
	Sampling SamplingConfig `toml:"sampling" json:"sampling" yaml:"sampling"`

	// Entropy configuration for sources and reseeding.
	Entropy EntropyConfig `toml:"entropy" json:"entropy" yaml:"entropy"`

	// Coherence configuration for sensor aggregation and auto-marking.
	Coherence CoherenceConfig `toml:"coherence" json:"coherence" yaml:"coherence"`

	// Session configuration for baseline/experiment behavior.
	Session SessionConfig `toml:"session" json:"session" yaml:"session"`

	// Storage configuration for persistence.
	Storage StorageConfig `toml:"storage" json:"storage" yaml:"storage"`

	// Export configuration for CSV/JSON writers.
	Export ExportConfig `toml:"export" json:"export" yaml:"export"`

	// IPC configuration for the control socket.
	IPC IPCConfig `toml:"ipc" json:"ipc" yaml:"ipc"`

	// Logging configuration.
	Logging LoggingConfig `toml:"logging" json:"logging" yaml:"logging"`
}

// SamplingConfig paces the bit collection loop.
type SamplingConfig struct {
	// RateHz is the tick rate of the sample clock.
	RateHz int `toml:"rate_hz" json:"rate_hz" yaml:"rate_hz"`

	// BitsPerTick is how many bits are drawn from the DRBG each tick.
	BitsPerTick int `toml:"bits_per_tick" json:"bits_per_tick" yaml:"bits_per_tick"`

	// CoherenceQueueSize bounds the sensor reading queue.
	CoherenceQueueSize int `toml:"coherence_queue_size" json:"coherence_queue_size" yaml:"coherence_queue_size"`

}

// EntropyConfig controls entropy sources and the reseed policy.
type EntropyConfig struct {
	// ReseedIntervalSec forces a reseed at least this often, regardless of
	// hardware availability.
	ReseedIntervalSec int `toml:"reseed_interval_sec" json:"reseed_interval_sec" yaml:"reseed_interval_sec"`

	// MaxBytesPerReseed is the maximum DRBG output between reseeds.
	MaxBytesPerReseed int `toml:"max_bytes_per_reseed" json:"max_bytes_per_reseed" yaml:"max_bytes_per_reseed"`

	// FetchTimeoutMs bounds how long a hardware fetch may block.
	FetchTimeoutMs int `toml:"fetch_timeout_ms" json:"fetch_timeout_ms" yaml:"fetch_timeout_ms"`

	// EnableTPM adds the TPM random number generator as a seed source.
	EnableTPM bool `toml:"enable_tpm" json:"enable_tpm" yaml:"enable_tpm"`

	// TPMDevice is the TPM device path. Empty means auto-detect.
	TPMDevice string `toml:"tpm_device" json:"tpm_device" yaml:"tpm_device"`

	// HealthTargetEntropy is the expected Shannon entropy per raw hardware
	// bit. Raw radio samples are biased, so this is well below 1.0.
	HealthTargetEntropy float64 `toml:"health_target_entropy" json:"health_target_entropy" yaml:"health_target_entropy"`

	// HealthTolerance is the allowed relative deviation from the target.
	HealthTolerance float64 `toml:"health_tolerance" json:"health_tolerance" yaml:"health_tolerance"`

	// HealthWindowBits is how many bits are observed before the health
	// check starts enforcing the tolerance.
	HealthWindowBits uint64 `toml:"health_window_bits" json:"health_window_bits" yaml:"health_window_bits"`
}

// CoherenceConfig controls sensor aggregation and automatic markers.
type CoherenceConfig struct {
	// AutoMarkThreshold triggers an automatic marker when the aggregate
	// coherence crosses above it during an experiment.
	AutoMarkThreshold float64 `toml:"auto_mark_threshold" json:"auto_mark_threshold" yaml:"auto_mark_threshold"`

	// HysteresisBand is added to the threshold before a marker fires; the
	// trigger re-arms once the aggregate falls back below the threshold.
	HysteresisBand float64 `toml:"hysteresis_band" json:"hysteresis_band" yaml:"hysteresis_band"`

	// StalenessTicks is how many ticks a device reading stays in-window.
	StalenessTicks uint64 `toml:"staleness_ticks" json:"staleness_ticks" yaml:"staleness_ticks"`
}

// SessionConfig controls session semantics.
type SessionConfig struct {
	// BaselineDurationSec is the fixed baseline session length.
	BaselineDurationSec int `toml:"baseline_duration_sec" json:"baseline_duration_sec" yaml:"baseline_duration_sec"`
}

// StorageConfig holds persistence configuration.
type StorageConfig struct {
	// Type is the storage backend: "sqlite" or "none".
	Type string `toml:"type" json:"type" yaml:"type"`

	// Path is the path to the database file (for sqlite).
	Path string `toml:"path" json:"path" yaml:"path"`
}

// ExportConfig holds file export configuration.
type ExportConfig struct {
	// Dir is the directory session exports are written into.
	Dir string `toml:"dir" json:"dir" yaml:"dir"`

	// Format is "csv", "json", or "both".
	Format string `toml:"format" json:"format" yaml:"format"`
}

// IPCConfig holds control socket configuration.
type IPCConfig struct {
	// SocketPath is the unix socket the daemon listens on.
	SocketPath string `toml:"socket_path" json:"socket_path" yaml:"socket_path"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	// Level is debug, info, warn, or error.
	Level string `toml:"level" json:"level" yaml:"level"`

	// Format is text or json.
	Format string `toml:"format" json:"format" yaml:"format"`
}

// Default returns a configuration with sensible defaults.
func Default() *Config {
	return &Config{
		Version: Version,
		Sampling: SamplingConfig{
			RateHz:             100,
			BitsPerTick:        8,
			CoherenceQueueSize: 256,
		},
		Entropy: EntropyConfig{
			ReseedIntervalSec:   60,
			MaxBytesPerReseed:   4096,
			FetchTimeoutMs:      250,
			EnableTPM:           false,
			HealthTargetEntropy: 0.864,
			HealthTolerance:     0.05,
			HealthWindowBits:    80000,
		},
		Coherence: CoherenceConfig{
			AutoMarkThreshold: 0.8,
			HysteresisBand:    0.05,
			StalenessTicks:    2,
		},
		Session: SessionConfig{
			BaselineDurationSec: 300,
		},
		Storage: StorageConfig{
			Type: "sqlite",
			Path: DefaultDatabasePath(),
		},
		Export: ExportConfig{
			Dir:    DefaultExportDir(),
			Format: "both",
		},
		IPC: IPCConfig{
			SocketPath: DefaultSocketPath(),
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// ReseedInterval returns the reseed interval as a duration.
func (c *EntropyConfig) ReseedInterval() time.Duration {
	return time.Duration(c.ReseedIntervalSec) * time.Second
}

// FetchTimeout returns the hardware fetch timeout as a duration.
func (c *EntropyConfig) FetchTimeout() time.Duration {
	return time.Duration(c.FetchTimeoutMs) * time.Millisecond
}

// TickPeriod returns the sample clock period.
func (c *SamplingConfig) TickPeriod() time.Duration {
	return time.Second / time.Duration(c.RateHz)
}

// BaselineDuration returns the baseline session length as a duration.
func (c *SessionConfig) BaselineDuration() time.Duration {
	return time.Duration(c.BaselineDurationSec) * time.Second
}

// ApplyEnvOverrides applies MINDFIELD_* environment variables on top of the
// loaded configuration.
func (c *Config) ApplyEnvOverrides() {
	if v := os.Getenv("MINDFIELD_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("MINDFIELD_LOG_FORMAT"); v != "" {
		c.Logging.Format = v
	}
	if v := os.Getenv("MINDFIELD_SOCKET"); v != "" {
		c.IPC.SocketPath = v
	}
	if v := os.Getenv("MINDFIELD_DB"); v != "" {
		c.Storage.Path = v
	}
	if v := os.Getenv("MINDFIELD_RATE_HZ"); v != "" {
		if hz, err := strconv.Atoi(v); err == nil && hz > 0 {
			c.Sampling.RateHz = hz
		}
	}
}
