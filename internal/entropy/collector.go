package entropy

import (
	"context"
	"sync/atomic"
	"time"

	"mindfield/internal/logging"
)

// Absorber consumes entropy chunks. Implemented by the DRBG.
type Absorber interface {
	Absorb(chunk Chunk)
	Reseed()
}

// CollectorConfig configures the background collector.
type CollectorConfig struct {
	// PollInterval is how often hardware sources are polled.
	PollInterval time.Duration

	// ReseedInterval forces a software reseed of the absorber at least
	// this often, regardless of hardware availability.
	ReseedInterval time.Duration

	// FetchBytes is how many bytes each poll requests from a source.
	FetchBytes int
}

// DefaultCollectorConfig returns sensible defaults.
func DefaultCollectorConfig() CollectorConfig {
	return CollectorConfig{
		PollInterval:   5 * time.Second,
		ReseedInterval: time.Minute,
		FetchBytes:     64,
	}
}

// Collector polls hardware sources in the background and absorbs fresh
// chunks into the DRBG as they arrive. It also owns the wall-clock reseed
// timer so the DRBG makes forward progress with no hardware at all.
type Collector struct {
	cfg      CollectorConfig
	sources  []Source
	absorber Absorber
	log      *logging.Logger

	hardwareChunks atomic.Uint64
	fallbackPolls  atomic.Uint64
}

// NewCollector creates a collector over the given hardware sources.
func NewCollector(cfg CollectorConfig, absorber Absorber, log *logging.Logger, sources ...Source) *Collector {
	if log == nil {
		log = logging.Default()
	}
	return &Collector{
		cfg:      cfg,
		sources:  sources,
		absorber: absorber,
		log:      log.Component("entropy"),
	}
}

// Run polls until ctx is canceled. It blocks and is intended to run on its
// own goroutine; the absorber's lock is the only synchronization with the
// sampling thread.
func (c *Collector) Run(ctx context.Context) {
	poll := time.NewTicker(c.cfg.PollInterval)
	defer poll.Stop()

	reseed := time.NewTicker(c.cfg.ReseedInterval)
	defer reseed.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case <-poll.C:
			c.pollOnce()

		case <-reseed.C:
			c.absorber.Reseed()
			c.log.Debug("periodic reseed")
		}
	}
}

func (c *Collector) pollOnce() {
	got := false
	for _, src := range c.sources {
		if !src.Available() {
			continue
		}

		chunk, err := src.TryFetch(c.cfg.FetchBytes)
		if err != nil {
			c.log.Debug("source fetch failed", "source", src.Name(), "error", err)
			continue
		}

		c.absorber.Absorb(chunk)
		c.hardwareChunks.Add(1)
		got = true

		if stats := src.Stats(); !stats.Healthy {
			c.log.Warn("entropy source unhealthy",
				"source", src.Name(),
				"entropy_per_bit", stats.EntropyPerBit)
		}
	}

	if !got {
		// No hardware this cycle. Nothing to do: the periodic reseed
		// ticker keeps software entropy flowing in.
		c.fallbackPolls.Add(1)
	}
}

// HardwareChunks returns how many hardware chunks have been absorbed.
func (c *Collector) HardwareChunks() uint64 { return c.hardwareChunks.Load() }

// FallbackPolls returns how many poll cycles produced no hardware bytes.
func (c *Collector) FallbackPolls() uint64 { return c.fallbackPolls.Load() }

// SourceStats reports stats for every registered hardware source.
func (c *Collector) SourceStats() []SourceStats {
	out := make([]SourceStats, 0, len(c.sources))
	for _, src := range c.sources {
		out = append(out, src.Stats())
	}
	return out
}
