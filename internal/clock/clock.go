// Package clock drives the fixed-rate sampling loop.
package clock

import (
	"context"
	"sync/atomic"
	"time"

	"mindfield/internal/logging"
)

// sustainedOverrun is how many consecutive overruns trigger a warning.
const sustainedOverrun = 10

// Sampler runs a callback at a fixed rate without drift: each tick's
// deadline is computed from the loop start, so a slow tick shortens the
// following sleep instead of shifting the whole schedule. Overruns are
// counted and logged, never fatal, and ticks are never batched: one callback
// invocation per tick index, always.
type Sampler struct {
	period   time.Duration
	log      *logging.Logger
	overruns atomic.Uint64
}

// NewSampler creates a sampler with the given tick period.
func NewSampler(period time.Duration, log *logging.Logger) *Sampler {
	if log == nil {
		log = logging.Default()
	}
	return &Sampler{
		period: period,
		log:    log.Component("clock"),
	}
}

// Period returns the tick period.
func (s *Sampler) Period() time.Duration { return s.period }

// Overruns returns how many ticks exceeded the period.
func (s *Sampler) Overruns() uint64 { return s.overruns.Load() }

// Run invokes fn once per tick until ctx is canceled. Cancellation takes
// effect within one tick period. Run blocks; callers start it on the
// sampling goroutine.
func (s *Sampler) Run(ctx context.Context, fn func(tick uint64)) {
	start := time.Now()
	timer := time.NewTimer(s.period)
	defer timer.Stop()

	var tick uint64
	consecutive := 0

	for {
		if ctx.Err() != nil {
			return
		}

		fn(tick)

		deadline := start.Add(time.Duration(tick+1) * s.period)
		sleep := time.Until(deadline)
		if sleep < 0 {
			s.overruns.Add(1)
			consecutive++
			if consecutive == sustainedOverrun {
				s.log.Warn("sampling loop cannot keep up",
					"period", s.period,
					"behind", -sleep,
					"consecutive_overruns", consecutive)
			}
			sleep = 0
		} else {
			consecutive = 0
		}

		timer.Reset(sleep)
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		tick++
	}
}
