package main

import (
	"context"
	"math"
	"time"

	"mindfield/internal/logging"
	"mindfield/internal/session"
)

// simulatedRadio stands in for an RF entropy dongle during development. It
// emits biased raw bits, roughly 0.88 Shannon entropy per bit, so the health
// monitor and the DRBG whitening path both see realistic input.
type simulatedRadio struct {
	state uint64
}

func newSimulatedRadio() *simulatedRadio {
	return &simulatedRadio{state: uint64(time.Now().UnixNano()) | 1}
}

// next is xorshift64. Not cryptographic, which is the point: the samples must
// look like a raw physical source, not like CSPRNG output.
func (r *simulatedRadio) next() uint64 {
	x := r.state
	x ^= x << 13
	x ^= x >> 7
	x ^= x << 17
	r.state = x
	return x
}

func (r *simulatedRadio) ReadRaw(p []byte) (int, error) {
	for i := range p {
		var b byte
		for bit := 0; bit < 8; bit++ {
			// Each raw bit is 1 with probability ~0.3.
			if byte(r.next()) < 77 {
				b |= 1 << bit
			}
		}
		p[i] = b
	}
	return len(p), nil
}

// runSimulatedSensors feeds the controller coherence readings from two fake
// heart-rate devices. Each drifts on a slow sine so experiments cross the
// auto-mark threshold every couple of minutes.
func runSimulatedSensors(ctx context.Context, controller *session.Controller, log *logging.Logger) {
	log = log.Component("simulate")
	log.Info("simulated sensors active", "devices", 2)

	radio := newSimulatedRadio()
	ticker := time.NewTicker(250 * time.Millisecond)
	defer ticker.Stop()

	start := time.Now()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		t := time.Since(start).Seconds()
		for i, period := range []float64{90.0, 130.0} {
			base := 0.55 + 0.35*math.Sin(2*math.Pi*t/period)
			noise := (float64(radio.next()%1000)/1000.0 - 0.5) * 0.06
			v := base + noise
			if v < 0 {
				v = 0
			}
			if v > 1 {
				v = 1
			}
			controller.PushReading([]string{"sim-hrv-a", "sim-hrv-b"}[i], v)
		}
	}
}
