package drbg

import (
	"bytes"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mindfield/internal/entropy"
)

func newSeeded(t *testing.T, seed string, opts ...Option) *Whitener {
	t.Helper()
	w, err := New(nil, append([]Option{WithSeed([]byte(seed))}, opts...)...)
	require.NoError(t, err)
	return w
}

func drawBytes(t *testing.T, w *Whitener, n int) []byte {
	t.Helper()
	out := make([]byte, n)
	for i := range out {
		b, err := w.DrawByte()
		require.NoError(t, err)
		out[i] = b
	}
	return out
}

func TestNewRequiresSeedMaterial(t *testing.T) {
	_, err := New(nil)
	assert.Error(t, err, "no software source and no seed must fail")

	src, err := entropy.NewSoftwareSource()
	require.NoError(t, err)
	w, err := New(src)
	require.NoError(t, err)
	defer w.Close()

	_, err = w.DrawByte()
	assert.NoError(t, err)
}

func TestDeterministicWithSeed(t *testing.T) {
	w1 := newSeeded(t, "determinism")
	w2 := newSeeded(t, "determinism")
	defer w1.Close()
	defer w2.Close()

	require.Equal(t, drawBytes(t, w1, 512), drawBytes(t, w2, 512))

	// Identical absorbed input keeps the streams identical.
	chunk := entropy.Chunk{Bytes: []byte("raw hardware sample"), ArrivedAt: time.Now()}
	w1.Absorb(chunk)
	// Different arrival metadata must not affect the output stream.
	chunk.ArrivedAt = chunk.ArrivedAt.Add(time.Hour)
	chunk.Source = "other"
	w2.Absorb(chunk)

	require.Equal(t, drawBytes(t, w1, 512), drawBytes(t, w2, 512))
}

func TestDifferentSeedsDiverge(t *testing.T) {
	w1 := newSeeded(t, "seed-a")
	w2 := newSeeded(t, "seed-b")
	defer w1.Close()
	defer w2.Close()

	assert.NotEqual(t, drawBytes(t, w1, 64), drawBytes(t, w2, 64))
}

func TestAbsorbChangesStream(t *testing.T) {
	w1 := newSeeded(t, "shared")
	w2 := newSeeded(t, "shared")
	defer w1.Close()
	defer w2.Close()

	w1.Absorb(entropy.Chunk{Bytes: []byte{0x01}})
	w2.Absorb(entropy.Chunk{Bytes: []byte{0x02}})

	assert.NotEqual(t, drawBytes(t, w1, 64), drawBytes(t, w2, 64))

	absorbs, _ := w1.Stats()
	assert.Equal(t, uint64(1), absorbs)
}

func TestDrawBitsMSBFirst(t *testing.T) {
	w1 := newSeeded(t, "bit-order")
	w2 := newSeeded(t, "bit-order")
	defer w1.Close()
	defer w2.Close()

	b, err := w1.DrawByte()
	require.NoError(t, err)

	v, err := w2.DrawBits(8)
	require.NoError(t, err)
	assert.Equal(t, uint64(b), v, "DrawBits(8) must equal the raw byte, MSB first")
}

func TestDrawBitsRange(t *testing.T) {
	w := newSeeded(t, "range")
	defer w.Close()

	for _, n := range []int{0, -1, 65} {
		_, err := w.DrawBits(n)
		assert.Error(t, err, "n=%d", n)
	}

	v, err := w.DrawBits(64)
	require.NoError(t, err)
	_ = v
}

func TestOutputBitBalance(t *testing.T) {
	w := newSeeded(t, "balance")
	defer w.Close()

	// 80000 bits from a sound generator: ones count within 5 sigma of
	// 40000 (sigma = sqrt(n)/2 ~ 141). Deterministic seed, so this is a
	// fixed property of the construction, not a flaky sample.
	const nBits = 80000
	ones := 0
	for i := 0; i < nBits; i++ {
		bit, err := w.DrawBit()
		require.NoError(t, err)
		ones += int(bit)
	}

	const mean, slack = nBits / 2, 710 // 5 sigma
	assert.InDelta(t, mean, ones, slack, "bit stream is badly biased")
}

func TestByteChiSquare(t *testing.T) {
	w := newSeeded(t, "chi-square")
	defer w.Close()

	const draws = 65536
	var counts [256]int
	for i := 0; i < draws; i++ {
		b, err := w.DrawByte()
		require.NoError(t, err)
		counts[b]++
	}

	expected := float64(draws) / 256
	var chi2 float64
	for _, c := range counts {
		d := float64(c) - expected
		chi2 += d * d / expected
	}

	// 255 degrees of freedom; a sound generator lands near 255 and a
	// stuck one blows far past this.
	assert.Less(t, chi2, 400.0, "byte distribution failed chi-square")
}

func TestReseedBudget(t *testing.T) {
	fills := 0
	w := newSeeded(t, "budget",
		WithMaxBytesPerReseed(64),
		WithSoftwareFill(func(p []byte) error {
			fills++
			for i := range p {
				p[i] = byte(fills)
			}
			return nil
		}))
	defer w.Close()

	drawBytes(t, w, 256)

	_, reseeds := w.Stats()
	assert.GreaterOrEqual(t, reseeds, uint64(3), "output budget should force reseeds")
	assert.GreaterOrEqual(t, fills, 3)
}

func TestReseedWithoutFillStillAdvances(t *testing.T) {
	// No software fill at all: reseed degrades to a bare rehash but the
	// stream must keep moving, never repeat.
	w := newSeeded(t, "no-fill")
	defer w.Close()

	before := drawBytes(t, w, 64)
	w.Reseed()
	after := drawBytes(t, w, 64)

	assert.False(t, bytes.Equal(before, after), "reseed must change the stream")

	_, reseeds := w.Stats()
	assert.Equal(t, uint64(1), reseeds)
}

func TestCloseZeroizes(t *testing.T) {
	w := newSeeded(t, "close")
	drawBytes(t, w, 16)
	require.NoError(t, w.Close())

	_, err := w.DrawByte()
	assert.ErrorIs(t, err, ErrClosed)
	_, err = w.DrawBit()
	assert.ErrorIs(t, err, ErrClosed)

	for _, b := range w.state {
		require.Zero(t, b, "state must be zeroized after close")
	}

	// Absorb and Reseed after close are no-ops, not panics.
	w.Absorb(entropy.Chunk{Bytes: []byte{1, 2, 3}})
	w.Reseed()
}

func TestConcurrentDrawAndAbsorb(t *testing.T) {
	w := newSeeded(t, "concurrency")
	defer w.Close()

	var wg sync.WaitGroup
	stop := make(chan struct{})

	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; ; i++ {
			select {
			case <-stop:
				return
			default:
			}
			w.Absorb(entropy.Chunk{Bytes: []byte{byte(i)}})
			w.Reseed()
		}
	}()

	for i := 0; i < 10000; i++ {
		_, err := w.DrawBit()
		require.NoError(t, err)
	}
	close(stop)
	wg.Wait()
}
