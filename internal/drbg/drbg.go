// Package drbg implements the whitening DRBG at the center of mindfield.
//
// The generator keeps a 64-byte secret state and expands it on demand with a
// cSHAKE256 sponge in counter mode. Raw entropy chunks are absorbed by a
// full-state rehash (state' = H(state || chunk)), never by XOR, so biased or
// partially predictable hardware input cannot reduce output unpredictability
// below the software baseline.
//
// Draw operations are safe to call from the sampling goroutine while Absorb
// and Reseed run concurrently from the collection goroutine; a single mutex
// guards state mutation and is never held across a sleep or I/O wait.
package drbg

import (
	"encoding/binary"
	"errors"
	"sync"
	"sync/atomic"

	"golang.org/x/crypto/sha3"

	"mindfield/internal/entropy"
)

const (
	// stateSize is the secret state width in bytes.
	stateSize = 64

	// blockSize is how much output each counter-mode expansion yields.
	blockSize = 64

	// reseedFetchBytes is how much software entropy a forced reseed mixes in.
	reseedFetchBytes = 32
)

// domain separates this construction from other cSHAKE users.
var domain = []byte("mindfield-drbg-v1")

// ErrClosed reports a draw after Close.
var ErrClosed = errors.New("drbg: closed")

// softwareFill fills p with seed material from the software CSPRNG. Injected
// so tests can substitute a deterministic fill.
type softwareFill func(p []byte) error

// Whitener is the process-lifetime deterministic random bit generator.
type Whitener struct {
	mu sync.Mutex

	state   [stateSize]byte
	counter uint64

	// buffered expansion output
	out    [blockSize]byte
	outPos int

	// bit-level buffer over the byte stream
	bitBuf   byte
	bitsLeft int

	// reseed policy
	bytesSinceReseed int
	maxBytesPerSeed  int

	fill   softwareFill
	closed bool

	absorbs atomic.Uint64
	reseeds atomic.Uint64
}

// Option configures a Whitener.
type Option func(*Whitener) error

// WithSeed sets the initial state deterministically. Test seeding only; the
// default constructor seeds from the software CSPRNG.
func WithSeed(seed []byte) Option {
	return func(w *Whitener) error {
		h := sha3.NewCShake256(nil, domain)
		h.Write(seed)
		h.Read(w.state[:])
		return nil
	}
}

// WithMaxBytesPerReseed overrides the output budget between reseeds.
func WithMaxBytesPerReseed(n int) Option {
	return func(w *Whitener) error {
		w.maxBytesPerSeed = n
		return nil
	}
}

// WithSoftwareFill overrides the software entropy fill used by Reseed.
func WithSoftwareFill(fill func(p []byte) error) Option {
	return func(w *Whitener) error {
		w.fill = fill
		return nil
	}
}

// New creates a Whitener. Without WithSeed the initial state is drawn from
// the given software source; a nil or failing source is a construction error
// because the generator must never start from predictable state.
func New(software *entropy.SoftwareSource, opts ...Option) (*Whitener, error) {
	w := &Whitener{
		maxBytesPerSeed: 4096,
		outPos:          blockSize, // force expansion on first draw
	}

	if software != nil {
		w.fill = func(p []byte) error {
			chunk, err := software.TryFetch(len(p))
			if err != nil {
				return err
			}
			copy(p, chunk.Bytes)
			return nil
		}
	}

	seeded := false
	for _, opt := range opts {
		if err := opt(w); err != nil {
			return nil, err
		}
	}
	for _, b := range w.state {
		if b != 0 {
			seeded = true
			break
		}
	}

	if !seeded {
		if w.fill == nil {
			return nil, entropy.ErrSoftwareSourceFailed
		}
		var seed [stateSize]byte
		if err := w.fill(seed[:]); err != nil {
			return nil, err
		}
		h := sha3.NewCShake256(nil, domain)
		h.Write(seed[:])
		h.Read(w.state[:])
	}

	return w, nil
}

// Absorb mixes a raw entropy chunk into the state with a full-state rehash
// and invalidates buffered output so the fresh state takes effect on the
// next draw.
func (w *Whitener) Absorb(chunk entropy.Chunk) {
	if len(chunk.Bytes) == 0 {
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return
	}

	w.absorbLocked(chunk.Bytes)
	w.absorbs.Add(1)
}

// Reseed forces an absorb cycle even with no new external entropy, drawing
// from the software CSPRNG. If the CSPRNG fails the state is still rehashed
// so the generator makes forward progress and never repeats output.
func (w *Whitener) Reseed() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return
	}
	w.reseedLocked()
}

func (w *Whitener) reseedLocked() {
	var fresh [reseedFetchBytes]byte
	if w.fill != nil && w.fill(fresh[:]) == nil {
		w.absorbLocked(fresh[:])
	} else {
		w.absorbLocked(nil)
	}
	w.reseeds.Add(1)
}

// absorbLocked rehashes the full state with the given input (which may be
// empty) and resets the expansion stream.
func (w *Whitener) absorbLocked(input []byte) {
	h := sha3.NewCShake256(nil, domain)
	h.Write(w.state[:])
	h.Write(input)
	h.Read(w.state[:])

	w.counter = 0
	w.outPos = blockSize
	w.bitsLeft = 0
	w.bytesSinceReseed = 0
}

// expandLocked refills the output buffer from the state in counter mode.
func (w *Whitener) expandLocked() {
	if w.bytesSinceReseed >= w.maxBytesPerSeed {
		w.reseedLocked()
	}

	var ctr [8]byte
	binary.BigEndian.PutUint64(ctr[:], w.counter)

	h := sha3.NewCShake256(nil, domain)
	h.Write(w.state[:])
	h.Write(ctr[:])
	h.Read(w.out[:])

	w.counter++
	w.outPos = 0
	w.bytesSinceReseed += blockSize
}

// DrawByte returns one whitened output byte.
func (w *Whitener) DrawByte() (byte, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.drawByteLocked()
}

func (w *Whitener) drawByteLocked() (byte, error) {
	if w.closed {
		return 0, ErrClosed
	}
	if w.outPos >= blockSize {
		w.expandLocked()
	}
	b := w.out[w.outPos]
	w.outPos++
	return b, nil
}

// DrawBit returns a single bit, MSB-first over the byte stream.
func (w *Whitener) DrawBit() (uint8, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.bitsLeft == 0 {
		b, err := w.drawByteLocked()
		if err != nil {
			return 0, err
		}
		w.bitBuf = b
		w.bitsLeft = 8
	}

	w.bitsLeft--
	return (w.bitBuf >> uint(w.bitsLeft)) & 1, nil
}

// DrawBits returns n bits (1..64) packed into the low bits of a uint64,
// first bit drawn in the highest position.
func (w *Whitener) DrawBits(n int) (uint64, error) {
	if n < 1 || n > 64 {
		return 0, errors.New("drbg: bit count out of range")
	}

	var v uint64
	for i := 0; i < n; i++ {
		bit, err := w.DrawBit()
		if err != nil {
			return 0, err
		}
		v = (v << 1) | uint64(bit)
	}
	return v, nil
}

// Stats returns absorb/reseed counters.
func (w *Whitener) Stats() (absorbs, reseeds uint64) {
	return w.absorbs.Load(), w.reseeds.Load()
}

// Close zeroizes the secret state. Further draws fail with ErrClosed.
func (w *Whitener) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	for i := range w.state {
		w.state[i] = 0
	}
	for i := range w.out {
		w.out[i] = 0
	}
	w.bitBuf = 0
	w.bitsLeft = 0
	w.closed = true
	return nil
}
