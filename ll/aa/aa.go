// Package aa generates and validates link layer access addresses
// [Vol 6, Part B, 2.1.2].
package aa

import (
	"crypto/rand"
	"encoding/binary"
	"math/bits"

	"github.com/pkg/errors"
)

// Advertising is the access address of the advertising physical channel.
const Advertising uint32 = 0x8e89bed6

// ErrExhausted is returned when a bounded search runs out of attempts.
var ErrExhausted = errors.New("access address search exhausted")

// Verify reports whether a satisfies every constraint on a randomly chosen
// data channel access address.
func Verify(a uint32) bool {
	lo := uint16(a)
	hi := uint16(a >> 16)

	// all four octets equal implies the halves are equal
	if lo == hi {
		return false
	}

	// the six most significant bits need at least two transitions
	top := a >> 26
	if bits.OnesCount32((top^(top>>1))&0x1f) < 2 {
		return false
	}

	// not the advertising address and not one bit away from it
	if bits.OnesCount32(a^Advertising) <= 1 {
		return false
	}

	var transitions, consecutive, ones int
	consecutive = 1
	for i := uint(0); i < 31; i++ {
		prev := (a >> i) & 1
		cur := (a >> (i + 1)) & 1

		if cur != prev {
			transitions++
			consecutive = 1
		} else {
			consecutive++
		}
		if prev == 1 {
			ones++
		}

		// at least three ones in the eight least significant bits
		if i == 7 && ones < 3 {
			return false
		}
		// no more than eleven transitions in the 16 least significant bits
		if i == 15 && transitions > 11 {
			return false
		}
		// never more than six consecutive equal bits
		if consecutive > 6 {
			return false
		}
	}

	return transitions <= 24
}

// Source supplies random numbers to the generator.
type Source interface {
	Uint32() uint32
}

type cryptoSource struct{}

func (cryptoSource) Uint32() uint32 {
	var b [4]byte
	if _, err := rand.Read(b[:]); err != nil {
		panic(errors.Wrap(err, "aa: random source"))
	}
	return binary.LittleEndian.Uint32(b[:])
}

// Generator draws random access addresses until one passes Verify.
type Generator struct {
	src         Source
	maxAttempts int
	attempts    uint64
}

// GeneratorOption configures a Generator.
type GeneratorOption func(*Generator)

// WithSource replaces the default crypto/rand source.
func WithSource(src Source) GeneratorOption {
	return func(g *Generator) {
		g.src = src
	}
}

// WithMaxAttempts bounds the number of candidates drawn per address. Zero
// keeps the search unbounded.
func WithMaxAttempts(n int) GeneratorOption {
	return func(g *Generator) {
		g.maxAttempts = n
	}
}

// NewGenerator returns a Generator.
func NewGenerator(opts ...GeneratorOption) *Generator {
	g := &Generator{src: cryptoSource{}}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

func (g *Generator) candidate() uint32 {
	hi := uint32(uint16(g.src.Uint32()))
	lo := uint32(uint16(g.src.Uint32()))
	return hi<<16 | lo
}

// Next returns the first random candidate that passes Verify.
func (g *Generator) Next() (uint32, error) {
	return g.next(Verify)
}

func (g *Generator) next(accept func(uint32) bool) (uint32, error) {
	for n := 0; g.maxAttempts == 0 || n < g.maxAttempts; n++ {
		g.attempts++
		a := g.candidate()
		if accept(a) {
			return a, nil
		}
	}
	return 0, errors.Wrapf(ErrExhausted, "after %v attempts", g.maxAttempts)
}

// Attempts returns the total number of candidates drawn so far.
func (g *Generator) Attempts() uint64 {
	return g.attempts
}
