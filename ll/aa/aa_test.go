package aa

import (
	"math/rand"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// checkInvariants restates the access address rules bit by bit.
func checkInvariants(t *testing.T, a uint32) {
	t.Helper()

	require.NotEqual(t, Advertising, a)

	diff := 0
	for i := 0; i < 32; i++ {
		if (a^Advertising)>>uint(i)&1 == 1 {
			diff++
		}
	}
	require.Greater(t, diff, 1, "%#08x one bit from advertising", a)

	run, maxRun := 1, 1
	for i := 1; i < 32; i++ {
		if (a>>uint(i))&1 == (a>>uint(i-1))&1 {
			run++
		} else {
			run = 1
		}
		if run > maxRun {
			maxRun = run
		}
	}
	require.LessOrEqual(t, maxRun, 6, "%#08x run length", a)

	ones := 0
	for i := 0; i < 8; i++ {
		ones += int(a>>uint(i)) & 1
	}
	require.GreaterOrEqual(t, ones, 3, "%#08x low byte ones", a)

	transitions := func(from, to int) int {
		n := 0
		for i := from; i < to; i++ {
			if (a>>uint(i))&1 != (a>>uint(i+1))&1 {
				n++
			}
		}
		return n
	}
	require.LessOrEqual(t, transitions(0, 16), 11, "%#08x low transitions", a)
	require.LessOrEqual(t, transitions(0, 31), 24, "%#08x transitions", a)
	require.GreaterOrEqual(t, transitions(26, 31), 2, "%#08x top six bits", a)

	require.NotEqual(t, uint16(a), uint16(a>>16))
}

func TestVerifyRejects(t *testing.T) {
	bad := []uint32{
		Advertising,
		Advertising ^ 0x00010000, // one bit away
		0x00000000,
		0xffffffff,
		0x12341234,               // equal halves
		0x0f0f0f0f &^ 0xfc000000, // top six bits constant
		0xa5a5a500 | 0x03,        // two ones in the low byte
		0x5a5a55aa,               // too many transitions in the low half
		0x5a3f80e5,               // seven consecutive ones
	}
	for _, a := range bad {
		assert.False(t, Verify(a), "%#08x", a)
	}
}

func TestVerifyAccepts(t *testing.T) {
	for _, a := range []uint32{0x71764129, 0x78e52493, 0x9f767c45, 0x4164d839} {
		assert.True(t, Verify(a), "%#08x", a)
		checkInvariants(t, a)
	}
}

func TestGeneratorProperty(t *testing.T) {
	g := NewGenerator(WithSource(rand.New(rand.NewSource(42))), WithMaxAttempts(1000))
	for i := 0; i < 5000; i++ {
		a, err := g.Next()
		require.NoError(t, err)
		checkInvariants(t, a)
	}
	// the search should accept a sizeable fraction of candidates
	assert.Less(t, g.Attempts(), uint64(5000*20))
}

func TestVerifyAgreesWithInvariants(t *testing.T) {
	r := rand.New(rand.NewSource(7))
	for i := 0; i < 20000; i++ {
		a := r.Uint32()
		if Verify(a) {
			checkInvariants(t, a)
		}
	}
}

type fixedSource []uint32

func (f *fixedSource) Uint32() uint32 {
	v := (*f)[0]
	*f = append((*f)[1:], v)
	return v
}

func TestGeneratorExhausted(t *testing.T) {
	src := &fixedSource{uint32(uint16(Advertising >> 16)), uint32(uint16(Advertising & 0xffff))}
	g := NewGenerator(WithSource(src), WithMaxAttempts(10))
	_, err := g.Next()
	require.Error(t, err)
	assert.Equal(t, ErrExhausted, errors.Cause(err))
	assert.Equal(t, uint64(10), g.Attempts())
}

func TestBIGVectors(t *testing.T) {
	const seed = 0x78e52493
	exp := []uint32{
		0x7a412493, 0x85e32493, 0x79d52493, 0x86752493,
		0x7a572493, 0x85f12493, 0x79d32493, 0x86732493,
		0x7b652493, 0x85c72493, 0x78e12493, 0x86412493,
		0x7b632493, 0x85d52493, 0x78f72493, 0x86572493,
		0x7b712493, 0x85d32493, 0x78c52493, 0x87652493,
		0x7b472493, 0x84e12493, 0x78c32493, 0x87632493,
		0x7b552493, 0x84f72493, 0x78d12493, 0x87712493,
		0x7b532493, 0x84c52493, 0x79e72493, 0x87472493,
	}
	for n, want := range exp {
		assert.Equal(t, want, BIG(seed, uint8(n)), "n=%v", n)
	}
}

func TestPoolUniqueAndRetired(t *testing.T) {
	// halves cycle so the same two candidates come back over and over
	src := &fixedSource{0x7176, 0x4129, 0x78e5, 0x2493}
	p, err := NewPool(NewGenerator(WithSource(src), WithMaxAttempts(8)), 4)
	require.NoError(t, err)

	a1, err := p.Acquire()
	require.NoError(t, err)
	a2, err := p.Acquire()
	require.NoError(t, err)
	assert.NotEqual(t, a1, a2)
	assert.Equal(t, 2, p.Live())

	_, err = p.Acquire()
	assert.Equal(t, ErrExhausted, errors.Cause(err), "both candidates live")

	p.Release(a1)
	assert.Equal(t, 1, p.Live())
	_, err = p.Acquire()
	assert.Equal(t, ErrExhausted, errors.Cause(err), "released address is held back")
}

func TestPoolBIG(t *testing.T) {
	p, err := NewPool(NewGenerator(WithSource(rand.New(rand.NewSource(9)))), 16)
	require.NoError(t, err)

	seed, err := p.AcquireBIG(3)
	require.NoError(t, err)
	assert.Equal(t, 4, p.Live())

	p.ReleaseBIG(seed, 3)
	assert.Equal(t, 0, p.Live())
}
