// Package tmr holds the link layer time primitive: tick arithmetic with 32-bit
// wraparound, tick/microsecond conversion and receive window widening.
package tmr

// Clock is the monotonic tick counter the link layer schedules against.
type Clock interface {
	// Now returns the current tick count. It wraps at 2^32.
	Now() uint32

	// Freq returns the counter frequency in Hz.
	Freq() uint32

	// AfterFunc calls f once the counter reaches deadline. The returned
	// function cancels the timer if it has not fired yet.
	AfterFunc(deadline uint32, f func()) (cancel func())
}

// Common counter frequencies.
const (
	Freq1MHz  = 1000000
	Freq32kHz = 32768
)

// Timebase converts between ticks and microseconds for a fixed frequency.
type Timebase struct {
	freq uint32
}

// NewTimebase returns a Timebase for freq Hz. A zero freq panics.
func NewTimebase(freq uint32) Timebase {
	if freq == 0 {
		panic("tmr: zero timer frequency")
	}
	return Timebase{freq: freq}
}

// Freq returns the counter frequency in Hz.
func (tb Timebase) Freq() uint32 {
	return tb.freq
}

// TicksToUsecs converts a tick count to microseconds, rounding down.
func (tb Timebase) TicksToUsecs(ticks uint32) uint32 {
	if tb.freq == Freq1MHz {
		return ticks
	}
	return uint32(uint64(ticks) * 1000000 / uint64(tb.freq))
}

// TicksToUsecs64 is TicksToUsecs without the 32-bit result limit.
func (tb Timebase) TicksToUsecs64(ticks uint32) uint64 {
	return uint64(ticks) * 1000000 / uint64(tb.freq)
}

// UsecsToTicks converts microseconds to ticks, rounding down.
func (tb Timebase) UsecsToTicks(us uint32) uint32 {
	if tb.freq == Freq1MHz {
		return us
	}
	return uint32(uint64(us) * uint64(tb.freq) / 1000000)
}

// UsecsToTicksRem converts microseconds to whole ticks plus the microseconds
// that did not fit in a whole tick.
func (tb Timebase) UsecsToTicksRem(us uint32) (ticks uint32, rem uint32) {
	ticks = tb.UsecsToTicks(us)
	rem = us - tb.TicksToUsecs(ticks)
	return ticks, rem
}

// UsecsToTicksRoundUp converts microseconds to ticks, rounding up.
func (tb Timebase) UsecsToTicksRoundUp(us uint32) uint32 {
	ticks, rem := tb.UsecsToTicksRem(us)
	if rem != 0 {
		ticks++
	}
	return ticks
}

// fracUnit is the number of fraction steps in one tick. A fraction of
// us*freq mod 1e6 is exact for any frequency.
const fracUnit = 1000000

// Point is a tick count with a sub-tick fraction in millionths of a tick.
// Anchor points are kept as Points so that intervals which are not a whole
// number of ticks do not accumulate drift.
type Point struct {
	Ticks uint32
	Frac  uint32
}

// Add advances p by us microseconds.
func (tb Timebase) Add(p Point, us uint32) Point {
	v := uint64(us)*uint64(tb.freq) + uint64(p.Frac)
	p.Ticks += uint32(v / fracUnit)
	p.Frac = uint32(v % fracUnit)
	return p
}

// Sub moves p back by us microseconds.
func (tb Timebase) Sub(p Point, us uint32) Point {
	v := uint64(us) * uint64(tb.freq)
	p.Ticks -= uint32(v / fracUnit)
	f := uint32(v % fracUnit)
	if f > p.Frac {
		p.Ticks--
		p.Frac += fracUnit
	}
	p.Frac -= f
	return p
}

// Diff returns the signed tick distance a-b.
func Diff(a, b uint32) int32 {
	return int32(a - b)
}

// Before reports whether a is strictly earlier than b, tolerating wraparound.
func Before(a, b uint32) bool {
	return int32(a-b) < 0
}

// After reports whether a is strictly later than b, tolerating wraparound.
func After(a, b uint32) bool {
	return int32(a-b) > 0
}

// AtOrBefore reports a <= b modulo wraparound.
func AtOrBefore(a, b uint32) bool {
	return int32(a-b) <= 0
}
