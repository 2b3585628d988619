// Package sim is a simulated clock, radio and set of remote devices for
// driving the link layer deterministically from tests and from the blell
// command's simulation mode. Remote devices keep their time in microseconds
// whatever the clock frequency.
package sim

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rigado/blell/ll/tmr"
)

type timer struct {
	at        uint32
	seq       uint64
	f         func()
	cancelled bool
}

// Clock is a manually advanced tick counter, 1 MHz unless made with
// NewClockFreq.
type Clock struct {
	tb tmr.Timebase

	mu     sync.Mutex
	now    uint32
	seq    uint64
	timers []*timer
}

// NewClock returns a 1 MHz clock reading start.
func NewClock(start uint32) *Clock {
	return NewClockFreq(start, tmr.Freq1MHz)
}

// NewClockFreq returns a clock ticking at freq Hz and reading start.
func NewClockFreq(start, freq uint32) *Clock {
	return &Clock{tb: tmr.NewTimebase(freq), now: start}
}

func (c *Clock) Now() uint32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *Clock) Freq() uint32 {
	return c.tb.Freq()
}

// Timebase converts between the clock's ticks and microseconds.
func (c *Clock) Timebase() tmr.Timebase {
	return c.tb
}

// Deadline returns the tick us microseconds from now.
func (c *Clock) Deadline(us uint32) uint32 {
	return c.Now() + c.tb.UsecsToTicks(us)
}

func (c *Clock) AfterFunc(deadline uint32, f func()) func() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seq++
	t := &timer{at: deadline, seq: c.seq, f: f}
	c.timers = append(c.timers, t)
	return func() {
		c.mu.Lock()
		t.cancelled = true
		c.mu.Unlock()
	}
}

// pop removes and returns the earliest live timer due at or before deadline.
func (c *Clock) pop(deadline uint32) *timer {
	c.mu.Lock()
	defer c.mu.Unlock()

	live := c.timers[:0]
	for _, t := range c.timers {
		if !t.cancelled {
			live = append(live, t)
		}
	}
	c.timers = live

	now := c.now
	sort.SliceStable(c.timers, func(i, j int) bool {
		di, dj := tmr.Diff(c.timers[i].at, now), tmr.Diff(c.timers[j].at, now)
		if di != dj {
			return di < dj
		}
		return c.timers[i].seq < c.timers[j].seq
	})
	if len(c.timers) == 0 || tmr.After(c.timers[0].at, deadline) {
		return nil
	}
	t := c.timers[0]
	c.timers = c.timers[1:]
	if tmr.After(t.at, c.now) {
		c.now = t.at
	}
	return t
}

// RunUntil advances the clock to deadline, firing timers in order. settle is
// called after every timer so the code under test can react before time
// moves on.
func (c *Clock) RunUntil(deadline uint32, settle func()) {
	c.RunWhile(deadline, settle, func() bool { return true })
}

// RunFor advances the clock by us microseconds.
func (c *Clock) RunFor(us uint32, settle func()) {
	c.RunUntil(c.Deadline(us), settle)
}

// RunWhile is RunUntil that also stops once cond turns false. It reports
// whether it stopped on cond.
func (c *Clock) RunWhile(deadline uint32, settle func(), cond func() bool) bool {
	settle()
	for cond() {
		t := c.pop(deadline)
		if t == nil {
			c.mu.Lock()
			if tmr.After(deadline, c.now) {
				c.now = deadline
			}
			c.mu.Unlock()
			settle()
			return false
		}
		t.f()
		settle()
	}
	return true
}

// Pending returns the number of armed timers.
func (c *Clock) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, t := range c.timers {
		if !t.cancelled {
			n++
		}
	}
	return n
}

// Pace advances the clock in step increments for as long as ctx is live,
// keeping it in line with the wall clock. It returns ctx.Err().
func (c *Clock) Pace(ctx context.Context, step time.Duration) error {
	t := time.NewTicker(step)
	defer t.Stop()

	begin, base := time.Now(), c.Now()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case now := <-t.C:
			us := uint64(now.Sub(begin) / time.Microsecond)
			c.RunUntil(base+uint32(us*uint64(c.tb.Freq())/1000000), func() {})
		}
	}
}
