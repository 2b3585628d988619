package sim

import (
	"context"
	"testing"
	"time"

	"github.com/rigado/blell/ll/tmr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClockFiresInOrder(t *testing.T) {
	c := NewClock(100)
	var got []int
	c.AfterFunc(300, func() { got = append(got, 3) })
	c.AfterFunc(200, func() { got = append(got, 2) })
	c.AfterFunc(200, func() { got = append(got, 22) })
	cancel := c.AfterFunc(250, func() { got = append(got, 25) })
	cancel()

	c.RunUntil(250, func() {})
	assert.Equal(t, []int{2, 22}, got)
	assert.Equal(t, uint32(250), c.Now())
	assert.Equal(t, 1, c.Pending())

	c.RunFor(100, func() {})
	assert.Equal(t, []int{2, 22, 3}, got)
	assert.Equal(t, 0, c.Pending())
}

func TestClockWraps(t *testing.T) {
	c := NewClock(0xffffff00)
	fired := false
	c.AfterFunc(0x10, func() { fired = true })
	c.RunFor(0x200, func() {})
	assert.True(t, fired)
	assert.Equal(t, uint32(0x100), c.Now())
}

func TestClock32kHz(t *testing.T) {
	c := NewClockFreq(0, tmr.Freq32kHz)
	assert.Equal(t, uint32(tmr.Freq32kHz), c.Freq())

	fired := false
	c.AfterFunc(32767, func() { fired = true })
	c.RunFor(1000000, func() {})
	assert.True(t, fired)
	assert.Equal(t, uint32(32768), c.Now())
	assert.Equal(t, uint32(32768+40), c.Deadline(1250))
}

func TestRunWhileStopsOnCond(t *testing.T) {
	c := NewClock(0)
	n := 0
	for i := uint32(1); i <= 5; i++ {
		c.AfterFunc(i*10, func() { n++ })
	}
	stopped := c.RunWhile(1000, func() {}, func() bool { return n < 3 })
	assert.True(t, stopped)
	assert.Equal(t, 3, n)
	assert.Equal(t, uint32(30), c.Now())
}

func TestPace(t *testing.T) {
	c := NewClock(0)
	fired := make(chan struct{})
	c.AfterFunc(5000, func() { close(fired) })

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Pace(ctx, time.Millisecond) }()

	select {
	case <-fired:
	case <-time.After(5 * time.Second):
		t.Fatal("timer never fired")
	}
	cancel()
	require.Equal(t, context.Canceled, <-done)
	assert.True(t, c.Now() >= 5000)
}
