package sim

import (
	"testing"

	"github.com/rigado/blell/ll/radio"
	"github.com/rigado/blell/ll/sched"
	"github.com/rigado/blell/ll/tmr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type peerFunc func(req radio.Request) (radio.Completion, bool)

func (f peerFunc) Respond(req radio.Request) (radio.Completion, bool) {
	return f(req)
}

func TestRadioConvertsTicks(t *testing.T) {
	c := NewClockFreq(0, tmr.Freq32kHz)
	var seen radio.Request
	r := NewRadio(c, peerFunc(func(req radio.Request) (radio.Completion, bool) {
		seen = req
		return radio.Completion{Received: true, RxTime: 1000500, End: 1001000}, true
	}))

	var got radio.Completion
	req := radio.Request{Event: sched.Event{Start: 32768, Duration: 41}}
	require.NoError(t, r.Arm(req, func(cpl radio.Completion) { got = cpl }))
	assert.Equal(t, ErrBusy, r.Arm(req, func(radio.Completion) {}))

	assert.Equal(t, uint32(1000000), seen.Start)
	assert.Equal(t, uint32(1251), seen.Duration)

	c.RunUntil(32800, func() {})
	assert.False(t, got.Received)
	c.RunUntil(32801, func() {})
	require.True(t, got.Received)
	assert.Equal(t, uint32(32784), got.RxTime)
	assert.Equal(t, uint32(32801), got.End)
	assert.Equal(t, req.Event, got.Event)
}

func TestRadioMissKeepsEventEnd(t *testing.T) {
	c := NewClock(0)
	r := NewRadio(c)

	var got *radio.Completion
	req := radio.Request{Event: sched.Event{Start: 100, Duration: 50}}
	require.NoError(t, r.Arm(req, func(cpl radio.Completion) { got = &cpl }))
	c.RunUntil(200, func() {})
	require.NotNil(t, got)
	assert.False(t, got.Received)
	assert.Equal(t, uint32(150), got.End)
	assert.Len(t, r.Armed(), 1)
}
