package ll

import (
	"testing"

	"github.com/rigado/blell"
	"github.com/rigado/blell/hci"
	"github.com/rigado/blell/hci/cmd"
	"github.com/rigado/blell/hci/evt"
	"github.com/rigado/blell/ll/isoal"
	"github.com/rigado/blell/ll/sim"
	"github.com/rigado/blell/ll/tmr"
	"github.com/stretchr/testify/require"
)

var (
	localAddr = blell.Addr{0xc0, 0xff, 0xee, 0x00, 0x00, 0x01}
	peerAddr  = blell.Addr{0xc0, 0xff, 0xee, 0x00, 0x00, 0x02}
)

type isoData struct {
	handle uint16
	sdu    isoal.RxSDU
}

// recorder is a host that keeps everything the controller reports.
type recorder struct {
	events []evt.Event
	iso    []isoData
}

func (r *recorder) Event(e evt.Event) {
	r.events = append(r.events, e)
}

func (r *recorder) ISOData(handle uint16, sdu isoal.RxSDU) {
	r.iso = append(r.iso, isoData{handle: handle, sdu: sdu})
}

// meta returns the parameters of every LE meta event with subevent code sub.
func (r *recorder) meta(sub uint8) [][]byte {
	var out [][]byte
	for _, e := range r.events {
		if p := e.Params(); e.Code() == evt.LEMetaCode && len(p) > 0 && p[0] == sub {
			out = append(out, p)
		}
	}
	return out
}

func (r *recorder) disconnects() []evt.DisconnectionComplete {
	var out []evt.DisconnectionComplete
	for _, e := range r.events {
		if e.Code() == evt.DisconnectionCompleteCode {
			out = append(out, evt.DisconnectionComplete(e.Params()))
		}
	}
	return out
}

func (r *recorder) completedPackets() []evt.NumberOfCompletedPackets {
	var out []evt.NumberOfCompletedPackets
	for _, e := range r.events {
		if e.Code() == evt.NumberOfCompletedPacketsCode {
			out = append(out, evt.NumberOfCompletedPackets(e.Params()))
		}
	}
	return out
}

// bench is a controller on a simulated clock and radio.
type bench struct {
	t     *testing.T
	clock *sim.Clock
	radio *sim.Radio
	host  *recorder
	c     *Controller
}

func newBench(t *testing.T, opts ...blell.Option) *bench {
	return newBenchFreq(t, tmr.Freq1MHz, opts...)
}

// newBenchFreq is newBench on a clock ticking at freq Hz.
func newBenchFreq(t *testing.T, freq uint32, opts ...blell.Option) *bench {
	clock := sim.NewClockFreq(1000, freq)
	b := &bench{
		t:     t,
		clock: clock,
		radio: sim.NewRadio(clock),
		host:  &recorder{},
	}
	opts = append([]blell.Option{blell.OptPublicAddr(localAddr)}, opts...)
	c, err := New(clock, b.radio, b.host, opts...)
	require.NoError(t, err)
	b.c = c
	return b
}

func (b *bench) settle() {
	b.c.Drain()
}

// run advances the simulation by us microseconds.
func (b *bench) run(us uint32) {
	b.clock.RunFor(us, b.settle)
}

// runUntil advances the simulation until cond holds, failing after limit
// microseconds.
func (b *bench) runUntil(limit uint32, cond func() bool) {
	ok := b.clock.RunWhile(b.clock.Deadline(limit), b.settle, func() bool { return !cond() })
	require.True(b.t, ok, "condition not met within %vus", limit)
}

func (b *bench) connComplete() []evt.LEConnectionComplete {
	var out []evt.LEConnectionComplete
	for _, p := range b.host.meta(evt.LEConnectionCompleteSubCode) {
		out = append(out, evt.LEConnectionComplete(p))
	}
	return out
}

func createConnection(peer blell.Addr) cmd.LECreateConnection {
	return cmd.LECreateConnection{
		LEScanInterval:     0x0010,
		LEScanWindow:       0x0010,
		PeerAddressType:    hci.AddressTypePublic,
		PeerAddress:        peer.LE(),
		OwnAddressType:     hci.AddressTypePublic,
		ConnIntervalMin:    8,
		ConnIntervalMax:    8,
		SupervisionTimeout: 100,
	}
}

// connectCentral brings up a link to an advertising peer with the local
// controller as central and returns the peer and the link handle.
func (b *bench) connectCentral() (*sim.AdvertiserPeer, uint16) {
	p := &sim.AdvertiserPeer{Addr: peerAddr.LE(), IntervalUs: 20000, OffsetUs: 5000}
	b.radio.AddPeer(p)

	n := len(b.connComplete())
	require.NoError(b.t, b.c.CreateConnection(createConnection(peerAddr)))
	b.runUntil(200000, func() bool { return len(b.connComplete()) > n })

	cc := b.connComplete()[n]
	status, err := cc.StatusWErr()
	require.NoError(b.t, err)
	require.Equal(b.t, uint8(0), status)
	h, err := cc.ConnectionHandleWErr()
	require.NoError(b.t, err)
	require.NotNil(b.t, p.Link)

	// let the first packets through
	b.run(30000)
	return p, h
}
