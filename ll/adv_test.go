package ll

import (
	"testing"

	"github.com/rigado/blell"
	"github.com/rigado/blell/hci"
	"github.com/rigado/blell/hci/cmd"
	"github.com/rigado/blell/hci/evt"
	"github.com/rigado/blell/ll/pdu"
	"github.com/rigado/blell/ll/sched"
	"github.com/rigado/blell/ll/sim"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func (b *bench) reports() []evt.LEAdvertisingReport {
	var out []evt.LEAdvertisingReport
	for _, p := range b.host.meta(evt.LEAdvertisingReportSubCode) {
		out = append(out, evt.LEAdvertisingReport(p))
	}
	return out
}

func countReports(rs []evt.LEAdvertisingReport, typ uint8) int {
	n := 0
	for _, r := range rs {
		if t, err := r.EventTypeWErr(0); err == nil && t == typ {
			n++
		}
	}
	return n
}

func TestActiveScan(t *testing.T) {
	b := newBench(t)
	p := &sim.AdvertiserPeer{
		Addr:       peerAddr.LE(),
		Data:       []byte{0x02, 0x01, 0x06},
		ScanRsp:    []byte{0x03, 0x09, 'h', 'i'},
		IntervalUs: 20000,
		OffsetUs:   5000,
		RSSI:       -40,
	}
	b.radio.AddPeer(p)

	require.NoError(t, b.c.SetScanParameters(cmd.LESetScanParameters{
		LEScanType:     hci.LEScanTypeActive,
		LEScanInterval: 0x0010,
		LEScanWindow:   0x0010,
	}))
	require.NoError(t, b.c.SetScanEnable(true, true))

	err := b.c.SetScanParameters(cmd.LESetScanParameters{LEScanInterval: 0x10, LEScanWindow: 0x10})
	assert.Equal(t, uint8(hci.ErrDisallowed), hci.StatusOf(err))

	b.run(200000)
	assert.Greater(t, p.ScanRequests, 1)

	rs := b.reports()
	require.Len(t, rs, 2)
	assert.Equal(t, 1, countReports(rs, hci.EvtTypAdvInd))
	assert.Equal(t, 1, countReports(rs, hci.EvtTypScanRsp))

	addr, err := rs[0].AddressWErr(0)
	require.NoError(t, err)
	assert.Equal(t, peerAddr.LE(), addr)
	data, err := rs[0].DataWErr(0)
	require.NoError(t, err)
	assert.Equal(t, p.Data, data)
	rssi, err := rs[0].RSSIWErr(0)
	require.NoError(t, err)
	assert.Equal(t, int8(-40), rssi)

	data, err = rs[1].DataWErr(0)
	require.NoError(t, err)
	assert.Equal(t, p.ScanRsp, data)

	require.NoError(t, b.c.SetScanEnable(false, false))
	n := len(b.host.events)
	b.run(100000)
	assert.Len(t, b.host.events, n)
	assert.Empty(t, b.c.actors)
}

func TestPassiveScanReportsEveryPDU(t *testing.T) {
	b := newBench(t)
	p := &sim.AdvertiserPeer{Addr: peerAddr.LE(), ScanRsp: []byte{0x01}, IntervalUs: 20000, OffsetUs: 5000}
	b.radio.AddPeer(p)

	require.NoError(t, b.c.SetScanParameters(cmd.LESetScanParameters{
		LEScanType:     hci.LEScanTypePassive,
		LEScanInterval: 0x0010,
		LEScanWindow:   0x0010,
	}))
	require.NoError(t, b.c.SetScanEnable(true, false))
	b.run(200000)

	rs := b.reports()
	assert.GreaterOrEqual(t, countReports(rs, hci.EvtTypAdvInd), 9)
	assert.Zero(t, countReports(rs, hci.EvtTypScanRsp))
	assert.Zero(t, p.ScanRequests)
}

func TestScanWithUnsetRandomAddress(t *testing.T) {
	b := newBench(t)
	require.NoError(t, b.c.SetScanParameters(cmd.LESetScanParameters{
		LEScanInterval: 0x0010,
		LEScanWindow:   0x0010,
		OwnAddressType: hci.AddressTypeRandom,
	}))
	err := b.c.SetScanEnable(true, false)
	assert.Equal(t, uint8(hci.ErrInvalidParams), hci.StatusOf(err))

	random, err := blell.NewAddr("c1:22:33:44:55:66")
	require.NoError(t, err)
	require.NoError(t, b.c.SetRandomAddress(random))
	require.NoError(t, b.c.SetScanEnable(true, false))

	err = b.c.SetRandomAddress(random)
	assert.Equal(t, uint8(hci.ErrDisallowed), hci.StatusOf(err))
}

func TestAdvertisingParameters(t *testing.T) {
	b := newBench(t)

	err := b.c.SetAdvertisingParameters(cmd.LESetAdvertisingParameters{
		AdvertisingIntervalMin: 0x10,
		AdvertisingIntervalMax: 0x20,
		AdvertisingChannelMap:  0x07,
	})
	assert.Equal(t, uint8(hci.ErrInvalidParams), hci.StatusOf(err))

	err = b.c.SetAdvertisingParameters(cmd.LESetAdvertisingParameters{
		AdvertisingIntervalMin:  0x20,
		AdvertisingIntervalMax:  0x20,
		AdvertisingChannelMap:   0x07,
		AdvertisingFilterPolicy: 1,
	})
	assert.Equal(t, uint8(hci.ErrUnsupportedParams), hci.StatusOf(err))

	err = b.c.SetAdvertisingData(make([]byte, pdu.MaxAdvData+1))
	assert.Equal(t, uint8(hci.ErrInvalidParams), hci.StatusOf(err))

	require.NoError(t, b.c.SetAdvertiseEnable(true))
	err = b.c.SetAdvertisingParameters(cmd.LESetAdvertisingParameters{
		AdvertisingIntervalMin: 0x20,
		AdvertisingIntervalMax: 0x20,
		AdvertisingChannelMap:  0x07,
	})
	assert.Equal(t, uint8(hci.ErrDisallowed), hci.StatusOf(err))

	// data may change while advertising
	require.NoError(t, b.c.SetAdvertisingData([]byte{0x02, 0x01, 0x06}))

	// enabling twice is not an error
	require.NoError(t, b.c.SetAdvertiseEnable(true))
	require.NoError(t, b.c.SetAdvertiseEnable(false))
	require.NoError(t, b.c.SetAdvertiseEnable(false))
}

func TestAdvertisingChannels(t *testing.T) {
	b := newBench(t)
	require.NoError(t, b.c.SetAdvertisingParameters(cmd.LESetAdvertisingParameters{
		AdvertisingIntervalMin: 0x20,
		AdvertisingIntervalMax: 0x20,
		AdvertisingType:        hci.AdvTypeNonconnInd,
		AdvertisingChannelMap:  0x05,
	}))
	require.NoError(t, b.c.SetAdvertiseEnable(true))
	b.run(100000)

	armed := b.radio.Armed()
	require.NotEmpty(t, armed)
	for i, ev := range armed {
		assert.Equal(t, sched.RoleAdvertiser, ev.Role)
		want := uint8(37)
		if i%2 == 1 {
			want = 39
		}
		assert.Equal(t, want, ev.Channel, "event %d", i)
	}
}

func TestHighDutyDirectedAdvertisingTimeout(t *testing.T) {
	b := newBench(t)
	require.NoError(t, b.c.SetAdvertisingParameters(cmd.LESetAdvertisingParameters{
		AdvertisingType:       hci.AdvTypeDirectIndHigh,
		DirectAddress:         peerAddr.LE(),
		AdvertisingChannelMap: 0x07,
	}))
	require.NoError(t, b.c.SetAdvertiseEnable(true))

	b.run(1200000)
	assert.Empty(t, b.connComplete())
	assert.True(t, b.c.adv.enabled)

	b.run(200000)
	cc := b.connComplete()
	require.Len(t, cc, 1)
	status, _ := cc[0].StatusWErr()
	assert.Equal(t, uint8(hci.ErrAdvTimeout), status)
	assert.False(t, b.c.adv.enabled)
	assert.Empty(t, b.c.actors)
}

func TestDirectedAdvertisingOnlyAcceptsTarget(t *testing.T) {
	b := newBench(t)
	other := peerAddr
	other[5] = 0x09
	stranger := &sim.CentralPeer{Addr: other.LE()}
	target := &sim.CentralPeer{Addr: peerAddr.LE()}
	b.radio.AddPeer(stranger)
	b.radio.AddPeer(target)

	ind := pdu.ConnectInd{AA: 0x71764129, CRCInit: 0x123456, WinSize: 1, Interval: 8, Timeout: 100, Hop: 7}
	stranger.Connect(ind)
	target.Connect(ind)

	require.NoError(t, b.c.SetAdvertisingParameters(cmd.LESetAdvertisingParameters{
		AdvertisingIntervalMin: 0x20,
		AdvertisingIntervalMax: 0x20,
		AdvertisingType:        hci.AdvTypeDirectIndLow,
		DirectAddress:          peerAddr.LE(),
		AdvertisingChannelMap:  0x07,
	}))
	require.NoError(t, b.c.SetAdvertiseEnable(true))
	b.runUntil(100000, func() bool { return len(b.connComplete()) > 0 })

	cc := b.connComplete()[0]
	status, _ := cc.StatusWErr()
	assert.Equal(t, uint8(0), status)
	addr, _ := cc.PeerAddressWErr()
	assert.Equal(t, peerAddr.LE(), addr)
	assert.Greater(t, stranger.Ignored, 0)
	assert.Nil(t, stranger.Link)
	assert.NotNil(t, target.Link)
}
