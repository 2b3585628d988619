package ll

import (
	"testing"

	"github.com/rigado/blell/hci"
	"github.com/rigado/blell/hci/cmd"
	"github.com/rigado/blell/hci/evt"
	"github.com/rigado/blell/ll/isoal"
	"github.com/rigado/blell/ll/sched"
	"github.com/rigado/blell/ll/sim"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestISOIntervalSelection(t *testing.T) {
	tests := []struct {
		sduUs  uint32
		framed bool
		iso    uint32
		ok     bool
	}{
		{sduUs: 10000, iso: 10000, ok: true},
		{sduUs: 7500, iso: 7500, ok: true},
		{sduUs: 2500, iso: 5000, ok: true},
		{sduUs: 1000, iso: 5000, ok: true},
		{sduUs: 10001, ok: false},
		{sduUs: 10001, framed: true, iso: 11250, ok: true},
		{sduUs: 3000, framed: true, iso: 5000, ok: true},
	}
	for _, tt := range tests {
		iso, err := isoInterval(tt.sduUs, tt.framed)
		if !tt.ok {
			assert.Error(t, err, "sdu interval %v", tt.sduUs)
			continue
		}
		require.NoError(t, err, "sdu interval %v", tt.sduUs)
		assert.Equal(t, tt.iso, iso, "sdu interval %v framed %v", tt.sduUs, tt.framed)
	}
}

func TestISOBurst(t *testing.T) {
	bn, maxPDU, err := isoBurst(10000, 10000, 40, false)
	require.NoError(t, err)
	assert.Equal(t, 1, bn)
	assert.Equal(t, 40, maxPDU)

	bn, maxPDU, err = isoBurst(10000, 5000, 300, false)
	require.NoError(t, err)
	assert.Equal(t, 4, bn)
	assert.Equal(t, 150, maxPDU)

	bn, _, err = isoBurst(10000, 10000, 0, false)
	require.NoError(t, err)
	assert.Zero(t, bn)

	_, _, err = isoBurst(10000, 3000, 40, false)
	assert.Equal(t, uint8(hci.ErrUnsupportedParams), hci.StatusOf(err))
}

func cigParams(cisIDs ...uint8) cmd.LESetCIGParameters {
	p := cmd.LESetCIGParameters{
		CIGID:                   1,
		SDUIntervalCToP:         10000,
		SDUIntervalPToC:         10000,
		Framing:                 cmd.FramingUnframed,
		MaxTransportLatencyCToP: 10,
		MaxTransportLatencyPToC: 10,
	}
	for _, id := range cisIDs {
		p.CIS = append(p.CIS, cmd.CISParams{
			CISID:      id,
			MaxSDUCToP: 40,
			MaxSDUPToC: 40,
			PHYCToP:    1,
			PHYPToC:    1,
		})
	}
	return p
}

func TestSetCIGParameters(t *testing.T) {
	b := newBench(t)

	hs, err := b.c.SetCIGParameters(cigParams(0, 1))
	require.NoError(t, err)
	require.Len(t, hs, 2)
	assert.NotEqual(t, hs[0], hs[1])

	// reconfiguring keeps the handles of CIS IDs that stay
	again, err := b.c.SetCIGParameters(cigParams(1, 2))
	require.NoError(t, err)
	require.Len(t, again, 2)
	assert.Equal(t, hs[1], again[0])

	p := cigParams(0)
	p.CIS[0].PHYCToP = 2
	_, err = b.c.SetCIGParameters(p)
	assert.Equal(t, uint8(hci.ErrUnsupportedParams), hci.StatusOf(err))

	_, err = b.c.SetCIGParameters(cigParams(3, 3))
	assert.Equal(t, uint8(hci.ErrInvalidParams), hci.StatusOf(err))

	p = cigParams(0)
	p.SDUIntervalCToP = 10
	_, err = b.c.SetCIGParameters(p)
	assert.Equal(t, uint8(hci.ErrInvalidParams), hci.StatusOf(err))

	_, err = b.c.SetCIGParameters(cigParams(0, 1, 2, 3, 4))
	assert.Equal(t, uint8(hci.ErrMemoryCapacity), hci.StatusOf(err))

	require.NoError(t, b.c.RemoveCIG(1))
	assert.Empty(t, b.c.cises)
	assert.Empty(t, b.c.handles)
	err = b.c.RemoveCIG(1)
	assert.Equal(t, uint8(hci.ErrConnID), hci.StatusOf(err))
}

func TestCreateCISErrors(t *testing.T) {
	b := newBench(t)
	hs, err := b.c.SetCIGParameters(cigParams(0))
	require.NoError(t, err)

	err = b.c.CreateCIS(nil)
	assert.Equal(t, uint8(hci.ErrInvalidParams), hci.StatusOf(err))

	err = b.c.CreateCIS([]cmd.CISPair{{CISHandle: hs[0] + 10, ACLHandle: 0}})
	assert.Equal(t, uint8(hci.ErrConnID), hci.StatusOf(err))

	// no ACL yet
	err = b.c.CreateCIS([]cmd.CISPair{{CISHandle: hs[0], ACLHandle: 0x0100}})
	assert.Equal(t, uint8(hci.ErrConnID), hci.StatusOf(err))
}

// cisBench is a central link with one CIS of 40 octet SDUs every 10 ms in
// both directions.
type cisBench struct {
	*bench
	acl  uint16
	cis  uint16
	peer *sim.CISPeer
}

func newCISBench(t *testing.T) *cisBench {
	b := newBench(t)
	_, acl := b.connectCentral()

	hs, err := b.c.SetCIGParameters(cigParams(0))
	require.NoError(t, err)
	require.Len(t, hs, 1)

	peer, err := sim.NewCISPeer(hs[0],
		isoal.DemuxConfig{MaxSDU: 40, ISOIntervalUs: 10000, SDUIntervalUs: 10000},
		1,
		isoal.MuxConfig{MaxPDU: 40, ISOIntervalUs: 10000, SDUIntervalUs: 10000, BN: 1},
	)
	require.NoError(t, err)
	b.radio.AddPeer(peer)

	require.NoError(t, b.c.CreateCIS([]cmd.CISPair{{CISHandle: hs[0], ACLHandle: acl}}))
	b.runUntil(100000, func() bool {
		return len(b.host.meta(evt.LECISEstablishedSubCode)) > 0
	})
	return &cisBench{bench: b, acl: acl, cis: hs[0], peer: peer}
}

func TestCISEstablished(t *testing.T) {
	b := newCISBench(t)

	ce := evt.LECISEstablished(b.host.meta(evt.LECISEstablishedSubCode)[0])
	status, _ := ce.StatusWErr()
	assert.Equal(t, uint8(0), status)
	h, _ := ce.ConnectionHandleWErr()
	assert.Equal(t, b.cis, h)
	iv, _ := ce.ISOIntervalWErr()
	assert.Equal(t, uint16(8), iv)

	assert.Equal(t, 1, b.c.Stats().CIS)
	// the ACL and the CIS
	assert.Equal(t, 2, b.c.LiveAccessAddresses())

	_, err := b.c.SetCIGParameters(cigParams(0))
	assert.Equal(t, uint8(hci.ErrDisallowed), hci.StatusOf(err))
	err = b.c.RemoveCIG(1)
	assert.Equal(t, uint8(hci.ErrDisallowed), hci.StatusOf(err))
	err = b.c.CreateCIS([]cmd.CISPair{{CISHandle: b.cis, ACLHandle: b.acl}})
	assert.Equal(t, uint8(hci.ErrDisallowed), hci.StatusOf(err))
}

func TestCISData(t *testing.T) {
	b := newCISBench(t)

	require.NoError(t, b.c.SendSDU(b.cis, isoal.SDU{Data: []byte("hello")}))
	require.NoError(t, b.peer.Send(isoal.SDU{Data: []byte("world")}))
	b.run(30000)

	var got []string
	for _, s := range b.peer.SDUs {
		if s.Status == isoal.StatusValid {
			got = append(got, string(s.Data))
		}
	}
	assert.Equal(t, []string{"hello"}, got)

	var rx []string
	for _, d := range b.host.iso {
		assert.Equal(t, b.cis, d.handle)
		if d.sdu.Status == isoal.StatusValid {
			rx = append(rx, string(d.sdu.Data))
		}
	}
	assert.Equal(t, []string{"world"}, rx)

	ncp := b.host.completedPackets()
	require.Len(t, ncp, 1)
	h, _ := ncp[0].ConnectionHandleWErr(0)
	assert.Equal(t, b.cis, h)
	n, _ := ncp[0].HCNumOfCompletedPacketsWErr(0)
	assert.Equal(t, uint16(1), n)

	err := b.c.SendSDU(b.cis, isoal.SDU{Data: make([]byte, 41)})
	assert.Equal(t, uint8(hci.ErrInvalidParams), hci.StatusOf(err))
	err = b.c.SendSDU(0x0EFF, isoal.SDU{Data: []byte("x")})
	assert.Equal(t, uint8(hci.ErrConnID), hci.StatusOf(err))
}

func TestISOTransmitTest(t *testing.T) {
	b := newCISBench(t)

	for _, typ := range []isoal.PayloadType{isoal.PayloadZero, isoal.PayloadVariable, isoal.PayloadMax} {
		require.NoError(t, b.c.ISOTransmitTest(cmd.LEISOTransmitTest{ConnectionHandle: b.cis, PayloadType: uint8(typ)}))
		require.NoError(t, b.peer.StartReceiveTest(typ, 40))

		err := b.c.SendSDU(b.cis, isoal.SDU{Data: []byte("x")})
		assert.Equal(t, uint8(hci.ErrDisallowed), hci.StatusOf(err), "payload %v", typ)

		b.run(5 * 10000)

		tc, err := b.c.ISOTestEnd(b.cis)
		require.NoError(t, err)
		assert.Equal(t, TestCounters{}, tc)

		received, missed, failed := b.peer.Counters()
		assert.Equal(t, uint32(5), received, "payload %v", typ)
		assert.Zero(t, missed, "payload %v", typ)
		assert.Zero(t, failed, "payload %v", typ)
		b.peer.StopTest()
	}

	_, err := b.c.ISOTestEnd(b.cis)
	assert.Equal(t, uint8(hci.ErrDisallowed), hci.StatusOf(err))
}

func TestISOTestEndMidEvent(t *testing.T) {
	b := newCISBench(t)

	// host data has to drain before a transmit test
	require.NoError(t, b.c.SendSDU(b.cis, isoal.SDU{Data: []byte("first")}))
	err := b.c.ISOTransmitTest(cmd.LEISOTransmitTest{ConnectionHandle: b.cis, PayloadType: uint8(isoal.PayloadVariable)})
	assert.Equal(t, uint8(hci.ErrDisallowed), hci.StatusOf(err))
	b.runUntil(50000, func() bool { return len(b.host.completedPackets()) > 0 })

	require.NoError(t, b.c.ISOTransmitTest(cmd.LEISOTransmitTest{ConnectionHandle: b.cis, PayloadType: uint8(isoal.PayloadVariable)}))
	b.run(20000)

	// end the test while a CIS event carrying a test SDU is on air
	n := len(b.radio.Armed())
	b.clock.RunWhile(b.clock.Deadline(20000), b.settle, func() bool {
		a := b.radio.Armed()
		return len(a) == n || a[len(a)-1].Role != sched.RoleCIS
	})
	_, err = b.c.ISOTestEnd(b.cis)
	require.NoError(t, err)
	require.NoError(t, b.c.SendSDU(b.cis, isoal.SDU{Data: []byte("after")}))

	sent := func() bool {
		for _, sdu := range b.peer.SDUs {
			if string(sdu.Data) == "after" {
				return true
			}
		}
		return false
	}
	b.runUntil(50000, func() bool { return len(b.host.completedPackets()) > 1 })
	assert.True(t, sent(), "completion reported before the SDU went out")

	b.run(50000)
	total := 0
	for _, e := range b.host.completedPackets() {
		n, _ := e.HCNumOfCompletedPacketsWErr(0)
		total += int(n)
	}
	assert.Equal(t, 2, total)
}

func TestISOReceiveTest(t *testing.T) {
	b := newCISBench(t)

	for _, typ := range []isoal.PayloadType{isoal.PayloadZero, isoal.PayloadVariable, isoal.PayloadMax} {
		require.NoError(t, b.c.ISOReceiveTest(cmd.LEISOReceiveTest{ConnectionHandle: b.cis, PayloadType: uint8(typ)}))
		require.NoError(t, b.peer.StartTransmitTest(typ, 40))

		err := b.c.ISOTransmitTest(cmd.LEISOTransmitTest{ConnectionHandle: b.cis, PayloadType: uint8(typ)})
		assert.Equal(t, uint8(hci.ErrDisallowed), hci.StatusOf(err))

		b.run(5 * 10000)

		tc, err := b.c.ISOReadTestCounters(b.cis)
		require.NoError(t, err)
		assert.Equal(t, TestCounters{Received: 5}, tc, "payload %v", typ)

		tc, err = b.c.ISOTestEnd(b.cis)
		require.NoError(t, err)
		assert.Equal(t, TestCounters{Received: 5}, tc, "payload %v", typ)
		b.peer.StopTest()
	}

	err := b.c.ISOReceiveTest(cmd.LEISOReceiveTest{ConnectionHandle: b.cis, PayloadType: 3})
	assert.Equal(t, uint8(hci.ErrInvalidParams), hci.StatusOf(err))
	_, err = b.c.ISOReadTestCounters(b.cis)
	assert.Equal(t, uint8(hci.ErrDisallowed), hci.StatusOf(err))
}

func TestCISDisconnect(t *testing.T) {
	b := newCISBench(t)

	require.NoError(t, b.c.Disconnect(b.cis, 0x13))
	b.runUntil(50000, func() bool { return len(b.host.disconnects()) > 0 })

	dc := b.host.disconnects()
	require.Len(t, dc, 1)
	h, _ := dc[0].ConnectionHandleWErr()
	assert.Equal(t, b.cis, h)
	reason, _ := dc[0].ReasonWErr()
	assert.Equal(t, uint8(hci.ErrLocalHost), reason)

	// the ACL stays up and the CIS may be created again
	assert.Contains(t, b.c.conns, b.acl)
	assert.Equal(t, 1, b.c.LiveAccessAddresses())
	require.NoError(t, b.c.RemoveCIG(1))
}

func TestCISGoesWithItsACL(t *testing.T) {
	b := newCISBench(t)

	require.NoError(t, b.c.Disconnect(b.acl, 0x13))
	b.runUntil(100000, func() bool { return len(b.host.disconnects()) >= 2 })

	var handles []uint16
	for _, dc := range b.host.disconnects() {
		h, _ := dc.ConnectionHandleWErr()
		handles = append(handles, h)
	}
	assert.ElementsMatch(t, []uint16{b.acl, b.cis}, handles)
	assert.Zero(t, b.c.LiveAccessAddresses())
	assert.Empty(t, b.c.actors)
}

func TestCISSupervisionTimeout(t *testing.T) {
	b := newCISBench(t)
	b.peer.Silent = true
	missed := b.c.Stats().MissedAnchors

	b.run(5000000)

	dc := b.host.disconnects()
	require.Len(t, dc, 1)
	h, _ := dc[0].ConnectionHandleWErr()
	assert.Equal(t, b.cis, h)
	reason, _ := dc[0].ReasonWErr()
	assert.Equal(t, uint8(hci.ErrConnTimeout), reason)

	// the ACL kept hearing its peer
	assert.Contains(t, b.c.conns, b.acl)
	assert.Equal(t, uint64(1), b.c.Stats().SupervisionTimeouts)
	// 1 s of 10 ms events went unanswered
	assert.GreaterOrEqual(t, b.c.Stats().MissedAnchors, missed+99)
	assert.Equal(t, 1, b.c.LiveAccessAddresses())
}

func TestCISNotEstablished(t *testing.T) {
	b := newBench(t)
	_, acl := b.connectCentral()
	hs, err := b.c.SetCIGParameters(cigParams(0))
	require.NoError(t, err)

	// nobody answers on the CIS
	require.NoError(t, b.c.CreateCIS([]cmd.CISPair{{CISHandle: hs[0], ACLHandle: acl}}))
	b.runUntil(200000, func() bool {
		return len(b.host.meta(evt.LECISEstablishedSubCode)) > 0
	})

	ce := evt.LECISEstablished(b.host.meta(evt.LECISEstablishedSubCode)[0])
	status, _ := ce.StatusWErr()
	assert.Equal(t, uint8(hci.ErrEstablished), status)
	assert.Equal(t, 1, b.c.LiveAccessAddresses())
	assert.Zero(t, b.c.Stats().CIS)
}

func bigParams() cmd.LECreateBIG {
	return cmd.LECreateBIG{
		BIGHandle:           0,
		NumBIS:              2,
		SDUInterval:         10000,
		MaxSDU:              40,
		MaxTransportLatency: 10,
		PHY:                 1,
	}
}

func TestBIG(t *testing.T) {
	b := newBench(t)
	sink := sim.NewBISSink()
	b.radio.AddPeer(sink)

	require.NoError(t, b.c.CreateBIG(bigParams()))
	err := b.c.CreateBIG(bigParams())
	assert.Equal(t, uint8(hci.ErrDisallowed), hci.StatusOf(err))

	b.runUntil(50000, func() bool {
		return len(b.host.meta(evt.LECreateBIGCompleteSubCode)) > 0
	})
	bc := evt.LECreateBIGComplete(b.host.meta(evt.LECreateBIGCompleteSubCode)[0])
	status, _ := bc.StatusWErr()
	require.Equal(t, uint8(0), status)
	n, _ := bc.NumBISWErr()
	require.Equal(t, uint8(2), n)
	h0, _ := bc.ConnectionHandleWErr(0)
	h1, _ := bc.ConnectionHandleWErr(1)
	assert.NotEqual(t, h0, h1)

	// the seed and one address per BIS
	assert.Equal(t, 3, b.c.LiveAccessAddresses())
	assert.Equal(t, 1, b.c.Stats().BIG)

	require.NoError(t, b.c.SendSDU(h0, isoal.SDU{Data: []byte("broadcast")}))
	b.run(30000)
	assert.GreaterOrEqual(t, sink.Events, 3)
	assert.NotEqual(t, sink.AAs[h0], sink.AAs[h1])

	var sent []string
	for _, p := range sink.PDUs[h0] {
		if len(p.Payload) > 0 {
			sent = append(sent, string(p.Payload))
		}
	}
	assert.Equal(t, []string{"broadcast"}, sent)
	for _, p := range sink.PDUs[h1] {
		assert.Empty(t, p.Payload)
	}

	ncp := b.host.completedPackets()
	require.Len(t, ncp, 1)
	ch, _ := ncp[0].ConnectionHandleWErr(0)
	assert.Equal(t, h0, ch)

	// a BIS carries no receive path
	err = b.c.ISOReceiveTest(cmd.LEISOReceiveTest{ConnectionHandle: h0})
	assert.Equal(t, uint8(hci.ErrDisallowed), hci.StatusOf(err))

	err = b.c.TerminateBIG(1, 0x13)
	assert.Equal(t, uint8(hci.ErrUnknownAdvID), hci.StatusOf(err))
	require.NoError(t, b.c.TerminateBIG(0, 0x13))
	err = b.c.TerminateBIG(0, 0x13)
	assert.Equal(t, uint8(hci.ErrDisallowed), hci.StatusOf(err))

	b.runUntil(20000, func() bool {
		return len(b.host.meta(evt.LETerminateBIGCompleteSubCode)) > 0
	})
	tc := evt.LETerminateBIGComplete(b.host.meta(evt.LETerminateBIGCompleteSubCode)[0])
	bh, _ := tc.BIGHandleWErr()
	assert.Equal(t, uint8(0), bh)
	reason, _ := tc.ReasonWErr()
	assert.Equal(t, uint8(hci.ErrLocalHost), reason)

	assert.Zero(t, b.c.LiveAccessAddresses())
	assert.Empty(t, b.c.bigs)
	assert.Empty(t, b.c.bises)
	assert.Empty(t, b.c.handles)
}

func TestCreateBIGErrors(t *testing.T) {
	b := newBench(t)

	p := bigParams()
	p.AdvertisingHandle = 1
	err := b.c.CreateBIG(p)
	assert.Equal(t, uint8(hci.ErrUnknownAdvID), hci.StatusOf(err))

	p = bigParams()
	p.Encryption = 1
	err = b.c.CreateBIG(p)
	assert.Equal(t, uint8(hci.ErrUnsupportedParams), hci.StatusOf(err))

	p = bigParams()
	p.PHY = 2
	err = b.c.CreateBIG(p)
	assert.Equal(t, uint8(hci.ErrUnsupportedParams), hci.StatusOf(err))

	p = bigParams()
	p.NumBIS = 0
	err = b.c.CreateBIG(p)
	assert.Equal(t, uint8(hci.ErrInvalidParams), hci.StatusOf(err))

	// too many BIS for the interval
	p = bigParams()
	p.NumBIS = 31
	p.MaxSDU = 251
	err = b.c.CreateBIG(p)
	assert.Equal(t, uint8(hci.ErrUnsupportedParams), hci.StatusOf(err))

	require.NoError(t, b.c.CreateBIG(bigParams()))
	p = bigParams()
	p.BIGHandle = 1
	err = b.c.CreateBIG(p)
	assert.Equal(t, uint8(hci.ErrMemoryCapacity), hci.StatusOf(err))
}

func TestTerminateBIGBeforeFirstEvent(t *testing.T) {
	b := newBench(t)
	require.NoError(t, b.c.CreateBIG(bigParams()))
	require.NoError(t, b.c.TerminateBIG(0, 0x13))
	b.run(20000)

	bc := b.host.meta(evt.LECreateBIGCompleteSubCode)
	require.Len(t, bc, 1)
	status, _ := evt.LECreateBIGComplete(bc[0]).StatusWErr()
	assert.Equal(t, uint8(hci.ErrCancelledByHost), status)
	assert.Empty(t, b.host.meta(evt.LETerminateBIGCompleteSubCode))
	assert.Zero(t, b.c.LiveAccessAddresses())
}
