package ll

import (
	"github.com/pkg/errors"
	"github.com/rigado/blell"
	"github.com/rigado/blell/hci"
	"github.com/rigado/blell/hci/cmd"
	"github.com/rigado/blell/hci/evt"
	"github.com/rigado/blell/ll/chsel"
	"github.com/rigado/blell/ll/pdu"
	"github.com/rigado/blell/ll/radio"
	"github.com/rigado/blell/ll/sched"
	"github.com/rigado/blell/ll/tmr"
)

const (
	// connEventUs is the radio time reserved for one connection event.
	connEventUs = 1000

	connUnitUs = 1250

	// instantOffset is how many events ahead of the current one a
	// procedure instant is placed, on top of the peripheral latency.
	instantOffset = 6

	// establishEvents is the number of events a new link gets to see its
	// first packet [Vol 6, Part B, 4.5.2].
	establishEvents = 6
)

type connSetup struct {
	role       sched.Role
	peer       [6]byte
	peerRandom bool
	ind        pdu.ConnectInd
	csa2       bool

	// anchor of the first event, or start of the transmit window on a
	// peripheral
	anchor  tmr.Point
	lastRx  uint32
	txWinUs uint32
}

// conn is one ACL link.
type conn struct {
	c      *Controller
	handle uint16
	role   sched.Role
	log    blell.Logger

	peer       [6]byte
	peerRandom bool

	aa       uint32
	crcInit  uint32
	interval uint16
	latency  uint16
	timeout  uint16
	chm      chsel.ChanMap
	csa2     bool
	chanID   uint16
	hop      uint8
	unmapped uint8
	channel  uint8
	peerSCA  uint8

	counter     uint16
	anchor      tmr.Point
	lastRx      uint32
	established bool
	events      int
	txWinUs     uint32

	ack      pdu.Ack
	txq      []pdu.Data
	inFlight bool
	armed    connEvent

	update     *pdu.ConnectionUpdateInd
	hostUpdate bool
	chmUpdate  *pdu.ChannelMapInd
	chmDirty   bool

	terminating bool
	closed      bool
}

// connEvent is the transmit state of one connection event, fixed when the
// event is armed.
type connEvent struct {
	ack      pdu.Ack
	queue    []pdu.Data
	inFlight bool
}

// first is what a central sends at the anchor.
func (e connEvent) first() pdu.Data {
	out := pdu.Data{LLID: pdu.LLIDContinue}
	if len(e.queue) > 0 {
		out = e.queue[0]
	}
	e.ack.Stamp(&out)
	return out
}

// reply is what a peripheral sends after receiving rx. popped reports that rx
// acknowledged the queued PDU sent in an earlier event.
func (e connEvent) reply(rx pdu.Data) (out pdu.Data, popped bool) {
	a := e.ack
	acked, _ := a.Rx(rx)
	q := e.queue
	if acked && e.inFlight && len(q) > 0 {
		q = q[1:]
		popped = true
	}
	out = pdu.Data{LLID: pdu.LLIDContinue}
	if len(q) > 0 {
		out = q[0]
	}
	a.Stamp(&out)
	return out, popped
}

func (c *Controller) newConn(s connSetup) (*conn, error) {
	h, err := c.allocHandle()
	if err != nil {
		return nil, err
	}
	cn := &conn{
		c:          c,
		handle:     h,
		role:       s.role,
		log:        c.log.ChildLogger(map[string]interface{}{"handle": h, "role": s.role.String()}),
		peer:       s.peer,
		peerRandom: s.peerRandom,
		aa:         s.ind.AA,
		crcInit:    s.ind.CRCInit,
		interval:   s.ind.Interval,
		latency:    s.ind.Latency,
		timeout:    s.ind.Timeout,
		chm:        s.ind.ChM,
		csa2:       s.csa2,
		chanID:     chsel.ChannelID(s.ind.AA),
		hop:        s.ind.Hop,
		peerSCA:    s.ind.SCA,
		anchor:     s.anchor,
		lastRx:     s.lastRx,
		txWinUs:    s.txWinUs,
	}
	if s.role == sched.RoleCentral {
		cn.peerSCA = 0
	}
	cn.selectChannel()

	c.conns[h] = cn
	c.addActor(cn.key(), cn)
	c.schedule(cn.event())

	cc := evt.ConnectionComplete{
		Handle:             h,
		Role:               hci.RoleCentral,
		PeerAddress:        s.peer,
		ConnInterval:       cn.interval,
		ConnLatency:        cn.latency,
		SupervisionTimeout: cn.timeout,
	}
	if s.peerRandom {
		cc.PeerAddressType = hci.AddressTypeRandom
	}
	if s.role == sched.RolePeripheral {
		cc.Role = hci.RolePeripheral
		cc.CentralClockAccuracy = s.ind.SCA
	}
	c.emit(evt.NewLEConnectionComplete(cc))
	return cn, nil
}

func (cn *conn) key() actorKey {
	return actorKey{role: cn.role, handle: cn.handle}
}

func (cn *conn) intervalUs() uint32 {
	return uint32(cn.interval) * connUnitUs
}

func (cn *conn) selectChannel() {
	if cn.csa2 {
		cn.channel = chsel.CSA2(cn.counter, cn.chanID, cn.chm)
		return
	}
	cn.channel, cn.unmapped = chsel.CSA1(cn.unmapped, cn.hop, cn.chm)
}

func (cn *conn) event() sched.Event {
	tb := cn.c.tb
	ev := sched.Event{
		Role:       cn.role,
		Handle:     cn.handle,
		Channel:    cn.channel,
		AccessAddr: cn.aa,
		CRCInit:    cn.crcInit,
		Counter:    cn.counter,
	}
	if cn.role == sched.RoleCentral {
		ev.Start = cn.anchor.Ticks
		ev.Duration = tb.UsecsToTicksRoundUp(connEventUs)
		return ev
	}

	w := tmr.WindowWidening(tb, cn.anchor.Ticks, cn.lastRx, cn.peerSCA, cn.c.localSCA)
	if m := tmr.MaxWindowWidening(cn.intervalUs()); w > m {
		w = m
	}
	ev.Start, ev.Duration = tmr.ReceiveWindow(tb, cn.anchor, w, cn.txWinUs+connEventUs)
	return ev
}

func (cn *conn) start(ev sched.Event) (radio.Request, bool) {
	if cn.closed {
		return radio.Request{}, false
	}
	cn.armed = connEvent{ack: cn.ack, queue: cn.txq, inFlight: cn.inFlight}
	if cn.role == sched.RoleCentral {
		return radio.Request{PDU: cn.armed.first().Marshal()}, true
	}

	armed := cn.armed
	return radio.Request{
		RxFirst: true,
		Reply: func(b []byte) []byte {
			var rx pdu.Data
			if err := rx.Unmarshal(b); err != nil {
				return nil
			}
			out, _ := armed.reply(rx)
			return out.Marshal()
		},
	}, true
}

func (cn *conn) done(cpl radio.Completion) {
	if cn.closed {
		return
	}

	var rx pdu.Data
	got := cpl.Received && !cpl.CRCError && rx.Unmarshal(cpl.PDU) == nil

	if cn.role == sched.RoleCentral {
		// our PDU went out at the anchor whether or not the peer answered
		cn.inFlight = len(cn.armed.queue) > 0
	}
	if got {
		cn.rx(rx, cpl)
		if cn.closed {
			return
		}
	}
	cn.endEvent(cpl.End)
}

func (cn *conn) rx(d pdu.Data, cpl radio.Completion) {
	if cn.role == sched.RolePeripheral {
		cn.anchor = tmr.Point{Ticks: cpl.RxTime}
		cn.txWinUs = 0
	}
	cn.lastRx = cn.anchor.Ticks
	cn.established = true

	var sent pdu.Data
	left := len(cn.armed.queue)
	acked, fresh := cn.ack.Rx(d)
	if acked && cn.inFlight && len(cn.txq) > 0 {
		sent = cn.txq[0]
		cn.txq = cn.txq[1:]
		cn.inFlight = false
		left--
	}
	if cn.role == sched.RolePeripheral {
		// the reply carried the head of what was queued when the event was armed
		cn.inFlight = left > 0
	}

	if isTerminate(sent) {
		cn.close(uint8(hci.ErrLocalHost))
		return
	}
	if fresh && d.LLID == pdu.LLIDControl {
		cn.control(d)
	}
}

func isTerminate(d pdu.Data) bool {
	return d.LLID == pdu.LLIDControl && len(d.Payload) > 0 && d.Payload[0] == pdu.OpTerminateInd
}

func (cn *conn) skip(ev sched.Event, by sched.Event) {
	if cn.closed {
		return
	}
	cn.c.count(func(s *Stats) { s.MissedAnchors++ })
	cn.endEvent(cn.c.clock.Now())
}

// endEvent closes the current event: supervision, then the next anchor.
func (cn *conn) endEvent(now uint32) {
	if !cn.established {
		cn.events++
		if cn.events >= establishEvents {
			cn.close(uint8(hci.ErrEstablished))
			return
		}
	} else {
		to := cn.c.tb.UsecsToTicks(uint32(cn.timeout) * 10000)
		if tmr.Diff(now, cn.lastRx) >= int32(to) {
			cn.c.count(func(s *Stats) { s.SupervisionTimeouts++ })
			cn.log.Warnf("supervision timeout")
			cn.close(uint8(hci.ErrConnTimeout))
			return
		}
	}

	cn.step()
	if cn.role == sched.RolePeripheral && cn.established && len(cn.txq) == 0 &&
		cn.update == nil && cn.chmUpdate == nil {
		for i := uint16(0); i < cn.latency; i++ {
			cn.step()
		}
	}
	cn.c.schedule(cn.event())
}

// step moves to the next connection event, applying procedures whose instant
// it is.
func (cn *conn) step() {
	cn.counter++
	cn.anchor = cn.c.tb.Add(cn.anchor, cn.intervalUs())

	if u := cn.update; u != nil && u.Instant == cn.counter {
		cn.applyUpdate()
	}
	if m := cn.chmUpdate; m != nil && m.Instant == cn.counter {
		cn.chm = m.ChM
		cn.chmUpdate = nil
		cn.log.Debugf("channel map %v from event %d", cn.chm, cn.counter)
	}
	cn.selectChannel()

	if cn.chmDirty && cn.chmUpdate == nil && cn.update == nil {
		cn.chmDirty = false
		cn.updateChannelMap()
	}
}

func (cn *conn) applyUpdate() {
	u := cn.update
	cn.update = nil

	cn.anchor = cn.c.tb.Add(cn.anchor, uint32(u.WinOffset)*connUnitUs)
	if cn.role == sched.RolePeripheral {
		cn.txWinUs = uint32(u.WinSize) * connUnitUs
	}

	changed := u.Interval != cn.interval || u.Latency != cn.latency || u.Timeout != cn.timeout
	cn.interval, cn.latency, cn.timeout = u.Interval, u.Latency, u.Timeout
	if changed || cn.hostUpdate {
		cn.c.emit(evt.NewLEConnectionUpdateComplete(0, cn.handle, cn.interval, cn.latency, cn.timeout))
	}
	cn.hostUpdate = false
	cn.log.Debugf("interval %d latency %d timeout %d from event %d", cn.interval, cn.latency, cn.timeout, cn.counter)
}

func (cn *conn) queue(d pdu.Data) {
	cn.txq = append(cn.txq, d)
}

func (cn *conn) control(d pdu.Data) {
	ctl, err := pdu.ParseControl(d)
	if err != nil {
		if errors.Cause(err) == pdu.ErrUnknownOpcode {
			cn.queue(pdu.ControlPDU(&pdu.UnknownRsp{UnknownType: d.Payload[0]}))
		}
		cn.log.Debugf("control: %v", err)
		return
	}

	switch m := ctl.(type) {
	case *pdu.ConnectionUpdateInd:
		if cn.role != sched.RolePeripheral {
			return
		}
		if m.Instant == cn.counter || pdu.InstantPassed(cn.counter, m.Instant) {
			cn.close(uint8(hci.ErrInstantPassed))
			return
		}
		cn.update = m
	case *pdu.ChannelMapInd:
		if cn.role != sched.RolePeripheral || !m.ChM.Valid() {
			return
		}
		if m.Instant == cn.counter || pdu.InstantPassed(cn.counter, m.Instant) {
			cn.close(uint8(hci.ErrInstantPassed))
			return
		}
		cn.chmUpdate = m
	case *pdu.TerminateInd:
		cn.close(m.ErrorCode)
	case *pdu.UnknownRsp:
		cn.log.Debugf("peer does not know opcode %#02x", m.UnknownType)
	}
}

// close ends the link and frees everything it holds.
func (cn *conn) close(reason uint8) {
	if cn.closed {
		return
	}
	cn.closed = true
	c := cn.c

	for _, h := range sortedKeys(c.cises) {
		if s := c.cises[h]; s.acl == cn.handle && s.state != cisIdle {
			s.lost(reason)
		}
	}

	c.removeActor(cn.key())
	delete(c.conns, cn.handle)
	c.freeHandle(cn.handle)
	if cn.role == sched.RoleCentral {
		c.pool.Release(cn.aa)
	}
	cn.log.Infof("disconnected: %v", hci.ErrCommand(reason))
	c.emit(evt.NewDisconnectionComplete(0, cn.handle, reason))
}

// updateChannelMap starts the channel map update procedure towards the host
// classification.
func (cn *conn) updateChannelMap() {
	if cn.closed || cn.terminating {
		return
	}
	if cn.chmUpdate != nil || cn.update != nil {
		cn.chmDirty = true
		return
	}
	m := cn.c.channelMap()
	if m == cn.chm {
		return
	}
	ind := &pdu.ChannelMapInd{ChM: m, Instant: cn.counter + cn.latency + instantOffset}
	cn.chmUpdate = ind
	cn.queue(pdu.ControlPDU(ind))
}

var validDisconnectReasons = map[uint8]bool{
	0x05: true, 0x13: true, 0x14: true, 0x15: true, 0x1A: true, 0x29: true, 0x3B: true,
}

// Disconnect implements HCI Disconnect for ACL links and CISes. Disconnection
// Complete follows once the peer acknowledged LL_TERMINATE_IND.
func (c *Controller) Disconnect(handle uint16, reason uint8) error {
	if !validDisconnectReasons[reason] {
		return errors.Wrapf(hci.ErrInvalidParams, "reason %#02x", reason)
	}
	if s, ok := c.cises[handle]; ok {
		return s.disconnect()
	}
	cn, ok := c.conns[handle]
	if !ok {
		return errors.Wrapf(hci.ErrConnID, "handle %#04x", handle)
	}
	if cn.terminating {
		return errors.WithMessage(hci.ErrDisallowed, "already terminating")
	}
	cn.terminating = true
	cn.queue(pdu.ControlPDU(&pdu.TerminateInd{ErrorCode: reason}))
	return nil
}

// ConnectionUpdate implements HCI LE Connection Update. Only the central
// starts the procedure; LE Connection Update Complete follows at the instant.
func (c *Controller) ConnectionUpdate(p cmd.LEConnectionUpdate) error {
	if err := cmd.ValidateConnUpdateParams(p); err != nil {
		return err
	}
	cn, ok := c.conns[p.ConnectionHandle]
	if !ok {
		return errors.Wrapf(hci.ErrConnID, "handle %#04x", p.ConnectionHandle)
	}
	if cn.role != sched.RoleCentral {
		return errors.WithMessage(hci.ErrDisallowed, "connection update from peripheral")
	}
	if cn.update != nil || cn.chmUpdate != nil || cn.terminating {
		return errors.WithMessage(hci.ErrDisallowed, "procedure in progress")
	}

	interval := cn.interval
	if interval < p.ConnIntervalMin || interval > p.ConnIntervalMax {
		interval = p.ConnIntervalMin
	}
	u := &pdu.ConnectionUpdateInd{
		WinSize:  1,
		Interval: interval,
		Latency:  p.ConnLatency,
		Timeout:  p.SupervisionTimeout,
		Instant:  cn.counter + cn.latency + instantOffset,
	}
	cn.update = u
	cn.hostUpdate = true
	cn.queue(pdu.ControlPDU(u))
	return nil
}

// ReadChannelMap implements HCI LE Read Channel Map.
func (c *Controller) ReadChannelMap(handle uint16) (chsel.ChanMap, error) {
	cn, ok := c.conns[handle]
	if !ok {
		return chsel.ChanMap{}, errors.Wrapf(hci.ErrConnID, "handle %#04x", handle)
	}
	return cn.chm, nil
}
