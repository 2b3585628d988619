package ll

import (
	"github.com/pkg/errors"
	"github.com/rigado/blell/hci"
	"github.com/rigado/blell/hci/cmd"
	"github.com/rigado/blell/hci/evt"
	"github.com/rigado/blell/ll/chsel"
	"github.com/rigado/blell/ll/pdu"
	"github.com/rigado/blell/ll/radio"
	"github.com/rigado/blell/ll/sched"
	"github.com/rigado/blell/ll/tmr"
)

type cisState uint8

const (
	cisIdle cisState = iota
	cisPending
	cisEstablished
	cisClosing
)

func (s cisState) String() string {
	switch s {
	case cisIdle:
		return "idle"
	case cisPending:
		return "pending"
	case cisEstablished:
		return "established"
	case cisClosing:
		return "closing"
	default:
		return "unknown"
	}
}

type cig struct {
	id      uint8
	params  cmd.LESetCIGParameters
	handles []uint16
	isoUs   uint32
	framed  bool
}

// cis is a connected isochronous stream set up by the central.
type cis struct {
	c      *Controller
	handle uint16
	g      *cig
	params cmd.CISParams
	state  cisState

	tx, rx isoDir
	nse    int
	subUs  uint32

	acl      uint16
	aa       uint32
	chanID   uint16
	chm      chsel.ChanMap
	counter  uint16
	anchor   tmr.Point
	lastRx   uint32
	attempts int

	stream *isoStream
}

func (s *cis) key() actorKey {
	return actorKey{role: sched.RoleCIS, handle: s.handle}
}

// SetCIGParameters implements HCI LE Set CIG Parameters and returns the CIS
// handles in the order of the request.
func (c *Controller) SetCIGParameters(p cmd.LESetCIGParameters) ([]uint16, error) {
	if err := cmd.ValidateCIGParams(p); err != nil {
		return nil, err
	}

	old, exists := c.cigs[p.CIGID]
	others := 0
	for _, s := range c.cises {
		if s.g.id != p.CIGID {
			others++
		} else if s.state != cisIdle {
			return nil, errors.Wrapf(hci.ErrDisallowed, "cig %v has active cis", p.CIGID)
		}
	}
	if !exists && len(c.cigs) >= c.maxCIG {
		return nil, errors.WithMessage(hci.ErrMemoryCapacity, "no free cig")
	}
	if others+len(p.CIS) > c.maxCIS {
		return nil, errors.Wrapf(hci.ErrMemoryCapacity, "%v cis requested", len(p.CIS))
	}

	framed := p.Framing == cmd.FramingFramed
	sduUs := p.SDUIntervalCToP
	if sduUs == 0 {
		sduUs = p.SDUIntervalPToC
	}
	isoUs, err := isoInterval(sduUs, framed)
	if err != nil {
		return nil, err
	}

	g := &cig{id: p.CIGID, params: p, isoUs: isoUs, framed: framed}
	ids := make(map[uint8]bool)
	var fresh []*cis
	for _, cp := range p.CIS {
		if ids[cp.CISID] {
			return nil, errors.Wrapf(hci.ErrInvalidParams, "duplicate cis id %v", cp.CISID)
		}
		ids[cp.CISID] = true
		if cp.PHYCToP&0x01 == 0 || cp.PHYPToC&0x01 == 0 {
			return nil, errors.Wrapf(hci.ErrUnsupportedParams, "phy %v/%v", cp.PHYCToP, cp.PHYPToC)
		}

		s := &cis{c: c, g: g, params: cp}
		s.tx = isoDir{sduIntervalUs: p.SDUIntervalCToP, maxSDU: int(cp.MaxSDUCToP)}
		s.rx = isoDir{sduIntervalUs: p.SDUIntervalPToC, maxSDU: int(cp.MaxSDUPToC)}
		if s.tx.bn, s.tx.maxPDU, err = isoBurst(isoUs, s.tx.sduIntervalUs, s.tx.maxSDU, framed); err != nil {
			return nil, err
		}
		if s.rx.bn, s.rx.maxPDU, err = isoBurst(isoUs, s.rx.sduIntervalUs, s.rx.maxSDU, framed); err != nil {
			return nil, err
		}
		s.nse = s.tx.bn
		if s.rx.bn > s.nse {
			s.nse = s.rx.bn
		}
		if s.nse == 0 {
			s.nse = 1
		}
		s.subUs = pdu.Airtime(s.tx.maxPDU) + tmr.TIFS + pdu.Airtime(s.rx.maxPDU) + tmr.TIFS
		fresh = append(fresh, s)
	}

	// CIS IDs already configured keep their handles
	keep := make(map[uint8]uint16)
	if exists {
		for _, h := range old.handles {
			keep[c.cises[h].params.CISID] = h
			delete(c.cises, h)
		}
	}
	for id, h := range keep {
		if !ids[id] {
			c.freeHandle(h)
			delete(keep, id)
		}
	}

	for _, s := range fresh {
		if h, ok := keep[s.params.CISID]; ok {
			s.handle = h
		} else {
			h, err := c.allocHandle()
			if err != nil {
				for _, d := range g.handles {
					c.freeHandle(d)
				}
				delete(c.cigs, p.CIGID)
				return nil, err
			}
			s.handle = h
		}
		g.handles = append(g.handles, s.handle)
	}
	for _, s := range fresh {
		c.cises[s.handle] = s
	}
	c.cigs[p.CIGID] = g
	c.log.Infof("cig %v: iso interval %vus, handles %v", g.id, isoUs, g.handles)
	return g.handles, nil
}

// CreateCIS implements HCI LE Create CIS. Each CIS reports its outcome with
// LE CIS Established.
func (c *Controller) CreateCIS(pairs []cmd.CISPair) error {
	if len(pairs) == 0 || len(pairs) > cmd.MaxCISPerCIG {
		return errors.Wrapf(hci.ErrInvalidParams, "cis count %v", len(pairs))
	}
	seen := make(map[uint16]bool)
	for _, p := range pairs {
		s, ok := c.cises[p.CISHandle]
		if !ok {
			return errors.Wrapf(hci.ErrConnID, "cis handle %#04x", p.CISHandle)
		}
		cn, ok := c.conns[p.ACLHandle]
		if !ok {
			return errors.Wrapf(hci.ErrConnID, "acl handle %#04x", p.ACLHandle)
		}
		if cn.role != sched.RoleCentral || cn.terminating {
			return errors.Wrapf(hci.ErrDisallowed, "acl %#04x", p.ACLHandle)
		}
		if s.state != cisIdle || seen[p.CISHandle] {
			return errors.Wrapf(hci.ErrDisallowed, "cis %#04x is %v", p.CISHandle, s.state)
		}
		seen[p.CISHandle] = true
	}

	for _, p := range pairs {
		s := c.cises[p.CISHandle]
		if err := s.establish(c.conns[p.ACLHandle]); err != nil {
			s := s
			c.later(func() { s.report(hci.StatusOf(err)) })
		}
	}
	return nil
}

func (s *cis) establish(cn *conn) error {
	c := s.c
	a, err := c.acquireAA()
	if err != nil {
		return err
	}
	st, err := newISOStream(c, s.handle, s.g.isoUs, s.g.framed, s.tx, s.rx)
	if err != nil {
		c.pool.Release(a)
		return err
	}

	s.aa = a
	s.chanID = chsel.ChannelID(a)
	s.chm = cn.chm
	s.acl = cn.handle
	s.counter = 0
	s.attempts = 0
	s.stream = st
	s.anchor = c.tb.Add(cn.anchor, connEventUs+tmr.TIFS)
	s.lastRx = s.anchor.Ticks
	s.state = cisPending

	c.addActor(s.key(), s)
	c.schedule(s.event())
	return nil
}

func (s *cis) event() sched.Event {
	ch, _ := chsel.ISOEvent(s.counter, s.chanID, s.chm)
	return sched.Event{
		Role:       sched.RoleCIS,
		Handle:     s.handle,
		Channel:    ch,
		AccessAddr: s.aa,
		Start:      s.anchor.Ticks,
		Duration:   s.c.tb.UsecsToTicksRoundUp(uint32(s.nse) * s.subUs),
		Counter:    s.counter,
	}
}

func (s *cis) start(ev sched.Event) (radio.Request, bool) {
	if s.state == cisClosing {
		s.finish()
		return radio.Request{}, false
	}
	if s.state != cisPending && s.state != cisEstablished {
		return radio.Request{}, false
	}

	ch, st := chsel.ISOEvent(s.counter, s.chanID, s.chm)
	chans := []uint8{ch}
	for i := 1; i < s.nse; i++ {
		chans = append(chans, st.Subevent())
	}
	return radio.Request{
		ISO: []radio.ISOStream{{
			AccessAddr: s.aa,
			Handle:     s.handle,
			Channels:   chans,
			PDUs:       s.stream.txEvent(s.c.timestamp(s.anchor), s.nse),
		}},
	}, true
}

func (s *cis) done(cpl radio.Completion) {
	if s.state != cisPending && s.state != cisEstablished {
		return
	}
	c := s.c

	var rx []radio.ISOPDU
	got := false
	for _, st := range cpl.ISO {
		if st.Handle != s.handle {
			continue
		}
		rx = st.PDUs
		for _, p := range st.PDUs {
			got = got || p.OK
		}
	}

	if n := s.stream.txDone(); n > 0 {
		c.completed([]uint16{s.handle}, []uint16{uint16(n)})
	}
	if s.state == cisEstablished {
		s.stream.rxEvent(c.timestamp(s.anchor), rx)
	}

	switch {
	case got:
		s.lastRx = s.anchor.Ticks
		if s.state == cisPending {
			s.state = cisEstablished
			s.report(0)
		}
	case s.state == cisPending:
		if s.attempts++; s.attempts >= establishEvents {
			s.fail(uint8(hci.ErrEstablished))
			return
		}
	default:
		c.count(func(st *Stats) { st.MissedAnchors++ })
		if s.supervisionExpired() {
			return
		}
	}
	s.next()
}

func (s *cis) skip(ev sched.Event, by sched.Event) {
	switch s.state {
	case cisClosing:
		s.finish()
		return
	case cisPending:
		if s.attempts++; s.attempts >= establishEvents {
			s.fail(uint8(hci.ErrEstablished))
			return
		}
	case cisEstablished:
		s.stream.rxEvent(s.c.timestamp(s.anchor), nil)
	default:
		return
	}
	s.c.count(func(st *Stats) { st.MissedAnchors++ })
	if s.supervisionExpired() {
		return
	}
	s.next()
}

// supervisionExpired drops an established CIS that has heard nothing from
// the peer for the supervision timeout of its ACL.
func (s *cis) supervisionExpired() bool {
	if s.state != cisEstablished {
		return false
	}
	cn, ok := s.c.conns[s.acl]
	if !ok {
		return false
	}
	to := s.c.tb.UsecsToTicks(uint32(cn.timeout) * 10000)
	if tmr.Diff(s.anchor.Ticks, s.lastRx) < int32(to) {
		return false
	}
	s.c.count(func(st *Stats) { st.SupervisionTimeouts++ })
	s.c.log.Warnf("cis %#04x: supervision timeout", s.handle)
	s.lost(uint8(hci.ErrConnTimeout))
	return true
}

func (s *cis) next() {
	s.counter++
	s.anchor = s.c.tb.Add(s.anchor, s.g.isoUs)
	s.c.schedule(s.event())
}

// report emits LE CIS Established.
func (s *cis) report(status uint8) {
	e := evt.CISEstablished{Status: status, Handle: s.handle}
	if status == 0 {
		sync := uint32(s.nse) * s.subUs
		e.CIGSyncDelay = sync
		e.CISSyncDelay = sync
		e.TransportLatency = [2]uint32{sync + s.g.isoUs, sync + s.g.isoUs}
		e.PHY = [2]uint8{1, 1}
		e.NSE = uint8(s.nse)
		e.BN = [2]uint8{uint8(s.tx.bn), uint8(s.rx.bn)}
		e.FT = [2]uint8{1, 1}
		e.MaxPDU = [2]uint16{uint16(s.tx.maxPDU), uint16(s.rx.maxPDU)}
		e.ISOInterval = uint16(s.g.isoUs / isoIntervalUnitUs)
	}
	s.c.emit(evt.NewLECISEstablished(e))
}

// release returns the CIS to the configured state.
func (s *cis) release() {
	s.c.removeActor(s.key())
	s.c.pool.Release(s.aa)
	s.state = cisIdle
	s.stream = nil
	s.aa = 0
}

func (s *cis) fail(reason uint8) {
	s.release()
	s.report(reason)
}

func (s *cis) finish() {
	s.release()
	s.c.emit(evt.NewDisconnectionComplete(0, s.handle, uint8(hci.ErrLocalHost)))
}

// lost tears the CIS down along with its ACL.
func (s *cis) lost(reason uint8) {
	switch s.state {
	case cisPending:
		s.fail(reason)
	case cisEstablished, cisClosing:
		s.release()
		s.c.emit(evt.NewDisconnectionComplete(0, s.handle, reason))
	}
}

// disconnect stops the CIS at its next event.
func (s *cis) disconnect() error {
	if s.state != cisEstablished {
		return errors.Wrapf(hci.ErrDisallowed, "cis %#04x is %v", s.handle, s.state)
	}
	s.state = cisClosing
	return nil
}

// RemoveCIG implements HCI LE Remove CIG.
func (c *Controller) RemoveCIG(id uint8) error {
	g, ok := c.cigs[id]
	if !ok {
		return errors.Wrapf(hci.ErrConnID, "cig %v", id)
	}
	for _, h := range g.handles {
		if s := c.cises[h]; s.state != cisIdle {
			return errors.Wrapf(hci.ErrDisallowed, "cis %#04x is %v", h, s.state)
		}
	}
	for _, h := range g.handles {
		delete(c.cises, h)
		c.freeHandle(h)
	}
	delete(c.cigs, id)
	return nil
}
