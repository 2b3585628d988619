package ll

import (
	"github.com/pkg/errors"
	"github.com/rigado/blell"
	"github.com/rigado/blell/hci"
	"github.com/rigado/blell/hci/cmd"
	"github.com/rigado/blell/hci/evt"
	"github.com/rigado/blell/ll/aa"
	"github.com/rigado/blell/ll/pdu"
	"github.com/rigado/blell/ll/radio"
	"github.com/rigado/blell/ll/sched"
	"github.com/rigado/blell/ll/tmr"
)

// minScanSliceUs is the shortest piece of a scan window worth arming: one
// maximum length advertising PDU plus an answer.
const minScanSliceUs = 376 + tmr.TIFS + 352

// window walks the scan windows of a scanner or initiator, rotating through
// the primary advertising channels once per scan interval.
type window struct {
	interval uint32 // ticks
	length   uint32
	minSlice uint32

	ch       uint8
	winStart uint32
	cursor   uint32
}

func newWindow(tb tmr.Timebase, interval, length uint16, at uint32) window {
	return window{
		interval: tb.UsecsToTicks(uint32(interval) * advUnitUs),
		length:   tb.UsecsToTicks(uint32(length) * advUnitUs),
		minSlice: tb.UsecsToTicksRoundUp(minScanSliceUs),
		winStart: at,
		cursor:   at,
	}
}

func (w *window) end() uint32 {
	return w.winStart + w.length
}

// advance moves the cursor to at (or earliest, whichever is later), stepping
// into the next scan window when too little of the current one is left.
func (w *window) advance(at, earliest uint32) {
	if tmr.After(at, w.cursor) {
		w.cursor = at
	}
	if tmr.After(earliest, w.cursor) {
		w.cursor = earliest
	}
	for {
		if tmr.Before(w.cursor, w.winStart) {
			w.cursor = w.winStart
		}
		if tmr.AtOrBefore(w.cursor+w.minSlice, w.end()) {
			return
		}
		w.winStart += w.interval
		w.ch = (w.ch + 1) % numAdvChannels
	}
}

func (w *window) event(role sched.Role) sched.Event {
	return sched.Event{
		Role:       role,
		Channel:    advChannelFirst + w.ch,
		AccessAddr: aa.Advertising,
		CRCInit:    advCRCInit,
		Start:      w.cursor,
		Duration:   w.end() - w.cursor,
	}
}

// earliest is the first tick a rescheduled scan slice may start at.
func (c *Controller) earliest() uint32 {
	return c.clock.Now() + 2*c.tb.UsecsToTicks(armLeadUs)
}

type dupKey struct {
	addr   [6]byte
	random bool
	typ    uint8
}

type scanner struct {
	c *Controller

	params    cmd.LESetScanParameters
	enabled   bool
	filterDup bool
	seen      map[dupKey]struct{}

	scanA  [6]byte
	random bool
	win    window
}

func newScanner(c *Controller) *scanner {
	return &scanner{
		c: c,
		params: cmd.LESetScanParameters{
			LEScanType:     hci.LEScanTypePassive,
			LEScanInterval: 0x0010,
			LEScanWindow:   0x0010,
		},
	}
}

func (s *scanner) key() actorKey {
	return actorKey{role: sched.RoleScanner}
}

// SetScanParameters implements HCI LE Set Scan Parameters.
func (c *Controller) SetScanParameters(p cmd.LESetScanParameters) error {
	if c.scan.enabled {
		return errors.WithMessage(hci.ErrDisallowed, "scanning enabled")
	}
	if err := cmd.ValidateScanParams(p); err != nil {
		return err
	}
	if p.ScanningFilterPolicy != hci.FilterPolicyAcceptAll {
		return errors.Wrapf(hci.ErrUnsupportedParams, "filter policy %v", p.ScanningFilterPolicy)
	}
	c.scan.params = p
	return nil
}

// SetScanEnable implements HCI LE Set Scan Enable.
func (c *Controller) SetScanEnable(on, filterDup bool) error {
	s := c.scan
	if !on {
		if s.enabled {
			s.enabled = false
			c.removeActor(s.key())
		}
		return nil
	}

	if s.enabled {
		s.filterDup = filterDup
		return nil
	}

	addr, err := c.ownAddr(s.params.OwnAddressType)
	if err != nil {
		return err
	}
	s.scanA = addr.LE()
	s.random = s.params.OwnAddressType == hci.AddressTypeRandom
	s.filterDup = filterDup
	s.seen = make(map[dupKey]struct{})
	s.win = newWindow(c.tb, s.params.LEScanInterval, s.params.LEScanWindow, c.startTime())
	s.enabled = true

	c.addActor(s.key(), s)
	c.schedule(s.win.event(sched.RoleScanner))
	return nil
}

func (s *scanner) start(ev sched.Event) (radio.Request, bool) {
	if !s.enabled {
		return radio.Request{}, false
	}
	req := radio.Request{}
	if s.params.LEScanType == hci.LEScanTypeActive {
		// the radio fills in AdvA of the PDU it answers
		pl := make([]byte, 12)
		copy(pl, s.scanA[:])
		req.AutoRsp = pdu.Adv{Type: pdu.TypeScanReq, TxAdd: s.random, Payload: pl}.Marshal()
	}
	return req, true
}

func (s *scanner) done(cpl radio.Completion) {
	if cpl.Received {
		s.report(cpl.PDU, cpl.RSSI)
		if cpl.RspPDU != nil {
			s.report(cpl.RspPDU, cpl.RSSI)
		}
	}
	s.next(cpl.End)
}

func (s *scanner) skip(ev sched.Event, by sched.Event) {
	at := ev.Start
	if by.Duration != 0 {
		at = by.End()
	}
	s.next(at)
}

func (s *scanner) next(at uint32) {
	if !s.enabled {
		return
	}
	s.win.advance(at, s.c.earliest())
	s.c.schedule(s.win.event(sched.RoleScanner))
}

// report turns a received advertising PDU into an LE Advertising Report.
func (s *scanner) report(b []byte, rssi int8) {
	var p pdu.Adv
	if err := p.Unmarshal(b); err != nil {
		s.c.log.Debugf("scan: %v", err)
		return
	}

	var typ uint8
	switch p.Type {
	case pdu.TypeAdvInd:
		typ = hci.EvtTypAdvInd
	case pdu.TypeAdvDirectInd:
		typ = hci.EvtTypAdvDirectInd
		if len(p.Payload) != 12 || [6]byte(p.Payload[6:12]) != s.scanA {
			return
		}
	case pdu.TypeAdvNonconnInd:
		typ = hci.EvtTypAdvNonconnInd
	case pdu.TypeAdvScanInd:
		typ = hci.EvtTypAdvScanInd
	case pdu.TypeScanRsp:
		typ = hci.EvtTypScanRsp
	default:
		return
	}

	advA, err := p.AdvA()
	if err != nil {
		return
	}
	if s.filterDup {
		k := dupKey{addr: advA, random: p.TxAdd, typ: typ}
		if _, ok := s.seen[k]; ok {
			return
		}
		s.seen[k] = struct{}{}
	}

	addrType := uint8(hci.AddressTypePublic)
	if p.TxAdd {
		addrType = hci.AddressTypeRandom
	}
	s.c.emit(evt.NewLEAdvertisingReport(typ, addrType, advA, p.Data(), rssi))
}

type initiator struct {
	c *Controller

	params     cmd.LECreateConnection
	ind        pdu.ConnectInd
	random     bool
	peerRandom bool
	win        window
}

func (in *initiator) key() actorKey {
	return actorKey{role: sched.RoleInitiator}
}

// CreateConnection implements HCI LE Create Connection. The outcome is
// reported with LE Connection Complete.
func (c *Controller) CreateConnection(p cmd.LECreateConnection) error {
	if c.init != nil {
		return errors.WithMessage(hci.ErrDisallowed, "already initiating")
	}
	if err := cmd.ValidateConnParams(p); err != nil {
		return err
	}
	if p.InitiatorFilterPolicy != hci.FilterPolicyAcceptAll {
		return errors.Wrapf(hci.ErrUnsupportedParams, "filter policy %v", p.InitiatorFilterPolicy)
	}
	if len(c.conns) >= c.maxConns {
		return errors.WithMessage(hci.ErrConnLimit, "no room for a connection")
	}
	peerRandom := p.PeerAddressType == hci.AddressTypeRandom
	for _, cn := range c.conns {
		if cn.peer == p.PeerAddress && cn.peerRandom == peerRandom {
			return errors.WithMessage(hci.ErrACLConnExists, blell.AddrFromLE(p.PeerAddress).String())
		}
	}
	own, err := c.ownAddr(p.OwnAddressType)
	if err != nil {
		return err
	}
	a, err := c.acquireAA()
	if err != nil {
		return err
	}

	in := &initiator{
		c:          c,
		params:     p,
		random:     p.OwnAddressType == hci.AddressTypeRandom,
		peerRandom: peerRandom,
		ind: pdu.ConnectInd{
			InitA:     own.LE(),
			AdvA:      p.PeerAddress,
			AA:        a,
			CRCInit:   uint32(c.rng.Int31()) & 0xffffff,
			WinSize:   1,
			WinOffset: 0,
			Interval:  p.ConnIntervalMin,
			Latency:   p.ConnLatency,
			Timeout:   p.SupervisionTimeout,
			ChM:       c.channelMap(),
			Hop:       5 + uint8(c.rng.Intn(12)),
			SCA:       tmr.SCAFromPPM(c.localSCA),
		},
		win: newWindow(c.tb, p.LEScanInterval, p.LEScanWindow, c.startTime()),
	}
	c.init = in
	c.addActor(in.key(), in)
	c.schedule(in.win.event(sched.RoleInitiator))
	c.log.Infof("initiating to %v, aa %08x", blell.AddrFromLE(p.PeerAddress), a)
	return nil
}

// CreateConnectionCancel implements HCI LE Create Connection Cancel.
func (c *Controller) CreateConnectionCancel() error {
	in := c.init
	if in == nil {
		return errors.WithMessage(hci.ErrDisallowed, "not initiating")
	}
	c.init = nil
	c.removeActor(in.key())
	c.pool.Release(in.ind.AA)
	c.later(func() {
		c.emit(evt.NewLEConnectionComplete(evt.ConnectionComplete{Status: uint8(hci.ErrConnID)}))
	})
	return nil
}

func (in *initiator) start(ev sched.Event) (radio.Request, bool) {
	if in.c.init != in {
		return radio.Request{}, false
	}
	return radio.Request{
		AutoRsp:   in.ind.PDU(true, in.random, in.peerRandom).Marshal(),
		Filter:    in.ind.AdvA,
		UseFilter: true,
	}, true
}

func (in *initiator) done(cpl radio.Completion) {
	if cpl.AutoRspSent {
		in.connect(cpl)
		return
	}
	in.next(cpl.End)
}

func (in *initiator) skip(ev sched.Event, by sched.Event) {
	at := ev.Start
	if by.Duration != 0 {
		at = by.End()
	}
	in.next(at)
}

func (in *initiator) next(at uint32) {
	if in.c.init != in {
		return
	}
	in.win.advance(at, in.c.earliest())
	in.c.schedule(in.win.event(sched.RoleInitiator))
}

// connect turns the initiator into a central link once CONNECT_IND went out.
func (in *initiator) connect(cpl radio.Completion) {
	c := in.c
	c.init = nil
	c.removeActor(in.key())

	var adv pdu.Adv
	csa2 := adv.Unmarshal(cpl.PDU) == nil && adv.ChSel

	first := c.tb.Add(tmr.Point{Ticks: cpl.End}, 1250+uint32(in.ind.WinOffset)*1250)
	cn, err := c.newConn(connSetup{
		role:       sched.RoleCentral,
		peer:       in.ind.AdvA,
		peerRandom: in.peerRandom,
		ind:        in.ind,
		csa2:       csa2,
		anchor:     first,
		lastRx:     cpl.End,
	})
	if err != nil {
		c.pool.Release(in.ind.AA)
		c.emit(evt.NewLEConnectionComplete(evt.ConnectionComplete{Status: hci.StatusOf(err)}))
		return
	}
	c.log.Infof("connected as central to %v, handle %d", blell.AddrFromLE(in.ind.AdvA), cn.handle)
}
