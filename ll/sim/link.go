package sim

import (
	"github.com/rigado/blell/ll/chsel"
	"github.com/rigado/blell/ll/pdu"
	"github.com/rigado/blell/ll/radio"
	"github.com/rigado/blell/ll/tmr"
)

const connUnitUs = 1250

// Link is the remote end of an ACL connection. It follows the connection
// timing and channel hopping independently of the local controller, so a
// mismatch shows up as a missed event.
type Link struct {
	central bool // remote role

	aa       uint32
	interval uint16
	latency  uint16
	timeout  uint16
	chm      chsel.ChanMap
	csa2     bool
	chanID   uint16
	hop      uint8
	unmapped uint8
	channel  uint8

	counter uint16
	anchor  uint32

	ack      pdu.Ack
	txq      []pdu.Data
	inFlight bool

	update    *pdu.ConnectionUpdateInd
	chmUpdate *pdu.ChannelMapInd

	silent int
	closed bool
	reason uint8

	// Events counts the events the local side armed on this link.
	Events int
	// ChannelMismatches counts events armed on an unexpected channel.
	ChannelMismatches int
	// WindowMisses counts events whose receive window missed our anchor.
	WindowMisses int
	// Received holds fresh non-empty PDUs from the local side.
	Received []pdu.Data
}

func newLink(central bool, ind pdu.ConnectInd, csa2 bool, anchor uint32) *Link {
	l := &Link{
		central:  central,
		aa:       ind.AA,
		interval: ind.Interval,
		latency:  ind.Latency,
		timeout:  ind.Timeout,
		chm:      ind.ChM,
		csa2:     csa2,
		chanID:   chsel.ChannelID(ind.AA),
		hop:      ind.Hop,
		anchor:   anchor,
	}
	l.selectChannel()
	return l
}

func (l *Link) selectChannel() {
	if l.csa2 {
		l.channel = chsel.CSA2(l.counter, l.chanID, l.chm)
		return
	}
	l.channel, l.unmapped = chsel.CSA1(l.unmapped, l.hop, l.chm)
}

func (l *Link) step() {
	l.counter++
	l.anchor += uint32(l.interval) * connUnitUs
	if u := l.update; u != nil && u.Instant == l.counter {
		l.anchor += uint32(u.WinOffset) * connUnitUs
		l.interval, l.latency, l.timeout = u.Interval, u.Latency, u.Timeout
		l.update = nil
	}
	if m := l.chmUpdate; m != nil && m.Instant == l.counter {
		l.chm = m.ChM
		l.chmUpdate = nil
	}
	l.selectChannel()
}

// AccessAddr returns the link's access address.
func (l *Link) AccessAddr() uint32 { return l.aa }

// Counter returns the event counter of the last event seen.
func (l *Link) Counter() uint16 { return l.counter }

// Interval returns the connection interval in 1.25 ms units.
func (l *Link) Interval() uint16 { return l.interval }

// ChannelMap returns the channel map in use.
func (l *Link) ChannelMap() chsel.ChanMap { return l.chm }

// Closed reports whether the link is gone and, if the local side
// terminated it, with which reason.
func (l *Link) Closed() (bool, uint8) { return l.closed, l.reason }

// Queue sends d to the local side.
func (l *Link) Queue(d pdu.Data) {
	l.txq = append(l.txq, d)
}

// Silence drops the next n events; a negative n drops all of them.
func (l *Link) Silence(n int) {
	l.silent = n
}

// Disconnect sends LL_TERMINATE_IND.
func (l *Link) Disconnect(reason uint8) {
	l.Queue(pdu.ControlPDU(&pdu.TerminateInd{ErrorCode: reason}))
}

// UpdateConnection starts the connection update procedure. Only a remote
// central may call it.
func (l *Link) UpdateConnection(interval, latency, timeout uint16) {
	u := &pdu.ConnectionUpdateInd{
		WinSize:  1,
		Interval: interval,
		Latency:  latency,
		Timeout:  timeout,
		Instant:  l.counter + 6,
	}
	l.update = u
	l.Queue(pdu.ControlPDU(u))
}

// UpdateChannelMap starts the channel map update procedure. Only a remote
// central may call it.
func (l *Link) UpdateChannelMap(m chsel.ChanMap) {
	ind := &pdu.ChannelMapInd{ChM: m, Instant: l.counter + 6}
	l.chmUpdate = ind
	l.Queue(pdu.ControlPDU(ind))
}

func (l *Link) head() pdu.Data {
	out := pdu.Data{LLID: pdu.LLIDContinue}
	if len(l.txq) > 0 {
		out = l.txq[0]
	}
	l.ack.Stamp(&out)
	l.inFlight = len(l.txq) > 0
	return out
}

// rx accounts for a PDU from the local side.
func (l *Link) rx(d pdu.Data) {
	acked, fresh := l.ack.Rx(d)
	if acked && l.inFlight && len(l.txq) > 0 {
		sent := l.txq[0]
		l.txq = l.txq[1:]
		l.inFlight = false
		if sent.LLID == pdu.LLIDControl && len(sent.Payload) > 0 && sent.Payload[0] == pdu.OpTerminateInd {
			l.closed = true
		}
	}
	if !fresh || (d.LLID == pdu.LLIDContinue && len(d.Payload) == 0) {
		return
	}
	l.Received = append(l.Received, d)
	if d.LLID != pdu.LLIDControl {
		return
	}
	ctl, err := pdu.ParseControl(d)
	if err != nil {
		return
	}
	switch m := ctl.(type) {
	case *pdu.ConnectionUpdateInd:
		if !l.central {
			l.update = m
		}
	case *pdu.ChannelMapInd:
		if !l.central {
			l.chmUpdate = m
		}
	case *pdu.TerminateInd:
		l.closed = true
		l.reason = m.ErrorCode
	}
}

// Respond plays one connection event.
func (l *Link) Respond(req radio.Request) (radio.Completion, bool) {
	if l.closed || req.AccessAddr != l.aa || len(req.ISO) > 0 {
		return radio.Completion{}, false
	}
	for int16(req.Counter-l.counter) > 0 {
		l.step()
	}
	l.Events++
	if req.Channel != l.channel {
		l.ChannelMismatches++
		return radio.Completion{}, false
	}
	if l.silent != 0 {
		if l.silent > 0 {
			l.silent--
		}
		return radio.Completion{}, false
	}

	if l.central {
		return l.respondCentral(req)
	}
	return l.respondPeripheral(req)
}

// respondPeripheral answers the local central's PDU.
func (l *Link) respondPeripheral(req radio.Request) (radio.Completion, bool) {
	var d pdu.Data
	if d.Unmarshal(req.PDU) != nil {
		return radio.Completion{}, false
	}
	l.rx(d)

	out := l.head().Marshal()
	rxAt := req.Start + pdu.Airtime(len(req.PDU)-2) + tmr.TIFS
	return radio.Completion{
		Received: true,
		RxTime:   rxAt,
		PDU:      out,
		End:      rxAt + pdu.Airtime(len(out)-2),
	}, true
}

// respondCentral sends at the anchor and takes the local peripheral's reply.
func (l *Link) respondCentral(req radio.Request) (radio.Completion, bool) {
	if tmr.Before(l.anchor, req.Start) || !tmr.Before(l.anchor, req.End()) || req.Reply == nil {
		l.WindowMisses++
		return radio.Completion{}, false
	}
	out := l.head().Marshal()
	end := l.anchor + pdu.Airtime(len(out)-2)

	if b := req.Reply(out); b != nil {
		end += tmr.TIFS + pdu.Airtime(len(b)-2)
		var d pdu.Data
		if d.Unmarshal(b) == nil {
			l.rx(d)
		}
	}
	return radio.Completion{
		Received: true,
		RxTime:   l.anchor,
		PDU:      out,
		End:      end,
	}, true
}
