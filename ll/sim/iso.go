package sim

import (
	"github.com/pkg/errors"
	"github.com/rigado/blell/ll/isoal"
	"github.com/rigado/blell/ll/radio"
	"github.com/rigado/blell/ll/sched"
)

// CISPeer is the peripheral end of one CIS. It reassembles what the local
// central sends and answers every event with PDUs from its own mux.
type CISPeer struct {
	Handle uint16

	rxBN  int
	mux   *isoal.Mux
	demux *isoal.Demux

	gen      *isoal.TestGenerator
	counters *isoal.TestCounters
	sduUs    uint32
	isoUs    uint32

	Silent bool
	Events int
	SDUs   []isoal.RxSDU
}

// NewCISPeer returns a peer for the CIS with the given handle. rx describes
// the central to peripheral direction and rxBN its burst number; tx the
// other direction, with a zero BN for none.
func NewCISPeer(handle uint16, rx isoal.DemuxConfig, rxBN int, tx isoal.MuxConfig) (*CISPeer, error) {
	p := &CISPeer{Handle: handle, rxBN: rxBN, isoUs: rx.ISOIntervalUs, sduUs: tx.SDUIntervalUs}
	if rxBN > 0 {
		d, err := isoal.NewDemux(rx)
		if err != nil {
			return nil, errors.Wrap(err, "cis peer demux")
		}
		p.demux = d
	}
	if tx.BN > 0 {
		m, err := isoal.NewMux(tx)
		if err != nil {
			return nil, errors.Wrap(err, "cis peer mux")
		}
		p.mux = m
	}
	return p, nil
}

// StartReceiveTest checks incoming SDUs as test payloads from now on.
func (p *CISPeer) StartReceiveTest(typ isoal.PayloadType, maxSDU int) error {
	tc, err := isoal.NewTestCounters(typ, maxSDU)
	if err != nil {
		return err
	}
	p.counters = tc
	return nil
}

// StartTransmitTest sends generated test payloads from now on.
func (p *CISPeer) StartTransmitTest(typ isoal.PayloadType, maxSDU int) error {
	if p.mux == nil {
		return errors.New("sim: cis peer has no transmit direction")
	}
	g, err := isoal.NewTestGenerator(typ, maxSDU, int64(p.Handle))
	if err != nil {
		return err
	}
	p.gen = g
	return nil
}

// StopTest ends either test.
func (p *CISPeer) StopTest() {
	p.gen, p.counters = nil, nil
}

// Counters returns the receive test counters.
func (p *CISPeer) Counters() (received, missed, failed uint32) {
	if p.counters == nil {
		return 0, 0, 0
	}
	return p.counters.Received, p.counters.Missed, p.counters.Failed
}

// Send queues an SDU towards the local side.
func (p *CISPeer) Send(sdu isoal.SDU) error {
	if p.mux == nil {
		return errors.New("sim: cis peer has no transmit direction")
	}
	return p.mux.Enqueue(sdu)
}

func (p *CISPeer) Respond(req radio.Request) (radio.Completion, bool) {
	if req.Role != sched.RoleCIS {
		return radio.Completion{}, false
	}
	var in *radio.ISOStream
	for i := range req.ISO {
		if req.ISO[i].Handle == p.Handle {
			in = &req.ISO[i]
		}
	}
	if in == nil || p.Silent {
		return radio.Completion{}, false
	}
	p.Events++

	if p.demux != nil {
		p.demux.EventStart(req.Start)
		for i := 0; i < p.rxBN; i++ {
			if i < len(in.PDUs) {
				p.demux.PDU(in.PDUs[i].LLID, in.PDUs[i].Payload, in.PDUs[i].OK)
			} else {
				p.demux.PDU(0, nil, false)
			}
		}
		for _, sdu := range p.demux.EventDone() {
			if p.counters != nil {
				p.counters.Check(sdu)
				continue
			}
			p.SDUs = append(p.SDUs, sdu)
		}
	}

	out := radio.ISOStream{AccessAddr: in.AccessAddr, Handle: p.Handle, Channels: in.Channels}
	n := len(in.PDUs)
	if n == 0 {
		n = 1
	}
	if p.mux == nil {
		for i := 0; i < n; i++ {
			out.PDUs = append(out.PDUs, radio.ISOPDU{LLID: isoal.LLIDUnframedStart, OK: true})
		}
		return radio.Completion{ISO: []radio.ISOStream{out}}, true
	}

	if p.gen != nil {
		per := 1
		if p.sduUs > 0 && p.isoUs/p.sduUs > 1 {
			per = int(p.isoUs / p.sduUs)
		}
		for i := p.mux.Queued(); i < per; i++ {
			if p.mux.Enqueue(p.gen.Next(req.Start)) != nil {
				break
			}
		}
	}
	p.mux.EventStart(req.Start)
	for i := 0; i < n; i++ {
		llid, pl := p.mux.PDUGet(i)
		out.PDUs = append(out.PDUs, radio.ISOPDU{LLID: llid, Payload: pl, OK: true})
	}
	p.mux.EventDone()
	return radio.Completion{ISO: []radio.ISOStream{out}}, true
}

// BISSink listens to a broadcast group and keeps every PDU per BIS handle.
type BISSink struct {
	Events int
	PDUs   map[uint16][]radio.ISOPDU
	AAs    map[uint16]uint32
}

func NewBISSink() *BISSink {
	return &BISSink{PDUs: make(map[uint16][]radio.ISOPDU), AAs: make(map[uint16]uint32)}
}

func (s *BISSink) Respond(req radio.Request) (radio.Completion, bool) {
	if len(req.ISO) == 0 || req.Role != sched.RoleBIS {
		return radio.Completion{}, false
	}
	s.Events++
	for _, st := range req.ISO {
		s.PDUs[st.Handle] = append(s.PDUs[st.Handle], st.PDUs...)
		s.AAs[st.Handle] = st.AccessAddr
	}
	return radio.Completion{}, false
}
