package ll

import (
	"github.com/pkg/errors"
	"github.com/rigado/blell/hci"
	"github.com/rigado/blell/hci/cmd"
	"github.com/rigado/blell/hci/evt"
	"github.com/rigado/blell/ll/isoal"
	"github.com/rigado/blell/ll/radio"
	"github.com/rigado/blell/ll/tmr"
)

const (
	isoIntervalUnitUs = 1250
	minISOIntervalUs  = 5000
	maxISOIntervalUs  = 4000000
	maxBN             = 15

	// framed segment header plus time offset
	framedOverhead = 5
)

// isoInterval picks the ISO interval for an SDU interval. Unframed streams
// need a whole number of SDUs per interval.
func isoInterval(sduIntervalUs uint32, framed bool) (uint32, error) {
	if framed {
		iso := sduIntervalUs
		if iso < minISOIntervalUs {
			iso = minISOIntervalUs
		}
		iso = (iso + isoIntervalUnitUs - 1) / isoIntervalUnitUs * isoIntervalUnitUs
		if iso > maxISOIntervalUs {
			return 0, errors.Wrapf(hci.ErrUnsupportedParams, "sdu interval %v", sduIntervalUs)
		}
		return iso, nil
	}

	for k := uint32(1); k <= maxBN; k++ {
		iso := k * sduIntervalUs
		if iso > maxISOIntervalUs {
			break
		}
		if iso >= minISOIntervalUs && iso%isoIntervalUnitUs == 0 {
			return iso, nil
		}
	}
	return 0, errors.Wrapf(hci.ErrUnsupportedParams, "no unframed iso interval for sdu interval %v", sduIntervalUs)
}

// isoBurst sizes one direction of a stream: PDUs per event and the largest
// PDU payload.
func isoBurst(isoUs, sduIntervalUs uint32, maxSDU int, framed bool) (bn int, maxPDU int, err error) {
	if maxSDU == 0 {
		return 0, 0, nil
	}
	if framed {
		n := int((isoUs + sduIntervalUs - 1) / sduIntervalUs)
		total := n * (maxSDU + framedOverhead + 2)
		bn = (total + isoal.MaxPDU - 1) / isoal.MaxPDU
		maxPDU = isoal.MaxPDU
		if total < maxPDU {
			maxPDU = total
		}
	} else {
		if isoUs%sduIntervalUs != 0 {
			return 0, 0, errors.Wrapf(hci.ErrUnsupportedParams, "iso interval %v, sdu interval %v", isoUs, sduIntervalUs)
		}
		perSDU := (maxSDU + isoal.MaxPDU - 1) / isoal.MaxPDU
		maxPDU = (maxSDU + perSDU - 1) / perSDU
		bn = int(isoUs/sduIntervalUs) * perSDU
	}
	if bn > maxBN {
		return 0, 0, errors.Wrapf(hci.ErrUnsupportedParams, "burst number %v", bn)
	}
	return bn, maxPDU, nil
}

type isoDir struct {
	sduIntervalUs uint32
	maxSDU        int
	bn            int
	maxPDU        int
}

// isoStream is the data path of one CIS or BIS: SDU segmentation towards the
// peer, reassembly from it and the ISO test mode.
type isoStream struct {
	c      *Controller
	handle uint16
	isoUs  uint32
	txDir  isoDir
	rxDir  isoDir

	mux   *isoal.Mux
	demux *isoal.Demux

	gen      *isoal.TestGenerator
	counters *isoal.TestCounters

	// SDUs from the host still in the mux
	hostQueued int
}

func newISOStream(c *Controller, handle uint16, isoUs uint32, framed bool, tx, rx isoDir) (*isoStream, error) {
	s := &isoStream{c: c, handle: handle, isoUs: isoUs, txDir: tx, rxDir: rx}
	if tx.bn > 0 {
		m, err := isoal.NewMux(isoal.MuxConfig{
			MaxPDU:        tx.maxPDU,
			ISOIntervalUs: isoUs,
			SDUIntervalUs: tx.sduIntervalUs,
			BN:            tx.bn,
			Framed:        framed,
		})
		if err != nil {
			return nil, errors.WithMessage(hci.ErrUnsupportedParams, err.Error())
		}
		s.mux = m
	}
	if rx.bn > 0 {
		d, err := isoal.NewDemux(isoal.DemuxConfig{
			MaxSDU:        rx.maxSDU,
			ISOIntervalUs: isoUs,
			SDUIntervalUs: rx.sduIntervalUs,
			Framed:        framed,
		})
		if err != nil {
			return nil, errors.WithMessage(hci.ErrUnsupportedParams, err.Error())
		}
		s.demux = d
	}
	return s, nil
}

func (s *isoStream) inTest() bool {
	return s.gen != nil || s.counters != nil
}

// txEvent builds the n PDUs of an event anchored at ts (µs).
func (s *isoStream) txEvent(ts uint32, n int) []radio.ISOPDU {
	pdus := make([]radio.ISOPDU, n)
	if s.mux == nil {
		for i := range pdus {
			pdus[i] = radio.ISOPDU{LLID: isoal.LLIDUnframedStart, OK: true}
		}
		return pdus
	}

	if s.gen != nil {
		per := int(s.isoUs / s.txDir.sduIntervalUs)
		if per < 1 {
			per = 1
		}
		for i := s.mux.Queued(); i < per; i++ {
			if err := s.mux.Enqueue(s.gen.Next(ts + uint32(i)*s.txDir.sduIntervalUs)); err != nil {
				break
			}
		}
	}
	s.mux.EventStart(ts)
	for i := range pdus {
		llid, pl := s.mux.PDUGet(i)
		pdus[i] = radio.ISOPDU{LLID: llid, Payload: pl, OK: true}
	}
	return pdus
}

// txDone releases what the event sent. It returns the number of host SDUs
// completed.
func (s *isoStream) txDone() int {
	if s.mux == nil {
		return 0
	}
	n, _ := s.mux.EventDone()
	if n == 0 {
		return 0
	}
	s.c.count(func(st *Stats) { st.ISOSDUsSent += uint64(n) })
	if n > s.hostQueued {
		n = s.hostQueued
	}
	s.hostQueued -= n
	return n
}

// rxEvent feeds the received PDUs of an event; pdus is nil when the event was
// missed altogether.
func (s *isoStream) rxEvent(ts uint32, pdus []radio.ISOPDU) {
	if s.demux == nil {
		return
	}
	s.demux.EventStart(ts)
	for i := 0; i < s.rxDir.bn; i++ {
		if i < len(pdus) {
			s.demux.PDU(pdus[i].LLID, pdus[i].Payload, pdus[i].OK)
		} else {
			s.demux.PDU(0, nil, false)
		}
	}
	sdus := s.demux.EventDone()
	if len(sdus) == 0 {
		return
	}
	s.c.count(func(st *Stats) { st.ISOSDUsReceived += uint64(len(sdus)) })
	for _, sdu := range sdus {
		switch {
		case s.counters != nil:
			s.counters.Check(sdu)
		case s.gen != nil:
			// transmit test only; received data is dropped
		case s.c.host != nil:
			s.c.host.ISOData(s.handle, sdu)
		}
	}
}

// completed reports host SDUs that left the controller.
func (c *Controller) completed(handles []uint16, counts []uint16) {
	if len(handles) == 0 {
		return
	}
	c.emit(evt.NewNumberOfCompletedPackets(handles, counts))
}

func (c *Controller) timestamp(p tmr.Point) uint32 {
	return c.tb.TicksToUsecs(p.Ticks)
}

// stream finds the data path of a CIS or BIS handle.
func (c *Controller) stream(handle uint16) (*isoStream, bool, error) {
	if s, ok := c.cises[handle]; ok {
		if s.state != cisEstablished {
			return nil, false, errors.Wrapf(hci.ErrDisallowed, "cis %#04x not established", handle)
		}
		return s.stream, false, nil
	}
	if b, ok := c.bises[handle]; ok {
		if b.g.terminating {
			return nil, true, errors.Wrapf(hci.ErrDisallowed, "big %v terminating", b.g.handle)
		}
		return b.stream, true, nil
	}
	return nil, false, errors.Wrapf(hci.ErrConnID, "handle %#04x", handle)
}

// SendSDU queues an SDU from the host on a CIS or BIS.
func (c *Controller) SendSDU(handle uint16, sdu isoal.SDU) error {
	s, _, err := c.stream(handle)
	if err != nil {
		return err
	}
	if s.inTest() || s.mux == nil {
		return errors.Wrapf(hci.ErrDisallowed, "no host data path on %#04x", handle)
	}
	if err := s.mux.Enqueue(sdu); err != nil {
		switch errors.Cause(err) {
		case isoal.ErrQueueFull:
			return errors.WithMessage(hci.ErrMemoryCapacity, err.Error())
		default:
			return errors.WithMessage(hci.ErrInvalidParams, err.Error())
		}
	}
	s.hostQueued++
	return nil
}

// TestCounters are the counters of an ISO receive test.
type TestCounters struct {
	Received uint32
	Missed   uint32
	Failed   uint32
}

func payloadType(typ uint8) (isoal.PayloadType, error) {
	p := isoal.PayloadType(typ)
	if p > isoal.PayloadMax {
		return 0, errors.Wrapf(hci.ErrInvalidParams, "payload type %v", typ)
	}
	return p, nil
}

// ISOTransmitTest implements HCI LE ISO Transmit Test.
func (c *Controller) ISOTransmitTest(p cmd.LEISOTransmitTest) error {
	typ, err := payloadType(p.PayloadType)
	if err != nil {
		return err
	}
	s, _, err := c.stream(p.ConnectionHandle)
	if err != nil {
		return err
	}
	if s.inTest() || s.mux == nil || s.hostQueued > 0 {
		return errors.Wrapf(hci.ErrDisallowed, "transmit test on %#04x", p.ConnectionHandle)
	}
	g, err := isoal.NewTestGenerator(typ, s.txDir.maxSDU, int64(p.ConnectionHandle))
	if err != nil {
		return errors.WithMessage(hci.ErrUnsupportedParams, err.Error())
	}
	s.gen = g
	return nil
}

// ISOReceiveTest implements HCI LE ISO Receive Test.
func (c *Controller) ISOReceiveTest(p cmd.LEISOReceiveTest) error {
	typ, err := payloadType(p.PayloadType)
	if err != nil {
		return err
	}
	s, bis, err := c.stream(p.ConnectionHandle)
	if err != nil {
		return err
	}
	if bis || s.inTest() || s.demux == nil {
		return errors.Wrapf(hci.ErrDisallowed, "receive test on %#04x", p.ConnectionHandle)
	}
	tc, err := isoal.NewTestCounters(typ, s.rxDir.maxSDU)
	if err != nil {
		return errors.WithMessage(hci.ErrUnsupportedParams, err.Error())
	}
	s.counters = tc
	return nil
}

// ISOReadTestCounters implements HCI LE ISO Read Test Counters.
func (c *Controller) ISOReadTestCounters(handle uint16) (TestCounters, error) {
	s, _, err := c.stream(handle)
	if err != nil {
		return TestCounters{}, err
	}
	if s.counters == nil {
		return TestCounters{}, errors.Wrapf(hci.ErrDisallowed, "no receive test on %#04x", handle)
	}
	return TestCounters{Received: s.counters.Received, Missed: s.counters.Missed, Failed: s.counters.Failed}, nil
}

// ISOTestEnd implements HCI LE ISO Test End. A transmit test reports zero
// counters and drops the test SDUs it left queued.
func (c *Controller) ISOTestEnd(handle uint16) (TestCounters, error) {
	s, _, err := c.stream(handle)
	if err != nil {
		return TestCounters{}, err
	}
	if !s.inTest() {
		return TestCounters{}, errors.Wrapf(hci.ErrDisallowed, "no test on %#04x", handle)
	}
	var tc TestCounters
	if s.counters != nil {
		tc = TestCounters{Received: s.counters.Received, Missed: s.counters.Missed, Failed: s.counters.Failed}
	}
	if s.gen != nil {
		s.mux.Flush()
		s.hostQueued = 0
	}
	s.gen, s.counters = nil, nil
	return tc, nil
}
