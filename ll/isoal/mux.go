// Package isoal implements the isochronous adaptation layer: segmentation of
// SDUs into link layer PDUs for CIS/BIS transmission and reassembly on receive
// [Vol 6, Part G].
package isoal

import (
	"encoding/binary"

	"github.com/pkg/errors"
)

// PDU LLIDs of isochronous PDUs.
const (
	LLIDUnframedEnd   uint8 = 0x00 // end fragment or complete SDU
	LLIDUnframedStart uint8 = 0x01 // start or continuation fragment, or padding
	LLIDFramed        uint8 = 0x02
)

// MaxPDU is the largest isochronous PDU payload.
const MaxPDU = 251

// Segment header layout for framed PDUs.
const (
	segHdrLen      = 2
	timeOffsetLen  = 3
	segHdrSC       = 0x01
	segHdrCmplt    = 0x02
	maxTimeOffset  = 0xffffff
	defaultMaxSDUs = 32
)

var (
	ErrInvalidParams = errors.New("isoal: invalid parameters")
	ErrQueueFull     = errors.New("isoal: sdu queue full")
	ErrSDUTooLong    = errors.New("isoal: sdu too long")
)

// SDU is a service data unit as handed over by the host.
type SDU struct {
	Data []byte

	// Timestamp is the SDU synchronization reference in microseconds.
	Timestamp uint32

	// SeqNum is the packet sequence number assigned by the host.
	SeqNum uint16
}

// MuxConfig describes one outgoing isochronous stream.
type MuxConfig struct {
	MaxPDU        int
	ISOIntervalUs uint32
	SDUIntervalUs uint32
	BN            int
	PTE           int // pre-transmission offset
	Framed        bool
	FramingMode   uint8 // 0 segmentable, 1 unsegmented
	MaxQueued     int
}

// Mux segments queued SDUs into the PDUs of successive isochronous events.
type Mux struct {
	cfg MuxConfig

	sduPerInterval int
	sduPerEvent    int
	pduPerSDU      int

	queue []SDU

	// per event
	active         bool
	eventTimestamp uint32
	sduInEvent     int
	pdus           [][]byte
	llids          []uint8

	// framed segmentation state of the SDU at the head of the queue
	headOffset int
	sc         bool

	// framed segmentation state once the event's PDUs are built
	nextOffset int
	nextSC     bool
	consumed   int

	sduCounter      uint32
	lastTxTimestamp uint32
	lastTxSeqNum    uint16
}

// NewMux validates cfg and returns an idle Mux.
func NewMux(cfg MuxConfig) (*Mux, error) {
	switch {
	case cfg.MaxPDU < 0 || cfg.MaxPDU > MaxPDU:
		return nil, errors.Wrapf(ErrInvalidParams, "max pdu %v", cfg.MaxPDU)
	case cfg.SDUIntervalUs == 0 || cfg.ISOIntervalUs == 0:
		return nil, errors.Wrap(ErrInvalidParams, "zero interval")
	case cfg.BN < 1 || cfg.BN > 15:
		return nil, errors.Wrapf(ErrInvalidParams, "bn %v", cfg.BN)
	case cfg.PTE < 0:
		return nil, errors.Wrapf(ErrInvalidParams, "pte %v", cfg.PTE)
	case cfg.Framed && cfg.MaxPDU <= segHdrLen+timeOffsetLen:
		return nil, errors.Wrapf(ErrInvalidParams, "max pdu %v too small for framed", cfg.MaxPDU)
	}
	if cfg.MaxQueued == 0 {
		cfg.MaxQueued = defaultMaxSDUs
	}

	m := &Mux{cfg: cfg}

	// Core 5.3, Vol 6, Part G, 2.1
	m.sduPerInterval = int(cfg.ISOIntervalUs / cfg.SDUIntervalUs)
	m.sduPerEvent = (1 + cfg.PTE) * m.sduPerInterval
	if !cfg.Framed {
		if m.sduPerInterval == 0 || cfg.ISOIntervalUs%cfg.SDUIntervalUs != 0 {
			return nil, errors.Wrapf(ErrInvalidParams, "iso interval %v not a multiple of sdu interval %v",
				cfg.ISOIntervalUs, cfg.SDUIntervalUs)
		}
		if cfg.BN%m.sduPerInterval != 0 {
			return nil, errors.Wrapf(ErrInvalidParams, "bn %v not a multiple of %v sdus per interval",
				cfg.BN, m.sduPerInterval)
		}
		m.pduPerSDU = cfg.BN / m.sduPerInterval
	}

	return m, nil
}

// Config returns the configuration the mux was built with.
func (m *Mux) Config() MuxConfig {
	return m.cfg
}

// MaxSDU is the largest SDU the stream accepts. Framed streams are only bounded
// by what the host negotiated.
func (m *Mux) MaxSDU() int {
	if m.cfg.Framed {
		return 4095
	}
	return m.pduPerSDU * m.cfg.MaxPDU
}

// Enqueue appends an SDU to the transmit queue.
func (m *Mux) Enqueue(sdu SDU) error {
	if len(m.queue) >= m.cfg.MaxQueued {
		return ErrQueueFull
	}
	if len(sdu.Data) > m.MaxSDU() {
		return errors.Wrapf(ErrSDUTooLong, "%v > %v", len(sdu.Data), m.MaxSDU())
	}
	m.queue = append(m.queue, sdu)
	return nil
}

// Queued returns the number of SDUs waiting, including a partially sent one.
func (m *Mux) Queued() int {
	return len(m.queue)
}

// EventStart prepares the PDUs of the event anchored at timestamp (µs) and
// returns the number of SDUs the event carries.
func (m *Mux) EventStart(timestamp uint32) int {
	m.active = true
	m.eventTimestamp = timestamp
	m.pdus = m.pdus[:0]
	m.llids = m.llids[:0]

	if m.cfg.Framed {
		m.buildFramed()
	} else {
		m.buildUnframed()
	}
	return m.sduInEvent
}

func (m *Mux) buildUnframed() {
	m.sduInEvent = len(m.queue)
	if m.sduInEvent > m.sduPerEvent {
		m.sduInEvent = m.sduPerEvent
	}
	// an event only has room for BN PDUs
	if fit := m.cfg.BN / m.pduPerSDU; m.sduInEvent > fit {
		m.sduInEvent = fit
	}

	for idx := 0; idx < m.cfg.BN; idx++ {
		sduIdx := idx / m.pduPerSDU
		pduIdx := idx - sduIdx*m.pduPerSDU

		if sduIdx >= m.sduInEvent {
			m.addPDU(LLIDUnframedStart, nil)
			continue
		}

		data := m.queue[sduIdx].Data
		if len(data) == 0 && pduIdx == 0 {
			// complete empty SDU
			m.addPDU(LLIDUnframedEnd, nil)
			continue
		}

		off := pduIdx * m.cfg.MaxPDU
		rem := len(data) - off
		if rem <= 0 {
			// padding after the end fragment
			m.addPDU(LLIDUnframedStart, nil)
			continue
		}

		n := rem
		llid := LLIDUnframedEnd
		if rem > m.cfg.MaxPDU {
			n = m.cfg.MaxPDU
			llid = LLIDUnframedStart
		}
		m.addPDU(llid, data[off:off+n])
	}
}

func (m *Mux) buildFramed() {
	offset := m.headOffset
	sc := m.sc
	sduIdx := 0
	touched := 0

	for idx := 0; idx < m.cfg.BN; idx++ {
		pdu := make([]byte, 0, m.cfg.MaxPDU)

		for sduIdx < len(m.queue) {
			hdrLen := segHdrLen
			if !sc {
				hdrLen += timeOffsetLen
			}
			sdu := m.queue[sduIdx]
			rem := len(sdu.Data) - offset

			room := m.cfg.MaxPDU - len(pdu) - hdrLen
			if room < 0 || (room == 0 && rem > 0) {
				break
			}
			if m.cfg.FramingMode == 1 && !sc && rem > room && len(pdu) > 0 {
				// unsegmented mode: start the SDU in a fresh PDU
				break
			}

			n := rem
			if n > room {
				n = room
			}
			cmplt := n == rem

			var hdr [segHdrLen + timeOffsetLen]byte
			flags := uint8(0)
			if sc {
				flags |= segHdrSC
			}
			if cmplt {
				flags |= segHdrCmplt
			}
			hdr[0] = flags
			hdr[1] = uint8(hdrLen - segHdrLen + n)
			if !sc {
				putUint24(hdr[segHdrLen:], m.timeOffset(sdu))
			}
			pdu = append(pdu, hdr[:hdrLen]...)
			pdu = append(pdu, sdu.Data[offset:offset+n]...)

			if sduIdx+1 > touched {
				touched = sduIdx + 1
			}

			if cmplt {
				sduIdx++
				offset = 0
				sc = false
			} else {
				offset += n
				sc = true
				break
			}
		}

		if len(pdu) == 0 {
			m.addPDU(LLIDFramed, nil)
			continue
		}
		m.addPDU(LLIDFramed, pdu)
	}

	m.sduInEvent = touched
	m.nextOffset = offset
	m.nextSC = sc
	m.consumed = sduIdx
}

func (m *Mux) timeOffset(sdu SDU) uint32 {
	d := int32(m.eventTimestamp - sdu.Timestamp)
	if d <= 0 {
		return 0
	}
	if d > maxTimeOffset {
		return maxTimeOffset
	}
	return uint32(d)
}

func (m *Mux) addPDU(llid uint8, payload []byte) {
	m.llids = append(m.llids, llid)
	m.pdus = append(m.pdus, payload)
}

// PDUGet returns the LLID and payload of PDU idx (0..BN-1) of the current
// event. Outside an event, or past BN, it returns an empty padding PDU.
func (m *Mux) PDUGet(idx int) (uint8, []byte) {
	if !m.active || idx < 0 || idx >= len(m.pdus) {
		if m.cfg.Framed {
			return LLIDFramed, nil
		}
		return LLIDUnframedStart, nil
	}
	return m.llids[idx], m.pdus[idx]
}

// EventDone releases the SDUs the event completed. It returns the number of
// SDUs completed and the number still pending.
func (m *Mux) EventDone() (completed int, pending int) {
	if !m.active {
		return 0, len(m.queue)
	}
	m.active = false

	if m.cfg.Framed {
		completed = m.consumed
		m.headOffset = m.nextOffset
		m.sc = m.nextSC
	} else {
		completed = m.sduInEvent
	}

	if completed > 0 {
		last := m.queue[completed-1]
		m.lastTxSeqNum = last.SeqNum
		m.lastTxTimestamp = m.eventTimestamp
		m.queue = append(m.queue[:0], m.queue[completed:]...)
		m.sduCounter += uint32(completed)
	}
	m.sduInEvent = 0

	return completed, len(m.queue)
}

// Flush drops every queued SDU, a partially sent one included, and abandons
// the event in progress: its EventDone completes nothing. It returns the
// number of SDUs dropped.
func (m *Mux) Flush() int {
	n := len(m.queue)
	m.queue = m.queue[:0]
	m.active = false
	m.sduInEvent = 0
	m.headOffset, m.sc = 0, false
	m.nextOffset, m.nextSC, m.consumed = 0, false, 0
	return n
}

// SDUCounter returns the number of SDUs sent since the stream was set up.
func (m *Mux) SDUCounter() uint32 {
	return m.sduCounter
}

// LastTx returns the sequence number and event timestamp of the last
// completed SDU, as reported by LE Read ISO TX Sync.
func (m *Mux) LastTx() (seqNum uint16, timestamp uint32) {
	return m.lastTxSeqNum, m.lastTxTimestamp
}

// Continuing reports whether the head SDU was only partially sent.
func (m *Mux) Continuing() bool {
	return m.sc
}

func putUint24(b []byte, v uint32) {
	b[0] = byte(v)
	b[1] = byte(v >> 8)
	b[2] = byte(v >> 16)
}

func uint24(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16
}

// counterOf extracts the test payload counter.
func counterOf(b []byte) uint32 {
	return binary.LittleEndian.Uint32(b)
}
