package isoal

import (
	"github.com/pkg/errors"
)

// PacketStatus is the Packet_Status_Flag reported with a received SDU.
type PacketStatus uint8

const (
	StatusValid   PacketStatus = 0x00
	StatusInvalid PacketStatus = 0x01 // possibly invalid data
	StatusLost    PacketStatus = 0x02 // part of the SDU was never received
)

func (s PacketStatus) String() string {
	switch s {
	case StatusValid:
		return "valid"
	case StatusInvalid:
		return "invalid"
	case StatusLost:
		return "lost"
	default:
		return "unknown"
	}
}

// RxSDU is a reassembled SDU together with its status.
type RxSDU struct {
	SDU
	Status PacketStatus
}

// DemuxConfig describes one incoming isochronous stream.
type DemuxConfig struct {
	MaxSDU        int
	ISOIntervalUs uint32
	SDUIntervalUs uint32
	Framed        bool
}

// Demux reassembles the PDUs of successive isochronous events into SDUs.
type Demux struct {
	cfg DemuxConfig

	sduPerInterval int

	eventTimestamp uint32
	emitted        int

	collecting bool
	missed     bool
	buf        []byte
	status     PacketStatus
	timestamp  uint32

	seqNum uint16
	out    []RxSDU
}

// NewDemux validates cfg and returns an idle Demux.
func NewDemux(cfg DemuxConfig) (*Demux, error) {
	if cfg.SDUIntervalUs == 0 || cfg.ISOIntervalUs == 0 {
		return nil, errors.Wrap(ErrInvalidParams, "zero interval")
	}
	if cfg.MaxSDU <= 0 || cfg.MaxSDU > 4095 {
		return nil, errors.Wrapf(ErrInvalidParams, "max sdu %v", cfg.MaxSDU)
	}

	d := &Demux{cfg: cfg}
	d.sduPerInterval = int(cfg.ISOIntervalUs / cfg.SDUIntervalUs)
	if d.sduPerInterval == 0 {
		d.sduPerInterval = 1
	}
	return d, nil
}

// EventStart opens the event anchored at timestamp (µs).
func (d *Demux) EventStart(timestamp uint32) {
	d.eventTimestamp = timestamp
	d.emitted = 0
	d.missed = false
	d.out = d.out[:0]
}

// PDU feeds one received PDU. ok is false when the PDU was missed or failed
// its CRC; the payload is then ignored.
func (d *Demux) PDU(llid uint8, payload []byte, ok bool) {
	if !ok {
		if d.collecting {
			d.status = StatusLost
		} else {
			d.missed = true
		}
		return
	}

	if d.cfg.Framed {
		d.framed(llid, payload)
		return
	}
	d.unframed(llid, payload)
}

func (d *Demux) unframed(llid uint8, payload []byte) {
	switch llid {
	case LLIDUnframedStart:
		if len(payload) == 0 && !d.collecting {
			// padding
			return
		}
		d.begin(d.eventTimestamp)
		d.append(payload)
	case LLIDUnframedEnd:
		d.begin(d.eventTimestamp)
		d.append(payload)
		d.emit()
	default:
		d.status = StatusInvalid
	}
}

func (d *Demux) framed(llid uint8, payload []byte) {
	if llid != LLIDFramed {
		if d.collecting {
			d.status = StatusInvalid
		}
		return
	}

	for len(payload) > 0 {
		if len(payload) < segHdrLen {
			d.status = StatusInvalid
			return
		}
		flags, n := payload[0], int(payload[1])
		payload = payload[segHdrLen:]
		if n > len(payload) {
			if d.collecting {
				d.status = StatusInvalid
				d.emit()
			}
			return
		}
		seg := payload[:n]
		payload = payload[n:]

		sc := flags&segHdrSC != 0
		if !sc {
			if d.collecting {
				// the previous SDU never completed
				d.status = StatusLost
				d.emit()
			}
			if len(seg) < timeOffsetLen {
				continue
			}
			off := uint24(seg)
			seg = seg[timeOffsetLen:]
			d.begin(d.eventTimestamp - off)
		} else if !d.collecting {
			// continuation of an SDU whose start we missed
			continue
		}

		d.append(seg)
		if flags&segHdrCmplt != 0 {
			d.emit()
		}
	}
}

func (d *Demux) begin(ts uint32) {
	if d.collecting {
		return
	}
	d.collecting = true
	d.status = StatusValid
	if d.missed && !d.cfg.Framed {
		// the start fragment went missing
		d.status = StatusLost
	}
	d.missed = false
	d.buf = d.buf[:0]
	d.timestamp = ts
}

func (d *Demux) append(b []byte) {
	if len(d.buf)+len(b) > d.cfg.MaxSDU {
		d.status = StatusInvalid
		b = b[:d.cfg.MaxSDU-len(d.buf)]
	}
	d.buf = append(d.buf, b...)
}

func (d *Demux) emit() {
	data := make([]byte, len(d.buf))
	copy(data, d.buf)

	d.out = append(d.out, RxSDU{
		SDU:    SDU{Data: data, Timestamp: d.timestamp, SeqNum: d.seqNum},
		Status: d.status,
	})
	d.seqNum++
	d.emitted++
	d.collecting = false
	d.buf = d.buf[:0]
}

// EventDone closes the event and returns the SDUs it completed. Unframed
// streams expect a fixed number of SDUs per event; every one not seen is
// reported lost so the host sees a gap-free sequence.
func (d *Demux) EventDone() []RxSDU {
	if !d.cfg.Framed {
		if d.collecting {
			d.status = StatusLost
			d.emit()
		}
		for d.emitted < d.sduPerInterval {
			d.out = append(d.out, RxSDU{
				SDU:    SDU{Timestamp: d.eventTimestamp, SeqNum: d.seqNum},
				Status: StatusLost,
			})
			d.seqNum++
			d.emitted++
		}
	}

	out := make([]RxSDU, len(d.out))
	copy(out, d.out)
	d.out = d.out[:0]
	return out
}
