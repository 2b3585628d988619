package hci

import (
	"encoding/binary"

	"github.com/pkg/errors"
)

// Packet boundary flags of HCI ISO Data packets [Vol 4, Part E, 5.4.5].
const (
	ISOPbfFirst    = 0x00
	ISOPbfContinue = 0x01
	ISOPbfComplete = 0x02
	ISOPbfLast     = 0x03
)

const (
	isoHdrLen    = 4
	isoSDUHdrLen = 4
	isoTSLen     = 4
)

var ErrISOPacket = errors.New("malformed iso data packet")

// ISOPacket is an HCI ISO Data packet carrying one complete SDU.
type ISOPacket struct {
	Handle       uint16
	HasTimestamp bool
	Timestamp    uint32
	SeqNum       uint16
	Status       uint8 // packet status flag, controller to host only
	Data         []byte
}

// Marshal encodes p without the H4 packet indicator.
func (p ISOPacket) Marshal() []byte {
	load := isoSDUHdrLen + len(p.Data)
	if p.HasTimestamp {
		load += isoTSLen
	}

	b := make([]byte, isoHdrLen+load)
	h := p.Handle&0x0fff | ISOPbfComplete<<12
	if p.HasTimestamp {
		h |= 1 << 14
	}
	binary.LittleEndian.PutUint16(b[0:], h)
	binary.LittleEndian.PutUint16(b[2:], uint16(load)&0x3fff)

	o := isoHdrLen
	if p.HasTimestamp {
		binary.LittleEndian.PutUint32(b[o:], p.Timestamp)
		o += isoTSLen
	}
	binary.LittleEndian.PutUint16(b[o:], p.SeqNum)
	binary.LittleEndian.PutUint16(b[o+2:], uint16(len(p.Data))&0x0fff|uint16(p.Status&0x03)<<14)
	copy(b[o+isoSDUHdrLen:], p.Data)
	return b
}

// Unmarshal decodes an ISO data packet. Only complete SDUs are accepted.
func (p *ISOPacket) Unmarshal(b []byte) error {
	if len(b) < isoHdrLen {
		return errors.Wrapf(ErrISOPacket, "short header %v", len(b))
	}
	h := binary.LittleEndian.Uint16(b[0:])
	load := int(binary.LittleEndian.Uint16(b[2:]) & 0x3fff)
	if len(b)-isoHdrLen != load {
		return errors.Wrapf(ErrISOPacket, "load length %v, have %v", load, len(b)-isoHdrLen)
	}
	if pb := h >> 12 & 0x03; pb != ISOPbfComplete {
		return errors.Wrapf(ErrISOPacket, "unsupported pb flag %v", pb)
	}

	p.Handle = h & 0x0fff
	p.HasTimestamp = h&(1<<14) != 0

	b = b[isoHdrLen:]
	if p.HasTimestamp {
		if len(b) < isoTSLen {
			return errors.Wrap(ErrISOPacket, "short timestamp")
		}
		p.Timestamp = binary.LittleEndian.Uint32(b)
		b = b[isoTSLen:]
	}
	if len(b) < isoSDUHdrLen {
		return errors.Wrap(ErrISOPacket, "short sdu header")
	}
	p.SeqNum = binary.LittleEndian.Uint16(b)
	sl := binary.LittleEndian.Uint16(b[2:])
	p.Status = uint8(sl >> 14)
	n := int(sl & 0x0fff)
	b = b[isoSDUHdrLen:]
	if n != len(b) {
		return errors.Wrapf(ErrISOPacket, "sdu length %v, have %v", n, len(b))
	}
	p.Data = append([]byte(nil), b...)
	return nil
}
