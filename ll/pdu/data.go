package pdu

import (
	"encoding/binary"

	"github.com/pkg/errors"
	"github.com/rigado/blell/ll/chsel"
)

// Data channel LLIDs.
const (
	LLIDContinue uint8 = 0x1 // continuation fragment or empty PDU
	LLIDStart    uint8 = 0x2
	LLIDControl  uint8 = 0x3
)

const (
	dataHdrNESN = 0x04
	dataHdrSN   = 0x08
	dataHdrMD   = 0x10
)

// Data is a data channel PDU.
type Data struct {
	LLID    uint8
	NESN    bool
	SN      bool
	MD      bool
	Payload []byte
}

func (p Data) Marshal() []byte {
	b := make([]byte, hdrLen+len(p.Payload))
	b[0] = p.LLID & 0x03
	if p.NESN {
		b[0] |= dataHdrNESN
	}
	if p.SN {
		b[0] |= dataHdrSN
	}
	if p.MD {
		b[0] |= dataHdrMD
	}
	b[1] = uint8(len(p.Payload))
	copy(b[hdrLen:], p.Payload)
	return b
}

func (p *Data) Unmarshal(b []byte) error {
	if len(b) < hdrLen || len(b) != hdrLen+int(b[1]) {
		return errors.Wrapf(ErrMalformed, "data pdu length %v", len(b))
	}
	p.LLID = b[0] & 0x03
	if p.LLID == 0 {
		return errors.Wrap(ErrMalformed, "reserved llid")
	}
	p.NESN = b[0]&dataHdrNESN != 0
	p.SN = b[0]&dataHdrSN != 0
	p.MD = b[0]&dataHdrMD != 0
	p.Payload = append([]byte(nil), b[hdrLen:]...)
	return nil
}

// Ack is one side of the SN/NESN acknowledgement scheme [Vol 6, Part B, 4.5.9].
type Ack struct {
	SN   bool
	NESN bool
}

// Stamp sets the sequence bits of an outgoing PDU.
func (a Ack) Stamp(p *Data) {
	p.SN = a.SN
	p.NESN = a.NESN
}

// Rx accounts for a received PDU. acked reports that the peer acknowledged
// our last PDU; fresh that p is new rather than a retransmission.
func (a *Ack) Rx(p Data) (acked bool, fresh bool) {
	acked = p.NESN != a.SN
	if acked {
		a.SN = !a.SN
	}
	fresh = p.SN == a.NESN
	if fresh {
		a.NESN = !a.NESN
	}
	return acked, fresh
}

// Control PDU opcodes.
const (
	OpConnectionUpdateInd uint8 = 0x00
	OpChannelMapInd       uint8 = 0x01
	OpTerminateInd        uint8 = 0x02
	OpUnknownRsp          uint8 = 0x07
)

// Control is an LL control PDU body.
type Control interface {
	Opcode() uint8
	Marshal() []byte
}

// ControlPDU wraps c in a data channel PDU.
func ControlPDU(c Control) Data {
	body := c.Marshal()
	pl := make([]byte, 1+len(body))
	pl[0] = c.Opcode()
	copy(pl[1:], body)
	return Data{LLID: LLIDControl, Payload: pl}
}

// ParseControl decodes the control PDU in p.
func ParseControl(p Data) (Control, error) {
	if p.LLID != LLIDControl || len(p.Payload) == 0 {
		return nil, errors.Wrap(ErrMalformed, "not a control pdu")
	}
	body := p.Payload[1:]
	switch op := p.Payload[0]; op {
	case OpConnectionUpdateInd:
		var c ConnectionUpdateInd
		return &c, c.Unmarshal(body)
	case OpChannelMapInd:
		var c ChannelMapInd
		return &c, c.Unmarshal(body)
	case OpTerminateInd:
		var c TerminateInd
		return &c, c.Unmarshal(body)
	case OpUnknownRsp:
		var c UnknownRsp
		return &c, c.Unmarshal(body)
	default:
		return nil, errors.Wrapf(ErrUnknownOpcode, "%#02x", op)
	}
}

var ErrUnknownOpcode = errors.New("unknown control opcode")

// ConnectionUpdateInd is LL_CONNECTION_UPDATE_IND.
type ConnectionUpdateInd struct {
	WinSize   uint8
	WinOffset uint16
	Interval  uint16
	Latency   uint16
	Timeout   uint16
	Instant   uint16
}

func (c *ConnectionUpdateInd) Opcode() uint8 { return OpConnectionUpdateInd }

func (c *ConnectionUpdateInd) Marshal() []byte {
	b := make([]byte, 11)
	b[0] = c.WinSize
	binary.LittleEndian.PutUint16(b[1:], c.WinOffset)
	binary.LittleEndian.PutUint16(b[3:], c.Interval)
	binary.LittleEndian.PutUint16(b[5:], c.Latency)
	binary.LittleEndian.PutUint16(b[7:], c.Timeout)
	binary.LittleEndian.PutUint16(b[9:], c.Instant)
	return b
}

func (c *ConnectionUpdateInd) Unmarshal(b []byte) error {
	if len(b) != 11 {
		return errors.Wrapf(ErrMalformed, "conn update length %v", len(b))
	}
	c.WinSize = b[0]
	c.WinOffset = binary.LittleEndian.Uint16(b[1:])
	c.Interval = binary.LittleEndian.Uint16(b[3:])
	c.Latency = binary.LittleEndian.Uint16(b[5:])
	c.Timeout = binary.LittleEndian.Uint16(b[7:])
	c.Instant = binary.LittleEndian.Uint16(b[9:])
	return nil
}

// ChannelMapInd is LL_CHANNEL_MAP_IND.
type ChannelMapInd struct {
	ChM     chsel.ChanMap
	Instant uint16
}

func (c *ChannelMapInd) Opcode() uint8 { return OpChannelMapInd }

func (c *ChannelMapInd) Marshal() []byte {
	b := make([]byte, 7)
	copy(b, c.ChM[:])
	binary.LittleEndian.PutUint16(b[5:], c.Instant)
	return b
}

func (c *ChannelMapInd) Unmarshal(b []byte) error {
	if len(b) != 7 {
		return errors.Wrapf(ErrMalformed, "channel map length %v", len(b))
	}
	copy(c.ChM[:], b[:5])
	c.Instant = binary.LittleEndian.Uint16(b[5:])
	return nil
}

// TerminateInd is LL_TERMINATE_IND.
type TerminateInd struct {
	ErrorCode uint8
}

func (c *TerminateInd) Opcode() uint8   { return OpTerminateInd }
func (c *TerminateInd) Marshal() []byte { return []byte{c.ErrorCode} }

func (c *TerminateInd) Unmarshal(b []byte) error {
	if len(b) != 1 {
		return errors.Wrapf(ErrMalformed, "terminate length %v", len(b))
	}
	c.ErrorCode = b[0]
	return nil
}

// UnknownRsp is LL_UNKNOWN_RSP.
type UnknownRsp struct {
	UnknownType uint8
}

func (c *UnknownRsp) Opcode() uint8   { return OpUnknownRsp }
func (c *UnknownRsp) Marshal() []byte { return []byte{c.UnknownType} }

func (c *UnknownRsp) Unmarshal(b []byte) error {
	if len(b) != 1 {
		return errors.Wrapf(ErrMalformed, "unknown rsp length %v", len(b))
	}
	c.UnknownType = b[0]
	return nil
}

// InstantPassed reports whether instant lies in the past relative to the
// event counter, using the modulo 65536 rule of [Vol 6, Part B, 5.5.1].
func InstantPassed(counter, instant uint16) bool {
	return counter != instant && counter-instant < 32767
}
