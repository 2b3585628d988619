// Package pdu encodes and decodes link layer PDUs: advertising channel PDUs,
// CONNECT_IND and the data channel header with the control PDUs the
// connection state machine exchanges [Vol 6, Part B, 2.3 and 2.4].
package pdu

import (
	"encoding/binary"

	"github.com/pkg/errors"
	"github.com/rigado/blell/ll/chsel"
)

// Advertising channel PDU types.
const (
	TypeAdvInd        uint8 = 0x0
	TypeAdvDirectInd  uint8 = 0x1
	TypeAdvNonconnInd uint8 = 0x2
	TypeScanReq       uint8 = 0x3
	TypeScanRsp       uint8 = 0x4
	TypeConnectInd    uint8 = 0x5
	TypeAdvScanInd    uint8 = 0x6
)

const (
	hdrLen      = 2
	addrLen     = 6
	MaxAdvData  = 31
	llDataLen   = 22
	connIndLen  = 2*addrLen + llDataLen
	maxAdvPDU   = 37
	advHdrChSel = 0x20
	advHdrTxAdd = 0x40
	advHdrRxAdd = 0x80
)

var ErrMalformed = errors.New("malformed pdu")

// Airtime returns the on-air duration in µs of a PDU with n payload octets
// on the LE 1M PHY: preamble, access address, header, payload and CRC.
func Airtime(n int) uint32 {
	return uint32(1+4+hdrLen+n+3) * 8
}

// Adv is an advertising channel PDU.
type Adv struct {
	Type    uint8
	ChSel   bool
	TxAdd   bool
	RxAdd   bool
	Payload []byte
}

func (p Adv) Marshal() []byte {
	b := make([]byte, hdrLen+len(p.Payload))
	b[0] = p.Type & 0x0f
	if p.ChSel {
		b[0] |= advHdrChSel
	}
	if p.TxAdd {
		b[0] |= advHdrTxAdd
	}
	if p.RxAdd {
		b[0] |= advHdrRxAdd
	}
	b[1] = uint8(len(p.Payload))
	copy(b[hdrLen:], p.Payload)
	return b
}

func (p *Adv) Unmarshal(b []byte) error {
	if len(b) < hdrLen {
		return errors.Wrapf(ErrMalformed, "adv header %v", len(b))
	}
	n := int(b[1])
	if n > maxAdvPDU || len(b) != hdrLen+n {
		return errors.Wrapf(ErrMalformed, "adv length %v, have %v", n, len(b)-hdrLen)
	}
	p.Type = b[0] & 0x0f
	p.ChSel = b[0]&advHdrChSel != 0
	p.TxAdd = b[0]&advHdrTxAdd != 0
	p.RxAdd = b[0]&advHdrRxAdd != 0
	p.Payload = append([]byte(nil), b[hdrLen:]...)
	return nil
}

// Connectable reports whether a CONNECT_IND may answer the PDU.
func (p Adv) Connectable() bool {
	return p.Type == TypeAdvInd || p.Type == TypeAdvDirectInd
}

// Scannable reports whether a SCAN_REQ may answer the PDU.
func (p Adv) Scannable() bool {
	return p.Type == TypeAdvInd || p.Type == TypeAdvScanInd
}

// AdvA returns the advertiser address in wire order. For SCAN_REQ and
// CONNECT_IND it follows the scanner or initiator address.
func (p Adv) AdvA() ([6]byte, error) {
	off := 0
	if p.Type == TypeScanReq || p.Type == TypeConnectInd {
		off = addrLen
	}
	var a [6]byte
	if len(p.Payload) < off+addrLen {
		return a, errors.Wrapf(ErrMalformed, "no AdvA in type %v", p.Type)
	}
	copy(a[:], p.Payload[off:off+addrLen])
	return a, nil
}

// Data returns the advertising or scan response data following AdvA.
func (p Adv) Data() []byte {
	switch p.Type {
	case TypeAdvInd, TypeAdvNonconnInd, TypeAdvScanInd, TypeScanRsp:
		if len(p.Payload) > addrLen {
			return p.Payload[addrLen:]
		}
	}
	return nil
}

// NewAdvInd builds an ADV_IND, ADV_NONCONN_IND, ADV_SCAN_IND or SCAN_RSP.
func NewAdvInd(typ uint8, advA [6]byte, random bool, data []byte) Adv {
	if len(data) > MaxAdvData {
		data = data[:MaxAdvData]
	}
	pl := make([]byte, addrLen+len(data))
	copy(pl, advA[:])
	copy(pl[addrLen:], data)
	return Adv{Type: typ, TxAdd: random, ChSel: typ == TypeAdvInd, Payload: pl}
}

// ConnectInd is the payload of a CONNECT_IND [Vol 6, Part B, 2.3.3.1].
type ConnectInd struct {
	InitA     [6]byte
	AdvA      [6]byte
	AA        uint32
	CRCInit   uint32 // 24 bits
	WinSize   uint8
	WinOffset uint16
	Interval  uint16
	Latency   uint16
	Timeout   uint16
	ChM       chsel.ChanMap
	Hop       uint8
	SCA       uint8
}

func (c ConnectInd) Marshal() []byte {
	b := make([]byte, connIndLen)
	copy(b[0:], c.InitA[:])
	copy(b[6:], c.AdvA[:])
	binary.LittleEndian.PutUint32(b[12:], c.AA)
	b[16] = byte(c.CRCInit)
	b[17] = byte(c.CRCInit >> 8)
	b[18] = byte(c.CRCInit >> 16)
	b[19] = c.WinSize
	binary.LittleEndian.PutUint16(b[20:], c.WinOffset)
	binary.LittleEndian.PutUint16(b[22:], c.Interval)
	binary.LittleEndian.PutUint16(b[24:], c.Latency)
	binary.LittleEndian.PutUint16(b[26:], c.Timeout)
	copy(b[28:33], c.ChM[:])
	b[33] = c.Hop&0x1f | c.SCA<<5
	return b
}

func (c *ConnectInd) Unmarshal(b []byte) error {
	if len(b) != connIndLen {
		return errors.Wrapf(ErrMalformed, "connect_ind length %v", len(b))
	}
	copy(c.InitA[:], b[0:6])
	copy(c.AdvA[:], b[6:12])
	c.AA = binary.LittleEndian.Uint32(b[12:])
	c.CRCInit = uint32(b[16]) | uint32(b[17])<<8 | uint32(b[18])<<16
	c.WinSize = b[19]
	c.WinOffset = binary.LittleEndian.Uint16(b[20:])
	c.Interval = binary.LittleEndian.Uint16(b[22:])
	c.Latency = binary.LittleEndian.Uint16(b[24:])
	c.Timeout = binary.LittleEndian.Uint16(b[26:])
	copy(c.ChM[:], b[28:33])
	c.Hop = b[33] & 0x1f
	c.SCA = b[33] >> 5
	return nil
}

// PDU wraps the payload into an advertising channel PDU.
func (c ConnectInd) PDU(chSel, txRandom, rxRandom bool) Adv {
	return Adv{Type: TypeConnectInd, ChSel: chSel, TxAdd: txRandom, RxAdd: rxRandom, Payload: c.Marshal()}
}
