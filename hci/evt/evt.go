// Package evt encodes the HCI events the controller emits and decodes them
// again for hosts and tests. Every event type is its parameter block as a
// byte slice; LE meta events start with their subevent code.
package evt

import (
	"encoding/binary"
)

const (
	DisconnectionCompleteCode    = 0x05
	CommandCompleteCode          = 0x0E
	CommandStatusCode            = 0x0F
	HardwareErrorCode            = 0x10
	NumberOfCompletedPacketsCode = 0x13
	LEMetaCode                   = 0x3E
	VendorCode                   = 0xFF
)

// LE meta subevent codes [Vol 4, Part E, 7.7.65].
const (
	LEConnectionCompleteSubCode       = 0x01
	LEAdvertisingReportSubCode        = 0x02
	LEConnectionUpdateCompleteSubCode = 0x03
	LECISEstablishedSubCode           = 0x19
	LECreateBIGCompleteSubCode        = 0x1B
	LETerminateBIGCompleteSubCode     = 0x1C
)

// Event is an encoded HCI event.
type Event interface {
	Code() uint8
	Params() []byte
}

// Encode returns the event as an H4 packet: indicator, code, length, params.
func Encode(e Event) []byte {
	p := e.Params()
	b := make([]byte, 3+len(p))
	b[0] = 0x04
	b[1] = e.Code()
	b[2] = uint8(len(p))
	copy(b[3:], p)
	return b
}

// Decode splits an H4 event packet. It returns nil when the packet is malformed.
func Decode(b []byte) (code uint8, params []byte) {
	if len(b) < 3 || b[0] != 0x04 || int(b[2]) != len(b)-3 {
		return 0, nil
	}
	return b[1], b[3:]
}

// Meta is an LE meta event whose subevent is not decoded further.
type Meta []byte

func (e Meta) Code() uint8    { return LEMetaCode }
func (e Meta) Params() []byte { return e }

func put16(b []byte, v uint16) { binary.LittleEndian.PutUint16(b, v) }

func put24(b []byte, v uint32) {
	b[0] = byte(v)
	b[1] = byte(v >> 8)
	b[2] = byte(v >> 16)
}

// CommandComplete implements Command Complete (0x0E) [Vol 4, Part E, 7.7.14].
type CommandComplete []byte

func NewCommandComplete(numPkts uint8, opcode uint16, rp []byte) CommandComplete {
	b := make([]byte, 3+len(rp))
	b[0] = numPkts
	put16(b[1:], opcode)
	copy(b[3:], rp)
	return b
}

func (e CommandComplete) Code() uint8    { return CommandCompleteCode }
func (e CommandComplete) Params() []byte { return e }

// CommandStatus implements Command Status (0x0F) [Vol 4, Part E, 7.7.15].
type CommandStatus []byte

func NewCommandStatus(status, numPkts uint8, opcode uint16) CommandStatus {
	b := make([]byte, 4)
	b[0] = status
	b[1] = numPkts
	put16(b[2:], opcode)
	return b
}

func (e CommandStatus) Code() uint8    { return CommandStatusCode }
func (e CommandStatus) Params() []byte { return e }

// DisconnectionComplete implements Disconnection Complete (0x05) [Vol 4, Part E, 7.7.5].
type DisconnectionComplete []byte

func NewDisconnectionComplete(status uint8, handle uint16, reason uint8) DisconnectionComplete {
	b := make([]byte, 4)
	b[0] = status
	put16(b[1:], handle)
	b[3] = reason
	return b
}

func (e DisconnectionComplete) Code() uint8    { return DisconnectionCompleteCode }
func (e DisconnectionComplete) Params() []byte { return e }

// NumberOfCompletedPackets implements Number Of Completed Packets (0x13)
// [Vol 4, Part E, 7.7.19], in the interleaved handle/count layout.
type NumberOfCompletedPackets []byte

func NewNumberOfCompletedPackets(handles []uint16, counts []uint16) NumberOfCompletedPackets {
	b := make([]byte, 1+4*len(handles))
	b[0] = uint8(len(handles))
	for i, h := range handles {
		put16(b[1+4*i:], h)
		put16(b[3+4*i:], counts[i])
	}
	return b
}

func (e NumberOfCompletedPackets) Code() uint8    { return NumberOfCompletedPacketsCode }
func (e NumberOfCompletedPackets) Params() []byte { return e }

// LEConnectionComplete implements LE Connection Complete (0x3E/0x01) [Vol 4, Part E, 7.7.65.1].
type LEConnectionComplete []byte

type ConnectionComplete struct {
	Status               uint8
	Handle               uint16
	Role                 uint8
	PeerAddressType      uint8
	PeerAddress          [6]byte // little endian, as on the wire
	ConnInterval         uint16
	ConnLatency          uint16
	SupervisionTimeout   uint16
	CentralClockAccuracy uint8
}

func NewLEConnectionComplete(c ConnectionComplete) LEConnectionComplete {
	b := make([]byte, 19)
	b[0] = LEConnectionCompleteSubCode
	b[1] = c.Status
	put16(b[2:], c.Handle)
	b[4] = c.Role
	b[5] = c.PeerAddressType
	copy(b[6:12], c.PeerAddress[:])
	put16(b[12:], c.ConnInterval)
	put16(b[14:], c.ConnLatency)
	put16(b[16:], c.SupervisionTimeout)
	b[18] = c.CentralClockAccuracy
	return b
}

func (e LEConnectionComplete) Code() uint8    { return LEMetaCode }
func (e LEConnectionComplete) Params() []byte { return e }

// LEAdvertisingReport implements LE Advertising Report (0x3E/0x02) [Vol 4, Part E, 7.7.65.2].
type LEAdvertisingReport []byte

// NewLEAdvertisingReport encodes a single report.
func NewLEAdvertisingReport(evtType, addrType uint8, addr [6]byte, data []byte, rssi int8) LEAdvertisingReport {
	b := make([]byte, 12+len(data))
	b[0] = LEAdvertisingReportSubCode
	b[1] = 1
	b[2] = evtType
	b[3] = addrType
	copy(b[4:10], addr[:])
	b[10] = uint8(len(data))
	copy(b[11:], data)
	b[11+len(data)] = uint8(rssi)
	return b
}

func (e LEAdvertisingReport) Code() uint8    { return LEMetaCode }
func (e LEAdvertisingReport) Params() []byte { return e }

// LEConnectionUpdateComplete implements LE Connection Update Complete (0x3E/0x03) [Vol 4, Part E, 7.7.65.3].
type LEConnectionUpdateComplete []byte

func NewLEConnectionUpdateComplete(status uint8, handle, interval, latency, timeout uint16) LEConnectionUpdateComplete {
	b := make([]byte, 10)
	b[0] = LEConnectionUpdateCompleteSubCode
	b[1] = status
	put16(b[2:], handle)
	put16(b[4:], interval)
	put16(b[6:], latency)
	put16(b[8:], timeout)
	return b
}

func (e LEConnectionUpdateComplete) Code() uint8    { return LEMetaCode }
func (e LEConnectionUpdateComplete) Params() []byte { return e }

// LECISEstablished implements LE CIS Established (0x3E/0x19) [Vol 4, Part E, 7.7.65.25].
type LECISEstablished []byte

type CISEstablished struct {
	Status           uint8
	Handle           uint16
	CIGSyncDelay     uint32
	CISSyncDelay     uint32
	TransportLatency [2]uint32 // C to P, P to C
	PHY              [2]uint8
	NSE              uint8
	BN               [2]uint8
	FT               [2]uint8
	MaxPDU           [2]uint16
	ISOInterval      uint16
}

func NewLECISEstablished(c CISEstablished) LECISEstablished {
	b := make([]byte, 29)
	b[0] = LECISEstablishedSubCode
	b[1] = c.Status
	put16(b[2:], c.Handle)
	put24(b[4:], c.CIGSyncDelay)
	put24(b[7:], c.CISSyncDelay)
	put24(b[10:], c.TransportLatency[0])
	put24(b[13:], c.TransportLatency[1])
	b[16] = c.PHY[0]
	b[17] = c.PHY[1]
	b[18] = c.NSE
	b[19] = c.BN[0]
	b[20] = c.BN[1]
	b[21] = c.FT[0]
	b[22] = c.FT[1]
	put16(b[23:], c.MaxPDU[0])
	put16(b[25:], c.MaxPDU[1])
	put16(b[27:], c.ISOInterval)
	return b
}

func (e LECISEstablished) Code() uint8    { return LEMetaCode }
func (e LECISEstablished) Params() []byte { return e }

// LECreateBIGComplete implements LE Create BIG Complete (0x3E/0x1B) [Vol 4, Part E, 7.7.65.27].
type LECreateBIGComplete []byte

type CreateBIGComplete struct {
	Status           uint8
	BIGHandle        uint8
	BIGSyncDelay     uint32
	TransportLatency uint32
	PHY              uint8
	NSE              uint8
	BN               uint8
	PTO              uint8
	IRC              uint8
	MaxPDU           uint16
	ISOInterval      uint16
	Handles          []uint16
}

func NewLECreateBIGComplete(c CreateBIGComplete) LECreateBIGComplete {
	b := make([]byte, 19+2*len(c.Handles))
	b[0] = LECreateBIGCompleteSubCode
	b[1] = c.Status
	b[2] = c.BIGHandle
	put24(b[3:], c.BIGSyncDelay)
	put24(b[6:], c.TransportLatency)
	b[9] = c.PHY
	b[10] = c.NSE
	b[11] = c.BN
	b[12] = c.PTO
	b[13] = c.IRC
	put16(b[14:], c.MaxPDU)
	put16(b[16:], c.ISOInterval)
	b[18] = uint8(len(c.Handles))
	for i, h := range c.Handles {
		put16(b[19+2*i:], h)
	}
	return b
}

func (e LECreateBIGComplete) Code() uint8    { return LEMetaCode }
func (e LECreateBIGComplete) Params() []byte { return e }

// LETerminateBIGComplete implements LE Terminate BIG Complete (0x3E/0x1C) [Vol 4, Part E, 7.7.65.29].
type LETerminateBIGComplete []byte

func NewLETerminateBIGComplete(bigHandle, reason uint8) LETerminateBIGComplete {
	return LETerminateBIGComplete{LETerminateBIGCompleteSubCode, bigHandle, reason}
}

func (e LETerminateBIGComplete) Code() uint8    { return LEMetaCode }
func (e LETerminateBIGComplete) Params() []byte { return e }
