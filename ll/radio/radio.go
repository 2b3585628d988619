// Package radio is the boundary between the link layer and the radio driver.
// The link layer arms one event at a time; the driver reports back once the
// event is over.
package radio

import (
	"github.com/rigado/blell/ll/sched"
)

// ISOPDU is one isochronous PDU of a stream.
type ISOPDU struct {
	LLID    uint8
	Payload []byte
	OK      bool // false when the PDU was missed or failed its CRC
}

// ISOStream carries the PDUs of one CIS or BIS within an event.
type ISOStream struct {
	AccessAddr uint32
	Handle     uint16
	Channels   []uint8 // one per subevent
	PDUs       []ISOPDU
}

// Request programs one radio event.
type Request struct {
	sched.Event

	// PDU is transmitted at Start. When RxFirst is set the radio listens
	// first and sends what Reply builds from the received PDU, T_IFS after
	// it. Reply runs in the driver's context and must not touch link state.
	PDU     []byte
	RxFirst bool
	Reply   func(rx []byte) []byte

	// AutoRsp is sent T_IFS after a received PDU the hardware filter
	// accepts: SCAN_RSP for an advertiser, SCAN_REQ for an active scanner,
	// CONNECT_IND for an initiator.
	AutoRsp []byte

	// Filter restricts AutoRsp to PDUs from this address (wire order).
	Filter    [6]byte
	UseFilter bool

	// ISO streams transmitted in the event.
	ISO []ISOStream
}

// Completion reports the outcome of an armed event.
type Completion struct {
	Event sched.Event

	// Received is set when a PDU passed its CRC. RxTime is the tick at which
	// its access address was detected.
	Received bool
	RxTime   uint32
	PDU      []byte
	RSSI     int8
	CRCError bool

	// RspPDU is a response that followed AutoRsp, such as the SCAN_RSP to
	// an active scanner's SCAN_REQ.
	RspPDU []byte

	// AutoRspSent reports that AutoRsp went on air.
	AutoRspSent bool

	// ISO streams received in the event.
	ISO []ISOStream

	// End is the tick at which the radio went idle.
	End uint32
}

// Radio is the radio driver as seen by the link layer.
type Radio interface {
	// Arm programs req. done is called exactly once with the outcome unless
	// the event is cancelled with Disable first.
	Arm(req Request, done func(Completion)) error

	// Disable stops the armed event, if any.
	Disable()
}
