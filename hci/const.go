// Package hci holds the constants and packet formats shared by the command
// dispatch surface, the transports and the link layer.
package hci

import "fmt"

// HCI Packet types [Vol 4, Part A, 2]
const (
	PktTypeCommand uint8 = 0x01
	PktTypeACLData uint8 = 0x02
	PktTypeSCOData uint8 = 0x03
	PktTypeEvent   uint8 = 0x04
	PktTypeISOData uint8 = 0x05
	PktTypeVendor  uint8 = 0xFF
)

// Opcode group fields.
const (
	OGFLinkCtl        = 0x01
	OGFHostCtl        = 0x03
	OGFInfoParam      = 0x04
	OGFLECtl          = 0x08
	OGFVendorSpecific = 0x3F

	ogfBitShift = 10
)

// OpCode composes an opcode from its group and command fields.
func OpCode(ogf, ocf uint16) uint16 {
	return ogf<<ogfBitShift | ocf&0x3ff
}

// OpCodeString renders an opcode as (ogf|ocf).
func OpCodeString(op uint16) string {
	return fmt.Sprintf("(0x%02x|0x%04x)", op>>ogfBitShift, op&0x3ff)
}

// Max parameter length of a command packet.
const MaxCommandParams = 255

const (
	AddressTypePublic = 0x00
	AddressTypeRandom = 0x01
)

// Roles reported in LE Connection Complete.
const (
	RoleCentral    = 0x00
	RolePeripheral = 0x01
)

// Advertising types of LE Set Advertising Parameters.
const (
	AdvTypeInd           = 0x00
	AdvTypeDirectIndHigh = 0x01
	AdvTypeScanInd       = 0x02
	AdvTypeNonconnInd    = 0x03
	AdvTypeDirectIndLow  = 0x04
)

// Event types of LE Advertising Report.
const (
	EvtTypAdvInd        = 0x00
	EvtTypAdvDirectInd  = 0x01
	EvtTypAdvScanInd    = 0x02
	EvtTypAdvNonconnInd = 0x03
	EvtTypScanRsp       = 0x04
)

const (
	FilterPolicyAcceptAll       = 0x00
	FilterPolicyAcceptWhitelist = 0x01
	LEScanTypePassive           = 0x00
	LEScanTypeActive            = 0x01
)

// Connection handles above this are reserved.
const MaxConnHandle = 0x0EFF
