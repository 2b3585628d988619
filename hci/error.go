package hci

import (
	"github.com/pkg/errors"
)

// HCI Command Errors [Vol 1, Part F, 1.3]
const (
	ErrUnknownCommand      ErrCommand = 0x01 // Unknown HCI Command
	ErrConnID              ErrCommand = 0x02 // Unknown Connection Identifier
	ErrHardware            ErrCommand = 0x03 // Hardware Failure
	ErrMemoryCapacity      ErrCommand = 0x07 // Memory Capacity Exceeded
	ErrConnTimeout         ErrCommand = 0x08 // Connection Timeout
	ErrConnLimit           ErrCommand = 0x09 // Connection Limit Exceeded
	ErrACLConnExists       ErrCommand = 0x0B // ACL Connection Already Exists
	ErrDisallowed          ErrCommand = 0x0C // Command Disallowed
	ErrLimitedResource     ErrCommand = 0x0D // Connection Rejected due to Limited Resources
	ErrUnsupportedParams   ErrCommand = 0x11 // Unsupported Feature or Parameter Value
	ErrInvalidParams       ErrCommand = 0x12 // Invalid HCI Command Parameters
	ErrRemoteUser          ErrCommand = 0x13 // Remote User Terminated Connection
	ErrLocalHost           ErrCommand = 0x16 // Connection Terminated By Local Host
	ErrInvalidLLParams     ErrCommand = 0x1E // Invalid LMP Parameters / Invalid LL Parameters
	ErrUnspecified         ErrCommand = 0x1F // Unspecified Error
	ErrUnsupportedLLParams ErrCommand = 0x20 // Unsupported LMP Parameter Value / Unsupported LL Parameter Value
	ErrLLResponseTimeout   ErrCommand = 0x22 // LMP Response Timeout / LL Response Timeout
	ErrInstantPassed       ErrCommand = 0x28 // Instant Passed
	ErrOutOfRange          ErrCommand = 0x30 // Parameter Out Of Mandatory Range
	ErrControllerBusy      ErrCommand = 0x3A // Controller Busy
	ErrConnParams          ErrCommand = 0x3B // Unacceptable Connection Parameters
	ErrAdvTimeout          ErrCommand = 0x3C // Advertising Timeout
	ErrMIC                 ErrCommand = 0x3D // Connection Terminated due to MIC Failure
	ErrEstablished         ErrCommand = 0x3E // Connection Failed to be Established
	ErrUnknownAdvID        ErrCommand = 0x42 // Unknown Advertising Identifier
	ErrLimitReached        ErrCommand = 0x43 // Limit Reached
	ErrCancelledByHost     ErrCommand = 0x44 // Operation Cancelled by Host
)

// ErrCommand is an HCI status code [Vol 1, Part F, 1.3]. The zero value is
// success and is never returned as an error.
type ErrCommand byte

func (e ErrCommand) Error() string {
	if s, ok := errCmd[e]; ok {
		return s
	}
	// A Host shall consider any error code that it does not explicitly
	// understand equivalent to the "Unspecified Error (0x1F)".
	return errCmd[0x1F]
}

// StatusOf maps an error returned by the link layer to the status octet of a
// Command Complete, Command Status or completion event.
func StatusOf(err error) uint8 {
	if err == nil {
		return 0x00
	}
	if e, ok := errors.Cause(err).(ErrCommand); ok {
		return uint8(e)
	}
	return uint8(ErrUnspecified)
}

var errCmd = map[ErrCommand]string{
	0x00: "Success",
	0x01: "Unknown HCI Command",
	0x02: "Unknown Connection Identifier",
	0x03: "Hardware Failure",
	0x04: "Page Timeout",
	0x05: "Authentication Failure",
	0x06: "PIN or Key Missing",
	0x07: "Memory Capacity Exceeded",
	0x08: "Connection Timeout",
	0x09: "Connection Limit Exceeded",
	0x0A: "Synchronous Connection Limit To A Device Exceeded",
	0x0B: "ACL Connection Already Exists",
	0x0C: "Command Disallowed",
	0x0D: "Connection Rejected due to Limited Resources",
	0x0E: "Connection Rejected Due To Security Reasons",
	0x0F: "Connection Rejected due to Unacceptable BD_ADDR",
	0x10: "Connection Accept Timeout Exceeded",
	0x11: "Unsupported Feature or Parameter Value",
	0x12: "Invalid HCI Command Parameters",
	0x13: "Remote User Terminated Connection",
	0x14: "Remote Device Terminated Connection due to Low Resources",
	0x15: "Remote Device Terminated Connection due to Power Off",
	0x16: "Connection Terminated By Local Host",
	0x17: "Repeated Attempts",
	0x18: "Pairing Not Allowed",
	0x19: "Unknown LMP PDU",
	0x1A: "Unsupported Remote Feature / Unsupported LMP Feature",
	0x1E: "Invalid LMP Parameters / Invalid LL Parameters",
	0x1F: "Unspecified Error",
	0x20: "Unsupported LMP Parameter Value / Unsupported LL Parameter Value",
	0x21: "Role Change Not Allowed",
	0x22: "LMP Response Timeout / LL Response Timeout",
	0x23: "LMP Error Transaction Collision",
	0x24: "LMP PDU Not Allowed",
	0x28: "Instant Passed",
	0x2A: "Different Transaction Collision",
	0x2E: "Channel Classification Not Supported",
	0x30: "Parameter Out Of Mandatory Range",
	0x3A: "Controller Busy",
	0x3B: "Unacceptable Connection Parameters",
	0x3C: "Advertising Timeout",
	0x3D: "Connection Terminated due to MIC Failure",
	0x3E: "Connection Failed to be Established",
	0x42: "Unknown Advertising Identifier",
	0x43: "Limit Reached",
	0x44: "Operation Cancelled by Host",
}
