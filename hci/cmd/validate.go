package cmd

import (
	"github.com/pkg/errors"
	"github.com/rigado/blell/hci"
)

const (
	AdvIntervalMin = 0x0020
	AdvIntervalMax = 0x4000

	LEScanIntervalMin = 0x0004
	LEScanIntervalMax = 0x4000
	LEScanWindowMin   = 0x0004
	LEScanWindowMax   = 0x4000

	ConnIntervalMin = 0x0006
	ConnIntervalMax = 0x0c80
	ConnLatencyMin  = 0x0000
	ConnLatencyMax  = 0x01f3

	SupervisionTimeoutMin = 0x000a
	SupervisionTimeoutMax = 0x0c80

	SDUIntervalMin      = 0x0000ff
	SDUIntervalMax      = 0x0fffff
	TransportLatencyMin = 0x0005
	TransportLatencyMax = 0x0fa0
	MaxSDULen           = 0x0fff
	MaxCISPerCIG        = 0x1f
	MaxBISPerBIG        = 0x1f
	MaxRTNBIG           = 0x1e
	PHYMask             = 0x07
)

const (
	FramingUnframed uint8 = 0x00
	FramingFramed   uint8 = 0x01
)

func invalid(format string, args ...interface{}) error {
	return errors.Wrapf(hci.ErrInvalidParams, format, args...)
}

func ValidateAdvParams(p LESetAdvertisingParameters) error {
	switch {
	case p.AdvertisingIntervalMin < AdvIntervalMin || p.AdvertisingIntervalMin > AdvIntervalMax:
		return invalid("invalid AdvertisingIntervalMin %v", p.AdvertisingIntervalMin)

	case p.AdvertisingIntervalMax < AdvIntervalMin || p.AdvertisingIntervalMax > AdvIntervalMax:
		return invalid("invalid AdvertisingIntervalMax %v", p.AdvertisingIntervalMax)

	case p.AdvertisingIntervalMin > p.AdvertisingIntervalMax:
		return invalid("AdvertisingIntervalMin %v > AdvertisingIntervalMax %v", p.AdvertisingIntervalMin, p.AdvertisingIntervalMax)

	case p.AdvertisingType > hci.AdvTypeDirectIndLow:
		return invalid("invalid AdvertisingType %v", p.AdvertisingType)

	case p.OwnAddressType != hci.AddressTypePublic && p.OwnAddressType != hci.AddressTypeRandom:
		return invalid("invalid OwnAddressType %v", p.OwnAddressType)

	case p.AdvertisingChannelMap == 0 || p.AdvertisingChannelMap > 0x07:
		return invalid("invalid AdvertisingChannelMap %v", p.AdvertisingChannelMap)

	case p.AdvertisingFilterPolicy > 0x03:
		return invalid("invalid AdvertisingFilterPolicy %v", p.AdvertisingFilterPolicy)
	}

	return nil
}

func ValidateScanParams(p LESetScanParameters) error {
	switch {
	case p.LEScanType != hci.LEScanTypeActive && p.LEScanType != hci.LEScanTypePassive:
		return invalid("invalid LEScanType %v", p.LEScanType)

	case p.LEScanInterval < LEScanIntervalMin || p.LEScanInterval > LEScanIntervalMax:
		return invalid("invalid LEScanInterval %v", p.LEScanInterval)

	case p.LEScanWindow < LEScanWindowMin || p.LEScanWindow > LEScanWindowMax:
		return invalid("invalid LEScanWindow %v", p.LEScanWindow)

	case p.LEScanWindow > p.LEScanInterval:
		return invalid("LEScanWindow %v > LEScanInterval %v", p.LEScanWindow, p.LEScanInterval)

	case p.OwnAddressType != hci.AddressTypePublic && p.OwnAddressType != hci.AddressTypeRandom:
		return invalid("invalid OwnAddressType %v", p.OwnAddressType)

	case p.ScanningFilterPolicy != hci.FilterPolicyAcceptAll && p.ScanningFilterPolicy != hci.FilterPolicyAcceptWhitelist:
		return invalid("invalid ScanningFilterPolicy %v", p.ScanningFilterPolicy)
	}

	return nil
}

// supervisionOK checks Supervision_Timeout * 10ms > (1 + latency) * interval * 1.25ms * 2.
func supervisionOK(timeout, latency, intervalMax uint16) bool {
	return uint32(timeout)*10*4 > (1+uint32(latency))*uint32(intervalMax)*5*2
}

func validateConnTiming(intervalMin, intervalMax, latency, timeout, ceMin, ceMax uint16) error {
	switch {
	case intervalMax < ConnIntervalMin || intervalMax > ConnIntervalMax:
		return invalid("invalid ConnIntervalMax %v", intervalMax)

	case intervalMin < ConnIntervalMin || intervalMin > ConnIntervalMax:
		return invalid("invalid ConnIntervalMin %v", intervalMin)

	case intervalMin > intervalMax:
		return invalid("ConnIntervalMin %v > ConnIntervalMax %v", intervalMin, intervalMax)

	case latency > ConnLatencyMax:
		return invalid("invalid ConnLatency %v", latency)

	case timeout < SupervisionTimeoutMin || timeout > SupervisionTimeoutMax:
		return invalid("invalid SupervisionTimeout %v", timeout)

	case !supervisionOK(timeout, latency, intervalMax):
		return invalid("invalid SupervisionTimeout %v (too small)", timeout)

	case ceMin > ceMax:
		return invalid("MinimumCELength %v > MaximumCELength %v", ceMin, ceMax)
	}
	return nil
}

func ValidateConnParams(p LECreateConnection) error {
	switch {
	case p.LEScanInterval < LEScanIntervalMin || p.LEScanInterval > LEScanIntervalMax:
		return invalid("invalid LEScanInterval %v", p.LEScanInterval)

	case p.LEScanWindow < LEScanWindowMin || p.LEScanWindow > LEScanWindowMax:
		return invalid("invalid LEScanWindow %v", p.LEScanWindow)

	case p.LEScanWindow > p.LEScanInterval:
		return invalid("LEScanWindow %v > LEScanInterval %v", p.LEScanWindow, p.LEScanInterval)

	case p.InitiatorFilterPolicy != hci.FilterPolicyAcceptAll && p.InitiatorFilterPolicy != hci.FilterPolicyAcceptWhitelist:
		return invalid("invalid InitiatorFilterPolicy %v", p.InitiatorFilterPolicy)

	case p.OwnAddressType != hci.AddressTypePublic && p.OwnAddressType != hci.AddressTypeRandom:
		return invalid("invalid OwnAddressType %v", p.OwnAddressType)

	case p.PeerAddressType != hci.AddressTypePublic && p.PeerAddressType != hci.AddressTypeRandom:
		return invalid("invalid PeerAddressType %v", p.PeerAddressType)
	}

	return validateConnTiming(p.ConnIntervalMin, p.ConnIntervalMax, p.ConnLatency,
		p.SupervisionTimeout, p.MinimumCELength, p.MaximumCELength)
}

func ValidateConnUpdateParams(p LEConnectionUpdate) error {
	if p.ConnectionHandle > hci.MaxConnHandle {
		return invalid("invalid ConnectionHandle 0x%04x", p.ConnectionHandle)
	}
	return validateConnTiming(p.ConnIntervalMin, p.ConnIntervalMax, p.ConnLatency,
		p.SupervisionTimeout, p.MinimumCELength, p.MaximumCELength)
}

func validPHY(phy uint8) bool {
	return phy != 0 && phy&^PHYMask == 0
}

func ValidateCIGParams(p LESetCIGParameters) error {
	switch {
	case p.CIGID > 0xef:
		return invalid("invalid CIG_ID %v", p.CIGID)

	case p.SDUIntervalCToP < SDUIntervalMin || p.SDUIntervalCToP > SDUIntervalMax:
		return invalid("invalid SDU_Interval_C_To_P %v", p.SDUIntervalCToP)

	case p.SDUIntervalPToC < SDUIntervalMin || p.SDUIntervalPToC > SDUIntervalMax:
		return invalid("invalid SDU_Interval_P_To_C %v", p.SDUIntervalPToC)

	case p.WorstCaseSCA > 7:
		return invalid("invalid Worst_Case_SCA %v", p.WorstCaseSCA)

	case p.Packing > 1:
		return invalid("invalid Packing %v", p.Packing)

	case p.Framing > FramingFramed:
		return invalid("invalid Framing %v", p.Framing)

	case p.MaxTransportLatencyCToP < TransportLatencyMin || p.MaxTransportLatencyCToP > TransportLatencyMax:
		return invalid("invalid Max_Transport_Latency_C_To_P %v", p.MaxTransportLatencyCToP)

	case p.MaxTransportLatencyPToC < TransportLatencyMin || p.MaxTransportLatencyPToC > TransportLatencyMax:
		return invalid("invalid Max_Transport_Latency_P_To_C %v", p.MaxTransportLatencyPToC)

	case len(p.CIS) == 0 || len(p.CIS) > MaxCISPerCIG:
		return invalid("invalid CIS_Count %v", len(p.CIS))
	}

	for _, c := range p.CIS {
		switch {
		case c.CISID > 0xef:
			return invalid("invalid CIS_ID %v", c.CISID)
		case c.MaxSDUCToP > MaxSDULen || c.MaxSDUPToC > MaxSDULen:
			return invalid("invalid Max_SDU %v/%v on CIS %v", c.MaxSDUCToP, c.MaxSDUPToC, c.CISID)
		case !validPHY(c.PHYCToP) || !validPHY(c.PHYPToC):
			return invalid("invalid PHY %v/%v on CIS %v", c.PHYCToP, c.PHYPToC, c.CISID)
		}
	}
	return nil
}

func ValidateBIGParams(p LECreateBIG) error {
	switch {
	case p.BIGHandle > 0xef:
		return invalid("invalid BIG_Handle %v", p.BIGHandle)

	case p.NumBIS == 0 || p.NumBIS > MaxBISPerBIG:
		return invalid("invalid Num_BIS %v", p.NumBIS)

	case p.SDUInterval < SDUIntervalMin || p.SDUInterval > SDUIntervalMax:
		return invalid("invalid SDU_Interval %v", p.SDUInterval)

	case p.MaxSDU == 0 || p.MaxSDU > MaxSDULen:
		return invalid("invalid Max_SDU %v", p.MaxSDU)

	case p.MaxTransportLatency < TransportLatencyMin || p.MaxTransportLatency > TransportLatencyMax:
		return invalid("invalid Max_Transport_Latency %v", p.MaxTransportLatency)

	case p.RTN > MaxRTNBIG:
		return invalid("invalid RTN %v", p.RTN)

	case !validPHY(p.PHY):
		return invalid("invalid PHY %v", p.PHY)

	case p.Packing > 1:
		return invalid("invalid Packing %v", p.Packing)

	case p.Framing > FramingFramed:
		return invalid("invalid Framing %v", p.Framing)

	case p.Encryption > 1:
		return invalid("invalid Encryption %v", p.Encryption)
	}
	return nil
}
