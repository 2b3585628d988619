package cmd

import "encoding/binary"

// Disconnect implements Disconnect (0x01|0x0006) [Vol 4, Part E, 7.1.6]
type Disconnect struct {
	ConnectionHandle uint16
	Reason           uint8
}

func (c *Disconnect) String() string {
	return "Disconnect (0x01|0x0006)"
}

// OpCode returns the opcode of the command.
func (c *Disconnect) OpCode() uint16 { return 0x01<<10 | 0x0006 }

// Len returns the length of the command.
func (c *Disconnect) Len() int { return 3 }

// Marshal serializes the command parameters into binary form.
func (c *Disconnect) Marshal(b []byte) error { return marshal(c, b) }

// Unmarshal de-serializes the binary data and stores the result in the receiver.
func (c *Disconnect) Unmarshal(b []byte) error { return unmarshal(c, b) }

// SetEventMask implements Set Event Mask (0x03|0x0001) [Vol 4, Part E, 7.3.1]
type SetEventMask struct {
	EventMask uint64
}

func (c *SetEventMask) String() string {
	return "Set Event Mask (0x03|0x0001)"
}

func (c *SetEventMask) OpCode() uint16           { return 0x03<<10 | 0x0001 }
func (c *SetEventMask) Len() int                 { return 8 }
func (c *SetEventMask) Marshal(b []byte) error   { return marshal(c, b) }
func (c *SetEventMask) Unmarshal(b []byte) error { return unmarshal(c, b) }

// Reset implements Reset (0x03|0x0003) [Vol 4, Part E, 7.3.2]
type Reset struct{}

func (c *Reset) String() string {
	return "Reset (0x03|0x0003)"
}

func (c *Reset) OpCode() uint16           { return 0x03<<10 | 0x0003 }
func (c *Reset) Len() int                 { return 0 }
func (c *Reset) Marshal(b []byte) error   { return nil }
func (c *Reset) Unmarshal(b []byte) error { return unmarshal(c, b) }

// ReadLocalVersionInformation implements Read Local Version Information (0x04|0x0001) [Vol 4, Part E, 7.4.1]
type ReadLocalVersionInformation struct{}

func (c *ReadLocalVersionInformation) String() string {
	return "Read Local Version Information (0x04|0x0001)"
}

func (c *ReadLocalVersionInformation) OpCode() uint16           { return 0x04<<10 | 0x0001 }
func (c *ReadLocalVersionInformation) Len() int                 { return 0 }
func (c *ReadLocalVersionInformation) Marshal(b []byte) error   { return nil }
func (c *ReadLocalVersionInformation) Unmarshal(b []byte) error { return unmarshal(c, b) }

// ReadLocalVersionInformationRP returns the return parameter of Read Local Version Information
type ReadLocalVersionInformationRP struct {
	Status           uint8
	HCIVersion       uint8
	HCIRevision      uint16
	LMPPALVersion    uint8
	ManufacturerName uint16
	LMPPALSubversion uint16
}

func (c *ReadLocalVersionInformationRP) Marshal() []byte          { return marshalRP(c) }
func (c *ReadLocalVersionInformationRP) Unmarshal(b []byte) error { return unmarshalRP(c, b) }

// ReadBDADDR implements Read BD_ADDR (0x04|0x0009) [Vol 4, Part E, 7.4.6]
type ReadBDADDR struct{}

func (c *ReadBDADDR) String() string {
	return "Read BD_ADDR (0x04|0x0009)"
}

func (c *ReadBDADDR) OpCode() uint16           { return 0x04<<10 | 0x0009 }
func (c *ReadBDADDR) Len() int                 { return 0 }
func (c *ReadBDADDR) Marshal(b []byte) error   { return nil }
func (c *ReadBDADDR) Unmarshal(b []byte) error { return unmarshal(c, b) }

// ReadBDADDRRP returns the return parameter of Read BD_ADDR
type ReadBDADDRRP struct {
	Status uint8
	BDADDR [6]byte
}

func (c *ReadBDADDRRP) Marshal() []byte          { return marshalRP(c) }
func (c *ReadBDADDRRP) Unmarshal(b []byte) error { return unmarshalRP(c, b) }

// LESetEventMask implements LE Set Event Mask (0x08|0x0001) [Vol 4, Part E, 7.8.1]
type LESetEventMask struct {
	LEEventMask uint64
}

func (c *LESetEventMask) String() string {
	return "LE Set Event Mask (0x08|0x0001)"
}

func (c *LESetEventMask) OpCode() uint16           { return 0x08<<10 | 0x0001 }
func (c *LESetEventMask) Len() int                 { return 8 }
func (c *LESetEventMask) Marshal(b []byte) error   { return marshal(c, b) }
func (c *LESetEventMask) Unmarshal(b []byte) error { return unmarshal(c, b) }

// LEReadBufferSize implements LE Read Buffer Size (0x08|0x0002) [Vol 4, Part E, 7.8.2]
type LEReadBufferSize struct{}

func (c *LEReadBufferSize) String() string {
	return "LE Read Buffer Size (0x08|0x0002)"
}

func (c *LEReadBufferSize) OpCode() uint16           { return 0x08<<10 | 0x0002 }
func (c *LEReadBufferSize) Len() int                 { return 0 }
func (c *LEReadBufferSize) Marshal(b []byte) error   { return nil }
func (c *LEReadBufferSize) Unmarshal(b []byte) error { return unmarshal(c, b) }

// LEReadBufferSizeRP returns the return parameter of LE Read Buffer Size
type LEReadBufferSizeRP struct {
	Status                     uint8
	HCLEACLDataPacketLength    uint16
	HCTotalNumLEACLDataPackets uint8
}

func (c *LEReadBufferSizeRP) Marshal() []byte          { return marshalRP(c) }
func (c *LEReadBufferSizeRP) Unmarshal(b []byte) error { return unmarshalRP(c, b) }

// LESetRandomAddress implements LE Set Random Address (0x08|0x0005) [Vol 4, Part E, 7.8.4]
type LESetRandomAddress struct {
	RandomAddress [6]byte
}

func (c *LESetRandomAddress) String() string {
	return "LE Set Random Address (0x08|0x0005)"
}

func (c *LESetRandomAddress) OpCode() uint16           { return 0x08<<10 | 0x0005 }
func (c *LESetRandomAddress) Len() int                 { return 6 }
func (c *LESetRandomAddress) Marshal(b []byte) error   { return marshal(c, b) }
func (c *LESetRandomAddress) Unmarshal(b []byte) error { return unmarshal(c, b) }

// LESetAdvertisingParameters implements LE Set Advertising Parameters (0x08|0x0006) [Vol 4, Part E, 7.8.5]
type LESetAdvertisingParameters struct {
	AdvertisingIntervalMin  uint16
	AdvertisingIntervalMax  uint16
	AdvertisingType         uint8
	OwnAddressType          uint8
	DirectAddressType       uint8
	DirectAddress           [6]byte
	AdvertisingChannelMap   uint8
	AdvertisingFilterPolicy uint8
}

func (c *LESetAdvertisingParameters) String() string {
	return "LE Set Advertising Parameters (0x08|0x0006)"
}

func (c *LESetAdvertisingParameters) OpCode() uint16           { return 0x08<<10 | 0x0006 }
func (c *LESetAdvertisingParameters) Len() int                 { return 15 }
func (c *LESetAdvertisingParameters) Marshal(b []byte) error   { return marshal(c, b) }
func (c *LESetAdvertisingParameters) Unmarshal(b []byte) error { return unmarshal(c, b) }

// LESetAdvertisingData implements LE Set Advertising Data (0x08|0x0008) [Vol 4, Part E, 7.8.7]
type LESetAdvertisingData struct {
	AdvertisingDataLength uint8
	AdvertisingData       [31]byte
}

func (c *LESetAdvertisingData) String() string {
	return "LE Set Advertising Data (0x08|0x0008)"
}

func (c *LESetAdvertisingData) OpCode() uint16           { return 0x08<<10 | 0x0008 }
func (c *LESetAdvertisingData) Len() int                 { return 32 }
func (c *LESetAdvertisingData) Marshal(b []byte) error   { return marshal(c, b) }
func (c *LESetAdvertisingData) Unmarshal(b []byte) error { return unmarshal(c, b) }

// LESetScanResponseData implements LE Set Scan Response Data (0x08|0x0009) [Vol 4, Part E, 7.8.8]
type LESetScanResponseData struct {
	ScanResponseDataLength uint8
	ScanResponseData       [31]byte
}

func (c *LESetScanResponseData) String() string {
	return "LE Set Scan Response Data (0x08|0x0009)"
}

func (c *LESetScanResponseData) OpCode() uint16           { return 0x08<<10 | 0x0009 }
func (c *LESetScanResponseData) Len() int                 { return 32 }
func (c *LESetScanResponseData) Marshal(b []byte) error   { return marshal(c, b) }
func (c *LESetScanResponseData) Unmarshal(b []byte) error { return unmarshal(c, b) }

// LESetAdvertiseEnable implements LE Set Advertise Enable (0x08|0x000A) [Vol 4, Part E, 7.8.9]
type LESetAdvertiseEnable struct {
	AdvertisingEnable uint8
}

func (c *LESetAdvertiseEnable) String() string {
	return "LE Set Advertise Enable (0x08|0x000A)"
}

func (c *LESetAdvertiseEnable) OpCode() uint16           { return 0x08<<10 | 0x000A }
func (c *LESetAdvertiseEnable) Len() int                 { return 1 }
func (c *LESetAdvertiseEnable) Marshal(b []byte) error   { return marshal(c, b) }
func (c *LESetAdvertiseEnable) Unmarshal(b []byte) error { return unmarshal(c, b) }

// LESetScanParameters implements LE Set Scan Parameters (0x08|0x000B) [Vol 4, Part E, 7.8.10]
type LESetScanParameters struct {
	LEScanType           uint8
	LEScanInterval       uint16
	LEScanWindow         uint16
	OwnAddressType       uint8
	ScanningFilterPolicy uint8
}

func (c *LESetScanParameters) String() string {
	return "LE Set Scan Parameters (0x08|0x000B)"
}

func (c *LESetScanParameters) OpCode() uint16           { return 0x08<<10 | 0x000B }
func (c *LESetScanParameters) Len() int                 { return 7 }
func (c *LESetScanParameters) Marshal(b []byte) error   { return marshal(c, b) }
func (c *LESetScanParameters) Unmarshal(b []byte) error { return unmarshal(c, b) }

// LESetScanEnable implements LE Set Scan Enable (0x08|0x000C) [Vol 4, Part E, 7.8.11]
type LESetScanEnable struct {
	LEScanEnable     uint8
	FilterDuplicates uint8
}

func (c *LESetScanEnable) String() string {
	return "LE Set Scan Enable (0x08|0x000C)"
}

func (c *LESetScanEnable) OpCode() uint16           { return 0x08<<10 | 0x000C }
func (c *LESetScanEnable) Len() int                 { return 2 }
func (c *LESetScanEnable) Marshal(b []byte) error   { return marshal(c, b) }
func (c *LESetScanEnable) Unmarshal(b []byte) error { return unmarshal(c, b) }

// LECreateConnection implements LE Create Connection (0x08|0x000D) [Vol 4, Part E, 7.8.12]
type LECreateConnection struct {
	LEScanInterval        uint16
	LEScanWindow          uint16
	InitiatorFilterPolicy uint8
	PeerAddressType       uint8
	PeerAddress           [6]byte
	OwnAddressType        uint8
	ConnIntervalMin       uint16
	ConnIntervalMax       uint16
	ConnLatency           uint16
	SupervisionTimeout    uint16
	MinimumCELength       uint16
	MaximumCELength       uint16
}

func (c *LECreateConnection) String() string {
	return "LE Create Connection (0x08|0x000D)"
}

func (c *LECreateConnection) OpCode() uint16           { return 0x08<<10 | 0x000D }
func (c *LECreateConnection) Len() int                 { return 25 }
func (c *LECreateConnection) Marshal(b []byte) error   { return marshal(c, b) }
func (c *LECreateConnection) Unmarshal(b []byte) error { return unmarshal(c, b) }

// LECreateConnectionCancel implements LE Create Connection Cancel (0x08|0x000E) [Vol 4, Part E, 7.8.13]
type LECreateConnectionCancel struct{}

func (c *LECreateConnectionCancel) String() string {
	return "LE Create Connection Cancel (0x08|0x000E)"
}

func (c *LECreateConnectionCancel) OpCode() uint16           { return 0x08<<10 | 0x000E }
func (c *LECreateConnectionCancel) Len() int                 { return 0 }
func (c *LECreateConnectionCancel) Marshal(b []byte) error   { return nil }
func (c *LECreateConnectionCancel) Unmarshal(b []byte) error { return unmarshal(c, b) }

// LEConnectionUpdate implements LE Connection Update (0x08|0x0013) [Vol 4, Part E, 7.8.18]
type LEConnectionUpdate struct {
	ConnectionHandle   uint16
	ConnIntervalMin    uint16
	ConnIntervalMax    uint16
	ConnLatency        uint16
	SupervisionTimeout uint16
	MinimumCELength    uint16
	MaximumCELength    uint16
}

func (c *LEConnectionUpdate) String() string {
	return "LE Connection Update (0x08|0x0013)"
}

func (c *LEConnectionUpdate) OpCode() uint16           { return 0x08<<10 | 0x0013 }
func (c *LEConnectionUpdate) Len() int                 { return 14 }
func (c *LEConnectionUpdate) Marshal(b []byte) error   { return marshal(c, b) }
func (c *LEConnectionUpdate) Unmarshal(b []byte) error { return unmarshal(c, b) }

// LESetHostChannelClassification implements LE Set Host Channel Classification (0x08|0x0014) [Vol 4, Part E, 7.8.19]
type LESetHostChannelClassification struct {
	ChannelMap [5]byte
}

func (c *LESetHostChannelClassification) String() string {
	return "LE Set Host Channel Classification (0x08|0x0014)"
}

func (c *LESetHostChannelClassification) OpCode() uint16           { return 0x08<<10 | 0x0014 }
func (c *LESetHostChannelClassification) Len() int                 { return 5 }
func (c *LESetHostChannelClassification) Marshal(b []byte) error   { return marshal(c, b) }
func (c *LESetHostChannelClassification) Unmarshal(b []byte) error { return unmarshal(c, b) }

// LEReadChannelMap implements LE Read Channel Map (0x08|0x0015) [Vol 4, Part E, 7.8.20]
type LEReadChannelMap struct {
	ConnectionHandle uint16
}

func (c *LEReadChannelMap) String() string {
	return "LE Read Channel Map (0x08|0x0015)"
}

func (c *LEReadChannelMap) OpCode() uint16           { return 0x08<<10 | 0x0015 }
func (c *LEReadChannelMap) Len() int                 { return 2 }
func (c *LEReadChannelMap) Marshal(b []byte) error   { return marshal(c, b) }
func (c *LEReadChannelMap) Unmarshal(b []byte) error { return unmarshal(c, b) }

// LEReadChannelMapRP returns the return parameter of LE Read Channel Map
type LEReadChannelMapRP struct {
	Status           uint8
	ConnectionHandle uint16
	ChannelMap       [5]byte
}

func (c *LEReadChannelMapRP) Marshal() []byte          { return marshalRP(c) }
func (c *LEReadChannelMapRP) Unmarshal(b []byte) error { return unmarshalRP(c, b) }

// CISParams is one entry of LE Set CIG Parameters.
type CISParams struct {
	CISID      uint8
	MaxSDUCToP uint16
	MaxSDUPToC uint16
	PHYCToP    uint8
	PHYPToC    uint8
	RTNCToP    uint8
	RTNPToC    uint8
}

const (
	cigHdrLen   = 15
	cisParamLen = 9
)

// LESetCIGParameters implements LE Set CIG Parameters (0x08|0x0062) [Vol 4, Part E, 7.8.97]
type LESetCIGParameters struct {
	CIGID                   uint8
	SDUIntervalCToP         uint32 // 24 bits, µs
	SDUIntervalPToC         uint32 // 24 bits, µs
	WorstCaseSCA            uint8
	Packing                 uint8
	Framing                 uint8
	MaxTransportLatencyCToP uint16
	MaxTransportLatencyPToC uint16
	CIS                     []CISParams
}

func (c *LESetCIGParameters) String() string {
	return "LE Set CIG Parameters (0x08|0x0062)"
}

func (c *LESetCIGParameters) OpCode() uint16 { return 0x08<<10 | 0x0062 }
func (c *LESetCIGParameters) Len() int       { return cigHdrLen + cisParamLen*len(c.CIS) }

func (c *LESetCIGParameters) Marshal(b []byte) error {
	if len(b) < c.Len() {
		return ErrLength
	}
	b[0] = c.CIGID
	put24(b[1:], c.SDUIntervalCToP)
	put24(b[4:], c.SDUIntervalPToC)
	b[7] = c.WorstCaseSCA
	b[8] = c.Packing
	b[9] = c.Framing
	binary.LittleEndian.PutUint16(b[10:], c.MaxTransportLatencyCToP)
	binary.LittleEndian.PutUint16(b[12:], c.MaxTransportLatencyPToC)
	b[14] = uint8(len(c.CIS))
	for i, p := range c.CIS {
		o := b[cigHdrLen+i*cisParamLen:]
		o[0] = p.CISID
		binary.LittleEndian.PutUint16(o[1:], p.MaxSDUCToP)
		binary.LittleEndian.PutUint16(o[3:], p.MaxSDUPToC)
		o[5] = p.PHYCToP
		o[6] = p.PHYPToC
		o[7] = p.RTNCToP
		o[8] = p.RTNPToC
	}
	return nil
}

func (c *LESetCIGParameters) Unmarshal(b []byte) error {
	if len(b) < cigHdrLen || len(b) != cigHdrLen+cisParamLen*int(b[14]) {
		return ErrLength
	}
	c.CIGID = b[0]
	c.SDUIntervalCToP = get24(b[1:])
	c.SDUIntervalPToC = get24(b[4:])
	c.WorstCaseSCA = b[7]
	c.Packing = b[8]
	c.Framing = b[9]
	c.MaxTransportLatencyCToP = binary.LittleEndian.Uint16(b[10:])
	c.MaxTransportLatencyPToC = binary.LittleEndian.Uint16(b[12:])
	c.CIS = make([]CISParams, b[14])
	for i := range c.CIS {
		o := b[cigHdrLen+i*cisParamLen:]
		c.CIS[i] = CISParams{
			CISID:      o[0],
			MaxSDUCToP: binary.LittleEndian.Uint16(o[1:]),
			MaxSDUPToC: binary.LittleEndian.Uint16(o[3:]),
			PHYCToP:    o[5],
			PHYPToC:    o[6],
			RTNCToP:    o[7],
			RTNPToC:    o[8],
		}
	}
	return nil
}

// LESetCIGParametersRP returns the return parameter of LE Set CIG Parameters
type LESetCIGParametersRP struct {
	Status            uint8
	CIGID             uint8
	ConnectionHandles []uint16
}

func (c *LESetCIGParametersRP) Marshal() []byte {
	b := make([]byte, 3+2*len(c.ConnectionHandles))
	b[0] = c.Status
	b[1] = c.CIGID
	b[2] = uint8(len(c.ConnectionHandles))
	for i, h := range c.ConnectionHandles {
		binary.LittleEndian.PutUint16(b[3+2*i:], h)
	}
	return b
}

func (c *LESetCIGParametersRP) Unmarshal(b []byte) error {
	if len(b) < 3 || len(b) != 3+2*int(b[2]) {
		return ErrLength
	}
	c.Status = b[0]
	c.CIGID = b[1]
	c.ConnectionHandles = make([]uint16, b[2])
	for i := range c.ConnectionHandles {
		c.ConnectionHandles[i] = binary.LittleEndian.Uint16(b[3+2*i:])
	}
	return nil
}

// CISPair binds a CIS handle to the ACL it is created on.
type CISPair struct {
	CISHandle uint16
	ACLHandle uint16
}

// LECreateCIS implements LE Create CIS (0x08|0x0064) [Vol 4, Part E, 7.8.99]
type LECreateCIS struct {
	CIS []CISPair
}

func (c *LECreateCIS) String() string {
	return "LE Create CIS (0x08|0x0064)"
}

func (c *LECreateCIS) OpCode() uint16 { return 0x08<<10 | 0x0064 }
func (c *LECreateCIS) Len() int       { return 1 + 4*len(c.CIS) }

func (c *LECreateCIS) Marshal(b []byte) error {
	if len(b) < c.Len() {
		return ErrLength
	}
	b[0] = uint8(len(c.CIS))
	for i, p := range c.CIS {
		binary.LittleEndian.PutUint16(b[1+4*i:], p.CISHandle)
		binary.LittleEndian.PutUint16(b[3+4*i:], p.ACLHandle)
	}
	return nil
}

func (c *LECreateCIS) Unmarshal(b []byte) error {
	if len(b) < 1 || len(b) != 1+4*int(b[0]) {
		return ErrLength
	}
	c.CIS = make([]CISPair, b[0])
	for i := range c.CIS {
		c.CIS[i].CISHandle = binary.LittleEndian.Uint16(b[1+4*i:])
		c.CIS[i].ACLHandle = binary.LittleEndian.Uint16(b[3+4*i:])
	}
	return nil
}

// LERemoveCIG implements LE Remove CIG (0x08|0x0065) [Vol 4, Part E, 7.8.100]
type LERemoveCIG struct {
	CIGID uint8
}

func (c *LERemoveCIG) String() string {
	return "LE Remove CIG (0x08|0x0065)"
}

func (c *LERemoveCIG) OpCode() uint16           { return 0x08<<10 | 0x0065 }
func (c *LERemoveCIG) Len() int                 { return 1 }
func (c *LERemoveCIG) Marshal(b []byte) error   { return marshal(c, b) }
func (c *LERemoveCIG) Unmarshal(b []byte) error { return unmarshal(c, b) }

// LERemoveCIGRP returns the return parameter of LE Remove CIG
type LERemoveCIGRP struct {
	Status uint8
	CIGID  uint8
}

func (c *LERemoveCIGRP) Marshal() []byte          { return marshalRP(c) }
func (c *LERemoveCIGRP) Unmarshal(b []byte) error { return unmarshalRP(c, b) }

// LECreateBIG implements LE Create BIG (0x08|0x0068) [Vol 4, Part E, 7.8.103]
type LECreateBIG struct {
	BIGHandle           uint8
	AdvertisingHandle   uint8
	NumBIS              uint8
	SDUInterval         uint32 // 24 bits, µs
	MaxSDU              uint16
	MaxTransportLatency uint16
	RTN                 uint8
	PHY                 uint8
	Packing             uint8
	Framing             uint8
	Encryption          uint8
	BroadcastCode       [16]byte
}

func (c *LECreateBIG) String() string {
	return "LE Create BIG (0x08|0x0068)"
}

func (c *LECreateBIG) OpCode() uint16 { return 0x08<<10 | 0x0068 }
func (c *LECreateBIG) Len() int       { return 31 }

func (c *LECreateBIG) Marshal(b []byte) error {
	if len(b) < c.Len() {
		return ErrLength
	}
	b[0] = c.BIGHandle
	b[1] = c.AdvertisingHandle
	b[2] = c.NumBIS
	put24(b[3:], c.SDUInterval)
	binary.LittleEndian.PutUint16(b[6:], c.MaxSDU)
	binary.LittleEndian.PutUint16(b[8:], c.MaxTransportLatency)
	b[10] = c.RTN
	b[11] = c.PHY
	b[12] = c.Packing
	b[13] = c.Framing
	b[14] = c.Encryption
	copy(b[15:31], c.BroadcastCode[:])
	return nil
}

func (c *LECreateBIG) Unmarshal(b []byte) error {
	if len(b) != c.Len() {
		return ErrLength
	}
	c.BIGHandle = b[0]
	c.AdvertisingHandle = b[1]
	c.NumBIS = b[2]
	c.SDUInterval = get24(b[3:])
	c.MaxSDU = binary.LittleEndian.Uint16(b[6:])
	c.MaxTransportLatency = binary.LittleEndian.Uint16(b[8:])
	c.RTN = b[10]
	c.PHY = b[11]
	c.Packing = b[12]
	c.Framing = b[13]
	c.Encryption = b[14]
	copy(c.BroadcastCode[:], b[15:31])
	return nil
}

// LETerminateBIG implements LE Terminate BIG (0x08|0x006A) [Vol 4, Part E, 7.8.105]
type LETerminateBIG struct {
	BIGHandle uint8
	Reason    uint8
}

func (c *LETerminateBIG) String() string {
	return "LE Terminate BIG (0x08|0x006A)"
}

func (c *LETerminateBIG) OpCode() uint16           { return 0x08<<10 | 0x006A }
func (c *LETerminateBIG) Len() int                 { return 2 }
func (c *LETerminateBIG) Marshal(b []byte) error   { return marshal(c, b) }
func (c *LETerminateBIG) Unmarshal(b []byte) error { return unmarshal(c, b) }

// LEISOTransmitTest implements LE ISO Transmit Test (0x08|0x0070) [Vol 4, Part E, 7.8.111]
type LEISOTransmitTest struct {
	ConnectionHandle uint16
	PayloadType      uint8
}

func (c *LEISOTransmitTest) String() string {
	return "LE ISO Transmit Test (0x08|0x0070)"
}

func (c *LEISOTransmitTest) OpCode() uint16           { return 0x08<<10 | 0x0070 }
func (c *LEISOTransmitTest) Len() int                 { return 3 }
func (c *LEISOTransmitTest) Marshal(b []byte) error   { return marshal(c, b) }
func (c *LEISOTransmitTest) Unmarshal(b []byte) error { return unmarshal(c, b) }

// LEISOReceiveTest implements LE ISO Receive Test (0x08|0x0071) [Vol 4, Part E, 7.8.112]
type LEISOReceiveTest struct {
	ConnectionHandle uint16
	PayloadType      uint8
}

func (c *LEISOReceiveTest) String() string {
	return "LE ISO Receive Test (0x08|0x0071)"
}

func (c *LEISOReceiveTest) OpCode() uint16           { return 0x08<<10 | 0x0071 }
func (c *LEISOReceiveTest) Len() int                 { return 3 }
func (c *LEISOReceiveTest) Marshal(b []byte) error   { return marshal(c, b) }
func (c *LEISOReceiveTest) Unmarshal(b []byte) error { return unmarshal(c, b) }

// ISOTestRP is the return parameter of LE ISO Transmit Test and LE ISO Receive Test.
type ISOTestRP struct {
	Status           uint8
	ConnectionHandle uint16
}

func (c *ISOTestRP) Marshal() []byte          { return marshalRP(c) }
func (c *ISOTestRP) Unmarshal(b []byte) error { return unmarshalRP(c, b) }

// LEISOReadTestCounters implements LE ISO Read Test Counters (0x08|0x0072) [Vol 4, Part E, 7.8.113]
type LEISOReadTestCounters struct {
	ConnectionHandle uint16
}

func (c *LEISOReadTestCounters) String() string {
	return "LE ISO Read Test Counters (0x08|0x0072)"
}

func (c *LEISOReadTestCounters) OpCode() uint16           { return 0x08<<10 | 0x0072 }
func (c *LEISOReadTestCounters) Len() int                 { return 2 }
func (c *LEISOReadTestCounters) Marshal(b []byte) error   { return marshal(c, b) }
func (c *LEISOReadTestCounters) Unmarshal(b []byte) error { return unmarshal(c, b) }

// LEISOTestEnd implements LE ISO Test End (0x08|0x0073) [Vol 4, Part E, 7.8.114]
type LEISOTestEnd struct {
	ConnectionHandle uint16
}

func (c *LEISOTestEnd) String() string {
	return "LE ISO Test End (0x08|0x0073)"
}

func (c *LEISOTestEnd) OpCode() uint16           { return 0x08<<10 | 0x0073 }
func (c *LEISOTestEnd) Len() int                 { return 2 }
func (c *LEISOTestEnd) Marshal(b []byte) error   { return marshal(c, b) }
func (c *LEISOTestEnd) Unmarshal(b []byte) error { return unmarshal(c, b) }

// ISOTestCountersRP is the return parameter of LE ISO Read Test Counters and LE ISO Test End.
type ISOTestCountersRP struct {
	Status           uint8
	ConnectionHandle uint16
	ReceivedSDUCount uint32
	MissedSDUCount   uint32
	FailedSDUCount   uint32
}

func (c *ISOTestCountersRP) Marshal() []byte          { return marshalRP(c) }
func (c *ISOTestCountersRP) Unmarshal(b []byte) error { return unmarshalRP(c, b) }
