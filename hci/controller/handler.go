package controller

import (
	"encoding/binary"

	"github.com/pkg/errors"
	"github.com/rigado/blell"
	"github.com/rigado/blell/hci"
	"github.com/rigado/blell/hci/cmd"
	"github.com/rigado/blell/hci/evt"
	"github.com/rigado/blell/ll/chsel"
)

// A handler runs one command. rp may carry return parameters even on error;
// its status octet is overwritten with the error's status.
type handlerFn func(b []byte) (rp cmd.ReturnParams, err error)

type handler struct {
	fn handlerFn

	// answered with Command Status instead of Command Complete
	status bool
}

func (h *HCI) commands() map[uint16]handler {
	op := func(c cmd.Command) uint16 { return c.OpCode() }
	return map[uint16]handler{
		op(&cmd.Reset{}):                       {fn: h.handleReset},
		op(&cmd.SetEventMask{}):                {fn: h.handleSetEventMask},
		op(&cmd.ReadLocalVersionInformation{}): {fn: h.handleReadLocalVersion},
		op(&cmd.ReadBDADDR{}):                  {fn: h.handleReadBDADDR},
		op(&cmd.Disconnect{}):                  {fn: h.handleDisconnect, status: true},

		op(&cmd.LESetEventMask{}):                 {fn: h.handleLESetEventMask},
		op(&cmd.LEReadBufferSize{}):               {fn: h.handleLEReadBufferSize},
		op(&cmd.LESetRandomAddress{}):             {fn: h.handleLESetRandomAddress},
		op(&cmd.LESetAdvertisingParameters{}):     {fn: h.handleLESetAdvertisingParameters},
		op(&cmd.LESetAdvertisingData{}):           {fn: h.handleLESetAdvertisingData},
		op(&cmd.LESetScanResponseData{}):          {fn: h.handleLESetScanResponseData},
		op(&cmd.LESetAdvertiseEnable{}):           {fn: h.handleLESetAdvertiseEnable},
		op(&cmd.LESetScanParameters{}):            {fn: h.handleLESetScanParameters},
		op(&cmd.LESetScanEnable{}):                {fn: h.handleLESetScanEnable},
		op(&cmd.LECreateConnection{}):             {fn: h.handleLECreateConnection, status: true},
		op(&cmd.LECreateConnectionCancel{}):       {fn: h.handleLECreateConnectionCancel},
		op(&cmd.LEConnectionUpdate{}):             {fn: h.handleLEConnectionUpdate, status: true},
		op(&cmd.LESetHostChannelClassification{}): {fn: h.handleLESetHostChannelClassification},
		op(&cmd.LEReadChannelMap{}):               {fn: h.handleLEReadChannelMap},

		op(&cmd.LESetCIGParameters{}):    {fn: h.handleLESetCIGParameters},
		op(&cmd.LECreateCIS{}):           {fn: h.handleLECreateCIS, status: true},
		op(&cmd.LERemoveCIG{}):           {fn: h.handleLERemoveCIG},
		op(&cmd.LECreateBIG{}):           {fn: h.handleLECreateBIG, status: true},
		op(&cmd.LETerminateBIG{}):        {fn: h.handleLETerminateBIG, status: true},
		op(&cmd.LEISOTransmitTest{}):     {fn: h.handleLEISOTransmitTest},
		op(&cmd.LEISOReceiveTest{}):      {fn: h.handleLEISOReceiveTest},
		op(&cmd.LEISOReadTestCounters{}): {fn: h.handleLEISOReadTestCounters},
		op(&cmd.LEISOTestEnd{}):          {fn: h.handleLEISOTestEnd},

		op(&ReadSchedulerStats{}): {fn: h.handleReadSchedulerStats},
	}
}

// postCommand queues the command packet b (without indicator) on the loop.
func (h *HCI) postCommand(b []byte) error {
	if len(b) < 2 {
		return errors.Errorf("short command packet: % X", b)
	}
	op := binary.LittleEndian.Uint16(b)
	err := h.ll.Post(func() { h.handleCommand(op, b[2:]) })
	if err != nil {
		// the loop is not draining; answer from here
		h.reply(op, nil, err)
	}
	return err
}

// handleCommand runs on the loop. b is the length octet and the parameters.
func (h *HCI) handleCommand(op uint16, b []byte) {
	var rp cmd.ReturnParams
	var err error

	h.inCmd = true
	switch {
	case len(b) < 1 || int(b[0]) != len(b)-1:
		err = errors.Wrapf(hci.ErrInvalidParams, "%v: bad parameter length", hci.OpCodeString(op))
	default:
		hd, ok := h.handlers[op]
		if !ok {
			err = errors.Wrapf(hci.ErrUnknownCommand, "%v", hci.OpCodeString(op))
			break
		}
		rp, err = hd.fn(b[1:])
	}
	h.inCmd = false

	if err != nil {
		h.logger.Debugf("%v: %v", hci.OpCodeString(op), err)
	}
	h.reply(op, rp, err)

	pending := h.pending
	h.pending = nil
	for _, e := range pending {
		h.Event(e)
	}
}

// reply answers op with Command Status or Command Complete, whichever the
// command uses. Unknown commands get a Command Complete.
func (h *HCI) reply(op uint16, rp cmd.ReturnParams, err error) {
	status := hci.StatusOf(err)
	if hd, ok := h.handlers[op]; ok && hd.status {
		h.write(evt.Encode(evt.NewCommandStatus(status, numCmdPkts, op)))
		return
	}

	var b []byte
	if rp != nil {
		b = rp.Marshal()
	}
	if len(b) == 0 {
		b = []byte{status}
	}
	b[0] = status
	h.write(evt.Encode(evt.NewCommandComplete(numCmdPkts, op, b)))
}

func boolParam(v uint8) (bool, error) {
	switch v {
	case 0x00:
		return false, nil
	case 0x01:
		return true, nil
	}
	return false, errors.Wrapf(hci.ErrInvalidParams, "enable %#02x", v)
}

func (h *HCI) handleReset(b []byte) (cmd.ReturnParams, error) {
	var c cmd.Reset
	if err := c.Unmarshal(b); err != nil {
		return nil, err
	}
	h.ll.Reset()
	h.pending = nil
	return nil, nil
}

func (h *HCI) handleSetEventMask(b []byte) (cmd.ReturnParams, error) {
	var c cmd.SetEventMask
	if err := c.Unmarshal(b); err != nil {
		return nil, err
	}
	h.ll.SetEventMask(c.EventMask)
	return nil, nil
}

func (h *HCI) handleReadLocalVersion(b []byte) (cmd.ReturnParams, error) {
	var c cmd.ReadLocalVersionInformation
	if err := c.Unmarshal(b); err != nil {
		return nil, err
	}
	v := h.ll.Version()
	return &cmd.ReadLocalVersionInformationRP{
		HCIVersion:       v.HCIVersion,
		HCIRevision:      v.HCISubversion,
		LMPPALVersion:    v.LMPVersion,
		ManufacturerName: v.CompanyID,
		LMPPALSubversion: v.LMPSubversion,
	}, nil
}

func (h *HCI) handleReadBDADDR(b []byte) (cmd.ReturnParams, error) {
	var c cmd.ReadBDADDR
	if err := c.Unmarshal(b); err != nil {
		return nil, err
	}
	return &cmd.ReadBDADDRRP{BDADDR: h.ll.PublicAddr().LE()}, nil
}

func (h *HCI) handleDisconnect(b []byte) (cmd.ReturnParams, error) {
	var c cmd.Disconnect
	if err := c.Unmarshal(b); err != nil {
		return nil, err
	}
	return nil, h.ll.Disconnect(c.ConnectionHandle, c.Reason)
}

func (h *HCI) handleLESetEventMask(b []byte) (cmd.ReturnParams, error) {
	var c cmd.LESetEventMask
	if err := c.Unmarshal(b); err != nil {
		return nil, err
	}
	h.ll.SetLEEventMask(c.LEEventMask)
	return nil, nil
}

func (h *HCI) handleLEReadBufferSize(b []byte) (cmd.ReturnParams, error) {
	var c cmd.LEReadBufferSize
	if err := c.Unmarshal(b); err != nil {
		return nil, err
	}
	l, n := h.ll.ReadBufferSize()
	return &cmd.LEReadBufferSizeRP{HCLEACLDataPacketLength: l, HCTotalNumLEACLDataPackets: n}, nil
}

func (h *HCI) handleLESetRandomAddress(b []byte) (cmd.ReturnParams, error) {
	var c cmd.LESetRandomAddress
	if err := c.Unmarshal(b); err != nil {
		return nil, err
	}
	return nil, h.ll.SetRandomAddress(blell.AddrFromLE(c.RandomAddress))
}

func (h *HCI) handleLESetAdvertisingParameters(b []byte) (cmd.ReturnParams, error) {
	var c cmd.LESetAdvertisingParameters
	if err := c.Unmarshal(b); err != nil {
		return nil, err
	}
	return nil, h.ll.SetAdvertisingParameters(c)
}

func (h *HCI) handleLESetAdvertisingData(b []byte) (cmd.ReturnParams, error) {
	var c cmd.LESetAdvertisingData
	if err := c.Unmarshal(b); err != nil {
		return nil, err
	}
	n := int(c.AdvertisingDataLength)
	if n > len(c.AdvertisingData) {
		return nil, errors.Wrapf(hci.ErrInvalidParams, "advertising data length %v", n)
	}
	return nil, h.ll.SetAdvertisingData(c.AdvertisingData[:n])
}

func (h *HCI) handleLESetScanResponseData(b []byte) (cmd.ReturnParams, error) {
	var c cmd.LESetScanResponseData
	if err := c.Unmarshal(b); err != nil {
		return nil, err
	}
	n := int(c.ScanResponseDataLength)
	if n > len(c.ScanResponseData) {
		return nil, errors.Wrapf(hci.ErrInvalidParams, "scan response data length %v", n)
	}
	return nil, h.ll.SetScanResponseData(c.ScanResponseData[:n])
}

func (h *HCI) handleLESetAdvertiseEnable(b []byte) (cmd.ReturnParams, error) {
	var c cmd.LESetAdvertiseEnable
	if err := c.Unmarshal(b); err != nil {
		return nil, err
	}
	on, err := boolParam(c.AdvertisingEnable)
	if err != nil {
		return nil, err
	}
	return nil, h.ll.SetAdvertiseEnable(on)
}

func (h *HCI) handleLESetScanParameters(b []byte) (cmd.ReturnParams, error) {
	var c cmd.LESetScanParameters
	if err := c.Unmarshal(b); err != nil {
		return nil, err
	}
	return nil, h.ll.SetScanParameters(c)
}

func (h *HCI) handleLESetScanEnable(b []byte) (cmd.ReturnParams, error) {
	var c cmd.LESetScanEnable
	if err := c.Unmarshal(b); err != nil {
		return nil, err
	}
	on, err := boolParam(c.LEScanEnable)
	if err != nil {
		return nil, err
	}
	dup, err := boolParam(c.FilterDuplicates)
	if err != nil {
		return nil, err
	}
	return nil, h.ll.SetScanEnable(on, dup)
}

func (h *HCI) handleLECreateConnection(b []byte) (cmd.ReturnParams, error) {
	var c cmd.LECreateConnection
	if err := c.Unmarshal(b); err != nil {
		return nil, err
	}
	return nil, h.ll.CreateConnection(c)
}

func (h *HCI) handleLECreateConnectionCancel(b []byte) (cmd.ReturnParams, error) {
	var c cmd.LECreateConnectionCancel
	if err := c.Unmarshal(b); err != nil {
		return nil, err
	}
	return nil, h.ll.CreateConnectionCancel()
}

func (h *HCI) handleLEConnectionUpdate(b []byte) (cmd.ReturnParams, error) {
	var c cmd.LEConnectionUpdate
	if err := c.Unmarshal(b); err != nil {
		return nil, err
	}
	return nil, h.ll.ConnectionUpdate(c)
}

func (h *HCI) handleLESetHostChannelClassification(b []byte) (cmd.ReturnParams, error) {
	var c cmd.LESetHostChannelClassification
	if err := c.Unmarshal(b); err != nil {
		return nil, err
	}
	return nil, h.ll.SetHostChannelClassification(chsel.ChanMap(c.ChannelMap))
}

func (h *HCI) handleLEReadChannelMap(b []byte) (cmd.ReturnParams, error) {
	var c cmd.LEReadChannelMap
	if err := c.Unmarshal(b); err != nil {
		return nil, err
	}
	m, err := h.ll.ReadChannelMap(c.ConnectionHandle)
	return &cmd.LEReadChannelMapRP{ConnectionHandle: c.ConnectionHandle, ChannelMap: m}, err
}

func (h *HCI) handleLESetCIGParameters(b []byte) (cmd.ReturnParams, error) {
	var c cmd.LESetCIGParameters
	if err := c.Unmarshal(b); err != nil {
		return nil, err
	}
	handles, err := h.ll.SetCIGParameters(c)
	if err != nil {
		handles = nil
	}
	return &cmd.LESetCIGParametersRP{CIGID: c.CIGID, ConnectionHandles: handles}, err
}

func (h *HCI) handleLECreateCIS(b []byte) (cmd.ReturnParams, error) {
	var c cmd.LECreateCIS
	if err := c.Unmarshal(b); err != nil {
		return nil, err
	}
	return nil, h.ll.CreateCIS(c.CIS)
}

func (h *HCI) handleLERemoveCIG(b []byte) (cmd.ReturnParams, error) {
	var c cmd.LERemoveCIG
	if err := c.Unmarshal(b); err != nil {
		return nil, err
	}
	return &cmd.LERemoveCIGRP{CIGID: c.CIGID}, h.ll.RemoveCIG(c.CIGID)
}

func (h *HCI) handleLECreateBIG(b []byte) (cmd.ReturnParams, error) {
	var c cmd.LECreateBIG
	if err := c.Unmarshal(b); err != nil {
		return nil, err
	}
	return nil, h.ll.CreateBIG(c)
}

func (h *HCI) handleLETerminateBIG(b []byte) (cmd.ReturnParams, error) {
	var c cmd.LETerminateBIG
	if err := c.Unmarshal(b); err != nil {
		return nil, err
	}
	return nil, h.ll.TerminateBIG(c.BIGHandle, c.Reason)
}

func (h *HCI) handleLEISOTransmitTest(b []byte) (cmd.ReturnParams, error) {
	var c cmd.LEISOTransmitTest
	if err := c.Unmarshal(b); err != nil {
		return nil, err
	}
	return &cmd.ISOTestRP{ConnectionHandle: c.ConnectionHandle}, h.ll.ISOTransmitTest(c)
}

func (h *HCI) handleLEISOReceiveTest(b []byte) (cmd.ReturnParams, error) {
	var c cmd.LEISOReceiveTest
	if err := c.Unmarshal(b); err != nil {
		return nil, err
	}
	return &cmd.ISOTestRP{ConnectionHandle: c.ConnectionHandle}, h.ll.ISOReceiveTest(c)
}

func (h *HCI) handleLEISOReadTestCounters(b []byte) (cmd.ReturnParams, error) {
	var c cmd.LEISOReadTestCounters
	if err := c.Unmarshal(b); err != nil {
		return nil, err
	}
	tc, err := h.ll.ISOReadTestCounters(c.ConnectionHandle)
	return &cmd.ISOTestCountersRP{
		ConnectionHandle: c.ConnectionHandle,
		ReceivedSDUCount: tc.Received,
		MissedSDUCount:   tc.Missed,
		FailedSDUCount:   tc.Failed,
	}, err
}

func (h *HCI) handleLEISOTestEnd(b []byte) (cmd.ReturnParams, error) {
	var c cmd.LEISOTestEnd
	if err := c.Unmarshal(b); err != nil {
		return nil, err
	}
	tc, err := h.ll.ISOTestEnd(c.ConnectionHandle)
	return &cmd.ISOTestCountersRP{
		ConnectionHandle: c.ConnectionHandle,
		ReceivedSDUCount: tc.Received,
		MissedSDUCount:   tc.Missed,
		FailedSDUCount:   tc.Failed,
	}, err
}
