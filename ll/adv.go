package ll

import (
	"github.com/pkg/errors"
	"github.com/rigado/blell"
	"github.com/rigado/blell/hci"
	"github.com/rigado/blell/hci/cmd"
	"github.com/rigado/blell/hci/evt"
	"github.com/rigado/blell/ll/aa"
	"github.com/rigado/blell/ll/pdu"
	"github.com/rigado/blell/ll/radio"
	"github.com/rigado/blell/ll/sched"
	"github.com/rigado/blell/ll/tmr"
)

const (
	advChannelFirst = 37
	numAdvChannels  = 3
	advCRCInit      = 0x555555

	maxAdvDelayUs      = 10000
	highDutyIntervalUs = 3750
	highDutyTimeoutUs  = 1280000
	advUnitUs          = 625
)

type advertiser struct {
	c *Controller

	params  cmd.LESetAdvertisingParameters
	data    []byte
	scanRsp []byte
	enabled bool

	addr   blell.Addr
	random bool
	pdu    []byte
	rsp    []byte

	chans      []uint8
	chIdx      int
	eventStart uint32
	slot       uint32
	deadline   uint32
}

func newAdvertiser(c *Controller) *advertiser {
	return &advertiser{
		c: c,
		params: cmd.LESetAdvertisingParameters{
			AdvertisingIntervalMin: 0x0800,
			AdvertisingIntervalMax: 0x0800,
			AdvertisingType:        hci.AdvTypeInd,
			AdvertisingChannelMap:  0x07,
		},
	}
}

func (a *advertiser) key() actorKey {
	return actorKey{role: sched.RoleAdvertiser}
}

func (a *advertiser) connectable() bool {
	switch a.params.AdvertisingType {
	case hci.AdvTypeInd, hci.AdvTypeDirectIndHigh, hci.AdvTypeDirectIndLow:
		return true
	}
	return false
}

func (a *advertiser) directed() bool {
	t := a.params.AdvertisingType
	return t == hci.AdvTypeDirectIndHigh || t == hci.AdvTypeDirectIndLow
}

func (a *advertiser) scannable() bool {
	t := a.params.AdvertisingType
	return t == hci.AdvTypeInd || t == hci.AdvTypeScanInd
}

// SetAdvertisingParameters implements HCI LE Set Advertising Parameters.
func (c *Controller) SetAdvertisingParameters(p cmd.LESetAdvertisingParameters) error {
	if c.adv.enabled {
		return errors.WithMessage(hci.ErrDisallowed, "advertising enabled")
	}
	if p.AdvertisingType == hci.AdvTypeDirectIndHigh {
		// intervals are ignored for high duty cycle directed advertising
		p.AdvertisingIntervalMin, p.AdvertisingIntervalMax = cmd.AdvIntervalMin, cmd.AdvIntervalMin
	}
	if err := cmd.ValidateAdvParams(p); err != nil {
		return err
	}
	if p.AdvertisingFilterPolicy != 0 {
		return errors.Wrapf(hci.ErrUnsupportedParams, "filter policy %v", p.AdvertisingFilterPolicy)
	}
	c.adv.params = p
	return nil
}

// SetAdvertisingData implements HCI LE Set Advertising Data.
func (c *Controller) SetAdvertisingData(b []byte) error {
	if len(b) > pdu.MaxAdvData {
		return errors.Wrapf(hci.ErrInvalidParams, "advertising data length %v", len(b))
	}
	c.adv.data = append([]byte(nil), b...)
	c.adv.build()
	return nil
}

// SetScanResponseData implements HCI LE Set Scan Response Data.
func (c *Controller) SetScanResponseData(b []byte) error {
	if len(b) > pdu.MaxAdvData {
		return errors.Wrapf(hci.ErrInvalidParams, "scan response length %v", len(b))
	}
	c.adv.scanRsp = append([]byte(nil), b...)
	c.adv.build()
	return nil
}

// SetAdvertiseEnable implements HCI LE Set Advertising Enable.
func (c *Controller) SetAdvertiseEnable(on bool) error {
	a := c.adv
	switch {
	case on == a.enabled:
		return nil
	case !on:
		a.stop()
		return nil
	}

	addr, err := c.ownAddr(a.params.OwnAddressType)
	if err != nil {
		return err
	}
	if a.connectable() && len(c.conns) >= c.maxConns {
		return errors.WithMessage(hci.ErrConnLimit, "no room for a connection")
	}

	a.addr = addr
	a.random = a.params.OwnAddressType == hci.AddressTypeRandom
	a.chans = a.chans[:0]
	for i := uint8(0); i < numAdvChannels; i++ {
		if a.params.AdvertisingChannelMap&(1<<i) != 0 {
			a.chans = append(a.chans, advChannelFirst+i)
		}
	}
	a.enabled = true
	a.build()

	a.chIdx = 0
	a.eventStart = c.startTime()
	if a.params.AdvertisingType == hci.AdvTypeDirectIndHigh {
		a.deadline = a.eventStart + c.tb.UsecsToTicks(highDutyTimeoutUs)
	}

	c.addActor(a.key(), a)
	c.schedule(a.event())
	c.log.Infof("advertising as %v on %v", a.addr, a.chans)
	return nil
}

// build encodes the PDUs sent on each channel.
func (a *advertiser) build() {
	if !a.enabled {
		return
	}
	var p pdu.Adv
	switch a.params.AdvertisingType {
	case hci.AdvTypeDirectIndHigh, hci.AdvTypeDirectIndLow:
		adv := a.addr.LE()
		pl := make([]byte, 12)
		copy(pl, adv[:])
		copy(pl[6:], a.params.DirectAddress[:])
		p = pdu.Adv{
			Type:    pdu.TypeAdvDirectInd,
			ChSel:   true,
			TxAdd:   a.random,
			RxAdd:   a.params.DirectAddressType == hci.AddressTypeRandom,
			Payload: pl,
		}
	case hci.AdvTypeScanInd:
		p = pdu.NewAdvInd(pdu.TypeAdvScanInd, a.addr.LE(), a.random, a.data)
	case hci.AdvTypeNonconnInd:
		p = pdu.NewAdvInd(pdu.TypeAdvNonconnInd, a.addr.LE(), a.random, a.data)
	default:
		p = pdu.NewAdvInd(pdu.TypeAdvInd, a.addr.LE(), a.random, a.data)
	}
	a.pdu = p.Marshal()

	a.rsp = nil
	if a.scannable() {
		a.rsp = pdu.NewAdvInd(pdu.TypeScanRsp, a.addr.LE(), a.random, a.scanRsp).Marshal()
	}

	// room for the PDU, T_IFS and the longest answer (CONNECT_IND or
	// SCAN_REQ followed by SCAN_RSP)
	us := pdu.Airtime(len(p.Payload)) + tmr.TIFS + pdu.Airtime(34) + tmr.TIFS
	if a.rsp != nil {
		if r := pdu.Airtime(12) + tmr.TIFS + pdu.Airtime(len(a.rsp)-2) + tmr.TIFS; r > pdu.Airtime(34)+tmr.TIFS {
			us = pdu.Airtime(len(p.Payload)) + tmr.TIFS + r
		}
	}
	a.slot = a.c.tb.UsecsToTicksRoundUp(us)
}

func (a *advertiser) stop() {
	if !a.enabled {
		return
	}
	a.enabled = false
	a.c.removeActor(a.key())
}

func (a *advertiser) intervalUs() uint32 {
	if a.params.AdvertisingType == hci.AdvTypeDirectIndHigh {
		return highDutyIntervalUs
	}
	return uint32(a.params.AdvertisingIntervalMin) * advUnitUs
}

func (a *advertiser) event() sched.Event {
	return sched.Event{
		Role:       sched.RoleAdvertiser,
		Channel:    a.chans[a.chIdx],
		AccessAddr: aa.Advertising,
		CRCInit:    advCRCInit,
		Start:      a.eventStart + uint32(a.chIdx)*a.slot,
		Duration:   a.slot,
	}
}

func (a *advertiser) start(ev sched.Event) (radio.Request, bool) {
	if !a.enabled {
		return radio.Request{}, false
	}
	return radio.Request{PDU: a.pdu, AutoRsp: a.rsp}, true
}

func (a *advertiser) done(cpl radio.Completion) {
	if cpl.Received && a.connectable() {
		var p pdu.Adv
		var ind pdu.ConnectInd
		if p.Unmarshal(cpl.PDU) == nil && p.Type == pdu.TypeConnectInd && ind.Unmarshal(p.Payload) == nil {
			if a.accepts(p, ind) {
				a.connect(p, ind, cpl)
				return
			}
		}
	}
	a.next()
}

func (a *advertiser) skip(ev sched.Event, by sched.Event) {
	a.next()
}

// accepts reports whether a CONNECT_IND is addressed to us and, for directed
// advertising, comes from the expected initiator.
func (a *advertiser) accepts(p pdu.Adv, ind pdu.ConnectInd) bool {
	if ind.AdvA != a.addr.LE() || p.RxAdd != a.random {
		return false
	}
	if a.directed() {
		random := a.params.DirectAddressType == hci.AddressTypeRandom
		return ind.InitA == a.params.DirectAddress && p.TxAdd == random
	}
	return len(a.c.conns) < a.c.maxConns
}

func (a *advertiser) connect(p pdu.Adv, ind pdu.ConnectInd, cpl radio.Completion) {
	c := a.c
	a.stop()

	end := cpl.RxTime + c.tb.UsecsToTicks(pdu.Airtime(len(p.Payload)))
	win := c.tb.Add(tmr.Point{Ticks: end}, 1250+uint32(ind.WinOffset)*1250)
	// ADV_IND and ADV_DIRECT_IND go out with ChSel set
	cn, err := c.newConn(connSetup{
		role:       sched.RolePeripheral,
		peer:       ind.InitA,
		peerRandom: p.TxAdd,
		ind:        ind,
		csa2:       p.ChSel,
		anchor:     win,
		lastRx:     end,
		txWinUs:    uint32(ind.WinSize) * 1250,
	})
	if err != nil {
		c.dispatchError(err)
		return
	}
	c.log.Infof("connected as peripheral to %v, handle %d", blell.AddrFromLE(ind.InitA), cn.handle)
}

// next moves to the following channel, or to the next advertising event.
func (a *advertiser) next() {
	if !a.enabled {
		return
	}
	c := a.c
	a.chIdx++
	if a.chIdx >= len(a.chans) {
		a.chIdx = 0
		delay := uint32(0)
		if a.params.AdvertisingType != hci.AdvTypeDirectIndHigh {
			delay = uint32(c.rng.Intn(maxAdvDelayUs + 1))
		}
		a.eventStart += c.tb.UsecsToTicks(a.intervalUs() + delay)

		if a.params.AdvertisingType == hci.AdvTypeDirectIndHigh && !tmr.Before(a.eventStart, a.deadline) {
			a.stop()
			c.emit(evt.NewLEConnectionComplete(evt.ConnectionComplete{Status: uint8(hci.ErrAdvTimeout)}))
			return
		}
	}
	ev := a.event()
	if s := c.future(ev.Start); s != ev.Start {
		a.chIdx = 0
		a.eventStart = s
		ev = a.event()
	}
	c.schedule(ev)
}
