package sim

import (
	"github.com/rigado/blell/ll/aa"
	"github.com/rigado/blell/ll/chsel"
	"github.com/rigado/blell/ll/pdu"
	"github.com/rigado/blell/ll/radio"
	"github.com/rigado/blell/ll/tmr"
)

// AdvertiserPeer is a remote connectable advertiser. It answers SCAN_REQ
// with its scan response and accepts the first CONNECT_IND addressed to it,
// after which it only plays the peripheral side of the link.
type AdvertiserPeer struct {
	Addr    [6]byte
	Random  bool
	Data    []byte
	ScanRsp []byte

	// IntervalUs separates advertising PDUs; OffsetUs places the first.
	IntervalUs uint32
	OffsetUs   uint32

	RSSI int8

	// Link is set once a connection was accepted.
	Link *Link

	ScanRequests int
}

func (p *AdvertiserPeer) adv() pdu.Adv {
	return pdu.NewAdvInd(pdu.TypeAdvInd, p.Addr, p.Random, p.Data)
}

// nextAdv is the first advertising PDU at or after t.
func (p *AdvertiserPeer) nextAdv(t uint32) uint32 {
	iv := p.IntervalUs
	if iv == 0 {
		iv = 20000
	}
	if tmr.AtOrBefore(t, p.OffsetUs) {
		return p.OffsetUs
	}
	k := (t - p.OffsetUs + iv - 1) / iv
	return p.OffsetUs + k*iv
}

func (p *AdvertiserPeer) Respond(req radio.Request) (radio.Completion, bool) {
	if p.Link != nil {
		return p.Link.Respond(req)
	}
	if req.AccessAddr != aa.Advertising || len(req.PDU) > 0 || len(req.ISO) > 0 {
		return radio.Completion{}, false
	}

	adv := p.adv()
	b := adv.Marshal()
	at := p.nextAdv(req.Start)
	end := at + pdu.Airtime(len(adv.Payload))
	if tmr.After(end, req.End()) {
		return radio.Completion{}, false
	}
	cpl := radio.Completion{Received: true, RxTime: at, PDU: b, RSSI: p.RSSI, End: end}

	if req.AutoRsp == nil || (req.UseFilter && req.Filter != p.Addr) {
		return cpl, true
	}
	var rsp pdu.Adv
	if rsp.Unmarshal(req.AutoRsp) != nil {
		return cpl, true
	}
	switch rsp.Type {
	case pdu.TypeScanReq:
		p.ScanRequests++
		sr := pdu.NewAdvInd(pdu.TypeScanRsp, p.Addr, p.Random, p.ScanRsp)
		cpl.AutoRspSent = true
		cpl.RspPDU = sr.Marshal()
		cpl.End = end + tmr.TIFS + pdu.Airtime(len(rsp.Payload)) + tmr.TIFS + pdu.Airtime(len(sr.Payload))
	case pdu.TypeConnectInd:
		var ind pdu.ConnectInd
		if ind.Unmarshal(rsp.Payload) != nil || ind.AdvA != p.Addr {
			return cpl, true
		}
		cpl.AutoRspSent = true
		cpl.End = end + tmr.TIFS + pdu.Airtime(len(rsp.Payload))
		anchor := cpl.End + 1250 + uint32(ind.WinOffset)*connUnitUs
		p.Link = newLink(false, ind, adv.ChSel && rsp.ChSel, anchor)
	}
	return cpl, true
}

// CentralPeer is a remote initiator. Once Connect is called it answers the
// next connectable advertising PDU with CONNECT_IND and then plays the
// central side of the link.
type CentralPeer struct {
	Addr   [6]byte
	Random bool

	ind     *pdu.ConnectInd
	Link    *Link
	Ignored int
}

// Connect arms the initiator with the connection parameters of ind; InitA
// is filled in from Addr and AdvA from the advertiser answered.
func (p *CentralPeer) Connect(ind pdu.ConnectInd) {
	if ind.ChM.Used() == 0 {
		ind.ChM = chsel.ChanMapAll
	}
	p.ind = &ind
}

func (p *CentralPeer) Respond(req radio.Request) (radio.Completion, bool) {
	if p.Link != nil {
		return p.Link.Respond(req)
	}
	if p.ind == nil || req.AccessAddr != aa.Advertising || len(req.PDU) == 0 {
		return radio.Completion{}, false
	}
	var adv pdu.Adv
	if adv.Unmarshal(req.PDU) != nil {
		return radio.Completion{}, false
	}
	switch adv.Type {
	case pdu.TypeAdvInd:
	case pdu.TypeAdvDirectInd:
		if len(adv.Payload) != 12 || [6]byte(adv.Payload[6:12]) != p.Addr {
			p.Ignored++
			return radio.Completion{}, false
		}
	default:
		p.Ignored++
		return radio.Completion{}, false
	}
	advA, err := adv.AdvA()
	if err != nil {
		return radio.Completion{}, false
	}

	ind := *p.ind
	ind.InitA = p.Addr
	ind.AdvA = advA
	ci := ind.PDU(adv.ChSel, p.Random, adv.TxAdd)

	rxAt := req.Start + pdu.Airtime(len(adv.Payload)) + tmr.TIFS
	end := rxAt + pdu.Airtime(len(ci.Payload))
	p.Link = newLink(true, ind, adv.ChSel, end+1250+uint32(ind.WinOffset)*connUnitUs)
	p.ind = nil

	return radio.Completion{
		Received: true,
		RxTime:   rxAt,
		PDU:      ci.Marshal(),
		End:      end,
	}, true
}
