package ll

import (
	"github.com/pkg/errors"
	"github.com/rigado/blell/hci"
	"github.com/rigado/blell/hci/cmd"
	"github.com/rigado/blell/hci/evt"
	"github.com/rigado/blell/ll/aa"
	"github.com/rigado/blell/ll/chsel"
	"github.com/rigado/blell/ll/pdu"
	"github.com/rigado/blell/ll/radio"
	"github.com/rigado/blell/ll/sched"
	"github.com/rigado/blell/ll/tmr"
)

// big is a broadcast isochronous group. All of its BISes go out in one
// scheduler event, sequentially.
type big struct {
	c      *Controller
	handle uint8
	params cmd.LECreateBIG

	seed uint32
	bis  []*bis

	isoUs  uint32
	dir    isoDir
	nse    int
	subUs  uint32
	framed bool

	counter uint16
	anchor  tmr.Point
	chm     chsel.ChanMap

	announced   bool
	terminating bool
}

type bis struct {
	handle uint16
	g      *big
	idx    uint8
	aa     uint32
	chanID uint16
	stream *isoStream
}

func (g *big) key() actorKey {
	return actorKey{role: sched.RoleBIS, handle: uint16(g.handle)}
}

// CreateBIG implements HCI LE Create BIG. LE Create BIG Complete follows
// once the first BIG event went out.
func (c *Controller) CreateBIG(p cmd.LECreateBIG) error {
	if err := cmd.ValidateBIGParams(p); err != nil {
		return err
	}
	if _, ok := c.bigs[p.BIGHandle]; ok {
		return errors.Wrapf(hci.ErrDisallowed, "big %v exists", p.BIGHandle)
	}
	if p.AdvertisingHandle != 0 {
		return errors.Wrapf(hci.ErrUnknownAdvID, "advertising handle %v", p.AdvertisingHandle)
	}
	if p.Encryption != 0 {
		return errors.WithMessage(hci.ErrUnsupportedParams, "encrypted big")
	}
	if p.PHY&0x01 == 0 {
		return errors.Wrapf(hci.ErrUnsupportedParams, "phy %v", p.PHY)
	}
	if len(c.bigs) >= c.maxBIG {
		return errors.WithMessage(hci.ErrMemoryCapacity, "no free big")
	}

	framed := p.Framing == cmd.FramingFramed
	isoUs, err := isoInterval(p.SDUInterval, framed)
	if err != nil {
		return err
	}
	dir := isoDir{sduIntervalUs: p.SDUInterval, maxSDU: int(p.MaxSDU)}
	if dir.bn, dir.maxPDU, err = isoBurst(isoUs, p.SDUInterval, dir.maxSDU, framed); err != nil {
		return err
	}

	g := &big{
		c:      c,
		handle: p.BIGHandle,
		params: p,
		isoUs:  isoUs,
		dir:    dir,
		nse:    dir.bn,
		subUs:  pdu.Airtime(dir.maxPDU) + tmr.TIFS,
		framed: framed,
		chm:    c.channelMap(),
	}
	if uint32(p.NumBIS)*uint32(g.nse)*g.subUs > isoUs {
		return errors.Wrapf(hci.ErrUnsupportedParams, "%v bis do not fit in %vus", p.NumBIS, isoUs)
	}

	seed, err := c.pool.AcquireBIG(p.NumBIS)
	if err != nil {
		return errors.WithMessage(hci.ErrLimitedResource, err.Error())
	}
	g.seed = seed

	for i := uint8(1); i <= p.NumBIS; i++ {
		h, err := c.allocHandle()
		if err == nil {
			b := &bis{handle: h, g: g, idx: i, aa: aa.BIG(seed, i)}
			b.chanID = chsel.ChannelID(b.aa)
			b.stream, err = newISOStream(c, h, isoUs, framed, dir, isoDir{})
			g.bis = append(g.bis, b)
		}
		if err != nil {
			g.release()
			return err
		}
	}

	c.bigs[g.handle] = g
	for _, b := range g.bis {
		c.bises[b.handle] = b
	}
	g.anchor = tmr.Point{Ticks: c.startTime()}
	c.addActor(g.key(), g)
	c.schedule(g.event())
	c.log.Infof("big %v: %v bis, iso interval %vus, seed %08x", g.handle, p.NumBIS, isoUs, seed)
	return nil
}

func (g *big) handles() []uint16 {
	hs := make([]uint16, len(g.bis))
	for i, b := range g.bis {
		hs[i] = b.handle
	}
	return hs
}

func (g *big) event() sched.Event {
	ch, _ := chsel.ISOEvent(g.counter, g.bis[0].chanID, g.chm)
	return sched.Event{
		Role:       sched.RoleBIS,
		Handle:     uint16(g.handle),
		Channel:    ch,
		AccessAddr: g.bis[0].aa,
		Start:      g.anchor.Ticks,
		Duration:   g.c.tb.UsecsToTicksRoundUp(uint32(len(g.bis)*g.nse) * g.subUs),
		Counter:    g.counter,
	}
}

func (g *big) start(ev sched.Event) (radio.Request, bool) {
	if g.terminating {
		g.finish()
		return radio.Request{}, false
	}
	ts := g.c.timestamp(g.anchor)
	req := radio.Request{}
	for _, b := range g.bis {
		ch, st := chsel.ISOEvent(g.counter, b.chanID, g.chm)
		chans := []uint8{ch}
		for i := 1; i < g.nse; i++ {
			chans = append(chans, st.Subevent())
		}
		req.ISO = append(req.ISO, radio.ISOStream{
			AccessAddr: b.aa,
			Handle:     b.handle,
			Channels:   chans,
			PDUs:       b.stream.txEvent(ts, g.nse),
		})
	}
	return req, true
}

func (g *big) done(cpl radio.Completion) {
	if g.terminating {
		g.finish()
		return
	}
	if !g.announced {
		g.announced = true
		g.report(0)
	}

	var hs, ns []uint16
	for _, b := range g.bis {
		if n := b.stream.txDone(); n > 0 {
			hs = append(hs, b.handle)
			ns = append(ns, uint16(n))
		}
	}
	g.c.completed(hs, ns)
	g.next()
}

func (g *big) skip(ev sched.Event, by sched.Event) {
	if g.terminating {
		g.finish()
		return
	}
	g.c.count(func(st *Stats) { st.MissedAnchors++ })
	g.next()
}

func (g *big) next() {
	g.counter++
	g.anchor = g.c.tb.Add(g.anchor, g.isoUs)
	g.c.schedule(g.event())
}

func (g *big) report(status uint8) {
	e := evt.CreateBIGComplete{Status: status, BIGHandle: g.handle}
	if status == 0 {
		sync := uint32(len(g.bis)*g.nse) * g.subUs
		e.BIGSyncDelay = sync
		e.TransportLatency = sync + g.isoUs
		e.PHY = 1
		e.NSE = uint8(g.nse)
		e.BN = uint8(g.dir.bn)
		e.IRC = 1
		e.MaxPDU = uint16(g.dir.maxPDU)
		e.ISOInterval = uint16(g.isoUs / isoIntervalUnitUs)
		e.Handles = g.handles()
	}
	g.c.emit(evt.NewLECreateBIGComplete(e))
}

// release frees the handles, addresses and scheduler item of the group.
func (g *big) release() {
	c := g.c
	c.removeActor(g.key())
	for _, b := range g.bis {
		delete(c.bises, b.handle)
		c.freeHandle(b.handle)
	}
	c.pool.ReleaseBIG(g.seed, g.params.NumBIS)
	delete(c.bigs, g.handle)
}

func (g *big) finish() {
	g.release()
	if g.announced {
		g.c.emit(evt.NewLETerminateBIGComplete(g.handle, uint8(hci.ErrLocalHost)))
		return
	}
	g.c.emit(evt.NewLECreateBIGComplete(evt.CreateBIGComplete{
		Status:    uint8(hci.ErrCancelledByHost),
		BIGHandle: g.handle,
	}))
}

// TerminateBIG implements HCI LE Terminate BIG. The group stops at its next
// event.
func (c *Controller) TerminateBIG(handle uint8, reason uint8) error {
	g, ok := c.bigs[handle]
	if !ok {
		return errors.Wrapf(hci.ErrUnknownAdvID, "big %v", handle)
	}
	if g.terminating {
		return errors.Wrapf(hci.ErrDisallowed, "big %v terminating", handle)
	}
	g.terminating = true
	g.c.log.Infof("terminating big %v: %v", handle, hci.ErrCommand(reason))
	return nil
}
