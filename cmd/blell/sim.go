package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/pkg/errors"
	"github.com/rigado/blell"
	"github.com/rigado/blell/hci"
	"github.com/rigado/blell/hci/cmd"
	"github.com/rigado/blell/hci/evt"
	"github.com/rigado/blell/ll"
	"github.com/rigado/blell/ll/isoal"
	"github.com/rigado/blell/ll/sched"
	"github.com/rigado/blell/ll/sim"
	"github.com/rigado/blell/parser"
	"github.com/urfave/cli"
)

var simCommand = cli.Command{
	Name:  "sim",
	Usage: "run a scripted scenario in virtual time and print what the host sees",
	Flags: []cli.Flag{
		cli.DurationFlag{
			Name:  "duration, d",
			Value: time.Second,
			Usage: "virtual time to run once the links are up",
		},
		cli.BoolFlag{
			Name:  "cis",
			Usage: "set up a connected isochronous stream on the link",
		},
		cli.BoolFlag{
			Name:  "big",
			Usage: "start a broadcast isochronous group",
		},
		cli.StringFlag{
			Name:  "config, c",
			Usage: "json configuration file",
		},
	},
	Action: func(c *cli.Context) error {
		opts, err := loadOptions(c.String("config"))
		if err != nil {
			return err
		}
		s, err := newScenario(os.Stdout, opts...)
		if err != nil {
			return err
		}
		return s.run(c.Duration("duration"), c.Bool("cis"), c.Bool("big"))
	},
}

var (
	simLocal = blell.Addr{0xc0, 0xff, 0xee, 0x00, 0x00, 0x01}
	simPeer  = blell.Addr{0xc0, 0xff, 0xee, 0x00, 0x00, 0x02}

	faint = color.New(color.Faint)
	cyan  = color.New(color.FgHiCyan)
	green = color.New(color.FgHiGreen)
	red   = color.New(color.FgHiRed)
)

var eventNames = map[uint8]string{
	evt.DisconnectionCompleteCode:    "Disconnection Complete",
	evt.NumberOfCompletedPacketsCode: "Number Of Completed Packets",
	evt.HardwareErrorCode:            "Hardware Error",
}

var metaNames = map[uint8]string{
	evt.LEConnectionCompleteSubCode:       "LE Connection Complete",
	evt.LEAdvertisingReportSubCode:        "LE Advertising Report",
	evt.LEConnectionUpdateCompleteSubCode: "LE Connection Update Complete",
	evt.LECISEstablishedSubCode:           "LE CIS Established",
	evt.LECreateBIGCompleteSubCode:        "LE Create BIG Complete",
	evt.LETerminateBIGCompleteSubCode:     "LE Terminate BIG Complete",
}

// scenario is a controller with one remote device on a simulated radio,
// reporting to out.
type scenario struct {
	out   io.Writer
	clock *sim.Clock
	radio *sim.Radio
	c     *ll.Controller

	acl    uint16
	cis    uint16
	bis    []uint16
	aclUp  bool
	cisUp  bool
	bigUp  bool
	failed error
	rx     int
}

func newScenario(out io.Writer, opts ...blell.Option) (*scenario, error) {
	s := &scenario{out: out, clock: sim.NewClock(0)}
	s.radio = sim.NewRadio(s.clock)

	opts = append([]blell.Option{blell.OptPublicAddr(simLocal)}, opts...)
	c, err := ll.New(s.clock, s.radio, s, opts...)
	if err != nil {
		return nil, err
	}
	s.c = c
	return s, nil
}

func (s *scenario) stamp() string {
	return faint.Sprintf("[%10.3fms]", float64(s.clock.Now())/1000)
}

func (s *scenario) Event(e evt.Event) {
	p := e.Params()
	name, ok := eventNames[e.Code()]
	if e.Code() == evt.LEMetaCode && len(p) > 0 {
		name, ok = metaNames[p[0]]
		s.meta(p)
	}
	if !ok {
		name = fmt.Sprintf("event 0x%02x", e.Code())
	}
	fmt.Fprintf(s.out, "%s %s [% x]\n", s.stamp(), cyan.Sprint(name), p)
	if e.Code() == evt.LEMetaCode && len(p) > 0 && p[0] == evt.LEAdvertisingReportSubCode {
		s.report(evt.LEAdvertisingReport(p))
	}
}

// report prints the advertiser and the decoded AD structures of every
// report in r.
func (s *scenario) report(r evt.LEAdvertisingReport) {
	n, _ := r.NumReportsWErr()
	for i := 0; i < int(n); i++ {
		a, err := r.AddressWErr(i)
		if err != nil {
			return
		}
		rssi, _ := r.RSSIWErr(i)
		data, _ := r.DataWErr(i)
		fmt.Fprintf(s.out, "%14s %v rssi %d %s\n", "", blell.AddrFromLE(a), rssi, describeAD(data))
	}
}

func describeAD(data []byte) string {
	m, err := parser.Parse(data)
	if err == parser.ErrEmpty {
		return ""
	}
	var out []string
	if v, ok := m[parser.Keys.Flags].([]byte); ok {
		out = append(out, fmt.Sprintf("flags 0x%02x", v[0]))
	}
	if v, ok := m[parser.Keys.Name].([]byte); ok {
		out = append(out, fmt.Sprintf("name %q", v))
	}
	if v, ok := m[parser.Keys.Services].([]parser.UUID); ok {
		out = append(out, fmt.Sprintf("services %v", v))
	}
	if v, ok := m[parser.Keys.MFG].([]byte); ok {
		out = append(out, fmt.Sprintf("mfg [% x]", v))
	}
	if err != nil {
		out = append(out, red.Sprint(err))
	}
	return strings.Join(out, " ")
}

func (s *scenario) meta(p []byte) {
	fail := func(what string, status uint8) {
		if status != 0 {
			s.failed = errors.Wrap(hci.ErrCommand(status), what)
		}
	}
	switch p[0] {
	case evt.LEConnectionCompleteSubCode:
		e := evt.LEConnectionComplete(p)
		status, _ := e.StatusWErr()
		fail("connect", status)
		s.acl, _ = e.ConnectionHandleWErr()
		s.aclUp = status == 0
	case evt.LECISEstablishedSubCode:
		e := evt.LECISEstablished(p)
		status, _ := e.StatusWErr()
		fail("cis", status)
		s.cisUp = status == 0
	case evt.LECreateBIGCompleteSubCode:
		e := evt.LECreateBIGComplete(p)
		status, _ := e.StatusWErr()
		fail("big", status)
		n, _ := e.NumBISWErr()
		for i := 0; i < int(n); i++ {
			h, _ := e.ConnectionHandleWErr(i)
			s.bis = append(s.bis, h)
		}
		s.bigUp = status == 0
	}
}

func (s *scenario) ISOData(handle uint16, sdu isoal.RxSDU) {
	s.rx++
	fmt.Fprintf(s.out, "%s %s handle 0x%03x %v %q\n", s.stamp(), green.Sprint("ISO rx"), handle, sdu.Status, sdu.Data)
}

func (s *scenario) step(what string) {
	fmt.Fprintf(s.out, "%s %s\n", s.stamp(), what)
}

func (s *scenario) settle() {
	s.c.Drain()
}

// await runs the simulation until up reports true, giving up after limit.
func (s *scenario) await(what string, limit time.Duration, up func() bool) error {
	deadline := s.clock.Deadline(uint32(limit / time.Microsecond))
	s.clock.RunWhile(deadline, s.settle, func() bool { return !up() && s.failed == nil })
	if s.failed != nil {
		return s.failed
	}
	if !up() {
		return errors.Errorf("%v: nothing after %v", what, limit)
	}
	return nil
}

// scan runs an active scan for d with duplicate filtering.
func (s *scenario) scan(d time.Duration) error {
	s.step("scanning")
	err := s.c.SetScanParameters(cmd.LESetScanParameters{
		LEScanType:     hci.LEScanTypeActive,
		LEScanInterval: 0x0010,
		LEScanWindow:   0x0010,
	})
	if err != nil {
		return errors.Wrap(err, "set scan parameters")
	}
	if err := s.c.SetScanEnable(true, true); err != nil {
		return errors.Wrap(err, "scan enable")
	}
	s.clock.RunFor(uint32(d/time.Microsecond), s.settle)
	return errors.Wrap(s.c.SetScanEnable(false, false), "scan disable")
}

func (s *scenario) connect() error {
	s.radio.AddPeer(&sim.AdvertiserPeer{
		Addr:       simPeer.LE(),
		Data:       []byte{0x02, 0x01, 0x06, 0x03, 0x03, 0x0d, 0x18},
		ScanRsp:    append([]byte{0x0b, 0x09}, "blell-peer"...),
		IntervalUs: 20000,
		OffsetUs:   5000,
		RSSI:       -52,
	})
	if err := s.scan(100 * time.Millisecond); err != nil {
		return err
	}

	s.step("connecting to " + simPeer.String())
	err := s.c.CreateConnection(cmd.LECreateConnection{
		LEScanInterval:     0x0010,
		LEScanWindow:       0x0010,
		PeerAddressType:    hci.AddressTypePublic,
		PeerAddress:        simPeer.LE(),
		OwnAddressType:     hci.AddressTypePublic,
		ConnIntervalMin:    8,
		ConnIntervalMax:    8,
		SupervisionTimeout: 100,
	})
	if err != nil {
		return errors.Wrap(err, "create connection")
	}
	return s.await("connect", time.Second, func() bool { return s.aclUp })
}

func (s *scenario) startCIS() (*sim.CISPeer, error) {
	s.step("setting up a CIS")
	hs, err := s.c.SetCIGParameters(cmd.LESetCIGParameters{
		CIGID:                   1,
		SDUIntervalCToP:         10000,
		SDUIntervalPToC:         10000,
		Framing:                 cmd.FramingUnframed,
		MaxTransportLatencyCToP: 10,
		MaxTransportLatencyPToC: 10,
		CIS: []cmd.CISParams{{
			MaxSDUCToP: 40,
			MaxSDUPToC: 40,
			PHYCToP:    1,
			PHYPToC:    1,
		}},
	})
	if err != nil {
		return nil, errors.Wrap(err, "set cig parameters")
	}
	s.cis = hs[0]

	peer, err := sim.NewCISPeer(s.cis,
		isoal.DemuxConfig{MaxSDU: 40, ISOIntervalUs: 10000, SDUIntervalUs: 10000},
		1,
		isoal.MuxConfig{MaxPDU: 40, ISOIntervalUs: 10000, SDUIntervalUs: 10000, BN: 1},
	)
	if err != nil {
		return nil, err
	}
	s.radio.AddPeer(peer)

	if err := s.c.CreateCIS([]cmd.CISPair{{CISHandle: s.cis, ACLHandle: s.acl}}); err != nil {
		return nil, errors.Wrap(err, "create cis")
	}
	return peer, s.await("cis", time.Second, func() bool { return s.cisUp })
}

func (s *scenario) startBIG() (*sim.BISSink, error) {
	s.step("starting a BIG")
	sink := sim.NewBISSink()
	s.radio.AddPeer(sink)
	err := s.c.CreateBIG(cmd.LECreateBIG{
		NumBIS:              2,
		SDUInterval:         10000,
		MaxSDU:              40,
		MaxTransportLatency: 10,
		PHY:                 1,
	})
	if err != nil {
		return nil, errors.Wrap(err, "create big")
	}
	return sink, s.await("big", time.Second, func() bool { return s.bigUp })
}

func (s *scenario) run(d time.Duration, withCIS, withBIG bool) error {
	if err := s.connect(); err != nil {
		return err
	}

	var peer *sim.CISPeer
	if withCIS {
		p, err := s.startCIS()
		if err != nil {
			return err
		}
		peer = p
	}
	if withBIG {
		if _, err := s.startBIG(); err != nil {
			return err
		}
	}

	// one SDU each way per SDU interval
	for i := 0; time.Duration(i)*10*time.Millisecond < d; i++ {
		msg := []byte(fmt.Sprintf("sdu %d", i))
		if peer != nil {
			if err := s.c.SendSDU(s.cis, isoal.SDU{Data: msg}); err != nil {
				fmt.Fprintln(s.out, s.stamp(), red.Sprint(err))
			}
			if err := peer.Send(isoal.SDU{Data: msg}); err != nil {
				fmt.Fprintln(s.out, s.stamp(), red.Sprint(err))
			}
		}
		if len(s.bis) > 0 {
			if err := s.c.SendSDU(s.bis[0], isoal.SDU{Data: msg}); err != nil {
				fmt.Fprintln(s.out, s.stamp(), red.Sprint(err))
			}
		}
		s.clock.RunFor(10000, s.settle)
	}

	s.step("disconnecting")
	if err := s.c.Disconnect(s.acl, uint8(hci.ErrRemoteUser)); err != nil {
		return errors.Wrap(err, "disconnect")
	}
	if s.bigUp {
		if err := s.c.TerminateBIG(0, uint8(hci.ErrRemoteUser)); err != nil {
			return errors.Wrap(err, "terminate big")
		}
	}
	s.clock.RunFor(200000, s.settle)

	s.stats(s.c.Stats())
	return nil
}

func (s *scenario) stats(st ll.Stats) {
	fmt.Fprintln(s.out)
	fmt.Fprintf(s.out, "%-12s %10s %10s\n", "role", "granted", "preempted")
	for r := sched.RoleNone + 1; int(r) < sched.NumRoles; r++ {
		if st.Sched.Granted[r] == 0 && st.Sched.Preempted[r] == 0 {
			continue
		}
		fmt.Fprintf(s.out, "%-12s %10d %10d\n", r, st.Sched.Granted[r], st.Sched.Preempted[r])
	}
	fmt.Fprintln(s.out)
	fmt.Fprintf(s.out, "missed anchors        %d\n", st.MissedAnchors)
	fmt.Fprintf(s.out, "supervision timeouts  %d\n", st.SupervisionTimeouts)
	fmt.Fprintf(s.out, "iso sdus sent         %d\n", st.ISOSDUsSent)
	fmt.Fprintf(s.out, "iso sdus received     %d\n", st.ISOSDUsReceived)
}
