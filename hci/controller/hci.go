// Package controller is the HCI side of the link layer: it reads command and
// ISO data packets from a transport, runs them on the link layer's event loop
// and writes the replies and events back.
package controller

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/pkg/errors"
	"github.com/rigado/blell"
	"github.com/rigado/blell/hci"
	"github.com/rigado/blell/hci/evt"
	"github.com/rigado/blell/ll"
	"github.com/rigado/blell/ll/isoal"
	"github.com/rigado/blell/ll/radio"
	"github.com/rigado/blell/ll/tmr"
	"golang.org/x/sync/errgroup"
)

// Transport carries H4 packets, one packet per Read and per Write, each led
// by its packet indicator. A Read returning 0, nil is a timeout.
type Transport interface {
	io.ReadWriteCloser
}

// number of commands the host may have outstanding
const numCmdPkts = 1

const readBufSize = 4096

// HCI binds a link layer controller to a transport.
type HCI struct {
	ll *ll.Controller
	t  Transport

	wmu sync.Mutex

	handlers map[uint16]handler

	// events raised while a command runs are held back until its reply
	// is out
	inCmd   bool
	pending []evt.Event

	logger blell.Logger
}

// New creates the link layer on clock and radio and returns it wired to t.
func New(t Transport, clock tmr.Clock, r radio.Radio, opts ...blell.Option) (*HCI, error) {
	h := &HCI{
		t:      t,
		logger: blell.GetLogger().ChildLogger(map[string]interface{}{"pkg": "hci"}),
	}
	c, err := ll.New(clock, r, h, opts...)
	if err != nil {
		return nil, errors.Wrap(err, "can't create link layer")
	}
	h.ll = c
	h.handlers = h.commands()
	return h, nil
}

// Controller returns the link layer behind h.
func (h *HCI) Controller() *ll.Controller {
	return h.ll
}

// Serve runs the link layer and the transport read loop until ctx is done or
// the transport fails. The transport is closed on return.
func (h *HCI) Serve(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return h.ll.Run(ctx)
	})
	g.Go(func() error {
		<-ctx.Done()
		return h.t.Close()
	})
	g.Go(func() error {
		return h.readLoop(ctx)
	})

	err := g.Wait()
	if errors.Cause(err) == context.Canceled {
		return nil
	}
	return err
}

func (h *HCI) readLoop(ctx context.Context) error {
	b := make([]byte, readBufSize)
	for {
		n, err := h.t.Read(b)

		switch {
		case n == 0 && err == nil:
			// read timeout
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
				continue
			}

		case err != nil:
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}
			if err == io.EOF {
				return err
			}
			return errors.Wrap(err, "transport read")
		}

		p := make([]byte, n)
		copy(p, b)
		if err := h.HandlePacket(p); err != nil {
			h.logger.Warnf("dropped packet: %v", err)
		}
	}
}

// HandlePacket accepts one H4 packet from the host. Commands and ISO data are
// queued on the link layer's loop.
func (h *HCI) HandlePacket(b []byte) error {
	if len(b) == 0 {
		return fmt.Errorf("empty packet")
	}

	// Strip the 1-byte HCI header and pass down the rest of the packet.
	t, b := b[0], b[1:]
	switch t {
	case hci.PktTypeCommand:
		return h.postCommand(b)
	case hci.PktTypeISOData:
		return h.postISO(b)

	case hci.PktTypeACLData:
		return fmt.Errorf("unsupported acl packet: % X", b)
	case hci.PktTypeSCOData:
		return fmt.Errorf("unsupported sco packet: % X", b)
	case hci.PktTypeEvent:
		return fmt.Errorf("unexpected event packet: % X", b)
	default:
		return fmt.Errorf("invalid packet: 0x%02X % X", t, b)
	}
}

func (h *HCI) postISO(b []byte) error {
	var p hci.ISOPacket
	if err := p.Unmarshal(b); err != nil {
		return err
	}
	sdu := isoal.SDU{Data: p.Data, Timestamp: p.Timestamp, SeqNum: p.SeqNum}
	return h.ll.Post(func() {
		if err := h.ll.SendSDU(p.Handle, sdu); err != nil {
			h.logger.Warnf("iso data on %#04x: %v", p.Handle, err)
		}
	})
}

// Event implements ll.Host.
func (h *HCI) Event(e evt.Event) {
	if h.inCmd {
		h.pending = append(h.pending, e)
		return
	}
	h.write(evt.Encode(e))
}

// ISOData implements ll.Host.
func (h *HCI) ISOData(handle uint16, sdu isoal.RxSDU) {
	p := hci.ISOPacket{
		Handle:       handle,
		HasTimestamp: true,
		Timestamp:    sdu.Timestamp,
		SeqNum:       sdu.SeqNum,
		Status:       uint8(sdu.Status),
		Data:         sdu.Data,
	}
	b := p.Marshal()
	h.write(append([]byte{hci.PktTypeISOData}, b...))
}

// write sends one complete H4 packet.
func (h *HCI) write(p []byte) {
	h.wmu.Lock()
	defer h.wmu.Unlock()
	if n, err := h.t.Write(p); err != nil {
		h.logger.Errorf("write: %v", err)
	} else if n != len(p) {
		h.logger.Errorf("short write: %v of %v", n, len(p))
	}
}
