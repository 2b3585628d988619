// Package h4 is the controller end of an H4 UART link.
package h4

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/jacobsa/go-serial/serial"
	"github.com/pkg/errors"
	"github.com/rigado/blell"
)

const (
	rxQueueSize = 64
	readTimeout = time.Second
)

// DefaultOptions are the line settings used when the caller only names the
// port.
func DefaultOptions(port string) serial.OpenOptions {
	return serial.OpenOptions{
		PortName:          port,
		BaudRate:          1000000,
		DataBits:          8,
		StopBits:          1,
		RTSCTSFlowControl: true,
	}
}

type h4 struct {
	sp  io.ReadWriteCloser
	rmu sync.Mutex
	wmu sync.Mutex

	fr      *frame
	rxQueue chan []byte

	done chan struct{}
	cmu  sync.Mutex

	logger blell.Logger
}

// Open opens the serial port and starts reassembling packets from it.
func Open(opts serial.OpenOptions) (io.ReadWriteCloser, error) {
	// force these
	opts.MinimumReadSize = 0
	opts.InterCharacterTimeout = 100

	sp, err := serial.Open(opts)
	if err != nil {
		return nil, errors.Wrapf(err, "can't open %v", opts.PortName)
	}
	return newH4(sp, opts.PortName), nil
}

func newH4(sp io.ReadWriteCloser, name string) *h4 {
	h := &h4{
		sp:      sp,
		done:    make(chan struct{}),
		rxQueue: make(chan []byte, rxQueueSize),
		logger:  blell.GetLogger().ChildLogger(map[string]interface{}{"pkg": "h4", "port": name}),
	}
	h.fr = newFrame(h.rxQueue)

	go h.rxLoop()
	h.logger.Info("opened")
	return h
}

// Read returns one packet, or 0, nil when none arrived within a second.
func (h *h4) Read(p []byte) (int, error) {
	if !h.isOpen() {
		return 0, io.EOF
	}

	h.rmu.Lock()
	defer h.rmu.Unlock()

	select {
	case t := <-h.rxQueue:
		if len(p) < len(t) {
			return 0, fmt.Errorf("buffer too small")
		}
		n := copy(p, t)
		h.logger.Debugf("read [% 0x]", p[:n])
		return n, nil

	case <-h.done:
		return 0, io.EOF

	case <-time.After(readTimeout):
		return 0, nil
	}
}

func (h *h4) Write(p []byte) (int, error) {
	if !h.isOpen() {
		return 0, io.EOF
	}

	h.wmu.Lock()
	defer h.wmu.Unlock()
	n, err := h.sp.Write(p)
	h.logger.Debugf("write [% 0x], %v", p, n)

	return n, errors.Wrap(err, "can't write h4")
}

func (h *h4) Close() error {
	h.cmu.Lock()
	defer h.cmu.Unlock()

	select {
	case <-h.done:
		return nil

	default:
		close(h.done)
		h.logger.Info("closing")
		err := h.sp.Close()
		return errors.Wrap(err, "can't close h4")
	}
}

func (h *h4) isOpen() bool {
	select {
	case <-h.done:
		return false
	default:
		return h.sp != nil
	}
}

func (h *h4) rxLoop() {
	tmp := make([]byte, 512)
	for {
		select {
		case <-h.done:
			return
		default:
		}

		n, err := h.sp.Read(tmp)
		if err == io.EOF {
			h.logger.Warn("port closed")
			h.Close()
			return
		}
		if err != nil || n == 0 {
			continue
		}

		h.fr.Assemble(tmp[:n])
	}
}
