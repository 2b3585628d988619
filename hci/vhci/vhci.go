//go:build linux
// +build linux

// Package vhci attaches the controller to the Linux kernel as a virtual HCI
// device, so the host stack of the machine drives it like real hardware.
package vhci

import (
	"fmt"
	"io"
	"sync"

	"github.com/pkg/errors"
	"github.com/rigado/blell"
	"golang.org/x/sys/unix"
)

const (
	devPath        = "/dev/vhci"
	readTimeout    = 1000
	unixPollErrors = int16(unix.POLLHUP | unix.POLLNVAL | unix.POLLERR)
	unixPollDataIn = int16(unix.POLLIN)

	pktTypeVendor  = 0xff
	devTypePrimary = 0x00
)

// VHCI is a virtual HCI device as a ReadWriteCloser. Each Read returns one
// packet from the kernel's host stack.
type VHCI struct {
	fd    int
	index uint16
	rmu   sync.Mutex
	wmu   sync.Mutex
	done  chan struct{}
	cmu   sync.Mutex

	logger blell.Logger
}

// Open creates the virtual device. The kernel names it hciN, N being Index.
func Open() (*VHCI, error) {
	fd, err := unix.Open(devPath, unix.O_RDWR|unix.O_CLOEXEC, 0)
	if err != nil {
		return nil, errors.Wrapf(err, "can't open %v", devPath)
	}

	// ask for a primary controller; the kernel answers with the index
	if _, err := unix.Write(fd, []byte{pktTypeVendor, devTypePrimary}); err != nil {
		unix.Close(fd)
		return nil, errors.Wrap(err, "can't create vhci device")
	}
	b := make([]byte, 16)
	n, err := unix.Read(fd, b)
	if err != nil {
		unix.Close(fd)
		return nil, errors.Wrap(err, "can't read vhci index")
	}
	if n < 4 || b[0] != pktTypeVendor {
		unix.Close(fd)
		return nil, fmt.Errorf("unexpected vhci reply % X", b[:n])
	}

	v := &VHCI{
		fd:    fd,
		index: uint16(b[2]) | uint16(b[3])<<8,
		done:  make(chan struct{}),
	}
	v.logger = blell.GetLogger().ChildLogger(map[string]interface{}{"pkg": "vhci", "dev": v.Name()})
	v.logger.Info("created")
	return v, nil
}

// Index is the kernel's device index.
func (v *VHCI) Index() uint16 {
	return v.index
}

func (v *VHCI) Name() string {
	return fmt.Sprintf("hci%d", v.index)
}

func (v *VHCI) Read(p []byte) (int, error) {
	if !v.isOpen() {
		return 0, io.EOF
	}

	v.rmu.Lock()
	defer v.rmu.Unlock()

	pfds := []unix.PollFd{{Fd: int32(v.fd), Events: unixPollDataIn}}
	unix.Poll(pfds, readTimeout)
	evts := pfds[0].Revents

	var n int
	var err error
	switch {
	case evts&unixPollErrors != 0:
		v.logger.Errorf("poll events 0x%04x", evts)
		return 0, io.EOF

	case evts&unixPollDataIn != 0:
		n, err = unix.Read(v.fd, p)

	default:
		// read timeout
		return 0, nil
	}

	if !v.isOpen() {
		return 0, io.EOF
	}
	if err == nil && n > 0 && p[0] == pktTypeVendor {
		// device management, not for the controller
		return 0, nil
	}
	return n, errors.Wrap(err, "can't read vhci")
}

func (v *VHCI) Write(p []byte) (int, error) {
	if !v.isOpen() {
		return 0, io.EOF
	}

	v.wmu.Lock()
	defer v.wmu.Unlock()
	n, err := unix.Write(v.fd, p)
	return n, errors.Wrap(err, "can't write vhci")
}

// Close removes the device from the kernel.
func (v *VHCI) Close() error {
	v.cmu.Lock()
	defer v.cmu.Unlock()

	select {
	case <-v.done:
		return nil

	default:
		close(v.done)
		v.logger.Info("closing")
		v.rmu.Lock()
		err := unix.Close(v.fd)
		v.rmu.Unlock()

		return errors.Wrap(err, "can't close vhci")
	}
}

func (v *VHCI) isOpen() bool {
	select {
	case <-v.done:
		return false
	default:
		return true
	}
}
