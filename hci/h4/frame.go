package h4

import (
	"fmt"
	"time"

	"github.com/rigado/blell/hci"
)

const frameTimeout = 500 * time.Millisecond

// header length and position of the length field per packet type
type layout struct {
	hdr    int
	lenOff int
	len16  bool
	mask   uint16
}

var layouts = map[byte]layout{
	hci.PktTypeCommand: {hdr: 4, lenOff: 3},
	hci.PktTypeACLData: {hdr: 5, lenOff: 3, len16: true, mask: 0xffff},
	hci.PktTypeISOData: {hdr: 5, lenOff: 3, len16: true, mask: 0x3fff},
	hci.PktTypeEvent:   {hdr: 3, lenOff: 2},
}

// frame reassembles H4 packets from a byte stream. A partial packet is
// dropped when the rest does not arrive within frameTimeout.
type frame struct {
	b       []byte
	timeout time.Time
	out     chan []byte
	now     func() time.Time
}

func newFrame(c chan []byte) *frame {
	return &frame{
		b:   make([]byte, 0, 256),
		out: c,
		now: time.Now,
	}
}

func (f *frame) Assemble(b []byte) {
	if len(b) == 0 {
		return
	}
	if len(f.b) > 0 && f.now().After(f.timeout) {
		f.reset()
	}

	if len(f.b) == 0 {
		if err := f.waitStart(b); err != nil {
			return
		}
	} else {
		f.b = append(f.b, b...)
	}

	for {
		rf, err := f.frame()
		if err != nil {
			return
		}
		out := make([]byte, len(rf))
		copy(out, rf)
		f.out <- out

		rem := f.b[len(rf):]
		f.reset()
		if len(rem) == 0 {
			return
		}
		if err := f.waitStart(rem); err != nil {
			return
		}
	}
}

func (f *frame) reset() {
	f.b = make([]byte, 0, 256)
	f.timeout = time.Time{}
}

// waitStart skips to the first byte that is a packet indicator.
func (f *frame) waitStart(b []byte) error {
	for i, v := range b {
		if _, ok := layouts[v]; !ok {
			continue
		}
		f.timeout = f.now().Add(frameTimeout)
		f.b = append(f.b, b[i:]...)
		return nil
	}
	return fmt.Errorf("couldnt find start byte")
}

func (f *frame) dataLength() (int, error) {
	l, ok := layouts[f.b[0]]
	if !ok {
		return 0, fmt.Errorf("invalid packet type %v", f.b[0])
	}
	if len(f.b) < l.hdr {
		return 0, fmt.Errorf("not enough bytes")
	}
	if !l.len16 {
		return l.hdr + int(f.b[l.lenOff]), nil
	}
	n := (uint16(f.b[l.lenOff]) | uint16(f.b[l.lenOff+1])<<8) & l.mask
	return l.hdr + int(n), nil
}

func (f *frame) frame() ([]byte, error) {
	tl, err := f.dataLength()
	if err != nil {
		return nil, err
	}
	if len(f.b) < tl {
		return nil, fmt.Errorf("not enough bytes")
	}
	return f.b[:tl], nil
}
