package h4

import (
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func collect(c chan []byte) [][]byte {
	var out [][]byte
	for {
		select {
		case p := <-c:
			out = append(out, p)
		default:
			return out
		}
	}
}

func TestFrameSplitsStream(t *testing.T) {
	reset := []byte{0x01, 0x03, 0x0c, 0x00}
	disc := []byte{0x01, 0x06, 0x04, 0x03, 0x40, 0x00, 0x13}
	iso := []byte{0x05, 0x01, 0x20, 0x05, 0x00, 0x00, 0x00, 0x01, 0x00, 0xaa}

	var stream []byte
	stream = append(stream, 0xff, 0x00) // line noise
	stream = append(stream, reset...)
	stream = append(stream, disc...)
	stream = append(stream, iso...)

	for _, chunk := range []int{1, 2, 3, 7, len(stream)} {
		c := make(chan []byte, 8)
		f := newFrame(c)
		for i := 0; i < len(stream); i += chunk {
			end := i + chunk
			if end > len(stream) {
				end = len(stream)
			}
			f.Assemble(stream[i:end])
		}
		got := collect(c)
		require.Len(t, got, 3, "chunk %d", chunk)
		assert.Equal(t, reset, got[0])
		assert.Equal(t, disc, got[1])
		assert.Equal(t, iso, got[2])
	}
}

func TestFrameDropsStalePartial(t *testing.T) {
	c := make(chan []byte, 8)
	f := newFrame(c)
	now := time.Unix(0, 0)
	f.now = func() time.Time { return now }

	f.Assemble([]byte{0x01, 0x06, 0x04, 0x03, 0x40})
	now = now.Add(time.Second)
	f.Assemble([]byte{0x01, 0x03, 0x0c, 0x00})

	got := collect(c)
	require.Len(t, got, 1)
	assert.Equal(t, []byte{0x01, 0x03, 0x0c, 0x00}, got[0])
}

// port is one end of an in-memory serial line.
type port struct {
	r *io.PipeReader
	w *io.PipeWriter
}

func (p *port) Read(b []byte) (int, error)  { return p.r.Read(b) }
func (p *port) Write(b []byte) (int, error) { return p.w.Write(b) }
func (p *port) Close() error {
	p.r.Close()
	return p.w.Close()
}

func TestReadWrite(t *testing.T) {
	hostR, devW := io.Pipe()
	devR, hostW := io.Pipe()
	h := newH4(&port{r: devR, w: devW}, "pipe")

	go hostW.Write([]byte{0x01, 0x03, 0x0c, 0x00})
	b := make([]byte, 64)
	n, err := h.Read(b)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x01, 0x03, 0x0c, 0x00}, b[:n])

	evt := []byte{0x04, 0x0e, 0x04, 0x01, 0x03, 0x0c, 0x00}
	got := make(chan []byte, 1)
	go func() {
		r := make([]byte, len(evt))
		_, err := io.ReadFull(hostR, r)
		if err == nil {
			got <- r
		}
	}()
	n, err = h.Write(evt)
	require.NoError(t, err)
	assert.Equal(t, len(evt), n)
	assert.Equal(t, evt, <-got)

	require.NoError(t, h.Close())
	require.NoError(t, h.Close())
	_, err = h.Read(b)
	assert.Equal(t, io.EOF, err)
}
