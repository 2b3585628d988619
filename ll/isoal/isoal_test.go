package isoal

import (
	"math/rand"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seq(n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = byte(i)
	}
	return b
}

func unframed(t *testing.T, maxPDU, bn int, isoUs, sduUs uint32) *Mux {
	m, err := NewMux(MuxConfig{MaxPDU: maxPDU, ISOIntervalUs: isoUs, SDUIntervalUs: sduUs, BN: bn})
	require.NoError(t, err)
	return m
}

func TestMuxParams(t *testing.T) {
	tests := []struct {
		name string
		cfg  MuxConfig
	}{
		{"pdu too big", MuxConfig{MaxPDU: 252, ISOIntervalUs: 10000, SDUIntervalUs: 10000, BN: 1}},
		{"zero sdu interval", MuxConfig{MaxPDU: 40, ISOIntervalUs: 10000, BN: 1}},
		{"zero bn", MuxConfig{MaxPDU: 40, ISOIntervalUs: 10000, SDUIntervalUs: 10000}},
		{"interval not a multiple", MuxConfig{MaxPDU: 40, ISOIntervalUs: 15000, SDUIntervalUs: 10000, BN: 1}},
		{"bn not a multiple", MuxConfig{MaxPDU: 40, ISOIntervalUs: 20000, SDUIntervalUs: 10000, BN: 3}},
		{"framed pdu too small", MuxConfig{MaxPDU: 5, ISOIntervalUs: 10000, SDUIntervalUs: 10000, BN: 1, Framed: true}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewMux(tt.cfg)
			require.Error(t, err)
			assert.Equal(t, ErrInvalidParams, errors.Cause(err))
		})
	}
}

func TestUnframedSegmentation(t *testing.T) {
	m := unframed(t, 40, 2, 10000, 10000)
	assert.Equal(t, 80, m.MaxSDU())

	data := seq(60)
	require.NoError(t, m.Enqueue(SDU{Data: data, SeqNum: 7}))
	assert.Equal(t, 1, m.EventStart(1000))

	llid, p := m.PDUGet(0)
	assert.Equal(t, LLIDUnframedStart, llid)
	assert.Equal(t, data[:40], p)

	llid, p = m.PDUGet(1)
	assert.Equal(t, LLIDUnframedEnd, llid)
	assert.Equal(t, data[40:], p)

	// retransmission returns the same PDU
	llid2, p2 := m.PDUGet(1)
	assert.Equal(t, llid, llid2)
	assert.Equal(t, p, p2)

	done, pending := m.EventDone()
	assert.Equal(t, 1, done)
	assert.Equal(t, 0, pending)
	assert.Equal(t, uint32(1), m.SDUCounter())

	sn, ts := m.LastTx()
	assert.Equal(t, uint16(7), sn)
	assert.Equal(t, uint32(1000), ts)
}

func TestUnframedPadding(t *testing.T) {
	m := unframed(t, 40, 2, 10000, 10000)

	// empty queue: zero length PDUs only
	assert.Equal(t, 0, m.EventStart(0))
	for i := 0; i < 2; i++ {
		llid, p := m.PDUGet(i)
		assert.Equal(t, LLIDUnframedStart, llid)
		assert.Empty(t, p)
	}
	done, _ := m.EventDone()
	assert.Equal(t, 0, done)

	// short SDU: end fragment then padding
	require.NoError(t, m.Enqueue(SDU{Data: seq(30)}))
	m.EventStart(10000)
	llid, p := m.PDUGet(0)
	assert.Equal(t, LLIDUnframedEnd, llid)
	assert.Len(t, p, 30)
	llid, p = m.PDUGet(1)
	assert.Equal(t, LLIDUnframedStart, llid)
	assert.Empty(t, p)
	m.EventDone()

	// empty SDU is a complete zero length PDU
	require.NoError(t, m.Enqueue(SDU{}))
	m.EventStart(20000)
	llid, p = m.PDUGet(0)
	assert.Equal(t, LLIDUnframedEnd, llid)
	assert.Empty(t, p)
	done, _ = m.EventDone()
	assert.Equal(t, 1, done)

	// out of range
	llid, p = m.PDUGet(5)
	assert.Equal(t, LLIDUnframedStart, llid)
	assert.Empty(t, p)
}

func TestUnframedSDUsPerEvent(t *testing.T) {
	m := unframed(t, 40, 2, 20000, 10000)
	for i := 0; i < 3; i++ {
		require.NoError(t, m.Enqueue(SDU{Data: seq(10 + i), SeqNum: uint16(i)}))
	}

	assert.Equal(t, 2, m.EventStart(0))
	_, p := m.PDUGet(0)
	assert.Len(t, p, 10)
	_, p = m.PDUGet(1)
	assert.Len(t, p, 11)
	done, pending := m.EventDone()
	assert.Equal(t, 2, done)
	assert.Equal(t, 1, pending)

	assert.Equal(t, 1, m.EventStart(20000))
	_, p = m.PDUGet(0)
	assert.Len(t, p, 12)
	done, pending = m.EventDone()
	assert.Equal(t, 1, done)
	assert.Equal(t, 0, pending)
}

func TestEnqueueLimits(t *testing.T) {
	m, err := NewMux(MuxConfig{MaxPDU: 40, ISOIntervalUs: 10000, SDUIntervalUs: 10000, BN: 1, MaxQueued: 2})
	require.NoError(t, err)

	err = m.Enqueue(SDU{Data: seq(41)})
	assert.Equal(t, ErrSDUTooLong, errors.Cause(err))

	require.NoError(t, m.Enqueue(SDU{}))
	require.NoError(t, m.Enqueue(SDU{}))
	assert.Equal(t, ErrQueueFull, m.Enqueue(SDU{}))
}

func TestFramedSegmentation(t *testing.T) {
	m, err := NewMux(MuxConfig{MaxPDU: 20, ISOIntervalUs: 10000, SDUIntervalUs: 10000, BN: 1, Framed: true})
	require.NoError(t, err)

	data := seq(30)
	require.NoError(t, m.Enqueue(SDU{Data: data, Timestamp: 900}))

	m.EventStart(1000)
	llid, p := m.PDUGet(0)
	assert.Equal(t, LLIDFramed, llid)
	require.Len(t, p, 20)
	assert.Equal(t, uint8(0x00), p[0], "sc=0 cmplt=0")
	assert.Equal(t, uint8(18), p[1])
	assert.Equal(t, uint32(100), uint24(p[2:5]))
	assert.Equal(t, data[:15], p[5:])

	done, pending := m.EventDone()
	assert.Equal(t, 0, done)
	assert.Equal(t, 1, pending)
	assert.True(t, m.Continuing())

	m.EventStart(11000)
	_, p = m.PDUGet(0)
	require.Len(t, p, 17)
	assert.Equal(t, uint8(segHdrSC|segHdrCmplt), p[0])
	assert.Equal(t, uint8(15), p[1])
	assert.Equal(t, data[15:], p[2:])

	done, pending = m.EventDone()
	assert.Equal(t, 1, done)
	assert.Equal(t, 0, pending)
	assert.False(t, m.Continuing())
}

func TestFlushMidEvent(t *testing.T) {
	m, err := NewMux(MuxConfig{MaxPDU: 20, ISOIntervalUs: 10000, SDUIntervalUs: 10000, BN: 1, Framed: true})
	require.NoError(t, err)

	require.NoError(t, m.Enqueue(SDU{Data: seq(30)}))
	require.NoError(t, m.Enqueue(SDU{Data: seq(4)}))
	m.EventStart(1000)
	m.EventDone()
	require.True(t, m.Continuing())

	m.EventStart(11000)
	assert.Equal(t, 2, m.Flush())
	done, pending := m.EventDone()
	assert.Zero(t, done)
	assert.Zero(t, pending)
	assert.False(t, m.Continuing())

	// the next SDU starts a fresh segment
	require.NoError(t, m.Enqueue(SDU{Data: seq(8), Timestamp: 20500}))
	m.EventStart(21000)
	_, p := m.PDUGet(0)
	require.NotEmpty(t, p)
	assert.Equal(t, uint8(segHdrCmplt), p[0])
	done, _ = m.EventDone()
	assert.Equal(t, 1, done)
}

func TestFramedPacksSDUs(t *testing.T) {
	m, err := NewMux(MuxConfig{MaxPDU: 40, ISOIntervalUs: 10000, SDUIntervalUs: 5000, BN: 1, Framed: true})
	require.NoError(t, err)

	require.NoError(t, m.Enqueue(SDU{Data: seq(10)}))
	require.NoError(t, m.Enqueue(SDU{Data: seq(10)}))

	assert.Equal(t, 2, m.EventStart(0))
	_, p := m.PDUGet(0)
	assert.Len(t, p, 2*(5+10))
	done, _ := m.EventDone()
	assert.Equal(t, 2, done)
}

func TestFramedUnsegmented(t *testing.T) {
	m, err := NewMux(MuxConfig{MaxPDU: 40, ISOIntervalUs: 10000, SDUIntervalUs: 5000, BN: 2, Framed: true, FramingMode: 1})
	require.NoError(t, err)

	require.NoError(t, m.Enqueue(SDU{Data: seq(20)}))
	require.NoError(t, m.Enqueue(SDU{Data: seq(30)}))

	m.EventStart(0)
	_, p := m.PDUGet(0)
	assert.Len(t, p, 25)
	_, p = m.PDUGet(1)
	assert.Len(t, p, 35)
	assert.Equal(t, uint8(segHdrCmplt), p[0])
}

func runEvents(t *testing.T, m *Mux, d *Demux, n int, ts uint32) []RxSDU {
	var out []RxSDU
	for i := 0; i < n; i++ {
		m.EventStart(ts)
		d.EventStart(ts)
		for idx := 0; idx < m.Config().BN; idx++ {
			llid, p := m.PDUGet(idx)
			d.PDU(llid, p, true)
		}
		m.EventDone()
		out = append(out, d.EventDone()...)
		ts += m.Config().ISOIntervalUs
	}
	return out
}

func TestUnframedRoundTrip(t *testing.T) {
	m := unframed(t, 27, 4, 20000, 10000)
	d, err := NewDemux(DemuxConfig{MaxSDU: m.MaxSDU(), ISOIntervalUs: 20000, SDUIntervalUs: 10000})
	require.NoError(t, err)

	r := rand.New(rand.NewSource(3))
	var sent [][]byte
	for i := 0; i < 20; i++ {
		b := make([]byte, r.Intn(m.MaxSDU()+1))
		r.Read(b)
		sent = append(sent, b)
		require.NoError(t, m.Enqueue(SDU{Data: b}))
	}

	got := runEvents(t, m, d, 10, 0)
	require.Len(t, got, 20)
	for i, sdu := range got {
		assert.Equal(t, StatusValid, sdu.Status, "sdu %v", i)
		assert.Equal(t, sent[i], sdu.Data, "sdu %v", i)
		assert.Equal(t, uint16(i), sdu.SeqNum)
	}
}

func TestFramedRoundTrip(t *testing.T) {
	m, err := NewMux(MuxConfig{MaxPDU: 30, ISOIntervalUs: 10000, SDUIntervalUs: 10000, BN: 2, Framed: true})
	require.NoError(t, err)
	d, err := NewDemux(DemuxConfig{MaxSDU: 100, ISOIntervalUs: 10000, SDUIntervalUs: 10000, Framed: true})
	require.NoError(t, err)

	r := rand.New(rand.NewSource(4))
	var sent []SDU
	for i := 0; i < 20; i++ {
		b := make([]byte, r.Intn(51))
		r.Read(b)
		sdu := SDU{Data: b, Timestamp: uint32(i * 10)}
		sent = append(sent, sdu)
		require.NoError(t, m.Enqueue(sdu))
	}

	var got []RxSDU
	ts := uint32(1000)
	for i := 0; i < 200 && m.Queued() > 0; i++ {
		got = append(got, runEvents(t, m, d, 1, ts)...)
		ts += 10000
	}
	require.Equal(t, 0, m.Queued())
	require.Len(t, got, len(sent))

	for i, sdu := range got {
		assert.Equal(t, StatusValid, sdu.Status, "sdu %v", i)
		assert.Equal(t, len(sent[i].Data), len(sdu.Data), "sdu %v", i)
		if len(sent[i].Data) > 0 {
			assert.Equal(t, sent[i].Data, sdu.Data, "sdu %v", i)
		}
		assert.Equal(t, sent[i].Timestamp, sdu.Timestamp, "sdu %v", i)
	}
}

func TestDemuxLoss(t *testing.T) {
	d, err := NewDemux(DemuxConfig{MaxSDU: 80, ISOIntervalUs: 10000, SDUIntervalUs: 10000})
	require.NoError(t, err)

	// start fragment lost
	d.EventStart(0)
	d.PDU(0, nil, false)
	d.PDU(LLIDUnframedEnd, seq(10), true)
	out := d.EventDone()
	require.Len(t, out, 1)
	assert.Equal(t, StatusLost, out[0].Status)

	// nothing received
	d.EventStart(10000)
	out = d.EventDone()
	require.Len(t, out, 1)
	assert.Equal(t, StatusLost, out[0].Status)
	assert.Empty(t, out[0].Data)
	assert.Equal(t, uint16(1), out[0].SeqNum)

	// clean SDU after the losses
	d.EventStart(20000)
	d.PDU(LLIDUnframedStart, seq(40), true)
	d.PDU(LLIDUnframedEnd, seq(5), true)
	out = d.EventDone()
	require.Len(t, out, 1)
	assert.Equal(t, StatusValid, out[0].Status)
	assert.Len(t, out[0].Data, 45)
}

func TestDemuxOverlong(t *testing.T) {
	d, err := NewDemux(DemuxConfig{MaxSDU: 8, ISOIntervalUs: 10000, SDUIntervalUs: 10000})
	require.NoError(t, err)

	d.EventStart(0)
	d.PDU(LLIDUnframedEnd, seq(10), true)
	out := d.EventDone()
	require.Len(t, out, 1)
	assert.Equal(t, StatusInvalid, out[0].Status)
	assert.Len(t, out[0].Data, 8)
}

func TestISOTestMode(t *testing.T) {
	for _, typ := range []PayloadType{PayloadZero, PayloadVariable, PayloadMax} {
		t.Run(typ.String(), func(t *testing.T) {
			m := unframed(t, 40, 1, 10000, 10000)
			d, err := NewDemux(DemuxConfig{MaxSDU: m.MaxSDU(), ISOIntervalUs: 10000, SDUIntervalUs: 10000})
			require.NoError(t, err)

			gen, err := NewTestGenerator(typ, m.MaxSDU(), 1)
			require.NoError(t, err)
			cnt, err := NewTestCounters(typ, m.MaxSDU())
			require.NoError(t, err)

			ts := uint32(0)
			for i := 0; i < 5; i++ {
				require.NoError(t, m.Enqueue(gen.Next(ts)))
				for _, sdu := range runEvents(t, m, d, 1, ts) {
					cnt.Check(sdu)
				}
				ts += 10000
			}

			assert.Equal(t, uint32(5), gen.Counter())
			assert.Equal(t, uint32(5), cnt.Received)
			assert.Zero(t, cnt.Missed)
			assert.Zero(t, cnt.Failed)
		})
	}
}

func TestTestCountersGap(t *testing.T) {
	gen, err := NewTestGenerator(PayloadMax, 16, 1)
	require.NoError(t, err)
	cnt, err := NewTestCounters(PayloadMax, 16)
	require.NoError(t, err)

	cnt.Check(RxSDU{SDU: gen.Next(0)})
	gen.Next(0) // dropped on air
	gen.Next(0)
	cnt.Check(RxSDU{SDU: gen.Next(0)})
	cnt.Check(RxSDU{Status: StatusLost})
	cnt.Check(RxSDU{SDU: SDU{Data: seq(3)}})

	assert.Equal(t, uint32(2), cnt.Received)
	assert.Equal(t, uint32(3), cnt.Missed)
	assert.Equal(t, uint32(1), cnt.Failed)
}

func TestPayloadTypeValidation(t *testing.T) {
	_, err := NewTestGenerator(PayloadType(3), 16, 1)
	assert.Equal(t, ErrInvalidPayloadType, errors.Cause(err))

	_, err = NewTestGenerator(PayloadMax, 2, 1)
	assert.Error(t, err)

	_, err = NewTestCounters(PayloadType(9), 16)
	assert.Error(t, err)
}
