package isoal

import (
	"encoding/binary"
	"math/rand"

	"github.com/pkg/errors"
)

// PayloadType selects the SDUs generated and expected by the ISO test mode
// (LE ISO Transmit Test / LE ISO Receive Test).
type PayloadType uint8

const (
	PayloadZero     PayloadType = 0x00
	PayloadVariable PayloadType = 0x01
	PayloadMax      PayloadType = 0x02
)

const counterLen = 4

var ErrInvalidPayloadType = errors.New("isoal: invalid payload type")

func (p PayloadType) String() string {
	switch p {
	case PayloadZero:
		return "zero"
	case PayloadVariable:
		return "variable"
	case PayloadMax:
		return "max"
	default:
		return "unknown"
	}
}

func (p PayloadType) valid() bool {
	return p <= PayloadMax
}

// TestGenerator builds the SDUs of a transmit test. Every non-empty SDU starts
// with a 32-bit little endian counter.
type TestGenerator struct {
	typ    PayloadType
	maxSDU int
	rnd    *rand.Rand

	counter uint32
	seqNum  uint16
}

// NewTestGenerator returns a generator for SDUs up to maxSDU octets. seed
// drives the lengths of variable payloads.
func NewTestGenerator(typ PayloadType, maxSDU int, seed int64) (*TestGenerator, error) {
	if !typ.valid() {
		return nil, errors.Wrapf(ErrInvalidPayloadType, "%#x", uint8(typ))
	}
	if typ != PayloadZero && maxSDU < counterLen {
		return nil, errors.Wrapf(ErrInvalidParams, "max sdu %v too small for payload %v", maxSDU, typ)
	}
	return &TestGenerator{
		typ:    typ,
		maxSDU: maxSDU,
		rnd:    rand.New(rand.NewSource(seed)),
	}, nil
}

// Next returns the next test SDU stamped with timestamp.
func (g *TestGenerator) Next(timestamp uint32) SDU {
	var n int
	switch g.typ {
	case PayloadZero:
		n = 0
	case PayloadVariable:
		n = counterLen + g.rnd.Intn(g.maxSDU-counterLen+1)
	case PayloadMax:
		n = g.maxSDU
	}

	data := make([]byte, n)
	if n >= counterLen {
		binary.LittleEndian.PutUint32(data, g.counter)
	}
	g.counter++

	sdu := SDU{Data: data, Timestamp: timestamp, SeqNum: g.seqNum}
	g.seqNum++
	return sdu
}

// Counter returns the counter the next SDU will carry.
func (g *TestGenerator) Counter() uint32 {
	return g.counter
}

// TestCounters tracks a receive test. A clean flow only ever increments
// Received.
type TestCounters struct {
	Received uint32
	Missed   uint32
	Failed   uint32

	typ      PayloadType
	maxSDU   int
	expected uint32
}

// NewTestCounters returns zeroed counters for a receive test.
func NewTestCounters(typ PayloadType, maxSDU int) (*TestCounters, error) {
	if !typ.valid() {
		return nil, errors.Wrapf(ErrInvalidPayloadType, "%#x", uint8(typ))
	}
	return &TestCounters{typ: typ, maxSDU: maxSDU}, nil
}

// Check accounts for one received SDU.
func (c *TestCounters) Check(sdu RxSDU) {
	switch sdu.Status {
	case StatusLost:
		c.Missed++
		c.expected++
		return
	case StatusInvalid:
		c.Failed++
		c.expected++
		return
	}

	n := len(sdu.Data)
	switch c.typ {
	case PayloadZero:
		if n != 0 {
			c.Failed++
		} else {
			c.Received++
		}
		c.expected++
		return
	case PayloadVariable:
		if n < counterLen || n > c.maxSDU {
			c.Failed++
			c.expected++
			return
		}
	case PayloadMax:
		if n != c.maxSDU {
			c.Failed++
			c.expected++
			return
		}
	}

	got := counterOf(sdu.Data)
	d := int32(got - c.expected)
	switch {
	case d == 0:
		c.Received++
	case d > 0:
		c.Missed += uint32(d)
		c.Received++
	default:
		// stale or duplicated
		c.Failed++
		return
	}
	c.expected = got + 1
}
