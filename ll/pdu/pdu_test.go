package pdu

import (
	"testing"

	"github.com/rigado/blell/ll/chsel"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAdvHeader(t *testing.T) {
	p := NewAdvInd(TypeAdvInd, [6]byte{1, 2, 3, 4, 5, 6}, true, []byte{2, 1, 6})
	b := p.Marshal()
	require.Len(t, b, 11)
	// ChSel and TxAdd set
	assert.Equal(t, byte(0x60), b[0])
	assert.Equal(t, byte(9), b[1])

	var q Adv
	require.NoError(t, q.Unmarshal(b))
	assert.Equal(t, p, q)
	assert.True(t, q.Connectable())
	assert.True(t, q.Scannable())
	assert.Equal(t, []byte{2, 1, 6}, q.Data())

	a, err := q.AdvA()
	require.NoError(t, err)
	assert.Equal(t, [6]byte{1, 2, 3, 4, 5, 6}, a)

	assert.Error(t, q.Unmarshal(b[:10]))
}

func TestConnectInd(t *testing.T) {
	c := ConnectInd{
		InitA:     [6]byte{0xaa, 1, 2, 3, 4, 5},
		AdvA:      [6]byte{0xbb, 1, 2, 3, 4, 5},
		AA:        0x71764129,
		CRCInit:   0x123456,
		WinSize:   2,
		WinOffset: 1,
		Interval:  24,
		Latency:   0,
		Timeout:   100,
		ChM:       chsel.ChanMapAll,
		Hop:       9,
		SCA:       5,
	}
	b := c.Marshal()
	require.Len(t, b, 34)
	assert.Equal(t, byte(9|5<<5), b[33])

	var d ConnectInd
	require.NoError(t, d.Unmarshal(b))
	assert.Equal(t, c, d)

	p := c.PDU(true, false, false)
	a, err := p.AdvA()
	require.NoError(t, err)
	assert.Equal(t, c.AdvA, a)
}

func TestAck(t *testing.T) {
	var central, peripheral Ack

	m := Data{LLID: LLIDContinue}
	central.Stamp(&m)
	_, fresh := peripheral.Rx(m)
	assert.True(t, fresh)

	s := Data{LLID: LLIDContinue}
	peripheral.Stamp(&s)
	acked, fresh := central.Rx(s)
	assert.True(t, acked)
	assert.True(t, fresh)

	// central retransmits nothing new; the peripheral sees its PDU acked
	central.Stamp(&m)
	acked, fresh = peripheral.Rx(m)
	assert.True(t, acked)
	assert.True(t, fresh)

	// a repeated PDU is not fresh
	_, fresh = peripheral.Rx(m)
	assert.False(t, fresh)
}

func TestControl(t *testing.T) {
	u := &ConnectionUpdateInd{WinSize: 1, Interval: 40, Timeout: 200, Instant: 106}
	d := ControlPDU(u)
	b := d.Marshal()

	var r Data
	require.NoError(t, r.Unmarshal(b))
	c, err := ParseControl(r)
	require.NoError(t, err)
	assert.Equal(t, u, c)

	m := &ChannelMapInd{ChM: chsel.ChanMap{0xff, 0, 0, 0, 0}, Instant: 7}
	c, err = ParseControl(ControlPDU(m))
	require.NoError(t, err)
	assert.Equal(t, m, c)

	_, err = ParseControl(Data{LLID: LLIDControl, Payload: []byte{0x30}})
	assert.Error(t, err)
}

func TestInstantPassed(t *testing.T) {
	assert.False(t, InstantPassed(10, 10))
	assert.False(t, InstantPassed(10, 16))
	assert.True(t, InstantPassed(17, 16))
	assert.False(t, InstantPassed(0xfffe, 2))
	assert.True(t, InstantPassed(3, 0xfffe))
}

func TestAirtime(t *testing.T) {
	assert.Equal(t, uint32(80), Airtime(0))
	assert.Equal(t, uint32(352), Airtime(34))
}
