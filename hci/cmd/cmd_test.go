package cmd

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/rigado/blell/hci"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUnmarshalLength(t *testing.T) {
	var c LESetScanParameters
	err := c.Unmarshal([]byte{0x01, 0x10, 0x00, 0x10, 0x00, 0x00})
	require.Error(t, err)
	assert.Equal(t, uint8(hci.ErrInvalidParams), hci.StatusOf(err))

	require.NoError(t, c.Unmarshal([]byte{0x01, 0x10, 0x00, 0x08, 0x00, 0x00, 0x00}))
	assert.Equal(t, uint16(0x10), c.LEScanInterval)
	assert.Equal(t, uint16(0x08), c.LEScanWindow)

	var r Reset
	assert.NoError(t, r.Unmarshal(nil))
	assert.Error(t, r.Unmarshal([]byte{0}))
}

func TestMarshalShortBuffer(t *testing.T) {
	c := Disconnect{ConnectionHandle: 0x0001, Reason: 0x13}
	b := make([]byte, c.Len())
	require.NoError(t, c.Marshal(b))
	assert.Equal(t, []byte{0x01, 0x00, 0x13}, b)

	assert.Error(t, c.Marshal(make([]byte, 2)))
}

func TestCIGParameters(t *testing.T) {
	c := LESetCIGParameters{
		CIGID:                   1,
		SDUIntervalCToP:         10000,
		SDUIntervalPToC:         10000,
		MaxTransportLatencyCToP: 20,
		MaxTransportLatencyPToC: 20,
		CIS: []CISParams{
			{CISID: 0, MaxSDUCToP: 40, MaxSDUPToC: 40, PHYCToP: 1, PHYPToC: 1},
			{CISID: 1, MaxSDUCToP: 100, PHYCToP: 2, PHYPToC: 2, RTNCToP: 2},
		},
	}
	b := make([]byte, c.Len())
	require.NoError(t, c.Marshal(b))
	require.Len(t, b, 33)
	assert.Equal(t, []byte{0x10, 0x27, 0x00}, b[1:4])

	var d LESetCIGParameters
	require.NoError(t, d.Unmarshal(b))
	assert.Equal(t, c, d)
	assert.NoError(t, ValidateCIGParams(d))

	// count says two entries, one present
	assert.Error(t, d.Unmarshal(b[:24]))
	assert.Error(t, d.Unmarshal(b[:10]))
}

func TestCIGParametersRP(t *testing.T) {
	rp := LESetCIGParametersRP{CIGID: 3, ConnectionHandles: []uint16{0x0100, 0x0101}}
	b := rp.Marshal()
	assert.Equal(t, []byte{0x00, 0x03, 0x02, 0x00, 0x01, 0x01, 0x01}, b)

	var d LESetCIGParametersRP
	require.NoError(t, d.Unmarshal(b))
	assert.Equal(t, rp, d)
}

func TestCreateCIS(t *testing.T) {
	var c LECreateCIS
	require.NoError(t, c.Unmarshal([]byte{1, 0x00, 0x01, 0x02, 0x00}))
	require.Len(t, c.CIS, 1)
	assert.Equal(t, CISPair{CISHandle: 0x0100, ACLHandle: 0x0002}, c.CIS[0])

	assert.Error(t, c.Unmarshal([]byte{2, 0x00, 0x01, 0x02, 0x00}))
	assert.Error(t, c.Unmarshal(nil))
}

func TestCreateBIG(t *testing.T) {
	c := LECreateBIG{
		BIGHandle:           1,
		NumBIS:              2,
		SDUInterval:         10000,
		MaxSDU:              100,
		MaxTransportLatency: 20,
		RTN:                 2,
		PHY:                 2,
	}
	b := make([]byte, c.Len())
	require.NoError(t, c.Marshal(b))

	var d LECreateBIG
	require.NoError(t, d.Unmarshal(b))
	assert.Equal(t, c, d)
	assert.NoError(t, ValidateBIGParams(d))

	d.PHY = 0
	assert.Error(t, ValidateBIGParams(d))
	d.PHY = 2
	d.NumBIS = 0
	assert.Error(t, ValidateBIGParams(d))
}

func TestTestCountersRP(t *testing.T) {
	rp := ISOTestCountersRP{ConnectionHandle: 0x0100, ReceivedSDUCount: 5}
	b := rp.Marshal()
	require.Len(t, b, 15)

	var d ISOTestCountersRP
	require.NoError(t, d.Unmarshal(b))
	assert.Equal(t, rp, d)
	assert.Error(t, d.Unmarshal(b[:14]))
}

func TestValidateConnParams(t *testing.T) {
	good := LECreateConnection{
		LEScanInterval:     0x0040,
		LEScanWindow:       0x0040,
		ConnIntervalMin:    0x0006,
		ConnIntervalMax:    0x0006,
		SupervisionTimeout: 0x0400,
	}
	require.NoError(t, ValidateConnParams(good))

	tests := map[string]func(p *LECreateConnection){
		"window > interval":  func(p *LECreateConnection) { p.LEScanWindow = 0x0041 },
		"interval min > max": func(p *LECreateConnection) { p.ConnIntervalMin = 0x0010 },
		"interval too short": func(p *LECreateConnection) { p.ConnIntervalMin, p.ConnIntervalMax = 5, 5 },
		"latency":            func(p *LECreateConnection) { p.ConnLatency = 0x01f4 },
		// 3 * 100 ms * 1.25 * 2 = 750 ms > 100 ms
		"timeout too small": func(p *LECreateConnection) {
			p.ConnIntervalMax = 80
			p.ConnLatency = 2
			p.SupervisionTimeout = 10
		},
		"peer address type": func(p *LECreateConnection) { p.PeerAddressType = 2 },
	}
	for name, mod := range tests {
		t.Run(name, func(t *testing.T) {
			p := good
			mod(&p)
			err := ValidateConnParams(p)
			require.Error(t, err)
			assert.Equal(t, hci.ErrInvalidParams, errors.Cause(err))
		})
	}
}

func TestValidateScanParams(t *testing.T) {
	p := LESetScanParameters{LEScanType: 1, LEScanInterval: 0x10, LEScanWindow: 0x10}
	assert.NoError(t, ValidateScanParams(p))
	p.LEScanType = 2
	assert.Error(t, ValidateScanParams(p))
}

func TestValidateAdvParams(t *testing.T) {
	p := LESetAdvertisingParameters{
		AdvertisingIntervalMin: 0x20,
		AdvertisingIntervalMax: 0x20,
		AdvertisingChannelMap:  0x07,
	}
	assert.NoError(t, ValidateAdvParams(p))
	p.AdvertisingChannelMap = 0
	assert.Error(t, ValidateAdvParams(p))
}
