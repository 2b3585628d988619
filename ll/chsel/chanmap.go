// Package chsel implements the link layer data channel selection algorithms:
// legacy remapping, CSA#1, CSA#2 and the CSA#2 isochronous event and subevent
// variants [Vol 6, Part B, 4.5.8].
package chsel

import (
	"encoding/hex"
	"math/bits"

	"github.com/pkg/errors"
)

// NumDataChans is the number of data channels.
const NumDataChans = 37

// ChanMapLen is the length in bytes of an encoded channel map.
const ChanMapLen = 5

// ChanMap is a 37-bit bitmap of usable data channels, LSB of byte 0 is channel 0.
type ChanMap [ChanMapLen]byte

// ChanMapAll marks every data channel as usable.
var ChanMapAll = ChanMap{0xff, 0xff, 0xff, 0xff, 0x1f}

// ErrInvalidChanMap is returned for maps with fewer than 2 usable channels or RFU bits set.
var ErrInvalidChanMap = errors.New("invalid channel map")

// ParseChanMap decodes a channel map from its 5-byte wire form.
func ParseChanMap(b []byte) (ChanMap, error) {
	var m ChanMap
	if len(b) != ChanMapLen {
		return m, errors.Wrapf(ErrInvalidChanMap, "length %v", len(b))
	}
	copy(m[:], b)
	if !m.Valid() {
		return m, errors.Wrapf(ErrInvalidChanMap, "%v", m)
	}
	return m, nil
}

// IsUsed reports whether channel ch is marked usable.
func (m ChanMap) IsUsed(ch uint8) bool {
	if ch >= NumDataChans {
		return false
	}
	return m[ch>>3]&(1<<(ch&0x07)) != 0
}

// Set marks channel ch usable.
func (m *ChanMap) Set(ch uint8) {
	if ch < NumDataChans {
		m[ch>>3] |= 1 << (ch & 0x07)
	}
}

// Clear marks channel ch unusable.
func (m *ChanMap) Clear(ch uint8) {
	if ch < NumDataChans {
		m[ch>>3] &^= 1 << (ch & 0x07)
	}
}

// Used returns the number of usable channels.
func (m ChanMap) Used() uint8 {
	n := 0
	for i, b := range m {
		if i == ChanMapLen-1 {
			b &= 0x1f
		}
		n += bits.OnesCount8(b)
	}
	return uint8(n)
}

// Valid reports whether the map has between 2 and 37 usable channels and no RFU bits set.
func (m ChanMap) Valid() bool {
	if m[ChanMapLen-1]&0xe0 != 0 {
		return false
	}
	return m.Used() >= 2
}

// And returns the channels usable in both maps.
func (m ChanMap) And(o ChanMap) ChanMap {
	var r ChanMap
	for i := range m {
		r[i] = m[i] & o[i]
	}
	return r
}

// Channels lists the usable channels in ascending order.
func (m ChanMap) Channels() []uint8 {
	out := make([]uint8, 0, NumDataChans)
	for ch := uint8(0); ch < NumDataChans; ch++ {
		if m.IsUsed(ch) {
			out = append(out, ch)
		}
	}
	return out
}

func (m ChanMap) String() string {
	return hex.EncodeToString(m[:])
}
