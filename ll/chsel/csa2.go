package chsel

import "math/bits"

// ChannelID derives the CSA#2 channel identifier from an access address.
func ChannelID(aa uint32) uint16 {
	return uint16(aa>>16) ^ uint16(aa)
}

// Perm reverses the bit order within each byte of v. math/bits lowers to
// RBIT/REV16 where the target has them.
func Perm(v uint16) uint16 {
	return bits.ReverseBytes16(bits.Reverse16(v))
}

// PermSoftware is the portable mask-and-shift form of Perm.
func PermSoftware(v uint16) uint16 {
	v = ((v >> 1) & 0x5555) | ((v & 0x5555) << 1)
	v = ((v >> 2) & 0x3333) | ((v & 0x3333) << 2)
	v = ((v >> 4) & 0x0f0f) | ((v & 0x0f0f) << 4)
	return v
}

// MAM is the multiply, add and modulo step: (17*a + b) mod 2^16.
func MAM(a, b uint16) uint16 {
	return uint16((17*uint32(a) + uint32(b)) % 65536)
}

func prnS(counter, chanID uint16) uint16 {
	p := counter ^ chanID
	for i := 0; i < 3; i++ {
		p = Perm(p)
		p = MAM(p, chanID)
	}
	return p
}

// PRN returns prn_e for the event counter.
func PRN(counter, chanID uint16) uint16 {
	return prnS(counter, chanID) ^ chanID
}

// CSA2 runs Channel Selection Algorithm #2 for one event.
func CSA2(counter, chanID uint16, m ChanMap) uint8 {
	prnE := PRN(counter, chanID)

	ch := uint8(prnE % NumDataChans)
	if m.IsUsed(ch) {
		return ch
	}

	idx := uint8((uint32(m.Used()) * uint32(prnE)) >> 16)
	return Remap(idx, m)
}

// ISOState carries the CSA#2 state between the subevents of one isochronous
// event.
type ISOState struct {
	chanID   uint16
	m        ChanMap
	used     uint8
	prnSubLU uint16
	remapIdx uint8
}

// ISOEvent selects the channel of the first subevent of an isochronous event
// and returns the state needed for the remaining subevents.
func ISOEvent(counter, chanID uint16, m ChanMap) (uint8, *ISOState) {
	st := &ISOState{
		chanID: chanID,
		m:      m,
		used:   m.Used(),
	}

	ps := prnS(counter, chanID)
	prnE := ps ^ chanID
	st.prnSubLU = ps

	ch := uint8(prnE % NumDataChans)
	if m.IsUsed(ch) {
		st.remapIdx = RemapIndex(ch, m)
		return ch, st
	}

	st.remapIdx = uint8((uint32(st.used) * uint32(prnE)) >> 16)
	return Remap(st.remapIdx, m), st
}

// Subevent selects the channel of the next subevent [Vol 6, Part B, 4.5.8.3.6].
func (st *ISOState) Subevent() uint8 {
	st.prnSubLU = MAM(Perm(st.prnSubLU), st.chanID)
	prnSE := st.prnSubLU ^ st.chanID

	n := int(st.used)
	d := maxInt(1, maxInt(minInt(3, n-5), minInt(11, (n-10)/2)))

	idx := (int(st.remapIdx) + d + int(uint32(prnSE)*uint32(n-2*d+1)>>16)) % n
	st.remapIdx = uint8(idx)

	return Remap(st.remapIdx, st.m)
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
