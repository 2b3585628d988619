package chsel

import "fmt"

// Remap returns the usable channel whose ordinal among usable channels equals
// idx. An index that cannot be found means the channel map is corrupted and
// Remap panics.
func Remap(idx uint8, m ChanMap) uint8 {
	var cntr uint8
	var ch uint8

	for i := 0; i < ChanMapLen; i++ {
		usable := m[i]
		if usable != 0 {
			for j := uint8(0); j < 8; j++ {
				if usable&(1<<j) != 0 {
					if cntr == idx {
						return ch + j
					}
					cntr++
				}
			}
		}
		ch += 8
	}

	panic(fmt.Sprintf("chsel: remap index %v not found in channel map %v", idx, m))
}

// RemapIndex is the inverse of Remap: the ordinal of usable channel ch.
func RemapIndex(ch uint8, m ChanMap) uint8 {
	var idx uint8
	for c := uint8(0); c < ch; c++ {
		if m.IsUsed(c) {
			idx++
		}
	}
	return idx
}

// CSA1 runs Channel Selection Algorithm #1. It returns the data channel for
// the event and the unmapped channel to pass as last on the next event.
func CSA1(last, hop uint8, m ChanMap) (ch uint8, unmapped uint8) {
	unmapped = (last + hop) % NumDataChans
	if m.IsUsed(unmapped) {
		return unmapped, unmapped
	}
	return Remap(unmapped%m.Used(), m), unmapped
}
