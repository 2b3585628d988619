package tmr

// SCAPPM maps a sleep clock accuracy class (0..7) to its worst case drift in ppm.
var SCAPPM = [8]uint16{500, 250, 150, 100, 75, 50, 30, 20}

// TIFS is the inter frame space in microseconds.
const TIFS = 150

// SCAFromPPM returns the tightest SCA class that still covers ppm.
func SCAFromPPM(ppm uint16) uint8 {
	for i := len(SCAPPM) - 1; i >= 0; i-- {
		if SCAPPM[i] >= ppm {
			return uint8(i)
		}
	}
	return 0
}

// WindowWidening returns the microseconds by which a receive window must be
// widened on each side, given the time elapsed between lastAnchor and anchor,
// the peer sleep clock accuracy class and the local drift in ppm.
//
// A non-positive elapsed time yields 0.
func WindowWidening(tb Timebase, anchor, lastAnchor uint32, peerSCA uint8, localPPM uint16) uint32 {
	elapsed := Diff(anchor, lastAnchor)
	if elapsed <= 0 {
		return 0
	}

	deltaMs := tb.TicksToUsecs64(uint32(elapsed)) / 1000
	total := uint64(SCAPPM[peerSCA&0x07]) + uint64(localPPM)

	return uint32(total * deltaMs / 1000)
}

// MaxWindowWidening is the cap on widening for a link with the given
// interval: half the interval less T_IFS [Vol 6, Part B, 4.5.7].
func MaxWindowWidening(intervalUs uint32) uint32 {
	half := intervalUs / 2
	if half <= TIFS {
		return 0
	}
	return half - TIFS
}

// ReceiveWindow returns the start and length, in ticks, of a receive window
// centered on expected and widened by wideningUs on both sides.
func ReceiveWindow(tb Timebase, expected Point, wideningUs, lengthUs uint32) (start uint32, length uint32) {
	s := tb.Sub(expected, wideningUs)
	span := uint64(s.Frac) + uint64(lengthUs+2*wideningUs)*uint64(tb.freq)
	return s.Ticks, uint32((span + fracUnit - 1) / fracUnit)
}
