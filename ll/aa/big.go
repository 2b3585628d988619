package aa

// BIG derives the access address of the BIG control logical link (n = 0) or of
// BIS n (1..31) from the BIG seed access address [Vol 6, Part B, 2.1.2].
func BIG(seed uint32, n uint8) uint32 {
	d := (35*uint32(n) + 42) & 0x7f

	bit := func(i uint) uint32 {
		return (d >> i) & 1
	}

	dw := bit(0)<<31 |
		bit(0)<<30 |
		bit(0)<<29 |
		bit(0)<<28 |
		bit(0)<<27 |
		bit(0)<<26 |
		bit(1)<<25 |
		bit(6)<<24 |
		bit(1)<<23 |
		bit(5)<<21 |
		bit(4)<<20 |
		bit(3)<<18 |
		bit(2)<<17

	return seed ^ dw
}

// VerifySeed checks a BIG seed access address. The seed follows the data
// channel rules, and every derived address only flips bits outside the low 16
// so the low half constraints carry over.
func VerifySeed(a uint32) bool {
	return Verify(a)
}
