package blell

import (
	"encoding/hex"
	"fmt"
	"strings"
)

// Addr is a 48-bit device address stored in display order (MSB first).
type Addr [6]byte

// NewAddr creates an Addr from a "aa:bb:cc:dd:ee:ff" string.
func NewAddr(s string) (Addr, error) {
	var a Addr
	hexStr := strings.Replace(strings.ToLower(s), ":", "", -1)

	out, err := hex.DecodeString(hexStr)
	if err != nil {
		return a, fmt.Errorf("error decoding address %q: %v", s, err)
	}
	if len(out) != len(a) {
		return a, fmt.Errorf("invalid address length %v for %q", len(out), s)
	}
	copy(a[:], out)
	return a, nil
}

// AddrFromLE builds an Addr from the little-endian byte order used on the HCI wire.
func AddrFromLE(b [6]byte) Addr {
	return Addr{b[5], b[4], b[3], b[2], b[1], b[0]}
}

// LE returns the address in HCI wire order.
func (a Addr) LE() [6]byte {
	return [6]byte{a[5], a[4], a[3], a[2], a[1], a[0]}
}

func (a Addr) String() string {
	return fmt.Sprintf("%02x:%02x:%02x:%02x:%02x:%02x", a[0], a[1], a[2], a[3], a[4], a[5])
}

func (a Addr) Bytes() []byte {
	return a[:]
}

// IsZero reports whether the address was never set.
func (a Addr) IsZero() bool {
	return a == Addr{}
}
