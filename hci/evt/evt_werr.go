package evt

import (
	"encoding/binary"

	"github.com/pkg/errors"
)

var errIndex = errors.New("index error")

func (e CommandComplete) NumHCICommandPacketsWErr() (uint8, error) {
	return getByte(e, 0, 0)
}

func (e CommandComplete) CommandOpcodeWErr() (uint16, error) {
	return getUint16LE(e, 1, 0xffff)
}

func (e CommandComplete) ReturnParametersWErr() ([]byte, error) {
	return getBytes(e, 3, -1)
}

// StatusWErr is the first return parameter, present for every command the
// controller answers with Command Complete.
func (e CommandComplete) StatusWErr() (uint8, error) {
	return getByte(e, 3, 0xff)
}

func (e CommandStatus) StatusWErr() (uint8, error) {
	return getByte(e, 0, 0xff)
}

func (e CommandStatus) NumHCICommandPacketsWErr() (uint8, error) {
	return getByte(e, 1, 0)
}

func (e CommandStatus) CommandOpcodeWErr() (uint16, error) {
	return getUint16LE(e, 2, 0xffff)
}

func (e DisconnectionComplete) StatusWErr() (uint8, error) {
	return getByte(e, 0, 0xff)
}

func (e DisconnectionComplete) ConnectionHandleWErr() (uint16, error) {
	return getUint16LE(e, 1, 0xffff)
}

func (e DisconnectionComplete) ReasonWErr() (uint8, error) {
	return getByte(e, 3, 0xff)
}

func (e NumberOfCompletedPackets) NumberOfHandlesWErr() (uint8, error) {
	return getByte(e, 0, 0)
}

func (e NumberOfCompletedPackets) ConnectionHandleWErr(i int) (uint16, error) {
	si := 1 + (i * 4)
	return getUint16LE(e, si, 0xffff)
}

func (e NumberOfCompletedPackets) HCNumOfCompletedPacketsWErr(i int) (uint16, error) {
	si := 1 + (i * 4) + 2
	return getUint16LE(e, si, 0)
}

func (e Meta) SubeventCodeWErr() (uint8, error) {
	return getByte(e, 0, 0xff)
}

func (e LEConnectionComplete) StatusWErr() (uint8, error) {
	return getByte(e, 1, 0xff)
}

func (e LEConnectionComplete) ConnectionHandleWErr() (uint16, error) {
	return getUint16LE(e, 2, 0xffff)
}

func (e LEConnectionComplete) RoleWErr() (uint8, error) {
	return getByte(e, 4, 0xff)
}

func (e LEConnectionComplete) PeerAddressWErr() ([6]byte, error) {
	out := [6]byte{}
	bb, err := getBytes(e, 6, 6)
	if err != nil {
		return out, err
	}
	copy(out[:], bb)
	return out, nil
}

func (e LEConnectionComplete) ConnIntervalWErr() (uint16, error) {
	return getUint16LE(e, 12, 0)
}

func (e LEConnectionComplete) SupervisionTimeoutWErr() (uint16, error) {
	return getUint16LE(e, 16, 0)
}

func (e LEAdvertisingReport) SubeventCodeWErr() (uint8, error) {
	return getByte(e, 0, 0xff)
}

func (e LEAdvertisingReport) NumReportsWErr() (uint8, error) {
	return getByte(e, 1, 0)
}

func (e LEAdvertisingReport) EventTypeWErr(i int) (uint8, error) {
	return getByte(e, 2+i, 0xff)
}

func (e LEAdvertisingReport) AddressTypeWErr(i int) (uint8, error) {
	nr, err := e.NumReportsWErr()
	if err != nil {
		return 0, err
	}

	si := 2 + int(nr) + i
	return getByte(e, si, 0xff)
}

func (e LEAdvertisingReport) AddressWErr(i int) ([6]byte, error) {
	nr, err := e.NumReportsWErr()
	if err != nil {
		return [6]byte{}, err
	}

	si := 2 + int(nr)*2 + (6 * i)
	bb, err := getBytes(e, si, 6)
	if err != nil {
		return [6]byte{}, err
	}

	out := [6]byte{}
	copy(out[:], bb)
	return out, nil
}

func (e LEAdvertisingReport) LengthDataWErr(i int) (uint8, error) {
	nr, err := e.NumReportsWErr()
	if err != nil {
		return 0, err
	}

	si := 2 + int(nr)*8 + i
	return getByte(e, si, 0)
}

func (e LEAdvertisingReport) DataWErr(i int) ([]byte, error) {
	nr, err := e.NumReportsWErr()
	if err != nil {
		return nil, err
	}

	l := 0
	for j := 0; j < i; j++ {
		ll, err := e.LengthDataWErr(j)
		if err != nil {
			return nil, err
		}
		l += int(ll)
	}

	ll, err := e.LengthDataWErr(i)
	if err != nil {
		return nil, err
	}
	si := 2 + int(nr)*9 + l
	if ll == 0 {
		return []byte{}, nil
	}
	return getBytes(e, si, int(ll))
}

func (e LEAdvertisingReport) RSSIWErr(i int) (int8, error) {
	nr, err := e.NumReportsWErr()
	if err != nil {
		return 0, err
	}

	l := 0
	for j := 0; j < int(nr); j++ {
		ll, err := e.LengthDataWErr(j)
		if err != nil {
			return 0, err
		}
		l += int(ll)
	}

	si := 2 + int(nr)*9 + l + i
	rssi, err := getByte(e, si, 0)
	return int8(rssi), err
}

func (e LEConnectionUpdateComplete) StatusWErr() (uint8, error) {
	return getByte(e, 1, 0xff)
}

func (e LEConnectionUpdateComplete) ConnectionHandleWErr() (uint16, error) {
	return getUint16LE(e, 2, 0xffff)
}

func (e LEConnectionUpdateComplete) ConnIntervalWErr() (uint16, error) {
	return getUint16LE(e, 4, 0)
}

func (e LECISEstablished) StatusWErr() (uint8, error) {
	return getByte(e, 1, 0xff)
}

func (e LECISEstablished) ConnectionHandleWErr() (uint16, error) {
	return getUint16LE(e, 2, 0xffff)
}

func (e LECISEstablished) ISOIntervalWErr() (uint16, error) {
	return getUint16LE(e, 27, 0)
}

func (e LECreateBIGComplete) StatusWErr() (uint8, error) {
	return getByte(e, 1, 0xff)
}

func (e LECreateBIGComplete) BIGHandleWErr() (uint8, error) {
	return getByte(e, 2, 0xff)
}

func (e LECreateBIGComplete) NumBISWErr() (uint8, error) {
	return getByte(e, 18, 0)
}

func (e LECreateBIGComplete) ConnectionHandleWErr(i int) (uint16, error) {
	return getUint16LE(e, 19+2*i, 0xffff)
}

func (e LETerminateBIGComplete) BIGHandleWErr() (uint8, error) {
	return getByte(e, 1, 0xff)
}

func (e LETerminateBIGComplete) ReasonWErr() (uint8, error) {
	return getByte(e, 2, 0xff)
}

//get or default
func getByte(b []byte, i int, def byte) (byte, error) {
	bb, err := getBytes(b, i, 1)
	if err != nil {
		return def, err
	}
	return bb[0], nil
}

//get or default
func getUint16LE(b []byte, i int, def uint16) (uint16, error) {
	bb, err := getBytes(b, i, 2)
	if err != nil {
		return def, err
	}
	return binary.LittleEndian.Uint16(bb), nil
}

func getBytes(bytes []byte, start int, count int) ([]byte, error) {
	if bytes == nil || start >= len(bytes) {
		return nil, errors.Wrapf(errIndex, "start %v len %v", start, len(bytes))
	}

	if count < 0 {
		return bytes[start:], nil
	}

	end := start + count
	//end is non-inclusive
	if end > len(bytes) {
		return nil, errors.Wrapf(errIndex, "end %v len %v", end, len(bytes))
	}

	return bytes[start:end], nil
}
