// Package parser decodes the AD structures carried in advertising and scan
// response data.
package parser

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/pkg/errors"
	"github.com/rigado/blell/sliceops"
)

var ErrEmpty = errors.New("nil/empty advertising data")

// Keys of the decoded map.
var Keys = struct {
	Flags       string
	Services    string
	Solicited   string
	ServiceData string
	Name        string
	TxPower     string
	MFG         string
}{
	Flags:       "flags",
	Services:    "services",
	Solicited:   "solicited",
	ServiceData: "serviceData",
	Name:        "localName",
	TxPower:     "txPower",
	MFG:         "mfgData",
}

// UUID is a service UUID in over-the-air (little-endian) order.
type UUID []byte

func (u UUID) String() string {
	s := hex.EncodeToString(sliceops.SwapBuf(u))
	if len(s) != 32 {
		return s
	}
	return strings.Join([]string{s[:8], s[8:12], s[12:16], s[16:20], s[20:]}, "-")
}

// https://www.bluetooth.com/specifications/assigned-numbers/
const (
	typeFlags       = 0x01
	typeUUID16Inc   = 0x02
	typeUUID16Comp  = 0x03
	typeUUID32Inc   = 0x04
	typeUUID32Comp  = 0x05
	typeUUID128Inc  = 0x06
	typeUUID128Comp = 0x07
	typeNameShort   = 0x08
	typeNameComp    = 0x09
	typeTxPower     = 0x0a
	typeSol16       = 0x14
	typeSol128      = 0x15
	typeSvc16       = 0x16
	typeSol32       = 0x1f
	typeSvc32       = 0x20
	typeSvc128      = 0x21
	typeMFG         = 0xff
)

type record struct {
	elemSize int // > 0 for UUID lists
	minSize  int
	uuidSize int // > 0 for service data
	key      string
}

var records = map[byte]record{
	typeUUID16Inc:   {elemSize: 2, minSize: 2, key: Keys.Services},
	typeUUID16Comp:  {elemSize: 2, minSize: 2, key: Keys.Services},
	typeUUID32Inc:   {elemSize: 4, minSize: 4, key: Keys.Services},
	typeUUID32Comp:  {elemSize: 4, minSize: 4, key: Keys.Services},
	typeUUID128Inc:  {elemSize: 16, minSize: 16, key: Keys.Services},
	typeUUID128Comp: {elemSize: 16, minSize: 16, key: Keys.Services},
	typeSol16:       {elemSize: 2, minSize: 2, key: Keys.Solicited},
	typeSol32:       {elemSize: 4, minSize: 4, key: Keys.Solicited},
	typeSol128:      {elemSize: 16, minSize: 16, key: Keys.Solicited},
	typeSvc16:       {minSize: 2, uuidSize: 2, key: Keys.ServiceData},
	typeSvc32:       {minSize: 4, uuidSize: 4, key: Keys.ServiceData},
	typeSvc128:      {minSize: 16, uuidSize: 16, key: Keys.ServiceData},
	typeNameComp:    {minSize: 1, key: Keys.Name},
	typeNameShort:   {minSize: 1, key: Keys.Name},
	typeTxPower:     {minSize: 1, key: Keys.TxPower},
	typeMFG:         {minSize: 1, key: Keys.MFG},
	typeFlags:       {minSize: 1, key: Keys.Flags},
}

func uuids(size int, b []byte) ([]UUID, error) {
	if len(b)%size != 0 {
		return nil, fmt.Errorf("length %v not a multiple of %v", len(b), size)
	}
	out := make([]UUID, 0, len(b)/size)
	for j := 0; j < len(b); j += size {
		out = append(out, UUID(b[j:j+size]))
	}
	return out, nil
}

// Parse decodes advertising data. Unknown AD types are skipped; on a
// malformed structure the fields decoded so far are returned with the error.
//
// Values are []UUID for Services and Solicited, map[string][][]byte keyed by
// UUID string for ServiceData, and []byte otherwise.
func Parse(data []byte) (map[string]interface{}, error) {
	if len(data) == 0 {
		return nil, ErrEmpty
	}

	m := make(map[string]interface{})
	for i := 0; i+1 < len(data); {
		length := int(data[i])
		typ := data[i+1]

		// zero length ends the significant part
		if length == 0 {
			break
		}
		if i+length >= len(data) {
			return m, fmt.Errorf("buffer overflow: want %v, have %v, idx %v", i+length+1, len(data), i)
		}

		b := make([]byte, length-1)
		copy(b, data[i+2:i+1+length])
		i += length + 1

		rec, ok := records[typ]
		if !ok || len(b) == 0 {
			continue
		}
		if len(b) < rec.minSize {
			return m, fmt.Errorf("ad type 0x%02x: min length %v, have %v", typ, rec.minSize, len(b))
		}

		switch {
		case rec.elemSize > 0:
			us, err := uuids(rec.elemSize, b)
			if err != nil {
				return m, errors.Wrapf(err, "ad type 0x%02x", typ)
			}
			prev, _ := m[rec.key].([]UUID)
			m[rec.key] = append(prev, us...)

		case rec.uuidSize > 0:
			sd, ok := m[rec.key].(map[string][][]byte)
			if !ok {
				sd = make(map[string][][]byte)
				m[rec.key] = sd
			}
			u := UUID(b[:rec.uuidSize]).String()
			sd[u] = append(sd[u], b[rec.uuidSize:])

		default:
			prev, ok := m[rec.key].([]byte)
			if !ok {
				m[rec.key] = b
				continue
			}
			// the scan response repeats the company id
			if rec.key == Keys.MFG && len(b) >= 2 {
				b = b[2:]
			}
			m[rec.key] = append(prev, b...)
		}
	}
	return m, nil
}
