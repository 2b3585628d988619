package ll

import (
	"github.com/rigado/blell/hci/evt"
	"github.com/rigado/blell/ll/isoal"
)

// Host receives what the link layer reports asynchronously. Calls are made
// from the controller's event loop and must not block.
type Host interface {
	// Event delivers an HCI event.
	Event(e evt.Event)

	// ISOData delivers a received SDU of a CIS.
	ISOData(handle uint16, sdu isoal.RxSDU)
}

// Event mask bits [Vol 4, Part E, 7.3.1 and 7.8.1].
const (
	maskDisconnectionComplete = 1 << 4
	maskLEMeta                = 1 << 61

	DefaultEventMask   uint64 = 0xffffffffffffffff
	DefaultLEEventMask uint64 = 0xffffffffffffffff
)

func (c *Controller) emit(e evt.Event) {
	switch e.Code() {
	case evt.DisconnectionCompleteCode:
		if c.eventMask&maskDisconnectionComplete == 0 {
			return
		}
	case evt.LEMetaCode:
		p := e.Params()
		if c.eventMask&maskLEMeta == 0 || len(p) == 0 || p[0] == 0 {
			return
		}
		if c.leEventMask&(1<<(p[0]-1)) == 0 {
			return
		}
	}
	if c.host != nil {
		c.host.Event(e)
	}
}
