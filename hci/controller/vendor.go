package controller

import (
	"bytes"
	"encoding/binary"

	"github.com/pkg/errors"
	"github.com/rigado/blell/hci"
	"github.com/rigado/blell/hci/cmd"
	"github.com/rigado/blell/ll/sched"
)

const ocfReadSchedulerStats = 0x0001

// ReadSchedulerStats is the vendor command (0x3F|0x0001) reading the link
// layer's scheduling counters.
type ReadSchedulerStats struct{}

func (c *ReadSchedulerStats) String() string {
	return "Read Scheduler Stats (0x3F|0x0001)"
}

func (c *ReadSchedulerStats) OpCode() uint16 {
	return hci.OpCode(hci.OGFVendorSpecific, ocfReadSchedulerStats)
}
func (c *ReadSchedulerStats) Len() int               { return 0 }
func (c *ReadSchedulerStats) Marshal(b []byte) error { return nil }

func (c *ReadSchedulerStats) Unmarshal(b []byte) error {
	if len(b) != 0 {
		return errors.Wrapf(cmd.ErrLength, "%v: want 0, have %v", c, len(b))
	}
	return nil
}

// ReadSchedulerStatsRP counts saturate at the width of the field.
type ReadSchedulerStatsRP struct {
	Status              uint8
	Granted             [sched.NumRoles]uint32
	Preempted           [sched.NumRoles]uint32
	MissedAnchors       uint32
	SupervisionTimeouts uint32
	QueueOverflows      uint32
}

func (c *ReadSchedulerStatsRP) Marshal() []byte {
	buf := new(bytes.Buffer)
	if err := binary.Write(buf, binary.LittleEndian, c); err != nil {
		panic(err)
	}
	return buf.Bytes()
}

func (c *ReadSchedulerStatsRP) Unmarshal(b []byte) error {
	if n := binary.Size(c); n != len(b) {
		return errors.Wrapf(cmd.ErrLength, "return parameters: want %v, have %v", n, len(b))
	}
	return binary.Read(bytes.NewReader(b), binary.LittleEndian, c)
}

func sat32(v uint64) uint32 {
	if v > 0xffffffff {
		return 0xffffffff
	}
	return uint32(v)
}

func (h *HCI) handleReadSchedulerStats(b []byte) (cmd.ReturnParams, error) {
	var c ReadSchedulerStats
	if err := c.Unmarshal(b); err != nil {
		return nil, err
	}

	st := h.ll.Stats()
	rp := &ReadSchedulerStatsRP{
		MissedAnchors:       sat32(st.MissedAnchors),
		SupervisionTimeouts: sat32(st.SupervisionTimeouts),
		QueueOverflows:      sat32(st.QueueOverflows),
	}
	for i := 0; i < sched.NumRoles; i++ {
		rp.Granted[i] = sat32(st.Sched.Granted[i])
		rp.Preempted[i] = sat32(st.Sched.Preempted[i])
	}
	return rp, nil
}
