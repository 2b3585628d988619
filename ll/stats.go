package ll

import (
	"github.com/rigado/blell/ll/sched"
	"golang.org/x/exp/constraints"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
)

// Stats is a snapshot of the controller counters.
type Stats struct {
	Sched sched.Stats

	MissedAnchors       uint64
	SupervisionTimeouts uint64
	QueueOverflows      uint64
	ISOSDUsSent         uint64
	ISOSDUsReceived     uint64

	Connections int
	CIS         int
	BIG         int
}

// Stats returns a snapshot of the counters. It is safe to call from any
// goroutine.
func (c *Controller) Stats() Stats {
	c.muStats.Lock()
	defer c.muStats.Unlock()
	return c.stats
}

// count applies f to the counters under the stats lock.
func (c *Controller) count(f func(s *Stats)) {
	c.muStats.Lock()
	f(&c.stats)
	c.muStats.Unlock()
}

// publish copies the loop-owned gauges into the snapshot.
func (c *Controller) publish() {
	st := c.sched.Stats()
	nc, ncis, nbig := len(c.conns), 0, len(c.bigs)
	for _, s := range c.cises {
		if s.state == cisEstablished {
			ncis++
		}
	}
	c.count(func(s *Stats) {
		s.Sched = st
		s.Connections = nc
		s.CIS = ncis
		s.BIG = nbig
	})
}

// sortedKeys returns the keys of m in ascending order, for deterministic
// iteration over link maps.
func sortedKeys[K constraints.Ordered, V any](m map[K]V) []K {
	keys := maps.Keys(m)
	slices.Sort(keys)
	return keys
}
