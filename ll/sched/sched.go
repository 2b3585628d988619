// Package sched arbitrates the radio between link layer roles. Items live in a
// fixed slot table; the scheduler hands out one event at a time and reports
// the items that lost against it.
package sched

import (
	"fmt"

	"github.com/pkg/errors"
	"github.com/rigado/blell/ll/tmr"
)

// Role of a scheduled item.
type Role uint8

const (
	RoleNone Role = iota
	RoleAdvertiser
	RoleScanner
	RoleInitiator
	RoleCentral
	RolePeripheral
	RolePeriodic
	RoleCIS
	RoleBIS

	numRoles
)

// NumRoles is the number of roles tracked in Stats.
const NumRoles = int(numRoles)

// Priorities, highest wins.
const (
	PrioAdvertise = iota
	PrioScan
	PrioISO
	PrioConnection
)

func (r Role) Priority() int {
	switch r {
	case RoleCentral, RolePeripheral:
		return PrioConnection
	case RolePeriodic, RoleCIS, RoleBIS:
		return PrioISO
	case RoleScanner, RoleInitiator:
		return PrioScan
	default:
		return PrioAdvertise
	}
}

func (r Role) String() string {
	switch r {
	case RoleNone:
		return "none"
	case RoleAdvertiser:
		return "advertiser"
	case RoleScanner:
		return "scanner"
	case RoleInitiator:
		return "initiator"
	case RoleCentral:
		return "central"
	case RolePeripheral:
		return "peripheral"
	case RolePeriodic:
		return "periodic"
	case RoleCIS:
		return "cis"
	case RoleBIS:
		return "bis"
	default:
		return fmt.Sprintf("role(%d)", uint8(r))
	}
}

// Event describes one radio event. It is built fresh for every scheduling
// decision and never shared between links.
type Event struct {
	Role       Role
	Handle     uint16
	Channel    uint8
	AccessAddr uint32
	CRCInit    uint32

	// Start and Duration are in clock ticks.
	Start    uint32
	Duration uint32

	// Counter is the link's event counter (connection event, CIS/BIG event).
	Counter uint16
}

// End is the first tick after the event.
func (e Event) End() uint32 {
	return e.Start + e.Duration
}

// Overlaps reports whether e and o share any tick.
func (e Event) Overlaps(o Event) bool {
	return tmr.Before(e.Start, o.End()) && tmr.Before(o.Start, e.End())
}

func (e Event) String() string {
	return fmt.Sprintf("%v/%d ch %d @%d+%d", e.Role, e.Handle, e.Channel, e.Start, e.Duration)
}

// ID identifies an item. IDs of removed items go stale and are rejected.
type ID uint32

const InvalidID ID = 0

func makeID(idx int, gen uint16) ID {
	return ID(uint32(gen)<<16 | uint32(idx+1))
}

func (id ID) index() int {
	return int(id&0xffff) - 1
}

func (id ID) gen() uint16 {
	return uint16(id >> 16)
}

var (
	ErrFull  = errors.New("sched: no free slot")
	ErrStale = errors.New("sched: stale id")
)

// Entry pairs an item with its ID.
type Entry struct {
	ID    ID
	Event Event
}

// Grant is the outcome of one arbitration round.
type Grant struct {
	Winner    Entry
	Preempted []Entry
}

// Stats counts arbitration outcomes per role.
type Stats struct {
	Granted   [NumRoles]uint64
	Preempted [NumRoles]uint64
}

type slot struct {
	ev   Event
	used bool
	gen  uint16
}

// Scheduler is not safe for concurrent use; the controller drives it from its
// event loop.
type Scheduler struct {
	slots []slot
	free  []int
	n     int
	stats Stats
}

// New returns a scheduler with room for size items.
func New(size int) *Scheduler {
	if size <= 0 || size > 0xffff {
		panic(fmt.Sprintf("sched: invalid size %d", size))
	}
	s := &Scheduler{
		slots: make([]slot, size),
		free:  make([]int, 0, size),
	}
	for i := size - 1; i >= 0; i-- {
		s.free = append(s.free, i)
	}
	return s
}

// Len returns the number of queued items.
func (s *Scheduler) Len() int {
	return s.n
}

// Cap returns the slot table size.
func (s *Scheduler) Cap() int {
	return len(s.slots)
}

// Insert queues ev.
func (s *Scheduler) Insert(ev Event) (ID, error) {
	if len(s.free) == 0 {
		return InvalidID, ErrFull
	}
	idx := s.free[len(s.free)-1]
	s.free = s.free[:len(s.free)-1]

	sl := &s.slots[idx]
	sl.gen++
	sl.used = true
	sl.ev = ev
	s.n++

	return makeID(idx, sl.gen), nil
}

func (s *Scheduler) lookup(id ID) *slot {
	idx := id.index()
	if idx < 0 || idx >= len(s.slots) {
		return nil
	}
	sl := &s.slots[idx]
	if !sl.used || sl.gen != id.gen() {
		return nil
	}
	return sl
}

// Get returns the queued event for id.
func (s *Scheduler) Get(id ID) (Event, bool) {
	sl := s.lookup(id)
	if sl == nil {
		return Event{}, false
	}
	return sl.ev, true
}

// Update replaces the event of a queued item.
func (s *Scheduler) Update(id ID, ev Event) error {
	sl := s.lookup(id)
	if sl == nil {
		return errors.Wrapf(ErrStale, "update %#x", uint32(id))
	}
	sl.ev = ev
	return nil
}

// Remove drops a queued item. It reports whether the item was present.
func (s *Scheduler) Remove(id ID) bool {
	sl := s.lookup(id)
	if sl == nil {
		return false
	}
	s.release(id.index())
	return true
}

// RemoveHandle drops every item of the given role and handle and returns how
// many were removed.
func (s *Scheduler) RemoveHandle(role Role, handle uint16) int {
	n := 0
	for i := range s.slots {
		sl := &s.slots[i]
		if sl.used && sl.ev.Role == role && sl.ev.Handle == handle {
			s.release(i)
			n++
		}
	}
	return n
}

func (s *Scheduler) release(idx int) {
	s.slots[idx].used = false
	s.slots[idx].ev = Event{}
	s.free = append(s.free, idx)
	s.n--
}

// earlier orders by start relative to now, then by slot index.
func earlier(now uint32, a Event, ai int, b Event, bi int) bool {
	da, db := tmr.Diff(a.Start, now), tmr.Diff(b.Start, now)
	if da != db {
		return da < db
	}
	return ai < bi
}

// Next runs one arbitration round. The earliest item (relative to now) and
// every item overlapping it compete; the highest priority wins and ties go to
// the earliest start. Items overlapping the winner are preempted, unless one
// of them outranks it, in which case that item wins instead. Winner and losers
// leave the table; the caller re-inserts their next occurrence.
func (s *Scheduler) Next(now uint32) (Grant, bool) {
	first := -1
	for i := range s.slots {
		if !s.slots[i].used {
			continue
		}
		if first < 0 || earlier(now, s.slots[i].ev, i, s.slots[first].ev, first) {
			first = i
		}
	}
	if first < 0 {
		return Grant{}, false
	}

	head := s.slots[first].ev
	win := first
	for i := range s.slots {
		sl := &s.slots[i]
		if !sl.used || i == first || !sl.ev.Overlaps(head) {
			continue
		}
		wp, cp := s.slots[win].ev.Role.Priority(), sl.ev.Role.Priority()
		if cp > wp || (cp == wp && earlier(now, sl.ev, i, s.slots[win].ev, win)) {
			win = i
		}
	}

	// a higher priority item overlapping the current winner takes over
	for changed := true; changed; {
		changed = false
		for i := range s.slots {
			sl := &s.slots[i]
			if !sl.used || i == win || !sl.ev.Overlaps(s.slots[win].ev) {
				continue
			}
			if sl.ev.Role.Priority() > s.slots[win].ev.Role.Priority() {
				win = i
				changed = true
			}
		}
	}

	winner := s.slots[win].ev
	g := Grant{Winner: Entry{ID: makeID(win, s.slots[win].gen), Event: winner}}

	for i := range s.slots {
		sl := &s.slots[i]
		if !sl.used || i == win || !sl.ev.Overlaps(winner) {
			continue
		}
		g.Preempted = append(g.Preempted, Entry{ID: makeID(i, sl.gen), Event: sl.ev})
		s.stats.Preempted[sl.ev.Role]++
		s.release(i)
	}

	s.stats.Granted[winner.Role]++
	s.release(win)

	return g, true
}

// Peek returns the earliest queued item without arbitrating.
func (s *Scheduler) Peek(now uint32) (Entry, bool) {
	first := -1
	for i := range s.slots {
		if s.slots[i].used && (first < 0 || earlier(now, s.slots[i].ev, i, s.slots[first].ev, first)) {
			first = i
		}
	}
	if first < 0 {
		return Entry{}, false
	}
	return Entry{ID: makeID(first, s.slots[first].gen), Event: s.slots[first].ev}, true
}

// Stats returns a copy of the arbitration counters.
func (s *Scheduler) Stats() Stats {
	return s.stats
}
