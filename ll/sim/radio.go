package sim

import (
	"sync"

	"github.com/pkg/errors"
	"github.com/rigado/blell/ll/radio"
	"github.com/rigado/blell/ll/sched"
	"github.com/rigado/blell/ll/tmr"
)

var ErrBusy = errors.New("sim: radio already armed")

const maxLog = 4096

// Peer is a remote device within range. Respond is asked about every armed
// event and returns what the local radio observes; false means the peer
// stays silent. For isochronous events every peer is asked and the received
// streams are merged.
type Peer interface {
	Respond(req radio.Request) (radio.Completion, bool)
}

// Radio answers armed events from its peers and completes them on the clock.
// Event times are converted to microseconds on the way to the peers and back
// to ticks on the way out, which holds for the first 2^32 microseconds.
type Radio struct {
	clock *Clock

	mu     sync.Mutex
	peers  []Peer
	cancel func()
	log    []sched.Event
}

func NewRadio(clock *Clock, peers ...Peer) *Radio {
	return &Radio{clock: clock, peers: peers}
}

// AddPeer brings p within range.
func (r *Radio) AddPeer(p Peer) {
	r.mu.Lock()
	r.peers = append(r.peers, p)
	r.mu.Unlock()
}

func (r *Radio) Arm(req radio.Request, done func(radio.Completion)) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cancel != nil {
		return ErrBusy
	}
	if len(r.log) == maxLog {
		r.log = append(r.log[:0], r.log[maxLog/2:]...)
	}
	r.log = append(r.log, req.Event)

	cpl := r.respond(r.toUsecs(req))
	cpl.Event = req.Event
	if cpl.End == 0 {
		cpl.End = req.End()
	} else {
		tb := r.clock.Timebase()
		cpl.RxTime = tb.UsecsToTicks(cpl.RxTime)
		cpl.End = tb.UsecsToTicksRoundUp(cpl.End)
	}

	r.cancel = r.clock.AfterFunc(cpl.End, func() {
		r.mu.Lock()
		r.cancel = nil
		r.mu.Unlock()
		done(cpl)
	})
	return nil
}

// toUsecs moves the event of req to the microsecond time of the peers.
func (r *Radio) toUsecs(req radio.Request) radio.Request {
	tb := r.clock.Timebase()
	if tb.Freq() == tmr.Freq1MHz {
		return req
	}
	start := uint32(tb.TicksToUsecs64(req.Start))
	req.Duration = uint32(tb.TicksToUsecs64(req.End())) - start
	req.Start = start
	return req
}

func (r *Radio) respond(req radio.Request) radio.Completion {
	if len(req.ISO) > 0 {
		var out radio.Completion
		for _, p := range r.peers {
			if cpl, ok := p.Respond(req); ok {
				out.ISO = append(out.ISO, cpl.ISO...)
			}
		}
		return out
	}
	for _, p := range r.peers {
		if cpl, ok := p.Respond(req); ok {
			return cpl
		}
	}
	return radio.Completion{}
}

func (r *Radio) Disable() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cancel != nil {
		r.cancel()
		r.cancel = nil
	}
}

// Armed returns the events armed so far, oldest first. Only the most recent
// few thousand are kept.
func (r *Radio) Armed() []sched.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]sched.Event(nil), r.log...)
}
