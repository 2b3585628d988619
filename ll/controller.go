// Package ll is the link layer: advertising, scanning, initiating,
// connections and isochronous groups multiplexed onto one radio by the slot
// scheduler.
//
// All link layer state is owned by the controller's event loop. Host commands,
// radio completions and timer expiries are posted to the loop and run there
// one at a time, so none of the state needs locking. Only the access address
// pool, the host channel classification and the statistics are shared with
// other goroutines.
package ll

import (
	"context"
	"math/rand"
	"sync"

	"github.com/pkg/errors"
	"github.com/rigado/blell"
	"github.com/rigado/blell/hci"
	"github.com/rigado/blell/ll/aa"
	"github.com/rigado/blell/ll/chsel"
	"github.com/rigado/blell/ll/radio"
	"github.com/rigado/blell/ll/sched"
	"github.com/rigado/blell/ll/tmr"
)

const (
	defaultMaxConnections = 4
	defaultMaxCIG         = 2
	defaultMaxCIS         = 4
	defaultMaxBIG         = 1
	defaultLocalSCA       = 50
	defaultQueueSize      = 64
	defaultAARetiredSize  = 16

	// armLeadUs is how far ahead of an event's start the loop arms the radio.
	armLeadUs = 150

	// startDelayUs separates a newly enabled activity from now.
	startDelayUs = 1250

	// Buffer sizes reported by LE Read Buffer Size.
	aclDataLen = 27
	aclDataNum = 8
)

// ErrQueueFull is returned by Post when the work queue overflows.
var ErrQueueFull = errors.WithMessage(hci.ErrControllerBusy, "work queue full")

type actorKey struct {
	role   sched.Role
	handle uint16
}

func keyOf(ev sched.Event) actorKey {
	return actorKey{role: ev.Role, handle: ev.Handle}
}

// actor is a link layer state machine that owns one scheduler item at a time.
type actor interface {
	// start builds the radio request for a granted event. false means the
	// actor has nothing to do and gives up the slot.
	start(ev sched.Event) (radio.Request, bool)

	// done processes the completion of an armed event.
	done(cpl radio.Completion)

	// skip reports an event that lost arbitration against by, or that could
	// not be armed in time (zero by).
	skip(ev sched.Event, by sched.Event)
}

// Controller is the link layer of one radio.
type Controller struct {
	clock tmr.Clock
	tb    tmr.Timebase
	radio radio.Radio
	host  Host

	log          blell.Logger
	errorHandler func(error)

	// options
	maxConns      int
	maxCIG        int
	maxCIS        int
	maxBIG        int
	localSCA      uint16
	queueSize     int
	aaMaxAttempts int
	aaRetiredSize int
	publicAddr    blell.Addr
	version       blell.Version

	queue chan func()
	done  chan radio.Completion
	wake  chan struct{}

	sched   *sched.Scheduler
	actors  map[actorKey]actor
	pending map[actorKey]sched.ID
	armed   *sched.Event
	kicking bool

	timerCancel func()
	timerAt     uint32

	// cross-link state
	muShared sync.Mutex
	pool     *aa.Pool
	hostMap  chsel.ChanMap

	rng *rand.Rand

	eventMask   uint64
	leEventMask uint64
	randomAddr  blell.Addr

	handles map[uint16]struct{}
	adv     *advertiser
	scan    *scanner
	init    *initiator
	conns   map[uint16]*conn
	cigs    map[uint8]*cig
	cises   map[uint16]*cis
	bigs    map[uint8]*big
	bises   map[uint16]*bis

	// work that must follow the reply to the current command
	deferred []func()

	muStats sync.Mutex
	stats   Stats
}

// New returns a controller driving r on clock. Events for the host go to host.
func New(clock tmr.Clock, r radio.Radio, host Host, opts ...blell.Option) (*Controller, error) {
	c := &Controller{
		clock: clock,
		tb:    tmr.NewTimebase(clock.Freq()),
		radio: r,
		host:  host,
		log:   blell.GetLogger().ChildLogger(map[string]interface{}{"pkg": "ll"}),

		maxConns:      defaultMaxConnections,
		maxCIG:        defaultMaxCIG,
		maxCIS:        defaultMaxCIS,
		maxBIG:        defaultMaxBIG,
		localSCA:      defaultLocalSCA,
		queueSize:     defaultQueueSize,
		aaRetiredSize: defaultAARetiredSize,
		version:       blell.DefaultVersion,
	}
	if err := c.Option(opts...); err != nil {
		return nil, errors.Wrap(err, "can't set options")
	}

	c.queue = make(chan func(), c.queueSize)
	c.done = make(chan radio.Completion, 1)
	c.wake = make(chan struct{}, 1)

	p, err := aa.NewPool(aa.NewGenerator(aa.WithMaxAttempts(c.aaMaxAttempts)), c.aaRetiredSize)
	if err != nil {
		return nil, err
	}
	c.pool = p
	c.reset()

	return c, nil
}

// Option sets the options specified.
func (c *Controller) Option(opts ...blell.Option) error {
	for _, opt := range opts {
		if err := opt(c); err != nil {
			return err
		}
	}
	return nil
}

// reset clears all link state.
func (c *Controller) reset() {
	c.sched = sched.New(c.schedSize())
	c.actors = make(map[actorKey]actor)
	c.pending = make(map[actorKey]sched.ID)
	c.armed = nil
	c.stopTimer()

	c.muShared.Lock()
	c.hostMap = chsel.ChanMapAll
	c.muShared.Unlock()

	c.rng = rand.New(rand.NewSource(int64(c.clock.Now()) ^ int64(c.publicAddr[5])<<8))

	c.eventMask = DefaultEventMask
	c.leEventMask = DefaultLEEventMask
	c.randomAddr = blell.Addr{}
	c.deferred = nil

	c.handles = make(map[uint16]struct{})
	c.adv = newAdvertiser(c)
	c.scan = newScanner(c)
	c.init = nil
	c.conns = make(map[uint16]*conn)
	c.cigs = make(map[uint8]*cig)
	c.cises = make(map[uint16]*cis)
	c.bigs = make(map[uint8]*big)
	c.bises = make(map[uint16]*bis)
}

// schedSize leaves room for one item per link and group plus the
// advertiser, scanner and initiator.
func (c *Controller) schedSize() int {
	return c.maxConns + c.maxCIS + c.maxBIG + 3
}

// Reset stops the radio and returns the controller to its power-on state.
func (c *Controller) Reset() {
	c.radio.Disable()

	for _, cn := range c.conns {
		if cn.role == sched.RoleCentral {
			c.pool.Release(cn.aa)
		}
	}
	if c.init != nil {
		c.pool.Release(c.init.ind.AA)
	}
	for _, g := range c.cises {
		if g.state != cisIdle {
			c.pool.Release(g.aa)
		}
	}
	for _, b := range c.bigs {
		c.pool.ReleaseBIG(b.seed, uint8(len(b.bis)))
	}
	c.reset()
	c.log.Info("reset")
}

func (c *Controller) dispatchError(err error) {
	if err == nil {
		return
	}
	c.log.Errorf("%v", err)
	if c.errorHandler != nil {
		c.errorHandler(err)
	}
}

// Post queues fn to run on the event loop. It never blocks; when the queue is
// full the work is dropped and ErrQueueFull returned.
func (c *Controller) Post(fn func()) error {
	select {
	case c.queue <- fn:
		return nil
	default:
		c.muStats.Lock()
		c.stats.QueueOverflows++
		c.muStats.Unlock()
		err := ErrQueueFull
		if c.errorHandler != nil {
			c.errorHandler(err)
		}
		return err
	}
}

// Exec runs fn on the event loop and waits for its result.
func (c *Controller) Exec(ctx context.Context, fn func() error) error {
	errc := make(chan error, 1)
	if err := c.Post(func() { errc <- fn() }); err != nil {
		return err
	}
	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RadioDone is the completion callback handed to the radio.
func (c *Controller) RadioDone(cpl radio.Completion) {
	select {
	case c.done <- cpl:
	default:
		c.dispatchError(errors.Errorf("ll: completion for %v dropped", cpl.Event))
	}
}

func (c *Controller) timerFired() {
	select {
	case c.wake <- struct{}{}:
	default:
	}
}

// Run is the event loop. It returns when ctx is done.
func (c *Controller) Run(ctx context.Context) error {
	c.kick()
	for {
		select {
		case <-ctx.Done():
			c.radio.Disable()
			c.stopTimer()
			return ctx.Err()
		case fn := <-c.queue:
			fn()
		case cpl := <-c.done:
			c.complete(cpl)
		case <-c.wake:
		}
		c.runDeferred()
		c.kick()
		c.publish()
	}
}

// Drain runs everything pending on the loop from the calling goroutine and
// returns the number of items processed. It stands in for Run where the caller
// owns the clock.
func (c *Controller) Drain() int {
	n := 0
	c.runDeferred()
	c.kick()
	for {
		select {
		case fn := <-c.queue:
			fn()
		case cpl := <-c.done:
			c.complete(cpl)
		case <-c.wake:
		default:
			c.publish()
			return n
		}
		n++
		c.runDeferred()
		c.kick()
	}
}

// later runs fn once the current work item, and the reply to the command it
// carried, are done.
func (c *Controller) later(fn func()) {
	c.deferred = append(c.deferred, fn)
}

func (c *Controller) runDeferred() {
	for len(c.deferred) > 0 {
		fn := c.deferred[0]
		c.deferred = c.deferred[1:]
		fn()
	}
}

// schedule queues ev as the next event of its actor, replacing a previous one.
func (c *Controller) schedule(ev sched.Event) {
	k := keyOf(ev)
	if id, ok := c.pending[k]; ok {
		if err := c.sched.Update(id, ev); err == nil {
			return
		}
		delete(c.pending, k)
	}
	id, err := c.sched.Insert(ev)
	if err != nil {
		c.dispatchError(errors.Wrapf(err, "schedule %v", ev))
		return
	}
	c.pending[k] = id
}

func (c *Controller) unschedule(k actorKey) {
	if id, ok := c.pending[k]; ok {
		c.sched.Remove(id)
		delete(c.pending, k)
	}
}

func (c *Controller) addActor(k actorKey, a actor) {
	c.actors[k] = a
}

func (c *Controller) removeActor(k actorKey) {
	c.unschedule(k)
	c.sched.RemoveHandle(k.role, k.handle)
	delete(c.actors, k)
}

func (c *Controller) stopTimer() {
	if c.timerCancel != nil {
		c.timerCancel()
		c.timerCancel = nil
	}
}

func (c *Controller) setTimer(at uint32) {
	if c.timerCancel != nil && c.timerAt == at {
		return
	}
	c.stopTimer()
	c.timerAt = at
	c.timerCancel = c.clock.AfterFunc(at, c.timerFired)
}

// kick arms the radio with the next due event. Events that lose arbitration or
// are already late go back to their actors.
func (c *Controller) kick() {
	if c.armed != nil || c.kicking {
		return
	}
	c.kicking = true
	defer func() { c.kicking = false }()

	lead := c.tb.UsecsToTicks(armLeadUs)
	for {
		now := c.clock.Now()
		head, ok := c.sched.Peek(now)
		if !ok {
			c.stopTimer()
			return
		}
		if at := head.Event.Start - lead; tmr.After(at, now) {
			c.setTimer(at)
			return
		}
		c.stopTimer()

		g, _ := c.sched.Next(now)
		w := g.Winner.Event
		for _, p := range g.Preempted {
			k := keyOf(p.Event)
			delete(c.pending, k)
			if a, ok := c.actors[k]; ok {
				a.skip(p.Event, w)
			}
		}
		k := keyOf(w)
		delete(c.pending, k)
		a, ok := c.actors[k]
		if !ok {
			continue
		}
		if tmr.Before(w.Start, now) {
			c.log.Debugf("late: %v at %d", w, now)
			a.skip(w, sched.Event{})
			continue
		}

		req, ok := a.start(w)
		if !ok {
			continue
		}
		req.Event = w
		if err := c.radio.Arm(req, c.RadioDone); err != nil {
			c.dispatchError(errors.Wrapf(err, "arm %v", w))
			a.skip(w, sched.Event{})
			continue
		}
		c.armed = &w
		return
	}
}

func (c *Controller) complete(cpl radio.Completion) {
	if c.armed == nil || keyOf(*c.armed) != keyOf(cpl.Event) || c.armed.Start != cpl.Event.Start {
		c.log.Debugf("stale completion %v", cpl.Event)
		return
	}
	c.armed = nil
	if a, ok := c.actors[keyOf(cpl.Event)]; ok {
		a.done(cpl)
	}
}

// future returns t, or a point shortly after now when t has already passed.
func (c *Controller) future(t uint32) uint32 {
	if tmr.Before(t, c.clock.Now()) {
		return c.startTime()
	}
	return t
}

func (c *Controller) startTime() uint32 {
	return c.clock.Now() + c.tb.UsecsToTicks(startDelayUs)
}

// allocHandle returns the lowest free connection handle.
func (c *Controller) allocHandle() (uint16, error) {
	for h := uint16(0); h <= hci.MaxConnHandle; h++ {
		if _, ok := c.handles[h]; !ok {
			c.handles[h] = struct{}{}
			return h, nil
		}
	}
	return 0, errors.WithMessage(hci.ErrMemoryCapacity, "no free handle")
}

func (c *Controller) freeHandle(h uint16) {
	delete(c.handles, h)
}

// acquireAA draws an access address for a new link.
func (c *Controller) acquireAA() (uint32, error) {
	a, err := c.pool.Acquire()
	if err != nil {
		return 0, errors.WithMessage(hci.ErrLimitedResource, err.Error())
	}
	return a, nil
}

// ownAddr returns the device address for an own address type.
func (c *Controller) ownAddr(typ uint8) (blell.Addr, error) {
	switch typ {
	case hci.AddressTypePublic:
		return c.publicAddr, nil
	case hci.AddressTypeRandom:
		if c.randomAddr.IsZero() {
			return blell.Addr{}, errors.WithMessage(hci.ErrInvalidParams, "random address not set")
		}
		return c.randomAddr, nil
	default:
		return blell.Addr{}, errors.Wrapf(hci.ErrInvalidParams, "own address type %v", typ)
	}
}

// SetEventMask implements HCI Set Event Mask.
func (c *Controller) SetEventMask(m uint64) {
	c.eventMask = m
}

// SetLEEventMask implements HCI LE Set Event Mask.
func (c *Controller) SetLEEventMask(m uint64) {
	c.leEventMask = m
}

// ReadBufferSize implements HCI LE Read Buffer Size.
func (c *Controller) ReadBufferSize() (uint16, uint8) {
	return aclDataLen, aclDataNum
}

// PublicAddr returns the public device address.
func (c *Controller) PublicAddr() blell.Addr {
	return c.publicAddr
}

// Version returns what Read Local Version Information reports.
func (c *Controller) Version() blell.Version {
	return c.version
}

// SetRandomAddress implements HCI LE Set Random Address.
func (c *Controller) SetRandomAddress(a blell.Addr) error {
	if c.adv.enabled || c.scan.enabled || c.init != nil {
		return errors.WithMessage(hci.ErrDisallowed, "random address in use")
	}
	c.randomAddr = a
	return nil
}

// SetHostChannelClassification implements HCI LE Set Host Channel
// Classification. Central links move to the new map through the channel map
// update procedure.
func (c *Controller) SetHostChannelClassification(m chsel.ChanMap) error {
	if m.Used() < 2 {
		return errors.Wrapf(hci.ErrInvalidParams, "channel map %v", m)
	}
	c.muShared.Lock()
	c.hostMap = m.And(chsel.ChanMapAll)
	c.muShared.Unlock()

	for _, h := range sortedKeys(c.conns) {
		if cn := c.conns[h]; cn.role == sched.RoleCentral {
			cn.updateChannelMap()
		}
	}
	return nil
}

func (c *Controller) channelMap() chsel.ChanMap {
	c.muShared.Lock()
	defer c.muShared.Unlock()
	return c.hostMap
}

// LiveAccessAddresses returns the number of access addresses in use.
func (c *Controller) LiveAccessAddresses() int {
	return c.pool.Live()
}
