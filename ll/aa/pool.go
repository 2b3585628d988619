package aa

import (
	"sync"

	lru "github.com/hashicorp/golang-lru"
	"github.com/pkg/errors"
)

// Pool hands out access addresses that are unique among live links and not
// among the most recently released ones.
type Pool struct {
	mu      sync.Mutex
	gen     *Generator
	live    map[uint32]struct{}
	retired *lru.Cache
}

// NewPool returns a Pool drawing from gen. retiredSize released addresses are
// remembered and skipped; 0 disables that.
func NewPool(gen *Generator, retiredSize int) (*Pool, error) {
	p := &Pool{
		gen:  gen,
		live: make(map[uint32]struct{}),
	}
	if retiredSize > 0 {
		c, err := lru.New(retiredSize)
		if err != nil {
			return nil, errors.Wrap(err, "retired access address cache")
		}
		p.retired = c
	}
	return p, nil
}

func (p *Pool) free(a uint32) bool {
	if _, ok := p.live[a]; ok {
		return false
	}
	if p.retired != nil && p.retired.Contains(a) {
		return false
	}
	return true
}

// Acquire returns a fresh access address and marks it live.
func (p *Pool) Acquire() (uint32, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	a, err := p.gen.next(func(c uint32) bool {
		return Verify(c) && p.free(c)
	})
	if err != nil {
		return 0, err
	}
	p.live[a] = struct{}{}
	return a, nil
}

// AcquireBIG returns a BIG seed access address and marks the control and the
// first numBIS derived addresses live. It retries while any derived address
// collides with a live one.
func (p *Pool) AcquireBIG(numBIS uint8) (uint32, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	seed, err := p.gen.next(func(c uint32) bool {
		if !VerifySeed(c) {
			return false
		}
		for n := uint8(0); n <= numBIS; n++ {
			if !p.free(BIG(c, n)) {
				return false
			}
		}
		return true
	})
	if err != nil {
		return 0, err
	}
	for n := uint8(0); n <= numBIS; n++ {
		p.live[BIG(seed, n)] = struct{}{}
	}
	return seed, nil
}

// Release returns a to the pool.
func (p *Pool) Release(a uint32) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := p.live[a]; !ok {
		return
	}
	delete(p.live, a)
	if p.retired != nil {
		p.retired.Add(a, nil)
	}
}

// ReleaseBIG releases the addresses taken by AcquireBIG.
func (p *Pool) ReleaseBIG(seed uint32, numBIS uint8) {
	for n := uint8(0); n <= numBIS; n++ {
		p.Release(BIG(seed, n))
	}
}

// Live returns the number of addresses in use.
func (p *Pool) Live() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.live)
}
