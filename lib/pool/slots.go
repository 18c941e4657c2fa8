package pool

import (
	"context"
	"sync"
	"time"

	"github.com/ValentinKolb/replkv/lib/client"
	"github.com/ValentinKolb/replkv/lib/conn"
)

// --------------------------------------------------------------------------
// Slot state
// --------------------------------------------------------------------------

type slotState int

const (
	slotEmpty slotState = iota
	slotReserved
	slotOccupied
	slotFaulty
)

func (s slotState) String() string {
	switch s {
	case slotReserved:
		return "reserved"
	case slotOccupied:
		return "occupied"
	case slotFaulty:
		return "faulty"
	default:
		return "empty"
	}
}

// slot is one cell of a slot array. gen changes whenever the slot is
// reserved or cleared, so a creator can detect that its reservation was
// taken away while it was dialing.
type slot struct {
	state  slotState
	client *client.Client
	gen    uint64
}

// --------------------------------------------------------------------------
// Slot array
// --------------------------------------------------------------------------

// slotPool is one fixed-size slot array with its round-robin cursor. The
// write pool and the read pool are two instances.
type slotPool struct {
	name string
	m    *Manager

	// create dials a connection for a slot index, hostCount returns the
	// number of hosts used as scan stride
	create    func(ctx context.Context, idx int) (conn.Conn, error)
	hostCount func() int

	mu     sync.Mutex
	slots  []slot
	cursor int
	notify chan struct{} // closed and replaced on every release
	closed bool
}

func newSlotPool(m *Manager, name string, size int, create func(context.Context, int) (conn.Conn, error), hostCount func() int) *slotPool {
	return &slotPool{
		name:      name,
		m:         m,
		create:    create,
		hostCount: hostCount,
		slots:     make([]slot, size),
		notify:    make(chan struct{}),
	}
}

// broadcastLocked wakes every waiting acquire
func (p *slotPool) broadcastLocked() {
	close(p.notify)
	p.notify = make(chan struct{})
}

// reserveLocked marks slot i as reserved and returns its new generation
func (p *slotPool) reserveLocked(i int) uint64 {
	s := &p.slots[i]
	s.state = slotReserved
	s.client = nil
	s.gen++
	return s.gen
}

// scanLocked looks for a client to hand out. Starting at cursor mod size it
// walks the slots with the host count as stride, so that slots are filled in
// host order. It returns either an idle healthy client, or a slot index it
// reserved for creation (plus the faulty client that occupied it, if any).
// idx is -1 if nothing is available.
func (p *slotPool) scanLocked() (claimed *client.Client, idx int, gen uint64, stale *client.Client) {
	n := len(p.slots)
	stride := p.hostCount()
	if stride <= 0 {
		stride = 1
	}
	desired := p.cursor % n

	for x := 0; x < stride; x++ {
		start := (desired + x) % stride
		for i := start; i < n; i += stride {
			s := &p.slots[i]
			switch s.state {
			case slotEmpty:
				return nil, i, p.reserveLocked(i), nil

			case slotOccupied:
				c := s.client
				if c.IsActive() {
					continue
				}
				if c.IsHealthy() {
					return c, i, s.gen, nil
				}
				return nil, i, p.reserveLocked(i), c

			case slotFaulty:
				c := s.client
				return nil, i, p.reserveLocked(i), c
			}
		}
	}
	return nil, -1, 0, nil
}

// acquire hands out a client, creating one if a slot is free, and waits
// for a release otherwise
func (p *slotPool) acquire(ctx context.Context) (*client.Client, error) {
	cfg := p.m.cfg
	start := time.Now()
	var deadline time.Time
	if cfg.PoolTimeout > 0 {
		deadline = start.Add(cfg.PoolTimeout)
	}
	waited := false

	for {
		p.mu.Lock()
		if p.closed {
			p.mu.Unlock()
			return nil, ErrClosed
		}

		claimed, idx, gen, stale := p.scanLocked()
		if idx < 0 {
			ch := p.notify
			p.mu.Unlock()

			waited = true
			if err := p.wait(ctx, ch, deadline); err != nil {
				return nil, err
			}
			continue
		}

		p.cursor++
		if claimed != nil {
			claimed.SetActive(true)
		}
		p.mu.Unlock()

		if waited {
			p.m.stats.ObserveAcquireWait(time.Since(start))
		}

		if claimed != nil {
			if err := p.m.prepare(ctx, claimed); err != nil {
				Logger.Warningf("%s pool: re-applying settings on %s failed: %v", p.name, claimed, err)
				claimed.MarkFaulty()
				p.Release(claimed)
				continue
			}
			p.m.registry.SweepExpired()
			return claimed, nil
		}

		if stale != nil {
			go p.m.registry.Deactivate(stale)
		}
		return p.createInto(ctx, idx, gen)
	}
}

// wait blocks until a release is signalled, the recheck interval passed,
// the pool timeout elapsed or ctx is done
func (p *slotPool) wait(ctx context.Context, ch <-chan struct{}, deadline time.Time) error {
	d := p.m.cfg.RecheckInterval
	if !deadline.IsZero() {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			p.m.stats.IncPoolTimeouts()
			return &PoolTimeoutError{Pool: p.name, Size: len(p.slots), Timeout: p.m.cfg.PoolTimeout}
		}
		d = min(d, remaining)
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ch:
	case <-timer.C:
	case <-ctx.Done():
		return ctx.Err()
	}
	return nil
}

// createInto dials a connection for the reserved slot idx. The reservation
// is released again on every failure path. If the slot was cleared while
// dialing, the client is handed out unmanaged instead of being discarded.
func (p *slotPool) createInto(ctx context.Context, idx int, gen uint64) (c *client.Client, err error) {
	placed := false
	defer func() {
		if placed {
			return
		}
		p.mu.Lock()
		if s := &p.slots[idx]; s.state == slotReserved && s.gen == gen {
			s.state = slotEmpty
		}
		p.broadcastLocked()
		p.mu.Unlock()
	}()

	cn, err := p.create(ctx, idx)
	if err != nil {
		return nil, err
	}
	p.m.stats.IncClientsCreated()

	p.mu.Lock()
	s := &p.slots[idx]
	if p.closed || s.state != slotReserved || s.gen != gen {
		p.mu.Unlock()

		p.m.stats.IncClientsCreatedOutsidePool()
		Logger.Debugf("%s pool: slot %d changed while connecting, handing out unmanaged client", p.name, idx)
		c = p.m.newClient(cn, nil, -1)
	} else {
		c = p.m.newClient(cn, p, idx)
		s.state = slotOccupied
		s.client = c
		placed = true
		p.mu.Unlock()
	}
	c.SetActive(true)

	if err := p.m.prepare(ctx, c); err != nil {
		c.MarkFaulty()
		c.Release()
		return nil, err
	}
	return c, nil
}

// Release returns a client to the slot array. It implements client.Home.
func (p *slotPool) Release(c *client.Client) {
	// an open batch still has buffered commands on the connection
	if c.Batch() != client.BatchNone {
		c.MarkFaulty()
	}
	c.SetOwner("", false)

	p.mu.Lock()
	idx := c.PoolIndex()
	inPool := idx >= 0 && idx < len(p.slots) && p.slots[idx].client == c
	if inPool {
		c.SetActive(false)
		if !c.IsHealthy() {
			p.slots[idx].state = slotFaulty
		}
		p.broadcastLocked()
	}
	p.mu.Unlock()

	if !inPool {
		// the slot was cleared by a failover or on close; clients that were
		// deactivated are disposed by the registry
		c.SetActive(false)
		if _, deactivated := c.DeactivatedAt(); !deactivated {
			c.Dispose()
		}
	}

	p.m.registry.SweepExpired()
}

// clear empties every slot and returns the clients that occupied them
func (p *slotPool) clear() []*client.Client {
	p.mu.Lock()
	defer p.mu.Unlock()

	var clients []*client.Client
	for i := range p.slots {
		s := &p.slots[i]
		if s.client != nil {
			clients = append(clients, s.client)
		}
		s.state = slotEmpty
		s.client = nil
		s.gen++
	}
	p.broadcastLocked()
	return clients
}

// close clears the array for good and returns the clients it held
func (p *slotPool) close() []*client.Client {
	clients := p.clear()
	p.mu.Lock()
	p.closed = true
	p.broadcastLocked()
	p.mu.Unlock()
	return clients
}
