package heartbeat

import (
	"context"
	"sync"
)

// Channel is a single-slot broadcast of the latest Heartbeat. Publish
// overwrites the slot and wakes subscribers; slow subscribers never build a
// backlog because notifications coalesce.
type Channel struct {
	mu      sync.RWMutex
	latest  Heartbeat
	has     bool
	version uint64
	subs    map[*Subscription]struct{}
}

func NewChannel() *Channel {
	return &Channel{subs: make(map[*Subscription]struct{})}
}

// Publish replaces the current value and notifies every subscriber.
func (c *Channel) Publish(hb Heartbeat) {
	c.mu.Lock()
	c.latest = hb.clone()
	c.has = true
	c.version++
	subs := make([]*Subscription, 0, len(c.subs))
	for s := range c.subs {
		subs = append(subs, s)
	}
	c.mu.Unlock()
	for _, s := range subs {
		s.notify()
	}
}

// Latest returns the most recent heartbeat and whether one was ever published.
func (c *Channel) Latest() (Heartbeat, bool) {
	hb, _, ok := c.snapshot()
	return hb, ok
}

func (c *Channel) snapshot() (Heartbeat, uint64, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.latest.clone(), c.version, c.has
}

// Subscribe registers a new observer. The caller must Close it when done.
func (c *Channel) Subscribe() *Subscription {
	s := &Subscription{ch: c, notifyC: make(chan struct{}, 1)}
	c.mu.Lock()
	c.subs[s] = struct{}{}
	c.mu.Unlock()
	return s
}

func (c *Channel) unsubscribe(s *Subscription) {
	c.mu.Lock()
	delete(c.subs, s)
	c.mu.Unlock()
}

// Subscribers returns the number of active subscriptions.
func (c *Channel) Subscribers() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.subs)
}

// Subscription is a read-only view of a Channel.
type Subscription struct {
	ch       *Channel
	notifyC  chan struct{}
	mu       sync.Mutex
	seen     uint64
	closed   bool
	closeOne sync.Once
}

// C fires after one or more publishes since the last Next call.
func (s *Subscription) C() <-chan struct{} { return s.notifyC }

func (s *Subscription) notify() {
	select {
	case s.notifyC <- struct{}{}:
	default:
	}
}

// Latest returns the channel's current value without marking it seen.
func (s *Subscription) Latest() (Heartbeat, bool) { return s.ch.Latest() }

// Next returns the current value if it is newer than the last value returned
// by Next. Values are never returned out of order.
func (s *Subscription) Next() (Heartbeat, bool) {
	hb, v, ok := s.ch.snapshot()
	s.mu.Lock()
	defer s.mu.Unlock()
	if !ok || s.closed || v <= s.seen {
		return Heartbeat{}, false
	}
	s.seen = v
	return hb, true
}

// Wait blocks until a value newer than the last one returned by Next or
// Wait is available, or ctx is done.
func (s *Subscription) Wait(ctx context.Context) (Heartbeat, error) {
	for {
		if hb, ok := s.Next(); ok {
			return hb, nil
		}
		select {
		case <-ctx.Done():
			return Heartbeat{}, ctx.Err()
		case <-s.notifyC:
		}
	}
}

// Close detaches the subscription from its channel.
func (s *Subscription) Close() {
	s.closeOne.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.mu.Unlock()
		s.ch.unsubscribe(s)
	})
}
