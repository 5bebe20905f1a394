package clock

import (
	"sync"
	"time"
)

// FakeClock is a deterministic Clock. Time moves only when Advance is
// called; AfterFunc callbacks run synchronously inside Advance, each at
// its own deadline, so a callback that re-arms itself observes Now()
// equal to the deadline that fired it.
type FakeClock struct {
	mu      sync.Mutex
	current time.Time
	waiters []*fakeWaiter
	changed *sync.Cond
}

type fakeWaiter struct {
	deadline time.Time
	callback func()
	channel  chan time.Time
	interval time.Duration
	stopped  bool
	fired    bool
}

// Fake returns a FakeClock set to initial.
func Fake(initial time.Time) *FakeClock {
	c := &FakeClock{current: initial}
	c.changed = sync.NewCond(&c.mu)
	return c
}

// Now returns the current fake time.
func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// AfterFunc registers f to run when the clock reaches now+d.
func (c *FakeClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	w := &fakeWaiter{deadline: c.current.Add(d), callback: f}
	c.waiters = append(c.waiters, w)
	c.changed.Broadcast()
	return &fakeTimer{clock: c, waiter: w}
}

// NewTicker registers a periodic waiter delivering on a 1-slot channel.
func (c *FakeClock) NewTicker(d time.Duration) Ticker {
	if d <= 0 {
		panic("clock: non-positive interval for NewTicker")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	w := &fakeWaiter{deadline: c.current.Add(d), channel: make(chan time.Time, 1), interval: d}
	c.waiters = append(c.waiters, w)
	c.changed.Broadcast()
	return &fakeTicker{clock: c, waiter: w}
}

// Advance moves the clock forward by d, firing every waiter whose
// deadline is reached, earliest first. Callbacks registered while
// advancing fire in the same call if their deadline is within range.
func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	target := c.current.Add(d)
	c.mu.Unlock()

	for {
		c.mu.Lock()
		next := c.earliestLocked(target)
		if next == nil {
			c.current = target
			c.mu.Unlock()
			return
		}
		c.current = next.deadline
		if next.interval > 0 {
			next.deadline = next.deadline.Add(next.interval)
		} else {
			next.fired = true
			c.removeLocked(next)
		}
		now := c.current
		c.mu.Unlock()

		if next.callback != nil {
			next.callback()
			continue
		}
		select {
		case next.channel <- now:
		default:
		}
	}
}

// WaitForTimers blocks until at least n waiters are pending.
func (c *FakeClock) WaitForTimers(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for c.pendingLocked() < n {
		c.changed.Wait()
	}
}

// PendingCount returns the number of live waiters.
func (c *FakeClock) PendingCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pendingLocked()
}

func (c *FakeClock) earliestLocked(target time.Time) *fakeWaiter {
	var best *fakeWaiter
	for _, w := range c.waiters {
		if w.stopped || w.deadline.After(target) {
			continue
		}
		if best == nil || w.deadline.Before(best.deadline) {
			best = w
		}
	}
	return best
}

func (c *FakeClock) removeLocked(target *fakeWaiter) {
	kept := c.waiters[:0]
	for _, w := range c.waiters {
		if w != target && !w.stopped {
			kept = append(kept, w)
		}
	}
	c.waiters = kept
	c.changed.Broadcast()
}

func (c *FakeClock) pendingLocked() int {
	n := 0
	for _, w := range c.waiters {
		if !w.stopped {
			n++
		}
	}
	return n
}

type fakeTimer struct {
	clock  *FakeClock
	waiter *fakeWaiter
}

func (t *fakeTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	if t.waiter.stopped || t.waiter.fired {
		return false
	}
	t.waiter.stopped = true
	t.clock.removeLocked(t.waiter)
	return true
}

type fakeTicker struct {
	clock  *FakeClock
	waiter *fakeWaiter
}

func (t *fakeTicker) C() <-chan time.Time { return t.waiter.channel }

func (t *fakeTicker) Stop() {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	t.waiter.stopped = true
	t.clock.removeLocked(t.waiter)
}
