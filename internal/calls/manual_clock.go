package calls

import (
	"sync"
	"time"
)

// ManualClock only moves when Advance is called. Callbacks run on the
// goroutine calling Advance, in due order.
type ManualClock struct {
	mu    sync.Mutex
	now   time.Time
	tasks []*manualTask
}

type manualTask struct {
	clock   *ManualClock
	at      time.Time
	every   time.Duration
	f       func()
	stopped bool
}

func NewManualClock(start time.Time) *ManualClock {
	return &ManualClock{now: start}
}

func (c *ManualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *ManualClock) AfterFunc(d time.Duration, f func()) Task {
	return c.schedule(d, 0, f)
}

func (c *ManualClock) Every(d time.Duration, f func()) Task {
	return c.schedule(d, d, f)
}

func (c *ManualClock) schedule(d, every time.Duration, f func()) Task {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &manualTask{clock: c, at: c.now.Add(d), every: every, f: f}
	c.tasks = append(c.tasks, t)
	return t
}

// Advance moves time forward by d, firing every task that falls due.
func (c *ManualClock) Advance(d time.Duration) {
	c.mu.Lock()
	target := c.now.Add(d)
	for {
		t := c.nextDueLocked(target)
		if t == nil {
			break
		}
		c.now = t.at
		if t.every > 0 {
			t.at = t.at.Add(t.every)
		} else {
			t.stopped = true
		}
		c.mu.Unlock()
		t.f()
		c.mu.Lock()
	}
	c.now = target
	c.pruneLocked()
	c.mu.Unlock()
}

// Pending is the number of tasks that have not fired or been stopped.
func (c *ManualClock) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pruneLocked()
	return len(c.tasks)
}

func (c *ManualClock) nextDueLocked(target time.Time) *manualTask {
	var next *manualTask
	for _, t := range c.tasks {
		if t.stopped || t.at.After(target) {
			continue
		}
		if next == nil || t.at.Before(next.at) {
			next = t
		}
	}
	return next
}

func (c *ManualClock) pruneLocked() {
	kept := c.tasks[:0]
	for _, t := range c.tasks {
		if !t.stopped {
			kept = append(kept, t)
		}
	}
	c.tasks = kept
}

func (t *manualTask) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	was := !t.stopped
	t.stopped = true
	return was
}
