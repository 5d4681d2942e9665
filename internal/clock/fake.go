package clock

import (
	"sync"
	"time"
)

// NewFake returns a Fake clock pinned to start. Nothing fires until
// Advance moves the clock past a deadline.
func NewFake(start time.Time) *Fake {
	f := &Fake{now: start}
	f.changed = sync.NewCond(&f.mu)
	return f
}

// Fake is a deterministic Clock for tests. AfterFunc callbacks run
// synchronously inside Advance, in deadline order, so a test that calls
// Advance observes every side effect of the fired timers before it
// continues. Safe for concurrent use.
//
// Do not call Advance from inside a timer callback; that deadlocks.
type Fake struct {
	mu      sync.Mutex
	now     time.Time
	pending []*fakeTimer
	changed *sync.Cond
}

// fakeTimer is a pending AfterFunc, Sleep, or Ticker registration.
type fakeTimer struct {
	deadline time.Time
	fn       func()          // AfterFunc callback; nil for channel waiters
	ch       chan time.Time  // Sleep/Ticker channel; nil for AfterFunc
	period   time.Duration   // non-zero for tickers; rearmed after firing
	stopped  bool
	fired    bool
}

// Now returns the fake time.
func (f *Fake) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

// AfterFunc registers fn to run when the clock passes d from now. With
// d <= 0 the callback runs synchronously before AfterFunc returns.
func (f *Fake) AfterFunc(d time.Duration, fn func()) *Timer {
	if d <= 0 {
		fn()
		return &Timer{
			stop:  func() bool { return false },
			reset: func(time.Duration) bool { return false },
		}
	}

	f.mu.Lock()
	ft := &fakeTimer{deadline: f.now.Add(d), fn: fn}
	f.pending = append(f.pending, ft)
	f.changed.Broadcast()
	f.mu.Unlock()

	return &Timer{
		stop: func() bool {
			f.mu.Lock()
			defer f.mu.Unlock()
			if ft.stopped || ft.fired {
				return false
			}
			ft.stopped = true
			return true
		},
		reset: func(d time.Duration) bool {
			f.mu.Lock()
			defer f.mu.Unlock()
			active := !ft.stopped && !ft.fired
			ft.deadline = f.now.Add(d)
			ft.stopped = false
			if ft.fired {
				ft.fired = false
				f.pending = append(f.pending, ft)
				f.changed.Broadcast()
			}
			return active
		},
	}
}

// NewTicker registers a periodic waiter. Ticks that find the channel full
// are dropped, matching time.Ticker.
func (f *Fake) NewTicker(d time.Duration) *Ticker {
	if d <= 0 {
		panic("clock: non-positive ticker interval")
	}

	f.mu.Lock()
	ch := make(chan time.Time, 1)
	ft := &fakeTimer{deadline: f.now.Add(d), ch: ch, period: d}
	f.pending = append(f.pending, ft)
	f.changed.Broadcast()
	f.mu.Unlock()

	return &Ticker{
		C: ch,
		stop: func() {
			f.mu.Lock()
			defer f.mu.Unlock()
			ft.stopped = true
		},
	}
}

// Sleep blocks until the clock advances past d from now.
func (f *Fake) Sleep(d time.Duration) {
	if d <= 0 {
		return
	}

	f.mu.Lock()
	ch := make(chan time.Time, 1)
	f.pending = append(f.pending, &fakeTimer{deadline: f.now.Add(d), ch: ch})
	f.changed.Broadcast()
	f.mu.Unlock()

	<-ch
}

// Advance moves the clock forward by d, stepping to each due deadline in
// turn and firing its registration there. A callback observes Now() at
// its own fire time, so timers it registers land relative to that moment
// and fire too when their deadline still falls within the advance.
func (f *Fake) Advance(d time.Duration) {
	f.mu.Lock()
	target := f.now.Add(d)
	f.mu.Unlock()

	for {
		ft, at := f.popDue(target)
		if ft == nil {
			break
		}
		if ft.fn != nil {
			ft.fn()
			continue
		}
		select {
		case ft.ch <- at:
		default:
		}
	}

	f.mu.Lock()
	if f.now.Before(target) {
		f.now = target
	}
	f.changed.Broadcast()
	f.mu.Unlock()
}

// popDue removes and returns the earliest registration due at or before
// target, moving the clock to its deadline. Tickers are rearmed for the
// next period; stopped entries are swept out along the way.
func (f *Fake) popDue(target time.Time) (*fakeTimer, time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var best *fakeTimer
	for _, ft := range f.pending {
		if ft.stopped || ft.deadline.After(target) {
			continue
		}
		if best == nil || ft.deadline.Before(best.deadline) {
			best = ft
		}
	}

	var at time.Time
	if best != nil {
		at = best.deadline
		if f.now.Before(at) {
			f.now = at
		}
	}

	keep := f.pending[:0]
	for _, ft := range f.pending {
		switch {
		case ft.stopped:
			ft.fired = true // dropped from tracking; Reset re-registers
		case ft == best:
			if ft.period > 0 {
				ft.deadline = at.Add(ft.period)
				keep = append(keep, ft)
			} else {
				ft.fired = true
			}
		default:
			keep = append(keep, ft)
		}
	}
	f.pending = keep
	return best, at
}

// WaitForPending blocks until at least n registrations are pending. Tests
// use it to let a goroutine arm its timer before Advance fires it.
func (f *Fake) WaitForPending(n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for f.pendingLocked() < n {
		f.changed.Wait()
	}
}

// PendingCount returns the number of armed registrations.
func (f *Fake) PendingCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pendingLocked()
}

func (f *Fake) pendingLocked() int {
	n := 0
	for _, ft := range f.pending {
		if !ft.stopped {
			n++
		}
	}
	return n
}
