package services

import (
	"sync"
	"time"
)

// Ticker receives elapsed seconds.
type Ticker interface {
	Tick(seconds int64)
}

// TimeTracker credits one second to its target on every tick while a wizard
// view is open. It never resets anything: Stop pauses and Start resumes.
type TimeTracker struct {
	target   Ticker
	interval time.Duration

	mu   sync.Mutex
	stop chan struct{}
	done chan struct{}
}

// NewTimeTracker ticks every interval, one second when interval is not
// positive. Each tick credits one second regardless of interval.
func NewTimeTracker(target Ticker, interval time.Duration) *TimeTracker {
	if interval <= 0 {
		interval = time.Second
	}
	return &TimeTracker{target: target, interval: interval}
}

// Start begins ticking. Calling Start on a running tracker does nothing.
func (t *TimeTracker) Start() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stop != nil {
		return
	}
	t.stop = make(chan struct{})
	t.done = make(chan struct{})
	go t.loop(t.stop, t.done)
}

// Stop halts ticking and returns once no further tick can be delivered.
func (t *TimeTracker) Stop() {
	t.mu.Lock()
	stop, done := t.stop, t.done
	t.stop, t.done = nil, nil
	t.mu.Unlock()

	if stop == nil {
		return
	}
	close(stop)
	<-done
}

func (t *TimeTracker) Running() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stop != nil
}

func (t *TimeTracker) loop(stop, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			// Stop wins over a tick that fired at the same moment.
			select {
			case <-stop:
				return
			default:
			}
			t.target.Tick(1)
		}
	}
}
