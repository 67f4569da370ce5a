package timer

import (
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// TickInterval is the periodic re-evaluation interval of a Tracker.
const TickInterval = time.Second

// Snapshot is the tracker's view at one instant.
type Snapshot struct {
	Remaining time.Duration
	// Progress is elapsed/span clamped to [0,1].
	Progress float64
	Complete bool
}

// Formatted renders the remaining time as zero-padded MM:SS.
func (s Snapshot) Formatted() string {
	return FormatRemaining(s.Remaining)
}

func FormatRemaining(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	minutes := int(d / time.Minute)
	seconds := int((d % time.Minute) / time.Second)
	return fmt.Sprintf("%02d:%02d", minutes, seconds)
}

// Tracker counts down to an absolute deadline. Remaining time is always
// recomputed from the wall clock, so a suspended process catches up on the
// next tick or Resume. The completion callback fires once per activation.
type Tracker struct {
	clock      clockwork.Clock
	interval   time.Duration
	onComplete func()

	mu        sync.Mutex
	start     time.Time
	target    time.Time
	enabled   bool
	fired     bool
	remaining time.Duration
	stop      chan struct{}
}

// NewTracker returns a disabled tracker. onComplete may be nil.
func NewTracker(clock clockwork.Clock, onComplete func()) *Tracker {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Tracker{
		clock:      clock,
		interval:   TickInterval,
		onComplete: onComplete,
	}
}

// Set activates the tracker for the window [start, target]. A zero start
// uses the current time. Changing the target or re-enabling resets the
// one-shot guard; repeating the same values is a no-op. Disabling stops the
// ticker without firing.
func (t *Tracker) Set(start, target time.Time, enabled bool) {
	if target.IsZero() {
		enabled = false
	}

	t.mu.Lock()
	if enabled == t.enabled && target.Equal(t.target) {
		t.mu.Unlock()
		return
	}
	t.stopLocked()
	t.target = target
	t.enabled = enabled
	t.fired = false
	t.remaining = 0
	if start.IsZero() {
		start = t.clock.Now()
	}
	t.start = start
	if enabled {
		stop := make(chan struct{})
		t.stop = stop
		go t.loop(stop)
	}
	t.mu.Unlock()

	if enabled {
		t.Refresh()
	}
}

// Resume re-evaluates immediately. Call it when the host process regains
// visibility or focus after being suspended.
func (t *Tracker) Resume() Snapshot {
	return t.Refresh()
}

// Stop tears down the ticker and disables the tracker; later ticks and
// resumes never fire.
func (t *Tracker) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stopLocked()
	t.enabled = false
}

func (t *Tracker) stopLocked() {
	if t.stop != nil {
		close(t.stop)
		t.stop = nil
	}
}

// Refresh recomputes the remaining time and fires the completion callback
// if the deadline has just been reached.
func (t *Tracker) Refresh() Snapshot {
	t.mu.Lock()
	if !t.enabled {
		t.remaining = 0
		snap := t.snapshotLocked()
		t.mu.Unlock()
		return snap
	}

	t.remaining = t.target.Sub(t.clock.Now())
	if t.remaining < 0 {
		t.remaining = 0
	}
	fire := t.remaining == 0 && !t.fired
	if fire {
		t.fired = true
	}
	snap := t.snapshotLocked()
	t.mu.Unlock()

	if fire && t.onComplete != nil {
		t.onComplete()
	}
	return snap
}

// Snapshot returns the last computed state without re-evaluating.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.snapshotLocked()
}

func (t *Tracker) snapshotLocked() Snapshot {
	snap := Snapshot{Remaining: t.remaining, Complete: t.fired}
	span := t.target.Sub(t.start)
	switch {
	case !t.enabled:
	case span <= 0:
		snap.Progress = 1
	default:
		snap.Progress = float64(span-t.remaining) / float64(span)
	}
	if snap.Progress < 0 {
		snap.Progress = 0
	}
	if snap.Progress > 1 {
		snap.Progress = 1
	}
	return snap
}

func (t *Tracker) loop(stop chan struct{}) {
	ticker := t.clock.NewTicker(t.interval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.Chan():
			select {
			case <-stop:
				return
			default:
			}
			t.Refresh()
		}
	}
}
