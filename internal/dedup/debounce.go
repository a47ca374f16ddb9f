package dedup

import (
	"sync"
	"time"

	"github.com/genricoloni/playsync/internal/domain"
)

// Debouncer coalesces snapshots pushed within a short window into the last one
type Debouncer struct {
	delay time.Duration
	emit  func(domain.PlaybackSnapshot)

	mu      sync.Mutex
	timer   *time.Timer
	pending domain.PlaybackSnapshot
	stopped bool
}

// NewDebouncer calls emit with the latest snapshot once delay has passed
// since the first push of a burst
func NewDebouncer(delay time.Duration, emit func(domain.PlaybackSnapshot)) *Debouncer {
	return &Debouncer{delay: delay, emit: emit}
}

// Push schedules snap, replacing any snapshot still waiting
func (d *Debouncer) Push(snap domain.PlaybackSnapshot) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stopped {
		return
	}
	d.pending = snap
	if d.timer == nil {
		d.timer = time.AfterFunc(d.delay, d.flush)
	}
}

func (d *Debouncer) flush() {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return
	}
	snap := d.pending
	d.timer = nil
	d.mu.Unlock()

	d.emit(snap)
}

// Stop drops any pending snapshot and refuses further pushes
func (d *Debouncer) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.stopped = true
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
}
