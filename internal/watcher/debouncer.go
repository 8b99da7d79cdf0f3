package watcher

import (
	"sync"
	"time"
)

// Debouncer coalesces rapid file change events per path. It waits for a
// quiet period before firing the callback.
type Debouncer struct {
	mu       sync.Mutex
	pending  map[string]*time.Timer
	interval time.Duration
	callback func(path string)
	stopped  bool
}

// NewDebouncer creates a debouncer firing callback after interval of quiet.
func NewDebouncer(interval time.Duration, callback func(path string)) *Debouncer {
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	return &Debouncer{
		pending:  make(map[string]*time.Timer),
		interval: interval,
		callback: callback,
	}
}

// Trigger registers a change for the path. A pending timer for the same
// path is reset.
func (d *Debouncer) Trigger(path string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stopped {
		return
	}
	if timer, ok := d.pending[path]; ok {
		timer.Stop()
	}
	d.pending[path] = time.AfterFunc(d.interval, func() {
		d.fire(path)
	})
}

func (d *Debouncer) fire(path string) {
	d.mu.Lock()
	_, ok := d.pending[path]
	if !ok || d.stopped {
		d.mu.Unlock()
		return
	}
	delete(d.pending, path)
	d.mu.Unlock()

	// Callback runs outside the lock.
	d.callback(path)
}

// Stop cancels all pending timers. No callback fires after Stop returns.
func (d *Debouncer) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.stopped = true
	for path, timer := range d.pending {
		timer.Stop()
		delete(d.pending, path)
	}
}
