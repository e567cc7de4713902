package live

import "sync"

// dispatcher runs owner callbacks one at a time, in the order they were
// posted, on a goroutine that exists only while work is queued. Posting never
// blocks, so audio and transport goroutines can report without waiting on the
// owner.
type dispatcher struct {
	mu      sync.Mutex
	queue   []func()
	running bool
}

func (d *dispatcher) post(fn func()) {
	if fn == nil {
		return
	}
	d.mu.Lock()
	d.queue = append(d.queue, fn)
	if d.running {
		d.mu.Unlock()
		return
	}
	d.running = true
	d.mu.Unlock()
	go d.drain()
}

func (d *dispatcher) drain() {
	for {
		d.mu.Lock()
		if len(d.queue) == 0 {
			d.running = false
			d.mu.Unlock()
			return
		}
		fn := d.queue[0]
		d.queue[0] = nil
		d.queue = d.queue[1:]
		d.mu.Unlock()

		fn()
	}
}

// sync blocks until everything posted before the call has run. It must not
// be called from a dispatched callback.
func (d *dispatcher) sync() {
	done := make(chan struct{})
	d.post(func() { close(done) })
	<-done
}
