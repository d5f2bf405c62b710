package bridge

import (
	"sync"

	"github.com/eapache/queue"
)

// outbox is a per-connection FIFO of encoded frames with a byte budget. The
// connection's writer goroutine is the only consumer.
type outbox struct {
	mu     sync.Mutex
	q      *queue.Queue
	bytes  int
	limit  int
	closed bool
	ready  chan struct{}
}

func newOutbox(limit int) *outbox {
	return &outbox{
		q:     queue.New(),
		limit: limit,
		ready: make(chan struct{}, 1),
	}
}

// push queues frame. It fails with ErrOutboxFull when the budget would be
// exceeded and ErrClosed after close.
func (o *outbox) push(frame []byte) error {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return ErrClosed
	}
	if o.limit > 0 && o.bytes+len(frame) > o.limit {
		o.mu.Unlock()
		return ErrOutboxFull
	}
	o.q.Add(frame)
	o.bytes += len(frame)
	o.mu.Unlock()
	o.signal()
	return nil
}

// finish queues a last frame regardless of budget and refuses further pushes.
// It reports false if the outbox was already closed.
func (o *outbox) finish(frame []byte) bool {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return false
	}
	o.closed = true
	if frame != nil {
		o.q.Add(frame)
		o.bytes += len(frame)
	}
	o.mu.Unlock()
	o.signal()
	return true
}

// abort discards pending frames and closes the outbox.
func (o *outbox) abort() {
	o.mu.Lock()
	o.closed = true
	for o.q.Length() > 0 {
		o.q.Remove()
	}
	o.bytes = 0
	o.mu.Unlock()
	o.signal()
}

// pop returns the next frame. When the queue is empty, closed reports whether
// no more frames will ever arrive.
func (o *outbox) pop() (frame []byte, ok bool, closed bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.q.Length() == 0 {
		return nil, false, o.closed
	}
	frame = o.q.Remove().([]byte)
	o.bytes -= len(frame)
	return frame, true, o.closed
}

func (o *outbox) buffered() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.bytes
}

func (o *outbox) signal() {
	select {
	case o.ready <- struct{}{}:
	default:
	}
}
