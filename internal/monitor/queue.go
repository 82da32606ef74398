package monitor

import (
	"sync"

	"github.com/roach88/htlc/internal/ledger"
)

// pending is a block hash awaiting processing.
type pending struct {
	hash ledger.Hash

	// deferrals counts cycles this block was seen unsettled.
	deferrals int
}

// pendingQueue is a thread-safe FIFO of block hashes.
//
// The subscription callback pushes; the Run loop pops. The queue is
// unbounded, and a hash already waiting in the queue is not added twice, so
// at-least-once delivery from the subscription collapses to one entry.
//
// The queue uses a channel for signaling so the Run loop can wake early
// when new blocks arrive.
type pendingQueue struct {
	mu     sync.Mutex
	items  []pending
	queued map[ledger.Hash]struct{}
	closed bool
	signal chan struct{} // Signals new arrivals (buffered, size 1)
}

func newPendingQueue() *pendingQueue {
	return &pendingQueue{
		items:  make([]pending, 0, 64),
		queued: make(map[ledger.Hash]struct{}),
		signal: make(chan struct{}, 1),
	}
}

// Push adds a new hash to the back of the queue.
// Thread-safe: may be called from any goroutine.
// Returns false if the queue is closed or already holds hash.
func (q *pendingQueue) Push(hash ledger.Hash) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}
	if _, dup := q.queued[hash]; dup {
		return false
	}
	q.queued[hash] = struct{}{}
	q.items = append(q.items, pending{hash: hash})

	// Non-blocking: buffer of 1 coalesces multiple signals
	select {
	case q.signal <- struct{}{}:
	default:
	}
	return true
}

// Requeue puts p back at the end without signaling, so a deferred block is
// looked at again next cycle rather than immediately.
func (q *pendingQueue) Requeue(p pending) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}
	if _, dup := q.queued[p.hash]; dup {
		return
	}
	q.queued[p.hash] = struct{}{}
	q.items = append(q.items, p)
}

// PushFront returns p to the head of the queue, preserving per-hash order
// after a failed fetch. Does not signal.
func (q *pendingQueue) PushFront(p pending) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}
	if _, dup := q.queued[p.hash]; dup {
		return
	}
	q.queued[p.hash] = struct{}{}
	q.items = append(q.items, pending{})
	copy(q.items[1:], q.items)
	q.items[0] = p
}

// TryPop removes and returns the front item without blocking.
func (q *pendingQueue) TryPop() (pending, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) == 0 {
		return pending{}, false
	}
	p := q.items[0]
	delete(q.queued, p.hash)

	if len(q.items) == 1 {
		// Reset to empty slice with original capacity
		q.items = q.items[:0]
	} else {
		q.items = q.items[1:]
	}
	return p, true
}

// Wait returns a channel that signals when new hashes may be available.
func (q *pendingQueue) Wait() <-chan struct{} {
	return q.signal
}

// Len returns the current queue length.
func (q *pendingQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Close rejects further pushes and wakes any waiter.
func (q *pendingQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}
	q.closed = true
	close(q.signal)
}
