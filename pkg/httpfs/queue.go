package httpfs

import (
	"sync"
	"time"
)

// HandlerQueue is the bounded MPMC queue of pending operations described in
// spec §2.3/§4.3. The original design pairs a mutex+condvar with a wakeup
// pipe so a poll()-based event loop can observe arrivals; in Go the reactor
// integration is a channel receive, so the channel itself is the wakeup
// mechanism (spec §9's design note: "the wire-level behavior is not
// observable outside the process").
type HandlerQueue struct {
	mu       sync.Mutex
	notFull  *sync.Cond
	items    []*Operation
	maxSize  int
	ch       chan *Operation
	closed   bool
	rejected uint64
}

// NewHandlerQueue returns a HandlerQueue bounded at maxSize pending
// operations.
func NewHandlerQueue(maxSize int) *HandlerQueue {
	if maxSize <= 0 {
		maxSize = 4096
	}
	q := &HandlerQueue{
		maxSize: maxSize,
		ch:      make(chan *Operation, maxSize),
	}
	q.notFull = sync.NewCond(&q.mu)
	return q
}

// Produce enqueues op, blocking until a slot is available or op's
// operation-deadline passes. On deadline expiry the op is failed with
// KindOperationExpired and Produce returns without enqueueing.
func (q *HandlerQueue) Produce(op *Operation) {
	q.mu.Lock()
	for !q.closed && len(q.items) >= q.maxSize {
		if op.OperationDeadline.IsZero() {
			q.notFull.Wait()
			continue
		}
		remaining := time.Until(op.OperationDeadline)
		if remaining <= 0 {
			q.rejected++
			q.mu.Unlock()
			op.Fail(NewError(KindOperationExpired, op.Verb.String(), op.URL, "queue full past deadline", nil))
			return
		}
		// Cond has no timed wait; approximate with a bounded sleep-and-retry,
		// which is adequate because Produce callers are host threads, not
		// workers on the hot path.
		q.mu.Unlock()
		sleepCapped(remaining)
		q.mu.Lock()
	}
	if q.closed {
		q.mu.Unlock()
		op.Fail(NewError(KindInternalError, op.Verb.String(), op.URL, "queue shut down", nil))
		return
	}
	q.items = append(q.items, op)
	q.mu.Unlock()
	q.ch <- op
}

func sleepCapped(d time.Duration) {
	if d > 50*time.Millisecond {
		d = 50 * time.Millisecond
	}
	time.Sleep(d)
}

// Consume blocks up to timeout for the next operation, or returns nil if the
// queue is shut down or the wait expires.
func (q *HandlerQueue) Consume(timeout time.Duration) *Operation {
	select {
	case op, ok := <-q.ch:
		if !ok {
			return nil
		}
		q.popItem()
		return op
	case <-time.After(timeout):
		return nil
	}
}

// TryConsume returns the next operation without blocking, or nil if none is
// ready.
func (q *HandlerQueue) TryConsume() *Operation {
	select {
	case op, ok := <-q.ch:
		if !ok {
			return nil
		}
		q.popItem()
		return op
	default:
		return nil
	}
}

func (q *HandlerQueue) popItem() {
	q.mu.Lock()
	if len(q.items) > 0 {
		q.items = q.items[1:]
	}
	q.notFull.Signal()
	q.mu.Unlock()
}

// Expire sweeps the queue removing operations whose operation-deadline has
// passed, failing each with KindOperationExpired, and returns the count
// removed.
func (q *HandlerQueue) Expire() int {
	q.mu.Lock()
	now := time.Now()
	var kept []*Operation
	var expired []*Operation
	for _, op := range q.items {
		if !op.OperationDeadline.IsZero() && now.After(op.OperationDeadline) {
			expired = append(expired, op)
		} else {
			kept = append(kept, op)
		}
	}
	q.items = kept
	q.mu.Unlock()

	for range expired {
		// Drain the channel copies that correspond to the expired items so
		// the channel buffer count matches q.items (spec §4.3's "Expire must
		// resynchronize the pipe").
		select {
		case <-q.ch:
		default:
		}
	}
	for _, op := range expired {
		op.Fail(NewError(KindOperationExpired, op.Verb.String(), op.URL, "expired while queued", nil))
	}
	q.mu.Lock()
	q.notFull.Broadcast()
	q.mu.Unlock()
	return len(expired)
}

// Shutdown wakes all blocked producers and consumers; subsequent Consume
// calls return any operations still queued, then nil immediately.
func (q *HandlerQueue) Shutdown() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	q.notFull.Broadcast()
	q.mu.Unlock()
	close(q.ch)
}

// Len reports the current queue depth, for metrics.
func (q *HandlerQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
