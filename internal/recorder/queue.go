package recorder

import (
	"sync"

	"github.com/roach88/fluxtor/internal/fluxtor"
)

// record is one serialized pipeline event waiting to be written.
// JSON columns are already canonical so the writer never touches live
// store values.
type record struct {
	eventType  fluxtor.EventType
	dispatchID string
	action     string
	seq        int64

	data        string
	args        string
	payload     *string
	errText     string
	stage       string
	stateDigest string

	// flushed is closed by the writer instead of writing anything.
	flushed chan struct{}
}

// recordQueue is an unbounded, thread-safe FIFO of records.
//
// Producers are dispatching goroutines and must never block, so the queue
// grows instead of applying backpressure. The signal channel lets the
// writer wait with a select on its context.
type recordQueue struct {
	mu      sync.Mutex
	records []record
	closed  bool
	signal  chan struct{} // buffered, size 1
}

func newRecordQueue() *recordQueue {
	return &recordQueue{
		records: make([]record, 0, 64),
		signal:  make(chan struct{}, 1),
	}
}

// Enqueue adds a record to the back of the queue.
// Returns false if the queue is closed.
func (q *recordQueue) Enqueue(r record) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}
	q.records = append(q.records, r)

	// Buffer of 1 coalesces multiple signals
	select {
	case q.signal <- struct{}{}:
	default:
	}
	return true
}

// TryDequeue removes the front record without blocking.
func (q *recordQueue) TryDequeue() (record, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.records) == 0 {
		return record{}, false
	}

	r := q.records[0]
	// Clear the slot so the backing array does not pin old records
	q.records[0] = record{}
	if len(q.records) == 1 {
		q.records = q.records[:0]
	} else {
		q.records = q.records[1:]
	}
	return r, true
}

// Wait returns a channel that signals when records may be available.
// The channel is closed by Close.
func (q *recordQueue) Wait() <-chan struct{} {
	return q.signal
}

// Len returns the current queue length.
func (q *recordQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.records)
}

// Drained reports whether the queue is closed and empty.
func (q *recordQueue) Drained() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed && len(q.records) == 0
}

// Close stops accepting records and wakes the writer.
func (q *recordQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}
	q.closed = true
	close(q.signal)
}
