package ingest

import (
	"sync"
	"sync/atomic"
)

const DefaultQueueCapacity = 500

// Queue is bounded FIFO of events. One producer calls Push, one consumer
// calls TryPop, no caller locking needed. On overflow oldest events are
// discarded.
type Queue struct {
	mu   sync.Mutex
	ring []Event
	head int
	size int

	discarded uint64 // atomic
	readch    chan struct{}

	// OnDiscard is called for each overflow discard, under queue lock.
	// Must not call Queue methods. Set before first Push.
	OnDiscard func(Event)
}

func NewQueue(capacity int) *Queue {
	if capacity <= 0 {
		capacity = DefaultQueueCapacity
	}
	return &Queue{
		ring:   make([]Event, capacity),
		readch: make(chan struct{}, 1),
	}
}

// Push appends e and returns number of events discarded from head.
func (q *Queue) Push(e Event) int {
	q.mu.Lock()
	capacity := len(q.ring)
	discarded := 0
	if q.size == capacity {
		// full: tail slot is head slot, new event replaces oldest
		victim := q.ring[q.head]
		q.ring[q.head] = e
		q.head = (q.head + 1) % capacity
		discarded++
		if q.OnDiscard != nil {
			q.OnDiscard(victim)
		}
	} else {
		q.ring[(q.head+q.size)%capacity] = e
		q.size++
	}
	q.mu.Unlock()

	if discarded != 0 {
		atomic.AddUint64(&q.discarded, uint64(discarded))
	}
	signal(q.readch)
	return discarded
}

// TryPop removes head event. Never blocks on empty queue.
func (q *Queue) TryPop() (Event, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.size == 0 {
		return Event{}, false
	}
	e := q.ring[q.head]
	q.ring[q.head] = Event{} // release packet for GC
	q.head = (q.head + 1) % len(q.ring)
	q.size--
	return e, true
}

func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.size
}

func (q *Queue) Cap() int { return len(q.ring) }

// Discarded is total overflow discards since creation.
func (q *Queue) Discarded() uint64 { return atomic.LoadUint64(&q.discarded) }

// Ready receives after Push. Signals coalesce, always recheck with TryPop.
func (q *Queue) Ready() <-chan struct{} { return q.readch }

func signal(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}
