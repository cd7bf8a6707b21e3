package httpconn

import "sync"

// defaultInboundCapacity is the high-water mark of a stream's inbound
// buffer (spec.md §3: "bounded, default capacity 5 items").
const defaultInboundCapacity = 5

// inboundItem is either a body chunk or the trailing-headers sentinel that
// marks end-of-response, mirroring spec.md §4.A's "typed items".
type inboundItem struct {
	chunk    []byte
	trailers Headers
	isEnd    bool
}

// inboundQueue is the per-stream bounded FIFO of spec.md §4.A: it decouples
// the rate at which the dispatcher hands off decoded chunks from the rate
// at which the consumer drains them, and exposes the write/pause/fetch/drain
// vocabulary needed for read-side backpressure.
type inboundQueue struct {
	mu           sync.Mutex
	items        []inboundItem
	highWater    int
	paused       bool
	demand       int64 // -1 means unlimited while not paused
	handler      func(inboundItem)
	drainHandler func()
}

func newInboundQueue(highWater int) *inboundQueue {
	if highWater <= 0 {
		highWater = defaultInboundCapacity
	}
	return &inboundQueue{highWater: highWater, demand: -1}
}

// setHandler installs the per-item delivery callback.
func (q *inboundQueue) setHandler(h func(inboundItem)) {
	q.mu.Lock()
	q.handler = h
	q.mu.Unlock()
}

// setDrainHandler installs the callback fired once the queue empties out
// after having been non-empty.
func (q *inboundQueue) setDrainHandler(h func()) {
	q.mu.Lock()
	q.drainHandler = h
	q.mu.Unlock()
}

// write enqueues item and returns whether the queue was still within its
// high-water mark before the write. A false return is the dispatcher's cue
// to pause transport reads (spec.md §4.A).
func (q *inboundQueue) write(item inboundItem) bool {
	q.mu.Lock()
	accepted := len(q.items) < q.highWater
	q.items = append(q.items, item)
	q.mu.Unlock()
	q.deliver()
	return accepted
}

// pause stops delivery until fetch grants more demand.
func (q *inboundQueue) pause() {
	q.mu.Lock()
	q.paused = true
	q.demand = 0
	q.mu.Unlock()
}

// fetch grants n additional deliveries (n<=0 means unlimited) and resumes
// delivery of anything already queued.
func (q *inboundQueue) fetch(n int64) {
	q.mu.Lock()
	q.paused = false
	if n <= 0 {
		q.demand = -1
	} else if q.demand >= 0 {
		q.demand += n
	}
	q.mu.Unlock()
	q.deliver()
}

// deliver drains as many items as current demand allows, invoking the
// handler outside the lock, and fires the drain handler exactly once the
// queue transitions to empty.
func (q *inboundQueue) deliver() {
	for {
		q.mu.Lock()
		if q.demand == 0 {
			q.mu.Unlock()
			return
		}
		if len(q.items) == 0 {
			q.mu.Unlock()
			return
		}
		item := q.items[0]
		q.items = q.items[1:]
		if q.demand > 0 {
			q.demand--
		}
		nowEmpty := len(q.items) == 0
		handler := q.handler
		drainHandler := q.drainHandler
		q.mu.Unlock()

		if handler != nil {
			handler(item)
		}
		if nowEmpty && drainHandler != nil {
			drainHandler()
		}
	}
}

// len reports the number of items currently queued, mainly for tests.
func (q *inboundQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
