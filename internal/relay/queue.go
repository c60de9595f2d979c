package relay

import (
	"context"
	"sync"

	"github.com/m-lab/feedrelay/pkg/feedrelay/model"
)

// Queue is a bounded FIFO of envelopes. When full, Push evicts the oldest
// envelope so that the newest data always gets through. It is safe for
// concurrent use by one consumer and any number of producers.
type Queue struct {
	mu    sync.Mutex
	items []model.Envelope
	head  int
	size  int

	// notify has capacity 1 and wakes up a blocked Pop.
	notify chan struct{}
}

// NewQueue returns a Queue holding at most capacity envelopes. A capacity
// below 1 is treated as 1.
func NewQueue(capacity int) *Queue {
	if capacity < 1 {
		capacity = 1
	}
	return &Queue{
		items:  make([]model.Envelope, capacity),
		notify: make(chan struct{}, 1),
	}
}

// Push appends env. If the queue was full, the oldest envelope is removed
// and returned with ok set to true. Push never blocks.
func (q *Queue) Push(env model.Envelope) (dropped model.Envelope, ok bool) {
	q.mu.Lock()
	if q.size == len(q.items) {
		dropped, ok = q.items[q.head], true
		q.head = (q.head + 1) % len(q.items)
		q.size--
	}
	q.items[(q.head+q.size)%len(q.items)] = env
	q.size++
	q.mu.Unlock()

	select {
	case q.notify <- struct{}{}:
	default:
	}
	return dropped, ok
}

// TryPop removes and returns the oldest envelope, if any.
func (q *Queue) TryPop() (model.Envelope, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.size == 0 {
		return model.Envelope{}, false
	}
	env := q.items[q.head]
	q.items[q.head] = model.Envelope{}
	q.head = (q.head + 1) % len(q.items)
	q.size--
	return env, true
}

// Pop removes and returns the oldest envelope, waiting for one if the queue
// is empty. It returns ctx.Err() if the context is done first.
func (q *Queue) Pop(ctx context.Context) (model.Envelope, error) {
	for {
		if env, ok := q.TryPop(); ok {
			return env, nil
		}
		select {
		case <-ctx.Done():
			return model.Envelope{}, ctx.Err()
		case <-q.notify:
		}
	}
}

// Len returns the number of queued envelopes.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.size
}

// Cap returns the queue capacity.
func (q *Queue) Cap() int {
	return len(q.items)
}
