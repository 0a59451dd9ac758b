package conpro

import (
	"context"

	"github.com/arloliu/go-conpro/internal/queue"
)

// Sink receives the payload of every datagram routed to a consumer.
//
// Deliver is called on the listener goroutine and must not block. The payload is owned by the sink.
type Sink interface {
	Deliver(payload []byte)
}

// ConsumerQueue is a Sink that buffers payloads in an unbounded lock-free queue for the caller to poll.
type ConsumerQueue struct {
	q      *queue.LockFree[[]byte]
	notify chan struct{}
}

var _ Sink = (*ConsumerQueue)(nil)

// NewConsumerQueue creates an empty ConsumerQueue.
func NewConsumerQueue() *ConsumerQueue {
	return &ConsumerQueue{
		q:      queue.NewLockFree[[]byte](),
		notify: make(chan struct{}, 1),
	}
}

// Deliver enqueues payload and wakes one waiter.
func (cq *ConsumerQueue) Deliver(payload []byte) {
	cq.q.Enqueue(payload)
	cq.signal()
}

// Pop removes and returns the oldest payload. ok is false if the queue is empty.
func (cq *ConsumerQueue) Pop() (payload []byte, ok bool) {
	return cq.q.Dequeue()
}

// Wait blocks until a payload is available or ctx is done.
func (cq *ConsumerQueue) Wait(ctx context.Context) ([]byte, error) {
	for {
		if payload, ok := cq.q.Dequeue(); ok {
			// pass the wake-up on to the next waiter
			if !cq.q.IsEmpty() {
				cq.signal()
			}

			return payload, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-cq.notify:
		}
	}
}

// Len returns the number of buffered payloads.
func (cq *ConsumerQueue) Len() int {
	return cq.q.Length()
}

// IsEmpty reports whether no payload is buffered.
func (cq *ConsumerQueue) IsEmpty() bool {
	return cq.q.IsEmpty()
}

func (cq *ConsumerQueue) signal() {
	select {
	case cq.notify <- struct{}{}:
	default:
	}
}
