package sender

import "github.com/speedwagon-io/helmet/internal/model"

// offlineQueue is a fixed-capacity ring. Pushing into a full ring overwrites
// the oldest message.
type offlineQueue struct {
	buf  []model.OutboundMessage
	head int
	size int
}

func newOfflineQueue(capacity int) *offlineQueue {
	return &offlineQueue{buf: make([]model.OutboundMessage, max(1, capacity))}
}

func (q *offlineQueue) Len() int {
	return q.size
}

func (q *offlineQueue) Cap() int {
	return len(q.buf)
}

// Push reports whether an older message was evicted to make room.
func (q *offlineQueue) Push(msg model.OutboundMessage) bool {
	if q.size == len(q.buf) {
		q.buf[q.head] = msg
		q.head = (q.head + 1) % len(q.buf)
		return true
	}

	q.buf[(q.head+q.size)%len(q.buf)] = msg
	q.size++
	return false
}

func (q *offlineQueue) Items() []model.OutboundMessage {
	out := make([]model.OutboundMessage, q.size)
	for i := range out {
		out[i] = q.buf[(q.head+i)%len(q.buf)]
	}
	return out
}

func (q *offlineQueue) Reset(items []model.OutboundMessage) {
	clear(q.buf)
	q.head, q.size = 0, 0
	for _, msg := range items {
		q.Push(msg)
	}
}
