package memory

import (
	"sync"

	"smsgate/internal/domain/models"
)

// Queue is an unbounded FIFO of admitted messages waiting for dispatch.
type Queue struct {
	mu    sync.Mutex
	items []models.Message
}

func NewQueue() *Queue {
	return &Queue{}
}

func (q *Queue) Enqueue(msgs ...models.Message) {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.items = append(q.items, msgs...)
}

// Drain removes and returns everything queued so far. Messages enqueued
// afterwards are left for the next call.
func (q *Queue) Drain() []models.Message {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) == 0 {
		return nil
	}

	items := q.items
	q.items = nil

	return items
}

func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	return len(q.items)
}
