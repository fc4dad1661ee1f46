package delivery

import (
	"sync"
	"time"

	"miniond/internal/durablequeue"

	"github.com/google/uuid"
)

// memQueue is Drop's in-memory, non-persistent queue (spec §4.5: "drop
// traffic is padding and need not survive a crash"). It satisfies
// DeliveryQueue without ever touching disk.
type memQueue struct {
	mu      sync.Mutex
	entries map[string]durablequeue.Entry
}

func newMemQueue() *memQueue {
	return &memQueue{entries: make(map[string]durablequeue.Entry)}
}

func (q *memQueue) Enqueue(address, payload []byte) (string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	handle := uuid.NewString()
	q.entries[handle] = durablequeue.Entry{
		Handle:        handle,
		Address:       address,
		Payload:       payload,
		FirstQueuedAt: time.Now(),
		NextAttemptAt: time.Now(),
	}
	return handle, nil
}

func (q *memQueue) Drain(limit int) ([]durablequeue.Entry, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	var out []durablequeue.Entry
	for _, e := range q.entries {
		if limit > 0 && len(out) >= limit {
			break
		}
		out = append(out, e)
	}
	return out, nil
}

func (q *memQueue) Succeeded(handle string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.entries, handle)
	return nil
}

func (q *memQueue) Failed(handle string, retriable bool) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.entries, handle)
	return nil
}

func (q *memQueue) Count() (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries), nil
}

func (q *memQueue) Clean() error {
	return nil
}
