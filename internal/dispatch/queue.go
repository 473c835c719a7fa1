// Package dispatch provides the bounded FIFO queues that hand batch keys from
// the grid aggregator to the sink workers.
//
// Unlike the raw snapshot ring, a dispatch queue never drops: Put blocks
// while the queue is full, which slows the aggregator down instead of losing
// a batch.
package dispatch

import (
	"context"
	"sync/atomic"

	"github.com/xtxerr/gridrelay/internal/types"
)

// Queue is a bounded, blocking FIFO of batch keys.
// It is safe for concurrent use by any number of producers and consumers.
type Queue struct {
	name  string
	items chan types.BatchKey

	puts     atomic.Int64
	gets     atomic.Int64
	requeues atomic.Int64
}

// New creates a queue with the given capacity.
func New(name string, capacity int) *Queue {
	if capacity <= 0 {
		capacity = 1
	}
	return &Queue{
		name:  name,
		items: make(chan types.BatchKey, capacity),
	}
}

// Name returns the queue name used in logs and metrics.
func (q *Queue) Name() string { return q.name }

// Put enqueues key, blocking while the queue is full.
func (q *Queue) Put(ctx context.Context, key types.BatchKey) error {
	select {
	case q.items <- key:
		q.puts.Add(1)
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// TryPut enqueues key without blocking. Returns false if the queue is full.
func (q *Queue) TryPut(key types.BatchKey) bool {
	select {
	case q.items <- key:
		q.requeues.Add(1)
		return true
	default:
		return false
	}
}

// Get dequeues the oldest key, blocking while the queue is empty.
func (q *Queue) Get(ctx context.Context) (types.BatchKey, error) {
	select {
	case key := <-q.items:
		q.gets.Add(1)
		return key, nil
	case <-ctx.Done():
		return types.BatchKey{}, ctx.Err()
	}
}

// Len returns the number of queued keys.
func (q *Queue) Len() int { return len(q.items) }

// Cap returns the queue capacity.
func (q *Queue) Cap() int { return cap(q.items) }

// Stats returns queue counters.
func (q *Queue) Stats() Stats {
	return Stats{
		Len:      q.Len(),
		Cap:      q.Cap(),
		Puts:     q.puts.Load(),
		Gets:     q.gets.Load(),
		Requeues: q.requeues.Load(),
	}
}

// Stats holds queue counters.
type Stats struct {
	Len      int
	Cap      int
	Puts     int64
	Gets     int64
	Requeues int64
}
