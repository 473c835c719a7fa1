// Package buffer provides the raw snapshot ring between the producer and the
// grid aggregator.
package buffer

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/xtxerr/gridrelay/internal/types"
)

// RingBuffer is a thread-safe circular buffer for snapshots.
// When full, PushOverwrite discards the oldest snapshot so acquisition never
// blocks.
type RingBuffer struct {
	mu       sync.RWMutex
	data     []types.Snapshot
	head     int64 // Next write position
	tail     int64 // Oldest data position
	count    int64 // Current number of elements
	capacity int64

	// notify has capacity 1; a pending token means "data arrived".
	notify chan struct{}

	// Statistics
	pushCount atomic.Int64
	popCount  atomic.Int64
	dropCount atomic.Int64
}

// New creates a new RingBuffer with the given capacity.
func New(capacity int) *RingBuffer {
	if capacity <= 0 {
		capacity = 1024
	}
	return &RingBuffer{
		data:     make([]types.Snapshot, capacity),
		capacity: int64(capacity),
		notify:   make(chan struct{}, 1),
	}
}

// PushOverwrite adds a snapshot, overwriting the oldest if full.
// Returns true if a snapshot was dropped to make room.
func (rb *RingBuffer) PushOverwrite(s types.Snapshot) bool {
	dropped := false

	rb.mu.Lock()
	if rb.count >= rb.capacity {
		idx := rb.tail % rb.capacity
		rb.data[idx] = types.Snapshot{}
		rb.tail++
		rb.count--
		rb.dropCount.Add(1)
		dropped = true
	}
	rb.put(s)
	rb.mu.Unlock()

	rb.signal()
	return dropped
}

// put must be called with mu held.
func (rb *RingBuffer) put(s types.Snapshot) {
	idx := rb.head % rb.capacity
	rb.data[idx] = s
	rb.head++
	rb.count++
	rb.pushCount.Add(1)
}

func (rb *RingBuffer) signal() {
	select {
	case rb.notify <- struct{}{}:
	default:
	}
}

// Pop removes and returns the oldest snapshot.
// Returns false if the buffer is empty.
func (rb *RingBuffer) Pop() (types.Snapshot, bool) {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	if rb.count == 0 {
		return types.Snapshot{}, false
	}

	idx := rb.tail % rb.capacity
	s := rb.data[idx]
	rb.data[idx] = types.Snapshot{} // Clear for GC
	rb.tail++
	rb.count--
	rb.popCount.Add(1)

	return s, true
}

// Wait blocks until a snapshot may be available, d elapses or ctx is done.
// It returns false only when ctx is done.
func (rb *RingBuffer) Wait(ctx context.Context, d time.Duration) bool {
	if ctx.Err() != nil {
		return false
	}
	if rb.Len() > 0 {
		return true
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-rb.notify:
		return true
	case <-timer.C:
		return true
	}
}

// Len returns the current number of snapshots in the buffer.
func (rb *RingBuffer) Len() int {
	rb.mu.RLock()
	defer rb.mu.RUnlock()
	return int(rb.count)
}

// UsageRatio returns the current usage as a ratio (0.0 - 1.0).
func (rb *RingBuffer) UsageRatio() float64 {
	rb.mu.RLock()
	defer rb.mu.RUnlock()
	return float64(rb.count) / float64(rb.capacity)
}

// Stats returns buffer statistics.
func (rb *RingBuffer) Stats() BufferStats {
	rb.mu.RLock()
	defer rb.mu.RUnlock()

	return BufferStats{
		Capacity:   int(rb.capacity),
		Count:      int(rb.count),
		UsageRatio: float64(rb.count) / float64(rb.capacity),
		PushCount:  rb.pushCount.Load(),
		PopCount:   rb.popCount.Load(),
		DropCount:  rb.dropCount.Load(),
	}
}

// BufferStats holds buffer statistics.
type BufferStats struct {
	Capacity   int
	Count      int
	UsageRatio float64
	PushCount  int64
	PopCount   int64
	DropCount  int64
}
