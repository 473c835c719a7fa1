// Package pending holds second batches between aggregation and the moment
// both sinks have acknowledged them.
//
// One mutex guards the whole map. Flag updates and the reap scan run under
// it, so a reader never observes a half-updated pair of flags and a batch
// is removed exactly when both flags are set.
package pending

import (
	"sync"
	"time"

	"github.com/xtxerr/gridrelay/internal/errors"
	"github.com/xtxerr/gridrelay/internal/types"
)

// Store maps batch keys to pending second batches.
type Store struct {
	mu      sync.Mutex
	batches map[types.BatchKey]*types.SecondBatch
	now     func() time.Time
}

// New creates an empty Store.
func New() *Store {
	return &Store{
		batches: make(map[types.BatchKey]*types.SecondBatch),
		now:     time.Now,
	}
}

// Insert adds a new batch with both flags cleared.
func (s *Store) Insert(b *types.SecondBatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.batches[b.Key]; ok {
		return errors.NewInvalidValue("batch key", b.Key, "already pending")
	}

	b.StoreDone = false
	b.APIDone = false
	if b.CreatedAt.IsZero() {
		b.CreatedAt = s.now()
	}
	s.batches[b.Key] = b
	return nil
}

// Rows returns the rows of a pending batch. The slice is shared by the
// workers and must not be modified.
func (s *Store) Rows(key types.BatchKey) ([]types.GridRow, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.batches[key]
	if !ok {
		return nil, false
	}
	return b.Rows, true
}

// Get returns a copy of a pending batch, flags read in one critical section.
func (s *Store) Get(key types.BatchKey) (types.SecondBatch, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.batches[key]
	if !ok {
		return types.SecondBatch{}, false
	}
	return *b, true
}

// MarkStoreDone records the storage acknowledgement.
// Returns false if the batch is not pending.
func (s *Store) MarkStoreDone(key types.BatchKey) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.batches[key]
	if ok {
		b.StoreDone = true
	}
	return ok
}

// MarkAPIDone records the API acknowledgement.
// Returns false if the batch is not pending.
func (s *Store) MarkAPIDone(key types.BatchKey) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.batches[key]
	if ok {
		b.APIDone = true
	}
	return ok
}

// Reaped describes a batch removed by Reap.
type Reaped struct {
	Key types.BatchKey

	// Age is the time from insertion to removal.
	Age time.Duration
}

// Reap removes every batch whose flags are both set.
func (s *Store) Reap() []Reaped {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	var out []Reaped
	for key, b := range s.batches {
		if !b.Complete() {
			continue
		}
		out = append(out, Reaped{Key: key, Age: now.Sub(b.CreatedAt)})
		delete(s.batches, key)
	}
	return out
}

// Len returns the number of pending batches.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.batches)
}

// Backlog breaks the pending batches down by outstanding sink.
type Backlog struct {
	Total         int
	AwaitingStore int
	AwaitingAPI   int
	Oldest        time.Duration
}

// Backlog returns the current backlog.
func (s *Store) Backlog() Backlog {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	bl := Backlog{Total: len(s.batches)}
	for _, b := range s.batches {
		if !b.StoreDone {
			bl.AwaitingStore++
		}
		if !b.APIDone {
			bl.AwaitingAPI++
		}
		if age := now.Sub(b.CreatedAt); age > bl.Oldest {
			bl.Oldest = age
		}
	}
	return bl
}
