package store

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/xtxerr/gridrelay/internal/dispatch"
	"github.com/xtxerr/gridrelay/internal/logging"
	"github.com/xtxerr/gridrelay/internal/metrics"
	"github.com/xtxerr/gridrelay/internal/pending"
	"github.com/xtxerr/gridrelay/internal/types"
)

// Worker drains the storage queue.
type Worker struct {
	writer     Writer
	pending    *pending.Store
	queue      *dispatch.Queue
	retryDelay time.Duration
	metrics    *metrics.Metrics
	log        *slog.Logger

	written  atomic.Int64
	failures atomic.Int64
}

// NewWorker creates a storage worker. m may be nil.
func NewWorker(w Writer, p *pending.Store, q *dispatch.Queue, retryDelay time.Duration, m *metrics.Metrics) *Worker {
	return &Worker{
		writer:     w,
		pending:    p,
		queue:      q,
		retryDelay: retryDelay,
		metrics:    m,
		log:        logging.Component("store"),
	}
}

// Run processes keys until ctx is done.
func (w *Worker) Run(ctx context.Context) error {
	w.log.Info("storage worker started", "writer", w.writer.Name(), "retry_delay", w.retryDelay)
	for {
		key, err := w.queue.Get(ctx)
		if err != nil {
			w.log.Info("storage worker stopped",
				"written", w.written.Load(),
				"failures", w.failures.Load())
			return nil
		}
		w.Process(ctx, key)
	}
}

// Process writes one batch. On failure it waits retryDelay and requeues the
// key; if the queue is full the write is retried in place. It returns once
// the batch is written, requeued or ctx is done.
func (w *Worker) Process(ctx context.Context, key types.BatchKey) {
	batch, ok := w.pending.Get(key)
	if !ok {
		w.log.Warn("batch no longer pending", "key", key.String())
		return
	}
	if batch.StoreDone {
		return
	}

	log := w.log.With("minute", key.Minute, "sid", key.SID)
	for {
		err := w.writer.WriteBatch(ctx, &batch)
		if err == nil {
			w.pending.MarkStoreDone(key)
			w.written.Add(1)
			w.metrics.StoreWrite(true)
			log.Debug("batch stored", "rows", batch.Len())
			return
		}

		w.failures.Add(1)
		w.metrics.StoreWrite(false)
		log.Warn("batch write failed", "error", err, "retry_in", w.retryDelay)

		if !sleep(ctx, w.retryDelay) {
			return
		}
		if w.queue.TryPut(key) {
			return
		}
	}
}

// Written returns the number of batches stored.
func (w *Worker) Written() int64 { return w.written.Load() }

// Failures returns the number of failed write attempts.
func (w *Worker) Failures() int64 { return w.failures.Load() }

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
