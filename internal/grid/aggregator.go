package grid

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/xtxerr/gridrelay/internal/buffer"
	"github.com/xtxerr/gridrelay/internal/dispatch"
	"github.com/xtxerr/gridrelay/internal/logging"
	"github.com/xtxerr/gridrelay/internal/metrics"
	"github.com/xtxerr/gridrelay/internal/pending"
	"github.com/xtxerr/gridrelay/internal/types"
)

// Config holds aggregator configuration.
type Config struct {
	// Interval is the grid spacing.
	Interval time.Duration

	// Poll is the longest wait for new snapshots before re-checking the
	// wall clock.
	Poll time.Duration
}

// Aggregator drains the raw ring one window at a time, resamples each window
// onto the grid and fans the batch out to both dispatch queues.
type Aggregator struct {
	cfg     Config
	raw     *buffer.RingBuffer
	pending *pending.Store
	store   *dispatch.Queue
	api     *dispatch.Queue
	metrics *metrics.Metrics
	log     *slog.Logger

	now     func() time.Time
	counter MinuteCounter

	// Aggregator goroutine state.
	start     time.Time
	held      types.Tags
	lookahead *types.Snapshot

	built atomic.Int64
}

// NewAggregator creates an aggregator. m may be nil.
func NewAggregator(cfg Config, raw *buffer.RingBuffer, store *pending.Store, storeQ, apiQ *dispatch.Queue, m *metrics.Metrics) *Aggregator {
	return &Aggregator{
		cfg:     cfg,
		raw:     raw,
		pending: store,
		store:   storeQ,
		api:     apiQ,
		metrics: m,
		log:     logging.Component("aggregator"),
		now:     time.Now,
	}
}

// Run emits one batch per second until ctx is done.
// The first window starts at the next whole second.
func (a *Aggregator) Run(ctx context.Context) error {
	a.start = a.now().Truncate(time.Second).Add(time.Second)
	a.log.Info("aggregator started",
		"first_window", a.start.Format(types.RowTimeLayout),
		"interval", a.cfg.Interval,
		"rows", int(time.Second/a.cfg.Interval))

	for {
		if _, err := a.Step(ctx); err != nil {
			if ctx.Err() != nil {
				a.log.Info("aggregator stopped", "batches", a.built.Load())
				return nil
			}
			return err
		}
	}
}

// Step closes the current window and emits its batch.
func (a *Aggregator) Step(ctx context.Context) (*types.SecondBatch, error) {
	end := a.start.Add(time.Second)

	samples, err := a.collect(ctx, end)
	if err != nil {
		return nil, err
	}

	rows, held := Resample(a.start, a.cfg.Interval, samples, a.held)
	a.held = held

	batch := &types.SecondBatch{Start: a.start, Rows: rows}
	if err := a.insert(batch); err != nil {
		return nil, err
	}

	// Blocking puts: a full queue slows the aggregator, it never drops.
	if err := a.store.Put(ctx, batch.Key); err != nil {
		return nil, err
	}
	if err := a.api.Put(ctx, batch.Key); err != nil {
		return nil, err
	}

	a.built.Add(1)
	a.metrics.BatchBuilt(len(samples))
	a.log.Debug("batch built",
		"window", a.start.Format(types.RowTimeLayout),
		"minute", batch.Key.Minute,
		"sid", batch.Key.SID,
		"snapshots", len(samples),
		"raw_q", a.raw.Len())

	a.start = end
	return batch, nil
}

// collect gathers the snapshots of the window ending at end. The first
// snapshot at or after end is kept as lookahead for the next window.
func (a *Aggregator) collect(ctx context.Context, end time.Time) ([]types.Snapshot, error) {
	var samples []types.Snapshot

	if a.lookahead != nil {
		if !a.lookahead.Timestamp.Before(end) {
			return samples, nil
		}
		samples = append(samples, *a.lookahead)
		a.lookahead = nil
	}

	for {
		if s, ok := a.raw.Pop(); ok {
			if s.Timestamp.Before(end) {
				samples = append(samples, s)
				continue
			}
			a.lookahead = &s
			return samples, nil
		}

		if !a.now().Before(end) {
			return samples, nil
		}
		if !a.raw.Wait(ctx, a.cfg.Poll) {
			return nil, ctx.Err()
		}
	}
}

// insert assigns the batch key and adds the batch to the pending store. A
// wall clock stepping back into an earlier minute can reproduce a key that
// is still pending; the counter then advances until the key is free.
func (a *Aggregator) insert(batch *types.SecondBatch) error {
	now := a.now()
	for {
		batch.Key = a.counter.Next(now)
		err := a.pending.Insert(batch)
		if err == nil {
			return nil
		}
		a.log.Warn("batch key still pending, advancing sid", "key", batch.Key.String(), "error", err)
	}
}

// Built returns the number of batches emitted.
func (a *Aggregator) Built() int64 {
	return a.built.Load()
}
