package api

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/xtxerr/gridrelay/internal/dispatch"
	"github.com/xtxerr/gridrelay/internal/errors"
	"github.com/xtxerr/gridrelay/internal/logging"
	"github.com/xtxerr/gridrelay/internal/metrics"
	"github.com/xtxerr/gridrelay/internal/pending"
	"github.com/xtxerr/gridrelay/internal/types"
)

// Config holds pool configuration.
type Config struct {
	Workers     int
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// Delay returns the pause after the n-th failed attempt (n >= 1):
// min(base * 2^(n-1), max).
func Delay(n int, base, max time.Duration) time.Duration {
	if n < 1 {
		n = 1
	}
	d := base
	for i := 1; i < n; i++ {
		d *= 2
		if d >= max || d <= 0 {
			return max
		}
	}
	if d > max {
		return max
	}
	return d
}

// DeliveryMarker records successful deliveries for the watchdog.
type DeliveryMarker interface {
	MarkDelivered()
}

// Pool runs the API workers.
type Pool struct {
	cfg      Config
	poster   Poster
	pending  *pending.Store
	queue    *dispatch.Queue
	liveness DeliveryMarker
	lastGood *LastGoodFile
	metrics  *metrics.Metrics
	log      *slog.Logger

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) bool

	delivered atomic.Int64
	failures  atomic.Int64
}

// NewPool creates a worker pool. A nil poster disables delivery: every batch
// is acknowledged as soon as it is dequeued. liveness, lastGood and m may be
// nil.
func NewPool(cfg Config, poster Poster, p *pending.Store, q *dispatch.Queue, liveness DeliveryMarker, lastGood *LastGoodFile, m *metrics.Metrics) *Pool {
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	return &Pool{
		cfg:      cfg,
		poster:   poster,
		pending:  p,
		queue:    q,
		liveness: liveness,
		lastGood: lastGood,
		metrics:  m,
		log:      logging.Component("api"),
		now:      time.Now,
		sleep:    sleepCtx,
	}
}

// Run starts the workers and blocks until ctx is done or a worker raises a
// fatal error, which is returned.
func (p *Pool) Run(ctx context.Context) error {
	p.log.Info("api workers started",
		"workers", p.cfg.Workers,
		"enabled", p.poster != nil,
		"max_attempts", p.cfg.MaxAttempts)

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < p.cfg.Workers; i++ {
		w := &worker{id: i, pool: p}
		g.Go(func() error { return w.run(gctx) })
	}
	err := g.Wait()

	p.log.Info("api workers stopped",
		"delivered", p.delivered.Load(),
		"failures", p.failures.Load())
	return err
}

// Delivered returns the number of batches acknowledged by the endpoint.
func (p *Pool) Delivered() int64 { return p.delivered.Load() }

// Failures returns the number of failed attempts.
func (p *Pool) Failures() int64 { return p.failures.Load() }

type worker struct {
	id   int
	pool *Pool

	// lastSaved is the minute label of the last artifact this worker wrote.
	lastSaved string
}

func (w *worker) run(ctx context.Context) error {
	for {
		key, err := w.pool.queue.Get(ctx)
		if err != nil {
			return nil
		}
		if err := w.process(ctx, key); err != nil {
			return err
		}
	}
}

// process delivers one batch. It returns a FatalError when every attempt
// failed, and nil on success, on shutdown, or when the batch is gone.
func (w *worker) process(ctx context.Context, key types.BatchKey) error {
	p := w.pool

	if p.poster == nil {
		p.pending.MarkAPIDone(key)
		return nil
	}

	rows, ok := p.pending.Rows(key)
	if !ok {
		p.log.Warn("batch no longer pending", "key", key.String(), "worker", w.id)
		return nil
	}

	log := p.log.With("minute", key.Minute, "sid", key.SID, "worker", w.id)

	var lastErr error
	for attempt := 1; attempt <= p.cfg.MaxAttempts; attempt++ {
		started := p.now()
		resp, err := p.poster.Post(ctx, rows)
		elapsed := p.now().Sub(started)

		if err == nil {
			p.metrics.APIAttempt(true, elapsed)
			w.delivered(key, rows, resp, log)
			return nil
		}

		lastErr = err
		p.failures.Add(1)
		p.metrics.APIAttempt(false, elapsed)
		if ctx.Err() != nil {
			return nil
		}

		if attempt == p.cfg.MaxAttempts {
			break
		}
		delay := Delay(attempt, p.cfg.BaseDelay, p.cfg.MaxDelay)
		log.Warn("api post failed", "attempt", attempt, "error", err, "retry_in", delay)
		if !p.sleep(ctx, delay) {
			return nil
		}
	}

	log.Error("api delivery exhausted", "attempts", p.cfg.MaxAttempts, "error", lastErr)
	p.metrics.RestartRequested("api")
	return errors.NewFatal("api", fmt.Errorf("%w: batch %s after %d attempts: %w",
		errors.ErrDeliveryExhausted, key, p.cfg.MaxAttempts, lastErr))
}

func (w *worker) delivered(key types.BatchKey, rows []types.GridRow, resp Response, log *slog.Logger) {
	p := w.pool

	p.pending.MarkAPIDone(key)
	p.delivered.Add(1)
	if p.liveness != nil {
		p.liveness.MarkDelivered()
	}
	log.Debug("batch delivered", "status", resp.Status, "request_id", resp.RequestID)

	minute := p.now().Format(types.MinuteLayout)
	if p.lastGood == nil || minute == w.lastSaved {
		return
	}
	err := p.lastGood.Save(LastGood{
		MinuteLabel: key.Minute,
		Rows:        rows,
		RawResponse: string(resp.Body),
	})
	if err != nil {
		log.Warn("save last good failed", "path", p.lastGood.Path(), "error", err)
		return
	}
	w.lastSaved = minute
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
