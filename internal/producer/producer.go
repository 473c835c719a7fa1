// Package producer runs the acquisition loop: read a snapshot, mark the
// producer alive, push the snapshot onto the raw ring.
package producer

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/xtxerr/gridrelay/internal/buffer"
	"github.com/xtxerr/gridrelay/internal/logging"
	"github.com/xtxerr/gridrelay/internal/metrics"
	"github.com/xtxerr/gridrelay/internal/reader"
)

// Config holds producer configuration.
type Config struct {
	// RetryDelay is the pause after a failed acquisition.
	RetryDelay time.Duration

	// ErrorLogInterval is the minimum spacing of failure log records.
	ErrorLogInterval time.Duration

	// MaxRate caps acquisitions per second. Zero disables the cap.
	MaxRate float64
	Burst   int
}

// ReadMarker records successful acquisitions for the watchdog.
type ReadMarker interface {
	MarkRead()
}

// Producer acquires snapshots until its context is done. Failures are never
// fatal; a controller that stays down is caught by the watchdog.
type Producer struct {
	cfg      Config
	reader   reader.Reader
	raw      *buffer.RingBuffer
	liveness ReadMarker
	limiter  *rate.Limiter
	errLog   rate.Sometimes
	metrics  *metrics.Metrics
	log      *slog.Logger

	reads    atomic.Int64
	failures atomic.Int64
	dropped  atomic.Int64

	// Failures since the last failure log record.
	suppressed int64

	// Reads in the current wall-clock second.
	secReads int
	second   int64
}

// New creates a producer. liveness and m may be nil.
func New(cfg Config, r reader.Reader, raw *buffer.RingBuffer, liveness ReadMarker, m *metrics.Metrics) *Producer {
	p := &Producer{
		cfg:      cfg,
		reader:   r,
		raw:      raw,
		liveness: liveness,
		errLog:   rate.Sometimes{First: 1, Interval: cfg.ErrorLogInterval},
		metrics:  m,
		log:      logging.Component("producer"),
	}
	if cfg.MaxRate > 0 {
		burst := cfg.Burst
		if burst < 1 {
			burst = 1
		}
		p.limiter = rate.NewLimiter(rate.Limit(cfg.MaxRate), burst)
	}
	return p
}

// Run acquires until ctx is done.
func (p *Producer) Run(ctx context.Context) error {
	p.log.Info("producer started", "max_rate", p.cfg.MaxRate, "retry_delay", p.cfg.RetryDelay)
	for {
		if err := p.Step(ctx); err != nil {
			p.log.Info("producer stopped",
				"reads", p.reads.Load(),
				"failures", p.failures.Load(),
				"dropped", p.dropped.Load())
			return nil
		}
	}
}

// Step performs one acquisition. It returns an error only when ctx is done.
func (p *Producer) Step(ctx context.Context) error {
	if p.limiter != nil {
		if err := p.limiter.Wait(ctx); err != nil {
			return ctx.Err()
		}
	}

	snap, err := p.reader.Acquire(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		p.failed(err)
		return p.pause(ctx)
	}

	if p.liveness != nil {
		p.liveness.MarkRead()
	}
	dropped := p.raw.PushOverwrite(snap)
	p.reads.Add(1)
	if dropped {
		p.dropped.Add(1)
	}
	p.metrics.SnapshotRead(dropped)
	p.tick(snap.Timestamp)
	return nil
}

func (p *Producer) failed(err error) {
	p.failures.Add(1)
	p.suppressed++
	p.metrics.ReadFailed()
	p.errLog.Do(func() {
		p.log.Warn("acquisition failed", "error", err, "failures", p.suppressed)
		p.suppressed = 0
	})
}

func (p *Producer) pause(ctx context.Context) error {
	if p.cfg.RetryDelay <= 0 {
		return nil
	}
	t := time.NewTimer(p.cfg.RetryDelay)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// tick logs the read count of each completed wall-clock second.
func (p *Producer) tick(ts time.Time) {
	sec := ts.Unix()
	if sec != p.second {
		if p.second != 0 {
			p.log.Debug("reads in last second", "reads", p.secReads, "raw_q", p.raw.Len())
		}
		p.second = sec
		p.secReads = 0
	}
	p.secReads++
}

// Reads returns the number of successful acquisitions.
func (p *Producer) Reads() int64 { return p.reads.Load() }

// Failures returns the number of failed acquisitions.
func (p *Producer) Failures() int64 { return p.failures.Load() }
