// Package watchdog detects a stalled producer or API delivery and requests a
// process restart.
package watchdog

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/xtxerr/gridrelay/internal/errors"
	"github.com/xtxerr/gridrelay/internal/logging"
	"github.com/xtxerr/gridrelay/internal/metrics"
)

// Liveness holds the time of the last successful acquisition and the last
// successful API delivery. Both start at construction time.
type Liveness struct {
	lastRead      atomic.Int64
	lastDelivered atomic.Int64
	now           func() time.Time
}

// NewLiveness creates a Liveness with both signals fresh.
func NewLiveness() *Liveness {
	l := &Liveness{now: time.Now}
	l.Reset()
	return l
}

// Reset marks both signals fresh.
func (l *Liveness) Reset() {
	now := l.now().UnixNano()
	l.lastRead.Store(now)
	l.lastDelivered.Store(now)
}

// MarkRead records a successful acquisition.
func (l *Liveness) MarkRead() { l.lastRead.Store(l.now().UnixNano()) }

// MarkDelivered records a successful API delivery.
func (l *Liveness) MarkDelivered() { l.lastDelivered.Store(l.now().UnixNano()) }

// LastRead returns the time of the last acquisition.
func (l *Liveness) LastRead() time.Time { return time.Unix(0, l.lastRead.Load()) }

// LastDelivered returns the time of the last delivery.
func (l *Liveness) LastDelivered() time.Time { return time.Unix(0, l.lastDelivered.Load()) }

// Config holds watchdog configuration.
type Config struct {
	Interval       time.Duration
	StallThreshold time.Duration
	MaxStrikes     int

	// CheckAPI enables the delivery check. It is off when the API sink is
	// disabled.
	CheckAPI bool
}

// Watchdog counts consecutive stale checks per signal.
type Watchdog struct {
	cfg      Config
	liveness *Liveness
	metrics  *metrics.Metrics
	log      *slog.Logger
	now      func() time.Time

	producerStrikes atomic.Int32
	apiStrikes      atomic.Int32
}

// New creates a watchdog. m may be nil.
func New(cfg Config, l *Liveness, m *metrics.Metrics) *Watchdog {
	return &Watchdog{
		cfg:      cfg,
		liveness: l,
		metrics:  m,
		log:      logging.Component("watchdog"),
		now:      time.Now,
	}
}

// Run checks every Interval until ctx is done or a signal accumulates
// MaxStrikes stale checks, in which case a FatalError is returned.
func (w *Watchdog) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			w.logResources()
			if err := w.Check(); err != nil {
				return err
			}
		}
	}
}

// Check evaluates both signals once.
func (w *Watchdog) Check() error {
	now := w.now()

	readAge := now.Sub(w.liveness.LastRead())
	w.metrics.SetLivenessAge("producer", readAge)
	producerStrikes := w.strike("producer", readAge, int(w.producerStrikes.Load()))
	w.producerStrikes.Store(int32(producerStrikes))

	apiStrikes := 0
	if w.cfg.CheckAPI {
		apiAge := now.Sub(w.liveness.LastDelivered())
		w.metrics.SetLivenessAge("api", apiAge)
		apiStrikes = w.strike("api", apiAge, int(w.apiStrikes.Load()))
		w.apiStrikes.Store(int32(apiStrikes))
	}

	switch {
	case producerStrikes >= w.cfg.MaxStrikes:
		return w.fatal("producer", readAge)
	case w.cfg.CheckAPI && apiStrikes >= w.cfg.MaxStrikes:
		return w.fatal("api", now.Sub(w.liveness.LastDelivered()))
	}
	return nil
}

func (w *Watchdog) strike(signal string, age time.Duration, strikes int) int {
	if age <= w.cfg.StallThreshold {
		if strikes > 0 {
			w.log.Info("signal recovered", "signal", signal, "age", age.Round(time.Millisecond))
		}
		return 0
	}
	strikes++
	w.log.Warn("signal stale",
		"signal", signal,
		"age", age.Round(time.Millisecond),
		"strike", strikes,
		"max_strikes", w.cfg.MaxStrikes)
	return strikes
}

func (w *Watchdog) fatal(signal string, age time.Duration) error {
	w.log.Error("restart requested", "signal", signal, "age", age.Round(time.Millisecond))
	w.metrics.RestartRequested("watchdog")
	return errors.NewFatal("watchdog", fmt.Errorf("%w: %s stale for %s", errors.ErrStall, signal, age.Round(time.Millisecond)))
}

// Strikes returns the current producer and API strike counts.
func (w *Watchdog) Strikes() (producer, api int) {
	return int(w.producerStrikes.Load()), int(w.apiStrikes.Load())
}

func (w *Watchdog) logResources() {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	w.log.Info("resources",
		"heap_mb", ms.HeapAlloc>>20,
		"sys_mb", ms.Sys>>20,
		"goroutines", runtime.NumGoroutine(),
		"gc_cycles", ms.NumGC)
}
